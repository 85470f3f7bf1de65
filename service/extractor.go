package service

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"

	"context"

	"github.com/mediaguard/reviewcenter/models"
)

type BlockKind string

const (
	BlockText  BlockKind = "text"
	BlockImage BlockKind = "image"
)

// Block is one content fragment produced by extraction: native text, an
// image (a document page render or a sampled video frame), or OCR text
// recovered from an image.
type Block struct {
	Kind BlockKind
	// Page number for documents/images, 1-based.
	Page int
	// Frame marks a sampled video frame; Timestamp is then the offset into
	// the video and is meaningful even at zero seconds.
	Frame     bool
	Timestamp float64
	// OCR marks text recovered from an image rather than native text.
	OCR bool

	Text  string
	Image []byte
}

// Position maps the block onto the finding position axis.
func (b Block) Position() models.Position {
	if b.Frame {
		return models.TimestampPosition(b.Timestamp)
	}
	return models.PagePosition(b.Page, nil)
}

type ExtractOptions struct {
	// Video sampling interval in seconds.
	FrameInterval int
	// Cap on sampled frames per video.
	MaxFrames int
}

// ContentExtractor turns raw file bytes into content blocks.
type ContentExtractor interface {
	Extract(ctx context.Context, file *models.ReviewFile, data []byte, opts ExtractOptions) ([]Block, error)
}

var supportedExtensions = map[string]models.FileType{
	".pdf":  models.FileTypeDocument,
	".docx": models.FileTypeDocument,
	".doc":  models.FileTypeDocument,
	".txt":  models.FileTypeDocument,
	".jpg":  models.FileTypeImage,
	".jpeg": models.FileTypeImage,
	".png":  models.FileTypeImage,
	".gif":  models.FileTypeImage,
	".mp4":  models.FileTypeVideo,
	".avi":  models.FileTypeVideo,
	".mov":  models.FileTypeVideo,
	".wmv":  models.FileTypeVideo,
}

// SupportedExtension reports whether the extension (with leading dot) can be
// extracted.
func SupportedExtension(ext string) bool {
	_, ok := supportedExtensions[strings.ToLower(ext)]
	return ok
}

// HTTPExtractor posts file bytes to an extraction endpoint that answers with
// content blocks. The endpoint handles PDF/Office parsing, page rendering,
// OCR and video frame sampling.
type HTTPExtractor struct {
	endpoint string
	client   *http.Client
}

func NewHTTPExtractor(endpoint string, timeout time.Duration) *HTTPExtractor {
	return &HTTPExtractor{
		endpoint: endpoint,
		client:   &http.Client{Timeout: timeout},
	}
}

type extractedBlock struct {
	Kind        string  `json:"kind"`
	Page        int     `json:"page"`
	Frame       bool    `json:"frame"`
	Timestamp   float64 `json:"timestamp"`
	OCR         bool    `json:"ocr"`
	Text        string  `json:"text"`
	ImageBase64 string  `json:"image_base64"`
}

type extractResponse struct {
	Blocks    []extractedBlock `json:"blocks"`
	PageCount int              `json:"page_count"`
	Error     string           `json:"error"`
}

func (e *HTTPExtractor) Extract(ctx context.Context, file *models.ReviewFile, data []byte, opts ExtractOptions) ([]Block, error) {
	ext := strings.ToLower(file.FileExtension)
	if !SupportedExtension(ext) {
		return nil, &ValidationError{Reason: "unsupported file extension " + ext}
	}
	if len(data) == 0 {
		return nil, &ValidationError{Reason: "empty file"}
	}
	if e.endpoint == "" {
		return nil, &TransientError{Op: "extract", Err: fmt.Errorf("extractor endpoint not configured")}
	}

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	fw, err := writer.CreateFormFile("file", file.OriginalName)
	if err != nil {
		return nil, err
	}
	if _, err := fw.Write(data); err != nil {
		return nil, err
	}
	_ = writer.WriteField("file_type", string(file.FileType))
	_ = writer.WriteField("frame_interval", strconv.Itoa(opts.FrameInterval))
	_ = writer.WriteField("max_frames", strconv.Itoa(opts.MaxFrames))
	writer.Close()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.endpoint, &body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, &TransientError{Op: "extract", Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &TransientError{Op: "extract read", Err: err}
	}
	switch {
	case resp.StatusCode >= 500:
		return nil, &TransientError{Op: "extract", Err: fmt.Errorf("http %d: %s", resp.StatusCode, raw)}
	case resp.StatusCode >= 400:
		return nil, &ValidationError{Reason: fmt.Sprintf("extractor rejected file: http %d: %s", resp.StatusCode, raw)}
	}

	var out extractResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, &TransientError{Op: "extract decode", Err: err}
	}
	if out.Error != "" {
		return nil, &ValidationError{Reason: "extractor: " + out.Error}
	}

	blocks := make([]Block, 0, len(out.Blocks))
	for _, b := range out.Blocks {
		block := Block{
			Page: b.Page,
			// Older endpoint versions omit the frame flag and mark frames by
			// a non-zero timestamp alone.
			Frame:     b.Frame || b.Timestamp > 0,
			Timestamp: b.Timestamp,
			OCR:       b.OCR,
			Text:      b.Text,
		}
		switch BlockKind(b.Kind) {
		case BlockText:
			block.Kind = BlockText
		case BlockImage:
			block.Kind = BlockImage
			img, err := base64.StdEncoding.DecodeString(b.ImageBase64)
			if err != nil {
				return nil, &ValidationError{Reason: "bad image block payload"}
			}
			block.Image = img
		default:
			return nil, &ValidationError{Reason: "unknown block kind " + b.Kind}
		}
		blocks = append(blocks, block)
	}
	return blocks, nil
}
