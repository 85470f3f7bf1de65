package service

import (
	"context"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/mediaguard/reviewcenter/models"
)

func testFile(name, ext string, ft models.FileType) *models.ReviewFile {
	return &models.ReviewFile{
		OriginalName:  name,
		FilePath:      "uploads/" + name,
		FileType:      ft,
		FileExtension: ext,
	}
}

func TestExtractRejectsUnsupportedExtension(t *testing.T) {
	e := NewHTTPExtractor("http://unused", time.Second)
	_, err := e.Extract(context.Background(), testFile("x.exe", ".exe", models.FileTypeDocument), []byte("data"), ExtractOptions{})
	if !IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestExtractRejectsEmptyFile(t *testing.T) {
	e := NewHTTPExtractor("http://unused", time.Second)
	_, err := e.Extract(context.Background(), testFile("x.pdf", ".pdf", models.FileTypeDocument), nil, ExtractOptions{})
	if !IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestExtractDecodesBlocks(t *testing.T) {
	img := base64.StdEncoding.EncodeToString([]byte{0x01, 0x02})
	var gotInterval string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("bad multipart request: %v", err)
		}
		gotInterval = r.FormValue("frame_interval")
		w.Write([]byte(`{
			"blocks": [
				{"kind": "text", "page": 1, "text": "正文", "ocr": false},
				{"kind": "text", "page": 2, "text": "图中文字", "ocr": true},
				{"kind": "image", "page": 2, "image_base64": "` + img + `"}
			],
			"page_count": 2
		}`))
	}))
	defer srv.Close()

	e := NewHTTPExtractor(srv.URL, time.Second)
	blocks, err := e.Extract(context.Background(),
		testFile("doc.pdf", ".pdf", models.FileTypeDocument),
		[]byte("pdf bytes"), ExtractOptions{FrameInterval: 5, MaxFrames: 100})
	if err != nil {
		t.Fatal(err)
	}
	if gotInterval != "5" {
		t.Errorf("frame_interval form field = %q, want 5", gotInterval)
	}
	if len(blocks) != 3 {
		t.Fatalf("expected 3 blocks, got %d", len(blocks))
	}
	if blocks[0].Kind != BlockText || blocks[0].Text != "正文" || blocks[0].OCR {
		t.Errorf("block 0 = %+v", blocks[0])
	}
	if !blocks[1].OCR {
		t.Errorf("block 1 should be OCR text: %+v", blocks[1])
	}
	if blocks[2].Kind != BlockImage || len(blocks[2].Image) != 2 {
		t.Errorf("block 2 = %+v", blocks[2])
	}

	ocr, text, image := countBlocks(blocks)
	if ocr != 1 || text != 1 || image != 1 {
		t.Errorf("block counts = %d/%d/%d, want 1/1/1", ocr, text, image)
	}
}

func TestExtractStatusMapping(t *testing.T) {
	status := http.StatusInternalServerError
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
	}))
	defer srv.Close()

	e := NewHTTPExtractor(srv.URL, time.Second)
	file := testFile("doc.pdf", ".pdf", models.FileTypeDocument)

	_, err := e.Extract(context.Background(), file, []byte("x"), ExtractOptions{})
	if !IsTransient(err) {
		t.Errorf("5xx should be transient, got %v", err)
	}

	status = http.StatusUnprocessableEntity
	_, err = e.Extract(context.Background(), file, []byte("x"), ExtractOptions{})
	if !IsValidation(err) {
		t.Errorf("4xx should be a validation error, got %v", err)
	}
}

func TestExtractEndpointError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"blocks": [], "error": "password protected"}`))
	}))
	defer srv.Close()

	e := NewHTTPExtractor(srv.URL, time.Second)
	_, err := e.Extract(context.Background(), testFile("doc.pdf", ".pdf", models.FileTypeDocument), []byte("x"), ExtractOptions{})
	if !IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestBlockPosition(t *testing.T) {
	doc := Block{Kind: BlockText, Page: 4}
	if p := doc.Position(); p.Kind != models.PositionPage || p.Page != 4 {
		t.Errorf("document position = %+v", p)
	}
	frame := Block{Kind: BlockImage, Frame: true, Timestamp: 15}
	if p := frame.Position(); p.Kind != models.PositionTimestamp || p.Seconds != 15 {
		t.Errorf("frame position = %+v", p)
	}
	// A frame sampled at the very start of the video is still a timestamp.
	opening := Block{Kind: BlockImage, Frame: true, Timestamp: 0}
	if p := opening.Position(); p.Kind != models.PositionTimestamp || p.Seconds != 0 {
		t.Errorf("zero-second frame position = %+v", p)
	}
}

func TestExtractMarksLegacyFrames(t *testing.T) {
	img := base64.StdEncoding.EncodeToString([]byte{0x01})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{
			"blocks": [
				{"kind": "image", "frame": true, "timestamp": 0, "image_base64": "` + img + `"},
				{"kind": "image", "timestamp": 15, "image_base64": "` + img + `"}
			]
		}`))
	}))
	defer srv.Close()

	e := NewHTTPExtractor(srv.URL, time.Second)
	blocks, err := e.Extract(context.Background(),
		testFile("clip.mp4", ".mp4", models.FileTypeVideo), []byte("mp4"), ExtractOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if len(blocks) != 2 {
		t.Fatalf("expected 2 blocks, got %d", len(blocks))
	}
	for i, b := range blocks {
		if !b.Frame {
			t.Errorf("block %d not marked as frame: %+v", i, b)
		}
		if p := b.Position(); p.Kind != models.PositionTimestamp {
			t.Errorf("block %d position = %+v, want timestamp", i, p)
		}
	}
}
