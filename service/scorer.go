package service

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/mediaguard/reviewcenter/models"
)

// Strategy is the per-task moderation configuration handed to scorers: the
// violation types to look for plus free-text rules passed through verbatim.
type Strategy struct {
	Types []models.ViolationType
	Rules string
}

func (s Strategy) Empty() bool {
	return len(s.Types) == 0 && strings.TrimSpace(s.Rules) == ""
}

// Finding is one candidate violation reported by a scorer, before
// aggregation.
type Finding struct {
	ViolationType models.ViolationType
	SourceType    models.SourceType
	Confidence    float64
	Evidence      string
	Position      models.Position
	ModelName     string
	ModelVersion  string
	RawResponse   json.RawMessage
}

// VisionScorer scores an image block against a strategy.
type VisionScorer interface {
	ScoreImage(ctx context.Context, block Block, strategy Strategy) ([]Finding, error)
}

// TextScorer scores a text block against a strategy.
type TextScorer interface {
	ScoreText(ctx context.Context, block Block, strategy Strategy) ([]Finding, error)
}

// OpenRouterScorer calls an OpenRouter-compatible chat-completions endpoint
// and parses the model's JSON verdict into findings. One instance per model:
// a vision model for image blocks, a language model for text blocks.
type OpenRouterScorer struct {
	endpoint string
	apiKey   string
	model    string
	client   *http.Client
}

func NewOpenRouterScorer(endpoint, apiKey, model string, timeout time.Duration) *OpenRouterScorer {
	return &OpenRouterScorer{
		endpoint: endpoint,
		apiKey:   apiKey,
		model:    model,
		client:   &http.Client{Timeout: timeout},
	}
}

type chatMessage struct {
	Role    string      `json:"role"`
	Content interface{} `json:"content"`
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
}

type chatResponse struct {
	// Model echoes the concrete model id that served the request, which can
	// be more specific than the requested alias.
	Model   string `json:"model"`
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// verdict is the JSON shape the prompt instructs the model to answer with.
type verdict struct {
	ViolationType string    `json:"violation_type"`
	Confidence    float64   `json:"confidence"`
	Evidence      string    `json:"evidence"`
	BBox          []float64 `json:"bbox,omitempty"`
}

func buildPrompt(strategy Strategy) string {
	var sb strings.Builder
	sb.WriteString("你是内容安全审核助手。请检查以下内容是否存在违规，只关注这些类别：")
	if len(strategy.Types) > 0 {
		names := make([]string, len(strategy.Types))
		for i, t := range strategy.Types {
			names[i] = string(t)
		}
		sb.WriteString(strings.Join(names, "、"))
	} else {
		for i, t := range models.AllViolationTypes() {
			if i > 0 {
				sb.WriteString("、")
			}
			sb.WriteString(string(t))
		}
	}
	sb.WriteString("。\n")
	if rules := strings.TrimSpace(strategy.Rules); rules != "" {
		sb.WriteString("附加审核规则：\n")
		sb.WriteString(rules)
		sb.WriteString("\n")
	}
	sb.WriteString(`仅输出JSON数组，每个元素形如 {"violation_type":"涉黄","confidence":0.92,"evidence":"..."}。无违规时输出 []。`)
	return sb.String()
}

func (s *OpenRouterScorer) ScoreText(ctx context.Context, block Block, strategy Strategy) ([]Finding, error) {
	content := buildPrompt(strategy) + "\n\n待审核文本：\n" + block.Text
	source := models.SourceLanguage
	if block.OCR {
		source = models.SourceOCR
	}
	return s.score(ctx, block, source, []chatMessage{{Role: "user", Content: content}})
}

func (s *OpenRouterScorer) ScoreImage(ctx context.Context, block Block, strategy Strategy) ([]Finding, error) {
	imageURL := "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(block.Image)
	content := []map[string]interface{}{
		{"type": "text", "text": buildPrompt(strategy)},
		{"type": "image_url", "image_url": map[string]string{"url": imageURL}},
	}
	return s.score(ctx, block, models.SourceVision, []chatMessage{{Role: "user", Content: content}})
}

func (s *OpenRouterScorer) score(ctx context.Context, block Block, source models.SourceType, messages []chatMessage) ([]Finding, error) {
	payload, err := json.Marshal(chatRequest{Model: s.model, Messages: messages})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if s.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.apiKey)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, &TransientError{Op: "scorer " + s.model, Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &TransientError{Op: "scorer read", Err: err}
	}
	if resp.StatusCode >= 300 {
		return nil, &TransientError{Op: "scorer " + s.model, Err: fmt.Errorf("http %d: %s", resp.StatusCode, raw)}
	}

	var out chatResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, &TransientError{Op: "scorer decode", Err: err}
	}
	if len(out.Choices) == 0 {
		return nil, &TransientError{Op: "scorer " + s.model, Err: fmt.Errorf("empty choices")}
	}

	verdicts, err := parseVerdicts(out.Choices[0].Message.Content)
	if err != nil {
		return nil, &TransientError{Op: "scorer parse", Err: err}
	}

	findings := make([]Finding, 0, len(verdicts))
	for _, v := range verdicts {
		vt := models.ViolationType(v.ViolationType)
		if !vt.Valid() {
			continue
		}
		conf := v.Confidence
		if conf < 0 {
			conf = 0
		}
		if conf > 1 {
			conf = 1
		}
		pos := block.Position()
		if len(v.BBox) == 4 && pos.Kind == models.PositionPage {
			pos = models.PagePosition(pos.Page, v.BBox)
		}
		findings = append(findings, Finding{
			ViolationType: vt,
			SourceType:    source,
			Confidence:    conf,
			Evidence:      v.Evidence,
			Position:      pos,
			ModelName:     s.model,
			ModelVersion:  out.Model,
			RawResponse:   json.RawMessage(raw),
		})
	}
	return findings, nil
}

// parseVerdicts tolerates code fences and surrounding prose around the JSON
// array the prompt asks for.
func parseVerdicts(content string) ([]verdict, error) {
	content = strings.TrimSpace(content)
	if start := strings.Index(content, "["); start >= 0 {
		if end := strings.LastIndex(content, "]"); end > start {
			content = content[start : end+1]
		}
	}
	var verdicts []verdict
	if err := json.Unmarshal([]byte(content), &verdicts); err != nil {
		return nil, fmt.Errorf("bad model verdict: %w", err)
	}
	return verdicts, nil
}
