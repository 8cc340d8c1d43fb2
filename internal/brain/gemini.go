package brain

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const defaultGeminiBaseURL = "https://generativelanguage.googleapis.com/v1beta"

// GeminiBackend talks to the Gemini generateContent REST API and constrains
// output to the avatar reply schema via responseSchema.
type GeminiBackend struct {
	apiKey  string
	baseURL string
	client  *http.Client
}

type GeminiOption func(*GeminiBackend)

// WithBaseURL overrides the API endpoint (used by tests).
func WithBaseURL(url string) GeminiOption {
	return func(b *GeminiBackend) { b.baseURL = strings.TrimRight(url, "/") }
}

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(c *http.Client) GeminiOption {
	return func(b *GeminiBackend) { b.client = c }
}

func NewGeminiBackend(apiKey string, opts ...GeminiOption) *GeminiBackend {
	b := &GeminiBackend{
		apiKey:  strings.TrimSpace(apiKey),
		baseURL: defaultGeminiBaseURL,
		client:  &http.Client{Timeout: 60 * time.Second},
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

type geminiPart struct {
	Text string `json:"text,omitempty"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiGenerationConfig struct {
	Temperature      float64         `json:"temperature,omitempty"`
	ResponseMIMEType string          `json:"responseMimeType,omitempty"`
	ResponseSchema   json.RawMessage `json:"responseSchema,omitempty"`
}

type geminiRequest struct {
	Contents          []geminiContent         `json:"contents"`
	SystemInstruction *geminiContent          `json:"systemInstruction,omitempty"`
	GenerationConfig  *geminiGenerationConfig `json:"generationConfig,omitempty"`
}

type geminiResponse struct {
	Candidates []struct {
		Content      geminiContent `json:"content"`
		FinishReason string        `json:"finishReason,omitempty"`
	} `json:"candidates"`
}

type geminiErrorBody struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error"`
}

// replySchema constrains the model output to the avatar vocabularies.
func replySchema() json.RawMessage {
	schema := map[string]any{
		"type": "OBJECT",
		"properties": map[string]any{
			"text":             map[string]any{"type": "STRING"},
			"facialExpression": map[string]any{"type": "STRING", "enum": FacialExpressions},
			"animation":        map[string]any{"type": "STRING", "enum": Animations},
		},
		"required": []string{"text", "facialExpression", "animation"},
	}
	b, _ := json.Marshal(schema)
	return b
}

func (b *GeminiBackend) Generate(ctx context.Context, model string, prompt Prompt) (Reply, error) {
	req := geminiRequest{
		GenerationConfig: &geminiGenerationConfig{
			Temperature:      0.6,
			ResponseMIMEType: "application/json",
			ResponseSchema:   replySchema(),
		},
	}
	if strings.TrimSpace(prompt.System) != "" {
		req.SystemInstruction = &geminiContent{Parts: []geminiPart{{Text: prompt.System}}}
	}
	for _, m := range prompt.Messages {
		role := m.Role
		if role != "model" {
			role = "user"
		}
		req.Contents = append(req.Contents, geminiContent{
			Role:  role,
			Parts: []geminiPart{{Text: m.Text}},
		})
	}

	payload, err := json.Marshal(req)
	if err != nil {
		return Reply{}, fmt.Errorf("marshal request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/models/%s:generateContent", b.baseURL, model)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return Reply{}, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-goog-api-key", b.apiKey)

	res, err := b.client.Do(httpReq)
	if err != nil {
		return Reply{}, &Error{Kind: KindProvider, Model: model, Message: err.Error()}
	}
	defer res.Body.Close()

	body, err := io.ReadAll(io.LimitReader(res.Body, 4<<20))
	if err != nil {
		return Reply{}, &Error{Kind: KindProvider, Model: model, Message: fmt.Sprintf("read response: %v", err)}
	}

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		var errBody geminiErrorBody
		message := strings.TrimSpace(string(body))
		status := ""
		if err := json.Unmarshal(body, &errBody); err == nil && errBody.Error.Message != "" {
			message = errBody.Error.Message
			status = errBody.Error.Status
		}
		return Reply{}, &Error{
			Kind:       classifyStatus(status, res.StatusCode),
			Model:      model,
			Message:    message,
			HTTPStatus: res.StatusCode,
		}
	}

	var parsed geminiResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return Reply{}, &Error{Kind: KindBadReply, Model: model, Message: fmt.Sprintf("invalid response json: %v", err)}
	}
	if len(parsed.Candidates) == 0 || len(parsed.Candidates[0].Content.Parts) == 0 {
		return Reply{}, &Error{Kind: KindBadReply, Model: model, Message: "response has no candidates"}
	}

	var text strings.Builder
	for _, part := range parsed.Candidates[0].Content.Parts {
		text.WriteString(part.Text)
	}

	reply, err := decodeReply(text.String())
	if err != nil {
		return Reply{}, &Error{Kind: KindBadReply, Model: model, Message: err.Error()}
	}
	if err := reply.Validate(); err != nil {
		var be *Error
		if errors.As(err, &be) {
			be.Model = model
			return Reply{}, be
		}
		return Reply{}, err
	}
	return reply, nil
}

// decodeReply parses the model's JSON output, tolerating markdown fences some
// models still wrap around structured output.
func decodeReply(raw string) (Reply, error) {
	raw = strings.TrimSpace(raw)
	if strings.HasPrefix(raw, "```") {
		raw = strings.TrimPrefix(raw, "```json")
		raw = strings.TrimPrefix(raw, "```")
		raw = strings.TrimSuffix(strings.TrimSpace(raw), "```")
		raw = strings.TrimSpace(raw)
	}
	var reply Reply
	if err := json.Unmarshal([]byte(raw), &reply); err != nil {
		return Reply{}, fmt.Errorf("decode structured reply: %w", err)
	}
	return reply, nil
}
