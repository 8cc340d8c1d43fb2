package brain

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func geminiOKBody(t *testing.T, replyJSON string) []byte {
	t.Helper()
	body := map[string]any{
		"candidates": []map[string]any{{
			"content": map[string]any{
				"role":  "model",
				"parts": []map[string]any{{"text": replyJSON}},
			},
		}},
	}
	b, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal response body: %v", err)
	}
	return b
}

func TestGeminiGenerateRequestShape(t *testing.T) {
	var got geminiRequest
	var gotPath, gotKey string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotKey = r.Header.Get("x-goog-api-key")
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.Write(geminiOKBody(t, `{"text":"hello","facialExpression":"smile","animation":"Talking_1"}`))
	}))
	defer srv.Close()

	backend := NewGeminiBackend("test-key", WithBaseURL(srv.URL))
	prompt := Prompt{
		System: "be brief",
		Messages: []Message{
			{Role: "user", Text: "hi"},
			{Role: "model", Text: "hello"},
			{Role: "user", Text: "how are you"},
		},
	}
	reply, err := backend.Generate(context.Background(), "gemini-2.5-flash", prompt)
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if reply.Text != "hello" || reply.Animation != "Talking_1" {
		t.Fatalf("unexpected reply: %+v", reply)
	}

	if gotPath != "/models/gemini-2.5-flash:generateContent" {
		t.Fatalf("path = %q", gotPath)
	}
	if gotKey != "test-key" {
		t.Fatalf("api key header = %q", gotKey)
	}
	if got.SystemInstruction == nil || got.SystemInstruction.Parts[0].Text != "be brief" {
		t.Fatalf("systemInstruction = %+v", got.SystemInstruction)
	}
	if len(got.Contents) != 3 || got.Contents[1].Role != "model" {
		t.Fatalf("contents = %+v", got.Contents)
	}
	if got.GenerationConfig == nil || got.GenerationConfig.ResponseMIMEType != "application/json" {
		t.Fatalf("generationConfig = %+v", got.GenerationConfig)
	}
	var schema map[string]any
	if err := json.Unmarshal(got.GenerationConfig.ResponseSchema, &schema); err != nil {
		t.Fatalf("responseSchema is not json: %v", err)
	}
}

func TestGeminiGenerateErrorClassification(t *testing.T) {
	cases := []struct {
		name   string
		code   int
		status string
		want   Kind
	}{
		{"quota", http.StatusTooManyRequests, "RESOURCE_EXHAUSTED", KindQuota},
		{"not found", http.StatusNotFound, "NOT_FOUND", KindNotFound},
		{"bad request", http.StatusBadRequest, "INVALID_ARGUMENT", KindInvalidRequest},
		{"unauthenticated", http.StatusForbidden, "PERMISSION_DENIED", KindAuthentication},
		{"server error", http.StatusInternalServerError, "", KindProvider},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tc.code)
				json.NewEncoder(w).Encode(map[string]any{
					"error": map[string]any{"code": tc.code, "message": "nope", "status": tc.status},
				})
			}))
			defer srv.Close()

			backend := NewGeminiBackend("k", WithBaseURL(srv.URL))
			_, err := backend.Generate(context.Background(), "m", Prompt{Messages: []Message{{Role: "user", Text: "x"}}})
			var be *Error
			if !errors.As(err, &be) {
				t.Fatalf("error = %v, want *Error", err)
			}
			if be.Kind != tc.want {
				t.Fatalf("kind = %v, want %v", be.Kind, tc.want)
			}
			if be.HTTPStatus != tc.code {
				t.Fatalf("http status = %d, want %d", be.HTTPStatus, tc.code)
			}
		})
	}
}

func TestGeminiGenerateRejectsOutOfVocabulary(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write(geminiOKBody(t, `{"text":"hi","facialExpression":"wink","animation":"Idle"}`))
	}))
	defer srv.Close()

	backend := NewGeminiBackend("k", WithBaseURL(srv.URL))
	_, err := backend.Generate(context.Background(), "m", Prompt{Messages: []Message{{Role: "user", Text: "x"}}})
	var be *Error
	if !errors.As(err, &be) || be.Kind != KindBadReply {
		t.Fatalf("error = %v, want bad-reply *Error", err)
	}
}

func TestDecodeReplyStripsFences(t *testing.T) {
	fenced := "```json\n{\"text\":\"ok\",\"facialExpression\":\"default\",\"animation\":\"Idle\"}\n```"
	reply, err := decodeReply(fenced)
	if err != nil {
		t.Fatalf("decodeReply() error = %v", err)
	}
	if reply.Text != "ok" || reply.FacialExpression != "default" {
		t.Fatalf("unexpected reply: %+v", reply)
	}

	if _, err := decodeReply("not json at all"); err == nil {
		t.Fatalf("expected decode error")
	}
}
