package brain

import (
	"context"
	"fmt"
	"strings"
)

// MockBackend provides deterministic local replies when no API key is
// configured. It keeps the dev loop (and the avatar) alive without a network.
type MockBackend struct{}

func NewMockBackend() *MockBackend { return &MockBackend{} }

func (b *MockBackend) Generate(ctx context.Context, _ string, prompt Prompt) (Reply, error) {
	select {
	case <-ctx.Done():
		return Reply{}, ctx.Err()
	default:
	}

	input := ""
	for i := len(prompt.Messages) - 1; i >= 0; i-- {
		if prompt.Messages[i].Role != "model" {
			input = strings.TrimSpace(prompt.Messages[i].Text)
			break
		}
	}
	if input == "" {
		input = "nothing"
	}
	return Reply{
		Text:             fmt.Sprintf("I heard you say: %s", input),
		FacialExpression: "smile",
		Animation:        "Talking_0",
	}, nil
}
