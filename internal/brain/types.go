package brain

import (
	"context"
	"fmt"
)

// Reply is the structured output of one conversational exchange. The
// expression and animation values are always drawn from the fixed
// vocabularies the avatar understands.
type Reply struct {
	Text             string `json:"text"`
	FacialExpression string `json:"facialExpression"`
	Animation        string `json:"animation"`
	Exhausted        bool   `json:"exhausted,omitempty"`
}

// FacialExpressions is the closed set of expressions the avatar can blend.
var FacialExpressions = []string{"smile", "sad", "angry", "surprised", "funnyFace", "default"}

// Animations is the closed set of body animation clips the avatar ships with.
var Animations = []string{"Idle", "Talking_0", "Talking_1", "Talking_2", "Crying", "Laughing", "Rumba", "Terrified", "Angry"}

func contains(set []string, v string) bool {
	for _, s := range set {
		if s == v {
			return true
		}
	}
	return false
}

// Validate checks the reply against the avatar vocabularies. An
// out-of-vocabulary value is a contract violation by the model backend and is
// reported as a bad-reply error rather than passed through.
func (r Reply) Validate() error {
	if r.Text == "" {
		return &Error{Kind: KindBadReply, Message: "empty reply text"}
	}
	if !contains(FacialExpressions, r.FacialExpression) {
		return &Error{Kind: KindBadReply, Message: fmt.Sprintf("unknown facialExpression %q", r.FacialExpression)}
	}
	if !contains(Animations, r.Animation) {
		return &Error{Kind: KindBadReply, Message: fmt.Sprintf("unknown animation %q", r.Animation)}
	}
	return nil
}

// Message is one role-tagged turn sent to the model backend.
type Message struct {
	Role string // "user" or "model"
	Text string
}

// Prompt is the fully composed model call: persona preamble, acknowledgment
// turn, replayed history, and the new user text, in that order.
type Prompt struct {
	System   string
	Messages []Message
}

// Backend produces one structured Reply for a prompt against a specific
// model identifier. Implementations classify failures as *Error so the
// responder can drive candidate fallback.
type Backend interface {
	Generate(ctx context.Context, model string, prompt Prompt) (Reply, error)
}
