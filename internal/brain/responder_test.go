package brain

import (
	"context"
	"errors"
	"testing"

	"github.com/lumavoice/luma/internal/events"
	"github.com/lumavoice/luma/internal/history"
)

// scriptedBackend returns one queued result per Generate call, keyed by call
// order, and records every model it was asked for.
type scriptedBackend struct {
	results []func(model string, prompt Prompt) (Reply, error)
	calls   int
	models  []string
	prompts []Prompt
}

func (b *scriptedBackend) Generate(_ context.Context, model string, prompt Prompt) (Reply, error) {
	b.models = append(b.models, model)
	b.prompts = append(b.prompts, prompt)
	if b.calls >= len(b.results) {
		return Reply{}, errors.New("scripted backend exhausted")
	}
	fn := b.results[b.calls]
	b.calls++
	return fn(model, prompt)
}

func okReply(text string) func(string, Prompt) (Reply, error) {
	return func(string, Prompt) (Reply, error) {
		return Reply{Text: text, FacialExpression: "smile", Animation: "Talking_0"}, nil
	}
}

func failWith(kind Kind) func(string, Prompt) (Reply, error) {
	return func(model string, _ Prompt) (Reply, error) {
		return Reply{}, &Error{Kind: kind, Model: model, Message: "scripted failure"}
	}
}

func newTestResponder(backend Backend) (*Responder, history.Store) {
	store := history.NewInMemoryStore()
	return NewResponder(store, backend, events.NewBroadcaster(), nil, nil), store
}

func TestRespondSuccessAppendsHistory(t *testing.T) {
	backend := &scriptedBackend{results: []func(string, Prompt) (Reply, error){okReply("hi there")}}
	r, store := newTestResponder(backend)

	reply, err := r.Respond(context.Background(), "r1", "s1", "hello")
	if err != nil {
		t.Fatalf("Respond() error = %v", err)
	}
	if reply.Text != "hi there" || reply.Exhausted {
		t.Fatalf("unexpected reply: %+v", reply)
	}

	turns, _ := store.History(context.Background(), "s1")
	if len(turns) != 2 {
		t.Fatalf("history has %d turns, want 2", len(turns))
	}
	if turns[0].Role != history.RoleUser || turns[0].Content != "hello" {
		t.Fatalf("user turn = %+v", turns[0])
	}
	if turns[1].Role != history.RoleAssistant || turns[1].Content != "hi there" {
		t.Fatalf("assistant turn = %+v", turns[1])
	}
}

func TestRespondReplaysHistoryToModel(t *testing.T) {
	backend := &scriptedBackend{results: []func(string, Prompt) (Reply, error){
		okReply("first answer"),
		okReply("second answer"),
	}}
	r, _ := newTestResponder(backend)

	ctx := context.Background()
	if _, err := r.Respond(ctx, "r1", "s1", "first question"); err != nil {
		t.Fatalf("first Respond() error = %v", err)
	}
	if _, err := r.Respond(ctx, "r2", "s1", "second question"); err != nil {
		t.Fatalf("second Respond() error = %v", err)
	}

	prompt := backend.prompts[1]
	// ack turn + 2 prior turns + new user text
	if len(prompt.Messages) != 4 {
		t.Fatalf("second prompt has %d messages, want 4: %+v", len(prompt.Messages), prompt.Messages)
	}
	if prompt.Messages[1].Text != "first question" || prompt.Messages[2].Text != "first answer" {
		t.Fatalf("history not replayed in order: %+v", prompt.Messages)
	}
	if prompt.Messages[3].Text != "second question" {
		t.Fatalf("new user text missing from prompt: %+v", prompt.Messages)
	}
}

func TestRespondStickyFallback(t *testing.T) {
	backend := &scriptedBackend{results: []func(string, Prompt) (Reply, error){
		failWith(KindNotFound),
		okReply("from fallback"),
		okReply("again"),
	}}
	r, _ := newTestResponder(backend)

	ctx := context.Background()
	if _, err := r.Respond(ctx, "r1", "s1", "hello"); err != nil {
		t.Fatalf("Respond() error = %v", err)
	}
	if got := r.ActiveCandidate(); got != DefaultCandidates[1] {
		t.Fatalf("active candidate = %q, want %q", got, DefaultCandidates[1])
	}

	// The remembered candidate is tried first on the next independent request.
	if _, err := r.Respond(ctx, "r2", "s2", "hello again"); err != nil {
		t.Fatalf("Respond() error = %v", err)
	}
	if backend.models[2] != DefaultCandidates[1] {
		t.Fatalf("third call went to %q, want sticky %q", backend.models[2], DefaultCandidates[1])
	}
}

func TestRespondQuotaYieldsDegradedReply(t *testing.T) {
	backend := &scriptedBackend{results: []func(string, Prompt) (Reply, error){failWith(KindQuota)}}
	r, store := newTestResponder(backend)

	reply, err := r.Respond(context.Background(), "r1", "s1", "hello")
	if err != nil {
		t.Fatalf("quota exhaustion must not be an error, got %v", err)
	}
	if !reply.Exhausted || reply.FacialExpression != "sad" || reply.Animation != "Idle" {
		t.Fatalf("unexpected degraded reply: %+v", reply)
	}
	if backend.calls != 1 {
		t.Fatalf("quota must short-circuit candidate fallback, made %d calls", backend.calls)
	}

	// Policy: the user turn and the canned assistant turn are both recorded.
	turns, _ := store.History(context.Background(), "s1")
	if len(turns) != 2 || turns[1].Content != reply.Text {
		t.Fatalf("quota reply history = %+v", turns)
	}
}

func TestRespondAllCandidatesFail(t *testing.T) {
	backend := &scriptedBackend{results: []func(string, Prompt) (Reply, error){
		failWith(KindNotFound),
		failWith(KindProvider),
		failWith(KindInvalidRequest),
	}}
	r, store := newTestResponder(backend)

	_, err := r.Respond(context.Background(), "r1", "s1", "hello")
	var agg *ErrAllCandidatesFailed
	if !errors.As(err, &agg) {
		t.Fatalf("error = %v, want *ErrAllCandidatesFailed", err)
	}
	if len(agg.Attempts) != len(DefaultCandidates) {
		t.Fatalf("aggregate has %d attempts, want %d", len(agg.Attempts), len(DefaultCandidates))
	}

	turns, _ := store.History(context.Background(), "s1")
	if len(turns) != 0 {
		t.Fatalf("failed exchange must not touch history, got %d turns", len(turns))
	}
}

func TestReplyValidateRejectsOutOfVocabulary(t *testing.T) {
	bad := Reply{Text: "hi", FacialExpression: "smirk", Animation: "Idle"}
	if err := bad.Validate(); err == nil {
		t.Fatalf("expected error for unknown facialExpression")
	}
	bad = Reply{Text: "hi", FacialExpression: "smile", Animation: "Backflip"}
	if err := bad.Validate(); err == nil {
		t.Fatalf("expected error for unknown animation")
	}
	good := Reply{Text: "hi", FacialExpression: "smile", Animation: "Idle"}
	if err := good.Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
}
