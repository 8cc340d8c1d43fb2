package brain

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/lumavoice/luma/internal/events"
	"github.com/lumavoice/luma/internal/history"
	"github.com/lumavoice/luma/internal/observability"
)

// DefaultCandidates is the ordered list of interchangeable model identifiers
// tried until one succeeds.
var DefaultCandidates = []string{
	"gemini-2.5-flash",
	"gemini-2.0-flash",
	"gemini-flash-latest",
}

const systemPreamble = `You are Luma, a warm, slightly playful virtual companion rendered as a 3D avatar.
Keep replies short and conversational (one to three sentences) so they sound natural when spoken aloud.
Always answer with a single JSON object of the shape
{"text": string, "facialExpression": string, "animation": string}.
facialExpression must be one of: smile, sad, angry, surprised, funnyFace, default.
animation must be one of: Idle, Talking_0, Talking_1, Talking_2, Crying, Laughing, Rumba, Terrified, Angry.`

const ackTurn = `Understood. I will always reply with exactly one JSON object in that shape.`

// exhaustedReply is returned instead of an error when the provider signals
// quota exhaustion. The avatar apologizes rather than breaking the scene.
var exhaustedReply = Reply{
	Text:             "My mind needs a little rest. I have used up my thinking quota for now, ask me again in a bit?",
	FacialExpression: "sad",
	Animation:        "Idle",
	Exhausted:        true,
}

// Responder turns free text plus a session id into a structured Reply,
// walking the candidate list on failure. A candidate that works becomes the
// first one tried on subsequent calls; the index persists for the lifetime of
// the Responder and resets only on process restart.
type Responder struct {
	store      history.Store
	backend    Backend
	broadcast  *events.Broadcaster
	logger     *zap.Logger
	candidates []string
	metrics    *observability.Metrics

	mu        sync.Mutex
	activeIdx int
}

func NewResponder(store history.Store, backend Backend, broadcast *events.Broadcaster, logger *zap.Logger, candidates []string) *Responder {
	if len(candidates) == 0 {
		candidates = DefaultCandidates
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Responder{
		store:      store,
		backend:    backend,
		broadcast:  broadcast,
		logger:     logger,
		candidates: candidates,
	}
}

// SetMetrics attaches Prometheus instruments. May be left unset in tests.
func (r *Responder) SetMetrics(m *observability.Metrics) { r.metrics = m }

// ActiveCandidate reports the model currently tried first.
func (r *Responder) ActiveCandidate() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.candidates[r.activeIdx]
}

// Respond runs one conversational exchange for sessionID.
//
// Quota exhaustion is not an error: it yields the canned exhausted Reply, and
// both the user turn and the canned assistant turn are recorded in history so
// future context reflects what the user actually heard. All candidates
// failing for non-quota reasons surfaces *ErrAllCandidatesFailed.
func (r *Responder) Respond(ctx context.Context, requestID, sessionID, userText string) (Reply, error) {
	turns, err := r.store.History(ctx, sessionID)
	if err != nil {
		return Reply{}, err
	}

	prompt := Prompt{System: systemPreamble}
	prompt.Messages = append(prompt.Messages, Message{Role: "model", Text: ackTurn})
	for _, t := range turns {
		role := "user"
		if t.Role == history.RoleAssistant {
			role = "model"
		}
		prompt.Messages = append(prompt.Messages, Message{Role: role, Text: t.Content})
	}
	prompt.Messages = append(prompt.Messages, Message{Role: "user", Text: userText})

	r.mu.Lock()
	startIdx := r.activeIdx
	r.mu.Unlock()

	var attempts []error
	for offset := 0; offset < len(r.candidates); offset++ {
		idx := (startIdx + offset) % len(r.candidates)
		model := r.candidates[idx]

		reply, err := r.backend.Generate(ctx, model, prompt)
		if err == nil {
			r.remember(idx)
			if appendErr := r.store.Append(ctx, sessionID,
				history.Turn{Role: history.RoleUser, Content: userText},
				history.Turn{Role: history.RoleAssistant, Content: reply.Text},
			); appendErr != nil {
				return Reply{}, appendErr
			}
			return reply, nil
		}

		if ctx.Err() != nil {
			return Reply{}, ctx.Err()
		}

		if IsQuota(err) {
			r.logger.Warn("model quota exhausted, returning degraded reply",
				zap.String("model", model),
				zap.String("session_id", sessionID),
			)
			r.broadcast.Error(requestID, sessionID, events.StageThinking, "model quota exhausted", map[string]any{"model": model})
			if appendErr := r.store.Append(ctx, sessionID,
				history.Turn{Role: history.RoleUser, Content: userText},
				history.Turn{Role: history.RoleAssistant, Content: exhaustedReply.Text},
			); appendErr != nil {
				return Reply{}, appendErr
			}
			return exhaustedReply, nil
		}

		r.logger.Warn("model candidate failed, advancing",
			zap.String("model", model),
			zap.Error(err),
		)
		if r.metrics != nil {
			r.metrics.ModelFallbacks.WithLabelValues(model).Inc()
		}
		r.broadcast.Error(requestID, sessionID, events.StageThinking, "model candidate failed", map[string]any{
			"model": model,
			"error": err.Error(),
		})
		attempts = append(attempts, err)
	}

	return Reply{}, &ErrAllCandidatesFailed{Attempts: attempts}
}

func (r *Responder) remember(idx int) {
	r.mu.Lock()
	if r.activeIdx != idx {
		r.logger.Info("sticky model fallback",
			zap.String("from", r.candidates[r.activeIdx]),
			zap.String("to", r.candidates[idx]),
		)
		r.activeIdx = idx
	}
	r.mu.Unlock()
}
