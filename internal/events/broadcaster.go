package events

import (
	"sync"
	"time"
)

// Level classifies an event for subscribers and log output.
type Level string

const (
	LevelInfo  Level = "info"
	LevelError Level = "error"
)

// Stage identifies where in the request pipeline an event was emitted.
// The client maps these onto avatar states (thinking, talking, listening).
type Stage string

const (
	StageReceived     Stage = "received"
	StageTranscoding  Stage = "transcoding"
	StageTranscribing Stage = "transcribing"
	StageThinking     Stage = "thinking"
	StageModelDone    Stage = "model-done"
	StageSynthesizing Stage = "synthesizing"
	StageDone         Stage = "done"
	StageError        Stage = "error"
)

// Event is one broadcastable pipeline progress record. Events are ephemeral:
// they are fanned out to live subscribers and never persisted.
type Event struct {
	Level     Level          `json:"level"`
	RequestID string         `json:"requestId"`
	SessionID string         `json:"sessionId,omitempty"`
	Stage     Stage          `json:"stage"`
	Message   string         `json:"message"`
	Extra     map[string]any `json:"extra,omitempty"`
	TSMs      int64          `json:"ts_ms"`
}

type subscriber struct {
	ch        chan Event
	sessionID string
}

// Broadcaster fans events out to zero or more live subscribers, optionally
// filtered by session id. Publishing never blocks: a subscriber whose buffer
// is full misses the event.
type Broadcaster struct {
	mu     sync.Mutex
	subs   map[int]*subscriber
	nextID int
}

func NewBroadcaster() *Broadcaster {
	return &Broadcaster{subs: make(map[int]*subscriber)}
}

// Subscribe registers a new subscriber. An empty sessionID receives every
// event; a non-empty one receives only events for that session. The returned
// cancel func closes the channel; calling it again is a no-op.
func (b *Broadcaster) Subscribe(sessionID string, buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 64
	}
	sub := &subscriber{ch: make(chan Event, buffer), sessionID: sessionID}

	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = sub
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		if _, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(sub.ch)
		}
		b.mu.Unlock()
	}
	return sub.ch, cancel
}

// Publish delivers ev to matching subscribers. Slow subscribers are skipped
// rather than blocking the pipeline.
func (b *Broadcaster) Publish(ev Event) {
	if ev.TSMs == 0 {
		ev.TSMs = time.Now().UnixMilli()
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	for _, sub := range b.subs {
		if sub.sessionID != "" && sub.sessionID != ev.SessionID {
			continue
		}
		select {
		case sub.ch <- ev:
		default:
		}
	}
}

// Info publishes an info-level event.
func (b *Broadcaster) Info(requestID, sessionID string, stage Stage, message string, extra map[string]any) {
	b.Publish(Event{
		Level:     LevelInfo,
		RequestID: requestID,
		SessionID: sessionID,
		Stage:     stage,
		Message:   message,
		Extra:     extra,
	})
}

// Error publishes an error-level event.
func (b *Broadcaster) Error(requestID, sessionID string, stage Stage, message string, extra map[string]any) {
	b.Publish(Event{
		Level:     LevelError,
		RequestID: requestID,
		SessionID: sessionID,
		Stage:     stage,
		Message:   message,
		Extra:     extra,
	})
}

// SubscriberCount reports the number of live subscribers.
func (b *Broadcaster) SubscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}
