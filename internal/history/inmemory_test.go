package history

import (
	"context"
	"testing"
)

func TestHistoryUnknownSessionIsEmpty(t *testing.T) {
	s := NewInMemoryStore()
	turns, err := s.History(context.Background(), "never-seen")
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(turns) != 0 {
		t.Fatalf("unknown session history = %d turns, want 0", len(turns))
	}
}

func TestAppendPreservesOrder(t *testing.T) {
	s := NewInMemoryStore()
	ctx := context.Background()

	exchanges := []string{"first", "second", "third"}
	for _, msg := range exchanges {
		if err := s.Append(ctx, "s1",
			Turn{Role: RoleUser, Content: msg},
			Turn{Role: RoleAssistant, Content: "re: " + msg},
		); err != nil {
			t.Fatalf("Append() error = %v", err)
		}
	}

	turns, err := s.History(ctx, "s1")
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(turns) != 2*len(exchanges) {
		t.Fatalf("history has %d turns, want %d", len(turns), 2*len(exchanges))
	}
	for i, msg := range exchanges {
		if turns[2*i].Role != RoleUser || turns[2*i].Content != msg {
			t.Fatalf("turn %d = %+v, want user %q", 2*i, turns[2*i], msg)
		}
		if turns[2*i+1].Role != RoleAssistant {
			t.Fatalf("turn %d role = %q, want assistant", 2*i+1, turns[2*i+1].Role)
		}
	}
}

func TestHistoryReturnsCopy(t *testing.T) {
	s := NewInMemoryStore()
	ctx := context.Background()
	if err := s.Append(ctx, "s1", Turn{Role: RoleUser, Content: "hello"}); err != nil {
		t.Fatalf("Append() error = %v", err)
	}

	turns, _ := s.History(ctx, "s1")
	turns[0].Content = "mutated"

	again, _ := s.History(ctx, "s1")
	if again[0].Content != "hello" {
		t.Fatalf("stored history was mutated through the returned slice")
	}
}

func TestClearIsIdempotentAndScoped(t *testing.T) {
	s := NewInMemoryStore()
	ctx := context.Background()

	if err := s.Clear(ctx, "never-seen"); err != nil {
		t.Fatalf("Clear() on unknown id error = %v", err)
	}

	_ = s.Append(ctx, "keep", Turn{Role: RoleUser, Content: "stay"})
	_ = s.Append(ctx, "drop", Turn{Role: RoleUser, Content: "go"})

	if err := s.Clear(ctx, "drop"); err != nil {
		t.Fatalf("Clear() error = %v", err)
	}
	dropped, _ := s.History(ctx, "drop")
	if len(dropped) != 0 {
		t.Fatalf("cleared session still has %d turns", len(dropped))
	}
	kept, _ := s.History(ctx, "keep")
	if len(kept) != 1 {
		t.Fatalf("other session affected by Clear: %d turns, want 1", len(kept))
	}
}

func TestFactoryDefaultsToMemory(t *testing.T) {
	s, mode, err := NewStore(context.Background(), Options{Backend: "auto"})
	if err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}
	defer s.Close()
	if mode != "memory" {
		t.Fatalf("auto backend resolved to %q, want memory", mode)
	}
}

func TestFactoryRejectsUnknownBackend(t *testing.T) {
	if _, _, err := NewStore(context.Background(), Options{Backend: "etcd"}); err == nil {
		t.Fatalf("expected error for unknown backend")
	}
}

func TestFactoryRequiresURLs(t *testing.T) {
	if _, _, err := NewStore(context.Background(), Options{Backend: "postgres"}); err == nil {
		t.Fatalf("postgres backend without DATABASE_URL should fail")
	}
	if _, _, err := NewStore(context.Background(), Options{Backend: "redis"}); err == nil {
		t.Fatalf("redis backend without REDIS_URL should fail")
	}
}
