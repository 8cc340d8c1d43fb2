package history

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Options selects and configures a history driver.
type Options struct {
	// Backend is one of "auto", "memory", "postgres", "redis".
	Backend     string
	DatabaseURL string
	RedisURL    string
	RedisTTL    time.Duration
}

// NewStore builds the configured history driver. In "auto" mode it prefers
// postgres when DATABASE_URL is set, then redis, then process memory.
func NewStore(ctx context.Context, opts Options) (Store, string, error) {
	backend := strings.ToLower(strings.TrimSpace(opts.Backend))
	if backend == "" {
		backend = "auto"
	}

	switch backend {
	case "memory":
		return NewInMemoryStore(), "memory", nil
	case "postgres":
		if strings.TrimSpace(opts.DatabaseURL) == "" {
			return nil, "", fmt.Errorf("HISTORY_BACKEND=postgres requires DATABASE_URL")
		}
		s, err := NewPostgresStore(ctx, opts.DatabaseURL)
		if err != nil {
			return nil, "", err
		}
		return s, "postgres", nil
	case "redis":
		if strings.TrimSpace(opts.RedisURL) == "" {
			return nil, "", fmt.Errorf("HISTORY_BACKEND=redis requires REDIS_URL")
		}
		s, err := NewRedisStore(ctx, opts.RedisURL, opts.RedisTTL)
		if err != nil {
			return nil, "", err
		}
		return s, "redis", nil
	case "auto":
		if strings.TrimSpace(opts.DatabaseURL) != "" {
			s, err := NewPostgresStore(ctx, opts.DatabaseURL)
			if err != nil {
				return nil, "", err
			}
			return s, "postgres", nil
		}
		if strings.TrimSpace(opts.RedisURL) != "" {
			s, err := NewRedisStore(ctx, opts.RedisURL, opts.RedisTTL)
			if err != nil {
				return nil, "", err
			}
			return s, "redis", nil
		}
		return NewInMemoryStore(), "memory", nil
	default:
		return nil, "", fmt.Errorf("invalid HISTORY_BACKEND: %q (expected auto|memory|postgres|redis)", opts.Backend)
	}
}
