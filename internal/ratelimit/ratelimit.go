// Package ratelimit bounds request throughput per key with fixed windows.
// Two backends share one contract: a process-local table and a counter kept
// in the shared document store.
package ratelimit

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/kataras/golog"

	"github.com/ent0n29/memorybot/internal/docstore"
)

// Outcome distinguishes a clean admission from one granted because the
// limiter itself could not decide.
type Outcome int

const (
	Admitted Outcome = iota
	Denied
	DegradedOpen
)

func (o Outcome) String() string {
	switch o {
	case Admitted:
		return "admitted"
	case Denied:
		return "denied"
	case DegradedOpen:
		return "degraded_open"
	default:
		return fmt.Sprintf("unknown(%d)", int(o))
	}
}

// Decision is the verdict for one request.
type Decision struct {
	Outcome   Outcome
	Limit     int
	Remaining int
	ResetAt   time.Time
	// RetryAfter is the number of whole seconds until the window resets;
	// only set when denied.
	RetryAfter int
}

// Allowed reports whether the caller may proceed.
func (d Decision) Allowed() bool {
	return d.Outcome != Denied
}

// Limiter admits or rejects requests for a key.
type Limiter interface {
	Admit(ctx context.Context, key string) Decision
}

const (
	DefaultWindow      = time.Minute
	DefaultMaxRequests = 60
)

// Config selects a backend and its window.
type Config struct {
	Backend     string
	Window      time.Duration
	MaxRequests int
}

func (c Config) withDefaults() Config {
	if c.Window <= 0 {
		c.Window = DefaultWindow
	}
	if c.MaxRequests <= 0 {
		c.MaxRequests = DefaultMaxRequests
	}
	return c
}

// New builds the configured backend. The distributed backend needs docs.
func New(cfg Config, docs docstore.Store, logger *golog.Logger) (Limiter, error) {
	cfg = cfg.withDefaults()
	switch strings.ToLower(strings.TrimSpace(cfg.Backend)) {
	case "", "local":
		return NewLocal(cfg.Window, cfg.MaxRequests), nil
	case "distributed":
		if docs == nil {
			return nil, fmt.Errorf("distributed rate limiter requires a document store")
		}
		return NewDistributed(docs, cfg.Window, cfg.MaxRequests, logger), nil
	default:
		return nil, fmt.Errorf("unsupported rate limit backend %q", cfg.Backend)
	}
}

func ceilSeconds(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	return int((d + time.Second - 1) / time.Second)
}

func remaining(limit int, count int64) int {
	r := int64(limit) - count
	if r < 0 {
		return 0
	}
	return int(r)
}
