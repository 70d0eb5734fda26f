package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/kataras/golog"

	"github.com/ent0n29/memorybot/internal/docstore"
)

// Distributed counts requests in the shared document store. Windows are
// aligned to fixed epochs so every process lands on the same counter key
// without coordinating clocks.
type Distributed struct {
	docs        docstore.Store
	window      time.Duration
	maxRequests int
	logger      *golog.Logger
	now         func() time.Time
}

func NewDistributed(docs docstore.Store, window time.Duration, maxRequests int, logger *golog.Logger) *Distributed {
	cfg := Config{Window: window, MaxRequests: maxRequests}.withDefaults()
	if logger == nil {
		logger = golog.New()
		logger.SetLevel("disable")
	}
	return &Distributed{
		docs:        docs,
		window:      cfg.Window,
		maxRequests: cfg.MaxRequests,
		logger:      logger,
		now:         time.Now,
	}
}

// Admit increments the key's counter for the current epoch. A store failure
// admits the request: availability outranks strict enforcement.
func (l *Distributed) Admit(ctx context.Context, key string) Decision {
	now := l.now()
	windowMs := l.window.Milliseconds()
	startMs := now.UnixMilli() / windowMs * windowMs
	resetAt := time.UnixMilli(startMs + windowMs)

	count, err := l.docs.Increment(ctx, fmt.Sprintf("rl:%s:%d", key, startMs), l.window)
	if err != nil {
		l.logger.Warnf("rate limiter failing open for %s: %v", key, err)
		return Decision{
			Outcome:   DegradedOpen,
			Limit:     l.maxRequests,
			Remaining: l.maxRequests,
			ResetAt:   resetAt,
		}
	}

	d := Decision{
		Outcome:   Admitted,
		Limit:     l.maxRequests,
		Remaining: remaining(l.maxRequests, count),
		ResetAt:   resetAt,
	}
	if count > int64(l.maxRequests) {
		d.Outcome = Denied
		d.RetryAfter = ceilSeconds(resetAt.Sub(now))
	}
	return d
}
