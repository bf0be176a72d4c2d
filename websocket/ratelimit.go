package websocket

import (
	"time"

	"golang.org/x/time/rate"

	"chatrelay-server/config"
)

// limiter admits Burst frames up front and refills at Burst per
// RefillInterval.
type limiter struct {
	lim *rate.Limiter
	now func() time.Time
}

func newLimiter(cfg config.RateLimitConfig, now func() time.Time) *limiter {
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	interval := cfg.RefillInterval
	if interval <= 0 {
		interval = time.Second
	}
	if now == nil {
		now = time.Now
	}

	return &limiter{
		lim: rate.NewLimiter(rate.Every(interval/time.Duration(burst)), burst),
		now: now,
	}
}

func (l *limiter) allow() bool {
	return l.lim.AllowN(l.now(), 1)
}
