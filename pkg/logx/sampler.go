package logx

import (
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

// Sampler throttles a repetitive log line to at most one per interval.
// Suppressed calls are counted and reported as "suppressed" on the next
// line that gets through.
type Sampler struct {
	lim        *rate.Limiter
	suppressed atomic.Uint64
}

func NewSampler(every time.Duration) *Sampler {
	if every <= 0 {
		every = 5 * time.Second
	}
	return &Sampler{lim: rate.NewLimiter(rate.Every(every), 1)}
}

// Warn logs through l if the sampler allows it.
func (s *Sampler) Warn(l Logger, msg string, fields ...Field) {
	if s == nil {
		l.Warn(msg, fields...)
		return
	}
	if !s.lim.Allow() {
		s.suppressed.Add(1)
		return
	}
	if n := s.suppressed.Swap(0); n > 0 {
		fields = append(fields, Uint64("suppressed", n))
	}
	l.Warn(msg, fields...)
}
