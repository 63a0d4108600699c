package remote

import (
	"context"
	"sync"
	"time"
)

// RateLimiter is a token bucket that paces calls to the remote API.
// A nil *RateLimiter never blocks.
type RateLimiter struct {
	mu sync.Mutex

	perMinute int
	tokens    float64
	last      time.Time

	consumed int64
	waited   time.Duration
}

// LimiterStatus reports current limiter state.
type LimiterStatus struct {
	TokensAvailable int           `json:"tokens_available"`
	TokensLimit     int           `json:"tokens_limit"`
	TotalConsumed   int64         `json:"total_consumed"`
	TotalWaited     time.Duration `json:"total_waited"`
}

// NewRateLimiter returns a limiter allowing requestsPerMinute calls, or nil
// when requestsPerMinute is not positive.
func NewRateLimiter(requestsPerMinute int) *RateLimiter {
	if requestsPerMinute <= 0 {
		return nil
	}
	return &RateLimiter{
		perMinute: requestsPerMinute,
		tokens:    float64(requestsPerMinute),
		last:      time.Now(),
	}
}

// Wait blocks until a token is available or ctx is done.
func (r *RateLimiter) Wait(ctx context.Context) error {
	if r == nil {
		return nil
	}
	for {
		r.mu.Lock()
		r.refill()
		if r.tokens >= 1 {
			r.tokens--
			r.consumed++
			r.mu.Unlock()
			return nil
		}
		wait := r.untilNext()
		r.mu.Unlock()

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
			r.mu.Lock()
			r.waited += wait
			r.mu.Unlock()
		}
	}
}

// Status returns a snapshot of the limiter.
func (r *RateLimiter) Status() LimiterStatus {
	if r == nil {
		return LimiterStatus{}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.refill()
	return LimiterStatus{
		TokensAvailable: int(r.tokens),
		TokensLimit:     r.perMinute,
		TotalConsumed:   r.consumed,
		TotalWaited:     r.waited,
	}
}

// refill must be called with the lock held.
func (r *RateLimiter) refill() {
	now := time.Now()
	r.tokens += now.Sub(r.last).Minutes() * float64(r.perMinute)
	r.last = now
	if max := float64(r.perMinute); r.tokens > max {
		r.tokens = max
	}
}

// untilNext must be called with the lock held.
func (r *RateLimiter) untilNext() time.Duration {
	missing := 1 - r.tokens
	return time.Duration(missing / float64(r.perMinute) * float64(time.Minute))
}
