package remote

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestRateLimiter_Nil(t *testing.T) {
	r := NewRateLimiter(0)
	if r != nil {
		t.Fatalf("NewRateLimiter(0) = %+v, want nil", r)
	}
	if err := r.Wait(context.Background()); err != nil {
		t.Errorf("nil Wait() error = %v", err)
	}
	if got := r.Status(); got != (LimiterStatus{}) {
		t.Errorf("nil Status() = %+v, want zero", got)
	}
}

func TestRateLimiter_Burst(t *testing.T) {
	r := NewRateLimiter(3)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if err := r.Wait(ctx); err != nil {
			t.Fatalf("Wait() #%d error = %v", i, err)
		}
	}
	st := r.Status()
	if st.TotalConsumed != 3 || st.TokensLimit != 3 || st.TokensAvailable != 0 {
		t.Errorf("Status() = %+v, want 3 consumed and none available", st)
	}

	// The bucket is empty and refills at 3/min, so the next call must block.
	ctx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	if err := r.Wait(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Wait() on empty bucket error = %v, want deadline exceeded", err)
	}
}
