package registry

import (
	"context"
	"errors"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
)

// exerciseRegistry checks the behaviour every Registry must share.
func exerciseRegistry(t *testing.T, reg Registry) {
	t.Helper()
	ctx := context.Background()

	release, err := reg.Acquire(ctx, "doc-1")
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	if _, err := reg.Acquire(ctx, "doc-1"); !errors.Is(err, ErrAlreadyProcessing) {
		t.Errorf("second Acquire() error = %v, want ErrAlreadyProcessing", err)
	}

	releaseOther, err := reg.Acquire(ctx, "doc-2")
	if err != nil {
		t.Fatalf("Acquire(doc-2) error = %v", err)
	}
	active, err := reg.Active(ctx)
	if err != nil {
		t.Fatalf("Active() error = %v", err)
	}
	if len(active) != 2 || active[0] != "doc-1" || active[1] != "doc-2" {
		t.Errorf("Active() = %v", active)
	}

	release()
	release()
	if ok, _ := reg.IsActive(ctx, "doc-1"); ok {
		t.Error("doc-1 still active after release")
	}
	if ok, _ := reg.IsActive(ctx, "doc-2"); !ok {
		t.Error("doc-2 should still be active")
	}

	again, err := reg.Acquire(ctx, "doc-1")
	if err != nil {
		t.Fatalf("Acquire() after release error = %v", err)
	}
	// A stale release from the first holder must not drop the new lock.
	release()
	if ok, _ := reg.IsActive(ctx, "doc-1"); !ok {
		t.Error("stale release dropped a newer lock")
	}
	again()
	releaseOther()
}

func TestLocal(t *testing.T) {
	exerciseRegistry(t, NewLocal())
}

func TestLocal_Concurrent(t *testing.T) {
	reg := NewLocal()
	var wins atomic.Int32
	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			if _, err := reg.Acquire(context.Background(), "doc"); err == nil {
				wins.Add(1)
			}
		}()
	}
	close(start)
	wg.Wait()
	if got := wins.Load(); got != 1 {
		t.Errorf("successful Acquire() calls = %d, want 1", got)
	}
}

func TestLocal_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := NewLocal().Acquire(ctx, "doc"); !errors.Is(err, context.Canceled) {
		t.Errorf("Acquire() error = %v, want context.Canceled", err)
	}
}

func TestRedis(t *testing.T) {
	url := os.Getenv("STACKS_TEST_REDIS_URL")
	if url == "" || testing.Short() {
		t.Skip("STACKS_TEST_REDIS_URL not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	reg, err := NewRedis(ctx, RedisConfig{URL: url, Prefix: "stacks-test:" + uuid.NewString() + ":", TTL: time.Minute})
	if err != nil {
		t.Fatalf("NewRedis() error = %v", err)
	}
	defer reg.Close()
	exerciseRegistry(t, reg)
}

func TestRedis_LockOutlivesTTL(t *testing.T) {
	url := os.Getenv("STACKS_TEST_REDIS_URL")
	if url == "" || testing.Short() {
		t.Skip("STACKS_TEST_REDIS_URL not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	ttl := 300 * time.Millisecond
	reg, err := NewRedis(ctx, RedisConfig{URL: url, Prefix: "stacks-test:" + uuid.NewString() + ":", TTL: ttl})
	if err != nil {
		t.Fatalf("NewRedis() error = %v", err)
	}
	defer reg.Close()

	release, err := reg.Acquire(ctx, "doc")
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	time.Sleep(4 * ttl)

	if _, err := reg.Acquire(ctx, "doc"); !errors.Is(err, ErrAlreadyProcessing) {
		t.Errorf("Acquire() after %s error = %v, want ErrAlreadyProcessing", 4*ttl, err)
	}
	release()
	if ok, err := reg.IsActive(ctx, "doc"); err != nil || ok {
		t.Errorf("IsActive() after release = %v, %v, want false", ok, err)
	}
}

func TestNewRedis_BadURL(t *testing.T) {
	if _, err := NewRedis(context.Background(), RedisConfig{URL: "not-a-url"}); err == nil {
		t.Error("NewRedis() with bad URL should fail")
	}
	if _, err := NewRedis(context.Background(), RedisConfig{}); err == nil {
		t.Error("NewRedis() without URL should fail")
	}
}
