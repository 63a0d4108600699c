// Package registry tracks which documents are being ingested and guarantees
// at most one in-flight ingestion per document.
package registry

import (
	"context"
	"errors"
	"sort"
	"sync"
)

// ErrAlreadyProcessing is returned by Acquire when the id is held.
var ErrAlreadyProcessing = errors.New("document is already being processed")

// Registry is a per-document lock with visibility into held ids.
type Registry interface {
	// Acquire takes the lock for id. The returned release func is safe to
	// call more than once.
	Acquire(ctx context.Context, id string) (release func(), err error)
	// Active lists held ids in sorted order.
	Active(ctx context.Context) ([]string, error)
	IsActive(ctx context.Context, id string) (bool, error)
}

// Local is an in-process Registry.
type Local struct {
	mu   sync.Mutex
	held map[string]uint64
	seq  uint64
}

// NewLocal creates an empty in-process registry.
func NewLocal() *Local {
	return &Local{held: make(map[string]uint64)}
}

// Acquire implements Registry.
func (l *Local) Acquire(ctx context.Context, id string) (func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.held[id]; ok {
		return nil, ErrAlreadyProcessing
	}
	l.seq++
	token := l.seq
	l.held[id] = token

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			defer l.mu.Unlock()
			if l.held[id] == token {
				delete(l.held, id)
			}
		})
	}, nil
}

// Active implements Registry.
func (l *Local) Active(ctx context.Context) ([]string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	ids := make([]string, 0, len(l.held))
	for id := range l.held {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// IsActive implements Registry.
func (l *Local) IsActive(ctx context.Context, id string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.held[id]
	return ok, nil
}

var _ Registry = (*Local)(nil)
