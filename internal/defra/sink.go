package defra

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrSinkClosed is returned by Send after Stop.
var ErrSinkClosed = errors.New("sink closed")

// SinkConfig configures a Sink.
type SinkConfig struct {
	Client        *Client
	BatchSize     int           // flush after this many records (default 50)
	FlushInterval time.Duration // or after this long (default 5s)
	QueueSize     int           // buffered records before Send blocks (default 500)
	Logger        *slog.Logger
}

type record struct {
	collection string
	doc        map[string]any
}

// Sink batches append-only inserts so that callers on hot paths never wait
// for DefraDB. Failed batches are logged and dropped.
type Sink struct {
	client        *Client
	logger        *slog.Logger
	batchSize     int
	flushInterval time.Duration

	queue   chan record
	flushCh chan chan struct{}
	done    chan struct{}

	mu       sync.RWMutex
	closed   bool
	stopOnce sync.Once
}

// NewSink creates a sink. Call Start before Send.
func NewSink(cfg SinkConfig) *Sink {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 5 * time.Second
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 500
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Sink{
		client:        cfg.Client,
		logger:        cfg.Logger,
		batchSize:     cfg.BatchSize,
		flushInterval: cfg.FlushInterval,
		queue:         make(chan record, cfg.QueueSize),
		flushCh:       make(chan chan struct{}),
		done:          make(chan struct{}),
	}
}

// Start runs the batching loop until Stop. Writes use ctx with
// cancellation removed so a shutdown signal does not drop the final flush.
func (s *Sink) Start(ctx context.Context) {
	go s.run(context.WithoutCancel(ctx))
}

// Send queues doc for insertion into collection.
func (s *Sink) Send(collection string, doc map[string]any) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrSinkClosed
	}
	s.queue <- record{collection: collection, doc: doc}
	return nil
}

// Flush writes everything queued so far and waits for it.
func (s *Sink) Flush(ctx context.Context) error {
	ack := make(chan struct{})
	select {
	case s.flushCh <- ack:
	case <-s.done:
		return ErrSinkClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-ack:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop flushes queued records and ends the loop.
func (s *Sink) Stop() {
	s.stopOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		close(s.queue)
		s.mu.Unlock()
		<-s.done
	})
}

func (s *Sink) run(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(s.flushInterval)
	defer ticker.Stop()

	batch := make([]record, 0, s.batchSize)
	flush := func() {
		if len(batch) > 0 {
			s.write(ctx, batch)
			batch = make([]record, 0, s.batchSize)
		}
	}

	for {
		select {
		case rec, ok := <-s.queue:
			if !ok {
				flush()
				return
			}
			batch = append(batch, rec)
			if len(batch) >= s.batchSize {
				flush()
			}
		case ack := <-s.flushCh:
			// Drain what is already queued so Flush covers every prior Send.
			for n := len(s.queue); n > 0; n-- {
				rec, ok := <-s.queue
				if !ok {
					break
				}
				batch = append(batch, rec)
			}
			flush()
			close(ack)
		case <-ticker.C:
			flush()
		}
	}
}

func (s *Sink) write(ctx context.Context, batch []record) {
	byCollection := make(map[string][]map[string]any)
	for _, rec := range batch {
		byCollection[rec.collection] = append(byCollection[rec.collection], rec.doc)
	}
	for collection, docs := range byCollection {
		if _, err := s.client.CreateMany(ctx, collection, docs); err != nil {
			s.logger.Warn("dropping batch after write failure",
				"collection", collection, "count", len(docs), "error", err)
			continue
		}
		s.logger.Debug("batch written", "collection", collection, "count", len(docs))
	}
}
