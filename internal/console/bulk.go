package console

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// BulkItem is the outcome of one document in a bulk operation.
type BulkItem[T any] struct {
	DocumentID string `json:"document_id"`
	Result     T      `json:"result,omitempty"`
	Error      string `json:"error,omitempty"`
}

// BulkResult collects per-document outcomes in request order.
type BulkResult[T any] struct {
	Items     []BulkItem[T] `json:"items"`
	Succeeded int           `json:"succeeded"`
	Failed    int           `json:"failed"`
}

// BulkIngest ingests each document. An ingestion whose reconciled status is
// error counts as failed.
func (s *Service) BulkIngest(ctx context.Context, ids []string, opts IngestOptions) *BulkResult[*Result] {
	return runBulk(ctx, s.bulkLimit, ids, func(ctx context.Context, id string) (*Result, bool, error) {
		res, err := s.Ingest(ctx, id, opts)
		if err != nil {
			return nil, false, err
		}
		return res, res.Success || res.Accepted, nil
	})
}

// BulkProcess runs Process on each document.
func (s *Service) BulkProcess(ctx context.Context, ids []string, opts ProcessOptions) *BulkResult[*ProcessResult] {
	// Progress callbacks are per document.
	opts.Progress = nil
	return runBulk(ctx, s.bulkLimit, ids, func(ctx context.Context, id string) (*ProcessResult, bool, error) {
		res, err := s.Process(ctx, id, opts)
		return res, err == nil, err
	})
}

// BulkResync runs Resync on each document.
func (s *Service) BulkResync(ctx context.Context, ids []string) *BulkResult[*ResyncResult] {
	return runBulk(ctx, s.bulkLimit, ids, func(ctx context.Context, id string) (*ResyncResult, bool, error) {
		res, err := s.Resync(ctx, id)
		return res, err == nil, err
	})
}

// runBulk applies fn to every id with at most limit running at once. Every
// item settles: a failure is recorded and never cancels the others.
func runBulk[T any](ctx context.Context, limit int, ids []string, fn func(context.Context, string) (T, bool, error)) *BulkResult[T] {
	items := make([]BulkItem[T], len(ids))
	ok := make([]bool, len(ids))

	var g errgroup.Group
	g.SetLimit(limit)
	for i, id := range ids {
		g.Go(func() error {
			items[i].DocumentID = id
			res, success, err := fn(ctx, id)
			items[i].Result = res
			ok[i] = success
			if err != nil {
				items[i].Error = err.Error()
			}
			return nil
		})
	}
	_ = g.Wait()

	out := &BulkResult[T]{Items: items}
	for _, success := range ok {
		if success {
			out.Succeeded++
		} else {
			out.Failed++
		}
	}
	return out
}
