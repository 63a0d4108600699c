package metrics

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/jackzampolin/stacks/internal/defra"
)

// Query reads recorded metrics.
type Query struct {
	client *defra.Client
}

// NewQuery creates a query helper.
func NewQuery(client *defra.Client) *Query {
	return &Query{client: client}
}

// Filter narrows List and Summarize.
type Filter struct {
	Kind       Kind
	DocumentID string
	Status     string
	Since      time.Time
	Limit      int
}

// List returns matching metrics, newest first.
func (q *Query) List(ctx context.Context, f Filter) ([]Metric, error) {
	qb := defra.NewQuery(Collection).Fields(fields...).OrderBy("created_at", "DESC")
	if f.Kind != "" {
		qb.Filter("kind", string(f.Kind))
	}
	if f.DocumentID != "" {
		qb.Filter("document_id", f.DocumentID)
	}
	if f.Status != "" {
		qb.Filter("status", f.Status)
	}
	if !f.Since.IsZero() {
		qb.FilterGTE("created_at", f.Since.UTC().Format(time.RFC3339))
	}
	if f.Limit > 0 {
		qb.Limit(f.Limit)
	}

	resp, err := qb.Execute(ctx, q.client)
	if err != nil {
		return nil, err
	}
	if msg := resp.Error(); msg != "" {
		return nil, fmt.Errorf("metrics query error: %s", msg)
	}

	docs := resp.Documents(Collection)
	out := make([]Metric, 0, len(docs))
	for _, d := range docs {
		out = append(out, fromMap(d))
	}
	return out, nil
}

// Summarize aggregates the metrics matching f.
func (q *Query) Summarize(ctx context.Context, f Filter) (*Summary, error) {
	list, err := q.List(ctx, f)
	if err != nil {
		return nil, err
	}
	return Summarize(list), nil
}

// KindSummary aggregates metrics of one kind.
type KindSummary struct {
	Kind         Kind           `json:"kind"`
	Count        int            `json:"count"`
	Errors       int            `json:"errors"`
	TotalSeconds float64        `json:"total_seconds"`
	AvgSeconds   float64        `json:"avg_seconds"`
	ErrorTypes   map[string]int `json:"error_types,omitempty"`
}

// Summary aggregates metrics per kind.
type Summary struct {
	Count  int           `json:"count"`
	Errors int           `json:"errors"`
	Kinds  []KindSummary `json:"kinds"`
}

// Summarize aggregates list in memory. Kinds are sorted by name.
func Summarize(list []Metric) *Summary {
	byKind := make(map[Kind]*KindSummary)
	out := &Summary{}
	for _, m := range list {
		ks, ok := byKind[m.Kind]
		if !ok {
			ks = &KindSummary{Kind: m.Kind}
			byKind[m.Kind] = ks
		}
		ks.Count++
		ks.TotalSeconds += m.Duration.Seconds()
		out.Count++
		if !m.Success() {
			ks.Errors++
			out.Errors++
			if m.ErrorType != "" {
				if ks.ErrorTypes == nil {
					ks.ErrorTypes = make(map[string]int)
				}
				ks.ErrorTypes[m.ErrorType]++
			}
		}
	}

	out.Kinds = make([]KindSummary, 0, len(byKind))
	for _, ks := range byKind {
		ks.AvgSeconds = ks.TotalSeconds / float64(ks.Count)
		out.Kinds = append(out.Kinds, *ks)
	}
	sort.Slice(out.Kinds, func(i, j int) bool { return out.Kinds[i].Kind < out.Kinds[j].Kind })
	return out
}
