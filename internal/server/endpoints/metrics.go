package endpoints

import (
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/stacks/internal/api"
	"github.com/jackzampolin/stacks/internal/metrics"
	"github.com/jackzampolin/stacks/internal/svcctx"
)

const (
	defaultMetricsLimit = 100
	maxMetricsLimit     = 1000
)

// parseMetricsFilter reads kind, document_id, status, since and limit from
// the query string. since accepts RFC 3339 or a duration such as 24h.
func parseMetricsFilter(q url.Values, now time.Time) (metrics.Filter, error) {
	f := metrics.Filter{
		Kind:       metrics.Kind(q.Get("kind")),
		DocumentID: q.Get("document_id"),
		Status:     q.Get("status"),
		Limit:      defaultMetricsLimit,
	}
	switch f.Kind {
	case "", metrics.KindRemoteJob, metrics.KindIngestion, metrics.KindResync, metrics.KindClassify:
	default:
		return f, fmt.Errorf("unknown kind %q", f.Kind)
	}
	switch f.Status {
	case "", "success", "error":
	default:
		return f, fmt.Errorf("status must be success or error")
	}
	if s := q.Get("since"); s != "" {
		if d, err := time.ParseDuration(s); err == nil {
			f.Since = now.Add(-d)
		} else if t, err := time.Parse(time.RFC3339, s); err == nil {
			f.Since = t
		} else {
			return f, fmt.Errorf("since must be RFC 3339 or a duration")
		}
	}
	if s := q.Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			return f, fmt.Errorf("limit must be a positive integer")
		}
		f.Limit = min(n, maxMetricsLimit)
	}
	return f, nil
}

// metricsQueryFrom returns the metrics query or writes a 503 when documents
// are kept in memory.
func metricsQueryFrom(w http.ResponseWriter, r *http.Request) (*metrics.Query, bool) {
	q := svcctx.MetricsQueryFrom(r.Context())
	if q == nil {
		writeJSON(w, http.StatusServiceUnavailable, ErrorResponse{Error: "metrics are not recorded in memory mode", Type: "unavailable"})
		return nil, false
	}
	return q, true
}

// ListMetricsResponse is the response for GET /api/metrics.
type ListMetricsResponse struct {
	Metrics []metrics.Metric `json:"metrics"`
	Count   int              `json:"count"`
}

// ListMetricsEndpoint handles GET /api/metrics.
type ListMetricsEndpoint struct{}

func (e *ListMetricsEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/api/metrics", e.handler
}

func (e *ListMetricsEndpoint) RequiresInit() bool { return true }

func (e *ListMetricsEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	q, ok := metricsQueryFrom(w, r)
	if !ok {
		return
	}
	f, err := parseMetricsFilter(r.URL.Query(), time.Now())
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	list, err := q.List(r.Context(), f)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if list == nil {
		list = []metrics.Metric{}
	}
	writeJSON(w, http.StatusOK, ListMetricsResponse{Metrics: list, Count: len(list)})
}

// metricsFlags binds the filter flags shared by the metrics commands.
type metricsFlags struct {
	kind, documentID, status, since string
	limit                           int
}

func (m *metricsFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&m.kind, "kind", "", "Filter by kind (remote_job, ingestion, resync, classify)")
	cmd.Flags().StringVar(&m.documentID, "document", "", "Filter by document ID")
	cmd.Flags().StringVar(&m.status, "status", "", "Filter by status (success, error)")
	cmd.Flags().StringVar(&m.since, "since", "", "Only metrics newer than this (RFC 3339 or duration like 24h)")
	cmd.Flags().IntVar(&m.limit, "limit", 0, "Maximum number of metrics")
}

func (m *metricsFlags) query() string {
	q := url.Values{}
	for k, v := range map[string]string{"kind": m.kind, "document_id": m.documentID, "status": m.status, "since": m.since} {
		if v != "" {
			q.Set(k, v)
		}
	}
	if m.limit > 0 {
		q.Set("limit", strconv.Itoa(m.limit))
	}
	if len(q) == 0 {
		return ""
	}
	return "?" + q.Encode()
}

func (e *ListMetricsEndpoint) Command(getServerURL func() string) *cobra.Command {
	var flags metricsFlags
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recorded operation metrics",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			var resp ListMetricsResponse
			if err := client.Get(cmd.Context(), "/api/metrics"+flags.query(), &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
	flags.register(cmd)
	return cmd
}

// MetricsSummaryEndpoint handles GET /api/metrics/summary.
type MetricsSummaryEndpoint struct{}

func (e *MetricsSummaryEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/api/metrics/summary", e.handler
}

func (e *MetricsSummaryEndpoint) RequiresInit() bool { return true }

func (e *MetricsSummaryEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	q, ok := metricsQueryFrom(w, r)
	if !ok {
		return
	}
	f, err := parseMetricsFilter(r.URL.Query(), time.Now())
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	// Summaries cover everything matching unless a limit was asked for.
	if r.URL.Query().Get("limit") == "" {
		f.Limit = 0
	}
	summary, err := q.Summarize(r.Context(), f)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (e *MetricsSummaryEndpoint) Command(getServerURL func() string) *cobra.Command {
	var flags metricsFlags
	cmd := &cobra.Command{
		Use:   "summary",
		Short: "Summarize operation metrics by kind",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			var resp metrics.Summary
			if err := client.Get(cmd.Context(), "/api/metrics/summary"+flags.query(), &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
	flags.register(cmd)
	return cmd
}
