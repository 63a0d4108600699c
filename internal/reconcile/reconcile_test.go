package reconcile

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/jackzampolin/stacks/internal/ingest"
	"github.com/jackzampolin/stacks/internal/library"
)

func decode(t *testing.T, body string) *ingest.Response {
	t.Helper()
	resp, err := ingest.DecodeResponse([]byte(body))
	if err != nil {
		t.Fatalf("DecodeResponse() error = %v", err)
	}
	return resp
}

func TestAggregate(t *testing.T) {
	tests := []struct {
		name         string
		body         string
		wantStatus   library.Status
		wantBackends library.Backends
		wantInMsg    string
	}{
		{
			name:         "all ok",
			body:         `[{"primary_ok":true},{"primary_ok":true},{"secondary_ok":true}]`,
			wantStatus:   library.StatusSuccess,
			wantBackends: library.Backends{PrimaryA: "success", PrimaryB: "success", Secondary: "success"},
		},
		{
			name:         "secondary failure does not downgrade",
			body:         `[{"primary_ok":true},{"primary_ok":true},{"secondary_ok":false,"secondary_error":"index down"}]`,
			wantStatus:   library.StatusSuccess,
			wantBackends: library.Backends{PrimaryA: "success", PrimaryB: "success", Secondary: "error"},
			wantInMsg:    "index down",
		},
		{
			name:         "one primary failed",
			body:         `[{"primary_ok":true},{"primary_ok":false,"primary_error":"disk full"}]`,
			wantStatus:   library.StatusError,
			wantBackends: library.Backends{PrimaryA: "success", PrimaryB: "error", Secondary: "none"},
			wantInMsg:    "disk full",
		},
		{
			name:         "missing second primary",
			body:         `[{"primary_ok":true},{"secondary_ok":true}]`,
			wantStatus:   library.StatusError,
			wantBackends: library.Backends{PrimaryA: "success", PrimaryB: "error", Secondary: "success"},
			wantInMsg:    "no result reported",
		},
		{
			name:         "legacy success",
			body:         `{"success":true,"message":"stored"}`,
			wantStatus:   library.StatusSuccess,
			wantBackends: library.Backends{PrimaryA: "success", PrimaryB: "success", Secondary: "none"},
			wantInMsg:    "stored",
		},
		{
			name:         "legacy failure",
			body:         `{"success":false}`,
			wantStatus:   library.StatusError,
			wantBackends: library.Backends{PrimaryA: "error", PrimaryB: "error", Secondary: "none"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := Aggregate(decode(t, tt.body))
			if out.Status != tt.wantStatus {
				t.Errorf("Status = %s, want %s", out.Status, tt.wantStatus)
			}
			if out.Backends != tt.wantBackends {
				t.Errorf("Backends = %+v, want %+v", out.Backends, tt.wantBackends)
			}
			if !strings.Contains(out.Message, tt.wantInMsg) {
				t.Errorf("Message = %q, want it to contain %q", out.Message, tt.wantInMsg)
			}
			if out.Detail == "" {
				t.Error("Detail should carry the raw response")
			}
		})
	}
}

func TestAggregate_Empty(t *testing.T) {
	for _, resp := range []*ingest.Response{nil, {}} {
		out := Aggregate(resp)
		if out.Status != library.StatusError || out.Message != EmptyResponseMessage {
			t.Errorf("Aggregate(%+v) = %+v", resp, out)
		}
	}
}

func newDoc(t *testing.T, store *library.MemoryStore) *library.Document {
	t.Helper()
	id, err := store.Create(context.Background(), &library.Document{
		Fields: library.Fields{Title: "T", Author: "X", Keywords: []string{"a", "b"}},
	})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	doc, err := store.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	return doc
}

func TestReconciler_Reconcile(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	store := library.NewMemoryStore()
	r := New(store, Config{Now: func() time.Time { return now }})
	doc := newDoc(t, store)

	out, err := r.Reconcile(ctx, doc, decode(t, `[{"primary_ok":true},{"primary_ok":true}]`))
	if err != nil {
		t.Fatalf("Reconcile() error = %v", err)
	}
	if !out.Success() {
		t.Fatalf("Reconcile() = %+v, want success", out)
	}

	stored, _ := store.Get(ctx, doc.ID)
	if stored.IngestionStatus != library.StatusSuccess {
		t.Errorf("IngestionStatus = %s", stored.IngestionStatus)
	}
	if stored.Snapshot == nil || stored.Snapshot.Fields.Author != "X" || !stored.Snapshot.CapturedAt.Equal(now) {
		t.Fatalf("Snapshot = %+v", stored.Snapshot)
	}
	if stored.LastIngestedAt == nil || !stored.LastIngestedAt.Equal(now) {
		t.Errorf("LastIngestedAt = %v", stored.LastIngestedAt)
	}

	// A later failure keeps the last good snapshot.
	doc.Author = "Y"
	out, err = r.Reconcile(ctx, doc, decode(t, `[{"primary_ok":false},{"primary_ok":true}]`))
	if err != nil {
		t.Fatalf("Reconcile() error = %v", err)
	}
	if out.Success() {
		t.Fatal("expected failure")
	}
	stored, _ = store.Get(ctx, doc.ID)
	if stored.IngestionStatus != library.StatusError {
		t.Errorf("IngestionStatus = %s, want error", stored.IngestionStatus)
	}
	if stored.Snapshot.Fields.Author != "X" {
		t.Errorf("snapshot author = %q, want X", stored.Snapshot.Fields.Author)
	}
	if !stored.LastIngestedAt.Equal(now) {
		t.Errorf("LastIngestedAt changed on failure: %v", stored.LastIngestedAt)
	}
}

func TestReconciler_Fail(t *testing.T) {
	ctx := context.Background()
	store := library.NewMemoryStore()
	r := New(store, Config{})
	doc := newDoc(t, store)

	_, parseErr := ingest.DecodeResponse([]byte(""))
	out, err := r.Fail(ctx, doc, parseErr)
	if err != nil {
		t.Fatalf("Fail() error = %v", err)
	}
	if out.Status != library.StatusError {
		t.Errorf("Status = %s, want error", out.Status)
	}
	if !strings.Contains(out.Message, "response contract") {
		t.Errorf("Message = %q, want response contract guidance", out.Message)
	}
	stored, _ := store.Get(ctx, doc.ID)
	if stored.IngestionStatus != library.StatusError || stored.Snapshot != nil {
		t.Errorf("stored = %+v", stored)
	}

	out, _ = r.Fail(ctx, doc, &ingest.TimeoutError{Budget: 5 * time.Minute})
	if !strings.Contains(out.Message, "5m0s") {
		t.Errorf("Message = %q, want budget", out.Message)
	}
}

func TestReconciler_ResetAndBegin(t *testing.T) {
	ctx := context.Background()
	store := library.NewMemoryStore()
	r := New(store, Config{})
	doc := newDoc(t, store)

	if err := r.Begin(ctx, doc); err != nil {
		t.Fatalf("Begin() error = %v", err)
	}
	stored, _ := store.Get(ctx, doc.ID)
	if stored.IngestionStatus != library.StatusPending {
		t.Errorf("after Begin status = %s", stored.IngestionStatus)
	}

	r.Fail(ctx, doc, errors.New("boom"))
	if err := r.Reset(ctx, doc); err != nil {
		t.Fatalf("Reset() error = %v", err)
	}
	stored, _ = store.Get(ctx, doc.ID)
	if stored.IngestionStatus != library.StatusPending || stored.Backends != library.NoBackends() {
		t.Errorf("after Reset = %s %+v", stored.IngestionStatus, stored.Backends)
	}
}

func TestReconciler_StoreError(t *testing.T) {
	store := library.NewMemoryStore()
	doc := newDoc(t, store)
	store.SaveIngestionErr = errors.New("db down")

	r := New(store, Config{})
	if _, err := r.Reconcile(context.Background(), doc, decode(t, `{"success":true}`)); err == nil {
		t.Error("Reconcile() should surface store errors")
	}
}
