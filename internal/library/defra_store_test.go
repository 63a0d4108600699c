package library

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/jackzampolin/stacks/internal/defra"
)

// fakeDefra answers GraphQL requests with respond and records the queries.
func fakeDefra(t *testing.T, respond func(query string) string) (*DefraStore, *[]string) {
	t.Helper()
	var queries []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req defra.GQLRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		queries = append(queries, req.Query)
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, respond(req.Query))
	}))
	t.Cleanup(srv.Close)
	return NewDefraStore(defra.NewClient(srv.URL), nil), &queries
}

const storedDocument = `{"data":{"Document":[{
	"_docID":"bae-1",
	"title":"Rivers",
	"author":"M. Brook",
	"publication_year":2019,
	"keywords":["water","flow"],
	"file_size":1024,
	"has_ocr":true,
	"ingestion_status":"success",
	"primary_a_status":"success",
	"primary_b_status":"success",
	"secondary_status":"",
	"last_ingested_at":"2024-05-01T12:00:00Z",
	"metadata_snapshot":"{\"fields\":{\"title\":\"Rivers\"},\"captured_at\":\"2024-05-01T12:00:00Z\"}",
	"created_at":"2024-04-01T00:00:00Z"
}]}}`

func TestDefraStore_Get(t *testing.T) {
	store, _ := fakeDefra(t, func(string) string { return storedDocument })

	doc, err := store.Get(context.Background(), "bae-1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if doc.ID != "bae-1" || doc.Title != "Rivers" || doc.PublicationYear != 2019 || doc.FileSize != 1024 {
		t.Errorf("Get() fields = %+v", doc)
	}
	if len(doc.Keywords) != 2 || !doc.HasOCR {
		t.Errorf("Keywords = %v HasOCR = %v", doc.Keywords, doc.HasOCR)
	}
	if doc.Backends.Secondary != BackendNone {
		t.Errorf("Secondary = %q, want %q", doc.Backends.Secondary, BackendNone)
	}
	if doc.LastIngestedAt == nil || doc.Snapshot == nil || doc.Snapshot.Fields.Title != "Rivers" {
		t.Errorf("LastIngestedAt = %v Snapshot = %+v", doc.LastIngestedAt, doc.Snapshot)
	}
}

func TestDefraStore_GetErrors(t *testing.T) {
	tests := []struct {
		name     string
		id       string
		response string
		notFound bool
	}{
		{"unsafe id", `x") { _docID } #`, `{}`, false},
		{"no documents", "bae-2", `{"data":{"Document":[]}}`, true},
		{"graphql error", "bae-2", `{"errors":[{"message":"boom"}]}`, false},
		{"corrupt snapshot", "bae-2", `{"data":{"Document":[{"_docID":"bae-2","metadata_snapshot":"{bad"}]}}`, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store, _ := fakeDefra(t, func(string) string { return tt.response })
			_, err := store.Get(context.Background(), tt.id)
			if err == nil {
				t.Fatal("Get() error = nil, want error")
			}
			if errors.Is(err, ErrNotFound) != tt.notFound {
				t.Errorf("Get() error = %v, notFound want %v", err, tt.notFound)
			}
		})
	}
}

func TestDefraStore_CreateAndUpdate(t *testing.T) {
	store, queries := fakeDefra(t, func(q string) string {
		switch {
		case strings.Contains(q, "create_Document"):
			return `{"data":{"create_Document":[{"_docID":"bae-9"}]}}`
		default:
			return `{"data":{"update_Document":[{"_docID":"bae-9"}]}}`
		}
	})
	ctx := context.Background()

	id, err := store.Create(ctx, &Document{Fields: Fields{Title: "New"}})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if id != "bae-9" {
		t.Errorf("Create() id = %q, want bae-9", id)
	}
	if !strings.Contains((*queries)[0], `ingestion_status: "pending"`) {
		t.Errorf("create mutation missing pending status: %s", (*queries)[0])
	}

	if err := store.SaveIngestion(ctx, id, IngestionUpdate{Status: StatusError, Backends: NoBackends(), Detail: "down"}); err != nil {
		t.Fatalf("SaveIngestion() error = %v", err)
	}
	last := (*queries)[len(*queries)-1]
	if !strings.Contains(last, `update_Document(docID: "bae-9"`) || strings.Contains(last, "metadata_snapshot") {
		t.Errorf("ingestion mutation = %s", last)
	}

	if err := store.UpdateFields(ctx, "bad id!", Fields{}); err == nil {
		t.Error("UpdateFields() with unsafe id error = nil, want error")
	}
}
