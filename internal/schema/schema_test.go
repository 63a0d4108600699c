package schema

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/jackzampolin/stacks/internal/defra"
)

func TestAll(t *testing.T) {
	schemas, err := All()
	if err != nil {
		t.Fatalf("All() error = %v", err)
	}
	if len(schemas) != 2 {
		t.Fatalf("All() returned %d schemas, want 2", len(schemas))
	}
	for _, s := range schemas {
		if !strings.Contains(s.SDL, "type "+s.Name+" {") {
			t.Errorf("schema %s SDL does not declare its type", s.Name)
		}
	}
}

func TestDocumentSchemaCoversStoredFields(t *testing.T) {
	s, err := Get("Document")
	if err != nil {
		t.Fatalf("Get(Document) error = %v", err)
	}
	for _, field := range []string{"metadata_snapshot", "primary_a_status", "primary_b_status", "secondary_status", "last_ingested_at", "keywords"} {
		if !strings.Contains(s.SDL, field+":") {
			t.Errorf("Document schema missing %s", field)
		}
	}
}

func TestGet_Unknown(t *testing.T) {
	if _, err := Get("Book"); err == nil {
		t.Error("Get(Book) should fail")
	}
}

func TestInitialize(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantErr bool
	}{
		{"added", http.StatusOK, "", false},
		{"already exists", http.StatusBadRequest, `{"error":"collection already exists"}`, false},
		{"rejected", http.StatusBadRequest, `{"error":"syntax error"}`, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var mu sync.Mutex
			var sdls []string
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Path != "/api/v0/schema" {
					t.Errorf("unexpected path: %s", r.URL.Path)
				}
				body, _ := io.ReadAll(r.Body)
				mu.Lock()
				sdls = append(sdls, string(body))
				mu.Unlock()
				w.WriteHeader(tt.status)
				io.WriteString(w, tt.body)
			}))
			defer server.Close()

			err := Initialize(context.Background(), defra.NewClient(server.URL), nil)
			if (err != nil) != tt.wantErr {
				t.Errorf("Initialize() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && len(sdls) != 2 {
				t.Errorf("Initialize() sent %d schemas, want 2", len(sdls))
			}
		})
	}
}
