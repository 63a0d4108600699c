package defra

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

// graphQLServer answers every GraphQL request with respond and records the
// request bodies it saw.
func graphQLServer(t *testing.T, respond func(req GQLRequest) string) (*httptest.Server, *[]GQLRequest) {
	t.Helper()
	var seen []GQLRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v0/graphql" || r.Method != http.MethodPost {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
			return
		}
		var req GQLRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		seen = append(seen, req)
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, respond(req))
	}))
	t.Cleanup(server.Close)
	return server, &seen
}

func TestClient_HealthCheck(t *testing.T) {
	tests := []struct {
		name       string
		statusCode int
		wantErr    bool
	}{
		{"healthy", http.StatusOK, false},
		{"unhealthy_500", http.StatusInternalServerError, true},
		{"unhealthy_503", http.StatusServiceUnavailable, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Path != "/health-check" {
					t.Errorf("unexpected path: %s", r.URL.Path)
				}
				w.WriteHeader(tt.statusCode)
			}))
			defer server.Close()

			err := NewClient(server.URL).HealthCheck(context.Background())
			if (err != nil) != tt.wantErr {
				t.Errorf("HealthCheck() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrUnhealthy) {
				t.Errorf("HealthCheck() error = %v, want ErrUnhealthy", err)
			}
		})
	}
}

func TestClient_Execute(t *testing.T) {
	server, seen := graphQLServer(t, func(GQLRequest) string {
		return `{"data": {"Document": [{"_docID": "bae-1", "title": "Herbal"}]}}`
	})

	resp, err := NewClient(server.URL).Execute(context.Background(), `query($v0: String) { Document { _docID } }`, map[string]any{"v0": "x"})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	docs := resp.Documents("Document")
	if len(docs) != 1 || docs[0]["title"] != "Herbal" {
		t.Errorf("Documents() = %v", docs)
	}
	if (*seen)[0].Variables["v0"] != "x" {
		t.Errorf("variables not sent: %v", (*seen)[0].Variables)
	}
}

func TestClient_ExecuteErrors(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantErr string
	}{
		{"server error", http.StatusInternalServerError, "boom", "status 500"},
		{"empty body", http.StatusOK, "", "empty response"},
		{"not json", http.StatusOK, "<html>", "failed to decode"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				io.WriteString(w, tt.body)
			}))
			defer server.Close()

			_, err := NewClient(server.URL).Execute(context.Background(), "{ x }", nil)
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Execute() error = %v, want %q", err, tt.wantErr)
			}
		})
	}
}

func TestClient_GraphQLErrorsAreReturnedInResponse(t *testing.T) {
	server, _ := graphQLServer(t, func(GQLRequest) string {
		return `{"errors": [{"message": "collection not found"}]}`
	})
	resp, err := NewClient(server.URL).Execute(context.Background(), "{ x }", nil)
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if resp.Error() != "collection not found" {
		t.Errorf("Error() = %q", resp.Error())
	}
}

func TestClient_Create(t *testing.T) {
	server, seen := graphQLServer(t, func(GQLRequest) string {
		return `{"data": {"create_Document": [{"_docID": "bae-42"}]}}`
	})

	id, err := NewClient(server.URL).Create(context.Background(), "Document", map[string]any{
		"title":    `Say "hi"`,
		"keywords": []string{"a", "b"},
		"year":     2019,
		"has_ocr":  true,
	})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if id != "bae-42" {
		t.Errorf("Create() = %q", id)
	}

	want := `mutation { create_Document(input: [{has_ocr: true, keywords: ["a", "b"], title: "Say \"hi\"", year: 2019}]) { _docID } }`
	if got := (*seen)[0].Query; got != want {
		t.Errorf("mutation =\n%s\nwant\n%s", got, want)
	}
}

func TestClient_CreateManyCountMismatch(t *testing.T) {
	server, _ := graphQLServer(t, func(GQLRequest) string {
		return `{"data": {"create_Metric": [{"_docID": "bae-1"}]}}`
	})
	_, err := NewClient(server.URL).CreateMany(context.Background(), "Metric", []map[string]any{{"a": 1}, {"a": 2}})
	if err == nil {
		t.Error("CreateMany() should report missing ids")
	}
}

func TestClient_UpdateAndDelete(t *testing.T) {
	server, seen := graphQLServer(t, func(req GQLRequest) string {
		if strings.Contains(req.Query, "update_") {
			return `{"data": {"update_Document": [{"_docID": "bae-1"}]}}`
		}
		return `{"data": {"delete_Document": [{"_docID": "bae-1"}]}}`
	})
	client := NewClient(server.URL)

	if err := client.Update(context.Background(), "Document", "bae-1", map[string]any{"summary": "new"}); err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	if err := client.Delete(context.Background(), "Document", "bae-1"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if !strings.Contains((*seen)[0].Query, `update_Document(docID: "bae-1", input: {summary: "new"})`) {
		t.Errorf("update mutation = %s", (*seen)[0].Query)
	}
	if !strings.Contains((*seen)[1].Query, `delete_Document(docID: "bae-1")`) {
		t.Errorf("delete mutation = %s", (*seen)[1].Query)
	}

	if err := client.Update(context.Background(), "Document", `x") { evil }`, nil); err == nil {
		t.Error("Update() should reject unsafe ids")
	}
}
