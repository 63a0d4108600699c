package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestClient_Upload(t *testing.T) {
	var gotKeywords []string
	var gotFile string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("ParseMultipartForm() error = %v", err)
		}
		gotKeywords = r.MultipartForm.Value["keywords[]"]
		f, fh, err := r.FormFile("file")
		if err != nil {
			t.Fatalf("FormFile() error = %v", err)
		}
		defer f.Close()
		data, _ := io.ReadAll(f)
		gotFile = fh.Filename + ":" + string(data)
		json.NewEncoder(w).Encode(map[string]string{"id": "doc-1"})
	}))
	defer srv.Close()

	var resp struct {
		ID string `json:"id"`
	}
	err := NewClient(srv.URL).Upload(context.Background(), "/api/documents",
		map[string][]string{"keywords[]": {"a", "b"}}, "file", "x.pdf", []byte("%PDF"), &resp)
	if err != nil {
		t.Fatalf("Upload() error = %v", err)
	}
	if resp.ID != "doc-1" {
		t.Errorf("ID = %q, want doc-1", resp.ID)
	}
	if len(gotKeywords) != 2 || gotKeywords[1] != "b" {
		t.Errorf("keywords = %v, want [a b]", gotKeywords)
	}
	if gotFile != "x.pdf:%PDF" {
		t.Errorf("file = %q", gotFile)
	}
}

func TestClient_ServerError(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		wantType string
		wantMsg  string
	}{
		{"json body", `{"error":"busy","type":"already_processing"}`, "already_processing", "busy"},
		{"plain body", "oops", "", "oops"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusConflict)
				w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			err := NewClient(srv.URL).Post(context.Background(), "/x", map[string]string{}, nil)
			var se *ServerError
			if !errors.As(err, &se) {
				t.Fatalf("Post() error = %v, want *ServerError", err)
			}
			if se.StatusCode != http.StatusConflict || se.Type != tt.wantType || se.Message != tt.wantMsg {
				t.Errorf("ServerError = %+v", se)
			}
		})
	}
}

func TestOutputTo(t *testing.T) {
	data := map[string]any{"status": "ok"}

	var buf bytes.Buffer
	if err := OutputTo(&buf, OutputFormatJSON, data); err != nil {
		t.Fatalf("OutputTo(json) error = %v", err)
	}
	if !strings.Contains(buf.String(), `"status": "ok"`) {
		t.Errorf("json output = %q", buf.String())
	}

	buf.Reset()
	if err := OutputTo(&buf, OutputFormatYAML, data); err != nil {
		t.Fatalf("OutputTo(yaml) error = %v", err)
	}
	if strings.TrimSpace(buf.String()) != "status: ok" {
		t.Errorf("yaml output = %q", buf.String())
	}

	if _, err := ParseOutputFormat("xml"); err == nil {
		t.Error("ParseOutputFormat(xml) should fail")
	}
}
