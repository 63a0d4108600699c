package classify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"reflect"
	"strings"
	"testing"

	"github.com/jackzampolin/stacks/internal/library"
)

const validOutput = `{
	"title": "Essential Oils",
	"author": "Jana Nováková",
	"publicationYear": 2019,
	"publisher": "Grada",
	"summary": "A practical guide.",
	"keywords": ["oils", "aromatherapy"],
	"language": "cs",
	"publicationTypes": ["book"],
	"categories": ["health"]
}`

func newTestClassifier(t *testing.T, handler http.HandlerFunc) *OpenAI {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	c, err := New(Config{APIKey: "test-key", BaseURL: server.URL, MaxRetries: 1})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return c
}

func completion(content string) map[string]any {
	return map[string]any{
		"id":      "chatcmpl-1",
		"object":  "chat.completion",
		"created": 1700000000,
		"model":   DefaultModel,
		"choices": []map[string]any{{
			"index":         0,
			"finish_reason": "stop",
			"message":       map[string]any{"role": "assistant", "content": content},
		}},
		"usage": map[string]any{"prompt_tokens": 10, "completion_tokens": 5, "total_tokens": 15},
	}
}

func TestOpenAI_Classify(t *testing.T) {
	var request map[string]any
	c := newTestClassifier(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		if auth := r.Header.Get("Authorization"); auth != "Bearer test-key" {
			t.Errorf("unexpected authorization: %s", auth)
		}
		json.NewDecoder(r.Body).Decode(&request)
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(completion(validOutput))
	})

	fields, err := c.Classify(context.Background(), "Essential Oils. Jana Nováková. Grada 2019.")
	if err != nil {
		t.Fatalf("Classify() error = %v", err)
	}
	if fields.Author != "Jana Nováková" || fields.PublicationYear != 2019 || len(fields.Keywords) != 2 {
		t.Errorf("Classify() = %+v", fields)
	}

	format, _ := request["response_format"].(map[string]any)
	if format["type"] != "json_schema" {
		t.Errorf("response_format = %v", request["response_format"])
	}
	schema := format["json_schema"].(map[string]any)["schema"].(map[string]any)
	props := schema["properties"].(map[string]any)
	if _, ok := props["publicationYear"].(map[string]any)["maximum"]; ok {
		t.Error("bounds should be stripped from the request schema")
	}
}

func TestOpenAI_ClassifyErrors(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
		text    string
		wantErr string
	}{
		{
			name:    "empty text",
			handler: func(w http.ResponseWriter, r *http.Request) { t.Error("should not call API") },
			text:    "  ",
			wantErr: "no text",
		},
		{
			name: "schema violation",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				json.NewEncoder(w).Encode(completion(`{"title": "only title"}`))
			},
			text:    "x",
			wantErr: "does not match schema",
		},
		{
			name: "api error",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusBadRequest)
				w.Write([]byte(`{"error": {"message": "bad model", "type": "invalid_request_error"}}`))
			},
			text:    "x",
			wantErr: "status 400",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClassifier(t, tt.handler)
			_, err := c.Classify(context.Background(), tt.text)
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Classify() error = %v, want %q", err, tt.wantErr)
			}
		})
	}
}

func TestOpenAI_Parse(t *testing.T) {
	c, err := New(Config{APIKey: "k"})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if _, err := c.Parse("```json\n" + validOutput + "\n```"); err != nil {
		t.Errorf("Parse(fenced) error = %v", err)
	}
	if _, err := c.Parse(strings.Replace(validOutput, "2019", "5000", 1)); err == nil {
		t.Error("Parse() should enforce the year bound locally")
	}
	if _, err := c.Parse("not json"); err == nil {
		t.Error("Parse() should reject non-JSON")
	}
}

func TestNew_RequiresKey(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Error("New() without API key should fail")
	}
}

func TestMerge(t *testing.T) {
	dst := library.Fields{Title: "Kept", Keywords: []string{"mine"}}
	suggestion := library.Fields{
		Title:           "Suggested",
		Author:          "A",
		PublicationYear: 2000,
		Keywords:        []string{"theirs"},
		Categories:      []string{"c"},
	}
	filled := Merge(&dst, &suggestion)

	want := []string{"author", "publicationYear", "categories"}
	if !reflect.DeepEqual(filled, want) {
		t.Errorf("Merge() filled = %v, want %v", filled, want)
	}
	if dst.Title != "Kept" || dst.Keywords[0] != "mine" || dst.Author != "A" {
		t.Errorf("Merge() result = %+v", dst)
	}
}
