package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jackzampolin/stacks/internal/library"
)

type fixedPages struct {
	n     int
	err   error
	calls atomic.Int32
}

func (f *fixedPages) PageCount(ctx context.Context, pdf []byte) (int, error) {
	f.calls.Add(1)
	return f.n, f.err
}

func pdfDoc() *library.Document {
	return &library.Document{ID: "doc-1", Fields: library.Fields{Title: "T", Format: "pdf", Keywords: []string{"k"}}}
}

func pdfArtifact() Artifact {
	return Artifact{FileName: "t.pdf", ContentType: "application/pdf", Data: []byte("%PDF-1.7")}
}

func TestCoordinator_SubmitWait(t *testing.T) {
	var received atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		received.Add(1)
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("ParseMultipartForm() error = %v", err)
		}
		if got := r.MultipartForm.Value["keywords[]"]; len(got) != 1 {
			t.Errorf("keywords[] = %v", got)
		}
		w.Write([]byte(`[{"primary_ok":true},{"primary_ok":true},{"secondary_ok":true}]`))
	}))
	defer server.Close()

	c := NewCoordinator(Config{WebhookURL: server.URL, Pages: &fixedPages{n: 10}})
	sub, err := c.Submit(context.Background(), pdfDoc(), pdfArtifact(), Options{Mode: ModeWait})
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if sub.Accepted {
		t.Error("wait mode should not report Accepted")
	}
	if got := len(sub.Response.Primaries()); got != 2 {
		t.Errorf("Primaries() = %d, want 2", got)
	}
	if received.Load() != 1 {
		t.Errorf("requests = %d, want 1", received.Load())
	}
}

func TestCoordinator_LargePDF(t *testing.T) {
	var requests atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		w.Write([]byte(`{"success":true,"message":"ok"}`))
	}))
	defer server.Close()

	pages := &fixedPages{n: 1500}
	c := NewCoordinator(Config{WebhookURL: server.URL, Pages: pages})
	doc := pdfDoc()

	_, err := c.Submit(context.Background(), doc, pdfArtifact(), Options{})
	var warning *LargePDFWarning
	if !errors.As(err, &warning) {
		t.Fatalf("Submit() error = %v, want *LargePDFWarning", err)
	}
	if warning.PageCount != 1500 || warning.Limit != DefaultMaxPDFPages || warning.Document != doc {
		t.Errorf("LargePDFWarning = %+v", warning)
	}
	if requests.Load() != 0 {
		t.Error("webhook should not be called for an oversized PDF")
	}

	sub, err := c.Submit(context.Background(), doc, pdfArtifact(), Options{SkipSizeCheck: true})
	if err != nil {
		t.Fatalf("Submit(SkipSizeCheck) error = %v", err)
	}
	if sub.Response.Legacy == nil || !sub.Response.Legacy.Success {
		t.Errorf("Response = %+v", sub.Response)
	}
	if pages.calls.Load() != 1 {
		t.Errorf("page counts = %d, want 1", pages.calls.Load())
	}
}

func TestCoordinator_SizeCheckScope(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"success":true}`))
	}))
	defer server.Close()

	tests := []struct {
		name  string
		doc   *library.Document
		art   Artifact
		pages *fixedPages
	}{
		{
			name:  "non pdf document",
			doc:   &library.Document{ID: "d", Fields: library.Fields{Format: "epub"}},
			art:   Artifact{FileName: "d.epub"},
			pages: &fixedPages{n: 5000},
		},
		{
			name:  "text only artifact",
			doc:   pdfDoc(),
			art:   Artifact{FileName: "t.txt", TextOnly: true},
			pages: &fixedPages{n: 5000},
		},
		{
			name:  "page count failure does not block",
			doc:   pdfDoc(),
			art:   pdfArtifact(),
			pages: &fixedPages{err: errors.New("corrupt")},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewCoordinator(Config{WebhookURL: server.URL, Pages: tt.pages})
			if _, err := c.Submit(context.Background(), tt.doc, tt.art, Options{}); err != nil {
				t.Errorf("Submit() error = %v", err)
			}
		})
	}
}

func TestCoordinator_SubmitErrors(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
		check   func(t *testing.T, err error)
	}{
		{
			name:    "empty body",
			handler: func(w http.ResponseWriter, r *http.Request) {},
			check: func(t *testing.T, err error) {
				var parseErr *ParseError
				if !errors.As(err, &parseErr) {
					t.Errorf("error = %v, want *ParseError", err)
				}
			},
		},
		{
			name: "server error",
			handler: func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, "workflow crashed", http.StatusInternalServerError)
			},
			check: func(t *testing.T, err error) {
				var httpErr *HTTPError
				if !errors.As(err, &httpErr) || httpErr.StatusCode != http.StatusInternalServerError {
					t.Errorf("error = %v, want *HTTPError 500", err)
				}
			},
		},
		{
			name: "slow webhook",
			handler: func(w http.ResponseWriter, r *http.Request) {
				select {
				case <-r.Context().Done():
				case <-time.After(2 * time.Second):
				}
			},
			check: func(t *testing.T, err error) {
				var timeout *TimeoutError
				if !errors.As(err, &timeout) {
					t.Errorf("error = %v, want *TimeoutError", err)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(tt.handler)
			defer server.Close()

			c := NewCoordinator(Config{
				WebhookURL:  server.URL,
				WaitTimeout: 50 * time.Millisecond,
				Pages:       &fixedPages{n: 1},
			})
			_, err := c.Submit(context.Background(), pdfDoc(), pdfArtifact(), Options{Mode: ModeWait})
			tt.check(t, err)
		})
	}
}

func TestCoordinator_FireAndForget(t *testing.T) {
	delivered := make(chan struct{}, 1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		delivered <- struct{}{}
		http.Error(w, "boom", http.StatusBadGateway)
	}))
	defer server.Close()

	c := NewCoordinator(Config{WebhookURL: server.URL, Pages: &fixedPages{n: 1}})
	ctx, cancel := context.WithCancel(context.Background())
	var (
		completed   int
		completeErr error
		completeCtx error
	)
	sub, err := c.Submit(ctx, pdfDoc(), pdfArtifact(), Options{
		Mode: ModeFireAndForget,
		OnComplete: func(bg context.Context, resp *Response, err error) {
			completed++
			completeErr = err
			completeCtx = bg.Err()
		},
	})
	cancel()
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if !sub.Accepted || sub.Response != nil {
		t.Errorf("Submission = %+v, want accepted without response", sub)
	}

	c.Wait()
	select {
	case <-delivered:
	default:
		t.Error("background request was not delivered")
	}
	if completed != 1 {
		t.Fatalf("OnComplete calls = %d, want 1", completed)
	}
	var httpErr *HTTPError
	if !errors.As(completeErr, &httpErr) || httpErr.StatusCode != http.StatusBadGateway {
		t.Errorf("OnComplete error = %v, want *HTTPError 502", completeErr)
	}
	if completeCtx != nil {
		t.Errorf("OnComplete context error = %v, want a context detached from the caller", completeCtx)
	}
}

func TestCoordinator_UpdateMetadata(t *testing.T) {
	var got metadataUpdate
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("Content-Type = %q", ct)
		}
		json.NewDecoder(r.Body).Decode(&got)
		w.Write([]byte(`{"success":true}`))
	}))
	defer server.Close()

	c := NewCoordinator(Config{WebhookURL: server.URL, MetadataWebhookURL: server.URL})
	err := c.UpdateMetadata(context.Background(), "doc-1", map[string]any{"author": "Y"})
	if err != nil {
		t.Fatalf("UpdateMetadata() error = %v", err)
	}
	if got.Action != "update_metadata" || got.DocumentID != "doc-1" || got.Metadata["author"] != "Y" {
		t.Errorf("request = %+v", got)
	}

	unconfigured := NewCoordinator(Config{WebhookURL: server.URL})
	if err := unconfigured.UpdateMetadata(context.Background(), "doc-1", nil); err == nil {
		t.Error("UpdateMetadata() without URL should fail")
	}
}

func TestParseMode(t *testing.T) {
	tests := []struct {
		in      string
		want    Mode
		wantErr bool
	}{
		{"", ModeWait, false},
		{"wait", ModeWait, false},
		{"fire_and_forget", ModeFireAndForget, false},
		{"async", ModeFireAndForget, false},
		{"later", "", true},
	}
	for _, tt := range tests {
		got, err := ParseMode(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseMode(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
		}
		if got != tt.want {
			t.Errorf("ParseMode(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestPDFPageCounter_RejectsGarbage(t *testing.T) {
	if _, err := (PDFPageCounter{}).PageCount(context.Background(), []byte("not a pdf")); err == nil {
		t.Error("PageCount() on garbage should fail")
	}
}
