package textextract

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"empty", "", ""},
		{"only whitespace", " \n\f\n ", ""},
		{"trailing spaces", "a  \nb\t\n", "a\nb"},
		{"blank runs collapsed", "a\n\n\n\nb", "a\n\nb"},
		{"form feed is a page break", "page one\fpage two", "page one\npage two"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Normalize(tt.in); got != tt.want {
				t.Errorf("Normalize() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestPdftotext_MissingBinary(t *testing.T) {
	p := New(Config{Binary: "definitely-not-pdftotext"})
	if err := p.Available(); err == nil {
		t.Error("Available() should fail for a missing binary")
	}
	if _, err := p.ExtractText(context.Background(), []byte("%PDF")); err == nil {
		t.Error("ExtractText() should fail for a missing binary")
	}
}

func TestPdftotext_FakeBinary(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping exec test in short mode")
	}
	// A shell script stands in for pdftotext and prints canned text.
	dir := t.TempDir()
	script := filepath.Join(dir, "pdftotext")
	body := "#!/bin/sh\nprintf 'Title  \\n\\n\\n\\nBody\\f'\n"
	if err := os.WriteFile(script, []byte(body), 0o755); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat("/bin/sh"); err != nil {
		t.Skip("no /bin/sh")
	}

	got, err := New(Config{Binary: script, MaxPages: 5}).ExtractText(context.Background(), []byte("%PDF"))
	if err != nil {
		t.Fatalf("ExtractText() error = %v", err)
	}
	if got != "Title\n\nBody" {
		t.Errorf("ExtractText() = %q", got)
	}
}
