// Package textextract pulls plain text out of PDFs with poppler's pdftotext.
package textextract

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// ErrNoText is returned when a PDF has no extractable text layer.
var ErrNoText = errors.New("no extractable text")

// Extractor returns the text content of a PDF.
type Extractor interface {
	ExtractText(ctx context.Context, pdf []byte) (string, error)
}

// Config configures a Pdftotext extractor.
type Config struct {
	// Binary is the pdftotext executable (default "pdftotext").
	Binary string
	// MaxPages limits extraction to the first pages; 0 extracts everything.
	MaxPages int
}

// Pdftotext runs the pdftotext binary.
type Pdftotext struct {
	binary   string
	maxPages int
}

// New creates a pdftotext extractor.
func New(cfg Config) *Pdftotext {
	if cfg.Binary == "" {
		cfg.Binary = "pdftotext"
	}
	return &Pdftotext{binary: cfg.Binary, maxPages: cfg.MaxPages}
}

// Available reports whether the binary can be found.
func (p *Pdftotext) Available() error {
	if _, err := exec.LookPath(p.binary); err != nil {
		return fmt.Errorf("%s not found (install poppler-utils): %w", p.binary, err)
	}
	return nil
}

// ExtractText implements Extractor.
func (p *Pdftotext) ExtractText(ctx context.Context, pdf []byte) (string, error) {
	tmpDir, err := os.MkdirTemp("", "stacks-text-*")
	if err != nil {
		return "", fmt.Errorf("failed to create temp dir: %w", err)
	}
	defer os.RemoveAll(tmpDir)

	input := filepath.Join(tmpDir, "input.pdf")
	if err := os.WriteFile(input, pdf, 0o600); err != nil {
		return "", fmt.Errorf("failed to write temp PDF: %w", err)
	}

	// -layout keeps reading order for multi-column pages; "-" writes to stdout.
	args := []string{"-layout", "-enc", "UTF-8"}
	if p.maxPages > 0 {
		args = append(args, "-f", "1", "-l", fmt.Sprint(p.maxPages))
	}
	args = append(args, input, "-")

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, p.binary, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("pdftotext failed: %w (output: %s)", err, strings.TrimSpace(stderr.String()))
	}

	text := Normalize(stdout.String())
	if text == "" {
		return "", ErrNoText
	}
	return text, nil
}

// Normalize trims trailing spaces, drops form feeds and collapses runs of
// blank lines.
func Normalize(text string) string {
	text = strings.ReplaceAll(text, "\f", "\n")
	lines := strings.Split(text, "\n")
	out := make([]string, 0, len(lines))
	blank := 0
	for _, line := range lines {
		line = strings.TrimRight(line, " \t\r")
		if line == "" {
			blank++
			if blank > 1 {
				continue
			}
		} else {
			blank = 0
		}
		out = append(out, line)
	}
	return strings.TrimSpace(strings.Join(out, "\n"))
}

var _ Extractor = (*Pdftotext)(nil)
