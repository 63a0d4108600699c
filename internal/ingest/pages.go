package ingest

import (
	"bytes"
	"context"
	"fmt"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

// PageCounter returns the number of pages in a PDF.
type PageCounter interface {
	PageCount(ctx context.Context, pdf []byte) (int, error)
}

// PDFPageCounter counts pages with pdfcpu.
type PDFPageCounter struct{}

// PageCount implements PageCounter.
func (PDFPageCounter) PageCount(ctx context.Context, pdf []byte) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed

	n, err := api.PageCount(bytes.NewReader(pdf), conf)
	if err != nil {
		return 0, fmt.Errorf("failed to get page count: %w", err)
	}
	return n, nil
}
