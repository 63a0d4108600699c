package console

import (
	"context"
	"fmt"

	"github.com/jackzampolin/stacks/internal/classify"
	"github.com/jackzampolin/stacks/internal/library"
	"github.com/jackzampolin/stacks/internal/metrics"
)

// ClassifyResult holds a classifier suggestion and, when it was applied,
// the fields it filled.
type ClassifyResult struct {
	DocumentID string            `json:"document_id"`
	Suggestion *library.Fields   `json:"suggestion"`
	Applied    []string          `json:"applied,omitempty"`
	Document   *library.Document `json:"document,omitempty"`
}

// Classify asks the classifier for metadata based on the document's text.
// With apply set, suggested values fill fields that are empty; fields the
// operator already filled are never overwritten.
func (s *Service) Classify(ctx context.Context, id string, apply bool) (*ClassifyResult, error) {
	if s.classifier == nil {
		return nil, unavailable("classifier")
	}
	if s.extractor == nil {
		return nil, unavailable("text extraction")
	}

	doc, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	data, err := s.file(ctx, doc)
	if err != nil {
		return nil, err
	}

	start := s.now()
	suggestion, err := s.suggest(ctx, data)
	s.metrics.Observe(metrics.KindClassify, id, start, err, func(m *metrics.Metric) {
		m.InputSize = int64(len(data))
		if err != nil {
			m.ErrorType = ErrorType(err)
		}
	})
	if err != nil {
		return nil, err
	}

	result := &ClassifyResult{DocumentID: id, Suggestion: suggestion}
	if !apply {
		return result, nil
	}

	fields := doc.Fields.Clone()
	result.Applied = classify.Merge(&fields, suggestion)
	if len(result.Applied) > 0 {
		if err := s.store.UpdateFields(ctx, id, fields); err != nil {
			return nil, fmt.Errorf("failed to apply suggestion: %w", err)
		}
		s.logger.Info("classifier suggestion applied", "document_id", id, "fields", result.Applied)
	}
	if result.Document, err = s.store.Get(ctx, id); err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Service) suggest(ctx context.Context, data []byte) (*library.Fields, error) {
	text, err := s.extractor.ExtractText(ctx, data)
	if err != nil {
		return nil, fmt.Errorf("failed to extract text: %w", err)
	}
	return s.classifier.Classify(ctx, text)
}
