package library

import (
	"fmt"
	"strings"
)

// unknownAuthors are placeholder values that count as a missing author.
var unknownAuthors = map[string]bool{
	"unknown": true,
	"neznámý": true,
}

// MissingMetadataError lists required fields that are empty.
type MissingMetadataError struct {
	DocumentID string
	Fields     []string
}

func (e *MissingMetadataError) Error() string {
	return fmt.Sprintf("document %s is missing required metadata: %s", e.DocumentID, strings.Join(e.Fields, ", "))
}

// MissingFields returns the required fields that are not filled in, in a
// stable order. An empty result means the document may be ingested.
func MissingFields(f Fields) []string {
	var missing []string
	author := strings.TrimSpace(f.Author)
	if author == "" || unknownAuthors[strings.ToLower(author)] {
		missing = append(missing, "author")
	}
	if f.PublicationYear == 0 {
		missing = append(missing, "publicationYear")
	}
	if strings.TrimSpace(f.Publisher) == "" {
		missing = append(missing, "publisher")
	}
	if strings.TrimSpace(f.Summary) == "" {
		missing = append(missing, "summary")
	}
	if len(f.Keywords) == 0 {
		missing = append(missing, "keywords")
	}
	if len(f.Categories) == 0 {
		missing = append(missing, "categories")
	}
	return missing
}

// ValidateForIngestion returns a *MissingMetadataError when doc lacks
// required metadata.
func ValidateForIngestion(doc *Document) error {
	if missing := MissingFields(doc.Fields); len(missing) > 0 {
		return &MissingMetadataError{DocumentID: doc.ID, Fields: missing}
	}
	return nil
}
