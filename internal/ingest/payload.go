package ingest

import (
	"bytes"
	"fmt"
	"mime/multipart"
	"net/textproto"
	"strconv"

	"github.com/jackzampolin/stacks/internal/library"
)

// Ingest modes reported to the webhook in the ingestMode field.
const (
	IngestModeFile = "file"
	IngestModeText = "text"
)

// Artifact is the content sent with a document.
type Artifact struct {
	FileName    string
	ContentType string
	Data        []byte
	// TextOnly marks extracted plain text sent in place of the binary file.
	TextOnly bool
}

// Payload is an encoded multipart request body.
type Payload struct {
	Body        []byte
	ContentType string
}

// BuildPayload flattens the document into multipart form fields. Array fields
// are sent as repeated bracket-suffixed fields, one per value.
func BuildPayload(doc *library.Document, art Artifact) (*Payload, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	mode := IngestModeFile
	if art.TextOnly {
		mode = IngestModeText
	}
	f := doc.Fields
	scalars := []struct{ key, value string }{
		{"id", doc.ID},
		{"title", f.Title},
		{"author", f.Author},
		{"publicationYear", formatYear(f.PublicationYear)},
		{"publisher", f.Publisher},
		{"summary", f.Summary},
		{"language", f.Language},
		{"format", f.Format},
		{"fileSize", strconv.FormatInt(f.FileSize, 10)},
		{"coverImageUrl", f.CoverImageURL},
		{"releaseVersion", f.ReleaseVersion},
		{"fileName", art.FileName},
		{"hasOcr", strconv.FormatBool(doc.HasOCR)},
		{"ingestMode", mode},
	}
	for _, s := range scalars {
		if err := w.WriteField(s.key, s.value); err != nil {
			return nil, fmt.Errorf("failed to write field %s: %w", s.key, err)
		}
	}

	arrays := []struct {
		key    string
		values []string
	}{
		{"keywords[]", f.Keywords},
		{"categories[]", f.Categories},
		{"labels[]", f.Labels},
		{"publicationTypes[]", f.PublicationTypes},
	}
	for _, a := range arrays {
		for _, v := range a.values {
			if err := w.WriteField(a.key, v); err != nil {
				return nil, fmt.Errorf("failed to write field %s: %w", a.key, err)
			}
		}
	}

	contentType := art.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
		if art.TextOnly {
			contentType = "text/plain; charset=utf-8"
		}
	}
	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, art.FileName))
	header.Set("Content-Type", contentType)
	part, err := w.CreatePart(header)
	if err != nil {
		return nil, fmt.Errorf("failed to create file part: %w", err)
	}
	if _, err := part.Write(art.Data); err != nil {
		return nil, fmt.Errorf("failed to write file part: %w", err)
	}

	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("failed to finish payload: %w", err)
	}
	return &Payload{Body: buf.Bytes(), ContentType: w.FormDataContentType()}, nil
}

func formatYear(year int) string {
	if year <= 0 {
		return ""
	}
	return strconv.Itoa(year)
}
