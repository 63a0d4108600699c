// Package metadiff computes which tracked metadata fields changed since the
// last successful ingestion.
package metadiff

import (
	"slices"

	"github.com/jackzampolin/stacks/internal/library"
)

// field reads one tracked field. Array fields are compared order-insensitively.
type field struct {
	name  string
	get   func(library.Fields) any
	array func(library.Fields) []string
}

var fields = []field{
	{name: "title", get: func(f library.Fields) any { return f.Title }},
	{name: "author", get: func(f library.Fields) any { return f.Author }},
	{name: "publicationYear", get: func(f library.Fields) any { return f.PublicationYear }},
	{name: "publisher", get: func(f library.Fields) any { return f.Publisher }},
	{name: "summary", get: func(f library.Fields) any { return f.Summary }},
	{name: "keywords", array: func(f library.Fields) []string { return f.Keywords }},
	{name: "language", get: func(f library.Fields) any { return f.Language }},
	{name: "format", get: func(f library.Fields) any { return f.Format }},
	{name: "fileSize", get: func(f library.Fields) any { return f.FileSize }},
	{name: "coverImageUrl", get: func(f library.Fields) any { return f.CoverImageURL }},
	{name: "publicationTypes", array: func(f library.Fields) []string { return f.PublicationTypes }},
	{name: "labels", array: func(f library.Fields) []string { return f.Labels }},
	{name: "categories", array: func(f library.Fields) []string { return f.Categories }},
	{name: "releaseVersion", get: func(f library.Fields) any { return f.ReleaseVersion }},
}

// FieldNames returns the tracked field names in payload order.
func FieldNames() []string {
	names := make([]string, len(fields))
	for i, f := range fields {
		names[i] = f.name
	}
	return names
}

// Diff returns the payload for a metadata re-sync of doc.
//
// Without a snapshot every tracked field is returned. With a snapshot only
// changed fields are returned, and nil means nothing changed. Non-nil results
// always carry the document id.
func Diff(doc *library.Document) map[string]any {
	current := doc.Fields
	if doc.Snapshot == nil {
		out := map[string]any{"id": doc.ID}
		for _, f := range fields {
			out[f.name] = f.value(current)
		}
		return out
	}

	previous := doc.Snapshot.Fields
	var out map[string]any
	for _, f := range fields {
		if f.equal(previous, current) {
			continue
		}
		if out == nil {
			out = map[string]any{"id": doc.ID}
		}
		out[f.name] = f.value(current)
	}
	return out
}

// Changed returns the names of fields that differ from the snapshot.
func Changed(doc *library.Document) []string {
	payload := Diff(doc)
	var names []string
	for _, f := range fields {
		if _, ok := payload[f.name]; ok {
			names = append(names, f.name)
		}
	}
	return names
}

func (f field) value(v library.Fields) any {
	if f.array != nil {
		values := f.array(v)
		if values == nil {
			return []string{}
		}
		return slices.Clone(values)
	}
	return f.get(v)
}

func (f field) equal(a, b library.Fields) bool {
	if f.array != nil {
		return sameSet(f.array(a), f.array(b))
	}
	return f.get(a) == f.get(b)
}

// sameSet compares arrays after sorting; nil and empty are equal.
func sameSet(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	as, bs := slices.Clone(a), slices.Clone(b)
	slices.Sort(as)
	slices.Sort(bs)
	return slices.Equal(as, bs)
}
