package endpoints

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/stacks/internal/api"
	"github.com/jackzampolin/stacks/internal/library"
)

// maxUploadSize bounds a document upload.
const maxUploadSize = 512 << 20

// ListDocumentsResponse is the response for listing documents.
type ListDocumentsResponse struct {
	Documents []*library.Document `json:"documents"`
	Count     int                 `json:"count"`
}

// ListDocumentsEndpoint handles GET /api/documents.
type ListDocumentsEndpoint struct{}

func (e *ListDocumentsEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/api/documents", e.handler
}

func (e *ListDocumentsEndpoint) RequiresInit() bool { return true }

func (e *ListDocumentsEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	svc, ok := consoleFrom(w, r)
	if !ok {
		return
	}

	filter := library.ListFilter{Status: library.Status(r.URL.Query().Get("status"))}
	switch filter.Status {
	case "", library.StatusPending, library.StatusSuccess, library.StatusError:
	default:
		writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown status %q", filter.Status))
		return
	}
	if l := r.URL.Query().Get("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 {
			filter.Limit = parsed
		}
	}

	docs, err := svc.List(r.Context(), filter)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if docs == nil {
		docs = []*library.Document{}
	}
	writeJSON(w, http.StatusOK, ListDocumentsResponse{Documents: docs, Count: len(docs)})
}

func (e *ListDocumentsEndpoint) Command(getServerURL func() string) *cobra.Command {
	var status string
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List documents",
		RunE: func(cmd *cobra.Command, args []string) error {
			q := url.Values{}
			if status != "" {
				q.Set("status", status)
			}
			if limit > 0 {
				q.Set("limit", strconv.Itoa(limit))
			}
			path := "/api/documents"
			if len(q) > 0 {
				path += "?" + q.Encode()
			}

			client := api.NewClient(getServerURL())
			var resp ListDocumentsResponse
			if err := client.Get(cmd.Context(), path, &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "Filter by ingestion status (pending, success, error)")
	cmd.Flags().IntVar(&limit, "limit", 0, "Maximum results")
	return cmd
}

// CreateDocumentEndpoint handles POST /api/documents with a multipart
// upload. The file part is named "file"; metadata fields use the document
// JSON names and list fields may repeat ("keywords[]").
type CreateDocumentEndpoint struct{}

var _ api.Endpoint = (*CreateDocumentEndpoint)(nil)

func (e *CreateDocumentEndpoint) Route() (string, string, http.HandlerFunc) {
	return "POST", "/api/documents", e.handler
}

func (e *CreateDocumentEndpoint) RequiresInit() bool { return true }

func (e *CreateDocumentEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	svc, ok := consoleFrom(w, r)
	if !ok {
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("failed to parse form: %v", err))
		return
	}
	defer r.MultipartForm.RemoveAll()

	fields, err := fieldsFromForm(r.MultipartForm.Value)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var fileName string
	var data []byte
	if file, header, err := r.FormFile("file"); err == nil {
		defer file.Close()
		fileName = header.Filename
		if data, err = io.ReadAll(file); err != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("failed to read file: %v", err))
			return
		}
	} else if !errors.Is(err, http.ErrMissingFile) {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid file part: %v", err))
		return
	}
	if fileName == "" && strings.TrimSpace(fields.Title) == "" {
		writeError(w, http.StatusBadRequest, "title is required without a file")
		return
	}

	doc, err := svc.CreateDocument(r.Context(), fields, fileName, data)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, doc)
}

func (e *CreateDocumentEndpoint) Command(getServerURL func() string) *cobra.Command {
	var mf metadataFlags
	cmd := &cobra.Command{
		Use:   "create <file>",
		Short: "Upload a document file",
		Long: `Upload a document file with optional metadata.

The title is derived from the file name when not given
(annual-report-2.pdf becomes "annual-report").`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			client := api.NewClient(getServerURL())
			var doc library.Document
			if err := client.Upload(cmd.Context(), "/api/documents", mf.form(cmd), "file", filepath.Base(args[0]), data, &doc); err != nil {
				return err
			}
			return api.Output(doc)
		},
	}
	mf.register(cmd)
	return cmd
}

// GetDocumentEndpoint handles GET /api/documents/{id}.
type GetDocumentEndpoint struct{}

func (e *GetDocumentEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/api/documents/{id}", e.handler
}

func (e *GetDocumentEndpoint) RequiresInit() bool { return true }

func (e *GetDocumentEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	svc, ok := consoleFrom(w, r)
	if !ok {
		return
	}
	doc, err := svc.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

func (e *GetDocumentEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "get <id>",
		Short: "Get a document by ID",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			var doc library.Document
			if err := client.Get(cmd.Context(), "/api/documents/"+url.PathEscape(args[0]), &doc); err != nil {
				return err
			}
			return api.Output(doc)
		},
	}
}

// UpdateDocumentEndpoint handles PATCH /api/documents/{id}. Keys present in
// the body replace the stored values; absent keys are kept.
type UpdateDocumentEndpoint struct{}

func (e *UpdateDocumentEndpoint) Route() (string, string, http.HandlerFunc) {
	return "PATCH", "/api/documents/{id}", e.handler
}

func (e *UpdateDocumentEndpoint) RequiresInit() bool { return true }

func (e *UpdateDocumentEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	svc, ok := consoleFrom(w, r)
	if !ok {
		return
	}
	id := r.PathValue("id")

	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read body")
		return
	}

	doc, err := svc.Get(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	fields := doc.Fields.Clone()
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&fields); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return
	}

	updated, err := svc.UpdateFields(r.Context(), id, fields)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (e *UpdateDocumentEndpoint) Command(getServerURL func() string) *cobra.Command {
	var mf metadataFlags
	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Update document metadata",
		Long: `Update document metadata. Only the flags you pass are changed.

Example:
  stacks api documents update <id> --author "Jane Roe" --keyword history --keyword maps`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			patch := mf.patch(cmd)
			if len(patch) == 0 {
				return fmt.Errorf("nothing to update")
			}
			client := api.NewClient(getServerURL())
			var doc library.Document
			if err := client.Patch(cmd.Context(), "/api/documents/"+url.PathEscape(args[0]), patch, &doc); err != nil {
				return err
			}
			return api.Output(doc)
		},
	}
	mf.register(cmd)
	return cmd
}

// DeleteDocumentEndpoint handles DELETE /api/documents/{id}.
type DeleteDocumentEndpoint struct{}

func (e *DeleteDocumentEndpoint) Route() (string, string, http.HandlerFunc) {
	return "DELETE", "/api/documents/{id}", e.handler
}

func (e *DeleteDocumentEndpoint) RequiresInit() bool { return true }

func (e *DeleteDocumentEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	svc, ok := consoleFrom(w, r)
	if !ok {
		return
	}
	if err := svc.Delete(r.Context(), r.PathValue("id")); err != nil {
		writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (e *DeleteDocumentEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a document and its file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			if err := client.Delete(cmd.Context(), "/api/documents/"+url.PathEscape(args[0])); err != nil {
				return err
			}
			fmt.Printf("Deleted %s\n", args[0])
			return nil
		},
	}
}

// fieldsFromForm reads document metadata from multipart values.
func fieldsFromForm(values map[string][]string) (library.Fields, error) {
	get := func(key string) string {
		if v := values[key]; len(v) > 0 {
			return strings.TrimSpace(v[0])
		}
		return ""
	}
	list := func(key string) []string {
		var out []string
		for _, k := range []string{key + "[]", key} {
			for _, v := range values[k] {
				if v = strings.TrimSpace(v); v != "" {
					out = append(out, v)
				}
			}
		}
		return out
	}

	f := library.Fields{
		Title:            get("title"),
		Author:           get("author"),
		Publisher:        get("publisher"),
		Summary:          get("summary"),
		Keywords:         list("keywords"),
		Language:         get("language"),
		Format:           get("format"),
		CoverImageURL:    get("coverImageUrl"),
		PublicationTypes: list("publicationTypes"),
		Labels:           list("labels"),
		Categories:       list("categories"),
		ReleaseVersion:   get("releaseVersion"),
	}
	if year := get("publicationYear"); year != "" {
		n, err := strconv.Atoi(year)
		if err != nil {
			return library.Fields{}, fmt.Errorf("invalid publicationYear %q", year)
		}
		f.PublicationYear = n
	}
	return f, nil
}

// metadataFlags are the CLI flags shared by create and update.
type metadataFlags struct {
	title, author, publisher, summary, language, release string
	year                                                 int
	keywords, categories, labels, types                  []string
}

func (m *metadataFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&m.title, "title", "", "Title")
	cmd.Flags().StringVar(&m.author, "author", "", "Author")
	cmd.Flags().IntVar(&m.year, "year", 0, "Publication year")
	cmd.Flags().StringVar(&m.publisher, "publisher", "", "Publisher")
	cmd.Flags().StringVar(&m.summary, "summary", "", "Summary")
	cmd.Flags().StringVar(&m.language, "language", "", "Language")
	cmd.Flags().StringVar(&m.release, "release", "", "Release version")
	cmd.Flags().StringArrayVar(&m.keywords, "keyword", nil, "Keyword (repeatable)")
	cmd.Flags().StringArrayVar(&m.categories, "category", nil, "Category (repeatable)")
	cmd.Flags().StringArrayVar(&m.labels, "label", nil, "Label (repeatable)")
	cmd.Flags().StringArrayVar(&m.types, "type", nil, "Publication type (repeatable)")
}

// form returns the multipart values for the flags that were set.
func (m *metadataFlags) form(cmd *cobra.Command) map[string][]string {
	out := make(map[string][]string)
	for key, value := range m.patch(cmd) {
		switch v := value.(type) {
		case string:
			out[key] = []string{v}
		case int:
			out[key] = []string{strconv.Itoa(v)}
		case []string:
			out[key+"[]"] = v
		}
	}
	return out
}

// patch returns the JSON keys for the flags that were set.
func (m *metadataFlags) patch(cmd *cobra.Command) map[string]any {
	out := make(map[string]any)
	set := func(flag, key string, v any) {
		if cmd.Flags().Changed(flag) {
			out[key] = v
		}
	}
	set("title", "title", m.title)
	set("author", "author", m.author)
	set("year", "publicationYear", m.year)
	set("publisher", "publisher", m.publisher)
	set("summary", "summary", m.summary)
	set("language", "language", m.language)
	set("release", "releaseVersion", m.release)
	set("keyword", "keywords", m.keywords)
	set("category", "categories", m.categories)
	set("label", "labels", m.labels)
	set("type", "publicationTypes", m.types)
	return out
}
