package defra

import (
	"context"
	"fmt"
	"regexp"
	"strings"
)

// idPattern matches DefraDB document ids (bae-<uuid>) and plain identifiers.
// Ids are checked before they are interpolated into a mutation.
var idPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// ValidateID reports whether id is safe to embed in a GraphQL document.
func ValidateID(id string) error {
	switch {
	case id == "":
		return fmt.Errorf("empty ID")
	case len(id) > 500:
		return fmt.Errorf("ID too long: %d characters", len(id))
	case !idPattern.MatchString(id):
		return fmt.Errorf("invalid ID %q: contains unsafe characters", id)
	}
	return nil
}

// Query builds a collection query whose filter values travel as GraphQL
// variables.
type Query struct {
	collection string
	filters    []filter
	fields     []string
	order      string
	limit      int
	offset     int
}

type filter struct {
	field string
	op    string
	value any
}

// NewQuery starts a query against collection returning only _docID.
func NewQuery(collection string) *Query {
	return &Query{collection: collection, fields: []string{"_docID"}}
}

// Filter adds an equality condition.
func (q *Query) Filter(field string, value any) *Query {
	return q.where(field, "_eq", value)
}

// FilterIn matches any of values.
func (q *Query) FilterIn(field string, values []string) *Query {
	return q.where(field, "_in", values)
}

// FilterGTE adds a greater-than-or-equal condition.
func (q *Query) FilterGTE(field string, value any) *Query {
	return q.where(field, "_ge", value)
}

// FilterLTE adds a less-than-or-equal condition.
func (q *Query) FilterLTE(field string, value any) *Query {
	return q.where(field, "_le", value)
}

func (q *Query) where(field, op string, value any) *Query {
	q.filters = append(q.filters, filter{field: field, op: op, value: value})
	return q
}

// Fields replaces the selection set.
func (q *Query) Fields(fields ...string) *Query {
	q.fields = fields
	return q
}

// OrderBy sorts results by field; direction is ASC or DESC.
func (q *Query) OrderBy(field, direction string) *Query {
	q.order = fmt.Sprintf("{%s: %s}", field, strings.ToUpper(direction))
	return q
}

func (q *Query) Limit(n int) *Query {
	q.limit = n
	return q
}

func (q *Query) Offset(n int) *Query {
	q.offset = n
	return q
}

// Build returns the GraphQL document and its variables.
func (q *Query) Build() (string, map[string]any) {
	vars := make(map[string]any, len(q.filters))
	var defs, conds []string
	for i, f := range q.filters {
		name := fmt.Sprintf("v%d", i)
		defs = append(defs, fmt.Sprintf("$%s: %s", name, graphQLType(f.value)))
		conds = append(conds, fmt.Sprintf("%s: {%s: $%s}", f.field, f.op, name))
		vars[name] = f.value
	}

	var args []string
	if len(conds) > 0 {
		args = append(args, "filter: {"+strings.Join(conds, ", ")+"}")
	}
	if q.order != "" {
		args = append(args, "order: "+q.order)
	}
	if q.limit > 0 {
		args = append(args, fmt.Sprintf("limit: %d", q.limit))
	}
	if q.offset > 0 {
		args = append(args, fmt.Sprintf("offset: %d", q.offset))
	}

	var b strings.Builder
	if len(defs) > 0 {
		fmt.Fprintf(&b, "query(%s) ", strings.Join(defs, ", "))
	}
	b.WriteString("{ ")
	b.WriteString(q.collection)
	if len(args) > 0 {
		fmt.Fprintf(&b, "(%s)", strings.Join(args, ", "))
	}
	fmt.Fprintf(&b, " { %s } }", strings.Join(q.fields, " "))
	return b.String(), vars
}

// Execute runs the query on client.
func (q *Query) Execute(ctx context.Context, client *Client) (*GQLResponse, error) {
	query, vars := q.Build()
	return client.Execute(ctx, query, vars)
}

func graphQLType(v any) string {
	switch v.(type) {
	case int, int32, int64:
		return "Int"
	case float32, float64:
		return "Float"
	case bool:
		return "Boolean"
	case []string:
		return "[String!]"
	default:
		return "String"
	}
}
