package schema

import (
	"embed"
	"fmt"
	"strings"
)

//go:embed schemas/*.graphql
var schemaFS embed.FS

// Schema is a DefraDB collection definition.
type Schema struct {
	Name string
	SDL  string
}

// collections lists every collection in creation order. Neither references
// the other, so the order only keeps startup logs stable.
var collections = []string{"Document", "Metric"}

// All loads every collection schema.
func All() ([]Schema, error) {
	out := make([]Schema, 0, len(collections))
	for _, name := range collections {
		s, err := Get(name)
		if err != nil {
			return nil, err
		}
		out = append(out, *s)
	}
	return out, nil
}

// Get loads the schema for one collection.
func Get(name string) (*Schema, error) {
	found := false
	for _, c := range collections {
		if c == name {
			found = true
			break
		}
	}
	if !found {
		return nil, fmt.Errorf("schema not found: %s", name)
	}

	sdl, err := schemaFS.ReadFile("schemas/" + strings.ToLower(name) + ".graphql")
	if err != nil {
		return nil, fmt.Errorf("failed to read schema %s: %w", name, err)
	}
	return &Schema{Name: name, SDL: string(sdl)}, nil
}
