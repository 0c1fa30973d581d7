package shopify

import (
	_ "embed"
	"fmt"
	"os"
	"path/filepath"

	"github.com/vektah/gqlparser/v2"
	"github.com/vektah/gqlparser/v2/ast"
)

//go:embed admin.graphql
var bundledSchema string

// LoadSchema parses the native admin schema SDL at path. An empty path loads
// the bundled subset of the admin schema.
func LoadSchema(path string) (*ast.Schema, error) {
	src := &ast.Source{Name: "admin.graphql", Input: bundledSchema}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read native schema: %w", err)
		}
		src = &ast.Source{Name: filepath.Base(path), Input: string(data)}
	}

	schema, err := gqlparser.LoadSchema(src)
	if err != nil {
		return nil, fmt.Errorf("failed to load native schema %s: %w", src.Name, err)
	}
	return schema, nil
}
