package catalog

import (
	"embed"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/xeipuuv/gojsonschema"
	"gopkg.in/yaml.v3"
)

//go:embed seed/*.yaml
var seedFS embed.FS

//go:embed item.schema.json
var itemSchemaJSON string

var itemSchema = sync.OnceValues(func() (*gojsonschema.Schema, error) {
	return gojsonschema.NewSchema(gojsonschema.NewStringLoader(itemSchemaJSON))
})

// seedFile is the on-disk shape of a catalog YAML file.
type seedFile struct {
	Items []Item `yaml:"items"`
}

// Load reads the catalog from dir, or from the embedded seed data when dir
// is empty.
func Load(dir string) (*Catalog, error) {
	if dir == "" {
		sub, err := fs.Sub(seedFS, "seed")
		if err != nil {
			return nil, fmt.Errorf("opening embedded seed: %w", err)
		}
		return LoadFS(sub)
	}
	if _, err := os.Stat(dir); err != nil {
		return nil, fmt.Errorf("catalog path: %w", err)
	}
	return LoadFS(os.DirFS(dir))
}

// LoadFS walks fsys in lexical order and loads every YAML file. Files that
// fail to parse and items that fail schema validation are skipped.
func LoadFS(fsys fs.FS) (*Catalog, error) {
	schema, err := itemSchema()
	if err != nil {
		return nil, fmt.Errorf("compiling item schema: %w", err)
	}

	var items []Item
	err = fs.WalkDir(fsys, ".", func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !(strings.HasSuffix(path, ".yaml") || strings.HasSuffix(path, ".yml")) {
			return nil
		}

		data, err := fs.ReadFile(fsys, path)
		if err != nil {
			return err
		}

		var file seedFile
		if err := yaml.Unmarshal(data, &file); err != nil {
			slog.Warn("skipping invalid catalog YAML", "path", path, "error", err)
			return nil
		}

		for _, it := range file.Items {
			if problems := validateItem(schema, it); len(problems) > 0 {
				slog.Warn("skipping invalid catalog item",
					"path", path,
					"id", it.ID,
					"problems", strings.Join(problems, "; "),
				)
				continue
			}
			items = append(items, it)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("loading catalog: %w", err)
	}

	c, err := New(items)
	if err != nil {
		return nil, err
	}
	slog.Info("catalog loaded", "items", c.Len())
	return c, nil
}

func validateItem(schema *gojsonschema.Schema, it Item) []string {
	res, err := schema.Validate(gojsonschema.NewGoLoader(it))
	if err != nil {
		return []string{err.Error()}
	}
	if res.Valid() {
		return nil
	}
	problems := make([]string, 0, len(res.Errors()))
	for _, e := range res.Errors() {
		problems = append(problems, e.String())
	}
	return problems
}
