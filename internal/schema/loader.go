package schema

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Provider loads a schema from a source location. Consulted once per
// session during schema loading.
type Provider interface {
	Load(source string) (*Schema, error)
}

// FileProvider reads schema definitions from YAML files. A source may be a
// single file or a directory of *.yaml files, one or more tables each.
type FileProvider struct{}

// NewFileProvider returns a YAML-backed schema provider.
func NewFileProvider() *FileProvider {
	return &FileProvider{}
}

type schemaFile struct {
	Tables []Table `yaml:"tables"`
}

// Load parses the source into a Schema. Duplicate table names across files
// are an error rather than a silent override.
func (p *FileProvider) Load(source string) (*Schema, error) {
	info, err := os.Stat(source)
	if err != nil {
		return nil, fmt.Errorf("schema source %s: %w", source, err)
	}

	var files []string
	if info.IsDir() {
		entries, err := os.ReadDir(source)
		if err != nil {
			return nil, fmt.Errorf("failed to read schema directory %s: %w", source, err)
		}
		for _, e := range entries {
			if e.IsDir() {
				continue
			}
			if strings.HasSuffix(e.Name(), ".yaml") || strings.HasSuffix(e.Name(), ".yml") {
				files = append(files, filepath.Join(source, e.Name()))
			}
		}
	} else {
		files = []string{source}
	}

	if len(files) == 0 {
		return nil, fmt.Errorf("no schema files found in %s", source)
	}

	schema := &Schema{Tables: make(map[string]*Table)}
	for _, f := range files {
		data, err := os.ReadFile(f)
		if err != nil {
			return nil, fmt.Errorf("failed to read schema file %s: %w", f, err)
		}

		var sf schemaFile
		if err := yaml.Unmarshal(data, &sf); err != nil {
			return nil, fmt.Errorf("failed to parse schema file %s: %w", f, err)
		}

		for i := range sf.Tables {
			t := sf.Tables[i]
			if t.Name == "" {
				return nil, fmt.Errorf("schema file %s contains a table with no name", f)
			}
			if _, exists := schema.Tables[t.Name]; exists {
				return nil, fmt.Errorf("duplicate table %s in schema file %s", t.Name, f)
			}
			schema.Tables[t.Name] = &sf.Tables[i]
		}
	}

	log.Printf("[Schema] Loaded %d tables from %s", len(schema.Tables), source)
	return schema, nil
}
