package spec

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// document is one YAML document of a spec file. A file may carry several
// documents separated by "---".
type document struct {
	Entity   *Entity             `yaml:"entity"`
	Contexts map[string]*Context `yaml:"contexts"`
}

// LoadDir reads every *.yaml and *.yml file in dir and builds a validated registry.
func LoadDir(dir string) (*Registry, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read spec dir: %w", err)
	}

	var files []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(entry.Name()))
		if ext == ".yaml" || ext == ".yml" {
			files = append(files, filepath.Join(dir, entry.Name()))
		}
	}
	sort.Strings(files)

	var entities []*Entity
	var contexts []*Context
	for _, path := range files {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}
		es, cs, err := Parse(data)
		if err != nil {
			return nil, fmt.Errorf("parse %s: %w", filepath.Base(path), err)
		}
		entities = append(entities, es...)
		contexts = append(contexts, cs...)
	}

	return NewRegistry(entities, contexts)
}

// Parse decodes the entity and context declarations in data.
func Parse(data []byte) ([]*Entity, []*Context, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var entities []*Entity
	var contexts []*Context
	for {
		var doc document
		err := dec.Decode(&doc)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, nil, err
		}
		if doc.Entity != nil {
			entities = append(entities, doc.Entity)
		}
		for _, name := range sortedKeys(doc.Contexts) {
			c := doc.Contexts[name]
			if c == nil {
				c = &Context{}
			}
			c.Name = name
			contexts = append(contexts, c)
		}
	}
	return entities, contexts, nil
}
