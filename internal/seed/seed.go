// Package seed loads fixed rows into entity tables from YAML files.
package seed

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"crudkit/internal/service"
	"crudkit/internal/spec"
	"crudkit/internal/store"
)

// File is one seed document: the rows to create for one entity.
type File struct {
	Entity string           `yaml:"entity"`
	Items  []map[string]any `yaml:"items"`

	path string
}

// Run creates every item through svc inside one transaction. Any failing
// item rolls the whole batch back.
func Run(ctx context.Context, svc *service.Service, items []map[string]any) error {
	name := svc.Entity().Name
	err := svc.Store().WithTx(ctx, func(tx *sql.Tx) error {
		for i, item := range items {
			if _, err := svc.CreateIn(ctx, tx, item); err != nil {
				return fmt.Errorf("seed %s item %d: %w", name, i, err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	zerolog.Ctx(ctx).Info().Str("entity", name).Int("items", len(items)).Msg("seeded")
	return nil
}

// RunFiles seeds each file in order, one transaction per file.
func RunFiles(ctx context.Context, s *store.Store, reg *spec.Registry, files []File) error {
	for _, f := range files {
		entity, ok := reg.Entity(f.Entity)
		if !ok {
			return fmt.Errorf("%s: unknown entity %q", f.path, f.Entity)
		}
		if err := Run(ctx, service.New(s, reg, entity), f.Items); err != nil {
			return fmt.Errorf("%s: %w", f.path, err)
		}
	}
	return nil
}

// LoadDir reads every *.yaml and *.yml file in dir, sorted by file name so
// seeds can be ordered with numeric prefixes. A missing dir yields nothing.
func LoadDir(dir string) ([]File, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read seed dir: %w", err)
	}

	var names []string
	for _, e := range entries {
		ext := strings.ToLower(filepath.Ext(e.Name()))
		if !e.IsDir() && (ext == ".yaml" || ext == ".yml") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	files := make([]File, 0, len(names))
	for _, name := range names {
		f, err := LoadFile(filepath.Join(dir, name))
		if err != nil {
			return nil, err
		}
		files = append(files, f)
	}
	return files, nil
}

// LoadFile parses one seed file.
func LoadFile(path string) (File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return File{}, fmt.Errorf("read seed file: %w", err)
	}
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return File{}, fmt.Errorf("parse %s: %w", path, err)
	}
	if f.Entity == "" {
		return File{}, fmt.Errorf("%s: entity is required", path)
	}
	f.path = path
	return f, nil
}
