package seed

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"crudkit/internal/service"
	"crudkit/internal/spec"
	"crudkit/internal/store"
	"crudkit/internal/store/storetest"
)

const seedSpec = `
entity:
  name: token_type
  table: token_types
  primary_key: { field: id, generated: true }
  fields:
    - { name: id, type: bigint }
    - { name: name, type: string, required: true, unique: true }
  attributes: { table: token_type_attributes }
`

func setup(t *testing.T) (*store.Store, *spec.Registry, *service.Service) {
	t.Helper()
	entities, contexts, err := spec.Parse([]byte(seedSpec))
	require.NoError(t, err)
	reg, err := spec.NewRegistry(entities, contexts)
	require.NoError(t, err)
	s := storetest.Migrated(t, reg)
	entity, _ := reg.Entity("token_type")
	return s, reg, service.New(s, reg, entity)
}

func names(t *testing.T, s *store.Store) []string {
	t.Helper()
	rows, err := store.QueryRows(context.Background(), s.DB, "SELECT name FROM token_types ORDER BY id")
	require.NoError(t, err)
	out := make([]string, 0, len(rows))
	for _, r := range rows {
		out = append(out, r["name"].(string))
	}
	return out
}

func TestRunCreatesEveryItem(t *testing.T) {
	s, _, svc := setup(t)

	err := Run(context.Background(), svc, []map[string]any{
		{"name": "Login"},
		{"name": "Reset", "attributes": map[string]any{"ttl": 3600}},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"Login", "Reset"}, names(t, s))
}

func TestRunRollsBackWholeBatch(t *testing.T) {
	s, _, svc := setup(t)

	err := Run(context.Background(), svc, []map[string]any{
		{"name": "Login", "attributes": map[string]any{"ttl": 60}},
		{"name": "Reset"},
		{"name": "Login"},
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, store.ErrUniqueViolation)
	assert.Contains(t, err.Error(), "item 2")

	assert.Empty(t, names(t, s))
	rows, err := store.QueryRows(context.Background(), s.DB, "SELECT * FROM token_type_attributes")
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestLoadDirAndRunFiles(t *testing.T) {
	s, reg, _ := setup(t)
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "02_more.yml"), []byte(`
entity: token_type
items:
  - name: Reset
`), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "01_login.yaml"), []byte(`
entity: token_type
items:
  - name: Login
    attributes:
      channel: email
`), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0o644))

	files, err := LoadDir(dir)
	require.NoError(t, err)
	require.Len(t, files, 2)

	require.NoError(t, RunFiles(context.Background(), s, reg, files))
	assert.Equal(t, []string{"Login", "Reset"}, names(t, s))
}

func TestLoadErrors(t *testing.T) {
	files, err := LoadDir(filepath.Join(t.TempDir(), "missing"))
	require.NoError(t, err)
	assert.Empty(t, files)

	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("items: []\n"), 0o644))
	_, err = LoadFile(path)
	assert.ErrorContains(t, err, "entity is required")

	s, reg, _ := setup(t)
	err = RunFiles(context.Background(), s, reg, []File{{Entity: "ghost"}})
	assert.ErrorContains(t, err, `unknown entity "ghost"`)
}

func TestShippedSpecsAndSeeds(t *testing.T) {
	ctx := context.Background()
	reg, err := spec.LoadDir("../../specs")
	require.NoError(t, err)
	s := storetest.Migrated(t, reg)

	files, err := LoadDir("../../seeds")
	require.NoError(t, err)
	require.NoError(t, RunFiles(ctx, s, reg, files))

	user, _ := reg.Entity("user")
	svc := service.New(s, reg, user)
	admin, err := svc.FindFirstBy(ctx, "email", "admin@example.com", "=")
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"timezone": "UTC"}, admin["attributes"])
	assert.Equal(t, "admin", admin["role"].(map[string]any)["name"])

	res, err := svc.Index(ctx, svc.Query().FilterBy(map[string]any{"min_posts": 2}).Paginate(10, 1))
	require.NoError(t, err)
	assert.EqualValues(t, 1, res.Total)
	require.Len(t, res.Rows, 1)
	assert.Equal(t, "editor@example.com", res.Rows[0]["email"])
}
