package service

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"crudkit/internal/eav"
	"crudkit/internal/spec"
	"crudkit/internal/store"
	"crudkit/internal/store/storetest"
)

const serviceSpec = `
entity:
  name: user
  table: users
  primary_key: { field: id, generated: true }
  fields:
    - { name: id, type: bigint }
    - { name: email, type: string, required: true, unique: true }
    - { name: password, type: string, hashed: true }
    - { name: active, type: boolean, default: true }
  attributes:
    table: user_attributes
  relations:
    tags:
      type: many_to_many
      target: tag
      join_table: user_tags
      source_join_key: user_id
      target_join_key: tag_id
---
entity:
  name: tag
  table: tags
  primary_key: { field: id, generated: true }
  fields:
    - { name: id, type: bigint }
    - { name: name, type: string, required: true }
`

func init() {
	hashCost = bcrypt.MinCost
}

func setup(t *testing.T) (users, tags *Service) {
	t.Helper()
	entities, contexts, err := spec.Parse([]byte(serviceSpec))
	require.NoError(t, err)
	reg, err := spec.NewRegistry(entities, contexts)
	require.NoError(t, err)
	s := storetest.Migrated(t, reg)

	user, _ := reg.Entity("user")
	tag, _ := reg.Entity("tag")
	return New(s, reg, user), New(s, reg, tag)
}

func count(t *testing.T, s *Service, table string) int {
	t.Helper()
	var n int
	require.NoError(t, s.Store().DB.QueryRow("SELECT count(*) FROM "+table).Scan(&n))
	return n
}

func TestCreateStoresRowAttributesAndHash(t *testing.T) {
	ctx := context.Background()
	users, _ := setup(t)

	row, err := users.Create(ctx, map[string]any{
		"email":      "ann@example.com",
		"password":   "secret",
		"unknown":    "ignored",
		"attributes": map[string]any{"color": "red", "size": 42},
	})
	require.NoError(t, err)

	assert.Equal(t, "ann@example.com", row["email"])
	assert.Equal(t, true, row["active"])
	assert.Equal(t, map[string]any{"color": "red", "size": "42"}, row["attributes"])

	hash, ok := row["password"].(string)
	require.True(t, ok)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(hash), []byte("secret")))
}

func TestCreateRejectsMissingRequiredField(t *testing.T) {
	users, _ := setup(t)

	_, err := users.Create(context.Background(), map[string]any{"password": "x"})

	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	require.Len(t, verr.Problems, 1)
	assert.Equal(t, "email", verr.Problems[0].Field)
	assert.Equal(t, 0, count(t, users, "users"))
}

func TestCreateDuplicateIsUniqueViolation(t *testing.T) {
	ctx := context.Background()
	users, _ := setup(t)

	_, err := users.Create(ctx, map[string]any{"email": "a@x.io"})
	require.NoError(t, err)
	_, err = users.Create(ctx, map[string]any{"email": "a@x.io"})
	assert.ErrorIs(t, err, store.ErrUniqueViolation)
}

func TestCreateRollsBackOnMalformedAttributes(t *testing.T) {
	users, _ := setup(t)

	_, err := users.Create(context.Background(), map[string]any{
		"email":      "a@x.io",
		"attributes": []any{"not", "a", "map"},
	})

	assert.ErrorIs(t, err, eav.ErrMalformedAttributes)
	assert.Equal(t, 0, count(t, users, "users"))
}

func TestUpdateMergesAttributes(t *testing.T) {
	ctx := context.Background()
	users, _ := setup(t)

	row, err := users.Create(ctx, map[string]any{
		"email":      "a@x.io",
		"attributes": map[string]any{"a": 1, "b": 2},
	})
	require.NoError(t, err)

	updated, err := users.Update(ctx, row["id"], map[string]any{
		"active":     false,
		"attributes": `{"b":3,"c":4}`,
	})
	require.NoError(t, err)

	assert.Equal(t, false, updated["active"])
	assert.Equal(t, "a@x.io", updated["email"])
	assert.Equal(t, map[string]any{"a": "1", "b": "3", "c": "4"}, updated["attributes"])
}

func TestUpdateRejectsNullRequiredField(t *testing.T) {
	ctx := context.Background()
	users, _ := setup(t)

	row, err := users.Create(ctx, map[string]any{"email": "a@x.io"})
	require.NoError(t, err)

	_, err = users.Update(ctx, row["id"], map[string]any{"email": nil})
	var verr *ValidationError
	assert.ErrorAs(t, err, &verr)
}

func TestMissingRowsAreNotFound(t *testing.T) {
	ctx := context.Background()
	users, _ := setup(t)

	_, err := users.Find(ctx, 99, nil)
	assert.ErrorIs(t, err, store.ErrNotFound)

	_, err = users.Find(ctx, "abc", nil)
	assert.ErrorIs(t, err, store.ErrNotFound)

	_, err = users.Update(ctx, "99", map[string]any{"email": "b@x.io"})
	assert.ErrorIs(t, err, store.ErrNotFound)

	assert.ErrorIs(t, users.Destroy(ctx, 99), store.ErrNotFound)
}

func TestManyToManyLinksAreReplaced(t *testing.T) {
	ctx := context.Background()
	users, tags := setup(t)

	red, err := tags.Create(ctx, map[string]any{"name": "red"})
	require.NoError(t, err)
	blue, err := tags.Create(ctx, map[string]any{"name": "blue"})
	require.NoError(t, err)

	row, err := users.Create(ctx, map[string]any{
		"email": "a@x.io",
		"tags":  []any{red["id"], blue["id"], red["id"]},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, count(t, users, "user_tags"))

	_, err = users.Update(ctx, row["id"], map[string]any{
		"tags": []any{map[string]any{"id": blue["id"]}},
	})
	require.NoError(t, err)

	found, err := users.Find(ctx, row["id"], []string{"tags"})
	require.NoError(t, err)
	linked, ok := found["tags"].([]map[string]any)
	require.True(t, ok)
	require.Len(t, linked, 1)
	assert.Equal(t, "blue", linked[0]["name"])
}

func TestDestroyRemovesLinksAndAttributes(t *testing.T) {
	ctx := context.Background()
	users, tags := setup(t)

	tag, err := tags.Create(ctx, map[string]any{"name": "red"})
	require.NoError(t, err)
	row, err := users.Create(ctx, map[string]any{
		"email":      "a@x.io",
		"tags":       []any{tag["id"]},
		"attributes": map[string]any{"a": "x"},
	})
	require.NoError(t, err)

	require.NoError(t, users.Destroy(ctx, row["id"]))

	assert.Equal(t, 0, count(t, users, "users"))
	assert.Equal(t, 0, count(t, users, "user_tags"))
	assert.Equal(t, 0, count(t, users, "user_attributes"))
	assert.Equal(t, 1, count(t, users, "attributes"))
	assert.ErrorIs(t, users.Destroy(ctx, row["id"]), store.ErrNotFound)
}

func TestDestroyTargetRemovesReverseLinks(t *testing.T) {
	ctx := context.Background()
	users, tags := setup(t)

	tag, err := tags.Create(ctx, map[string]any{"name": "red"})
	require.NoError(t, err)
	_, err = users.Create(ctx, map[string]any{"email": "a@x.io", "tags": []any{tag["id"]}})
	require.NoError(t, err)

	require.NoError(t, tags.Destroy(ctx, tag["id"]))
	assert.Equal(t, 0, count(t, users, "user_tags"))
}

func TestFindFirstBy(t *testing.T) {
	ctx := context.Background()
	users, _ := setup(t)

	for _, email := range []string{"a@x.io", "b@y.io", "c@x.io"} {
		_, err := users.Create(ctx, map[string]any{"email": email})
		require.NoError(t, err)
	}

	row, err := users.FindFirstBy(ctx, "email", "%@x.io", "like")
	require.NoError(t, err)
	assert.Equal(t, "a@x.io", row["email"])

	row, err = users.FindFirstBy(ctx, "email", "b@y.io", "")
	require.NoError(t, err)
	assert.Equal(t, "b@y.io", row["email"])

	_, err = users.FindFirstBy(ctx, "email", "z@z.io", "=")
	assert.ErrorIs(t, err, store.ErrNotFound)

	var verr *ValidationError
	_, err = users.FindFirstBy(ctx, "email", "x", "; DROP TABLE users")
	assert.ErrorAs(t, err, &verr)
	_, err = users.FindFirstBy(ctx, "nope", "x", "=")
	assert.ErrorAs(t, err, &verr)
}

func TestFirstOrCreate(t *testing.T) {
	ctx := context.Background()
	users, _ := setup(t)

	first, err := users.FirstOrCreate(ctx, map[string]any{"email": "a@x.io", "password": "p"})
	require.NoError(t, err)
	again, err := users.FirstOrCreate(ctx, map[string]any{"email": "a@x.io", "password": "p"})
	require.NoError(t, err)

	assert.Equal(t, first["id"], again["id"])
	assert.Equal(t, 1, count(t, users, "users"))
}

func TestCreateRollsBackWhenAttributeWriteFails(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	require.NoError(t, err)
	defer db.Close()

	entities, contexts, err := spec.Parse([]byte(serviceSpec))
	require.NoError(t, err)
	reg, err := spec.NewRegistry(entities, contexts)
	require.NoError(t, err)
	user, _ := reg.Entity("user")
	users := New(store.NewFromDB(db, &store.PostgresDialect{}), reg, user)

	mock.ExpectBegin()
	mock.ExpectQuery("INSERT INTO users (email) VALUES ($1) RETURNING id").
		WithArgs("a@x.io").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(7)))
	mock.ExpectQuery("SELECT attribute_id, value FROM user_attributes WHERE user_id = $1").
		WithArgs(int64(7)).
		WillReturnError(errors.New("connection reset"))
	mock.ExpectRollback()

	_, err = users.Create(context.Background(), map[string]any{
		"email":      "a@x.io",
		"attributes": map[string]any{"a": 1},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection reset")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLinkTargets(t *testing.T) {
	assert.Nil(t, linkTargets(nil, "id"))
	assert.Equal(t, []any{int64(3)}, linkTargets(int64(3), "id"))
	assert.Equal(t, []any{"a", "b"}, linkTargets([]string{"a", "b", "a"}, "id"))
	assert.Equal(t, []any{1.0, 2.0}, linkTargets([]any{
		map[string]any{"id": 1.0},
		map[string]any{"key": 2.0},
		map[string]any{"other": 3.0},
	}, "key"))
}
