package query

import (
	"testing"

	"github.com/stretchr/testify/require"

	"crudkit/internal/spec"
	"crudkit/internal/store"
	"crudkit/internal/store/storetest"
)

const fixtureSpec = `
entity:
  name: user
  table: users
  primary_key: { field: id, generated: true }
  fields:
    - { name: id, type: bigint }
    - { name: email, type: string, unique: true }
    - { name: name, type: string }
    - { name: role_id, type: bigint, nullable: true }
    - { name: active, type: boolean }
  attributes:
    table: user_attributes
  joins:
    roles: { table: roles, first: users.role_id, second: roles.id, type: left }
    permissions: { table: permissions, first: permissions.role_id, second: roles.id, prereq: [roles] }
    posts: { table: posts, first: posts.user_id, second: users.id, type: left }
    roles_inner: { table: roles, first: users.role_id, second: roles.id }
  groups:
    by_user: users.id
  filters:
    ids: { type: array, where: "users.id IN (:array)" }
    email_like: { type: value, where: "users.email LIKE ?", values: ["%:value%"] }
    id_between: { type: object, where: "users.id BETWEEN ? AND ?" }
    active: { type: constant, where: "users.active = TRUE" }
    can: { type: array, where: "permissions.name IN (:array)", joins: [permissions] }
    role_name: { type: value, where: "roles.name = ?", values: [":value"], joins: [roles] }
    post_title: { type: value, where: "posts.title LIKE ?", values: ["%:value%"], joins: [posts] }
    min_posts:
      type: value
      having: "count(posts.id) >= CAST(? AS INTEGER)"
      values: [":value"]
      joins: [posts]
      groups: [by_user]
      selects: [post_count]
  selects:
    post_count: { type: constant, select: "count(posts.id) AS post_count", joins: [posts], groups: [by_user] }
    greeting: { type: object, select: "? || users.name AS greeting", values: [prefix] }
  sorters:
    email: {}
    role: { sort_by: roles.name, joins: [roles] }
    posts: { sort_by: post_count, selects: [post_count] }
    role_strict: { sort_by: roles.name, joins: [roles_inner] }
    permission: { sort_by: permissions.name, joins: [permissions] }
  relations:
    role: { type: belongs_to, target: role, source_key: role_id }
    posts: { type: has_many, target: post, target_key: user_id }
---
entity:
  name: role
  table: roles
  primary_key: { field: id, generated: true }
  fields:
    - { name: id, type: bigint }
    - { name: name, type: string }
---
entity:
  name: permission
  table: permissions
  primary_key: { field: id, generated: true }
  fields:
    - { name: id, type: bigint }
    - { name: role_id, type: bigint }
    - { name: name, type: string }
---
entity:
  name: post
  table: posts
  primary_key: { field: id, generated: true }
  fields:
    - { name: id, type: bigint }
    - { name: user_id, type: bigint }
    - { name: title, type: string }
`

func fixtureRegistry(t *testing.T) (*spec.Registry, *spec.Entity) {
	t.Helper()
	entities, contexts, err := spec.Parse([]byte(fixtureSpec))
	require.NoError(t, err)
	reg, err := spec.NewRegistry(entities, contexts)
	require.NoError(t, err)
	user, ok := reg.Entity("user")
	require.True(t, ok)
	return reg, user
}

// fixtureStore returns a migrated SQLite store holding five users:
//
//	id email              role    active posts
//	1  alice@example.com  admin   yes    3
//	2  bob@example.com    editor  yes    1
//	3  carol@example.com  editor  no     2
//	4  dave@example.com   -       yes    0
//	5  erin@example.com   admin   no     0
func fixtureStore(t *testing.T, reg *spec.Registry) *store.Store {
	t.Helper()
	s := storetest.Migrated(t, reg)
	stmts := []string{
		`INSERT INTO roles (name) VALUES ('admin'), ('editor')`,
		`INSERT INTO permissions (role_id, name) VALUES (1, 'edit'), (1, 'delete'), (2, 'edit')`,
		`INSERT INTO users (email, name, role_id, active) VALUES
			('alice@example.com', 'alice', 1, 1),
			('bob@example.com', 'bob', 2, 1),
			('carol@example.com', 'carol', 2, 0),
			('dave@example.com', 'dave', NULL, 1),
			('erin@example.com', 'erin', 1, 0)`,
		`INSERT INTO posts (user_id, title) VALUES (1, 'a'), (1, 'b'), (1, 'c'), (2, 'd'), (3, 'e'), (3, 'f')`,
		`INSERT INTO attributes (name) VALUES ('color')`,
		`INSERT INTO user_attributes (user_id, attribute_id, value) VALUES (1, 1, 'red')`,
	}
	for _, stmt := range stmts {
		_, err := s.DB.Exec(stmt)
		require.NoError(t, err)
	}
	return s
}

func ids(rows []map[string]any) []int64 {
	out := make([]int64, 0, len(rows))
	for _, row := range rows {
		id, _ := store.ToInt64(row["id"])
		out = append(out, id)
	}
	return out
}
