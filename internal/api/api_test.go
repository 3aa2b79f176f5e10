package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"crudkit/internal/config"
	"crudkit/internal/instrument"
	"crudkit/internal/scrub"
	"crudkit/internal/spec"
	"crudkit/internal/store/storetest"
)

const apiSpec = `
entity:
  name: user
  table: users
  primary_key: { field: id, generated: true }
  fields:
    - { name: id, type: bigint }
    - { name: email, type: string, required: true, unique: true }
    - { name: password, type: string, hashed: true }
    - { name: role_id, type: bigint, nullable: true }
  attributes: { table: user_attributes }
  filters:
    email_like:
      type: value
      where: users.email LIKE ?
      values: ["%:value%"]
  sorters:
    email: {}
  relations:
    role: { type: belongs_to, target: role, source_key: role_id }
  contexts:
    public: user_public
    admin: user_admin
contexts:
  user_public:
    blacklist: [password]
    delegates: { role: role_public }
    allowed_with: { index: [role], show: [role] }
  user_admin:
    allow: header["X-Role"] == "admin"
---
entity:
  name: role
  table: roles
  primary_key: { field: id, generated: true }
  fields:
    - { name: id, type: bigint }
    - { name: name, type: string, required: true }
contexts:
  role_public:
    blacklist: [id]
`

func testHandler(t *testing.T) (*Handler, *spec.Registry) {
	t.Helper()
	entities, contexts, err := spec.Parse([]byte(apiSpec))
	require.NoError(t, err)
	reg, err := spec.NewRegistry(entities, contexts)
	require.NoError(t, err)
	set, err := scrub.Build(reg)
	require.NoError(t, err)

	s := storetest.Migrated(t, reg)
	return NewHandler(s, reg, set, config.QueryConfig{
		DefaultCount:   2,
		MaxCount:       3,
		DefaultPage:    1,
		DefaultContext: "public",
	}), reg
}

func testApp(t *testing.T) (*fiber.App, *instrument.Metrics) {
	t.Helper()
	h, reg := testHandler(t)
	metrics := instrument.NewMetrics()
	return NewApp(h, Options{
		Logger:  zerolog.Nop(),
		Metrics: metrics,
		Admin:   NewAdminHandler(reg),
	}), metrics
}

type response struct {
	status int
	body   map[string]any
	raw    string
}

func doRequest(t *testing.T, app *fiber.App, method, path string, body any, headers ...string) response {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}

	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	out := response{status: resp.StatusCode, raw: string(raw)}
	if len(raw) > 0 && raw[0] == '{' {
		require.NoError(t, json.Unmarshal(raw, &out.body))
	}
	return out
}

func data(t *testing.T, r response) map[string]any {
	t.Helper()
	d, ok := r.body["data"].(map[string]any)
	require.True(t, ok, "data is not an object: %s", r.raw)
	return d
}

func list(t *testing.T, r response) []any {
	t.Helper()
	d, ok := r.body["data"].([]any)
	require.True(t, ok, "data is not a list: %s", r.raw)
	return d
}

func indexPath(params url.Values) string {
	return "/api/user?" + params.Encode()
}

func seedUsers(t *testing.T, app *fiber.App, emails ...string) {
	t.Helper()
	for _, email := range emails {
		r := doRequest(t, app, http.MethodPost, "/api/user", map[string]any{"email": email, "password": "pw"})
		require.Equal(t, http.StatusCreated, r.status, r.raw)
	}
}

func TestStoreScrubsAndReturnsCreated(t *testing.T) {
	app, _ := testApp(t)

	r := doRequest(t, app, http.MethodPost, "/api/user", map[string]any{
		"email":      "a@x.io",
		"password":   "secret",
		"attributes": map[string]any{"team": "core"},
	})
	require.Equal(t, http.StatusCreated, r.status, r.raw)

	row := data(t, r)
	assert.Equal(t, "a@x.io", row["email"])
	assert.NotContains(t, row, "password")
	assert.Equal(t, map[string]any{"team": "core"}, row["attributes"])
}

func TestIndexPaginationEnvelope(t *testing.T) {
	app, _ := testApp(t)
	seedUsers(t, app, "a@x.io", "b@x.io", "c@x.io")

	r := doRequest(t, app, http.MethodGet, indexPath(url.Values{
		"count":   {"2"},
		"page":    {"2"},
		"sorting": {`{"email":"desc"}`},
	}), nil)
	require.Equal(t, http.StatusOK, r.status, r.raw)

	rows := list(t, r)
	require.Len(t, rows, 1)
	assert.Equal(t, "a@x.io", rows[0].(map[string]any)["email"])
	assert.Equal(t, map[string]any{
		"total":        3.0,
		"per_page":     2.0,
		"current_page": 2.0,
		"last_page":    2.0,
	}, r.body["meta"])
}

func TestIndexCountIsCappedAtMax(t *testing.T) {
	app, _ := testApp(t)
	seedUsers(t, app, "a@x.io", "b@x.io", "c@x.io", "d@x.io")

	r := doRequest(t, app, http.MethodGet, indexPath(url.Values{"count": {"50"}}), nil)
	require.Equal(t, http.StatusOK, r.status, r.raw)
	assert.Len(t, list(t, r), 3)
	assert.Equal(t, 3.0, r.body["meta"].(map[string]any)["per_page"])
}

func TestIndexAllSkipsPagination(t *testing.T) {
	app, _ := testApp(t)
	seedUsers(t, app, "a@x.io", "b@x.io", "c@x.io")

	r := doRequest(t, app, http.MethodGet, "/api/user?all&count=2", nil)
	require.Equal(t, http.StatusOK, r.status, r.raw)
	assert.Len(t, list(t, r), 2)
	assert.NotContains(t, r.body, "meta")
}

func TestIndexFilters(t *testing.T) {
	app, _ := testApp(t)
	seedUsers(t, app, "ann@x.io", "bob@y.io")

	r := doRequest(t, app, http.MethodGet, indexPath(url.Values{"filter": {`{"email_like":"@y."}`}}), nil)
	require.Equal(t, http.StatusOK, r.status, r.raw)
	rows := list(t, r)
	require.Len(t, rows, 1)
	assert.Equal(t, "bob@y.io", rows[0].(map[string]any)["email"])

	r = doRequest(t, app, http.MethodGet, indexPath(url.Values{"filter": {`{"email_like":`}}), nil)
	assert.Equal(t, http.StatusBadRequest, r.status)

	r = doRequest(t, app, http.MethodGet, indexPath(url.Values{"sorting": {`["email"]`}}), nil)
	assert.Equal(t, http.StatusBadRequest, r.status)
}

func TestContextSelection(t *testing.T) {
	app, _ := testApp(t)
	seedUsers(t, app, "a@x.io")

	r := doRequest(t, app, http.MethodGet, "/api/user/1?context=admin", nil, "X-Role", "admin")
	require.Equal(t, http.StatusOK, r.status, r.raw)
	assert.Contains(t, data(t, r), "password")

	r = doRequest(t, app, http.MethodGet, "/api/user/1?context=admin", nil)
	require.Equal(t, http.StatusOK, r.status, r.raw)
	assert.NotContains(t, data(t, r), "password")

	r = doRequest(t, app, http.MethodGet, "/api/user/1?context=nope", nil)
	require.Equal(t, http.StatusOK, r.status, r.raw)
	assert.NotContains(t, data(t, r), "password")
}

func TestShowDelegatesNestedRelation(t *testing.T) {
	app, _ := testApp(t)

	r := doRequest(t, app, http.MethodPost, "/api/role", map[string]any{"name": "admin"})
	require.Equal(t, http.StatusCreated, r.status, r.raw)
	roleID := data(t, r)["id"]

	r = doRequest(t, app, http.MethodPost, "/api/user", map[string]any{"email": "a@x.io", "role_id": roleID})
	require.Equal(t, http.StatusCreated, r.status, r.raw)

	r = doRequest(t, app, http.MethodGet, "/api/user/1?with=role,secrets", nil)
	require.Equal(t, http.StatusOK, r.status, r.raw)
	assert.Equal(t, map[string]any{"name": "admin"}, data(t, r)["role"])
	assert.NotContains(t, data(t, r), "secrets")
}

func TestUpdateAndDestroy(t *testing.T) {
	app, _ := testApp(t)
	seedUsers(t, app, "a@x.io")

	r := doRequest(t, app, http.MethodPatch, "/api/user/1", map[string]any{"email": "z@x.io"})
	require.Equal(t, http.StatusOK, r.status, r.raw)
	assert.Equal(t, "z@x.io", data(t, r)["email"])

	r = doRequest(t, app, http.MethodDelete, "/api/user/1", nil)
	assert.Equal(t, http.StatusNoContent, r.status)

	r = doRequest(t, app, http.MethodGet, "/api/user/1", nil)
	assert.Equal(t, http.StatusNotFound, r.status)
	assert.Equal(t, "NOT_FOUND", r.body["error"].(map[string]any)["code"])

	r = doRequest(t, app, http.MethodDelete, "/api/user/1", nil)
	assert.Equal(t, http.StatusNotFound, r.status)
}

func TestWriteErrors(t *testing.T) {
	app, _ := testApp(t)
	seedUsers(t, app, "a@x.io")

	r := doRequest(t, app, http.MethodPost, "/api/user", map[string]any{"password": "x"})
	assert.Equal(t, http.StatusUnprocessableEntity, r.status)
	details := r.body["error"].(map[string]any)["details"].([]any)
	assert.Equal(t, "email", details[0].(map[string]any)["field"])

	r = doRequest(t, app, http.MethodPost, "/api/user", map[string]any{"email": "a@x.io"})
	assert.Equal(t, http.StatusConflict, r.status)

	r = doRequest(t, app, http.MethodPost, "/api/user", map[string]any{"email": "b@x.io", "attributes": 5})
	assert.Equal(t, http.StatusUnprocessableEntity, r.status)

	r = doRequest(t, app, http.MethodGet, "/api/ghost", nil)
	assert.Equal(t, http.StatusNotFound, r.status)
	assert.Equal(t, "UNKNOWN_ENTITY", r.body["error"].(map[string]any)["code"])
}

func TestHealthAndMetrics(t *testing.T) {
	app, _ := testApp(t)

	r := doRequest(t, app, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, r.status)

	seedUsers(t, app, "a@x.io")
	r = doRequest(t, app, http.MethodGet, "/api/user", nil)
	require.Equal(t, http.StatusOK, r.status)

	r = doRequest(t, app, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, r.status)
	assert.Contains(t, r.raw, `crudkit_http_request_duration_seconds_count{method="GET",route="/api/:entity",status="200"} 1`)
	assert.Contains(t, r.raw, `crudkit_count_queries_total{entity="user",strategy="direct"} 1`)
}

func TestRequestIDIsEchoed(t *testing.T) {
	app, _ := testApp(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set(fiber.HeaderXRequestID, "req-1")
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, "req-1", resp.Header.Get(fiber.HeaderXRequestID))

	resp, err = app.Test(httptest.NewRequest(http.MethodGet, "/health", nil), -1)
	require.NoError(t, err)
	assert.NotEmpty(t, resp.Header.Get(fiber.HeaderXRequestID))
}

func TestRequestsAreTraced(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	var logs bytes.Buffer
	h, _ := testHandler(t)
	app := NewApp(h, Options{
		Logger: zerolog.New(&logs),
		Tracer: instrument.NewTracer(tp),
	})

	seedUsers(t, app, "a@x.io")
	r := doRequest(t, app, http.MethodGet, "/api/user", nil)
	require.Equal(t, http.StatusOK, r.status, r.raw)

	names := map[string]int{}
	var request sdktrace.ReadOnlySpan
	for _, span := range recorder.Ended() {
		names[span.Name()]++
		if span.Name() == "http.request" {
			request = span
		}
	}
	assert.Equal(t, 2, names["http.request"])
	assert.Equal(t, 1, names["service.create"])
	assert.GreaterOrEqual(t, names["query.get"], 1)
	require.NotNil(t, request)
	assert.Contains(t, logs.String(), `"trace_id":"`+request.SpanContext().TraceID().String()+`"`)
}

func TestAdminIntrospection(t *testing.T) {
	app, _ := testApp(t)

	r := doRequest(t, app, http.MethodGet, "/api/_admin/entities", nil)
	require.Equal(t, http.StatusOK, r.status, r.raw)
	assert.Len(t, list(t, r), 2)

	r = doRequest(t, app, http.MethodGet, "/api/_admin/entities/user", nil)
	require.Equal(t, http.StatusOK, r.status, r.raw)
	user := data(t, r)
	assert.Equal(t, "users", user["table"])
	assert.Equal(t, map[string]any{"email_like": "value"}, user["filters"])
	assert.Equal(t, []any{"email"}, user["sorters"])

	r = doRequest(t, app, http.MethodGet, "/api/_admin/entities/ghost", nil)
	assert.Equal(t, http.StatusNotFound, r.status)

	r = doRequest(t, app, http.MethodGet, "/api/_admin/contexts", nil)
	require.Equal(t, http.StatusOK, r.status, r.raw)
	assert.Len(t, list(t, r), 3)
}
