package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/koustreak/pgextract/internal/database/dbtest"
	"github.com/koustreak/pgextract/internal/errs"
)

func newTestServer(db *dbtest.DB) *httptest.Server {
	cfg := DefaultConfig()
	cfg.MaxBodyBytes = 256
	return httptest.NewServer(New(cfg, Deps{DB: db, Database: "shop"}).Handler())
}

func post(t *testing.T, srv *httptest.Server, path, body string) (*http.Response, map[string]any) {
	t.Helper()
	resp, err := http.Post(srv.URL+path, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()

	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return resp, out
}

func errorKind(body map[string]any) string {
	e, _ := body["error"].(map[string]any)
	kind, _ := e["kind"].(string)
	return kind
}

func TestHealthz(t *testing.T) {
	db := dbtest.New()
	srv := newTestServer(db)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	db.PingErr = errors.New("connection refused")
	resp, err = http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestViewLineage(t *testing.T) {
	srv := newTestServer(dbtest.New())
	defer srv.Close()

	resp, body := post(t, srv, "/v1/views/lineage", `{"sql":"SELECT u.id, count(*) AS n FROM sales.users u GROUP BY u.id"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	refs := body["references"].([]any)
	require.Len(t, refs, 2)
	first := refs[0].(map[string]any)
	assert.Equal(t, "id", first["view_column"])
	assert.Equal(t, map[string]any{"schema": "sales", "table": "users", "column": "id"}, first["source"])
	assert.NotContains(t, refs[1].(map[string]any), "source")
}

func TestViewLineage_Errors(t *testing.T) {
	srv := newTestServer(dbtest.New())
	defer srv.Close()

	tests := []struct {
		name   string
		body   string
		status int
		kind   string
	}{
		{"parse error", `{"sql":"DELETE FROM users"}`, http.StatusBadRequest, "parse"},
		{"missing sql", `{"schema":"public"}`, http.StatusBadRequest, "invalid_input"},
		{"star over a table", `{"sql":"SELECT * FROM users"}`, http.StatusBadRequest, "invalid_input"},
		{"unknown field", `{"query":"SELECT 1"}`, http.StatusBadRequest, "invalid_input"},
		{"too large", `{"sql":"SELECT ` + strings.Repeat("x, ", 200) + `y FROM t"}`, http.StatusRequestEntityTooLarge, "invalid_input"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := post(t, srv, "/v1/views/lineage", tt.body)
			assert.Equal(t, tt.status, resp.StatusCode)
			assert.Equal(t, tt.kind, errorKind(body))
		})
	}
}

func TestCanonicalize(t *testing.T) {
	db := dbtest.New().On("to_regtype", func(args []any) (*dbtest.Rows, error) {
		assert.Equal(t, []string{"integer", "nope"}, args[0])
		return dbtest.NewRows(nil,
			[]any{"integer", "pg_catalog", "int4", "b", nil, nil, nil, nil, nil},
			[]any{"nope", nil, nil, nil, nil, nil, nil, nil, nil},
		), nil
	})
	srv := newTestServer(db)
	defer srv.Close()

	resp, body := post(t, srv, "/v1/types/canonicalize", `{"types":["integer[]","nope"]}`)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	assert.Equal(t, "type_resolution", errorKind(body))
}

func TestCanonicalize_OK(t *testing.T) {
	db := dbtest.New().On("to_regtype", func([]any) (*dbtest.Rows, error) {
		return dbtest.NewRows(nil, []any{"integer", "pg_catalog", "int4", "b", nil, nil, nil, nil, nil}), nil
	})
	srv := newTestServer(db)
	defer srv.Close()

	resp, body := post(t, srv, "/v1/types/canonicalize", `{"types":["integer[]"]}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	types := body["types"].([]any)
	require.Len(t, types, 1)
	typ := types[0].(map[string]any)
	assert.Equal(t, "base", typ["kind"])
	assert.Equal(t, "pg_catalog.int4", typ["canonical_name"])
	assert.EqualValues(t, 1, typ["dimensions"])
}

func TestExtract_UnknownSchema(t *testing.T) {
	db := dbtest.New().On("<> 'information_schema'", func([]any) (*dbtest.Rows, error) {
		return dbtest.NewRows(nil, []any{"public"}), nil
	})
	srv := newTestServer(db)
	defer srv.Close()

	resp, body := post(t, srv, "/v1/extract", `{"schemas":["missing"]}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "invalid_input", errorKind(body))
}

func TestExtract_SaveWithoutExport(t *testing.T) {
	srv := newTestServer(dbtest.New())
	defer srv.Close()

	resp, body := post(t, srv, "/v1/extract", `{"save":true}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, body["error"].(map[string]any)["message"], "not configured")
}

func TestSnapshotsUnavailable(t *testing.T) {
	srv := newTestServer(dbtest.New())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/v1/snapshots/")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, http.StatusInternalServerError, statusFor(errs.ErrKindLineage))
	assert.Equal(t, http.StatusInternalServerError, statusFor(errs.ErrKindQueryFailed))
	assert.Equal(t, http.StatusGatewayTimeout, statusFor(errs.ErrKindTimeout))
	assert.Equal(t, http.StatusForbidden, statusFor(errs.ErrKindPermissionDenied))
}

func TestConfigValidate(t *testing.T) {
	assert.NoError(t, DefaultConfig().Validate())
	assert.True(t, errs.IsInvalidInput((&Config{MaxBodyBytes: 1}).Validate()))
	assert.True(t, errs.IsInvalidInput((&Config{Addr: ":1"}).Validate()))
}
