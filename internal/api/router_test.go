package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ternarybob/lumen/pkg/config"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	return NewServer(config.Default(), nil)
}

func TestHealthAndVersion(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/version", nil)
	rec = httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	var v VersionResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
	assert.Equal(t, "lumen-service", v.Service)
}

func TestCompileAndRunOverHTTP(t *testing.T) {
	s := newTestServer(t)
	src := "cell main() -> Int\n  return 41 + 1\nend\n"

	body, _ := json.Marshal(CompileRequest{Path: "main.lm", Source: src, Register: true})
	req := httptest.NewRequest(http.MethodPost, "/v1/compile", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var compiled CompileResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &compiled))
	require.NotEmpty(t, compiled.ProgramID)

	runBody, _ := json.Marshal(RunRequest{ProgramID: compiled.ProgramID, Cell: "main"})
	req = httptest.NewRequest(http.MethodPost, "/v1/run", bytes.NewReader(runBody))
	rec = httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var ran RunResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &ran))
	assert.Contains(t, ran.Result, "42")
}

func TestCompileErrorSurfacesDiagnostics(t *testing.T) {
	s := newTestServer(t)
	body, _ := json.Marshal(CompileRequest{Path: "broken.lm", Source: "cell broken() -> Int\n  return undeclared\nend\n"})
	req := httptest.NewRequest(http.MethodPost, "/v1/compile", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestRunUnknownProgramIDReturnsNotFound(t *testing.T) {
	s := newTestServer(t)
	body, _ := json.Marshal(RunRequest{ProgramID: "does-not-exist", Cell: "main"})
	req := httptest.NewRequest(http.MethodPost, "/v1/run", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
