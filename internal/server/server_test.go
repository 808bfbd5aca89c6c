package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/texbuilder/internal/compile"
	"git.home.luguber.info/inful/texbuilder/internal/config"
	"git.home.luguber.info/inful/texbuilder/internal/engine"
	ferrors "git.home.luguber.info/inful/texbuilder/internal/foundation/errors"
	"git.home.luguber.info/inful/texbuilder/internal/metrics"
	"git.home.luguber.info/inful/texbuilder/internal/server/responses"
	"git.home.luguber.info/inful/texbuilder/internal/workspace"
)

// fakePDFLaTeX fails when the source contains FAIL and otherwise writes a PDF.
const fakePDFLaTeX = `#!/bin/sh
for a; do last=$a; done
job=${last%.tex}
if grep -q FAIL "$job.tex"; then
  printf '! Undefined control sequence.\nl.3 \\FAIL\n' > "$job.log"
  exit 1
fi
printf 'Output written on %s.pdf (1 page).\n' "$job" > "$job.log"
printf '%%PDF-1.5 fake' > "$job.pdf"
`

const maxSource = 1024

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	return newTestServerWithLimit(t, maxSource)
}

func newTestServerWithLimit(t *testing.T, limit int64) *httptest.Server {
	t.Helper()
	bin := t.TempDir()
	tool := filepath.Join(bin, engine.PDFLaTeX)
	require.NoError(t, os.WriteFile(tool, []byte(fakePDFLaTeX), 0o755))
	registry := engine.NewRegistry(map[string]string{engine.PDFLaTeX: tool}, engine.PDFLaTeX)

	store, err := workspace.NewStore(t.TempDir(), limit)
	require.NoError(t, err)

	cfg := config.Default()
	cfg.Compile.RerunPolicy = config.RerunSingle
	coord := compile.NewCoordinator(store, registry, compile.OptionsFromConfig(cfg))

	reg := metrics.NewRegistry()
	coord.WithRecorder(metrics.NewPrometheusRecorder(reg))

	srv := New(cfg, coord, Options{Gatherer: reg})
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts
}

func doJSON(t *testing.T, method, url string, body any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, url, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

const okSource = "\\documentclass{article}\n\\begin{document}\nHello\n\\end{document}\n"

func TestServer_DocumentLifecycle(t *testing.T) {
	ts := newTestServer(t)

	resp := doJSON(t, http.MethodPost, ts.URL+"/api/file", responses.SaveRequest{Filename: "paper.tex", Content: okSource})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	saved := decode[responses.SuccessResponse](t, resp)
	assert.True(t, saved.Success)
	assert.Equal(t, "paper.tex", saved.Filename)

	resp = doJSON(t, http.MethodGet, ts.URL+"/api/files", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, []string{"paper.tex"}, decode[responses.FileListResponse](t, resp).Files)

	resp = doJSON(t, http.MethodGet, ts.URL+"/api/file/paper", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	got := decode[responses.FileResponse](t, resp)
	assert.Equal(t, okSource, got.Content)

	resp = doJSON(t, http.MethodDelete, ts.URL+"/api/file/paper", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = doJSON(t, http.MethodGet, ts.URL+"/api/file/paper", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	errResp := decode[ferrors.HTTPErrorResponse](t, resp)
	assert.Equal(t, string(ferrors.CodeNotFound), errResp.Code)
}

func TestServer_CompileAndDownload(t *testing.T) {
	ts := newTestServer(t)
	require.Equal(t, http.StatusOK,
		doJSON(t, http.MethodPost, ts.URL+"/api/file", responses.SaveRequest{Filename: "paper", Content: okSource}).StatusCode)

	resp := doJSON(t, http.MethodPost, ts.URL+"/api/compile", responses.CompileRequest{Filename: "paper.tex"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	result := decode[responses.CompileResponse](t, resp)
	assert.True(t, result.Success)
	assert.Equal(t, "paper", result.Document)
	assert.Equal(t, engine.PDFLaTeX, result.Engine)
	assert.Equal(t, "/api/pdf/paper", result.PDF)
	require.Len(t, result.Passes, 1)
	assert.Equal(t, "compile", result.Passes[0].Kind)
	assert.NotEmpty(t, result.JobID)

	resp = doJSON(t, http.MethodGet, ts.URL+result.PDF, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/pdf", resp.Header.Get("Content-Type"))
	var body bytes.Buffer
	_, err := body.ReadFrom(resp.Body)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(body.String(), "%PDF"))
}

func TestServer_CompileFailureCarriesDiagnostics(t *testing.T) {
	ts := newTestServer(t)
	src := "\\documentclass{article}\n\\begin{document}\n\\FAIL\n\\end{document}\n"
	require.Equal(t, http.StatusOK,
		doJSON(t, http.MethodPost, ts.URL+"/api/file", responses.SaveRequest{Filename: "broken", Content: src}).StatusCode)

	resp := doJSON(t, http.MethodPost, ts.URL+"/api/compile", responses.CompileRequest{Filename: "broken"})
	require.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	errResp := decode[ferrors.HTTPErrorResponse](t, resp)
	assert.Equal(t, string(ferrors.CodePassFailed), errResp.Code)
	require.NotNil(t, errResp.Details)
	assert.Contains(t, errResp.Details, "passes")
	assert.Contains(t, errResp.Details["log"], "Undefined control sequence")
	assert.Contains(t, errResp.Details, "diagnostics")

	resp = doJSON(t, http.MethodGet, ts.URL+"/api/pdf/broken", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestServer_Rejections(t *testing.T) {
	ts := newTestServer(t)

	tests := []struct {
		name   string
		method string
		path   string
		body   any
		status int
		code   ferrors.ErrorCode
	}{
		{"invalid name", http.MethodGet, "/api/file/semi;colon", nil, http.StatusBadRequest, ferrors.CodeInvalidName},
		{"missing document", http.MethodPost, "/api/compile", responses.CompileRequest{Filename: "ghost"}, http.StatusNotFound, ferrors.CodeNotFound},
		{"oversized source", http.MethodPost, "/api/file", responses.SaveRequest{Filename: "big", Content: strings.Repeat("x", maxSource+1)}, http.StatusRequestEntityTooLarge, ferrors.CodeTooLarge},
		{"missing artifact", http.MethodGet, "/api/pdf/never", nil, http.StatusNotFound, ferrors.CodeNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := doJSON(t, tt.method, ts.URL+tt.path, tt.body)
			assert.Equal(t, tt.status, resp.StatusCode)
			assert.Equal(t, string(tt.code), decode[ferrors.HTTPErrorResponse](t, resp).Code)
		})
	}
}

func TestServer_UnknownEngine(t *testing.T) {
	ts := newTestServer(t)
	require.Equal(t, http.StatusOK,
		doJSON(t, http.MethodPost, ts.URL+"/api/file", responses.SaveRequest{Filename: "paper", Content: okSource}).StatusCode)

	resp := doJSON(t, http.MethodPost, ts.URL+"/api/compile", responses.CompileRequest{Filename: "paper", Engine: "context"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, string(ferrors.CodeUnknownEngine), decode[ferrors.HTTPErrorResponse](t, resp).Code)

	resp = doJSON(t, http.MethodPost, ts.URL+"/api/compile", responses.CompileRequest{Filename: "paper", Engine: engine.XeLaTeX})
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.Equal(t, string(ferrors.CodeEngineUnavailable), decode[ferrors.HTTPErrorResponse](t, resp).Code)
}

func TestServer_EnginesHealthAndMetrics(t *testing.T) {
	ts := newTestServer(t)

	resp := doJSON(t, http.MethodGet, ts.URL+"/api/engines", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	engines := decode[responses.EnginesResponse](t, resp)
	assert.Equal(t, engine.PDFLaTeX, engines.Default)
	available := map[string]bool{}
	for _, tool := range engines.Engines {
		available[tool.ID] = tool.Available
	}
	assert.True(t, available[engine.PDFLaTeX])
	assert.False(t, available[engine.LuaLaTeX])

	resp = doJSON(t, http.MethodGet, ts.URL+"/healthz", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	health := decode[responses.HealthResponse](t, resp)
	assert.Equal(t, "healthy", health.Status)
	assert.True(t, health.EnginesAvailable)
	assert.Empty(t, health.InFlight)

	resp = doJSON(t, http.MethodGet, ts.URL+"/metrics", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var body bytes.Buffer
	_, err := body.ReadFrom(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, body.String(), "go_goroutines")
}

func TestServer_MethodNotAllowed(t *testing.T) {
	ts := newTestServer(t)
	resp := doJSON(t, http.MethodPut, ts.URL+"/api/compile", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestServer_SaveAcceptsEscapeHeavySourceAtLimit(t *testing.T) {
	const limit = 256 * 1024
	ts := newTestServerWithLimit(t, limit)

	// Every backslash and newline doubles on the wire.
	line := strings.Repeat(`\`, 63) + "\n"
	content := strings.Repeat(line, limit/len(line))
	require.LessOrEqual(t, len(content), limit)

	resp := doJSON(t, http.MethodPost, ts.URL+"/api/file", responses.SaveRequest{Filename: "macros", Content: content})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = doJSON(t, http.MethodGet, ts.URL+"/api/file/macros", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, content, decode[responses.FileResponse](t, resp).Content)

	resp = doJSON(t, http.MethodPost, ts.URL+"/api/file", responses.SaveRequest{Filename: "macros", Content: content + "x"})
	assert.Equal(t, http.StatusRequestEntityTooLarge, resp.StatusCode)
}
