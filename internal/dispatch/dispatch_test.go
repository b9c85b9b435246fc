package dispatch

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Brownie44l1/cgiserve/internal/cgi"
	"github.com/Brownie44l1/cgiserve/internal/request"
	"github.com/Brownie44l1/cgiserve/internal/resolve"
	"github.com/Brownie44l1/cgiserve/internal/response"
	"github.com/Brownie44l1/cgiserve/internal/static"
)

type stubRunner struct {
	stdout []byte
	err    error
	last   *cgi.Invocation
}

func (s *stubRunner) Run(ctx context.Context, inv *cgi.Invocation, timeout time.Duration) (*cgi.Result, error) {
	s.last = inv
	if s.err != nil {
		return nil, s.err
	}
	return &cgi.Result{Stdout: s.stdout}, nil
}

func newDispatcher(t *testing.T, runner cgi.ProcessRunner) *Dispatcher {
	t.Helper()
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "scripts"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "index.html"), []byte("<html>home</html>"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "scripts", "echo"), []byte("#!/bin/sh\ncat\n"), 0o755))
	require.NoError(t, os.Symlink("scripts", filepath.Join(root, "alias")))

	r, err := resolve.New(root)
	require.NoError(t, err)
	s, err := static.NewServer(static.Options{})
	require.NoError(t, err)
	b, err := cgi.NewBridge(cgi.Config{ScriptsDir: filepath.Join(r.Root(), "scripts"), Runner: runner})
	require.NoError(t, err)

	return New(r, s, b, nil)
}

func do(t *testing.T, d *Dispatcher, raw string) *response.Response {
	t.Helper()
	req, err := request.RequestFromReader(strings.NewReader(raw), request.DefaultLimits())
	require.NoError(t, err)
	return d.Serve(context.Background(), req)
}

func TestServeStaticFile(t *testing.T) {
	d := newDispatcher(t, &stubRunner{})

	resp := do(t, d, "GET /index.html HTTP/1.1\r\n\r\n")
	assert.Equal(t, response.StatusOK, resp.StatusCode())
	assert.Equal(t, "<html>home</html>", string(resp.Body()))
	ct, _ := resp.Header("Content-Type")
	assert.Equal(t, "text/html; charset=utf-8", ct)

	head := do(t, d, "HEAD /index.html HTTP/1.0\r\n\r\n")
	assert.Equal(t, response.StatusOK, head.StatusCode())
}

func TestServeScenarios(t *testing.T) {
	d := newDispatcher(t, &stubRunner{stdout: []byte("Content-Type: text/plain\n\nhello")})

	tests := []struct {
		raw  string
		want response.StatusCode
	}{
		{"GET /../etc/passwd HTTP/1.1\r\n\r\n", response.StatusForbidden},
		{"GET /%2e%2e/%2e%2e/etc/passwd HTTP/1.1\r\n\r\n", response.StatusForbidden},
		{"GET /nosuch HTTP/1.1\r\n\r\n", response.StatusNotFound},
		{"DELETE /index.html HTTP/1.1\r\n\r\n", response.StatusMethodNotAllowed},
		{"POST /index.html HTTP/1.1\r\n\r\n", response.StatusMethodNotAllowed},
		{"PUT /scripts/echo HTTP/1.1\r\n\r\n", response.StatusMethodNotAllowed},
		{"GET /scripts/nosuch HTTP/1.1\r\n\r\n", response.StatusNotFound},
		{"POST /scripts/echo HTTP/1.1\r\nContent-Length: 5\r\n\r\nhello", response.StatusOK},
	}
	for _, tt := range tests {
		resp := do(t, d, tt.raw)
		assert.Equal(t, tt.want, resp.StatusCode(), tt.raw)
	}
}

func TestMethodNotAllowedAllowHeader(t *testing.T) {
	d := newDispatcher(t, &stubRunner{})

	resp := do(t, d, "DELETE /index.html HTTP/1.1\r\n\r\n")
	allow, _ := resp.Header("Allow")
	assert.Equal(t, "GET, HEAD", allow)

	resp = do(t, d, "DELETE /scripts/echo HTTP/1.1\r\n\r\n")
	allow, _ = resp.Header("Allow")
	assert.Equal(t, "GET, POST", allow)
}

func TestScriptReachedThroughAliasStillRuns(t *testing.T) {
	runner := &stubRunner{stdout: []byte("ran")}
	d := newDispatcher(t, runner)

	resp := do(t, d, "GET /alias/echo HTTP/1.1\r\n\r\n")
	assert.Equal(t, response.StatusOK, resp.StatusCode())
	assert.Equal(t, "ran", string(resp.Body()))
	require.NotNil(t, runner.last)
	assert.Equal(t, "/alias/echo", runner.last.Env[cgi.EnvPath])
}

func TestScriptFailuresAreGeneric(t *testing.T) {
	for _, err := range []error{
		fmt.Errorf("%w: echo exited 2", cgi.ErrScriptFailed),
		cgi.ErrTimeout,
		cgi.ErrSpawnFailed,
	} {
		d := newDispatcher(t, &stubRunner{err: err})
		resp := do(t, d, "GET /scripts/echo HTTP/1.1\r\n\r\n")
		assert.Equal(t, response.StatusInternalServerError, resp.StatusCode())
		assert.Equal(t, "<html><h1>500 Internal Server Error</h1></html>", string(resp.Body()))
	}
}

func TestConditionalGet(t *testing.T) {
	d := newDispatcher(t, &stubRunner{})

	first := do(t, d, "GET /index.html HTTP/1.1\r\n\r\n")
	etag, ok := first.Header("ETag")
	require.True(t, ok)

	resp := do(t, d, "GET /index.html HTTP/1.1\r\nIf-None-Match: "+etag+"\r\n\r\n")
	assert.Equal(t, response.StatusNotModified, resp.StatusCode())
	assert.Empty(t, resp.Body())

	resp = do(t, d, "GET /index.html HTTP/1.1\r\nIf-None-Match: \"other\", W/"+etag+"\r\n\r\n")
	assert.Equal(t, response.StatusNotModified, resp.StatusCode())

	resp = do(t, d, "GET /index.html HTTP/1.1\r\nIf-None-Match: \"other\"\r\n\r\n")
	assert.Equal(t, response.StatusOK, resp.StatusCode())
}

func TestIsScriptPath(t *testing.T) {
	assert.True(t, IsScriptPath("/scripts"))
	assert.True(t, IsScriptPath("/scripts/"))
	assert.True(t, IsScriptPath("/scripts/a/b"))
	assert.True(t, IsScriptPath("/./scripts/a"))
	assert.False(t, IsScriptPath("/scriptsx"))
	assert.False(t, IsScriptPath("/scripts/../index.html"))
	assert.False(t, IsScriptPath("/"))
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want response.StatusCode
	}{
		{nil, response.StatusOK},
		{request.ErrMalformedRequest, response.StatusBadRequest},
		{fmt.Errorf("%w: bad line", request.ErrMalformedRequest), response.StatusBadRequest},
		{request.ErrHeaderTooLarge, response.StatusRequestHeaderFieldsTooLarge},
		{request.ErrPayloadTooLarge, response.StatusRequestEntityTooLarge},
		{request.ErrUnsupportedVersion, response.StatusHTTPVersionNotSupported},
		{request.ErrTimeout, response.StatusRequestTimeout},
		{resolve.ErrForbidden, response.StatusForbidden},
		{resolve.ErrNotFound, response.StatusNotFound},
		{ErrMethodNotAllowed, response.StatusMethodNotAllowed},
		{cgi.ErrMethodNotAllowed, response.StatusMethodNotAllowed},
		{cgi.ErrScriptFailed, response.StatusInternalServerError},
		{cgi.ErrTimeout, response.StatusInternalServerError},
		{errors.New("boom"), response.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, StatusFor(tt.err), fmt.Sprint(tt.err))
	}
}
