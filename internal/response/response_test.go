package response

import (
	"bytes"
	"crypto/sha256"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Brownie44l1/cgiserve/internal/headers"
)

func TestWriterStatusLine(t *testing.T) {
	cases := map[StatusCode]string{
		StatusOK:                  "HTTP/1.0 200 OK\r\n",
		StatusBadRequest:          "HTTP/1.0 400 Bad Request\r\n",
		StatusForbidden:           "HTTP/1.0 403 Forbidden\r\n",
		StatusNotFound:            "HTTP/1.0 404 Not Found\r\n",
		StatusMethodNotAllowed:    "HTTP/1.0 405 Method Not Allowed\r\n",
		StatusInternalServerError: "HTTP/1.0 500 Internal Server Error\r\n",
	}

	for code, want := range cases {
		buf := &bytes.Buffer{}
		w := NewWriter(buf)
		require.NoError(t, w.WriteResponse(New(code, nil, nil)))
		assert.True(t, bytes.HasPrefix(buf.Bytes(), []byte(want)), "got %q", buf.String())
		assert.Equal(t, code, w.StatusCode())
	}
}

func TestWriterHeadersInOrder(t *testing.T) {
	h := headers.NewHeaders()
	h.Add("Content-Type", "text/plain")
	h.Add("X-B", "2")
	h.Add("X-A", "1")
	h.Add("X-B", "3")

	buf := &bytes.Buffer{}
	w := NewWriter(buf)
	require.NoError(t, w.WriteResponse(New(StatusOK, h, []byte("hi"))))

	want := "HTTP/1.0 200 OK\r\n" +
		"Content-Type: text/plain\r\n" +
		"X-B: 2\r\n" +
		"X-A: 1\r\n" +
		"X-B: 3\r\n" +
		"Content-Length: 2\r\n" +
		"Connection: close\r\n" +
		"\r\n" +
		"hi"
	assert.Equal(t, want, buf.String())
	assert.Equal(t, int64(len(want)), w.BytesWritten())
}

func TestWriterReplacesConnectionHeader(t *testing.T) {
	h := headers.NewHeaders()
	h.Add("Connection", "keep-alive")

	buf := &bytes.Buffer{}
	require.NoError(t, NewWriter(buf).WriteResponse(New(StatusOK, h, nil)))
	assert.NotContains(t, buf.String(), "keep-alive")
	assert.Contains(t, buf.String(), "Connection: close\r\n")
}

func TestWriterHead(t *testing.T) {
	buf := &bytes.Buffer{}
	require.NoError(t, NewWriter(buf).WriteHead(Text(StatusOK, "body text")))

	assert.Contains(t, buf.String(), "Content-Length: 9\r\n")
	assert.True(t, bytes.HasSuffix(buf.Bytes(), []byte("\r\n\r\n")))
	assert.NotContains(t, buf.String(), "body text")
}

func TestWriterSingleUse(t *testing.T) {
	w := NewWriter(&bytes.Buffer{})
	require.NoError(t, w.WriteResponse(Text(StatusOK, "a")))
	assert.Error(t, w.WriteResponse(Text(StatusOK, "b")))
}

func TestWriterTracksErrors(t *testing.T) {
	w := NewWriter(failingWriter{})
	err := w.WriteResponse(Text(StatusOK, "a"))
	require.Error(t, err)
	assert.True(t, w.HadError())
}

func TestRoundTripBinaryBody(t *testing.T) {
	body := make([]byte, 70000)
	for i := range body {
		body[i] = byte(i * 7)
	}
	body[10] = '\r'
	body[11] = '\n'
	body[12] = '\r'
	body[13] = '\n'
	body[14] = 0

	h := headers.NewHeaders()
	h.Add("Content-Type", "application/octet-stream")
	h.Add("X-Trace", "abc")
	orig := New(StatusOK, h, body)

	buf := &bytes.Buffer{}
	require.NoError(t, NewWriter(buf).WriteResponse(orig))

	got, err := ReadResponse(buf)
	require.NoError(t, err)

	assert.Equal(t, orig.StatusCode(), got.StatusCode())
	assert.Equal(t, orig.StatusText(), got.StatusText())
	assert.Equal(t, sha256.Sum256(body), sha256.Sum256(got.Body()))

	wantFields := append(orig.Headers().Fields(), headers.Field{Name: "Connection", Value: "close"})
	assert.Equal(t, wantFields, got.Headers().Fields())
}

func TestNewAddsContentLength(t *testing.T) {
	r := New(StatusOK, nil, []byte("abc"))
	cl, ok := r.Header("content-length")
	assert.True(t, ok)
	assert.Equal(t, "3", cl)

	r = New(StatusNotModified, nil, nil)
	_, ok = r.Header("Content-Length")
	assert.False(t, ok)
}

func TestResponseIsImmutable(t *testing.T) {
	h := headers.NewHeaders()
	h.Add("X-A", "1")
	r := New(StatusOK, h, nil)

	h.Set("X-A", "changed")
	r.Headers().Set("X-A", "changed too")

	v, _ := r.Header("X-A")
	assert.Equal(t, "1", v)
}

func TestErrorPage(t *testing.T) {
	r := Error(StatusNotFound)
	assert.Equal(t, StatusNotFound, r.StatusCode())
	assert.Equal(t, "<html><h1>404 Not Found</h1></html>", string(r.Body()))
	ct, _ := r.Header("Content-Type")
	assert.Equal(t, "text/html; charset=utf-8", ct)

	r = MethodNotAllowed("GET, HEAD")
	allow, _ := r.Header("Allow")
	assert.Equal(t, "GET, HEAD", allow)
}

func TestStatusClasses(t *testing.T) {
	assert.True(t, StatusNotFound.IsClientError())
	assert.True(t, StatusInternalServerError.IsServerError())
	assert.False(t, StatusOK.IsError())
	assert.Equal(t, "Unknown Status", StatusText(299))
}

func TestReadResponseRejectsGarbage(t *testing.T) {
	_, err := ReadResponse(bytes.NewBufferString("nonsense\r\n\r\n"))
	assert.ErrorIs(t, err, ErrMalformedResponse)

	_, err = ReadResponse(bytes.NewBufferString("HTTP/1.0 200 OK\r\nContent-Length: 10\r\n\r\nshort"))
	assert.ErrorIs(t, err, ErrMalformedResponse)
}

type failingWriter struct{}

func (failingWriter) Write(p []byte) (int, error) {
	return 0, errors.New("broken pipe")
}
