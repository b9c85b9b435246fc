package response

import (
	"fmt"

	"golang.org/x/net/html"

	"github.com/Brownie44l1/cgiserve/internal/headers"
)

// HTML builds an HTML response
func HTML(code StatusCode, body string) *Response {
	return Bytes(code, "text/html; charset=utf-8", []byte(body))
}

// Text builds a plain text response
func Text(code StatusCode, body string) *Response {
	return Bytes(code, "text/plain; charset=utf-8", []byte(body))
}

// Bytes builds a response with arbitrary byte content. Content-Length is
// always set, including for an empty body.
func Bytes(code StatusCode, contentType string, data []byte) *Response {
	h := headers.NewHeaders()
	if contentType != "" {
		h.Set("Content-Type", contentType)
	}
	h.Set("Content-Length", fmt.Sprintf("%d", len(data)))
	return New(code, h, data)
}

// Error builds the standard minimal HTML error page for code.
func Error(code StatusCode) *Response {
	text := html.EscapeString(StatusText(code))
	return HTML(code, fmt.Sprintf("<html><h1>%d %s</h1></html>", code, text))
}

// MethodNotAllowed builds a 405 listing the allowed methods.
func MethodNotAllowed(allow string) *Response {
	base := Error(StatusMethodNotAllowed)
	h := base.Headers()
	h.Set("Allow", allow)
	return New(StatusMethodNotAllowed, h, base.Body())
}

// NotModified builds a 304 carrying the validator headers of the original.
func NotModified(etag string) *Response {
	h := headers.NewHeaders()
	h.Set("ETag", etag)
	return New(StatusNotModified, h, nil)
}
