package response

import (
	"strconv"

	"github.com/Brownie44l1/cgiserve/internal/headers"
)

// Response is a complete HTTP response. It is built once by New and never
// modified afterwards; the Writer serializes it.
type Response struct {
	statusCode StatusCode
	statusText string
	headers    *headers.Headers
	body       []byte
}

// New builds a response. h is copied. If body is non-empty and h carries no
// Content-Length, one is added.
func New(code StatusCode, h *headers.Headers, body []byte) *Response {
	var hh *headers.Headers
	if h == nil {
		hh = headers.NewHeaders()
	} else {
		hh = h.Clone()
	}
	if _, ok := hh.Get("Content-Length"); !ok && len(body) > 0 {
		hh.Add("Content-Length", strconv.Itoa(len(body)))
	}

	return &Response{
		statusCode: code,
		statusText: StatusText(code),
		headers:    hh,
		body:       body,
	}
}

func (r *Response) StatusCode() StatusCode {
	return r.statusCode
}

func (r *Response) StatusText() string {
	return r.statusText
}

// Headers returns a copy of the response headers.
func (r *Response) Headers() *headers.Headers {
	return r.headers.Clone()
}

// Header returns the first value of the named header.
func (r *Response) Header(key string) (string, bool) {
	return r.headers.Get(key)
}

func (r *Response) Body() []byte {
	return r.body
}
