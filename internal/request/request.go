package request

import (
	"io"
	"net/url"
	"strconv"
	"strings"

	"github.com/Brownie44l1/cgiserve/internal/headers"
)

// QueryParam is one key/value pair from the query string. Keys may repeat.
type QueryParam struct {
	Key   string
	Value string
}

// Request is a parsed HTTP request. It is not modified after parsing.
type Request struct {
	Method  string
	Target  string // request-target exactly as received
	RawPath string // Target without the query, still percent-encoded
	Path    string // RawPath percent-decoded; always begins with "/"
	Version string
	Query   []QueryParam
	Headers *headers.Headers
	Body    []byte
}

// Limits bounds how much of a request the parser will buffer.
type Limits struct {
	MaxHeaderBytes int
	MaxBodyBytes   int64
}

func DefaultLimits() Limits {
	return Limits{
		MaxHeaderBytes: maxHeaderSize,
		MaxBodyBytes:   maxBodySize,
	}
}

// RequestFromReader reads from reader until a full request has been seen.
func RequestFromReader(reader io.Reader, limits Limits) (*Request, error) {
	if limits.MaxHeaderBytes <= 0 {
		limits.MaxHeaderBytes = maxHeaderSize
	}
	if limits.MaxBodyBytes <= 0 {
		limits.MaxBodyBytes = maxBodySize
	}

	req := &Request{Headers: headers.NewHeaders()}
	p := newParser(limits)
	if err := p.parseFromReader(reader, req); err != nil {
		return nil, err
	}
	return req, nil
}

// ContentLength returns the declared body length, or -1 when absent.
func (r *Request) ContentLength() int64 {
	cl, ok := r.Headers.Get("Content-Length")
	if !ok {
		return -1
	}
	n, err := strconv.ParseInt(strings.TrimSpace(cl), 10, 64)
	if err != nil || n < 0 {
		return -1
	}
	return n
}

// QueryValue returns the first value for key.
func (r *Request) QueryValue(key string) (string, bool) {
	for _, q := range r.Query {
		if q.Key == key {
			return q.Value, true
		}
	}
	return "", false
}

func (r *Request) IsHTTP10() bool {
	return r.Version == "HTTP/1.0"
}

// splitTarget separates the path from the query and decodes both.
func splitTarget(target string) (rawPath, path string, query []QueryParam) {
	rawPath = target
	rawQuery := ""
	if idx := strings.IndexByte(target, '?'); idx != -1 {
		rawPath = target[:idx]
		rawQuery = target[idx+1:]
	}
	return rawPath, DecodePath(rawPath), parseQuery(rawQuery)
}

// DecodePath percent-decodes p. Malformed escapes leave p untouched.
func DecodePath(p string) string {
	decoded, err := url.PathUnescape(p)
	if err != nil {
		return p
	}
	return decoded
}

func parseQuery(raw string) []QueryParam {
	if raw == "" {
		return nil
	}

	var params []QueryParam
	for _, pair := range strings.Split(raw, "&") {
		if pair == "" {
			continue
		}
		key, value, _ := strings.Cut(pair, "=")
		params = append(params, QueryParam{
			Key:   unescapeQuery(key),
			Value: unescapeQuery(value),
		})
	}
	return params
}

func unescapeQuery(s string) string {
	v, err := url.QueryUnescape(s)
	if err != nil {
		return s
	}
	return v
}
