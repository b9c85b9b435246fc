package cgi

import (
	"bytes"
	"strconv"
	"strings"

	"golang.org/x/net/http/httpguts"

	"github.com/Brownie44l1/cgiserve/internal/headers"
)

const defaultContentType = "text/plain"

// ParseOutput splits script stdout into response headers and body.
//
// Lines up to the first empty line are headers and everything after it is
// the body. Header lines without a colon, or with an invalid name or value,
// are dropped. Output with no empty line is all body. Content-Type defaults
// to text/plain and Content-Length is always recomputed from the body.
func ParseOutput(out []byte) (*headers.Headers, []byte) {
	scriptHeaders, body, ok := splitOutput(out)
	if !ok {
		scriptHeaders, body = nil, out
	}

	h := headers.NewHeaders()
	contentType := defaultContentType
	for _, f := range scriptHeaders {
		if strings.EqualFold(f.Name, "Content-Type") && f.Value != "" {
			contentType = f.Value
			break
		}
	}
	h.Add("Content-Type", contentType)
	h.Add("Content-Length", strconv.Itoa(len(body)))

	for _, f := range scriptHeaders {
		switch strings.ToLower(f.Name) {
		case "content-type", "content-length", "connection", "transfer-encoding":
			continue
		}
		h.Add(f.Name, f.Value)
	}
	return h, body
}

func splitOutput(out []byte) ([]headers.Field, []byte, bool) {
	var fields []headers.Field
	pos := 0
	for {
		idx := bytes.IndexByte(out[pos:], '\n')
		if idx == -1 {
			return nil, nil, false
		}
		line := bytes.TrimSuffix(out[pos:pos+idx], []byte("\r"))
		next := pos + idx + 1

		if len(line) == 0 {
			return fields, out[next:], true
		}

		name, value, ok := headers.SplitLine(line)
		if ok && httpguts.ValidHeaderFieldName(name) && httpguts.ValidHeaderFieldValue(value) {
			fields = append(fields, headers.Field{Name: name, Value: value})
		}
		pos = next
	}
}
