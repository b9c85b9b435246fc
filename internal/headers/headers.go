package headers

import (
	"bytes"
	"errors"
	"strings"
)

var ErrInvalidHeaderLine = errors.New("invalid header line")

// Field is a single header line. Name keeps the case it arrived with.
type Field struct {
	Name  string
	Value string
}

// Headers is an ordered list of header fields. Lookups are case-insensitive,
// duplicates are kept in arrival order.
type Headers struct {
	fields []Field
}

func NewHeaders() *Headers {
	return &Headers{}
}

// Get returns the first value for a header
func (h *Headers) Get(key string) (string, bool) {
	for _, f := range h.fields {
		if strings.EqualFold(f.Name, key) {
			return f.Value, true
		}
	}
	return "", false
}

// GetAll returns all values for a header
func (h *Headers) GetAll(key string) []string {
	var values []string
	for _, f := range h.fields {
		if strings.EqualFold(f.Name, key) {
			values = append(values, f.Value)
		}
	}
	return values
}

// Fields returns a copy of the fields in insertion order.
func (h *Headers) Fields() []Field {
	out := make([]Field, len(h.fields))
	copy(out, h.fields)
	return out
}

func (h *Headers) Len() int {
	return len(h.fields)
}

// Set replaces all values for a header. The replacement takes the position
// of the first existing value, or goes to the end.
func (h *Headers) Set(key, value string) {
	idx := -1
	kept := h.fields[:0]
	for _, f := range h.fields {
		if strings.EqualFold(f.Name, key) {
			if idx == -1 {
				idx = len(kept)
				kept = append(kept, Field{Name: key, Value: value})
			}
			continue
		}
		kept = append(kept, f)
	}
	h.fields = kept
	if idx == -1 {
		h.fields = append(h.fields, Field{Name: key, Value: value})
	}
}

// Add appends a value to a header
func (h *Headers) Add(key, value string) {
	h.fields = append(h.fields, Field{Name: key, Value: value})
}

// Del removes a header
func (h *Headers) Del(key string) {
	kept := h.fields[:0]
	for _, f := range h.fields {
		if !strings.EqualFold(f.Name, key) {
			kept = append(kept, f)
		}
	}
	h.fields = kept
}

// Clone returns an independent copy.
func (h *Headers) Clone() *Headers {
	return &Headers{fields: h.Fields()}
}

// Parse consumes complete header lines from data. Lines may end in CRLF or a
// bare LF. It returns the number of bytes consumed and whether the blank line
// ending the block was seen. Lines without a colon are skipped.
func (h *Headers) Parse(data []byte) (int, bool, error) {
	read := 0

	for {
		idx := bytes.IndexByte(data[read:], '\n')
		if idx == -1 {
			// Need more data
			return read, false, nil
		}

		line := bytes.TrimSuffix(data[read:read+idx], []byte("\r"))
		read += idx + 1

		if len(line) == 0 {
			return read, true, nil
		}

		if err := h.AddLine(line); err != nil {
			return read, false, err
		}
	}
}

// AddLine parses one header line without its terminator and appends it.
func (h *Headers) AddLine(line []byte) error {
	if bytes.IndexByte(line, 0) != -1 {
		return ErrInvalidHeaderLine
	}
	name, value, ok := SplitLine(line)
	if !ok {
		return nil
	}
	h.Add(name, value)
	return nil
}

// SplitLine splits "Key: Value" on the first colon and trims both sides.
func SplitLine(line []byte) (string, string, bool) {
	colonIdx := bytes.IndexByte(line, ':')
	if colonIdx == -1 {
		return "", "", false
	}

	name := strings.TrimSpace(string(line[:colonIdx]))
	value := strings.TrimSpace(string(line[colonIdx+1:]))
	if name == "" {
		return "", "", false
	}
	return name, value, true
}
