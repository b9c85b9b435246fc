package request

import (
	"bytes"
	"errors"
	"strings"

	"golang.org/x/net/http/httpguts"
)

var (
	ErrMalformedRequest   = errors.New("malformed request")
	ErrUnsupportedVersion = errors.New("unsupported HTTP version")
)

// parseRequestLine parses: METHOD TARGET VERSION
// Returns: method, target, version, error
func parseRequestLine(line []byte) (string, string, string, error) {
	parts := strings.Fields(string(line))
	if len(parts) != 3 {
		return "", "", "", ErrMalformedRequest
	}

	method, target, version := parts[0], parts[1], parts[2]

	if !isValidMethod(method) {
		return "", "", "", ErrMalformedRequest
	}

	if !strings.HasPrefix(target, "/") {
		return "", "", "", ErrMalformedRequest
	}

	if !isValidVersion(version) {
		if !strings.HasPrefix(version, "HTTP/") {
			return "", "", "", ErrMalformedRequest
		}
		return "", "", "", ErrUnsupportedVersion
	}

	return method, target, version, nil
}

// isValidMethod checks the method is an HTTP token. Which verbs are served
// is decided by the dispatcher.
func isValidMethod(method string) bool {
	return httpguts.ValidHeaderFieldName(method)
}

// isValidVersion checks if HTTP version is supported
func isValidVersion(version string) bool {
	return version == "HTTP/1.0" || version == "HTTP/1.1"
}

// nextLine returns the first line of data without its terminator, and the
// number of bytes including the terminator. ok is false if no LF was found.
func nextLine(data []byte) (line []byte, n int, ok bool) {
	idx := bytes.IndexByte(data, '\n')
	if idx == -1 {
		return nil, 0, false
	}
	return bytes.TrimSuffix(data[:idx], []byte("\r")), idx + 1, true
}
