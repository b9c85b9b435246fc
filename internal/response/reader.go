package response

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/Brownie44l1/cgiserve/internal/headers"
)

var ErrMalformedResponse = errors.New("malformed response")

// ReadResponse parses a response as produced by Writer. The body is read
// according to Content-Length, or to end of input when it is absent.
func ReadResponse(r io.Reader) (*Response, error) {
	br := bufio.NewReader(r)

	line, err := br.ReadString('\n')
	if err != nil {
		return nil, fmt.Errorf("%w: status line: %v", ErrMalformedResponse, err)
	}
	line = strings.TrimRight(line, "\r\n")

	proto, rest, ok := strings.Cut(line, " ")
	if !ok || !strings.HasPrefix(proto, "HTTP/") {
		return nil, fmt.Errorf("%w: status line %q", ErrMalformedResponse, line)
	}
	codeStr, text, _ := strings.Cut(rest, " ")
	code, err := strconv.Atoi(codeStr)
	if err != nil {
		return nil, fmt.Errorf("%w: status code %q", ErrMalformedResponse, codeStr)
	}

	h := headers.NewHeaders()
	for {
		line, err := br.ReadString('\n')
		if err != nil {
			return nil, fmt.Errorf("%w: headers: %v", ErrMalformedResponse, err)
		}
		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			break
		}
		if err := h.AddLine([]byte(line)); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
		}
	}

	var body []byte
	if cl, ok := h.Get("Content-Length"); ok {
		n, err := strconv.Atoi(cl)
		if err != nil || n < 0 {
			return nil, fmt.Errorf("%w: Content-Length %q", ErrMalformedResponse, cl)
		}
		body = make([]byte, n)
		if _, err := io.ReadFull(br, body); err != nil {
			return nil, fmt.Errorf("%w: body: %v", ErrMalformedResponse, err)
		}
	} else {
		body, err = io.ReadAll(br)
		if err != nil {
			return nil, err
		}
	}

	resp := New(StatusCode(code), h, body)
	resp.statusText = text
	return resp, nil
}
