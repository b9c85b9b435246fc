package request

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

// Size limits
const (
	maxHeaderSize = 64 << 10 // 64KB request line + headers
	maxBodySize   = 10 << 20 // 10MB body
)

var (
	ErrHeaderTooLarge  = errors.New("headers too large")
	ErrPayloadTooLarge = errors.New("payload too large")
	ErrEmptyRequest    = errors.New("connection closed before request")
	ErrTimeout         = errors.New("timed out reading request")
	ErrReadFailed      = errors.New("read error")
)

// parserState represents the current state of the request parser
type parserState int

const (
	stateRequestLine parserState = iota
	stateHeaders
	stateBody
	stateDone
)

// parser handles incremental parsing of HTTP requests
type parser struct {
	state  parserState
	buffer []byte // Accumulates data between reads
	limits Limits

	headerBytes    int
	totalBytesRead int64
	contentLength  int64 // -1 when the request has no Content-Length
	eof            bool
}

func newParser(limits Limits) *parser {
	return &parser{
		state:         stateRequestLine,
		buffer:        make([]byte, 0, 4096),
		limits:        limits,
		contentLength: -1,
	}
}

// parseFromReader reads until the request is complete, the input ends, or a
// limit is exceeded.
func (p *parser) parseFromReader(reader io.Reader, req *Request) error {
	readBuf := getBuffer()
	defer putBuffer(readBuf)

	for {
		// Parse what we have before reading more
		for p.state != stateDone && len(p.buffer) > 0 {
			consumed, err := p.parse(p.buffer, req)
			if err != nil {
				return err
			}
			if consumed == 0 {
				break
			}
			p.buffer = p.buffer[consumed:]
		}

		if p.state == stateDone {
			return p.finishUnframedBody(req)
		}

		if p.state != stateBody && p.headerBytes+len(p.buffer) > p.limits.MaxHeaderBytes {
			return ErrHeaderTooLarge
		}

		if p.eof {
			return p.finishAtEOF(req)
		}

		n, err := reader.Read(readBuf)
		if n > 0 {
			p.buffer = append(p.buffer, readBuf[:n]...)
			p.totalBytesRead += int64(n)
		}

		if err != nil {
			if errors.Is(err, io.EOF) {
				p.eof = true
				continue
			}
			if errors.Is(err, os.ErrDeadlineExceeded) {
				return fmt.Errorf("%w: %v", ErrTimeout, err)
			}
			return fmt.Errorf("%w: %w", ErrReadFailed, err)
		}
	}
}

// parse processes buffered data and advances the state machine
// Returns number of bytes consumed
func (p *parser) parse(data []byte, req *Request) (int, error) {
	switch p.state {
	case stateRequestLine:
		return p.parseRequestLine(data, req)

	case stateHeaders:
		return p.parseHeaders(data, req)

	case stateBody:
		return p.parseFixedBody(data, req)

	case stateDone:
		return 0, nil

	default:
		return 0, fmt.Errorf("invalid parser state: %d", p.state)
	}
}

func (p *parser) parseRequestLine(data []byte, req *Request) (int, error) {
	line, consumed, ok := nextLine(data)
	if !ok {
		// Need more data
		return 0, nil
	}

	if err := p.setRequestLine(line, req); err != nil {
		return 0, err
	}

	p.headerBytes += consumed
	p.state = stateHeaders
	return consumed, nil
}

func (p *parser) setRequestLine(line []byte, req *Request) error {
	method, target, version, err := parseRequestLine(line)
	if err != nil {
		return err
	}

	req.Method = method
	req.Target = target
	req.Version = version
	req.RawPath, req.Path, req.Query = splitTarget(target)
	return nil
}

// parseHeaders parses HTTP headers until empty line
func (p *parser) parseHeaders(data []byte, req *Request) (int, error) {
	consumed, done, err := req.Headers.Parse(data)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrMalformedRequest, err)
	}
	p.headerBytes += consumed

	if !done {
		// Headers not complete yet, need more data
		return consumed, nil
	}

	if err := p.endOfHeaders(req); err != nil {
		return 0, err
	}
	return consumed, nil
}

// endOfHeaders decides whether a body follows.
func (p *parser) endOfHeaders(req *Request) error {
	if p.headerBytes > p.limits.MaxHeaderBytes {
		return ErrHeaderTooLarge
	}

	if cl, ok := req.Headers.Get("Content-Length"); ok {
		n, err := strconv.ParseInt(strings.TrimSpace(cl), 10, 64)
		if err != nil || n < 0 {
			return fmt.Errorf("%w: invalid Content-Length %q", ErrMalformedRequest, cl)
		}
		if n > p.limits.MaxBodyBytes {
			return ErrPayloadTooLarge
		}
		p.contentLength = n
	}

	if p.contentLength > 0 {
		req.Body = make([]byte, 0, p.contentLength)
		p.state = stateBody
		return nil
	}

	p.state = stateDone
	return nil
}

// parseFixedBody reads body with known Content-Length
func (p *parser) parseFixedBody(data []byte, req *Request) (int, error) {
	remaining := int(p.contentLength) - len(req.Body)
	toRead := min(remaining, len(data))

	req.Body = append(req.Body, data[:toRead]...)

	if int64(len(req.Body)) == p.contentLength {
		p.state = stateDone
	}

	return toRead, nil
}

// finishUnframedBody keeps whatever arrived after the header block as the
// body of a request that declared no Content-Length.
func (p *parser) finishUnframedBody(req *Request) error {
	if p.contentLength >= 0 || len(p.buffer) == 0 {
		return nil
	}
	if int64(len(p.buffer)) > p.limits.MaxBodyBytes {
		return ErrPayloadTooLarge
	}
	req.Body = append([]byte(nil), p.buffer...)
	return nil
}

// finishAtEOF handles input that ended before the parser reached stateDone.
func (p *parser) finishAtEOF(req *Request) error {
	switch p.state {
	case stateRequestLine:
		if p.totalBytesRead == 0 {
			return ErrEmptyRequest
		}
		if err := p.setRequestLine(trimCR(p.buffer), req); err != nil {
			return err
		}
		p.buffer = nil

	case stateHeaders:
		if len(p.buffer) > 0 {
			if err := req.Headers.AddLine(trimCR(p.buffer)); err != nil {
				return fmt.Errorf("%w: %v", ErrMalformedRequest, err)
			}
			p.buffer = nil
		}
		if err := p.endOfHeaders(req); err != nil {
			return err
		}
		if p.state == stateBody {
			return fmt.Errorf("%w: unexpected EOF in body", ErrMalformedRequest)
		}

	case stateBody:
		return fmt.Errorf("%w: unexpected EOF in body (%d of %d bytes)",
			ErrMalformedRequest, len(req.Body), p.contentLength)
	}

	p.state = stateDone
	return nil
}

func trimCR(b []byte) []byte {
	if n := len(b); n > 0 && b[n-1] == '\r' {
		return b[:n-1]
	}
	return b
}
