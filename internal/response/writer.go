package response

import (
	"bytes"
	"fmt"
	"io"
	"strings"
)

// writerState tracks what's been written so far
type writerState int

const (
	stateStart writerState = iota
	stateHeadersWritten
	stateBodyWritten
)

// Writer writes HTTP/1.0 responses to an io.Writer. One Writer serves one
// connection and therefore exactly one response.
type Writer struct {
	w          io.Writer
	state      writerState
	statusCode StatusCode
	written    int64
	hadError   bool
}

// NewWriter creates a new response writer
func NewWriter(w io.Writer) *Writer {
	return &Writer{
		w:     w,
		state: stateStart,
	}
}

// WriteResponse writes status line, headers, Connection: close, and body.
func (w *Writer) WriteResponse(r *Response) error {
	if err := w.writeHead(r); err != nil {
		return err
	}
	return w.writeBody(r.body)
}

// WriteHead writes everything except the body, as for a HEAD request.
func (w *Writer) WriteHead(r *Response) error {
	if err := w.writeHead(r); err != nil {
		return err
	}
	w.state = stateBodyWritten
	return nil
}

func (w *Writer) writeHead(r *Response) error {
	if w.state != stateStart {
		return fmt.Errorf("response already written")
	}

	var head bytes.Buffer
	fmt.Fprintf(&head, "HTTP/1.0 %d %s\r\n", r.statusCode, r.statusText)
	for _, f := range r.headers.Fields() {
		if strings.EqualFold(f.Name, "Connection") {
			continue
		}
		fmt.Fprintf(&head, "%s: %s\r\n", f.Name, f.Value)
	}
	head.WriteString("Connection: close\r\n\r\n")

	n, err := w.w.Write(head.Bytes())
	w.written += int64(n)
	if err != nil {
		w.hadError = true
		return err
	}

	w.statusCode = r.statusCode
	w.state = stateHeadersWritten
	return nil
}

func (w *Writer) writeBody(data []byte) error {
	if w.state != stateHeadersWritten {
		return fmt.Errorf("must write headers before body")
	}

	if len(data) > 0 {
		n, err := w.w.Write(data)
		w.written += int64(n)
		if err != nil {
			w.hadError = true
			return err
		}
	}

	w.state = stateBodyWritten
	return nil
}

func (w *Writer) HadError() bool {
	return w.hadError
}

func (w *Writer) StatusCode() StatusCode {
	return w.statusCode
}

// BytesWritten counts everything sent, head included.
func (w *Writer) BytesWritten() int64 {
	return w.written
}
