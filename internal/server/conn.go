package server

import (
	"context"
	"errors"
	"io"
	"net"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/Brownie44l1/cgiserve/internal/dispatch"
	"github.com/Brownie44l1/cgiserve/internal/logger"
	"github.com/Brownie44l1/cgiserve/internal/request"
	"github.com/Brownie44l1/cgiserve/internal/response"
)

// ConnState is the lifecycle stage of a connection.
type ConnState int

const (
	StateAwaitingRequest ConnState = iota
	StateParsing
	StateDispatching
	StateResponding
	StateClosed
)

var connStateNames = map[ConnState]string{
	StateAwaitingRequest: "awaiting-request",
	StateParsing:         "parsing",
	StateDispatching:     "dispatching",
	StateResponding:      "responding",
	StateClosed:          "closed",
}

func (s ConnState) String() string {
	if name, ok := connStateNames[s]; ok {
		return name
	}
	return "unknown"
}

const (
	lingerTimeout = 500 * time.Millisecond
	lingerMax     = 256 << 10
)

// conn serves exactly one request, then closes.
type conn struct {
	srv    *Server
	rwc    net.Conn
	remote string
	state  ConnState
	start  time.Time
}

func newConn(srv *Server, rwc net.Conn) *conn {
	return &conn{
		srv:    srv,
		rwc:    rwc,
		remote: rwc.RemoteAddr().String(),
		state:  StateAwaitingRequest,
		start:  time.Now(),
	}
}

func (c *conn) setState(next ConnState) {
	c.srv.logger.Debug("connection state",
		logger.F("client_ip", c.remote),
		logger.F("from", c.state.String()),
		logger.F("to", next.String()))
	c.state = next
}

func (c *conn) serve(ctx context.Context) {
	defer c.close()

	c.rwc.SetReadDeadline(time.Now().Add(c.srv.opts.ReadTimeout))
	c.setState(StateParsing)

	req, err := request.RequestFromReader(c.rwc, c.srv.opts.Limits)
	if err != nil {
		c.handleParseError(err)
		return
	}

	c.setState(StateDispatching)
	resp := c.srv.handler.Serve(withRemoteAddr(ctx, c.remote), req)

	c.respond(req.Method, resp)
}

// handleParseError answers requests that could not be parsed. A connection
// that sent nothing, or whose transport failed, is closed without a reply.
func (c *conn) handleParseError(err error) {
	switch {
	case errors.Is(err, request.ErrEmptyRequest):
		c.srv.logger.Debug("connection closed before request", logger.F("client_ip", c.remote))
		return
	case errors.Is(err, request.ErrReadFailed):
		c.srv.logger.Warn("read failed", logger.F("client_ip", c.remote), logger.F("error", err))
		return
	case errors.Is(err, request.ErrTimeout):
		c.srv.metrics.ReadTimeouts.Add(1)
	}

	c.srv.metrics.RejectedRequests.Add(1)
	resp := dispatch.ErrorResponse(err)
	c.srv.logger.Info("request rejected",
		logger.F("client_ip", c.remote),
		logger.F("status", int(resp.StatusCode())),
		logger.F("error", err))
	c.respond("", resp)
}

func (c *conn) respond(method string, resp *response.Response) {
	c.setState(StateResponding)
	c.rwc.SetWriteDeadline(time.Now().Add(c.srv.opts.WriteTimeout))

	w := response.NewWriter(c.rwc)
	var err error
	if method == "HEAD" {
		err = w.WriteHead(resp)
	} else {
		err = w.WriteResponse(resp)
	}
	if err != nil {
		c.srv.logger.Warn("write failed",
			logger.F("client_ip", c.remote),
			logger.F("error", err),
			logger.F("written", humanize.Bytes(uint64(w.BytesWritten()))))
	}
}

// close half-closes the connection and discards whatever the client is
// still sending, so that unread input does not turn the close into a reset
// that destroys the response.
func (c *conn) close() {
	if tcp, ok := c.rwc.(*net.TCPConn); ok && c.state == StateResponding {
		tcp.CloseWrite()
		c.rwc.SetReadDeadline(time.Now().Add(lingerTimeout))
		io.Copy(io.Discard, io.LimitReader(c.rwc, lingerMax))
	}
	c.rwc.Close()
	c.setState(StateClosed)
	c.srv.logger.Debug("connection closed",
		logger.F("client_ip", c.remote),
		logger.F("duration_ms", time.Since(c.start).Milliseconds()))
}
