// Package dispatch routes parsed requests to the static file server or the
// script bridge and turns failures into error responses.
package dispatch

import (
	"context"
	"errors"
	"path"
	"strings"

	"github.com/Brownie44l1/cgiserve/internal/cgi"
	"github.com/Brownie44l1/cgiserve/internal/logger"
	"github.com/Brownie44l1/cgiserve/internal/request"
	"github.com/Brownie44l1/cgiserve/internal/resolve"
	"github.com/Brownie44l1/cgiserve/internal/response"
	"github.com/Brownie44l1/cgiserve/internal/static"
)

var ErrMethodNotAllowed = errors.New("method not allowed")

const (
	ScriptsPrefix = "/scripts"

	// StaticMethods is the Allow header value for static paths.
	StaticMethods = "GET, HEAD"
)

// Dispatcher serves one request at a time and is safe for concurrent use.
type Dispatcher struct {
	resolver *resolve.Resolver
	static   *static.Server
	bridge   *cgi.Bridge
	logger   logger.Logger
}

func New(resolver *resolve.Resolver, staticServer *static.Server, bridge *cgi.Bridge, log logger.Logger) *Dispatcher {
	if log == nil {
		log = &logger.NullLogger{}
	}
	return &Dispatcher{
		resolver: resolver,
		static:   staticServer,
		bridge:   bridge,
		logger:   log,
	}
}

// Serve always returns a response; errors become error pages.
func (d *Dispatcher) Serve(ctx context.Context, req *request.Request) *response.Response {
	resp, err := d.route(ctx, req)
	if err != nil {
		if StatusFor(err).IsServerError() {
			d.logger.Error("request failed",
				logger.F("method", req.Method),
				logger.F("path", req.RawPath),
				logger.F("error", err))
		} else {
			d.logger.Debug("request rejected",
				logger.F("method", req.Method),
				logger.F("path", req.RawPath),
				logger.F("error", err))
		}
		return ErrorResponse(err)
	}
	return resp
}

func (d *Dispatcher) route(ctx context.Context, req *request.Request) (*response.Response, error) {
	scripts := IsScriptPath(req.Path)
	if scripts && req.Method != "GET" && req.Method != "POST" {
		return nil, cgi.ErrMethodNotAllowed
	}
	if !scripts && req.Method != "GET" && req.Method != "HEAD" {
		return nil, ErrMethodNotAllowed
	}

	// The raw path is decoded exactly once, by the resolver.
	rp, err := d.resolver.Resolve(req.RawPath)
	if err != nil {
		return nil, err
	}

	// Reaching the scripts directory through another name still runs the
	// script instead of exposing its source.
	if scripts || d.bridge.Owns(rp) {
		return d.bridge.Serve(ctx, rp, req)
	}

	resp, err := d.static.Serve(rp)
	if err != nil {
		return nil, err
	}
	return conditional(req, resp), nil
}

// IsScriptPath reports whether a decoded request path addresses the scripts
// directory.
func IsScriptPath(p string) bool {
	clean := path.Clean(p)
	return clean == ScriptsPrefix || strings.HasPrefix(clean, ScriptsPrefix+"/")
}

// conditional answers If-None-Match with 304 when the ETag still matches.
func conditional(req *request.Request, resp *response.Response) *response.Response {
	etag, ok := resp.Header("ETag")
	if !ok || resp.StatusCode() != response.StatusOK {
		return resp
	}
	inm, ok := req.Headers.Get("If-None-Match")
	if !ok {
		return resp
	}
	for _, candidate := range strings.Split(inm, ",") {
		candidate = strings.TrimPrefix(strings.TrimSpace(candidate), "W/")
		if candidate == "*" || candidate == etag {
			return response.NotModified(etag)
		}
	}
	return resp
}

// StatusFor maps an error from any stage of request handling to a status.
func StatusFor(err error) response.StatusCode {
	switch {
	case err == nil:
		return response.StatusOK
	case errors.Is(err, request.ErrMalformedRequest):
		return response.StatusBadRequest
	case errors.Is(err, request.ErrHeaderTooLarge):
		return response.StatusRequestHeaderFieldsTooLarge
	case errors.Is(err, request.ErrPayloadTooLarge):
		return response.StatusRequestEntityTooLarge
	case errors.Is(err, request.ErrUnsupportedVersion):
		return response.StatusHTTPVersionNotSupported
	case errors.Is(err, request.ErrTimeout):
		return response.StatusRequestTimeout
	case errors.Is(err, resolve.ErrForbidden):
		return response.StatusForbidden
	case errors.Is(err, resolve.ErrNotFound):
		return response.StatusNotFound
	case errors.Is(err, ErrMethodNotAllowed), errors.Is(err, cgi.ErrMethodNotAllowed):
		return response.StatusMethodNotAllowed
	case errors.Is(err, cgi.ErrScriptFailed), errors.Is(err, cgi.ErrTimeout), errors.Is(err, cgi.ErrSpawnFailed):
		return response.StatusInternalServerError
	default:
		return response.StatusInternalServerError
	}
}

// ErrorResponse builds the error page for err. Script failure details never
// reach the client.
func ErrorResponse(err error) *response.Response {
	code := StatusFor(err)
	if code == response.StatusMethodNotAllowed {
		allow := StaticMethods
		if errors.Is(err, cgi.ErrMethodNotAllowed) {
			allow = cgi.AllowedMethods
		}
		return response.MethodNotAllowed(allow)
	}
	return response.Error(code)
}
