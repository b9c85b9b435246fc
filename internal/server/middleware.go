package server

import (
	"context"
	"runtime/debug"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/Brownie44l1/cgiserve/internal/logger"
	"github.com/Brownie44l1/cgiserve/internal/request"
	"github.com/Brownie44l1/cgiserve/internal/response"
)

// LoggingMiddleware logs every handled request
func LoggingMiddleware(log logger.Logger) Middleware {
	return func(next Handler) Handler {
		return HandlerFunc(func(ctx context.Context, req *request.Request) *response.Response {
			start := time.Now()

			resp := next.Serve(ctx, req)

			// Request headers are not logged; they may carry credentials.
			log.Info("request handled",
				logger.F("method", req.Method),
				logger.F("path", req.RawPath),
				logger.F("status", int(resp.StatusCode())),
				logger.F("duration_ms", time.Since(start).Milliseconds()),
				logger.F("size", humanize.Bytes(uint64(len(resp.Body())))),
				logger.F("client_ip", RemoteAddr(ctx)),
			)
			return resp
		})
	}
}

// RecoveryMiddleware turns a handler panic into a 500 response
func RecoveryMiddleware(log logger.Logger) Middleware {
	return func(next Handler) Handler {
		return HandlerFunc(func(ctx context.Context, req *request.Request) (resp *response.Response) {
			defer func() {
				if err := recover(); err != nil {
					log.Error("panic recovered",
						logger.F("error", err),
						logger.F("stack", string(debug.Stack())),
						logger.F("path", req.RawPath),
					)
					resp = response.Error(response.StatusInternalServerError)
				}
			}()

			return next.Serve(ctx, req)
		})
	}
}

// MetricsMiddleware records request metrics
func MetricsMiddleware(metrics *Metrics) Middleware {
	return func(next Handler) Handler {
		return HandlerFunc(func(ctx context.Context, req *request.Request) *response.Response {
			start := time.Now()

			resp := next.Serve(ctx, req)

			metrics.RecordRequest(int(resp.StatusCode()), time.Since(start))
			return resp
		})
	}
}

type remoteAddrKey struct{}

// RemoteAddr returns the client address stored on ctx by the connection.
func RemoteAddr(ctx context.Context) string {
	addr, _ := ctx.Value(remoteAddrKey{}).(string)
	return addr
}

func withRemoteAddr(ctx context.Context, addr string) context.Context {
	return context.WithValue(ctx, remoteAddrKey{}, addr)
}
