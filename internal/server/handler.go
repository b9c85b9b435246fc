package server

import (
	"context"

	"github.com/Brownie44l1/cgiserve/internal/request"
	"github.com/Brownie44l1/cgiserve/internal/response"
)

// Handler produces exactly one response per parsed request.
type Handler interface {
	Serve(ctx context.Context, req *request.Request) *response.Response
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, req *request.Request) *response.Response

func (f HandlerFunc) Serve(ctx context.Context, req *request.Request) *response.Response {
	return f(ctx, req)
}

// Middleware wraps a Handler.
type Middleware func(Handler) Handler

// Chain applies middlewares so that the first one listed runs outermost.
func Chain(h Handler, middlewares ...Middleware) Handler {
	for i := len(middlewares) - 1; i >= 0; i-- {
		h = middlewares[i](h)
	}
	return h
}
