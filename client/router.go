// Package client talks to a livefeed server. The Router sends reads and
// writes over HTTP request-response and live operations over one
// persistent websocket connection.
package client

import (
	"context"
	"fmt"

	"github.com/jizhuozhi/go-future"
	"github.com/maxpert/livefeed/errs"
	"github.com/maxpert/livefeed/wire"
)

// Route names the transport an operation travels on.
type Route int

const (
	RouteRequest Route = iota + 1
	RouteStream
)

func (r Route) String() string {
	switch r {
	case RouteRequest:
		return "request"
	case RouteStream:
		return "stream"
	default:
		return fmt.Sprintf("route(%d)", int(r))
	}
}

// RequestTransport carries one request and returns one response.
type RequestTransport interface {
	Execute(ctx context.Context, req wire.Request) (wire.Payload, error)
}

// StreamTransport starts live operations on a persistent connection.
type StreamTransport interface {
	Subscribe(ctx context.Context, req wire.Request) (*Subscription, error)
}

// Result is the outcome of a routed operation. Payload is set for request
// routes, Subscription for stream routes.
type Result struct {
	Route        Route
	Payload      wire.Payload
	Subscription *Subscription
}

// Decode unmarshals the response data into v, or returns the server's
// error.
func (r *Result) Decode(v any) error {
	return r.Payload.Decode(v)
}

// Router dispatches every operation to exactly one transport.
type Router struct {
	request RequestTransport
	stream  StreamTransport
}

// NewRouter creates a router. Either transport may be nil; operations
// routed to a missing transport fail with a transport error.
func NewRouter(request RequestTransport, stream StreamTransport) *Router {
	return &Router{request: request, stream: stream}
}

// Route classifies op by its declared kind alone.
func (r *Router) Route(op wire.Operation) (Route, error) {
	switch op.Kind {
	case wire.KindRead, wire.KindWrite:
		return RouteRequest, nil
	case wire.KindLive:
		return RouteStream, nil
	default:
		return 0, errs.New(errs.CodeBadRequest, op.Name, fmt.Errorf("unknown operation kind %s", op.Kind))
	}
}

// Do sends op on its transport and waits for the response, or for the
// subscription to be registered.
func (r *Router) Do(ctx context.Context, op wire.Operation) (*Result, error) {
	route, err := r.Route(op)
	if err != nil {
		return nil, err
	}

	switch route {
	case RouteStream:
		if r.stream == nil {
			return nil, errs.Transport(op.Name, fmt.Errorf("no stream transport configured"))
		}
		sub, err := r.stream.Subscribe(ctx, op.Request())
		if err != nil {
			return nil, err
		}
		return &Result{Route: route, Subscription: sub}, nil

	default:
		if r.request == nil {
			return nil, errs.Transport(op.Name, fmt.Errorf("no request transport configured"))
		}
		payload, err := r.request.Execute(ctx, op.Request())
		if err != nil {
			return nil, err
		}
		return &Result{Route: route, Payload: payload}, nil
	}
}

// Go is the asynchronous form of Do.
func (r *Router) Go(ctx context.Context, op wire.Operation) *future.Future[*Result] {
	p := future.NewPromise[*Result]()
	go func() {
		p.Set(r.Do(ctx, op))
	}()
	return p.Future()
}
