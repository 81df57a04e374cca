// Package bridge hides an isolated worker goroutine behind a small
// message-passing protocol: correlated request/response with per-request
// timeouts, and fire-and-forget sends with a concurrency cap and queued
// backpressure.
//
// The worker owns its state exclusively and processes one message at a
// time, so handlers need no locking. The client and the worker share no
// memory; everything crosses the boundary inside an Envelope.
package bridge

import "context"

// Envelope is an outbound message to the worker.
type Envelope struct {
	ID      string `json:"id"`
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

// Response is an inbound reply from the worker. Err is non-empty when the
// operation failed. Fatal marks a worker crash: the message loop has
// stopped and no further replies will arrive.
type Response struct {
	ID      string `json:"id"`
	Type    string `json:"type"`
	Payload any    `json:"payload"`
	Err     string `json:"error,omitempty"`
	Fatal   bool   `json:"-"`
}

// Handler processes messages inside the worker, strictly one at a time.
// The returned payload is echoed back to the client under the request's
// correlation id.
type Handler interface {
	Handle(ctx context.Context, env Envelope) (any, error)
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, env Envelope) (any, error)

// Handle calls f.
func (f HandlerFunc) Handle(ctx context.Context, env Envelope) (any, error) {
	return f(ctx, env)
}

// RequestAs issues a request and asserts the response payload type.
func RequestAs[T any](ctx context.Context, c *Client, typ string, payload any) (T, error) {
	var zero T
	out, err := c.Request(ctx, typ, payload)
	if err != nil {
		return zero, err
	}
	typed, ok := out.(T)
	if !ok {
		return zero, &Error{Op: typ, Err: ErrBadPayload}
	}
	return typed, nil
}
