package bridge

import (
	"context"
	"fmt"
)

// worker runs the isolated message loop. It reads envelopes from in,
// processes them strictly one at a time through the handler and writes a
// response for every message, acks for fire-and-forget sends included.
type worker struct {
	handler Handler
	in      chan Envelope
	out     chan Response
}

// run consumes the inbox until it is closed or the handler panics. A panic
// is converted into a final fatal response so the client can reject all
// outstanding work instead of leaving dangling waiters.
func (w *worker) run(ctx context.Context) {
	defer close(w.out)
	for env := range w.in {
		res, crashed := w.handle(ctx, env)
		select {
		case w.out <- res:
		case <-ctx.Done():
			return
		}
		if crashed {
			return
		}
	}
}

func (w *worker) handle(ctx context.Context, env Envelope) (res Response, crashed bool) {
	defer func() {
		if r := recover(); r != nil {
			res = Response{ID: env.ID, Type: env.Type, Err: fmt.Sprintf("panic: %v", r), Fatal: true}
			crashed = true
		}
	}()

	payload, err := w.handler.Handle(ctx, env)
	if err != nil {
		return Response{ID: env.ID, Type: env.Type, Err: err.Error()}, false
	}
	return Response{ID: env.ID, Type: env.Type, Payload: payload}, false
}
