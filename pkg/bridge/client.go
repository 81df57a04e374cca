package bridge

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	// DefaultMaxConcurrent caps how many messages may be in flight before
	// fire-and-forget sends start queueing.
	DefaultMaxConcurrent = 10
	// DefaultRequestTimeout bounds how long a request waits for its reply.
	DefaultRequestTimeout = 30 * time.Second
)

// Options configures a Client. The zero value selects the defaults.
type Options struct {
	MaxConcurrent  int
	RequestTimeout time.Duration

	// OnAsyncError receives errors carried by responses that have no
	// pending request, i.e. failures of fire-and-forget sends. Without a
	// hook such errors would be invisible to the caller.
	OnAsyncError func(msgType string, err error)

	Logger *zerolog.Logger
}

type outcome struct {
	payload any
	err     error
}

type pendingReq struct {
	ch    chan outcome
	timer *time.Timer
}

// Client is the caller-side endpoint of the worker protocol. Responses are
// matched to requests solely by correlation id, never by arrival order, so
// concurrent requests cannot be cross-wired.
type Client struct {
	mu       sync.Mutex
	pending  map[string]*pendingReq
	queue    []Envelope // sends deferred by the concurrency cap, FIFO
	outbox   []Envelope // dispatched messages awaiting delivery to the worker
	inFlight int
	closed   bool
	crashed  bool

	maxConcurrent int
	timeout       time.Duration
	onAsyncError  func(string, error)
	log           zerolog.Logger

	w         *worker
	notify    chan struct{}
	done      chan struct{}
	cancel    context.CancelFunc
	closeOnce sync.Once
}

// New starts a worker goroutine around the handler and returns the client
// endpoint. The caller owns the client and must Close it to tear the
// worker down.
func New(handler Handler, opts Options) *Client {
	if opts.MaxConcurrent <= 0 {
		opts.MaxConcurrent = DefaultMaxConcurrent
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = DefaultRequestTimeout
	}
	log := zerolog.Nop()
	if opts.Logger != nil {
		log = *opts.Logger
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Client{
		pending:       make(map[string]*pendingReq),
		maxConcurrent: opts.MaxConcurrent,
		timeout:       opts.RequestTimeout,
		onAsyncError:  opts.OnAsyncError,
		log:           log,
		w: &worker{
			handler: handler,
			in:      make(chan Envelope),
			out:     make(chan Response),
		},
		notify: make(chan struct{}, 1),
		done:   make(chan struct{}),
		cancel: cancel,
	}

	go c.w.run(ctx)
	go c.pump()
	go c.receive()
	return c
}

// Request sends a message and waits for the response carrying the same
// correlation id. The wait is bounded by the client's request timeout or
// the context deadline, whichever is earlier. On timeout the pending slot
// is reclaimed and a late response only releases capacity.
func (c *Client) Request(ctx context.Context, typ string, payload any) (any, error) {
	c.mu.Lock()
	if err := c.usableLocked(); err != nil {
		c.mu.Unlock()
		return nil, wrapError(typ, err)
	}

	id := uuid.NewString()
	deadline := c.timeout
	if dl, ok := ctx.Deadline(); ok {
		if until := time.Until(dl); until < deadline {
			deadline = until
		}
	}

	p := &pendingReq{ch: make(chan outcome, 1)}
	p.timer = time.AfterFunc(deadline, func() { c.expire(id, typ) })
	c.pending[id] = p
	c.inFlight++
	c.dispatchLocked(Envelope{ID: id, Type: typ, Payload: payload})
	c.mu.Unlock()

	select {
	case out := <-p.ch:
		return out.payload, out.err
	case <-ctx.Done():
		c.abandon(id)
		return nil, wrapError(typ, ctx.Err())
	}
}

// Send dispatches a fire-and-forget message. When the in-flight count has
// reached the concurrency cap the message is queued and dispatched, in
// order, as capacity frees up. Send never blocks on the worker.
func (c *Client) Send(typ string, payload any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.usableLocked(); err != nil {
		return wrapError(typ, err)
	}

	env := Envelope{ID: uuid.NewString(), Type: typ, Payload: payload}
	if c.inFlight < c.maxConcurrent {
		c.inFlight++
		c.dispatchLocked(env)
		return nil
	}
	c.queue = append(c.queue, env)
	return nil
}

// Status reports the current in-flight count and queue length.
func (c *Client) Status() (inFlight, queued int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.inFlight, len(c.queue)
}

// Close tears down the worker and synchronously rejects all outstanding
// work with ErrClientClosed. It is idempotent.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		c.mu.Unlock()
		c.failAll(ErrClientClosed, false)
		c.cancel()
		close(c.done)
	})
	return nil
}

func (c *Client) usableLocked() error {
	if c.closed {
		return ErrClientClosed
	}
	if c.crashed {
		return ErrWorkerCrashed
	}
	return nil
}

// dispatchLocked appends to the outbox and wakes the pump. The outbox is
// unbounded so dispatch never blocks the caller; delivery order is the
// dispatch order.
func (c *Client) dispatchLocked(env Envelope) {
	c.outbox = append(c.outbox, env)
	select {
	case c.notify <- struct{}{}:
	default:
	}
}

// drainLocked promotes queued sends while capacity allows, preserving FIFO
// order. Invariant: the queue is only non-empty at the concurrency cap.
func (c *Client) drainLocked() {
	for len(c.queue) > 0 && c.inFlight < c.maxConcurrent {
		env := c.queue[0]
		c.queue = c.queue[1:]
		c.inFlight++
		c.dispatchLocked(env)
	}
}

// pump delivers outbox entries to the worker's inbox one at a time.
func (c *Client) pump() {
	for {
		c.mu.Lock()
		for len(c.outbox) == 0 {
			c.mu.Unlock()
			select {
			case <-c.notify:
			case <-c.done:
				close(c.w.in)
				return
			}
			c.mu.Lock()
		}
		env := c.outbox[0]
		c.outbox = c.outbox[1:]
		c.mu.Unlock()

		select {
		case c.w.in <- env:
		case <-c.done:
			close(c.w.in)
			return
		}
	}
}

// receive consumes worker responses until the worker stops.
func (c *Client) receive() {
	for res := range c.w.out {
		if res.Fatal {
			c.log.Error().Str("type", res.Type).Str("error", res.Err).Msg("worker crashed")
			c.failAll(errors.New(res.Err), true)
			continue
		}
		c.handleResponse(res)
	}
}

// handleResponse settles the matching pending request, or treats an
// unmatched response as a pure capacity release. Either way the queue is
// drained while capacity allows.
func (c *Client) handleResponse(res Response) {
	c.mu.Lock()
	p, ok := c.pending[res.ID]
	if ok {
		delete(c.pending, res.ID)
		p.timer.Stop()
	}
	if c.inFlight > 0 {
		c.inFlight--
	}
	c.drainLocked()
	hook := c.onAsyncError
	c.mu.Unlock()

	if ok {
		var err error
		if res.Err != "" {
			err = wrapError(res.Type, errors.New(res.Err))
		}
		p.ch <- outcome{payload: res.Payload, err: err}
		return
	}
	if res.Err != "" && hook != nil {
		hook(res.Type, errors.New(res.Err))
	}
}

// expire times out a pending request, reclaiming its slot.
func (c *Client) expire(id, typ string) {
	c.mu.Lock()
	p, ok := c.pending[id]
	if !ok {
		c.mu.Unlock()
		return
	}
	delete(c.pending, id)
	if c.inFlight > 0 {
		c.inFlight--
	}
	c.drainLocked()
	c.mu.Unlock()

	c.log.Debug().Str("type", typ).Str("id", id).Msg("request timed out")
	p.ch <- outcome{err: wrapError(typ, ErrTimeout)}
}

// abandon forgets a request whose caller gave up. The in-flight slot stays
// held until the worker's response arrives and releases it.
func (c *Client) abandon(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if p, ok := c.pending[id]; ok {
		delete(c.pending, id)
		p.timer.Stop()
	}
}

// failAll rejects every pending request, clears the queue and resets the
// in-flight counter. With crashed set the client refuses further work.
func (c *Client) failAll(cause error, crashed bool) {
	c.mu.Lock()
	if crashed {
		c.crashed = true
	}
	settled := c.pending
	c.pending = make(map[string]*pendingReq)
	c.queue = nil
	c.outbox = nil
	c.inFlight = 0
	c.mu.Unlock()

	for _, p := range settled {
		p.timer.Stop()
		if crashed {
			p.ch <- outcome{err: fmt.Errorf("%w: %v", ErrWorkerCrashed, cause)}
		} else {
			p.ch <- outcome{err: cause}
		}
	}
}
