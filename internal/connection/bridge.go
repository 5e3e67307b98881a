package connection

import (
	"context"
	"fmt"
	"regexp"
	"sync"
	"sync/atomic"
	"time"
)

const (
	// DefaultDisconnectGrace is how long Disconnect waits for the worker
	// before forcing FAILURE_WHILE_DISCONNECTING.
	DefaultDisconnectGrace = 5 * time.Second

	// requestQueueSize bounds requests queued behind a busy worker.
	requestQueueSize = 32

	actionDisconnect = "disconnect"
)

// connectReason pulls the human part out of errors shaped like
// "<class ...>: reason".
var connectReason = regexp.MustCompile(`<.*>: *(.+)`)

// closeOnce wraps a channel with sync.Once to prevent double-close panics.
type closeOnce struct {
	ch   chan struct{}
	once sync.Once
}

func newCloseOnce() *closeOnce {
	return &closeOnce{ch: make(chan struct{})}
}

func (c *closeOnce) Close() {
	c.once.Do(func() { close(c.ch) })
}

func (c *closeOnce) Done() <-chan struct{} {
	return c.ch
}

// Handler performs one blocking action on the worker goroutine.
type Handler func(ctx context.Context, args ...any) (any, error)

// Driver is the blocking protocol session a Bridge runs on its worker
// goroutine. Only the worker calls a Driver, so implementations need no
// locking of their own.
type Driver interface {
	// Connect opens the session. Returning nil moves the connection to
	// FINALIZING.
	Connect(ctx context.Context, creds Credentials) error

	// Disconnect closes the session. Returning nil moves the connection
	// to DISCONNECTED, an error to FAILURE_WHILE_DISCONNECTING.
	Disconnect(ctx context.Context) error

	// Handlers returns the actions the driver supports, keyed by name.
	// It is called once, before the first Connect.
	Handlers() map[string]Handler
}

// BridgeConfig configures a Bridge.
type BridgeConfig struct {
	Name        string
	Credentials Credentials
	Finalizer   Finalizer
	Logger      Logger

	// DisconnectGrace defaults to DefaultDisconnectGrace.
	DisconnectGrace time.Duration
}

type outcome struct {
	value any
	err   error
}

type request struct {
	action string
	args   []any
	done   chan outcome
}

// result carries either a state update or the outcome of a request from
// the worker to the coordinator, in the order the worker produced them.
type result struct {
	status *Status
	out    outcome
	done   chan outcome
}

// Bridge is a connection whose protocol session lives on a dedicated
// worker goroutine. Callers talk to it through Request; the worker pushes
// state changes and request outcomes onto one channel that a coordinator
// goroutine drains, so a caller always observes the state change caused
// by its request before the request returns.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
//
// Limitations:
//   - A driver handler that never returns wedges the worker. Disconnect
//     still completes after the grace period but the goroutine leaks.
type Bridge struct {
	*Base

	driver Driver
	creds  Credentials
	grace  time.Duration

	requests chan request
	results  chan result

	// ctx is the lifetime context handed to the driver and to listeners.
	ctx    context.Context
	cancel context.CancelFunc

	started       atomic.Bool
	disconnecting atomic.Bool
	stop          *closeOnce
	workerDone    chan struct{}
}

// NewBridge creates an unstarted bridge in state DISCONNECTED.
func NewBridge(driver Driver, cfg BridgeConfig) *Bridge {
	if cfg.DisconnectGrace <= 0 {
		cfg.DisconnectGrace = DefaultDisconnectGrace
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Bridge{
		Base:       NewBase(cfg.Name, cfg.Finalizer, cfg.Logger),
		driver:     driver,
		creds:      cfg.Credentials,
		grace:      cfg.DisconnectGrace,
		requests:   make(chan request, requestQueueSize),
		results:    make(chan result),
		ctx:        ctx,
		cancel:     cancel,
		stop:       newCloseOnce(),
		workerDone: make(chan struct{}),
	}
}

// Connect starts the worker and coordinator goroutines. It returns at
// once; progress is reported through state changes. The goroutines are
// not tied to ctx.
func (b *Bridge) Connect(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !b.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}
	go b.coordinate()
	go b.work()
	return nil
}

// Disconnect moves the connection to DISCONNECTING and asks the worker to
// close the session. If the worker has not finished within the grace
// period the connection is forced to FAILURE_WHILE_DISCONNECTING. Either
// way the bridge is closed when Disconnect returns.
func (b *Bridge) Disconnect(ctx context.Context) error {
	if !b.disconnecting.CompareAndSwap(false, true) {
		return nil
	}
	defer b.shutdown()

	b.SetState(b.ctx, Status{State: Disconnecting})

	if b.started.CompareAndSwap(false, true) {
		// Never connected: nothing to tear down.
		b.SetState(b.ctx, Status{State: Disconnected})
		return nil
	}

	timer := time.NewTimer(b.grace)
	defer timer.Stop()

	done := make(chan outcome, 1)
	var err error

	select {
	case b.requests <- request{action: actionDisconnect, done: done}:
		select {
		case o := <-done:
			err = o.err
		case <-timer.C:
		case <-ctx.Done():
			err = ctx.Err()
		}
	case <-timer.C:
	case <-ctx.Done():
		err = ctx.Err()
	}

	if st := b.State(); st != Disconnected && st != FailureWhileDisconnecting {
		b.logInfo("forcing slow disconnection", "state", st.String())
		b.SetState(b.ctx, NewStatus(FailureWhileDisconnecting, "disconnect timeout"))
	}
	return err
}

func (b *Bridge) shutdown() {
	b.stop.Close()
	b.cancel()
}

// Done is closed once the bridge has been shut down by Disconnect.
func (b *Bridge) Done() <-chan struct{} {
	return b.stop.Done()
}

// Request runs action on the worker and waits for its outcome.
//
// Unless override is set, the request is rejected with ErrNotConnected
// when the connection is not CONNECTED. Finalizers and disconnects use
// override to act on a connection that is not yet (or no longer) open.
func (b *Bridge) Request(ctx context.Context, action string, override bool, args ...any) (any, error) {
	if st := b.Status(); !override && st.State != Connected {
		return nil, fmt.Errorf("%w: %s in state %s cannot %s", ErrNotConnected, b.Name(), st.State, action)
	}

	done := make(chan outcome, 1)
	select {
	case b.requests <- request{action: action, args: args, done: done}:
	case <-b.stop.Done():
		return nil, ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	select {
	case o := <-done:
		return o.value, o.err
	case <-b.stop.Done():
		return nil, ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// coordinate applies worker output in order: state changes through
// SetState, request outcomes to the waiting caller.
func (b *Bridge) coordinate() {
	for {
		select {
		case r := <-b.results:
			if r.status != nil {
				b.SetState(b.ctx, *r.status)
				continue
			}
			r.done <- r.out
		case <-b.stop.Done():
			return
		}
	}
}

// work is the worker goroutine. It exclusively owns the driver.
func (b *Bridge) work() {
	defer close(b.workerDone)

	handlers := b.driver.Handlers()
	reconnect := true

	for {
		if reconnect {
			reconnect = false
			if !b.push(Status{State: Connecting}) {
				return
			}
			if err := b.connectDriver(); err != nil {
				reason := scrapeReason(err)
				b.logWarn("connect failed", "error", reason)
				if !b.push(NewStatus(FailedToConnect, reason)) {
					return
				}
			} else if !b.push(Status{State: Finalizing}) {
				return
			}
		}

		var req request
		select {
		case req = <-b.requests:
		case <-b.stop.Done():
			return
		}

		if req.action == actionDisconnect {
			st := Status{State: Disconnected}
			err := b.disconnectDriver()
			if err != nil {
				st = NewStatus(FailureWhileDisconnecting, err.Error())
			}
			if b.push(st) {
				b.reply(req, nil, err)
			}
			return
		}

		handler, ok := handlers[req.action]
		if !ok {
			b.reply(req, nil, fmt.Errorf("%w: %s", ErrUnknownAction, req.action))
			continue
		}

		value, err := callHandler(b.ctx, handler, req.args)
		if err != nil {
			reason := fmt.Sprintf("handler for %s crashed: %v", req.action, err)
			b.logWarn("request failed, reconnecting", "action", req.action, "error", err)
			if !b.push(NewStatus(ReconnectingAfterFailure, reason)) {
				return
			}
			reconnect = true
		}
		b.reply(req, value, err)
	}
}

// push hands a state update to the coordinator. It reports false once the
// bridge is shut down.
func (b *Bridge) push(st Status) bool {
	select {
	case b.results <- result{status: &st}:
		return true
	case <-b.stop.Done():
		return false
	}
}

func (b *Bridge) reply(req request, value any, err error) {
	out := outcome{value: value, err: err}
	select {
	case b.results <- result{out: out, done: req.done}:
	case <-b.stop.Done():
		req.done <- out
	}
}

func (b *Bridge) connectDriver() (err error) {
	defer recoverInto(&err)
	return b.driver.Connect(b.ctx, b.creds)
}

func (b *Bridge) disconnectDriver() (err error) {
	defer recoverInto(&err)
	return b.driver.Disconnect(b.ctx)
}

func callHandler(ctx context.Context, h Handler, args []any) (value any, err error) {
	defer recoverInto(&err)
	return h(ctx, args...)
}

func recoverInto(err *error) {
	if r := recover(); r != nil {
		*err = fmt.Errorf("panic: %v", r)
	}
}

func scrapeReason(err error) string {
	msg := err.Error()
	if m := connectReason.FindStringSubmatch(msg); m != nil {
		return m[1]
	}
	return msg
}
