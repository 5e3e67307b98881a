package connection

import (
	"context"
	"fmt"
	"slices"
	"sync"
)

// Child is anything whose status can feed an aggregate: a connection, or a
// target feature inside a target group.
type Child interface {
	Name() string
	Status() Status
}

// Listener observes state changes. status is the state being reported,
// which is also the child's current status at the time of the call.
type Listener func(ctx context.Context, status Status)

// Finalizer runs post-connect setup (terminal settings, configure mode,
// debug registration). It may issue override requests; when it returns
// nil the connection becomes CONNECTED.
type Finalizer func(ctx context.Context) error

// Logger interface for optional logging.
// Compatible with logging.Logger and slog.Logger.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// Base holds the state shared by every connection: its name, its status
// and the listeners that observe it.
//
// State changes are serialised: SetState does not return until every
// listener has been called, in registration order, and a second SetState
// waits for the first to finish notifying.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
//   - Listeners are called without Base's status lock held and may read
//     Status, but must not call SetState on the same connection.
type Base struct {
	name      string
	finalizer Finalizer
	logger    Logger

	mu          sync.RWMutex
	status      Status
	listeners   []Listener
	finalizeGen uint64

	// notifyMu orders whole set-and-notify sequences.
	notifyMu sync.Mutex
}

// NewBase creates a DISCONNECTED connection base. finalizer and logger may
// be nil.
func NewBase(name string, finalizer Finalizer, logger Logger) *Base {
	return &Base{
		name:      name,
		finalizer: finalizer,
		logger:    logger,
	}
}

// Name returns the connection name, e.g. "cli_exec".
func (b *Base) Name() string {
	return b.name
}

// Status returns the current status.
func (b *Base) Status() Status {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.status
}

// State returns the current state.
func (b *Base) State() State {
	return b.Status().State
}

// AddListener registers a listener. Listeners are never removed; a
// connection that is no longer wanted is disconnected and dropped.
func (b *Base) AddListener(l Listener) {
	b.mu.Lock()
	b.listeners = append(b.listeners, l)
	b.mu.Unlock()
}

// SetState is the single primitive through which a connection's state
// changes. Entering FINALIZING starts the finalizer on its own goroutine.
func (b *Base) SetState(ctx context.Context, st Status) {
	b.notifyMu.Lock()
	defer b.notifyMu.Unlock()
	b.setLocked(ctx, st)
}

// setLocked requires notifyMu.
func (b *Base) setLocked(ctx context.Context, st Status) {
	st = NewStatus(st.State, st.Reason)

	b.mu.Lock()
	prev := b.status
	b.status = st
	listeners := slices.Clone(b.listeners)
	var gen uint64
	if st.State == Finalizing {
		b.finalizeGen++
		gen = b.finalizeGen
	}
	b.mu.Unlock()

	b.logDebug("connection state changed", "from", prev.State.String(), "to", st.String())

	for _, l := range listeners {
		l(ctx, st)
	}

	if st.State == Finalizing {
		go b.finalize(context.WithoutCancel(ctx), gen)
	}
}

// finalize runs the finalizer for one FINALIZING episode. The outcome is
// dropped if the connection has moved on (reconnected, failed or is
// disconnecting) before the finalizer returned.
func (b *Base) finalize(ctx context.Context, gen uint64) {
	next := Status{State: Connected}
	if b.finalizer != nil {
		if err := runFinalizer(ctx, b.finalizer); err != nil {
			b.logWarn("finalizer failed", "error", err)
			next = NewStatus(FailedToConnect, "finalizer failed: "+err.Error())
		}
	}

	b.notifyMu.Lock()
	defer b.notifyMu.Unlock()

	b.mu.RLock()
	current, currentGen := b.status.State, b.finalizeGen
	b.mu.RUnlock()

	if current != Finalizing || currentGen != gen {
		b.logDebug("discarding stale finalize result", "state", current.String())
		return
	}
	b.setLocked(ctx, next)
}

func runFinalizer(ctx context.Context, f Finalizer) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return f(ctx)
}

func (b *Base) logDebug(msg string, args ...any) {
	if b.logger != nil {
		b.logger.Debug(msg, append([]any{"connection", b.name}, args...)...)
	}
}

func (b *Base) logInfo(msg string, args ...any) {
	if b.logger != nil {
		b.logger.Info(msg, append([]any{"connection", b.name}, args...)...)
	}
}

func (b *Base) logWarn(msg string, args ...any) {
	if b.logger != nil {
		b.logger.Warn(msg, append([]any{"connection", b.name}, args...)...)
	}
}
