package connection

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// fakeDriver is a scripted Driver. Connect pops connectErrs in order and
// succeeds once they run out.
type fakeDriver struct {
	mu            sync.Mutex
	connectErrs   []error
	connects      int
	disconnects   int
	disconnectErr error
	creds         Credentials
	handlers      map[string]Handler
}

func newFakeDriver() *fakeDriver {
	return &fakeDriver{handlers: map[string]Handler{}}
}

func (d *fakeDriver) Connect(_ context.Context, creds Credentials) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.connects++
	d.creds = creds
	if len(d.connectErrs) > 0 {
		err := d.connectErrs[0]
		d.connectErrs = d.connectErrs[1:]
		return err
	}
	return nil
}

func (d *fakeDriver) Disconnect(context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.disconnects++
	return d.disconnectErr
}

func (d *fakeDriver) Handlers() map[string]Handler {
	return d.handlers
}

func (d *fakeDriver) connectCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.connects
}

// stateRecorder collects every status reported to a listener.
type stateRecorder struct {
	mu      sync.Mutex
	history []Status
	changed chan struct{}
}

func newStateRecorder() *stateRecorder {
	return &stateRecorder{changed: make(chan struct{}, 128)}
}

func (r *stateRecorder) listener() Listener {
	return func(_ context.Context, st Status) {
		r.mu.Lock()
		r.history = append(r.history, st)
		r.mu.Unlock()
		select {
		case r.changed <- struct{}{}:
		default:
		}
	}
}

func (r *stateRecorder) states() []State {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]State, len(r.history))
	for i, st := range r.history {
		out[i] = st.State
	}
	return out
}

func (r *stateRecorder) last() Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.history) == 0 {
		return Status{}
	}
	return r.history[len(r.history)-1]
}

// waitFor blocks until the recorder has seen want, failing after a second.
func (r *stateRecorder) waitFor(t *testing.T, want State) Status {
	t.Helper()
	deadline := time.After(time.Second)
	for {
		r.mu.Lock()
		for _, st := range r.history {
			if st.State == want {
				r.mu.Unlock()
				return st
			}
		}
		r.mu.Unlock()
		select {
		case <-r.changed:
		case <-deadline:
			require.FailNowf(t, "state not reached", "want %s, history %v", want, r.states())
		}
	}
}

func echoHandler(_ context.Context, args ...any) (any, error) {
	if len(args) == 0 {
		return nil, nil
	}
	return args[0], nil
}
