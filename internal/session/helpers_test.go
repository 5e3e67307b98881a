package session

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/nerrad567/entrance/internal/feature"
)

// fakeTransport feeds frames from in and records what the router sends.
type fakeTransport struct {
	in chan []byte

	mu     sync.Mutex
	out    []feature.Message
	sent   chan struct{}
	closed bool
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{in: make(chan []byte, 16), sent: make(chan struct{}, 256)}
}

func (t *fakeTransport) Recv(ctx context.Context) ([]byte, error) {
	select {
	case b, ok := <-t.in:
		if !ok {
			return nil, ErrClosed
		}
		return b, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (t *fakeTransport) Send(_ context.Context, frame []byte) error {
	var msg feature.Message
	if err := json.Unmarshal(frame, &msg); err != nil {
		return err
	}
	t.mu.Lock()
	t.out = append(t.out, msg)
	t.mu.Unlock()
	select {
	case t.sent <- struct{}{}:
	default:
	}
	return nil
}

func (t *fakeTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	return nil
}

func (t *fakeTransport) send(v any) {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	t.in <- b
}

func (t *fakeTransport) messages() []feature.Message {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]feature.Message(nil), t.out...)
}

func (t *fakeTransport) last() feature.Message {
	msgs := t.messages()
	if len(msgs) == 0 {
		return nil
	}
	return msgs[len(msgs)-1]
}

// waitFor blocks until the router has sent n messages.
func (t *fakeTransport) waitFor(tb testing.TB, n int) []feature.Message {
	tb.Helper()
	deadline := time.After(2 * time.Second)
	for {
		if msgs := t.messages(); len(msgs) >= n {
			return msgs
		}
		select {
		case <-t.sent:
		case <-deadline:
			require.FailNowf(tb, "messages not sent", "want %d, got %v", n, t.messages())
		}
	}
}

func testEnv(t *testing.T) *feature.Env {
	t.Helper()
	r, err := feature.NewBuiltinRegistry()
	require.NoError(t, err)
	return &feature.Env{Registry: r}
}

func newTestRouter(t *testing.T, env *feature.Env, features map[string]map[string]any) (*Router, *fakeTransport) {
	t.Helper()
	tr := newFakeTransport()
	r, err := New(context.Background(), Options{Env: env, Transport: tr, Features: features})
	require.NoError(t, err)
	return r, tr
}

// run starts the receive loop and stops it when the test ends.
func run(t *testing.T, r *Router, tr *fakeTransport) {
	t.Helper()
	done := make(chan error, 1)
	go func() { done <- r.Run(context.Background()) }()
	t.Cleanup(func() {
		close(tr.in)
		select {
		case err := <-done:
			require.NoError(t, err)
		case <-time.After(2 * time.Second):
			t.Error("session did not stop")
		}
	})
}

// slowFeature is a dynamic feature whose only request takes a while and
// records how many of its requests overlap.
type slowFeature struct {
	schema          *feature.Schema
	channel, target string

	mu        sync.Mutex
	active    int
	maxActive int
	handled   int
	closed    bool
}

func newSlowFeature(t *testing.T, channel, target string) *slowFeature {
	t.Helper()
	reg := feature.NewRegistry()
	require.NoError(t, reg.Register(feature.Definition{Name: "slow", Requests: map[string][]feature.Arg{"work": {}}}))
	require.NoError(t, reg.Build())
	schema, err := reg.Schema("slow")
	require.NoError(t, err)
	return &slowFeature{schema: schema, channel: channel, target: target}
}

func (f *slowFeature) Name() string            { return "slow" }
func (f *slowFeature) Schema() *feature.Schema { return f.schema }
func (f *slowFeature) Channel() string         { return f.channel }
func (f *slowFeature) Target() string          { return f.target }
func (f *slowFeature) ParentTarget() string    { return "" }

func (f *slowFeature) Handle(context.Context, feature.Message) {
	f.mu.Lock()
	f.active++
	f.maxActive = max(f.maxActive, f.active)
	f.mu.Unlock()

	time.Sleep(10 * time.Millisecond)

	f.mu.Lock()
	f.active--
	f.handled++
	f.mu.Unlock()
}

func (f *slowFeature) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
}

func (f *slowFeature) stats() (handled, maxActive int, closed bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.handled, f.maxActive, f.closed
}

// watchedTransport counts reads made while a configured request is still
// being handled.
type watchedTransport struct {
	*fakeTransport
	busy        *atomic.Bool
	readsInside atomic.Int32
}

func (t *watchedTransport) Recv(ctx context.Context) ([]byte, error) {
	if t.busy.Load() {
		t.readsInside.Add(1)
	}
	return t.fakeTransport.Recv(ctx)
}

// echoFeature is a configured feature that takes a while over each
// request, then replies with the request id.
type echoFeature struct {
	schema *feature.Schema
	notify func(context.Context, feature.Message) error
	busy   atomic.Bool
}

func newEchoFeature(t *testing.T) *echoFeature {
	t.Helper()
	reg := feature.NewRegistry()
	require.NoError(t, reg.Register(feature.Definition{Name: "echo", Requests: map[string][]feature.Arg{"echo": {}}}))
	require.NoError(t, reg.Build())
	schema, err := reg.Schema("echo")
	require.NoError(t, err)
	return &echoFeature{schema: schema}
}

func (f *echoFeature) Name() string            { return "echo" }
func (f *echoFeature) Schema() *feature.Schema { return f.schema }
func (f *echoFeature) Close()                  {}

func (f *echoFeature) Handle(ctx context.Context, req feature.Message) {
	f.busy.Store(true)
	defer f.busy.Store(false)

	time.Sleep(10 * time.Millisecond)
	_ = f.notify(ctx, feature.Message{feature.KeyNfnType: "echo", feature.KeyID: req[feature.KeyID]})
}
