package feature

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/nerrad567/entrance/internal/connection"
)

// fakeSession records notifications and keeps the minimum of the router's
// bookkeeping features rely on.
type fakeSession struct {
	id string

	mu       sync.Mutex
	sent     []Message
	notified chan struct{}
	added    []Feature
	removed  []Feature
	groups   map[string]*TargetGroup
	targets  map[string][]Targeter
}

func newFakeSession() *fakeSession {
	return &fakeSession{
		id:       "session-1",
		notified: make(chan struct{}, 256),
		groups:   make(map[string]*TargetGroup),
		targets:  make(map[string][]Targeter),
	}
}

func (s *fakeSession) ID() string { return s.id }

func (s *fakeSession) Notify(_ context.Context, msg Message) error {
	s.mu.Lock()
	s.sent = append(s.sent, msg.Clone())
	s.mu.Unlock()
	select {
	case s.notified <- struct{}{}:
	default:
	}
	return nil
}

func (s *fakeSession) AddFeature(ctx context.Context, f Feature, _, _ string) error {
	s.mu.Lock()
	s.added = append(s.added, f)
	var adopter *TargetGroup
	if t, ok := f.(Targeter); ok {
		if g, ok := f.(*TargetGroup); ok {
			s.groups[g.Target()] = g
		}
		if p := t.ParentTarget(); p != "" {
			s.targets[p] = append(s.targets[p], t)
			if g, ok := s.groups[p]; ok && g.TargetFeature != t.TargetBase() {
				adopter = g
			}
		}
	}
	s.mu.Unlock()

	if adopter != nil {
		adopter.AddMember(ctx, f.(Targeter).TargetBase())
	}
	return nil
}

func (s *fakeSession) RemoveFeature(ctx context.Context, f Feature, _, _ string) error {
	s.mu.Lock()
	s.removed = append(s.removed, f)
	var parent *TargetGroup
	if g, ok := f.(*TargetGroup); ok {
		delete(s.groups, g.Target())
	}
	if t, ok := f.(Targeter); ok {
		if g, ok := s.groups[t.ParentTarget()]; ok && g.TargetFeature != t.TargetBase() {
			parent = g
		}
	}
	s.mu.Unlock()

	if parent != nil {
		parent.RemoveMember(ctx, f.(Targeter).TargetBase())
	}
	return nil
}

func (s *fakeSession) Group(target string) (*TargetGroup, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.groups[target]
	return g, ok
}

func (s *fakeSession) TargetFeatures(parentTarget string) []Targeter {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Targeter(nil), s.targets[parentTarget]...)
}

func (s *fakeSession) messages() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Message(nil), s.sent...)
}

func (s *fakeSession) last() Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.sent) == 0 {
		return nil
	}
	return s.sent[len(s.sent)-1]
}

// ofType returns the messages with the given nfn_type.
func (s *fakeSession) ofType(nfnType string) []Message {
	var out []Message
	for _, m := range s.messages() {
		if m.String(KeyNfnType) == nfnType {
			out = append(out, m)
		}
	}
	return out
}

// waitFor blocks until a message matching match has been sent.
func (s *fakeSession) waitFor(t *testing.T, match func(Message) bool) Message {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		for _, m := range s.messages() {
			if match(m) {
				return m
			}
		}
		select {
		case <-s.notified:
		case <-deadline:
			require.FailNowf(t, "notification not sent", "sent: %v", s.messages())
		}
	}
}

func aggregateIs(state connection.State) func(Message) bool {
	return func(m Message) bool {
		if m.String(KeyNfnType) != connectionStateNfn {
			return false
		}
		st, _ := m["state"].(map[string]any)
		return st["state"] == state.String()
	}
}

// fakeConn is a child whose state the test drives directly.
type fakeConn struct {
	name string

	mu          sync.Mutex
	status      connection.Status
	listeners   []connection.Listener
	disconnects int
}

func newFakeConn(name string) *fakeConn {
	return &fakeConn{name: name}
}

func (c *fakeConn) Name() string { return c.name }

func (c *fakeConn) Status() connection.Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

func (c *fakeConn) AddListener(l connection.Listener) {
	c.mu.Lock()
	c.listeners = append(c.listeners, l)
	c.mu.Unlock()
}

func (c *fakeConn) Disconnect(ctx context.Context) error {
	c.mu.Lock()
	c.disconnects++
	c.mu.Unlock()
	c.report(ctx, connection.Status{State: connection.Disconnected})
	return nil
}

func (c *fakeConn) report(ctx context.Context, st connection.Status) {
	c.mu.Lock()
	c.status = st
	listeners := append([]connection.Listener(nil), c.listeners...)
	c.mu.Unlock()
	for _, l := range listeners {
		l(ctx, st)
	}
}

func (c *fakeConn) disconnectCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.disconnects
}

func testRegistry(t *testing.T) *Registry {
	t.Helper()
	r, err := NewBuiltinRegistry()
	require.NoError(t, err)
	return r
}

func testEnv(t *testing.T) *Env {
	t.Helper()
	return &Env{
		Registry: testRegistry(t),
		Now:      func() time.Time { return time.Date(2026, 10, 16, 9, 30, 15, 0, time.UTC) },
	}
}

// newTestTarget builds a bare target feature whose connections the test
// supplies through AddConnection.
func newTestTarget(t *testing.T, env *Env, session Session, target string, req Message) *TargetFeature {
	t.Helper()
	schema, err := env.Registry.Schema(TargetVariant)
	require.NoError(t, err)
	in := Init{Name: "cli_exec", Schema: schema, Env: env, Session: session}
	if req == nil {
		req = Message{}
	}
	return newTarget(in, "ch", target, req, nil)
}

const (
	testPrompt       = "RP/0/RP0/CPU0:r1#"
	testConfigPrompt = "RP/0/RP0/CPU0:r1(config)#"
	testStamp        = "Fri Oct 16 09:30:15.123 UTC"
)

// fakeDevice is a CLI driver imitating an IOS-XR shell: each line sent is
// echoed, followed by the scripted reply and the prompt. Exec commands
// and shows print a timestamp after the echo; configuration lines do not.
type fakeDevice struct {
	mu         sync.Mutex
	replies    map[string]string
	rejects    map[string]bool
	configMode bool
	sent       []string
	out        strings.Builder
	timeout    time.Duration
}

func newFakeDevice() *fakeDevice {
	return &fakeDevice{replies: map[string]string{}, rejects: map[string]bool{}}
}

// script sets the reply to line.
func (d *fakeDevice) script(line, reply string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.replies[line] = reply
}

// reject makes the parser refuse line.
func (d *fakeDevice) reject(line string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.rejects[line] = true
}

func (d *fakeDevice) Connect(context.Context, connection.Credentials) error { return nil }
func (d *fakeDevice) Disconnect(context.Context) error                     { return nil }

func (d *fakeDevice) Handlers() map[string]connection.Handler {
	return map[string]connection.Handler{
		connection.ActionSend: func(_ context.Context, args ...any) (any, error) {
			d.mu.Lock()
			defer d.mu.Unlock()
			line := strings.TrimSuffix(args[0].(string), "\n")
			d.sent = append(d.sent, line)
			if line == "configure" {
				d.configMode = true
			}
			prompt := testPrompt
			if d.configMode {
				prompt = testConfigPrompt
			}
			d.out.WriteString(line + "\r\n")
			if d.rejects[line] {
				d.out.WriteString("% Invalid input detected at '^' marker.\r\n" + prompt)
				return nil, nil
			}
			if !d.configMode || strings.HasPrefix(line, "show") {
				d.out.WriteString(testStamp + "\r\n")
			}
			d.out.WriteString(d.replies[line] + prompt)
			return nil, nil
		},
		connection.ActionRecv: func(context.Context, ...any) (any, error) {
			d.mu.Lock()
			data := d.out.String()
			d.out.Reset()
			d.mu.Unlock()
			if data == "" {
				time.Sleep(5 * time.Millisecond)
			}
			return []byte(data), nil
		},
		connection.ActionSetTimeout: func(_ context.Context, args ...any) (any, error) {
			d.mu.Lock()
			defer d.mu.Unlock()
			d.timeout = args[0].(time.Duration)
			return nil, nil
		},
	}
}

// emit queues unsolicited output, as terminal monitor produces.
func (d *fakeDevice) emit(s string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.out.WriteString(s)
}

func (d *fakeDevice) sentLines() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.sent...)
}

// fakeNETCONF answers NETCONF actions with scripted replies.
type fakeNETCONF struct {
	mu      sync.Mutex
	replies map[string]*connection.Reply
	calls   []string
	args    []any
}

func (n *fakeNETCONF) Connect(context.Context, connection.Credentials) error { return nil }
func (n *fakeNETCONF) Disconnect(context.Context) error                     { return nil }

func (n *fakeNETCONF) Handlers() map[string]connection.Handler {
	h := map[string]connection.Handler{}
	for _, action := range []string{
		connection.ActionGet, connection.ActionGetConfig, connection.ActionEditConfig,
		connection.ActionCommit, connection.ActionValidate, connection.ActionDiscardChanges,
	} {
		h[action] = func(_ context.Context, args ...any) (any, error) {
			n.mu.Lock()
			defer n.mu.Unlock()
			n.calls = append(n.calls, action)
			n.args = append(n.args, args...)
			if r, ok := n.replies[action]; ok {
				return r, nil
			}
			return &connection.Reply{XML: "<rpc-reply><ok/></rpc-reply>", OK: true}, nil
		}
	}
	return h
}

// fakeFactories registers a "fake" connection type backed by the given
// drivers.
func fakeFactories(cli func() connection.Driver, nc func() connection.Driver) connection.Factories {
	return connection.Factories{
		"fake": func(creds connection.Credentials) (connection.Factory, error) {
			return &connection.DriverFactory{
				Credentials:     creds,
				CLIDriver:       cli,
				NETCONFDriver:   nc,
				DisconnectGrace: time.Second,
			}, nil
		},
	}
}

// startDynamic builds a dynamic feature through the registry as
// start_feature would.
func startDynamic(t *testing.T, env *Env, session *fakeSession, name, target string, req Message) Feature {
	t.Helper()
	if req == nil {
		req = Message{}
	}
	f, err := env.Registry.NewDynamic(context.Background(), name, env, session, "ch", target, req)
	require.NoError(t, err)
	require.NoError(t, session.AddFeature(context.Background(), f, "ch", target))
	t.Cleanup(func() {
		if tf, ok := f.(Targeter); ok {
			_ = tf.TargetBase().Disconnect(context.Background())
		}
	})
	return f
}

func connectReq(reqType string) Message {
	return Message{
		KeyReqType:        reqType,
		KeyChannel:        "ch",
		KeyTarget:         "r1",
		"connection_type": "fake",
		"params":          map[string]any{"host": "r1", "username": "lab", "secret": "s3cret"},
	}
}
