package feature

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/nerrad567/entrance/internal/connection"
	"github.com/nerrad567/entrance/internal/telemetry"
)

const connectionStateNfn = "connection_state"

// Child is something a target feature aggregates: a connection, or a
// member target inside a group.
type Child interface {
	connection.Child
	Disconnect(ctx context.Context) error
}

// Conn is a connection a target feature owns.
type Conn interface {
	Child
	AddListener(l connection.Listener)
}

// Targeter is implemented by every target feature.
type Targeter interface {
	DynamicFeature
	TargetBase() *TargetFeature
}

// TargetFeature is the base of features holding connections to a target. Its
// status is the maximum over its tracked children.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
//   - Lock order is child to parent: a member's report takes the member's
//     lock, then its group's. Reading Status never blocks on either.
type TargetFeature struct {
	Dynamic

	// connect is the variant's way of opening its connections.
	connect func(ctx context.Context, factory connection.Factory) error

	mu               sync.Mutex
	children         []Child
	connectRequested bool
	factory          connection.Factory

	statusMu sync.RWMutex
	status   connection.Status

	subscribe bool

	// closed silences connection_state once the feature is stopped.
	closed atomic.Bool
}

func newTarget(in Init, channel, target string, req Message, connect func(context.Context, connection.Factory) error) *TargetFeature {
	subscribe, _ := req["con_state_subscribe"].(bool)
	t := &TargetFeature{
		Dynamic:   newDynamic(in, channel, target, req),
		connect:   connect,
		subscribe: subscribe,
	}
	t.on("connect", t.doConnect)
	t.on("disconnect", t.doDisconnect)
	return t
}

// TargetBase implements Targeter.
func (t *TargetFeature) TargetBase() *TargetFeature { return t }

// Status returns the aggregate status.
func (t *TargetFeature) Status() connection.Status {
	t.statusMu.RLock()
	defer t.statusMu.RUnlock()
	return t.status
}

func (t *TargetFeature) setStatus(st connection.Status) {
	t.statusMu.Lock()
	t.status = st
	t.statusMu.Unlock()
}

// Close stops state notifications to the client. Aggregation and
// telemetry carry on while the connections wind down.
func (t *TargetFeature) Close() {
	t.closed.Store(true)
}

// ConnectRequested reports whether the client asked this feature to
// connect and has not since asked it to disconnect.
func (t *TargetFeature) ConnectRequested() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.connectRequested
}

// Children returns the tracked children.
func (t *TargetFeature) Children() []Child {
	t.mu.Lock()
	defer t.mu.Unlock()
	return slices.Clone(t.children)
}

func (t *TargetFeature) doConnect(ctx context.Context, args []any) (Message, error) {
	kind, err := stringArg(args, 0, "connection_type")
	if err != nil {
		return nil, err
	}
	params, err := mapArg(args, 1, "params")
	if err != nil {
		return nil, err
	}

	params = Message(params).Clone()
	if secret, ok := params["secret"]; ok {
		authIsPassword := true
		if v, ok := params["auth_is_password"].(bool); ok {
			authIsPassword = v
		}
		if authIsPassword {
			params["password"] = secret
		} else {
			params["ssh_key"] = secret
		}
	}

	creds, err := connection.DecodeCredentials(params)
	if err != nil {
		return nil, err
	}
	factory, err := t.env.Factories.New(kind, creds)
	if err != nil {
		return nil, err
	}

	t.mu.Lock()
	t.connectRequested = true
	t.factory = factory
	t.mu.Unlock()

	return nil, t.Connect(ctx, factory)
}

func (t *TargetFeature) doDisconnect(ctx context.Context, _ []any) (Message, error) {
	t.mu.Lock()
	if !t.connectRequested {
		t.logger.Info("disconnecting, although not asked to connect", "feature", t.name, "target", t.target)
	}
	t.connectRequested = false
	t.mu.Unlock()

	return nil, t.Disconnect(ctx)
}

// Connect opens the variant's connections using factory.
func (t *TargetFeature) Connect(ctx context.Context, factory connection.Factory) error {
	if t.connect == nil {
		return fmt.Errorf("%s cannot connect", t.name)
	}
	return t.connect(ctx, factory)
}

// Disconnect asks every tracked child to disconnect without waiting for
// any of them.
func (t *TargetFeature) Disconnect(ctx context.Context) error {
	detached := context.WithoutCancel(ctx)
	for _, child := range t.Children() {
		go func() {
			if err := child.Disconnect(detached); err != nil {
				t.logger.Warn("disconnect failed", "feature", t.name, "child", child.Name(), "error", err)
			}
		}()
	}
	return nil
}

// AddConnection tracks conn and listens to its state. With reset, the
// previously tracked children are forgotten first.
func (t *TargetFeature) AddConnection(ctx context.Context, conn Conn, reset bool) {
	t.mu.Lock()
	if reset {
		t.children = nil
	}
	t.track(conn)
	t.reaggregateLocked(ctx, conn)
	t.mu.Unlock()

	conn.AddListener(func(ctx context.Context, st connection.Status) {
		t.childStateChanged(ctx, conn, st)
	})
}

func (t *TargetFeature) tracks(child Child) bool {
	return slices.Contains(t.children, child)
}

func (t *TargetFeature) track(child Child) {
	if !t.tracks(child) {
		t.children = append(t.children, child)
	}
}

func (t *TargetFeature) untrack(child Child) {
	t.children = slices.DeleteFunc(t.children, func(c Child) bool { return c == child })
}

// childStateChanged recomputes the aggregate after child reported st,
// notifies the client if subscribed, forwards to the parent group and
// forgets a child that reported DISCONNECTED.
func (t *TargetFeature) childStateChanged(ctx context.Context, child Child, st connection.Status) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.tracks(child) {
		// A detached child still reporting.
		return
	}

	agg := st
	for _, c := range t.children {
		if c != child {
			agg = connection.Max(agg, c.Status())
		}
	}
	t.setStatus(agg)
	t.publishLocked(ctx, child, st, agg)

	if st.State == connection.Disconnected {
		t.untrack(child)
	}
}

// reaggregateLocked recomputes the aggregate after the tracked set changed
// without a report, crediting the change to child. Nothing is published
// when the aggregate stays the same. Callers hold t.mu.
func (t *TargetFeature) reaggregateLocked(ctx context.Context, child Child) {
	var agg connection.Status
	for _, c := range t.children {
		agg = connection.Max(agg, c.Status())
	}
	if agg == t.Status() {
		return
	}
	t.setStatus(agg)
	t.publishLocked(ctx, child, child.Status(), agg)
}

// publishLocked tells the client, the parent group and the state recorders
// that child reported st and the aggregate is now agg. Callers hold t.mu.
func (t *TargetFeature) publishLocked(ctx context.Context, child Child, st, agg connection.Status) {
	now := t.env.now()
	if t.subscribe && !t.closed.Load() {
		nfn := Message{
			KeyNfnType:    connectionStateNfn,
			"feature":     t.name,
			"child":       child.Name(),
			"child_state": st.Wire(),
			"state":       agg.Wire(),
			"state_is_up": agg.State == connection.Connected,
			"timestamp":   now.Format("15:04:05"),
		}
		if id, ok := t.request[KeyID]; ok {
			nfn[KeyID] = id
		}
		if err := t.Notify(ctx, nfn); err != nil {
			t.logger.Debug("state notification not sent", "feature", t.name, "error", err)
		}
	}

	if parent := t.parentGroup(); parent != nil {
		parent.memberStateChanged(ctx, t, agg)
	}

	t.env.recordState(ctx, telemetry.StateChange{
		Session:     t.session.ID(),
		Target:      t.target,
		Feature:     t.name,
		Child:       child.Name(),
		ChildStatus: st,
		Aggregate:   agg,
		Time:        now,
	})
}

// parentGroup resolves the group this feature belongs to through the
// session's index. The relation vanishes as soon as either side is
// removed.
func (t *TargetFeature) parentGroup() *TargetGroup {
	if t.parentTarget == "" {
		return nil
	}
	g, ok := t.session.Group(t.parentTarget)
	if !ok || g.TargetFeature == t || !g.isMember(t) {
		return nil
	}
	return g
}
