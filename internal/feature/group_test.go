package feature

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nerrad567/entrance/internal/connection"
)

// member builds a target feature on r1 with one fake connection and
// registers it with the session.
func member(t *testing.T, env *Env, s *fakeSession, name string) (*TargetFeature, *fakeConn) {
	t.Helper()
	tf := newTestTarget(t, env, s, "r1", nil)
	conn := newFakeConn(name)
	tf.AddConnection(context.Background(), conn, false)
	require.NoError(t, s.AddFeature(context.Background(), tf, "ch", "r1"))
	return tf, conn
}

func TestTargetGroup_AggregatesMembers(t *testing.T) {
	ctx := context.Background()
	env := testEnv(t)
	s := newFakeSession()

	a, connA := member(t, env, s, "a")
	g := startDynamic(t, env, s, "target_group", "r1", Message{"con_state_subscribe": true}).(*TargetGroup)
	b, connB := member(t, env, s, "b")

	assert.ElementsMatch(t, []*TargetFeature{a, b}, g.Members(), "early and late members both join")

	connB.report(ctx, connection.Status{State: connection.Connected})
	connA.report(ctx, connection.NewStatus(connection.FailedToConnect, "auth failed"))
	assert.Equal(t, connection.NewStatus(connection.FailedToConnect, "auth failed"), g.Status())

	connA.report(ctx, connection.Status{State: connection.Disconnected})
	assert.Equal(t, connection.Disconnected, a.Status().State)
	assert.Equal(t, connection.Connected, g.Status().State)
	assert.Equal(t, []Child{b}, g.Children())

	last := s.last()
	assert.Equal(t, "target_group", last["feature"])
	assert.Equal(t, map[string]any{"state": "CONNECTED", "error": ""}, last["state"])
	assert.Equal(t, true, last["state_is_up"])
}

func TestTargetGroup_AdoptsMemberState(t *testing.T) {
	ctx := context.Background()
	env := testEnv(t)
	s := newFakeSession()

	_, connA := member(t, env, s, "a")
	connA.report(ctx, connection.NewStatus(connection.FailedToConnect, "auth failed"))

	g := startDynamic(t, env, s, "target_group", "r1", Message{"con_state_subscribe": true}).(*TargetGroup)
	require.Len(t, g.Children(), 1)
	assert.Equal(t, connection.NewStatus(connection.FailedToConnect, "auth failed"), g.Status())

	states := s.ofType(connectionStateNfn)
	require.Len(t, states, 1)
	assert.Equal(t, "target_group", states[0]["feature"])
	assert.Equal(t, map[string]any{"state": "FAILED_TO_CONNECT", "error": "auth failed"}, states[0]["state"])

	// A late member that is already up raises nothing above FAILED_TO_CONNECT.
	b := newTestTarget(t, env, s, "r1", nil)
	connB := newFakeConn("b")
	b.AddConnection(ctx, connB, false)
	connB.report(ctx, connection.Status{State: connection.Connected})
	require.NoError(t, s.AddFeature(ctx, b, "ch", "r1"))
	assert.Len(t, g.Children(), 2)
	assert.Equal(t, connection.FailedToConnect, g.Status().State)
	assert.Len(t, s.ofType(connectionStateNfn), 1, "unchanged aggregate is not re-sent")
}

func TestTargetGroup_AdoptedStateReachesParentGroup(t *testing.T) {
	ctx := context.Background()
	env := testEnv(t)
	s := newFakeSession()

	site := startDynamic(t, env, s, "target_group", "site", nil).(*TargetGroup)
	_, conn := member(t, env, s, "a")
	conn.report(ctx, connection.Status{State: connection.Connected})

	router := startDynamic(t, env, s, "target_group", "r1", Message{"parent_target": "site"}).(*TargetGroup)
	assert.Equal(t, connection.Connected, router.Status().State)
	assert.Equal(t, connection.Connected, site.Status().State)
}

func TestTargetGroup_RetracksReturningMember(t *testing.T) {
	ctx := context.Background()
	env := testEnv(t)
	s := newFakeSession()

	g := startDynamic(t, env, s, "target_group", "r1", nil).(*TargetGroup)
	_, connA := member(t, env, s, "a")
	_, connB := member(t, env, s, "b")

	connB.report(ctx, connection.Status{State: connection.Connected})
	connA.report(ctx, connection.Status{State: connection.Disconnected})
	require.Len(t, g.Children(), 1)

	connA.report(ctx, connection.Status{State: connection.Connecting})
	assert.Len(t, g.Children(), 2)
	assert.Equal(t, connection.Connecting, g.Status().State)
}

func TestTargetGroup_RemovedMemberReportsDeparture(t *testing.T) {
	ctx := context.Background()
	env := testEnv(t)
	s := newFakeSession()

	g := startDynamic(t, env, s, "target_group", "r1", Message{"con_state_subscribe": true}).(*TargetGroup)
	a, connA := member(t, env, s, "a")
	b, connB := member(t, env, s, "b")
	connA.report(ctx, connection.Status{State: connection.Connected})
	connB.report(ctx, connection.NewStatus(connection.FailedToConnect, "x"))
	require.Equal(t, connection.FailedToConnect, g.Status().State)

	require.NoError(t, s.RemoveFeature(ctx, b, "ch", "r1"))

	assert.Equal(t, connection.Connected, g.Status().State)
	assert.ElementsMatch(t, []*TargetFeature{a}, g.Members())

	departure := s.last()
	assert.Equal(t, "cli_exec", departure["child"])
	assert.Equal(t, map[string]any{"state": "DISCONNECTED", "error": ""}, departure["child_state"])

	// A removed member no longer reaches the group.
	connB.report(ctx, connection.NewStatus(connection.FailedToConnect, "y"))
	assert.Equal(t, connection.Connected, g.Status().State)
}

func TestTargetGroup_RemovingGroupDetachesMembers(t *testing.T) {
	ctx := context.Background()
	env := testEnv(t)
	s := newFakeSession()

	g := startDynamic(t, env, s, "target_group", "r1", nil).(*TargetGroup)
	a, connA := member(t, env, s, "a")
	require.NoError(t, s.RemoveFeature(ctx, g, "ch", "r1"))

	assert.Nil(t, a.parentGroup())
	connA.report(ctx, connection.NewStatus(connection.FailedToConnect, "x"))
	assert.Equal(t, connection.Disconnected, g.Status().State)
}

func TestTargetGroup_NestsUnderParentTarget(t *testing.T) {
	ctx := context.Background()
	env := testEnv(t)
	s := newFakeSession()

	site := startDynamic(t, env, s, "target_group", "site", nil).(*TargetGroup)
	router := startDynamic(t, env, s, "target_group", "r1", Message{"parent_target": "site"}).(*TargetGroup)
	_, conn := member(t, env, s, "a")

	assert.Equal(t, []*TargetFeature{router.TargetFeature}, site.Members())

	conn.report(ctx, connection.NewStatus(connection.ReconnectingAfterFailure, "eof"))
	assert.Equal(t, connection.ReconnectingAfterFailure, router.Status().State)
	assert.Equal(t, connection.ReconnectingAfterFailure, site.Status().State)
}

func TestTargetGroup_ConnectReachesLateMembers(t *testing.T) {
	ctx := context.Background()
	env := testEnv(t)
	env.Factories = fakeFactories(func() connection.Driver { return newFakeDevice() }, nil)
	s := newFakeSession()

	startDynamic(t, env, s, "cli_exec", "r1", nil)
	g := startDynamic(t, env, s, "target_group", "r1", Message{"con_state_subscribe": true}).(*TargetGroup)

	g.Handle(ctx, connectReq("connect"))
	s.waitFor(t, aggregateIs(connection.Connected))

	late := startDynamic(t, env, s, "cli_config", "r1", nil).(*CLIConfig)
	require.Eventually(t, func() bool {
		return late.Status().State == connection.Connected
	}, 2*time.Second, 10*time.Millisecond)
	assert.Len(t, g.Members(), 2)
}
