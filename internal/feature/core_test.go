package feature

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nerrad567/entrance/internal/connection"
	"github.com/nerrad567/entrance/internal/telemetry"
)

func newTestCore(t *testing.T, env *Env, s *fakeSession, options map[string]any) *Core {
	t.Helper()
	features, err := env.Registry.NewConfiguredFeatures(context.Background(), env, s,
		map[string]map[string]any{"core": options})
	require.NoError(t, err)
	require.Len(t, features, 1)
	return features[0].(*Core)
}

func coreReq(reqType string, kv ...any) Message {
	m := Result("", kv...)
	delete(m, KeyNfnType)
	m[KeyReqType] = reqType
	if _, ok := m[KeyChannel]; !ok {
		m[KeyChannel] = "global"
	}
	return m
}

func TestCore_Ping(t *testing.T) {
	s := newFakeSession()
	c := newTestCore(t, testEnv(t), s, nil)

	c.Handle(context.Background(), coreReq("ping", KeyID, 3.0))

	assert.Equal(t, Message{KeyNfnType: "pong", KeyChannel: "global", KeyID: 3.0}, s.last())
}

func TestCore_Greeting(t *testing.T) {
	c := newTestCore(t, testEnv(t), newFakeSession(), nil)
	var g Greeter = c
	assert.Equal(t, Message{KeyNfnType: "websocket_up"}, g.Greeting())
}

func TestCore_ForceRestart(t *testing.T) {
	t.Run("allowed", func(t *testing.T) {
		env := testEnv(t)
		var code int
		env.Exit = func(c int) { code = c }
		s := newFakeSession()
		c := newTestCore(t, env, s, map[string]any{"allow_restart_requests": true})

		c.Handle(context.Background(), coreReq("force_restart"))

		assert.Equal(t, RestartExitCode, code)
		assert.Empty(t, s.messages())
	})

	t.Run("disallowed", func(t *testing.T) {
		env := testEnv(t)
		env.Exit = func(int) { t.Fatal("exit called") }
		s := newFakeSession()
		c := newTestCore(t, env, s, nil)

		c.Handle(context.Background(), coreReq("force_restart"))

		assert.Equal(t, "Restart disallowed by configuration", s.last()[KeyError])
	})
}

func TestCore_StartFeatureDisallowed(t *testing.T) {
	s := newFakeSession()
	c := newTestCore(t, testEnv(t), s, map[string]any{"allowed_dynamic_features": []any{"syslog"}})

	c.Handle(context.Background(), coreReq("start_feature",
		"feature", "cli_exec", KeyChannel, "ch", KeyTarget, "r1"))

	assert.Empty(t, s.added)
	reply := s.last()
	assert.Equal(t, "Feature cli_exec is disallowed by configuration", reply[KeyError])
	assert.Equal(t, "start_feature", reply[KeyNfnType])
}

func TestCore_StartAndStopFeature(t *testing.T) {
	ctx := context.Background()
	env := testEnv(t)
	env.Metrics = telemetry.NewMetrics()
	env.Factories = fakeFactories(func() connection.Driver { return newFakeDevice() }, nil)
	s := newFakeSession()
	c := newTestCore(t, env, s, map[string]any{"allowed_dynamic_features": []any{"cli_exec"}})

	c.Handle(ctx, coreReq("start_feature", "feature", "cli_exec", KeyChannel, "ch", KeyTarget, "r1", "con_state_subscribe", true))
	require.Len(t, s.added, 1)
	exec := s.added[0].(*CLIExec)
	assert.Equal(t, "ch", exec.Channel())
	assert.Equal(t, "r1", exec.Target())
	assert.Empty(t, s.messages(), "start_feature does not reply")

	exec.Handle(ctx, connectReq("connect"))
	s.waitFor(t, aggregateIs(connection.Connected))

	reported := len(s.ofType(connectionStateNfn))
	c.Handle(ctx, coreReq("stop_feature", "feature", "cli_exec", KeyChannel, "ch", KeyTarget, "r1"))
	require.Len(t, s.removed, 1)
	assert.Same(t, exec, s.removed[0])

	// The stopped feature's connection is torn down without the client
	// hearing about it.
	assert.Eventually(t, func() bool { return exec.Status().State == connection.Disconnected },
		2*time.Second, 5*time.Millisecond)
	assert.Len(t, s.ofType(connectionStateNfn), reported)

	c.Handle(ctx, coreReq("stop_feature", "feature", "cli_exec", KeyChannel, "ch", KeyTarget, "r1"))
	assert.Contains(t, s.last()[KeyError], "Exception handling stop_feature: feature not started")
}

func TestCore_StartUnknownFeature(t *testing.T) {
	s := newFakeSession()
	c := newTestCore(t, testEnv(t), s, nil)

	c.Handle(context.Background(), coreReq("start_feature", "feature", "telnet", KeyChannel, "ch", KeyTarget, "r1"))

	assert.Contains(t, s.last()[KeyError], "unknown feature")
	assert.Empty(t, s.added)
}
