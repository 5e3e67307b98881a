package telemetry

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nerrad567/entrance/internal/connection"
	"github.com/nerrad567/entrance/internal/infrastructure/influxdb"
	"github.com/nerrad567/entrance/internal/infrastructure/mqtt"
)

type fakePublisher struct {
	topics   []string
	payloads [][]byte
	err      error
}

func (p *fakePublisher) PublishRetained(topic string, payload []byte) error {
	p.topics = append(p.topics, topic)
	p.payloads = append(p.payloads, payload)
	return p.err
}

type fakeWriter struct {
	points []influxdb.StatePoint
}

func (w *fakeWriter) WriteConnectionState(p influxdb.StatePoint) {
	w.points = append(w.points, p)
}

type warnings struct{ n int }

func (w *warnings) Warn(string, ...any) { w.n++ }

var testChange = StateChange{
	Session:     "s1",
	Target:      "r1",
	Feature:     "cli_exec",
	Child:       "cli_exec",
	ChildStatus: connection.NewStatus(connection.FailedToConnect, "Authentication failed"),
	Aggregate:   connection.NewStatus(connection.FailedToConnect, "Authentication failed"),
	Time:        time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
}

func TestMQTTRecorder(t *testing.T) {
	pub := &fakePublisher{}
	r := NewMQTTRecorder(pub, mqtt.NewTopics("entrance").ConnectionState, nil)

	r.RecordState(context.Background(), testChange)

	require.Len(t, pub.topics, 1)
	assert.Equal(t, "entrance/state/r1/cli_exec", pub.topics[0])

	var got map[string]any
	require.NoError(t, json.Unmarshal(pub.payloads[0], &got))
	assert.Equal(t, "FAILED_TO_CONNECT", got["state"])
	assert.Equal(t, "Authentication failed", got["error"])
	assert.Equal(t, false, got["state_is_up"])
	assert.Equal(t, "2026-03-01T12:00:00Z", got["timestamp"])
}

func TestMQTTRecorder_PublishErrorIsLogged(t *testing.T) {
	pub := &fakePublisher{err: errors.New("not connected")}
	w := &warnings{}
	r := NewMQTTRecorder(pub, mqtt.NewTopics("").ConnectionState, w)

	r.RecordState(context.Background(), testChange)
	assert.Equal(t, 1, w.n)
}

func TestInfluxRecorder(t *testing.T) {
	w := &fakeWriter{}
	NewInfluxRecorder(w).RecordState(context.Background(), testChange)

	require.Len(t, w.points, 1)
	p := w.points[0]
	assert.Equal(t, "r1", p.Target)
	assert.Equal(t, "FAILED_TO_CONNECT", p.State)
	assert.Equal(t, int(connection.FailedToConnect), p.Level)
	assert.False(t, p.Up)
	assert.Equal(t, "Authentication failed", p.Reason)
}

func TestRecorders_FanOut(t *testing.T) {
	a, b := &fakeWriter{}, &fakeWriter{}
	rs := Recorders{NewInfluxRecorder(a), nil, NewInfluxRecorder(b)}

	rs.RecordState(context.Background(), testChange)
	assert.Len(t, a.points, 1)
	assert.Len(t, b.points, 1)
}
