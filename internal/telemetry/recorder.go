package telemetry

import (
	"context"
	"encoding/json"
	"time"

	"github.com/nerrad567/entrance/internal/connection"
	"github.com/nerrad567/entrance/internal/infrastructure/influxdb"
)

// StateChange is one aggregate state update of a target feature.
type StateChange struct {
	Session string
	Target  string
	Feature string

	// Child is the reporting child and its own status.
	Child       string
	ChildStatus connection.Status

	Aggregate connection.Status
	Time      time.Time
}

// StateRecorder receives every aggregate state change. Implementations
// must not block; they are called from connection listeners.
type StateRecorder interface {
	RecordState(ctx context.Context, change StateChange)
}

// Recorders fans a change out to several recorders.
type Recorders []StateRecorder

func (rs Recorders) RecordState(ctx context.Context, change StateChange) {
	for _, r := range rs {
		if r != nil {
			r.RecordState(ctx, change)
		}
	}
}

// Logger interface for optional logging.
// Compatible with logging.Logger and slog.Logger.
type Logger interface {
	Warn(msg string, args ...any)
}

// RecordState updates the per-target gauge and transition counter.
func (m *Metrics) RecordState(_ context.Context, change StateChange) {
	if m == nil {
		return
	}
	m.stateChangesTotal.WithLabelValues(change.Feature, change.Aggregate.State.String()).Inc()
	m.targetState.WithLabelValues(change.Target, change.Feature).Set(float64(change.Aggregate.State))
}

// Publisher is the part of the MQTT client the recorder needs.
type Publisher interface {
	PublishRetained(topic string, payload []byte) error
}

// TopicFunc names the retained topic for a target feature.
type TopicFunc func(target, feature string) string

// MQTTRecorder mirrors aggregate state to retained MQTT topics.
type MQTTRecorder struct {
	publisher Publisher
	topic     TopicFunc
	logger    Logger
}

// NewMQTTRecorder creates a recorder publishing through p. topic is
// usually mqtt.Topics.ConnectionState.
func NewMQTTRecorder(p Publisher, topic TopicFunc, logger Logger) *MQTTRecorder {
	return &MQTTRecorder{publisher: p, topic: topic, logger: logger}
}

type statePayload struct {
	State      string `json:"state"`
	Error      any    `json:"error"`
	Up         bool   `json:"state_is_up"`
	Child      string `json:"child"`
	ChildState string `json:"child_state"`
	Session    string `json:"session"`
	Timestamp  string `json:"timestamp"`
}

func (r *MQTTRecorder) RecordState(_ context.Context, change StateChange) {
	wire := change.Aggregate.Wire()
	payload, err := json.Marshal(statePayload{
		State:      change.Aggregate.State.String(),
		Error:      wire["error"],
		Up:         change.Aggregate.State == connection.Connected,
		Child:      change.Child,
		ChildState: change.ChildStatus.State.String(),
		Session:    change.Session,
		Timestamp:  change.Time.UTC().Format(time.RFC3339),
	})
	if err != nil {
		return
	}
	if err := r.publisher.PublishRetained(r.topic(change.Target, change.Feature), payload); err != nil && r.logger != nil {
		r.logger.Warn("publishing connection state failed", "target", change.Target, "error", err)
	}
}

// PointWriter is the part of the InfluxDB client the recorder needs.
type PointWriter interface {
	WriteConnectionState(p influxdb.StatePoint)
}

// InfluxRecorder keeps a history of aggregate state changes in InfluxDB.
type InfluxRecorder struct {
	writer PointWriter
}

func NewInfluxRecorder(w PointWriter) *InfluxRecorder {
	return &InfluxRecorder{writer: w}
}

func (r *InfluxRecorder) RecordState(_ context.Context, change StateChange) {
	r.writer.WriteConnectionState(influxdb.StatePoint{
		Session: change.Session,
		Target:  change.Target,
		Feature: change.Feature,
		Child:   change.Child,
		State:   change.Aggregate.State.String(),
		Level:   int(change.Aggregate.State),
		Up:      change.Aggregate.State == connection.Connected,
		Reason:  change.Aggregate.Reason,
		Time:    change.Time,
	})
}
