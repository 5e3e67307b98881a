package feature

import (
	"context"
	"os"
	"time"

	"github.com/nerrad567/entrance/internal/connection"
	"github.com/nerrad567/entrance/internal/persist"
	"github.com/nerrad567/entrance/internal/telemetry"
)

// RestartExitCode is the exit status force_restart uses; the wrapper
// script restarts the process when it sees it.
const RestartExitCode = 42

// Logger interface for optional logging.
// Compatible with logging.Logger and slog.Logger.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}

// Env carries the process-wide collaborators features use. It is shared
// by every session.
type Env struct {
	Logger    Logger
	Registry  *Registry
	Factories connection.Factories

	// Persist and Bus back the persist feature; nil disables it.
	Persist *persist.Pool
	Bus     *persist.Bus

	// States receives every aggregate state change; nil records nothing.
	States  telemetry.StateRecorder
	Metrics *telemetry.Metrics

	// Exit terminates the process (os.Exit by default).
	Exit func(code int)
	Now  func() time.Time
}

func (e *Env) logger() Logger {
	if e == nil || e.Logger == nil {
		return nopLogger{}
	}
	return e.Logger
}

func (e *Env) now() time.Time {
	if e == nil || e.Now == nil {
		return time.Now()
	}
	return e.Now()
}

func (e *Env) exit(code int) {
	if e == nil || e.Exit == nil {
		os.Exit(code)
	}
	e.Exit(code)
}

func (e *Env) metrics() *telemetry.Metrics {
	if e == nil {
		return nil
	}
	return e.Metrics
}

func (e *Env) recordState(ctx context.Context, change telemetry.StateChange) {
	if e == nil || e.States == nil {
		return
	}
	e.States.RecordState(ctx, change)
}
