package feature

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/nerrad567/entrance/internal/connection"
)

const (
	syslogNfn = "syslog"

	// syslogPoll bounds each read so the tail loop notices a disconnect.
	syslogPoll = time.Second
)

// Syslog streams terminal-monitor output from a target as syslog
// notifications. The start_feature request may carry filters (regular
// expressions, any of which must match a line) and debugs (commands run
// before monitoring starts).
type Syslog struct {
	*TargetFeature
	filter *regexp.Regexp
	debugs []string
}

// NewSyslog is the constructor of the syslog feature.
func NewSyslog(_ context.Context, in Init, channel, target string, req Message) (Feature, error) {
	filters, err := stringList(req["filters"], "filters")
	if err != nil {
		return nil, err
	}
	debugs, err := stringList(req["debugs"], "debugs")
	if err != nil {
		return nil, err
	}
	filter, err := compileFilters(filters)
	if err != nil {
		return nil, err
	}

	f := &Syslog{filter: filter, debugs: debugs}
	f.TargetFeature = newTarget(in, channel, target, req, f.connectCLI)
	return f, nil
}

// compileFilters joins filters into one alternation. With none, any line
// with a non-space character passes.
func compileFilters(filters []string) (*regexp.Regexp, error) {
	if len(filters) == 0 {
		filters = []string{`\S`}
	}
	parts := make([]string, len(filters))
	for i, f := range filters {
		parts[i] = "(" + f + ")"
	}
	re, err := regexp.Compile(strings.Join(parts, "|"))
	if err != nil {
		return nil, fmt.Errorf("%w: filters: %v", ErrBadArgument, err)
	}
	return re, nil
}

func (f *Syslog) connectCLI(ctx context.Context, factory connection.Factory) error {
	conn := factory.NewCLI("syslog", f.finalize)
	f.AddConnection(ctx, conn, true)
	return conn.Connect(ctx)
}

// finalize clears old debugs, enables terminal monitor and the requested
// debugs, then starts tailing. The tail runs on its own goroutine so the
// connection can become CONNECTED.
func (f *Syslog) finalize(ctx context.Context, c *connection.CLI) error {
	commands := append([]string{"undebug all all-tty", "terminal monitor"}, f.debugs...)
	for _, cmd := range commands {
		if err := c.Send(ctx, cmd+"\n", connection.Override); err != nil {
			return err
		}
		if _, err := c.ExpectPrompt(ctx, false, connection.Override); err != nil {
			return err
		}
	}

	go f.tail(context.WithoutCancel(ctx), c)
	return nil
}

// tail reads output until the connection is shut down or fails. A failure
// makes the connection reconnect, and the next finalize starts a new tail.
func (f *Syslog) tail(ctx context.Context, c *connection.CLI) {
	if err := c.SetTimeout(ctx, syslogPoll, connection.Override); err != nil {
		f.logger.Debug("syslog tail not started", "target", f.target, "error", err)
		return
	}

	base := Message{KeyNfnType: syslogNfn}
	if id, ok := f.request[KeyID]; ok {
		base[KeyID] = id
	}

	for {
		select {
		case <-c.Done():
			return
		default:
		}

		data, err := c.Recv(ctx, 0, connection.Override)
		if err != nil {
			f.logger.Debug("syslog tail stopped", "target", f.target, "error", err)
			return
		}
		for _, line := range strings.Split(data, "\n") {
			if !f.filter.MatchString(line) {
				continue
			}
			nfn := base.Clone()
			nfn[KeyResult] = line
			nfn["time"] = float64(f.env.now().UnixNano()) / float64(time.Second)
			if err := f.Notify(ctx, nfn); err != nil {
				f.logger.Debug("syslog notification not sent", "target", f.target, "error", err)
			}
		}
	}
}
