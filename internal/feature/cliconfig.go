package feature

import (
	"context"
	"strings"
	"sync/atomic"

	"github.com/nerrad567/entrance/internal/connection"
)

const (
	// A line echoed back with more than this much extra text was rejected
	// by the parser.
	configLineSlack = 4

	// A commit printing more than this failed.
	maxCommitOutput = 200

	noUnsupportedItems = "% No such configuration item(s)"
)

// CLIConfig loads and commits configuration through the CLI's configure
// mode.
type CLIConfig struct {
	*TargetFeature
	conn atomic.Pointer[connection.CLI]
}

// NewCLIConfig is the constructor of the cli_config feature.
func NewCLIConfig(_ context.Context, in Init, channel, target string, req Message) (Feature, error) {
	f := &CLIConfig{}
	f.TargetFeature = newTarget(in, channel, target, req, f.connectCLI)
	f.on("cli_config_load", f.load)
	f.on("cli_config_commit", f.commit)
	f.on("cli_config_get_failures", f.getFailures)
	f.on("cli_config_get_unsupported", f.getUnsupported)
	return f, nil
}

func (f *CLIConfig) connectCLI(ctx context.Context, factory connection.Factory) error {
	conn := factory.NewCLI("config", f.finalize)
	f.conn.Store(conn)
	f.AddConnection(ctx, conn, true)
	return conn.Connect(ctx)
}

func (f *CLIConfig) finalize(ctx context.Context, c *connection.CLI) error {
	if err := c.Send(ctx, "configure\n", connection.Override); err != nil {
		return err
	}
	_, err := c.ExpectPrompt(ctx, false, connection.Override)
	return err
}

// exec sends one line and returns the output before the next prompt.
func (f *CLIConfig) exec(ctx context.Context, line string, stripTop bool) (string, error) {
	conn, err := cliConn(&f.conn, f.name)
	if err != nil {
		return "", err
	}
	if err := conn.Send(ctx, line+"\n"); err != nil {
		return "", err
	}
	return conn.ExpectPrompt(ctx, stripTop)
}

func (f *CLIConfig) load(ctx context.Context, args []any) (Message, error) {
	config, err := stringArg(args, 0, "config")
	if err != nil {
		return nil, err
	}

	// Start from an empty candidate.
	if _, err := f.exec(ctx, "clear", false); err != nil {
		return nil, err
	}

	var rejected []string
	for _, line := range strings.Split(config, "\n") {
		out, err := f.exec(ctx, line, false)
		if err != nil {
			return nil, err
		}
		if len(out) > len(line)+configLineSlack {
			rejected = append(rejected, out)
		}
	}
	if len(rejected) > 0 {
		return RPCFailure(strings.Join(rejected, "\n")), nil
	}
	return RPCSuccess(""), nil
}

func (f *CLIConfig) commit(ctx context.Context, args []any) (Message, error) {
	checkOnly, err := boolArg(args, 0, "check_only")
	if err != nil {
		return nil, err
	}
	command := "commit"
	if checkOnly {
		command = "validate commit"
	}

	out, err := f.exec(ctx, command, false)
	if err != nil {
		return nil, err
	}
	if len(out) > maxCommitOutput {
		return RPCFailure(out), nil
	}
	return RPCSuccess(""), nil
}

func (f *CLIConfig) getFailures(ctx context.Context, _ []any) (Message, error) {
	out, err := f.exec(ctx, "show configuration failed", true)
	if err != nil {
		return nil, err
	}
	if out = strings.TrimSpace(out); out != "" {
		return RPCFailure(out), nil
	}
	return RPCSuccess(""), nil
}

func (f *CLIConfig) getUnsupported(ctx context.Context, _ []any) (Message, error) {
	out, err := f.exec(ctx, "show configuration validation unsupported", true)
	if err != nil {
		return nil, err
	}
	if out = strings.TrimSpace(out); out != noUnsupportedItems {
		return RPCFailure(out), nil
	}
	return RPCSuccess(""), nil
}
