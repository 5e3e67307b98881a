package feature

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/nerrad567/entrance/internal/connection"
)

// CLIExec runs exec-mode CLI commands on a target.
type CLIExec struct {
	*TargetFeature
	conn atomic.Pointer[connection.CLI]
}

// NewCLIExec is the constructor of the cli_exec feature.
func NewCLIExec(_ context.Context, in Init, channel, target string, req Message) (Feature, error) {
	f := &CLIExec{}
	f.TargetFeature = newTarget(in, channel, target, req, f.connectCLI)
	f.on("cli_exec", f.cliExec)
	return f, nil
}

func (f *CLIExec) connectCLI(ctx context.Context, factory connection.Factory) error {
	conn := factory.NewCLI("cli_exec", f.finalize)
	f.conn.Store(conn)
	f.AddConnection(ctx, conn, true)
	return conn.Connect(ctx)
}

// finalize turns off paging.
func (f *CLIExec) finalize(ctx context.Context, c *connection.CLI) error {
	if err := c.Send(ctx, "run stty rows 0\n", connection.Override); err != nil {
		return err
	}
	_, err := c.ExpectPrompt(ctx, false, connection.Override)
	return err
}

func (f *CLIExec) cliExec(ctx context.Context, args []any) (Message, error) {
	command, err := stringArg(args, 0, "command")
	if err != nil {
		return nil, err
	}
	conn, err := cliConn(&f.conn, f.name)
	if err != nil {
		return nil, err
	}

	if err := conn.Send(ctx, command+"\n"); err != nil {
		return nil, err
	}
	out, err := conn.ExpectPrompt(ctx, false)
	if err != nil {
		return nil, err
	}
	if rest, ok := connection.StripEcho(out); ok {
		return RPCSuccess(rest), nil
	}
	return RPCFailure(out), nil
}

func cliConn(p *atomic.Pointer[connection.CLI], name string) (*connection.CLI, error) {
	conn := p.Load()
	if conn == nil {
		return nil, fmt.Errorf("%w: %s has no connection", ErrNoConnection, name)
	}
	return conn, nil
}
