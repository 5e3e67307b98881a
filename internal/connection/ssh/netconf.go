package ssh

import (
	"bufio"
	"context"
	"fmt"
	"io"

	gossh "golang.org/x/crypto/ssh"

	"github.com/nerrad567/entrance/internal/connection"
)

const netconfSubsystem = "netconf"

// netconfSession is one NETCONF 1.0 session over the netconf subsystem.
type netconfSession struct {
	client  *gossh.Client
	release func() bool
	session *gossh.Session
	stdin   io.WriteCloser
	stdout  *bufio.Reader

	messageID uint64
}

func openNETCONF(ctx context.Context, creds connection.Credentials, opts Options) (*netconfSession, error) {
	cfg, err := clientConfig(creds, opts)
	if err != nil {
		return nil, err
	}
	client, release, err := dial(ctx, creds.Host, creds.NETCONFPort, cfg, opts.ConnectTimeout)
	if err != nil {
		return nil, fmt.Errorf("netconf: connecting to %s: %w", creds.Host, err)
	}

	fail := func(err error) (*netconfSession, error) {
		release()
		client.Close() //nolint:errcheck // Already failing
		return nil, err
	}

	session, err := client.NewSession()
	if err != nil {
		return fail(fmt.Errorf("netconf: opening session: %w", err))
	}
	stdin, err := session.StdinPipe()
	if err != nil {
		return fail(err)
	}
	stdout, err := session.StdoutPipe()
	if err != nil {
		return fail(err)
	}
	if err := session.RequestSubsystem(netconfSubsystem); err != nil {
		return fail(fmt.Errorf("netconf: requesting subsystem: %w", err))
	}

	s := &netconfSession{
		client:  client,
		release: release,
		session: session,
		stdin:   stdin,
		stdout:  bufio.NewReader(stdout),
	}

	// The server's hello carries its capabilities; base 1.0 framing is
	// all we advertise, so there is nothing to negotiate.
	if _, err := readFrame(s.stdout); err != nil {
		return fail(fmt.Errorf("netconf: reading hello: %w", err))
	}
	if err := writeFrame(s.stdin, clientHello()); err != nil {
		return fail(fmt.Errorf("netconf: sending hello: %w", err))
	}
	return s, nil
}

func (s *netconfSession) rpc(body string) (*connection.Reply, error) {
	s.messageID++
	if err := writeFrame(s.stdin, rpcMessage(s.messageID, body)); err != nil {
		return nil, fmt.Errorf("netconf: sending rpc: %w", err)
	}
	msg, err := readFrame(s.stdout)
	if err != nil {
		return nil, fmt.Errorf("netconf: reading reply: %w", err)
	}
	return parseReply(msg)
}

func (s *netconfSession) close() error {
	_, rpcErr := s.rpc(closeSessionBody)
	s.release()
	s.session.Close() //nolint:errcheck // Client close below reports failures
	if err := s.client.Close(); err != nil && rpcErr == nil {
		return err
	}
	return rpcErr
}

// netconfDriver serves the NETCONF actions from the bridge's worker.
type netconfDriver struct {
	opts    Options
	session *netconfSession
}

func newNETCONFDriver(opts Options) *netconfDriver {
	return &netconfDriver{opts: opts}
}

func (d *netconfDriver) Connect(ctx context.Context, creds connection.Credentials) error {
	if d.session != nil {
		d.session.close() //nolint:errcheck // Replacing a failed session
		d.session = nil
	}
	s, err := openNETCONF(ctx, creds, d.opts)
	if err != nil {
		return err
	}
	d.session = s
	return nil
}

func (d *netconfDriver) Disconnect(context.Context) error {
	if d.session == nil {
		return nil
	}
	err := d.session.close()
	d.session = nil
	return err
}

func (d *netconfDriver) Handlers() map[string]connection.Handler {
	return map[string]connection.Handler{
		connection.ActionGet: func(_ context.Context, args ...any) (any, error) {
			filter, err := optionalStringArg(args, 0)
			if err != nil {
				return nil, err
			}
			return d.call(getBody(filter))
		},
		connection.ActionGetConfig: func(_ context.Context, args ...any) (any, error) {
			filter, err := optionalStringArg(args, 0)
			if err != nil {
				return nil, err
			}
			return d.call(getConfigBody(filter))
		},
		connection.ActionEditConfig: func(_ context.Context, args ...any) (any, error) {
			config, err := stringArg(args, 0)
			if err != nil {
				return nil, err
			}
			// Leftovers from an earlier failed edit must not leak into this one.
			if _, err := d.call(discardChangesBody); err != nil {
				return nil, err
			}
			return d.call(editConfigBody(config))
		},
		connection.ActionCommit: func(context.Context, ...any) (any, error) {
			return d.call(commitBody)
		},
		connection.ActionValidate: func(context.Context, ...any) (any, error) {
			return d.call(validateBody)
		},
		connection.ActionDiscardChanges: func(context.Context, ...any) (any, error) {
			return d.call(discardChangesBody)
		},
	}
}

func (d *netconfDriver) call(body string) (*connection.Reply, error) {
	if d.session == nil {
		return nil, errNotOpen
	}
	return d.session.rpc(body)
}

func optionalStringArg(args []any, i int) (string, error) {
	if i >= len(args) {
		return "", nil
	}
	return stringArg(args, i)
}
