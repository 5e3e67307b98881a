package ssh

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	gossh "golang.org/x/crypto/ssh"

	"github.com/nerrad567/entrance/internal/connection"
)

var (
	errNoPrompt    = errors.New("ssh: no prompt from device")
	errNotOpen     = errors.New("ssh: shell not open")
	errRecvTimeout = errors.New("ssh: recv timeout")
)

// shell is one interactive session. output is fed by the reader goroutine
// and closed when the shell ends, after err is set.
type shell struct {
	client  *gossh.Client
	release func() bool
	session *gossh.Session
	stdin   io.WriteCloser

	output chan []byte
	err    error
	closed chan struct{}
}

func (s *shell) pump(r io.Reader) {
	defer close(s.output)
	buf := make([]byte, recvBufferSize)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			select {
			case s.output <- chunk:
			case <-s.closed:
				return
			}
		}
		if err != nil {
			s.err = err
			return
		}
	}
}

func (s *shell) close() error {
	close(s.closed)
	s.release()
	s.session.Close() //nolint:errcheck // Client close below reports failures
	err := s.client.Close()
	if err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// cliDriver drives an interactive shell. It is only used from the
// bridge's worker goroutine.
type cliDriver struct {
	opts Options

	shell   *shell
	pending []byte
	timeout time.Duration
}

func newCLIDriver(opts Options) *cliDriver {
	return &cliDriver{opts: opts}
}

func (d *cliDriver) Handlers() map[string]connection.Handler {
	return map[string]connection.Handler{
		connection.ActionSend:       d.send,
		connection.ActionRecv:       d.recv,
		connection.ActionSetTimeout: d.setTimeout,
	}
}

func (d *cliDriver) Connect(ctx context.Context, creds connection.Credentials) error {
	d.close() //nolint:errcheck // Replacing a failed shell

	sh, err := openShell(ctx, creds, d.opts)
	if err != nil {
		return err
	}
	d.shell = sh
	d.pending = nil
	d.timeout = 0

	return d.swallowBanner()
}

func openShell(ctx context.Context, creds connection.Credentials, opts Options) (*shell, error) {
	cfg, err := clientConfig(creds, opts)
	if err != nil {
		return nil, err
	}
	client, release, err := dial(ctx, creds.Host, creds.SSHPort, cfg, opts.ConnectTimeout)
	if err != nil {
		return nil, fmt.Errorf("ssh: connecting to %s: %w", creds.Host, err)
	}

	fail := func(err error) (*shell, error) {
		release()
		client.Close() //nolint:errcheck // Already failing
		return nil, err
	}

	session, err := client.NewSession()
	if err != nil {
		return fail(fmt.Errorf("ssh: opening session: %w", err))
	}
	stdin, err := session.StdinPipe()
	if err != nil {
		return fail(err)
	}
	stdout, err := session.StdoutPipe()
	if err != nil {
		return fail(err)
	}
	// Zero width and height: the device neither wraps nor pages.
	if err := session.RequestPty("vt100", 0, 0, gossh.TerminalModes{}); err != nil {
		return fail(fmt.Errorf("ssh: requesting pty: %w", err))
	}
	if err := session.Shell(); err != nil {
		return fail(fmt.Errorf("ssh: starting shell: %w", err))
	}

	sh := &shell{
		client:  client,
		release: release,
		session: session,
		stdin:   stdin,
		output:  make(chan []byte, outputQueueSize),
		closed:  make(chan struct{}),
	}
	go sh.pump(stdout)
	return sh, nil
}

// swallowBanner nudges the shell and discards output up to the first
// prompt character.
func (d *cliDriver) swallowBanner() error {
	if _, err := io.WriteString(d.shell.stdin, "\n"); err != nil {
		return err
	}
	deadline := time.Now().Add(d.opts.ConnectTimeout)
	for time.Now().Before(deadline) {
		chunk, err := d.next(time.Until(deadline))
		if errors.Is(err, errRecvTimeout) {
			break
		}
		if err != nil {
			return err
		}
		if strings.Contains(string(chunk), "#") {
			return nil
		}
	}
	return errNoPrompt
}

func (d *cliDriver) Disconnect(context.Context) error {
	return d.close()
}

func (d *cliDriver) close() error {
	if d.shell == nil {
		return nil
	}
	err := d.shell.close()
	d.shell = nil
	return err
}

func (d *cliDriver) send(_ context.Context, args ...any) (any, error) {
	data, err := stringArg(args, 0)
	if err != nil {
		return nil, err
	}
	if d.shell == nil {
		return nil, errNotOpen
	}
	_, err = io.WriteString(d.shell.stdin, data)
	return nil, err
}

// recv returns up to nbytes of output, or with nbytes 0 everything queued
// once some output has arrived. An expired timeout yields an empty slice.
func (d *cliDriver) recv(_ context.Context, args ...any) (any, error) {
	nbytes, err := intArg(args, 0)
	if err != nil {
		return nil, err
	}

	if len(d.pending) == 0 {
		chunk, err := d.next(d.timeout)
		if errors.Is(err, errRecvTimeout) {
			return []byte{}, nil
		}
		if err != nil {
			return nil, err
		}
		d.pending = chunk
	}

	if nbytes == 0 {
		d.drain()
	}

	n := len(d.pending)
	if nbytes > 0 && nbytes < n {
		n = nbytes
	}
	out := d.pending[:n]
	d.pending = d.pending[n:]
	return out, nil
}

// next waits for one chunk. A zero timeout waits until the shell closes.
func (d *cliDriver) next(timeout time.Duration) ([]byte, error) {
	if d.shell == nil {
		return nil, errNotOpen
	}
	var expired <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}
	select {
	case chunk, ok := <-d.shell.output:
		if !ok {
			if d.shell.err != nil && !errors.Is(d.shell.err, io.EOF) {
				return nil, fmt.Errorf("ssh: shell closed: %w", d.shell.err)
			}
			return nil, errors.New("ssh: shell closed")
		}
		return chunk, nil
	case <-expired:
		return nil, errRecvTimeout
	}
}

func (d *cliDriver) drain() {
	for {
		select {
		case chunk, ok := <-d.shell.output:
			if !ok {
				return
			}
			d.pending = append(d.pending, chunk...)
		default:
			return
		}
	}
}

func (d *cliDriver) setTimeout(_ context.Context, args ...any) (any, error) {
	if len(args) != 1 {
		return nil, fmt.Errorf("settimeout: want 1 argument, got %d", len(args))
	}
	timeout, ok := args[0].(time.Duration)
	if !ok {
		return nil, fmt.Errorf("settimeout: want time.Duration, got %T", args[0])
	}
	d.timeout = timeout
	return nil, nil
}

func stringArg(args []any, i int) (string, error) {
	if i >= len(args) {
		return "", fmt.Errorf("missing argument %d", i)
	}
	s, ok := args[i].(string)
	if !ok {
		return "", fmt.Errorf("argument %d: want string, got %T", i, args[i])
	}
	return s, nil
}

func intArg(args []any, i int) (int, error) {
	if i >= len(args) {
		return 0, nil
	}
	n, ok := args[i].(int)
	if !ok {
		return 0, fmt.Errorf("argument %d: want int, got %T", i, args[i])
	}
	return n, nil
}
