package ssh

import (
	"context"
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	gossh "golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	"github.com/nerrad567/entrance/internal/connection"
)

// Name is the connection type clients request in a connect message.
const Name = "ssh"

const (
	defaultConnectTimeout = 30 * time.Second

	// recvBufferSize is the largest single read from a shell.
	recvBufferSize = 10000

	// outputQueueSize bounds shell output held between recv requests.
	outputQueueSize = 256
)

// Options configures SSH connections.
type Options struct {
	// ConnectTimeout bounds dialing, the SSH handshake and waiting for the
	// first prompt.
	ConnectTimeout time.Duration

	// KnownHosts is an OpenSSH known_hosts file. Empty accepts any host
	// key, matching how lab routers are usually reached.
	KnownHosts string

	DisconnectGrace time.Duration
	Logger          connection.Logger
}

// NewFactoryBuilder returns the builder registered under Name.
func NewFactoryBuilder(opts Options) connection.FactoryBuilder {
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = defaultConnectTimeout
	}
	return func(creds connection.Credentials) (connection.Factory, error) {
		if opts.KnownHosts != "" {
			if _, err := os.Stat(opts.KnownHosts); err != nil {
				return nil, fmt.Errorf("ssh: known_hosts: %w", err)
			}
		}
		return &connection.DriverFactory{
			Credentials:     creds,
			CLIDriver:       func() connection.Driver { return newCLIDriver(opts) },
			NETCONFDriver:   func() connection.Driver { return newNETCONFDriver(opts) },
			DisconnectGrace: opts.DisconnectGrace,
			Logger:          opts.Logger,
		}, nil
	}
}

// clientConfig builds the x/crypto/ssh client configuration. A key file
// takes precedence over the password.
func clientConfig(creds connection.Credentials, opts Options) (*gossh.ClientConfig, error) {
	auth, err := authMethods(creds)
	if err != nil {
		return nil, err
	}
	hostKeys, err := hostKeyCallback(opts.KnownHosts)
	if err != nil {
		return nil, err
	}
	return &gossh.ClientConfig{
		User:            creds.Username,
		Auth:            auth,
		HostKeyCallback: hostKeys,
		Timeout:         opts.ConnectTimeout,
	}, nil
}

func authMethods(creds connection.Credentials) ([]gossh.AuthMethod, error) {
	if creds.SSHKey != "" {
		pem, err := os.ReadFile(creds.SSHKey)
		if err != nil {
			return nil, fmt.Errorf("ssh: reading key: %w", err)
		}
		signer, err := gossh.ParsePrivateKey(pem)
		if err != nil {
			return nil, fmt.Errorf("ssh: parsing key: %w", err)
		}
		return []gossh.AuthMethod{gossh.PublicKeys(signer)}, nil
	}

	password := creds.Password
	return []gossh.AuthMethod{
		gossh.Password(password),
		// IOS-XR commonly offers keyboard-interactive only.
		gossh.KeyboardInteractive(func(_, _ string, questions []string, _ []bool) ([]string, error) {
			answers := make([]string, len(questions))
			for i := range answers {
				answers[i] = password
			}
			return answers, nil
		}),
	}, nil
}

func hostKeyCallback(path string) (gossh.HostKeyCallback, error) {
	if path == "" {
		return gossh.InsecureIgnoreHostKey(), nil //nolint:gosec // Opt-in verification via known_hosts
	}
	cb, err := knownhosts.New(path)
	if err != nil {
		return nil, fmt.Errorf("ssh: known_hosts: %w", err)
	}
	return cb, nil
}

// dial connects and completes the SSH handshake within the connect
// timeout. The client is closed if ctx is cancelled before release is
// called.
func dial(ctx context.Context, host string, port int, cfg *gossh.ClientConfig, timeout time.Duration) (client *gossh.Client, release func() bool, err error) {
	addr := net.JoinHostPort(host, strconv.Itoa(port))

	d := net.Dialer{Timeout: timeout}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, nil, err
	}

	_ = conn.SetDeadline(time.Now().Add(timeout)) //nolint:errcheck // Best effort handshake bound
	c, chans, reqs, err := gossh.NewClientConn(conn, addr, cfg)
	if err != nil {
		conn.Close() //nolint:errcheck // Already failing
		return nil, nil, err
	}
	_ = conn.SetDeadline(time.Time{}) //nolint:errcheck // Clear handshake bound

	client = gossh.NewClient(c, chans, reqs)
	release = context.AfterFunc(ctx, func() { client.Close() }) //nolint:errcheck // Forced teardown
	return client, release, nil
}
