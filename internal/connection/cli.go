package connection

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"
)

// CLI driver actions.
const (
	ActionSend       = "send"
	ActionRecv       = "recv"
	ActionSetTimeout = "settimeout"
)

var (
	// DefaultPrompt matches an IOS-XR exec or config prompt and captures
	// everything before it.
	DefaultPrompt = regexp.MustCompile(`(?s)^(.*)RP/0/(RP)?0/CPU0:[^\r\n]*?#`)

	// commandEcho matches the echoed command line and the timestamp line
	// IOS-XR prints before command output.
	commandEcho = regexp.MustCompile(`(?s)^[^\n]*\n[^\n]* UTC\r\n(.*)`)

	commandEchoAnywhere = regexp.MustCompile(`(?s)[^\n]*\n[^\n]* UTC\r\n(.*)`)
)

// StripEcho finds the echoed command and timestamp lines anywhere in out
// and returns what follows them. ok is false when there are none, which
// usually means the command was rejected.
func StripEcho(out string) (rest string, ok bool) {
	m := commandEchoAnywhere.FindStringSubmatch(out)
	if m == nil {
		return "", false
	}
	return m[1], true
}

// RequestOption adjusts a single request.
type RequestOption func(*requestOptions)

type requestOptions struct {
	override bool
}

// Override lets a request through regardless of connection state. Used by
// finalizers before the connection is CONNECTED.
func Override(o *requestOptions) {
	o.override = true
}

func applyOptions(opts []RequestOption) requestOptions {
	var o requestOptions
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// CLIFinalizer prepares a freshly connected CLI session.
type CLIFinalizer func(ctx context.Context, c *CLI) error

// CLI is a bridge whose driver keeps an interactive shell open.
//
// The driver must support the send, recv and settimeout actions:
//   - send(data string)
//   - recv(nbytes int) []byte: nbytes 0 means everything available at
//     first shot; an expired timeout returns an empty slice
//   - settimeout(d time.Duration): 0 blocks forever
type CLI struct {
	*Bridge
	prompt *regexp.Regexp
}

// NewCLI wraps driver in an unstarted CLI connection.
func NewCLI(driver Driver, cfg BridgeConfig, finalizer CLIFinalizer) *CLI {
	c := &CLI{prompt: DefaultPrompt}
	if finalizer != nil {
		cfg.Finalizer = func(ctx context.Context) error { return finalizer(ctx, c) }
	}
	c.Bridge = NewBridge(driver, cfg)
	return c
}

// SetPrompt replaces the prompt pattern. The first capture group must be
// the text preceding the prompt. Call before Connect.
func (c *CLI) SetPrompt(re *regexp.Regexp) {
	c.prompt = re
}

// Send writes data to the shell.
func (c *CLI) Send(ctx context.Context, data string, opts ...RequestOption) error {
	_, err := c.Request(ctx, ActionSend, applyOptions(opts).override, data)
	return err
}

// Recv waits for output. See CLI for the nbytes semantics.
func (c *CLI) Recv(ctx context.Context, nbytes int, opts ...RequestOption) (string, error) {
	v, err := c.Request(ctx, ActionRecv, applyOptions(opts).override, nbytes)
	if err != nil {
		return "", err
	}
	switch data := v.(type) {
	case []byte:
		return string(data), nil
	case string:
		return data, nil
	case nil:
		return "", nil
	default:
		return "", fmt.Errorf("%w: recv returned %T", ErrUnexpectedResult, v)
	}
}

// SetTimeout bounds subsequent send/recv calls. When it expires recv
// returns what it has (possibly nothing).
func (c *CLI) SetTimeout(ctx context.Context, d time.Duration, opts ...RequestOption) error {
	_, err := c.Request(ctx, ActionSetTimeout, applyOptions(opts).override, d)
	return err
}

// ExpectPrompt reads until the prompt appears and returns the text before
// it. With stripTop the echoed command and timestamp lines are removed
// when present.
func (c *CLI) ExpectPrompt(ctx context.Context, stripTop bool, opts ...RequestOption) (string, error) {
	var buf strings.Builder
	for {
		chunk, err := c.Recv(ctx, 0, opts...)
		if err != nil {
			return "", err
		}
		buf.WriteString(chunk)

		m := c.prompt.FindStringSubmatch(buf.String())
		if m == nil {
			continue
		}
		out := m[1]
		if stripTop {
			if top := commandEcho.FindStringSubmatch(out); top != nil {
				out = top[1]
			}
		}
		return out, nil
	}
}
