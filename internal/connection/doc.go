// Package connection models live sessions to remote devices.
//
// Every connection moves through the states in state.go. A Bridge runs a
// blocking protocol Driver on its own worker goroutine and exposes it to
// the rest of the gateway through Request, which waits on a completion
// channel rather than blocking a session goroutine on device I/O.
//
// # Lifecycle
//
//	DISCONNECTED -> CONNECTING -> FINALIZING -> CONNECTED
//	CONNECTING -> FAILED_TO_CONNECT
//	CONNECTED -> RECONNECTING_AFTER_FAILURE -> CONNECTING
//	any -> DISCONNECTING -> DISCONNECTED | FAILURE_WHILE_DISCONNECTING
//
// FINALIZING runs the connection's finalizer (for example "terminal
// length 0" on a CLI). Requests made by a finalizer pass Override, since
// ordinary requests are refused until the state is CONNECTED.
//
// # Usage
//
//	factory, err := factories.New("ssh", creds)
//	cli := factory.NewCLI("cli_exec", finalize)
//	cli.AddListener(onState)
//	if err := cli.Connect(ctx); err != nil {
//	    return err
//	}
//	out, err := cli.ExpectPrompt(ctx, true)
package connection
