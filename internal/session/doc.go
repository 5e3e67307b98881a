// Package session routes one client's requests to its features.
//
// A Router owns two dispatch tables. Configured features are found by
// request type and handled inline, so the next frame is not read until
// they finish. Dynamic features are found by request type, channel and
// target and handled on their own goroutine; requests sharing that key
// are still handled one at a time. Anything a client sends that cannot
// be routed produces an error notification on the "error" channel.
//
// Router.Notify is the only way out to the client. It logs a redacted
// copy of each message: secrets are masked and long strings shortened.
package session
