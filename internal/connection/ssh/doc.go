// Package ssh implements device connections over SSH using
// golang.org/x/crypto/ssh.
//
// Two drivers are provided for the connection bridge:
//   - CLI: an interactive shell on a pseudo-terminal, serving send, recv
//     and settimeout
//   - NETCONF: a NETCONF 1.0 session on the "netconf" subsystem, serving
//     get, get_config, edit_config, commit, validate and discard_changes
//
// Both are registered under the "ssh" connection type via NewFactoryBuilder.
// A private key path in the credentials takes precedence over a password.
// Host keys are verified only when a known_hosts file is configured.
package ssh
