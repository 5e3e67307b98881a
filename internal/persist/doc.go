// Package persist stores small per-user JSON documents for the persist
// feature and shares changes between sessions.
//
// Documents are keyed by (userid, channel) and kept in SQLite through the
// infrastructure database package. A Pool opens each database file once
// per process; a Bus tells sessions that loaded a document when another
// session saves it.
package persist
