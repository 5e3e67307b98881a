// Package feature implements the pluggable request handlers of a session.
//
// A feature declares the request types it accepts and the notification
// types it may send in a Definition. Definitions extend one another; the
// Registry flattens them once at startup into a Schema per variant.
//
// Configured features (core, persist) exist once per session and are
// routed by request type alone. Dynamic features are started by the
// client with start_feature and routed by request type, channel and
// target. Target features own device connections and report an
// aggregate connection state: the highest-ranking state among their
// children. A target group aggregates the target features whose parent
// target is its own target.
//
// # Request handling
//
// Base.Handle binds a request's arguments, runs the bound operation and
// sends its reply with the request's channel, id and target echoed.
// Operations never take a session down: a missing argument becomes an
// error notification and a failed or panicking operation becomes an RPC
// failure reply.
package feature
