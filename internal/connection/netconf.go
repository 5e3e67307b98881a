package connection

import (
	"context"
	"fmt"
	"strings"
)

// NETCONF driver actions.
const (
	ActionGet            = "get"
	ActionGetConfig      = "get_config"
	ActionEditConfig     = "edit_config"
	ActionCommit         = "commit"
	ActionValidate       = "validate"
	ActionDiscardChanges = "discard_changes"
)

// Reply is a NETCONF rpc-reply. Replies carrying rpc-error elements are
// returned, not raised, so callers can inspect the error severity.
type Reply struct {
	XML string
	OK  bool
}

func (r *Reply) String() string {
	return r.XML
}

// NETCONFFinalizer prepares a freshly connected NETCONF session.
type NETCONFFinalizer func(ctx context.Context, n *NETCONF) error

// NETCONF is a bridge whose driver holds a NETCONF session.
//
// The driver must support get(filter), get_config(filter), edit_config(config),
// commit(), validate() and discard_changes(), each returning *Reply.
// edit_config discards pending candidate changes before editing and
// targets the candidate datastore; get_config reads running; validate
// checks candidate.
type NETCONF struct {
	*Bridge
}

// NewNETCONF wraps driver in an unstarted NETCONF connection.
func NewNETCONF(driver Driver, cfg BridgeConfig, finalizer NETCONFFinalizer) *NETCONF {
	n := &NETCONF{}
	if finalizer != nil {
		cfg.Finalizer = func(ctx context.Context) error { return finalizer(ctx, n) }
	}
	n.Bridge = NewBridge(driver, cfg)
	return n
}

// Get issues <get>, with a subtree filter when filter is non-empty.
func (n *NETCONF) Get(ctx context.Context, filter string, opts ...RequestOption) (*Reply, error) {
	return n.rpc(ctx, ActionGet, opts, filter)
}

// GetConfig issues <get-config> on running. A blank filter means none.
func (n *NETCONF) GetConfig(ctx context.Context, filter string, opts ...RequestOption) (*Reply, error) {
	if strings.TrimSpace(filter) == "" {
		filter = ""
	}
	return n.rpc(ctx, ActionGetConfig, opts, filter)
}

// EditConfig replaces pending candidate changes with config.
func (n *NETCONF) EditConfig(ctx context.Context, config string, opts ...RequestOption) (*Reply, error) {
	return n.rpc(ctx, ActionEditConfig, opts, config)
}

// Commit commits the candidate datastore.
func (n *NETCONF) Commit(ctx context.Context, opts ...RequestOption) (*Reply, error) {
	return n.rpc(ctx, ActionCommit, opts)
}

// Validate validates the candidate datastore.
func (n *NETCONF) Validate(ctx context.Context, opts ...RequestOption) (*Reply, error) {
	return n.rpc(ctx, ActionValidate, opts)
}

// DiscardChanges drops pending candidate changes.
func (n *NETCONF) DiscardChanges(ctx context.Context, opts ...RequestOption) (*Reply, error) {
	return n.rpc(ctx, ActionDiscardChanges, opts)
}

func (n *NETCONF) rpc(ctx context.Context, action string, opts []RequestOption, args ...any) (*Reply, error) {
	v, err := n.Request(ctx, action, applyOptions(opts).override, args...)
	if err != nil {
		return nil, err
	}
	reply, ok := v.(*Reply)
	if !ok {
		return nil, fmt.Errorf("%w: %s returned %T", ErrUnexpectedResult, action, v)
	}
	return reply, nil
}
