package feature

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/nerrad567/entrance/internal/connection"
)

// errorSeverity marks a real error in a validate reply, as opposed to a
// warning.
const errorSeverity = "<error-severity>error</error-severity>"

// NETCONF exposes NETCONF operations on a target through one request
// type, netconf, whose op field selects the operation.
type NETCONF struct {
	*TargetFeature
	conn atomic.Pointer[connection.NETCONF]
}

// NewNETCONF is the constructor of the netconf feature.
func NewNETCONF(_ context.Context, in Init, channel, target string, req Message) (Feature, error) {
	f := &NETCONF{}
	f.TargetFeature = newTarget(in, channel, target, req, f.connectNETCONF)
	f.on("netconf", f.netconf)
	return f, nil
}

func (f *NETCONF) connectNETCONF(ctx context.Context, factory connection.Factory) error {
	conn := factory.NewNETCONF("netconf", nil)
	f.conn.Store(conn)
	f.AddConnection(ctx, conn, true)
	return conn.Connect(ctx)
}

// netconf never fails with an error: every problem, including a bad op,
// is reported as an RPC failure carrying its text.
func (f *NETCONF) netconf(ctx context.Context, args []any) (Message, error) {
	op, err := stringArg(args, 0, "op")
	if err != nil {
		return RPCFailure(err.Error()), nil
	}
	req, _ := asMap(args[1])

	reply, err := f.run(ctx, op, req)
	if err != nil {
		return RPCFailure(err.Error()), nil
	}

	text := reply.String()
	switch {
	case reply.OK:
		return RPCSuccess(text), nil
	case op == connection.ActionValidate && !strings.Contains(text, errorSeverity):
		// Only warnings: the candidate is valid.
		return RPCSuccess(text), nil
	default:
		return RPCFailure(text), nil
	}
}

func (f *NETCONF) run(ctx context.Context, op string, req map[string]any) (*connection.Reply, error) {
	conn := f.conn.Load()
	if conn == nil {
		return nil, fmt.Errorf("%w: %s has no connection", ErrNoConnection, f.name)
	}

	value := func() (string, error) {
		v, ok := req[KeyValue]
		if !ok {
			return "", fmt.Errorf("%w: %s needs %q", ErrMissingArgument, op, KeyValue)
		}
		s, ok := v.(string)
		if !ok {
			return "", fmt.Errorf("%w: value must be a string, got %T", ErrBadArgument, v)
		}
		return s, nil
	}

	switch op {
	case connection.ActionGet, connection.ActionGetConfig, connection.ActionEditConfig:
		v, err := value()
		if err != nil {
			return nil, err
		}
		switch op {
		case connection.ActionGet:
			return conn.Get(ctx, v)
		case connection.ActionGetConfig:
			return conn.GetConfig(ctx, v)
		default:
			return conn.EditConfig(ctx, v)
		}
	case connection.ActionCommit:
		return conn.Commit(ctx)
	case connection.ActionValidate:
		return conn.Validate(ctx)
	case connection.ActionDiscardChanges:
		return conn.DiscardChanges(ctx)
	default:
		return nil, fmt.Errorf("unknown netconf op %q", op)
	}
}
