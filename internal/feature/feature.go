package feature

import (
	"context"
	"fmt"
	"runtime/debug"
)

// Feature handles a subset of the request types of a session.
type Feature interface {
	Name() string
	Schema() *Schema

	// Handle processes one request. It never fails: problems become error
	// notifications or RPC failure replies.
	Handle(ctx context.Context, req Message)

	// Close is called once when the session ends.
	Close()
}

// DynamicFeature is a feature started at runtime for a channel and target.
type DynamicFeature interface {
	Feature
	Channel() string
	Target() string

	// ParentTarget names the group this feature flocks under; empty means
	// none.
	ParentTarget() string
}

// Greeter is implemented by features with something to say as soon as a
// session is up, before any request is read.
type Greeter interface {
	Greeting() Message
}

// Session is the part of the session router features use.
type Session interface {
	ID() string

	// Notify sends a message to the client.
	Notify(ctx context.Context, msg Message) error

	AddFeature(ctx context.Context, f Feature, channel, target string) error
	RemoveFeature(ctx context.Context, f Feature, channel, target string) error

	// Group returns the target group registered for target.
	Group(target string) (*TargetGroup, bool)

	// TargetFeatures returns the target features flocking under
	// parentTarget.
	TargetFeatures(parentTarget string) []Targeter
}

// Init is what every constructor receives.
type Init struct {
	Name    string
	Schema  *Schema
	Env     *Env
	Session Session
}

// ConfiguredConstructor builds a configured feature from decoded options
// (a value returned by the definition's NewOptions).
type ConfiguredConstructor func(ctx context.Context, in Init, options any) (Feature, error)

// DynamicConstructor builds a dynamic feature for channel and target.
// req is the start_feature request.
type DynamicConstructor func(ctx context.Context, in Init, channel, target string, req Message) (Feature, error)

// Op implements one request type. A nil Message means no reply. A
// returned error becomes an RPC failure reply.
type Op func(ctx context.Context, args []any) (Message, error)

// Base implements request dispatch for every feature.
type Base struct {
	name    string
	schema  *Schema
	env     *Env
	session Session
	logger  Logger
	ops     map[string]Op
}

func newBase(in Init) Base {
	return Base{
		name:    in.Name,
		schema:  in.Schema,
		env:     in.Env,
		session: in.Session,
		logger:  in.Env.logger(),
		ops:     make(map[string]Op),
	}
}

func (b *Base) Name() string     { return b.name }
func (b *Base) Schema() *Schema  { return b.schema }
func (b *Base) Session() Session { return b.session }
func (b *Base) Close()           {}

// on binds reqType to op. reqType must be in the schema.
func (b *Base) on(reqType string, op Op) {
	if _, ok := b.schema.Args(reqType); !ok {
		panic(fmt.Sprintf("feature %s: %s is not in its schema", b.name, reqType))
	}
	b.ops[reqType] = op
}

// Handle binds the request's arguments, runs its operation and sends the
// reply, if any, with the request's channel, id and target echoed.
func (b *Base) Handle(ctx context.Context, req Message) {
	reqType := req.String(KeyReqType)
	args, err := b.schema.Bind(reqType, req)
	op := b.ops[reqType]
	if err == nil && op == nil {
		err = fmt.Errorf("%w: %s has no handler", ErrUnknownRequest, reqType)
	}
	if err != nil {
		b.logger.Info("unparseable request", "feature", b.name, "error", err)
		b.send(ctx, ErrorNotification("Unparseable JSON request: "+req.JSON()))
		return
	}

	start := b.env.now()
	result, err := runOp(ctx, b.logger, op, args)
	b.env.metrics().ObserveHandle(reqType, b.env.now().Sub(start))

	if err != nil {
		b.logger.Error("request failed", "feature", b.name, "req_type", reqType, "error", err)
		b.env.metrics().RPCFailure(reqType)
		result = RPCFailure(fmt.Sprintf("Exception handling %s: %v", reqType, err))
	}
	if result == nil {
		return
	}

	result[KeyChannel] = req[KeyChannel]
	if id, ok := req[KeyID]; ok {
		result[KeyID] = id
	}
	if target, ok := req[KeyTarget]; ok {
		result[KeyTarget] = target
	}
	if result.String(KeyNfnType) == "" {
		result[KeyNfnType] = reqType
	}
	if nfnType := result.String(KeyNfnType); !b.schema.Allows(nfnType) {
		b.logger.Error("feature sent disallowed notification", "feature", b.name, "nfn_type", nfnType)
		result = RPCFailure(fmt.Sprintf("Exception handling %s: %v: %s", reqType, ErrDisallowedNotification, nfnType))
		result[KeyChannel] = req[KeyChannel]
		result[KeyNfnType] = reqType
	}
	b.send(ctx, result)
}

// Notify sends a notification after checking its type against the schema.
func (b *Base) Notify(ctx context.Context, msg Message) error {
	if nfnType := msg.String(KeyNfnType); !b.schema.Allows(nfnType) {
		b.logger.Error("feature sent disallowed notification", "feature", b.name, "nfn_type", nfnType)
		return fmt.Errorf("%w: %s may not send %q", ErrDisallowedNotification, b.name, nfnType)
	}
	return b.session.Notify(ctx, msg)
}

func (b *Base) send(ctx context.Context, msg Message) {
	if err := b.session.Notify(ctx, msg); err != nil {
		b.logger.Debug("reply not sent", "feature", b.name, "error", err)
	}
}

func runOp(ctx context.Context, logger Logger, op Op, args []any) (result Message, err error) {
	defer func() {
		if r := recover(); r != nil {
			logger.Debug("operation panicked", "stack", string(debug.Stack()))
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return op(ctx, args)
}
