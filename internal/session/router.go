package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"slices"
	"sync"

	"github.com/google/uuid"

	"github.com/nerrad567/entrance/internal/feature"
	"github.com/nerrad567/entrance/internal/telemetry"
)

// DefaultChannel is used for requests that name no channel.
const DefaultChannel = "global"

// Options configures a session.
type Options struct {
	Env       *feature.Env
	Transport Transport

	// Features holds the options of each configured feature to start.
	// Configured features missing from it are skipped.
	Features map[string]map[string]any

	Logger feature.Logger
}

type routeKey struct {
	reqType, channel, target string
}

// route is an optional-table entry. mu keeps requests sharing the key
// from interleaving.
type route struct {
	feature feature.Feature
	mu      *sync.Mutex
}

// Router is one client session. It owns the dispatch tables, the target
// group index and the only path to the client.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
//   - The router never calls into a feature while holding its table lock.
type Router struct {
	id        string
	env       *feature.Env
	transport Transport
	logger    feature.Logger
	metrics   *telemetry.Metrics

	mu       sync.Mutex
	features []feature.Feature
	defaults map[string]feature.Feature
	optional map[routeKey]route
	groups   map[string]*feature.TargetGroup
	targets  map[string][]feature.Targeter

	writeMu sync.Mutex

	// handlers counts running optional requests.
	handlers sync.WaitGroup
}

// New creates a session and starts its configured features.
func New(ctx context.Context, opts Options) (*Router, error) {
	if opts.Env == nil || opts.Env.Registry == nil {
		return nil, errors.New("session: feature registry is required")
	}
	if opts.Transport == nil {
		return nil, errors.New("session: transport is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = nopLogger{}
	}

	r := &Router{
		id:        uuid.NewString(),
		env:       opts.Env,
		transport: opts.Transport,
		logger:    logger,
		metrics:   opts.Env.Metrics,
		defaults:  make(map[string]feature.Feature),
		optional:  make(map[routeKey]route),
		groups:    make(map[string]*feature.TargetGroup),
		targets:   make(map[string][]feature.Targeter),
	}

	for _, def := range r.env.Registry.Configured() {
		if _, ok := opts.Features[def.Name]; !ok {
			r.logger.Warn("skipping unconfigured feature", "session", r.id, "feature", def.Name)
		}
	}
	features, err := r.env.Registry.NewConfiguredFeatures(ctx, r.env, r, opts.Features)
	if err != nil {
		return nil, err
	}
	for _, f := range features {
		r.logger.Debug("adding configured feature", "session", r.id, "feature", f.Name())
		if err := r.AddFeature(ctx, f, "", ""); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// ID identifies the session in logs and telemetry.
func (r *Router) ID() string {
	return r.id
}

// AddFeature registers f's request types. Configured features are routed
// by request type; dynamic ones by request type, channel and target.
// Target features join the group of their parent target, if there is one.
func (r *Router) AddFeature(ctx context.Context, f feature.Feature, channel, target string) error {
	r.mu.Lock()

	reqTypes := f.Schema().Requests()
	if _, dynamic := f.(feature.DynamicFeature); dynamic {
		for _, reqType := range reqTypes {
			key := routeKey{reqType, channel, target}
			if held, ok := r.optional[key]; ok {
				r.mu.Unlock()
				return fmt.Errorf("%w: %s on %s/%s is held by %s",
					ErrDuplicateRoute, reqType, channel, target, held.feature.Name())
			}
		}
		for _, reqType := range reqTypes {
			r.optional[routeKey{reqType, channel, target}] = route{feature: f, mu: &sync.Mutex{}}
		}
	} else {
		for _, reqType := range reqTypes {
			r.defaults[reqType] = f
		}
	}
	r.features = append(r.features, f)

	var adopter *feature.TargetGroup
	if t, ok := f.(feature.Targeter); ok {
		if g, ok := f.(*feature.TargetGroup); ok {
			r.groups[target] = g
		}
		if parent := t.ParentTarget(); parent != "" {
			r.targets[parent] = append(r.targets[parent], t)
			if g, ok := r.groups[parent]; ok && g.TargetFeature != t.TargetBase() {
				adopter = g
			}
		}
	}
	r.mu.Unlock()

	if adopter != nil {
		adopter.AddMember(ctx, f.(feature.Targeter).TargetBase())
	}
	return nil
}

// RemoveFeature is the inverse of AddFeature. A member leaving its group
// is first reported to the group as DISCONNECTED.
func (r *Router) RemoveFeature(ctx context.Context, f feature.Feature, channel, target string) error {
	r.mu.Lock()

	for _, reqType := range f.Schema().Requests() {
		key := routeKey{reqType, channel, target}
		if rt, ok := r.optional[key]; ok && rt.feature == f {
			delete(r.optional, key)
		}
	}
	r.features = slices.DeleteFunc(r.features, func(x feature.Feature) bool { return x == f })

	var parent *feature.TargetGroup
	if t, ok := f.(feature.Targeter); ok {
		if g, ok := f.(*feature.TargetGroup); ok && r.groups[target] == g {
			delete(r.groups, target)
		}
		if p := t.ParentTarget(); p != "" {
			if g, ok := r.groups[p]; ok && g.TargetFeature != t.TargetBase() {
				parent = g
			}
			r.targets[p] = slices.DeleteFunc(r.targets[p], func(x feature.Targeter) bool { return x == t })
			if len(r.targets[p]) == 0 {
				delete(r.targets, p)
			}
		}
	}
	r.mu.Unlock()

	if parent != nil {
		parent.RemoveMember(ctx, f.(feature.Targeter).TargetBase())
	}
	return nil
}

// Group returns the target group registered for target.
func (r *Router) Group(target string) (*feature.TargetGroup, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	g, ok := r.groups[target]
	return g, ok
}

// TargetFeatures returns the target features whose parent target is
// parentTarget.
func (r *Router) TargetFeatures(parentTarget string) []feature.Targeter {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.targets[parentTarget])
}

// Features returns the registered features in the order they were added.
func (r *Router) Features() []feature.Feature {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.features)
}

// Dispatch routes one inbound frame. Requests for configured features
// complete before Dispatch returns; requests for dynamic features run on
// their own goroutine. Nothing a client sends ends the session.
func (r *Router) Dispatch(ctx context.Context, raw []byte) {
	var req feature.Message
	if err := json.Unmarshal(raw, &req); err != nil || req == nil {
		r.logger.Warn("unparseable request", "session", r.id, "error", err)
		r.notifyError(ctx, "Unparseable JSON request: "+string(raw))
		return
	}

	// No authentication: every client is the same user.
	req[feature.KeyUserID] = "default"
	if _, ok := req[feature.KeyChannel]; !ok {
		req[feature.KeyChannel] = DefaultChannel
	}
	reqType := req.String(feature.KeyReqType)
	channel := req.String(feature.KeyChannel)
	target := req.String(feature.KeyTarget)
	if reqType != "ping" {
		r.logger.Debug("ws recv", "session", r.id, "request", redact(req))
	}

	r.mu.Lock()
	f, isDefault := r.defaults[reqType]
	rt, isOptional := r.optional[routeKey{reqType, channel, target}]
	r.mu.Unlock()

	switch {
	case isDefault:
		r.metrics.Request(reqType, telemetry.RouteDefault)
		f.Handle(ctx, req)
	case isOptional:
		r.metrics.Request(reqType, telemetry.RouteOptional)
		r.handlers.Add(1)
		go func() {
			defer r.handlers.Done()
			rt.mu.Lock()
			defer rt.mu.Unlock()
			rt.feature.Handle(ctx, req)
		}()
	default:
		// Client-chosen names stay out of the metric labels.
		r.metrics.Request("", telemetry.RouteUnroutable)
		r.logger.Warn("unhandleable request", "session", r.id, "req_type", reqType, "channel", channel, "target", target)
		r.notifyError(ctx, "Don't know how to handle request "+req.JSON())
	}
}

// Notify sends msg to the client. It is the only way out of a session.
func (r *Router) Notify(ctx context.Context, msg feature.Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("session: encoding %s: %w", msg.String(feature.KeyNfnType), err)
	}
	nfnType := msg.String(feature.KeyNfnType)
	if nfnType != "pong" {
		r.logger.Debug("ws send", "session", r.id, "notification", redact(msg))
	}

	r.writeMu.Lock()
	defer r.writeMu.Unlock()
	if err := r.transport.Send(ctx, data); err != nil {
		return err
	}
	r.metrics.Notification(nfnType)
	return nil
}

func (r *Router) notifyError(ctx context.Context, text string) {
	if err := r.Notify(ctx, feature.ErrorNotification(text)); err != nil {
		r.logger.Debug("error notification not sent", "session", r.id, "error", err)
	}
}

// Run greets the client, then dispatches frames until the client goes
// away or ctx is cancelled. On the way out it waits for running requests
// and closes every feature. Device connections are not torn down.
func (r *Router) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	r.metrics.SessionOpened()
	defer r.metrics.SessionClosed()
	r.logger.Info("session started", "session", r.id)

	for _, f := range r.Features() {
		if g, ok := f.(feature.Greeter); ok {
			msg := g.Greeting()
			msg[feature.KeyChannel] = DefaultChannel
			if err := r.Notify(ctx, msg); err != nil {
				r.logger.Debug("greeting not sent", "session", r.id, "feature", f.Name(), "error", err)
			}
		}
	}

	var err error
	for {
		var raw []byte
		raw, err = r.transport.Recv(ctx)
		if err != nil {
			break
		}
		r.Dispatch(ctx, raw)
	}

	cancel()
	r.handlers.Wait()
	for _, f := range r.Features() {
		f.Close()
	}
	if cerr := r.transport.Close(); cerr != nil {
		r.logger.Debug("closing transport", "session", r.id, "error", cerr)
	}
	r.logger.Info("session ended", "session", r.id)

	if errors.Is(err, ErrClosed) || errors.Is(err, io.EOF) || errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}
