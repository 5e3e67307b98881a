package feature

import (
	"context"
	"fmt"
	"slices"
	"sync"
)

const websocketUpNfn = "websocket_up"

// CoreOptions configures the core feature.
type CoreOptions struct {
	AllowRestartRequests bool `mapstructure:"allow_restart_requests"`

	// AllowedDynamicFeatures limits start_feature; nil allows everything.
	AllowedDynamicFeatures []string `mapstructure:"allowed_dynamic_features"`
}

type featureKey struct {
	name, channel, target string
}

func (k featureKey) String() string {
	return k.name + "::" + k.channel + "::" + k.target
}

// Core provides keepalive, restart and the starting and stopping of
// dynamic features.
type Core struct {
	Base
	opts CoreOptions

	mu      sync.Mutex
	started map[featureKey]Feature
}

// NewCore is the constructor of the core feature.
func NewCore(_ context.Context, in Init, options any) (Feature, error) {
	opts, ok := options.(*CoreOptions)
	if !ok {
		return nil, fmt.Errorf("%w: core: got %T", ErrInvalidOptions, options)
	}
	c := &Core{
		Base:    newBase(in),
		opts:    *opts,
		started: make(map[featureKey]Feature),
	}
	c.on("ping", c.ping)
	c.on("force_restart", c.forceRestart)
	c.on("start_feature", c.startFeature)
	c.on("stop_feature", c.stopFeature)
	return c, nil
}

// Greeting tells the client the session is ready for its setup requests.
func (c *Core) Greeting() Message {
	return Result(websocketUpNfn)
}

func (c *Core) ping(context.Context, []any) (Message, error) {
	return Result("pong"), nil
}

func (c *Core) forceRestart(context.Context, []any) (Message, error) {
	if !c.opts.AllowRestartRequests {
		return RPCFailure("Restart disallowed by configuration"), nil
	}
	c.logger.Warn("restart requested by client")
	c.env.exit(RestartExitCode)
	return nil, nil
}

func (c *Core) startFeature(ctx context.Context, args []any) (Message, error) {
	key, err := keyArgs(args)
	if err != nil {
		return nil, err
	}
	if c.opts.AllowedDynamicFeatures != nil && !slices.Contains(c.opts.AllowedDynamicFeatures, key.name) {
		return RPCFailure(fmt.Sprintf("Feature %s is disallowed by configuration", key.name)), nil
	}
	req, _ := asMap(args[3])

	f, err := c.env.Registry.NewDynamic(ctx, key.name, c.env, c.session, key.channel, key.target, req)
	if err != nil {
		return nil, err
	}
	if err := c.session.AddFeature(ctx, f, key.channel, key.target); err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.started[key] = f
	c.mu.Unlock()

	c.env.metrics().FeatureStarted(key.name)
	c.logger.Debug("started feature", "feature", key.String())
	return nil, nil
}

func (c *Core) stopFeature(ctx context.Context, args []any) (Message, error) {
	key, err := keyArgs(args)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	f, ok := c.started[key]
	delete(c.started, key)
	c.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotStarted, key)
	}

	if err := c.session.RemoveFeature(ctx, f, key.channel, key.target); err != nil {
		return nil, err
	}
	c.env.metrics().FeatureStopped(key.name)
	// Closed before disconnecting: the client hears nothing more from it.
	f.Close()

	// Might as well drop the device sessions too.
	if t, ok := f.(Targeter); ok {
		c.logger.Debug("disconnecting stopped feature", "feature", key.String())
		if err := t.TargetBase().Disconnect(ctx); err != nil {
			return nil, err
		}
	}
	return nil, nil
}

// Close forgets started features; the session closes them itself.
func (c *Core) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for key := range c.started {
		c.env.metrics().FeatureStopped(key.name)
	}
	clear(c.started)
}

func keyArgs(args []any) (featureKey, error) {
	var k featureKey
	var err error
	if k.name, err = stringArg(args, 0, "feature"); err != nil {
		return k, err
	}
	if k.channel, err = stringArg(args, 1, "channel"); err != nil {
		return k, err
	}
	if k.target, err = stringArg(args, 2, "target"); err != nil {
		return k, err
	}
	return k, nil
}
