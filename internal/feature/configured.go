package feature

import (
	"context"
	"fmt"
	"slices"

	"github.com/mitchellh/mapstructure"
)

// DecodeOptions decodes a feature's option map into out, which holds the
// defaults. Unknown keys are an error.
func DecodeOptions(name string, options map[string]any, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		ErrorUnused: true,
		Result:      out,
	})
	if err != nil {
		return err
	}
	if err := dec.Decode(options); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalidOptions, name, err)
	}
	return nil
}

// CheckOptions validates the feature section of the configuration: every
// name must be a configured feature and its options must decode.
func (r *Registry) CheckOptions(features map[string]map[string]any) error {
	for _, name := range sortedKeys(features) {
		if _, err := r.decodeOptions(name, features[name]); err != nil {
			return err
		}
	}
	return nil
}

func (r *Registry) decodeOptions(name string, options map[string]any) (any, error) {
	def, ok := r.Definition(name)
	if !ok || def.NewConfigured == nil {
		return nil, fmt.Errorf("%w: %s is not a configured feature", ErrInvalidOptions, name)
	}
	var opts any
	if def.NewOptions != nil {
		opts = def.NewOptions()
		if err := DecodeOptions(name, options, opts); err != nil {
			return nil, err
		}
	} else if len(options) > 0 {
		return nil, fmt.Errorf("%w: %s takes no options", ErrInvalidOptions, name)
	}
	return opts, nil
}

// NewConfiguredFeatures builds the configured features present in the
// feature configuration, in registration order. Features absent from the
// map are not started.
func (r *Registry) NewConfiguredFeatures(ctx context.Context, env *Env, session Session, features map[string]map[string]any) ([]Feature, error) {
	var out []Feature
	for _, def := range r.Configured() {
		options, ok := features[def.Name]
		if !ok {
			continue
		}
		opts, err := r.decodeOptions(def.Name, options)
		if err != nil {
			return nil, err
		}
		in, err := r.init(def.Name, env, session)
		if err != nil {
			return nil, err
		}
		f, err := def.NewConfigured(ctx, in, opts)
		if err != nil {
			return nil, fmt.Errorf("starting %s: %w", def.Name, err)
		}
		out = append(out, f)
	}
	return out, nil
}

// NewDynamic builds the dynamic feature registered under name.
func (r *Registry) NewDynamic(ctx context.Context, name string, env *Env, session Session, channel, target string, req Message) (Feature, error) {
	def, ok := r.Definition(name)
	if !ok || def.NewDynamic == nil {
		return nil, fmt.Errorf("%w: %q (known: %v)", ErrUnknownFeature, name, r.DynamicNames())
	}
	in, err := r.init(name, env, session)
	if err != nil {
		return nil, err
	}
	return def.NewDynamic(ctx, in, channel, target, req)
}

func (r *Registry) init(name string, env *Env, session Session) (Init, error) {
	schema, err := r.Schema(name)
	if err != nil {
		return Init{}, err
	}
	return Init{Name: name, Schema: schema, Env: env, Session: session}, nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
