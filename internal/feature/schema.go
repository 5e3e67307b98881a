package feature

import (
	"fmt"
	"maps"
	"slices"
	"sync"
)

// ArgMode says how a request argument is bound.
type ArgMode int

const (
	// Required arguments must be present in the request.
	Required ArgMode = iota
	// Optional arguments bind to nil when absent.
	Optional
	// WholeRequest binds the entire request message.
	WholeRequest
)

// Arg declares one positional argument of a request type.
type Arg struct {
	Name string
	Mode ArgMode
}

func Req(name string) Arg { return Arg{Name: name, Mode: Required} }
func Opt(name string) Arg { return Arg{Name: name, Mode: Optional} }

// Whole binds the whole request.
var Whole = Arg{Name: "__req__", Mode: WholeRequest}

// Definition declares a feature variant: its own requests and
// notifications and the variants it extends. Concrete variants also carry
// a constructor; abstract ones (the shared bases) do not.
type Definition struct {
	Name          string
	Extends       []string
	Requests      map[string][]Arg
	Notifications []string

	// NewConfigured builds a configured feature; NewOptions returns a
	// pointer to its option struct with defaults filled in.
	NewConfigured ConfiguredConstructor
	NewOptions    func() any

	// NewDynamic builds a dynamic feature.
	NewDynamic DynamicConstructor
}

// Schema is the flattened request and notification set of a variant.
type Schema struct {
	requests      map[string][]Arg
	notifications map[string]struct{}
}

// Args returns the argument list of reqType.
func (s *Schema) Args(reqType string) ([]Arg, bool) {
	args, ok := s.requests[reqType]
	return args, ok
}

// Requests returns the accepted request types, sorted.
func (s *Schema) Requests() []string {
	return slices.Sorted(maps.Keys(s.requests))
}

// Notifications returns the permitted notification types, sorted.
func (s *Schema) Notifications() []string {
	return slices.Sorted(maps.Keys(s.notifications))
}

// Allows reports whether nfnType may be sent.
func (s *Schema) Allows(nfnType string) bool {
	_, ok := s.notifications[nfnType]
	return ok
}

// Bind resolves the arguments of req according to its request type.
func (s *Schema) Bind(reqType string, req Message) ([]any, error) {
	decl, ok := s.requests[reqType]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownRequest, reqType)
	}
	args := make([]any, len(decl))
	for i, a := range decl {
		switch a.Mode {
		case WholeRequest:
			args[i] = req
		case Optional:
			args[i] = req[a.Name]
		default:
			v, ok := req[a.Name]
			if !ok {
				return nil, fmt.Errorf("%w: %s needs %q", ErrMissingArgument, reqType, a.Name)
			}
			args[i] = v
		}
	}
	return args, nil
}

// Registry holds every feature definition and their flattened schemas.
// Definitions are registered at startup, then Build flattens them once.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	order   []string
	defs    map[string]Definition
	schemas map[string]*Schema
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{defs: make(map[string]Definition)}
}

// Register adds a definition. It fails once the registry is built.
func (r *Registry) Register(def Definition) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.schemas != nil {
		return fmt.Errorf("%w: cannot register %s", ErrAlreadyBuilt, def.Name)
	}
	if _, ok := r.defs[def.Name]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateDefinition, def.Name)
	}
	r.defs[def.Name] = def
	r.order = append(r.order, def.Name)
	return nil
}

// Build flattens every definition. Calling it again is a no-op.
func (r *Registry) Build() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.schemas != nil {
		return nil
	}
	schemas := make(map[string]*Schema, len(r.defs))
	for _, name := range r.order {
		if _, err := r.flatten(name, schemas, map[string]bool{}); err != nil {
			return err
		}
	}
	r.schemas = schemas
	return nil
}

// flatten merges name's declarations with its ancestors'. Own requests
// override inherited ones; two ancestors disagreeing on a request they
// both declare is an error.
func (r *Registry) flatten(name string, done map[string]*Schema, visiting map[string]bool) (*Schema, error) {
	if s, ok := done[name]; ok {
		return s, nil
	}
	def, ok := r.defs[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownDefinition, name)
	}
	if visiting[name] {
		return nil, fmt.Errorf("%w: %s", ErrSchemaCycle, name)
	}
	visiting[name] = true
	defer delete(visiting, name)

	s := &Schema{
		requests:      make(map[string][]Arg),
		notifications: make(map[string]struct{}),
	}
	for reqType, args := range def.Requests {
		s.requests[reqType] = args
	}
	for _, n := range def.Notifications {
		s.notifications[n] = struct{}{}
	}

	inherited := make(map[string]string)
	for _, parent := range def.Extends {
		ps, err := r.flatten(parent, done, visiting)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		for reqType, args := range ps.requests {
			if _, own := def.Requests[reqType]; own {
				continue
			}
			if from, seen := inherited[reqType]; seen {
				if !slices.Equal(s.requests[reqType], args) {
					return nil, fmt.Errorf("%w: %s inherits %s from both %s and %s",
						ErrSchemaConflict, name, reqType, from, parent)
				}
				continue
			}
			inherited[reqType] = parent
			s.requests[reqType] = args
		}
		for n := range ps.notifications {
			s.notifications[n] = struct{}{}
		}
	}

	// Replies default to the request type, so every request type is also
	// a permitted notification.
	for reqType := range s.requests {
		s.notifications[reqType] = struct{}{}
	}

	done[name] = s
	return s, nil
}

// Schema returns the flattened schema of a variant.
func (r *Registry) Schema(name string) (*Schema, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.schemas == nil {
		return nil, ErrNotBuilt
	}
	s, ok := r.schemas[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownDefinition, name)
	}
	return s, nil
}

// Definition returns the definition registered under name.
func (r *Registry) Definition(name string) (Definition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.defs[name]
	return def, ok
}

// Configured returns the configured feature definitions in registration
// order.
func (r *Registry) Configured() []Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []Definition
	for _, name := range r.order {
		if def := r.defs[name]; def.NewConfigured != nil {
			out = append(out, def)
		}
	}
	return out
}

// DynamicNames returns the names of startable dynamic features, sorted.
func (r *Registry) DynamicNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []string
	for name, def := range r.defs {
		if def.NewDynamic != nil {
			out = append(out, name)
		}
	}
	slices.Sort(out)
	return out
}
