// Package processing holds the registry of pre/post-processing
// operations. Operations are registered during startup or extension
// loading and looked up by name and direction when a run's processing
// steps are resolved and dispatched. The registry is append-only:
// nothing is ever unregistered.
package processing

import (
	"fmt"
	"sync"

	"inferlet/internal/inferlet/spec"
	"inferlet/pkg/errors"
)

// Applicability states which side of a model an operation may be
// attached to.
type Applicability int

const (
	// AppliesBoth operations may be attached to inputs and outputs.
	AppliesBoth Applicability = iota
	AppliesInputs
	AppliesOutputs
)

func (a Applicability) String() string {
	switch a {
	case AppliesInputs:
		return "input"
	case AppliesOutputs:
		return "output"
	default:
		return "both"
	}
}

// Actions maps an action name to the parameter schema its steps are
// normalized against. The empty name is the default action, used when a
// step names no action or names one without a schema of its own. A nil
// Actions opts the operation out of parameter normalization entirely:
// step parameters are passed through untouched and checking them is the
// handler's job.
type Actions map[string]spec.ParamSection

// For returns the schema for an action, falling back to the default
// action's schema.
func (a Actions) For(action string) (spec.ParamSection, bool) {
	if schema, ok := a[action]; ok {
		return schema, true
	}
	schema, ok := a[""]
	return schema, ok
}

// Descriptor describes one registered processing operation.
type Descriptor struct {
	// Operation is the registry key, referenced by model processing
	// steps.
	Operation string
	Applies   Applicability
	// Kinds lists the data kinds the operation accepts; empty means any.
	Kinds []string
	// Actions is the normalization schema table, or nil to opt out.
	Actions Actions
	Handler Handler
}

// AcceptsKind reports whether the operation accepts the given data kind.
func (d *Descriptor) AcceptsKind(kind string) bool {
	if len(d.Kinds) == 0 {
		return true
	}
	for _, k := range d.Kinds {
		if k == kind {
			return true
		}
	}
	return false
}

// Registry is a table of processing operations, scoped by direction. A
// both-directions registration occupies the name on both sides, so a
// later direction-specific registration of the same name collides with
// it and vice versa.
type Registry struct {
	mu     sync.RWMutex
	input  map[string]*Descriptor
	output map[string]*Descriptor
	both   map[string]*Descriptor
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		input:  make(map[string]*Descriptor),
		output: make(map[string]*Descriptor),
		both:   make(map[string]*Descriptor),
	}
}

// Register adds an operation to the registry.
func (r *Registry) Register(d *Descriptor) error {
	if d == nil || d.Operation == "" || d.Handler == nil {
		return fmt.Errorf("processing: descriptor needs an operation name and a handler")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	name := d.Operation
	if _, ok := r.both[name]; ok {
		return fmt.Errorf("%w: both/%s", errors.ErrDuplicateOperation, name)
	}
	switch d.Applies {
	case AppliesInputs:
		if _, ok := r.input[name]; ok {
			return fmt.Errorf("%w: input/%s", errors.ErrDuplicateOperation, name)
		}
		r.input[name] = d
	case AppliesOutputs:
		if _, ok := r.output[name]; ok {
			return fmt.Errorf("%w: output/%s", errors.ErrDuplicateOperation, name)
		}
		r.output[name] = d
	default:
		if _, ok := r.input[name]; ok {
			return fmt.Errorf("%w: input/%s", errors.ErrDuplicateOperation, name)
		}
		if _, ok := r.output[name]; ok {
			return fmt.Errorf("%w: output/%s", errors.ErrDuplicateOperation, name)
		}
		r.both[name] = d
	}
	return nil
}

// MustRegister registers an operation and panics on failure. Meant for
// startup wiring where a collision is a programming error.
func (r *Registry) MustRegister(d *Descriptor) {
	if err := r.Register(d); err != nil {
		panic(err)
	}
}

// Lookup finds the operation registered for the given name and
// direction, consulting both-directions registrations as a fallback.
func (r *Registry) Lookup(operation string, dir spec.Direction) (*Descriptor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	scoped := r.input
	if dir == spec.DirectionOutput {
		scoped = r.output
	}
	if d, ok := scoped[operation]; ok {
		return d, nil
	}
	if d, ok := r.both[operation]; ok {
		return d, nil
	}
	return nil, fmt.Errorf("%w: %s/%s", errors.ErrUnknownOperation, dir, operation)
}

// Operations returns the registered operation names for a direction, in
// no particular order.
func (r *Registry) Operations(dir spec.Direction) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	scoped := r.input
	if dir == spec.DirectionOutput {
		scoped = r.output
	}
	names := make([]string, 0, len(scoped)+len(r.both))
	for name := range scoped {
		names = append(names, name)
	}
	for name := range r.both {
		names = append(names, name)
	}
	return names
}
