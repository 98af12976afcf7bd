package processing

import (
	"context"
	"fmt"

	"inferlet/internal/inferlet/spec"
	"inferlet/pkg/errors"
)

// Request carries everything a handler may need about the step being
// executed: the step as declared by the model, its resolved run
// configuration, the file handle for the member the step is attached
// to, and the surrounding model and run context.
type Request struct {
	Step   *spec.ProcessStep
	Config *spec.ResolvedStep
	// Handle is backend-specific; handlers that touch file content
	// type-assert it.
	Handle interface{}
	IO     *spec.IOSpec
	Model  *spec.ModelSpec
	Run    *spec.ResolvedConfig
}

// Handler executes one processing step.
type Handler func(ctx context.Context, req *Request) error

// Dispatch looks up the step's operation for the given direction and
// invokes its handler. Handler failures are wrapped with the operation
// name and the member the step is attached to.
func (r *Registry) Dispatch(ctx context.Context, dir spec.Direction, req *Request) error {
	d, err := r.Lookup(req.Step.Operation, dir)
	if err != nil {
		return err
	}
	if err := d.Handler(ctx, req); err != nil {
		if req.Step.Action != "" {
			err = fmt.Errorf("action %s: %w", req.Step.Action, err)
		}
		return errors.WrapProcessingError(req.Step.Operation, req.IO.Key, err)
	}
	return nil
}
