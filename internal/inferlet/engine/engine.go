// Package engine drives one model run end to end: resolve the run
// configuration, stage inputs on the execution backend, apply input
// processing, execute the model command, collect outputs, apply output
// processing, and clean up whatever the run staged.
package engine

import (
	"context"
	"fmt"
	"io"

	"inferlet/internal/inferlet/backend"
	"inferlet/internal/inferlet/command"
	"inferlet/internal/inferlet/processing"
	"inferlet/internal/inferlet/spec"
	"inferlet/internal/inferlet/validation"
	"inferlet/pkg/errors"
	"inferlet/pkg/logger"
)

// State names one stage of a run's lifecycle. Stages are strictly
// sequential; Failed is reachable from any non-terminal stage.
type State int

const (
	StateValidating State = iota
	StateSavingInputs
	StatePreProcessing
	StateBuildingCommand
	StateExecuting
	StateLoadingOutputs
	StatePostProcessing
	StateCleanup
	StateDone
	StateFailed
)

var stateNames = [...]string{
	"validating",
	"saving_inputs",
	"pre_processing",
	"building_command",
	"executing",
	"loading_outputs",
	"post_processing",
	"cleanup",
	"done",
	"failed",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("state(%d)", int(s))
	}
	return stateNames[s]
}

// RunError is a failed run, carrying the stage that failed.
type RunError struct {
	State State
	Err   error
}

func (e *RunError) Error() string {
	return fmt.Sprintf("run failed while %s: %v", e.State, e.Err)
}

func (e *RunError) Unwrap() error { return e.Err }

// Options tunes one run.
type Options struct {
	// Logs receives the model's output as it is produced. May be nil.
	Logs io.Writer
	// OnState is called on every stage transition. May be nil.
	OnState func(State)
}

// Result is a completed run.
type Result struct {
	// Outputs maps output names to their loaded handles.
	Outputs map[string]backend.Handle
	// Output is the captured model output.
	Output string
	// Config is the resolved configuration the run used.
	Config *spec.ResolvedConfig
}

// Engine runs models against one execution backend. An engine holds no
// run state of its own, but its backend serves one run at a time, so
// concurrent runs need one engine per backend instance.
type Engine struct {
	backend   backend.Backend
	registry  *processing.Registry
	validator *validation.Validator
	log       *logger.Logger
}

func New(b backend.Backend, reg *processing.Registry) *Engine {
	return &Engine{
		backend:   b,
		registry:  reg,
		validator: validation.New(reg),
		log:       logger.WithField("component", "engine"),
	}
}

// run is the state of one run in flight.
type run struct {
	model   *spec.ModelSpec
	cfg     *spec.ResolvedConfig
	opts    Options
	state   State
	workdir string
	fmap    map[string]string
	created []string
	inputs  map[string]backend.Handle
	outputs map[string]backend.Handle
}

// Run executes one model run. On failure the returned error is a
// *RunError naming the stage that failed. Everything the run staged on
// the backend is removed best-effort before returning, except after a
// validation failure, which has no side effects to undo.
func (e *Engine) Run(ctx context.Context, model *spec.ModelSpec, cfg *spec.RunConfig, opts *Options) (*Result, error) {
	r := &run{
		model:   model,
		inputs:  make(map[string]backend.Handle),
		outputs: make(map[string]backend.Handle),
	}
	if opts != nil {
		r.opts = *opts
	}

	e.enter(r, StateValidating)
	resolved, err := e.validator.Resolve(model, cfg)
	if err != nil {
		return nil, e.failNow(r, err)
	}
	if err := disjointIO(model, resolved); err != nil {
		return nil, e.failNow(r, err)
	}
	r.cfg = resolved
	if p, ok := e.backend.(backend.Preparer); ok {
		if err := p.Prepare(ctx, model); err != nil {
			return nil, e.failNow(r, err)
		}
	}

	e.enter(r, StateSavingInputs)
	if s, ok := e.backend.(backend.Starter); ok {
		if err := s.Begin(ctx, model, resolved); err != nil {
			return nil, e.fail(ctx, r, err)
		}
	}
	r.workdir = e.backend.Workdir(model)
	r.fmap = command.BuildFileMap(model, r.workdir)
	for _, in := range model.Inputs.All() {
		h, err := backend.AsHandle(resolved.Inputs[in.Key].Value)
		if err != nil {
			return nil, e.fail(ctx, r, errors.WrapValidationError("inputs/"+in.Key, err))
		}
		dst := r.fmap[in.Key]
		if err := e.backend.Save(ctx, in.Key, h, dst); err != nil {
			return nil, e.fail(ctx, r, err)
		}
		r.created = append(r.created, dst)
		r.inputs[in.Key] = h
	}

	e.enter(r, StatePreProcessing)
	if err := e.process(ctx, r, spec.DirectionInput); err != nil {
		return nil, e.fail(ctx, r, err)
	}

	e.enter(r, StateBuildingCommand)
	argv := command.BuildArgumentVector(model, resolved, r.fmap)

	e.enter(r, StateExecuting)
	res, err := e.backend.Run(ctx, argv, r.workdir, r.opts.Logs)
	if err != nil {
		return nil, e.fail(ctx, r, &errors.ExecutionError{Model: model.ID, ExitCode: -1, Err: err})
	}
	if res.ExitCode != 0 {
		return nil, e.fail(ctx, r, errors.NewExecutionError(model.ID, res.ExitCode, res.Output))
	}

	e.enter(r, StateLoadingOutputs)
	for _, out := range model.Outputs.All() {
		dest, err := backend.AsHandle(resolved.Outputs[out.Key].Value)
		if err != nil {
			return nil, e.fail(ctx, r, errors.WrapValidationError("outputs/"+out.Key, err))
		}
		src := r.fmap[out.Key]
		h, err := e.backend.Load(ctx, out.Key, src, dest)
		if err != nil {
			return nil, e.fail(ctx, r, err)
		}
		r.created = append(r.created, src)
		r.outputs[out.Key] = h
	}

	e.enter(r, StatePostProcessing)
	if err := e.process(ctx, r, spec.DirectionOutput); err != nil {
		return nil, e.fail(ctx, r, err)
	}

	e.enter(r, StateCleanup)
	e.cleanup(ctx, r)

	e.enter(r, StateDone)
	return &Result{Outputs: r.outputs, Output: res.Output, Config: resolved}, nil
}

// process dispatches the enabled steps of one direction, declaration
// order, stopping at the first failure.
func (e *Engine) process(ctx context.Context, r *run, dir spec.Direction) error {
	section := r.model.Inputs
	cfgIO := r.cfg.Inputs
	handles := r.inputs
	if dir == spec.DirectionOutput {
		section, cfgIO, handles = r.model.Outputs, r.cfg.Outputs, r.outputs
	}

	for _, m := range section.All() {
		steps := m.StepsFor(dir)
		resolved := cfgIO[m.Key].Steps
		for i := range steps {
			if !resolved[i].Enabled {
				continue
			}
			req := &processing.Request{
				Step:   &steps[i],
				Config: &resolved[i],
				Handle: handles[m.Key],
				IO:     m,
				Model:  r.model,
				Run:    r.cfg,
			}
			if err := e.registry.Dispatch(ctx, dir, req); err != nil {
				return err
			}
		}
	}
	return nil
}

// enter advances the run to the given stage.
func (e *Engine) enter(r *run, s State) {
	r.state = s
	e.log.Debug("stage change", "model", r.model.ID, "stage", s)
	if r.opts.OnState != nil {
		r.opts.OnState(s)
	}
}

// failNow fails the run without cleanup. Only stages with no side
// effects to undo take this path.
func (e *Engine) failNow(r *run, err error) error {
	at := r.state
	e.log.Error("run failed", "model", r.model.ID, "stage", at, "error", err)
	e.enter(r, StateFailed)
	return &RunError{State: at, Err: err}
}

// fail routes the run through cleanup and into the failed stage.
func (e *Engine) fail(ctx context.Context, r *run, err error) error {
	at := r.state
	e.log.Error("run failed", "model", r.model.ID, "stage", at, "error", err)
	e.enter(r, StateCleanup)
	e.cleanup(ctx, r)
	e.enter(r, StateFailed)
	return &RunError{State: at, Err: err}
}

// cleanup removes every file the run staged or loaded, then lets the
// backend release its per-run resources. Failures are logged and do
// not stop the remaining cleanup.
func (e *Engine) cleanup(ctx context.Context, r *run) {
	ctx = context.WithoutCancel(ctx)
	for _, p := range r.created {
		if err := e.backend.Remove(ctx, p); err != nil {
			e.log.Warn("cleanup failed", "path", p, "error", err)
		}
	}
	r.created = nil
	if c, ok := e.backend.(backend.Cleaner); ok {
		if err := c.Cleanup(ctx, r.model); err != nil {
			e.log.Warn("backend cleanup failed", "model", r.model.ID, "error", err)
		}
	}
}

// disjointIO rejects configurations where two members resolve to the
// same location; a run would otherwise overwrite its own data.
func disjointIO(model *spec.ModelSpec, cfg *spec.ResolvedConfig) error {
	seen := make(map[string]string)
	claim := func(section, key string, value interface{}) error {
		loc, ok := locationOf(value)
		if !ok {
			return nil
		}
		field := section + "/" + key
		if prev, dup := seen[loc]; dup {
			return errors.WrapValidationError(field, fmt.Errorf("location %s already used by %s", loc, prev))
		}
		seen[loc] = field
		return nil
	}
	for _, in := range model.Inputs.All() {
		if err := claim("inputs", in.Key, cfg.Inputs[in.Key].Value); err != nil {
			return err
		}
	}
	for _, out := range model.Outputs.All() {
		if err := claim("outputs", out.Key, cfg.Outputs[out.Key].Value); err != nil {
			return err
		}
	}
	return nil
}

func locationOf(v interface{}) (string, bool) {
	switch t := v.(type) {
	case string:
		return t, true
	case backend.File:
		return string(t), true
	}
	return "", false
}
