// Package validation resolves a possibly partial run configuration
// against a model into the fully typed form the engine executes. A
// caller may omit anything that matches the model's defaults: absent
// parameters take their declared default, absent processing lists are
// synthesized from the declared steps. Input and output values have no
// default and must always be supplied.
package validation

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"

	"inferlet/internal/inferlet/processing"
	"inferlet/internal/inferlet/spec"
	"inferlet/pkg/errors"
	"inferlet/pkg/logger"
)

// Validator merges run configurations with a model's declared defaults.
// The processing registry supplies the per-operation parameter schemas
// used to normalize step parameters.
type Validator struct {
	registry *processing.Registry
	log      *logger.Logger
}

func New(registry *processing.Registry) *Validator {
	return &Validator{
		registry: registry,
		log:      logger.WithField("component", "validation"),
	}
}

// Resolve checks cfg against the model and produces the resolved
// configuration. Inputs are checked first, then outputs, then
// parameters, each section in declaration order; the first problem
// found is returned and nothing further is attempted. The resolved
// configuration covers every declared member exactly once.
func (v *Validator) Resolve(model *spec.ModelSpec, cfg *spec.RunConfig) (*spec.ResolvedConfig, error) {
	if cfg == nil {
		cfg = &spec.RunConfig{}
	}
	v.log.Debug("resolving run configuration", "model", model.ID)

	res := &spec.ResolvedConfig{
		Inputs:  make(map[string]*spec.ResolvedIO, model.Inputs.Len()),
		Outputs: make(map[string]*spec.ResolvedIO, model.Outputs.Len()),
		Params:  make(map[string]interface{}, model.Params.Len()),
	}

	for _, io := range model.Inputs.All() {
		r, err := v.resolveIO(io, cfg.Inputs[io.Key], spec.DirectionInput)
		if err != nil {
			return nil, err
		}
		res.Inputs[io.Key] = r
	}
	if err := extraIO("inputs", cfg.Inputs, model.Inputs); err != nil {
		return nil, err
	}

	for _, io := range model.Outputs.All() {
		r, err := v.resolveIO(io, cfg.Outputs[io.Key], spec.DirectionOutput)
		if err != nil {
			return nil, err
		}
		res.Outputs[io.Key] = r
	}
	if err := extraIO("outputs", cfg.Outputs, model.Outputs); err != nil {
		return nil, err
	}

	for _, p := range model.Params.All() {
		val, err := resolveParam(p, cfg.Params[p.Key])
		if err != nil {
			return nil, err
		}
		res.Params[p.Key] = val
	}
	extras := make([]string, 0, len(cfg.Params))
	for name := range cfg.Params {
		if _, ok := model.Params.Get(name); !ok {
			extras = append(extras, name)
		}
	}
	if len(extras) > 0 {
		sort.Strings(extras)
		return nil, errors.WrapValidationError("params/"+extras[0], fmt.Errorf("not declared by the model"))
	}

	return res, nil
}

func extraIO(section string, supplied map[string]*spec.IOConfig, declared spec.IOSection) error {
	extras := make([]string, 0, len(supplied))
	for name := range supplied {
		if _, ok := declared.Get(name); !ok {
			extras = append(extras, name)
		}
	}
	if len(extras) == 0 {
		return nil
	}
	sort.Strings(extras)
	return errors.WrapValidationError(section+"/"+extras[0], fmt.Errorf("not declared by the model"))
}

func (v *Validator) resolveIO(io *spec.IOSpec, c *spec.IOConfig, dir spec.Direction) (*spec.ResolvedIO, error) {
	path := dir.String() + "s/" + io.Key
	if c == nil || c.Value == nil {
		return nil, errors.WrapValidationError(path, errors.ErrMissingValue)
	}

	declared := io.StepsFor(dir)
	supplied := c.StepsFor(dir)
	if supplied != nil && len(supplied) != len(declared) {
		return nil, errors.WrapValidationError(path, fmt.Errorf("%w: declared %d, configured %d",
			errors.ErrStepCountMismatch, len(declared), len(supplied)))
	}

	phase := "pre"
	if dir == spec.DirectionOutput {
		phase = "post"
	}
	r := &spec.ResolvedIO{Value: c.Value, Steps: make([]spec.ResolvedStep, len(declared))}
	for i := range declared {
		var sc *spec.StepConfig
		if supplied != nil {
			sc = supplied[i]
		}
		step, err := v.resolveStep(&declared[i], sc, dir, io.Type, fmt.Sprintf("%s/%s/%d", path, phase, i))
		if err != nil {
			return nil, err
		}
		r.Steps[i] = step
	}
	return r, nil
}

// resolveStep settles one processing step's enabled flag and parameter
// map. Locked steps take the model's declared values unconditionally.
// Unlocked steps merge three layers, each overriding the previous:
// the operation's schema defaults, the model's declared step
// parameters, and the caller's overrides. Every layered value is
// checked against the schema; operations publishing no actions table
// skip the schema layer and pass parameters through untouched.
func (v *Validator) resolveStep(step *spec.ProcessStep, c *spec.StepConfig, dir spec.Direction, kind, path string) (spec.ResolvedStep, error) {
	enabled := step.DefaultEnabled()
	if !step.Locked && c != nil && c.Enabled != nil {
		if !*c.Enabled && step.Status == spec.StatusRequired {
			return spec.ResolvedStep{}, errors.WrapValidationError(path, errors.ErrRequiredStepDisabled)
		}
		enabled = *c.Enabled
	}

	d, err := v.registry.Lookup(step.Operation, dir)
	if err != nil {
		return spec.ResolvedStep{}, err
	}
	if !d.AcceptsKind(kind) {
		return spec.ResolvedStep{}, errors.WrapValidationError(path,
			fmt.Errorf("operation %s does not accept %s members", step.Operation, kind))
	}

	if step.Locked {
		return spec.ResolvedStep{Enabled: enabled, Params: plainObject(step.Params)}, nil
	}

	var user map[string]interface{}
	if c != nil {
		user = c.Params
	}

	if d.Actions == nil {
		params := plainObject(step.Params)
		for k, val := range user {
			params[k] = plainValue(val)
		}
		return spec.ResolvedStep{Enabled: enabled, Params: params}, nil
	}

	schema, ok := d.Actions.For(step.Action)
	if !ok {
		return spec.ResolvedStep{}, errors.WrapValidationError(path,
			fmt.Errorf("operation %s has no action %q and no default action", step.Operation, step.Action))
	}

	params := make(map[string]interface{}, schema.Len())
	for _, sub := range schema.All() {
		raw, present := layeredValue(sub.Key, user, step.Params)
		if !present {
			def, err := sub.DefaultValue()
			if err != nil {
				return spec.ResolvedStep{}, errors.WrapValidationError(path+"/params/"+sub.Key, err)
			}
			params[sub.Key] = def
			continue
		}
		val, err := checkValue(sub, raw)
		if err != nil {
			return spec.ResolvedStep{}, errors.WrapValidationError(path+"/params/"+sub.Key, err)
		}
		params[sub.Key] = val
	}

	if step.Params != nil {
		for _, key := range step.Params.Keys() {
			if _, ok := schema.Get(key); !ok {
				return spec.ResolvedStep{}, errors.WrapValidationError(path+"/params/"+key,
					fmt.Errorf("not a parameter of operation %s", step.Operation))
			}
		}
	}
	extras := make([]string, 0, len(user))
	for key := range user {
		if _, ok := schema.Get(key); !ok {
			extras = append(extras, key)
		}
	}
	if len(extras) > 0 {
		sort.Strings(extras)
		return spec.ResolvedStep{}, errors.WrapValidationError(path+"/params/"+extras[0],
			fmt.Errorf("not a parameter of operation %s", step.Operation))
	}

	return spec.ResolvedStep{Enabled: enabled, Params: params}, nil
}

// layeredValue picks a step parameter from the caller's overrides first,
// then the model's declared values.
func layeredValue(key string, user map[string]interface{}, declared *spec.Object) (interface{}, bool) {
	if raw, ok := user[key]; ok {
		return raw, true
	}
	if declared != nil {
		if raw, ok := declared.Get(key); ok {
			return raw, true
		}
	}
	return nil, false
}

func resolveParam(p *spec.ParamSpec, c *spec.ParamConfig) (interface{}, error) {
	path := "params/" + p.Key
	if c == nil || c.Value == nil {
		def, err := p.DefaultValue()
		if err != nil {
			return nil, errors.WrapValidationError(path, err)
		}
		return def, nil
	}
	val, err := checkValue(p, c.Value)
	if err != nil {
		return nil, errors.WrapValidationError(path, err)
	}
	return val, nil
}

// checkValue coerces a supplied value to the parameter's resolved Go
// type, enforcing range bounds for numerics and value-set membership
// for enums. Enum values must match the declared values, not the
// display names. Values arrive as json.Number from decoded documents
// and as native Go types from configurations built in code.
func checkValue(p *spec.ParamSpec, raw interface{}) (interface{}, error) {
	switch p.Type {
	case spec.TypeInt:
		n, ok := toInt64(raw)
		if !ok {
			return nil, fmt.Errorf("expected an integer, got %s", describe(raw))
		}
		lo, hi := int64(math.MinInt64), int64(math.MaxInt64)
		if p.Min != "" {
			if lo, ok = toInt64(p.Min); !ok {
				return nil, fmt.Errorf("bad min bound %q", p.Min)
			}
		}
		if p.Max != "" {
			if hi, ok = toInt64(p.Max); !ok {
				return nil, fmt.Errorf("bad max bound %q", p.Max)
			}
		}
		if n < lo {
			return nil, fmt.Errorf("%d is less than the minimum %d", n, lo)
		}
		if n > hi {
			return nil, fmt.Errorf("%d is greater than the maximum %d", n, hi)
		}
		return n, nil
	case spec.TypeFloat:
		f, ok := toFloat64(raw)
		if !ok {
			return nil, fmt.Errorf("expected a number, got %s", describe(raw))
		}
		lo, hi := -math.MaxFloat64, math.MaxFloat64
		if p.Min != "" {
			if lo, ok = toFloat64(p.Min); !ok {
				return nil, fmt.Errorf("bad min bound %q", p.Min)
			}
		}
		if p.Max != "" {
			if hi, ok = toFloat64(p.Max); !ok {
				return nil, fmt.Errorf("bad max bound %q", p.Max)
			}
		}
		if f < lo {
			return nil, fmt.Errorf("%g is less than the minimum %g", f, lo)
		}
		if f > hi {
			return nil, fmt.Errorf("%g is greater than the maximum %g", f, hi)
		}
		return f, nil
	case spec.TypeBool:
		b, ok := raw.(bool)
		if !ok {
			return nil, fmt.Errorf("expected a boolean, got %s", describe(raw))
		}
		return b, nil
	case spec.TypeString:
		s, ok := raw.(string)
		if !ok {
			return nil, fmt.Errorf("expected a string, got %s", describe(raw))
		}
		return s, nil
	case spec.TypeEnum:
		s, ok := raw.(string)
		if !ok {
			return nil, fmt.Errorf("expected a string, got %s", describe(raw))
		}
		if p.Enum == nil || !p.Enum.HasValue(s) {
			return nil, fmt.Errorf("%q is not one of the enum values", s)
		}
		return s, nil
	}
	return nil, fmt.Errorf("unhandled parameter type %q", p.Type)
}

func toInt64(v interface{}) (int64, bool) {
	switch n := v.(type) {
	case json.Number:
		i, err := n.Int64()
		if err != nil {
			return 0, false
		}
		return i, true
	case int:
		return int64(n), true
	case int64:
		return n, true
	}
	return 0, false
}

func toFloat64(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case json.Number:
		f, err := n.Float64()
		if err != nil {
			return 0, false
		}
		return f, true
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}

func describe(v interface{}) string {
	switch v.(type) {
	case nil:
		return "null"
	case string:
		return "a string"
	case bool:
		return "a boolean"
	case json.Number, int, int64, float64:
		return "a number"
	case []interface{}:
		return "a list"
	case *spec.Object, map[string]interface{}:
		return "an object"
	}
	return fmt.Sprintf("%T", v)
}

// plainObject flattens a decoded JSON object into plain Go values for
// handler consumption: json.Number becomes int64 when integral and
// float64 otherwise, nested objects become maps.
func plainObject(o *spec.Object) map[string]interface{} {
	if o == nil {
		return map[string]interface{}{}
	}
	params := make(map[string]interface{}, o.Len())
	for _, key := range o.Keys() {
		raw, _ := o.Get(key)
		params[key] = plainValue(raw)
	}
	return params
}

func plainValue(v interface{}) interface{} {
	switch t := v.(type) {
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return i
		}
		if f, err := t.Float64(); err == nil {
			return f
		}
		return t.String()
	case *spec.Object:
		return plainObject(t)
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, e := range t {
			out[i] = plainValue(e)
		}
		return out
	}
	return v
}
