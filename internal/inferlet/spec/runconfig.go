package spec

import (
	"bytes"
	"encoding/json"
	"fmt"

	"inferlet/pkg/errors"
)

// RunConfig is the user-supplied counterpart of a ModelSpec: a value
// handle and processing choices for each input and output, and a value
// for each general parameter. Any field equal to its schema default may
// be omitted; validation fills the gaps and produces a ResolvedConfig.
type RunConfig struct {
	Inputs  map[string]*IOConfig    `json:"inputs"`
	Outputs map[string]*IOConfig    `json:"outputs"`
	Params  map[string]*ParamConfig `json:"params"`
}

// UnmarshalJSON decodes the configuration keeping numbers as json.Number
// so integer parameter values survive undamaged.
func (c *RunConfig) UnmarshalJSON(data []byte) error {
	type alias RunConfig
	var a alias
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&a); err != nil {
		return err
	}
	*c = RunConfig(a)
	return nil
}

// ParseRunConfig decodes a JSON run configuration.
func ParseRunConfig(data []byte) (*RunConfig, error) {
	var c RunConfig
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("%w: %v", errors.ErrConfigRejected, err)
	}
	return &c, nil
}

// IOConfig carries the user's choices for one input or output: the value
// handle to read from or load into, and optionally one entry per declared
// processing step.
type IOConfig struct {
	Value interface{}   `json:"value"`
	Pre   []*StepConfig `json:"pre,omitempty"`
	Post  []*StepConfig `json:"post,omitempty"`
}

// StepsFor returns the step list for the given direction.
func (c *IOConfig) StepsFor(d Direction) []*StepConfig {
	if d == DirectionInput {
		return c.Pre
	}
	return c.Post
}

// StepConfig is the user's choice for one processing step. A nil Enabled
// means "use the step's activation policy"; absent params fall back to
// the schema defaults.
type StepConfig struct {
	Enabled *bool                  `json:"enabled,omitempty"`
	Params  map[string]interface{} `json:"params,omitempty"`
}

// ParamConfig carries the user's value for one general parameter.
type ParamConfig struct {
	Value interface{} `json:"value"`
}

// ResolvedConfig is the fully-resolved run configuration: exactly one
// entry per ModelSpec entry, every parameter carrying a typed value,
// every step carrying an explicit enabled flag and complete parameters.
// It is produced by validation and read-only afterwards.
type ResolvedConfig struct {
	Inputs  map[string]*ResolvedIO
	Outputs map[string]*ResolvedIO
	// Params maps parameter names to values typed per the schema:
	// int64, float64, bool or string.
	Params map[string]interface{}
}

// IO returns the input or output map for the given direction.
func (c *ResolvedConfig) IO(d Direction) map[string]*ResolvedIO {
	if d == DirectionInput {
		return c.Inputs
	}
	return c.Outputs
}

// ResolvedIO is the resolved configuration of one input or output.
type ResolvedIO struct {
	Value interface{}
	// Steps is positionally aligned with the declared step list.
	Steps []ResolvedStep
}

// ResolvedStep is one fully-resolved processing step configuration.
type ResolvedStep struct {
	Enabled bool
	Params  map[string]interface{}
}
