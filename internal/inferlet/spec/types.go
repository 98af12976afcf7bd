// Package spec defines the model description schema: the files a model
// consumes and produces, the parameters it accepts, the processing steps
// attached to its inputs and outputs, and how all of those are rendered
// onto a command line. Descriptions are loaded from JSON documents,
// migrated to the current schema version and normalized before use.
package spec

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Data kinds for inputs and outputs.
const (
	KindVolume       = "volume"
	KindSegmentation = "segmentation"
)

// Parameter types.
const (
	TypeInt    = "int"
	TypeFloat  = "float"
	TypeBool   = "bool"
	TypeString = "string"
	TypeEnum   = "enum"
)

// Activation policies for processing steps.
const (
	StatusRequired  = "required"
	StatusSuggested = "suggested"
	StatusOptional  = "optional"
)

// Direction distinguishes the input side of a model from the output side.
type Direction int

const (
	DirectionInput Direction = iota
	DirectionOutput
)

func (d Direction) String() string {
	if d == DirectionInput {
		return "input"
	}
	return "output"
}

// DockerSpec identifies the container image a model runs in and the
// directory inside the container where run files are staged.
type DockerSpec struct {
	ImageName string `json:"image_name"`
	ImageTag  string `json:"image_tag"`
	DataPath  string `json:"data_path"`
}

// Image returns the full image reference.
func (d DockerSpec) Image() string {
	if d.ImageTag == "" {
		return d.ImageName
	}
	return d.ImageName + ":" + d.ImageTag
}

// ProcessStep declares one pre- or post-processing operation attached to
// an input or output. Params holds the declared parameter values for the
// step's operation; its interpretation belongs to the operation handler.
type ProcessStep struct {
	Name        string  `json:"name"`
	Description string  `json:"description"`
	Status      string  `json:"status"`
	Locked      bool    `json:"locked"`
	Operation   string  `json:"operation"`
	Action      string  `json:"action,omitempty"`
	Targets     []int   `json:"targets,omitempty"`
	Params      *Object `json:"params"`
}

// DefaultEnabled reports whether the step runs when the user makes no
// explicit choice. Required and suggested steps default to on.
func (s *ProcessStep) DefaultEnabled() bool {
	return s.Status == StatusRequired || s.Status == StatusSuggested
}

// IOSpec describes one input or output file of a model.
type IOSpec struct {
	// Key is the identifier this entry was declared under. It names the
	// entry in run configurations and in the model's order list.
	Key string `json:"-"`

	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Flag        string `json:"flag"`
	Extension   string `json:"extension"`
	Type        string `json:"type"`

	// Labelmap marks a volume as a label map rather than a scalar image.
	Labelmap bool `json:"labelmap,omitempty"`
	// Master names the input a segmentation output is aligned to.
	Master string `json:"master,omitempty"`
	// Colours and Names carry display hints for segmentation results,
	// keyed by segment value.
	Colours map[string]string `json:"colours,omitempty"`
	Names   map[string]string `json:"names,omitempty"`

	Pre  []ProcessStep `json:"pre,omitempty"`
	Post []ProcessStep `json:"post,omitempty"`
}

// StepsFor returns the processing list for the given direction: pre for
// inputs, post for outputs.
func (s *IOSpec) StepsFor(d Direction) []ProcessStep {
	if d == DirectionInput {
		return s.Pre
	}
	return s.Post
}

// ParamSpec describes one general parameter of a model.
type ParamSpec struct {
	// Key is the identifier this entry was declared under.
	Key string `json:"-"`

	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Flag        string `json:"flag"`
	Type        string `json:"type"`

	// Default is the value substituted when a run configuration omits the
	// parameter: json.Number for int and float, bool for bool, string for
	// string and enum.
	Default interface{} `json:"default"`

	// Min and Max bound int and float parameters.
	Min json.Number `json:"min,omitempty"`
	Max json.Number `json:"max,omitempty"`

	// Enum holds the accepted values for enum parameters.
	Enum *Enum `json:"enum,omitempty"`
}

// UnmarshalJSON decodes the parameter keeping numeric fields as
// json.Number so large integer bounds survive the round trip.
func (p *ParamSpec) UnmarshalJSON(data []byte) error {
	type alias ParamSpec
	var a alias
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&a); err != nil {
		return err
	}
	*p = ParamSpec(a)
	return nil
}

// IntRange returns the declared bounds of an int parameter.
func (p *ParamSpec) IntRange() (int64, int64, error) {
	min, err := p.Min.Int64()
	if err != nil {
		return 0, 0, fmt.Errorf("parameter %s: bad min %q: %w", p.Key, p.Min, err)
	}
	max, err := p.Max.Int64()
	if err != nil {
		return 0, 0, fmt.Errorf("parameter %s: bad max %q: %w", p.Key, p.Max, err)
	}
	return min, max, nil
}

// FloatRange returns the declared bounds of a float parameter.
func (p *ParamSpec) FloatRange() (float64, float64, error) {
	min, err := p.Min.Float64()
	if err != nil {
		return 0, 0, fmt.Errorf("parameter %s: bad min %q: %w", p.Key, p.Min, err)
	}
	max, err := p.Max.Float64()
	if err != nil {
		return 0, 0, fmt.Errorf("parameter %s: bad max %q: %w", p.Key, p.Max, err)
	}
	return min, max, nil
}

// DefaultValue returns the declared default coerced to the Go type the
// parameter resolves to: int64, float64, bool or string. Defaults come
// as json.Number from decoded documents and as native Go numbers from
// schemas built in code; both are accepted.
func (p *ParamSpec) DefaultValue() (interface{}, error) {
	switch p.Type {
	case TypeInt:
		switch n := p.Default.(type) {
		case json.Number:
			return n.Int64()
		case int:
			return int64(n), nil
		case int64:
			return n, nil
		}
		return nil, fmt.Errorf("parameter %s: default %v is not a number", p.Key, p.Default)
	case TypeFloat:
		switch n := p.Default.(type) {
		case json.Number:
			return n.Float64()
		case float64:
			return n, nil
		case int:
			return float64(n), nil
		}
		return nil, fmt.Errorf("parameter %s: default %v is not a number", p.Key, p.Default)
	case TypeBool:
		b, ok := p.Default.(bool)
		if !ok {
			return nil, fmt.Errorf("parameter %s: default %v is not a bool", p.Key, p.Default)
		}
		return b, nil
	case TypeString, TypeEnum:
		s, ok := p.Default.(string)
		if !ok {
			return nil, fmt.Errorf("parameter %s: default %v is not a string", p.Key, p.Default)
		}
		return s, nil
	default:
		return nil, fmt.Errorf("parameter %s: unknown type %q", p.Key, p.Type)
	}
}

// Enum is an ordered mapping from display names to the values the model
// command actually accepts. Run configurations carry the values; display
// names exist for host applications.
type Enum struct {
	display []string
	values  map[string]string
}

// NewEnum builds an enum from display/value pairs, in order. An odd
// trailing element is ignored.
func NewEnum(pairs ...string) *Enum {
	e := &Enum{values: make(map[string]string)}
	for i := 0; i+1 < len(pairs); i += 2 {
		e.add(pairs[i], pairs[i+1])
	}
	return e
}

func (e *Enum) add(display, value string) {
	if e.values == nil {
		e.values = make(map[string]string)
	}
	if _, ok := e.values[display]; !ok {
		e.display = append(e.display, display)
	}
	e.values[display] = value
}

// Len returns the number of entries.
func (e *Enum) Len() int {
	return len(e.display)
}

// Displays returns the display names in declaration order.
func (e *Enum) Displays() []string {
	return append([]string(nil), e.display...)
}

// Values returns the accepted values in declaration order.
func (e *Enum) Values() []string {
	values := make([]string, 0, len(e.display))
	for _, d := range e.display {
		values = append(values, e.values[d])
	}
	return values
}

// Value returns the value behind a display name.
func (e *Enum) Value(display string) (string, bool) {
	v, ok := e.values[display]
	return v, ok
}

// HasValue reports whether value is one of the accepted values.
func (e *Enum) HasValue(value string) bool {
	for _, d := range e.display {
		if e.values[d] == value {
			return true
		}
	}
	return false
}

// UnmarshalJSON decodes an ordered display-to-value object.
func (e *Enum) UnmarshalJSON(data []byte) error {
	var o Object
	if err := json.Unmarshal(data, &o); err != nil {
		return err
	}
	e.display, e.values = nil, make(map[string]string)
	for _, k := range o.Keys() {
		v, _ := o.Get(k)
		s, ok := v.(string)
		if !ok {
			return fmt.Errorf("enum value for %q must be a string", k)
		}
		e.add(k, s)
	}
	return nil
}

// MarshalJSON encodes the enum with entries in declaration order.
func (e *Enum) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, d := range e.display {
		if i > 0 {
			buf.WriteByte(',')
		}
		k, err := json.Marshal(d)
		if err != nil {
			return nil, err
		}
		buf.Write(k)
		buf.WriteByte(':')
		v, err := json.Marshal(e.values[d])
		if err != nil {
			return nil, err
		}
		buf.Write(v)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// IOSection is an ordered set of input or output declarations keyed by
// identifier.
type IOSection struct {
	order   []string
	entries map[string]*IOSpec
}

// NewIOSection builds a section from entries, keyed and ordered by their
// Key fields.
func NewIOSection(entries ...*IOSpec) IOSection {
	s := IOSection{entries: make(map[string]*IOSpec)}
	for _, e := range entries {
		s.put(e.Key, e)
	}
	return s
}

func (s *IOSection) put(key string, e *IOSpec) {
	if s.entries == nil {
		s.entries = make(map[string]*IOSpec)
	}
	if _, ok := s.entries[key]; !ok {
		s.order = append(s.order, key)
	}
	s.entries[key] = e
}

// Len returns the number of entries.
func (s IOSection) Len() int {
	return len(s.order)
}

// Names returns the declared identifiers in order.
func (s IOSection) Names() []string {
	return append([]string(nil), s.order...)
}

// Get returns the entry declared under key.
func (s IOSection) Get(key string) (*IOSpec, bool) {
	e, ok := s.entries[key]
	return e, ok
}

// All returns the entries in declaration order.
func (s IOSection) All() []*IOSpec {
	all := make([]*IOSpec, 0, len(s.order))
	for _, key := range s.order {
		all = append(all, s.entries[key])
	}
	return all
}

// UnmarshalJSON decodes a section preserving declaration order.
func (s *IOSection) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return fmt.Errorf("expected JSON object, got %v", tok)
	}
	s.order, s.entries = nil, make(map[string]*IOSpec)
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		key, ok := tok.(string)
		if !ok {
			return fmt.Errorf("expected object key, got %v", tok)
		}
		entry := &IOSpec{}
		if err := dec.Decode(entry); err != nil {
			return err
		}
		entry.Key = key
		s.put(key, entry)
	}
	_, err = dec.Token()
	return err
}

// MarshalJSON encodes the section with entries in declaration order.
func (s IOSection) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, key := range s.order {
		if i > 0 {
			buf.WriteByte(',')
		}
		k, err := json.Marshal(key)
		if err != nil {
			return nil, err
		}
		buf.Write(k)
		buf.WriteByte(':')
		v, err := json.Marshal(s.entries[key])
		if err != nil {
			return nil, err
		}
		buf.Write(v)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// ParamSection is an ordered set of parameter declarations keyed by
// identifier.
type ParamSection struct {
	order   []string
	entries map[string]*ParamSpec
}

// NewParamSection builds a section from entries, keyed and ordered by
// their Key fields.
func NewParamSection(entries ...*ParamSpec) ParamSection {
	s := ParamSection{entries: make(map[string]*ParamSpec)}
	for _, e := range entries {
		s.put(e.Key, e)
	}
	return s
}

func (s *ParamSection) put(key string, e *ParamSpec) {
	if s.entries == nil {
		s.entries = make(map[string]*ParamSpec)
	}
	if _, ok := s.entries[key]; !ok {
		s.order = append(s.order, key)
	}
	s.entries[key] = e
}

// Len returns the number of entries.
func (s ParamSection) Len() int {
	return len(s.order)
}

// Names returns the declared identifiers in order.
func (s ParamSection) Names() []string {
	return append([]string(nil), s.order...)
}

// Get returns the entry declared under key.
func (s ParamSection) Get(key string) (*ParamSpec, bool) {
	e, ok := s.entries[key]
	return e, ok
}

// All returns the entries in declaration order.
func (s ParamSection) All() []*ParamSpec {
	all := make([]*ParamSpec, 0, len(s.order))
	for _, key := range s.order {
		all = append(all, s.entries[key])
	}
	return all
}

// UnmarshalJSON decodes a section preserving declaration order.
func (s *ParamSection) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return fmt.Errorf("expected JSON object, got %v", tok)
	}
	s.order, s.entries = nil, make(map[string]*ParamSpec)
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		key, ok := tok.(string)
		if !ok {
			return fmt.Errorf("expected object key, got %v", tok)
		}
		entry := &ParamSpec{}
		if err := dec.Decode(entry); err != nil {
			return err
		}
		entry.Key = key
		s.put(key, entry)
	}
	_, err = dec.Token()
	return err
}

// MarshalJSON encodes the section with entries in declaration order.
func (s ParamSection) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, key := range s.order {
		if i > 0 {
			buf.WriteByte(',')
		}
		k, err := json.Marshal(key)
		if err != nil {
			return nil, err
		}
		buf.Write(k)
		buf.WriteByte(':')
		v, err := json.Marshal(s.entries[key])
		if err != nil {
			return nil, err
		}
		buf.Write(v)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// ModelSpec is the full description of a runnable model. It is loaded
// once, normalized, and treated as read-only for the lifetime of a run.
type ModelSpec struct {
	JSONVersion string `json:"json_version"`
	ID          string `json:"id"`
	Type        string `json:"type"`
	Name        string `json:"name"`
	Organ       string `json:"organ"`
	Task        string `json:"task"`
	Status      string `json:"status"`
	Modality    string `json:"modality"`
	Version     string `json:"version"`

	Description string   `json:"description,omitempty"`
	Website     string   `json:"website,omitempty"`
	Citation    string   `json:"citation,omitempty"`
	Maintainers []string `json:"maintainers"`

	Docker DockerSpec `json:"docker"`

	Inputs  IOSection    `json:"inputs"`
	Params  ParamSection `json:"params"`
	Outputs IOSection    `json:"outputs"`

	// Order, when declared, fixes the command-line order of all members.
	// Members left out of it are omitted from the command line.
	Order []string `json:"order,omitempty"`

	// Warnings collects non-fatal findings from normalization; Updated
	// reports whether the source document was migrated from an older
	// schema version. Both are set by Parse.
	Warnings []string `json:"-"`
	Updated  bool     `json:"-"`

	doc *Object
}

// MemberNames returns every declared name: inputs, then outputs, then
// params, each in declaration order.
func (m *ModelSpec) MemberNames() []string {
	names := make([]string, 0, m.Inputs.Len()+m.Outputs.Len()+m.Params.Len())
	names = append(names, m.Inputs.Names()...)
	names = append(names, m.Outputs.Names()...)
	names = append(names, m.Params.Names()...)
	return names
}

// ArgumentOrder returns the member names in the order they are rendered
// onto the command line: the declared order list if the model has one,
// otherwise inputs, outputs, params in declaration order.
func (m *ModelSpec) ArgumentOrder() []string {
	if m.Order != nil {
		return m.Order
	}
	return m.MemberNames()
}

// Document returns the normalized source document, or nil when the model
// was built in code rather than parsed.
func (m *ModelSpec) Document() *Object {
	return m.doc
}
