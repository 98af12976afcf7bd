package spec

import (
	"encoding/json"
	"fmt"
	"regexp"
	"slices"

	"inferlet/pkg/errors"
)

// Bounds filled in when a numeric parameter omits them. The float bounds
// mirror the largest single-precision value, which is what model authors
// historically meant by "unbounded".
const (
	defaultIntMin   = "-2147483648"
	defaultIntMax   = "2147483647"
	defaultFloatMin = "-3.40282e+038"
	defaultFloatMax = "3.40282e+038"
)

var identRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

var modelFields = []string{
	"json_version", "id", "type", "name", "organ", "task", "status",
	"modality", "version", "description", "website", "maintainers",
	"citation", "docker", "inputs", "params", "outputs", "order",
}

var dockerFields = []string{"image_name", "image_tag", "data_path"}

var stepFields = []string{
	"name", "description", "status", "locked", "operation", "action",
	"targets", "params",
}

// Normalize verifies a document against the current schema and fills in
// every defaultable field, so later stages never have to guess at absent
// values. It returns non-fatal findings (missing optional fields,
// extraneous fields) as warnings. The document must already be at
// CurrentVersion; run Update first.
func Normalize(doc *Object) ([]string, error) {
	if v, _ := doc.GetString("json_version"); v != CurrentVersion {
		return nil, fmt.Errorf("%w: can only normalize v%s models, update the model first", errors.ErrVersionUnsupported, CurrentVersion)
	}
	n := &normalizer{doc: doc, names: make(map[string]string)}
	if err := n.run(); err != nil {
		return n.warnings, err
	}
	return n.warnings, nil
}

type normalizer struct {
	doc      *Object
	warnings []string
	// names maps every member identifier to the section declaring it,
	// for uniqueness and order checking.
	names map[string]string
}

func (n *normalizer) run() error {
	if err := n.outer(); err != nil {
		return err
	}
	id, _ := n.doc.GetString("id")
	if !identRe.MatchString(id) {
		return malformedf("model id %q must be a valid identifier", id)
	}
	for _, section := range []string{"inputs", "outputs", "params"} {
		if err := n.section(section); err != nil {
			return err
		}
	}
	return n.checkOrder()
}

// outer checks the top-level fields and fills the defaultable ones.
func (n *normalizer) outer() error {
	for _, key := range n.doc.Keys() {
		if !slices.Contains(modelFields, key) {
			n.warnf("extraneous field %s", key)
		}
	}

	for _, f := range []string{"json_version", "id", "type", "name", "organ", "task", "status", "modality", "version"} {
		if _, err := n.requireString(n.doc, f, f); err != nil {
			return err
		}
	}
	for _, f := range []string{"description", "website", "citation"} {
		if _, err := n.optionalString(n.doc, f, f); err != nil {
			return err
		}
	}

	if raw, ok := n.doc.Get("maintainers"); ok {
		list, ok := raw.([]interface{})
		if !ok {
			return malformedf("improper type for maintainers")
		}
		for _, item := range list {
			if _, ok := item.(string); !ok {
				return malformedf("improper type for maintainers")
			}
		}
	} else {
		n.warnf("missing optional field maintainers")
		n.doc.Set("maintainers", []interface{}{})
	}

	docker, err := n.requireObject(n.doc, "docker", "docker")
	if err != nil {
		return err
	}
	for _, key := range docker.Keys() {
		if !slices.Contains(dockerFields, key) {
			n.warnf("extraneous field docker/%s", key)
		}
	}
	for _, f := range dockerFields {
		if _, err := n.requireString(docker, f, "docker/"+f); err != nil {
			return err
		}
	}

	if _, err := n.requireObject(n.doc, "inputs", "inputs"); err != nil {
		return err
	}
	if _, err := n.requireObject(n.doc, "outputs", "outputs"); err != nil {
		return err
	}
	if raw, ok := n.doc.Get("params"); ok {
		if _, ok := raw.(*Object); !ok {
			return malformedf("improper type for params")
		}
	} else {
		n.warnf("missing optional field params")
		n.doc.Set("params", NewObject())
	}

	if raw, ok := n.doc.Get("order"); ok {
		list, ok := raw.([]interface{})
		if !ok {
			return malformedf("improper type for order")
		}
		for _, item := range list {
			if _, ok := item.(string); !ok {
				return malformedf("improper type for order")
			}
		}
	} else {
		n.warnf("missing optional field order")
	}
	return nil
}

// section checks every member of one of inputs, outputs or params.
func (n *normalizer) section(section string) error {
	sec, _ := n.doc.GetObject(section)
	for _, key := range sec.Keys() {
		if _, dup := n.names[key]; dup {
			return malformedf("names must be unique (%q is already used)", key)
		}
		if !identRe.MatchString(key) {
			return malformedf("%s name %q must be a valid identifier", section, key)
		}
		n.names[key] = section
		raw, _ := sec.Get(key)
		member, ok := raw.(*Object)
		if !ok {
			return malformedf("improper type for %s/%s", section, key)
		}
		if err := n.member(section, key, member); err != nil {
			return err
		}
	}
	return nil
}

func (n *normalizer) member(section, key string, member *Object) error {
	path := section + "/" + key
	for _, f := range []string{"name", "description", "flag"} {
		if _, err := n.requireString(member, f, path+"/"+f); err != nil {
			return err
		}
	}
	if section != "params" {
		if _, err := n.requireString(member, "extension", path+"/extension"); err != nil {
			return err
		}
	}
	typ, err := n.requireString(member, "type", path+"/type")
	if err != nil {
		return err
	}

	if section == "params" {
		switch typ {
		case TypeInt, TypeFloat, TypeBool, TypeString, TypeEnum:
		default:
			return malformedf("invalid params type %q for %s", typ, path)
		}
	} else if typ != KindVolume && typ != KindSegmentation {
		return malformedf("invalid %s type %q for %s", section, typ, path)
	}

	switch typ {
	case KindVolume:
		if err := n.fillBool(member, "labelmap", path+"/labelmap", false); err != nil {
			return err
		}
	case KindSegmentation:
		if err := n.fillBool(member, "labelmap", path+"/labelmap", false); err != nil {
			return err
		}
		if _, err := n.optionalString(member, "master", path+"/master"); err != nil {
			return err
		}
		if err := n.segmentationHints(member, path); err != nil {
			return err
		}
	case TypeInt:
		if err := n.fillNumber(member, "min", path+"/min", defaultIntMin, true); err != nil {
			return err
		}
		if err := n.fillNumber(member, "max", path+"/max", defaultIntMax, true); err != nil {
			return err
		}
		def, err := n.requireInt(member, "default", path+"/default")
		if err != nil {
			return err
		}
		min, _ := intValue(value(member, "min"))
		max, _ := intValue(value(member, "max"))
		if def < min || def > max {
			return malformedf("default %d for %s is outside [%d, %d]", def, path, min, max)
		}
	case TypeFloat:
		if err := n.fillNumber(member, "min", path+"/min", defaultFloatMin, false); err != nil {
			return err
		}
		if err := n.fillNumber(member, "max", path+"/max", defaultFloatMax, false); err != nil {
			return err
		}
		def, err := n.requireFloat(member, "default", path+"/default")
		if err != nil {
			return err
		}
		min, _ := floatValue(value(member, "min"))
		max, _ := floatValue(value(member, "max"))
		if def < min || def > max {
			return malformedf("default %g for %s is outside [%g, %g]", def, path, min, max)
		}
	case TypeBool:
		raw, ok := member.Get("default")
		if !ok {
			return malformedf("missing required field %s/default", path)
		}
		if _, ok := raw.(bool); !ok {
			return malformedf("improper type for %s/default", path)
		}
	case TypeString:
		if _, err := n.requireString(member, "default", path+"/default"); err != nil {
			return err
		}
	case TypeEnum:
		if err := n.enum(member, path); err != nil {
			return err
		}
	}

	if section == "params" {
		return nil
	}
	steps := "pre"
	if section == "outputs" {
		steps = "post"
	}
	return n.steps(member, steps, path)
}

// enum verifies an enum declaration. A bare list of values is rewritten
// as an identity mapping so every enum ends up display-name -> value.
// The default must be one of the values: run configurations carry
// values, not display names.
func (n *normalizer) enum(member *Object, path string) error {
	raw, ok := member.Get("enum")
	if !ok {
		return malformedf("missing required field %s/enum", path)
	}
	switch v := raw.(type) {
	case []interface{}:
		mapping := NewObject()
		for _, item := range v {
			s, ok := item.(string)
			if !ok {
				return malformedf("improper type for %s/enum", path)
			}
			mapping.Set(s, s)
		}
		member.Set("enum", mapping)
	case *Object:
		for _, k := range v.Keys() {
			val, _ := v.Get(k)
			if _, ok := val.(string); !ok {
				return malformedf("improper type for %s/enum/%s", path, k)
			}
		}
	default:
		return malformedf("improper type for %s/enum", path)
	}

	def, err := n.requireString(member, "default", path+"/default")
	if err != nil {
		return err
	}
	mapping, _ := member.GetObject("enum")
	for _, k := range mapping.Keys() {
		if v, _ := mapping.Get(k); v == def {
			return nil
		}
	}
	return malformedf("default %q for %s is not one of the enum values", def, path)
}

// steps verifies the pre or post list of an input or output.
func (n *normalizer) steps(member *Object, name, path string) error {
	raw, ok := member.Get(name)
	if !ok {
		n.warnf("missing optional field %s/%s", path, name)
		member.Set(name, []interface{}{})
		return nil
	}
	list, ok := raw.([]interface{})
	if !ok {
		return malformedf("improper type for %s/%s", path, name)
	}
	for i, item := range list {
		spath := fmt.Sprintf("%s/%s/%d", path, name, i)
		step, ok := item.(*Object)
		if !ok {
			return malformedf("improper type for %s", spath)
		}
		for _, key := range step.Keys() {
			if !slices.Contains(stepFields, key) {
				n.warnf("extraneous field %s/%s", spath, key)
			}
		}
		for _, f := range []string{"name", "description", "status"} {
			if _, err := n.requireString(step, f, spath+"/"+f); err != nil {
				return err
			}
		}
		if err := n.fillBool(step, "locked", spath+"/locked", false); err != nil {
			return err
		}
		if _, err := n.requireString(step, "operation", spath+"/operation"); err != nil {
			return err
		}
		if _, err := n.optionalString(step, "action", spath+"/action"); err != nil {
			return err
		}
		if targets, ok := step.Get("targets"); ok {
			list, ok := targets.([]interface{})
			if !ok {
				return malformedf("improper type for %s/targets", spath)
			}
			for _, item := range list {
				if _, ok := intValue(item); !ok {
					return malformedf("improper type for %s/targets", spath)
				}
			}
		} else {
			n.warnf("missing optional field %s/targets", spath)
		}
		if _, err := n.requireObject(step, "params", spath+"/params"); err != nil {
			return err
		}
		status, _ := step.GetString("status")
		switch status {
		case StatusRequired, StatusSuggested, StatusOptional:
		default:
			return malformedf("invalid status %q for %s", status, spath)
		}
	}
	return nil
}

// checkOrder verifies that every name in the order list is declared.
func (n *normalizer) checkOrder() error {
	raw, ok := n.doc.Get("order")
	if !ok {
		return nil
	}
	list := raw.([]interface{})
	for _, item := range list {
		name := item.(string)
		if _, ok := n.names[name]; !ok {
			return malformedf("unknown name %q in order", name)
		}
	}
	return nil
}

func (n *normalizer) warnf(format string, args ...interface{}) {
	n.warnings = append(n.warnings, fmt.Sprintf(format, args...))
}

func malformedf(format string, args ...interface{}) error {
	args = append([]interface{}{errors.ErrModelMalformed}, args...)
	return fmt.Errorf("%w: "+format, args...)
}

func (n *normalizer) requireString(o *Object, key, path string) (string, error) {
	raw, ok := o.Get(key)
	if !ok {
		return "", malformedf("missing required field %s", path)
	}
	s, ok := raw.(string)
	if !ok {
		return "", malformedf("improper type for %s", path)
	}
	return s, nil
}

func (n *normalizer) optionalString(o *Object, key, path string) (string, error) {
	raw, ok := o.Get(key)
	if !ok {
		n.warnf("missing optional field %s", path)
		return "", nil
	}
	s, ok := raw.(string)
	if !ok {
		return "", malformedf("improper type for %s", path)
	}
	return s, nil
}

func (n *normalizer) requireObject(o *Object, key, path string) (*Object, error) {
	raw, ok := o.Get(key)
	if !ok {
		return nil, malformedf("missing required field %s", path)
	}
	nested, ok := raw.(*Object)
	if !ok {
		return nil, malformedf("improper type for %s", path)
	}
	return nested, nil
}

func (n *normalizer) fillBool(o *Object, key, path string, def bool) error {
	raw, ok := o.Get(key)
	if !ok {
		n.warnf("missing optional field %s", path)
		o.Set(key, def)
		return nil
	}
	if _, ok := raw.(bool); !ok {
		return malformedf("improper type for %s", path)
	}
	return nil
}

// fillNumber fills an absent numeric field with def and type-checks a
// present one; integral restricts the field to whole numbers.
func (n *normalizer) fillNumber(o *Object, key, path string, def json.Number, integral bool) error {
	raw, ok := o.Get(key)
	if !ok {
		n.warnf("missing optional field %s", path)
		o.Set(key, def)
		return nil
	}
	if integral {
		if _, ok := intValue(raw); !ok {
			return malformedf("improper type for %s", path)
		}
		return nil
	}
	if _, ok := floatValue(raw); !ok {
		return malformedf("improper type for %s", path)
	}
	return nil
}

func (n *normalizer) requireInt(o *Object, key, path string) (int64, error) {
	raw, ok := o.Get(key)
	if !ok {
		return 0, malformedf("missing required field %s", path)
	}
	v, ok := intValue(raw)
	if !ok {
		return 0, malformedf("improper type for %s", path)
	}
	return v, nil
}

func (n *normalizer) requireFloat(o *Object, key, path string) (float64, error) {
	raw, ok := o.Get(key)
	if !ok {
		return 0, malformedf("missing required field %s", path)
	}
	v, ok := floatValue(raw)
	if !ok {
		return 0, malformedf("improper type for %s", path)
	}
	return v, nil
}

func value(o *Object, key string) interface{} {
	v, _ := o.Get(key)
	return v
}

func intValue(v interface{}) (int64, bool) {
	num, ok := v.(json.Number)
	if !ok {
		return 0, false
	}
	i, err := num.Int64()
	if err != nil {
		return 0, false
	}
	return i, true
}

func floatValue(v interface{}) (float64, bool) {
	num, ok := v.(json.Number)
	if !ok {
		return 0, false
	}
	f, err := num.Float64()
	if err != nil {
		return 0, false
	}
	return f, true
}
