// Package command turns a model and its resolved run configuration
// into the file map and argument vector an execution backend runs.
// Both constructions are pure and deterministic.
package command

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"inferlet/internal/inferlet/spec"
)

// BuildFileMap maps every input and output to its path under the
// backend's data root: root/name+extension. The root is the path as
// the executed command sees it, so joining is plain "/" regardless of
// host platform. Name uniqueness across sections makes collisions
// impossible.
func BuildFileMap(model *spec.ModelSpec, dataRoot string) map[string]string {
	root := dataRoot
	if len(root) > 1 && (root[len(root)-1] == '/' || root[len(root)-1] == '\\') {
		root = root[:len(root)-1]
	}

	fmap := make(map[string]string, model.Inputs.Len()+model.Outputs.Len())
	for _, io := range model.Inputs.All() {
		fmap[io.Key] = root + "/" + io.Key + io.Extension
	}
	for _, io := range model.Outputs.All() {
		fmap[io.Key] = root + "/" + io.Key + io.Extension
	}
	return fmap
}

// BuildArgumentVector renders the command arguments. Members are
// emitted in the model's explicit order when one is declared, else
// inputs, outputs and parameters in declaration order. Inputs and
// outputs render their mapped path; parameters render their resolved
// value. A boolean parameter contributes its flag alone when true and
// nothing at all when false, so order entries naming it are skipped.
func BuildArgumentVector(model *spec.ModelSpec, cfg *spec.ResolvedConfig, fmap map[string]string) []string {
	tokens := make(map[string][]string, model.Inputs.Len()+model.Outputs.Len()+model.Params.Len())
	for _, io := range model.Inputs.All() {
		tokens[io.Key] = formatFlag(io.Flag, fmap[io.Key])
	}
	for _, io := range model.Outputs.All() {
		tokens[io.Key] = formatFlag(io.Flag, fmap[io.Key])
	}
	for _, p := range model.Params.All() {
		if p.Type == spec.TypeBool {
			if on, _ := cfg.Params[p.Key].(bool); on {
				tokens[p.Key] = []string{p.Flag}
			}
			continue
		}
		tokens[p.Key] = formatFlag(p.Flag, stringify(cfg.Params[p.Key]))
	}

	var argv []string
	for _, name := range model.ArgumentOrder() {
		t, ok := tokens[name]
		if !ok {
			continue
		}
		argv = append(argv, t...)
	}
	return argv
}

// formatFlag renders one member. An empty flag makes the value a bare
// positional argument; a flag ending in "=" joins flag and value into
// one token; anything else emits flag and value as two tokens.
func formatFlag(flag, value string) []string {
	if flag == "" {
		return []string{value}
	}
	if strings.HasSuffix(flag, "=") {
		return []string{flag + value}
	}
	return []string{flag, value}
}

func stringify(v interface{}) string {
	switch t := v.(type) {
	case string:
		return t
	case int64:
		return strconv.FormatInt(t, 10)
	case float64:
		return strconv.FormatFloat(t, 'g', -1, 64)
	case int:
		return strconv.Itoa(t)
	case bool:
		return strconv.FormatBool(t)
	case json.Number:
		return t.String()
	}
	return fmt.Sprintf("%v", v)
}
