package irx

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"inferlet/internal/inferlet/spec"
)

func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <model.json>",
		Short: "Check a model description file",
		Long: `Parse a model description file, migrate it to the current schema
version in memory, and verify it. Findings are printed; the file is
left untouched.`,
		Args: cobra.ExactArgs(1),
		RunE: runValidate,
	}
}

func runValidate(cmd *cobra.Command, args []string) error {
	m, err := spec.Load(args[0])
	if err != nil {
		return err
	}

	if jsonOutput {
		warnings := m.Warnings
		if warnings == nil {
			warnings = []string{}
		}
		out := map[string]interface{}{
			"id":       m.ID,
			"name":     m.Name,
			"version":  m.Version,
			"schema":   m.JSONVersion,
			"updated":  m.Updated,
			"warnings": warnings,
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	}

	fmt.Printf("Model: %s (%s v%s)\n", m.Name, m.ID, m.Version)
	if m.Updated {
		fmt.Printf("Schema: migrated to %s\n", spec.CurrentVersion)
	} else {
		fmt.Printf("Schema: %s\n", m.JSONVersion)
	}
	for _, w := range m.Warnings {
		fmt.Printf("Warning: %s\n", w)
	}
	fmt.Println("OK")
	return nil
}

func newUpdateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "update <in.json> <out.json>",
		Short: "Migrate a model description to the current schema version",
		Long: `Read a model description, run the schema migrations up to the
current version, and write the migrated document. The input file is
not modified. Documents newer than the current schema version are
rejected.`,
		Args: cobra.ExactArgs(2),
		RunE: runUpdate,
	}
}

func runUpdate(cmd *cobra.Command, args []string) error {
	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("read model file: %w", err)
	}
	doc := spec.NewObject()
	if err := json.Unmarshal(data, doc); err != nil {
		return fmt.Errorf("model file %s: %w", args[0], err)
	}

	from := "deepinfer"
	if v, ok := doc.GetString("json_version"); ok {
		from = v
	}

	doc, updated, err := spec.Update(doc)
	if err != nil {
		return err
	}

	out, err := json.MarshalIndent(doc, "", "    ")
	if err != nil {
		return fmt.Errorf("encode model: %w", err)
	}
	out = append(out, '\n')
	if err := os.WriteFile(args[1], out, 0o644); err != nil {
		return fmt.Errorf("write model file: %w", err)
	}

	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(map[string]interface{}{
			"from":    from,
			"to":      spec.CurrentVersion,
			"updated": updated,
			"output":  args[1],
		})
	}

	if updated {
		fmt.Printf("Updated %s to %s, written to %s\n", from, spec.CurrentVersion, args[1])
	} else {
		fmt.Printf("Already at %s, written to %s\n", spec.CurrentVersion, args[1])
	}
	return nil
}

func newInspectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "inspect <model.json>",
		Short: "Show a model description in human-readable form",
		Args:  cobra.ExactArgs(1),
		RunE:  runInspect,
	}
}

func runInspect(cmd *cobra.Command, args []string) error {
	m, err := spec.Load(args[0])
	if err != nil {
		return err
	}

	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(m.Document())
	}

	fmt.Printf("Model: %s\n", m.Name)
	fmt.Printf("ID: %s\n", m.ID)
	fmt.Printf("Version: %s\n", m.Version)
	fmt.Printf("Status: %s\n", m.Status)
	fmt.Printf("Task: %s\n", m.Task)
	fmt.Printf("Organ: %s\n", m.Organ)
	fmt.Printf("Modality: %s\n", m.Modality)
	fmt.Printf("Image: %s\n", m.Docker.Image())
	fmt.Printf("Data Path: %s\n", m.Docker.DataPath)
	if m.Description != "" {
		fmt.Printf("Description: %s\n", m.Description)
	}

	if m.Inputs.Len() > 0 {
		fmt.Printf("\nInputs:\n")
		printIO(m.Inputs.All())
	}
	if m.Outputs.Len() > 0 {
		fmt.Printf("\nOutputs:\n")
		printIO(m.Outputs.All())
	}

	if m.Params.Len() > 0 {
		fmt.Printf("\nParameters:\n")
		for _, p := range m.Params.All() {
			extra := ""
			switch p.Type {
			case spec.TypeInt, spec.TypeFloat:
				if p.Min != "" || p.Max != "" {
					extra = fmt.Sprintf("  [%s..%s]", p.Min, p.Max)
				}
			case spec.TypeEnum:
				if p.Enum != nil {
					extra = fmt.Sprintf("  (%s)", strings.Join(p.Enum.Values(), ", "))
				}
			}
			fmt.Printf("  %-20s %-8s %-12s default %v%s\n", p.Key, p.Type, flagText(p.Flag), p.Default, extra)
		}
	}

	if m.Order != nil {
		fmt.Printf("\nArgument Order: %s\n", strings.Join(m.Order, ", "))
	}
	return nil
}

func printIO(entries []*spec.IOSpec) {
	for _, e := range entries {
		fmt.Printf("  %-20s %-14s %-10s %s\n", e.Key, e.Type, e.Extension, flagText(e.Flag))
		for _, st := range e.Pre {
			fmt.Printf("    pre:  %s (%s)\n", st.Name, st.Status)
		}
		for _, st := range e.Post {
			fmt.Printf("    post: %s (%s)\n", st.Name, st.Status)
		}
	}
}

func flagText(flag string) string {
	if flag == "" {
		return "(positional)"
	}
	return "flag " + flag
}
