package irx

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"inferlet/pkg/config"
)

const relayTimeout = 10 * time.Second

func newModelsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "models",
		Short: "List the models a relay server offers",
		Args:  cobra.NoArgs,
		RunE:  runModels,
	}
}

func runModels(cmd *cobra.Command, args []string) error {
	c, err := newRelayClient()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), relayTimeout)
	defer cancel()

	models, err := c.Models(ctx)
	if err != nil {
		return fmt.Errorf("failed to list models: %w", err)
	}

	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(models)
	}

	if len(models) == 0 {
		fmt.Println("No models available")
		return nil
	}

	idWidth, verWidth := len("ID"), len("VERSION")
	for _, m := range models {
		if len(m.ID) > idWidth {
			idWidth = len(m.ID)
		}
		if len(m.Version) > verWidth {
			verWidth = len(m.Version)
		}
	}
	idWidth += 2
	verWidth += 2

	fmt.Printf("%-*s %-*s %-16s %s\n", idWidth, "ID", verWidth, "VERSION", "TASK", "NAME")
	fmt.Printf("%s %s %s %s\n",
		strings.Repeat("-", idWidth),
		strings.Repeat("-", verWidth),
		strings.Repeat("-", 16),
		strings.Repeat("-", 4))
	for _, m := range models {
		task := m.Task
		if task == "" {
			task = "-"
		}
		fmt.Printf("%-*s %-*s %-16s %s\n", idWidth, m.ID, verWidth, m.Version, task, m.Name)
	}
	return nil
}

func newModelCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "model <id>",
		Short: "Fetch one model description from a relay server",
		Args:  cobra.ExactArgs(1),
		RunE:  runModel,
	}
}

func runModel(cmd *cobra.Command, args []string) error {
	c, err := newRelayClient()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), relayTimeout)
	defer cancel()

	doc, err := c.Model(ctx, args[0])
	if err != nil {
		return fmt.Errorf("failed to fetch model: %w", err)
	}

	var buf bytes.Buffer
	if err := json.Indent(&buf, doc, "", "  "); err != nil {
		return fmt.Errorf("decode model: %w", err)
	}
	fmt.Println(buf.String())
	return nil
}

func newNodesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "nodes",
		Short: "List available relay nodes from configuration",
		Args:  cobra.NoArgs,
		RunE:  runNodes,
	}
}

func runNodes(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadClientConfig(configPath)
	if err != nil {
		return err
	}

	names := cfg.ListNodes()
	sort.Strings(names)

	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(cfg.Nodes)
	}

	fmt.Printf("Available nodes from configuration:\n\n")
	for _, name := range names {
		node, err := cfg.GetNode(name)
		if err != nil {
			continue
		}

		// Mark default node
		marker := "  "
		if name == "default" {
			marker = "* "
		}

		fmt.Printf("%s%s\n", marker, name)
		fmt.Printf("   Address: %s\n", node.Address)
		if node.Timeout > 0 {
			fmt.Printf("   Timeout: %s\n", node.Timeout)
		}
		fmt.Println()
	}

	fmt.Printf("Usage examples:\n")
	fmt.Printf("  irx models                  # uses 'default' node\n")
	for _, name := range names {
		if name != "default" {
			fmt.Printf("  irx --node=%s models        # uses '%s' node\n", name, name)
			break
		}
	}
	return nil
}
