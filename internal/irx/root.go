// Package irx implements the inferlet command line client. It works on
// model description files locally, runs models through the engine, and
// queries relay servers listed in the client configuration.
package irx

import (
	"github.com/spf13/cobra"

	"inferlet/pkg/client"
	"inferlet/pkg/config"
	"inferlet/pkg/version"
)

var (
	configPath string
	nodeName   string
	jsonOutput bool
)

var rootCmd = &cobra.Command{
	Use:   "irx",
	Short: "IRX - inference relay client",
	Long: `IRX - Command line client for inferlet. Validates, migrates and
inspects model description files, runs models on a Docker daemon, a
local program or a relay server, and queries a relay's model catalogue.`,
	Version:       version.GetShortVersion(),
	SilenceUsage:  true,
	SilenceErrors: true,
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "",
		"Path to client configuration file (searches common locations if not specified)")
	rootCmd.PersistentFlags().StringVar(&nodeName, "node", "default",
		"Node name from configuration file")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false,
		"Output in JSON format")

	// Add subcommands
	rootCmd.AddCommand(newValidateCmd())
	rootCmd.AddCommand(newUpdateCmd())
	rootCmd.AddCommand(newInspectCmd())
	rootCmd.AddCommand(newRunCmd())
	rootCmd.AddCommand(newModelsCmd())
	rootCmd.AddCommand(newModelCmd())
	rootCmd.AddCommand(newNodesCmd())
}

// relayNode loads the client configuration and resolves the selected
// node. Only the commands that talk to a relay call it; the document
// commands work offline.
func relayNode() (*config.Node, error) {
	cfg, err := config.LoadClientConfig(configPath)
	if err != nil {
		return nil, err
	}
	return cfg.GetNode(nodeName)
}

func newRelayClient() (*client.RelayClient, error) {
	node, err := relayNode()
	if err != nil {
		return nil, err
	}
	return client.NewRelayClient(node)
}
