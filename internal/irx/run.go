package irx

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"inferlet/internal/inferlet/backend"
	"inferlet/internal/inferlet/backend/docker"
	"inferlet/internal/inferlet/backend/local"
	"inferlet/internal/inferlet/backend/remote"
	"inferlet/internal/inferlet/engine"
	"inferlet/internal/inferlet/processing"
	"inferlet/internal/inferlet/spec"
	"inferlet/pkg/errors"
)

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run <model.json> [flags]",
		Short: "Run a model",
		Long: `Run a model described by a model description file.

The model's parameters become flags. A parameter declared as "gpus"
with type int is set with --gpus=2; parameters left unset fall back
to the model's defaults. Inputs and outputs are bound to files with
repeated --input and --output pairs. Use 'irx inspect' to see what a
model declares.

Examples:
  # Run on the local Docker daemon
  irx run lung_seg.json --input input_vol=./ct.nrrd --output output_seg=./out.seg.nrrd

  # Override a model parameter
  irx run lung_seg.json --gpus=2 --input input_vol=./ct.nrrd --output output_seg=./out.seg.nrrd

  # Run on a relay server from the client configuration
  irx run lung_seg.json --backend=remote --node=lab --input input_vol=./ct.nrrd --output output_seg=./out.seg.nrrd

  # Run the model command as a local program instead of a container
  irx run lung_seg.json --backend=local --program="python3 segment.py" --input input_vol=./ct.nrrd --output output_seg=./out.seg.nrrd

Fixed flags:
  --backend=NAME       Execution backend: docker, local or remote (default docker)
  --docker-host=ADDR   Docker daemon address (default taken from the environment)
  --program=CMD        Program the local backend runs in place of the container
  --input NAME=PATH    File to read the named model input from
  --output NAME=PATH   File to write the named model output to
  --config=PATH        Client configuration file (remote backend)
  --node=NAME          Relay node from the client configuration (remote backend)`,
		Args:               cobra.MinimumNArgs(1),
		RunE:               runRun,
		DisableFlagParsing: true,
	}
	return cmd
}

func runRun(cmd *cobra.Command, args []string) error {
	if args[0] == "-h" || args[0] == "--help" {
		return cmd.Help()
	}
	if strings.HasPrefix(args[0], "-") {
		return fmt.Errorf("the model file must come first: irx run <model.json> [flags]")
	}

	m, err := spec.Load(args[0])
	if err != nil {
		return err
	}

	fs, rf, err := runFlagSet(m)
	if err != nil {
		return err
	}
	if err := fs.Parse(args[1:]); err != nil {
		return err
	}
	if len(fs.Args()) > 0 {
		return fmt.Errorf("unexpected argument %q", fs.Args()[0])
	}

	cfg, err := buildRunConfig(m, fs, rf)
	if err != nil {
		return err
	}
	b, err := buildBackend(rf)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		<-sigCh
		fmt.Fprintf(os.Stderr, "\nInterrupted, stopping run\n")
		cancel()
	}()

	eng := engine.New(b, processing.NewRegistry())
	opts := &engine.Options{
		Logs: os.Stdout,
		OnState: func(st engine.State) {
			fmt.Fprintf(os.Stderr, "--- %s\n", st)
		},
	}

	started := time.Now()
	res, err := eng.Run(ctx, m, cfg, opts)
	if err != nil {
		if errors.ShouldRetry(err) {
			fmt.Fprintln(os.Stderr, "The failure looks transient; retrying may help.")
		}
		return err
	}

	fmt.Printf("\nRun finished in %s\n", time.Since(started).Round(time.Millisecond))
	for _, name := range m.Outputs.Names() {
		h, ok := res.Outputs[name]
		if !ok {
			continue
		}
		switch t := h.(type) {
		case backend.File:
			fmt.Printf("Output %s: %s\n", name, t.Path())
		case backend.Bytes:
			fmt.Printf("Output %s: %d bytes in memory\n", name, len(t))
		}
	}
	return nil
}

type runFlags struct {
	backendName string
	program     string
	dockerHost  string
	inputs      []string
	outputs     []string
}

// runFlagSet builds the run command's flag set: the fixed flags plus one
// flag per model parameter, typed from the parameter declaration. The
// persistent --config and --node flags are redeclared here because flag
// parsing is disabled on the command itself.
func runFlagSet(m *spec.ModelSpec) (*pflag.FlagSet, *runFlags, error) {
	fs := pflag.NewFlagSet("run", pflag.ContinueOnError)
	rf := &runFlags{}

	fs.StringVar(&rf.backendName, "backend", "docker", "Execution backend: docker, local or remote")
	fs.StringVar(&rf.dockerHost, "docker-host", "", "Docker daemon address (default taken from the environment)")
	fs.StringVar(&rf.program, "program", "", "Program the local backend runs in place of the container")
	fs.StringArrayVar(&rf.inputs, "input", nil, "Bind a model input to a file: name=path")
	fs.StringArrayVar(&rf.outputs, "output", nil, "Bind a model output to a file: name=path")
	fs.StringVar(&configPath, "config", configPath, "Path to client configuration file")
	fs.StringVar(&nodeName, "node", nodeName, "Node name from configuration file")

	for _, p := range m.Params.All() {
		if fs.Lookup(p.Key) != nil {
			return nil, nil, fmt.Errorf("model parameter %q collides with a built-in flag", p.Key)
		}
		def, err := p.DefaultValue()
		if err != nil {
			return nil, nil, err
		}
		usage := p.Name
		if p.Description != "" {
			usage = p.Description
		}
		switch p.Type {
		case spec.TypeInt:
			fs.Int64(p.Key, def.(int64), usage)
		case spec.TypeFloat:
			fs.Float64(p.Key, def.(float64), usage)
		case spec.TypeBool:
			fs.Bool(p.Key, def.(bool), usage)
		case spec.TypeString:
			fs.String(p.Key, def.(string), usage)
		case spec.TypeEnum:
			if p.Enum != nil {
				usage = fmt.Sprintf("%s (one of %s)", usage, strings.Join(p.Enum.Values(), ", "))
			}
			fs.String(p.Key, def.(string), usage)
		default:
			return nil, nil, fmt.Errorf("parameter %s: unknown type %q", p.Key, p.Type)
		}
	}
	return fs, rf, nil
}

// buildRunConfig collects the user's bindings and overrides into a
// partial run configuration. Parameters the user did not set are left
// out so validation fills the declared defaults.
func buildRunConfig(m *spec.ModelSpec, fs *pflag.FlagSet, rf *runFlags) (*spec.RunConfig, error) {
	cfg := &spec.RunConfig{
		Inputs:  make(map[string]*spec.IOConfig),
		Outputs: make(map[string]*spec.IOConfig),
		Params:  make(map[string]*spec.ParamConfig),
	}

	for _, bind := range rf.inputs {
		name, path, err := splitBinding(bind)
		if err != nil {
			return nil, fmt.Errorf("--input %s: %w", bind, err)
		}
		cfg.Inputs[name] = &spec.IOConfig{Value: path}
	}
	for _, bind := range rf.outputs {
		name, path, err := splitBinding(bind)
		if err != nil {
			return nil, fmt.Errorf("--output %s: %w", bind, err)
		}
		cfg.Outputs[name] = &spec.IOConfig{Value: path}
	}

	var perr error
	fs.Visit(func(f *pflag.Flag) {
		p, ok := m.Params.Get(f.Name)
		if !ok {
			return
		}
		var (
			val interface{}
			err error
		)
		switch p.Type {
		case spec.TypeInt:
			val, err = fs.GetInt64(f.Name)
		case spec.TypeFloat:
			val, err = fs.GetFloat64(f.Name)
		case spec.TypeBool:
			val, err = fs.GetBool(f.Name)
		default:
			val, err = fs.GetString(f.Name)
		}
		if err != nil {
			if perr == nil {
				perr = err
			}
			return
		}
		cfg.Params[p.Key] = &spec.ParamConfig{Value: val}
	})
	if perr != nil {
		return nil, perr
	}
	return cfg, nil
}

func splitBinding(s string) (string, string, error) {
	name, path, ok := strings.Cut(s, "=")
	if !ok || name == "" || path == "" {
		return "", "", fmt.Errorf("expected name=path")
	}
	return name, path, nil
}

func buildBackend(rf *runFlags) (backend.Backend, error) {
	switch rf.backendName {
	case "docker":
		return docker.New(rf.dockerHost)
	case "local":
		if rf.program == "" {
			return nil, fmt.Errorf("the local backend needs --program")
		}
		return local.New(strings.Fields(rf.program))
	case "remote":
		node, err := relayNode()
		if err != nil {
			return nil, err
		}
		address := node.Address
		if !strings.Contains(address, "://") {
			address = "http://" + address
		}
		return remote.New(address, nil)
	default:
		return nil, fmt.Errorf("unknown backend %q, expected docker, local or remote", rf.backendName)
	}
}
