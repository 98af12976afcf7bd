// Package local runs models as host processes. Each run gets a private
// temporary directory as its data root; saving and loading are plain
// file copies.
package local

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"

	"inferlet/internal/inferlet/backend"
	"inferlet/internal/inferlet/spec"
	"inferlet/pkg/errors"
	"inferlet/pkg/logger"
)

// Backend executes a configured host command with the built argument
// vector appended.
type Backend struct {
	prog []string
	log  *logger.Logger

	workdir string
}

// New builds a local backend around a host command prefix, for example
// ["python3", "run_model.py"].
func New(prog []string) (*Backend, error) {
	if len(prog) == 0 {
		return nil, errors.NewConfigError("local", "command", fmt.Errorf("a host command is required"))
	}
	return &Backend{
		prog: prog,
		log:  logger.WithField("backend", "local"),
	}, nil
}

func (b *Backend) Name() string { return "local" }

// Begin creates the run's private data root.
func (b *Backend) Begin(ctx context.Context, model *spec.ModelSpec, cfg *spec.ResolvedConfig) error {
	dir, err := os.MkdirTemp("", "inferlet-run-")
	if err != nil {
		return fmt.Errorf("create run directory: %w", err)
	}
	b.workdir = dir
	b.log.Debug("run directory created", "dir", dir)
	return nil
}

func (b *Backend) Workdir(model *spec.ModelSpec) string {
	return b.workdir
}

func (b *Backend) Save(ctx context.Context, name string, h backend.Handle, dst string) error {
	switch t := h.(type) {
	case backend.File:
		if err := copyFile(t.Path(), dst); err != nil {
			return errors.WrapTransferError(dst, "save", err)
		}
	case backend.Bytes:
		if err := os.WriteFile(dst, t, 0o644); err != nil {
			return errors.WrapTransferError(dst, "save", err)
		}
	default:
		return fmt.Errorf("%w: %T", errors.ErrUnsupportedHandle, h)
	}
	return nil
}

// Run executes the host command with argv appended, from the run
// directory. A non-zero exit is reported in the result; an error means
// the process could not run at all.
func (b *Backend) Run(ctx context.Context, argv []string, workdir string, logs io.Writer) (*backend.RunResult, error) {
	args := append(append([]string{}, b.prog[1:]...), argv...)
	cmd := exec.CommandContext(ctx, b.prog[0], args...)
	cmd.Dir = workdir

	var capture bytes.Buffer
	out := io.Writer(&capture)
	if logs != nil {
		out = io.MultiWriter(&capture, logs)
	}
	cmd.Stdout = out
	cmd.Stderr = out

	b.log.Info("running model command", "command", b.prog[0], "args", len(args))
	err := cmd.Run()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return &backend.RunResult{ExitCode: exitErr.ExitCode(), Output: capture.String()}, nil
		}
		return nil, fmt.Errorf("run %s: %w", b.prog[0], err)
	}
	return &backend.RunResult{ExitCode: 0, Output: capture.String()}, nil
}

func (b *Backend) Load(ctx context.Context, name, src string, dest backend.Handle) (backend.Handle, error) {
	if f, ok := dest.(backend.File); ok {
		if err := copyFile(src, f.Path()); err != nil {
			return nil, errors.WrapTransferError(src, "load", err)
		}
		return f, nil
	}
	data, err := os.ReadFile(src)
	if err != nil {
		return nil, errors.WrapTransferError(src, "load", err)
	}
	return backend.Bytes(data), nil
}

func (b *Backend) Remove(ctx context.Context, path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return errors.WrapTransferError(path, "remove", err)
	}
	return nil
}

// Cleanup drops the run directory.
func (b *Backend) Cleanup(ctx context.Context, model *spec.ModelSpec) error {
	if b.workdir == "" {
		return nil
	}
	err := os.RemoveAll(b.workdir)
	b.workdir = ""
	if err != nil {
		return fmt.Errorf("remove run directory: %w", err)
	}
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
