// Package backend defines the execution capability the dispatch engine
// drives and the value-handle forms exchanged with it. A backend owns
// everything past the file map: where the data root actually lives,
// how inputs get there, how the command runs and how outputs come
// back.
package backend

import (
	"context"
	"fmt"
	"io"

	"inferlet/internal/inferlet/spec"
	"inferlet/pkg/errors"
)

// Handle references one member's data. Two forms exist: File for data
// on the local filesystem and Bytes for artifacts held in memory. The
// engine treats handles as opaque; backends and processing handlers
// give them meaning.
type Handle interface {
	handle()
}

// File is a path on the local filesystem.
type File string

func (File) handle() {}

// Path returns the file's location.
func (f File) Path() string { return string(f) }

// Bytes is an artifact held in memory.
type Bytes []byte

func (Bytes) handle() {}

// AsHandle converts a run-config value into a handle. Strings are
// taken as local file paths, which is what declarative configurations
// carry; values built in code may already be handles.
func AsHandle(v interface{}) (Handle, error) {
	switch t := v.(type) {
	case Handle:
		return t, nil
	case string:
		return File(t), nil
	}
	return nil, fmt.Errorf("%w: %T", errors.ErrUnsupportedHandle, v)
}

// RunResult reports a finished execution. Output is the captured
// process output, preserved verbatim for diagnostics.
type RunResult struct {
	ExitCode int
	Output   string
}

// Backend executes one run at a time. The engine's call order is:
// Prepare and Begin when implemented, then Workdir, then Save per
// input, Run once, Load per output, and during cleanup Remove per
// created file and Cleanup when implemented. Implementations may keep
// per-run state between those calls; sharing one instance across
// concurrent runs is not supported.
type Backend interface {
	// Name identifies the backend in logs and errors.
	Name() string

	// Workdir returns the data root the executed command reads inputs
	// from and writes outputs to, as seen by that command.
	Workdir(model *spec.ModelSpec) string

	// Save materializes the named input's handle at dst, a file-map
	// path.
	Save(ctx context.Context, name string, h Handle, dst string) error

	// Run executes the argument vector with workdir as the data root.
	// Process output is streamed to logs when non-nil and returned
	// captured in the result. A non-zero exit is reported in the
	// result, not as an error; an error means the execution itself
	// could not be carried out.
	Run(ctx context.Context, argv []string, workdir string, logs io.Writer) (*RunResult, error)

	// Load reads the named output at src, a file-map path, back into a
	// handle. dest is the caller's requested destination: file handles
	// are written in place when given, otherwise the artifact comes
	// back in memory.
	Load(ctx context.Context, name, src string, dest Handle) (Handle, error)

	// Remove deletes one file-map path during cleanup.
	Remove(ctx context.Context, path string) error
}

// Preparer is implemented by backends that can check their runtime
// before the engine causes any side effects: image presence, server
// handshake, model version agreement. The engine consults it while
// validating.
type Preparer interface {
	Prepare(ctx context.Context, model *spec.ModelSpec) error
}

// Starter is implemented by backends that set up per-run resources
// before any input is saved, such as a remote session.
type Starter interface {
	Begin(ctx context.Context, model *spec.ModelSpec, cfg *spec.ResolvedConfig) error
}

// Cleaner is implemented by backends holding per-run resources beyond
// the mapped files, such as containers or remote sessions. The engine
// calls it once at the end of cleanup, after every file removal.
type Cleaner interface {
	Cleanup(ctx context.Context, model *spec.ModelSpec) error
}
