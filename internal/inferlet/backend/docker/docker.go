// Package docker executes model commands in containers built from the
// model's declared image. Docker wants the command known at container
// creation, so inputs saved before Run are staged locally and copied
// into the container once it exists.
package docker

import (
	"archive/tar"
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"sort"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/strslice"
	"github.com/docker/docker/api/types/versions"
	"github.com/docker/docker/client"
	"github.com/docker/docker/errdefs"
	"github.com/docker/docker/pkg/stdcopy"

	"inferlet/internal/inferlet/backend"
	"inferlet/internal/inferlet/spec"
	"inferlet/pkg/errors"
	"inferlet/pkg/logger"
)

// deviceRequestsAPIVersion is the daemon API version that introduced
// device requests, which GPU access needs.
const deviceRequestsAPIVersion = "1.40"

type stagedFile struct {
	src  string
	temp bool
}

// Backend runs one container per run.
type Backend struct {
	cli *client.Client
	log *logger.Logger

	model       *spec.ModelSpec
	staged      map[string]stagedFile
	containerID string
	tempDir     string
}

// New connects to the Docker daemon. Connection details come from the
// environment unless host overrides them. The API version is
// negotiated because the client's pinned default predates device
// requests.
func New(host string) (*Backend, error) {
	opts := []client.Opt{client.FromEnv, client.WithAPIVersionNegotiation()}
	if host != "" {
		opts = append(opts, client.WithHost(host))
	}
	cli, err := client.NewClientWithOpts(opts...)
	if err != nil {
		return nil, errors.NewConfigError("docker", "host", err)
	}
	return &Backend{
		cli:    cli,
		log:    logger.WithField("backend", "docker"),
		staged: make(map[string]stagedFile),
	}, nil
}

func (b *Backend) Name() string { return "docker" }

// Workdir is the model's declared data path inside the container.
func (b *Backend) Workdir(model *spec.ModelSpec) string {
	return model.Docker.DataPath
}

// Prepare verifies the model's image is present locally.
func (b *Backend) Prepare(ctx context.Context, model *spec.ModelSpec) error {
	image := model.Docker.Image()
	if _, _, err := b.cli.ImageInspectWithRaw(ctx, image); err != nil {
		if errdefs.IsNotFound(err) {
			return errors.WrapModelError(model.ID, "prepare",
				fmt.Errorf("image %s is not present locally", image))
		}
		return errors.WrapModelError(model.ID, "prepare", fmt.Errorf("%w: %v", errors.ErrBackendUnavailable, err))
	}
	return nil
}

// Begin resets per-run state and settles the negotiated API version.
func (b *Backend) Begin(ctx context.Context, model *spec.ModelSpec, cfg *spec.ResolvedConfig) error {
	b.cli.NegotiateAPIVersion(ctx)
	b.model = model
	b.staged = make(map[string]stagedFile)
	b.containerID = ""
	b.tempDir = ""
	return nil
}

// Save stages the handle locally. The container the file lands in is
// created by Run, once the full command is known.
func (b *Backend) Save(ctx context.Context, name string, h backend.Handle, dst string) error {
	switch t := h.(type) {
	case backend.File:
		b.staged[dst] = stagedFile{src: t.Path()}
	case backend.Bytes:
		tmp, err := b.stageBytes(t)
		if err != nil {
			return errors.WrapTransferError(dst, "save", err)
		}
		b.staged[dst] = stagedFile{src: tmp, temp: true}
	default:
		return fmt.Errorf("%w: %T", errors.ErrUnsupportedHandle, h)
	}
	b.log.Debug("staged input", "input", name, "dst", dst)
	return nil
}

func (b *Backend) stageBytes(data []byte) (string, error) {
	if b.tempDir == "" {
		dir, err := os.MkdirTemp("", "inferlet-docker-")
		if err != nil {
			return "", err
		}
		b.tempDir = dir
	}
	f, err := os.CreateTemp(b.tempDir, "stage-")
	if err != nil {
		return "", err
	}
	defer f.Close()
	if _, err := f.Write(data); err != nil {
		return "", err
	}
	return f.Name(), nil
}

// Run creates the container with the command vector, copies the staged
// inputs in, starts it, streams its output and waits for the exit
// code. The container is left in place for Load and removed by
// Cleanup.
func (b *Backend) Run(ctx context.Context, argv []string, workdir string, logs io.Writer) (*backend.RunResult, error) {
	if b.model == nil {
		return nil, fmt.Errorf("run before Begin")
	}
	image := b.model.Docker.Image()

	hostCfg := &container.HostConfig{}
	if versions.GreaterThanOrEqualTo(b.cli.ClientVersion(), deviceRequestsAPIVersion) {
		b.log.Debug("requesting GPU devices", "api_version", b.cli.ClientVersion())
		hostCfg.Resources = container.Resources{
			DeviceRequests: []container.DeviceRequest{
				{Count: -1, Capabilities: [][]string{{"gpu"}}},
			},
		}
	} else {
		b.log.Warn("daemon API version predates device requests, running without GPUs",
			"api_version", b.cli.ClientVersion())
	}

	created, err := b.cli.ContainerCreate(ctx, &container.Config{
		Image: image,
		Cmd:   strslice.StrSlice(argv),
	}, hostCfg, nil, nil, "")
	if err != nil {
		return nil, fmt.Errorf("create container from %s: %w", image, err)
	}
	b.containerID = created.ID
	b.log.Info("container created", "container", shortID(created.ID), "image", image)

	dsts := make([]string, 0, len(b.staged))
	for dst := range b.staged {
		dsts = append(dsts, dst)
	}
	sort.Strings(dsts)
	for _, dst := range dsts {
		if err := b.copyIn(ctx, dst, b.staged[dst].src); err != nil {
			return nil, errors.WrapTransferError(dst, "copy to container", err)
		}
	}

	if err := b.cli.ContainerStart(ctx, b.containerID, container.StartOptions{}); err != nil {
		return nil, fmt.Errorf("start container: %w", err)
	}

	var capture bytes.Buffer
	out := io.Writer(&capture)
	if logs != nil {
		out = io.MultiWriter(&capture, logs)
	}
	rc, err := b.cli.ContainerLogs(ctx, b.containerID, container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Follow:     true,
	})
	if err != nil {
		return nil, fmt.Errorf("attach logs: %w", err)
	}
	if _, err := stdcopy.StdCopy(out, out, rc); err != nil {
		b.log.Warn("log stream ended early", "error", err)
	}
	rc.Close()

	waitc, errc := b.cli.ContainerWait(ctx, b.containerID, container.WaitConditionNotRunning)
	select {
	case err := <-errc:
		return nil, fmt.Errorf("wait for container: %w", err)
	case st := <-waitc:
		b.log.Info("container exited", "container", shortID(b.containerID), "exit_code", st.StatusCode)
		return &backend.RunResult{ExitCode: int(st.StatusCode), Output: capture.String()}, nil
	}
}

// Load copies one output out of the container.
func (b *Backend) Load(ctx context.Context, name, src string, dest backend.Handle) (backend.Handle, error) {
	if b.containerID == "" {
		return nil, fmt.Errorf("load before run")
	}
	h, err := b.copyOut(ctx, src, dest)
	if err != nil {
		return nil, errors.WrapTransferError(src, "copy from container", err)
	}
	b.log.Debug("loaded output", "output", name, "src", src)
	return h, nil
}

// Remove drops the staging copy for a mapped path. Files inside the
// container go away with it.
func (b *Backend) Remove(ctx context.Context, p string) error {
	sf, ok := b.staged[p]
	delete(b.staged, p)
	if !ok || !sf.temp {
		return nil
	}
	if err := os.Remove(sf.src); err != nil && !os.IsNotExist(err) {
		return errors.WrapTransferError(p, "remove", err)
	}
	return nil
}

// Cleanup removes the run's container and staging directory.
func (b *Backend) Cleanup(ctx context.Context, model *spec.ModelSpec) error {
	var firstErr error
	if b.containerID != "" {
		if err := b.cli.ContainerRemove(ctx, b.containerID, container.RemoveOptions{Force: true}); err != nil {
			firstErr = fmt.Errorf("remove container: %w", err)
		} else {
			b.log.Debug("container removed", "container", shortID(b.containerID))
		}
		b.containerID = ""
	}
	if b.tempDir != "" {
		if err := os.RemoveAll(b.tempDir); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("remove staging dir: %w", err)
		}
		b.tempDir = ""
	}
	b.model = nil
	b.staged = make(map[string]stagedFile)
	return firstErr
}

// copyIn tars one local file into the container at dst.
func (b *Backend) copyIn(ctx context.Context, dst, src string) error {
	f, err := os.Open(src)
	if err != nil {
		return err
	}
	defer f.Close()
	st, err := f.Stat()
	if err != nil {
		return err
	}

	dir, name := path.Split(dst)
	if dir == "" {
		dir = "/"
	}

	pr, pw := io.Pipe()
	go func() {
		tw := tar.NewWriter(pw)
		if err := tw.WriteHeader(&tar.Header{Name: name, Mode: 0o644, Size: st.Size()}); err != nil {
			pw.CloseWithError(err)
			return
		}
		if _, err := io.Copy(tw, f); err != nil {
			pw.CloseWithError(err)
			return
		}
		pw.CloseWithError(tw.Close())
	}()

	return b.cli.CopyToContainer(ctx, b.containerID, dir, pr, container.CopyToContainerOptions{})
}

// copyOut untars one file from the container at src into dest.
func (b *Backend) copyOut(ctx context.Context, src string, dest backend.Handle) (backend.Handle, error) {
	rc, _, err := b.cli.CopyFromContainer(ctx, b.containerID, src)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	base := path.Base(src)
	tr := tar.NewReader(rc)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil, fmt.Errorf("%s missing from container archive", base)
		}
		if err != nil {
			return nil, err
		}
		if hdr.Typeflag != tar.TypeReg || path.Base(hdr.Name) != base {
			continue
		}

		if f, ok := dest.(backend.File); ok {
			out, err := os.Create(f.Path())
			if err != nil {
				return nil, err
			}
			if _, err := io.Copy(out, tr); err != nil {
				out.Close()
				return nil, err
			}
			if err := out.Close(); err != nil {
				return nil, err
			}
			return f, nil
		}
		data, err := io.ReadAll(tr)
		if err != nil {
			return nil, err
		}
		return backend.Bytes(data), nil
	}
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}
