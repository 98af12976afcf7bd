// Package remote dispatches runs to an inferlet relay server. The
// server owns the data root; inputs are uploaded into a session,
// the run happens server-side with logs streamed back, and outputs
// are downloaded when it finishes.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"inferlet/internal/inferlet/backend"
	"inferlet/internal/inferlet/spec"
	"inferlet/pkg/errors"
	"inferlet/pkg/logger"
)

const (
	// ServerName is the identity a relay server reports on its root
	// endpoint.
	ServerName = "inferlet"

	pollInterval = time.Second
)

// Backend proxies one run at a time to a relay server.
type Backend struct {
	base  string
	httpc *http.Client
	log   *logger.Logger

	model    *spec.ModelSpec
	session  string
	uploaded int
}

// New builds a remote backend for the server at base. httpc may be nil;
// the default client carries no global timeout because log streaming
// holds its request open for the length of the run.
func New(base string, httpc *http.Client) (*Backend, error) {
	if base == "" {
		return nil, errors.NewConfigError("remote", "url", fmt.Errorf("a server URL is required"))
	}
	if httpc == nil {
		httpc = &http.Client{}
	}
	return &Backend{
		base:  strings.TrimRight(base, "/"),
		httpc: httpc,
		log:   logger.WithField("backend", "remote"),
	}, nil
}

func (b *Backend) Name() string { return "remote" }

// Workdir is nominal for remote runs: the server assigns real paths,
// and the argument vector built from these is never executed locally.
func (b *Backend) Workdir(model *spec.ModelSpec) string { return "" }

// Prepare checks the server identity and that it serves the same
// version of the model.
func (b *Backend) Prepare(ctx context.Context, model *spec.ModelSpec) error {
	var ident struct {
		Server  string `json:"server"`
		Version string `json:"version"`
	}
	if err := b.getJSON(ctx, "/", &ident); err != nil {
		return fmt.Errorf("%w: %v", errors.ErrBackendUnavailable, err)
	}
	if ident.Server != ServerName {
		return fmt.Errorf("%w: unexpected server %q", errors.ErrBackendUnavailable, ident.Server)
	}

	var remote struct {
		Version string `json:"version"`
	}
	if err := b.getJSON(ctx, "/api/models/"+model.ID, &remote); err != nil {
		return errors.WrapModelError(model.ID, "prepare", err)
	}
	if remote.Version != model.Version {
		return errors.WrapModelError(model.ID, "prepare",
			fmt.Errorf("version mismatch: server has v%s, local model is v%s", remote.Version, model.Version))
	}
	return nil
}

// Begin opens a session for the run, forwarding the resolved
// parameters and processing choices. The server assigns its own input
// and output locations.
func (b *Backend) Begin(ctx context.Context, model *spec.ModelSpec, cfg *spec.ResolvedConfig) error {
	b.model = model
	b.session = ""
	b.uploaded = 0

	body, err := json.Marshal(sessionRequest(cfg))
	if err != nil {
		return fmt.Errorf("encode session request: %w", err)
	}
	resp, err := b.do(ctx, http.MethodPost, "/api/models/"+model.ID, bytes.NewReader(body), "application/json")
	if err != nil {
		return errors.WrapModelError(model.ID, "create session", err)
	}
	var created struct {
		SessionID string `json:"session_id"`
	}
	if err := decode(resp, &created); err != nil {
		return errors.WrapModelError(model.ID, "create session", err)
	}
	if created.SessionID == "" {
		return errors.WrapModelError(model.ID, "create session", fmt.Errorf("server returned no session id"))
	}
	b.session = created.SessionID
	b.log.Info("session created", "session", b.session, "model", model.ID)
	return nil
}

// Save uploads one input into the session. Once the last declared
// input is up, the session must have left the waiting state.
func (b *Backend) Save(ctx context.Context, name string, h backend.Handle, dst string) error {
	var body io.Reader
	target := "/api/sessions/" + b.session + "/inputs/" + name
	switch t := h.(type) {
	case backend.File:
		f, err := os.Open(t.Path())
		if err != nil {
			return errors.WrapTransferError(t.Path(), "upload", err)
		}
		defer f.Close()
		body = f
		// The original filename lets the server check the upload
		// against the member's declared extension.
		target += "?filename=" + url.QueryEscape(filepath.Base(t.Path()))
	case backend.Bytes:
		body = bytes.NewReader(t)
	default:
		return fmt.Errorf("%w: %T", errors.ErrUnsupportedHandle, h)
	}

	resp, err := b.do(ctx, http.MethodPut, target, body, "application/octet-stream")
	if err != nil {
		return errors.WrapSessionError(b.session, "upload "+name, err)
	}
	if err := decode(resp, nil); err != nil {
		return errors.WrapSessionError(b.session, "upload "+name, err)
	}
	b.uploaded++

	if b.model != nil && b.uploaded == b.model.Inputs.Len() {
		doc, err := b.status(ctx)
		if err != nil {
			return err
		}
		if doc.Status == "waiting" {
			return errors.WrapSessionError(b.session, "upload",
				fmt.Errorf("session still waiting for input after all inputs were provided"))
		}
	}
	return nil
}

// Run streams the session's logs until they end, then polls until the
// session settles. A failed session with a recorded exit code becomes
// a normal non-zero result; any other failure is an error.
func (b *Backend) Run(ctx context.Context, argv []string, workdir string, logs io.Writer) (*backend.RunResult, error) {
	var capture bytes.Buffer
	out := io.Writer(&capture)
	if logs != nil {
		out = io.MultiWriter(&capture, logs)
	}

	resp, err := b.do(ctx, http.MethodGet, "/api/sessions/"+b.session+"/logs", nil, "")
	if err != nil {
		return nil, errors.WrapSessionError(b.session, "stream logs", err)
	}
	if resp.StatusCode >= 400 {
		err := responseError(resp)
		resp.Body.Close()
		return nil, errors.WrapSessionError(b.session, "stream logs", err)
	}
	if _, err := io.Copy(out, resp.Body); err != nil {
		b.log.Warn("log stream ended early", "session", b.session, "error", err)
	}
	resp.Body.Close()

	for {
		doc, err := b.status(ctx)
		if err != nil {
			return nil, err
		}
		switch doc.Status {
		case "complete":
			return &backend.RunResult{ExitCode: 0, Output: capture.String()}, nil
		case "failed":
			if doc.ExitCode != 0 {
				return &backend.RunResult{ExitCode: doc.ExitCode, Output: capture.String()}, nil
			}
			return nil, errors.WrapSessionError(b.session, "run", fmt.Errorf("remote run failed: %s", doc.Error))
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(pollInterval):
		}
	}
}

// Load downloads one output from the session.
func (b *Backend) Load(ctx context.Context, name, src string, dest backend.Handle) (backend.Handle, error) {
	resp, err := b.do(ctx, http.MethodGet, "/api/sessions/"+b.session+"/outputs/"+name, nil, "")
	if err != nil {
		return nil, errors.WrapSessionError(b.session, "download "+name, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return nil, errors.WrapSessionError(b.session, "download "+name, responseError(resp))
	}

	if f, ok := dest.(backend.File); ok {
		out, err := os.Create(f.Path())
		if err != nil {
			return nil, errors.WrapTransferError(f.Path(), "download", err)
		}
		if _, err := io.Copy(out, resp.Body); err != nil {
			out.Close()
			return nil, errors.WrapTransferError(f.Path(), "download", err)
		}
		if err := out.Close(); err != nil {
			return nil, errors.WrapTransferError(f.Path(), "download", err)
		}
		return f, nil
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.WrapSessionError(b.session, "download "+name, err)
	}
	return backend.Bytes(data), nil
}

// Remove is a no-op: session files belong to the server and go away
// with the session.
func (b *Backend) Remove(ctx context.Context, path string) error { return nil }

// Cleanup discards the server-side session.
func (b *Backend) Cleanup(ctx context.Context, model *spec.ModelSpec) error {
	if b.session == "" {
		return nil
	}
	session := b.session
	b.session = ""
	b.model = nil
	b.uploaded = 0

	resp, err := b.do(ctx, http.MethodDelete, "/api/sessions/"+session, nil, "")
	if err != nil {
		return errors.WrapSessionError(session, "delete", err)
	}
	if err := decode(resp, nil); err != nil {
		return errors.WrapSessionError(session, "delete", err)
	}
	b.log.Debug("session deleted", "session", session)
	return nil
}

type sessionDoc struct {
	ID       string `json:"id"`
	Status   string `json:"status"`
	Error    string `json:"error,omitempty"`
	ExitCode int    `json:"exit_code,omitempty"`
}

func (b *Backend) status(ctx context.Context) (*sessionDoc, error) {
	var doc sessionDoc
	if err := b.getJSON(ctx, "/api/sessions/"+b.session, &doc); err != nil {
		return nil, errors.WrapSessionError(b.session, "status", err)
	}
	return &doc, nil
}

func (b *Backend) do(ctx context.Context, method, path string, body io.Reader, contentType string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, b.base+path, body)
	if err != nil {
		return nil, err
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	return b.httpc.Do(req)
}

func (b *Backend) getJSON(ctx context.Context, path string, out interface{}) error {
	resp, err := b.do(ctx, http.MethodGet, path, nil, "")
	if err != nil {
		return err
	}
	return decode(resp, out)
}

// decode consumes an enveloped response: {"data": ...} on success,
// {"error": "..."} with an HTTP error status on failure.
func decode(resp *http.Response, out interface{}) error {
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return responseError(resp)
	}
	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	var env struct {
		Data json.RawMessage `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	if env.Data == nil {
		return fmt.Errorf("response carries no data")
	}
	return json.Unmarshal(env.Data, out)
}

func responseError(resp *http.Response) error {
	var env struct {
		Error string `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&env); err == nil && env.Error != "" {
		return fmt.Errorf("server: %s", env.Error)
	}
	return fmt.Errorf("server: %s", resp.Status)
}

type runPayload struct {
	Inputs  map[string]ioPayload    `json:"inputs,omitempty"`
	Outputs map[string]ioPayload    `json:"outputs,omitempty"`
	Params  map[string]valuePayload `json:"params,omitempty"`
}

type ioPayload struct {
	Pre  []stepPayload `json:"pre,omitempty"`
	Post []stepPayload `json:"post,omitempty"`
}

type stepPayload struct {
	Enabled bool                   `json:"enabled"`
	Params  map[string]interface{} `json:"params,omitempty"`
}

type valuePayload struct {
	Value interface{} `json:"value"`
}

// sessionRequest shapes the resolved configuration for the server:
// parameter values and processing choices travel, input and output
// locations do not since the server assigns its own.
func sessionRequest(cfg *spec.ResolvedConfig) runPayload {
	req := runPayload{
		Inputs:  make(map[string]ioPayload, len(cfg.Inputs)),
		Outputs: make(map[string]ioPayload, len(cfg.Outputs)),
		Params:  make(map[string]valuePayload, len(cfg.Params)),
	}
	for name, v := range cfg.Params {
		req.Params[name] = valuePayload{Value: v}
	}
	for name, rio := range cfg.Inputs {
		req.Inputs[name] = ioPayload{Pre: stepPayloads(rio.Steps)}
	}
	for name, rio := range cfg.Outputs {
		req.Outputs[name] = ioPayload{Post: stepPayloads(rio.Steps)}
	}
	return req
}

func stepPayloads(steps []spec.ResolvedStep) []stepPayload {
	if len(steps) == 0 {
		return nil
	}
	out := make([]stepPayload, len(steps))
	for i, s := range steps {
		out[i] = stepPayload{Enabled: s.Enabled, Params: s.Params}
	}
	return out
}
