package server

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"inferlet/internal/inferlet/metrics"
	"inferlet/internal/inferlet/spec"
	"inferlet/pkg/errors"
)

type modelSummary struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Version  string `json:"version"`
	Task     string `json:"task,omitempty"`
	Organ    string `json:"organ,omitempty"`
	Modality string `json:"modality,omitempty"`
	Status   string `json:"status,omitempty"`
}

func (s *Server) handleListModels(w http.ResponseWriter, r *http.Request) {
	models := s.models.All()
	out := make([]modelSummary, 0, len(models))
	for _, m := range models {
		out = append(out, modelSummary{
			ID:       m.ID,
			Name:     m.Name,
			Version:  m.Version,
			Task:     m.Task,
			Organ:    m.Organ,
			Modality: m.Modality,
			Status:   m.Status,
		})
	}
	writeData(w, http.StatusOK, out)
}

func (s *Server) handleGetModel(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "model")
	m, ok := s.models.Get(id)
	if !ok {
		writeError(w, http.StatusNotFound, errors.NewModelNotFoundError(id))
		return
	}
	// Loaded models carry their normalized source document, which
	// keeps the members in declaration order on the wire.
	if doc := m.Document(); doc != nil {
		writeData(w, http.StatusOK, doc)
		return
	}
	writeData(w, http.StatusOK, m)
}

// handleCreateSession accepts a run configuration for a model and
// opens a waiting session for it. Input and output locations are
// always server-assigned; any locations in the posted configuration
// are overwritten before validation.
func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "model")
	m, ok := s.models.Get(id)
	if !ok {
		writeError(w, http.StatusNotFound, errors.NewModelNotFoundError(id))
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, errors.WrapSessionError("", "create", err))
		return
	}
	cfg := &spec.RunConfig{}
	if len(bytes.TrimSpace(body)) > 0 {
		cfg, err = spec.ParseRunConfig(body)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
	}

	sid := uuid.NewString()
	dir := s.cfg.SessionDir(sid)
	if err := sessionDirs(dir); err != nil {
		writeError(w, http.StatusInternalServerError, errors.WrapTransferError(dir, "create", err))
		return
	}
	assignLocations(m, cfg, dir)

	// Reject bad configurations at the door. The run resolves the
	// same configuration again later and gets the same answer.
	if _, err := s.validator.Resolve(m, cfg); err != nil {
		_ = os.RemoveAll(dir)
		writeError(w, statusFor(err), err)
		return
	}

	sess := newSession(sid, m, dir, cfg)
	s.addSession(sess)
	s.log.Info("session created", "session", sid, "model", m.ID)

	if m.Inputs.Len() == 0 {
		if !s.tryEnqueue(sess) {
			s.dropSession(sess, true)
			writeError(w, http.StatusServiceUnavailable, fmt.Errorf("run queue is full"))
			return
		}
	}
	writeData(w, http.StatusCreated, map[string]string{"session_id": sid})
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "session")
	sess, ok := s.session(id)
	if !ok {
		writeError(w, http.StatusNotFound, errors.NewSessionNotFoundError(id))
		return
	}
	writeData(w, http.StatusOK, sess.Doc())
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "session")
	sess, ok := s.session(id)
	if !ok {
		writeError(w, http.StatusNotFound, errors.NewSessionNotFoundError(id))
		return
	}
	switch sess.Status() {
	case StatusQueued, StatusRunning:
		err := errors.WrapSessionError(id, "delete", errors.ErrSessionActive)
		writeError(w, statusFor(err), err)
		return
	}
	s.dropSession(sess, true)
	s.log.Info("session deleted", "session", id)
	writeData(w, http.StatusOK, map[string]bool{"deleted": true})
}

// handleUploadInput stores one input's bytes at its server-assigned
// location. Uploading the last missing input moves the session from
// waiting to queued.
func (s *Server) handleUploadInput(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "session")
	name := chi.URLParam(r, "input")
	sess, ok := s.session(id)
	if !ok {
		writeError(w, http.StatusNotFound, errors.NewSessionNotFoundError(id))
		return
	}
	m, ok := sess.Model.Inputs.Get(name)
	if !ok {
		err := errors.WrapSessionError(id, "upload", fmt.Errorf("%w: %s", errors.ErrUnknownInput, name))
		writeError(w, statusFor(err), err)
		return
	}
	if st := sess.Status(); st != StatusWaiting {
		err := errors.WrapSessionError(id, "upload", errors.ErrSessionNotWaiting)
		writeError(w, statusFor(err), err)
		return
	}
	if s.cfg.Sessions.CheckInputTypes && m.Extension != "" {
		if fn := r.URL.Query().Get("filename"); fn != "" && !strings.HasSuffix(fn, m.Extension) {
			err := errors.NewValidationError("inputs/"+name,
				fmt.Errorf("file %q does not have extension %q", fn, m.Extension))
			writeError(w, statusFor(err), err)
			return
		}
	}

	dst, ok := sess.InputPath(name)
	if !ok {
		writeError(w, http.StatusInternalServerError,
			errors.WrapSessionError(id, "upload", fmt.Errorf("no location for input %s", name)))
		return
	}
	n, err := writeFile(dst, r.Body)
	if err != nil {
		writeError(w, http.StatusInternalServerError, errors.WrapTransferError(dst, "upload", err))
		return
	}
	metrics.RecordUploadedBytes(sess.Model.ID, n)
	s.log.Debug("input received", "session", id, "input", name, "bytes", n)

	all, err := sess.markUploaded(name)
	if err != nil {
		err = errors.WrapSessionError(id, "upload", err)
		writeError(w, statusFor(err), err)
		return
	}
	if all {
		if !s.tryEnqueue(sess) {
			writeError(w, http.StatusServiceUnavailable, fmt.Errorf("run queue is full"))
			return
		}
	}
	writeData(w, http.StatusOK, map[string]interface{}{
		"input":  name,
		"status": sess.Status(),
	})
}

// handleSessionLogs streams the session's run output as plain text,
// following live output until the run reaches a terminal status or
// the client goes away.
func (s *Server) handleSessionLogs(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "session")
	sess, ok := s.session(id)
	if !ok {
		writeError(w, http.StatusNotFound, errors.NewSessionNotFoundError(id))
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(http.StatusOK)
	var flush func()
	if fl, ok := w.(http.Flusher); ok {
		flush = fl.Flush
	}
	_ = sess.logs.Stream(r.Context(), w, flush)
}

func (s *Server) handleGetOutput(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "session")
	name := chi.URLParam(r, "output")
	sess, ok := s.session(id)
	if !ok {
		writeError(w, http.StatusNotFound, errors.NewSessionNotFoundError(id))
		return
	}
	if _, ok := sess.Model.Outputs.Get(name); !ok {
		err := errors.WrapSessionError(id, "download", fmt.Errorf("%w: %s", errors.ErrOutputNotFound, name))
		writeError(w, statusFor(err), err)
		return
	}
	if st := sess.Status(); st != StatusComplete {
		err := errors.WrapSessionError(id, "download",
			fmt.Errorf("%w: run is %s", errors.ErrOutputNotFound, st))
		writeError(w, statusFor(err), err)
		return
	}
	p, ok := sess.OutputPath(name)
	if !ok {
		writeError(w, http.StatusInternalServerError,
			errors.WrapSessionError(id, "download", fmt.Errorf("no location for output %s", name)))
		return
	}
	if _, err := os.Stat(p); err != nil {
		err = errors.WrapSessionError(id, "download", fmt.Errorf("%w: %s", errors.ErrOutputNotFound, name))
		writeError(w, statusFor(err), err)
		return
	}
	http.ServeFile(w, r, p)
}

// sessionDirs creates a session's directory tree. Inputs and outputs
// live in separate subdirectories so a model may declare the same
// member key on both sides.
func sessionDirs(dir string) error {
	for _, d := range []string{filepath.Join(dir, "inputs"), filepath.Join(dir, "outputs")} {
		if err := os.MkdirAll(d, 0o750); err != nil {
			return err
		}
	}
	return nil
}

// assignLocations overwrites every io location in cfg with a path
// inside the session directory, synthesizing config entries for
// members the client did not mention.
func assignLocations(m *spec.ModelSpec, cfg *spec.RunConfig, dir string) {
	if cfg.Inputs == nil {
		cfg.Inputs = make(map[string]*spec.IOConfig, m.Inputs.Len())
	}
	for _, io := range m.Inputs.All() {
		c := cfg.Inputs[io.Key]
		if c == nil {
			c = &spec.IOConfig{}
			cfg.Inputs[io.Key] = c
		}
		c.Value = filepath.Join(dir, "inputs", io.Key+io.Extension)
	}
	if cfg.Outputs == nil {
		cfg.Outputs = make(map[string]*spec.IOConfig, m.Outputs.Len())
	}
	for _, io := range m.Outputs.All() {
		c := cfg.Outputs[io.Key]
		if c == nil {
			c = &spec.IOConfig{}
			cfg.Outputs[io.Key] = c
		}
		c.Value = filepath.Join(dir, "outputs", io.Key+io.Extension)
	}
}

func writeFile(path string, r io.Reader) (int64, error) {
	f, err := os.Create(path)
	if err != nil {
		return 0, err
	}
	n, err := io.Copy(f, r)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	return n, err
}
