package server

import (
	"context"
	"io"
	"sync"
	"time"

	"inferlet/internal/inferlet/spec"
	"inferlet/pkg/errors"
)

// Status is a session's position in its lifecycle.
type Status string

const (
	StatusWaiting  Status = "waiting"
	StatusQueued   Status = "queued"
	StatusRunning  Status = "running"
	StatusComplete Status = "complete"
	StatusFailed   Status = "failed"
)

// Terminal reports whether no further transitions can happen.
func (s Status) Terminal() bool {
	return s == StatusComplete || s == StatusFailed
}

// Session is one client run held by the server. It is created waiting,
// enqueued when the last input arrives, run by a worker, and kept
// around after finishing until the client or the janitor removes it.
type Session struct {
	ID      string
	Model   *spec.ModelSpec
	Dir     string
	Created time.Time

	// Run is the client's configuration with server-assigned io
	// locations, resolved again by the engine when the run starts.
	Run *spec.RunConfig

	mu       sync.Mutex
	status   Status
	stage    string
	errText  string
	exitCode int
	finished time.Time
	inputs   map[string]bool
	logs     *logBuffer
}

func newSession(id string, model *spec.ModelSpec, dir string, run *spec.RunConfig) *Session {
	inputs := make(map[string]bool, model.Inputs.Len())
	for _, name := range model.Inputs.Names() {
		inputs[name] = false
	}
	return &Session{
		ID:      id,
		Model:   model,
		Dir:     dir,
		Created: time.Now(),
		Run:     run,
		status:  StatusWaiting,
		inputs:  inputs,
		logs:    &logBuffer{},
	}
}

// Status returns the session's current status.
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

func (s *Session) setStatus(st Status) {
	s.mu.Lock()
	s.status = st
	if st.Terminal() {
		s.finished = time.Now()
	}
	s.mu.Unlock()
	if st.Terminal() {
		s.logs.Close()
	}
}

// claimQueued moves the session from waiting to queued. It reports
// false when the session is not waiting, so racing uploads cannot
// queue the same session twice.
func (s *Session) claimQueued() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status != StatusWaiting {
		return false
	}
	s.status = StatusQueued
	return true
}

func (s *Session) setStage(stage string) {
	s.mu.Lock()
	s.stage = stage
	s.mu.Unlock()
}

// FinishedAt returns when the session reached a terminal status, zero
// while it has not.
func (s *Session) FinishedAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.finished
}

// finish records the run outcome and settles the status.
func (s *Session) finish(err error) {
	if err == nil {
		s.setStatus(StatusComplete)
		return
	}
	s.mu.Lock()
	s.errText = err.Error()
	if code, ok := errors.GetExitCode(err); ok {
		s.exitCode = code
	}
	s.mu.Unlock()
	s.setStatus(StatusFailed)
}

// markUploaded flips one input's upload flag. It reports whether every
// declared input has now been uploaded.
func (s *Session) markUploaded(name string) (all bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status != StatusWaiting {
		return false, errors.ErrSessionNotWaiting
	}
	if _, declared := s.inputs[name]; !declared {
		return false, errors.ErrUnknownInput
	}
	s.inputs[name] = true
	for _, up := range s.inputs {
		if !up {
			return false, nil
		}
	}
	return true, nil
}

// InputPath returns the server-assigned location of one input.
func (s *Session) InputPath(name string) (string, bool) {
	c, ok := s.Run.Inputs[name]
	if !ok || c == nil {
		return "", false
	}
	p, ok := c.Value.(string)
	return p, ok
}

// OutputPath returns the server-assigned location of one output.
func (s *Session) OutputPath(name string) (string, bool) {
	c, ok := s.Run.Outputs[name]
	if !ok || c == nil {
		return "", false
	}
	p, ok := c.Value.(string)
	return p, ok
}

// sessionDoc is the wire shape of a session.
type sessionDoc struct {
	ID       string          `json:"id"`
	Model    string          `json:"model"`
	Status   Status          `json:"status"`
	Stage    string          `json:"stage,omitempty"`
	Created  time.Time       `json:"created"`
	Finished *time.Time      `json:"finished,omitempty"`
	Error    string          `json:"error,omitempty"`
	ExitCode int             `json:"exit_code,omitempty"`
	Inputs   map[string]bool `json:"inputs"`
}

// Doc snapshots the session for clients.
func (s *Session) Doc() sessionDoc {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc := sessionDoc{
		ID:       s.ID,
		Model:    s.Model.ID,
		Status:   s.status,
		Stage:    s.stage,
		Created:  s.Created,
		Error:    s.errText,
		ExitCode: s.exitCode,
		Inputs:   make(map[string]bool, len(s.inputs)),
	}
	if !s.finished.IsZero() {
		f := s.finished
		doc.Finished = &f
	}
	for name, up := range s.inputs {
		doc.Inputs[name] = up
	}
	return doc
}

// logBuffer accumulates a session's run output and lets any number of
// readers replay it and follow live until the run finishes.
type logBuffer struct {
	mu      sync.Mutex
	data    []byte
	done    bool
	waiters []chan struct{}
}

func (b *logBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	b.data = append(b.data, p...)
	b.wakeLocked()
	b.mu.Unlock()
	return len(p), nil
}

// Close marks the stream finished. Writes after Close are dropped
// silently; readers drain what is buffered and stop.
func (b *logBuffer) Close() {
	b.mu.Lock()
	b.done = true
	b.wakeLocked()
	b.mu.Unlock()
}

func (b *logBuffer) wakeLocked() {
	for _, w := range b.waiters {
		close(w)
	}
	b.waiters = nil
}

// next returns data past off, or a channel to wait on when nothing new
// is buffered yet. done is true once the stream is finished.
func (b *logBuffer) next(off int) (chunk []byte, wait <-chan struct{}, done bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if off < len(b.data) {
		return b.data[off:len(b.data):len(b.data)], nil, b.done
	}
	if b.done {
		return nil, nil, true
	}
	w := make(chan struct{})
	b.waiters = append(b.waiters, w)
	return nil, w, false
}

// Stream copies the buffer to w, following live output until the
// stream closes or ctx ends. flush, when non-nil, is called after
// every chunk.
func (b *logBuffer) Stream(ctx context.Context, w io.Writer, flush func()) error {
	off := 0
	for {
		chunk, wait, done := b.next(off)
		if len(chunk) > 0 {
			if _, err := w.Write(chunk); err != nil {
				return err
			}
			off += len(chunk)
			if flush != nil {
				flush()
			}
			continue
		}
		if done {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-wait:
		}
	}
}
