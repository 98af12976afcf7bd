// Package server exposes models over HTTP and runs them through
// per-worker backends. Clients create a session for a model, upload
// its inputs, follow the log stream, and download the outputs once
// the run completes. Every JSON response is wrapped in an envelope
// with either a "data" or an "error" member.
package server

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"inferlet/internal/inferlet/backend"
	"inferlet/internal/inferlet/metrics"
	"inferlet/internal/inferlet/processing"
	"inferlet/internal/inferlet/validation"
	"inferlet/pkg/config"
	"inferlet/pkg/errors"
	"inferlet/pkg/logger"
	"inferlet/pkg/version"
)

// serverName is reported on the root handshake so clients can tell
// this apart from an unrelated service answering on the same port.
const serverName = "inferlet"

// queueCap bounds how many sessions may sit between "queued" and a
// worker picking them up. Uploads that would overflow it get a 503
// and the session stays waiting, so the client can retry.
const queueCap = 256

// BackendFactory builds one backend instance. Each worker calls it
// once and owns the result, because a backend serves one run at a time.
type BackendFactory func() (backend.Backend, error)

// Server holds the model catalog and the session table and dispatches
// queued sessions to a fixed pool of workers.
type Server struct {
	cfg        *config.Config
	models     *ModelStore
	registry   *processing.Registry
	validator  *validation.Validator
	newBackend BackendFactory
	log        *logger.Logger

	mu       sync.RWMutex
	sessions map[string]*Session

	queue chan *Session
	preg  *prometheus.Registry
	group *errgroup.Group
}

// New assembles a server. Start must be called before sessions can run.
func New(cfg *config.Config, models *ModelStore, registry *processing.Registry, newBackend BackendFactory) *Server {
	preg := prometheus.NewRegistry()
	metrics.Register(preg)
	info := version.GetBuildInfo()
	metrics.SetBuildInfo(info.Version, info.GitCommit, info.BuildDate)

	return &Server{
		cfg:        cfg,
		models:     models,
		registry:   registry,
		validator:  validation.New(registry),
		newBackend: newBackend,
		log:        logger.WithField("component", "server"),
		sessions:   make(map[string]*Session),
		queue:      make(chan *Session, queueCap),
		preg:       preg,
	}
}

// Start launches the worker pool and the session janitor. The workers
// stop when ctx is cancelled; Wait reports their first error.
func (s *Server) Start(ctx context.Context) {
	g, ctx := errgroup.WithContext(ctx)
	s.group = g
	for i := 0; i < s.cfg.Sessions.Workers; i++ {
		id := i
		g.Go(func() error { return s.worker(ctx, id) })
	}
	g.Go(func() error { return s.janitor(ctx) })
	s.log.Info("server started",
		"workers", s.cfg.Sessions.Workers,
		"models", s.models.Len())
}

// Wait blocks until the workers and the janitor have stopped.
func (s *Server) Wait() error {
	return s.group.Wait()
}

// Handler returns the HTTP routing tree.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	if len(s.cfg.Server.AllowedOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: s.cfg.Server.AllowedOrigins,
			AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
			AllowedHeaders: []string{"*"},
		}))
	}

	r.Get("/", s.handleRoot)
	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", promhttp.HandlerFor(s.preg, promhttp.HandlerOpts{}))

	r.Route("/api", func(ar chi.Router) {
		ar.Get("/models", s.handleListModels)
		ar.Get("/models/{model}", s.handleGetModel)
		ar.Post("/models/{model}", s.handleCreateSession)
		ar.Get("/sessions/{session}", s.handleGetSession)
		ar.Delete("/sessions/{session}", s.handleDeleteSession)
		ar.Get("/sessions/{session}/logs", s.handleSessionLogs)
		ar.Put("/sessions/{session}/inputs/{input}", s.handleUploadInput)
		ar.Get("/sessions/{session}/outputs/{output}", s.handleGetOutput)
	})
	return r
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	writeData(w, http.StatusOK, map[string]string{
		"server":  serverName,
		"version": version.GetVersion(),
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeData(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) session(id string) (*Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[id]
	return sess, ok
}

func (s *Server) addSession(sess *Session) {
	s.mu.Lock()
	s.sessions[sess.ID] = sess
	s.mu.Unlock()
	metrics.SessionOpened()
}

// dropSession removes a session from the table, closing its log
// stream and optionally deleting its directory. Dropping an already
// removed session is a no-op.
func (s *Server) dropSession(sess *Session, removeFiles bool) {
	s.mu.Lock()
	if _, ok := s.sessions[sess.ID]; !ok {
		s.mu.Unlock()
		return
	}
	delete(s.sessions, sess.ID)
	s.mu.Unlock()

	metrics.SessionClosed()
	sess.logs.Close()
	if removeFiles {
		if err := os.RemoveAll(sess.Dir); err != nil {
			s.log.Warn("session dir removal failed",
				"session", sess.ID, "dir", sess.Dir, "error", err)
		}
	}
}

// tryEnqueue hands a waiting session to the worker pool. It reports
// false, with the session back in waiting, when the queue is full. A
// session some other request already queued counts as success.
func (s *Server) tryEnqueue(sess *Session) bool {
	if !sess.claimQueued() {
		return true
	}
	select {
	case s.queue <- sess:
		metrics.RunQueued()
		return true
	default:
		sess.setStatus(StatusWaiting)
		return false
	}
}

func writeData(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{"data": v})
}

func writeError(w http.ResponseWriter, status int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}

// statusFor maps an error to the HTTP status most clients expect.
func statusFor(err error) int {
	switch {
	case errors.IsNotFoundError(err):
		return http.StatusNotFound
	case errors.Is(err, errors.ErrSessionNotWaiting), errors.Is(err, errors.ErrSessionActive):
		return http.StatusConflict
	case errors.IsRejectedError(err):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
