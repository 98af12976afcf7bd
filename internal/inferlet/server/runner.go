package server

import (
	"context"
	"time"

	"inferlet/internal/inferlet/engine"
	"inferlet/internal/inferlet/metrics"
	"inferlet/pkg/errors"
	"inferlet/pkg/logger"
)

// worker owns one backend and drains the queue until ctx ends. A
// backend that cannot be built fails the whole group, which aborts
// startup instead of running with a crippled pool.
func (s *Server) worker(ctx context.Context, id int) error {
	b, err := s.newBackend()
	if err != nil {
		return err
	}
	eng := engine.New(b, s.registry)
	log := s.log.WithField("worker", id)
	log.Debug("worker started", "backend", b.Name())
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case sess := <-s.queue:
			s.runSession(ctx, eng, sess, log)
		}
	}
}

func (s *Server) runSession(ctx context.Context, eng *engine.Engine, sess *Session, log *logger.Logger) {
	metrics.RunStarted()
	sess.setStatus(StatusRunning)
	log.Info("run started", "session", sess.ID, "model", sess.Model.ID)

	start := time.Now()
	opts := &engine.Options{
		Logs:    sess.logs,
		OnState: func(st engine.State) { sess.setStage(st.String()) },
	}
	_, err := eng.Run(ctx, sess.Model, sess.Run, opts)
	metrics.ObserveRunDuration(sess.Model.ID, time.Since(start))
	metrics.RecordRun(sess.Model.ID, err == nil)

	sess.finish(err)
	if err != nil {
		log.Error("run failed", "session", sess.ID, "model", sess.Model.ID,
			"category", string(errors.GetCategory(err)), "error", err)
		return
	}
	log.Info("run finished", "session", sess.ID, "model", sess.Model.ID,
		"duration", time.Since(start).Round(time.Millisecond))
}

// janitor expires sessions on a fixed interval. Finished sessions go
// after their results have been up for the configured TTL, waiting
// sessions go when the client never finished uploading. Queued and
// running sessions are never touched.
func (s *Server) janitor(ctx context.Context) error {
	interval := s.cfg.Sessions.CleanupInterval
	if interval <= 0 {
		<-ctx.Done()
		return ctx.Err()
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case now := <-t.C:
			s.sweep(now)
		}
	}
}

func (s *Server) sweep(now time.Time) {
	ttl := s.cfg.Sessions.TTL
	var expired []*Session
	s.mu.RLock()
	for _, sess := range s.sessions {
		switch sess.Status() {
		case StatusComplete, StatusFailed:
			if s.cfg.Sessions.CleanupFinished && now.Sub(sess.FinishedAt()) > ttl {
				expired = append(expired, sess)
			}
		case StatusWaiting:
			if now.Sub(sess.Created) > ttl {
				expired = append(expired, sess)
			}
		}
	}
	s.mu.RUnlock()

	for _, sess := range expired {
		s.log.Info("session expired", "session", sess.ID, "status", string(sess.Status()))
		s.dropSession(sess, s.cfg.Sessions.CleanupFiles)
	}
}
