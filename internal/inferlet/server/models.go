package server

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"inferlet/internal/inferlet/spec"
	"inferlet/pkg/logger"
	"inferlet/pkg/semver"
)

// ModelStore holds the model descriptions the server serves, keyed by
// id. The set is fixed at startup.
type ModelStore struct {
	mu     sync.RWMutex
	models map[string]*spec.ModelSpec
}

// NewModelStore builds a store from already-parsed models.
func NewModelStore(models ...*spec.ModelSpec) *ModelStore {
	s := &ModelStore{models: make(map[string]*spec.ModelSpec, len(models))}
	for _, m := range models {
		s.models[m.ID] = m
	}
	return s
}

// LoadModels reads every .json model description under dir. Files that
// fail to parse are logged and skipped so one bad description cannot
// keep the server down. When two files declare the same id, the higher
// model version wins; if either version does not parse, the first file
// seen wins.
func LoadModels(dir string) (*ModelStore, error) {
	log := logger.WithField("component", "models")

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	store := &ModelStore{models: make(map[string]*spec.ModelSpec)}
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		path := filepath.Join(dir, e.Name())
		m, err := spec.Load(path)
		if err != nil {
			log.Warn("skipping model file", "path", path, "error", err)
			continue
		}
		if held, dup := store.models[m.ID]; dup {
			if !newerVersion(m.Version, held.Version) {
				log.Warn("duplicate model id, keeping the earlier file",
					"id", m.ID, "path", path, "kept", held.Version, "dropped", m.Version)
				continue
			}
			log.Warn("duplicate model id, keeping the higher version",
				"id", m.ID, "path", path, "kept", m.Version, "dropped", held.Version)
		}
		for _, w := range m.Warnings {
			log.Warn("model description warning", "id", m.ID, "warning", w)
		}
		store.models[m.ID] = m
		log.Info("model loaded", "id", m.ID, "name", m.Name, "version", m.Version)
	}
	return store, nil
}

// newerVersion reports whether candidate is a strictly higher model
// version than held. Versions that do not parse never displace the
// held model.
func newerVersion(candidate, held string) bool {
	cv, err := semver.NewVersion(candidate)
	if err != nil {
		return false
	}
	hv, err := semver.NewVersion(held)
	if err != nil {
		return false
	}
	return cv.GreaterThan(hv)
}

// Get returns the model with the given id.
func (s *ModelStore) Get(id string) (*spec.ModelSpec, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.models[id]
	return m, ok
}

// All returns the models sorted by id.
func (s *ModelStore) All() []*spec.ModelSpec {
	s.mu.RLock()
	defer s.mu.RUnlock()
	all := make([]*spec.ModelSpec, 0, len(s.models))
	for _, m := range s.models {
		all = append(all, m)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ID < all[j].ID })
	return all
}

// Len returns the number of models held.
func (s *ModelStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.models)
}
