package spec

import (
	"encoding/json"
	"fmt"
	"os"

	"inferlet/pkg/errors"
)

// Parse decodes, migrates and normalizes a model description. The
// returned spec carries the normalized source document, any migration
// flag and the normalization warnings.
func Parse(data []byte) (*ModelSpec, error) {
	doc := NewObject()
	if err := json.Unmarshal(data, doc); err != nil {
		return nil, fmt.Errorf("%w: %v", errors.ErrModelMalformed, err)
	}

	doc, updated, err := Update(doc)
	if err != nil {
		return nil, err
	}
	warnings, err := Normalize(doc)
	if err != nil {
		return nil, err
	}

	normalized, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errors.ErrModelMalformed, err)
	}
	var m ModelSpec
	if err := json.Unmarshal(normalized, &m); err != nil {
		return nil, fmt.Errorf("%w: %v", errors.ErrModelMalformed, err)
	}
	m.doc = doc
	m.Updated = updated
	m.Warnings = warnings
	return &m, nil
}

// Load reads and parses a model description file.
func Load(path string) (*ModelSpec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read model file: %w", err)
	}
	m, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("model file %s: %w", path, err)
	}
	return m, nil
}
