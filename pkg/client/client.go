// Package client is the HTTP client irx uses to query a relay server's
// model catalogue. Runs against a relay go through the remote backend
// instead; this client only covers the read-only endpoints.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"inferlet/pkg/config"
)

const defaultTimeout = 30 * time.Second

// RelayClient talks to one relay server.
type RelayClient struct {
	base  string
	httpc *http.Client
}

// NewRelayClient creates a client for the relay a node points at. A bare
// host:port address is dialed over plain HTTP.
func NewRelayClient(node *config.Node) (*RelayClient, error) {
	if node == nil {
		return nil, fmt.Errorf("node configuration cannot be nil")
	}
	if node.Address == "" {
		return nil, fmt.Errorf("node has no address")
	}

	base := node.Address
	if !strings.Contains(base, "://") {
		base = "http://" + base
	}
	timeout := node.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	return &RelayClient{
		base:  strings.TrimRight(base, "/"),
		httpc: &http.Client{Timeout: timeout},
	}, nil
}

// ServerInfo identifies a relay server.
type ServerInfo struct {
	Server  string `json:"server"`
	Version string `json:"version"`
}

// ModelSummary is one entry of the relay's model catalogue.
type ModelSummary struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Version  string `json:"version"`
	Task     string `json:"task,omitempty"`
	Organ    string `json:"organ,omitempty"`
	Modality string `json:"modality,omitempty"`
	Status   string `json:"status,omitempty"`
}

// Handshake fetches the server identity from the root endpoint.
func (c *RelayClient) Handshake(ctx context.Context) (*ServerInfo, error) {
	var info ServerInfo
	if err := c.get(ctx, "/", &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// Models lists the models the relay serves.
func (c *RelayClient) Models(ctx context.Context) ([]ModelSummary, error) {
	var models []ModelSummary
	if err := c.get(ctx, "/api/models", &models); err != nil {
		return nil, err
	}
	return models, nil
}

// Model fetches one model description as the relay serves it, keeping
// the document's member order intact.
func (c *RelayClient) Model(ctx context.Context, id string) (json.RawMessage, error) {
	var doc json.RawMessage
	if err := c.get(ctx, "/api/models/"+id, &doc); err != nil {
		return nil, err
	}
	return doc, nil
}

// get issues a GET and unwraps the enveloped response: {"data": ...} on
// success, {"error": "..."} with an error status on failure.
func (c *RelayClient) get(ctx context.Context, path string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+path, nil)
	if err != nil {
		return err
	}
	resp, err := c.httpc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var env struct {
			Error string `json:"error"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&env); err == nil && env.Error != "" {
			return fmt.Errorf("server: %s", env.Error)
		}
		return fmt.Errorf("server: %s", resp.Status)
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
