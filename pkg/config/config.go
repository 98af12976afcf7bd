package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"inferlet/pkg/security"
)

// Config holds the complete daemon configuration
type Config struct {
	Version  string         `yaml:"version" json:"version"`
	Server   ServerConfig   `yaml:"server" json:"server"`
	Models   ModelsConfig   `yaml:"models" json:"models"`
	Sessions SessionsConfig `yaml:"sessions" json:"sessions"`
	Docker   DockerConfig   `yaml:"docker" json:"docker"`
	Logging  LoggingConfig  `yaml:"logging" json:"logging"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Address        string             `yaml:"address" json:"address"`
	Port           int                `yaml:"port" json:"port"`
	ReadTimeout    time.Duration      `yaml:"read_timeout" json:"read_timeout"`
	WriteTimeout   time.Duration      `yaml:"write_timeout" json:"write_timeout"`
	AllowedOrigins []string           `yaml:"allowed_origins" json:"allowed_origins"`
	TLS            security.TLSConfig `yaml:"tls" json:"tls"`
}

// ModelsConfig holds model description loading configuration
type ModelsConfig struct {
	Dir string `yaml:"dir" json:"dir"`
}

// SessionsConfig holds session storage and lifecycle configuration
type SessionsConfig struct {
	Dir             string        `yaml:"dir" json:"dir"`
	Workers         int           `yaml:"workers" json:"workers"`
	CleanupInterval time.Duration `yaml:"cleanup_interval" json:"cleanup_interval"`
	TTL             time.Duration `yaml:"ttl" json:"ttl"`
	CleanupFinished bool          `yaml:"cleanup_finished" json:"cleanup_finished"`
	CleanupFiles    bool          `yaml:"cleanup_files" json:"cleanup_files"`
	CheckInputTypes bool          `yaml:"check_input_types" json:"check_input_types"`
}

// DockerConfig holds docker backend configuration.
// An empty host means the client is built from the environment
// (DOCKER_HOST and friends), which is the preferred setup.
type DockerConfig struct {
	Host string `yaml:"host" json:"host"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" json:"level"`
	Format string `yaml:"format" json:"format"`
	Output string `yaml:"output" json:"output"`
}

// ClientConfig represents the client-side configuration with multiple servers
type ClientConfig struct {
	Version string           `yaml:"version"`
	Nodes   map[string]*Node `yaml:"nodes"`
}

// Node represents a single relay server the client can talk to
type Node struct {
	Address string        `yaml:"address"`
	Timeout time.Duration `yaml:"timeout"`
}

// DefaultConfig provides default configuration values
var DefaultConfig = Config{
	Version: "1.0",
	Server: ServerConfig{
		Address:        "0.0.0.0",
		Port:           8080,
		ReadTimeout:    30 * time.Second,
		WriteTimeout:   0, // streaming log responses must not be cut off
		AllowedOrigins: nil,
	},
	Models: ModelsConfig{
		Dir: "/etc/inferlet/models",
	},
	Sessions: SessionsConfig{
		Dir:             "/var/inferlet",
		Workers:         1,
		CleanupInterval: 300 * time.Second,
		TTL:             3600 * time.Second,
		CleanupFinished: true,
		CleanupFiles:    false,
		CheckInputTypes: true,
	},
	Docker: DockerConfig{
		Host: "",
	},
	Logging: LoggingConfig{
		Level:  "INFO",
		Format: "text",
		Output: "stdout",
	},
}

// GetServerAddress returns the complete server address in "host:port" format.
// Example: "0.0.0.0:8080" or "localhost:9000"
func (c *Config) GetServerAddress() string {
	return fmt.Sprintf("%s:%d", c.Server.Address, c.Server.Port)
}

// SessionDir returns the on-disk directory for a single session.
func (c *Config) SessionDir(sessionID string) string {
	return filepath.Join(c.Sessions.Dir, sessionID)
}

// LoadConfig loads the daemon configuration from file and environment variables.
//  1. Path specified in INFERLET_CONFIG_PATH environment variable
//  2. /etc/inferlet/inferlet.yml
//  3. ./config/inferlet.yml
//  4. ./inferlet.yml
//
// Applies environment variable overrides for server address, model directory
// and logging. Validates the final configuration before returning.
// Returns (config, configPath, error) - configPath indicates source of configuration.
func LoadConfig() (*Config, string, error) {
	config := DefaultConfig

	// Load from config file if it exists
	path, err := loadFromFile(&config)
	if err != nil {
		return nil, "", fmt.Errorf("failed to load config file: %w", err)
	}

	if val := os.Getenv("INFERLET_SERVER_ADDRESS"); val != "" {
		config.Server.Address = val
	}
	if val := os.Getenv("INFERLET_MODELS_DIR"); val != "" {
		config.Models.Dir = val
	}
	if val := os.Getenv("INFERLET_SESSIONS_DIR"); val != "" {
		config.Sessions.Dir = val
	}

	if val := os.Getenv("INFERLET_LOG_LEVEL"); val != "" {
		config.Logging.Level = val
	}
	if val := os.Getenv("INFERLET_LOG_FORMAT"); val != "" {
		config.Logging.Format = val
	}

	// Validate the configuration
	if e := config.Validate(); e != nil {
		return nil, "", fmt.Errorf("configuration validation failed: %w", e)
	}

	return &config, path, nil
}

// loadFromFile loads configuration from the first available YAML file.
// Updates the provided config struct with values from the file.
// Returns the path of the loaded file or "built-in defaults" if no file found.
// Does not return error if no file is found - uses defaults instead.
func loadFromFile(config *Config) (string, error) {
	configPaths := []string{
		os.Getenv("INFERLET_CONFIG_PATH"),
		"/etc/inferlet/inferlet.yml",
		"./config/inferlet.yml",
		"./inferlet.yml",
	}

	for _, path := range configPaths {
		if path == "" {
			continue
		}

		if _, err := os.Stat(path); os.IsNotExist(err) {
			continue
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return "", fmt.Errorf("failed to read config file %s: %w", path, err)
		}

		if err := yaml.Unmarshal(data, config); err != nil {
			return "", fmt.Errorf("failed to parse config file %s: %w", path, err)
		}

		return path, nil
	}

	return "built-in defaults (no config file found)", nil
}

// Validate performs comprehensive validation of the configuration.
// Checks all configuration sections for:
//   - Valid port ranges (1-65535)
//   - At least one worker
//   - Positive cleanup interval and session TTL
//   - Absolute paths for the model and session directories
//   - Certificate and key files present when TLS is enabled
//   - Valid logging levels
//
// Returns error describing the first validation failure found.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	if c.Sessions.Workers < 1 {
		return fmt.Errorf("invalid worker count: %d", c.Sessions.Workers)
	}

	if c.Sessions.CleanupInterval <= 0 {
		return fmt.Errorf("invalid cleanup interval: %v", c.Sessions.CleanupInterval)
	}

	if c.Sessions.TTL <= 0 {
		return fmt.Errorf("invalid session TTL: %v", c.Sessions.TTL)
	}

	if !filepath.IsAbs(c.Models.Dir) {
		return fmt.Errorf("model directory must be absolute path: %s", c.Models.Dir)
	}

	if !filepath.IsAbs(c.Sessions.Dir) {
		return fmt.Errorf("session directory must be absolute path: %s", c.Sessions.Dir)
	}

	if c.Server.TLS.Enabled {
		if c.Server.TLS.CertFile == "" || c.Server.TLS.KeyFile == "" {
			return fmt.Errorf("tls enabled but cert_file or key_file not specified")
		}
	}

	// Validate logging level
	validLevels := map[string]bool{
		"DEBUG": true, "INFO": true, "WARN": true, "ERROR": true,
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level: %s", c.Logging.Level)
	}

	return nil
}

// LoadClientConfig loads irx client configuration from the specified file.
//
//  1. Path from IRX_CONFIG environment variable
//  2. ./irx-config.yml
//  3. ./config/irx-config.yml
//  4. ~/.irx/irx-config.yml
//  5. /etc/inferlet/irx-config.yml
//
// Parses YAML configuration and validates that at least one node is configured.
// Returns ClientConfig with node definitions for connecting to relay servers.
func LoadClientConfig(configPath string) (*ClientConfig, error) {
	if configPath == "" {
		// Look for irx-config.yml in common locations
		configPath = findClientConfig()
		if configPath == "" {
			return nil, fmt.Errorf("client configuration file not found. Please create irx-config.yml or specify path with --config")
		}
	}

	// Check if file exists
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("client configuration file not found: %s", configPath)
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read client config file %s: %w", configPath, err)
	}

	var config ClientConfig
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse client config: %w", err)
	}

	// Validate that we have nodes
	if len(config.Nodes) == 0 {
		return nil, fmt.Errorf("no nodes configured in %s", configPath)
	}

	return &config, nil
}

// GetNode retrieves the configuration for a named relay server node.
// If nodeName is empty, defaults to "default" node.
// Returns the Node configuration containing the server address,
// or error if the specified node name is not found in the configuration.
func (c *ClientConfig) GetNode(nodeName string) (*Node, error) {
	if nodeName == "" {
		nodeName = "default"
	}

	node, exists := c.Nodes[nodeName]
	if !exists {
		return nil, fmt.Errorf("node '%s' not found in configuration", nodeName)
	}

	return node, nil
}

// ListNodes returns a slice of all configured node names.
// Returns empty slice if no nodes are configured.
func (c *ClientConfig) ListNodes() []string {
	var nodes []string
	for name := range c.Nodes {
		nodes = append(nodes, name)
	}
	return nodes
}

// findClientConfig searches for irx client configuration file in standard locations.
// First checks IRX_CONFIG environment variable, then searches common paths.
// Returns empty string if no configuration file is found.
func findClientConfig() string {
	// First check IRX_CONFIG environment variable
	if envPath := os.Getenv("IRX_CONFIG"); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}

	locations := []string{
		"./irx-config.yml",
		"./config/irx-config.yml",
		filepath.Join(os.Getenv("HOME"), ".irx", "irx-config.yml"),
		"/etc/inferlet/irx-config.yml",
	}

	for _, path := range locations {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}

	return ""
}
