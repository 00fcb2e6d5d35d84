// Package config holds server settings loaded from the environment.
//
// Local development puts overrides in a .env file; cmd/mobox loads it
// with godotenv before settings are read. Database settings live in
// pkg/database and are loaded the same way.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Sandbox backend names.
const (
	BackendSubprocess = "subprocess"
	BackendDocker     = "docker"
)

// Settings is the server configuration.
type Settings struct {
	Host string
	Port int

	// AgentsDir is the directory holding agent subdirectories with
	// their agent.yaml descriptors.
	AgentsDir string

	// SandboxBackend selects how workers run: "docker" or "subprocess".
	SandboxBackend string

	// JanitorInterval is how often expired sandbox containers are
	// reclaimed. Only used with the docker backend.
	JanitorInterval time.Duration
}

// Load reads settings from environment variables, applying defaults.
func Load() (*Settings, error) {
	port, err := strconv.Atoi(getEnvOrDefault("HTTP_PORT", "8000"))
	if err != nil {
		return nil, fmt.Errorf("invalid HTTP_PORT: %w", err)
	}

	backend := getEnvOrDefault("SANDBOX_BACKEND", BackendDocker)
	switch backend {
	case BackendSubprocess, BackendDocker:
	default:
		return nil, fmt.Errorf("invalid SANDBOX_BACKEND %q: must be %q or %q", backend, BackendSubprocess, BackendDocker)
	}

	janitorInterval := 30 * time.Second
	if v := os.Getenv("JANITOR_INTERVAL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("invalid JANITOR_INTERVAL: %w", err)
		}
		janitorInterval = d
	}

	return &Settings{
		Host:            getEnvOrDefault("HOST", "0.0.0.0"),
		Port:            port,
		AgentsDir:       getEnvOrDefault("AGENTS_DIR", "agents"),
		SandboxBackend:  backend,
		JanitorInterval: janitorInterval,
	}, nil
}

// Addr returns the listen address.
func (s *Settings) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

func getEnvOrDefault(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}
