// Package agent loads agent descriptors from the agents directory.
//
// Every runnable agent lives in its own subdirectory holding an agent.yaml
// descriptor plus whatever code the worker needs. The descriptor names the
// framework dialect the worker speaks, the container image, the launch
// command, and the environment variables the worker requires.
package agent

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"
)

// allowedEnvVars is the whitelist of environment variables that may be
// forwarded into a worker. Anything else a descriptor asks for is refused.
var allowedEnvVars = map[string]struct{}{
	"ANTHROPIC_API_KEY":   {},
	"OPENAI_API_KEY":      {},
	"GOOGLE_API_KEY":      {},
	"GEMINI_API_KEY":      {},
	"MISTRAL_API_KEY":     {},
	"COHERE_API_KEY":      {},
	"HUGGINGFACE_API_KEY": {},
	"GROQ_API_KEY":        {},
	"TAVILY_API_KEY":      {},
}

// Config is one agent's descriptor, merged with defaults.
type Config struct {
	ID          string   `yaml:"-"`
	Name        string   `yaml:"name"`
	Description string   `yaml:"description"`
	Framework   string   `yaml:"framework"`
	Image       string   `yaml:"image"`
	Command     []string `yaml:"command"`
	// Entrypoint is an accepted alias for Command in descriptors.
	Entrypoint  []string `yaml:"entrypoint"`
	EnvVars     []string `yaml:"env_vars"`
	Timeout     int      `yaml:"timeout"`
	IdleTimeout int      `yaml:"idle_timeout"`
}

func defaults(id string) Config {
	return Config{
		ID:          id,
		Name:        id,
		Framework:   "claude",
		Command:     []string{"python", "/app/run_agent.py"},
		Timeout:     600,
		IdleTimeout: 120,
	}
}

// Load reads and validates the descriptor for one agent.
// Returns os.ErrNotExist (wrapped) when the agent directory or its
// agent.yaml is missing.
func Load(agentsDir, id string) (*Config, error) {
	path := filepath.Join(agentsDir, id, "agent.yaml")
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading agent descriptor %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing agent descriptor %s: %w", path, err)
	}
	if len(cfg.Command) == 0 && len(cfg.Entrypoint) > 0 {
		cfg.Command = cfg.Entrypoint
	}
	cfg.Entrypoint = nil
	cfg.ID = id

	def := defaults(id)
	if err := mergo.Merge(&cfg, def); err != nil {
		return nil, fmt.Errorf("applying agent defaults for %s: %w", id, err)
	}
	return &cfg, nil
}

// List loads every agent descriptor under agentsDir, sorted by name.
// Directories without a valid descriptor are skipped with a warning.
func List(agentsDir string) ([]*Config, error) {
	entries, err := os.ReadDir(agentsDir)
	if err != nil {
		return nil, fmt.Errorf("reading agents directory %s: %w", agentsDir, err)
	}

	var agents []*Config
	for _, entry := range entries {
		if !entry.IsDir() || entry.Name()[0] == '.' {
			continue
		}
		cfg, err := Load(agentsDir, entry.Name())
		if err != nil {
			slog.Warn("Skipping agent with invalid descriptor",
				"agent_id", entry.Name(),
				"error", err)
			continue
		}
		agents = append(agents, cfg)
	}

	sort.Slice(agents, func(i, j int) bool { return agents[i].Name < agents[j].Name })
	return agents, nil
}

// Dir returns the agent's directory under agentsDir.
func (c *Config) Dir(agentsDir string) string {
	return filepath.Join(agentsDir, c.ID)
}

// ResolveEnv returns the environment variables to forward into the
// worker: the intersection of the descriptor's env_vars, the whitelist,
// and what is actually set in the server's environment.
func (c *Config) ResolveEnv() map[string]string {
	return c.resolveEnv(os.LookupEnv)
}

func (c *Config) resolveEnv(lookup func(string) (string, bool)) map[string]string {
	env := make(map[string]string)
	for _, name := range c.EnvVars {
		if _, ok := allowedEnvVars[name]; !ok {
			slog.Warn("Agent requested non-whitelisted env var",
				"agent_id", c.ID,
				"var", name)
			continue
		}
		value, ok := lookup(name)
		if !ok || value == "" {
			slog.Warn("Agent requires env var that is not set",
				"agent_id", c.ID,
				"var", name)
			continue
		}
		env[name] = value
	}
	return env
}
