package agent

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeAgent(t *testing.T, dir, id, descriptor string) {
	t.Helper()
	agentDir := filepath.Join(dir, id)
	require.NoError(t, os.MkdirAll(agentDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(agentDir, "agent.yaml"), []byte(descriptor), 0o644))
}

func TestLoad_AppliesDefaults(t *testing.T) {
	dir := t.TempDir()
	writeAgent(t, dir, "minimal", "description: nearly empty\n")

	cfg, err := Load(dir, "minimal")
	require.NoError(t, err)

	assert.Equal(t, "minimal", cfg.ID)
	assert.Equal(t, "minimal", cfg.Name)
	assert.Equal(t, "claude", cfg.Framework)
	assert.Equal(t, []string{"python", "/app/run_agent.py"}, cfg.Command)
	assert.Equal(t, 600, cfg.Timeout)
	assert.Equal(t, 120, cfg.IdleTimeout)
	assert.Empty(t, cfg.EnvVars)
}

func TestLoad_FullDescriptor(t *testing.T) {
	dir := t.TempDir()
	writeAgent(t, dir, "researcher", `
name: Researcher
description: deep research agent
framework: deepagents
image: registry.example.com/researcher:v3
command: ["python", "/app/main.py"]
env_vars:
  - ANTHROPIC_API_KEY
  - TAVILY_API_KEY
timeout: 900
idle_timeout: 60
`)

	cfg, err := Load(dir, "researcher")
	require.NoError(t, err)

	assert.Equal(t, "Researcher", cfg.Name)
	assert.Equal(t, "deepagents", cfg.Framework)
	assert.Equal(t, "registry.example.com/researcher:v3", cfg.Image)
	assert.Equal(t, []string{"python", "/app/main.py"}, cfg.Command)
	assert.Equal(t, []string{"ANTHROPIC_API_KEY", "TAVILY_API_KEY"}, cfg.EnvVars)
	assert.Equal(t, 900, cfg.Timeout)
	assert.Equal(t, 60, cfg.IdleTimeout)
}

func TestLoad_EntrypointAlias(t *testing.T) {
	dir := t.TempDir()
	writeAgent(t, dir, "aliased", `entrypoint: ["node", "/app/index.js"]`)

	cfg, err := Load(dir, "aliased")
	require.NoError(t, err)
	assert.Equal(t, []string{"node", "/app/index.js"}, cfg.Command)
}

func TestLoad_Missing(t *testing.T) {
	dir := t.TempDir()

	_, err := Load(dir, "ghost")
	require.Error(t, err)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestList(t *testing.T) {
	dir := t.TempDir()
	writeAgent(t, dir, "zeta", "name: Zeta\n")
	writeAgent(t, dir, "alpha", "name: Alpha\n")
	writeAgent(t, dir, "broken", "name: [unclosed\n")
	require.NoError(t, os.MkdirAll(filepath.Join(dir, ".hidden"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "empty"), 0o755))

	agents, err := List(dir)
	require.NoError(t, err)
	require.Len(t, agents, 2)
	assert.Equal(t, "Alpha", agents[0].Name)
	assert.Equal(t, "Zeta", agents[1].Name)
}

func TestResolveEnv(t *testing.T) {
	cfg := &Config{
		ID:      "test",
		EnvVars: []string{"ANTHROPIC_API_KEY", "TAVILY_API_KEY", "HOME", "OPENAI_API_KEY"},
	}

	env := cfg.resolveEnv(func(name string) (string, bool) {
		switch name {
		case "ANTHROPIC_API_KEY":
			return "sk-ant-test", true
		case "HOME":
			return "/root", true
		case "OPENAI_API_KEY":
			return "", true
		}
		return "", false
	})

	// Whitelisted and set: forwarded. HOME is not whitelisted, TAVILY is
	// unset, OPENAI is empty.
	assert.Equal(t, map[string]string{"ANTHROPIC_API_KEY": "sk-ant-test"}, env)
}

func TestResolveEnv_NoDeclaredVars(t *testing.T) {
	cfg := &Config{ID: "test"}
	env := cfg.resolveEnv(func(string) (string, bool) { return "", false })
	assert.Empty(t, env)
}
