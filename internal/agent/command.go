package agent

import (
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"strings"
)

// MCPServerConfig is one server entry in the settings file handed to the
// agent CLI.
type MCPServerConfig struct {
	Type    string            `json:"type,omitempty"`
	URL     string            `json:"url,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`
	Command string            `json:"command,omitempty"`
	Args    []string          `json:"args,omitempty"`
	Env     map[string]string `json:"env,omitempty"`
}

// MCPConfig is the settings file schema the agent CLI reads.
type MCPConfig struct {
	MCPServers map[string]MCPServerConfig `json:"mcpServers"`
}

// BuildMCPConfig assembles the MCP settings for a spawned agent: the
// coordinator over stdio, plus a git server when uvx is present.
func BuildMCPConfig(coordinatorBin, baseDir string, spec Spec) MCPConfig {
	cfg := MCPConfig{MCPServers: make(map[string]MCPServerConfig)}

	cfg.MCPServers["mcp-coordinator"] = MCPServerConfig{
		Command: coordinatorBin,
		Env: map[string]string{
			"FLEET_BASE_DIR": baseDir,
			"AGENT_ID":       spec.ID,
			"AGENT_ROLE":     spec.Role,
		},
	}

	if _, err := exec.LookPath("uvx"); err == nil {
		cfg.MCPServers["git"] = MCPServerConfig{
			Command: "uvx",
			Args:    []string{"mcp-server-git"},
		}
	}

	return cfg
}

// WriteMCPSettings writes the settings file for a spawned agent and returns
// its path.
func WriteMCPSettings(path, coordinatorBin, baseDir string, spec Spec) (string, error) {
	cfg := BuildMCPConfig(coordinatorBin, baseDir, spec)
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal mcp settings: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("write mcp settings: %w", err)
	}
	return path, nil
}

// LaunchCommand builds the shell command that starts the agent CLI with its
// init prompt. The prompt is single-quoted for the shell; embedded quotes
// are escaped.
func LaunchCommand(cliBin string, spec Spec) string {
	prompt := InitPrompt(spec)
	quoted := "'" + strings.ReplaceAll(prompt, "'", `'\''`) + "'"

	args := []string{cliBin}
	if allowed := AllowedTools(spec.Role); len(allowed) > 0 {
		args = append(args, "--allowedTools", strings.Join(allowed, ","))
	}
	if disallowed := DisallowedTools(spec.Role); len(disallowed) > 0 {
		args = append(args, "--disallowedTools", strings.Join(disallowed, ","))
	}
	args = append(args, quoted)
	return strings.Join(args, " ")
}

// Env builds the environment entries exported to a spawned agent.
func Env(settingsPath, session string, spec Spec) []string {
	return []string{
		"CLAUDE_MCP_SETTINGS_PATH=" + settingsPath,
		"AGENT_ID=" + spec.ID,
		"AGENT_ROLE=" + spec.Role,
		"FLEET_SESSION=" + session,
	}
}
