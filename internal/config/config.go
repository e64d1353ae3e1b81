package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration for the agentfleet CLI and coordinator
type Config struct {
	// Filesystem layout
	BaseDir         string // project root the agents work in
	DataDir         string // coordinator state directory (mcp-coordinator/)
	MCPSettingsPath string // settings file handed to the spawned CLI
	LogFile         string

	// Launcher settings
	SessionName         string
	StartupDelay        time.Duration
	HealthCheckInterval time.Duration
	MaxAgentErrors      int
	MaxAgentRestarts    int

	// Dashboard settings
	DashboardPort int

	// GitHub App settings (only required when automation.auto_create_prs)
	GitHubAppID      string
	GitHubPrivateKey string
	GitHubRepo       string // owner/name

	// Fleet definition loaded from the JSON config file
	Fleet *FleetConfig
}

// FleetConfig mirrors .agentfleet/config.json
type FleetConfig struct {
	Project    ProjectConfig    `json:"project"`
	Agents     AgentsConfig     `json:"agents"`
	Automation AutomationConfig `json:"automation"`
	Git        GitConfig        `json:"git"`
}

type ProjectConfig struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

type AgentsConfig struct {
	Roles map[string]RoleConfig `json:"roles"`
}

// RoleConfig describes one agent role in the fleet
type RoleConfig struct {
	Description  string   `json:"description"`
	Capabilities []string `json:"capabilities"`
	MaxInstances int      `json:"max_instances"`
	Priority     string   `json:"priority"`
}

type AutomationConfig struct {
	AuditInterval int  `json:"audit_interval"` // seconds
	AutoCreatePRs bool `json:"auto_create_prs"`
}

type GitConfig struct {
	BranchPrefix string `json:"branch_prefix"`
}

// Load builds configuration from environment variables and the fleet config
// file under baseDir. A missing fleet config is created with defaults.
func Load(baseDir string) (*Config, error) {
	if baseDir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("resolve working directory: %w", err)
		}
		baseDir = wd
	}

	cfg := &Config{
		BaseDir:             baseDir,
		DataDir:             filepath.Join(baseDir, "mcp-coordinator"),
		MCPSettingsPath:     getEnv("CLAUDE_MCP_SETTINGS_PATH", filepath.Join(baseDir, "claude_mcp_settings.json")),
		LogFile:             getEnv("FLEET_LOG_FILE", filepath.Join(baseDir, "agentfleet.log")),
		SessionName:         getEnv("FLEET_SESSION", "agentfleet"),
		StartupDelay:        time.Duration(getEnvInt("FLEET_STARTUP_DELAY_SECONDS", 5)) * time.Second,
		HealthCheckInterval: time.Duration(getEnvInt("FLEET_HEALTH_CHECK_SECONDS", 30)) * time.Second,
		MaxAgentErrors:      getEnvInt("FLEET_MAX_AGENT_ERRORS", 5),
		MaxAgentRestarts:    getEnvInt("FLEET_MAX_AGENT_RESTARTS", 3),
		DashboardPort:       getEnvInt("FLEET_DASHBOARD_PORT", 8787),
		GitHubAppID:         os.Getenv("GITHUB_APP_ID"),
		GitHubPrivateKey:    normalizePrivateKey(os.Getenv("GITHUB_PRIVATE_KEY")),
		GitHubRepo:          os.Getenv("GITHUB_REPO"),
	}

	fleet, err := loadFleetConfig(cfg.FleetConfigPath())
	if err != nil {
		return nil, err
	}
	cfg.Fleet = fleet

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// FleetConfigPath returns the path of the fleet definition file.
func (c *Config) FleetConfigPath() string {
	return filepath.Join(c.BaseDir, ".agentfleet", "config.json")
}

// StatePath returns the coordinator state file path.
func (c *Config) StatePath() string {
	return filepath.Join(c.DataDir, "state.json")
}

// WorktreesDir returns the directory agent worktrees are created under.
func (c *Config) WorktreesDir() string {
	return filepath.Join(c.BaseDir, "worktrees")
}

func loadFleetConfig(path string) (*FleetConfig, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		fleet := DefaultFleetConfig()
		if err := writeFleetConfig(path, fleet); err != nil {
			return nil, err
		}
		return fleet, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read fleet config: %w", err)
	}

	var fleet FleetConfig
	if err := json.Unmarshal(data, &fleet); err != nil {
		return nil, fmt.Errorf("invalid JSON in %s: %w", path, err)
	}
	return &fleet, nil
}

func writeFleetConfig(path string, fleet *FleetConfig) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	data, err := json.MarshalIndent(fleet, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal fleet config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write fleet config: %w", err)
	}
	return nil
}

// DefaultFleetConfig returns the standard five-role fleet.
func DefaultFleetConfig() *FleetConfig {
	return &FleetConfig{
		Project: ProjectConfig{
			Name:        "Autonomous System",
			Description: "Multi-agent development system",
		},
		Agents: AgentsConfig{
			Roles: map[string]RoleConfig{
				"auditor": {
					Description:  "Code quality and security auditor",
					Capabilities: []string{"code_analysis", "security_scanning", "quality_review"},
					MaxInstances: 1,
					Priority:     "high",
				},
				"planner": {
					Description:  "Implementation planner",
					Capabilities: []string{"task_breakdown", "architecture_design", "estimation"},
					MaxInstances: 1,
					Priority:     "high",
				},
				"coder": {
					Description:  "Code implementer",
					Capabilities: []string{"code_implementation", "refactoring", "bug_fixing", "git_operations"},
					MaxInstances: 2,
					Priority:     "medium",
				},
				"tester": {
					Description:  "Test author and verifier",
					Capabilities: []string{"test_writing", "test_execution", "coverage_analysis"},
					MaxInstances: 1,
					Priority:     "medium",
				},
				"reviewer": {
					Description:  "Change reviewer",
					Capabilities: []string{"code_review", "pr_feedback", "merge_approval"},
					MaxInstances: 1,
					Priority:     "low",
				},
			},
		},
		Automation: AutomationConfig{
			AuditInterval: 300,
			AutoCreatePRs: false,
		},
		Git: GitConfig{
			BranchPrefix: "auto/",
		},
	}
}

// validate checks that all required configuration is present
func (c *Config) validate() error {
	if c.SessionName == "" {
		return fmt.Errorf("FLEET_SESSION must not be empty")
	}
	if c.DashboardPort <= 0 {
		return fmt.Errorf("FLEET_DASHBOARD_PORT must be greater than 0")
	}
	if c.StartupDelay < 0 {
		return fmt.Errorf("FLEET_STARTUP_DELAY_SECONDS must not be negative")
	}

	if c.Fleet == nil || len(c.Fleet.Agents.Roles) == 0 {
		return fmt.Errorf("no agent roles defined in fleet config")
	}
	for name, role := range c.Fleet.Agents.Roles {
		if role.MaxInstances < 0 {
			return fmt.Errorf("role %s: max_instances must not be negative", name)
		}
		switch role.Priority {
		case "", "low", "medium", "high", "critical":
		default:
			return fmt.Errorf("role %s: invalid priority %q", name, role.Priority)
		}
	}

	if c.Fleet.Automation.AutoCreatePRs {
		if c.GitHubAppID == "" {
			return fmt.Errorf("GITHUB_APP_ID is required when auto_create_prs is enabled")
		}
		if c.GitHubPrivateKey == "" {
			return fmt.Errorf("GITHUB_PRIVATE_KEY is required when auto_create_prs is enabled")
		}
		if c.GitHubRepo == "" {
			return fmt.Errorf("GITHUB_REPO is required when auto_create_prs is enabled")
		}
	}

	return nil
}

func normalizePrivateKey(value string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return ""
	}

	if strings.HasPrefix(trimmed, "\"") && strings.HasSuffix(trimmed, "\"") {
		trimmed = strings.TrimPrefix(trimmed, "\"")
		trimmed = strings.TrimSuffix(trimmed, "\"")
	}
	if strings.HasPrefix(trimmed, "'") && strings.HasSuffix(trimmed, "'") {
		trimmed = strings.TrimPrefix(trimmed, "'")
		trimmed = strings.TrimSuffix(trimmed, "'")
	}

	trimmed = strings.ReplaceAll(trimmed, "\r\n", "\n")
	trimmed = strings.ReplaceAll(trimmed, "\r", "\n")
	if strings.Contains(trimmed, "\\n") {
		trimmed = strings.ReplaceAll(trimmed, "\\r", "")
		trimmed = strings.ReplaceAll(trimmed, "\\n", "\n")
	}

	return trimmed
}

// getEnv gets environment variable with a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt gets environment variable as int with a default value
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}
