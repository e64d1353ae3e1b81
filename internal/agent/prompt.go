package agent

import (
	"fmt"
	"path/filepath"
	"strings"
)

// InitPrompt builds the prompt the agent CLI is launched with. It primes the
// agent to run autonomously before the detailed startup sequence arrives.
func InitPrompt(spec Spec) string {
	var b strings.Builder
	fmt.Fprintf(&b, "I am agent %s with role %s.\n\n", spec.ID, spec.Role)
	b.WriteString("IMPORTANT: I will operate autonomously following my instructions. I will:\n")
	b.WriteString("1. Read my role instructions\n")
	b.WriteString("2. Register with the MCP coordinator\n")
	b.WriteString("3. Begin my continuous work loop\n")
	b.WriteString("4. Monitor my own health and report issues\n\n")
	b.WriteString("Starting initialization...")
	return b.String()
}

// InstructionsPath returns the role instruction file for a spec.
func InstructionsPath(baseDir string, spec Spec) string {
	return filepath.Join(baseDir, ".agentfleet", "agents", spec.Role+".md")
}

// StartupSequence builds the follow-up message sent once the CLI is up,
// walking the agent through registration and its work loop.
func StartupSequence(baseDir string, spec Spec) string {
	instructions := InstructionsPath(baseDir, spec)
	caps := strings.Join(spec.Capabilities, ", ")

	var b strings.Builder
	b.WriteString("# Agent Startup Sequence\n\n")
	b.WriteString("## Step 1: Read Instructions\n")
	fmt.Fprintf(&b, "Read %s for my detailed role instructions.\n\n", instructions)
	b.WriteString("## Step 2: Register with Coordinator\n")
	fmt.Fprintf(&b, "Call the register_agent tool with agent_id=%q, role=%q and capabilities [%s].\n\n", spec.ID, spec.Role, caps)
	b.WriteString("## Step 3: Work Loop\n")
	b.WriteString("Repeat until stopped: call get_next_task, do the work, report with update_task.\n")
	b.WriteString("Auditors submit issues through submit_audit_finding; coders isolate changes with create_worktree.\n\n")
	b.WriteString("Let me begin by reading my instructions now.")
	return b.String()
}
