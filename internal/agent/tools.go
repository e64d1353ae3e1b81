package agent

import "sort"

// Base tools every agent needs to read and navigate the codebase.
var baseTools = []string{"Glob", "Grep", "LS", "Read"}

// roleTools extends the base set per role. Roles that do not change code do
// not get write access.
var roleTools = map[string][]string{
	"auditor":  {"WebSearch"},
	"planner":  {"Write"},
	"coder":    {"Edit", "MultiEdit", "Write", "Bash"},
	"tester":   {"Edit", "Write", "Bash"},
	"reviewer": {},
}

// roleBlockedTools names tools explicitly denied per role.
var roleBlockedTools = map[string][]string{
	"auditor":  {"Edit", "MultiEdit", "Write", "Bash"},
	"planner":  {"Bash"},
	"coder":    {"WebSearch"},
	"tester":   {"WebSearch"},
	"reviewer": {"Edit", "MultiEdit", "Write", "Bash"},
}

// AllowedTools returns the sorted allow list for a role. Unknown roles get
// the read-only base set.
func AllowedTools(role string) []string {
	tools := append([]string{}, baseTools...)
	tools = append(tools, roleTools[role]...)
	sort.Strings(tools)
	return dedupe(tools)
}

// DisallowedTools returns the sorted deny list for a role, minus anything
// the role explicitly allows.
func DisallowedTools(role string) []string {
	allowed := make(map[string]bool)
	for _, t := range AllowedTools(role) {
		allowed[t] = true
	}

	var out []string
	for _, t := range roleBlockedTools[role] {
		if !allowed[t] {
			out = append(out, t)
		}
	}
	sort.Strings(out)
	return dedupe(out)
}

func dedupe(sorted []string) []string {
	out := sorted[:0]
	var prev string
	for i, t := range sorted {
		if i == 0 || t != prev {
			out = append(out, t)
		}
		prev = t
	}
	return out
}
