package agent

import (
	"fmt"
	"sort"
	"time"

	"github.com/stellarlink/agentfleet/internal/config"
)

// Spec describes one agent instance to launch.
type Spec struct {
	ID           string
	Role         string
	Window       string
	Capabilities []string
	Priority     string
}

// priorityRank orders roles for launch: higher first.
var priorityRank = map[string]int{
	"critical": 4,
	"high":     3,
	"medium":   2,
	"low":      1,
}

// BuildSpecs expands the fleet's role definitions into concrete agent specs,
// ordered by role priority so auditors and planners come up before the rest.
// Agent IDs carry a timestamp so restarts never collide with stale state.
func BuildSpecs(fleet *config.FleetConfig, now time.Time) []Spec {
	stamp := now.Format("20060102-150405")

	names := make([]string, 0, len(fleet.Agents.Roles))
	for name := range fleet.Agents.Roles {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		ri := priorityRank[fleet.Agents.Roles[names[i]].Priority]
		rj := priorityRank[fleet.Agents.Roles[names[j]].Priority]
		if ri != rj {
			return ri > rj
		}
		return names[i] < names[j]
	})

	var specs []Spec
	for _, name := range names {
		role := fleet.Agents.Roles[name]
		instances := role.MaxInstances
		if instances == 0 {
			instances = 1
		}
		for i := 0; i < instances; i++ {
			window := name
			if i > 0 {
				window = fmt.Sprintf("%s-%d", name, i)
			}
			specs = append(specs, Spec{
				ID:           fmt.Sprintf("%s-%s-%d", name, stamp, i),
				Role:         name,
				Window:       window,
				Capabilities: role.Capabilities,
				Priority:     role.Priority,
			})
		}
	}
	return specs
}
