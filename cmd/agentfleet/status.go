package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/stellarlink/agentfleet/internal/state"
)

var statusJSON bool

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show fleet and coordinator state",
	Long: `Reads the coordinator state file and the latest launcher snapshot and
prints a summary of agents, tasks, and findings. Works without a running
fleet; missing state files show as empty.`,
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "print raw JSON instead of a table")
}

// statusReport combines the coordinator and launcher views.
type statusReport struct {
	Coordinator *state.Snapshot         `json:"coordinator"`
	Launcher    *state.LauncherSnapshot `json:"launcher,omitempty"`
}

func runStatus(cmd *cobra.Command, args []string) error {
	report := statusReport{}

	snap, err := state.ReadSnapshot(cfg.StatePath())
	if err != nil {
		if !os.IsNotExist(err) {
			return fmt.Errorf("read coordinator state: %w", err)
		}
		snap = state.NewSnapshot()
	}
	report.Coordinator = snap

	store, err := state.NewLauncherStore(cfg.DataDir)
	if err != nil {
		return err
	}
	if ls, err := store.LoadLatest(); err == nil {
		report.Launcher = ls
	}

	if statusJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	}

	printStatus(os.Stdout, report)
	return nil
}

func printStatus(out io.Writer, report statusReport) {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)

	fmt.Fprintln(w, "AGENT\tROLE\tSTATUS\tLAST SEEN")
	for _, a := range sortedAgents(report.Coordinator) {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", a.ID, a.Role, a.Status, humanSince(a.LastSeen))
	}
	if len(report.Coordinator.Agents) == 0 {
		fmt.Fprintln(w, "(none)\t\t\t")
	}
	w.Flush()

	counts := map[state.TaskStatus]int{}
	for _, t := range report.Coordinator.TaskQueue {
		counts[t.Status]++
	}
	fmt.Fprintf(out, "\nTasks: %d pending, %d in progress, %d completed, %d failed\n",
		counts[state.TaskPending], counts[state.TaskInProgress],
		counts[state.TaskCompleted], counts[state.TaskFailed])
	fmt.Fprintf(out, "Findings: %d\n", len(report.Coordinator.AuditFindings))

	if report.Launcher != nil {
		fmt.Fprintf(out, "\nLauncher: %d agents, %d restarts, uptime %s (saved %s)\n",
			report.Launcher.TotalAgents, report.Launcher.TotalRestarts,
			report.Launcher.Uptime, humanSince(report.Launcher.SavedAt))
	} else {
		fmt.Fprintln(out, "\nLauncher: no snapshot")
	}
}

func sortedAgents(snap *state.Snapshot) []*state.Agent {
	agents := make([]*state.Agent, 0, len(snap.Agents))
	for _, a := range snap.Agents {
		agents = append(agents, a)
	}
	sort.Slice(agents, func(i, j int) bool { return agents[i].ID < agents[j].ID })
	return agents
}

func humanSince(t time.Time) string {
	if t.IsZero() {
		return "never"
	}
	d := time.Since(t).Round(time.Second)
	if d < 0 {
		d = 0
	}
	return d.String() + " ago"
}
