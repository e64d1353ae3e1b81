package coordinator

import (
	"strings"

	"github.com/stellarlink/agentfleet/internal/state"
)

// recordTaskPatternLocked counts a task type occurrence in the knowledge
// base.
func (c *Coordinator) recordTaskPatternLocked(taskType string) {
	if c.kb.TaskPatterns == nil {
		c.kb.TaskPatterns = make(map[string]state.PatternStat)
	}
	stat := c.kb.TaskPatterns[taskType]
	stat.Count++
	stat.LastCreated = c.now()
	c.kb.TaskPatterns[taskType] = stat
}

// learnDurationLocked folds a completed task's duration into the knowledge
// base so future estimates improve.
func (c *Coordinator) learnDurationLocked(task *state.Task) {
	if task.ActualDuration <= 0 {
		return
	}
	if c.kb.TaskDurations == nil {
		c.kb.TaskDurations = make(map[string]state.DurationStat)
	}

	stat := c.kb.TaskDurations[task.Type]
	stat.Count++
	stat.TotalSeconds += task.ActualDuration
	stat.AverageSeconds = stat.TotalSeconds / float64(stat.Count)
	c.kb.TaskDurations[task.Type] = stat
}

// estimateDurationLocked predicts task duration: similar completed tasks
// first, then the learned per-type average, then static defaults.
func (c *Coordinator) estimateDurationLocked(taskType, description string) float64 {
	similar := c.similarTasksLocked(description)
	var total float64
	var n int
	for _, s := range similar {
		if s.Duration > 0 {
			total += s.Duration
			n++
		}
	}
	if n > 0 {
		return total / float64(n)
	}

	if stat, ok := c.kb.TaskDurations[strings.ToLower(taskType)]; ok && stat.Count > 0 {
		return stat.AverageSeconds
	}

	if est, ok := defaultEstimates[strings.ToLower(taskType)]; ok {
		return est
	}
	return 600
}

// similarTasksLocked finds completed tasks whose description overlaps the
// given one by Jaccard word similarity above 0.3, best three first.
func (c *Coordinator) similarTasksLocked(description string) []state.TaskRef {
	words := wordSet(description)
	if len(words) == 0 {
		return nil
	}

	var refs []state.TaskRef
	for _, task := range c.queue {
		if task.Status != state.TaskCompleted {
			continue
		}
		similarity := jaccard(words, wordSet(task.Description))
		if similarity > 0.3 {
			refs = append(refs, state.TaskRef{
				TaskID:      task.ID,
				Description: task.Description,
				Duration:    task.ActualDuration,
				Similarity:  similarity,
			})
		}
	}

	// Insertion sort by similarity descending; lists here are tiny.
	for i := 1; i < len(refs); i++ {
		for j := i; j > 0 && refs[j].Similarity > refs[j-1].Similarity; j-- {
			refs[j], refs[j-1] = refs[j-1], refs[j]
		}
	}
	if len(refs) > 3 {
		refs = refs[:3]
	}
	return refs
}

func wordSet(s string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, w := range strings.Fields(strings.ToLower(s)) {
		set[w] = struct{}{}
	}
	return set
}

func jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	intersection := 0
	for w := range a {
		if _, ok := b[w]; ok {
			intersection++
		}
	}
	union := len(a) + len(b) - intersection
	if union == 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}
