package coordinator

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/stellarlink/agentfleet/internal/state"
)

// FindingInput is a submitted audit finding before coordination metadata is
// attached.
type FindingInput struct {
	Title       string
	Description string
	Severity    state.Priority
	Category    string
	FilePath    string
	LineNumber  int
}

// SubmitFinding records an audit finding. Duplicates (same category, file,
// line and title prefix as an unresolved finding) are marked and not acted
// on; new findings get a pattern counter and an automatically created
// planning task at the finding's severity.
func (c *Coordinator) SubmitFinding(input FindingInput) (*state.Finding, error) {
	if input.Title == "" {
		return nil, fmt.Errorf("finding title must not be empty")
	}
	if input.Category == "" {
		return nil, fmt.Errorf("finding category must not be empty")
	}
	if input.Severity == "" {
		input.Severity = state.PriorityMedium
	}
	if !input.Severity.Valid() {
		return nil, fmt.Errorf("invalid severity: %s", input.Severity)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	finding := &state.Finding{
		ID:          uuid.NewString(),
		Title:       input.Title,
		Description: input.Description,
		Severity:    input.Severity,
		Category:    input.Category,
		FilePath:    input.FilePath,
		LineNumber:  input.LineNumber,
		Status:      state.FindingNew,
		Hash:        findingHash(input),
		SubmittedAt: c.now(),
	}

	if c.isDuplicateLocked(finding.Hash) {
		finding.Status = state.FindingDuplicate
		c.saveLocked()
		c.log.Info("duplicate finding ignored", zap.String("title", finding.Title))
		return finding, nil
	}

	pattern := fmt.Sprintf("%s:%s", finding.Category, finding.Severity)
	c.patterns[pattern]++
	finding.Pattern = pattern
	finding.PatternCount = c.patterns[pattern]
	c.findings = append(c.findings, finding)

	task := c.createPlanTaskLocked(finding)
	finding.TaskID = task.ID

	c.saveLocked()
	c.log.Info("audit finding submitted",
		zap.String("finding", finding.ID),
		zap.String("title", finding.Title),
		zap.String("severity", string(finding.Severity)),
		zap.String("task", task.ID))

	return finding.Clone(), nil
}

// createPlanTaskLocked creates the follow-up planning task for a finding
// without re-acquiring the mutex.
func (c *Coordinator) createPlanTaskLocked(finding *state.Finding) *state.Task {
	now := c.now()
	desc := fmt.Sprintf("Create implementation plan for: %s", finding.Title)

	task := &state.Task{
		ID:            uuid.NewString(),
		Type:          "plan",
		Description:   desc,
		Priority:      finding.Severity,
		PriorityScore: finding.Severity.Score(),
		Status:        state.TaskPending,
		Context: state.TaskContext{
			FindingID:       finding.ID,
			Pattern:         finding.Pattern,
			RelatedFindings: c.similarFindingIDsLocked(finding),
		},
		CreatedAt:         now,
		UpdatedAt:         now,
		EstimatedDuration: c.estimateDurationLocked("plan", desc),
	}

	c.insertByPriorityLocked(task)
	c.recordTaskPatternLocked("plan")
	return task
}

// findingHash builds the dedup key from category, location and title prefix.
func findingHash(input FindingInput) string {
	title := input.Title
	if len(title) > 50 {
		title = title[:50]
	}
	key := strings.Join([]string{
		input.Category,
		input.FilePath,
		strconv.Itoa(input.LineNumber),
		title,
	}, "|")

	sum := md5.Sum([]byte(key))
	return hex.EncodeToString(sum[:])
}

func (c *Coordinator) isDuplicateLocked(hash string) bool {
	for _, existing := range c.findings {
		if existing.Hash == hash && existing.Status != state.FindingResolved {
			return true
		}
	}
	return false
}

// similarFindingIDsLocked returns up to five recent findings in the same
// category.
func (c *Coordinator) similarFindingIDsLocked(finding *state.Finding) []string {
	const window = 50
	start := 0
	if len(c.findings) > window {
		start = len(c.findings) - window
	}

	var similar []string
	for _, past := range c.findings[start:] {
		if past.Category == finding.Category && past.ID != finding.ID {
			similar = append(similar, past.ID)
			if len(similar) == 5 {
				break
			}
		}
	}
	return similar
}

// relatedFindingsLocked returns findings whose title or description shares
// words with the task description. At most three are returned.
func (c *Coordinator) relatedFindingsLocked(description string) []string {
	words := strings.Fields(strings.ToLower(description))
	if len(words) > 5 {
		words = words[:5]
	}

	var related []string
	for _, f := range c.findings {
		title := strings.ToLower(f.Title)
		desc := strings.ToLower(f.Description)
		for _, w := range words {
			if strings.Contains(title, w) || strings.Contains(desc, w) {
				related = append(related, f.ID)
				break
			}
		}
		if len(related) == 3 {
			break
		}
	}
	return related
}

// Findings returns a copy of the findings list.
func (c *Coordinator) Findings() []*state.Finding {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]*state.Finding, len(c.findings))
	for i, f := range c.findings {
		out[i] = f.Clone()
	}
	return out
}
