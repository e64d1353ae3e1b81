package github

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	gh "github.com/google/go-github/v66/github"
	"go.uber.org/zap"

	"github.com/stellarlink/agentfleet/internal/state"
)

// Publisher opens pull requests for completed agent work.
type Publisher struct {
	auth AuthProvider
	repo string // owner/name
	log  *zap.Logger

	// newClient builds the API client for a token. Tests substitute a fake.
	newClient func(token string) *gh.Client
}

// NewPublisher creates a publisher for the given owner/name repository.
func NewPublisher(auth AuthProvider, repo string, logger *zap.Logger) (*Publisher, error) {
	if !strings.Contains(repo, "/") {
		return nil, fmt.Errorf("invalid repo format: %s (expected owner/repo)", repo)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Publisher{
		auth: auth,
		repo: repo,
		log:  logger,
		newClient: func(token string) *gh.Client {
			return gh.NewClient(&http.Client{}).WithAuthToken(token)
		},
	}, nil
}

// PublishTask opens a PR from the task's branch to base. The PR body carries
// the task description and result so reviewers see what the agent did.
func (p *Publisher) PublishTask(ctx context.Context, task *state.Task, branch, base string) (string, error) {
	if task == nil {
		return "", fmt.Errorf("task must not be nil")
	}
	if branch == "" {
		return "", fmt.Errorf("branch must not be empty")
	}
	if base == "" {
		base = "main"
	}

	token, err := p.auth.GetInstallationToken(p.repo)
	if err != nil {
		return "", fmt.Errorf("authenticate: %w", err)
	}

	parts := strings.SplitN(p.repo, "/", 2)
	owner, name := parts[0], parts[1]

	title := prTitle(task)
	body := prBody(task)

	client := p.newClient(token.Token)
	pr, _, err := client.PullRequests.Create(ctx, owner, name, &gh.NewPullRequest{
		Title:               gh.String(title),
		Head:                gh.String(branch),
		Base:                gh.String(base),
		Body:                gh.String(body),
		MaintainerCanModify: gh.Bool(true),
	})
	if err != nil {
		return "", fmt.Errorf("create pull request: %w", err)
	}

	p.log.Info("pull request created",
		zap.String("task", task.ID),
		zap.String("url", pr.GetHTMLURL()))
	return pr.GetHTMLURL(), nil
}

func prTitle(task *state.Task) string {
	desc := task.Description
	if len(desc) > 60 {
		desc = desc[:57] + "..."
	}
	return fmt.Sprintf("[%s] %s", task.Type, desc)
}

func prBody(task *state.Task) string {
	var b strings.Builder
	b.WriteString("## Summary\n\n")
	b.WriteString(task.Description)
	b.WriteString("\n\n")
	if task.Result != "" {
		b.WriteString("## Result\n\n")
		b.WriteString(task.Result)
		b.WriteString("\n\n")
	}
	fmt.Fprintf(&b, "---\nTask `%s` completed by agent `%s`.\n", task.ID, task.AssignedTo)
	return b.String()
}
