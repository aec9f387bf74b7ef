// Package protect reacts to repository creation: when the default branch of
// a new repository appears, it sets up branch protection rules and files an
// informational issue mentioning whoever created the repository.
package protect

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/mattjoyce/branchguard/internal/webhook"
)

// API is the subset of the GitHub client this handler needs.
type API interface {
	Put(ctx context.Context, endpoint string, body, out any) error
	Post(ctx context.Context, endpoint string, body, out any) error
}

// DefaultTaskTimeout bounds the protection-and-notify sequence for a single
// delivery. A task exceeding it is abandoned; the API calls it already made
// are idempotent enough to repeat if GitHub redelivers the event.
const DefaultTaskTimeout = 2 * time.Minute

// Handler processes verified "create" events. The webhook delivery is
// acknowledged immediately; the API calls run in a background task.
type Handler struct {
	api         API
	logger      *slog.Logger
	taskTimeout time.Duration
	wg          sync.WaitGroup
}

// New creates a Handler calling the GitHub API through api.
func New(api API, logger *slog.Logger) *Handler {
	return &Handler{
		api:         api,
		logger:      logger.With("component", "protect"),
		taskTimeout: DefaultTaskTimeout,
	}
}

// HandleEvent implements webhook.EventHandler for "create" events.
func (h *Handler) HandleEvent(ctx context.Context, d webhook.Delivery) error {
	var event RefCreationEvent
	if err := json.Unmarshal(d.Payload, &event); err != nil {
		return fmt.Errorf("decoding create event payload: %w", err)
	}

	// Only the creation of a repository's default branch is interesting:
	// tags and later branches mean the repository already existed.
	if event.RefType != "branch" || event.Ref != event.MasterBranch {
		h.logger.Debug("unrelated ref creation event, ignoring",
			"delivery_id", d.ID,
			"ref_type", event.RefType,
			"ref", event.Ref,
		)
		return nil
	}

	h.logger.Info("new default branch detected",
		"delivery_id", d.ID,
		"org", event.Repository.Owner.Login,
		"repo", event.Repository.Name,
		"branch", event.Ref,
	)

	// Acknowledge the delivery without waiting for the API calls. The task
	// gets its own bounded context so an abandoned delivery cannot leave
	// it running forever.
	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		taskCtx, cancel := context.WithTimeout(context.Background(), h.taskTimeout)
		defer cancel()
		h.protectAndNotify(taskCtx, event)
	}()

	return nil
}

// Wait blocks until all in-flight background tasks finish. Used during
// shutdown and by tests.
func (h *Handler) Wait() {
	h.wg.Wait()
}

// protectAndNotify applies the branch protection rule, then files an issue
// informing the repository creator about it.
func (h *Handler) protectAndNotify(ctx context.Context, event RefCreationEvent) {
	org := event.Repository.Owner.Login
	repo := event.Repository.Name
	branch := event.Ref

	logger := h.logger.With("org", org, "repo", repo, "branch", branch)

	// Disallow direct pushes (including by administrators) and require at
	// least one approving pull request review.
	protection := ProtectionRequest{
		EnforceAdmins:              true,
		RequiredPullRequestReviews: &PullRequestReviews{},
	}

	endpoint := fmt.Sprintf("repos/%s/%s/branches/%s/protection", org, repo, branch)
	if err := h.api.Put(ctx, endpoint, protection, nil); err != nil {
		logger.Error("could not set up branch protection rule", "error", err)
		return
	}
	logger.Info("branch protection rule set up")

	issue := IssueRequest{
		Title: "Branch protection automatically set up",
		Body: fmt.Sprintf(
			"@%s: The default branch [`%s`](../tree/%s) was automatically protected to "+
				"comply with our corporate policies. Please submit pull requests in order to "+
				"contribute changes, as direct pushes to this branch are not allowed. Every "+
				"pull request needs to be approved by at least one person before it can be "+
				"merged. Please review the [branch protection rules in the repository "+
				"settings](../settings/branches) and extend them as necessary.\n\n"+
				"This issue is just for your information and can be closed after reviewing "+
				"the branch protection rules.",
			event.Sender.Login, branch, branch),
	}

	var created IssueResponse
	if err := h.api.Post(ctx, fmt.Sprintf("repos/%s/%s/issues", org, repo), issue, &created); err != nil {
		logger.Error("could not notify repository creator about branch protection", "error", err)
		return
	}
	logger.Info("created issue informing about branch protection", "issue_url", created.HTMLURL)
}
