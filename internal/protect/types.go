package protect

// Partial GitHub data models: only the fields this service reads or writes.

// User is a GitHub user as embedded in event payloads.
type User struct {
	Login string `json:"login"`
}

// Repository is the repository an event refers to.
type Repository struct {
	Name  string `json:"name"`
	Owner User   `json:"owner"`
}

// RefCreationEvent is the payload of a "create" webhook event.
type RefCreationEvent struct {
	Ref          string     `json:"ref"`
	RefType      string     `json:"ref_type"` // "branch" or "tag"
	MasterBranch string     `json:"master_branch"`
	Repository   Repository `json:"repository"`
	Sender       User       `json:"sender"`
}

// ProtectionRequest is the body of a branch protection PUT. The GitHub API
// requires the nullable fields to be present, so none carry omitempty.
type ProtectionRequest struct {
	RequiredStatusChecks       *struct{}           `json:"required_status_checks"`
	EnforceAdmins              bool                `json:"enforce_admins"`
	RequiredPullRequestReviews *PullRequestReviews `json:"required_pull_request_reviews"`
	Restrictions               *struct{}           `json:"restrictions"`
}

// PullRequestReviews enables review requirements; the zero value means
// "at least one approving review" with no further constraints.
type PullRequestReviews struct{}

// IssueRequest is the body of an issue creation POST.
type IssueRequest struct {
	Title string `json:"title"`
	Body  string `json:"body"`
}

// IssueResponse is the part of the issue creation response we report.
type IssueResponse struct {
	HTMLURL string `json:"html_url"`
}
