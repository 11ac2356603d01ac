package routing

import "issue-notifications/notifier/internal/notifications"

// Metadata is the static description of a category. GlobalEnabled allows a
// user-wide subscription; ProjectEnabled allows per-project subscriptions.
type Metadata struct {
	DispatcherKey  string `json:"dispatcher_key"`
	GlobalEnabled  bool   `json:"global_enabled"`
	ProjectEnabled bool   `json:"project_enabled"`
	RequiredRole   string `json:"required_role"`
}

type RequiredRole string

const AllMustHaveRoleUser RequiredRole = "user"

var (
	ChangesOnMyIssueMetadata = Metadata{
		DispatcherKey:  notifications.CategoryChangesOnMyIssue,
		GlobalEnabled:  true,
		ProjectEnabled: true,
		RequiredRole:   string(AllMustHaveRoleUser),
	}
	NewFalsePositiveIssueMetadata = Metadata{
		DispatcherKey:  notifications.CategoryNewFalsePositiveIssue,
		GlobalEnabled:  false,
		ProjectEnabled: true,
		RequiredRole:   string(AllMustHaveRoleUser),
	}
	NewIssuesMetadata = Metadata{
		DispatcherKey:  notifications.CategoryNewIssues,
		GlobalEnabled:  false,
		ProjectEnabled: true,
		RequiredRole:   string(AllMustHaveRoleUser),
	}
	MyNewIssuesMetadata = Metadata{
		DispatcherKey:  notifications.CategoryMyNewIssues,
		GlobalEnabled:  true,
		ProjectEnabled: true,
		RequiredRole:   string(AllMustHaveRoleUser),
	}
)

func Categories() []Metadata {
	return []Metadata{
		ChangesOnMyIssueMetadata,
		NewFalsePositiveIssueMetadata,
		NewIssuesMetadata,
		MyNewIssuesMetadata,
	}
}

func MetadataFor(dispatcherKey string) (Metadata, bool) {
	for _, m := range Categories() {
		if m.DispatcherKey == dispatcherKey {
			return m, true
		}
	}
	return Metadata{}, false
}
