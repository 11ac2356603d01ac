package notifications

import (
	"sort"
	"strconv"
	"strings"

	"issue-notifications/notifier/internal/issuechange"
	"issue-notifications/shared/workflow"
)

const (
	CategoryChangesOnMyIssue      = "ChangesOnMyIssue"
	CategoryNewFalsePositiveIssue = "NewFalsePositiveIssue"
	CategoryNewIssues             = "NewIssues"
	CategoryMyNewIssues           = "SQ-MyNewIssues"
)

// Notification is what one recipient is sent. Key identifies the logical
// content so equal notifications collapse in a delivery set.
type Notification interface {
	Category() string
	Key() string
}

type ChangesOnMyIssues struct {
	Change issuechange.Change
	Issues []issuechange.ChangedIssue
}

func NewChangesOnMyIssues(change issuechange.Change, issues []issuechange.ChangedIssue) ChangesOnMyIssues {
	return ChangesOnMyIssues{Change: change, Issues: sortedCopy(issues)}
}

func (ChangesOnMyIssues) Category() string { return CategoryChangesOnMyIssue }

func (n ChangesOnMyIssues) Key() string {
	return CategoryChangesOnMyIssue + "|" + changeKey(n.Change) + "|" + issueKeys(n.Issues)
}

type ResolutionKind struct {
	Name        string
	Label       string
	MessageID   string
	Resolutions []string
	Statuses    []string
}

var (
	FalsePositive = ResolutionKind{
		Name:        "FP",
		Label:       "False Positive",
		MessageID:   "fp-issue-changes",
		Resolutions: []string{workflow.ResolutionFalsePositive},
		Statuses:    []string{workflow.StatusFalsePositive},
	}
	Accepted = ResolutionKind{
		Name:        "ACCEPTED",
		Label:       "Accepted",
		MessageID:   "accepted-issue-changes",
		Resolutions: []string{workflow.ResolutionWontFix, workflow.ResolutionAccepted},
		Statuses:    []string{workflow.StatusAccepted},
	}
)

// ResolutionKinds lists kinds in the order their emails are produced.
func ResolutionKinds() []ResolutionKind {
	return []ResolutionKind{FalsePositive, Accepted}
}

func (k ResolutionKind) Matches(issue issuechange.ChangedIssue) bool {
	if issue.NewResolution != "" {
		for _, r := range k.Resolutions {
			if strings.EqualFold(issue.NewResolution, r) {
				return true
			}
		}
	}
	status := workflow.NormalizeStatus(issue.NewStatus)
	for _, s := range k.Statuses {
		if status == s {
			return true
		}
	}
	return false
}

func KindOf(issue issuechange.ChangedIssue) (ResolutionKind, bool) {
	for _, k := range ResolutionKinds() {
		if k.Matches(issue) {
			return k, true
		}
	}
	return ResolutionKind{}, false
}

type FPOrAccepted struct {
	Change issuechange.Change
	Issues []issuechange.ChangedIssue
	Kind   ResolutionKind
}

func NewFPOrAccepted(change issuechange.Change, issues []issuechange.ChangedIssue, kind ResolutionKind) FPOrAccepted {
	return FPOrAccepted{Change: change, Issues: sortedCopy(issues), Kind: kind}
}

func (FPOrAccepted) Category() string { return CategoryNewFalsePositiveIssue }

func (n FPOrAccepted) Key() string {
	return CategoryNewFalsePositiveIssue + "|" + n.Kind.Name + "|" + changeKey(n.Change) + "|" + issueKeys(n.Issues)
}

func changeKey(c issuechange.Change) string {
	ms := strconv.FormatInt(c.Timestamp().UnixMilli(), 10)
	if author, ok := c.Author(); ok {
		return "user:" + author.Login + ":" + ms
	}
	return "analysis:" + ms
}

func issueKeys(issues []issuechange.ChangedIssue) string {
	keys := make([]string, 0, len(issues))
	for _, i := range issues {
		keys = append(keys, i.Key+"@"+i.Project.Key+"/"+i.Project.Branch)
	}
	sort.Strings(keys)
	return strings.Join(keys, ",")
}

func sortedCopy(issues []issuechange.ChangedIssue) []issuechange.ChangedIssue {
	out := make([]issuechange.ChangedIssue, len(issues))
	copy(out, issues)
	sort.Slice(out, func(a, b int) bool { return out[a].Key < out[b].Key })
	return out
}
