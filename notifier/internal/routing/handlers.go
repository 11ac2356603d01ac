package routing

import (
	"sort"

	"issue-notifications/notifier/internal/issuechange"
	"issue-notifications/notifier/internal/notifications"
)

func ChangesOnMyIssuePolicy() Policy[issuechange.Aggregate] {
	return Policy[issuechange.Aggregate]{
		Metadata: ChangesOnMyIssueMetadata,
		Role:     AllMustHaveRoleUser,
		Qualify: func(agg issuechange.Aggregate) (issuechange.Aggregate, bool) {
			change := agg.Change()
			return filterIssues(agg, func(i issuechange.ChangedIssue) bool {
				login, ok := i.AssigneeLogin()
				return ok && !change.IsAuthorLogin(login)
			})
		},
		Projects: func(agg issuechange.Aggregate) []string { return agg.ProjectKeys() },
		Candidates: func(aggs []issuechange.Aggregate, projectKey string) []string {
			seen := make(map[string]bool)
			logins := make([]string, 0)
			for _, agg := range aggs {
				for _, i := range agg.Issues() {
					login, ok := i.AssigneeLogin()
					if !ok || i.Project.Key != projectKey || seen[login] {
						continue
					}
					seen[login] = true
					logins = append(logins, login)
				}
			}
			sort.Strings(logins)
			return logins
		},
		Excludes: func(agg issuechange.Aggregate, login string) bool { return agg.Change().IsAuthorLogin(login) },
		FanOut: func(agg issuechange.Aggregate, r Recipient, projects map[string]bool) []notifications.Notification {
			var mine []issuechange.ChangedIssue
			for _, i := range agg.Issues() {
				login, ok := i.AssigneeLogin()
				if ok && login == r.Login && projects[i.Project.Key] {
					mine = append(mine, i)
				}
			}
			if len(mine) == 0 {
				return nil
			}
			return []notifications.Notification{notifications.NewChangesOnMyIssues(agg.Change(), mine)}
		},
	}
}

func FPOrAcceptedPolicy() Policy[issuechange.Aggregate] {
	return Policy[issuechange.Aggregate]{
		Metadata: NewFalsePositiveIssueMetadata,
		Role:     AllMustHaveRoleUser,
		Qualify: func(agg issuechange.Aggregate) (issuechange.Aggregate, bool) {
			return filterIssues(agg, func(i issuechange.ChangedIssue) bool {
				if i.Rule.IsHotspot() || !i.StatusChanged() {
					return false
				}
				_, ok := notifications.KindOf(i)
				return ok
			})
		},
		Projects: func(agg issuechange.Aggregate) []string { return agg.ProjectKeys() },
		Excludes: func(agg issuechange.Aggregate, login string) bool { return agg.Change().IsAuthorLogin(login) },
		FanOut: func(agg issuechange.Aggregate, _ Recipient, projects map[string]bool) []notifications.Notification {
			byKind := make(map[string][]issuechange.ChangedIssue)
			for _, i := range agg.Issues() {
				if !projects[i.Project.Key] {
					continue
				}
				if kind, ok := notifications.KindOf(i); ok {
					byKind[kind.Name] = append(byKind[kind.Name], i)
				}
			}
			var out []notifications.Notification
			for _, kind := range notifications.ResolutionKinds() {
				if issues := byKind[kind.Name]; len(issues) > 0 {
					out = append(out, notifications.NewFPOrAccepted(agg.Change(), issues, kind))
				}
			}
			return out
		},
	}
}

func NewIssuesPolicy() Policy[notifications.NewIssues] {
	return Policy[notifications.NewIssues]{
		Metadata: NewIssuesMetadata,
		Role:     AllMustHaveRoleUser,
		Qualify: func(n notifications.NewIssues) (notifications.NewIssues, bool) {
			return n, n.Project.Key != "" && n.Stats != nil && n.Stats.HasIssuesOnCurrentAnalysis()
		},
		Projects: func(n notifications.NewIssues) []string { return []string{n.Project.Key} },
		FanOut: func(n notifications.NewIssues, _ Recipient, projects map[string]bool) []notifications.Notification {
			if !projects[n.Project.Key] {
				return nil
			}
			return []notifications.Notification{n}
		},
	}
}

func MyNewIssuesPolicy() Policy[notifications.MyNewIssues] {
	return Policy[notifications.MyNewIssues]{
		Metadata: MyNewIssuesMetadata,
		Role:     AllMustHaveRoleUser,
		Qualify: func(n notifications.MyNewIssues) (notifications.MyNewIssues, bool) {
			ok := n.Project.Key != "" && n.Assignee.Login != "" && n.Stats != nil && n.Stats.HasIssuesOnCurrentAnalysis()
			return n, ok
		},
		Projects: func(n notifications.MyNewIssues) []string { return []string{n.Project.Key} },
		Candidates: func(items []notifications.MyNewIssues, _ string) []string {
			seen := make(map[string]bool)
			logins := make([]string, 0, len(items))
			for _, n := range items {
				if !seen[n.Assignee.Login] {
					seen[n.Assignee.Login] = true
					logins = append(logins, n.Assignee.Login)
				}
			}
			sort.Strings(logins)
			return logins
		},
		FanOut: func(n notifications.MyNewIssues, r Recipient, projects map[string]bool) []notifications.Notification {
			if r.Login != n.Assignee.Login || !projects[n.Project.Key] {
				return nil
			}
			return []notifications.Notification{n}
		},
	}
}

func filterIssues(agg issuechange.Aggregate, keep func(issuechange.ChangedIssue) bool) (issuechange.Aggregate, bool) {
	var kept []issuechange.ChangedIssue
	for _, i := range agg.Issues() {
		if keep(i) {
			kept = append(kept, i)
		}
	}
	if len(kept) == 0 {
		return issuechange.Aggregate{}, false
	}
	if len(kept) == agg.Len() {
		return agg, true
	}
	change := agg.Change()
	filtered, err := issuechange.NewAggregate(&change, kept)
	if err != nil {
		return issuechange.Aggregate{}, false
	}
	return filtered, true
}
