package render

import (
	"sort"
	"strings"

	"issue-notifications/notifier/internal/issuechange"
)

type RuleGroup struct {
	Rule issuechange.Rule
	Keys []string
}

type ProjectGroup struct {
	Project issuechange.Project
	Rules   []RuleGroup
}

// GroupByProject orders projects by name then branch, and rules inside a project
// with plain issues before hotspots, each by case-insensitive name.
func GroupByProject(issues []issuechange.ChangedIssue) []ProjectGroup {
	byProject := make(map[issuechange.Project][]issuechange.ChangedIssue)
	projects := make([]issuechange.Project, 0)
	for _, issue := range issues {
		if _, ok := byProject[issue.Project]; !ok {
			projects = append(projects, issue.Project)
		}
		byProject[issue.Project] = append(byProject[issue.Project], issue)
	}
	sort.SliceStable(projects, func(i, j int) bool { return issuechange.Compare(projects[i], projects[j]) < 0 })

	groups := make([]ProjectGroup, 0, len(projects))
	for _, p := range projects {
		groups = append(groups, ProjectGroup{Project: p, Rules: GroupByRule(byProject[p])})
	}
	return groups
}

func GroupByRule(issues []issuechange.ChangedIssue) []RuleGroup {
	byRule := make(map[issuechange.Rule][]string)
	rules := make([]issuechange.Rule, 0)
	for _, issue := range issues {
		if _, ok := byRule[issue.Rule]; !ok {
			rules = append(rules, issue.Rule)
		}
		byRule[issue.Rule] = append(byRule[issue.Rule], issue.Key)
	}
	sort.SliceStable(rules, func(i, j int) bool { return lessRule(rules[i], rules[j]) })

	groups := make([]RuleGroup, 0, len(rules))
	for _, r := range rules {
		keys := byRule[r]
		sort.Strings(keys)
		groups = append(groups, RuleGroup{Rule: r, Keys: keys})
	}
	return groups
}

func lessRule(a issuechange.Rule, b issuechange.Rule) bool {
	if a.IsHotspot() != b.IsHotspot() {
		return !a.IsHotspot()
	}
	la, lb := strings.ToLower(a.Name), strings.ToLower(b.Name)
	if la != lb {
		return la < lb
	}
	if a.Name != b.Name {
		return a.Name < b.Name
	}
	return a.Key() < b.Key()
}
