package issuechange

import (
	"errors"
	"sort"
)

var (
	ErrNoIssues = errors.New("changedIssues can't be empty")
	ErrNoChange = errors.New("change is required")
)

type Aggregate struct {
	change Change
	issues []ChangedIssue
}

// NewAggregate keeps one issue per key, the last one given wins.
func NewAggregate(change *Change, issues []ChangedIssue) (Aggregate, error) {
	if change == nil {
		return Aggregate{}, ErrNoChange
	}
	if len(issues) == 0 {
		return Aggregate{}, ErrNoIssues
	}
	byKey := make(map[string]ChangedIssue, len(issues))
	for _, issue := range issues {
		byKey[issue.Key] = issue
	}
	unique := make([]ChangedIssue, 0, len(byKey))
	for _, issue := range byKey {
		unique = append(unique, issue)
	}
	sort.Slice(unique, func(a, b int) bool { return unique[a].Key < unique[b].Key })
	return Aggregate{change: *change, issues: unique}, nil
}

func (a Aggregate) Change() Change { return a.change }

func (a Aggregate) Issues() []ChangedIssue {
	out := make([]ChangedIssue, len(a.issues))
	copy(out, a.issues)
	return out
}

func (a Aggregate) Len() int { return len(a.issues) }

func (a Aggregate) ProjectKeys() []string {
	seen := make(map[string]bool)
	keys := make([]string, 0, 1)
	for _, issue := range a.issues {
		if seen[issue.Project.Key] {
			continue
		}
		seen[issue.Project.Key] = true
		keys = append(keys, issue.Project.Key)
	}
	sort.Strings(keys)
	return keys
}

func (a Aggregate) Equal(other Aggregate) bool {
	if !a.change.Equal(other.change) || len(a.issues) != len(other.issues) {
		return false
	}
	for i := range a.issues {
		if !a.issues[i].Equal(other.issues[i]) {
			return false
		}
	}
	return true
}
