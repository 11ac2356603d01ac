package notifications

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"issue-notifications/notifier/internal/issuechange"
	"issue-notifications/notifier/internal/stats"
)

const TopLabels = 5

// DetailsSupplier resolves identifiers found in statistics into display text.
// Missing identifiers are left out of the returned maps.
type DetailsSupplier interface {
	Users(ctx context.Context, uuids []string) (map[string]issuechange.User, error)
	ComponentNames(ctx context.Context, uuids []string) (map[string]string, error)
	// RuleLabels returns "{name} ({language})" per rule key.
	RuleLabels(ctx context.Context, keys []string) (map[string]string, error)
}

type Labels map[stats.Metric]map[string]string

func (l Labels) Label(m stats.Metric, raw string) string {
	if byRaw, ok := l[m]; ok {
		if v, ok := byRaw[raw]; ok {
			return v
		}
	}
	return raw
}

type NewIssues struct {
	Project        issuechange.Project
	AnalysisDate   time.Time
	ProjectVersion string
	Stats          *stats.Stats
	Labels         Labels
}

func (NewIssues) Category() string { return CategoryNewIssues }

func (n NewIssues) Key() string {
	return CategoryNewIssues + "|" + n.digestKey()
}

func (n NewIssues) digestKey() string {
	return n.Project.Key + "/" + n.Project.Branch + "|" + strconv.FormatInt(n.AnalysisDate.UnixMilli(), 10)
}

type MyNewIssues struct {
	NewIssues
	Assignee issuechange.User
}

func (MyNewIssues) Category() string { return CategoryMyNewIssues }

func (n MyNewIssues) Key() string {
	return CategoryMyNewIssues + "|" + n.digestKey() + "|" + n.Assignee.Login
}

type Analysis struct {
	Project        issuechange.Project
	Date           time.Time
	ProjectVersion string
}

func BuildNewIssues(ctx context.Context, details DetailsSupplier, analysis Analysis, st *stats.Stats) (NewIssues, error) {
	labels, err := resolveLabels(ctx, details, st)
	if err != nil {
		return NewIssues{}, err
	}
	return NewIssues{
		Project:        analysis.Project,
		AnalysisDate:   analysis.Date,
		ProjectVersion: analysis.ProjectVersion,
		Stats:          st,
		Labels:         labels,
	}, nil
}

// BuildMyNewIssues builds one digest per assignee with new issues. Assignees
// unknown to the supplier are skipped since they cannot be reached.
func BuildMyNewIssues(ctx context.Context, details DetailsSupplier, analysis Analysis, all *stats.Statistics) ([]MyNewIssues, error) {
	uuids := all.AssigneeUUIDs()
	if len(uuids) == 0 {
		return nil, nil
	}
	users, err := details.Users(ctx, uuids)
	if err != nil {
		return nil, fmt.Errorf("resolve assignees: %w", err)
	}
	out := make([]MyNewIssues, 0, len(uuids))
	for _, uuid := range uuids {
		st := all.Assignee(uuid)
		if st == nil || !st.HasIssuesOnCurrentAnalysis() {
			continue
		}
		user, ok := users[uuid]
		if !ok || user.Login == "" {
			continue
		}
		n, err := BuildNewIssues(ctx, details, analysis, st)
		if err != nil {
			return nil, err
		}
		out = append(out, MyNewIssues{NewIssues: n, Assignee: user})
	}
	return out, nil
}

func resolveLabels(ctx context.Context, details DetailsSupplier, st *stats.Stats) (Labels, error) {
	labels := Labels{}
	top := func(m stats.Metric) []string {
		entries := st.Distribution(m).TopNOnCurrentAnalysis(TopLabels)
		raw := make([]string, 0, len(entries))
		for _, e := range entries {
			raw = append(raw, e.Label)
		}
		return raw
	}

	if raw := top(stats.MetricAssignee); len(raw) > 0 {
		users, err := details.Users(ctx, raw)
		if err != nil {
			return nil, fmt.Errorf("resolve users: %w", err)
		}
		names := make(map[string]string, len(users))
		for uuid, u := range users {
			names[uuid] = u.DisplayName()
		}
		labels[stats.MetricAssignee] = names
	}
	if raw := top(stats.MetricComponent); len(raw) > 0 {
		names, err := details.ComponentNames(ctx, raw)
		if err != nil {
			return nil, fmt.Errorf("resolve components: %w", err)
		}
		labels[stats.MetricComponent] = names
	}
	if raw := top(stats.MetricRule); len(raw) > 0 {
		names, err := details.RuleLabels(ctx, raw)
		if err != nil {
			return nil, fmt.Errorf("resolve rules: %w", err)
		}
		labels[stats.MetricRule] = names
	}
	return labels, nil
}
