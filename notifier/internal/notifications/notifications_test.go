package notifications

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"issue-notifications/notifier/internal/issuechange"
	"issue-notifications/notifier/internal/stats"
)

func changed(t *testing.T, key string, status string, resolution string) issuechange.ChangedIssue {
	t.Helper()
	i, err := issuechange.NewChangedIssue(key, issuechange.ChangedIssueOptions{
		NewStatus:     status,
		NewResolution: resolution,
		Rule:          issuechange.NewRule("java", "S1", issuechange.RuleTypeBug, "R"),
		Project:       issuechange.Project{Key: "p", Name: "P"},
	})
	require.NoError(t, err)
	return i
}

func TestKindOf(t *testing.T) {
	cases := []struct {
		status     string
		resolution string
		want       string
		ok         bool
	}{
		{"RESOLVED", "FALSE-POSITIVE", "FP", true},
		{"RESOLVED", "WONTFIX", "ACCEPTED", true},
		{"ACCEPTED", "", "ACCEPTED", true},
		{"FALSE_POSITIVE", "", "FP", true},
		{"RESOLVED", "FIXED", "", false},
		{"OPEN", "", "", false},
	}
	for _, tc := range cases {
		kind, ok := KindOf(changed(t, "k", tc.status, tc.resolution))
		assert.Equal(t, tc.ok, ok, "%s/%s", tc.status, tc.resolution)
		assert.Equal(t, tc.want, kind.Name, "%s/%s", tc.status, tc.resolution)
	}
}

func TestKeysCollapseEqualContent(t *testing.T) {
	ts := time.UnixMilli(1000)
	change := issuechange.NewUserChange(ts, issuechange.User{Login: "bob"})
	a := changed(t, "a", "OPEN", "")
	b := changed(t, "b", "OPEN", "")

	first := NewChangesOnMyIssues(change, []issuechange.ChangedIssue{a, b})
	second := NewChangesOnMyIssues(change, []issuechange.ChangedIssue{b, a})
	assert.Equal(t, first.Key(), second.Key())
	assert.Equal(t, "a", first.Issues[0].Key)

	other := NewChangesOnMyIssues(issuechange.NewAnalysisChange(ts), []issuechange.ChangedIssue{a, b})
	assert.NotEqual(t, first.Key(), other.Key())

	fp := NewFPOrAccepted(change, []issuechange.ChangedIssue{a}, FalsePositive)
	acc := NewFPOrAccepted(change, []issuechange.ChangedIssue{a}, Accepted)
	assert.NotEqual(t, fp.Key(), acc.Key())
	assert.Equal(t, CategoryNewFalsePositiveIssue, fp.Category())
}

type fakeDetails struct {
	users map[string]issuechange.User
	err   error
}

func (f fakeDetails) Users(_ context.Context, uuids []string) (map[string]issuechange.User, error) {
	if f.err != nil {
		return nil, f.err
	}
	out := map[string]issuechange.User{}
	for _, u := range uuids {
		if user, ok := f.users[u]; ok {
			out[u] = user
		}
	}
	return out, nil
}

func (f fakeDetails) ComponentNames(_ context.Context, uuids []string) (map[string]string, error) {
	out := map[string]string{}
	for _, u := range uuids {
		out[u] = "src/" + u + ".go"
	}
	return out, nil
}

func (f fakeDetails) RuleLabels(_ context.Context, keys []string) (map[string]string, error) {
	out := map[string]string{}
	for _, k := range keys {
		out[k] = k + " (Go)"
	}
	return out, nil
}

func TestBuildDigests(t *testing.T) {
	all := stats.NewStatistics()
	require.NoError(t, all.Add(stats.Issue{IsNew: true, RuleType: "BUG", AssigneeUUID: "u1", ComponentUUID: "f1", RuleKey: "go:S1"}))
	require.NoError(t, all.Add(stats.Issue{IsNew: true, RuleType: "BUG", AssigneeUUID: "ghost"}))
	require.NoError(t, all.Add(stats.Issue{IsNew: false, RuleType: "BUG", AssigneeUUID: "u2"}))

	details := fakeDetails{users: map[string]issuechange.User{
		"u1": {UUID: "u1", Login: "alice", Name: "Alice"},
		"u2": {UUID: "u2", Login: "bob"},
	}}
	analysis := Analysis{Project: issuechange.Project{Key: "p", Name: "P"}, Date: time.UnixMilli(5)}

	digest, err := BuildNewIssues(context.Background(), details, analysis, all.Global())
	require.NoError(t, err)
	assert.Equal(t, "Alice", digest.Labels.Label(stats.MetricAssignee, "u1"))
	assert.Equal(t, "ghost", digest.Labels.Label(stats.MetricAssignee, "ghost"))
	assert.Equal(t, "src/f1.go", digest.Labels.Label(stats.MetricComponent, "f1"))
	assert.Equal(t, "go:S1 (Go)", digest.Labels.Label(stats.MetricRule, "go:S1"))

	mine, err := BuildMyNewIssues(context.Background(), details, analysis, all)
	require.NoError(t, err)
	require.Len(t, mine, 1, "ghost is unknown and bob has nothing new")
	assert.Equal(t, "alice", mine[0].Assignee.Login)
	assert.Equal(t, 1, mine[0].Stats.IssueCount().Total())
	assert.NotEqual(t, digest.Key(), mine[0].Key())
	assert.Equal(t, CategoryMyNewIssues, mine[0].Category())
}

func TestBuildMyNewIssuesPropagatesLookupErrors(t *testing.T) {
	all := stats.NewStatistics()
	require.NoError(t, all.Add(stats.Issue{IsNew: true, RuleType: "BUG", AssigneeUUID: "u1"}))
	boom := errors.New("db down")

	_, err := BuildMyNewIssues(context.Background(), fakeDetails{err: boom}, Analysis{}, all)
	assert.ErrorIs(t, err, boom)
}
