package codec

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"issue-notifications/notifier/internal/issuechange"
)

func mustIssue(t *testing.T, key string, opts issuechange.ChangedIssueOptions) issuechange.ChangedIssue {
	t.Helper()
	issue, err := issuechange.NewChangedIssue(key, opts)
	require.NoError(t, err)
	return issue
}

func sampleAggregate(t *testing.T, change issuechange.Change) issuechange.Aggregate {
	t.Helper()
	assignee := issuechange.User{UUID: "u-2", Login: "carol"}
	issues := []issuechange.ChangedIssue{
		mustIssue(t, "K1", issuechange.ChangedIssueOptions{
			NewStatus:     "RESOLVED",
			NewResolution: "FALSE-POSITIVE",
			Assignee:      &assignee,
			Rule:          issuechange.NewRule("java", "S1", issuechange.RuleTypeBug, "Rule one"),
			Project:       issuechange.Project{UUID: "p-1", Key: "proj", Name: "Project"},
		}),
		mustIssue(t, "K2", issuechange.ChangedIssueOptions{
			NewStatus: "OPEN",
			Rule:      issuechange.NewRule("external_eslint", "no-var", "", "No var"),
			Project:   issuechange.Project{UUID: "p-1", Key: "proj", Name: "Project", Branch: "feature/x"},
		}),
	}
	agg, err := issuechange.NewAggregate(&change, issues)
	require.NoError(t, err)
	return agg
}

func TestRoundTrip(t *testing.T) {
	ts := time.Date(2024, 3, 5, 10, 11, 12, 987654321, time.UTC)
	cases := map[string]issuechange.Change{
		"analysis":           issuechange.NewAnalysisChange(ts),
		"user":               issuechange.NewUserChange(ts, issuechange.User{UUID: "u-1", Login: "bob", Name: "Bob"}),
		"user_without_name":  issuechange.NewUserChange(ts, issuechange.User{UUID: "u-1", Login: "bob"}),
		"user_without_uuids": issuechange.NewUserChange(ts, issuechange.User{Login: "bob"}),
	}
	for name, change := range cases {
		t.Run(name, func(t *testing.T) {
			agg := sampleAggregate(t, change)
			decoded, err := Decode(Encode(agg))
			require.NoError(t, err)
			assert.True(t, agg.Equal(decoded), "round trip changed the aggregate")
		})
	}
}

func TestRoundTripIssueShapes(t *testing.T) {
	rule := issuechange.NewRule("java", "S1", issuechange.RuleTypeBug, "Rule one")
	proj := issuechange.Project{UUID: "p-1", Key: "proj", Name: "Project"}
	cases := map[string]issuechange.ChangedIssueOptions{
		"custom status": {NewStatus: "foo", Rule: rule, Project: proj},
		"old status": {
			OldStatus: "OPEN", NewStatus: "FALSE_POSITIVE", NewResolution: "FALSE-POSITIVE", Rule: rule, Project: proj,
		},
		"assignee login only": {NewStatus: "OPEN", Assignee: &issuechange.User{Login: "ann"}, Rule: rule, Project: proj},
		"assignee full": {
			NewStatus: "OPEN", Assignee: &issuechange.User{UUID: "u1", Login: "ann", Name: "Ann"}, Rule: rule, Project: proj,
		},
		"rule without type": {NewStatus: "OPEN", Rule: issuechange.NewRule("js", "no-var", "", ""), Project: proj},
		"rule id only":      {NewStatus: "OPEN", Rule: issuechange.NewRule("", "S9", "", ""), Project: proj},
		"branch only project": {
			NewStatus: "OPEN", Rule: rule, Project: issuechange.Project{Key: "proj", Branch: "feature/y"},
		},
	}
	for name, opts := range cases {
		t.Run(name, func(t *testing.T) {
			change := issuechange.NewAnalysisChange(time.UnixMilli(99))
			agg, err := issuechange.NewAggregate(&change, []issuechange.ChangedIssue{mustIssue(t, "K", opts)})
			require.NoError(t, err)

			props := Encode(agg)
			for k, v := range props {
				assert.NotEmpty(t, v, "key %s encoded as empty string", k)
			}
			decoded, err := Decode(props)
			require.NoError(t, err)
			assert.True(t, agg.Equal(decoded), "round trip changed the aggregate")
		})
	}
}

func TestEncodeCarriesOldStatus(t *testing.T) {
	change := issuechange.NewAnalysisChange(time.UnixMilli(1))
	issue := mustIssue(t, "K", issuechange.ChangedIssueOptions{
		OldStatus: "OPEN",
		NewStatus: "ACCEPTED",
		Rule:      issuechange.NewRule("java", "S1", "", ""),
		Project:   issuechange.Project{Key: "proj"},
	})
	agg, err := issuechange.NewAggregate(&change, []issuechange.ChangedIssue{issue})
	require.NoError(t, err)

	props := Encode(agg)
	assert.Equal(t, "OPEN", props["issues.0.oldStatus"])
	assert.Equal(t, "ACCEPTED", props["issues.0.newStatus"])
	assert.NotContains(t, props, "issues.0.rule.type")
	assert.NotContains(t, props, "issues.0.rule.name")
	assert.NotContains(t, props, "issues.0.project.uuid")
	assert.NotContains(t, props, "issues.0.project.name")

	delete(props, "issues.0.oldStatus")
	decoded, err := Decode(props)
	require.NoError(t, err)
	assert.False(t, agg.Equal(decoded), "old status must take part in equality")
	assert.Empty(t, decoded.Issues()[0].OldStatus)
}

func TestEncodeOmitsAbsentOptionalFields(t *testing.T) {
	agg := sampleAggregate(t, issuechange.NewAnalysisChange(time.UnixMilli(42)))
	props := Encode(agg)

	assert.Equal(t, "42", props["change.date"])
	assert.NotContains(t, props, "change.author.login")
	assert.NotContains(t, props, "change.author.uuid")

	assert.Equal(t, "carol", props["issues.0.assignee.login"])
	assert.NotContains(t, props, "issues.0.assignee.name")
	assert.Equal(t, "FALSE-POSITIVE", props["issues.0.newResolution"])
	assert.NotContains(t, props, "issues.0.project.branch")

	assert.NotContains(t, props, "issues.1.assignee.login")
	assert.NotContains(t, props, "issues.1.oldStatus")
	assert.NotContains(t, props, "issues.1.newResolution")
	assert.NotContains(t, props, "issues.1.rule.type")
	assert.Equal(t, "feature/x", props["issues.1.project.branch"])

	for k, v := range props {
		assert.NotEmpty(t, v, "key %s encoded as empty string", k)
	}
}

func TestDecodeMalformed(t *testing.T) {
	valid := Encode(sampleAggregate(t, issuechange.NewAnalysisChange(time.UnixMilli(1))))
	mutate := func(f func(Properties)) Properties {
		out := Properties{}
		for k, v := range valid {
			out[k] = v
		}
		f(out)
		return out
	}
	cases := map[string]Properties{
		"wrong type":         mutate(func(p Properties) { p["type"] = "new-issues" }),
		"missing date":       mutate(func(p Properties) { delete(p, "change.date") }),
		"bad date":           mutate(func(p Properties) { p["change.date"] = "yesterday" }),
		"author no login":    mutate(func(p Properties) { p["change.author.uuid"] = "u" }),
		"no issues":          mutate(func(p Properties) { deleteIssues(p) }),
		"index gap":          mutate(func(p Properties) { p["issues.5.key"] = "X" }),
		"bad index":          mutate(func(p Properties) { p["issues.x.key"] = "X" }),
		"missing key":        mutate(func(p Properties) { delete(p, "issues.1.key") }),
		"missing project":    mutate(func(p Properties) { delete(p, "issues.1.project.key") }),
		"missing status":     mutate(func(p Properties) { delete(p, "issues.0.newStatus") }),
		"assignee no login":  mutate(func(p Properties) { p["issues.1.assignee.uuid"] = "u" }),
		"assignee name only": mutate(func(p Properties) { p["issues.1.assignee.name"] = "Ann" }),
	}
	for name, props := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Decode(props)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrMalformed)
		})
	}
}

func TestPropertiesCodecImplementsCodec(t *testing.T) {
	var c Codec = PropertiesCodec{}
	agg := sampleAggregate(t, issuechange.NewAnalysisChange(time.UnixMilli(7)))
	decoded, err := c.Decode(c.Encode(agg))
	require.NoError(t, err)
	assert.True(t, agg.Equal(decoded))
}

func deleteIssues(p Properties) {
	for k := range p {
		if len(k) > len(issuesPrefix) && k[:len(issuesPrefix)] == issuesPrefix {
			delete(p, k)
		}
	}
}
