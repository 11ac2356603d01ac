package emails

import (
	"net/url"
	"strconv"
	"strings"
	"time"

	"issue-notifications/notifier/internal/issuechange"
	"issue-notifications/notifier/internal/notifications"
	"issue-notifications/notifier/internal/render"
	"issue-notifications/notifier/internal/stats"
)

var ruleTypeLabels = []struct {
	ruleType string
	label    string
}{
	{issuechange.RuleTypeBug, "Bug"},
	{issuechange.RuleTypeVulnerability, "Vulnerability"},
	{issuechange.RuleTypeCodeSmell, "Code Smell"},
}

type dimension struct {
	metric stats.Metric
	title  string
}

func (f *Formatter) formatNewIssues(n notifications.NewIssues) (EmailMessage, error) {
	count := n.Stats.IssueCount().OnCurrentAnalysis
	effort := FormatEffort(n.Stats.Effort().OnCurrentAnalysis)
	msg := EmailMessage{
		MessageID: "new-issues/" + n.Project.Key,
		Subject:   n.Project.DisplayText() + ": " + strconv.Itoa(count) + " new issues (new debt: " + effort + ")",
		Text:      strconv.Itoa(count) + " new issues on " + n.Project.DisplayText(),
	}
	dims := []dimension{
		{stats.MetricAssignee, "Assignees"},
		{stats.MetricRule, "Rules"},
		{stats.MetricTag, "Tags"},
		{stats.MetricComponent, "Most impacted files"},
	}
	msg.HTML = f.digestBody(n, "", dims, notifications.CategoryNewIssues)
	return msg, nil
}

func (f *Formatter) formatMyNewIssues(n notifications.MyNewIssues) (EmailMessage, error) {
	count := n.Stats.IssueCount().OnCurrentAnalysis
	msg := EmailMessage{
		MessageID: "my-new-issues/" + n.Project.Key,
		Subject:   "You have " + strconv.Itoa(count) + " new issues on project " + n.Project.DisplayText(),
		Text:      strconv.Itoa(count) + " new issues on " + n.Project.DisplayText(),
	}
	dims := []dimension{
		{stats.MetricRule, "Rules"},
		{stats.MetricTag, "Tags"},
		{stats.MetricComponent, "Most impacted files"},
	}
	msg.HTML = f.digestBody(n.NewIssues, n.Assignee.Login, dims, notifications.CategoryMyNewIssues)
	return msg, nil
}

func (f *Formatter) digestBody(n notifications.NewIssues, assignee string, dims []dimension, category string) string {
	doc := render.NewDocument()
	st := n.Stats
	count := st.IssueCount().OnCurrentAnalysis

	doc.Paragraph("Project: " + n.Project.DisplayText())
	if n.ProjectVersion != "" {
		doc.Paragraph("Version: " + n.ProjectVersion)
	}
	if !n.AnalysisDate.IsZero() {
		doc.Paragraph("Analysis date: " + n.AnalysisDate.UTC().Format(time.RFC3339))
	}
	summary := strconv.Itoa(count) + " new " + plural(count, "issue", "issues") +
		" (new debt: " + FormatEffort(st.Effort().OnCurrentAnalysis) + ")"
	doc.ParagraphHTML(render.Link(f.digestURL(n, assignee), summary))

	var types []string
	for _, rt := range ruleTypeLabels {
		ms, _ := st.Distribution(stats.MetricRuleType).ForLabel(rt.ruleType)
		types = append(types, render.Escape(rt.label+": "+strconv.Itoa(ms.OnCurrentAnalysis)))
	}
	doc.Paragraph("Type")
	doc.List(types)

	for _, d := range dims {
		top := st.Distribution(d.metric).TopNOnCurrentAnalysis(notifications.TopLabels)
		if len(top) == 0 {
			continue
		}
		items := make([]string, 0, len(top))
		for _, e := range top {
			items = append(items, render.Escape(n.Labels.Label(d.metric, e.Label)+": "+strconv.Itoa(e.Stats.OnCurrentAnalysis)))
		}
		doc.Paragraph(d.title)
		doc.List(items)
	}

	f.ctx.footer(doc, f.renderer, category)
	return doc.String()
}

func (f *Formatter) digestURL(n notifications.NewIssues, assignee string) string {
	var b strings.Builder
	b.WriteString(f.renderer.BaseURL())
	b.WriteString(render.IssuesPath)
	b.WriteString("?id=")
	b.WriteString(url.QueryEscape(n.Project.Key))
	if n.Project.HasBranch() {
		b.WriteString("&branch=")
		b.WriteString(url.QueryEscape(n.Project.Branch))
	}
	if assignee != "" {
		b.WriteString("&assignees=")
		b.WriteString(url.QueryEscape(assignee))
	}
	if !n.AnalysisDate.IsZero() {
		b.WriteString("&createdAt=")
		b.WriteString(url.QueryEscape(n.AnalysisDate.UTC().Format(time.RFC3339)))
	}
	return b.String()
}

const minutesPerDay = 8 * 60

// FormatEffort renders minutes as "1d 2h 5min" with an eight hour day.
func FormatEffort(minutes int64) string {
	if minutes <= 0 {
		return "0min"
	}
	days := minutes / minutesPerDay
	hours := (minutes % minutesPerDay) / 60
	mins := minutes % 60
	var parts []string
	if days > 0 {
		parts = append(parts, strconv.FormatInt(days, 10)+"d")
	}
	if hours > 0 {
		parts = append(parts, strconv.FormatInt(hours, 10)+"h")
	}
	if mins > 0 {
		parts = append(parts, strconv.FormatInt(mins, 10)+"min")
	}
	return strings.Join(parts, " ")
}
