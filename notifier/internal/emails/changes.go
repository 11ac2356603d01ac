package emails

import (
	"sort"

	"issue-notifications/notifier/internal/issuechange"
	"issue-notifications/notifier/internal/notifications"
	"issue-notifications/notifier/internal/render"
	"issue-notifications/shared/workflow"
)

const changesOnMyIssuesMessageID = "changes-on-my-issues"

func (f *Formatter) formatChangesOnMyIssues(n notifications.ChangesOnMyIssues) (EmailMessage, error) {
	if len(n.Issues) == 0 {
		return EmailMessage{}, issuechange.ErrNoIssues
	}
	doc := render.NewDocument()
	count := len(n.Issues)
	msg := EmailMessage{}

	if n.Change.IsAnalysisChange() {
		first := firstProject(n.Issues)
		msg.MessageID = changesOnMyIssuesMessageID + "/" + first.Key
		msg.Subject = "Analysis has changed some of your issues in " + first.DisplayText()
		header(doc, "An analysis has updated "+plural(count, "an issue", "issues")+" assigned to you:")

		var closed, open []issuechange.ChangedIssue
		for _, i := range n.Issues {
			if workflow.IsClosed(i.NewStatus) {
				closed = append(closed, i)
			} else {
				open = append(open, i)
			}
		}
		if len(closed) > 0 {
			doc.Paragraph(plural(len(closed), "Closed issue:", "Closed issues:"))
			f.renderer.WriteRules(doc, closed)
		}
		if len(open) > 0 {
			doc.Paragraph(plural(len(open), "Open issue:", "Open issues:"))
			f.renderer.WriteRules(doc, open)
		}
	} else {
		msg.MessageID = changesOnMyIssuesMessageID
		msg.Subject = "A manual update has changed some of your issues"
		header(doc, "A manual change has updated "+plural(count, "an issue", "issues")+" assigned to you:")
		f.renderer.WriteByProject(doc, n.Issues)
	}

	f.ctx.footer(doc, f.renderer, notifications.CategoryChangesOnMyIssue)
	msg.HTML = doc.String()
	return msg, nil
}

func (f *Formatter) formatFPOrAccepted(n notifications.FPOrAccepted) (EmailMessage, error) {
	doc := render.NewDocument()
	msg := EmailMessage{
		MessageID: n.Kind.MessageID,
		Subject:   "Issues marked as " + n.Kind.Label,
	}
	if author, ok := n.Change.Author(); ok {
		msg.From = author.DisplayName()
	}
	header(doc, "A manual change has resolved "+plural(len(n.Issues), "an issue", "issues")+" as "+n.Kind.Label+":")
	f.renderer.WriteByProject(doc, n.Issues)
	f.ctx.footer(doc, f.renderer, notifications.CategoryNewFalsePositiveIssue)
	msg.HTML = doc.String()
	return msg, nil
}

func firstProject(issues []issuechange.ChangedIssue) issuechange.Project {
	projects := make([]issuechange.Project, 0, len(issues))
	for _, i := range issues {
		projects = append(projects, i.Project)
	}
	sort.SliceStable(projects, func(a, b int) bool { return issuechange.Compare(projects[a], projects[b]) < 0 })
	return projects[0]
}
