package render

import (
	"net/url"
	"strconv"
	"strings"

	"issue-notifications/notifier/internal/issuechange"
)

const DefaultMaxIssuesPerLink = 40

// IssuesPath is the search page for both issues and hotspots.
const IssuesPath = "/project/issues"

type Noun struct {
	Singular string
	Plural   string
}

var (
	NounIssue   = Noun{Singular: "issue", Plural: "issues"}
	NounHotspot = Noun{Singular: "hotspot", Plural: "hotspots"}
)

func NounFor(rule issuechange.Rule) Noun {
	if rule.IsHotspot() {
		return NounHotspot
	}
	return NounIssue
}

type Chunk struct {
	Label string
	Href  string
	Keys  []string
}

type Renderer struct {
	baseURL    string
	maxPerLink int
}

func NewRenderer(baseURL string, maxPerLink int) Renderer {
	if maxPerLink <= 0 {
		maxPerLink = DefaultMaxIssuesPerLink
	}
	return Renderer{baseURL: strings.TrimRight(baseURL, "/"), maxPerLink: maxPerLink}
}

func (r Renderer) BaseURL() string { return r.baseURL }

// Chunks splits sorted keys into links of at most maxPerLink keys each.
// A trailing chunk holding a single key is labelled by its position and opens that key.
func (r Renderer) Chunks(project issuechange.Project, keys []string) []Chunk {
	if len(keys) == 0 {
		return nil
	}
	if len(keys) == 1 {
		return []Chunk{{Label: "1", Href: r.href(project, keys, keys[0]), Keys: keys}}
	}
	chunks := make([]Chunk, 0, (len(keys)+r.maxPerLink-1)/r.maxPerLink)
	for start := 0; start < len(keys); start += r.maxPerLink {
		end := start + r.maxPerLink
		if end > len(keys) {
			end = len(keys)
		}
		part := keys[start:end]
		if len(part) == 1 {
			chunks = append(chunks, Chunk{
				Label: strconv.Itoa(start + 1),
				Href:  r.href(project, part, part[0]),
				Keys:  part,
			})
			continue
		}
		chunks = append(chunks, Chunk{
			Label: strconv.Itoa(start+1) + "-" + strconv.Itoa(end),
			Href:  r.href(project, part, ""),
			Keys:  part,
		})
	}
	return chunks
}

func (r Renderer) RuleItem(project issuechange.Project, group RuleGroup) string {
	noun := NounFor(group.Rule)
	prefix := "Rule " + Escape(group.Rule.Name) + " - "
	chunks := r.Chunks(project, group.Keys)
	switch {
	case len(group.Keys) == 1:
		return prefix + Link(chunks[0].Href, "See the single "+noun.Singular)
	case len(chunks) == 1:
		return prefix + Link(chunks[0].Href, "See all "+strconv.Itoa(len(group.Keys))+" "+noun.Plural)
	}
	links := make([]string, 0, len(chunks))
	for _, c := range chunks {
		links = append(links, Link(c.Href, c.Label))
	}
	return prefix + "See " + noun.Plural + " " + strings.Join(links, " ")
}

func (r Renderer) RuleItems(group ProjectGroup) []string {
	items := make([]string, 0, len(group.Rules))
	for _, rg := range group.Rules {
		items = append(items, r.RuleItem(group.Project, rg))
	}
	return items
}

func (r Renderer) WriteByProject(doc *Document, issues []issuechange.ChangedIssue) {
	for _, group := range GroupByProject(issues) {
		doc.Paragraph(group.Project.DisplayText())
		doc.List(r.RuleItems(group))
	}
}

func (r Renderer) WriteRules(doc *Document, issues []issuechange.ChangedIssue) {
	var items []string
	for _, group := range GroupByProject(issues) {
		items = append(items, r.RuleItems(group)...)
	}
	doc.List(items)
}

func (r Renderer) href(project issuechange.Project, keys []string, open string) string {
	var b strings.Builder
	b.WriteString(r.baseURL)
	b.WriteString(IssuesPath)
	b.WriteString("?id=")
	b.WriteString(url.QueryEscape(project.Key))
	if project.HasBranch() {
		b.WriteString("&branch=")
		b.WriteString(url.QueryEscape(project.Branch))
	}
	b.WriteString("&issues=")
	for i, k := range keys {
		if i > 0 {
			b.WriteString("%2C")
		}
		b.WriteString(url.QueryEscape(k))
	}
	if open != "" {
		b.WriteString("&open=")
		b.WriteString(url.QueryEscape(open))
	}
	return b.String()
}

func (r Renderer) ProjectURL(project issuechange.Project) string {
	u := r.baseURL + "/dashboard?id=" + url.QueryEscape(project.Key)
	if project.HasBranch() {
		u += "&branch=" + url.QueryEscape(project.Branch)
	}
	return u
}

func (r Renderer) NotificationsURL() string {
	return r.baseURL + "/account/notifications"
}
