package emails

import (
	"issue-notifications/notifier/internal/render"
)

const DefaultProductName = "SonarQube"

type EmailMessage struct {
	MessageID string `json:"message_id"`
	Subject   string `json:"subject"`
	HTML      string `json:"html"`
	Text string `json:"text,omitempty"`
	From string `json:"from,omitempty"`
	To   string `json:"to,omitempty"`
}

type RenderContext struct {
	ServerBaseURL    string
	ProductName      string
	MaxIssuesPerLink int
	Catalog          Catalog
}

func (c RenderContext) productName() string {
	if c.ProductName == "" {
		return DefaultProductName
	}
	return c.ProductName
}

func (c RenderContext) catalog() Catalog {
	if c.Catalog.names == nil {
		return DefaultCatalog()
	}
	return c.Catalog
}

func header(doc *render.Document, line string) {
	doc.Paragraph("Hi,")
	doc.Paragraph(line)
}

func (c RenderContext) footer(doc *render.Document, r render.Renderer, dispatcherKey string) {
	doc.EmptyParagraph()
	text := render.Escape(`You received this email because you are subscribed to "`+c.catalog().DisplayName(dispatcherKey)+
		`" notifications from `+c.productName()+". Click ") +
		render.Link(r.NotificationsURL(), "here") +
		render.Escape(" to edit your email preferences.")
	doc.ParagraphHTML(render.Small(text))
}

func plural(n int, singular string, pluralForm string) string {
	if n == 1 {
		return singular
	}
	return pluralForm
}
