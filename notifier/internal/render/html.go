package render

import (
	"html"
	"strings"
)

// Text passed to Paragraph and Item is escaped; *HTML variants are written as is.
type Document struct {
	b strings.Builder
}

func NewDocument() *Document {
	d := &Document{}
	d.b.WriteString("<html><body>")
	return d
}

func (d *Document) Paragraph(text string) {
	d.ParagraphHTML(html.EscapeString(text))
}

func (d *Document) ParagraphHTML(inner string) {
	d.b.WriteString("<p>")
	d.b.WriteString(inner)
	d.b.WriteString("</p>")
}

func (d *Document) EmptyParagraph() {
	d.b.WriteString("<p></p>")
}

// List writes one <ul>; items are already HTML.
func (d *Document) List(items []string) {
	if len(items) == 0 {
		return
	}
	d.b.WriteString("<ul>")
	for _, item := range items {
		d.b.WriteString("<li>")
		d.b.WriteString(item)
		d.b.WriteString("</li>")
	}
	d.b.WriteString("</ul>")
}

func (d *Document) String() string {
	return d.b.String() + "</body></html>"
}

func Link(href string, text string) string {
	return `<a href="` + html.EscapeString(href) + `">` + html.EscapeString(text) + "</a>"
}

func Small(inner string) string {
	return "<small>" + inner + "</small>"
}

func Escape(text string) string { return html.EscapeString(text) }
