// Package rendertest parses rendered email bodies into blocks for assertions.
package rendertest

import (
	"strings"

	"golang.org/x/net/html"
)

type Link struct {
	Text string
	Href string
}

type Block struct {
	Tag   string
	Text  string
	Items []string
	Links []Link
	Small bool
}

func (b Block) IsParagraph() bool { return b.Tag == "p" }

func (b Block) IsList() bool { return b.Tag == "ul" }

func (b Block) LinkOn(text string) (string, bool) {
	for _, l := range b.Links {
		if l.Text == text {
			return l.Href, true
		}
	}
	return "", false
}

func Parse(body string) ([]Block, error) {
	root, err := html.Parse(strings.NewReader(body))
	if err != nil {
		return nil, err
	}
	bodyNode := find(root, "body")
	if bodyNode == nil {
		return nil, nil
	}
	var blocks []Block
	for n := bodyNode.FirstChild; n != nil; n = n.NextSibling {
		if n.Type != html.ElementNode {
			continue
		}
		b := Block{Tag: n.Data, Text: strings.TrimSpace(text(n))}
		collectLinks(n, &b.Links)
		b.Small = find(n, "small") != nil
		if n.Data == "ul" {
			for li := n.FirstChild; li != nil; li = li.NextSibling {
				if li.Type == html.ElementNode && li.Data == "li" {
					b.Items = append(b.Items, strings.TrimSpace(text(li)))
				}
			}
		}
		blocks = append(blocks, b)
	}
	return blocks, nil
}

func find(n *html.Node, tag string) *html.Node {
	if n.Type == html.ElementNode && n.Data == tag {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := find(c, tag); found != nil {
			return found
		}
	}
	return nil
}

func text(n *html.Node) string {
	if n.Type == html.TextNode {
		return n.Data
	}
	var b strings.Builder
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		b.WriteString(text(c))
	}
	return b.String()
}

func collectLinks(n *html.Node, out *[]Link) {
	if n.Type == html.ElementNode && n.Data == "a" {
		l := Link{Text: strings.TrimSpace(text(n))}
		for _, a := range n.Attr {
			if a.Key == "href" {
				l.Href = a.Val
			}
		}
		*out = append(*out, l)
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		collectLinks(c, out)
	}
}
