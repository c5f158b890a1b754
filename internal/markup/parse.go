package markup

import (
	"fmt"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// Parse builds the typed tree from a serialized body fragment.
func Parse(fragment string) (*Node, error) {
	context := &html.Node{Type: html.ElementNode, Data: "body", DataAtom: atom.Body}
	parsed, err := html.ParseFragment(strings.NewReader(fragment), context)
	if err != nil {
		return nil, fmt.Errorf("parse markup: %w", err)
	}

	doc := &Node{Kind: KindDocument}
	for _, raw := range parsed {
		if converted := convert(raw); converted != nil {
			doc.Children = append(doc.Children, converted)
		}
	}
	return doc, nil
}

func convert(raw *html.Node) *Node {
	switch raw.Type {
	case html.TextNode:
		return &Node{Kind: KindText, Text: raw.Data}
	case html.ElementNode:
		node := &Node{Tag: raw.Data}
		for _, a := range raw.Attr {
			node.Attrs = append(node.Attrs, Attr{Key: a.Key, Val: a.Val})
		}
		node.Kind = classify(node)
		for child := raw.FirstChild; child != nil; child = child.NextSibling {
			if converted := convert(child); converted != nil {
				node.Children = append(node.Children, converted)
			}
		}
		return node
	default:
		// Comments and doctypes are dropped; they never occur in editor output.
		return nil
	}
}

func classify(node *Node) Kind {
	switch node.Tag {
	case "p":
		return KindParagraph
	case "h1", "h2", "h3", "h4", "h5", "h6":
		return KindHeading
	case "blockquote":
		return KindBlockquote
	case "ul", "ol":
		return KindList
	case "li":
		return KindListItem
	case "table":
		return KindTable
	case "tr":
		return KindTableRow
	case "td", "th":
		return KindTableCell
	case "img":
		return KindImage
	case "figure":
		return KindFigure
	case "span":
		if node.Attr(AttrMarkerGroup) != "" {
			return KindMarker
		}
		if node.Attr("data-formula") != "" || node.HasClass("formula") {
			return KindFormula
		}
		return KindElement
	default:
		return KindElement
	}
}
