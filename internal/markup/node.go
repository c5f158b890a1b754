// Package markup models the serialized rich-text body as a typed tree.
// Region discovery and mutation work on explicit node kinds instead of
// string-matching raw markup.
package markup

import (
	"strconv"
	"strings"
)

type Kind int

const (
	KindDocument Kind = iota
	KindParagraph
	KindHeading
	KindBlockquote
	KindList
	KindListItem
	KindTable
	KindTableRow
	KindTableCell
	KindImage
	KindFigure
	KindFormula
	KindMarker
	KindText
	KindElement
)

// Marker attributes. A marker is an inert span tagging a text range with a
// group id and an ordinal assigned at capture time.
const (
	AttrMarkerGroup   = "data-region-group"
	AttrMarkerOrdinal = "data-region-ordinal"
	AttrMarkerRole    = "data-region-role"
)

// Roles a marker can carry.
const (
	RoleCommentAnchor = "comment-anchor"
	RoleAIEdit        = "ai-edit-group"
)

// ResizeWrapperClass marks the span that wraps every image so the editor can
// attach resize handles. Bare images are wrapped on load.
const ResizeWrapperClass = "image-resizer"

type Attr struct {
	Key string
	Val string
}

// Node is one node of the parsed document tree. Text nodes carry Text and no
// children; every other kind carries Tag, Attrs, and Children.
type Node struct {
	Kind     Kind
	Tag      string
	Attrs    []Attr
	Text     string
	Children []*Node
}

func (n *Node) Attr(key string) string {
	for _, a := range n.Attrs {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func (n *Node) SetAttr(key, val string) {
	for i, a := range n.Attrs {
		if a.Key == key {
			n.Attrs[i].Val = val
			return
		}
	}
	n.Attrs = append(n.Attrs, Attr{Key: key, Val: val})
}

func (n *Node) HasClass(class string) bool {
	for _, c := range strings.Fields(n.Attr("class")) {
		if c == class {
			return true
		}
	}
	return false
}

// IsBlock reports whether the node is a structural block that an inline
// marker must not swallow.
func (n *Node) IsBlock() bool {
	switch n.Kind {
	case KindParagraph, KindHeading, KindBlockquote, KindList, KindListItem,
		KindTable, KindTableRow, KindTableCell, KindFigure:
		return true
	}
	return false
}

// IsCaptionable reports whether a caption block may attach to this node.
func (n *Node) IsCaptionable() bool {
	switch n.Kind {
	case KindTable, KindImage, KindFigure, KindFormula:
		return true
	}
	if n.Kind == KindElement && n.HasClass(ResizeWrapperClass) {
		return true
	}
	return false
}

// NewMarker builds an empty marker span for the given group.
func NewMarker(groupID string, ordinal int, role string) *Node {
	marker := &Node{Kind: KindMarker, Tag: "span"}
	marker.SetAttr(AttrMarkerGroup, groupID)
	marker.SetAttr(AttrMarkerOrdinal, strconv.Itoa(ordinal))
	marker.SetAttr(AttrMarkerRole, role)
	return marker
}
