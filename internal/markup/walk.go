package markup

import (
	"strconv"
	"strings"
)

// Walk visits every node depth-first. Returning false from fn stops the
// descent into that node's children.
func Walk(node *Node, fn func(*Node) bool) {
	if !fn(node) {
		return
	}
	for _, child := range node.Children {
		Walk(child, fn)
	}
}

// NodeAt resolves an index path (child indices from the document root).
func NodeAt(doc *Node, path []int) (*Node, bool) {
	node := doc
	for _, idx := range path {
		if idx < 0 || idx >= len(node.Children) {
			return nil, false
		}
		node = node.Children[idx]
	}
	return node, true
}

// MarkerRef locates one marker within its parent.
type MarkerRef struct {
	Node    *Node
	Parent  *Node
	Index   int
	Ordinal int
}

// FindMarkers returns every marker of a group in document order. Callers
// that need capture order must re-sort by Ordinal; DOM order is not stable
// under reverse-order insertion.
func FindMarkers(doc *Node, groupID string) []MarkerRef {
	var found []MarkerRef
	var visit func(parent *Node)
	visit = func(parent *Node) {
		for i, child := range parent.Children {
			if child.Kind == KindMarker && child.Attr(AttrMarkerGroup) == groupID {
				ordinal, _ := strconv.Atoi(child.Attr(AttrMarkerOrdinal))
				found = append(found, MarkerRef{Node: child, Parent: parent, Index: i, Ordinal: ordinal})
				continue
			}
			visit(child)
		}
	}
	visit(doc)
	return found
}

// MaxOrdinal returns the highest ordinal present for a group, or -1 when the
// group has no markers. New markers number from the existing max.
func MaxOrdinal(doc *Node, groupID string) int {
	max := -1
	for _, ref := range FindMarkers(doc, groupID) {
		if ref.Ordinal > max {
			max = ref.Ordinal
		}
	}
	return max
}

// PlainText flattens a subtree to its text content.
func PlainText(node *Node) string {
	var b strings.Builder
	Walk(node, func(n *Node) bool {
		if n.Kind == KindText {
			b.WriteString(n.Text)
		}
		return true
	})
	return b.String()
}

// PrecedingCaptionable finds the nearest captionable block before the node
// at path: first among preceding siblings, then among the ancestors'
// preceding siblings, innermost first.
func PrecedingCaptionable(doc *Node, path []int) *Node {
	for depth := len(path); depth > 0; depth-- {
		parent, ok := NodeAt(doc, path[:depth-1])
		if !ok {
			return nil
		}
		for i := path[depth-1] - 1; i >= 0; i-- {
			if found := lastCaptionable(parent.Children[i]); found != nil {
				return found
			}
		}
	}
	return nil
}

func lastCaptionable(node *Node) *Node {
	for i := len(node.Children) - 1; i >= 0; i-- {
		if found := lastCaptionable(node.Children[i]); found != nil {
			return found
		}
	}
	if node.IsCaptionable() {
		return node
	}
	return nil
}
