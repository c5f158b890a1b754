// Package surface wraps a parsed document body behind the operations the
// engine needs: serialized get/set, selection introspection, and marker
// mutation. Nothing outside this package touches tree structure directly.
package surface

import (
	"errors"
	"fmt"
	"sort"
	"strconv"

	"quill/api/internal/markup"
)

// Position addresses an offset within a text node. Path holds child indices
// from the document root; Offset counts runes within the text node.
type Position struct {
	Path   []int
	Offset int
}

// Range is one contiguous selected span. A selection may carry several
// disjoint ranges (add-to-selection gestures).
type Range struct {
	Start Position
	End   Position
}

var ErrNoMarker = errors.New("surface: marker not found")

type Surface struct {
	doc *markup.Node
}

func New() *Surface {
	return &Surface{doc: &markup.Node{Kind: markup.KindDocument}}
}

// FromContent parses the given body and applies load-time normalization.
func FromContent(content string) (*Surface, error) {
	s := New()
	if err := s.SetSerializedContent(content); err != nil {
		return nil, err
	}
	return s, nil
}

// SetSerializedContent replaces the whole tree. Bare images are wrapped on
// the way in; the wrap is idempotent, so round-trips stay content-equal.
func (s *Surface) SetSerializedContent(content string) error {
	doc, err := markup.Parse(content)
	if err != nil {
		return fmt.Errorf("set content: %w", err)
	}
	markup.WrapBareImages(doc)
	s.doc = doc
	return nil
}

func (s *Surface) GetSerializedContent() string {
	return markup.Render(s.doc)
}

func (s *Surface) Document() *markup.Node {
	return s.doc
}

// WrapRangesInMarker wraps each range in a marker carrying the group id and
// an ordinal matching the range's position in the input slice. Ranges are
// processed in reverse document order so earlier insertions cannot shift
// later offsets; ordinals still reflect the original selection order.
// Ranges that cross incompatible structural boundaries are skipped. Returns
// how many markers were created.
func (s *Surface) WrapRangesInMarker(ranges []Range, groupID, role string) int {
	order := make([]int, len(ranges))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return comparePosition(ranges[order[a]].Start, ranges[order[b]].Start) > 0
	})

	created := 0
	for _, ordinal := range order {
		if s.wrapRange(ranges[ordinal], groupID, ordinal, role) {
			created++
		}
	}
	return created
}

func (s *Surface) wrapRange(r Range, groupID string, ordinal int, role string) bool {
	if len(r.Start.Path) == 0 || len(r.End.Path) == 0 {
		return false
	}
	startNode, ok := markup.NodeAt(s.doc, r.Start.Path)
	if !ok || startNode.Kind != markup.KindText {
		return false
	}
	endNode, ok := markup.NodeAt(s.doc, r.End.Path)
	if !ok || endNode.Kind != markup.KindText {
		return false
	}

	parentPath := r.Start.Path[:len(r.Start.Path)-1]
	if !samePath(parentPath, r.End.Path[:len(r.End.Path)-1]) {
		// Start and end live under different parents (for example a table
		// cell and its container). Skipped, not fatal.
		return false
	}
	parent, _ := markup.NodeAt(s.doc, parentPath)

	startIdx := r.Start.Path[len(r.Start.Path)-1]
	endIdx := r.End.Path[len(r.End.Path)-1]

	if startIdx == endIdx {
		return wrapWithinText(parent, startIdx, r.Start.Offset, r.End.Offset, groupID, ordinal, role)
	}
	if startIdx > endIdx {
		return false
	}
	return wrapAcrossSiblings(parent, startIdx, endIdx, r.Start.Offset, r.End.Offset, groupID, ordinal, role)
}

func wrapWithinText(parent *markup.Node, idx, startOff, endOff int, groupID string, ordinal int, role string) bool {
	text := []rune(parent.Children[idx].Text)
	if startOff < 0 || endOff > len(text) || startOff >= endOff {
		return false
	}

	marker := markup.NewMarker(groupID, ordinal, role)
	marker.Children = []*markup.Node{{Kind: markup.KindText, Text: string(text[startOff:endOff])}}

	replacement := make([]*markup.Node, 0, 3)
	if startOff > 0 {
		replacement = append(replacement, &markup.Node{Kind: markup.KindText, Text: string(text[:startOff])})
	}
	replacement = append(replacement, marker)
	if endOff < len(text) {
		replacement = append(replacement, &markup.Node{Kind: markup.KindText, Text: string(text[endOff:])})
	}

	splice(parent, idx, 1, replacement)
	return true
}

func wrapAcrossSiblings(parent *markup.Node, startIdx, endIdx, startOff, endOff int, groupID string, ordinal int, role string) bool {
	startText := []rune(parent.Children[startIdx].Text)
	endText := []rune(parent.Children[endIdx].Text)
	if startOff < 0 || startOff > len(startText) || endOff < 0 || endOff > len(endText) {
		return false
	}
	for _, mid := range parent.Children[startIdx+1 : endIdx] {
		if mid.IsBlock() {
			return false
		}
	}

	marker := markup.NewMarker(groupID, ordinal, role)
	if startOff < len(startText) {
		marker.Children = append(marker.Children, &markup.Node{Kind: markup.KindText, Text: string(startText[startOff:])})
	}
	marker.Children = append(marker.Children, parent.Children[startIdx+1:endIdx]...)
	if endOff > 0 {
		marker.Children = append(marker.Children, &markup.Node{Kind: markup.KindText, Text: string(endText[:endOff])})
	}

	replacement := make([]*markup.Node, 0, 3)
	if startOff > 0 {
		replacement = append(replacement, &markup.Node{Kind: markup.KindText, Text: string(startText[:startOff])})
	}
	replacement = append(replacement, marker)
	if endOff < len(endText) {
		replacement = append(replacement, &markup.Node{Kind: markup.KindText, Text: string(endText[endOff:])})
	}

	splice(parent, startIdx, endIdx-startIdx+1, replacement)
	return true
}

// UnwrapGroup removes every marker of a group, splicing its children back
// into the surrounding content. Returns how many markers were removed.
func (s *Surface) UnwrapGroup(groupID string) int {
	refs := markup.FindMarkers(s.doc, groupID)
	for i := len(refs) - 1; i >= 0; i-- {
		ref := refs[i]
		splice(ref.Parent, ref.Index, 1, ref.Node.Children)
	}
	return len(refs)
}

// ReplaceMarker swaps one marker's entire subtree for new content addressed
// by (group id, ordinal). The ordinal is the capture-time one, not the
// marker's position in the document.
func (s *Surface) ReplaceMarker(groupID string, ordinal int, replacement string) error {
	for _, ref := range markup.FindMarkers(s.doc, groupID) {
		if ref.Ordinal != ordinal {
			continue
		}
		parsed, err := markup.Parse(replacement)
		if err != nil {
			return fmt.Errorf("replace marker: %w", err)
		}
		splice(ref.Parent, ref.Index, 1, parsed.Children)
		return nil
	}
	return ErrNoMarker
}

// MarkerPath returns the index path of the marker with the given ordinal.
// Used to anchor the inline-edit affordance to the first captured region.
func (s *Surface) MarkerPath(groupID string, ordinal int) ([]int, bool) {
	var found []int
	var visit func(node *markup.Node, path []int) bool
	visit = func(node *markup.Node, path []int) bool {
		for i, child := range node.Children {
			childPath := append(append([]int(nil), path...), i)
			if child.Kind == markup.KindMarker &&
				child.Attr(markup.AttrMarkerGroup) == groupID &&
				child.Attr(markup.AttrMarkerOrdinal) == strconv.Itoa(ordinal) {
				found = childPath
				return true
			}
			if visit(child, childPath) {
				return true
			}
		}
		return false
	}
	if visit(s.doc, nil) {
		return found, true
	}
	return nil, false
}

func splice(parent *markup.Node, idx, removed int, replacement []*markup.Node) {
	children := make([]*markup.Node, 0, len(parent.Children)-removed+len(replacement))
	children = append(children, parent.Children[:idx]...)
	children = append(children, replacement...)
	children = append(children, parent.Children[idx+removed:]...)
	parent.Children = children
}

func comparePosition(a, b Position) int {
	for i := 0; i < len(a.Path) && i < len(b.Path); i++ {
		if a.Path[i] != b.Path[i] {
			if a.Path[i] < b.Path[i] {
				return -1
			}
			return 1
		}
	}
	if len(a.Path) != len(b.Path) {
		if len(a.Path) < len(b.Path) {
			return -1
		}
		return 1
	}
	if a.Offset != b.Offset {
		if a.Offset < b.Offset {
			return -1
		}
		return 1
	}
	return 0
}

func samePath(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
