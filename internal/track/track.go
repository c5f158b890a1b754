// Package track tags arbitrary, possibly non-contiguous text ranges with a
// stable group identifier. AI inline edits and comment anchors share this
// one mechanism.
package track

import (
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"

	"quill/api/internal/markup"
	"quill/api/internal/surface"
)

// EndMode selects how a group leaves the document.
type EndMode string

const (
	// EndUnwrap splices each marker's children back into plain content.
	EndUnwrap EndMode = "unwrap"
	// EndReplaceAll swaps markers for replacement content, positionally.
	// Markers without a matching replacement are unwrapped unchanged.
	EndReplaceAll EndMode = "replace-all"
)

// Group describes a capture result. FirstMarkerPath anchors any floating
// affordance to the first captured region.
type Group struct {
	ID              string
	MarkerCount     int
	FirstMarkerPath []int
}

type Tracker struct {
	surf *surface.Surface
}

func New(surf *surface.Surface) *Tracker {
	return &Tracker{surf: surf}
}

// BeginGroup wraps the given ranges under a fresh group id. Returns false
// when no range could be wrapped; callers must treat that as "nothing
// selected" and open no affordance.
func (t *Tracker) BeginGroup(ranges []surface.Range, role string) (Group, bool) {
	id := uuid.NewString()
	count := t.surf.WrapRangesInMarker(ranges, id, role)
	if count == 0 {
		return Group{}, false
	}

	group := Group{ID: id, MarkerCount: count}
	if refs := t.sortedMarkers(id); len(refs) > 0 {
		if path, ok := t.surf.MarkerPath(id, refs[0].Ordinal); ok {
			group.FirstMarkerPath = path
		}
	}
	return group, true
}

// AdoptGroup re-registers markers already present in loaded content (comment
// anchors survive persistence). Returns the number of markers found.
func (t *Tracker) AdoptGroup(groupID string) int {
	return len(markup.FindMarkers(t.surf.Document(), groupID))
}

// ResolveGroup returns the markers' texts sorted by capture-time ordinal,
// blank entries filtered. Document order is ignored on purpose: markers are
// inserted in reverse document order at capture, so only the stored ordinal
// reflects the selection order.
func (t *Tracker) ResolveGroup(groupID string) []string {
	var texts []string
	for _, ref := range t.sortedMarkers(groupID) {
		text := markup.PlainText(ref.Node)
		if strings.TrimSpace(text) == "" {
			continue
		}
		texts = append(texts, text)
	}
	return texts
}

// EndGroup consumes the group. Whatever the mode, no marker of the group
// remains in the document afterwards.
func (t *Tracker) EndGroup(groupID string, mode EndMode, replacements []string) error {
	switch mode {
	case EndUnwrap:
		t.surf.UnwrapGroup(groupID)
		return nil
	case EndReplaceAll:
		// Replacements pair with the same markers ResolveGroup reported, so
		// whitespace-only markers are skipped here with the same filter.
		next := 0
		for _, ref := range t.sortedMarkers(groupID) {
			if next >= len(replacements) {
				break
			}
			if strings.TrimSpace(markup.PlainText(ref.Node)) == "" {
				continue
			}
			if err := t.surf.ReplaceMarker(groupID, ref.Ordinal, replacements[next]); err != nil {
				return fmt.Errorf("end group %s: %w", groupID, err)
			}
			next++
		}
		// Markers beyond the replacement count keep their original text.
		t.surf.UnwrapGroup(groupID)
		return nil
	default:
		return fmt.Errorf("end group %s: unknown mode %q", groupID, mode)
	}
}

func (t *Tracker) sortedMarkers(groupID string) []markup.MarkerRef {
	refs := markup.FindMarkers(t.surf.Document(), groupID)
	sort.SliceStable(refs, func(a, b int) bool { return refs[a].Ordinal < refs[b].Ordinal })
	return refs
}
