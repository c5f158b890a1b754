// Package ai turns tracked text regions plus an instruction into generated
// replacements and splices them back into place.
package ai

import (
	"context"
	"fmt"
	"strings"
)

// Generator is the single call the engine needs from a generation service:
// given a prompt, return text. No provider contract beyond that.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// SegmentDelimiter separates segments in multi-region requests and
// responses. Chosen so it cannot plausibly appear in normal prose.
const SegmentDelimiter = "[---ĐOẠN---]"

// BuildPrompt assembles the generation request. With more than one segment
// the model is told to answer with the same number of segments separated by
// the delimiter sentinel.
func BuildPrompt(instruction string, segments []string) string {
	var b strings.Builder
	b.WriteString(instruction)
	b.WriteString("\n\n")

	if len(segments) == 1 {
		b.WriteString("Rewrite the following text. Return only the rewritten text, nothing else.\n\n")
		b.WriteString(segments[0])
		return b.String()
	}

	fmt.Fprintf(&b, "The input below contains %d segments separated by the delimiter %s. "+
		"Rewrite each segment and return exactly %d segments, in the same order, "+
		"separated by the same delimiter. Return nothing else.\n\n",
		len(segments), SegmentDelimiter, len(segments))
	b.WriteString(strings.Join(segments, "\n"+SegmentDelimiter+"\n"))
	return b.String()
}

// SplitResponse cuts the generated text back into segments. The delimiter is
// only honored when more than one segment was requested; a single-segment
// response is taken verbatim even if it happens to contain the sentinel.
func SplitResponse(response string, requested int) []string {
	if requested <= 1 {
		return []string{strings.TrimSpace(response)}
	}
	parts := strings.Split(response, SegmentDelimiter)
	segments := make([]string, 0, len(parts))
	for _, part := range parts {
		segments = append(segments, strings.TrimSpace(part))
	}
	return segments
}
