package ai

import (
	"strings"
	"testing"
)

func TestBuildPromptSingleSegment(t *testing.T) {
	prompt := BuildPrompt("Make it formal", []string{"hey there"})
	if !strings.HasPrefix(prompt, "Make it formal\n\n") {
		t.Errorf("prompt missing instruction prefix: %q", prompt)
	}
	if strings.Contains(prompt, SegmentDelimiter) {
		t.Errorf("single-segment prompt must not mention the delimiter: %q", prompt)
	}
	if !strings.Contains(prompt, "hey there") {
		t.Errorf("prompt missing segment text: %q", prompt)
	}
}

func TestBuildPromptMultiSegment(t *testing.T) {
	prompt := BuildPrompt("Shorten", []string{"first", "second", "third"})
	if !strings.Contains(prompt, "3 segments") {
		t.Errorf("prompt missing segment count: %q", prompt)
	}
	if got := strings.Count(prompt, SegmentDelimiter); got != 3 {
		t.Errorf("delimiter count = %d, want 3 (1 in directive, 2 joining)", got)
	}
}

func TestSplitResponseMultiSegment(t *testing.T) {
	response := "one\n" + SegmentDelimiter + "\ntwo\n" + SegmentDelimiter + "\nthree"
	segments := SplitResponse(response, 3)
	want := []string{"one", "two", "three"}
	if len(segments) != len(want) {
		t.Fatalf("segments = %v, want %v", segments, want)
	}
	for i := range want {
		if segments[i] != want[i] {
			t.Errorf("segment %d = %q, want %q", i, segments[i], want[i])
		}
	}
}

func TestSplitResponseSingleSegmentIgnoresDelimiter(t *testing.T) {
	response := "text that contains " + SegmentDelimiter + " by accident"
	segments := SplitResponse(response, 1)
	if len(segments) != 1 {
		t.Fatalf("segments = %v, want a single entry", segments)
	}
	if segments[0] != response {
		t.Errorf("segment = %q, want the verbatim response", segments[0])
	}
}

func TestSplitResponseFewerThanRequested(t *testing.T) {
	segments := SplitResponse("only one came back", 3)
	if len(segments) != 1 {
		t.Errorf("segments = %v, want 1 entry", segments)
	}
}
