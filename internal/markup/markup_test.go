package markup

import (
	"testing"
)

func TestParseRenderRoundTrip(t *testing.T) {
	cases := []string{
		`<p>hello world</p>`,
		`<h2>heading</h2><p>body</p>`,
		`<ul><li>one</li><li>two</li></ul>`,
		`<blockquote>quoted</blockquote>`,
		`<p>a &amp; b &lt;c&gt;</p>`,
		`<table><tr><td>cell</td></tr></table>`,
		`<span class="image-resizer"><img src="x.png"></span>`,
	}
	for _, input := range cases {
		doc, err := Parse(input)
		if err != nil {
			t.Fatalf("Parse(%q) failed: %v", input, err)
		}
		got := Render(doc)
		if got != input {
			t.Errorf("round trip changed content:\n in: %s\nout: %s", input, got)
		}
	}
}

func TestClassify(t *testing.T) {
	doc, err := Parse(`<p>x</p><h3>y</h3><span data-formula="E=mc^2">E</span><span data-region-group="g1" data-region-ordinal="0" data-region-role="comment-anchor">z</span>`)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	wantKinds := []Kind{KindParagraph, KindHeading, KindFormula, KindMarker}
	if len(doc.Children) != len(wantKinds) {
		t.Fatalf("expected %d children, got %d", len(wantKinds), len(doc.Children))
	}
	for i, want := range wantKinds {
		if doc.Children[i].Kind != want {
			t.Errorf("child %d: kind = %v, want %v", i, doc.Children[i].Kind, want)
		}
	}
}

func TestWrapBareImagesIsIdempotent(t *testing.T) {
	doc, err := Parse(`<p>before</p><img src="a.png"><span class="image-resizer"><img src="b.png"></span>`)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	WrapBareImages(doc)
	first := Render(doc)
	want := `<p>before</p><span class="image-resizer"><img src="a.png"></span><span class="image-resizer"><img src="b.png"></span>`
	if first != want {
		t.Fatalf("after wrap:\ngot:  %s\nwant: %s", first, want)
	}

	WrapBareImages(doc)
	if second := Render(doc); second != first {
		t.Errorf("second wrap changed content:\nfirst:  %s\nsecond: %s", first, second)
	}
}

func TestFindMarkersAndMaxOrdinal(t *testing.T) {
	doc, err := Parse(`<p><span data-region-group="g1" data-region-ordinal="1" data-region-role="ai-edit-group">b</span> mid <span data-region-group="g1" data-region-ordinal="0" data-region-role="ai-edit-group">a</span></p><p><span data-region-group="other" data-region-ordinal="0" data-region-role="comment-anchor">x</span></p>`)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	refs := FindMarkers(doc, "g1")
	if len(refs) != 2 {
		t.Fatalf("expected 2 markers, got %d", len(refs))
	}
	// Document order, not ordinal order.
	if refs[0].Ordinal != 1 || refs[1].Ordinal != 0 {
		t.Errorf("document-order ordinals = %d, %d; want 1, 0", refs[0].Ordinal, refs[1].Ordinal)
	}

	if got := MaxOrdinal(doc, "g1"); got != 1 {
		t.Errorf("MaxOrdinal = %d, want 1", got)
	}
	if got := MaxOrdinal(doc, "missing"); got != -1 {
		t.Errorf("MaxOrdinal for missing group = %d, want -1", got)
	}
}

func TestFindMarkersDoesNotDescendIntoMarkers(t *testing.T) {
	doc, err := Parse(`<p><span data-region-group="g1" data-region-ordinal="0" data-region-role="ai-edit-group">outer <em>styled</em></span></p>`)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	refs := FindMarkers(doc, "g1")
	if len(refs) != 1 {
		t.Fatalf("expected 1 marker, got %d", len(refs))
	}
	if got := PlainText(refs[0].Node); got != "outer styled" {
		t.Errorf("PlainText = %q, want %q", got, "outer styled")
	}
}

func TestPrecedingCaptionable(t *testing.T) {
	doc, err := Parse(`<p>intro</p><span class="image-resizer"><img src="a.png"></span><p>caption target here</p>`)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	// From inside the last paragraph, the nearest captionable block is the
	// wrapped image before it.
	found := PrecedingCaptionable(doc, []int{2, 0})
	if found == nil {
		t.Fatal("expected a captionable node, got nil")
	}
	if !found.HasClass(ResizeWrapperClass) {
		t.Errorf("found node is not the image wrapper: %+v", found)
	}

	if got := PrecedingCaptionable(doc, []int{0, 0}); got != nil {
		t.Errorf("expected nil before any captionable block, got %+v", got)
	}
}

func TestNodeAt(t *testing.T) {
	doc, err := Parse(`<p>one</p><p>two</p>`)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	node, ok := NodeAt(doc, []int{1, 0})
	if !ok || node.Kind != KindText || node.Text != "two" {
		t.Errorf("NodeAt([1 0]) = %+v, %v", node, ok)
	}
	if _, ok := NodeAt(doc, []int{5}); ok {
		t.Error("NodeAt out of range should fail")
	}
}
