package markup

// WrapBareImages wraps every image that is not already inside a resize
// wrapper. Running it on an already-normalized tree changes nothing.
func WrapBareImages(doc *Node) {
	var visit func(parent *Node)
	visit = func(parent *Node) {
		wrapper := parent.Kind == KindElement && parent.HasClass(ResizeWrapperClass)
		for i, child := range parent.Children {
			if child.Kind == KindImage && !wrapper {
				span := &Node{Kind: KindElement, Tag: "span"}
				span.SetAttr("class", ResizeWrapperClass)
				span.Children = []*Node{child}
				parent.Children[i] = span
				continue
			}
			visit(child)
		}
	}
	visit(doc)
}
