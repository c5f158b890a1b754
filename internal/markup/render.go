package markup

import "strings"

var voidTags = map[string]bool{
	"img": true, "br": true, "hr": true, "input": true, "col": true,
}

var textEscaper = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")
var attrEscaper = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;", `"`, "&quot;")

// Render serializes the tree back to markup. Feeding the output of Render
// into Parse yields an equivalent tree, so set-then-get on a surface is
// content-equal.
func Render(doc *Node) string {
	var b strings.Builder
	for _, child := range doc.Children {
		renderNode(&b, child)
	}
	return b.String()
}

func renderNode(b *strings.Builder, node *Node) {
	if node.Kind == KindText {
		b.WriteString(textEscaper.Replace(node.Text))
		return
	}

	b.WriteByte('<')
	b.WriteString(node.Tag)
	for _, a := range node.Attrs {
		b.WriteByte(' ')
		b.WriteString(a.Key)
		b.WriteString(`="`)
		b.WriteString(attrEscaper.Replace(a.Val))
		b.WriteByte('"')
	}
	b.WriteByte('>')

	if voidTags[node.Tag] {
		return
	}
	for _, child := range node.Children {
		renderNode(b, child)
	}
	b.WriteString("</")
	b.WriteString(node.Tag)
	b.WriteByte('>')
}
