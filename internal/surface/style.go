package surface

import (
	"strings"

	"quill/api/internal/markup"
)

// Style describes the formatting in effect at a position, read from the
// enclosing block and the nearest styled ancestors. The toolbar uses this
// to reflect the caret's context.
type Style struct {
	Block      string
	Font       string
	FontSize   string
	LineHeight string
}

// StyleAt inspects the ancestors of the node at path.
func (s *Surface) StyleAt(path []int) Style {
	var style Style
	for depth := len(path); depth >= 0; depth-- {
		node, ok := markup.NodeAt(s.doc, path[:depth])
		if !ok {
			continue
		}
		if style.Block == "" && node.IsBlock() {
			style.Block = node.Tag
		}
		decls := parseStyleAttr(node.Attr("style"))
		if style.Font == "" {
			style.Font = decls["font-family"]
		}
		if style.FontSize == "" {
			style.FontSize = decls["font-size"]
		}
		if style.LineHeight == "" {
			style.LineHeight = decls["line-height"]
		}
	}
	return style
}

func parseStyleAttr(raw string) map[string]string {
	decls := map[string]string{}
	for _, part := range strings.Split(raw, ";") {
		key, val, ok := strings.Cut(part, ":")
		if !ok {
			continue
		}
		decls[strings.TrimSpace(key)] = strings.TrimSpace(val)
	}
	return decls
}
