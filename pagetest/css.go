package pagetest

import (
	"strings"

	"golang.org/x/net/html"
)

// The fake page speaks the same CSS subset the production engines rely on:
//   - tag: "article", "div"
//   - .class, #id, tag.class, tag#id
//   - tag[attr], tag[attr=val]
//   - descendant combinator (space-separated parts)

type simpleSelector struct {
	tag     string
	id      string
	class   string
	attrKey string
	attrVal string
}

// parseSimpleSelector parses "tag.class", "#id", "tag[attr=val]", etc.
func parseSimpleSelector(sel string) simpleSelector {
	var s simpleSelector

	if idx := strings.IndexByte(sel, '['); idx >= 0 {
		attrPart := strings.TrimRight(sel[idx+1:], "]")
		sel = sel[:idx]
		if eqIdx := strings.IndexByte(attrPart, '='); eqIdx >= 0 {
			s.attrKey = attrPart[:eqIdx]
			s.attrVal = strings.Trim(attrPart[eqIdx+1:], `"'`)
		} else {
			s.attrKey = attrPart
		}
	}

	if idx := strings.IndexByte(sel, '#'); idx >= 0 {
		s.id = sel[idx+1:]
		sel = sel[:idx]
	}

	if idx := strings.IndexByte(sel, '.'); idx >= 0 {
		s.class = sel[idx+1:]
		sel = sel[:idx]
	}

	s.tag = sel
	return s
}

func matchesSelector(n *html.Node, s simpleSelector) bool {
	if n.Type != html.ElementNode {
		return false
	}
	if s.tag != "" && n.Data != s.tag {
		return false
	}
	if s.id != "" && getAttr(n, "id") != s.id {
		return false
	}
	if s.class != "" {
		found := false
		for _, c := range strings.Fields(getAttr(n, "class")) {
			if c == s.class {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if s.attrKey != "" {
		if !hasAttr(n, s.attrKey) {
			return false
		}
		if s.attrVal != "" && getAttr(n, s.attrKey) != s.attrVal {
			return false
		}
	}
	return true
}

// querySelectorAll returns descendants of scope matching the selector, in
// document order, excluding scope itself (querySelectorAll semantics).
func querySelectorAll(scope *html.Node, selector string) []*html.Node {
	parts := strings.Fields(selector)
	if len(parts) == 0 {
		return nil
	}
	sels := make([]simpleSelector, len(parts))
	for i, p := range parts {
		sels[i] = parseSimpleSelector(p)
	}

	var out []*html.Node
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n != scope && matchesChain(n, scope, sels) {
			out = append(out, n)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(scope)
	return out
}

// matchesChain checks the node against the final simple selector and its
// ancestors (up to scope) against the earlier parts, innermost last.
func matchesChain(n, scope *html.Node, sels []simpleSelector) bool {
	if !matchesSelector(n, sels[len(sels)-1]) {
		return false
	}
	i := len(sels) - 2
	for anc := n.Parent; anc != nil && i >= 0; anc = anc.Parent {
		if matchesSelector(anc, sels[i]) {
			i--
		}
		if anc == scope {
			break
		}
	}
	return i < 0
}

func getAttr(n *html.Node, key string) string {
	for _, attr := range n.Attr {
		if attr.Key == key {
			return attr.Val
		}
	}
	return ""
}

func hasAttr(n *html.Node, key string) bool {
	for _, attr := range n.Attr {
		if attr.Key == key {
			return true
		}
	}
	return false
}
