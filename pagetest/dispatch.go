package pagetest

import (
	"strconv"
	"strings"

	"golang.org/x/net/html"

	"github.com/hazyhaar/domdrive/dom"
	"github.com/hazyhaar/domdrive/remote"
)

// dispatch interprets one op. Caller holds p.mu.
func (p *Page) dispatch(op string, args []any) envelope {
	switch op {
	case remote.OpSnapshot:
		return p.opSnapshot(args)
	case remote.OpBranch:
		return p.opBranch(args)
	case remote.OpQuery:
		return p.opQuery(args)
	case remote.OpScrollInfo:
		return okEnv(remote.ScrollInfo{
			ScrollY:        p.scrollY,
			ScrollHeight:   p.scrollHeight,
			ViewportHeight: p.viewportHeight,
		})
	case remote.OpClick:
		return p.opClick(args)
	case remote.OpType:
		return p.opType(args)
	case remote.OpScroll:
		return p.opScroll(args)
	case remote.OpNavigate:
		return p.opNavigate(args)
	case remote.OpHighlight:
		return p.opHighlight(args)
	case remote.OpExtract:
		return p.opExtract(args)
	case remote.OpClose:
		return p.opClose(args)
	default:
		return failEnv("unknown_op", op)
	}
}

func (p *Page) opSnapshot(args []any) envelope {
	selector := argString(args, 0)
	maxDepth := argInt(args, 1)
	maxChildren := argInt(args, 2)

	el := p.root
	if selector != "" && selector != ":root" {
		found := querySelectorAll(p.root, selector)
		if len(found) == 0 {
			return failEnv("not_found", selector)
		}
		el = found[0]
	}
	path, ok := p.pathOf(el)
	if !ok {
		return failEnv("detached", selector)
	}
	return okEnv(p.serialize(el, path, maxDepth, maxChildren))
}

func (p *Page) opBranch(args []any) envelope {
	path := argString(args, 0)
	el := p.resolve(path)
	if el == nil {
		return failEnv("not_found", path)
	}
	return okEnv(p.serialize(el, path, argInt(args, 1), argInt(args, 2)))
}

func (p *Page) opQuery(args []any) envelope {
	scopePath := argString(args, 0)
	css := argString(args, 1)
	limit := argInt(args, 2)

	scope := p.resolve(scopePath)
	if scope == nil {
		return failEnv("not_found", scopePath)
	}
	var out []dom.Node
	for _, el := range querySelectorAll(scope, css) {
		if limit > 0 && len(out) >= limit {
			break
		}
		path, ok := p.pathOf(el)
		if !ok {
			continue
		}
		out = append(out, p.serialize(el, path, 0, 0))
	}
	if out == nil {
		out = []dom.Node{}
	}
	return okEnv(out)
}

func (p *Page) opClick(args []any) envelope {
	path := argString(args, 0)
	if p.resolve(path) == nil {
		return failEnv("detached", path)
	}
	p.clicks = append(p.clicks, path)
	if p.OnClick != nil {
		hook := p.OnClick
		p.pendingHook = func() { hook(path) }
	}
	return okEnv(map[string]any{"clicked": path})
}

func (p *Page) opType(args []any) envelope {
	path := argString(args, 0)
	text := argString(args, 1)
	submit := argBool(args, 2)
	el := p.resolve(path)
	if el == nil {
		return failEnv("detached", path)
	}
	setAttr(el, "value", text)
	p.typed = append(p.typed, TypedText{Path: path, Text: text, Submit: submit})
	return okEnv(map[string]any{"typed": len(text), "submitted": submit})
}

func (p *Page) opScroll(args []any) envelope {
	direction := argString(args, 0)
	distance := argFloat(args, 1)
	switch direction {
	case "up":
		p.scrollY -= distance
	case "left", "right":
		// Horizontal scrolling does not move scrollY.
	default:
		p.scrollY += distance
	}
	max := p.scrollHeight - p.viewportHeight
	if max < 0 {
		max = 0
	}
	if p.scrollY > max {
		p.scrollY = max
	}
	if p.scrollY < 0 {
		p.scrollY = 0
	}
	if p.AfterScroll != nil {
		hook := p.AfterScroll
		p.pendingHook = func() { hook(p) }
	}
	return okEnv(map[string]any{"scroll_y": p.scrollY})
}

func (p *Page) opNavigate(args []any) envelope {
	path := argString(args, 0)
	el := p.resolve(path)
	if el == nil {
		return failEnv("detached", path)
	}
	href := ""
	for cur := el; cur != nil; cur = cur.Parent {
		if h := getAttr(cur, "href"); h != "" {
			href = h
			break
		}
	}
	if href == "" {
		return failEnv("not_found", "href on "+path)
	}
	p.navigations = append(p.navigations, href)
	return okEnv(map[string]any{"href": href})
}

func (p *Page) opHighlight(args []any) envelope {
	path := argString(args, 0)
	if p.resolve(path) == nil {
		return failEnv("detached", path)
	}
	p.highlights = append(p.highlights, path)
	return okEnv(map[string]any{"highlighted": path})
}

func (p *Page) opExtract(args []any) envelope {
	path := argString(args, 0)
	el := p.resolve(path)
	if el == nil {
		return failEnv("detached", path)
	}
	record := map[string]string{}
	for key, sel := range argStringMap(args, 1) {
		matches := querySelectorAll(el, sel)
		if len(matches) > 0 {
			record[key] = collectText(matches[0])
		} else {
			record[key] = ""
		}
	}
	return okEnv(map[string]any{"record": record})
}

func (p *Page) opClose(args []any) envelope {
	path := argString(args, 0)
	el := p.resolve(path)
	if el == nil {
		return failEnv("detached", path)
	}
	if el.Parent == nil {
		return failEnv("detached", path)
	}
	el.Parent.RemoveChild(el)
	p.removed = append(p.removed, path)
	return okEnv(map[string]any{"closed": path})
}

// --- tree helpers ---

func elemChildren(n *html.Node) []*html.Node {
	var out []*html.Node
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode {
			out = append(out, c)
		}
	}
	return out
}

func (p *Page) resolve(path string) *html.Node {
	if path == dom.PathRoot {
		return p.root
	}
	idx, err := dom.Indices(path)
	if err != nil {
		return nil
	}
	el := p.root
	for _, i := range idx {
		kids := elemChildren(el)
		if i >= len(kids) {
			return nil
		}
		el = kids[i]
	}
	return el
}

func (p *Page) pathOf(el *html.Node) (string, bool) {
	if el == p.root {
		return dom.PathRoot, true
	}
	var idx []int
	for cur := el; cur != p.root; cur = cur.Parent {
		parent := cur.Parent
		if parent == nil {
			return "", false
		}
		pos := -1
		for i, k := range elemChildren(parent) {
			if k == cur {
				pos = i
				break
			}
		}
		if pos < 0 {
			return "", false
		}
		idx = append([]int{pos}, idx...)
	}
	segs := make([]string, 0, len(idx)+1)
	segs = append(segs, dom.PathRoot)
	for _, i := range idx {
		segs = append(segs, strconv.Itoa(i))
	}
	return strings.Join(segs, "/"), true
}

func (p *Page) serialize(el *html.Node, path string, depth, maxChildren int) dom.Node {
	node := dom.Node{
		Tag:  el.Data,
		Path: path,
		Text: collectText(el),
	}
	if len(el.Attr) > 0 {
		node.Attrs = make(map[string]string, len(el.Attr))
		for _, a := range el.Attr {
			node.Attrs[a.Key] = a.Val
		}
	}
	if !hiddenInTree(el, p.root) {
		node.Rect = dom.Rect{Width: 800, Height: 40}
	}
	kids := elemChildren(el)
	if depth <= 0 {
		node.TruncatedChildren = len(kids)
		return node
	}
	limit := len(kids)
	if maxChildren > 0 && maxChildren < limit {
		limit = maxChildren
	}
	for i := 0; i < limit; i++ {
		node.Children = append(node.Children, p.serialize(kids[i], dom.ChildPath(path, i), depth-1, maxChildren))
	}
	node.TruncatedChildren = len(kids) - limit
	return node
}

func hiddenInTree(el, stop *html.Node) bool {
	for cur := el; cur != nil; cur = cur.Parent {
		if cur.Type == html.ElementNode && hasAttr(cur, "data-hidden") {
			return true
		}
		if cur == stop {
			break
		}
	}
	return false
}

func collectText(n *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(c *html.Node) {
		if c.Type == html.TextNode {
			b.WriteString(c.Data)
			b.WriteByte(' ')
		}
		for k := c.FirstChild; k != nil; k = k.NextSibling {
			walk(k)
		}
	}
	walk(n)
	t := strings.Join(strings.Fields(b.String()), " ")
	if len(t) > 200 {
		t = t[:200]
	}
	return t
}

func setAttr(n *html.Node, key, val string) {
	for i := range n.Attr {
		if n.Attr[i].Key == key {
			n.Attr[i].Val = val
			return
		}
	}
	n.Attr = append(n.Attr, html.Attribute{Key: key, Val: val})
}

// --- loose arg decoding; engines pass typed Go values ---

func argString(args []any, i int) string {
	if i < len(args) {
		if s, ok := args[i].(string); ok {
			return s
		}
	}
	return ""
}

func argInt(args []any, i int) int {
	if i < len(args) {
		switch v := args[i].(type) {
		case int:
			return v
		case float64:
			return int(v)
		}
	}
	return 0
}

func argFloat(args []any, i int) float64 {
	if i < len(args) {
		switch v := args[i].(type) {
		case float64:
			return v
		case int:
			return float64(v)
		}
	}
	return 0
}

func argBool(args []any, i int) bool {
	if i < len(args) {
		if b, ok := args[i].(bool); ok {
			return b
		}
	}
	return false
}

func argStringMap(args []any, i int) map[string]string {
	out := map[string]string{}
	if i >= len(args) {
		return out
	}
	switch m := args[i].(type) {
	case map[string]string:
		return m
	case map[string]any:
		for k, v := range m {
			if s, ok := v.(string); ok {
				out[k] = s
			}
		}
	}
	return out
}
