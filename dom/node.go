// Package dom defines the serialized DOM node model shared by the match,
// snapshot, and operation layers, together with the slash-delimited path
// addressing scheme used to refer back into the live page.
//
// A path is a sequence of element-child indices from the document root,
// e.g. "root/1/1/0". It is a request-scoped coordinate: valid only for as
// long as the live tree keeps its shape. Anything that needs identity
// across a DOM rebuild must rely on domain-stable attributes instead.
package dom

// Rect is an element's bounding box in CSS pixels.
type Rect struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Visible reports whether the rect occupies any screen area. Hidden and
// detached elements serialize with a zero rect.
func (r Rect) Visible() bool {
	return r.Width > 0 && r.Height > 0
}

// Node is a serialized snapshot of a live DOM element. Instances are
// transient: rebuilt on every snapshot/match call, never cached across
// navigation.
type Node struct {
	Tag   string            `json:"tag"`
	Attrs map[string]string `json:"attrs,omitempty"`
	Rect  Rect              `json:"rect"`
	Text  string            `json:"text,omitempty"`
	Path  string            `json:"path"`

	// Children holds the element children serialized within the caller's
	// depth/width budget. A subtree cut off by the budget is reported via
	// TruncatedChildren rather than silently dropped.
	Children          []Node `json:"children,omitempty"`
	TruncatedChildren int    `json:"truncated_children,omitempty"`
}

// Attr returns the named attribute or "".
func (n *Node) Attr(name string) string {
	return n.Attrs[name]
}

// Walk visits n and every serialized descendant in document order.
// Returning false from fn stops the walk.
func (n *Node) Walk(fn func(*Node) bool) bool {
	if !fn(n) {
		return false
	}
	for i := range n.Children {
		if !n.Children[i].Walk(fn) {
			return false
		}
	}
	return true
}

// Find returns the serialized descendant at the given path, or nil if the
// path is outside this node's serialized subtree.
func (n *Node) Find(path string) *Node {
	var found *Node
	n.Walk(func(c *Node) bool {
		if c.Path == path {
			found = c
			return false
		}
		return true
	})
	return found
}
