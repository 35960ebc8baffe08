package remote

import _ "embed"

// The two page scripts. Each takes an op name as its first argument; the
// remaining arguments are op-specific and documented with the Op constants.

// ScriptDOM serves the read-only tree ops.
//
//go:embed js/dom.js
var ScriptDOM string

// ScriptActions serves the mutating verbs.
//
//go:embed js/actions.js
var ScriptActions string

// Ops understood by ScriptDOM.
const (
	OpSnapshot   = "snapshot"   // (selector, maxDepth, maxChildren) -> dom.Node
	OpBranch     = "branch"     // (path, maxDepth, maxChildren) -> dom.Node
	OpQuery      = "query"      // (scopePath, css, limit) -> []dom.Node
	OpScrollInfo = "scrollinfo" // () -> ScrollInfo
)

// Ops understood by ScriptActions.
const (
	OpClick     = "click"     // (path)
	OpType      = "type"      // (path, text, submit)
	OpScroll    = "scroll"    // (direction, distance) -> {scroll_y}
	OpNavigate  = "navigate"  // (path) -> {href}
	OpHighlight = "highlight" // (path, durationMs)
	OpExtract   = "extract"   // (path, fields) -> {record}
	OpClose     = "close"     // (path)
)

// ScrollInfo is the page's current vertical scroll geometry.
type ScrollInfo struct {
	ScrollY        float64 `json:"scroll_y"`
	ScrollHeight   float64 `json:"scroll_height"`
	ViewportHeight float64 `json:"viewport_height"`
}
