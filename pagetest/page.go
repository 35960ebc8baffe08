// Package pagetest provides an in-memory page implementing remote.Channel,
// so the engines can be tested against a deterministic DOM without Chrome.
// Fixtures are plain HTML strings parsed with x/net/html; scroll geometry
// and mutations are simulated through explicit hooks.
//
// Visibility: every element serializes with a non-zero rect unless it (or
// an ancestor) carries a data-hidden attribute.
package pagetest

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"testing"

	"golang.org/x/net/html"

	"github.com/hazyhaar/domdrive/remote"
)

// TypedText records one type op.
type TypedText struct {
	Path   string
	Text   string
	Submit bool
}

// Page is a fake live page. Safe for concurrent use.
type Page struct {
	mu   sync.Mutex
	root *html.Node // the <html> element

	scrollY        float64
	scrollHeight   float64
	viewportHeight float64

	clicks      []string
	typed       []TypedText
	removed     []string
	navigations []string
	highlights  []string

	// AfterScroll runs after each scroll op with the lock held via the
	// exported mutators; use it to grow the page as lazy content "loads".
	AfterScroll func(p *Page)

	// OnClick runs after each recorded click.
	OnClick func(path string)

	// pendingHook defers AfterScroll/OnClick callbacks until the lock is
	// released, so hooks may call back into the Page.
	pendingHook func()
}

// New parses an HTML fixture into a Page.
func New(t *testing.T, src string) *Page {
	t.Helper()
	doc, err := html.Parse(strings.NewReader(src))
	if err != nil {
		t.Fatalf("pagetest: parse fixture: %v", err)
	}
	var root *html.Node
	for c := doc.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode && c.Data == "html" {
			root = c
			break
		}
	}
	if root == nil {
		t.Fatal("pagetest: fixture has no <html> element")
	}
	return &Page{
		root:           root,
		scrollHeight:   2000,
		viewportHeight: 800,
	}
}

// SetScrollGeometry sets the simulated document height and viewport height.
func (p *Page) SetScrollGeometry(height, viewport float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.scrollHeight = height
	p.viewportHeight = viewport
}

// SetScrollHeight grows (or shrinks) the simulated document height.
func (p *Page) SetScrollHeight(height float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.scrollHeight = height
}

// ScrollHeight returns the current simulated document height.
func (p *Page) ScrollHeight() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.scrollHeight
}

// AppendHTML parses a fragment and appends it to the first element matching
// the selector.
func (p *Page) AppendHTML(selector, fragment string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	targets := querySelectorAll(p.root, selector)
	if len(targets) == 0 {
		return fmt.Errorf("pagetest: no element matches %q", selector)
	}
	target := targets[0]
	nodes, err := html.ParseFragment(strings.NewReader(fragment), target)
	if err != nil {
		return fmt.Errorf("pagetest: parse fragment: %w", err)
	}
	for _, n := range nodes {
		target.AppendChild(n)
	}
	return nil
}

// Clicks returns the paths clicked so far.
func (p *Page) Clicks() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.clicks...)
}

// Typed returns the recorded type ops.
func (p *Page) Typed() []TypedText {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]TypedText(nil), p.typed...)
}

// Removed returns the paths removed by close ops.
func (p *Page) Removed() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.removed...)
}

// Navigations returns the hrefs followed by navigate ops.
func (p *Page) Navigations() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.navigations...)
}

// Highlights returns the paths highlighted so far.
func (p *Page) Highlights() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.highlights...)
}

// Execute implements remote.Channel by interpreting the script ops against
// the parsed tree. The script text itself is only sanity-checked: dispatch
// runs on the op argument, exactly as a remote implementation would.
func (p *Page) Execute(_ context.Context, script string, args ...any) (json.RawMessage, error) {
	if script != remote.ScriptDOM && script != remote.ScriptActions {
		return nil, fmt.Errorf("pagetest: unknown script")
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("pagetest: missing op argument")
	}
	op, ok := args[0].(string)
	if !ok {
		return nil, fmt.Errorf("pagetest: op must be a string")
	}

	p.mu.Lock()
	env := p.dispatch(op, args[1:])
	hook := p.pendingHook
	p.pendingHook = nil
	p.mu.Unlock()

	if hook != nil {
		hook()
	}
	return json.Marshal(env)
}

var _ remote.Channel = (*Page)(nil)

type envelope struct {
	OK    bool   `json:"ok"`
	Data  any    `json:"data,omitempty"`
	Error string `json:"error,omitempty"`
	What  string `json:"what,omitempty"`
}

func okEnv(data any) envelope          { return envelope{OK: true, Data: data} }
func failEnv(code, what string) envelope { return envelope{Error: code, What: what} }
