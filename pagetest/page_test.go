package pagetest

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/hazyhaar/domdrive/dom"
	"github.com/hazyhaar/domdrive/remote"
)

const fixture = `<html><head><title>t</title></head><body>
<div id="main" class="feed wrap">
  <article class="post" data-kind="status">first post</article>
  <article class="post hidden-note" data-hidden="1">second post</article>
  <article class="post">third <span class="author">ada</span></article>
</div>
<a id="more" href="/page/2">more</a>
</body></html>`

func callData(t *testing.T, p *Page, script string, out any, args ...any) {
	t.Helper()
	if err := remote.CallInto(context.Background(), p, out, script, args...); err != nil {
		t.Fatalf("call %v: %v", args, err)
	}
}

func TestQuerySubset(t *testing.T) {
	p := New(t, fixture)
	cases := []struct {
		css  string
		want int
	}{
		{"article", 3},
		{".post", 3},
		{"#main", 1},
		{"article.post", 3},
		{"div.feed article", 3},
		{"article[data-kind]", 1},
		{"article[data-kind=status]", 1},
		{"nav", 0},
	}
	for _, tc := range cases {
		var nodes []dom.Node
		callData(t, p, remote.ScriptDOM, &nodes, remote.OpQuery, dom.PathRoot, tc.css, 0)
		if len(nodes) != tc.want {
			t.Errorf("query %q: got %d nodes, want %d", tc.css, len(nodes), tc.want)
		}
	}
}

func TestQueryPathsAndVisibility(t *testing.T) {
	p := New(t, fixture)
	var nodes []dom.Node
	callData(t, p, remote.ScriptDOM, &nodes, remote.OpQuery, dom.PathRoot, "article", 0)
	if nodes[0].Path != "root/1/0/0" {
		t.Errorf("first article path: got %q", nodes[0].Path)
	}
	if !nodes[0].Rect.Visible() {
		t.Error("first article should be visible")
	}
	if nodes[1].Rect.Visible() {
		t.Error("data-hidden article should serialize with a zero rect")
	}
}

func TestSnapshotTruncation(t *testing.T) {
	p := New(t, fixture)
	var node dom.Node
	callData(t, p, remote.ScriptDOM, &node, remote.OpSnapshot, "#main", 1, 2)
	if node.Path != "root/1/0" {
		t.Fatalf("snapshot root path: got %q", node.Path)
	}
	if len(node.Children) != 2 {
		t.Fatalf("children: got %d, want 2", len(node.Children))
	}
	if node.TruncatedChildren != 1 {
		t.Fatalf("truncated: got %d, want 1", node.TruncatedChildren)
	}
}

func TestBranchStalePath(t *testing.T) {
	p := New(t, fixture)
	_, err := remote.Call(context.Background(), p, remote.ScriptDOM, remote.OpBranch, "root/1/0/99", 1, 0)
	if !remote.IsNotFound(err) {
		t.Fatalf("got %v, want NotFoundError", err)
	}
}

func TestActions(t *testing.T) {
	p := New(t, fixture)
	ctx := context.Background()

	if _, err := remote.Call(ctx, p, remote.ScriptActions, remote.OpClick, "root/1/0/0"); err != nil {
		t.Fatal(err)
	}
	if got := p.Clicks(); len(got) != 1 || got[0] != "root/1/0/0" {
		t.Fatalf("clicks: %v", got)
	}

	var nav map[string]string
	callData(t, p, remote.ScriptActions, &nav, remote.OpNavigate, "root/1/1")
	if nav["href"] != "/page/2" {
		t.Fatalf("navigate href: %v", nav)
	}

	if _, err := remote.Call(ctx, p, remote.ScriptActions, remote.OpClose, "root/1/0/1"); err != nil {
		t.Fatal(err)
	}
	var nodes []dom.Node
	callData(t, p, remote.ScriptDOM, &nodes, remote.OpQuery, dom.PathRoot, "article", 0)
	if len(nodes) != 2 {
		t.Fatalf("after close: %d articles, want 2", len(nodes))
	}

	_, err := remote.Call(ctx, p, remote.ScriptActions, remote.OpClick, "root/9/9")
	if !remote.IsDetached(err) {
		t.Fatalf("click on gone path: got %v, want DetachedError", err)
	}
}

func TestScrollGeometry(t *testing.T) {
	p := New(t, fixture)
	p.SetScrollGeometry(3000, 900)
	ctx := context.Background()

	var info remote.ScrollInfo
	callData(t, p, remote.ScriptDOM, &info, remote.OpScrollInfo)
	if info.ScrollHeight != 3000 || info.ViewportHeight != 900 {
		t.Fatalf("scrollinfo: %+v", info)
	}

	if _, err := remote.Call(ctx, p, remote.ScriptActions, remote.OpScroll, "down", 500.0); err != nil {
		t.Fatal(err)
	}
	callData(t, p, remote.ScriptDOM, &info, remote.OpScrollInfo)
	if info.ScrollY != 500 {
		t.Fatalf("scrollY after scroll: %v", info.ScrollY)
	}

	// Clamped at the bottom.
	if _, err := remote.Call(ctx, p, remote.ScriptActions, remote.OpScroll, "down", 99999.0); err != nil {
		t.Fatal(err)
	}
	callData(t, p, remote.ScriptDOM, &info, remote.OpScrollInfo)
	if info.ScrollY != 2100 {
		t.Fatalf("scrollY at bottom: %v", info.ScrollY)
	}
}

func TestAppendHTML(t *testing.T) {
	p := New(t, fixture)
	if err := p.AppendHTML("#main", `<article class="post">fourth</article>`); err != nil {
		t.Fatal(err)
	}
	var nodes []dom.Node
	callData(t, p, remote.ScriptDOM, &nodes, remote.OpQuery, dom.PathRoot, "article.post", 0)
	if len(nodes) != 4 {
		t.Fatalf("after append: %d posts, want 4", len(nodes))
	}
}

func TestExtract(t *testing.T) {
	p := New(t, fixture)
	var out struct {
		Record map[string]string `json:"record"`
	}
	fields := map[string]string{"author": "span.author", "missing": "cite"}
	callData(t, p, remote.ScriptActions, &out, remote.OpExtract, "root/1/0/2", fields)
	if out.Record["author"] != "ada" {
		t.Fatalf("extract author: %v", out.Record)
	}
	if v, ok := out.Record["missing"]; !ok || v != "" {
		t.Fatalf("missing field should be present and empty: %v", out.Record)
	}
}

func TestEnvelopeShape(t *testing.T) {
	p := New(t, fixture)
	raw, err := p.Execute(context.Background(), remote.ScriptDOM, remote.OpScrollInfo)
	if err != nil {
		t.Fatal(err)
	}
	var env struct {
		OK bool `json:"ok"`
	}
	if err := json.Unmarshal(raw, &env); err != nil || !env.OK {
		t.Fatalf("envelope: %s (%v)", raw, err)
	}
}
