package driver

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/hazyhaar/domdrive/bus"
	"github.com/hazyhaar/domdrive/discover"
	"github.com/hazyhaar/domdrive/match"
	"github.com/hazyhaar/domdrive/operate"
	"github.com/hazyhaar/domdrive/pagetest"
	"github.com/hazyhaar/domdrive/registry"
	"github.com/hazyhaar/domdrive/snapshot"
	"github.com/hazyhaar/domdrive/vars"
)

const feedFixture = `<html><head></head><body>
<div class="feed">
  <article class="post">one</article>
  <article class="post">two</article>
</div>
</body></html>`

const feedRegistry = `
containers:
  - id: t.page.feed
    selectors: [{css: "div.feed"}]
    children: [t.page.feed.post]
  - id: t.page.feed.post
    selectors: [{css: "article.post"}]
    operations:
      - {id: mark, verb: highlight, default: {duration_ms: 1}}
`

type harness struct {
	page *pagetest.Page
	bus  *bus.Bus
	deps Deps
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	p := pagetest.New(t, feedFixture)
	reg, err := registry.Load([]byte(feedRegistry))
	if err != nil {
		t.Fatal(err)
	}
	b := bus.New()
	b.Start()
	t.Cleanup(b.Stop)
	m := match.NewEngine(p)
	d := discover.NewEngine(m, b)
	return &harness{
		page: p,
		bus:  b,
		deps: Deps{
			Bus:      b,
			Vars:     vars.NewManager(b),
			Match:    m,
			Discover: d,
			Exec:     operate.NewExecutor(p, m, d, reg),
			Snaps:    snapshot.NewLoader(p),
			Registry: reg,
		},
	}
}

func fastConfig() Config {
	return Config{
		ContainerID:     "t.page.feed",
		ChildID:         "t.page.feed.post",
		OperationID:     "mark",
		ScrollInterval:  time.Millisecond,
		WaitAfterScroll: time.Millisecond,
	}
}

// growEachScroll makes every scroll load one more post and grow the page, so
// the no-new-content heuristic never fires.
func growEachScroll(h *harness) {
	n := 2
	h.page.AfterScroll = func(p *pagetest.Page) {
		n++
		p.SetScrollHeight(p.ScrollHeight() + 1000)
		_ = p.AppendHTML("div.feed", fmt.Sprintf(`<article class="post">%d</article>`, n))
	}
}

func TestScrollCeiling(t *testing.T) {
	h := newHarness(t)
	growEachScroll(h)

	var mu sync.Mutex
	maxCount := 0
	h.bus.Subscribe(bus.TopicRootVarChanged, func(msg *bus.Message) {
		p, ok := msg.Payload.(*vars.ChangedPayload)
		if !ok || p.Key != ScrollCountVar {
			return
		}
		if n, ok := p.New.(int); ok {
			mu.Lock()
			if n > maxCount {
				maxCount = n
			}
			mu.Unlock()
		}
	})

	cfg := fastConfig()
	cfg.MaxScrolls = 2
	drv, err := New(cfg, h.deps)
	if err != nil {
		t.Fatal(err)
	}
	if err := drv.Start(context.Background()); err != nil {
		t.Fatal(err)
	}

	r := drv.Report()
	if r.State != StateExhausted {
		t.Fatalf("state: %s", r.State)
	}
	if r.Iterations != 2 {
		t.Fatalf("iterations: %d", r.Iterations)
	}
	mu.Lock()
	defer mu.Unlock()
	if maxCount > 2 {
		t.Fatalf("scrollCount reached %d with ceiling 2", maxCount)
	}
}

func TestOperatesOnNewChildren(t *testing.T) {
	h := newHarness(t)
	growEachScroll(h)

	cfg := fastConfig()
	cfg.MaxScrolls = 2
	drv, err := New(cfg, h.deps)
	if err != nil {
		t.Fatal(err)
	}
	if err := drv.Start(context.Background()); err != nil {
		t.Fatal(err)
	}

	// Iteration 1 sees the two fixture posts, iteration 2 sees the one the
	// first scroll loaded.
	r := drv.Report()
	if r.Discovered != 3 || r.Operated != 3 {
		t.Fatalf("discovered %d operated %d", r.Discovered, r.Operated)
	}
	if got := len(h.page.Highlights()); got != 3 {
		t.Fatalf("highlights: %d", got)
	}
	if r.Errors != 0 {
		t.Fatalf("errors: %d", r.Errors)
	}
}

func TestNoNewContentExhausts(t *testing.T) {
	h := newHarness(t)
	// Static page: height never changes.
	cfg := fastConfig()
	cfg.MaxScrolls = 10
	cfg.NoNewContentThreshold = 2
	drv, err := New(cfg, h.deps)
	if err != nil {
		t.Fatal(err)
	}
	if err := drv.Start(context.Background()); err != nil {
		t.Fatal(err)
	}

	r := drv.Report()
	if r.State != StateExhausted {
		t.Fatalf("state: %s", r.State)
	}
	if r.Iterations != 2 {
		t.Fatalf("iterations: %d", r.Iterations)
	}
}

func TestStopCondition(t *testing.T) {
	h := newHarness(t)
	growEachScroll(h)

	cfg := fastConfig()
	cfg.MaxScrolls = 10
	cfg.StopCondition = &vars.Condition{
		Variable: ScrollCountVar,
		Scope:    vars.ScopeRoot,
		Operator: vars.OpGt,
		Value:    0,
	}
	drv, err := New(cfg, h.deps)
	if err != nil {
		t.Fatal(err)
	}
	if err := drv.Start(context.Background()); err != nil {
		t.Fatal(err)
	}

	r := drv.Report()
	if r.State != StateStopped {
		t.Fatalf("state: %s", r.State)
	}
	if r.Iterations != 1 {
		t.Fatalf("iterations: %d", r.Iterations)
	}
}

func TestStopTakesEffectAtLoopBoundary(t *testing.T) {
	h := newHarness(t)

	var drv *Driver
	h.page.AfterScroll = func(p *pagetest.Page) {
		// Mid-iteration stop request: the current iteration must still run
		// to completion.
		drv.Stop()
		p.SetScrollHeight(p.ScrollHeight() + 1000)
	}

	cfg := fastConfig()
	cfg.MaxScrolls = 10
	var err error
	drv, err = New(cfg, h.deps)
	if err != nil {
		t.Fatal(err)
	}
	if err := drv.Start(context.Background()); err != nil {
		t.Fatal(err)
	}

	r := drv.Report()
	if r.State != StateStopped {
		t.Fatalf("state: %s", r.State)
	}
	if r.Iterations != 1 {
		t.Fatalf("iterations: %d", r.Iterations)
	}
	// The in-flight iteration finished: its discovery and operations ran.
	if r.Discovered != 2 || r.Operated != 2 {
		t.Fatalf("discovered %d operated %d", r.Discovered, r.Operated)
	}
}

func TestLifecycleMessages(t *testing.T) {
	h := newHarness(t)
	growEachScroll(h)

	var mu sync.Mutex
	var states []string
	h.bus.Subscribe(bus.TopicRootLifecycle, func(msg *bus.Message) {
		p := msg.Payload.(*LifecyclePayload)
		mu.Lock()
		states = append(states, p.State)
		mu.Unlock()
	})

	cfg := fastConfig()
	cfg.MaxScrolls = 1
	drv, err := New(cfg, h.deps)
	if err != nil {
		t.Fatal(err)
	}
	if err := drv.Start(context.Background()); err != nil {
		t.Fatal(err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(states) != 2 || states[0] != "running" || states[1] != "exhausted" {
		t.Fatalf("lifecycle states: %v", states)
	}
}

func TestScopeDroppedAfterRun(t *testing.T) {
	h := newHarness(t)
	growEachScroll(h)

	cfg := fastConfig()
	cfg.MaxScrolls = 1
	drv, err := New(cfg, h.deps)
	if err != nil {
		t.Fatal(err)
	}
	if err := drv.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	if _, ok := h.deps.Vars.Get(cfg.ContainerID, ScrollCountVar, vars.ScopeRoot); ok {
		t.Fatal("root scope should be discarded when the run ends")
	}
}

func TestStartTwice(t *testing.T) {
	h := newHarness(t)
	cfg := fastConfig()
	cfg.MaxScrolls = 1
	cfg.NoNewContentThreshold = 1
	drv, err := New(cfg, h.deps)
	if err != nil {
		t.Fatal(err)
	}
	if err := drv.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := drv.Start(context.Background()); err == nil {
		t.Fatal("second Start must fail")
	}
}

func TestConfigDefects(t *testing.T) {
	h := newHarness(t)

	if _, err := New(Config{ChildID: "t.page.feed.post"}, h.deps); err == nil {
		t.Fatal("missing container must fail")
	}
	if _, err := New(Config{ContainerID: "t.page.feed"}, h.deps); err == nil {
		t.Fatal("missing child must fail")
	}
	cfg := fastConfig()
	cfg.OperationID = "nope"
	if _, err := New(cfg, h.deps); err == nil {
		t.Fatal("unknown operation must fail")
	}
	cfg = fastConfig()
	cfg.StopCondition = &vars.Condition{Variable: "x", Operator: "between", Value: 1}
	if _, err := New(cfg, h.deps); err == nil {
		t.Fatal("invalid stop condition must fail")
	}
}
