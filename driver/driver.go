// Package driver runs the scroll-discover-operate control loop for one root
// container. A Driver owns a single run: it creates its variable scope on
// Start, iterates until a stop condition fires, and reports counters. The
// loop is cooperative and single-threaded from its own perspective; multiple
// Drivers on different pages are fully independent, sharing only the bus.
package driver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hazyhaar/domdrive/bus"
	"github.com/hazyhaar/domdrive/discover"
	"github.com/hazyhaar/domdrive/match"
	"github.com/hazyhaar/domdrive/operate"
	"github.com/hazyhaar/domdrive/registry"
	"github.com/hazyhaar/domdrive/snapshot"
	"github.com/hazyhaar/domdrive/vars"
)

// State is the driver's lifecycle state.
type State int32

const (
	StateIdle State = iota
	StateRunning
	// StateStopped means the run ended because something asked it to:
	// an external Stop, a satisfied stop condition, or context cancellation.
	StateStopped
	// StateExhausted means the run ended because the page ran out: the
	// scroll ceiling was hit or no new content appeared. It is a normal
	// outcome, not a failure.
	StateExhausted
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateStopped:
		return "stopped"
	case StateExhausted:
		return "exhausted"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

// ScrollCountVar is the root-scoped variable the driver maintains with its
// iteration count. Stop conditions may reference it.
const ScrollCountVar = "scrollCount"

// Config tunes one driver run.
type Config struct {
	// ContainerID is the root container the loop scrolls.
	ContainerID string `yaml:"container" json:"container"`

	// ChildID is the child definition fed to the discovery engine each
	// iteration.
	ChildID string `yaml:"child" json:"child"`

	// OperationID names an operation (looked up on the child definition,
	// then on the root) executed on every newly discovered child. Empty
	// means discover only.
	OperationID string `yaml:"operation,omitempty" json:"operation,omitempty"`

	// MaxScrolls is the absolute iteration ceiling. Default 10.
	MaxScrolls int `yaml:"max_scrolls,omitempty" json:"max_scrolls,omitempty"`

	// ScrollDistance in pixels per iteration. Default 600.
	ScrollDistance float64 `yaml:"scroll_distance,omitempty" json:"scroll_distance,omitempty"`

	// ScrollInterval is the minimum period of one iteration. Default 1s.
	ScrollInterval time.Duration `yaml:"scroll_interval,omitempty" json:"scroll_interval,omitempty"`

	// WaitAfterScroll is how long to let lazy content land before the
	// height comparison, and again before its single re-check. Default 500ms.
	WaitAfterScroll time.Duration `yaml:"wait_after_scroll,omitempty" json:"wait_after_scroll,omitempty"`

	// BottomThreshold is the height delta in pixels below which the page
	// counts as unchanged. Default 10.
	BottomThreshold float64 `yaml:"bottom_threshold,omitempty" json:"bottom_threshold,omitempty"`

	// NoNewContentThreshold is how many consecutive unchanged iterations
	// mean the bottom of the page. Default 3.
	NoNewContentThreshold int `yaml:"no_new_content_threshold,omitempty" json:"no_new_content_threshold,omitempty"`

	// StopCondition, when set, is evaluated against the root scope at the
	// end of every iteration; true stops the run.
	StopCondition *vars.Condition `yaml:"stop_condition,omitempty" json:"stop_condition,omitempty"`

	Logger *slog.Logger `yaml:"-" json:"-"`
}

func (c *Config) defaults() {
	if c.MaxScrolls <= 0 {
		c.MaxScrolls = 10
	}
	if c.ScrollDistance <= 0 {
		c.ScrollDistance = operate.DefaultScrollDistance
	}
	if c.ScrollInterval <= 0 {
		c.ScrollInterval = time.Second
	}
	if c.WaitAfterScroll <= 0 {
		c.WaitAfterScroll = 500 * time.Millisecond
	}
	if c.BottomThreshold <= 0 {
		c.BottomThreshold = 10
	}
	if c.NoNewContentThreshold <= 0 {
		c.NoNewContentThreshold = 3
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Deps are the engines a Driver runs on. All fields are required.
type Deps struct {
	Bus      *bus.Bus
	Vars     *vars.Manager
	Match    *match.Engine
	Discover *discover.Engine
	Exec     *operate.Executor
	Snaps    *snapshot.Loader
	Registry registry.Registry
}

// Report is a point-in-time view of one run's counters.
type Report struct {
	State      State `json:"state"`
	Iterations int   `json:"iterations"`
	Discovered int   `json:"discovered"`
	Operated   int   `json:"operated"`
	Errors     int   `json:"errors"`
}

// LifecyclePayload is published on CONTAINER_ROOT_LIFECYCLE at state
// transitions.
type LifecyclePayload struct {
	ContainerID string `json:"container_id"`
	State       string `json:"state"`
	Iterations  int    `json:"iterations"`
}

// ScrollStartPayload is published on CONTAINER_ROOT_SCROLL_START before each
// scroll is issued.
type ScrollStartPayload struct {
	ContainerID string  `json:"container_id"`
	Iteration   int     `json:"iteration"`
	ScrollY     float64 `json:"scroll_y"`
}

// Driver runs one control loop over a root container.
type Driver struct {
	cfg  Config
	deps Deps
	log  *slog.Logger

	rootDef  *registry.ContainerDefinition
	childDef *registry.ContainerDefinition
	childOp  operate.Operation // nil when OperationID is empty

	state   atomic.Int32
	stopReq atomic.Bool

	mu     sync.Mutex
	report Report
}

// New validates the configuration against the registry and builds a Driver.
// Definition or operation lookups that fail here are setup defects and fail
// fast; nothing touches the page until Start.
func New(cfg Config, deps Deps) (*Driver, error) {
	cfg.defaults()
	if cfg.ContainerID == "" {
		return nil, &registry.InvalidConfigError{ID: "driver", Reason: "container is required"}
	}
	if cfg.ChildID == "" {
		return nil, &registry.InvalidConfigError{ID: cfg.ContainerID, Reason: "child is required"}
	}
	if cfg.StopCondition != nil {
		if err := cfg.StopCondition.Validate(); err != nil {
			return nil, err
		}
	}

	rootDef, err := deps.Registry.Definition(cfg.ContainerID)
	if err != nil {
		return nil, err
	}
	childDef, err := deps.Registry.Definition(cfg.ChildID)
	if err != nil {
		return nil, err
	}

	d := &Driver{
		cfg:      cfg,
		deps:     deps,
		log:      cfg.Logger.With("container", cfg.ContainerID),
		rootDef:  rootDef,
		childDef: childDef,
	}
	if cfg.OperationID != "" {
		spec := childDef.Operation(cfg.OperationID)
		if spec == nil {
			spec = rootDef.Operation(cfg.OperationID)
		}
		if spec == nil {
			return nil, &registry.InvalidConfigError{
				ID:     cfg.ChildID,
				Reason: fmt.Sprintf("no operation %q", cfg.OperationID),
			}
		}
		op, err := operate.Decode(spec, nil)
		if err != nil {
			return nil, err
		}
		d.childOp = op
	}
	return d, nil
}

// State returns the current lifecycle state.
func (d *Driver) State() State { return State(d.state.Load()) }

// Report returns the current counters. Valid during and after a run.
func (d *Driver) Report() Report {
	d.mu.Lock()
	defer d.mu.Unlock()
	r := d.report
	r.State = d.State()
	return r
}

// Stop requests a transition to Stopped at the next loop boundary. The
// iteration in flight always finishes; no operation is interrupted mid-way.
// Safe to call from any goroutine, any number of times.
func (d *Driver) Stop() { d.stopReq.Store(true) }

// Start runs the loop in the calling goroutine until a terminal state is
// reached. It returns an error only for setup defects (driver already run,
// bus closed); a page that never yields content ends in Exhausted with a nil
// error. The root variable scope lives exactly as long as the run.
func (d *Driver) Start(ctx context.Context) error {
	if !d.state.CompareAndSwap(int32(StateIdle), int32(StateRunning)) {
		return fmt.Errorf("driver %s: already started", d.cfg.ContainerID)
	}

	d.deps.Vars.CreateScope(d.cfg.ContainerID)
	defer func() {
		d.deps.Vars.DropScope(d.cfg.ContainerID)
		d.deps.Discover.Reset(d.cfg.ContainerID)
	}()

	if err := d.publishLifecycle(StateRunning); err != nil {
		d.state.Store(int32(StateStopped))
		return err
	}
	d.log.Info("driver: started",
		"child", d.cfg.ChildID,
		"operation", d.cfg.OperationID,
		"max_scrolls", d.cfg.MaxScrolls)

	final, err := d.run(ctx)
	d.state.Store(int32(final))

	if perr := d.publishLifecycle(final); perr != nil && err == nil {
		err = perr
	}
	r := d.Report()
	d.log.Info("driver: finished",
		"state", final.String(),
		"iterations", r.Iterations,
		"discovered", r.Discovered,
		"operated", r.Operated,
		"errors", r.Errors)
	return err
}

func (d *Driver) run(ctx context.Context) (State, error) {
	noChange := 0
	for {
		// Loop boundary: the only point where cancellation and external
		// stop requests are honored.
		if d.stopReq.Load() || ctx.Err() != nil {
			return StateStopped, nil
		}

		iterStart := time.Now()

		discovered, operated := d.discoverAndOperate(ctx)
		d.addCounts(discovered, operated, 0)

		before, err := d.deps.Snaps.ScrollInfo(ctx)
		if err != nil {
			d.addCounts(0, 0, 1)
			d.log.Warn("driver: scrollinfo failed", "error", err)
		}

		iteration := d.bumpIterations()
		if err := d.publishScrollStart(iteration, before.ScrollY); err != nil {
			return StateStopped, err
		}
		if err := d.deps.Vars.Set(d.cfg.ContainerID, ScrollCountVar, iteration); err != nil {
			if errors.Is(err, bus.ErrBusClosed) {
				return StateStopped, err
			}
			d.addCounts(0, 0, 1)
		}

		res := d.deps.Exec.Execute(ctx, d.cfg.ContainerID, operate.Scroll{
			Direction: "down",
			Distance:  d.cfg.ScrollDistance,
		})
		if !res.Success {
			d.addCounts(0, 0, 1)
			d.log.Warn("driver: scroll failed", "reason", res.Err)
		}

		if !sleep(ctx, d.cfg.WaitAfterScroll) {
			return StateStopped, nil
		}

		grown := d.heightGrew(ctx, before.ScrollHeight)
		if !grown {
			// Content insertion is asynchronous; give it one more wait
			// before counting the iteration as unchanged.
			if !sleep(ctx, d.cfg.WaitAfterScroll) {
				return StateStopped, nil
			}
			grown = d.heightGrew(ctx, before.ScrollHeight)
		}
		if grown {
			noChange = 0
		} else {
			noChange++
		}

		// Stop evaluation, first satisfied wins.
		switch {
		case iteration >= d.cfg.MaxScrolls:
			d.log.Info("driver: scroll ceiling reached", "max_scrolls", d.cfg.MaxScrolls)
			return StateExhausted, nil
		case d.cfg.StopCondition != nil && d.deps.Vars.Evaluate(d.cfg.ContainerID, *d.cfg.StopCondition):
			d.log.Info("driver: stop condition satisfied", "variable", d.cfg.StopCondition.Variable)
			return StateStopped, nil
		case noChange >= d.cfg.NoNewContentThreshold:
			d.log.Info("driver: no new content", "unchanged_iterations", noChange)
			return StateExhausted, nil
		}

		if rest := d.cfg.ScrollInterval - time.Since(iterStart); rest > 0 {
			if !sleep(ctx, rest) {
				return StateStopped, nil
			}
		}
	}
}

// discoverAndOperate runs one discovery pass under the root container's
// current path and executes the configured operation on each new child. A
// vanished root or a failed operation is counted, logged, and tolerated;
// isolated failures never abort the run.
func (d *Driver) discoverAndOperate(ctx context.Context) (discovered, operated int) {
	matches, err := d.deps.Match.Match(ctx, d.rootDef, 1)
	if err != nil || len(matches) == 0 {
		d.log.Debug("driver: root container not on page", "error", err)
		return 0, 0
	}
	scope := matches[0].Node.Path

	fresh, err := d.deps.Discover.Discover(ctx, d.cfg.ContainerID, d.childDef, scope)
	if err != nil {
		d.addCounts(0, 0, 1)
		d.log.Warn("driver: discovery failed", "error", err)
		return 0, 0
	}

	for _, node := range fresh {
		if d.childOp == nil {
			continue
		}
		res := d.deps.Exec.ExecuteOnPath(ctx, d.cfg.ChildID, node.Path, d.childOp)
		if res.Success {
			operated++
		} else {
			d.addCounts(0, 0, 1)
			d.log.Warn("driver: child operation failed",
				"path", node.Path, "verb", res.Verb, "reason", res.Err)
		}
	}
	return len(fresh), operated
}

// heightGrew compares the current document height against a baseline,
// treating deltas at or below BottomThreshold as noise.
func (d *Driver) heightGrew(ctx context.Context, baseline float64) bool {
	info, err := d.deps.Snaps.ScrollInfo(ctx)
	if err != nil {
		d.addCounts(0, 0, 1)
		return false
	}
	return math.Abs(info.ScrollHeight-baseline) > d.cfg.BottomThreshold
}

func (d *Driver) publishLifecycle(s State) error {
	return d.deps.Bus.Publish(bus.TopicRootLifecycle, &bus.Message{
		Type: bus.TopicRootLifecycle,
		Payload: &LifecyclePayload{
			ContainerID: d.cfg.ContainerID,
			State:       s.String(),
			Iterations:  d.Report().Iterations,
		},
		Source: bus.Source{Component: "driver"},
	})
}

func (d *Driver) publishScrollStart(iteration int, scrollY float64) error {
	return d.deps.Bus.Publish(bus.TopicRootScrollStart, &bus.Message{
		Type: bus.TopicRootScrollStart,
		Payload: &ScrollStartPayload{
			ContainerID: d.cfg.ContainerID,
			Iteration:   iteration,
			ScrollY:     scrollY,
		},
		Source: bus.Source{Component: "driver"},
	})
}

func (d *Driver) addCounts(discovered, operated, errs int) {
	d.mu.Lock()
	d.report.Discovered += discovered
	d.report.Operated += operated
	d.report.Errors += errs
	d.mu.Unlock()
}

func (d *Driver) bumpIterations() int {
	d.mu.Lock()
	d.report.Iterations++
	n := d.report.Iterations
	d.mu.Unlock()
	return n
}

// sleep waits for dur or until ctx is cancelled; it reports false on
// cancellation.
func sleep(ctx context.Context, dur time.Duration) bool {
	t := time.NewTimer(dur)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
