// Package domdrive wires the engines into a browsing session: one bus, one
// registry, one page channel, and the query surface external consumers talk
// to. A Session owns lifecycle; the engines below it stay ignorant of Chrome,
// SQLite, and MCP.
package domdrive

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/hazyhaar/domdrive/bus"
	"github.com/hazyhaar/domdrive/dbopen"
	"github.com/hazyhaar/domdrive/discover"
	"github.com/hazyhaar/domdrive/dom"
	"github.com/hazyhaar/domdrive/driver"
	"github.com/hazyhaar/domdrive/idgen"
	"github.com/hazyhaar/domdrive/internal/browser"
	"github.com/hazyhaar/domdrive/match"
	"github.com/hazyhaar/domdrive/observability"
	"github.com/hazyhaar/domdrive/operate"
	"github.com/hazyhaar/domdrive/registry"
	"github.com/hazyhaar/domdrive/remote"
	"github.com/hazyhaar/domdrive/snapshot"
	"github.com/hazyhaar/domdrive/vars"
)

// Session is one automation run against one page. Create with NewSession,
// then Start before using the query surface.
type Session struct {
	ID  string
	cfg *Config
	log *slog.Logger

	bus *bus.Bus
	reg registry.Registry
	ch  remote.Channel

	m     *match.Engine
	snaps *snapshot.Loader
	vars  *vars.Manager
	disc  *discover.Engine
	exec  *operate.Executor

	db     *sql.DB
	buslog *observability.BusLog
	runlog *observability.RunLogger

	browser *browser.Manager
	started bool
}

// SessionOption configures a Session.
type SessionOption func(*Session)

// WithChannel injects an execution channel, bypassing the browser manager.
// Used by tests and by embedders that own their own page.
func WithChannel(ch remote.Channel) SessionOption {
	return func(s *Session) { s.ch = ch }
}

// WithRegistry injects an already-loaded registry instead of reading the
// config's registry path.
func WithRegistry(reg registry.Registry) SessionOption {
	return func(s *Session) { s.reg = reg }
}

// WithSessionLogger sets a custom logger.
func WithSessionLogger(l *slog.Logger) SessionOption {
	return func(s *Session) { s.log = l }
}

// NewSession builds a Session from configuration. The page is not touched
// until Start.
func NewSession(cfg *Config, opts ...SessionOption) (*Session, error) {
	cfg.applyDefaults()
	s := &Session{
		ID:  idgen.Prefixed("ses_", idgen.Default)(),
		cfg: cfg,
		log: slog.Default(),
	}
	for _, o := range opts {
		o(s)
	}
	s.log = s.log.With("session", s.ID)

	if s.reg == nil {
		if cfg.Registry == "" {
			return nil, fmt.Errorf("domdrive: no registry path and no injected registry")
		}
		reg, err := registry.LoadFile(cfg.Registry)
		if err != nil {
			return nil, err
		}
		s.reg = reg
	}

	s.bus = bus.New(
		bus.WithLogger(s.log),
		bus.WithHistorySize(cfg.Bus.HistorySize),
	)
	return s, nil
}

// Start brings the session up: bus, event log, browser (unless a channel was
// injected), and the engines. Safe to call once.
func (s *Session) Start(ctx context.Context) error {
	if s.started {
		return fmt.Errorf("domdrive: session already started")
	}

	s.bus.Start()
	s.vars = vars.NewManager(s.bus, vars.WithLogger(s.log))

	if s.cfg.EventDB != "" {
		db, err := dbopen.Open(s.cfg.EventDB,
			dbopen.WithMkdirAll(),
			dbopen.WithSchema(observability.Schema))
		if err != nil {
			return err
		}
		s.db = db
		s.buslog = observability.NewBusLog(db, s.bus, s.cfg.Bus.EventBuffer,
			observability.WithLogger(s.log))
		s.runlog = observability.NewRunLogger(db)
	}

	if s.ch == nil {
		if s.cfg.URL == "" {
			return fmt.Errorf("domdrive: no url and no injected channel")
		}
		s.browser = browser.NewManager(browser.Config{
			RemoteURL:       s.cfg.Browser.Remote,
			Headful:         s.cfg.Browser.Headful,
			Stealth:         s.cfg.Browser.Stealth,
			NavigateTimeout: s.cfg.Browser.NavigateTimeout,
			Logger:          s.log,
		})
		if _, err := s.browser.Start(ctx); err != nil {
			return err
		}
		page, err := s.browser.OpenPage(ctx, s.cfg.URL)
		if err != nil {
			return err
		}
		s.ch = remote.NewRodChannel(page,
			remote.WithEvalTimeout(s.cfg.Browser.EvalTimeout),
			remote.WithRodLogger(s.log))
		s.log.Info("session: page open", "url", s.cfg.URL)
	}

	s.m = match.NewEngine(s.ch, match.WithLogger(s.log))
	s.snaps = snapshot.NewLoader(s.ch, snapshot.WithLogger(s.log))
	s.disc = discover.NewEngine(s.m, s.bus, discover.WithLogger(s.log))
	s.exec = operate.NewExecutor(s.ch, s.m, s.disc, s.reg, operate.WithLogger(s.log))

	s.started = true
	return nil
}

// Close tears the session down in reverse order of Start. Idempotent.
func (s *Session) Close() error {
	if s.buslog != nil {
		s.buslog.Close()
		s.buslog = nil
	}
	if s.vars != nil {
		s.vars.Close()
	}
	s.bus.Stop()
	if s.browser != nil {
		s.browser.Close()
		s.browser = nil
	}
	if s.db != nil {
		s.db.Close()
		s.db = nil
	}
	s.started = false
	return nil
}

// Bus exposes the session's bus for subscribers (debugging tools,
// orchestration scripts).
func (s *Session) Bus() *bus.Bus { return s.bus }

// NewDriver builds a driver over this session's engines.
func (s *Session) NewDriver(cfg driver.Config) (*driver.Driver, error) {
	if !s.started {
		return nil, fmt.Errorf("domdrive: session not started")
	}
	if cfg.Logger == nil {
		cfg.Logger = s.log
	}
	return driver.New(cfg, driver.Deps{
		Bus:      s.bus,
		Vars:     s.vars,
		Match:    s.m,
		Discover: s.disc,
		Exec:     s.exec,
		Snaps:    s.snaps,
		Registry: s.reg,
	})
}

// RunDrivers runs every configured driver sequentially and returns their
// reports. Each run is persisted when the event log is enabled. A run ending
// in Exhausted is a normal outcome; only setup defects return an error.
func (s *Session) RunDrivers(ctx context.Context) ([]driver.Report, error) {
	reports := make([]driver.Report, 0, len(s.cfg.Drivers))
	for _, dcfg := range s.cfg.Drivers {
		drv, err := s.NewDriver(dcfg)
		if err != nil {
			return reports, err
		}
		started := time.Now().UTC()
		if err := drv.Start(ctx); err != nil {
			return reports, err
		}
		r := drv.Report()
		reports = append(reports, r)
		if s.runlog != nil {
			s.runlog.LogRun(ctx, observability.RunRecord{
				ContainerID: dcfg.ContainerID,
				State:       r.State.String(),
				Iterations:  r.Iterations,
				Discovered:  r.Discovered,
				Operated:    r.Operated,
				Errors:      r.Errors,
				StartedAt:   started,
				FinishedAt:  time.Now().UTC(),
			})
		}
	}
	return reports, nil
}

// --- synchronous query surface ---

// Match resolves a container definition against the current page.
func (s *Session) Match(ctx context.Context, containerID string, maxMatches int) ([]match.Match, error) {
	def, err := s.reg.Definition(containerID)
	if err != nil {
		return nil, err
	}
	return s.m.Match(ctx, def, maxMatches)
}

// Tree resolves a container definition and its declared children
// recursively.
func (s *Session) Tree(ctx context.Context, containerID string, limits match.TreeLimits) (*match.ContainerTree, error) {
	def, err := s.reg.Definition(containerID)
	if err != nil {
		return nil, err
	}
	return s.m.Tree(ctx, def, s.reg, dom.PathRoot, limits)
}

// Snapshot serializes a bounded subtree from a CSS selector.
func (s *Session) Snapshot(ctx context.Context, rootSelector string, maxDepth, maxChildren int) (dom.Node, error) {
	return s.snaps.Snapshot(ctx, rootSelector, maxDepth, maxChildren)
}

// Branch expands one path of a previous snapshot.
func (s *Session) Branch(ctx context.Context, path string, maxDepth, maxChildren int) (dom.Node, error) {
	return s.snaps.Branch(ctx, path, maxDepth, maxChildren)
}

// Execute runs a container's declared operation with optional overrides.
// With GetVariable and SetVariable it forms the only state-mutating part of
// the surface; everything else is a read.
func (s *Session) Execute(ctx context.Context, containerID, operationID string, overrides map[string]any) (operate.Result, error) {
	return s.exec.ExecuteSpec(ctx, containerID, operationID, overrides)
}

// GetVariable reads a variable synchronously.
func (s *Session) GetVariable(containerID, key, scope string) (any, bool) {
	return s.vars.Get(containerID, key, scope)
}

// SetVariable publishes a SET and returns once the mutation and its CHANGED
// broadcast are delivered.
func (s *Session) SetVariable(containerID, key string, value any, scope string) error {
	return s.vars.SetScoped(containerID, key, value, scope)
}

// History replays the bus's retained messages for a topic, oldest first.
func (s *Session) History(topic string, limit int) []*bus.Message {
	return s.bus.History(topic, limit)
}
