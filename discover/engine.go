// Package discover finds newly-appearing child containers under a parent
// and announces them on the bus. A discovered child's identity is its path
// at discovery time; the engine makes no attempt to reconcile identity
// across a DOM rebuild. Callers needing cross-rebuild identity must dedup
// on domain-stable attributes instead.
package discover

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/hazyhaar/domdrive/bus"
	"github.com/hazyhaar/domdrive/dom"
	"github.com/hazyhaar/domdrive/match"
	"github.com/hazyhaar/domdrive/registry"
	"github.com/hazyhaar/domdrive/remote"
)

// ChildDiscoveredPayload is the payload of a CONTAINER_CHILD_DISCOVERED
// message, one per newly-seen node.
type ChildDiscoveredPayload struct {
	ParentID string   `json:"parent_id"`
	ChildID  string   `json:"child_id"`
	Path     string   `json:"path"`
	Node     dom.Node `json:"node"`
}

// CompletePayload is the payload of a CONTAINER_ROOT_DISCOVER_COMPLETE
// message, one per Discover call.
type CompletePayload struct {
	ParentID        string `json:"parent_id"`
	ChildID         string `json:"child_id"`
	DiscoveredCount int    `json:"discovered_count"`
}

// Engine tracks which child paths have been announced per parent.
type Engine struct {
	m      *match.Engine
	b      *bus.Bus
	logger *slog.Logger

	mu   sync.Mutex
	seen map[string]map[string]struct{} // parentID -> path set
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// NewEngine creates a discovery engine.
func NewEngine(m *match.Engine, b *bus.Bus, opts ...Option) *Engine {
	e := &Engine{
		m:      m,
		b:      b,
		logger: slog.Default(),
		seen:   make(map[string]map[string]struct{}),
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Discover scans the parent's current subtree for child matches not
// previously announced, publishing one CHILD_DISCOVERED per new node and
// then one DISCOVER_COMPLETE carrying the count. It returns the newly
// discovered nodes. A vanished scope discovers nothing, which is an ordinary
// outcome mid-scroll, not a failure.
func (e *Engine) Discover(ctx context.Context, parentID string, childDef *registry.ContainerDefinition, scopePath string) ([]dom.Node, error) {
	// Already-announced nodes sit at the front of the document-ordered
	// match window. Widen the bound by the seen count so they can never
	// crowd out content appended since the last pass.
	limit := e.SeenCount(parentID) + match.DefaultMaxMatches
	matches, err := e.m.MatchScoped(ctx, childDef, scopePath, limit)
	if err != nil {
		if remote.IsNotFound(err) || remote.IsDetached(err) {
			e.logger.Debug("discover: scope gone", "parent", parentID, "scope", scopePath)
			matches = nil
		} else {
			return nil, fmt.Errorf("discover %s under %s: %w", childDef.ID, parentID, err)
		}
	}

	e.mu.Lock()
	set, ok := e.seen[parentID]
	if !ok {
		set = make(map[string]struct{})
		e.seen[parentID] = set
	}
	var fresh []dom.Node
	for _, m := range matches {
		if _, dup := set[m.Node.Path]; dup {
			continue
		}
		set[m.Node.Path] = struct{}{}
		fresh = append(fresh, m.Node)
	}
	e.mu.Unlock()

	for _, node := range fresh {
		err := e.b.Publish(bus.TopicChildDiscovered, &bus.Message{
			Type:   bus.TopicChildDiscovered,
			Source: bus.Source{Component: "discover"},
			Payload: &ChildDiscoveredPayload{
				ParentID: parentID,
				ChildID:  childDef.ID,
				Path:     node.Path,
				Node:     node,
			},
		})
		if err != nil {
			return nil, err
		}
	}
	err = e.b.Publish(bus.TopicDiscoverComplete, &bus.Message{
		Type:   bus.TopicDiscoverComplete,
		Source: bus.Source{Component: "discover"},
		Payload: &CompletePayload{
			ParentID:        parentID,
			ChildID:         childDef.ID,
			DiscoveredCount: len(fresh),
		},
	})
	if err != nil {
		return nil, err
	}
	return fresh, nil
}

// Reset forgets every announced path for a parent. Called when a driver
// run ends so the next run re-discovers from scratch.
func (e *Engine) Reset(parentID string) {
	e.mu.Lock()
	delete(e.seen, parentID)
	e.mu.Unlock()
}

// SeenCount returns how many paths have been announced for a parent.
func (e *Engine) SeenCount(parentID string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.seen[parentID])
}
