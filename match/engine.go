// Package match resolves container definitions against the live page,
// producing ordered, bounded match lists. Matching is boolean, with no
// confidence scores; each match records which selector alternative and
// path produced it, for diagnostics.
package match

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/hazyhaar/domdrive/dom"
	"github.com/hazyhaar/domdrive/registry"
	"github.com/hazyhaar/domdrive/remote"
)

// Match is one live node satisfying a container definition.
type Match struct {
	Node dom.Node `json:"node"`

	// SelectorUsed is the index of the winning selector alternative in the
	// definition's ordered list.
	SelectorUsed int `json:"selector_used"`
}

// DefaultMaxMatches bounds a match call when the caller passes no limit.
const DefaultMaxMatches = 50

// queryHeadroom widens the in-page query when Go-side predicates will
// filter the results afterwards.
const queryHeadroom = 8

// Engine resolves selectors through the execution channel. Stateless:
// results are recomputed fresh per call and never cached across navigation.
type Engine struct {
	ch     remote.Channel
	logger *slog.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// NewEngine creates a match engine over the given channel.
func NewEngine(ch remote.Channel, opts ...Option) *Engine {
	e := &Engine{ch: ch, logger: slog.Default()}
	for _, o := range opts {
		o(e)
	}
	return e
}

// MatchScoped resolves the definition under scopePath, in document order,
// bounded by maxMatches (<= 0 means DefaultMaxMatches). An empty result is
// not an error; a scope path that no longer resolves is.
//
// Selector alternatives are tried in declaration order and the first that
// yields nodes wins. Within one alternative, nodes with a non-zero bounding
// box order before hidden ones, document order otherwise.
func (e *Engine) MatchScoped(ctx context.Context, def *registry.ContainerDefinition, scopePath string, maxMatches int) ([]Match, error) {
	if maxMatches <= 0 {
		maxMatches = DefaultMaxMatches
	}
	if scopePath == "" {
		scopePath = dom.PathRoot
	}

	for i, sel := range def.Selectors {
		cap := maxMatches
		if hasPredicates(sel) {
			cap = maxMatches * queryHeadroom
		}
		var nodes []dom.Node
		err := remote.CallInto(ctx, e.ch, &nodes, remote.ScriptDOM, remote.OpQuery, scopePath, sel.CSS, cap)
		if err != nil {
			if remote.IsNotFound(err) {
				return nil, err
			}
			return nil, fmt.Errorf("match %s selector %d: %w", def.ID, i, err)
		}

		kept := nodes[:0]
		for _, n := range nodes {
			if satisfies(n, sel) {
				kept = append(kept, n)
			}
		}
		if len(kept) == 0 {
			continue
		}

		ordered := visibleFirst(kept)
		if len(ordered) > maxMatches {
			ordered = ordered[:maxMatches]
		}
		out := make([]Match, len(ordered))
		for j, n := range ordered {
			out[j] = Match{Node: n, SelectorUsed: i}
		}
		return out, nil
	}
	return []Match{}, nil
}

// Match resolves the definition against the whole document.
func (e *Engine) Match(ctx context.Context, def *registry.ContainerDefinition, maxMatches int) ([]Match, error) {
	return e.MatchScoped(ctx, def, dom.PathRoot, maxMatches)
}

func hasPredicates(s registry.Selector) bool {
	return s.TextContains != "" || s.Attr != ""
}

func satisfies(n dom.Node, s registry.Selector) bool {
	if s.TextContains != "" && !strings.Contains(n.Text, s.TextContains) {
		return false
	}
	if s.Attr != "" {
		v, ok := n.Attrs[s.Attr]
		if !ok {
			return false
		}
		if s.AttrValue != "" && v != s.AttrValue {
			return false
		}
	}
	return true
}

// visibleFirst stably partitions nodes with a non-zero bounding box ahead
// of hidden ones.
func visibleFirst(nodes []dom.Node) []dom.Node {
	out := make([]dom.Node, 0, len(nodes))
	for _, n := range nodes {
		if n.Rect.Visible() {
			out = append(out, n)
		}
	}
	for _, n := range nodes {
		if !n.Rect.Visible() {
			out = append(out, n)
		}
	}
	return out
}
