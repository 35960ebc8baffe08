// Package snapshot materializes bounded tree views of the live page.
// Full-depth serialization of a modern page is prohibitively expensive, so
// callers take a shallow snapshot and expand only the branches they need.
package snapshot

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/hazyhaar/domdrive/dom"
	"github.com/hazyhaar/domdrive/remote"
)

// Defaults applied when a caller passes non-positive bounds.
const (
	DefaultMaxDepth    = 4
	DefaultMaxChildren = 20
)

// Loader serializes page subtrees through the execution channel.
type Loader struct {
	ch     remote.Channel
	logger *slog.Logger
}

// Option configures a Loader.
type Option func(*Loader)

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(ld *Loader) { ld.logger = l }
}

// NewLoader creates a Loader over the given channel.
func NewLoader(ch remote.Channel, opts ...Option) *Loader {
	ld := &Loader{ch: ch, logger: slog.Default()}
	for _, o := range opts {
		o(ld)
	}
	return ld
}

// Snapshot serializes the subtree rooted at the first node matching
// rootSelector ("" or ":root" for the document element). Children beyond
// maxChildren are reported via TruncatedChildren, never silently dropped.
func (ld *Loader) Snapshot(ctx context.Context, rootSelector string, maxDepth, maxChildren int) (dom.Node, error) {
	maxDepth, maxChildren = clamp(maxDepth, maxChildren)
	var node dom.Node
	err := remote.CallInto(ctx, ld.ch, &node, remote.ScriptDOM, remote.OpSnapshot, rootSelector, maxDepth, maxChildren)
	if err != nil {
		return dom.Node{}, fmt.Errorf("snapshot %q: %w", rootSelector, err)
	}
	return node, nil
}

// Branch serializes the subtree rooted at path. If the live tree mutated
// and the path no longer resolves, the error satisfies remote.IsNotFound,
// an expected outcome for a stale coordinate, not a crash.
func (ld *Loader) Branch(ctx context.Context, path string, maxDepth, maxChildren int) (dom.Node, error) {
	maxDepth, maxChildren = clamp(maxDepth, maxChildren)
	var node dom.Node
	err := remote.CallInto(ctx, ld.ch, &node, remote.ScriptDOM, remote.OpBranch, path, maxDepth, maxChildren)
	if err != nil {
		if remote.IsNotFound(err) {
			ld.logger.Debug("snapshot: stale branch path", "path", path)
			return dom.Node{}, err
		}
		return dom.Node{}, fmt.Errorf("branch %q: %w", path, err)
	}
	return node, nil
}

// ScrollInfo reads the page's current scroll geometry.
func (ld *Loader) ScrollInfo(ctx context.Context) (remote.ScrollInfo, error) {
	var info remote.ScrollInfo
	err := remote.CallInto(ctx, ld.ch, &info, remote.ScriptDOM, remote.OpScrollInfo)
	if err != nil {
		return remote.ScrollInfo{}, fmt.Errorf("scrollinfo: %w", err)
	}
	return info, nil
}

func clamp(maxDepth, maxChildren int) (int, int) {
	if maxDepth <= 0 {
		maxDepth = DefaultMaxDepth
	}
	if maxChildren <= 0 {
		maxChildren = DefaultMaxChildren
	}
	return maxDepth, maxChildren
}
