package match

import (
	"context"
	"log/slog"

	"github.com/hazyhaar/domdrive/registry"
	"github.com/hazyhaar/domdrive/remote"
)

// TreeLimits bounds recursive container matching.
type TreeLimits struct {
	// MaxDepth bounds recursion over the definition hierarchy. Default: 3.
	MaxDepth int
	// MaxMatches bounds matches per container level. Default: DefaultMaxMatches.
	MaxMatches int
}

func (l *TreeLimits) defaults() {
	if l.MaxDepth <= 0 {
		l.MaxDepth = 3
	}
	if l.MaxMatches <= 0 {
		l.MaxMatches = DefaultMaxMatches
	}
}

// ContainerTree mirrors the definition hierarchy, each node carrying its
// own matches plus its children's trees. Transient: rebuilt per call.
type ContainerTree struct {
	DefinitionID string           `json:"definition_id"`
	Matches      []Match          `json:"matches"`
	Children     []*ContainerTree `json:"children,omitempty"`
}

// Tree matches the definition and, recursively, its declared children
// under each matched parent's subtree.
func (e *Engine) Tree(ctx context.Context, def *registry.ContainerDefinition, reg registry.Registry, scopePath string, limits TreeLimits) (*ContainerTree, error) {
	limits.defaults()
	return e.tree(ctx, def, reg, scopePath, limits.MaxDepth, limits.MaxMatches)
}

func (e *Engine) tree(ctx context.Context, def *registry.ContainerDefinition, reg registry.Registry, scopePath string, depth, maxMatches int) (*ContainerTree, error) {
	matches, err := e.MatchScoped(ctx, def, scopePath, maxMatches)
	if err != nil {
		return nil, err
	}
	t := &ContainerTree{DefinitionID: def.ID, Matches: matches}
	if depth <= 1 || len(matches) == 0 {
		return t, nil
	}

	for _, childID := range def.Children {
		childDef, err := reg.Definition(childID)
		if err != nil {
			return nil, err
		}
		child := &ContainerTree{DefinitionID: childID}
		for _, m := range matches {
			sub, err := e.tree(ctx, childDef, reg, m.Node.Path, depth-1, maxMatches)
			if err != nil {
				// A parent that mutated away mid-walk loses its subtree;
				// the rest of the tree still resolves.
				if remote.IsNotFound(err) || remote.IsDetached(err) {
					e.logger.Debug("match: subtree vanished mid-walk",
						slog.String("container", childID),
						slog.String("scope", m.Node.Path))
					continue
				}
				return nil, err
			}
			child.Matches = append(child.Matches, sub.Matches...)
			child.Children = append(child.Children, sub.Children...)
			if len(child.Matches) > maxMatches {
				child.Matches = child.Matches[:maxMatches]
				break
			}
		}
		t.Children = append(t.Children, child)
	}
	return t, nil
}
