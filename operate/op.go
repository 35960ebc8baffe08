// Package operate provides uniform verb dispatch against a resolved
// container. Each verb is a tagged operation type carrying its own typed
// config, so Execute switches exhaustively instead of dispatching on
// string-keyed maps.
package operate

import (
	"fmt"
	"time"

	"github.com/hazyhaar/domdrive/registry"
)

// Operation is one executable verb with its config.
type Operation interface {
	Verb() string
}

// Extract reads a field-name -> selector map into a flat record.
type Extract struct {
	Fields map[string]string
}

func (Extract) Verb() string { return registry.VerbExtract }

// Click clicks the container's node.
type Click struct{}

func (Click) Verb() string { return registry.VerbClick }

// Type focuses the node and types text, optionally submitting.
type Type struct {
	Text   string
	Submit bool
}

func (Type) Verb() string { return registry.VerbType }

// Scroll scrolls the page by a distance in a direction.
type Scroll struct {
	Direction string // down (default), up, left, right
	Distance  float64
}

func (Scroll) Verb() string { return registry.VerbScroll }

// Navigate follows the link resolved from the container's node.
type Navigate struct{}

func (Navigate) Verb() string { return registry.VerbNavigate }

// Highlight draws a timed visual marker on the node.
type Highlight struct {
	Duration time.Duration
}

func (Highlight) Verb() string { return registry.VerbHighlight }

// FindChild delegates to the discovery engine for a declared child.
type FindChild struct {
	ChildID string
}

func (FindChild) Verb() string { return registry.VerbFindChild }

// Close removes the container's node from the page (dismissing an overlay,
// collapsing a region).
type Close struct{}

func (Close) Verb() string { return registry.VerbClose }

// DefaultScrollDistance applies when a scroll spec names no distance.
const DefaultScrollDistance = 600

// DefaultHighlightDuration applies when a highlight spec names no duration.
const DefaultHighlightDuration = 1500 * time.Millisecond

// Decode builds a typed operation from a registry spec, overlaying
// overrides (e.g. a driver config) on the spec's default config. Unknown
// verbs and malformed configs are setup defects.
func Decode(spec *registry.OperationSpec, overrides map[string]any) (Operation, error) {
	cfg := make(map[string]any, len(spec.Default)+len(overrides))
	for k, v := range spec.Default {
		cfg[k] = v
	}
	for k, v := range overrides {
		cfg[k] = v
	}

	switch spec.Verb {
	case registry.VerbExtract:
		fields := cfgStringMap(cfg, "fields")
		if len(fields) == 0 {
			return nil, &registry.InvalidConfigError{ID: spec.ID, Reason: "extract without fields"}
		}
		return Extract{Fields: fields}, nil
	case registry.VerbClick:
		return Click{}, nil
	case registry.VerbType:
		text, ok := cfg["text"].(string)
		if !ok {
			return nil, &registry.InvalidConfigError{ID: spec.ID, Reason: "type without text"}
		}
		submit, _ := cfg["submit"].(bool)
		return Type{Text: text, Submit: submit}, nil
	case registry.VerbScroll:
		dir, _ := cfg["direction"].(string)
		if dir == "" {
			dir = "down"
		}
		dist := cfgFloat(cfg, "distance", DefaultScrollDistance)
		if dist <= 0 {
			return nil, &registry.InvalidConfigError{ID: spec.ID, Reason: fmt.Sprintf("scroll distance %v", dist)}
		}
		return Scroll{Direction: dir, Distance: dist}, nil
	case registry.VerbNavigate:
		return Navigate{}, nil
	case registry.VerbHighlight:
		ms := cfgFloat(cfg, "duration_ms", float64(DefaultHighlightDuration/time.Millisecond))
		return Highlight{Duration: time.Duration(ms) * time.Millisecond}, nil
	case registry.VerbFindChild:
		childID, _ := cfg["child"].(string)
		if childID == "" {
			return nil, &registry.InvalidConfigError{ID: spec.ID, Reason: "find-child without child"}
		}
		return FindChild{ChildID: childID}, nil
	case registry.VerbClose:
		return Close{}, nil
	default:
		return nil, &registry.InvalidConfigError{ID: spec.ID, Reason: fmt.Sprintf("unknown verb %q", spec.Verb)}
	}
}

func cfgStringMap(cfg map[string]any, key string) map[string]string {
	out := map[string]string{}
	switch m := cfg[key].(type) {
	case map[string]string:
		return m
	case map[string]any:
		for k, v := range m {
			if s, ok := v.(string); ok {
				out[k] = s
			}
		}
	}
	return out
}

func cfgFloat(cfg map[string]any, key string, def float64) float64 {
	switch v := cfg[key].(type) {
	case int:
		return float64(v)
	case int64:
		return float64(v)
	case float64:
		return v
	}
	return def
}
