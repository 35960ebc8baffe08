package operate

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/hazyhaar/domdrive/discover"
	"github.com/hazyhaar/domdrive/match"
	"github.com/hazyhaar/domdrive/registry"
	"github.com/hazyhaar/domdrive/remote"
)

// Error reasons carried in failed results.
const (
	ReasonNotFound = "not_found"
	ReasonDetached = "detached"
	ReasonTimeout  = "timeout"
)

// Result is the outcome of one Execute call. Failures are data, never
// raised errors, so a long-running session branches on Success and an
// isolated miss cannot abort it.
type Result struct {
	Success     bool           `json:"success"`
	ContainerID string         `json:"container_id"`
	Verb        string         `json:"verb"`
	Path        string         `json:"path,omitempty"`
	Value       map[string]any `json:"value,omitempty"`
	Err         string         `json:"error,omitempty"`
}

// Executor dispatches verbs against resolved containers. It holds no state
// between calls: behavior is a pure function of the current DOM plus the
// supplied operation.
type Executor struct {
	ch     remote.Channel
	m      *match.Engine
	d      *discover.Engine
	reg    registry.Registry
	logger *slog.Logger
}

// Option configures an Executor.
type Option func(*Executor)

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(x *Executor) { x.logger = l }
}

// NewExecutor creates an Executor.
func NewExecutor(ch remote.Channel, m *match.Engine, d *discover.Engine, reg registry.Registry, opts ...Option) *Executor {
	x := &Executor{ch: ch, m: m, d: d, reg: reg, logger: slog.Default()}
	for _, o := range opts {
		o(x)
	}
	return x
}

// Execute resolves the container and runs the operation against its first
// match. An unresolved container yields {success:false, error:"not_found"}.
func (x *Executor) Execute(ctx context.Context, containerID string, op Operation) Result {
	res := Result{ContainerID: containerID, Verb: op.Verb()}

	def, err := x.reg.Definition(containerID)
	if err != nil {
		return fail(res, &remote.NotFoundError{What: containerID})
	}
	matches, err := x.m.MatchScoped(ctx, def, "", 1)
	if err != nil {
		return fail(res, err)
	}
	if len(matches) == 0 {
		return fail(res, &remote.NotFoundError{What: containerID})
	}
	node := matches[0].Node
	res.Path = node.Path

	switch v := op.(type) {
	case Extract:
		var out struct {
			Record map[string]string `json:"record"`
		}
		if err := x.action(ctx, &out, remote.OpExtract, node.Path, v.Fields); err != nil {
			return fail(res, err)
		}
		res.Value = map[string]any{}
		for k, val := range out.Record {
			res.Value[k] = val
		}
	case Click:
		if err := x.action(ctx, nil, remote.OpClick, node.Path); err != nil {
			return fail(res, err)
		}
	case Type:
		if err := x.action(ctx, nil, remote.OpType, node.Path, v.Text, v.Submit); err != nil {
			return fail(res, err)
		}
	case Scroll:
		var out map[string]any
		if err := x.action(ctx, &out, remote.OpScroll, v.Direction, v.Distance); err != nil {
			return fail(res, err)
		}
		res.Value = out
	case Navigate:
		var out map[string]any
		if err := x.action(ctx, &out, remote.OpNavigate, node.Path); err != nil {
			return fail(res, err)
		}
		res.Value = out
	case Highlight:
		ms := float64(v.Duration / time.Millisecond)
		if err := x.action(ctx, nil, remote.OpHighlight, node.Path, ms); err != nil {
			return fail(res, err)
		}
	case FindChild:
		childDef, err := x.reg.Definition(v.ChildID)
		if err != nil {
			return fail(res, &remote.NotFoundError{What: v.ChildID})
		}
		fresh, err := x.d.Discover(ctx, containerID, childDef, node.Path)
		if err != nil {
			return fail(res, err)
		}
		res.Value = map[string]any{"discovered": len(fresh)}
	case Close:
		if err := x.action(ctx, nil, remote.OpClose, node.Path); err != nil {
			return fail(res, err)
		}
	default:
		// Unreachable with the tagged set above; a new verb added to the
		// registry must grow a case here.
		return fail(res, fmt.Errorf("unhandled verb %q", op.Verb()))
	}

	res.Success = true
	return res
}

// ExecuteSpec looks up the container's operation by ID, decodes it with
// overrides, and executes it. Decode failures are setup defects and are
// returned as real errors.
func (x *Executor) ExecuteSpec(ctx context.Context, containerID, operationID string, overrides map[string]any) (Result, error) {
	def, err := x.reg.Definition(containerID)
	if err != nil {
		return Result{ContainerID: containerID, Err: ReasonNotFound}, nil
	}
	spec := def.Operation(operationID)
	if spec == nil {
		return Result{}, &registry.InvalidConfigError{
			ID:     containerID,
			Reason: fmt.Sprintf("no operation %q", operationID),
		}
	}
	op, err := Decode(spec, overrides)
	if err != nil {
		return Result{}, err
	}
	return x.Execute(ctx, containerID, op), nil
}

// ExecuteOnPath runs the operation against an explicit node path, skipping
// container resolution. Used by the driver for discovered children, whose
// identity is their discovery-time path.
func (x *Executor) ExecuteOnPath(ctx context.Context, containerID, path string, op Operation) Result {
	res := Result{ContainerID: containerID, Verb: op.Verb(), Path: path}
	switch v := op.(type) {
	case Extract:
		var out struct {
			Record map[string]string `json:"record"`
		}
		if err := x.action(ctx, &out, remote.OpExtract, path, v.Fields); err != nil {
			return fail(res, err)
		}
		res.Value = map[string]any{}
		for k, val := range out.Record {
			res.Value[k] = val
		}
	case Click:
		if err := x.action(ctx, nil, remote.OpClick, path); err != nil {
			return fail(res, err)
		}
	case Type:
		if err := x.action(ctx, nil, remote.OpType, path, v.Text, v.Submit); err != nil {
			return fail(res, err)
		}
	case Highlight:
		ms := float64(v.Duration / time.Millisecond)
		if err := x.action(ctx, nil, remote.OpHighlight, path, ms); err != nil {
			return fail(res, err)
		}
	case Navigate:
		var out map[string]any
		if err := x.action(ctx, &out, remote.OpNavigate, path); err != nil {
			return fail(res, err)
		}
		res.Value = out
	case Close:
		if err := x.action(ctx, nil, remote.OpClose, path); err != nil {
			return fail(res, err)
		}
	default:
		return x.Execute(ctx, containerID, op)
	}
	res.Success = true
	return res
}

func (x *Executor) action(ctx context.Context, out any, op string, args ...any) error {
	callArgs := append([]any{op}, args...)
	data, err := remote.Call(ctx, x.ch, remote.ScriptActions, callArgs...)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode %s result: %w", op, err)
	}
	return nil
}

func fail(res Result, err error) Result {
	res.Success = false
	switch {
	case remote.IsNotFound(err):
		res.Err = ReasonNotFound
	case remote.IsDetached(err):
		res.Err = ReasonDetached
	case remote.IsTimeout(err):
		res.Err = ReasonTimeout
	default:
		res.Err = err.Error()
	}
	return res
}
