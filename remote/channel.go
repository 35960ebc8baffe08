// Package remote defines the execution channel through which every engine
// touches the live page. The channel runs a script and returns its
// JSON-serializable result; the core is agnostic to how the channel reaches
// the page (local Chrome via rod, a remote socket, or an in-memory fake).
//
// Scripts are self-contained JS functions whose first argument is an op
// name; alternative channel implementations dispatch on the op rather than
// interpreting the script text.
package remote

import (
	"context"
	"encoding/json"
	"fmt"
)

// Channel executes a script against the current page. The returned bytes
// are the script's envelope: {"ok":true,"data":...} on success or
// {"ok":false,"error":"not_found","what":...} on an in-page failure.
type Channel interface {
	Execute(ctx context.Context, script string, args ...any) (json.RawMessage, error)
}

type envelope struct {
	OK    bool            `json:"ok"`
	Data  json.RawMessage `json:"data,omitempty"`
	Error string          `json:"error,omitempty"`
	What  string          `json:"what,omitempty"`
}

// Call executes a script and unwraps the result envelope, mapping in-page
// failures to the structured error taxonomy. Engines use Call rather than
// Channel.Execute directly.
func Call(ctx context.Context, ch Channel, script string, args ...any) (json.RawMessage, error) {
	raw, err := ch.Execute(ctx, script, args...)
	if err != nil {
		return nil, err
	}
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("remote: malformed script result: %w", err)
	}
	if !env.OK {
		switch env.Error {
		case "not_found":
			return nil, &NotFoundError{What: env.What}
		case "detached":
			return nil, &DetachedError{Path: env.What}
		default:
			return nil, fmt.Errorf("remote: script failure: %s (%s)", env.Error, env.What)
		}
	}
	return env.Data, nil
}

// CallInto runs Call and decodes the data payload into out.
func CallInto(ctx context.Context, ch Channel, out any, script string, args ...any) error {
	data, err := Call(ctx, ch, script, args...)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("remote: decode script data: %w", err)
	}
	return nil
}
