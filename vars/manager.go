// Package vars holds named state per container, mutated exclusively through
// bus messages: Set publishes a SET, the manager's own subscription applies
// it and announces a CHANGED with old and new values. Stop and trigger
// logic evaluates declarative conditions against this store, so loop
// control is data, not code.
package vars

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/hazyhaar/domdrive/bus"
)

// Variable scopes.
const (
	ScopeRoot   = "root"   // one instance per driver run
	ScopeGlobal = "global" // process-wide
)

// SetPayload is the payload of a CONTAINER_ROOT_VAR_SET message.
type SetPayload struct {
	ContainerID string `json:"container_id"`
	Key         string `json:"key"`
	Value       any    `json:"value"`
	Scope       string `json:"scope"`
}

// ChangedPayload is the payload of a CONTAINER_ROOT_VAR_CHANGED message.
type ChangedPayload struct {
	ContainerID string `json:"container_id"`
	Key         string `json:"key"`
	Old         any    `json:"old"`
	New         any    `json:"new"`
	Scope       string `json:"scope"`
}

// Manager owns the variable store. Values are applied and broadcast in
// publish order: the bus delivers synchronously and per-topic FIFO, so no
// reordering is possible for a given (containerID, key).
type Manager struct {
	b      *bus.Bus
	logger *slog.Logger

	mu     sync.RWMutex
	root   map[string]map[string]any // containerID -> key -> value
	global map[string]any

	unsub func()
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// NewManager creates a Manager and subscribes it to the SET topic.
func NewManager(b *bus.Bus, opts ...Option) *Manager {
	m := &Manager{
		b:      b,
		logger: slog.Default(),
		root:   make(map[string]map[string]any),
		global: make(map[string]any),
	}
	for _, o := range opts {
		o(m)
	}
	m.unsub = b.Subscribe(bus.TopicRootVarSet, m.onSet)
	return m
}

// Close detaches the manager from the bus.
func (m *Manager) Close() {
	if m.unsub != nil {
		m.unsub()
	}
}

// Set publishes a root-scoped SET for (containerID, key). The mutation is
// applied, and its CHANGED broadcast delivered, before Set returns.
func (m *Manager) Set(containerID, key string, value any) error {
	return m.SetScoped(containerID, key, value, ScopeRoot)
}

// SetScoped publishes a SET with an explicit scope.
func (m *Manager) SetScoped(containerID, key string, value any, scope string) error {
	if scope != ScopeRoot && scope != ScopeGlobal {
		return fmt.Errorf("vars: unknown scope %q", scope)
	}
	return m.b.Publish(bus.TopicRootVarSet, &bus.Message{
		Type:    bus.TopicRootVarSet,
		Source:  bus.Source{Component: "vars"},
		Payload: &SetPayload{ContainerID: containerID, Key: key, Value: value, Scope: scope},
	})
}

// Get reads the current value synchronously.
func (m *Manager) Get(containerID, key, scope string) (any, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if scope == ScopeGlobal {
		v, ok := m.global[key]
		return v, ok
	}
	kv, ok := m.root[containerID]
	if !ok {
		return nil, false
	}
	v, ok := kv[key]
	return v, ok
}

// CreateScope initializes the root scope for a driver run. Idempotent.
func (m *Manager) CreateScope(containerID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.root[containerID]; !ok {
		m.root[containerID] = make(map[string]any)
	}
}

// DropScope discards every root-scoped value of a finished driver run.
func (m *Manager) DropScope(containerID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.root, containerID)
}

// onSet applies a SET and announces the resulting CHANGED. It runs on the
// publisher's goroutine, inside the publisher's Publish call.
func (m *Manager) onSet(msg *bus.Message) {
	p, ok := msg.Payload.(*SetPayload)
	if !ok {
		m.logger.Warn("vars: SET with unexpected payload", "type", fmt.Sprintf("%T", msg.Payload))
		return
	}

	m.mu.Lock()
	var old any
	if p.Scope == ScopeGlobal {
		old = m.global[p.Key]
		m.global[p.Key] = p.Value
	} else {
		kv, exists := m.root[p.ContainerID]
		if !exists {
			kv = make(map[string]any)
			m.root[p.ContainerID] = kv
		}
		old = kv[p.Key]
		kv[p.Key] = p.Value
	}
	m.mu.Unlock()

	err := m.b.Publish(bus.TopicRootVarChanged, &bus.Message{
		Type:   bus.TopicRootVarChanged,
		Source: bus.Source{Component: "vars"},
		Payload: &ChangedPayload{
			ContainerID: p.ContainerID,
			Key:         p.Key,
			Old:         old,
			New:         p.Value,
			Scope:       p.Scope,
		},
	})
	if err != nil {
		m.logger.Warn("vars: CHANGED publish failed", "error", err)
	}
}
