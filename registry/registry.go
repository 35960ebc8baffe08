package registry

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// InvalidConfigError marks a malformed container definition or condition.
// It is a setup defect: raised eagerly at load time, never deferred into a
// running scroll session.
type InvalidConfigError struct {
	ID     string
	Reason string
}

func (e *InvalidConfigError) Error() string {
	if e.ID == "" {
		return fmt.Sprintf("registry: invalid config: %s", e.Reason)
	}
	return fmt.Sprintf("registry: invalid config for %q: %s", e.ID, e.Reason)
}

// Registry resolves container definitions by ID. The engines depend on this
// interface only; the canonical implementation is the YAML FileRegistry.
type Registry interface {
	Definition(id string) (*ContainerDefinition, error)
}

// NotFoundError is returned for an unknown definition ID.
type NotFoundError struct {
	ID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("registry: no definition %q", e.ID)
}

// FileRegistry is an immutable in-memory registry loaded from YAML.
type FileRegistry struct {
	defs map[string]*ContainerDefinition
}

type registryFile struct {
	Containers []*ContainerDefinition `yaml:"containers"`
}

// Load parses and validates a registry from YAML bytes.
func Load(data []byte) (*FileRegistry, error) {
	var f registryFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, &InvalidConfigError{Reason: fmt.Sprintf("parse: %v", err)}
	}
	return build(f.Containers)
}

// LoadFile reads and validates a registry from a YAML file.
func LoadFile(path string) (*FileRegistry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("registry: read %s: %w", path, err)
	}
	return Load(data)
}

func build(defs []*ContainerDefinition) (*FileRegistry, error) {
	r := &FileRegistry{defs: make(map[string]*ContainerDefinition, len(defs))}
	for _, d := range defs {
		if err := validate(d); err != nil {
			return nil, err
		}
		if _, dup := r.defs[d.ID]; dup {
			return nil, &InvalidConfigError{ID: d.ID, Reason: "duplicate id"}
		}
		r.defs[d.ID] = d
	}
	// Children may only reference definitions present in the same registry.
	for _, d := range r.defs {
		for _, child := range d.Children {
			if _, ok := r.defs[child]; !ok {
				return nil, &InvalidConfigError{ID: d.ID, Reason: fmt.Sprintf("unknown child %q", child)}
			}
		}
	}
	return r, nil
}

func validate(d *ContainerDefinition) error {
	if d.ID == "" {
		return &InvalidConfigError{Reason: "empty container id"}
	}
	for _, seg := range strings.Split(d.ID, ".") {
		if seg == "" {
			return &InvalidConfigError{ID: d.ID, Reason: "malformed dot-hierarchical id"}
		}
	}
	if len(d.Selectors) == 0 {
		return &InvalidConfigError{ID: d.ID, Reason: "no selectors"}
	}
	for i, s := range d.Selectors {
		if s.CSS == "" {
			return &InvalidConfigError{ID: d.ID, Reason: fmt.Sprintf("selector %d: empty css expression", i)}
		}
	}
	seenOps := make(map[string]struct{}, len(d.Operations))
	for _, op := range d.Operations {
		if op.ID == "" {
			return &InvalidConfigError{ID: d.ID, Reason: "operation with empty id"}
		}
		if _, dup := seenOps[op.ID]; dup {
			return &InvalidConfigError{ID: d.ID, Reason: fmt.Sprintf("duplicate operation %q", op.ID)}
		}
		seenOps[op.ID] = struct{}{}
		if !KnownVerb(op.Verb) {
			return &InvalidConfigError{ID: d.ID, Reason: fmt.Sprintf("operation %q: unknown verb %q", op.ID, op.Verb)}
		}
	}
	return nil
}

// Definition returns the definition with the given ID.
func (r *FileRegistry) Definition(id string) (*ContainerDefinition, error) {
	d, ok := r.defs[id]
	if !ok {
		return nil, &NotFoundError{ID: id}
	}
	return d, nil
}

// IDs returns all definition IDs, unordered.
func (r *FileRegistry) IDs() []string {
	out := make([]string, 0, len(r.defs))
	for id := range r.defs {
		out = append(out, id)
	}
	return out
}
