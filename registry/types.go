// Package registry holds container definitions: declarative descriptions of
// structural page regions (selectors, children, operations). Definitions are
// loaded once from YAML and are read-only for the process lifetime; the
// engines treat them purely as input.
package registry

// Verbs accepted in operation specs.
const (
	VerbExtract   = "extract"
	VerbClick     = "click"
	VerbType      = "type"
	VerbScroll    = "scroll"
	VerbNavigate  = "navigate"
	VerbHighlight = "highlight"
	VerbFindChild = "find-child"
	VerbClose     = "close"
)

// KnownVerb reports whether v names a supported operation verb.
func KnownVerb(v string) bool {
	switch v {
	case VerbExtract, VerbClick, VerbType, VerbScroll,
		VerbNavigate, VerbHighlight, VerbFindChild, VerbClose:
		return true
	}
	return false
}

// Selector is one alternative way to locate a container. Alternatives are
// tried in declaration order; the first that yields nodes wins.
type Selector struct {
	CSS string `yaml:"css" json:"css"`

	// TextContains keeps only nodes whose text contains the substring.
	TextContains string `yaml:"text_contains,omitempty" json:"text_contains,omitempty"`

	// Attr / AttrValue keep only nodes carrying the attribute; when
	// AttrValue is set the value must match exactly.
	Attr      string `yaml:"attr,omitempty" json:"attr,omitempty"`
	AttrValue string `yaml:"attr_value,omitempty" json:"attr_value,omitempty"`
}

// OperationSpec declares an operation a container supports, with its
// default configuration. The config map is decoded into a typed operation
// by the operate package.
type OperationSpec struct {
	ID      string         `yaml:"id" json:"id"`
	Verb    string         `yaml:"verb" json:"verb"`
	Default map[string]any `yaml:"default,omitempty" json:"default,omitempty"`
}

// ContainerDefinition describes one structural page region. IDs are
// globally unique and dot-hierarchical, e.g. "site.page.feed_list".
type ContainerDefinition struct {
	ID         string                `yaml:"id" json:"id"`
	Type       string                `yaml:"type,omitempty" json:"type,omitempty"`
	Selectors  []Selector            `yaml:"selectors" json:"selectors"`
	Children   []string              `yaml:"children,omitempty" json:"children,omitempty"`
	Operations []OperationSpec       `yaml:"operations,omitempty" json:"operations,omitempty"`
}

// Operation returns the spec with the given ID, or nil.
func (d *ContainerDefinition) Operation(id string) *OperationSpec {
	for i := range d.Operations {
		if d.Operations[i].ID == id {
			return &d.Operations[i]
		}
	}
	return nil
}
