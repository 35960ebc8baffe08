package vars

import (
	"fmt"
	"reflect"
	"strings"
)

// Condition is a declarative trigger/stop predicate over the variable
// store.
type Condition struct {
	Variable string `yaml:"variable" json:"variable"`
	Scope    string `yaml:"scope" json:"scope"`
	Operator string `yaml:"operator" json:"operator"`
	Value    any    `yaml:"value" json:"value"`
}

// Operators.
const (
	OpEq       = "eq"
	OpNeq      = "neq"
	OpGt       = "gt"
	OpGte      = "gte"
	OpLt       = "lt"
	OpLte      = "lte"
	OpContains = "contains"
)

// Validate reports a malformed condition as a setup defect.
func (c *Condition) Validate() error {
	if c.Variable == "" {
		return fmt.Errorf("vars: condition with empty variable")
	}
	switch c.Operator {
	case OpEq, OpNeq, OpGt, OpGte, OpLt, OpLte, OpContains:
		return nil
	default:
		return fmt.Errorf("vars: condition with unknown operator %q", c.Operator)
	}
}

// Evaluate resolves the condition's variable for containerID and applies
// the operator. An unrecognized operator evaluates to false and is logged,
// never raised: conditions drive long-running loops that must tolerate
// misconfiguration without crashing.
func (m *Manager) Evaluate(containerID string, cond Condition) bool {
	scope := cond.Scope
	if scope == "" {
		scope = ScopeRoot
	}
	current, _ := m.Get(containerID, cond.Variable, scope)

	switch cond.Operator {
	case OpEq:
		return equal(current, cond.Value)
	case OpNeq:
		return !equal(current, cond.Value)
	case OpGt, OpGte, OpLt, OpLte:
		a, aok := toFloat(current)
		b, bok := toFloat(cond.Value)
		if !aok || !bok {
			return false
		}
		switch cond.Operator {
		case OpGt:
			return a > b
		case OpGte:
			return a >= b
		case OpLt:
			return a < b
		default:
			return a <= b
		}
	case OpContains:
		return strings.Contains(toString(current), toString(cond.Value))
	default:
		m.logger.Warn("vars: unrecognized condition operator",
			"operator", cond.Operator, "variable", cond.Variable)
		return false
	}
}

func equal(a, b any) bool {
	if af, aok := toFloat(a); aok {
		if bf, bok := toFloat(b); bok {
			return af == bf
		}
	}
	return reflect.DeepEqual(a, b)
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}

func toString(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	if v == nil {
		return ""
	}
	return fmt.Sprint(v)
}
