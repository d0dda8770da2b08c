package workflow

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// RunConditionType discriminates how an edge condition is evaluated.
type RunConditionType string

const (
	// RunConditionBranchIdentifier matches the edge when the source node
	// finished with the same edge source handle.
	RunConditionBranchIdentifier RunConditionType = "branch_identifier"

	// RunConditionCondition matches the edge when its conditions evaluate
	// true against the variable pool.
	RunConditionCondition RunConditionType = "condition"
)

// RunCondition gates an outgoing edge. Edges sharing the same Hash form a
// condition group; groups are evaluated in config order and the first
// matching group is followed.
type RunCondition struct {
	Type             RunConditionType `json:"type"`
	BranchIdentifier string           `json:"branch_identifier,omitempty"`
	Conditions       []Condition      `json:"conditions,omitempty"`
	LogicalOperator  string           `json:"logical_operator,omitempty"`

	hash string
}

// Hash returns a stable digest of the condition content. Edges with equal
// hashes belong to the same group.
func (c *RunCondition) Hash() string {
	if c == nil {
		return ""
	}
	if c.hash == "" {
		raw, _ := json.Marshal(c)
		sum := sha256.Sum256(raw)
		c.hash = hex.EncodeToString(sum[:])
	}
	return c.hash
}

// Check evaluates the condition for an edge whose source finished with the
// given route state.
func (c *RunCondition) Check(pool *VariablePool, source *RouteNodeState) bool {
	switch c.Type {
	case RunConditionBranchIdentifier:
		if source == nil || source.NodeRunResult == nil {
			return false
		}
		return source.NodeRunResult.EdgeSourceHandle == c.BranchIdentifier
	case RunConditionCondition:
		return EvaluateConditions(pool, c.Conditions, c.LogicalOperator)
	default:
		return false
	}
}

// Condition is one comparison against a pool variable.
type Condition struct {
	VariableSelector   []string `json:"variable_selector"`
	ComparisonOperator string   `json:"comparison_operator"`
	Value              any      `json:"value,omitempty"`
}

// EvaluateConditions combines the given conditions with "and" (default) or
// "or" semantics. An empty condition list evaluates true.
func EvaluateConditions(pool *VariablePool, conditions []Condition, logicalOperator string) bool {
	if len(conditions) == 0 {
		return true
	}
	if logicalOperator == "or" {
		for _, c := range conditions {
			if c.Evaluate(pool) {
				return true
			}
		}
		return false
	}
	for _, c := range conditions {
		if !c.Evaluate(pool) {
			return false
		}
	}
	return true
}

// Evaluate resolves the selector and applies the comparison operator.
// Unknown operators evaluate false.
func (c Condition) Evaluate(pool *VariablePool) bool {
	actual, found := pool.Get(c.VariableSelector)

	switch c.ComparisonOperator {
	case "null":
		return !found || actual == nil
	case "not null":
		return found && actual != nil
	case "empty":
		return !found || isEmptyValue(actual)
	case "not empty":
		return found && !isEmptyValue(actual)
	}

	if !found {
		return false
	}

	switch c.ComparisonOperator {
	case "is", "=":
		return compareEqual(actual, c.Value)
	case "is not", "≠", "!=":
		return !compareEqual(actual, c.Value)
	case "contains":
		return containsValue(actual, c.Value)
	case "not contains":
		return !containsValue(actual, c.Value)
	case "start with":
		return strings.HasPrefix(toString(actual), toString(c.Value))
	case "end with":
		return strings.HasSuffix(toString(actual), toString(c.Value))
	case "in":
		return inSequence(c.Value, actual)
	case "not in":
		return !inSequence(c.Value, actual)
	case "all of":
		return allOf(actual, c.Value)
	case ">", "<", "≥", ">=", "≤", "<=":
		return compareNumeric(actual, c.Value, c.ComparisonOperator)
	default:
		return false
	}
}

func isEmptyValue(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return t == ""
	case []any:
		return len(t) == 0
	case []string:
		return len(t) == 0
	case map[string]any:
		return len(t) == 0
	default:
		return false
	}
}

func compareEqual(a, b any) bool {
	if af, aok := toFloat(a); aok {
		if bf, bok := toFloat(b); bok {
			return af == bf
		}
	}
	return toString(a) == toString(b)
}

func compareNumeric(a, b any, op string) bool {
	af, aok := toFloat(a)
	bf, bok := toFloat(b)
	if !aok || !bok {
		return false
	}
	switch op {
	case ">":
		return af > bf
	case "<":
		return af < bf
	case "≥", ">=":
		return af >= bf
	case "≤", "<=":
		return af <= bf
	}
	return false
}

// containsValue handles both substring checks on strings and membership
// checks on sequences.
func containsValue(haystack, needle any) bool {
	switch h := haystack.(type) {
	case string:
		return strings.Contains(h, toString(needle))
	case []any:
		for _, item := range h {
			if compareEqual(item, needle) {
				return true
			}
		}
		return false
	case []string:
		for _, item := range h {
			if compareEqual(item, needle) {
				return true
			}
		}
		return false
	default:
		return false
	}
}

// inSequence reports whether actual is a member of the expected sequence.
func inSequence(seq, actual any) bool {
	switch s := seq.(type) {
	case []any:
		for _, item := range s {
			if compareEqual(actual, item) {
				return true
			}
		}
	case []string:
		for _, item := range s {
			if compareEqual(actual, item) {
				return true
			}
		}
	}
	return false
}

// allOf reports whether every expected element is contained in actual.
func allOf(actual, expected any) bool {
	var want []any
	switch e := expected.(type) {
	case []any:
		want = e
	case []string:
		for _, s := range e {
			want = append(want, s)
		}
	default:
		return false
	}
	for _, item := range want {
		if !containsValue(actual, item) {
			return false
		}
	}
	return true
}

func toString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int:
		return strconv.Itoa(t)
	case bool:
		return strconv.FormatBool(t)
	default:
		return fmt.Sprintf("%v", t)
	}
}

func toFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case float32:
		return float64(t), true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	case json.Number:
		f, err := t.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(t, 64)
		return f, err == nil
	default:
		return 0, false
	}
}
