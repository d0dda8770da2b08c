package workflow

import "testing"

func conditionPool() *VariablePool {
	pool := NewVariablePool(SystemIdentity{}, nil, nil, nil, nil)
	pool.Add([]string{"node", "text"}, "hello world")
	pool.Add([]string{"node", "count"}, 42)
	pool.Add([]string{"node", "ratio"}, 0.5)
	pool.Add([]string{"node", "tags"}, []any{"a", "b"})
	pool.Add([]string{"node", "empty"}, "")
	pool.Add([]string{"node", "flag"}, true)
	return pool
}

func TestCondition_Evaluate(t *testing.T) {
	pool := conditionPool()

	cases := []struct {
		name     string
		selector []string
		op       string
		value    any
		want     bool
	}{
		{"is match", []string{"node", "text"}, "is", "hello world", true},
		{"is mismatch", []string{"node", "text"}, "is", "bye", false},
		{"equals numeric cross-type", []string{"node", "count"}, "=", "42", true},
		{"is not", []string{"node", "text"}, "is not", "bye", true},
		{"contains substring", []string{"node", "text"}, "contains", "lo wo", true},
		{"contains sequence member", []string{"node", "tags"}, "contains", "b", true},
		{"not contains", []string{"node", "tags"}, "not contains", "z", true},
		{"start with", []string{"node", "text"}, "start with", "hello", true},
		{"end with", []string{"node", "text"}, "end with", "world", true},
		{"greater than", []string{"node", "count"}, ">", 40, true},
		{"greater than float value", []string{"node", "ratio"}, ">", 0.4, true},
		{"less or equal", []string{"node", "count"}, "<=", 42, true},
		{"unicode ge", []string{"node", "count"}, "≥", 43, false},
		{"numeric against string actual", []string{"node", "text"}, ">", 1, false},
		{"in", []string{"node", "count"}, "in", []any{41, 42}, true},
		{"not in", []string{"node", "count"}, "not in", []any{1, 2}, true},
		{"all of", []string{"node", "tags"}, "all of", []any{"a", "b"}, true},
		{"all of missing member", []string{"node", "tags"}, "all of", []any{"a", "z"}, false},
		{"null on missing", []string{"node", "ghost"}, "null", nil, true},
		{"not null", []string{"node", "text"}, "not null", nil, true},
		{"empty string", []string{"node", "empty"}, "empty", nil, true},
		{"empty on missing", []string{"node", "ghost"}, "empty", nil, true},
		{"not empty", []string{"node", "text"}, "not empty", nil, true},
		{"missing var fails comparison", []string{"node", "ghost"}, "is", "x", false},
		{"unknown operator", []string{"node", "text"}, "resembles", "x", false},
		{"bool equality", []string{"node", "flag"}, "is", true, true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := Condition{
				VariableSelector:   tc.selector,
				ComparisonOperator: tc.op,
				Value:              tc.value,
			}
			if got := c.Evaluate(pool); got != tc.want {
				t.Errorf("Evaluate = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestEvaluateConditions(t *testing.T) {
	pool := conditionPool()
	match := Condition{VariableSelector: []string{"node", "text"}, ComparisonOperator: "is", Value: "hello world"}
	miss := Condition{VariableSelector: []string{"node", "text"}, ComparisonOperator: "is", Value: "bye"}

	t.Run("empty list is true", func(t *testing.T) {
		if !EvaluateConditions(pool, nil, "and") {
			t.Error("empty conditions should evaluate true")
		}
	})

	t.Run("and", func(t *testing.T) {
		if EvaluateConditions(pool, []Condition{match, miss}, "and") {
			t.Error("and with one miss should be false")
		}
		if !EvaluateConditions(pool, []Condition{match, match}, "and") {
			t.Error("and with all matches should be true")
		}
	})

	t.Run("or", func(t *testing.T) {
		if !EvaluateConditions(pool, []Condition{miss, match}, "or") {
			t.Error("or with one match should be true")
		}
		if EvaluateConditions(pool, []Condition{miss, miss}, "or") {
			t.Error("or with no match should be false")
		}
	})
}

func TestRunCondition_Check(t *testing.T) {
	pool := conditionPool()

	t.Run("branch identifier", func(t *testing.T) {
		cond := &RunCondition{Type: RunConditionBranchIdentifier, BranchIdentifier: "case_a"}
		source := &RouteNodeState{NodeRunResult: &NodeRunResult{EdgeSourceHandle: "case_a"}}
		if !cond.Check(pool, source) {
			t.Error("matching handle should pass")
		}
		source.NodeRunResult.EdgeSourceHandle = "case_b"
		if cond.Check(pool, source) {
			t.Error("mismatching handle should fail")
		}
		if cond.Check(pool, &RouteNodeState{}) {
			t.Error("source without result should fail")
		}
	})

	t.Run("condition", func(t *testing.T) {
		cond := &RunCondition{
			Type: RunConditionCondition,
			Conditions: []Condition{
				{VariableSelector: []string{"node", "count"}, ComparisonOperator: ">", Value: 40},
			},
		}
		if !cond.Check(pool, nil) {
			t.Error("matching condition should pass")
		}
	})
}

func TestRunCondition_Hash(t *testing.T) {
	a := &RunCondition{Type: RunConditionBranchIdentifier, BranchIdentifier: "x"}
	b := &RunCondition{Type: RunConditionBranchIdentifier, BranchIdentifier: "x"}
	c := &RunCondition{Type: RunConditionBranchIdentifier, BranchIdentifier: "y"}

	if a.Hash() != b.Hash() {
		t.Error("equal conditions must hash equal")
	}
	if a.Hash() == c.Hash() {
		t.Error("different conditions must hash differently")
	}

	var nilCond *RunCondition
	if nilCond.Hash() != "" {
		t.Error("nil condition hashes to empty string")
	}
}
