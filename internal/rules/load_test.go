package rules

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/procureflow/invoice-orchestrator/internal/fault"
)

func TestRulesFromJSON(t *testing.T) {
	raw := []byte(`{
		"rules": [
			{
				"id": "big-ticket",
				"name": "Large invoices need a director",
				"conditions": [
					{"field_path": "amount", "operator": "gte", "value": 5000}
				],
				"actions": [
					{"type": "require_approval", "params": {"level": "director"}}
				],
				"priority": 80
			},
			{
				"id": "disabled-rule",
				"conditions": [
					{"field_path": "amount", "operator": "gt", "value": 0}
				],
				"actions": [{"type": "add_tag", "params": {"tag": "never"}}],
				"active": false
			}
		]
	}`)

	rules, err := RulesFromJSON(raw)
	require.NoError(t, err)
	require.Len(t, rules, 2)

	assert.True(t, rules[0].Active, "omitted active defaults to true")
	assert.Equal(t, LogicAnd, rules[0].ConditionLogic)
	assert.False(t, rules[1].Active)

	engine := NewEngine(rules, zap.NewNop())
	result := engine.Evaluate(map[string]interface{}{"amount": 7500.0})
	assert.Equal(t, []string{"big-ticket"}, result.MatchedRules)
	assert.False(t, result.HasAction(ActionAddTag), "inactive rule must not fire")
}

func TestRulesFromJSON_Invalid(t *testing.T) {
	cases := []struct {
		name string
		raw  string
	}{
		{"malformed", `{"rules": [`},
		{"missing id", `{"rules": [{"conditions": [{"field_path": "a", "operator": "gt", "value": 1}], "actions": []}]}`},
		{"no conditions", `{"rules": [{"id": "r1", "actions": []}]}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := RulesFromJSON([]byte(tc.raw))
			assert.Equal(t, fault.KindInvalidInput, fault.KindOf(err))
		})
	}
}

func TestRequiredApprovers(t *testing.T) {
	engine := NewEngine(DefaultRules(500, 5000, 25000), zap.NewNop())

	facts := map[string]interface{}{
		"amount":    50000.0,
		"anomalies": []string{},
		"vendor": map[string]interface{}{
			"verified":   true,
			"risk_level": "low",
		},
	}
	levels := engine.RequiredApprovers(facts)
	assert.Contains(t, levels, LevelExecutive)

	facts["amount"] = 1200.0
	levels = engine.RequiredApprovers(facts)
	assert.Equal(t, []string{LevelManager}, levels)
}
