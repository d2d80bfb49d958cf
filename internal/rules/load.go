package rules

import (
	"encoding/json"

	"github.com/procureflow/invoice-orchestrator/internal/fault"
)

// ruleFile is the on-disk rule set layout: {"rules": [...]}.
// Omitted active defaults to true, omitted condition_logic to AND.
type ruleFile struct {
	Rules []struct {
		ID             string      `json:"id"`
		Name           string      `json:"name"`
		Conditions     []Condition `json:"conditions"`
		ConditionLogic string      `json:"condition_logic"`
		Actions        []Action    `json:"actions"`
		Priority       int         `json:"priority"`
		Active         *bool       `json:"active"`
	} `json:"rules"`
}

// RulesFromJSON decodes a tenant rule set from its JSON representation
func RulesFromJSON(raw []byte) ([]Rule, error) {
	var f ruleFile
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, fault.Wrap(fault.KindInvalidInput, err, "invalid rule set json")
	}

	rules := make([]Rule, 0, len(f.Rules))
	for _, r := range f.Rules {
		if r.ID == "" {
			return nil, fault.New(fault.KindInvalidInput, "rule without id")
		}
		if len(r.Conditions) == 0 {
			return nil, fault.Newf(fault.KindInvalidInput, "rule %s has no conditions", r.ID)
		}
		logic := r.ConditionLogic
		if logic == "" {
			logic = LogicAnd
		}
		active := true
		if r.Active != nil {
			active = *r.Active
		}
		rules = append(rules, Rule{
			ID:             r.ID,
			Name:           r.Name,
			Conditions:     r.Conditions,
			ConditionLogic: logic,
			Actions:        r.Actions,
			Priority:       r.Priority,
			Active:         active,
		})
	}
	return rules, nil
}

// RequiredApprovers evaluates the facts and returns the distinct
// approval levels demanded by require_approval actions, in match order
func (e *Engine) RequiredApprovers(facts map[string]interface{}) []string {
	result := e.Evaluate(facts)

	var levels []string
	seen := make(map[string]bool)
	for _, a := range result.ActionsOf(ActionRequireApproval) {
		level := a.Param("level")
		if level == "" {
			level = "default"
		}
		if !seen[level] {
			seen[level] = true
			levels = append(levels, level)
		}
	}
	return levels
}
