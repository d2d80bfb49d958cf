// Package rules evaluates prioritized approval rules against invoice
// facts and emits routing actions.
package rules

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/procureflow/invoice-orchestrator/internal/fault"
)

// Operator compares a resolved field against a rule value
type Operator string

const (
	OpEquals       Operator = "equals"
	OpNotEquals    Operator = "not_equals"
	OpGreaterThan  Operator = "gt"
	OpLessThan     Operator = "lt"
	OpGreaterEqual Operator = "gte"
	OpLessEqual    Operator = "lte"
	OpContains     Operator = "contains"
	OpInList       Operator = "in_list"
	OpMatchesRegex Operator = "matches_regex"
)

// Condition logic connectors
const (
	LogicAnd = "AND"
	LogicOr  = "OR"
)

// Action types emitted by matched rules
const (
	ActionRequireApproval  = "require_approval"
	ActionAssignTo         = "assign_to"
	ActionAutoApprove      = "auto_approve"
	ActionAutoReject       = "auto_reject"
	ActionEscalate         = "escalate"
	ActionAddTag           = "add_tag"
	ActionSetPriority      = "set_priority"
	ActionSendNotification = "send_notification"
)

// Condition is one field comparison
type Condition struct {
	FieldPath string      `json:"field_path"`
	Operator  Operator    `json:"operator"`
	Value     interface{} `json:"value"`
}

// Action is one routing instruction
type Action struct {
	Type   string                 `json:"type"`
	Params map[string]interface{} `json:"params,omitempty"`
}

// IsTerminal reports whether the action ends rule evaluation
func (a Action) IsTerminal() bool {
	return a.Type == ActionAutoApprove || a.Type == ActionAutoReject
}

// Param returns a string parameter, or "" when absent
func (a Action) Param(key string) string {
	if v, ok := a.Params[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// Rule is one prioritized routing rule
type Rule struct {
	ID             string      `json:"id"`
	Name           string      `json:"name"`
	Conditions     []Condition `json:"conditions"`
	ConditionLogic string      `json:"condition_logic"`
	Actions        []Action    `json:"actions"`
	Priority       int         `json:"priority"`
	Active         bool        `json:"active"`
}

// Result aggregates actions across matched rules
type Result struct {
	Actions      []Action `json:"actions"`
	MatchedRules []string `json:"matched_rules"`
}

// HasAction reports whether an action of the given type was emitted
func (r *Result) HasAction(actionType string) bool {
	for _, a := range r.Actions {
		if a.Type == actionType {
			return true
		}
	}
	return false
}

// ActionsOf returns every emitted action of the given type
func (r *Result) ActionsOf(actionType string) []Action {
	var out []Action
	for _, a := range r.Actions {
		if a.Type == actionType {
			out = append(out, a)
		}
	}
	return out
}

// Engine evaluates rules against invoice facts. Facts are a nested map
// resolved by dotted field paths.
type Engine struct {
	rules  []Rule
	logger *zap.Logger
}

// NewEngine creates an engine over the given rule set
func NewEngine(rules []Rule, logger *zap.Logger) *Engine {
	return &Engine{rules: rules, logger: logger}
}

// Evaluate runs active rules in priority order, highest first.
// Non-terminal actions accumulate; the first matched rule carrying a
// terminal action stops iteration.
func (e *Engine) Evaluate(facts map[string]interface{}) *Result {
	active := make([]Rule, 0, len(e.rules))
	for _, r := range e.rules {
		if r.Active {
			active = append(active, r)
		}
	}
	sort.SliceStable(active, func(i, j int) bool { return active[i].Priority > active[j].Priority })

	result := &Result{}
	for _, rule := range active {
		matched, err := e.matches(rule, facts)
		if err != nil {
			e.logger.Warn("rule evaluation failed, skipping rule",
				zap.String("rule_id", rule.ID),
				zap.Error(err))
			continue
		}
		if !matched {
			continue
		}

		result.MatchedRules = append(result.MatchedRules, rule.ID)
		result.Actions = append(result.Actions, rule.Actions...)

		for _, a := range rule.Actions {
			if a.IsTerminal() {
				return result
			}
		}
	}
	return result
}

func (e *Engine) matches(rule Rule, facts map[string]interface{}) (bool, error) {
	if len(rule.Conditions) == 0 {
		return false, nil
	}

	logic := rule.ConditionLogic
	if logic == "" {
		logic = LogicAnd
	}

	for _, cond := range rule.Conditions {
		ok, err := evaluateCondition(cond, facts)
		if err != nil {
			return false, err
		}
		if logic == LogicOr && ok {
			return true, nil
		}
		if logic == LogicAnd && !ok {
			return false, nil
		}
	}
	return logic == LogicAnd, nil
}

func evaluateCondition(cond Condition, facts map[string]interface{}) (bool, error) {
	value, found := Resolve(facts, cond.FieldPath)
	if !found {
		// A missing field never matches; it is not an error
		return false, nil
	}

	switch cond.Operator {
	case OpEquals:
		return equal(value, cond.Value), nil
	case OpNotEquals:
		return !equal(value, cond.Value), nil
	case OpGreaterThan, OpLessThan, OpGreaterEqual, OpLessEqual:
		return compareNumeric(value, cond.Value, cond.Operator)
	case OpContains:
		return containsFold(value, cond.Value), nil
	case OpInList:
		return inList(value, cond.Value), nil
	case OpMatchesRegex:
		pattern, ok := cond.Value.(string)
		if !ok {
			return false, fault.Newf(fault.KindInvalidInput, "matches_regex needs a string pattern, got %T", cond.Value)
		}
		re, err := regexp.Compile(pattern)
		if err != nil {
			return false, fault.Wrap(fault.KindInvalidInput, err, "bad regex in rule condition")
		}
		return re.MatchString(fmt.Sprintf("%v", value)), nil
	default:
		return false, fault.Newf(fault.KindInvalidInput, "unknown operator %q", cond.Operator)
	}
}

func equal(a, b interface{}) bool {
	af, aok := toFloat(a)
	bf, bok := toFloat(b)
	if aok && bok {
		return af == bf
	}
	return fmt.Sprintf("%v", a) == fmt.Sprintf("%v", b)
}

func compareNumeric(a, b interface{}, op Operator) (bool, error) {
	af, aok := toFloat(a)
	bf, bok := toFloat(b)
	if !aok || !bok {
		return false, fault.Newf(fault.KindInvalidInput, "operator %s needs numeric operands, got %T and %T", op, a, b)
	}
	switch op {
	case OpGreaterThan:
		return af > bf, nil
	case OpLessThan:
		return af < bf, nil
	case OpGreaterEqual:
		return af >= bf, nil
	default:
		return af <= bf, nil
	}
}

func containsFold(haystack, needle interface{}) bool {
	// Over a list, contains is membership; over strings, substring
	if list, ok := haystack.([]string); ok {
		n := fmt.Sprintf("%v", needle)
		for _, item := range list {
			if strings.EqualFold(item, n) {
				return true
			}
		}
		return false
	}
	if list, ok := haystack.([]interface{}); ok {
		n := fmt.Sprintf("%v", needle)
		for _, item := range list {
			if strings.EqualFold(fmt.Sprintf("%v", item), n) {
				return true
			}
		}
		return false
	}
	return strings.Contains(
		strings.ToLower(fmt.Sprintf("%v", haystack)),
		strings.ToLower(fmt.Sprintf("%v", needle)))
}

func inList(value, list interface{}) bool {
	switch items := list.(type) {
	case []interface{}:
		for _, item := range items {
			if equal(value, item) {
				return true
			}
		}
	case []string:
		for _, item := range items {
			if equal(value, item) {
				return true
			}
		}
	case []float64:
		for _, item := range items {
			if equal(value, item) {
				return true
			}
		}
	}
	return false
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}

// Resolve walks a dotted path through nested maps
func Resolve(facts map[string]interface{}, path string) (interface{}, bool) {
	parts := strings.Split(path, ".")
	var current interface{} = facts
	for _, part := range parts {
		m, ok := current.(map[string]interface{})
		if !ok {
			return nil, false
		}
		current, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return current, true
}
