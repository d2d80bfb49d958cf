package rules

// Approval levels referenced by require_approval and escalate actions
const (
	LevelManager   = "manager"
	LevelDirector  = "director"
	LevelExecutive = "executive"
)

// DefaultRules returns the stock routing rule set over the tiered
// approval thresholds (small, medium, large currency amounts).
func DefaultRules(tierSmall, tierMedium, tierLarge float64) []Rule {
	return []Rule{
		{
			ID:   "high-risk-vendor",
			Name: "Escalate vendors marked high or critical risk",
			Conditions: []Condition{
				{FieldPath: "vendor.risk_level", Operator: OpInList, Value: []string{"high", "critical"}},
			},
			ConditionLogic: LogicAnd,
			Actions: []Action{
				{Type: ActionEscalate, Params: map[string]interface{}{"to": LevelDirector}},
				{Type: ActionAddTag, Params: map[string]interface{}{"tag": "high_risk_vendor"}},
				{Type: ActionRequireApproval, Params: map[string]interface{}{"level": LevelDirector}},
			},
			Priority: 100,
			Active:   true,
		},
		{
			ID:   "duplicate-review",
			Name: "Force review when duplicate detection flagged the invoice",
			Conditions: []Condition{
				{FieldPath: "anomalies", Operator: OpContains, Value: "duplicate_suspected"},
			},
			ConditionLogic: LogicAnd,
			Actions: []Action{
				{Type: ActionAddTag, Params: map[string]interface{}{"tag": "duplicate_review"}},
				{Type: ActionRequireApproval, Params: map[string]interface{}{"level": LevelManager}},
				{Type: ActionSetPriority, Params: map[string]interface{}{"level": "high"}},
			},
			Priority: 95,
			Active:   true,
		},
		{
			ID:   "auto-approve-small",
			Name: "Auto-approve small invoices from verified low-risk vendors",
			Conditions: []Condition{
				{FieldPath: "amount", Operator: OpLessThan, Value: tierSmall},
				{FieldPath: "vendor.verified", Operator: OpEquals, Value: true},
				{FieldPath: "risk_level", Operator: OpEquals, Value: "low"},
			},
			ConditionLogic: LogicAnd,
			Actions: []Action{
				{Type: ActionAutoApprove},
			},
			Priority: 90,
			Active:   true,
		},
		{
			ID:   "executive-tier",
			Name: "Executive approval for the largest invoices",
			Conditions: []Condition{
				{FieldPath: "amount", Operator: OpGreaterEqual, Value: tierLarge},
			},
			ConditionLogic: LogicAnd,
			Actions: []Action{
				{Type: ActionRequireApproval, Params: map[string]interface{}{"level": LevelExecutive}},
				{Type: ActionSetPriority, Params: map[string]interface{}{"level": "urgent"}},
			},
			Priority: 80,
			Active:   true,
		},
		{
			ID:   "director-tier",
			Name: "Director approval for large invoices",
			Conditions: []Condition{
				{FieldPath: "amount", Operator: OpGreaterEqual, Value: tierMedium},
				{FieldPath: "amount", Operator: OpLessThan, Value: tierLarge},
			},
			ConditionLogic: LogicAnd,
			Actions: []Action{
				{Type: ActionRequireApproval, Params: map[string]interface{}{"level": LevelDirector}},
			},
			Priority: 70,
			Active:   true,
		},
		{
			ID:   "manager-tier",
			Name: "Manager approval for mid-size invoices",
			Conditions: []Condition{
				{FieldPath: "amount", Operator: OpGreaterEqual, Value: tierSmall},
				{FieldPath: "amount", Operator: OpLessThan, Value: tierMedium},
			},
			ConditionLogic: LogicAnd,
			Actions: []Action{
				{Type: ActionRequireApproval, Params: map[string]interface{}{"level": LevelManager}},
			},
			Priority: 60,
			Active:   true,
		},
		{
			ID:   "small-invoice-review",
			Name: "Manager review for small invoices that were not auto-approved",
			Conditions: []Condition{
				{FieldPath: "amount", Operator: OpLessThan, Value: tierSmall},
			},
			ConditionLogic: LogicAnd,
			Actions: []Action{
				{Type: ActionRequireApproval, Params: map[string]interface{}{"level": LevelManager}},
			},
			Priority: 10,
			Active:   true,
		},
	}
}
