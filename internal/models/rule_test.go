package models

import "testing"

func validRule() *Rule {
	return &Rule{
		Name:  "test",
		Logic: LogicAnd,
		Conditions: []RuleCondition{
			{Field: FieldMerchantName, Op: OpContains, Value: "netflix"},
		},
		Actions: []RuleAction{
			{Type: ActionIgnore},
		},
	}
}

func TestRuleValidate(t *testing.T) {
	if err := validRule().Validate(); err != nil {
		t.Fatalf("valid rule rejected: %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*Rule)
	}{
		{"bad logic", func(r *Rule) { r.Logic = "xor" }},
		{"no conditions", func(r *Rule) { r.Conditions = nil }},
		{"no actions", func(r *Rule) { r.Actions = nil }},
		{"unknown field", func(r *Rule) { r.Conditions[0].Field = "description" }},
		{"merchant with numeric op", func(r *Rule) { r.Conditions[0].Op = OpGt }},
		{"amount with contains", func(r *Rule) {
			r.Conditions[0] = RuleCondition{Field: FieldAmount, Op: OpContains, Value: "10"}
		}},
		{"set_category without value", func(r *Rule) {
			r.Actions[0] = RuleAction{Type: ActionSetCategory}
		}},
		{"set_sign with bad value", func(r *Rule) {
			r.Actions[0] = RuleAction{Type: ActionSetSign, Value: "flip"}
		}},
		{"ignore with value", func(r *Rule) {
			r.Actions[0] = RuleAction{Type: ActionIgnore, Value: "yes"}
		}},
		{"unknown action", func(r *Rule) { r.Actions[0].Type = "delete_everything" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := validRule()
			tt.mutate(r)
			if err := r.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}
