package rules

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/spendsight/spendsight/internal/models"
)

func merchantRule(name string, priority int, op, value string, actions ...models.RuleAction) models.Rule {
	return models.Rule{
		ID:       uuid.New(),
		Name:     name,
		Priority: priority,
		Logic:    models.LogicAnd,
		Enabled:  true,
		Conditions: []models.RuleCondition{
			{Field: models.FieldMerchantName, Op: op, Value: value},
		},
		Actions: actions,
	}
}

func TestEvaluateMerchantMatchingIsCaseInsensitive(t *testing.T) {
	cat := uuid.New()
	ruleSet := []models.Rule{
		merchantRule("netflix", 10, models.OpContains, "NETFLIX",
			models.RuleAction{Type: models.ActionSetCategory, Value: cat.String()}),
	}

	res := Evaluate(models.Candidate{MerchantName: "netflix.com 0393"}, ruleSet)
	if res.RulesApplied != 1 {
		t.Fatalf("rules applied = %d, want 1", res.RulesApplied)
	}
	if res.CategoryOverride == nil || *res.CategoryOverride != cat {
		t.Error("contains match should set the category override")
	}

	res = Evaluate(models.Candidate{MerchantName: "Hulu"}, ruleSet)
	if res.RulesApplied != 0 || res.CategoryOverride != nil {
		t.Error("non-matching merchant must not trigger the rule")
	}
}

func TestEvaluateIgnoreHaltsImmediately(t *testing.T) {
	later := uuid.New()
	ruleSet := []models.Rule{
		merchantRule("drop transfers", 20, models.OpContains, "transfer",
			models.RuleAction{Type: models.ActionIgnore}),
		merchantRule("categorize transfers", 10, models.OpContains, "transfer",
			models.RuleAction{Type: models.ActionSetCategory, Value: later.String()}),
	}

	res := Evaluate(models.Candidate{MerchantName: "Internal Transfer"}, ruleSet)
	if !res.Skip {
		t.Fatal("ignore action must skip the candidate")
	}
	if res.RulesApplied != 1 {
		t.Errorf("rules applied = %d, want 1 (evaluation halts at ignore)", res.RulesApplied)
	}
	if res.CategoryOverride != nil {
		t.Error("rules after ignore must never run")
	}
}

func TestEvaluateAmountOperators(t *testing.T) {
	tests := []struct {
		op     string
		value  string
		amount int64
		want   bool
	}{
		{models.OpGt, "1000", 1001, true},
		{models.OpGt, "1000", 1000, false},
		{models.OpGte, "1000", 1000, true},
		{models.OpLt, "0", -500, true},
		{models.OpLte, "-500", -500, true},
		{models.OpEq, "250", 250, true},
		{models.OpEq, "250", 251, false},
	}
	for _, tt := range tests {
		ruleSet := []models.Rule{{
			ID: uuid.New(), Name: "amt", Priority: 1, Logic: models.LogicAnd, Enabled: true,
			Conditions: []models.RuleCondition{{Field: models.FieldAmount, Op: tt.op, Value: tt.value}},
			Actions:    []models.RuleAction{{Type: models.ActionIgnore}},
		}}
		res := Evaluate(models.Candidate{MerchantName: "x", AmountMinor: tt.amount}, ruleSet)
		if res.Skip != tt.want {
			t.Errorf("amount %d %s %s: matched = %v, want %v", tt.amount, tt.op, tt.value, res.Skip, tt.want)
		}
	}
}

func TestEvaluateOrLogic(t *testing.T) {
	ruleSet := []models.Rule{{
		ID: uuid.New(), Name: "either", Priority: 1, Logic: models.LogicOr, Enabled: true,
		Conditions: []models.RuleCondition{
			{Field: models.FieldMerchantName, Op: models.OpEq, Value: "uber"},
			{Field: models.FieldMerchantName, Op: models.OpEq, Value: "lyft"},
		},
		Actions: []models.RuleAction{{Type: models.ActionIgnore}},
	}}

	if !Evaluate(models.Candidate{MerchantName: "Lyft"}, ruleSet).Skip {
		t.Error("or-logic should match on the second condition")
	}
	if Evaluate(models.Candidate{MerchantName: "Bolt"}, ruleSet).Skip {
		t.Error("or-logic should not match when no condition holds")
	}
}

func TestEvaluateSignOverrideChainsIntoLaterRules(t *testing.T) {
	cat := uuid.New()
	ruleSet := []models.Rule{
		merchantRule("refunds are income", 20, models.OpContains, "refund",
			models.RuleAction{Type: models.ActionSetSign, Value: models.SignNegative}),
		{
			ID: uuid.New(), Name: "large income", Priority: 10, Logic: models.LogicAnd, Enabled: true,
			Conditions: []models.RuleCondition{{Field: models.FieldAmount, Op: models.OpLt, Value: "0"}},
			Actions:    []models.RuleAction{{Type: models.ActionSetCategory, Value: cat.String()}},
		},
	}

	// Extracted as a positive (expense) amount; the first rule flips it.
	res := Evaluate(models.Candidate{MerchantName: "AMAZON REFUND", AmountMinor: 4999}, ruleSet)
	if res.AmountOverride == nil || *res.AmountOverride != -4999 {
		t.Fatalf("amount override = %v, want -4999", res.AmountOverride)
	}
	if res.CategoryOverride == nil || *res.CategoryOverride != cat {
		t.Error("second rule should see the flipped amount")
	}
	if res.RulesApplied != 2 {
		t.Errorf("rules applied = %d, want 2", res.RulesApplied)
	}
}

func TestEvaluateSkipsDisabledAndDeleted(t *testing.T) {
	now := time.Now()
	disabled := merchantRule("off", 10, models.OpContains, "shop",
		models.RuleAction{Type: models.ActionIgnore})
	disabled.Enabled = false

	deleted := merchantRule("gone", 5, models.OpContains, "shop",
		models.RuleAction{Type: models.ActionIgnore})
	deleted.DeletedAt = &now

	res := Evaluate(models.Candidate{MerchantName: "Coffee Shop"}, []models.Rule{disabled, deleted})
	if res.Skip || res.RulesApplied != 0 {
		t.Error("disabled and deleted rules must not run")
	}
}

func TestEvaluateLastCategoryOverrideWins(t *testing.T) {
	first, second := uuid.New(), uuid.New()
	ruleSet := []models.Rule{
		merchantRule("high", 20, models.OpContains, "store",
			models.RuleAction{Type: models.ActionSetCategory, Value: first.String()}),
		merchantRule("low", 10, models.OpContains, "store",
			models.RuleAction{Type: models.ActionSetCategory, Value: second.String()}),
	}

	res := Evaluate(models.Candidate{MerchantName: "Corner Store"}, ruleSet)
	if res.RulesApplied != 2 {
		t.Fatalf("rules applied = %d, want 2", res.RulesApplied)
	}
	if res.CategoryOverride == nil || *res.CategoryOverride != second {
		t.Error("the later rule in evaluation order should win the category")
	}
}

func TestEvaluateDeterministicAcrossRuns(t *testing.T) {
	cat := uuid.New()
	ruleSet := []models.Rule{
		merchantRule("netflix", 10, models.OpContains, "netflix",
			models.RuleAction{Type: models.ActionSetCategory, Value: cat.String()}),
	}
	c := models.Candidate{MerchantName: "NETFLIX.COM", AmountMinor: 1599}

	first := Evaluate(c, ruleSet)
	for i := 0; i < 50; i++ {
		got := Evaluate(c, ruleSet)
		if got.RulesApplied != first.RulesApplied || got.Skip != first.Skip {
			t.Fatal("evaluation must be deterministic for identical input")
		}
		if (got.CategoryOverride == nil) != (first.CategoryOverride == nil) {
			t.Fatal("evaluation must be deterministic for identical input")
		}
	}
}
