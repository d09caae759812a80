package rules

import (
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/spendsight/spendsight/internal/models"
)

// Result is the outcome of evaluating one candidate against a rule set.
// CategoryOverride and AmountOverride are nil when no matching rule set them.
type Result struct {
	Skip             bool
	CategoryOverride *uuid.UUID
	AmountOverride   *int64
	RulesApplied     int
}

// Evaluate runs the candidate through the given rules in the given order
// (callers pass rules ordered by priority descending, creation ascending).
// An ignore action halts evaluation immediately; rules after it are never
// looked at. Pure function, no I/O.
func Evaluate(c models.Candidate, ruleSet []models.Rule) Result {
	var res Result

	amount := c.AmountMinor
	for _, r := range ruleSet {
		if !r.Enabled || r.DeletedAt != nil {
			continue
		}
		if !match(c, amount, r) {
			continue
		}
		res.RulesApplied++

		for _, a := range r.Actions {
			switch a.Type {
			case models.ActionSetCategory:
				if id, err := uuid.Parse(a.Value); err == nil {
					res.CategoryOverride = &id
				}
			case models.ActionSetSign:
				forced := forceSign(amount, a.Value)
				amount = forced
				res.AmountOverride = &forced
			case models.ActionIgnore:
				res.Skip = true
				return res
			}
		}
	}

	return res
}

// match evaluates the rule's conditions with its logic operator. The amount
// argument reflects any sign override applied by an earlier rule.
func match(c models.Candidate, amount int64, r models.Rule) bool {
	if len(r.Conditions) == 0 {
		return false
	}

	for _, cond := range r.Conditions {
		ok := matchCondition(c, amount, cond)
		if r.Logic == models.LogicOr && ok {
			return true
		}
		if r.Logic != models.LogicOr && !ok {
			return false
		}
	}
	// "and": every condition held; "or": none did.
	return r.Logic != models.LogicOr
}

func matchCondition(c models.Candidate, amount int64, cond models.RuleCondition) bool {
	switch cond.Field {
	case models.FieldMerchantName:
		merchant := strings.ToLower(c.MerchantName)
		value := strings.ToLower(cond.Value)
		switch cond.Op {
		case models.OpContains:
			return strings.Contains(merchant, value)
		case models.OpEq:
			return merchant == value
		}
	case models.FieldAmount:
		cmp, err := strconv.ParseInt(cond.Value, 10, 64)
		if err != nil {
			return false
		}
		switch cond.Op {
		case models.OpGt:
			return amount > cmp
		case models.OpLt:
			return amount < cmp
		case models.OpGte:
			return amount >= cmp
		case models.OpLte:
			return amount <= cmp
		case models.OpEq:
			return amount == cmp
		}
	}
	return false
}

// forceSign sets the sign of amount without changing its magnitude.
func forceSign(amount int64, sign string) int64 {
	mag := amount
	if mag < 0 {
		mag = -mag
	}
	if sign == models.SignNegative {
		return -mag
	}
	return mag
}
