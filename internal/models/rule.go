package models

import (
	"time"

	"github.com/google/uuid"
)

// Rule is a prioritized condition/action unit evaluated against each
// candidate before any AI suggestion is trusted. Higher priority evaluates
// first; ties break by creation time ascending.
type Rule struct {
	ID         uuid.UUID       `json:"id" db:"id"`
	TenantID   uuid.UUID       `json:"tenant_id" db:"tenant_id"`
	Name       string          `json:"name" db:"name"`
	Priority   int             `json:"priority" db:"priority"`
	Logic      string          `json:"logic" db:"logic"` // "and" | "or"
	Conditions []RuleCondition `json:"conditions" db:"conditions"`
	Actions    []RuleAction    `json:"actions" db:"actions"`
	Enabled    bool            `json:"enabled" db:"enabled"`
	DeletedAt  *time.Time      `json:"-" db:"deleted_at"`
	CreatedAt  time.Time       `json:"created_at" db:"created_at"`
}

const (
	LogicAnd = "and"
	LogicOr  = "or"
)

const (
	FieldMerchantName = "merchant_name"
	FieldAmount       = "amount"
)

const (
	OpContains = "contains"
	OpEq       = "eq"
	OpGt       = "gt"
	OpLt       = "lt"
	OpGte      = "gte"
	OpLte      = "lte"
)

const (
	ActionSetCategory = "set_category"
	ActionSetSign     = "set_sign"
	ActionIgnore      = "ignore"
)

const (
	SignPositive = "positive"
	SignNegative = "negative"
)

// RuleCondition compares a candidate field to a value. Merchant conditions
// use string operators (contains/eq), amount conditions compare the signed
// minor-unit value (gt/lt/gte/lte/eq).
type RuleCondition struct {
	Field string `json:"field"`
	Op    string `json:"op"`
	Value string `json:"value"`
}

// RuleAction is what a matching rule does. set_category carries a category
// ID, set_sign carries "positive"/"negative", ignore carries nothing.
type RuleAction struct {
	Type  string `json:"type"`
	Value string `json:"value,omitempty"`
}

// Validate rejects malformed rules at the CRUD boundary so the evaluator can
// assume a closed, well-formed shape.
func (r *Rule) Validate() error {
	if r.Logic != LogicAnd && r.Logic != LogicOr {
		return &RuleValidationError{Field: "logic", Reason: "must be and/or"}
	}
	if len(r.Conditions) == 0 {
		return &RuleValidationError{Field: "conditions", Reason: "at least one condition required"}
	}
	if len(r.Actions) == 0 {
		return &RuleValidationError{Field: "actions", Reason: "at least one action required"}
	}
	for _, c := range r.Conditions {
		switch c.Field {
		case FieldMerchantName:
			if c.Op != OpContains && c.Op != OpEq {
				return &RuleValidationError{Field: "conditions", Reason: "merchant_name supports contains/eq only"}
			}
		case FieldAmount:
			switch c.Op {
			case OpGt, OpLt, OpGte, OpLte, OpEq:
			default:
				return &RuleValidationError{Field: "conditions", Reason: "amount supports gt/lt/gte/lte/eq only"}
			}
		default:
			return &RuleValidationError{Field: "conditions", Reason: "unknown field " + c.Field}
		}
	}
	for _, a := range r.Actions {
		switch a.Type {
		case ActionSetCategory:
			if a.Value == "" {
				return &RuleValidationError{Field: "actions", Reason: "set_category requires a category id"}
			}
		case ActionSetSign:
			if a.Value != SignPositive && a.Value != SignNegative {
				return &RuleValidationError{Field: "actions", Reason: "set_sign requires positive/negative"}
			}
		case ActionIgnore:
			if a.Value != "" {
				return &RuleValidationError{Field: "actions", Reason: "ignore carries no value"}
			}
		default:
			return &RuleValidationError{Field: "actions", Reason: "unknown action " + a.Type}
		}
	}
	return nil
}

type RuleValidationError struct {
	Field  string
	Reason string
}

func (e *RuleValidationError) Error() string {
	return "invalid rule " + e.Field + ": " + e.Reason
}
