package pipeline

import (
	"context"
	"fmt"

	"github.com/spendsight/spendsight/internal/inference"
	"github.com/spendsight/spendsight/internal/llm"
	"github.com/spendsight/spendsight/internal/models"
)

// ValidationResult classifies an upload as a statement of a known subtype or
// rejects it with a reason from the controlled vocabulary below.
type ValidationResult struct {
	Valid   bool
	Reason  string // vocabulary key, empty when valid
	Subtype string
}

// Controlled rejection vocabulary. These keys are the only failure causes
// ever surfaced verbatim to users, and they select the notification template
// variant.
const (
	ReasonNotAStatement = "not_a_statement"
	ReasonUnreadable    = "unreadable_scan"
	ReasonUnsupported   = "unsupported_document"
)

var rejectionText = map[string]string{
	ReasonNotAStatement: "This file doesn't look like a bank or credit-card statement.",
	ReasonUnreadable:    "We couldn't read this scan. Please upload a clearer copy.",
	ReasonUnsupported:   "This document type isn't supported. Please upload a bank or credit-card statement.",
}

// RejectionText returns the user-facing text for a vocabulary key, falling
// back to the generic failure message for anything unknown.
func RejectionText(reason string) string {
	if t, ok := rejectionText[reason]; ok {
		return t
	}
	return genericFailureReason
}

// Validator decides once, on a bounded page prefix, whether a document is a
// legitimate statement. Its verdict is not re-checked later in the pipeline.
type Validator struct {
	inf   inference.Client
	model string
}

func NewValidator(inf inference.Client, model string) *Validator {
	return &Validator{inf: inf, model: model}
}

type validatorOutput struct {
	IsStatement bool   `json:"is_statement"`
	Subtype     string `json:"subtype"`
	Reason      string `json:"reason"`
}

func (v *Validator) Validate(ctx context.Context, pages [][]byte) (*ValidationResult, error) {
	var out validatorOutput
	err := v.inf.GenerateStructured(ctx, inference.Request{
		Model:  v.model,
		System: validatorSystemPrompt,
		Messages: []llm.Message{{
			Role:    "user",
			Content: fmt.Sprintf("Here are the first %d page(s) of the uploaded document.", len(pages)),
			Images:  pages,
		}},
		Schema: []inference.SchemaField{
			{Name: "is_statement", Type: "boolean", Description: "true only for a legitimate bank/savings/credit-card statement", Required: true},
			{Name: "subtype", Type: "string", Description: "one of: checking, savings, credit-card, unknown", Required: true},
			{Name: "reason", Type: "string", Description: "when not a statement, one of: not_a_statement, unreadable_scan, unsupported_document", Required: false},
		},
	}, &out)
	if err != nil {
		return nil, fmt.Errorf("validate document: %w", err)
	}

	if !out.IsStatement {
		reason := out.Reason
		if _, ok := rejectionText[reason]; !ok {
			reason = ReasonNotAStatement
		}
		return &ValidationResult{Valid: false, Reason: reason, Subtype: models.SubtypeUnknown}, nil
	}

	subtype := out.Subtype
	switch subtype {
	case models.SubtypeChecking, models.SubtypeSavings, models.SubtypeCreditCard:
	default:
		subtype = models.SubtypeUnknown
	}
	return &ValidationResult{Valid: true, Subtype: subtype}, nil
}
