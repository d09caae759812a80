package pipeline

import (
	"context"
	"testing"

	"github.com/spendsight/spendsight/internal/models"
)

func TestValidateAcceptsStatement(t *testing.T) {
	inf := &fakeInference{responses: []string{
		`{"is_statement":true,"subtype":"credit-card"}`,
	}}
	v := NewValidator(inf, "test-model")

	res, err := v.Validate(context.Background(), [][]byte{{0x01}})
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if !res.Valid {
		t.Fatal("expected a valid verdict")
	}
	if res.Subtype != models.SubtypeCreditCard {
		t.Errorf("subtype = %q, want credit-card", res.Subtype)
	}
}

func TestValidateUnknownSubtypeNormalized(t *testing.T) {
	inf := &fakeInference{responses: []string{
		`{"is_statement":true,"subtype":"mortgage"}`,
	}}
	v := NewValidator(inf, "test-model")

	res, err := v.Validate(context.Background(), [][]byte{{0x01}})
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if res.Subtype != models.SubtypeUnknown {
		t.Errorf("subtype = %q, want unknown", res.Subtype)
	}
}

func TestValidateRejectionVocabulary(t *testing.T) {
	tests := []struct {
		name     string
		response string
		want     string
	}{
		{"known reason", `{"is_statement":false,"subtype":"","reason":"unreadable_scan"}`, ReasonUnreadable},
		{"unknown reason falls back", `{"is_statement":false,"subtype":"","reason":"looks weird"}`, ReasonNotAStatement},
		{"missing reason falls back", `{"is_statement":false,"subtype":""}`, ReasonNotAStatement},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := NewValidator(&fakeInference{responses: []string{tt.response}}, "test-model")
			res, err := v.Validate(context.Background(), [][]byte{{0x01}})
			if err != nil {
				t.Fatalf("Validate: %v", err)
			}
			if res.Valid {
				t.Fatal("expected a rejection")
			}
			if res.Reason != tt.want {
				t.Errorf("reason = %q, want %q", res.Reason, tt.want)
			}
		})
	}
}

func TestRejectionTextNeverLeaksInternals(t *testing.T) {
	if got := RejectionText("pdf parse error: EOF"); got != genericFailureReason {
		t.Errorf("unknown reasons must map to the generic text, got %q", got)
	}
	for reason, text := range rejectionText {
		if RejectionText(reason) != text {
			t.Errorf("vocabulary key %q should map to its text", reason)
		}
	}
}
