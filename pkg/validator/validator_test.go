package validator

import (
	"testing"

	"github.com/go-playground/validator/v10"
)

type lockPayload struct {
	Type    string `json:"type" validate:"required,oneof=section_lock section_unlock"`
	Section string `json:"section" validate:"required,max=16,section"`
}

func TestValidateStructSuccess(t *testing.T) {
	payload := lockPayload{
		Type:    "section_lock",
		Section: "methods",
	}

	if err := ValidateStruct(payload); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
}

func TestValidateStructFailures(t *testing.T) {
	payload := lockPayload{
		Type:    "section_steal",
		Section: "",
	}

	err := ValidateStruct(payload)
	if err == nil {
		t.Fatal("expected validation error")
	}

	vErrs, ok := err.(ValidationErrors)
	if !ok {
		t.Fatalf("expected ValidationErrors, got %T", err)
	}

	if len(vErrs) != 2 {
		t.Fatalf("expected 2 validation errors, got %d", len(vErrs))
	}

	foundSection := false
	for _, v := range vErrs {
		if v.Field == "section" {
			foundSection = true
		}
	}

	if !foundSection {
		t.Fatal("expected section field to be present in validation errors")
	}
}

func TestSectionRuleRejectsControlCharacters(t *testing.T) {
	if err := ValidateStruct(lockPayload{Type: "section_lock", Section: "intro\x00"}); err == nil {
		t.Fatal("expected control characters to be rejected")
	}
	if err := ValidateVar("related work", "section"); err != nil {
		t.Fatalf("expected spaces to be accepted, got %v", err)
	}
}

func TestRegisterValidation(t *testing.T) {
	err := RegisterValidation("manuscript", func(fl validator.FieldLevel) bool {
		return fl.Field().String() == "manuscript"
	})
	if err != nil {
		t.Fatalf("register validation: %v", err)
	}

	type custom struct {
		Value string `validate:"manuscript"`
	}

	if err := ValidateStruct(custom{Value: "manuscript"}); err != nil {
		t.Fatalf("expected validation to pass, got %v", err)
	}
	if err := ValidateStruct(custom{Value: "other"}); err == nil {
		t.Fatal("expected validation to fail for non-matching value")
	}
}
