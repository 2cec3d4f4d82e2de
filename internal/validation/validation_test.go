package validation

import (
	"strings"
	"testing"

	"github.com/hyperengineering/triage/internal/types"
)

func TestFieldValidators(t *testing.T) {
	decline := []string{"not_needed", "duplicate", "wrong_type"}

	tests := []struct {
		name    string
		err     *ValidationError
		wantErr bool
	}{
		{"utf8 ascii", ValidateUTF8("title", "Call back Jane"), false},
		{"utf8 multibyte", ValidateUTF8("title", "Rückruf 世界 👋🏻"), false},
		{"utf8 invalid", ValidateUTF8("title", string([]byte{0xff, 0xfe})), true},
		{"null bytes clean", ValidateNoNullBytes("reason", "fine"), false},
		{"null bytes present", ValidateNoNullBytes("reason", "bad\x00value"), true},
		{"length within", ValidateMaxLength("title", "hello", 10), false},
		{"length at limit", ValidateMaxLength("title", "0123456789", 10), false},
		{"length exceeds", ValidateMaxLength("title", "01234567890", 10), true},
		{"length counts runes", ValidateMaxLength("title", "世界世界世", 5), false},
		{"length runes exceed", ValidateMaxLength("title", "世界世界世界", 5), true},
		{"ulid valid", ValidateULID("id", "01ARZ3NDEKTSV4RRFFQ69G5FAV"), false},
		{"ulid lowercase", ValidateULID("id", "01arz3ndektsv4rrffq69g5fav"), false},
		{"ulid too short", ValidateULID("id", "01ARYZ6S41"), true},
		{"ulid too long", ValidateULID("id", "01ARYZ6S41TSV4RRFFQ69G5FAVX"), true},
		{"ulid excluded letter", ValidateULID("id", "01ARZ3NDEKTSV4RRFFQ69G5FAI"), true},
		{"ulid empty", ValidateULID("id", ""), true},
		{"required present", ValidateRequired("assignee_id", "alice"), false},
		{"required empty", ValidateRequired("assignee_id", ""), true},
		{"required whitespace", ValidateRequired("assignee_id", " \t\n"), true},
		{"enum member", ValidateEnum("category", "duplicate", decline), false},
		{"enum unknown", ValidateEnum("category", "spam", decline), true},
		{"enum case sensitive", ValidateEnum("category", "DUPLICATE", decline), true},
		{"range low edge", ValidateRange("min_confidence", 0, 0, 1), false},
		{"range high edge", ValidateRange("min_confidence", 1, 0, 1), false},
		{"range below", ValidateRange("min_confidence", -0.1, 0, 1), true},
		{"range above", ValidateRange("min_confidence", 1.1, 0, 1), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if (tt.err != nil) != tt.wantErr {
				t.Errorf("error = %v, wantErr %v", tt.err, tt.wantErr)
			}
			if tt.err != nil && tt.err.Message == "" {
				t.Error("error has no message")
			}
		})
	}
}

func TestValidateEnum_MessageListsAllowed(t *testing.T) {
	err := ValidateEnum("status", "done", []string{"pending", "approved"})
	if err == nil || err.Field != "status" {
		t.Fatalf("err = %+v, want status error", err)
	}
	if err.Message != "must be one of: pending, approved" {
		t.Errorf("message = %q", err.Message)
	}
}

func TestCollector(t *testing.T) {
	c := &Collector{}
	if c.HasErrors() {
		t.Error("empty collector reports errors")
	}

	c.Add(nil)
	c.Add(&ValidationError{Field: "title", Message: "is required"})
	c.Add(nil)
	c.Add(&ValidationError{Field: "priority", Message: "must be one of: low"})

	if !c.HasErrors() {
		t.Error("HasErrors() = false after Add")
	}
	errs := c.Errors()
	if len(errs) != 2 {
		t.Fatalf("len(Errors()) = %d, want 2", len(errs))
	}
	if errs[0].Field != "title" || errs[1].Field != "priority" {
		t.Errorf("errors out of insertion order: %+v", errs)
	}
}

func TestValidateText(t *testing.T) {
	c := &Collector{}
	ValidateText(c, "reason", "ok", 10)
	if c.HasErrors() {
		t.Fatalf("clean text flagged: %+v", c.Errors())
	}

	ValidateText(c, "reason", "bad\x00"+strings.Repeat("x", 10), 10)
	if got := len(c.Errors()); got != 2 {
		t.Errorf("errors = %d, want null-byte and length errors", got)
	}
}


func strPtr(s string) *string { return &s }

func TestValidateOverrides_Nil(t *testing.T) {
	if errs := ValidateOverrides(nil); len(errs) != 0 {
		t.Errorf("ValidateOverrides(nil) = %v, want no errors", errs)
	}
}

func TestValidateOverrides_Valid(t *testing.T) {
	p := types.PriorityHigh
	o := &types.SuggestionOverrides{
		Title:      strPtr("Call Jane back about refund"),
		Priority:   &p,
		AssigneeID: strPtr("bob"),
	}

	if errs := ValidateOverrides(o); len(errs) != 0 {
		t.Errorf("ValidateOverrides(valid) = %v, want no errors", errs)
	}
}

func TestValidateOverrides_AllFieldsInvalid(t *testing.T) {
	p := types.Priority("critical")
	o := &types.SuggestionOverrides{
		Title:       strPtr("   "),
		Description: strPtr("bad\x00byte"),
		Priority:    &p,
		AssigneeID:  strPtr(strings.Repeat("a", MaxIdentifierLength+1)),
	}

	errs := ValidateOverrides(o)
	fields := map[string]bool{}
	for _, e := range errs {
		fields[e.Field] = true
	}
	for _, want := range []string{"title", "description", "priority", "assignee_id"} {
		if !fields[want] {
			t.Errorf("Expected error for field %q, got %v", want, errs)
		}
	}
}

func TestValidateDecline(t *testing.T) {
	tests := []struct {
		name       string
		category   string
		reason     string
		wantFields []string
	}{
		{"valid", "wrong_assignee", "Bob handles billing", nil},
		{"missing category", "", "reason", []string{"category"}},
		{"unknown category", "spam", "reason", []string{"category"}},
		{"missing reason", "duplicate", "  ", []string{"reason"}},
		{"reason too long", "other", strings.Repeat("x", MaxReasonLength+1), []string{"reason"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			errs := ValidateDecline(tt.category, tt.reason)
			if len(errs) != len(tt.wantFields) {
				t.Fatalf("ValidateDecline() = %v, want fields %v", errs, tt.wantFields)
			}
			for i, f := range tt.wantFields {
				if errs[i].Field != f {
					t.Errorf("errs[%d].Field = %q, want %q", i, errs[i].Field, f)
				}
			}
		})
	}
}

func TestValidateDecline_EnumMessageListsCategories(t *testing.T) {
	errs := ValidateDecline("spam", "reason")
	if len(errs) != 1 {
		t.Fatalf("Expected 1 error, got %v", errs)
	}
	if !strings.Contains(errs[0].Message, "wrong_client") {
		t.Errorf("Message %q should list accepted categories", errs[0].Message)
	}
}

func TestValidateAssignee(t *testing.T) {
	if errs := ValidateAssignee("alice"); len(errs) != 0 {
		t.Errorf("ValidateAssignee(alice) = %v, want no errors", errs)
	}
	if errs := ValidateAssignee(""); len(errs) != 1 || errs[0].Field != "assignee_id" {
		t.Errorf("ValidateAssignee(empty) = %v, want assignee_id error", errs)
	}
}
