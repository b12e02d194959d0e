package validation

import (
	"fmt"
	"strings"
	"testing"

	"github.com/kalambet/policyguard/internal/invoice"
)

func TestBuildPrompt_Structure(t *testing.T) {
	msgs := BuildPrompt("ACME Corp invoice 42")
	if len(msgs) != 2 {
		t.Fatalf("len(msgs) = %d, want 2", len(msgs))
	}
	if msgs[0].Role != "system" || msgs[1].Role != "user" {
		t.Errorf("roles = %q, %q; want system, user", msgs[0].Role, msgs[1].Role)
	}
	if !strings.Contains(msgs[1].Content, "INVOICE TEXT:\nACME Corp invoice 42") {
		t.Errorf("user message does not carry the invoice text: %q", msgs[1].Content)
	}
}

func TestBuildPrompt_ListsMandatoryFields(t *testing.T) {
	system := BuildPrompt("x")[0].Content
	for i, f := range invoice.MandatoryFields() {
		want := fmt.Sprintf("%d. %s", i+1, f)
		if !strings.Contains(system, want) {
			t.Errorf("system prompt missing %q", want)
		}
	}
	for _, f := range []string{invoice.FieldGSTIN, invoice.FieldPNR, invoice.FieldCheckOut} {
		if !strings.Contains(system, f) {
			t.Errorf("system prompt missing conditional field %q", f)
		}
	}
	if strings.Contains(system, "%!") {
		t.Errorf("system prompt has formatting artefacts: %q", system)
	}
}
