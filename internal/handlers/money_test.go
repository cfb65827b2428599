package handlers

import "testing"

func TestFormatAmount(t *testing.T) {
	if got := formatAmount("USD", 10300); got != "USD 103.00" {
		t.Fatalf("unexpected display string %q", got)
	}
	if got := formatAmount("", 100); got != "" {
		t.Fatalf("expected empty string for missing code, got %q", got)
	}
	if got := formatAmount("NOPE", 100); got != "" {
		t.Fatalf("expected empty string for unknown code, got %q", got)
	}
}
