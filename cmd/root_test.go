package cmd

import (
	"testing"
)

func resetScopeFlags() {
	scopeProjects = nil
	scopeFrom = ""
	scopeTo = ""
	scopeDate = ""
}

func TestFlagScope_Date(t *testing.T) {
	resetScopeFlags()
	scopeDate = "2026-08-20"

	sc, err := flagScope()
	if err != nil {
		t.Fatalf("flagScope failed: %v", err)
	}
	if sc.From != "2026-08-20" || sc.To != "2026-08-20" {
		t.Errorf("--date should expand to a single-day range, got %+v", sc)
	}
	if day, ok := sc.SingleDay(); !ok || day != "2026-08-20" {
		t.Errorf("Expected single-day scope, got %+v", sc)
	}
}

func TestFlagScope_DateConflictsWithRange(t *testing.T) {
	resetScopeFlags()
	scopeDate = "2026-08-20"
	scopeFrom = "2026-08-01"

	if _, err := flagScope(); err == nil {
		t.Error("Expected error combining --date with --from")
	}
}

func TestFlagScope_InvalidDate(t *testing.T) {
	resetScopeFlags()
	scopeFrom = "08/20/2026"

	if _, err := flagScope(); err == nil {
		t.Error("Expected error for malformed date")
	}
}

func TestFlagScope_Projects(t *testing.T) {
	resetScopeFlags()
	scopeProjects = []string{"proj1", "proj2"}

	sc, err := flagScope()
	if err != nil {
		t.Fatal(err)
	}
	if len(sc.Projects) != 2 {
		t.Errorf("Expected 2 projects, got %v", sc.Projects)
	}
	if sc.IsAll() {
		t.Error("Project scope should not be the all-scope")
	}
}
