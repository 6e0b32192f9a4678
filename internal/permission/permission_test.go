package permission

import (
	"testing"

	"github.com/omc/kernel/internal/modes"
)

func TestClassify_SafeCommands(t *testing.T) {
	cases := []string{
		"git status",
		"git diff HEAD~1",
		"go test ./...",
		"npm run lint",
		`ls "some dir"`,
		`ls "a; b"`,
		`git show 'feature; test'`,
	}
	for _, c := range cases {
		if v := Classify(c); !v.Safe {
			t.Errorf("Classify(%q) = unsafe (%s), want safe", c, v.Reason)
		}
	}
}

// TestClassify_MetacharacterOutsideQuotesStillUnsafe guards against a too-
// permissive quote-aware fix: a metacharacter before, between, or after a
// quoted substring must still disqualify the command even though one inside
// quotes is permitted (spec §4.9).
func TestClassify_MetacharacterOutsideQuotesStillUnsafe(t *testing.T) {
	cases := []string{
		`ls "safe" ; rm -rf /`,
		`ls "safe"; echo done`,
		"git status `whoami` \"ok\"",
	}
	for _, c := range cases {
		if v := Classify(c); v.Safe {
			t.Errorf("Classify(%q) = safe, want unsafe", c)
		}
	}
}

func TestClassify_UnknownPrefixIsUnsafe(t *testing.T) {
	v := Classify("git status; rm -rf /")
	if v.Safe {
		t.Fatalf("expected metacharacter-laced command to be unsafe")
	}
}

func TestClassify_MetacharacterBoundary(t *testing.T) {
	cases := []string{
		"git status; rm -rf /",
		"git status && rm -rf /",
		"git status | cat",
		"git status `whoami`",
		"git status $(whoami)",
	}
	for _, c := range cases {
		if v := Classify(c); v.Safe {
			t.Errorf("Classify(%q) = safe, want unsafe", c)
		}
	}
}

func TestClassify_UnwhitelistedCommandIsUnsafe(t *testing.T) {
	v := Classify("rm -rf /")
	if v.Safe {
		t.Fatalf("expected non-whitelisted command to be unsafe")
	}
}

func TestArbitrate_NonBashPassesThrough(t *testing.T) {
	root := t.TempDir()
	v, err := Arbitrate("Edit", "irrelevant", root)
	if err != nil {
		t.Fatalf("Arbitrate: %v", err)
	}
	if !v.Continue || v.HookSpecificOutput != nil {
		t.Fatalf("expected bare allow for non-bash tool, got %+v", v)
	}
}

func TestArbitrate_SafeBashAllows(t *testing.T) {
	root := t.TempDir()
	v, err := Arbitrate("Bash", "git status", root)
	if err != nil {
		t.Fatalf("Arbitrate: %v", err)
	}
	if v.HookSpecificOutput == nil || v.HookSpecificOutput.Decision == nil || v.HookSpecificOutput.Decision.Behavior != "allow" {
		t.Fatalf("expected explicit allow decision, got %+v", v)
	}
}

func TestArbitrate_UnsafeBashNeverAutoApprovesEvenWithActiveMode(t *testing.T) {
	root := t.TempDir()
	if _, err := modes.StartRalph("s", root, "p", 5, false, true); err != nil {
		t.Fatalf("StartRalph: %v", err)
	}
	v, err := Arbitrate("Bash", "git status; rm -rf /", root)
	if err != nil {
		t.Fatalf("Arbitrate: %v", err)
	}
	if v.HookSpecificOutput != nil {
		t.Fatalf("expected no decision (fall back to host prompting), got %+v", v)
	}
}
