package modes

import (
	"testing"

	"github.com/omc/kernel/internal/domain"
)

func TestNormalizeFailure(t *testing.T) {
	a := "FAIL at 2026-07-31T10:00:00Z file.go:12:5 took 342ms"
	b := "fail at 2026-07-31T11:22:33Z   file.go:99:1 took 9.5ms"
	na, nb := normalizeFailure(a), normalizeFailure(b)
	if na != nb {
		t.Fatalf("expected normalized failures to match, got %q vs %q", na, nb)
	}
}

func TestRecordFailure_SameFailureExit(t *testing.T) {
	root := t.TempDir()
	if _, err := StartUltraQA("s", root, domain.GoalTests, "", 50); err != nil {
		t.Fatalf("StartUltraQA: %v", err)
	}

	var last RecordFailureOutcome
	for i := 0; i < 3; i++ {
		out, err := RecordFailure("s", root, "assertion failed in x_test.go:10:2 after 5ms", 3)
		if err != nil {
			t.Fatalf("RecordFailure: %v", err)
		}
		last = out
	}
	if !last.ShouldExit || last.Reason != domain.ExitSameFailure {
		t.Fatalf("expected same_failure exit after 3 identical failures, got %+v", last)
	}
}

func TestRecordFailure_MaxCyclesExit(t *testing.T) {
	root := t.TempDir()
	if _, err := StartUltraQA("s", root, domain.GoalTests, "", 2); err != nil {
		t.Fatalf("StartUltraQA: %v", err)
	}

	var last RecordFailureOutcome
	descriptions := []string{"err one", "err two", "err three"}
	for _, d := range descriptions {
		out, err := RecordFailure("s", root, d, 10)
		if err != nil {
			t.Fatalf("RecordFailure: %v", err)
		}
		last = out
	}
	if !last.ShouldExit || last.Reason != domain.ExitMaxCycles {
		t.Fatalf("expected max_cycles exit, got %+v", last)
	}
}

// TestUltraQA_TerminationBound is property I7: recordFailure returns
// shouldExit=true in at most max_cycles + SAME_FAILURE_THRESHOLD calls.
func TestUltraQA_TerminationBound(t *testing.T) {
	root := t.TempDir()
	maxCycles := 5
	if _, err := StartUltraQA("s", root, domain.GoalCustom, "", maxCycles); err != nil {
		t.Fatalf("StartUltraQA: %v", err)
	}

	bound := maxCycles + DefaultSameFailureThreshold
	for i := 0; i < bound; i++ {
		out, err := RecordFailure("s", root, "distinct failure "+string(rune('a'+i)), DefaultSameFailureThreshold)
		if err != nil {
			t.Fatalf("RecordFailure: %v", err)
		}
		if out.ShouldExit {
			return
		}
	}
	t.Fatalf("expected shouldExit=true within %d calls", bound)
}
