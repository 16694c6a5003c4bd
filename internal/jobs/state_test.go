package jobs

import (
	"errors"
	"testing"

	"github.com/yourusername/fin-analyzer/internal/reports"
)

func TestCanTransitionEdges(t *testing.T) {
	cases := []struct {
		from    Status
		to      Status
		allowed bool
	}{
		{StatusPending, StatusInProgress, true},
		{StatusPending, StatusCancelled, true},
		{StatusPending, StatusCompleted, false},
		{StatusPending, StatusFailed, false},
		{StatusPending, StatusRetrying, false},
		{StatusInProgress, StatusCompleted, true},
		{StatusInProgress, StatusFailed, true},
		{StatusInProgress, StatusRetrying, true},
		{StatusInProgress, StatusCancelled, true},
		{StatusInProgress, StatusPending, false},
		{StatusRetrying, StatusInProgress, true},
		{StatusRetrying, StatusFailed, true},
		{StatusRetrying, StatusCancelled, true},
		{StatusRetrying, StatusCompleted, false},
		{StatusCompleted, StatusFailed, false},
		{StatusCompleted, StatusInProgress, false},
		{StatusFailed, StatusRetrying, false},
		{StatusCancelled, StatusInProgress, false},
	}
	for _, tc := range cases {
		if got := CanTransition(tc.from, tc.to); got != tc.allowed {
			t.Errorf("CanTransition(%s, %s) = %v, want %v", tc.from, tc.to, got, tc.allowed)
		}
	}
}

func TestApplyTransitionTerminalIsImmutable(t *testing.T) {
	for _, terminal := range []Status{StatusCompleted, StatusFailed, StatusCancelled} {
		record := &Record{JobID: "job-1", Status: terminal, Attempt: 1}
		err := applyTransition(record, 5, StatusInProgress)
		if !errors.Is(err, ErrInvalidTransition) {
			t.Errorf("transition from %s: got %v, want ErrInvalidTransition", terminal, err)
		}
		if record.Status != terminal {
			t.Errorf("terminal state %s was overwritten to %s", terminal, record.Status)
		}
	}
}

func TestApplyTransitionRejectsStaleAttempt(t *testing.T) {
	record := &Record{JobID: "job-1", Status: StatusInProgress, Attempt: 2}
	err := applyTransition(record, 1, StatusCompleted)
	if !errors.Is(err, ErrStaleWrite) {
		t.Fatalf("got %v, want ErrStaleWrite", err)
	}
	if record.Status != StatusInProgress {
		t.Fatalf("stale write changed status to %s", record.Status)
	}
}

func TestApplyTransitionAdvancesAttempt(t *testing.T) {
	record := &Record{JobID: "job-1", Status: StatusRetrying, Attempt: 0}
	if err := applyTransition(record, 1, StatusInProgress); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if record.Attempt != 1 {
		t.Fatalf("attempt = %d, want 1", record.Attempt)
	}
	if record.Status != StatusInProgress {
		t.Fatalf("status = %s, want in_progress", record.Status)
	}
	if record.DateDone != nil {
		t.Fatal("non-terminal transition should not set DateDone")
	}
}

func TestApplyTransitionSetsDateDone(t *testing.T) {
	record := &Record{JobID: "job-1", Status: StatusInProgress}
	if err := applyTransition(record, 0, StatusCompleted); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if record.DateDone == nil {
		t.Fatal("terminal transition should set DateDone")
	}
}

func TestApplyProgressCancellationSignal(t *testing.T) {
	record := &Record{JobID: "job-1", Status: StatusCancelled}
	err := applyProgress(record, 0, ProgressInfo{Percent: 50})
	if !errors.Is(err, ErrJobCancelled) {
		t.Fatalf("got %v, want ErrJobCancelled", err)
	}
}

func TestApplyProgressMonotonicWithinAttempt(t *testing.T) {
	record := &Record{JobID: "job-1", Status: StatusInProgress, Progress: ProgressInfo{Percent: 70}}
	if err := applyProgress(record, 0, ProgressInfo{Percent: 30, Message: "late"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if record.Progress.Percent != 70 {
		t.Fatalf("percent regressed to %d", record.Progress.Percent)
	}
	if record.Progress.Message != "late" {
		t.Fatalf("message = %q, want %q", record.Progress.Message, "late")
	}
}

func TestApplyProgressIndeterminateIsDistinctFromZero(t *testing.T) {
	record := &Record{JobID: "job-1", Status: StatusInProgress, Progress: ProgressInfo{Percent: ProgressIndeterminate}}
	if view := record.View(); view.Progress != nil {
		t.Fatalf("indeterminate progress serialized as %d, want nil", *view.Progress)
	}

	if err := applyProgress(record, 0, ProgressInfo{Percent: 0, Message: "starting"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	view := record.View()
	if view.Progress == nil || *view.Progress != 0 {
		t.Fatalf("measured 0%% should serialize as 0, got %v", view.Progress)
	}
}

func TestApplyProgressClampsRange(t *testing.T) {
	record := &Record{JobID: "job-1", Status: StatusInProgress, Progress: ProgressInfo{Percent: ProgressIndeterminate}}
	if err := applyProgress(record, 0, ProgressInfo{Percent: 150}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if record.Progress.Percent != 100 {
		t.Fatalf("percent = %d, want clamped to 100", record.Progress.Percent)
	}
}

func TestCoarsen(t *testing.T) {
	cases := map[Status]reports.Status{
		StatusPending:    reports.StatusPending,
		StatusInProgress: reports.StatusInProgress,
		StatusRetrying:   reports.StatusInProgress,
		StatusCompleted:  reports.StatusCompleted,
		StatusFailed:     reports.StatusFailed,
		StatusCancelled:  reports.StatusFailed,
	}
	for from, want := range cases {
		if got := Coarsen(from); got != want {
			t.Errorf("Coarsen(%s) = %s, want %s", from, got, want)
		}
	}
}
