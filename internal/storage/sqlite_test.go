package storage

import (
	"errors"
	"testing"
	"time"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestMigrationsApply(t *testing.T) {
	s := openTestStore(t)

	versions, err := s.AppliedMigrations()
	if err != nil {
		t.Fatalf("AppliedMigrations failed: %v", err)
	}
	if len(versions) == 0 {
		t.Fatal("expected at least one applied migration")
	}
	if versions[0] != 1 {
		t.Errorf("first migration version = %d, want 1", versions[0])
	}
}

func TestSessionLifecycle(t *testing.T) {
	s := openTestStore(t)

	rec := SessionRecord{
		ID:              "sess-1",
		VisaCode:        "F-1",
		DurationMinutes: 20,
		UserPartition:   "applicant-42",
		CreatedAt:       time.Now().UTC(),
	}
	if err := s.CreateSession(rec); err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}

	got, err := s.GetSession("sess-1")
	if err != nil {
		t.Fatalf("GetSession failed: %v", err)
	}
	if got.State != "ACTIVE" {
		t.Errorf("new session state = %q, want ACTIVE", got.State)
	}
	if got.VisaCode != "F-1" || got.DurationMinutes != 20 {
		t.Errorf("round-tripped session = %+v", got)
	}
	if !got.EndedAt.IsZero() {
		t.Errorf("new session has ended_at = %v", got.EndedAt)
	}

	if err := s.UpdateSessionState("sess-1", "GOODBYE_ISSUED"); err != nil {
		t.Fatalf("UpdateSessionState failed: %v", err)
	}
	if err := s.UpdateSessionState("sess-1", "TERMINATED"); err != nil {
		t.Fatalf("UpdateSessionState failed: %v", err)
	}

	got, err = s.GetSession("sess-1")
	if err != nil {
		t.Fatalf("GetSession failed: %v", err)
	}
	if got.State != "TERMINATED" {
		t.Errorf("state = %q, want TERMINATED", got.State)
	}
	if got.EndedAt.IsZero() {
		t.Error("TERMINATED session has no ended_at")
	}
}

func TestGetSessionNotFound(t *testing.T) {
	s := openTestStore(t)

	if _, err := s.GetSession("missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetSession(missing) error = %v, want ErrNotFound", err)
	}
	if err := s.UpdateSessionState("missing", "TERMINATED"); !errors.Is(err, ErrNotFound) {
		t.Errorf("UpdateSessionState(missing) error = %v, want ErrNotFound", err)
	}
}

func TestToolCallAuditLog(t *testing.T) {
	s := openTestStore(t)

	if err := s.CreateSession(SessionRecord{ID: "sess-1", CreatedAt: time.Now().UTC()}); err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}

	base := time.Now().UTC().Truncate(time.Second)
	calls := []ToolCall{
		{ID: "tc-1", SessionID: "sess-1", Tool: "getRelevantQuestions", Arguments: "topic=financial", Outcome: "matched", CreatedAt: base},
		{ID: "tc-2", SessionID: "sess-1", Tool: "endInterview", Outcome: "Interview session ended.", CreatedAt: base.Add(time.Second)},
	}
	for _, tc := range calls {
		if err := s.RecordToolCall(tc); err != nil {
			t.Fatalf("RecordToolCall(%s) failed: %v", tc.ID, err)
		}
	}

	got, err := s.ListToolCalls("sess-1", 50)
	if err != nil {
		t.Fatalf("ListToolCalls failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len(calls) = %d, want 2", len(got))
	}
	if got[0].Tool != "getRelevantQuestions" || got[1].Tool != "endInterview" {
		t.Errorf("calls out of order: %s, %s", got[0].Tool, got[1].Tool)
	}

	other, err := s.ListToolCalls("sess-2", 50)
	if err != nil {
		t.Fatalf("ListToolCalls(sess-2) failed: %v", err)
	}
	if len(other) != 0 {
		t.Errorf("calls leaked across sessions: %d", len(other))
	}
}

func TestJobQueueClaimCompleteFail(t *testing.T) {
	s := openTestStore(t)

	job := Job{ID: "job-1", Type: "document_upload", PayloadJSON: `{"path":"/tmp/passport.pdf"}`}
	if err := s.EnqueueJob(job); err != nil {
		t.Fatalf("EnqueueJob failed: %v", err)
	}

	claimed, err := s.ClaimNextJob([]string{"document_upload"})
	if err != nil {
		t.Fatalf("ClaimNextJob failed: %v", err)
	}
	if claimed == nil {
		t.Fatal("expected to claim a job")
	}
	if claimed.Status != "running" {
		t.Errorf("claimed status = %q, want running", claimed.Status)
	}

	// A running job cannot be claimed again.
	again, err := s.ClaimNextJob([]string{"document_upload"})
	if err != nil {
		t.Fatalf("second ClaimNextJob failed: %v", err)
	}
	if again != nil {
		t.Errorf("claimed already-running job %s", again.ID)
	}

	if err := s.CompleteJob("job-1"); err != nil {
		t.Fatalf("CompleteJob failed: %v", err)
	}
}

func TestFailJobBacksOffThenExhausts(t *testing.T) {
	s := openTestStore(t)

	job := Job{ID: "job-1", Type: "document_upload", PayloadJSON: "{}", MaxAttempts: 2}
	if err := s.EnqueueJob(job); err != nil {
		t.Fatalf("EnqueueJob failed: %v", err)
	}

	if _, err := s.ClaimNextJob([]string{"document_upload"}); err != nil {
		t.Fatalf("ClaimNextJob failed: %v", err)
	}
	if err := s.FailJob("job-1", "upstream timeout"); err != nil {
		t.Fatalf("FailJob failed: %v", err)
	}

	// Rescheduled into the future, so not immediately claimable.
	claimed, err := s.ClaimNextJob([]string{"document_upload"})
	if err != nil {
		t.Fatalf("ClaimNextJob failed: %v", err)
	}
	if claimed != nil {
		t.Errorf("backed-off job claimed immediately: %+v", claimed)
	}

	// Exhausting attempts marks the job failed for good.
	if err := s.FailJob("job-1", "upstream timeout"); err != nil {
		t.Fatalf("second FailJob failed: %v", err)
	}
	claimed, err = s.ClaimNextJob([]string{"document_upload"})
	if err != nil {
		t.Fatalf("ClaimNextJob failed: %v", err)
	}
	if claimed != nil {
		t.Errorf("exhausted job claimed: %+v", claimed)
	}
}

func TestResetStaleJobsRequeuesRunning(t *testing.T) {
	s := openTestStore(t)

	job := Job{ID: "job-1", Type: "document_upload", PayloadJSON: "{}"}
	if err := s.EnqueueJob(job); err != nil {
		t.Fatalf("EnqueueJob failed: %v", err)
	}
	if claimed, err := s.ClaimNextJob([]string{"document_upload"}); err != nil || claimed == nil {
		t.Fatalf("ClaimNextJob = %+v, %v", claimed, err)
	}

	// Simulates a daemon restart with the claim still on disk.
	n, err := s.ResetStaleJobs()
	if err != nil {
		t.Fatalf("ResetStaleJobs failed: %v", err)
	}
	if n != 1 {
		t.Errorf("reset %d jobs, want 1", n)
	}

	reclaimed, err := s.ClaimNextJob([]string{"document_upload"})
	if err != nil {
		t.Fatalf("ClaimNextJob after reset failed: %v", err)
	}
	if reclaimed == nil || reclaimed.ID != "job-1" {
		t.Fatalf("reclaimed = %+v, want job-1", reclaimed)
	}

	// Only running jobs are touched.
	if err := s.CompleteJob("job-1"); err != nil {
		t.Fatalf("CompleteJob failed: %v", err)
	}
	n, err = s.ResetStaleJobs()
	if err != nil {
		t.Fatalf("second ResetStaleJobs failed: %v", err)
	}
	if n != 0 {
		t.Errorf("reset %d jobs, want 0", n)
	}
}

func TestClaimNextJobFiltersByType(t *testing.T) {
	s := openTestStore(t)

	if err := s.EnqueueJob(Job{ID: "job-1", Type: "document_upload", PayloadJSON: "{}"}); err != nil {
		t.Fatalf("EnqueueJob failed: %v", err)
	}

	claimed, err := s.ClaimNextJob([]string{"other_type"})
	if err != nil {
		t.Fatalf("ClaimNextJob failed: %v", err)
	}
	if claimed != nil {
		t.Errorf("claimed job of unrequested type: %+v", claimed)
	}
}
