package jobs

import (
	"context"
	"errors"
	"testing"
)

func newRecord(jobID, ownerID string) *Record {
	return &Record{
		JobID:    jobID,
		OwnerID:  ownerID,
		CVPath:   "/uploads/" + jobID + "/cv_resume.pdf",
		JDPath:   "/uploads/" + jobID + "/jd_role.pdf",
		CVType:   "pdf",
		JDType:   "pdf",
		Status:   StatusPending,
		Progress: 0,
	}
}

func TestMemoryStoreCreateDuplicate(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	if err := store.Create(ctx, newRecord("job-1", "u1")); err != nil {
		t.Fatalf("Create returned error: %v", err)
	}
	if err := store.Create(ctx, newRecord("job-1", "u1")); !errors.Is(err, ErrJobExists) {
		t.Fatalf("expected ErrJobExists, got %v", err)
	}
}

func TestMemoryStoreGetMissing(t *testing.T) {
	store := NewMemoryStore()

	record, err := store.Get(context.Background(), "nope")
	if err != nil {
		t.Fatalf("Get returned error: %v", err)
	}
	if record != nil {
		t.Fatalf("expected nil record, got %#v", record)
	}
}

func TestMemoryStoreUpdateMissing(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	if err := store.MarkRunning(ctx, "nope"); !errors.Is(err, ErrJobNotFound) {
		t.Fatalf("MarkRunning: expected ErrJobNotFound, got %v", err)
	}
	if err := store.UpdateProgress(ctx, "nope", 10); !errors.Is(err, ErrJobNotFound) {
		t.Fatalf("UpdateProgress: expected ErrJobNotFound, got %v", err)
	}
	if err := store.MarkDone(ctx, "nope", "HIRE", "/r.json"); !errors.Is(err, ErrJobNotFound) {
		t.Fatalf("MarkDone: expected ErrJobNotFound, got %v", err)
	}
	if err := store.MarkFailed(ctx, "nope"); !errors.Is(err, ErrJobNotFound) {
		t.Fatalf("MarkFailed: expected ErrJobNotFound, got %v", err)
	}
}

func TestMemoryStoreLifecycleSuccess(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	if err := store.Create(ctx, newRecord("job-1", "u1")); err != nil {
		t.Fatalf("Create returned error: %v", err)
	}

	record, _ := store.Get(ctx, "job-1")
	if record.Status != StatusPending || record.Progress != 0 {
		t.Fatalf("fresh record = %s/%d, want PENDING/0", record.Status, record.Progress)
	}
	if record.CreatedAt.IsZero() || record.UpdatedAt.Before(record.CreatedAt) {
		t.Fatalf("timestamps not set: created=%v updated=%v", record.CreatedAt, record.UpdatedAt)
	}

	if err := store.MarkRunning(ctx, "job-1"); err != nil {
		t.Fatalf("MarkRunning returned error: %v", err)
	}
	if err := store.UpdateProgress(ctx, "job-1", 50); err != nil {
		t.Fatalf("UpdateProgress returned error: %v", err)
	}

	record, _ = store.Get(ctx, "job-1")
	if record.Status != StatusRunning || record.Progress != 50 {
		t.Fatalf("running record = %s/%d, want RUNNING/50", record.Status, record.Progress)
	}

	// 進捗は単調。後退は無視される
	if err := store.UpdateProgress(ctx, "job-1", 20); err != nil {
		t.Fatalf("UpdateProgress returned error: %v", err)
	}
	record, _ = store.Get(ctx, "job-1")
	if record.Progress != 50 {
		t.Fatalf("progress regressed to %d", record.Progress)
	}

	if err := store.MarkDone(ctx, "job-1", "HIRE", "/r/evaluation_report.json"); err != nil {
		t.Fatalf("MarkDone returned error: %v", err)
	}
	record, _ = store.Get(ctx, "job-1")
	if record.Status != StatusCompleted || record.Progress != 100 {
		t.Fatalf("done record = %s/%d, want COMPLETED/100", record.Status, record.Progress)
	}
	if record.Decision != "HIRE" || record.ReportPath != "/r/evaluation_report.json" {
		t.Fatalf("decision/reportPath not set: %#v", record)
	}
}

func TestMemoryStoreTerminalIsAbsorbing(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	if err := store.Create(ctx, newRecord("job-1", "u1")); err != nil {
		t.Fatalf("Create returned error: %v", err)
	}
	if err := store.MarkDone(ctx, "job-1", "HIRE", "/r.json"); err != nil {
		t.Fatalf("MarkDone returned error: %v", err)
	}

	// 終端状態からの遷移や進捗更新はすべて無視される
	if err := store.MarkFailed(ctx, "job-1"); err != nil {
		t.Fatalf("MarkFailed returned error: %v", err)
	}
	if err := store.MarkRunning(ctx, "job-1"); err != nil {
		t.Fatalf("MarkRunning returned error: %v", err)
	}
	if err := store.UpdateProgress(ctx, "job-1", 10); err != nil {
		t.Fatalf("UpdateProgress returned error: %v", err)
	}

	record, _ := store.Get(ctx, "job-1")
	if record.Status != StatusCompleted || record.Progress != 100 {
		t.Fatalf("terminal record mutated: %s/%d", record.Status, record.Progress)
	}
	if record.Decision != "HIRE" {
		t.Fatalf("decision mutated: %q", record.Decision)
	}
}

func TestMemoryStoreFailedKeepsProgress(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	if err := store.Create(ctx, newRecord("job-1", "u1")); err != nil {
		t.Fatalf("Create returned error: %v", err)
	}
	if err := store.MarkRunning(ctx, "job-1"); err != nil {
		t.Fatalf("MarkRunning returned error: %v", err)
	}
	if err := store.UpdateProgress(ctx, "job-1", 70); err != nil {
		t.Fatalf("UpdateProgress returned error: %v", err)
	}
	if err := store.MarkFailed(ctx, "job-1"); err != nil {
		t.Fatalf("MarkFailed returned error: %v", err)
	}

	record, _ := store.Get(ctx, "job-1")
	if record.Status != StatusFailed {
		t.Fatalf("status = %s, want FAILED", record.Status)
	}
	if record.Progress != 70 {
		t.Fatalf("progress = %d, want 70 (last observed)", record.Progress)
	}
	if record.Decision != "" || record.ReportPath != "" {
		t.Fatalf("decision/reportPath set on FAILED: %#v", record)
	}
}

func TestMemoryStoreListOrderAndOwner(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	for _, pair := range [][2]string{{"job-1", "u1"}, {"job-2", "u2"}, {"job-3", "u1"}} {
		if err := store.Create(ctx, newRecord(pair[0], pair[1])); err != nil {
			t.Fatalf("Create(%s) returned error: %v", pair[0], err)
		}
	}

	all, err := store.List(ctx)
	if err != nil {
		t.Fatalf("List returned error: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("List returned %d records", len(all))
	}
	for i, want := range []string{"job-1", "job-2", "job-3"} {
		if all[i].JobID != want {
			t.Fatalf("List[%d] = %s, want %s", i, all[i].JobID, want)
		}
	}

	owned, err := store.ListByOwner(ctx, "u1")
	if err != nil {
		t.Fatalf("ListByOwner returned error: %v", err)
	}
	if len(owned) != 2 || owned[0].JobID != "job-1" || owned[1].JobID != "job-3" {
		t.Fatalf("unexpected owner jobs: %#v", owned)
	}

	none, err := store.ListByOwner(ctx, "nobody")
	if err != nil {
		t.Fatalf("ListByOwner returned error: %v", err)
	}
	if len(none) != 0 {
		t.Fatalf("expected no jobs, got %d", len(none))
	}
}

func TestMemoryStoreGetReturnsCopy(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	if err := store.Create(ctx, newRecord("job-1", "u1")); err != nil {
		t.Fatalf("Create returned error: %v", err)
	}

	record, _ := store.Get(ctx, "job-1")
	record.Status = StatusFailed
	record.Progress = 99

	fresh, _ := store.Get(ctx, "job-1")
	if fresh.Status != StatusPending || fresh.Progress != 0 {
		t.Fatalf("store leaked internal reference: %s/%d", fresh.Status, fresh.Progress)
	}
}
