package store

import (
	"context"
	"errors"
	"path/filepath"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/verte-zerg/blockcap/internal/model"
)

func openTemp(t *testing.T) *Store {
	t.Helper()
	st, err := Open(filepath.Join(t.TempDir(), "nested", "blockcap.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() {
		if err := st.Close(); err != nil {
			t.Fatalf("close: %v", err)
		}
	})
	return st
}

func TestRecordAndListEvents(t *testing.T) {
	st := openTemp(t)
	ctx := context.Background()
	base := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

	runID, err := st.InsertRun(ctx, model.RunInfo{
		StartedAt: base,
		Device:    "sim",
		Timing:    model.AcquisitionTiming{Timebase: 1, PreSamples: 300, PostSamples: 700, TotalSamples: 1000, IntervalNs: 4},
		OutputDir: "/tmp/out",
		TriggerMV: 500,
	})
	if err != nil {
		t.Fatalf("insert run: %v", err)
	}
	rec := st.Recorder(runID)

	outcomes := []model.EventOutcome{
		{ArmedAt: base.Add(1 * time.Second), Outcome: model.OutcomePersisted, ArtifactPath: "/tmp/out/10-00-01", Samples: 1000, TriggerWait: 1500 * time.Millisecond},
		{ArmedAt: base.Add(2 * time.Second), Outcome: model.OutcomeCaptureFailed, ErrorCode: "short_read", ErrorMessage: "fetch: short_read"},
		{ArmedAt: base.Add(3 * time.Second), Outcome: model.OutcomePersisted, ArtifactPath: "/tmp/out/10-00-03", Samples: 1000, OverflowB: true},
	}
	for _, out := range outcomes {
		if err := rec.RecordEvent(ctx, out); err != nil {
			t.Fatalf("record: %v", err)
		}
	}

	all, err := st.ListEvents(ctx, model.EventFilter{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3 events, got %d", len(all))
	}
	if !all[0].ArmedAt.Equal(outcomes[0].ArmedAt) || all[0].RunID != runID {
		t.Fatalf("unexpected first event: %+v", all[0])
	}
	if all[0].TriggerWait != 1500*time.Millisecond {
		t.Fatalf("expected trigger wait 1.5s, got %s", all[0].TriggerWait)
	}
	if !all[2].OverflowB || all[2].OverflowA {
		t.Fatalf("unexpected overflow flags on third event: %+v", all[2])
	}

	failed, err := st.ListEvents(ctx, model.EventFilter{Outcome: model.OutcomeCaptureFailed})
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(failed) != 1 || failed[0].ErrorCode != "short_read" {
		t.Fatalf("unexpected failed events: %+v", failed)
	}

	last, err := st.ListEvents(ctx, model.EventFilter{Last: 2})
	if err != nil {
		t.Fatalf("list last: %v", err)
	}
	if len(last) != 2 || !last[0].ArmedAt.Equal(outcomes[1].ArmedAt) || !last[1].ArmedAt.Equal(outcomes[2].ArmedAt) {
		t.Fatalf("expected last two events oldest first, got %+v", last)
	}

	since := base.Add(3 * time.Second)
	recent, err := st.ListEvents(ctx, model.EventFilter{Since: &since})
	if err != nil {
		t.Fatalf("list since: %v", err)
	}
	if len(recent) != 1 {
		t.Fatalf("expected one event since %s, got %d", since, len(recent))
	}
}

func TestRecordEventFailure(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	st := New(db)
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO events")).
		WillReturnError(errors.New("database is locked"))

	err = st.Recorder(7).RecordEvent(context.Background(), model.EventOutcome{ArmedAt: time.Now(), Outcome: model.OutcomePersisted})
	if err == nil {
		t.Fatalf("expected record failure")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestInsertRunFailure(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	st := New(db)
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO runs")).
		WillReturnError(errors.New("disk I/O error"))
	if _, err := st.InsertRun(context.Background(), model.RunInfo{StartedAt: time.Now()}); err == nil {
		t.Fatalf("expected insert failure")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestListEventsQueryFailure(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, run_id")).
		WithArgs("persisted", 5).
		WillReturnError(errors.New("no such table: events"))
	if _, err := New(db).ListEvents(context.Background(), model.EventFilter{Outcome: model.OutcomePersisted, Last: 5}); err == nil {
		t.Fatalf("expected query failure")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}
