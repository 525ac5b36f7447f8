package schedule

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/erazemk/izposoja/internal/circulation"
)

type fakeSweeper struct {
	calls []circulation.SweepRequest
	err   error
}

func (f *fakeSweeper) SweepAll(_ context.Context, req circulation.SweepRequest) ([]*circulation.SweepResult, error) {
	f.calls = append(f.calls, req)
	return []*circulation.SweepResult{{Processed: 2, CandidatesTotal: 3}}, f.err
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestJobAppliesSweep(t *testing.T) {
	f := &fakeSweeper{}
	Job(f, 50, discardLogger())()

	if len(f.calls) != 1 {
		t.Fatalf("expected one sweep, got %d", len(f.calls))
	}
	req := f.calls[0]
	if !req.Apply || req.Limit != 50 || req.OrgID != "" || req.ActorID != "" {
		t.Errorf("unexpected request %+v", req)
	}
}

func TestJobSurvivesSweepError(t *testing.T) {
	f := &fakeSweeper{err: errors.New("database is closed")}
	Job(f, 0, discardLogger())()

	if len(f.calls) != 1 {
		t.Errorf("expected the sweep to be attempted, got %d calls", len(f.calls))
	}
}

func TestNewRejectsBadSchedule(t *testing.T) {
	if _, err := New(&fakeSweeper{}, "every now and then", 10, discardLogger()); err == nil {
		t.Error("expected invalid cron spec to be rejected")
	}

	s, err := New(&fakeSweeper{}, "*/5 * * * *", 10, discardLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	s.Start()
	s.Stop(time.Second)
}
