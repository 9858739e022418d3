package sched

import (
	"context"
	"fmt"
	"log/slog"
	"testing"
	"time"

	"marketbot/internal/ledger"
)

type capturedLog struct {
	msgs []string
}

type captureHandler struct{ out *capturedLog }

func (h captureHandler) Enabled(context.Context, slog.Level) bool { return true }
func (h captureHandler) Handle(_ context.Context, r slog.Record) error {
	h.out.msgs = append(h.out.msgs, r.Message)
	return nil
}
func (h captureHandler) WithAttrs([]slog.Attr) slog.Handler { return h }
func (h captureHandler) WithGroup(string) slog.Handler      { return h }

func TestWrapIsolatesFailures(t *testing.T) {
	var out capturedLog
	s := &Scheduler{log: slog.New(captureHandler{out: &out})}

	s.wrap("failing", func(context.Context) error { return fmt.Errorf("db down") })()
	s.wrap("panicking", func(context.Context) error { panic("oops") })()

	if len(out.msgs) != 2 {
		t.Fatalf("log messages: %v", out.msgs)
	}
	if out.msgs[0] != "job failed" || out.msgs[1] != "job panicked" {
		t.Fatalf("log messages: %v", out.msgs)
	}
}

func TestCloseOn(t *testing.T) {
	day := time.Date(2026, time.March, 14, 12, 0, 0, 0, time.UTC)
	history := []ledger.DailyPrice{
		{Ticker: "GDAW", Year: 2026, Month: 3, Day: 13, CloseCents: 150_000},
		{Ticker: "GDAW", Year: 2026, Month: 3, Day: 14, CloseCents: 153_000},
	}

	got, ok := closeOn(history, day)
	if !ok || got != 153_000 {
		t.Fatalf("got %d ok=%v", got, ok)
	}

	if _, ok := closeOn(history, day.AddDate(0, 0, 5)); ok {
		t.Fatalf("expected no close for a missing day")
	}
	if _, ok := closeOn(nil, day); ok {
		t.Fatalf("expected no close for empty history")
	}
}
