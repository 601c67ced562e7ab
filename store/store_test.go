package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func openTestStore(t *testing.T) (*Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "lewis.db")
	s, err := Open("sqlite", path)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s, path
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	if _, err := Open("mysql", "lewis.db"); err == nil {
		t.Fatal("Open accepted an unregistered driver")
	}
}

func TestMigrateIsIdempotent(t *testing.T) {
	ctx := context.Background()
	s, path := openTestStore(t)
	if _, err := s.SaveCoinEvent(ctx, CoinEvent{CoinID: "bitcoin", EventName: "Listing"}); err != nil {
		t.Fatalf("SaveCoinEvent failed: %v", err)
	}
	s.Close()

	// Re-opening the same file re-runs the migration against the existing
	// schema and must leave the data alone.
	reopened, err := Open("sqlite", path)
	if err != nil {
		t.Fatalf("re-open failed: %v", err)
	}
	defer reopened.Close()

	events, err := reopened.CoinEvents(ctx)
	if err != nil {
		t.Fatalf("CoinEvents failed: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("got %d events after re-open, want 1", len(events))
	}
}

func TestSaveCoinEventDeduplicates(t *testing.T) {
	ctx := context.Background()
	s, _ := openTestStore(t)

	date := time.Date(2026, 8, 18, 9, 0, 0, 0, time.UTC)
	ev := CoinEvent{
		CoinID:       "newcoin",
		CoinName:     "NewCoin",
		CoinSymbol:   "NEW",
		CoinFullname: "NewCoin (NEW)",
		EventName:    "Binance Listing",
		EventDate:    date,
	}

	inserted, err := s.SaveCoinEvent(ctx, ev)
	if err != nil {
		t.Fatalf("SaveCoinEvent failed: %v", err)
	}
	if !inserted {
		t.Error("first save reported no insert")
	}

	inserted, err = s.SaveCoinEvent(ctx, ev)
	if err != nil {
		t.Fatalf("duplicate save failed: %v", err)
	}
	if inserted {
		t.Error("duplicate save reported an insert")
	}

	ev.EventDate = date.AddDate(0, 0, 1)
	inserted, err = s.SaveCoinEvent(ctx, ev)
	if err != nil {
		t.Fatalf("save with new date failed: %v", err)
	}
	if !inserted {
		t.Error("save with a different date reported no insert")
	}

	events, err := s.CoinEvents(ctx)
	if err != nil {
		t.Fatalf("CoinEvents failed: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("got %d events, want 2", len(events))
	}
	got := events[0]
	if got.CoinID != "newcoin" || got.CoinSymbol != "NEW" || got.EventName != "Binance Listing" {
		t.Errorf("roundtrip mismatch: %+v", got)
	}
	if !got.EventDate.Equal(date) {
		t.Errorf("EventDate = %v, want %v", got.EventDate, date)
	}
}

func TestInvocationLifecycle(t *testing.T) {
	ctx := context.Background()
	s, _ := openTestStore(t)

	inv := Invocation{
		ID:        "inv-1",
		Job:       "listing-strategy",
		Status:    StatusRunning,
		StartedAt: 1000,
	}
	if err := s.StartInvocation(ctx, inv); err != nil {
		t.Fatalf("StartInvocation failed: %v", err)
	}

	got, err := s.LastInvocation(ctx, "listing-strategy")
	if err != nil {
		t.Fatalf("LastInvocation failed: %v", err)
	}
	if got == nil || got.Status != StatusRunning {
		t.Fatalf("after start: %+v, want running", got)
	}

	if err := s.FinishInvocation(ctx, "inv-1", StatusSucceeded, 0, "report", "", 1060); err != nil {
		t.Fatalf("FinishInvocation failed: %v", err)
	}
	got, err = s.LastInvocation(ctx, "listing-strategy")
	if err != nil {
		t.Fatalf("LastInvocation failed: %v", err)
	}
	if got.Status != StatusSucceeded || got.ExitCode != 0 || got.Output != "report" || got.FinishedAt != 1060 {
		t.Errorf("after finish: %+v", got)
	}

	if err := s.FinishInvocation(ctx, "no-such-id", StatusFailed, 1, "", "gone", 1070); err == nil {
		t.Error("FinishInvocation accepted an unknown id")
	}
}

func TestRecoverStaleAbortsRunning(t *testing.T) {
	ctx := context.Background()
	s, _ := openTestStore(t)

	if err := s.StartInvocation(ctx, Invocation{ID: "stale", Job: "j", Status: StatusRunning, StartedAt: 100}); err != nil {
		t.Fatalf("StartInvocation failed: %v", err)
	}
	if err := s.StartInvocation(ctx, Invocation{ID: "done", Job: "j", Status: StatusRunning, StartedAt: 200}); err != nil {
		t.Fatalf("StartInvocation failed: %v", err)
	}
	if err := s.FinishInvocation(ctx, "done", StatusFailed, 2, "", "boom", 260); err != nil {
		t.Fatalf("FinishInvocation failed: %v", err)
	}

	n, err := s.RecoverStale(ctx, 300)
	if err != nil {
		t.Fatalf("RecoverStale failed: %v", err)
	}
	if n != 1 {
		t.Errorf("recovered %d invocations, want 1", n)
	}

	invs, err := s.Invocations(ctx, "j", 10)
	if err != nil {
		t.Fatalf("Invocations failed: %v", err)
	}
	if len(invs) != 2 {
		t.Fatalf("got %d invocations, want 2", len(invs))
	}
	byID := map[string]Invocation{}
	for _, inv := range invs {
		byID[inv.ID] = inv
	}
	if byID["stale"].Status != StatusAborted || byID["stale"].FinishedAt != 300 {
		t.Errorf("stale invocation: %+v, want aborted at 300", byID["stale"])
	}
	if byID["done"].Status != StatusFailed || byID["done"].ExitCode != 2 {
		t.Errorf("finished invocation was touched: %+v", byID["done"])
	}
}

func TestLastInvocationNone(t *testing.T) {
	ctx := context.Background()
	s, _ := openTestStore(t)

	got, err := s.LastInvocation(ctx, "never-ran")
	if err != nil {
		t.Fatalf("LastInvocation failed: %v", err)
	}
	if got != nil {
		t.Errorf("got %+v, want nil", got)
	}
}

func TestInvocationsNewestFirst(t *testing.T) {
	ctx := context.Background()
	s, _ := openTestStore(t)

	for i, id := range []string{"a", "b", "c"} {
		inv := Invocation{ID: id, Job: "j", Status: StatusSucceeded, StartedAt: int64(100 * (i + 1))}
		if err := s.StartInvocation(ctx, inv); err != nil {
			t.Fatalf("StartInvocation failed: %v", err)
		}
	}

	invs, err := s.Invocations(ctx, "j", 2)
	if err != nil {
		t.Fatalf("Invocations failed: %v", err)
	}
	if len(invs) != 2 {
		t.Fatalf("got %d invocations, want 2", len(invs))
	}
	if invs[0].ID != "c" || invs[1].ID != "b" {
		t.Errorf("order = %s, %s; want c, b", invs[0].ID, invs[1].ID)
	}
}
