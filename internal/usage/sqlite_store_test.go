package usage

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func TestDayKeyUTC(t *testing.T) {
	// 23:30 in UTC-5 is already the next day in UTC.
	loc := time.FixedZone("EST", -5*60*60)
	now := time.Date(2026, 3, 1, 23, 30, 0, 0, loc)
	if got := DayKeyUTC(now); got != "2026-03-02" {
		t.Fatalf("DayKeyUTC=%q", got)
	}
}

func TestSQLiteStore_RecordAndDailyTotal(t *testing.T) {
	dir := t.TempDir()
	store, err := NewSQLiteStore(filepath.Join(dir, "proxy.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	defer store.Close()

	ctx := context.Background()
	today := DayKeyUTC(time.Now())

	if total, err := store.DailyTotal(ctx, "dev-1", today); err != nil || total != 0 {
		t.Fatalf("empty total=%d err=%v", total, err)
	}

	if err := store.Record(ctx, "dev-1", "chat/completions", 10, 20); err != nil {
		t.Fatalf("record #1: %v", err)
	}
	if err := store.Record(ctx, "dev-1", "search", 1, 0); err != nil {
		t.Fatalf("record #2: %v", err)
	}
	// Other devices are isolated tenants.
	if err := store.Record(ctx, "dev-2", "chat/completions", 100, 100); err != nil {
		t.Fatalf("record dev-2: %v", err)
	}

	total, err := store.DailyTotal(ctx, "dev-1", today)
	if err != nil {
		t.Fatalf("DailyTotal: %v", err)
	}
	if total != 31 {
		t.Fatalf("total=%d want 31", total)
	}

	rows, err := store.ListDay(ctx, "dev-1", today)
	if err != nil {
		t.Fatalf("ListDay: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("rows=%d", len(rows))
	}
	if rows[0].Endpoint != "chat/completions" || rows[1].Endpoint != "search" {
		t.Fatalf("unexpected order: %+v", rows)
	}
}

func TestSQLiteStore_NegativeTokensClamped(t *testing.T) {
	dir := t.TempDir()
	store, err := NewSQLiteStore(filepath.Join(dir, "proxy.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	defer store.Close()

	ctx := context.Background()
	if err := store.Record(ctx, "dev-1", "chat/completions", -5, 7); err != nil {
		t.Fatalf("record: %v", err)
	}
	total, err := store.DailyTotal(ctx, "dev-1", DayKeyUTC(time.Now()))
	if err != nil {
		t.Fatalf("DailyTotal: %v", err)
	}
	if total != 7 {
		t.Fatalf("total=%d want 7", total)
	}
}

func TestSQLiteStore_DailyTotalScopedByDate(t *testing.T) {
	dir := t.TempDir()
	store, err := NewSQLiteStore(filepath.Join(dir, "proxy.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	defer store.Close()

	ctx := context.Background()
	if err := store.Record(ctx, "dev-1", "chat/completions", 50, 50); err != nil {
		t.Fatalf("record: %v", err)
	}
	if total, err := store.DailyTotal(ctx, "dev-1", "1999-01-01"); err != nil || total != 0 {
		t.Fatalf("other day total=%d err=%v", total, err)
	}
}
