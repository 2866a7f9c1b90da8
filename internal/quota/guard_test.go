package quota

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/protagonist-labs/device-gateway/internal/registry"
	"github.com/protagonist-labs/device-gateway/internal/usage"
)

func newGuard(t *testing.T, limit int64) (*Guard, *registry.SQLiteRegistry, *usage.SQLiteStore) {
	t.Helper()
	dir := t.TempDir()
	reg, err := registry.NewSQLiteRegistry(filepath.Join(dir, "devices.db"))
	if err != nil {
		t.Fatalf("NewSQLiteRegistry: %v", err)
	}
	t.Cleanup(func() { _ = reg.Close() })

	store, err := usage.NewSQLiteStore(filepath.Join(dir, "usage.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	return NewGuard(reg, store, func() int64 { return limit }), reg, store
}

func TestGuard_UnknownDeviceBeforeQuota(t *testing.T) {
	// Limit of zero would also fail quota; the unknown-device error must win.
	guard, _, _ := newGuard(t, 0)

	err := guard.Admit(context.Background(), "dev-x")
	if !errors.Is(err, ErrUnknownDevice) {
		t.Fatalf("err=%v want ErrUnknownDevice", err)
	}
}

func TestGuard_AdmitsRegisteredDevice(t *testing.T) {
	guard, reg, _ := newGuard(t, 100)
	ctx := context.Background()

	if _, err := reg.Register(ctx, "dev-1"); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := guard.Admit(ctx, "dev-1"); err != nil {
		t.Fatalf("admit: %v", err)
	}
}

func TestGuard_SoftCeiling(t *testing.T) {
	guard, reg, store := newGuard(t, 100)
	ctx := context.Background()

	if _, err := reg.Register(ctx, "dev-1"); err != nil {
		t.Fatalf("register: %v", err)
	}

	// 99 tokens recorded: still admitted. The cap does not pre-charge the
	// in-flight request, so one large call may overshoot.
	if err := store.Record(ctx, "dev-1", "chat/completions", 49, 50); err != nil {
		t.Fatalf("record: %v", err)
	}
	if err := guard.Admit(ctx, "dev-1"); err != nil {
		t.Fatalf("admit at 99: %v", err)
	}

	// One more token crosses the line; the NEXT request is blocked.
	if err := store.Record(ctx, "dev-1", "chat/completions", 1, 0); err != nil {
		t.Fatalf("record: %v", err)
	}
	err := guard.Admit(ctx, "dev-1")
	var qe *QuotaExceededError
	if !errors.As(err, &qe) {
		t.Fatalf("err=%v want QuotaExceededError", err)
	}
	if qe.Limit != 100 || qe.Used != 100 {
		t.Fatalf("limit=%d used=%d", qe.Limit, qe.Used)
	}
}

func TestGuard_TouchesLastSeen(t *testing.T) {
	guard, reg, _ := newGuard(t, 100)
	ctx := context.Background()

	if _, err := reg.Register(ctx, "dev-1"); err != nil {
		t.Fatalf("register: %v", err)
	}
	before, _, err := reg.Get(ctx, "dev-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	time.Sleep(2 * time.Millisecond)
	if err := guard.Admit(ctx, "dev-1"); err != nil {
		t.Fatalf("admit: %v", err)
	}
	after, _, err := reg.Get(ctx, "dev-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if after.LastSeen == before.LastSeen {
		t.Fatal("last_seen not updated by admission")
	}
}

func TestGuard_LimitHotReload(t *testing.T) {
	dir := t.TempDir()
	reg, err := registry.NewSQLiteRegistry(filepath.Join(dir, "devices.db"))
	if err != nil {
		t.Fatalf("NewSQLiteRegistry: %v", err)
	}
	defer reg.Close()
	store, err := usage.NewSQLiteStore(filepath.Join(dir, "usage.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	defer store.Close()

	limit := int64(10)
	guard := NewGuard(reg, store, func() int64 { return limit })
	ctx := context.Background()

	if _, err := reg.Register(ctx, "dev-1"); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := store.Record(ctx, "dev-1", "search", 10, 0); err != nil {
		t.Fatalf("record: %v", err)
	}

	var qe *QuotaExceededError
	if err := guard.Admit(ctx, "dev-1"); !errors.As(err, &qe) {
		t.Fatalf("err=%v want QuotaExceededError", err)
	}

	limit = 1000
	if err := guard.Admit(ctx, "dev-1"); err != nil {
		t.Fatalf("admit after raise: %v", err)
	}
}
