// Package quota gates request admission against the per-device daily token
// cap before any upstream cost is incurred.
package quota

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/protagonist-labs/device-gateway/internal/usage"
)

// ErrUnknownDevice is returned when the device id is well formed but not
// registered. The caller must register first.
var ErrUnknownDevice = errors.New("unknown device, call /v1/register first")

// QuotaExceededError reports that the device's recorded usage for the current
// UTC day has reached the configured cap.
type QuotaExceededError struct {
	Limit int64
	Used  int64
}

func (e *QuotaExceededError) Error() string {
	return fmt.Sprintf("daily token limit reached (%d), resets at midnight UTC", e.Limit)
}

// DeviceChecker is the registry surface the guard needs.
type DeviceChecker interface {
	Exists(ctx context.Context, deviceID string) (bool, error)
	Touch(ctx context.Context, deviceID string) error
}

// Guard admits or rejects a request for a device. The check is a soft
// ceiling: it compares usage already recorded from prior completed calls,
// so a single large in-flight request can overshoot the cap; the next
// request is what gets blocked.
type Guard struct {
	registry DeviceChecker
	totals   usage.DailyTotalReader
	limit    func() int64
}

// NewGuard builds a guard. limit is read per request so config hot reloads
// take effect without rebuilding the guard.
func NewGuard(registry DeviceChecker, totals usage.DailyTotalReader, limit func() int64) *Guard {
	return &Guard{registry: registry, totals: totals, limit: limit}
}

// Limit returns the currently configured daily token cap.
func (g *Guard) Limit() int64 {
	if g == nil || g.limit == nil {
		return 0
	}
	return g.limit()
}

// Admit verifies the device is registered, touches last_seen, and checks
// today's recorded usage against the cap. Check order is fixed: unknown
// device is reported before any quota evaluation.
func (g *Guard) Admit(ctx context.Context, deviceID string) error {
	if g == nil || g.registry == nil || g.totals == nil {
		return fmt.Errorf("quota guard: not initialized")
	}
	deviceID = strings.TrimSpace(deviceID)
	if deviceID == "" {
		return ErrUnknownDevice
	}

	ok, err := g.registry.Exists(ctx, deviceID)
	if err != nil {
		return fmt.Errorf("quota guard: check device: %w", err)
	}
	if !ok {
		return ErrUnknownDevice
	}

	if err := g.registry.Touch(ctx, deviceID); err != nil {
		return fmt.Errorf("quota guard: touch device: %w", err)
	}

	limit := g.Limit()
	total, err := g.totals.DailyTotal(ctx, deviceID, usage.DayKeyUTC(time.Now()))
	if err != nil {
		return fmt.Errorf("quota guard: daily total: %w", err)
	}
	if total >= limit {
		return &QuotaExceededError{Limit: limit, Used: total}
	}
	return nil
}
