// Package quota gates and accounts for per-user storage usage.
package quota

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"vault/internal/server/metadata"
)

var (
	rejectionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "vault_quota_rejections_total",
		Help: "Size-increasing operations refused by the quota gate.",
	})
	anomaliesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "vault_quota_anomalies_total",
		Help: "Usage adjustments that would have gone below zero.",
	})
	driftBytes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "vault_quota_drift_bytes_total",
		Help: "Absolute bytes corrected by usage recomputation.",
	})
)

// Usage is a user's storage ledger.
type Usage struct {
	Used      int64 `json:"used"`
	Quota     int64 `json:"quota"`
	Available int64 `json:"available"`
}

// Tracker reads and adjusts usage through the user store. Every adjustment is
// an atomic increment inside the store; the tracker never read-modify-writes.
type Tracker struct {
	users  metadata.UserStore
	logger *slog.Logger
}

// NewTracker creates a tracker over users.
func NewTracker(users metadata.UserStore, logger *slog.Logger) *Tracker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracker{users: users, logger: logger.With("component", "quota")}
}

// CheckAvailable reports whether delta more bytes fit in the user's quota.
// Zero and negative deltas always fit.
func (t *Tracker) CheckAvailable(ctx context.Context, userID string, delta int64) (bool, error) {
	u, err := t.users.GetUser(ctx, userID)
	if err != nil {
		return false, err
	}
	if delta <= 0 || u.StorageUsed+delta <= u.StorageQuota {
		return true, nil
	}
	rejectionsTotal.Inc()
	return false, nil
}

// RecordRejection counts a quota refusal raised by the store itself.
func (t *Tracker) RecordRejection() {
	rejectionsTotal.Inc()
}

// ApplyDelta adjusts usage by delta, flooring at zero. Hitting the floor is an
// accounting bug upstream, so it is logged but not returned as an error.
func (t *Tracker) ApplyDelta(ctx context.Context, userID string, delta int64) (int64, error) {
	used, clamped, err := t.users.AdjustUsage(ctx, userID, delta)
	if err != nil {
		return 0, fmt.Errorf("failed to adjust usage: %w", err)
	}
	if clamped {
		anomaliesTotal.Inc()
		t.logger.Error("quota anomaly: usage floored at zero", "user_id", userID, "delta", delta)
	}
	return used, nil
}

// Recompute resets usage to the sum of the user's active file sizes and
// returns the corrected value.
func (t *Tracker) Recompute(ctx context.Context, userID string) (int64, error) {
	u, err := t.users.GetUser(ctx, userID)
	if err != nil {
		return 0, err
	}
	actual, err := t.users.ActiveBytes(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("failed to sum active bytes: %w", err)
	}
	if err := t.users.SetUsage(ctx, userID, actual); err != nil {
		return 0, fmt.Errorf("failed to store usage: %w", err)
	}

	if drift := actual - u.StorageUsed; drift != 0 {
		driftBytes.Add(float64(max(drift, -drift)))
		t.logger.Warn("corrected storage usage drift",
			"user_id", userID,
			"recorded", u.StorageUsed,
			"actual", actual,
		)
	}
	return actual, nil
}

// Usage returns the user's current ledger.
func (t *Tracker) Usage(ctx context.Context, userID string) (*Usage, error) {
	u, err := t.users.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	return &Usage{Used: u.StorageUsed, Quota: u.StorageQuota, Available: u.Available()}, nil
}
