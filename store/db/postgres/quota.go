package postgres

import (
	"context"
	"database/sql"
	"time"

	"github.com/pkg/errors"

	"github.com/mydost/dost/store"
)

// GetQuotaLedger returns a user's quota counters, or nil when no row exists.
func (d *DB) GetQuotaLedger(ctx context.Context, userID string) (*store.QuotaLedger, error) {
	query := `
		SELECT user_id, tier, messages_lifetime, messages_today, daily_reset_at
		FROM quota_ledger
		WHERE user_id = ` + placeholder(1)

	var ledger store.QuotaLedger
	err := d.db.QueryRowContext(ctx, query, userID).Scan(
		&ledger.UserID,
		&ledger.Tier,
		&ledger.MessagesLifetime,
		&ledger.MessagesToday,
		&ledger.DailyResetAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, errors.Wrap(err, "failed to get quota ledger")
	}

	return &ledger, nil
}

// EnsureQuotaLedger creates the ledger row if missing and keeps the tier
// current. Lifetime counters survive tier changes.
func (d *DB) EnsureQuotaLedger(ctx context.Context, userID, tier string, resetAt time.Time) (*store.QuotaLedger, error) {
	stmt := `
		INSERT INTO quota_ledger (user_id, tier, daily_reset_at)
		VALUES (` + placeholders(3) + `)
		ON CONFLICT (user_id)
		DO UPDATE SET tier = EXCLUDED.tier
		RETURNING user_id, tier, messages_lifetime, messages_today, daily_reset_at
	`

	var ledger store.QuotaLedger
	err := d.db.QueryRowContext(ctx, stmt, userID, tier, resetAt).Scan(
		&ledger.UserID,
		&ledger.Tier,
		&ledger.MessagesLifetime,
		&ledger.MessagesToday,
		&ledger.DailyResetAt,
	)
	if err != nil {
		return nil, errors.Wrap(err, "failed to ensure quota ledger")
	}

	return &ledger, nil
}

// ResetDailyQuota zeroes the daily counter and advances the reset boundary.
func (d *DB) ResetDailyQuota(ctx context.Context, userID string, resetAt time.Time) error {
	stmt := `
		UPDATE quota_ledger
		SET messages_today = 0, daily_reset_at = ` + placeholder(1) + `
		WHERE user_id = ` + placeholder(2)

	if _, err := d.db.ExecContext(ctx, stmt, resetAt, userID); err != nil {
		return errors.Wrap(err, "failed to reset daily quota")
	}
	return nil
}

// IncrementQuotaCounters bumps both the daily and lifetime message counters.
func (d *DB) IncrementQuotaCounters(ctx context.Context, userID string) error {
	stmt := `
		UPDATE quota_ledger
		SET messages_lifetime = messages_lifetime + 1, messages_today = messages_today + 1
		WHERE user_id = ` + placeholder(1)

	if _, err := d.db.ExecContext(ctx, stmt, userID); err != nil {
		return errors.Wrap(err, "failed to increment quota counters")
	}
	return nil
}

// IncrementGuestCounter atomically bumps a fingerprint's lifetime counter and
// returns the new value. First sight of a fingerprint creates the row at 1.
func (d *DB) IncrementGuestCounter(ctx context.Context, fingerprint string) (int, error) {
	stmt := `
		INSERT INTO guest_counters (fingerprint, message_count)
		VALUES (` + placeholder(1) + `, 1)
		ON CONFLICT (fingerprint)
		DO UPDATE SET message_count = guest_counters.message_count + 1
		RETURNING message_count
	`

	var count int
	if err := d.db.QueryRowContext(ctx, stmt, fingerprint).Scan(&count); err != nil {
		return 0, errors.Wrap(err, "failed to increment guest counter")
	}
	return count, nil
}
