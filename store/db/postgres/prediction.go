package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"

	"github.com/pkg/errors"

	"github.com/mydost/dost/store"
)

// CreatePrediction stores a shared evidence bundle. Match details are
// normalized before storage so lookups from differently spaced or cased
// queries hit the same row.
func (d *DB) CreatePrediction(ctx context.Context, create *store.Prediction) (*store.Prediction, error) {
	sources, err := json.Marshal(create.Sources)
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal prediction sources")
	}
	if create.Sources == nil {
		sources = []byte("[]")
	}

	stmt := `
		INSERT INTO predictions (uid, sport, query_type, match_details, analysis, sources, expires_at, active)
		VALUES (` + placeholders(8) + `)
		RETURNING id, created_at
	`

	err = d.db.QueryRowContext(ctx, stmt,
		create.UID,
		create.Sport,
		create.QueryType,
		store.NormalizeMatchDetails(create.MatchDetails),
		create.Analysis,
		sources,
		create.ExpiresAt,
		true,
	).Scan(&create.ID, &create.CreatedAt)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create prediction")
	}

	create.Active = true
	return create, nil
}

// GetActivePrediction returns the newest active, unexpired bundle for the
// lookup tuple and bumps its view counter in the same statement. Returns nil
// on a cache miss.
func (d *DB) GetActivePrediction(ctx context.Context, find *store.FindPrediction) (*store.Prediction, error) {
	stmt := `
		UPDATE predictions
		SET view_count = view_count + 1
		WHERE id = (
			SELECT id FROM predictions
			WHERE sport = ` + placeholder(1) + `
				AND query_type = ` + placeholder(2) + `
				AND match_details = ` + placeholder(3) + `
				AND active = TRUE
				AND expires_at > now()
			ORDER BY created_at DESC, id DESC
			LIMIT 1
		)
		RETURNING id, uid, sport, query_type, match_details, analysis, sources, view_count, created_at, expires_at, active
	`

	var prediction store.Prediction
	var sources []byte
	err := d.db.QueryRowContext(ctx, stmt,
		find.Sport,
		find.QueryType,
		store.NormalizeMatchDetails(find.MatchDetails),
	).Scan(
		&prediction.ID,
		&prediction.UID,
		&prediction.Sport,
		&prediction.QueryType,
		&prediction.MatchDetails,
		&prediction.Analysis,
		&sources,
		&prediction.ViewCount,
		&prediction.CreatedAt,
		&prediction.ExpiresAt,
		&prediction.Active,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, errors.Wrap(err, "failed to get active prediction")
	}

	if err := json.Unmarshal(sources, &prediction.Sources); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal prediction sources")
	}

	return &prediction, nil
}

// ListPopularPredictions lists active bundles by view count, optionally
// filtered to one sport.
func (d *DB) ListPopularPredictions(ctx context.Context, sport string, limit int) ([]*store.Prediction, error) {
	if limit <= 0 {
		limit = 10
	}

	where, args := []string{"active = TRUE", "expires_at > now()"}, []any{}
	if sport != "" {
		where = append(where, "sport = "+placeholder(len(args)+1))
		args = append(args, sport)
	}
	args = append(args, limit)

	query := `
		SELECT id, uid, sport, query_type, match_details, analysis, sources, view_count, created_at, expires_at, active
		FROM predictions
		WHERE ` + strings.Join(where, " AND ") + `
		ORDER BY view_count DESC, created_at DESC
		LIMIT ` + placeholder(len(args))

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list popular predictions")
	}
	defer rows.Close()

	list := []*store.Prediction{}
	for rows.Next() {
		var prediction store.Prediction
		var sources []byte
		err := rows.Scan(
			&prediction.ID,
			&prediction.UID,
			&prediction.Sport,
			&prediction.QueryType,
			&prediction.MatchDetails,
			&prediction.Analysis,
			&sources,
			&prediction.ViewCount,
			&prediction.CreatedAt,
			&prediction.ExpiresAt,
			&prediction.Active,
		)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan prediction")
		}
		if err := json.Unmarshal(sources, &prediction.Sources); err != nil {
			return nil, errors.Wrap(err, "failed to unmarshal prediction sources")
		}
		list = append(list, &prediction)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return list, nil
}

// DeactivateExpiredPredictions flips expired bundles inactive and reports how
// many were touched. Run periodically by the server sweep.
func (d *DB) DeactivateExpiredPredictions(ctx context.Context) (int64, error) {
	stmt := `UPDATE predictions SET active = FALSE WHERE active = TRUE AND expires_at <= now()`
	result, err := d.db.ExecContext(ctx, stmt)
	if err != nil {
		return 0, errors.Wrap(err, "failed to deactivate expired predictions")
	}
	rows, _ := result.RowsAffected()
	return rows, nil
}
