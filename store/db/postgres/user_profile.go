package postgres

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/pkg/errors"

	"github.com/mydost/dost/store"
)

// GetUserProfile returns a user's learned profile, or nil when none exists.
func (d *DB) GetUserProfile(ctx context.Context, find *store.FindUserProfile) (*store.UserProfile, error) {
	query := `
		SELECT user_id, preferences, interests, conversation_count, total_messages, first_seen, last_active
		FROM user_profiles
		WHERE user_id = ` + placeholder(1)

	var userProfile store.UserProfile
	var preferences, interests []byte
	err := d.db.QueryRowContext(ctx, query, find.UserID).Scan(
		&userProfile.UserID,
		&preferences,
		&interests,
		&userProfile.ConversationCount,
		&userProfile.TotalMessages,
		&userProfile.FirstSeen,
		&userProfile.LastActive,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, errors.Wrap(err, "failed to get user profile")
	}

	if err := json.Unmarshal(preferences, &userProfile.Preferences); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal preferences")
	}
	if err := json.Unmarshal(interests, &userProfile.Interests); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal interests")
	}

	return &userProfile, nil
}

// UpsertUserProfile merges new facts into a profile. Preference keys overwrite,
// interests union without duplicates. Counters only ever grow.
func (d *DB) UpsertUserProfile(ctx context.Context, upsert *store.UpsertUserProfile) (*store.UserProfile, error) {
	preferences, err := json.Marshal(upsert.Preferences)
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal preferences")
	}
	if upsert.Preferences == nil {
		preferences = []byte("{}")
	}
	interests, err := json.Marshal(upsert.Interests)
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal interests")
	}
	if upsert.Interests == nil {
		interests = []byte("[]")
	}

	messageInc := 0
	if upsert.IncrementMessages {
		messageInc = 1
	}

	// jsonb || merges objects key-wise; the interests subquery unions the two
	// arrays without duplicates while keeping jsonb types intact.
	stmt := `
		INSERT INTO user_profiles (user_id, preferences, interests, total_messages, last_active)
		VALUES (` + placeholder(1) + `, ` + placeholder(2) + `, ` + placeholder(3) + `, ` + placeholder(4) + `, now())
		ON CONFLICT (user_id)
		DO UPDATE SET
			preferences = user_profiles.preferences || EXCLUDED.preferences,
			interests = (
				SELECT COALESCE(jsonb_agg(DISTINCT value), '[]'::jsonb)
				FROM jsonb_array_elements(user_profiles.interests || EXCLUDED.interests)
			),
			total_messages = user_profiles.total_messages + ` + placeholder(5) + `,
			last_active = now()
		RETURNING user_id, preferences, interests, conversation_count, total_messages, first_seen, last_active
	`

	var userProfile store.UserProfile
	var prefsOut, interestsOut []byte
	err = d.db.QueryRowContext(ctx, stmt,
		upsert.UserID,
		preferences,
		interests,
		messageInc,
		messageInc,
	).Scan(
		&userProfile.UserID,
		&prefsOut,
		&interestsOut,
		&userProfile.ConversationCount,
		&userProfile.TotalMessages,
		&userProfile.FirstSeen,
		&userProfile.LastActive,
	)
	if err != nil {
		return nil, errors.Wrap(err, "failed to upsert user profile")
	}

	if err := json.Unmarshal(prefsOut, &userProfile.Preferences); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal preferences")
	}
	if err := json.Unmarshal(interestsOut, &userProfile.Interests); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal interests")
	}

	return &userProfile, nil
}

// DeleteUserProfile removes a user's profile row.
func (d *DB) DeleteUserProfile(ctx context.Context, userID string) error {
	stmt := `DELETE FROM user_profiles WHERE user_id = ` + placeholder(1)
	if _, err := d.db.ExecContext(ctx, stmt, userID); err != nil {
		return errors.Wrap(err, "failed to delete user profile")
	}
	return nil
}
