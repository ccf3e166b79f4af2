package postgres

import (
	"context"
	"strings"
	"unicode/utf8"

	"github.com/pkg/errors"

	"github.com/mydost/dost/store"
)

// CreateMessage appends a message to the durable conversation log. Content
// over the size cap is truncated, never rejected.
func (d *DB) CreateMessage(ctx context.Context, create *store.Message) (*store.Message, error) {
	if len(create.Content) > store.MaxMessageContentBytes {
		cut := store.MaxMessageContentBytes
		for cut > 0 && !utf8.RuneStart(create.Content[cut]) {
			cut--
		}
		create.Content = create.Content[:cut]
	}

	stmt := `
		INSERT INTO messages (conversation_id, user_id, role, content)
		VALUES (` + placeholders(4) + `)
		RETURNING id, created_at
	`

	err := d.db.QueryRowContext(ctx, stmt,
		create.ConversationID,
		create.UserID,
		create.Role,
		create.Content,
	).Scan(&create.ID, &create.CreatedAt)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create message")
	}

	return create, nil
}

// ListMessages lists messages in chronological order. When Limit is set the
// newest N messages are returned, still oldest first.
func (d *DB) ListMessages(ctx context.Context, find *store.FindMessage) ([]*store.Message, error) {
	where, args := []string{"1 = 1"}, []any{}

	if find.ConversationID != nil {
		where, args = append(where, "conversation_id = "+placeholder(len(args)+1)), append(args, *find.ConversationID)
	}
	if find.UserID != nil {
		where, args = append(where, "user_id = "+placeholder(len(args)+1)), append(args, *find.UserID)
	}

	query := `
		SELECT id, conversation_id, user_id, role, content, created_at
		FROM messages
		WHERE ` + strings.Join(where, " AND ") + `
		ORDER BY created_at DESC, id DESC
	`
	if find.Limit > 0 {
		args = append(args, find.Limit)
		query += " LIMIT " + placeholder(len(args))
	}

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list messages")
	}
	defer rows.Close()

	list := []*store.Message{}
	for rows.Next() {
		var message store.Message
		err := rows.Scan(
			&message.ID,
			&message.ConversationID,
			&message.UserID,
			&message.Role,
			&message.Content,
			&message.CreatedAt,
		)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan message")
		}
		list = append(list, &message)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Flip to chronological order.
	for i, j := 0, len(list)-1; i < j; i, j = i+1, j-1 {
		list[i], list[j] = list[j], list[i]
	}

	return list, nil
}

// ListConversationSummaries returns per-conversation aggregates for a user,
// most recently active first. The preview is the conversation's earliest
// user message.
func (d *DB) ListConversationSummaries(ctx context.Context, userID string, limit int) ([]*store.ConversationSummary, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT
			agg.conversation_id,
			agg.created_at,
			agg.updated_at,
			agg.message_count,
			LEFT(first_user.content, 120) AS preview
		FROM (
			SELECT
				conversation_id,
				MIN(created_at) AS created_at,
				MAX(created_at) AS updated_at,
				COUNT(*) AS message_count
			FROM messages
			WHERE user_id = ` + placeholder(1) + `
			GROUP BY conversation_id
		) agg
		LEFT JOIN (
			SELECT DISTINCT ON (conversation_id) conversation_id, content
			FROM messages
			WHERE user_id = ` + placeholder(1) + ` AND role = 'user'
			ORDER BY conversation_id, created_at ASC, id ASC
		) first_user ON first_user.conversation_id = agg.conversation_id
		ORDER BY agg.updated_at DESC
		LIMIT ` + placeholder(2)

	rows, err := d.db.QueryContext(ctx, query, userID, limit)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list conversation summaries")
	}
	defer rows.Close()

	list := []*store.ConversationSummary{}
	for rows.Next() {
		var summary store.ConversationSummary
		var preview *string
		err := rows.Scan(
			&summary.ConversationID,
			&summary.CreatedAt,
			&summary.UpdatedAt,
			&summary.MessageCount,
			&preview,
		)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan conversation summary")
		}
		if preview != nil {
			summary.Preview = *preview
		}
		list = append(list, &summary)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return list, nil
}

// DeleteConversation removes a conversation's messages.
func (d *DB) DeleteConversation(ctx context.Context, conversationID string) error {
	stmt := `DELETE FROM messages WHERE conversation_id = ` + placeholder(1)
	if _, err := d.db.ExecContext(ctx, stmt, conversationID); err != nil {
		return errors.Wrap(err, "failed to delete conversation")
	}
	return nil
}

// DeleteAllConversations removes every message a user owns.
func (d *DB) DeleteAllConversations(ctx context.Context, userID string) error {
	stmt := `DELETE FROM messages WHERE user_id = ` + placeholder(1)
	if _, err := d.db.ExecContext(ctx, stmt, userID); err != nil {
		return errors.Wrap(err, "failed to delete conversations")
	}
	return nil
}
