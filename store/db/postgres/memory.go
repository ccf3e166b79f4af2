package postgres

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/pgvector/pgvector-go"
	"github.com/pkg/errors"

	"github.com/mydost/dost/store"
)

// CreateMemory stores an embedded text chunk. In degraded mode (no pgvector)
// the write is silently dropped so callers never fail a turn over it.
func (d *DB) CreateMemory(ctx context.Context, create *store.MemoryRecord) (*store.MemoryRecord, error) {
	if !d.vectorEnabled {
		return create, nil
	}

	metadata, err := json.Marshal(create.Metadata)
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal memory metadata")
	}
	if create.Metadata == nil {
		metadata = []byte("{}")
	}

	stmt := `
		INSERT INTO chat_vectors (user_id, conversation_id, memory_type, content, embedding, metadata)
		VALUES (` + placeholders(6) + `)
		RETURNING id, created_at
	`

	vector := pgvector.NewVector(create.Embedding)
	err = d.db.QueryRowContext(ctx, stmt,
		create.UserID,
		create.ConversationID,
		create.Type,
		create.Content,
		vector,
		metadata,
	).Scan(&create.ID, &create.CreatedAt)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create memory")
	}

	return create, nil
}

// VectorSearch returns memories ordered by cosine similarity to opts.Vector.
// The <=> operator computes cosine distance, so ordering ascending by distance
// yields most similar first. Degraded mode returns an empty result set.
func (d *DB) VectorSearch(ctx context.Context, opts *store.VectorSearchOptions) ([]*store.MemoryWithScore, error) {
	if !d.vectorEnabled {
		return []*store.MemoryWithScore{}, nil
	}

	limit := opts.Limit
	if limit <= 0 {
		limit = 10
	}

	where, args := []string{"user_id = " + placeholder(1)}, []any{opts.UserID}
	if opts.Type != nil {
		where = append(where, "memory_type = "+placeholder(len(args)+1))
		args = append(args, *opts.Type)
	}

	vector := pgvector.NewVector(opts.Vector)
	simIdx := len(args) + 1
	args = append(args, vector)
	if opts.Threshold > 0 {
		where = append(where, "1 - (embedding <=> "+placeholder(simIdx)+") >= "+placeholder(len(args)+1))
		args = append(args, opts.Threshold)
	}

	orderIdx := len(args) + 1
	args = append(args, vector, limit)

	query := `
		SELECT
			id, user_id, conversation_id, memory_type, content, metadata, created_at,
			1 - (embedding <=> ` + placeholder(simIdx) + `) AS similarity
		FROM chat_vectors
		WHERE ` + strings.Join(where, " AND ") + `
		ORDER BY embedding <=> ` + placeholder(orderIdx) + `
		LIMIT ` + placeholder(orderIdx+1)

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to vector search")
	}
	defer rows.Close()

	results := []*store.MemoryWithScore{}
	for rows.Next() {
		var result store.MemoryWithScore
		var memory store.MemoryRecord
		var metadata []byte

		err := rows.Scan(
			&memory.ID,
			&memory.UserID,
			&memory.ConversationID,
			&memory.Type,
			&memory.Content,
			&metadata,
			&memory.CreatedAt,
			&result.Similarity,
		)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan vector search result")
		}

		if len(metadata) > 0 {
			if err := json.Unmarshal(metadata, &memory.Metadata); err != nil {
				return nil, errors.Wrap(err, "failed to unmarshal memory metadata")
			}
		}

		result.MemoryRecord = &memory
		results = append(results, &result)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return results, nil
}

// DeleteUserMemories removes all vector memories a user owns.
func (d *DB) DeleteUserMemories(ctx context.Context, userID string) error {
	if !d.vectorEnabled {
		return nil
	}
	stmt := `DELETE FROM chat_vectors WHERE user_id = ` + placeholder(1)
	if _, err := d.db.ExecContext(ctx, stmt, userID); err != nil {
		return errors.Wrap(err, "failed to delete user memories")
	}
	return nil
}

// DeleteConversationMemories removes the vector memories tied to one conversation.
func (d *DB) DeleteConversationMemories(ctx context.Context, conversationID string) error {
	if !d.vectorEnabled {
		return nil
	}
	stmt := `DELETE FROM chat_vectors WHERE conversation_id = ` + placeholder(1)
	if _, err := d.db.ExecContext(ctx, stmt, conversationID); err != nil {
		return errors.Wrap(err, "failed to delete conversation memories")
	}
	return nil
}
