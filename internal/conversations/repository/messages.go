package repository

import (
	"context"
	"time"

	"chatflow_backend/internal/conversations/domain"
	"chatflow_backend/platform/apperr"
	"chatflow_backend/platform/db"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// AppendMessage stores msg and bumps the conversation's activity timestamp.
func (r *Repository) AppendMessage(ctx context.Context, msg domain.Message) (domain.Message, error) {
	if msg.ConversationID == uuid.Nil {
		return domain.Message{}, apperr.Validation("message requires a conversation")
	}
	if msg.Direction != domain.DirectionInbound && msg.Direction != domain.DirectionOutbound {
		return domain.Message{}, apperr.Validation("message direction must be INBOUND or OUTBOUND")
	}
	if msg.ID == uuid.Nil {
		msg.ID = uuid.New()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}

	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			INSERT INTO messages (id, conversation_id, direction, content, external_id, created_at)
			VALUES ($1, $2, $3, $4, NULLIF($5, ''), $6)
			ON CONFLICT (conversation_id, external_id) WHERE external_id IS NOT NULL DO NOTHING
		`, msg.ID, msg.ConversationID, string(msg.Direction), msg.Content, msg.ExternalID, msg.CreatedAt)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			// Already stored by an earlier attempt; hand back the original.
			var direction string
			if err := tx.QueryRow(ctx, `
				SELECT id, direction, content, created_at
				FROM messages
				WHERE conversation_id = $1 AND external_id = $2
			`, msg.ConversationID, msg.ExternalID).Scan(&msg.ID, &direction, &msg.Content, &msg.CreatedAt); err != nil {
				return err
			}
			msg.Direction = domain.Direction(direction)
			return nil
		}
		_, err = tx.Exec(ctx, `
			UPDATE conversations
			SET last_message_at = GREATEST(last_message_at, $2), updated_at = now()
			WHERE id = $1
		`, msg.ConversationID, msg.CreatedAt)
		return err
	})
	if err != nil {
		return domain.Message{}, wrapDBError("append message", err)
	}
	return msg, nil
}

// ListMessages returns the most recent limit messages, oldest first.
func (r *Repository) ListMessages(ctx context.Context, conversationID uuid.UUID, limit int) ([]domain.Message, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.pool.Query(ctx, `
		SELECT id, conversation_id, direction, content, COALESCE(external_id, ''), created_at
		FROM (
			SELECT * FROM messages
			WHERE conversation_id = $1
			ORDER BY created_at DESC, id DESC
			LIMIT $2
		) recent
		ORDER BY created_at ASC, id ASC
	`, conversationID, limit)
	if err != nil {
		return nil, wrapDBError("list messages", err)
	}
	defer rows.Close()

	items := make([]domain.Message, 0)
	for rows.Next() {
		var m domain.Message
		var direction string
		if err := rows.Scan(&m.ID, &m.ConversationID, &direction, &m.Content, &m.ExternalID, &m.CreatedAt); err != nil {
			return nil, wrapDBError("scan message", err)
		}
		m.Direction = domain.Direction(direction)
		items = append(items, m)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapDBError("list messages", err)
	}
	return items, nil
}

func (r *Repository) RecordLLMInteraction(ctx context.Context, entry domain.LLMInteraction) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO llm_interactions (id, conversation_id, purpose, prompt_chars, response_chars, tokens_used, latency_ms)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, uuid.New(), entry.ConversationID, entry.Purpose, entry.PromptChars, entry.ResponseChars, entry.TokensUsed, entry.LatencyMs)
	return wrapDBError("record llm interaction", err)
}
