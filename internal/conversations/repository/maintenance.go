package repository

import (
	"context"
	"time"

	"chatflow_backend/internal/conversations/domain"

	"github.com/google/uuid"
)

// ListReengagementCandidates returns bot-handled ACTIVE conversations idle
// since before idleSince that have not been nudged since their last message.
func (r *Repository) ListReengagementCandidates(ctx context.Context, idleSince time.Time, limit int) ([]domain.Conversation, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+conversationColumns+`
		FROM conversations
		WHERE status = 'ACTIVE'
			AND handoff_state = 'ACTIVE_BOT'
			AND last_message_at < $1
			AND (reengaged_at IS NULL OR reengaged_at < last_message_at)
		ORDER BY last_message_at ASC
		LIMIT $2
	`, idleSince, limit)
	if err != nil {
		return nil, wrapDBError("list reengagement candidates", err)
	}
	items, err := collectConversations(rows)
	return items, wrapDBError("list reengagement candidates", err)
}

func (r *Repository) MarkReengaged(ctx context.Context, id uuid.UUID, at time.Time) error {
	_, err := r.pool.Exec(ctx, `UPDATE conversations SET reengaged_at = $2, updated_at = now() WHERE id = $1`, id, at)
	return wrapDBError("mark reengaged", err)
}

// ListStaleConversations returns open conversations idle since before idleSince.
func (r *Repository) ListStaleConversations(ctx context.Context, idleSince time.Time, limit int) ([]domain.Conversation, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+conversationColumns+`
		FROM conversations
		WHERE status <> 'CLOSED' AND last_message_at < $1
		ORDER BY last_message_at ASC
		LIMIT $2
	`, idleSince, limit)
	if err != nil {
		return nil, wrapDBError("list stale conversations", err)
	}
	items, err := collectConversations(rows)
	return items, wrapDBError("list stale conversations", err)
}
