// Package repository persists conversations, leads, messages and audit
// records in PostgreSQL.
package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"chatflow_backend/internal/conversations/domain"
	"chatflow_backend/internal/conversations/ports"
	"chatflow_backend/platform/apperr"
	"chatflow_backend/platform/db"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

var _ ports.Repository = (*Repository)(nil)

var errCreateRace = errors.New("conversation created concurrently")

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type Repository struct {
	pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const conversationColumns = `id, external_chat_id, contact_phone, COALESCE(contact_name, ''), status, handoff_state,
	is_urgent, assigned_operator_id, lead_id, reengaged_at, created_at, updated_at, last_message_at`

func scanConversation(row pgx.Row) (domain.Conversation, error) {
	var c domain.Conversation
	var status, handoff string
	err := row.Scan(
		&c.ID, &c.ExternalChatID, &c.ContactPhone, &c.ContactName, &status, &handoff,
		&c.IsUrgent, &c.AssignedOperatorID, &c.LeadID, &c.ReengagedAt, &c.CreatedAt, &c.UpdatedAt, &c.LastMessageAt,
	)
	if err != nil {
		return domain.Conversation{}, err
	}
	c.Status = domain.Status(status)
	c.Handoff = domain.HandoffState(handoff)
	return c, nil
}

func collectConversations(rows pgx.Rows) ([]domain.Conversation, error) {
	defer rows.Close()
	items := make([]domain.Conversation, 0)
	for rows.Next() {
		c, err := scanConversation(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, c)
	}
	return items, rows.Err()
}

func (r *Repository) GetConversation(ctx context.Context, id uuid.UUID) (domain.Conversation, error) {
	c, err := scanConversation(r.pool.QueryRow(ctx,
		`SELECT `+conversationColumns+` FROM conversations WHERE id = $1`, id))
	if err != nil {
		return domain.Conversation{}, wrapDBError("get conversation", err)
	}
	return c, nil
}

func (r *Repository) GetConversationByChatID(ctx context.Context, chatID string) (domain.Conversation, error) {
	c, err := scanConversation(r.pool.QueryRow(ctx,
		`SELECT `+conversationColumns+` FROM conversations WHERE external_chat_id = $1`, chatID))
	if err != nil {
		return domain.Conversation{}, wrapDBError("get conversation by chat id", err)
	}
	return c, nil
}

func (r *Repository) GetLead(ctx context.Context, id uuid.UUID) (domain.Lead, error) {
	lead, err := getLead(ctx, r.pool, id, false)
	if err != nil {
		return domain.Lead{}, wrapDBError("get lead", err)
	}
	return lead, nil
}

func getLead(ctx context.Context, q querier, id uuid.UUID, forUpdate bool) (domain.Lead, error) {
	query := `SELECT id, maturity_score, status, assigned_operator_id FROM leads WHERE id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	var lead domain.Lead
	err := q.QueryRow(ctx, query, id).Scan(&lead.ID, &lead.MaturityScore, &lead.Status, &lead.AssignedOperatorID)
	return lead, err
}

// GetOrCreateConversation returns the conversation for the chat id, creating
// it together with its lead when absent. Both rows are written in one
// transaction.
func (r *Repository) GetOrCreateConversation(ctx context.Context, params ports.NewConversationParams) (domain.Conversation, domain.Lead, bool, error) {
	if params.ExternalChatID == "" {
		return domain.Conversation{}, domain.Lead{}, false, apperr.Validation("external chat id is required")
	}

	for attempt := 0; attempt < 2; attempt++ {
		conv, lead, created, err := r.getOrCreate(ctx, params)
		if errors.Is(err, errCreateRace) {
			continue
		}
		if err != nil {
			return domain.Conversation{}, domain.Lead{}, false, wrapDBError("get or create conversation", err)
		}
		return conv, lead, created, nil
	}
	return domain.Conversation{}, domain.Lead{}, false, apperr.Conflict("conversation creation kept racing")
}

func (r *Repository) getOrCreate(ctx context.Context, params ports.NewConversationParams) (domain.Conversation, domain.Lead, bool, error) {
	var (
		conv    domain.Conversation
		lead    domain.Lead
		created bool
	)
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		existing, err := scanConversation(tx.QueryRow(ctx,
			`SELECT `+conversationColumns+` FROM conversations WHERE external_chat_id = $1`, params.ExternalChatID))
		if err == nil {
			conv = existing
			lead, err = getLead(ctx, tx, existing.LeadID, false)
			return err
		}
		if !errors.Is(err, pgx.ErrNoRows) {
			return err
		}

		lead = domain.NewLead()
		if _, err := tx.Exec(ctx,
			`INSERT INTO leads (id, maturity_score, status) VALUES ($1, $2, $3)`,
			lead.ID, lead.MaturityScore, lead.Status); err != nil {
			return err
		}

		fresh := domain.NewConversation(params.ExternalChatID, params.ContactPhone, params.ContactName, lead.ID, time.Now().UTC())
		conv, err = scanConversation(tx.QueryRow(ctx, `
			INSERT INTO conversations (id, external_chat_id, contact_phone, contact_name, status, handoff_state, lead_id)
			VALUES ($1, $2, $3, NULLIF($4, ''), $5, $6, $7)
			ON CONFLICT (external_chat_id) DO NOTHING
			RETURNING `+conversationColumns,
			fresh.ID, fresh.ExternalChatID, fresh.ContactPhone, fresh.ContactName,
			string(fresh.Status), string(fresh.Handoff), fresh.LeadID))
		if errors.Is(err, pgx.ErrNoRows) {
			// Lost the race; rolling back drops the orphan lead.
			return errCreateRace
		}
		created = err == nil
		return err
	})
	return conv, lead, created, err
}

// MutateConversation locks the row, applies fn and writes the result. When fn
// fails nothing is written.
func (r *Repository) MutateConversation(ctx context.Context, id uuid.UUID, fn func(*domain.Conversation) error) (domain.Conversation, error) {
	var out domain.Conversation
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		c, err := scanConversation(tx.QueryRow(ctx,
			`SELECT `+conversationColumns+` FROM conversations WHERE id = $1 FOR UPDATE`, id))
		if err != nil {
			return err
		}
		if err := fn(&c); err != nil {
			return err
		}
		out, err = scanConversation(tx.QueryRow(ctx, `
			UPDATE conversations
			SET contact_name = NULLIF($2, ''), status = $3, handoff_state = $4, is_urgent = $5,
				assigned_operator_id = $6, reengaged_at = $7, last_message_at = $8, updated_at = now()
			WHERE id = $1
			RETURNING `+conversationColumns,
			c.ID, c.ContactName, string(c.Status), string(c.Handoff), c.IsUrgent,
			c.AssignedOperatorID, c.ReengagedAt, c.LastMessageAt))
		return err
	})
	if err != nil {
		var appErr *apperr.Error
		if errors.As(err, &appErr) {
			return domain.Conversation{}, err
		}
		return domain.Conversation{}, wrapDBError("mutate conversation", err)
	}
	return out, nil
}

func (r *Repository) UpdateStatus(ctx context.Context, id uuid.UUID, status domain.Status) (domain.Conversation, error) {
	return r.MutateConversation(ctx, id, func(c *domain.Conversation) error {
		return c.TransitionTo(status)
	})
}

// UpdateScore applies the change to the lead's maturity score under a row
// lock and records it in lead_interactions in the same transaction. A change
// already recorded for the same source message is not applied again.
func (r *Repository) UpdateScore(ctx context.Context, change ports.ScoreChange) (int, int, error) {
	var before, after int
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		lead, err := getLead(ctx, tx, change.LeadID, true)
		if err != nil {
			return err
		}

		if change.SourceMessageID != "" {
			err := tx.QueryRow(ctx, `
				SELECT score_before, score_after FROM lead_interactions
				WHERE lead_id = $1 AND source_message_id = $2
			`, lead.ID, change.SourceMessageID).Scan(&before, &after)
			if err == nil {
				return nil
			}
			if !errors.Is(err, pgx.ErrNoRows) {
				return err
			}
		}

		before, after = lead.ApplyDelta(change.Delta)
		if _, err := tx.Exec(ctx,
			`UPDATE leads SET maturity_score = $2, status = $3, updated_at = now() WHERE id = $1`,
			lead.ID, lead.MaturityScore, lead.Status); err != nil {
			return err
		}
		_, err = tx.Exec(ctx, `
			INSERT INTO lead_interactions (id, lead_id, conversation_id, intent, score_before, score_after, source_message_id)
			VALUES ($1, $2, $3, $4, $5, $6, NULLIF($7, ''))
		`, uuid.New(), lead.ID, change.ConversationID, string(change.Intent), before, after, change.SourceMessageID)
		return err
	})
	if err != nil {
		return 0, 0, wrapDBError("update score", err)
	}
	return before, after, nil
}

func wrapDBError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return apperr.NotFound(fmt.Sprintf("%s: not found", op))
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return apperr.Timeout(op, err)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && len(pgErr.Code) >= 2 {
		switch pgErr.Code[:2] {
		case "23":
			return apperr.Wrap(apperr.KindConflict, op, err)
		case "22":
			return apperr.Wrap(apperr.KindValidation, op, err)
		}
	}
	return apperr.Unavailable(op, err)
}
