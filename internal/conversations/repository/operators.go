package repository

import (
	"context"

	"chatflow_backend/internal/conversations/domain"

	"github.com/google/uuid"
)

const operatorSelect = `
	SELECT o.id, o.name, COALESCE(o.phone, ''), COALESCE(o.email, ''), o.is_active,
		(SELECT COUNT(*) FROM conversations c WHERE c.assigned_operator_id = o.id AND c.status <> 'CLOSED')
	FROM operators o`

func (r *Repository) GetOperator(ctx context.Context, id uuid.UUID) (domain.Operator, error) {
	var op domain.Operator
	err := r.pool.QueryRow(ctx, operatorSelect+` WHERE o.id = $1`, id).
		Scan(&op.ID, &op.Name, &op.Phone, &op.Email, &op.IsActive, &op.OpenLoad)
	if err != nil {
		return domain.Operator{}, wrapDBError("get operator", err)
	}
	return op, nil
}

// LeastLoadedOperator picks the active operator with the fewest open conversations.
func (r *Repository) LeastLoadedOperator(ctx context.Context) (domain.Operator, error) {
	var op domain.Operator
	err := r.pool.QueryRow(ctx, operatorSelect+`
		WHERE o.is_active = true
		ORDER BY 6 ASC, o.created_at ASC
		LIMIT 1
	`).Scan(&op.ID, &op.Name, &op.Phone, &op.Email, &op.IsActive, &op.OpenLoad)
	if err != nil {
		return domain.Operator{}, wrapDBError("least loaded operator", err)
	}
	return op, nil
}
