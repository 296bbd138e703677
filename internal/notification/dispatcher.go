package notification

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"chatflow_backend/internal/conversations/domain"
	"chatflow_backend/internal/jobs"
	"chatflow_backend/internal/notification/outbox"
	"chatflow_backend/platform/apperr"
	"chatflow_backend/platform/logger"
	"chatflow_backend/platform/metrics"

	"github.com/google/uuid"
)

const (
	defaultBatchSize   = 50
	defaultMaxAttempts = 5
	retryBaseDelay     = 30 * time.Second
)

// OutboxStore is the outbox the dispatcher drains.
type OutboxStore interface {
	ClaimPending(ctx context.Context, limit int) ([]outbox.Record, error)
	MarkSucceeded(ctx context.Context, id uuid.UUID) error
	MarkRetry(ctx context.Context, id uuid.UUID, runAt time.Time, lastError string) error
	MarkFailed(ctx context.Context, id uuid.UUID, lastError string) error
}

// OperatorLookup resolves delivery addresses.
type OperatorLookup interface {
	GetOperator(ctx context.Context, id uuid.UUID) (domain.Operator, error)
}

// TextSender delivers WhatsApp text without typing simulation.
type TextSender interface {
	SendTextImmediate(ctx context.Context, chatID, text string) (string, error)
}

// Dispatcher delivers claimed outbox rows. A row counts as delivered when
// at least one channel accepts it.
type Dispatcher struct {
	store       OutboxStore
	operators   OperatorLookup
	whatsapp    TextSender
	mailer      Mailer
	batch       int
	maxAttempts int
	now         func() time.Time
	log         *logger.Logger
}

// NewDispatcher builds the outbox executor. whatsapp and mailer may be nil.
func NewDispatcher(store OutboxStore, operators OperatorLookup, whatsapp TextSender, mailer Mailer, log *logger.Logger) *Dispatcher {
	return &Dispatcher{
		store:       store,
		operators:   operators,
		whatsapp:    whatsapp,
		mailer:      mailer,
		batch:       defaultBatchSize,
		maxAttempts: defaultMaxAttempts,
		now:         time.Now,
		log:         log,
	}
}

// Execute drains one batch. Per-row failures are rescheduled on the outbox
// itself, so the job only fails when the claim does.
func (d *Dispatcher) Execute(ctx context.Context, _ jobs.Job) jobs.Outcome {
	records, err := d.store.ClaimPending(ctx, d.batch)
	if err != nil {
		return jobs.Classify(err)
	}

	delivered, rescheduled, failed := 0, 0, 0
	for _, rec := range records {
		err := d.deliver(ctx, rec)
		if err == nil {
			if markErr := d.store.MarkSucceeded(ctx, rec.ID); markErr != nil {
				d.log.WithContext(ctx).Warn("outbox row delivered but not marked", "outboxId", rec.ID, "error", markErr)
			}
			delivered++
			continue
		}
		if d.giveUp(rec, err) {
			failed++
			_ = d.store.MarkFailed(ctx, rec.ID, err.Error())
			d.log.WithContext(ctx).Error("notification delivery abandoned", "outboxId", rec.ID, "attempts", rec.Attempts, "error", err)
			continue
		}
		rescheduled++
		_ = d.store.MarkRetry(ctx, rec.ID, d.now().Add(retryDelay(rec.Attempts)), err.Error())
		d.log.WithContext(ctx).Warn("notification delivery failed", "outboxId", rec.ID, "attempts", rec.Attempts, "error", err)
	}

	return jobs.Success(map[string]int{
		"claimed":     len(records),
		"delivered":   delivered,
		"rescheduled": rescheduled,
		"failed":      failed,
	})
}

func (d *Dispatcher) giveUp(rec outbox.Record, err error) bool {
	return apperr.IsFatal(err) || rec.Attempts >= d.maxAttempts
}

func retryDelay(attempts int) time.Duration {
	if attempts < 1 {
		attempts = 1
	}
	return time.Duration(attempts*attempts) * retryBaseDelay
}

func (d *Dispatcher) deliver(ctx context.Context, rec outbox.Record) error {
	op, err := d.operators.GetOperator(ctx, rec.OperatorID)
	if err != nil {
		return err
	}

	var payload map[string]any
	if len(rec.Payload) > 0 {
		if err := json.Unmarshal(rec.Payload, &payload); err != nil {
			return apperr.Wrap(apperr.KindValidation, "decode outbox payload", err)
		}
	}
	alert := alertFor(rec.Kind, payload)

	var errs []error
	attempted := 0
	if d.whatsapp != nil && op.Phone != "" {
		attempted++
		_, err := d.whatsapp.SendTextImmediate(ctx, op.Phone, alert.PlainText())
		if err == nil {
			metrics.NotificationDeliveries.WithLabelValues("whatsapp", "ok").Inc()
			return nil
		}
		metrics.NotificationDeliveries.WithLabelValues("whatsapp", "error").Inc()
		errs = append(errs, err)
	}
	if d.mailer != nil && op.Email != "" {
		attempted++
		html, err := alert.HTML()
		if err == nil {
			err = d.mailer.Send(ctx, op.Email, alert.Title, html)
		}
		if err == nil {
			metrics.NotificationDeliveries.WithLabelValues("email", "ok").Inc()
			return nil
		}
		metrics.NotificationDeliveries.WithLabelValues("email", "error").Inc()
		errs = append(errs, err)
	}
	if attempted == 0 {
		return apperr.Validation("operator has no reachable delivery channel")
	}
	// The first channel's classification decides whether the row is retried.
	return errors.Join(errs...)
}
