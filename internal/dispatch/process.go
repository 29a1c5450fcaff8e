package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/dmaia/clinicsched/internal/model"
	"github.com/dmaia/clinicsched/internal/outbox"
)

// ProcessPending delivers the batch of due pending notifications, oldest
// first. Each notification's failure is recorded on its own row; one bad send
// never aborts the batch. A notification that exhausts its retries is marked
// failed and never selected again.
func (e *Engine) ProcessPending(ctx context.Context) (int, error) {
	now := e.now()

	ctx, span := otel.Tracer("dispatch").Start(ctx, "notifications.process",
		trace.WithAttributes(attribute.Int("batch.limit", e.batchSize)),
	)
	defer span.End()

	batch, err := e.store.DuePending(ctx, now, e.batchSize)
	if err != nil {
		span.RecordError(err)
		return 0, err
	}

	processed := 0
	for i := range batch {
		n := batch[i]
		if e.overLimit(ctx, n.Channel) {
			// Leave the row pending; the next tick retries without touching
			// the retry count.
			e.logger.Info("send rate limited", "notification_id", n.ID, "channel", n.Channel)
			continue
		}

		if sendErr := e.send(ctx, &n); sendErr != nil {
			n.RetryCount++
			n.ErrorMessage = sendErr.Error()
			if n.RetryCount >= n.MaxRetries {
				n.Status = model.NotificationFailed
				e.emitResult(ctx, &n, "notification.failed.v1")
			}
			e.logger.Error("notification send failed",
				"notification_id", n.ID,
				"channel", n.Channel,
				"retry_count", n.RetryCount,
				"err", sendErr,
			)
		} else {
			sentAt := now
			n.Status = model.NotificationSent
			n.SentAt = &sentAt
			n.ErrorMessage = ""
			e.emitResult(ctx, &n, "notification.sent.v1")
		}

		if err := e.store.UpdateNotification(ctx, &n); err != nil {
			e.logger.Error("notification update failed", "notification_id", n.ID, "err", err)
			continue
		}
		processed++
	}

	span.SetAttributes(attribute.Int("batch.processed", processed))
	return processed, nil
}

func (e *Engine) send(ctx context.Context, n *model.Notification) error {
	switch n.Channel {
	case model.ChannelEmail:
		if e.email == nil {
			return errors.New("email sender not configured")
		}
		return e.email.Send(n.Recipient, n.Subject, n.Body)
	case model.ChannelSMS:
		if e.sms == nil {
			return errors.New("sms sender not configured")
		}
		return e.sms.Send(ctx, n.Recipient, n.Body)
	default:
		return fmt.Errorf("unsupported channel %q", n.Channel)
	}
}

// overLimit consults the Redis send limiter. Limiter outages fail open: a
// broken rate limiter must not stop reminders going out.
func (e *Engine) overLimit(ctx context.Context, channel model.NotificationChannel) bool {
	if e.limiter == nil {
		return false
	}
	allowed, err := e.limiter.Allow(ctx, string(channel))
	if err != nil {
		e.logger.Warn("send limiter error", "err", err)
		return false
	}
	return !allowed
}

func (e *Engine) emitResult(ctx context.Context, n *model.Notification, eventType string) {
	if e.events == nil {
		return
	}
	payload, err := json.Marshal(map[string]any{
		"notification_id": n.ID,
		"appointment_id":  n.AppointmentID,
		"type":            n.Type,
		"channel":         n.Channel,
		"status":          n.Status,
		"retry_count":     n.RetryCount,
		"occurred_at":     e.now().Format(time.RFC3339),
	})
	if err != nil {
		e.logger.Error("failed to build notification event", "err", err)
		return
	}
	if err := e.events.Append(ctx, outbox.Event{
		AggregateType: "notification",
		AggregateID:   n.ID,
		EventType:     eventType,
		Payload:       payload,
	}); err != nil {
		e.logger.Error("failed to append notification event", "err", err)
	}
}
