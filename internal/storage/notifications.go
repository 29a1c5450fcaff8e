package storage

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/dmaia/clinicsched/internal/model"
)

func (s *Store) CreateNotification(ctx context.Context, n *model.Notification) (string, error) {
	id := uuid.NewString()
	_, err := s.pool.Exec(ctx, `
		INSERT INTO notifications
			(id, type, channel, recipient, subject, body, status, scheduled_at, retry_count, max_retries, appointment_id, patient_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`, id, n.Type, n.Channel, n.Recipient, n.Subject, n.Body, n.Status, n.ScheduledAt,
		n.RetryCount, n.MaxRetries, nullable(n.AppointmentID), nullable(n.PatientID))
	if err != nil {
		return "", err
	}
	return id, nil
}

func (s *Store) UpdateNotification(ctx context.Context, n *model.Notification) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE notifications
		SET status = $2,
			sent_at = $3,
			retry_count = $4,
			error_message = $5,
			updated_at = now()
		WHERE id = $1
	`, n.ID, n.Status, n.SentAt, n.RetryCount, n.ErrorMessage)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return model.ErrNotFound
	}
	return nil
}

// DuePending returns the batch of notifications ready to send: pending, due,
// and with retries remaining, oldest first.
func (s *Store) DuePending(ctx context.Context, now time.Time, limit int) ([]model.Notification, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, type, channel, recipient, subject, body, status, scheduled_at, sent_at,
			retry_count, max_retries, COALESCE(error_message, ''),
			COALESCE(appointment_id::text, ''), COALESCE(patient_id::text, ''),
			created_at, updated_at
		FROM notifications
		WHERE status = 'pending'
			AND scheduled_at <= $1
			AND retry_count < max_retries
		ORDER BY scheduled_at ASC
		LIMIT $2
	`, now, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var batch []model.Notification
	for rows.Next() {
		var n model.Notification
		if err := rows.Scan(
			&n.ID,
			&n.Type,
			&n.Channel,
			&n.Recipient,
			&n.Subject,
			&n.Body,
			&n.Status,
			&n.ScheduledAt,
			&n.SentAt,
			&n.RetryCount,
			&n.MaxRetries,
			&n.ErrorMessage,
			&n.AppointmentID,
			&n.PatientID,
			&n.CreatedAt,
			&n.UpdatedAt,
		); err != nil {
			return nil, err
		}
		batch = append(batch, n)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return batch, nil
}

// CancelPendingByAppointment bulk-cancels pending notifications for the
// appointment and returns the number of rows touched. Zero is a valid result.
func (s *Store) CancelPendingByAppointment(ctx context.Context, appointmentID string) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE notifications
		SET status = 'cancelled',
			updated_at = now()
		WHERE appointment_id = $1
			AND status = 'pending'
	`, appointmentID)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
