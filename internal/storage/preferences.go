package storage

import (
	"context"

	"github.com/dmaia/clinicsched/internal/model"
)

func (s *Store) GetPreference(ctx context.Context, patientID string) (model.NotificationPreference, error) {
	var pref model.NotificationPreference
	err := s.pool.QueryRow(ctx, `
		SELECT patient_id, reminders_enabled, preferred_channel, lead_time_hours, payment_reminders
		FROM notification_preferences
		WHERE patient_id = $1
	`, patientID).Scan(
		&pref.PatientID,
		&pref.RemindersEnabled,
		&pref.PreferredChannel,
		&pref.LeadTimeHours,
		&pref.PaymentReminders,
	)
	if err != nil {
		return model.NotificationPreference{}, mapNotFound(err)
	}
	return pref, nil
}

func (s *Store) UpsertPreference(ctx context.Context, pref model.NotificationPreference) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO notification_preferences
			(patient_id, reminders_enabled, preferred_channel, lead_time_hours, payment_reminders)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (patient_id) DO UPDATE
		SET reminders_enabled = EXCLUDED.reminders_enabled,
			preferred_channel = EXCLUDED.preferred_channel,
			lead_time_hours = EXCLUDED.lead_time_hours,
			payment_reminders = EXCLUDED.payment_reminders,
			updated_at = now()
	`, pref.PatientID, pref.RemindersEnabled, pref.PreferredChannel, pref.LeadTimeHours, pref.PaymentReminders)
	return err
}
