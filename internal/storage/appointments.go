package storage

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/dmaia/clinicsched/internal/model"
)

const appointmentColumns = `
	a.id, a.patient_id, a.practitioner_id, a.scheduled_at, a.duration_minutes,
	a.status, a.payment_status, COALESCE(a.notes, ''), a.value_cents,
	p.name, COALESCE(p.email, ''), COALESCE(p.phone, ''),
	d.name,
	a.created_at, a.updated_at`

func (s *Store) CreateAppointment(ctx context.Context, appt *model.Appointment) (string, error) {
	id := uuid.NewString()
	_, err := s.pool.Exec(ctx, `
		INSERT INTO appointments
			(id, patient_id, practitioner_id, scheduled_at, duration_minutes, status, payment_status, notes, value_cents)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, id, appt.PatientID, appt.PractitionerID, appt.ScheduledAt, appt.DurationMinutes,
		appt.Status, appt.PaymentStatus, appt.Notes, appt.ValueCents)
	if err != nil {
		return "", mapExclusion(err)
	}
	return id, nil
}

func (s *Store) GetAppointment(ctx context.Context, id string) (model.Appointment, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments a
		JOIN patients p ON p.id = a.patient_id
		JOIN practitioners d ON d.id = a.practitioner_id
		WHERE a.id = $1
	`, id)
	appt, err := scanAppointment(row)
	if err != nil {
		return model.Appointment{}, mapNotFound(err)
	}
	return appt, nil
}

func (s *Store) UpdateAppointment(ctx context.Context, appt *model.Appointment) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE appointments
		SET scheduled_at = $2,
			duration_minutes = $3,
			status = $4,
			payment_status = $5,
			notes = $6,
			value_cents = $7,
			updated_at = now()
		WHERE id = $1
	`, appt.ID, appt.ScheduledAt, appt.DurationMinutes, appt.Status, appt.PaymentStatus, appt.Notes, appt.ValueCents)
	if err != nil {
		return mapExclusion(err)
	}
	if tag.RowsAffected() == 0 {
		return model.ErrNotFound
	}
	return nil
}

func (s *Store) DeleteAppointment(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM appointments WHERE id = $1
	`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return model.ErrNotFound
	}
	return nil
}

func (s *Store) ListPractitionerAppointments(ctx context.Context, practitionerID string, from, to time.Time, statuses []model.AppointmentStatus) ([]model.Appointment, error) {
	statusList := make([]string, 0, len(statuses))
	for _, st := range statuses {
		statusList = append(statusList, string(st))
	}

	rows, err := s.pool.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments a
		JOIN patients p ON p.id = a.patient_id
		JOIN practitioners d ON d.id = a.practitioner_id
		WHERE a.practitioner_id = $1
			AND a.scheduled_at >= $2
			AND a.scheduled_at < $3
			AND a.status = ANY($4)
		ORDER BY a.scheduled_at ASC
	`, practitionerID, from, to, statusList)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var appts []model.Appointment
	for rows.Next() {
		appt, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		appts = append(appts, appt)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return appts, nil
}

func (s *Store) ResolvePatient(ctx context.Context, id string) (model.PatientRef, error) {
	var ref model.PatientRef
	err := s.pool.QueryRow(ctx, `
		SELECT id, name, COALESCE(email, ''), COALESCE(phone, '')
		FROM patients
		WHERE id = $1
	`, id).Scan(&ref.ID, &ref.Name, &ref.Email, &ref.Phone)
	if err != nil {
		return model.PatientRef{}, mapNotFound(err)
	}
	return ref, nil
}

func (s *Store) ResolvePractitioner(ctx context.Context, id string) (model.PractitionerRef, error) {
	var ref model.PractitionerRef
	err := s.pool.QueryRow(ctx, `
		SELECT id, name
		FROM practitioners
		WHERE id = $1
	`, id).Scan(&ref.ID, &ref.Name)
	if err != nil {
		return model.PractitionerRef{}, mapNotFound(err)
	}
	return ref, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAppointment(row rowScanner) (model.Appointment, error) {
	var appt model.Appointment
	err := row.Scan(
		&appt.ID,
		&appt.PatientID,
		&appt.PractitionerID,
		&appt.ScheduledAt,
		&appt.DurationMinutes,
		&appt.Status,
		&appt.PaymentStatus,
		&appt.Notes,
		&appt.ValueCents,
		&appt.PatientName,
		&appt.PatientEmail,
		&appt.PatientPhone,
		&appt.PractitionerName,
		&appt.CreatedAt,
		&appt.UpdatedAt,
	)
	return appt, err
}
