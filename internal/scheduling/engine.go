// Package scheduling owns appointment conflict detection, slot availability
// and the appointment status lifecycle. Notification side effects are
// deliberately fire-and-forget: a messaging outage must never block a
// clinical write.
package scheduling

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dmaia/clinicsched/internal/model"
	"github.com/dmaia/clinicsched/internal/outbox"
	"github.com/dmaia/clinicsched/internal/timeutil"
)

type Store interface {
	CreateAppointment(ctx context.Context, appt *model.Appointment) (string, error)
	GetAppointment(ctx context.Context, id string) (model.Appointment, error)
	UpdateAppointment(ctx context.Context, appt *model.Appointment) error
	DeleteAppointment(ctx context.Context, id string) error
	// ListPractitionerAppointments returns the practitioner's appointments
	// with scheduled_at in [from,to) whose status is in statuses.
	ListPractitionerAppointments(ctx context.Context, practitionerID string, from, to time.Time, statuses []model.AppointmentStatus) ([]model.Appointment, error)
	ResolvePatient(ctx context.Context, id string) (model.PatientRef, error)
	ResolvePractitioner(ctx context.Context, id string) (model.PractitionerRef, error)
}

// Notifier is the dispatch engine surface the scheduling engine drives.
type Notifier interface {
	SendAppointmentConfirmation(ctx context.Context, appointmentID string) error
	ScheduleAppointmentReminder(ctx context.Context, appointmentID string) error
	CancelAppointmentNotifications(ctx context.Context, appointmentID string) (int64, error)
}

// EventSink receives appointment lifecycle events for the outbox publisher.
type EventSink interface {
	Append(ctx context.Context, evt outbox.Event) error
}

type Engine struct {
	store  Store
	notify Notifier
	events EventSink
	logger *slog.Logger
	loc    *time.Location
	now    func() time.Time
}

type Config struct {
	// Location is the clinic's business timezone. Conflict checks load the
	// practitioner's calendar for the local day, not the UTC day.
	Location *time.Location
	Now      func() time.Time
}

func NewEngine(store Store, notify Notifier, events EventSink, logger *slog.Logger, cfg Config) *Engine {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.Now == nil {
		cfg.Now = func() time.Time { return time.Now().UTC() }
	}
	return &Engine{
		store:  store,
		notify: notify,
		events: events,
		logger: logger,
		loc:    cfg.Location,
		now:    cfg.Now,
	}
}

type CreateInput struct {
	PatientID       string
	PractitionerID  string
	ScheduledAt     time.Time
	DurationMinutes int // 0 means the default 30
	Notes           string
	ValueCents      int64
}

// Create books an appointment after the conflict check passes. Confirmation
// and reminder notifications are scheduled best-effort; their failure is
// logged and never surfaced to the caller.
func (e *Engine) Create(ctx context.Context, in CreateInput) (model.Appointment, error) {
	if in.PatientID == "" {
		return model.Appointment{}, &model.ValidationError{Field: "patient_id", Reason: "patient id is required"}
	}
	if in.PractitionerID == "" {
		return model.Appointment{}, &model.ValidationError{Field: "practitioner_id", Reason: "practitioner id is required"}
	}
	if in.ScheduledAt.IsZero() {
		return model.Appointment{}, &model.ValidationError{Field: "scheduled_at", Reason: "scheduled time is required"}
	}
	duration := in.DurationMinutes
	if duration == 0 {
		duration = model.DefaultDurationMinutes
	}
	if duration < 0 {
		return model.Appointment{}, &model.ValidationError{Field: "duration_minutes", Reason: "duration must be positive"}
	}

	patient, err := e.store.ResolvePatient(ctx, in.PatientID)
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			return model.Appointment{}, &model.ValidationError{Field: "patient_id", Reason: "patient does not exist"}
		}
		return model.Appointment{}, err
	}
	practitioner, err := e.store.ResolvePractitioner(ctx, in.PractitionerID)
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			return model.Appointment{}, &model.ValidationError{Field: "practitioner_id", Reason: "practitioner does not exist"}
		}
		return model.Appointment{}, err
	}

	if err := e.conflictCheck(ctx, in.PractitionerID, in.ScheduledAt, duration, ""); err != nil {
		return model.Appointment{}, err
	}

	now := e.now()
	appt := model.Appointment{
		PatientID:        in.PatientID,
		PractitionerID:   in.PractitionerID,
		ScheduledAt:      in.ScheduledAt.UTC(),
		DurationMinutes:  duration,
		Status:           model.StatusScheduled,
		PaymentStatus:    model.PaymentPending,
		Notes:            in.Notes,
		ValueCents:       in.ValueCents,
		PatientName:      patient.Name,
		PatientEmail:     patient.Email,
		PatientPhone:     patient.Phone,
		PractitionerName: practitioner.Name,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	id, err := e.store.CreateAppointment(ctx, &appt)
	if err != nil {
		return model.Appointment{}, err
	}
	appt.ID = id

	if err := e.notify.SendAppointmentConfirmation(ctx, id); err != nil {
		e.logger.Warn("confirmation scheduling failed", "appointment_id", id, "err", err)
	}
	if err := e.notify.ScheduleAppointmentReminder(ctx, id); err != nil {
		e.logger.Warn("reminder scheduling failed", "appointment_id", id, "err", err)
	}
	e.emitEvent(ctx, &appt, "appointment.created.v1")

	return appt, nil
}

type UpdateInput struct {
	ScheduledAt     *time.Time
	DurationMinutes *int
	Notes           *string
	ValueCents      *int64
	PaymentStatus   *model.PaymentStatus
}

// Update merges partial fields into the appointment. A time change re-runs
// the conflict check against the new interval (excluding the appointment's
// own booking), cancels pending notifications and schedules a fresh reminder.
// No second confirmation is sent on reschedule.
func (e *Engine) Update(ctx context.Context, id string, in UpdateInput) (model.Appointment, error) {
	appt, err := e.store.GetAppointment(ctx, id)
	if err != nil {
		return model.Appointment{}, err
	}

	newStart := appt.ScheduledAt
	newDuration := appt.DurationMinutes
	if in.ScheduledAt != nil {
		newStart = in.ScheduledAt.UTC()
	}
	if in.DurationMinutes != nil {
		if *in.DurationMinutes <= 0 {
			return model.Appointment{}, &model.ValidationError{Field: "duration_minutes", Reason: "duration must be positive"}
		}
		newDuration = *in.DurationMinutes
	}
	timeChanged := !newStart.Equal(appt.ScheduledAt) || newDuration != appt.DurationMinutes

	if timeChanged {
		if err := e.conflictCheck(ctx, appt.PractitionerID, newStart, newDuration, appt.ID); err != nil {
			return model.Appointment{}, err
		}
		appt.ScheduledAt = newStart
		appt.DurationMinutes = newDuration
	}
	if in.Notes != nil {
		appt.Notes = *in.Notes
	}
	if in.ValueCents != nil {
		appt.ValueCents = *in.ValueCents
	}
	if in.PaymentStatus != nil {
		appt.PaymentStatus = *in.PaymentStatus
	}
	appt.UpdatedAt = e.now()

	if err := e.store.UpdateAppointment(ctx, &appt); err != nil {
		return model.Appointment{}, err
	}

	if timeChanged {
		if _, err := e.notify.CancelAppointmentNotifications(ctx, appt.ID); err != nil {
			e.logger.Warn("notification cancellation failed", "appointment_id", appt.ID, "err", err)
		}
		if err := e.notify.ScheduleAppointmentReminder(ctx, appt.ID); err != nil {
			e.logger.Warn("reminder rescheduling failed", "appointment_id", appt.ID, "err", err)
		}
		e.emitEvent(ctx, &appt, "appointment.rescheduled.v1")
	}

	return appt, nil
}

// UpdateStatus moves the appointment through its lifecycle. Illegal
// transitions are rejected with a TransitionError.
func (e *Engine) UpdateStatus(ctx context.Context, id string, status model.AppointmentStatus) (model.Appointment, error) {
	if !model.ValidStatus(status) {
		return model.Appointment{}, &model.ValidationError{Field: "status", Reason: fmt.Sprintf("unknown status %q", status)}
	}

	appt, err := e.store.GetAppointment(ctx, id)
	if err != nil {
		return model.Appointment{}, err
	}
	if !model.CanTransition(appt.Status, status) {
		return model.Appointment{}, &model.TransitionError{From: appt.Status, To: status}
	}

	appt.Status = status
	appt.UpdatedAt = e.now()
	if err := e.store.UpdateAppointment(ctx, &appt); err != nil {
		return model.Appointment{}, err
	}

	if status == model.StatusCancelled {
		if _, err := e.notify.CancelAppointmentNotifications(ctx, appt.ID); err != nil {
			e.logger.Warn("notification cancellation failed", "appointment_id", appt.ID, "err", err)
		}
	}
	e.emitEvent(ctx, &appt, "appointment.status_changed.v1")

	return appt, nil
}

// Delete removes an appointment. Only cancelled appointments are deletable
// unless force is set; others should be cancelled first. Pending
// notifications are cancelled best-effort before the record goes away.
func (e *Engine) Delete(ctx context.Context, id string, force bool) error {
	appt, err := e.store.GetAppointment(ctx, id)
	if err != nil {
		return err
	}
	if !force && appt.Status != model.StatusCancelled {
		return fmt.Errorf("appointment %s is %s, cancel it first: %w", id, appt.Status, model.ErrPreconditionFailed)
	}

	if _, err := e.notify.CancelAppointmentNotifications(ctx, id); err != nil {
		e.logger.Warn("notification cancellation failed", "appointment_id", id, "err", err)
	}

	if err := e.store.DeleteAppointment(ctx, id); err != nil {
		return err
	}
	e.emitEvent(ctx, &appt, "appointment.deleted.v1")
	return nil
}

// CheckConflict reports whether booking [start, start+duration) for the
// practitioner would overlap an existing active appointment. excludeID, when
// non-empty, removes that appointment from the overlap set so reschedules do
// not conflict with themselves.
func (e *Engine) CheckConflict(ctx context.Context, practitionerID string, start time.Time, durationMinutes int, excludeID string) (bool, error) {
	err := e.conflictCheck(ctx, practitionerID, start, durationMinutes, excludeID)
	if err == nil {
		return false, nil
	}
	if model.IsConflict(err) {
		return true, nil
	}
	return false, err
}

func (e *Engine) conflictCheck(ctx context.Context, practitionerID string, start time.Time, durationMinutes int, excludeID string) error {
	newStart := start.UTC()
	newEnd := newStart.Add(time.Duration(durationMinutes) * time.Minute)

	dayStart, dayEnd := timeutil.DayBoundsAt(newStart, e.loc)
	existing, err := e.store.ListPractitionerAppointments(ctx, practitionerID, dayStart, dayEnd, model.BlockingStatuses())
	if err != nil {
		return err
	}
	for i := range existing {
		other := &existing[i]
		if other.ID == excludeID {
			continue
		}
		if timeutil.Overlaps(newStart, newEnd, other.Start(), other.End()) {
			return &model.ConflictError{
				AppointmentID: other.ID,
				Start:         other.Start(),
				End:           other.End(),
			}
		}
	}
	return nil
}

func (e *Engine) emitEvent(ctx context.Context, appt *model.Appointment, eventType string) {
	if e.events == nil {
		return
	}
	payload, err := json.Marshal(map[string]any{
		"appointment_id":  appt.ID,
		"patient_id":      appt.PatientID,
		"practitioner_id": appt.PractitionerID,
		"scheduled_at":    appt.ScheduledAt.UTC().Format(time.RFC3339),
		"duration_min":    appt.DurationMinutes,
		"status":          appt.Status,
	})
	if err != nil {
		e.logger.Error("failed to build appointment event", "err", err)
		return
	}
	if err := e.events.Append(ctx, outbox.Event{
		AggregateType: "appointment",
		AggregateID:   appt.ID,
		EventType:     eventType,
		Payload:       payload,
	}); err != nil {
		e.logger.Error("failed to append appointment event", "err", err)
	}
}
