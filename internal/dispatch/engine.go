// Package dispatch turns message templates into durable queued notifications
// and drives their delivery through pluggable email/SMS senders, with
// per-notification retry accounting.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dmaia/clinicsched/internal/model"
	"github.com/dmaia/clinicsched/internal/outbox"
)

var ErrTemplateNotFound = errors.New("notification template not found")

// Template names the core schedules by. Templates themselves live in storage
// and are managed by the clinic backoffice.
const (
	TemplateAppointmentReminder     = "appointment_reminder"
	TemplateAppointmentConfirmation = "appointment_confirmation"
	TemplatePaymentReminder         = "payment_reminder"
)

type Store interface {
	GetAppointment(ctx context.Context, id string) (model.Appointment, error)
	CreateNotification(ctx context.Context, n *model.Notification) (string, error)
	UpdateNotification(ctx context.Context, n *model.Notification) error
	DuePending(ctx context.Context, now time.Time, limit int) ([]model.Notification, error)
	CancelPendingByAppointment(ctx context.Context, appointmentID string) (int64, error)
	GetTemplate(ctx context.Context, name string) (model.NotificationTemplate, error)
	GetPreference(ctx context.Context, patientID string) (model.NotificationPreference, error)
	UpsertPreference(ctx context.Context, pref model.NotificationPreference) error
}

type EmailSender interface {
	Send(to string, subject string, body string) error
}

type SMSSender interface {
	Send(ctx context.Context, to string, body string) error
}

// SendLimiter throttles outbound sends per channel. A nil limiter means
// unlimited.
type SendLimiter interface {
	Allow(ctx context.Context, channel string) (bool, error)
}

// EventSink receives notification result events for the outbox publisher.
type EventSink interface {
	Append(ctx context.Context, evt outbox.Event) error
}

type Engine struct {
	store     Store
	email     EmailSender
	sms       SMSSender
	limiter   SendLimiter
	events    EventSink
	logger    *slog.Logger
	loc       *time.Location
	now       func() time.Time
	batchSize int
}

type Config struct {
	// Location is the clinic's business timezone, used to format the local
	// date/time template variables.
	Location  *time.Location
	Now       func() time.Time
	BatchSize int
}

func NewEngine(store Store, emailSender EmailSender, smsSender SMSSender, limiter SendLimiter, events EventSink, logger *slog.Logger, cfg Config) *Engine {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.Now == nil {
		cfg.Now = func() time.Time { return time.Now().UTC() }
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	return &Engine{
		store:     store,
		email:     emailSender,
		sms:       smsSender,
		limiter:   limiter,
		events:    events,
		logger:    logger,
		loc:       cfg.Location,
		now:       cfg.Now,
		batchSize: cfg.BatchSize,
	}
}

type ScheduleInput struct {
	Type          model.NotificationType
	Channel       model.NotificationChannel // email or sms; "both" is expanded by the caller
	Recipient     string
	TemplateName  string
	Variables     map[string]string
	ScheduledAt   time.Time // zero means now
	AppointmentID string
	PatientID     string
}

// ScheduleNotification renders the named template and persists a pending
// notification due at the given time.
func (e *Engine) ScheduleNotification(ctx context.Context, in ScheduleInput) (string, error) {
	if in.Channel != model.ChannelEmail && in.Channel != model.ChannelSMS {
		return "", &model.ValidationError{Field: "channel", Reason: fmt.Sprintf("unsupported channel %q", in.Channel)}
	}
	if in.Recipient == "" {
		return "", &model.ValidationError{Field: "recipient", Reason: "recipient is required"}
	}

	tmpl, err := e.store.GetTemplate(ctx, in.TemplateName)
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			return "", fmt.Errorf("%w: %s", ErrTemplateNotFound, in.TemplateName)
		}
		return "", err
	}
	if !tmpl.Active {
		return "", fmt.Errorf("%w: %s is inactive", ErrTemplateNotFound, in.TemplateName)
	}

	scheduledAt := in.ScheduledAt
	if scheduledAt.IsZero() {
		scheduledAt = e.now()
	}

	n := &model.Notification{
		Type:          in.Type,
		Channel:       in.Channel,
		Recipient:     in.Recipient,
		Subject:       Render(tmpl.Subject, in.Variables),
		Body:          Render(tmpl.Body, in.Variables),
		Status:        model.NotificationPending,
		ScheduledAt:   scheduledAt,
		MaxRetries:    model.DefaultMaxRetries,
		AppointmentID: in.AppointmentID,
		PatientID:     in.PatientID,
	}
	return e.store.CreateNotification(ctx, n)
}

// ScheduleAppointmentReminder schedules reminder notifications for the
// appointment's patient according to their stored preference. Disabled
// reminders and reminder times already in the past are quiet no-ops.
func (e *Engine) ScheduleAppointmentReminder(ctx context.Context, appointmentID string) error {
	appt, err := e.store.GetAppointment(ctx, appointmentID)
	if err != nil {
		return err
	}

	pref, err := e.store.GetPreference(ctx, appt.PatientID)
	if err != nil {
		if !errors.Is(err, model.ErrNotFound) {
			return err
		}
		pref = model.DefaultPreference(appt.PatientID)
	}
	if !pref.RemindersEnabled {
		return nil
	}

	lead := time.Duration(model.ClampLeadTime(pref.LeadTimeHours)) * time.Hour
	remindAt := appt.ScheduledAt.Add(-lead)
	if remindAt.Before(e.now()) {
		return nil
	}

	vars := e.appointmentVariables(appt)
	for _, target := range e.reminderTargets(appt, pref.PreferredChannel) {
		_, err := e.ScheduleNotification(ctx, ScheduleInput{
			Type:          model.NotificationAppointmentReminder,
			Channel:       target.channel,
			Recipient:     target.recipient,
			TemplateName:  TemplateAppointmentReminder,
			Variables:     vars,
			ScheduledAt:   remindAt,
			AppointmentID: appt.ID,
			PatientID:     appt.PatientID,
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// SendAppointmentConfirmation queues an immediate confirmation email. There
// is no preference gate; patients without an email address are skipped.
func (e *Engine) SendAppointmentConfirmation(ctx context.Context, appointmentID string) error {
	appt, err := e.store.GetAppointment(ctx, appointmentID)
	if err != nil {
		return err
	}
	if appt.PatientEmail == "" {
		return nil
	}

	_, err = e.ScheduleNotification(ctx, ScheduleInput{
		Type:          model.NotificationAppointmentConfirmation,
		Channel:       model.ChannelEmail,
		Recipient:     appt.PatientEmail,
		TemplateName:  TemplateAppointmentConfirmation,
		Variables:     e.appointmentVariables(appt),
		AppointmentID: appt.ID,
		PatientID:     appt.PatientID,
	})
	return err
}

// SchedulePaymentReminder queues a payment reminder email, gated on the
// patient's payment-reminder preference.
func (e *Engine) SchedulePaymentReminder(ctx context.Context, appointmentID string) error {
	appt, err := e.store.GetAppointment(ctx, appointmentID)
	if err != nil {
		return err
	}

	pref, err := e.store.GetPreference(ctx, appt.PatientID)
	if err != nil {
		if !errors.Is(err, model.ErrNotFound) {
			return err
		}
		pref = model.DefaultPreference(appt.PatientID)
	}
	if !pref.PaymentReminders || appt.PatientEmail == "" {
		return nil
	}

	vars := e.appointmentVariables(appt)
	vars["amount"] = fmt.Sprintf("%d.%02d", appt.ValueCents/100, appt.ValueCents%100)

	_, err = e.ScheduleNotification(ctx, ScheduleInput{
		Type:          model.NotificationPaymentReminder,
		Channel:       model.ChannelEmail,
		Recipient:     appt.PatientEmail,
		TemplateName:  TemplatePaymentReminder,
		Variables:     vars,
		AppointmentID: appt.ID,
		PatientID:     appt.PatientID,
	})
	return err
}

// CancelAppointmentNotifications moves every pending notification for the
// appointment to cancelled. Sent and failed notifications are left alone, so
// the call is idempotent.
func (e *Engine) CancelAppointmentNotifications(ctx context.Context, appointmentID string) (int64, error) {
	return e.store.CancelPendingByAppointment(ctx, appointmentID)
}

// GetPreferences returns the patient's stored preference, or the defaults
// when no row exists.
func (e *Engine) GetPreferences(ctx context.Context, patientID string) (model.NotificationPreference, error) {
	pref, err := e.store.GetPreference(ctx, patientID)
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			return model.DefaultPreference(patientID), nil
		}
		return model.NotificationPreference{}, err
	}
	return pref, nil
}

func (e *Engine) UpdatePreferences(ctx context.Context, pref model.NotificationPreference) error {
	if pref.PatientID == "" {
		return &model.ValidationError{Field: "patient_id", Reason: "patient id is required"}
	}
	switch pref.PreferredChannel {
	case model.ChannelEmail, model.ChannelSMS, model.ChannelBoth:
	case "":
		pref.PreferredChannel = model.ChannelEmail
	default:
		return &model.ValidationError{Field: "preferred_channel", Reason: fmt.Sprintf("unsupported channel %q", pref.PreferredChannel)}
	}
	pref.LeadTimeHours = model.ClampLeadTime(pref.LeadTimeHours)
	return e.store.UpsertPreference(ctx, pref)
}

type reminderTarget struct {
	channel   model.NotificationChannel
	recipient string
}

func (e *Engine) reminderTargets(appt model.Appointment, preferred model.NotificationChannel) []reminderTarget {
	var targets []reminderTarget
	wantEmail := preferred == model.ChannelEmail || preferred == model.ChannelBoth
	wantSMS := preferred == model.ChannelSMS || preferred == model.ChannelBoth
	if wantEmail && appt.PatientEmail != "" {
		targets = append(targets, reminderTarget{channel: model.ChannelEmail, recipient: appt.PatientEmail})
	}
	if wantSMS && appt.PatientPhone != "" {
		targets = append(targets, reminderTarget{channel: model.ChannelSMS, recipient: appt.PatientPhone})
	}
	return targets
}

func (e *Engine) appointmentVariables(appt model.Appointment) map[string]string {
	local := appt.ScheduledAt.In(e.loc)
	return map[string]string{
		"patient_name":      appt.PatientName,
		"practitioner_name": appt.PractitionerName,
		"appointment_date":  local.Format("02 Jan 2006"),
		"appointment_time":  local.Format("15:04"),
	}
}
