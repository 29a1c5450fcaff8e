package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"testing"
	"time"

	"github.com/dmaia/clinicsched/internal/model"
	"github.com/dmaia/clinicsched/internal/outbox"
)

type fakeStore struct {
	appointments  map[string]model.Appointment
	notifications map[string]*model.Notification
	templates     map[string]model.NotificationTemplate
	preferences   map[string]model.NotificationPreference
	nextID        int
	updateErrFor  string
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		appointments:  map[string]model.Appointment{},
		notifications: map[string]*model.Notification{},
		templates: map[string]model.NotificationTemplate{
			TemplateAppointmentReminder: {
				Name:    TemplateAppointmentReminder,
				Type:    model.NotificationAppointmentReminder,
				Subject: "Reminder: {{practitioner_name}} on {{appointment_date}}",
				Body:    "Hi {{patient_name}}, see you at {{appointment_time}}.",
				Active:  true,
			},
			TemplateAppointmentConfirmation: {
				Name:    TemplateAppointmentConfirmation,
				Type:    model.NotificationAppointmentConfirmation,
				Subject: "Confirmed: {{appointment_date}} {{appointment_time}}",
				Body:    "Hi {{patient_name}}, your appointment is booked.",
				Active:  true,
			},
			TemplatePaymentReminder: {
				Name:    TemplatePaymentReminder,
				Type:    model.NotificationPaymentReminder,
				Subject: "Payment due",
				Body:    "Hi {{patient_name}}, R$ {{amount}} is outstanding.",
				Active:  true,
			},
		},
		preferences: map[string]model.NotificationPreference{},
	}
}

func (s *fakeStore) GetAppointment(_ context.Context, id string) (model.Appointment, error) {
	appt, ok := s.appointments[id]
	if !ok {
		return model.Appointment{}, model.ErrNotFound
	}
	return appt, nil
}

func (s *fakeStore) CreateNotification(_ context.Context, n *model.Notification) (string, error) {
	s.nextID++
	id := fmt.Sprintf("notif-%d", s.nextID)
	stored := *n
	stored.ID = id
	s.notifications[id] = &stored
	return id, nil
}

func (s *fakeStore) UpdateNotification(_ context.Context, n *model.Notification) error {
	if n.ID == s.updateErrFor {
		return errors.New("row gone")
	}
	if _, ok := s.notifications[n.ID]; !ok {
		return model.ErrNotFound
	}
	stored := *n
	s.notifications[n.ID] = &stored
	return nil
}

func (s *fakeStore) DuePending(_ context.Context, now time.Time, limit int) ([]model.Notification, error) {
	var due []model.Notification
	for _, n := range s.notifications {
		if n.Status == model.NotificationPending && !n.ScheduledAt.After(now) && n.RetryCount < n.MaxRetries {
			due = append(due, *n)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].ScheduledAt.Before(due[j].ScheduledAt) })
	if len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

func (s *fakeStore) CancelPendingByAppointment(_ context.Context, appointmentID string) (int64, error) {
	var cancelled int64
	for _, n := range s.notifications {
		if n.AppointmentID == appointmentID && n.Status == model.NotificationPending {
			n.Status = model.NotificationCancelled
			cancelled++
		}
	}
	return cancelled, nil
}

func (s *fakeStore) GetTemplate(_ context.Context, name string) (model.NotificationTemplate, error) {
	tmpl, ok := s.templates[name]
	if !ok {
		return model.NotificationTemplate{}, model.ErrNotFound
	}
	return tmpl, nil
}

func (s *fakeStore) GetPreference(_ context.Context, patientID string) (model.NotificationPreference, error) {
	pref, ok := s.preferences[patientID]
	if !ok {
		return model.NotificationPreference{}, model.ErrNotFound
	}
	return pref, nil
}

func (s *fakeStore) UpsertPreference(_ context.Context, pref model.NotificationPreference) error {
	s.preferences[pref.PatientID] = pref
	return nil
}

func (s *fakeStore) pendingCount() int {
	count := 0
	for _, n := range s.notifications {
		if n.Status == model.NotificationPending {
			count++
		}
	}
	return count
}

type fakeEmail struct {
	sent    []string
	failFor map[string]error
}

func (f *fakeEmail) Send(to, subject, body string) error {
	if err, ok := f.failFor[to]; ok {
		return err
	}
	f.sent = append(f.sent, to)
	return nil
}

type fakeSMS struct {
	sent []string
	err  error
}

func (f *fakeSMS) Send(_ context.Context, to, body string) error {
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, to)
	return nil
}

type fakeLimiter struct {
	denied map[string]bool
	err    error
}

func (f *fakeLimiter) Allow(_ context.Context, channel string) (bool, error) {
	if f.err != nil {
		return false, f.err
	}
	return !f.denied[channel], nil
}

type recordingSink struct {
	events []outbox.Event
}

func (r *recordingSink) Append(_ context.Context, evt outbox.Event) error {
	r.events = append(r.events, evt)
	return nil
}

var fixedNow = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func newDispatchEngine(t *testing.T, store *fakeStore, email *fakeEmail, sms *fakeSMS, limiter SendLimiter, events EventSink) *Engine {
	t.Helper()
	loc, err := time.LoadLocation("America/Sao_Paulo")
	if err != nil {
		t.Fatal(err)
	}
	return NewEngine(store, email, sms, limiter, events, slog.Default(), Config{
		Location: loc,
		Now:      func() time.Time { return fixedNow },
	})
}

func seedAppointment(store *fakeStore) model.Appointment {
	appt := model.Appointment{
		ID:               "appt-1",
		PatientID:        "pat-1",
		PractitionerID:   "doc-1",
		ScheduledAt:      fixedNow.Add(48 * time.Hour),
		DurationMinutes:  30,
		Status:           model.StatusScheduled,
		PatientName:      "Ana Souza",
		PatientEmail:     "ana@example.com",
		PatientPhone:     "+5511999990000",
		PractitionerName: "Dr. Lima",
		ValueCents:       15050,
	}
	store.appointments[appt.ID] = appt
	return appt
}

func TestScheduleNotificationRendersTemplate(t *testing.T) {
	store := newFakeStore()
	eng := newDispatchEngine(t, store, &fakeEmail{}, &fakeSMS{}, nil, nil)

	id, err := eng.ScheduleNotification(context.Background(), ScheduleInput{
		Type:         model.NotificationAppointmentReminder,
		Channel:      model.ChannelEmail,
		Recipient:    "ana@example.com",
		TemplateName: TemplateAppointmentReminder,
		Variables: map[string]string{
			"patient_name":      "Ana",
			"practitioner_name": "Dr. Lima",
			"appointment_date":  "10 Mar 2025",
			"appointment_time":  "09:00",
		},
	})
	if err != nil {
		t.Fatal(err)
	}

	n := store.notifications[id]
	if n.Subject != "Reminder: Dr. Lima on 10 Mar 2025" {
		t.Fatalf("subject = %q", n.Subject)
	}
	if n.Body != "Hi Ana, see you at 09:00." {
		t.Fatalf("body = %q", n.Body)
	}
	if n.Status != model.NotificationPending {
		t.Fatalf("status = %s, want pending", n.Status)
	}
	if n.MaxRetries != model.DefaultMaxRetries {
		t.Fatalf("max_retries = %d, want %d", n.MaxRetries, model.DefaultMaxRetries)
	}
	// Zero scheduled time means due immediately.
	if !n.ScheduledAt.Equal(fixedNow) {
		t.Fatalf("scheduled_at = %s, want %s", n.ScheduledAt, fixedNow)
	}
}

func TestScheduleNotificationValidation(t *testing.T) {
	store := newFakeStore()
	eng := newDispatchEngine(t, store, &fakeEmail{}, &fakeSMS{}, nil, nil)
	ctx := context.Background()

	_, err := eng.ScheduleNotification(ctx, ScheduleInput{
		Channel:      model.ChannelBoth,
		Recipient:    "ana@example.com",
		TemplateName: TemplateAppointmentReminder,
	})
	if !model.IsValidation(err) {
		t.Fatalf("channel 'both' must be rejected at persistence, got %v", err)
	}

	_, err = eng.ScheduleNotification(ctx, ScheduleInput{
		Channel:      model.ChannelEmail,
		TemplateName: TemplateAppointmentReminder,
	})
	if !model.IsValidation(err) {
		t.Fatalf("empty recipient must be rejected, got %v", err)
	}

	_, err = eng.ScheduleNotification(ctx, ScheduleInput{
		Channel:      model.ChannelEmail,
		Recipient:    "ana@example.com",
		TemplateName: "no_such_template",
	})
	if !errors.Is(err, ErrTemplateNotFound) {
		t.Fatalf("expected ErrTemplateNotFound, got %v", err)
	}

	inactive := store.templates[TemplateAppointmentReminder]
	inactive.Active = false
	store.templates[TemplateAppointmentReminder] = inactive
	_, err = eng.ScheduleNotification(ctx, ScheduleInput{
		Channel:      model.ChannelEmail,
		Recipient:    "ana@example.com",
		TemplateName: TemplateAppointmentReminder,
	})
	if !errors.Is(err, ErrTemplateNotFound) {
		t.Fatalf("inactive template must behave as missing, got %v", err)
	}
}

func TestScheduleAppointmentReminderDefaults(t *testing.T) {
	store := newFakeStore()
	eng := newDispatchEngine(t, store, &fakeEmail{}, &fakeSMS{}, nil, nil)
	appt := seedAppointment(store)

	if err := eng.ScheduleAppointmentReminder(context.Background(), appt.ID); err != nil {
		t.Fatal(err)
	}

	// No stored preference: email only, 24h lead.
	if len(store.notifications) != 1 {
		t.Fatalf("got %d notifications, want 1", len(store.notifications))
	}
	for _, n := range store.notifications {
		if n.Channel != model.ChannelEmail {
			t.Fatalf("channel = %s, want email", n.Channel)
		}
		wantAt := appt.ScheduledAt.Add(-24 * time.Hour)
		if !n.ScheduledAt.Equal(wantAt) {
			t.Fatalf("scheduled_at = %s, want %s", n.ScheduledAt, wantAt)
		}
		if n.AppointmentID != appt.ID || n.PatientID != appt.PatientID {
			t.Fatalf("notification not linked to appointment: %+v", n)
		}
	}
}

func TestScheduleAppointmentReminderBothChannels(t *testing.T) {
	store := newFakeStore()
	eng := newDispatchEngine(t, store, &fakeEmail{}, &fakeSMS{}, nil, nil)
	appt := seedAppointment(store)
	store.preferences[appt.PatientID] = model.NotificationPreference{
		PatientID:        appt.PatientID,
		RemindersEnabled: true,
		PreferredChannel: model.ChannelBoth,
		LeadTimeHours:    2,
	}

	if err := eng.ScheduleAppointmentReminder(context.Background(), appt.ID); err != nil {
		t.Fatal(err)
	}

	channels := map[model.NotificationChannel]string{}
	for _, n := range store.notifications {
		channels[n.Channel] = n.Recipient
	}
	if channels[model.ChannelEmail] != appt.PatientEmail {
		t.Fatalf("email reminder recipient = %q", channels[model.ChannelEmail])
	}
	if channels[model.ChannelSMS] != appt.PatientPhone {
		t.Fatalf("sms reminder recipient = %q", channels[model.ChannelSMS])
	}
}

func TestScheduleAppointmentReminderOptOut(t *testing.T) {
	store := newFakeStore()
	eng := newDispatchEngine(t, store, &fakeEmail{}, &fakeSMS{}, nil, nil)
	appt := seedAppointment(store)
	store.preferences[appt.PatientID] = model.NotificationPreference{
		PatientID:        appt.PatientID,
		RemindersEnabled: false,
		PreferredChannel: model.ChannelEmail,
	}

	if err := eng.ScheduleAppointmentReminder(context.Background(), appt.ID); err != nil {
		t.Fatal(err)
	}
	if len(store.notifications) != 0 {
		t.Fatalf("opted-out patient must get no reminder, got %d", len(store.notifications))
	}
}

func TestScheduleAppointmentReminderPastTimeIsNoop(t *testing.T) {
	store := newFakeStore()
	eng := newDispatchEngine(t, store, &fakeEmail{}, &fakeSMS{}, nil, nil)
	appt := seedAppointment(store)
	// Appointment in 2 hours; default 24h lead already passed.
	appt.ScheduledAt = fixedNow.Add(2 * time.Hour)
	store.appointments[appt.ID] = appt

	if err := eng.ScheduleAppointmentReminder(context.Background(), appt.ID); err != nil {
		t.Fatal(err)
	}
	if len(store.notifications) != 0 {
		t.Fatalf("past reminder time must be a no-op, got %d notifications", len(store.notifications))
	}
}

func TestSendAppointmentConfirmation(t *testing.T) {
	store := newFakeStore()
	eng := newDispatchEngine(t, store, &fakeEmail{}, &fakeSMS{}, nil, nil)
	appt := seedAppointment(store)
	ctx := context.Background()

	if err := eng.SendAppointmentConfirmation(ctx, appt.ID); err != nil {
		t.Fatal(err)
	}
	if len(store.notifications) != 1 {
		t.Fatalf("got %d notifications, want 1", len(store.notifications))
	}
	for _, n := range store.notifications {
		if n.Type != model.NotificationAppointmentConfirmation || n.Channel != model.ChannelEmail {
			t.Fatalf("unexpected notification %+v", n)
		}
		if !n.ScheduledAt.Equal(fixedNow) {
			t.Fatalf("confirmation must be immediate, got %s", n.ScheduledAt)
		}
	}

	// No email address: skipped, not an error.
	appt.ID = "appt-2"
	appt.PatientEmail = ""
	store.appointments[appt.ID] = appt
	if err := eng.SendAppointmentConfirmation(ctx, appt.ID); err != nil {
		t.Fatal(err)
	}
	if len(store.notifications) != 1 {
		t.Fatal("patient without email must be skipped")
	}
}

func TestSchedulePaymentReminder(t *testing.T) {
	store := newFakeStore()
	eng := newDispatchEngine(t, store, &fakeEmail{}, &fakeSMS{}, nil, nil)
	appt := seedAppointment(store)
	ctx := context.Background()

	if err := eng.SchedulePaymentReminder(ctx, appt.ID); err != nil {
		t.Fatal(err)
	}
	if len(store.notifications) != 1 {
		t.Fatalf("got %d notifications, want 1", len(store.notifications))
	}
	for _, n := range store.notifications {
		if n.Body != "Hi Ana Souza, R$ 150.50 is outstanding." {
			t.Fatalf("body = %q", n.Body)
		}
	}

	// Patient opted out of payment reminders.
	store.preferences[appt.PatientID] = model.NotificationPreference{
		PatientID:        appt.PatientID,
		RemindersEnabled: true,
		PaymentReminders: false,
		PreferredChannel: model.ChannelEmail,
	}
	if err := eng.SchedulePaymentReminder(ctx, appt.ID); err != nil {
		t.Fatal(err)
	}
	if len(store.notifications) != 1 {
		t.Fatal("payment reminder opt-out ignored")
	}
}

func TestCancelAppointmentNotificationsIsIdempotent(t *testing.T) {
	store := newFakeStore()
	eng := newDispatchEngine(t, store, &fakeEmail{}, &fakeSMS{}, nil, nil)
	appt := seedAppointment(store)
	ctx := context.Background()

	if err := eng.ScheduleAppointmentReminder(ctx, appt.ID); err != nil {
		t.Fatal(err)
	}
	if err := eng.SendAppointmentConfirmation(ctx, appt.ID); err != nil {
		t.Fatal(err)
	}

	cancelled, err := eng.CancelAppointmentNotifications(ctx, appt.ID)
	if err != nil {
		t.Fatal(err)
	}
	if cancelled != 2 {
		t.Fatalf("cancelled = %d, want 2", cancelled)
	}
	if store.pendingCount() != 0 {
		t.Fatal("pending notifications survived cancellation")
	}

	// Second call finds nothing pending and succeeds with zero.
	cancelled, err = eng.CancelAppointmentNotifications(ctx, appt.ID)
	if err != nil {
		t.Fatal(err)
	}
	if cancelled != 0 {
		t.Fatalf("second cancel = %d, want 0", cancelled)
	}
}

func TestPreferenceDefaultsAndClamping(t *testing.T) {
	store := newFakeStore()
	eng := newDispatchEngine(t, store, &fakeEmail{}, &fakeSMS{}, nil, nil)
	ctx := context.Background()

	pref, err := eng.GetPreferences(ctx, "pat-unknown")
	if err != nil {
		t.Fatal(err)
	}
	if !pref.RemindersEnabled || pref.PreferredChannel != model.ChannelEmail || pref.LeadTimeHours != 24 {
		t.Fatalf("unexpected defaults %+v", pref)
	}

	err = eng.UpdatePreferences(ctx, model.NotificationPreference{
		PatientID:        "pat-1",
		RemindersEnabled: true,
		PreferredChannel: "carrier_pigeon",
	})
	if !model.IsValidation(err) {
		t.Fatalf("expected ValidationError for unknown channel, got %v", err)
	}

	if err := eng.UpdatePreferences(ctx, model.NotificationPreference{
		PatientID:        "pat-1",
		RemindersEnabled: true,
		LeadTimeHours:    500,
	}); err != nil {
		t.Fatal(err)
	}
	stored := store.preferences["pat-1"]
	if stored.LeadTimeHours != model.MaxLeadTimeHours {
		t.Fatalf("lead time = %d, want clamped to %d", stored.LeadTimeHours, model.MaxLeadTimeHours)
	}
	if stored.PreferredChannel != model.ChannelEmail {
		t.Fatalf("empty channel must default to email, got %s", stored.PreferredChannel)
	}
}
