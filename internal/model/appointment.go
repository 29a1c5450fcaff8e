package model

import "time"

type AppointmentStatus string

const (
	StatusScheduled  AppointmentStatus = "scheduled"
	StatusConfirmed  AppointmentStatus = "confirmed"
	StatusInProgress AppointmentStatus = "in_progress"
	StatusCompleted  AppointmentStatus = "completed"
	StatusCancelled  AppointmentStatus = "cancelled"
	StatusNoShow     AppointmentStatus = "no_show"
)

// BlockingStatuses are the statuses that occupy a practitioner's calendar.
// Completed, cancelled and no-show appointments do not block new bookings.
func BlockingStatuses() []AppointmentStatus {
	return []AppointmentStatus{StatusScheduled, StatusConfirmed, StatusInProgress}
}

var transitions = map[AppointmentStatus][]AppointmentStatus{
	StatusScheduled:  {StatusConfirmed, StatusInProgress, StatusCancelled, StatusNoShow},
	StatusConfirmed:  {StatusInProgress, StatusCancelled, StatusNoShow},
	StatusInProgress: {StatusCompleted},
	// completed, cancelled and no_show are terminal.
}

// CanTransition reports whether an appointment may move from one status to
// another. A status never transitions to itself.
func CanTransition(from, to AppointmentStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

func ValidStatus(s AppointmentStatus) bool {
	switch s {
	case StatusScheduled, StatusConfirmed, StatusInProgress, StatusCompleted, StatusCancelled, StatusNoShow:
		return true
	}
	return false
}

type PaymentStatus string

const (
	PaymentPending  PaymentStatus = "pending"
	PaymentPaid     PaymentStatus = "paid"
	PaymentRefunded PaymentStatus = "refunded"
)

const DefaultDurationMinutes = 30

type Appointment struct {
	ID              string
	PatientID       string
	PractitionerID  string
	ScheduledAt     time.Time
	DurationMinutes int
	Status          AppointmentStatus
	PaymentStatus   PaymentStatus
	Notes           string
	ValueCents      int64

	// Summary fields joined from the patient/practitioner records on read.
	PatientName      string
	PatientEmail     string
	PatientPhone     string
	PractitionerName string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Start returns the beginning of the appointment's conflict window.
func (a *Appointment) Start() time.Time {
	return a.ScheduledAt
}

// End returns the exclusive end of the appointment's conflict window.
func (a *Appointment) End() time.Time {
	return a.ScheduledAt.Add(time.Duration(a.DurationMinutes) * time.Minute)
}

// PatientRef is the patient summary the storage collaborator resolves for an
// appointment.
type PatientRef struct {
	ID    string
	Name  string
	Email string
	Phone string
}

type PractitionerRef struct {
	ID   string
	Name string
}
