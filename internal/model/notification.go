package model

import "time"

type NotificationType string

const (
	NotificationAppointmentReminder     NotificationType = "appointment_reminder"
	NotificationAppointmentConfirmation NotificationType = "appointment_confirmation"
	NotificationAppointmentCancellation NotificationType = "appointment_cancellation"
	NotificationPaymentReminder         NotificationType = "payment_reminder"
	NotificationCustom                  NotificationType = "custom"
)

type NotificationChannel string

const (
	ChannelEmail NotificationChannel = "email"
	ChannelSMS   NotificationChannel = "sms"
	// ChannelBoth is a preference value only; it fans out to one persisted
	// notification per concrete channel.
	ChannelBoth NotificationChannel = "both"
)

type NotificationStatus string

const (
	NotificationPending   NotificationStatus = "pending"
	NotificationSent      NotificationStatus = "sent"
	NotificationFailed    NotificationStatus = "failed"
	NotificationCancelled NotificationStatus = "cancelled"
)

const DefaultMaxRetries = 3

type Notification struct {
	ID            string
	Type          NotificationType
	Channel       NotificationChannel
	Recipient     string
	Subject       string
	Body          string
	Status        NotificationStatus
	ScheduledAt   time.Time
	SentAt        *time.Time
	RetryCount    int
	MaxRetries    int
	ErrorMessage  string
	AppointmentID string
	PatientID     string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}
