package model

const (
	DefaultLeadTimeHours = 24
	MinLeadTimeHours     = 1
	MaxLeadTimeHours     = 168
)

type NotificationPreference struct {
	PatientID        string
	RemindersEnabled bool
	PreferredChannel NotificationChannel
	LeadTimeHours    int
	PaymentReminders bool
}

// DefaultPreference applies when a patient has no stored preference row.
func DefaultPreference(patientID string) NotificationPreference {
	return NotificationPreference{
		PatientID:        patientID,
		RemindersEnabled: true,
		PreferredChannel: ChannelEmail,
		LeadTimeHours:    DefaultLeadTimeHours,
		PaymentReminders: true,
	}
}

// ClampLeadTime bounds the reminder lead time to [1,168] hours, falling back
// to the default when unset.
func ClampLeadTime(hours int) int {
	if hours == 0 {
		return DefaultLeadTimeHours
	}
	if hours < MinLeadTimeHours {
		return MinLeadTimeHours
	}
	if hours > MaxLeadTimeHours {
		return MaxLeadTimeHours
	}
	return hours
}
