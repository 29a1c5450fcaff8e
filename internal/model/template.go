package model

// NotificationTemplate is read-only to the core; templates are managed by the
// clinic backoffice and looked up by name.
type NotificationTemplate struct {
	Name      string
	Type      NotificationType
	Channel   NotificationChannel
	Subject   string
	Body      string
	Variables []string
	Active    bool
}
