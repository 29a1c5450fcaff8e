package storage

import (
	"context"

	"github.com/dmaia/clinicsched/internal/model"
)

func (s *Store) GetTemplate(ctx context.Context, name string) (model.NotificationTemplate, error) {
	var tmpl model.NotificationTemplate
	err := s.pool.QueryRow(ctx, `
		SELECT name, type, channel, subject, body, COALESCE(variables, '{}'), active
		FROM notification_templates
		WHERE name = $1
	`, name).Scan(
		&tmpl.Name,
		&tmpl.Type,
		&tmpl.Channel,
		&tmpl.Subject,
		&tmpl.Body,
		&tmpl.Variables,
		&tmpl.Active,
	)
	if err != nil {
		return model.NotificationTemplate{}, mapNotFound(err)
	}
	return tmpl, nil
}
