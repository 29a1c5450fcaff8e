// Package storage is the pgx-backed storage collaborator for the scheduling
// and dispatch engines. The engines only see the Store interfaces declared in
// their own packages.
package storage

import (
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/dmaia/clinicsched/internal/model"
	"github.com/dmaia/clinicsched/libs/db"
)

type Store struct {
	pool *db.Pool
}

func NewStore(pool *db.Pool) *Store {
	return &Store{pool: pool}
}

func mapNotFound(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return model.ErrNotFound
	}
	return err
}

// mapExclusion surfaces the appointments_no_overlap constraint as a
// ConflictError. The constraint closes the check-then-write race between the
// engine's pre-check and the insert; two concurrent bookings for the same
// practitioner cannot both commit.
func mapExclusion(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23P01" {
		return &model.ConflictError{}
	}
	return err
}
