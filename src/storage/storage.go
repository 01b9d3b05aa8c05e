package storage

import (
	"context"
	"errors"

	"github.com/username/twirlmap/backend/src/models"
)

// Kind identifies which persistence backend a Store is running on.
type Kind string

const (
	KindFile     Kind = "file"
	KindPostgres Kind = "postgres"
)

var (
	// ErrPinNotFound is returned when an operation targets a pin id that
	// does not exist in the active backend.
	ErrPinNotFound = errors.New("pin not found")

	// ErrMigrationUnavailable is returned when a file-to-database import is
	// requested while the file backend is active.
	ErrMigrationUnavailable = errors.New("migration requires an active database backend")
)

// PinStore is the operation set shared by both persistence backends.
// The file backend does not observe the context; it is part of the
// signature so callers treat both backends uniformly.
type PinStore interface {
	LoadPins(ctx context.Context) ([]models.Pin, error)
	AddPin(ctx context.Context, input models.PinInput) (models.Pin, error)
	DeletePin(ctx context.Context, id int64) error
	ClearPins(ctx context.Context) error
	PinCount(ctx context.Context) (int, error)
	Ping(ctx context.Context) error
	Close()
}
