package services

import (
	"context"

	"github.com/username/twirlmap/backend/src/models"
)

// PinService defines the operations the HTTP layer uses to work with
// price pins.
type PinService interface {
	ListPins(ctx context.Context, sortKey string) ([]models.Pin, error)
	CreatePin(ctx context.Context, input models.PinInput) (models.Pin, error)
	DeletePin(ctx context.Context, id int64) error
	ClearPins(ctx context.Context) error
	PinCount(ctx context.Context) (int, error)
	PriceStats(ctx context.Context) (models.PriceStats, error)
	Info(ctx context.Context) models.DataInfo
	Backup(ctx context.Context) (string, error)
	MigrateFromFile(ctx context.Context, path string) (int, error)
	Ping(ctx context.Context) error
}
