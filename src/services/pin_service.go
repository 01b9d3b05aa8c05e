package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/shopspring/decimal"

	"github.com/username/twirlmap/backend/src/logger"
	"github.com/username/twirlmap/backend/src/models"
	"github.com/username/twirlmap/backend/src/storage"
)

const (
	// Aggregate cache for the stats endpoint; invalidated on every write.
	ckPriceStats = "agg_price_stats"

	DefaultCacheExpiration = 15 * time.Minute
	CacheCleanupInterval   = 30 * time.Minute
)

// Sort keys accepted by ListPins. Anything else falls back to newest
// first.
const (
	SortByPrice     = "price"
	SortByTimestamp = "timestamp"
)

// ErrInvalidPin wraps all input validation failures on pin creation.
var ErrInvalidPin = errors.New("invalid pin")

type pinServiceImpl struct {
	store       *storage.Store
	reportCache *cache.Cache
}

func NewPinService(store *storage.Store, reportCache *cache.Cache) PinService {
	return &pinServiceImpl{
		store:       store,
		reportCache: reportCache,
	}
}

// ListPins loads every pin and orders it for display: cheapest first
// or newest first.
func (s *pinServiceImpl) ListPins(ctx context.Context, sortKey string) ([]models.Pin, error) {
	pins, err := s.store.LoadPins(ctx)
	if err != nil {
		return nil, fmt.Errorf("load pins: %w", err)
	}
	sortPins(pins, sortKey)
	return pins, nil
}

func (s *pinServiceImpl) CreatePin(ctx context.Context, input models.PinInput) (models.Pin, error) {
	input.Location = strings.TrimSpace(input.Location)
	input.Brand = strings.TrimSpace(input.Brand)
	if err := validatePinInput(input); err != nil {
		return models.Pin{}, err
	}
	input.Price = roundPrice(input.Price)

	pin, err := s.store.AddPin(ctx, input)
	if err != nil {
		return models.Pin{}, fmt.Errorf("store pin: %w", err)
	}

	s.reportCache.Delete(ckPriceStats)
	logger.L.Info("Pin created", "id", pin.ID, "location", pin.Location, "price", pin.Price)
	return pin, nil
}

func (s *pinServiceImpl) DeletePin(ctx context.Context, id int64) error {
	if err := s.store.DeletePin(ctx, id); err != nil {
		return err
	}
	s.reportCache.Delete(ckPriceStats)
	logger.L.Info("Pin deleted", "id", id)
	return nil
}

func (s *pinServiceImpl) ClearPins(ctx context.Context) error {
	if err := s.store.ClearPins(ctx); err != nil {
		return fmt.Errorf("clear pins: %w", err)
	}
	s.reportCache.Delete(ckPriceStats)
	logger.L.Info("All pins cleared")
	return nil
}

func (s *pinServiceImpl) PinCount(ctx context.Context) (int, error) {
	return s.store.PinCount(ctx)
}

// PriceStats summarises prices across all pins that carry one. The
// result is cached until the next write.
func (s *pinServiceImpl) PriceStats(ctx context.Context) (models.PriceStats, error) {
	if cached, found := s.reportCache.Get(ckPriceStats); found {
		logger.L.Debug("Cache hit for price stats")
		return cached.(models.PriceStats), nil
	}

	pins, err := s.store.LoadPins(ctx)
	if err != nil {
		return models.PriceStats{}, fmt.Errorf("load pins for stats: %w", err)
	}

	stats := computePriceStats(pins)
	s.reportCache.Set(ckPriceStats, stats, cache.DefaultExpiration)
	return stats, nil
}

func (s *pinServiceImpl) Info(ctx context.Context) models.DataInfo {
	return s.store.DataInfo(ctx)
}

func (s *pinServiceImpl) Backup(ctx context.Context) (string, error) {
	path, err := s.store.Backup(ctx)
	if err != nil {
		return "", err
	}
	logger.L.Info("Backup created", "path", path)
	return path, nil
}

func (s *pinServiceImpl) MigrateFromFile(ctx context.Context, path string) (int, error) {
	imported, err := s.store.MigrateFromFile(ctx, path)
	if err != nil {
		return imported, err
	}
	s.reportCache.Delete(ckPriceStats)
	logger.L.Info("Migrated pins from file", "imported", imported)
	return imported, nil
}

func (s *pinServiceImpl) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

func validatePinInput(input models.PinInput) error {
	if input.Location == "" {
		return fmt.Errorf("%w: location is required", ErrInvalidPin)
	}
	if input.Price <= 0 {
		return fmt.Errorf("%w: price must be greater than zero", ErrInvalidPin)
	}
	return nil
}

// roundPrice normalises a price to 2 decimal places before storage, so
// the file backend holds the same values a DECIMAL(10,2) column would.
func roundPrice(price float64) float64 {
	rounded, _ := decimal.NewFromFloat(price).Round(2).Float64()
	return rounded
}

func sortPins(pins []models.Pin, sortKey string) {
	switch sortKey {
	case SortByPrice:
		sort.SliceStable(pins, func(i, j int) bool {
			return pins[i].Price < pins[j].Price
		})
	default:
		// Timestamps are "YYYY-MM-DD HH:MM:SS", so string order is
		// chronological order.
		sort.SliceStable(pins, func(i, j int) bool {
			return pins[i].Timestamp > pins[j].Timestamp
		})
	}
}

func computePriceStats(pins []models.Pin) models.PriceStats {
	var priced []decimal.Decimal
	for _, p := range pins {
		if p.Price > 0 {
			priced = append(priced, decimal.NewFromFloat(p.Price))
		}
	}
	if len(priced) == 0 {
		return models.PriceStats{}
	}

	lo, hi, sum := priced[0], priced[0], decimal.Zero
	for _, d := range priced {
		if d.LessThan(lo) {
			lo = d
		}
		if d.GreaterThan(hi) {
			hi = d
		}
		sum = sum.Add(d)
	}
	avg := sum.Div(decimal.NewFromInt(int64(len(priced)))).Round(2)

	lowest, _ := lo.Float64()
	highest, _ := hi.Float64()
	average, _ := avg.Float64()
	return models.PriceStats{
		Lowest:  lowest,
		Highest: highest,
		Average: average,
		Count:   len(priced),
	}
}
