package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/username/twirlmap/backend/src/models"
)

const createPinsTableSQL = `
CREATE TABLE IF NOT EXISTS chocolate_pins (
	id SERIAL PRIMARY KEY,
	price DECIMAL(10, 2) NOT NULL,
	location VARCHAR(255) NOT NULL,
	brand VARCHAR(255),
	fact TEXT,
	lat DECIMAL(10, 8) NOT NULL,
	lon DECIMAL(11, 8) NOT NULL,
	is_multi_pack BOOLEAN DEFAULT FALSE,
	timestamp TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
	created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
)`

// Additive migration for rows created before the multi-pack flag
// existed. Safe to rerun on every startup.
const addMultiPackColumnSQL = `
ALTER TABLE chocolate_pins
ADD COLUMN IF NOT EXISTS is_multi_pack BOOLEAN DEFAULT FALSE`

// PostgresStore persists pins in a single chocolate_pins table.
type PostgresStore struct {
	pool *pgxpool.Pool
	host string
}

// NewPostgresStore connects, pings and ensures the schema. Any failure
// closes the pool and returns an error; the caller decides whether to
// fall back to file storage.
func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	if databaseURL == "" {
		return nil, errors.New("database URL is empty")
	}

	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database URL: %w", err)
	}
	cfg.MaxConns = 10
	cfg.MinConns = 2
	cfg.MaxConnLifetime = time.Hour

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}

	s := &PostgresStore{pool: pool, host: cfg.ConnConfig.Host}
	if err := s.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	if err := s.initSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

func (s *PostgresStore) initSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, createPinsTableSQL); err != nil {
		return fmt.Errorf("create chocolate_pins table: %w", err)
	}
	if _, err := s.pool.Exec(ctx, addMultiPackColumnSQL); err != nil {
		return fmt.Errorf("add is_multi_pack column: %w", err)
	}
	return nil
}

// Host returns the database host the pool was configured with.
func (s *PostgresStore) Host() string {
	return s.host
}

// LoadPins returns every pin, newest first.
func (s *PostgresStore) LoadPins(ctx context.Context) ([]models.Pin, error) {
	const query = `
		SELECT id, price, location, COALESCE(brand, ''), COALESCE(fact, ''),
		       lat, lon, COALESCE(is_multi_pack, FALSE),
		       TO_CHAR(timestamp, 'YYYY-MM-DD HH24:MI:SS')
		FROM chocolate_pins
		ORDER BY created_at DESC`

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query pins: %w", err)
	}
	defer rows.Close()

	pins := []models.Pin{}
	for rows.Next() {
		var p models.Pin
		if err := rows.Scan(&p.ID, &p.Price, &p.Location, &p.Brand, &p.Fact,
			&p.Lat, &p.Lon, &p.IsMultiPack, &p.Timestamp); err != nil {
			return nil, fmt.Errorf("scan pin row: %w", err)
		}
		pins = append(pins, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate pin rows: %w", err)
	}
	return pins, nil
}

// AddPin inserts one pin and returns it with its assigned id and
// database-side timestamp.
func (s *PostgresStore) AddPin(ctx context.Context, input models.PinInput) (models.Pin, error) {
	const query = `
		INSERT INTO chocolate_pins (price, location, brand, fact, lat, lon, is_multi_pack)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, TO_CHAR(timestamp, 'YYYY-MM-DD HH24:MI:SS')`

	pin := models.Pin{
		Price:       input.Price,
		Location:    input.Location,
		Brand:       input.Brand,
		Fact:        input.Fact,
		Lat:         input.Lat,
		Lon:         input.Lon,
		IsMultiPack: input.IsMultiPack,
	}
	err := s.pool.QueryRow(ctx, query,
		input.Price, input.Location, input.Brand, input.Fact,
		input.Lat, input.Lon, input.IsMultiPack,
	).Scan(&pin.ID, &pin.Timestamp)
	if err != nil {
		return models.Pin{}, fmt.Errorf("insert pin: %w", err)
	}
	return pin, nil
}

// DeletePin removes the pin with the given id. ErrPinNotFound is
// returned when no row matches.
func (s *PostgresStore) DeletePin(ctx context.Context, id int64) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM chocolate_pins WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete pin %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrPinNotFound
	}
	return nil
}

// ClearPins removes every pin.
func (s *PostgresStore) ClearPins(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM chocolate_pins`); err != nil {
		return fmt.Errorf("clear pins: %w", err)
	}
	return nil
}

func (s *PostgresStore) PinCount(ctx context.Context) (int, error) {
	var count int
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM chocolate_pins`).Scan(&count); err != nil {
		return 0, fmt.Errorf("count pins: %w", err)
	}
	return count, nil
}

// Ping verifies the database connection with a trivial round trip.
func (s *PostgresStore) Ping(ctx context.Context) error {
	var one int
	if err := s.pool.QueryRow(ctx, `SELECT 1`).Scan(&one); err != nil {
		return fmt.Errorf("ping database: %w", err)
	}
	return nil
}

// Close releases the connection pool. Safe to call once at shutdown.
func (s *PostgresStore) Close() {
	s.pool.Close()
}
