package storage

import (
	"context"
	"encoding/json"
	"fmt"
	stdlog "log"
	"os"
	"path/filepath"
	"time"

	"github.com/username/twirlmap/backend/src/logger"
	"github.com/username/twirlmap/backend/src/models"
)

// Store is the persistence facade the rest of the app talks to. It is
// bound to one backend at construction: PostgreSQL when a database URL
// is configured and reachable, otherwise the flat file. The choice is
// permanent for the process lifetime; there is no later promotion.
type Store struct {
	kind    Kind
	dataDir string
	file    *FileStore
	pg      *PostgresStore
	backend PinStore
}

// NewStore builds the facade. A failing or missing database is not an
// error here; it logs the reason and falls back to file storage. Only
// a file backend that cannot be initialised is fatal.
func NewStore(ctx context.Context, databaseURL, dataDirOverride string) (*Store, error) {
	dataDir := ResolveDataDir(dataDirOverride)

	if databaseURL != "" {
		pg, err := NewPostgresStore(ctx, databaseURL)
		if err == nil {
			if logger.L != nil {
				logger.L.Info("Using PostgreSQL pin storage", "host", pg.Host())
			} else {
				stdlog.Println("Using PostgreSQL pin storage, host:", pg.Host())
			}
			return &Store{kind: KindPostgres, dataDir: dataDir, pg: pg, backend: pg}, nil
		}
		if logger.L != nil {
			logger.L.Warn("Database unavailable, falling back to file storage", "error", err)
		} else {
			stdlog.Printf("Database unavailable, falling back to file storage: %v", err)
		}
	}

	fs, err := NewFileStore(dataDir)
	if err != nil {
		return nil, fmt.Errorf("initialize file storage: %w", err)
	}
	if logger.L != nil {
		logger.L.Info("Using file pin storage", "path", fs.FilePath())
	} else {
		stdlog.Println("Using file pin storage, path:", fs.FilePath())
	}
	return &Store{kind: KindFile, dataDir: dataDir, file: fs, backend: fs}, nil
}

// Backend reports which backend the facade is bound to.
func (s *Store) Backend() Kind {
	return s.kind
}

func (s *Store) LoadPins(ctx context.Context) ([]models.Pin, error) {
	return s.backend.LoadPins(ctx)
}

func (s *Store) AddPin(ctx context.Context, input models.PinInput) (models.Pin, error) {
	return s.backend.AddPin(ctx, input)
}

func (s *Store) DeletePin(ctx context.Context, id int64) error {
	return s.backend.DeletePin(ctx, id)
}

func (s *Store) ClearPins(ctx context.Context) error {
	return s.backend.ClearPins(ctx)
}

func (s *Store) PinCount(ctx context.Context) (int, error) {
	return s.backend.PinCount(ctx)
}

func (s *Store) Ping(ctx context.Context) error {
	return s.backend.Ping(ctx)
}

func (s *Store) Close() {
	s.backend.Close()
}

// Backup writes a timestamped JSON snapshot into the data directory.
// On the file backend this is a copy of the pins file; on the database
// backend the rows are exported through the same atomic JSON writer.
func (s *Store) Backup(ctx context.Context) (string, error) {
	if s.kind == KindFile {
		return s.file.Backup()
	}

	pins, err := s.pg.LoadPins(ctx)
	if err != nil {
		return "", fmt.Errorf("load pins for backup: %w", err)
	}
	if err := os.MkdirAll(s.dataDir, 0o755); err != nil {
		return "", fmt.Errorf("create data directory %s: %w", s.dataDir, err)
	}
	backupPath := filepath.Join(s.dataDir, backupFileName(time.Now()))
	if err := writeJSONFile(backupPath, pins); err != nil {
		return "", err
	}
	return backupPath, nil
}

// MigrateFromFile imports pins from a JSON array file into the
// database, one insert per record. There is no transaction: a failure
// part-way leaves the already-imported rows in place, and the returned
// count says how many made it.
func (s *Store) MigrateFromFile(ctx context.Context, path string) (int, error) {
	if s.kind != KindPostgres {
		return 0, ErrMigrationUnavailable
	}
	if path == "" {
		path = filepath.Join(s.dataDir, PinsFileName)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("read migration file %s: %w", path, err)
	}
	var pins []models.Pin
	if err := json.Unmarshal(data, &pins); err != nil {
		return 0, fmt.Errorf("parse migration file %s: %w", path, err)
	}

	imported := 0
	for i, p := range pins {
		input := models.PinInput{
			Price:       p.Price,
			Location:    p.Location,
			Brand:       p.Brand,
			Fact:        p.Fact,
			Lat:         p.Lat,
			Lon:         p.Lon,
			IsMultiPack: p.IsMultiPack,
		}
		if _, err := s.pg.AddPin(ctx, input); err != nil {
			return imported, fmt.Errorf("import pin %d of %d: %w", i+1, len(pins), err)
		}
		imported++
	}
	return imported, nil
}

// DataInfo describes the active backend for the info endpoint.
func (s *Store) DataInfo(ctx context.Context) models.DataInfo {
	if s.kind == KindFile {
		return s.file.DataInfo()
	}

	info := models.DataInfo{
		StorageType: string(KindPostgres),
		Location:    s.pg.Host(),
	}
	if err := s.pg.Ping(ctx); err == nil {
		info.Connected = true
	}
	if count, err := s.pg.PinCount(ctx); err == nil {
		info.PinCount = count
	}
	return info
}
