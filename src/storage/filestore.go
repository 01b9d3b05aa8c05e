package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/username/twirlmap/backend/src/models"
)

const (
	// PinsFileName is the flat-file the file backend reads and writes.
	PinsFileName = "map_pins.json"

	// CloudDataDir is the mounted persistent disk used when the app runs
	// on its hosting platform. Its presence on the filesystem selects it.
	CloudDataDir = "/opt/render/project/data"

	backupTimeLayout = "20060102_150405"
)

// ResolveDataDir picks the directory the file backend stores data in:
// an explicit override wins, then the mounted cloud disk when present,
// then a local ./data directory.
func ResolveDataDir(override string) string {
	if override != "" {
		return override
	}
	if info, err := os.Stat(CloudDataDir); err == nil && info.IsDir() {
		return CloudDataDir
	}
	return "data"
}

// FileStore persists pins as a single indented JSON array. Writes go
// through a temp file in the same directory followed by a rename, so a
// failed write never corrupts the existing file. A mutex serialises
// read-modify-write cycles; HTTP handlers call concurrently.
type FileStore struct {
	mu       sync.Mutex
	dataDir  string
	filePath string
	cloudEnv bool
}

// NewFileStore creates the data directory and the pins file if either
// is missing, so every later operation starts from a readable file.
func NewFileStore(dataDir string) (*FileStore, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data directory %s: %w", dataDir, err)
	}
	fs := &FileStore{
		dataDir:  dataDir,
		filePath: filepath.Join(dataDir, PinsFileName),
		cloudEnv: dataDir == CloudDataDir,
	}
	if _, err := os.Stat(fs.filePath); os.IsNotExist(err) {
		if err := writeJSONFile(fs.filePath, []models.Pin{}); err != nil {
			return nil, fmt.Errorf("create pins file: %w", err)
		}
	} else if err != nil {
		return nil, fmt.Errorf("stat pins file %s: %w", fs.filePath, err)
	}
	return fs, nil
}

// FilePath returns the absolute or relative path of the pins file.
func (s *FileStore) FilePath() string {
	return s.filePath
}

func (s *FileStore) LoadPins(ctx context.Context) ([]models.Pin, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadLocked()
}

func (s *FileStore) AddPin(ctx context.Context, input models.PinInput) (models.Pin, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	pins, err := s.loadLocked()
	if err != nil {
		return models.Pin{}, err
	}

	pin := models.Pin{
		ID:          maxPinID(pins) + 1,
		Price:       input.Price,
		Location:    input.Location,
		Brand:       input.Brand,
		Fact:        input.Fact,
		Lat:         input.Lat,
		Lon:         input.Lon,
		IsMultiPack: input.IsMultiPack,
		Timestamp:   time.Now().Format(models.TimestampFormat),
	}

	pins = append(pins, pin)
	if err := s.writeLocked(pins); err != nil {
		return models.Pin{}, err
	}
	return pin, nil
}

func (s *FileStore) DeletePin(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	pins, err := s.loadLocked()
	if err != nil {
		return err
	}

	idx := -1
	for i, p := range pins {
		if p.ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		return ErrPinNotFound
	}

	pins = append(pins[:idx], pins[idx+1:]...)
	return s.writeLocked(pins)
}

func (s *FileStore) ClearPins(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writeLocked([]models.Pin{})
}

func (s *FileStore) PinCount(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	pins, err := s.loadLocked()
	if err != nil {
		return 0, err
	}
	return len(pins), nil
}

// Ping reports whether the pins file is reachable.
func (s *FileStore) Ping(ctx context.Context) error {
	if _, err := os.Stat(s.filePath); err != nil {
		return fmt.Errorf("pins file unavailable: %w", err)
	}
	return nil
}

func (s *FileStore) Close() {}

// Backup copies the pins file to a timestamped sibling and returns the
// backup path.
func (s *FileStore) Backup() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.filePath)
	if err != nil {
		return "", fmt.Errorf("read pins file for backup: %w", err)
	}
	backupPath := filepath.Join(s.dataDir, backupFileName(time.Now()))
	if err := os.WriteFile(backupPath, data, 0o644); err != nil {
		return "", fmt.Errorf("write backup file: %w", err)
	}
	return backupPath, nil
}

// DataInfo describes the file backend's current state.
func (s *FileStore) DataInfo() models.DataInfo {
	s.mu.Lock()
	defer s.mu.Unlock()

	info := models.DataInfo{
		StorageType: string(KindFile),
		Location:    s.filePath,
		CloudEnv:    s.cloudEnv,
	}
	if st, err := os.Stat(s.filePath); err == nil {
		info.Connected = true
		info.SizeBytes = st.Size()
	}
	if pins, err := s.loadLocked(); err == nil {
		info.PinCount = len(pins)
	}
	return info
}

func (s *FileStore) loadLocked() ([]models.Pin, error) {
	data, err := os.ReadFile(s.filePath)
	if os.IsNotExist(err) {
		return []models.Pin{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read pins file %s: %w", s.filePath, err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return []models.Pin{}, nil
	}

	var pins []models.Pin
	if err := json.Unmarshal(data, &pins); err != nil {
		return nil, fmt.Errorf("parse pins file %s: %w", s.filePath, err)
	}
	return pins, nil
}

func (s *FileStore) writeLocked(pins []models.Pin) error {
	return writeJSONFile(s.filePath, pins)
}

// writeJSONFile writes pins to path atomically: marshal to a temp file
// in the same directory, then rename over the target. A rename within
// one directory either fully succeeds or leaves the old file intact.
func writeJSONFile(path string, pins []models.Pin) error {
	data, err := json.MarshalIndent(pins, "", "  ")
	if err != nil {
		return fmt.Errorf("encode pins: %w", err)
	}
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o644); err != nil {
		return fmt.Errorf("write temp file %s: %w", tmpPath, err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("replace pins file %s: %w", path, err)
	}
	return nil
}

func backupFileName(now time.Time) string {
	return fmt.Sprintf("map_pins_backup_%s.json", now.Format(backupTimeLayout))
}

func maxPinID(pins []models.Pin) int64 {
	var max int64
	for _, p := range pins {
		if p.ID > max {
			max = p.ID
		}
	}
	return max
}
