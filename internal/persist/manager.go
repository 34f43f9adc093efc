// Package persist owns the on-disk state of a collection: a config
// descriptor, a metadata table and a vector table, all JSON, stored in one
// data directory. It validates the three artifacts against each other on
// load and recovers from corruption by discarding them entirely — an index
// can always be rebuilt from the caller's source of truth, while silently
// loading inconsistent vectors cannot be undone.
package persist

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/hyperjump/vecbridge/internal/engine"
	"github.com/hyperjump/vecbridge/internal/shadow"
	"go.uber.org/zap"
)

const (
	configFile   = "config.json"
	metadataFile = "metadata.json"
	vectorsFile  = "vectors.json"
	engineFile   = "index.db"
)

// CollectionConfig is the persisted descriptor. Dimension is the
// authoritative record of what length every persisted vector should have.
type CollectionConfig struct {
	Dimension int       `json:"dimension"`
	Count     int       `json:"count"`
	SavedAt   time.Time `json:"savedAt"`
}

// Snapshot is the result of a successful load: the declared dimension plus
// every shadow record reassembled from the metadata and vector tables.
type Snapshot struct {
	Dimension int
	SavedAt   time.Time
	Records   []shadow.Record
}

// Manager reads and writes the three persistence artifacts in dir.
type Manager struct {
	dir    string
	logger *zap.Logger
}

// NewManager creates a manager for dir, creating the directory if needed.
func NewManager(dir string, logger *zap.Logger) (*Manager, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("persist: create data dir %s: %w", dir, err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{dir: dir, logger: logger}, nil
}

// Dir returns the data directory.
func (m *Manager) Dir() string {
	return m.dir
}

// EnginePath returns the path of the engine's database file inside the data
// directory. The file is a derived cache, never an artifact of record.
func (m *Manager) EnginePath() string {
	return filepath.Join(m.dir, engineFile)
}

// DiscardEngineCache removes any residual engine state left behind by a
// previous process. Run at startup before the first load: the cache must be
// rebuilt from the authoritative JSON artifacts, never trusted directly.
func (m *Manager) DiscardEngineCache() error {
	return engine.RemoveArtifacts(m.EnginePath())
}

// ConfigExists reports whether the config descriptor is on disk, i.e. the
// collection has been persisted at least once.
func (m *Manager) ConfigExists() bool {
	_, err := os.Stat(filepath.Join(m.dir, configFile))
	return err == nil
}

// DiskSizeBytes returns the total size of the persisted artifacts.
func (m *Manager) DiskSizeBytes() (int64, error) {
	return diskUsageBytes(
		filepath.Join(m.dir, configFile),
		filepath.Join(m.dir, metadataFile),
		filepath.Join(m.dir, vectorsFile),
	)
}

// Save writes the vector table, the metadata table and finally the config
// descriptor. The config is written last so its presence implies the other
// two artifacts were written. Returns the recorded save timestamp.
func (m *Manager) Save(dimension int, records []shadow.Record) (time.Time, error) {
	vectors := make(map[string][]float32, len(records))
	metadata := make(map[string]map[string]any, len(records))
	for _, rec := range records {
		vectors[rec.ID] = rec.Vector
		metadata[rec.ID] = rec.Metadata
	}
	if err := m.writeJSON(vectorsFile, vectors); err != nil {
		return time.Time{}, err
	}
	if err := m.writeJSON(metadataFile, metadata); err != nil {
		return time.Time{}, err
	}
	savedAt := time.Now().UTC()
	cfg := CollectionConfig{Dimension: dimension, Count: len(records), SavedAt: savedAt}
	if err := m.writeJSON(configFile, cfg); err != nil {
		return time.Time{}, err
	}
	return savedAt, nil
}

// Load reads the persisted state. A missing config descriptor means the
// collection simply starts empty and (nil, nil) is returned. Corrupted
// state — unparseable artifacts, a missing vector table, or any vector
// whose length disagrees with the declared dimension — is discarded in full
// and (nil, nil) is returned; partial repair is never attempted.
func (m *Manager) Load() (*Snapshot, error) {
	cfgPath := filepath.Join(m.dir, configFile)
	data, err := os.ReadFile(cfgPath)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("persist: read config: %w", err)
	}
	var cfg CollectionConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, m.discardCorrupt("config descriptor unparseable", zap.Error(err))
	}
	if cfg.Dimension <= 0 {
		return nil, m.discardCorrupt("config declares non-positive dimension", zap.Int("dimension", cfg.Dimension))
	}

	data, err = os.ReadFile(filepath.Join(m.dir, vectorsFile))
	if os.IsNotExist(err) {
		return nil, m.discardCorrupt("vector table missing while config exists")
	}
	if err != nil {
		return nil, fmt.Errorf("persist: read vector table: %w", err)
	}
	var vectors map[string][]float32
	if err := json.Unmarshal(data, &vectors); err != nil {
		return nil, m.discardCorrupt("vector table unparseable", zap.Error(err))
	}
	for id, vec := range vectors {
		if len(vec) != cfg.Dimension {
			return nil, m.discardCorrupt("stored vector dimension disagrees with config",
				zap.String("id", id),
				zap.Int("declared", cfg.Dimension),
				zap.Int("actual", len(vec)))
		}
	}

	metadata := make(map[string]map[string]any)
	data, err = os.ReadFile(filepath.Join(m.dir, metadataFile))
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("persist: read metadata table: %w", err)
	}
	if err == nil {
		if err := json.Unmarshal(data, &metadata); err != nil {
			return nil, m.discardCorrupt("metadata table unparseable", zap.Error(err))
		}
	}

	records := make([]shadow.Record, 0, len(vectors))
	for id, vec := range vectors {
		meta := metadata[id]
		if meta == nil {
			meta = map[string]any{}
		}
		records = append(records, shadow.Record{ID: id, Vector: vec, Metadata: meta})
	}
	return &Snapshot{Dimension: cfg.Dimension, SavedAt: cfg.SavedAt, Records: records}, nil
}

// Wipe removes all three artifacts. Missing files are not an error.
func (m *Manager) Wipe() error {
	for _, name := range []string{configFile, metadataFile, vectorsFile} {
		if err := os.Remove(filepath.Join(m.dir, name)); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("persist: remove %s: %w", name, err)
		}
	}
	return nil
}

// discardCorrupt logs the corruption and wipes all artifacts plus the engine cache.
// Returns the wipe error, so callers can propagate genuine I/O failures
// while treating corruption itself as recovered.
func (m *Manager) discardCorrupt(reason string, fields ...zap.Field) error {
	m.logger.Warn("persisted state corrupted, discarding and starting empty",
		append([]zap.Field{zap.String("reason", reason), zap.String("dir", m.dir)}, fields...)...)
	if err := m.Wipe(); err != nil {
		return err
	}
	return m.DiscardEngineCache()
}

func (m *Manager) writeJSON(name string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("persist: marshal %s: %w", name, err)
	}
	if err := os.WriteFile(filepath.Join(m.dir, name), data, 0600); err != nil {
		return fmt.Errorf("persist: write %s: %w", name, err)
	}
	return nil
}
