// Package collection ties the similarity engine, the shadow metadata store
// and the persistence manager into one unit with a single lock. Every code
// path that mutates the engine also mutates the shadow store in the same
// call, so the two can never hold different ID sets.
package collection

import (
	"context"
	"fmt"
	"sync"

	"github.com/hyperjump/vecbridge/internal/engine"
	"github.com/hyperjump/vecbridge/internal/persist"
	"github.com/hyperjump/vecbridge/internal/shadow"
	"go.uber.org/zap"
)

// DimensionMismatchError rejects an insert or search whose vector length
// disagrees with the dimension the collection is bound to. The engine cannot
// rebind in place; the caller must clear and restart to change dimension.
type DimensionMismatchError struct {
	Current   int
	Requested int
}

func (e *DimensionMismatchError) Error() string {
	return fmt.Sprintf(
		"collection is bound to dimension %d but got a vector of length %d; call clear and restart to change dimension",
		e.Current, e.Requested)
}

// Result is a single search hit with the caller's metadata attached. The
// shadow vector copy is stripped before results leave the collection.
type Result struct {
	ID       string         `json:"id"`
	Score    float64        `json:"score"`
	Metadata map[string]any `json:"metadata"`
}

// Stats is a point-in-time view of the collection for the stats endpoint.
type Stats struct {
	Initialized     bool
	Count           int
	Dimension       int
	DataDir         string
	PersistedToDisk bool
	DiskSizeBytes   int64
	AutoSave        bool
	Dirty           bool
}

// Collection is a fixed-dimension vector collection. The dimension binds on
// Init or on the first insert and only unbinds through Clear.
type Collection struct {
	mu       sync.RWMutex
	manager  *persist.Manager
	logger   *zap.Logger
	autoSave bool

	eng   *engine.Engine // nil while unbound
	store *shadow.Store
	dirty bool
}

// New creates an empty, unbound collection persisting through manager.
func New(manager *persist.Manager, logger *zap.Logger, autoSave bool) *Collection {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Collection{
		manager:  manager,
		logger:   logger,
		autoSave: autoSave,
		store:    shadow.NewStore(),
	}
}

func (c *Collection) dimension() int {
	if c.eng == nil {
		return 0
	}
	return c.eng.Dimension()
}

// bindLocked discards any current engine and creates a fresh one at dim.
func (c *Collection) bindLocked(dim int) error {
	if c.eng != nil {
		c.eng.Close()
		c.eng = nil
	}
	if err := engine.RemoveArtifacts(c.manager.EnginePath()); err != nil {
		return err
	}
	eng, err := engine.New(c.manager.EnginePath(), dim)
	if err != nil {
		return err
	}
	c.eng = eng
	return nil
}

// Init resets the collection to empty at the given dimension. Persisted
// artifacts are overwritten on the next save, not wiped here.
func (c *Collection) Init(ctx context.Context, dim int) error {
	if dim <= 0 {
		return fmt.Errorf("dimension must be positive, got %d", dim)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.bindLocked(dim); err != nil {
		return err
	}
	c.store.Clear()
	c.dirty = true
	c.logger.Info("collection initialized", zap.Int("dimension", dim))
	return c.autoSaveLocked()
}

// Insert stores rec, overwriting any record with the same ID. Binds the
// collection to len(rec.Vector) when still unbound.
func (c *Collection) Insert(ctx context.Context, rec shadow.Record) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(rec.Vector) == 0 {
		return fmt.Errorf("vector must not be empty")
	}
	if c.eng == nil {
		if err := c.bindLocked(len(rec.Vector)); err != nil {
			return err
		}
	} else if len(rec.Vector) != c.dimension() {
		return &DimensionMismatchError{Current: c.dimension(), Requested: len(rec.Vector)}
	}
	if err := c.eng.InsertOne(ctx, rec.ID, rec.Vector); err != nil {
		return err
	}
	c.store.Put(rec)
	c.dirty = true
	return c.autoSaveLocked()
}

// InsertBatch stores all records or none. Every record's dimension is
// validated before any mutation, so a single bad record rejects the whole
// batch and leaves the count unchanged.
func (c *Collection) InsertBatch(ctx context.Context, recs []shadow.Record) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(recs) == 0 {
		return 0, nil
	}
	dim := c.dimension()
	if dim == 0 {
		dim = len(recs[0].Vector)
		if dim == 0 {
			return 0, fmt.Errorf("vector must not be empty")
		}
	}
	for _, rec := range recs {
		if len(rec.Vector) != dim {
			return 0, &DimensionMismatchError{Current: dim, Requested: len(rec.Vector)}
		}
	}
	if c.eng == nil {
		if err := c.bindLocked(dim); err != nil {
			return 0, err
		}
	}
	items := make([]engine.Item, len(recs))
	for i, rec := range recs {
		items[i] = engine.Item{ID: rec.ID, Vector: rec.Vector}
	}
	if err := c.eng.InsertMany(ctx, items); err != nil {
		return 0, err
	}
	for _, rec := range recs {
		c.store.Put(rec)
	}
	c.dirty = true
	if err := c.autoSaveLocked(); err != nil {
		return 0, err
	}
	return len(recs), nil
}

// Search returns up to k results ordered best match first, with metadata
// joined from the shadow store. An empty or unbound collection yields an
// empty slice, never an error.
func (c *Collection) Search(ctx context.Context, vector []float32, k int) ([]Result, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.eng == nil || c.store.Size() == 0 {
		return []Result{}, nil
	}
	if len(vector) != c.dimension() {
		return nil, &DimensionMismatchError{Current: c.dimension(), Requested: len(vector)}
	}
	hits, err := c.eng.Search(ctx, vector, k)
	if err != nil {
		return nil, err
	}
	results := make([]Result, 0, len(hits))
	for _, h := range hits {
		rec, ok := c.store.Get(h.ID)
		if !ok {
			// Cannot happen by construction; engine and store are mutated together.
			continue
		}
		results = append(results, Result{ID: h.ID, Score: h.Score, Metadata: rec.Metadata})
	}
	return results, nil
}

// Clear wipes memory and every persisted artifact and unbinds the dimension.
func (c *Collection) Clear(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.eng != nil {
		c.eng.Close()
		c.eng = nil
	}
	c.store.Clear()
	c.dirty = false
	if err := engine.RemoveArtifacts(c.manager.EnginePath()); err != nil {
		return err
	}
	if err := c.manager.Wipe(); err != nil {
		return err
	}
	c.logger.Info("collection cleared")
	return nil
}

// Save persists the collection unless nothing changed since the last save.
// Returns whether a write happened and the record count written.
func (c *Collection) Save(ctx context.Context) (bool, int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.dirty {
		return false, c.store.Size(), nil
	}
	if err := c.saveLocked(); err != nil {
		return false, 0, err
	}
	return true, c.store.Size(), nil
}

func (c *Collection) saveLocked() error {
	savedAt, err := c.manager.Save(c.dimension(), c.store.Entries())
	if err != nil {
		return err
	}
	c.dirty = false
	c.logger.Debug("collection saved",
		zap.Int("count", c.store.Size()),
		zap.Time("saved_at", savedAt))
	return nil
}

func (c *Collection) autoSaveLocked() error {
	if !c.autoSave {
		return nil
	}
	return c.saveLocked()
}

// Load replaces the in-memory state with the persisted snapshot, rebuilding
// the engine from the shadow copies. Returns whether a snapshot was found;
// with nothing persisted the collection is left unchanged. Corrupted state
// is discarded by the manager and reported as not found.
func (c *Collection) Load(ctx context.Context) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	snap, err := c.manager.Load()
	if err != nil {
		return false, err
	}
	if snap == nil {
		return false, nil
	}
	if err := c.bindLocked(snap.Dimension); err != nil {
		return false, err
	}
	items := make([]engine.Item, len(snap.Records))
	for i, rec := range snap.Records {
		items[i] = engine.Item{ID: rec.ID, Vector: rec.Vector}
	}
	if err := c.eng.InsertMany(ctx, items); err != nil {
		return false, err
	}
	c.store.Clear()
	for _, rec := range snap.Records {
		c.store.Put(rec)
	}
	c.dirty = false
	c.logger.Info("collection loaded",
		zap.Int("count", len(snap.Records)),
		zap.Int("dimension", snap.Dimension),
		zap.Time("saved_at", snap.SavedAt))
	return true, nil
}

// Count returns the number of live records.
func (c *Collection) Count() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.store.Size()
}

// Dimension returns the bound dimension, or 0 while unbound.
func (c *Collection) Dimension() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.dimension()
}

// Stats gathers the stats endpoint view, including small synchronous
// disk-size lookups.
func (c *Collection) Stats(ctx context.Context) (Stats, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	size, err := c.manager.DiskSizeBytes()
	if err != nil {
		return Stats{}, err
	}
	return Stats{
		Initialized:     c.eng != nil,
		Count:           c.store.Size(),
		Dimension:       c.dimension(),
		DataDir:         c.manager.Dir(),
		PersistedToDisk: c.manager.ConfigExists(),
		DiskSizeBytes:   size,
		AutoSave:        c.autoSave,
		Dirty:           c.dirty,
	}, nil
}

// Persisted reports whether a config descriptor exists on disk.
func (c *Collection) Persisted() bool {
	return c.manager.ConfigExists()
}

// Close releases the engine. Persisted artifacts stay on disk.
func (c *Collection) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.eng != nil {
		err := c.eng.Close()
		c.eng = nil
		return err
	}
	return nil
}
