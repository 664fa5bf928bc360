// Package registry is the authoritative catalog of metric definitions.
// Writes go through to the repository; reads are served from a process-local
// cache keyed by name and id, invalidated on every write.
package registry

import (
	"context"
	"log/slog"
	"strconv"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/pulseboard/pulseboard-backend/internal/apperr"
	"github.com/pulseboard/pulseboard-backend/internal/clock"
	"github.com/pulseboard/pulseboard-backend/internal/models"
	"github.com/pulseboard/pulseboard-backend/internal/pkg/metrics"
	"github.com/pulseboard/pulseboard-backend/internal/repository"
)

const cacheSize = 1024

// Registry serves metric definitions. Readers proceed concurrently; the
// writer path serializes with itself.
type Registry struct {
	repo   repository.MetricRepo
	clk    clock.Clock
	logger *slog.Logger

	writeMu sync.Mutex
	byName  *lru.Cache[string, *models.Metric]
	byID    *lru.Cache[int64, *models.Metric]
}

// New creates a registry over the given metric repository.
func New(repo repository.MetricRepo, clk clock.Clock, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	byName, _ := lru.New[string, *models.Metric](cacheSize)
	byID, _ := lru.New[int64, *models.Metric](cacheSize)
	return &Registry{
		repo:   repo,
		clk:    clk,
		logger: logger,
		byName: byName,
		byID:   byID,
	}
}

// Define registers a new metric. Fails with DuplicateName on a name conflict
// and Invalid on a bad kind.
func (r *Registry) Define(ctx context.Context, m *models.Metric) (*models.Metric, error) {
	if m.Name == "" {
		return nil, apperr.Invalid("name", "must not be empty")
	}
	if !m.Kind.Valid() {
		return nil, apperr.Invalid("kind", "must be counter or gauge")
	}
	now := r.clk.Now()
	m.CreatedAt = now
	m.UpdatedAt = now

	r.writeMu.Lock()
	defer r.writeMu.Unlock()
	if err := r.repo.Create(ctx, m); err != nil {
		return nil, err
	}
	r.invalidate(m)
	r.logger.Info("metric defined", "name", m.Name, "kind", m.Kind, "id", m.ID)
	return m, nil
}

// Ensure defines the metric if it does not exist yet. Existing definitions
// are left untouched; used to seed built-in metrics at startup.
func (r *Registry) Ensure(ctx context.Context, m *models.Metric) error {
	_, err := r.Define(ctx, m)
	if err != nil && apperr.KindOf(err) == apperr.KindDuplicateName {
		return nil
	}
	return err
}

// GetByName resolves a metric definition by its unique name.
func (r *Registry) GetByName(ctx context.Context, name string) (*models.Metric, error) {
	if m, ok := r.byName.Get(name); ok {
		metrics.RegistryCacheHitsTotal.Inc()
		return m, nil
	}
	metrics.RegistryCacheMissesTotal.Inc()
	m, err := r.repo.GetByName(ctx, name)
	if err != nil {
		return nil, err
	}
	r.cache(m)
	return m, nil
}

// GetByID resolves a metric definition by id.
func (r *Registry) GetByID(ctx context.Context, id int64) (*models.Metric, error) {
	if m, ok := r.byID.Get(id); ok {
		metrics.RegistryCacheHitsTotal.Inc()
		return m, nil
	}
	metrics.RegistryCacheMissesTotal.Inc()
	m, err := r.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	r.cache(m)
	return m, nil
}

// List returns metric definitions matching the filter, uncached.
func (r *Registry) List(ctx context.Context, filter models.MetricFilter) ([]*models.Metric, error) {
	return r.repo.List(ctx, filter)
}

// Update mutates unit, description, category and label schema. Kind is
// immutable and name renames are not supported.
func (r *Registry) Update(ctx context.Context, m *models.Metric) error {
	m.UpdatedAt = r.clk.Now()

	r.writeMu.Lock()
	defer r.writeMu.Unlock()
	if err := r.repo.Update(ctx, m); err != nil {
		return err
	}
	r.invalidate(m)
	return nil
}

// Delete removes a metric; samples cascade in the repository.
func (r *Registry) Delete(ctx context.Context, id int64) error {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()
	m, err := r.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if err := r.repo.Delete(ctx, id); err != nil {
		return err
	}
	r.invalidate(m)
	r.logger.Info("metric deleted", "name", m.Name, "id", id)
	return nil
}

func (r *Registry) cache(m *models.Metric) {
	r.byName.Add(m.Name, m)
	r.byID.Add(m.ID, m)
}

func (r *Registry) invalidate(m *models.Metric) {
	r.byName.Remove(m.Name)
	r.byID.Remove(m.ID)
}

// NameForID is a convenience for exposition and logging; returns the id as a
// string when the metric is gone.
func (r *Registry) NameForID(ctx context.Context, id int64) string {
	m, err := r.GetByID(ctx, id)
	if err != nil {
		return strconv.FormatInt(id, 10)
	}
	return m.Name
}
