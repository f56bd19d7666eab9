package directory

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/harinnig/heymateBackend/internal/model"
)

var ErrProviderNotFound = errors.New("provider not found")

// Local is an in-memory provider directory for development and tests.
// Distance filtering uses the haversine formula over the registered
// provider locations.
type Local struct {
	mu        sync.RWMutex
	providers map[string]*model.Provider
}

func NewLocal() *Local {
	return &Local{providers: make(map[string]*model.Provider)}
}

// Upsert registers or replaces a provider record.
func (d *Local) Upsert(p model.Provider) {
	d.mu.Lock()
	defer d.mu.Unlock()
	cp := p
	d.providers[p.ProviderID] = &cp
}

// SetAvailable flips a provider's availability flag.
func (d *Local) SetAvailable(providerID string, available bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	p, ok := d.providers[providerID]
	if !ok {
		return ErrProviderNotFound
	}
	p.Available = available
	return nil
}

func (d *Local) Get(providerID string) (model.Provider, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	p, ok := d.providers[providerID]
	if !ok {
		return model.Provider{}, ErrProviderNotFound
	}
	return *p, nil
}

func (d *Local) Query(ctx context.Context, category string, point model.GeoPoint, radiusMeters float64, excludeIDs []string) ([]model.Candidate, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	excluded := make(map[string]struct{}, len(excludeIDs))
	for _, id := range excludeIDs {
		excluded[id] = struct{}{}
	}

	var out []model.Candidate
	for _, p := range d.providers {
		if !p.Available || !p.ServesCategory(category) {
			continue
		}
		if _, skip := excluded[p.ProviderID]; skip {
			continue
		}
		dist := HaversineMeters(point, p.Location)
		if radiusMeters > 0 && dist > radiusMeters {
			continue
		}
		out = append(out, model.Candidate{
			ProviderID:     p.ProviderID,
			Name:           p.Name,
			DistanceMeters: dist,
		})
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].DistanceMeters < out[j].DistanceMeters
	})
	return out, nil
}

func (d *Local) IncrementCompletedJobs(ctx context.Context, providerID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	p, ok := d.providers[providerID]
	if !ok {
		return ErrProviderNotFound
	}
	p.CompletedJobs++
	return nil
}
