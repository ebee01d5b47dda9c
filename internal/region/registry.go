// Package region implements the registry of per-provider-region dispatch
// settings: send-rate budgets, transactional quota splits, and the named
// configuration sets that toggle open/click tracking.
//
// The registry is an explicit object constructed once at process start and
// passed to consumers. It caches settings in memory (read-heavy, rarely
// mutated) and exposes Reload for admin-triggered invalidation; there are
// no ambient globals.
package region

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/ignite/dispatch/internal/domain"
)

// ErrUnknownRegion is returned when no setting exists for a region. This is
// fatal for dispatch to that region; callers must not fall back silently.
var ErrUnknownRegion = errors.New("no setting for region")

// Repository is the data access contract for region settings.
type Repository interface {
	// All returns every region setting.
	All(ctx context.Context) ([]domain.RegionSetting, error)
	// Upsert creates or updates the setting for a region.
	Upsert(ctx context.Context, s *domain.RegionSetting) error
}

// Registry caches region settings for concurrent read access.
type Registry struct {
	repo Repository

	mu       sync.RWMutex
	settings map[string]domain.RegionSetting
}

// NewRegistry builds a registry and performs the initial load.
func NewRegistry(ctx context.Context, repo Repository) (*Registry, error) {
	r := &Registry{repo: repo, settings: make(map[string]domain.RegionSetting)}
	if err := r.Reload(ctx); err != nil {
		return nil, fmt.Errorf("initial region load: %w", err)
	}
	return r, nil
}

// Reload replaces the cache from the backing store. Called at startup and
// after every administrative write.
func (r *Registry) Reload(ctx context.Context) error {
	settings, err := r.repo.All(ctx)
	if err != nil {
		return fmt.Errorf("load region settings: %w", err)
	}

	next := make(map[string]domain.RegionSetting, len(settings))
	for _, s := range settings {
		next[s.Region] = s
	}

	r.mu.Lock()
	r.settings = next
	r.mu.Unlock()
	return nil
}

// GetSetting returns the setting for a region or ErrUnknownRegion.
func (r *Registry) GetSetting(region string) (domain.RegionSetting, error) {
	r.mu.RLock()
	s, ok := r.settings[region]
	r.mu.RUnlock()
	if !ok {
		return domain.RegionSetting{}, fmt.Errorf("%w: %s", ErrUnknownRegion, region)
	}
	return s, nil
}

// ListRegions returns every region with a setting.
func (r *Registry) ListRegions() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	regions := make([]string, 0, len(r.settings))
	for region := range r.settings {
		regions = append(regions, region)
	}
	return regions
}

// ResolveConfigSet picks the provider configuration set for the given
// tracking flags. Both flags select full, click only selects click,
// open only selects open, neither selects general.
func (r *Registry) ResolveConfigSet(region string, clickTracking, openTracking bool) (string, error) {
	s, err := r.GetSetting(region)
	if err != nil {
		return "", err
	}
	switch {
	case clickTracking && openTracking:
		return s.ConfigFull, nil
	case clickTracking:
		return s.ConfigClick, nil
	case openTracking:
		return s.ConfigOpen, nil
	default:
		return s.ConfigGeneral, nil
	}
}

// UpsertSetting validates and persists a setting, then reloads the cache.
func (r *Registry) UpsertSetting(ctx context.Context, s *domain.RegionSetting) error {
	if s.Region == "" {
		return fmt.Errorf("region is required")
	}
	if s.SendRate <= 0 {
		return fmt.Errorf("send rate must be positive")
	}
	if s.TransactionalQuotaPercent < 0 || s.TransactionalQuotaPercent > 100 {
		return fmt.Errorf("transactional quota percent must be in [0,100]")
	}
	if err := r.repo.Upsert(ctx, s); err != nil {
		return err
	}
	return r.Reload(ctx)
}
