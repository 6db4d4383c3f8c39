package availability

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-scheduling-engine/internal/zonedtime"
)

// StaticProvider serves configurations held in memory.
type StaticProvider struct {
	mu      sync.RWMutex
	configs map[uuid.UUID]Config
}

func NewStaticProvider(configs ...Config) *StaticProvider {
	p := &StaticProvider{configs: make(map[uuid.UUID]Config, len(configs))}
	for _, c := range configs {
		p.configs[c.PractitionerID] = c
	}
	return p
}

func (p *StaticProvider) Set(cfg Config) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.configs[cfg.PractitionerID] = cfg
}

func (p *StaticProvider) GetAvailability(_ context.Context, practitionerID uuid.UUID) (Config, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	cfg, ok := p.configs[practitionerID]
	if !ok {
		return Config{}, ErrConfigNotFound
	}
	return cfg, nil
}

type cachedConfig struct {
	cfg       Config
	expiresAt time.Time
}

// CachedProvider memoizes another provider for ttl. It is constructed once
// at startup and shared by injection; configuration changes made elsewhere
// call Invalidate or Refresh.
type CachedProvider struct {
	source ConfigurationProvider
	ttl    time.Duration
	clock  zonedtime.Clock

	mu      sync.RWMutex
	entries map[uuid.UUID]cachedConfig
}

func NewCachedProvider(source ConfigurationProvider, ttl time.Duration, clock zonedtime.Clock) *CachedProvider {
	if clock == nil {
		clock = zonedtime.SystemClock
	}
	return &CachedProvider{
		source:  source,
		ttl:     ttl,
		clock:   clock,
		entries: make(map[uuid.UUID]cachedConfig),
	}
}

func (p *CachedProvider) GetAvailability(ctx context.Context, practitionerID uuid.UUID) (Config, error) {
	now := p.clock.Now()

	p.mu.RLock()
	entry, ok := p.entries[practitionerID]
	p.mu.RUnlock()
	if ok && now.Before(entry.expiresAt) {
		return entry.cfg, nil
	}

	cfg, err := p.source.GetAvailability(ctx, practitionerID)
	if err != nil {
		return Config{}, err
	}

	p.mu.Lock()
	p.entries[practitionerID] = cachedConfig{cfg: cfg, expiresAt: now.Add(p.ttl)}
	p.mu.Unlock()
	return cfg, nil
}

// Invalidate drops one practitioner's cached configuration.
func (p *CachedProvider) Invalidate(practitionerID uuid.UUID) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.entries, practitionerID)
}

// Refresh drops every cached configuration.
func (p *CachedProvider) Refresh() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.entries = make(map[uuid.UUID]cachedConfig)
}

func (p *CachedProvider) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.entries)
}
