package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"

	"github.com/compliscope/compliscope/internal/models"
)

var (
	// ErrNoData is returned for industries the catalog has no scenarios for.
	ErrNoData = errors.New("no scenario data for industry")

	ErrScenarioNotFound = errors.New("scenario not found")
)

const (
	IndustryGeneral = "General"

	redisKeyPrefix = "compliscope:scenarios:"
)

// Source returns the scenarios available for an industry.
type Source interface {
	GetScenarios(ctx context.Context, industry string) ([]models.SimulationScenario, error)
}

func normalizeIndustry(industry string) string {
	return strings.ToLower(strings.TrimSpace(industry))
}

// Static serves the built-in scenario table.
type Static struct{}

func NewStatic() *Static {
	return &Static{}
}

func (s *Static) GetScenarios(_ context.Context, industry string) ([]models.SimulationScenario, error) {
	key := normalizeIndustry(industry)
	if key == strings.ToLower(IndustryGeneral) {
		return withIndustry(generalScenarios, IndustryGeneral), nil
	}

	scenarios, ok := scenarioData[key]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNoData, industry)
	}
	return withIndustry(scenarios, industryNames[key]), nil
}

// withIndustry copies the table entries so callers can never mutate the catalog.
func withIndustry(in []models.SimulationScenario, industry string) []models.SimulationScenario {
	out := make([]models.SimulationScenario, len(in))
	for i, sc := range in {
		sc.Industry = industry
		sc.RegulationChanges = append([]models.RegulationChange(nil), sc.RegulationChanges...)
		sc.Actions = append([]string(nil), sc.Actions...)
		out[i] = sc
	}
	return out
}

// cloneScenarios deep-copies the slices callers may modify.
func cloneScenarios(in []models.SimulationScenario) []models.SimulationScenario {
	out := make([]models.SimulationScenario, len(in))
	for i, sc := range in {
		sc.RegulationChanges = append([]models.RegulationChange(nil), sc.RegulationChanges...)
		sc.Actions = append([]string(nil), sc.Actions...)
		out[i] = sc
	}
	return out
}

// Industries lists the industries with scenario data, sorted by name.
func Industries() []string {
	names := make([]string, 0, len(industryNames))
	for _, n := range industryNames {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// FindScenario looks up a scenario by id within an industry.
func FindScenario(ctx context.Context, src Source, industry, id string) (*models.SimulationScenario, error) {
	scenarios, err := src.GetScenarios(ctx, industry)
	if err != nil {
		return nil, err
	}
	for i := range scenarios {
		if scenarios[i].ID == id {
			return &scenarios[i], nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrScenarioNotFound, id)
}

// CachedConfig configures a Cached catalog.
type CachedConfig struct {
	// Latency is an artificial delay applied to every uncached lookup.
	Latency time.Duration
	// RedisTTL bounds how long entries live in Redis. Zero disables expiry.
	RedisTTL time.Duration
}

// Cached memoises scenario lookups per industry, in process and optionally in
// Redis so several API replicas share one warm cache.
type Cached struct {
	source Source
	redis  redis.Cmdable
	clock  clockwork.Clock
	cfg    CachedConfig
	logger *slog.Logger

	mu    sync.RWMutex
	cache map[string][]models.SimulationScenario
}

type CachedOption func(*Cached)

func WithRedis(client redis.Cmdable) CachedOption {
	return func(c *Cached) {
		c.redis = client
	}
}

func WithClock(clock clockwork.Clock) CachedOption {
	return func(c *Cached) {
		c.clock = clock
	}
}

func WithLogger(logger *slog.Logger) CachedOption {
	return func(c *Cached) {
		c.logger = logger
	}
}

func NewCached(source Source, cfg CachedConfig, opts ...CachedOption) *Cached {
	c := &Cached{
		source: source,
		clock:  clockwork.NewRealClock(),
		cfg:    cfg,
		logger: slog.Default(),
		cache:  make(map[string][]models.SimulationScenario),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Cached) GetScenarios(ctx context.Context, industry string) ([]models.SimulationScenario, error) {
	key := normalizeIndustry(industry)

	c.mu.RLock()
	cached, ok := c.cache[key]
	c.mu.RUnlock()
	if ok {
		return cloneScenarios(cached), nil
	}

	if scenarios, ok := c.fromRedis(ctx, key); ok {
		c.store(key, scenarios)
		return scenarios, nil
	}

	if c.cfg.Latency > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-c.clock.After(c.cfg.Latency):
		}
	}

	scenarios, err := c.source.GetScenarios(ctx, industry)
	if err != nil {
		return nil, err
	}

	c.store(key, scenarios)
	c.toRedis(ctx, key, scenarios)
	return scenarios, nil
}

// Invalidate drops every cached industry.
func (c *Cached) Invalidate(ctx context.Context) {
	c.mu.Lock()
	keys := make([]string, 0, len(c.cache))
	for k := range c.cache {
		keys = append(keys, redisKeyPrefix+k)
	}
	c.cache = make(map[string][]models.SimulationScenario)
	c.mu.Unlock()

	if c.redis != nil && len(keys) > 0 {
		if err := c.redis.Del(ctx, keys...).Err(); err != nil {
			c.logger.Warn("failed to clear scenario cache", "error", err)
		}
	}
}

func (c *Cached) store(key string, scenarios []models.SimulationScenario) {
	c.mu.Lock()
	c.cache[key] = cloneScenarios(scenarios)
	c.mu.Unlock()
}

func (c *Cached) fromRedis(ctx context.Context, key string) ([]models.SimulationScenario, bool) {
	if c.redis == nil {
		return nil, false
	}
	data, err := c.redis.Get(ctx, redisKeyPrefix+key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.logger.Warn("scenario cache read failed", "industry", key, "error", err)
		}
		return nil, false
	}
	var scenarios []models.SimulationScenario
	if err := json.Unmarshal(data, &scenarios); err != nil {
		c.logger.Warn("discarding corrupt scenario cache entry", "industry", key, "error", err)
		return nil, false
	}
	return scenarios, true
}

func (c *Cached) toRedis(ctx context.Context, key string, scenarios []models.SimulationScenario) {
	if c.redis == nil {
		return
	}
	data, err := json.Marshal(scenarios)
	if err != nil {
		return
	}
	if err := c.redis.Set(ctx, redisKeyPrefix+key, data, c.cfg.RedisTTL).Err(); err != nil {
		c.logger.Warn("scenario cache write failed", "industry", key, "error", err)
	}
}
