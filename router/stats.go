package router

import (
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"go.uber.org/zap"
	"gopkg.in/yaml.v2"

	"github.com/juant72/sniperforge-sub012/types"
	"github.com/juant72/sniperforge-sub012/utils/metrics"
)

// RouteID derives a stable identifier from the venue path of a route.
func RouteID(path []string) string {
	return fmt.Sprintf("%016x", xxhash.Sum64String(strings.Join(path, ">")))
}

// Store holds aggregated per-route performance. Reads come from the router
// on every cycle; writes come only from the execution monitor.
type Store struct {
	mu     sync.RWMutex
	routes map[string]*types.RouteStats
	logger *zap.Logger
}

func NewStore(logger *zap.Logger) *Store {
	return &Store{
		routes: make(map[string]*types.RouteStats),
		logger: logger,
	}
}

// RecordOutcome folds one execution outcome into the route's rolling stats.
func (s *Store) RecordOutcome(path []string, profitBps float64, success bool, conditionTag string) {
	id := RouteID(path)

	s.mu.Lock()
	defer s.mu.Unlock()

	stats, ok := s.routes[id]
	if !ok {
		stats = &types.RouteStats{
			RouteID: id,
			Path:    append([]string(nil), path...),
		}
		s.routes[id] = stats
	}

	stats.SampleCount++
	if success {
		stats.SuccessCount++
	}
	stats.SuccessRate = float64(stats.SuccessCount) / float64(stats.SampleCount)
	stats.AvgProfitBps += (profitBps - stats.AvgProfitBps) / float64(stats.SampleCount)
	stats.MarketConditionTag = conditionTag
	stats.LastUpdated = time.Now()

	metrics.Router().RoutesKnown.Set(float64(len(s.routes)))
}

// Get returns a copy of the stats for a route, if any samples exist.
func (s *Store) Get(routeID string) (types.RouteStats, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	stats, ok := s.routes[routeID]
	if !ok {
		return types.RouteStats{}, false
	}
	return copyStats(stats), true
}

// Snapshot returns copies of every route's stats.
func (s *Store) Snapshot() []types.RouteStats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]types.RouteStats, 0, len(s.routes))
	for _, stats := range s.routes {
		out = append(out, copyStats(stats))
	}
	return out
}

type seedFile struct {
	Routes []seedRoute `yaml:"routes"`
}

type seedRoute struct {
	Path               []string `yaml:"path"`
	AvgProfitBps       float64  `yaml:"avg_profit_bps"`
	SuccessRate        float64  `yaml:"success_rate"`
	SampleCount        uint64   `yaml:"sample_count"`
	MarketConditionTag string   `yaml:"market_condition_tag"`
}

// LoadSeeds primes the store from a YAML file of historical priors. Routes
// that already accumulated live samples are left untouched.
func (s *Store) LoadSeeds(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read seed routes: %w", err)
	}

	var file seedFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("failed to parse seed routes: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	seeded := 0
	for _, seed := range file.Routes {
		if len(seed.Path) == 0 {
			continue
		}
		id := RouteID(seed.Path)
		if _, exists := s.routes[id]; exists {
			continue
		}
		successCount := uint64(seed.SuccessRate * float64(seed.SampleCount))
		s.routes[id] = &types.RouteStats{
			RouteID:            id,
			Path:               append([]string(nil), seed.Path...),
			AvgProfitBps:       seed.AvgProfitBps,
			SuccessRate:        seed.SuccessRate,
			SampleCount:        seed.SampleCount,
			SuccessCount:       successCount,
			MarketConditionTag: seed.MarketConditionTag,
			LastUpdated:        time.Now(),
		}
		seeded++
	}

	metrics.Router().RoutesKnown.Set(float64(len(s.routes)))
	s.logger.Info("seed routes loaded",
		zap.String("file", path),
		zap.Int("seeded", seeded))
	return nil
}

func copyStats(stats *types.RouteStats) types.RouteStats {
	out := *stats
	out.Path = append([]string(nil), stats.Path...)
	return out
}
