// Package weather implements the accept/reject decision point for candidate
// dates based on forecast data: precipitation and severe-weather policy,
// per-city forecast caching with staleness bounds, and the configurable
// fail-open behavior for provider outages.
package weather

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"crewbook/internal/config"
	"crewbook/internal/types"
)

// Confidence tier boundaries on the maximum precipitation probability
// observed across the business-hours window.
const (
	highConfidenceMaxPOP   = 0.2
	mediumConfidenceMaxPOP = 0.4
)

// Decision is the outcome of gating one city/date pair.
//
// Degraded marks a fail-open acceptance taken while the forecast provider
// was unreachable; callers must surface it as a degraded-mode event, never
// as a silent success.
type Decision struct {
	Suitable   bool
	Confidence types.Confidence
	MaxPOP     float64
	Severe     bool
	Degraded   bool
	Reason     string
}

// Gate evaluates candidate dates against cached or freshly fetched forecast
// data. Safe for concurrent use; lookups for distinct cities only contend on
// the cache map, never while waiting on provider I/O for another city.
type Gate struct {
	provider types.ForecastProvider
	clock    types.Clock
	logger   *slog.Logger

	maxPOP    float64
	staleness time.Duration
	failOpen  bool
	workStart int
	workEnd   int

	mu    sync.Mutex
	cache map[string]cacheEntry
}

type cacheEntry struct {
	samples   []types.ForecastSample
	fetchedAt time.Time
}

// NewGate creates a Gate from the weather and scheduling configuration.
func NewGate(provider types.ForecastProvider, wcfg config.WeatherConfig, scfg config.SchedulingConfig, clock types.Clock, logger *slog.Logger) *Gate {
	if logger == nil {
		logger = slog.Default()
	}
	if clock == nil {
		clock = types.RealClock{}
	}
	return &Gate{
		provider:  provider,
		clock:     clock,
		logger:    logger,
		maxPOP:    wcfg.MaxPOP,
		staleness: wcfg.Staleness,
		failOpen:  wcfg.FailOpen,
		workStart: scfg.WorkdayStartHour,
		workEnd:   scfg.WorkdayEndHour,
		cache:     make(map[string]cacheEntry),
	}
}

// Check gates the given date for the given city.
//
// Rejection policy: max precipitation probability above the configured bound,
// or any thunderstorm/snow-storm flag within the business-hours window.
// Dates beyond the provider's forecast window are accepted at low confidence;
// the reschedule sweep re-validates them once they enter the window.
//
// When the provider is unreachable and fail-open is enabled, the date is
// accepted with Degraded=true and a logged warning. With fail-open disabled
// the upstream error is returned as ErrCodeUpstreamWeather.
// An empty or unknown city fails with ErrCodeValidationInvalidCity.
func (g *Gate) Check(ctx context.Context, city string, date time.Time) (Decision, error) {
	if strings.TrimSpace(city) == "" {
		return Decision{}, types.NewAppError(types.ErrCodeValidationInvalidCity, "city must not be empty", nil)
	}

	samples, err := g.forecast(ctx, city)
	if err != nil {
		if appErr, ok := err.(*types.AppError); ok && appErr.Code == types.ErrCodeValidationInvalidCity {
			return Decision{}, err
		}
		if !g.failOpen {
			return Decision{}, types.NewAppError(types.ErrCodeUpstreamWeather, "weather service unreachable", err)
		}
		g.logger.Warn("weather service unreachable, failing open",
			"city", city,
			"date", date.Format("2006-01-02"),
			"error", err,
		)
		return Decision{
			Suitable:   true,
			Confidence: types.ConfidenceLow,
			Degraded:   true,
			Reason:     "forecast unavailable, accepted under fail-open policy",
		}, nil
	}

	return g.evaluate(samples, date), nil
}

// evaluate applies the rejection policy to the samples covering the
// business-hours window of the given date.
func (g *Gate) evaluate(samples []types.ForecastSample, date time.Time) Decision {
	y, m, d := date.Date()

	var (
		covered bool
		maxPOP  float64
		severe  bool
	)
	for _, s := range samples {
		sy, sm, sd := s.At.Date()
		if sy != y || sm != m || sd != d {
			continue
		}
		h := s.At.Hour()
		if h < g.workStart || h >= g.workEnd {
			continue
		}
		covered = true
		if s.POP > maxPOP {
			maxPOP = s.POP
		}
		if s.Severe() {
			severe = true
		}
	}

	if !covered {
		// Beyond the forecast window. Accept tentatively; the sweep
		// re-checks once the date comes into range.
		return Decision{
			Suitable:   true,
			Confidence: types.ConfidenceLow,
			Reason:     "date beyond forecast window",
		}
	}

	if severe || maxPOP > g.maxPOP {
		return Decision{
			Suitable:   false,
			Confidence: types.ConfidenceBad,
			MaxPOP:     maxPOP,
			Severe:     severe,
			Reason:     rejectionReason(severe, maxPOP),
		}
	}

	return Decision{
		Suitable:   true,
		Confidence: confidenceFor(maxPOP),
		MaxPOP:     maxPOP,
	}
}

func confidenceFor(maxPOP float64) types.Confidence {
	switch {
	case maxPOP < highConfidenceMaxPOP:
		return types.ConfidenceHigh
	case maxPOP < mediumConfidenceMaxPOP:
		return types.ConfidenceMedium
	default:
		return types.ConfidenceLow
	}
}

func rejectionReason(severe bool, maxPOP float64) string {
	if severe {
		return "severe weather expected"
	}
	return "precipitation probability too high"
}

// forecast returns cached samples for the city, refetching when the cache
// entry is older than the staleness bound. The provider call happens outside
// the cache lock so slow fetches for one city do not block lookups for
// another.
func (g *Gate) forecast(ctx context.Context, city string) ([]types.ForecastSample, error) {
	key := strings.ToLower(strings.TrimSpace(city))
	now := g.clock.Now()

	g.mu.Lock()
	entry, ok := g.cache[key]
	g.mu.Unlock()
	if ok && now.Sub(entry.fetchedAt) < g.staleness {
		return entry.samples, nil
	}

	samples, err := g.provider.FetchForecast(ctx, city)
	if err != nil {
		return nil, err
	}

	g.mu.Lock()
	g.cache[key] = cacheEntry{samples: samples, fetchedAt: now}
	g.mu.Unlock()
	return samples, nil
}

// Invalidate drops the cached forecast for a city. Used by tests and by the
// sweep when it wants guaranteed-fresh data.
func (g *Gate) Invalidate(city string) {
	key := strings.ToLower(strings.TrimSpace(city))
	g.mu.Lock()
	delete(g.cache, key)
	g.mu.Unlock()
}
