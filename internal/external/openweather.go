package external

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"crewbook/internal/config"
	"crewbook/internal/types"
)

// OpenWeatherClient implements types.ForecastProvider against the OpenWeather
// 5-day/3-hour forecast endpoint. Each returned sample carries the fetch
// timestamp so the weather gate can enforce its staleness bound.
type OpenWeatherClient struct {
	base    *BaseClient
	apiBase string
	apiKey  types.SecretString
	clock   types.Clock
	logger  *slog.Logger
}

// NewOpenWeatherClient creates a forecast client from the weather config.
func NewOpenWeatherClient(httpClient *http.Client, cfg config.WeatherConfig, clock types.Clock, logger *slog.Logger) *OpenWeatherClient {
	if logger == nil {
		logger = slog.Default()
	}
	if clock == nil {
		clock = types.RealClock{}
	}
	return &OpenWeatherClient{
		base:    NewBaseClient(httpClient, "openweather", DefaultRetryPolicy(), types.ErrCodeUpstreamWeather),
		apiBase: cfg.APIBase,
		apiKey:  cfg.APIKey,
		clock:   clock,
		logger:  logger,
	}
}

// forecastResponse mirrors the subset of the OpenWeather forecast payload the
// gate needs: 3-hourly entries with unix timestamps, precipitation
// probability, and condition groups.
type forecastResponse struct {
	Cod  json.Number `json:"cod"`
	List []struct {
		Dt      int64   `json:"dt"`
		Pop     float64 `json:"pop"`
		Weather []struct {
			Main string `json:"main"`
		} `json:"weather"`
	} `json:"list"`
}

// FetchForecast retrieves the forecast window for a city. An unknown city is
// reported as ErrCodeValidationInvalidCity (fatal); transport failures map to
// ErrCodeUpstreamWeather via the base client.
func (c *OpenWeatherClient) FetchForecast(ctx context.Context, city string) ([]types.ForecastSample, error) {
	q := url.Values{}
	q.Set("q", city)
	q.Set("appid", c.apiKey.Unmask())
	q.Set("units", "metric")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.apiBase+"/forecast?"+q.Encode(), nil)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalUnexpected, "failed to build forecast request", err)
	}

	resp, err := c.base.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, types.NewAppErrorWithDetails(
			types.ErrCodeValidationInvalidCity,
			"city not recognized by the forecast provider",
			nil,
			map[string]any{"city": city},
		)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, types.NewAppError(
			types.ErrCodeUpstreamWeather,
			fmt.Sprintf("forecast provider returned %d", resp.StatusCode),
			nil,
		)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeUpstreamWeather, "failed to read forecast response", err)
	}

	var payload forecastResponse
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, types.NewAppError(types.ErrCodeUpstreamWeather, "failed to decode forecast response", err)
	}

	fetchedAt := c.clock.Now()
	samples := make([]types.ForecastSample, 0, len(payload.List))
	for _, entry := range payload.List {
		s := types.ForecastSample{
			City:      city,
			At:        time.Unix(entry.Dt, 0).UTC(),
			POP:       entry.Pop,
			FetchedAt: fetchedAt,
		}
		for _, w := range entry.Weather {
			switch w.Main {
			case "Thunderstorm":
				s.Thunderstorm = true
			case "Snow":
				s.SnowStorm = true
			}
		}
		samples = append(samples, s)
	}

	c.logger.Debug("forecast fetched", "city", city, "samples", len(samples))
	return samples, nil
}
