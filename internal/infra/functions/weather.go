package functions

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/imperfect-abs/abshub/internal/domain"
)

// Weather is the subset of an OpenWeather current-weather response the
// analysis uses. Temperature is in °C.
type Weather struct {
	Main        string
	Temperature float64
}

type weatherResponse struct {
	Weather []struct {
		Main string `json:"main"`
	} `json:"weather"`
	Main struct {
		Temp float64 `json:"temp"`
	} `json:"main"`
}

// WeatherClient fetches current conditions with retries.
type WeatherClient struct {
	Endpoint       string
	APIKey         string
	Client         *http.Client
	MaxElapsedTime time.Duration
	InitialBackoff time.Duration
}

// NewWeatherClient creates a client for endpoint (empty disables fetching).
func NewWeatherClient(endpoint, apiKey string) *WeatherClient {
	return &WeatherClient{
		Endpoint:       endpoint,
		APIKey:         apiKey,
		Client:         &http.Client{Timeout: 10 * time.Second},
		MaxElapsedTime: 10 * time.Second,
		InitialBackoff: time.Second,
	}
}

// Fetch returns the current weather at lat/lon (decimal degrees).
func (c *WeatherClient) Fetch(ctx context.Context, lat, lon string) (Weather, error) {
	if c == nil || c.Endpoint == "" {
		return Weather{}, domain.ErrWeatherUnconfigured
	}
	q := url.Values{}
	q.Set("lat", lat)
	q.Set("lon", lon)
	q.Set("appid", c.APIKey)
	q.Set("units", "metric")
	target := c.Endpoint + "?" + q.Encode()

	var out Weather
	operation := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		resp, err := c.Client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			return fmt.Errorf("weather api: %s", resp.Status)
		}
		if resp.StatusCode != http.StatusOK {
			return backoff.Permanent(fmt.Errorf("weather api: %s", resp.Status))
		}

		var wr weatherResponse
		if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&wr); err != nil {
			return backoff.Permanent(fmt.Errorf("decode weather: %w", err))
		}
		if len(wr.Weather) == 0 {
			return backoff.Permanent(fmt.Errorf("weather api: no conditions"))
		}
		out = Weather{Main: wr.Weather[0].Main, Temperature: wr.Main.Temp}
		return nil
	}

	cfg := backoff.NewExponentialBackOff()
	cfg.InitialInterval = c.InitialBackoff
	cfg.Multiplier = 1.5
	cfg.MaxInterval = 4 * time.Second
	cfg.MaxElapsedTime = c.MaxElapsedTime

	if err := backoff.Retry(operation, backoff.WithContext(cfg, ctx)); err != nil {
		return Weather{}, err
	}
	return out, nil
}
