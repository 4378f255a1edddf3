package functions

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strconv"

	"github.com/imperfect-abs/abshub/internal/app/codec"
	"github.com/imperfect-abs/abshub/internal/app/scoring"
	"github.com/imperfect-abs/abshub/internal/domain"
)

// Weather bonus percentages.
const (
	BonusExtremeTemp = 20 // below 5°C or above 30°C
	BonusSevere      = 15 // Rain, Snow, Thunderstorm
	BonusMild        = 5  // Clouds, Drizzle, Mist
	MaxWeatherBonus  = 30
)

// WeatherBonus returns the percentage bonus for training in the given
// conditions, capped at MaxWeatherBonus.
func WeatherBonus(conditions string, temperature int64) uint64 {
	var bonus uint64
	if temperature < 5 || temperature > 30 {
		bonus += BonusExtremeTemp
	}
	switch conditions {
	case "Rain", "Snow", "Thunderstorm":
		bonus += BonusSevere
	case "Clouds", "Drizzle", "Mist":
		bonus += BonusMild
	}
	return min(bonus, MaxWeatherBonus)
}

// Analysis is the DON response body. Numbers are strings, as the
// on-chain parser expects.
type Analysis struct {
	Conditions   string `json:"conditions"`
	Temperature  string `json:"temperature"`
	WeatherBonus string `json:"weatherBonus"`
	Score        string `json:"score"`
}

// DON runs the workout analysis script.
type DON struct {
	weather *WeatherClient
}

// NewDON creates the executor. A nil or unconfigured client makes every
// request fail, which consumers treat as the fallback path.
func NewDON(weather *WeatherClient) *DON {
	return &DON{weather: weather}
}

// ScriptName identifies the analysis script in OracleRequest.Source.
const ScriptName = "abshub/weather-analysis@1"

// Execute implements Executor. An empty Source runs the analysis script.
func (d *DON) Execute(ctx context.Context, req domain.OracleRequest) ([]byte, error) {
	if req.Source != "" && req.Source != ScriptName {
		return nil, fmt.Errorf("unknown script %q", req.Source)
	}
	return d.Analyze(ctx, req.Args)
}

// Analyze takes [reps, accuracy, streak, duration, lat, lon] and returns
// the enhanced score JSON.
func (d *DON) Analyze(ctx context.Context, args []string) ([]byte, error) {
	if len(args) != 6 {
		return nil, fmt.Errorf("expected 6 args, got %d", len(args))
	}
	var nums [4]uint64
	for i := range nums {
		v, err := codec.ParseUint(args[i])
		if err != nil {
			return nil, fmt.Errorf("arg %d: %w", i, err)
		}
		nums[i] = v
	}
	for _, a := range args[4:] {
		if _, err := codec.ParseCoordinate(a); err != nil {
			return nil, fmt.Errorf("coordinate %q: %w", a, err)
		}
	}

	w, err := d.weather.Fetch(ctx, args[4], args[5])
	if err != nil {
		return nil, fmt.Errorf("fetch weather: %w", err)
	}
	temp := int64(math.Round(w.Temperature))
	bonus := WeatherBonus(w.Main, temp)
	base := scoring.BaseScore(nums[0], nums[1], nums[2])
	score := base + base*bonus/100

	return json.Marshal(Analysis{
		Conditions:   w.Main,
		Temperature:  strconv.FormatInt(temp, 10),
		WeatherBonus: strconv.FormatUint(bonus, 10),
		Score:        strconv.FormatUint(score, 10),
	})
}
