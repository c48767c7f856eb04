// Package forecast trains per-metric ensembles over daily session
// aggregates and produces day-by-day business forecasts with confidence
// intervals, trend classification, and cross-validated quality reporting.
//
// Four sub-models (linear, polynomial, bagged linear, boosted stumps) are
// blended with weights proportional to their validation accuracy. All
// randomness (bootstrap sampling) is seeded so reruns over the same series
// are identical.
package forecast

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"time"

	"github.com/feedbackloop/sentinel/internal/session"
	"github.com/feedbackloop/sentinel/internal/stats"
)

var (
	ErrSeriesTooShort = errors.New("forecast: series too short")
	ErrUnknownMetric  = errors.New("forecast: unknown metric")
)

// Metric is a forecastable business quantity.
type Metric string

const (
	MetricRevenue        Metric = "revenue"         // daily transaction sum
	MetricQuality        Metric = "quality"         // mean quality score
	MetricFraudRisk      Metric = "fraud_risk"      // mean anomaly score
	MetricSeasonalDemand Metric = "seasonal_demand" // session count
)

// Trend directions.
type Trend string

const (
	TrendIncreasing Trend = "increasing"
	TrendDecreasing Trend = "decreasing"
	TrendStable     Trend = "stable"
)

// trendChangeThreshold is the relative half-over-half change that counts as
// a direction.
const trendChangeThreshold = 0.05

// minSeriesPoints is the shortest series the forecaster accepts.
const minSeriesPoints = 14

// SeriesPoint is one day of an aggregated metric.
type SeriesPoint struct {
	Date  time.Time `json:"date"`
	Value float64   `json:"value"`
}

// ForecastPoint is one predicted day with its 95% interval.
type ForecastPoint struct {
	Date  time.Time `json:"date"`
	Value float64   `json:"value"`
	Low   float64   `json:"low"`
	High  float64   `json:"high"`
}

// BusinessForecast is the full output for one business and metric.
type BusinessForecast struct {
	BusinessID   string             `json:"businessId"`
	Metric       Metric             `json:"metric"`
	Points       []ForecastPoint    `json:"points"`
	Trend        Trend              `json:"trend"`
	ModelWeights map[string]float64 `json:"modelWeights"`
	Validation   *CVReport          `json:"validation,omitempty"`
	GeneratedAt  time.Time          `json:"generatedAt"`
}

// Config holds the forecaster knobs.
type Config struct {
	Horizon      int     // days to predict
	Folds        int     // cross-validation folds
	BagSize      int     // learners in the bagged ensemble
	BoostRounds  int     // boosting iterations
	LearningRate float64 // boosting shrinkage
	Seed         int64   // bootstrap sampling seed
	Indices      Indices // pluggable exogenous indices
}

func (c Config) withDefaults() Config {
	if c.Horizon <= 0 {
		c.Horizon = 7
	}
	if c.Folds <= 0 {
		c.Folds = 5
	}
	if c.BagSize <= 0 {
		c.BagSize = 10
	}
	if c.BoostRounds <= 0 {
		c.BoostRounds = 20
	}
	if c.LearningRate <= 0 {
		c.LearningRate = 0.1
	}
	if c.Seed == 0 {
		c.Seed = 1
	}
	c.Indices = c.Indices.withDefaults()
	return c
}

// Forecaster trains and applies metric ensembles. Stateless between calls;
// safe for concurrent use.
type Forecaster struct {
	cfg    Config
	logger *slog.Logger
}

// NewForecaster creates a forecaster.
func NewForecaster(cfg Config, logger *slog.Logger) *Forecaster {
	if logger == nil {
		logger = slog.Default()
	}
	return &Forecaster{cfg: cfg.withDefaults(), logger: logger}
}

// BuildSeries aggregates sessions into a daily series for a metric. The
// scores map (session ID to anomaly score) is only consulted for
// MetricFraudRisk and may be nil otherwise.
func BuildSeries(recs []*session.Record, metric Metric, scores map[string]float64) ([]SeriesPoint, error) {
	type bucket struct {
		sum   float64
		count int
	}
	days := make(map[string]*bucket)
	dates := make(map[string]time.Time)
	for _, r := range recs {
		day := r.Timestamp.UTC().Truncate(24 * time.Hour)
		key := day.Format("2006-01-02")
		b := days[key]
		if b == nil {
			b = &bucket{}
			days[key] = b
			dates[key] = day
		}
		switch metric {
		case MetricRevenue:
			b.sum += r.TransactionAmount
		case MetricQuality:
			b.sum += r.QualityScore
		case MetricFraudRisk:
			b.sum += scores[r.ID]
		case MetricSeasonalDemand:
			b.sum++
		default:
			return nil, fmt.Errorf("%w: %s", ErrUnknownMetric, metric)
		}
		b.count++
	}

	keys := make([]string, 0, len(days))
	for k := range days {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	series := make([]SeriesPoint, 0, len(keys))
	for _, k := range keys {
		b := days[k]
		v := b.sum
		if metric == MetricQuality || metric == MetricFraudRisk {
			v = b.sum / float64(b.count)
		}
		series = append(series, SeriesPoint{Date: dates[k], Value: v})
	}
	return series, nil
}

// Forecast trains the ensemble on a series and predicts the configured
// horizon. Validation runs first so the sub-model weights reflect held-out
// accuracy, then each sub-model is refit on the full series.
func (f *Forecaster) Forecast(ctx context.Context, businessID string, metric Metric, series []SeriesPoint) (*BusinessForecast, error) {
	if len(series) < minSeriesPoints {
		return nil, fmt.Errorf("%w: %d points, need %d", ErrSeriesTooShort, len(series), minSeriesPoints)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	X, y := f.designMatrix(series)
	report, accuracies := f.crossValidate(X, y)
	weights := normalizeWeights(accuracies)

	models := f.newModels()
	residuals := make([]float64, len(y))
	copy(residuals, y)
	fitted := make([]model, 0, len(models))
	for _, m := range models {
		if err := m.fit(X, y); err != nil {
			f.logger.Warn("sub-model dropped", "model", m.name(), "error", err)
			delete(weights, m.name())
			continue
		}
		fitted = append(fitted, m)
	}
	if len(fitted) == 0 {
		return nil, fmt.Errorf("forecast: no sub-model fit the series")
	}
	weights = renormalize(weights)

	// Residual spread of the blended in-sample fit drives the intervals.
	for i := range y {
		residuals[i] = y[i] - blend(fitted, weights, X[i])
	}
	residStd := stats.PopStdDev(residuals)

	last := series[len(series)-1].Date
	points := make([]ForecastPoint, f.cfg.Horizon)
	n := len(series)
	for h := 0; h < f.cfg.Horizon; h++ {
		date := last.AddDate(0, 0, h+1)
		x := f.featureRow(date, n+h)
		v := blend(fitted, weights, x)
		// Widen the band as the horizon grows.
		margin := 1.96 * residStd * math.Sqrt(1+float64(h+1)/float64(n))
		points[h] = ForecastPoint{Date: date, Value: v, Low: v - margin, High: v + margin}
	}

	return &BusinessForecast{
		BusinessID:   businessID,
		Metric:       metric,
		Points:       points,
		Trend:        ClassifyTrend(series),
		ModelWeights: weights,
		Validation:   report,
		GeneratedAt:  time.Now(),
	}, nil
}

// ClassifyTrend compares the first-half and second-half means of a series.
func ClassifyTrend(series []SeriesPoint) Trend {
	if len(series) < 4 {
		return TrendStable
	}
	half := len(series) / 2
	first, second := 0.0, 0.0
	for i, p := range series {
		if i < half {
			first += p.Value
		} else {
			second += p.Value
		}
	}
	first /= float64(half)
	second /= float64(len(series) - half)

	if first == 0 {
		// No baseline to take a relative change against; the sign of the
		// second half decides.
		switch {
		case second > 0:
			return TrendIncreasing
		case second < 0:
			return TrendDecreasing
		}
		return TrendStable
	}
	change := (second - first) / math.Abs(first)
	switch {
	case change > trendChangeThreshold:
		return TrendIncreasing
	case change < -trendChangeThreshold:
		return TrendDecreasing
	default:
		return TrendStable
	}
}

// designMatrix builds the engineered feature rows for a series.
func (f *Forecaster) designMatrix(series []SeriesPoint) ([][]float64, []float64) {
	X := make([][]float64, len(series))
	y := make([]float64, len(series))
	for i, p := range series {
		X[i] = f.featureRow(p.Date, i)
		y[i] = p.Value
	}
	return X, y
}

func (f *Forecaster) featureRow(date time.Time, idx int) []float64 {
	return EngineerFeatures(date, idx, f.cfg.Indices)
}

func (f *Forecaster) newModels() []model {
	return []model{
		newLinearModel(),
		newPolyModel(),
		newBaggedModel(f.cfg.BagSize, f.cfg.Seed),
		newBoostedModel(f.cfg.BoostRounds, f.cfg.LearningRate),
	}
}

func blend(models []model, weights map[string]float64, x []float64) float64 {
	sum := 0.0
	for _, m := range models {
		sum += weights[m.name()] * m.predict(x)
	}
	return sum
}

// normalizeWeights turns per-model accuracies into weights summing to 1.
// All-zero accuracies fall back to uniform weights.
func normalizeWeights(accuracies map[string]float64) map[string]float64 {
	total := 0.0
	for _, a := range accuracies {
		total += a
	}
	weights := make(map[string]float64, len(accuracies))
	if total == 0 {
		for name := range accuracies {
			weights[name] = 1 / float64(len(accuracies))
		}
		return weights
	}
	for name, a := range accuracies {
		weights[name] = a / total
	}
	return weights
}

func renormalize(weights map[string]float64) map[string]float64 {
	total := 0.0
	for _, w := range weights {
		total += w
	}
	if total == 0 {
		for name := range weights {
			weights[name] = 1 / float64(len(weights))
		}
		return weights
	}
	for name, w := range weights {
		weights[name] = w / total
	}
	return weights
}
