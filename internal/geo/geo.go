// Package geo implements spatial anomaly detection over customer session
// histories: impossible travel, location clustering, distance outliers, and
// geofence violations.
//
// All detectors read the customer's recent history and score the incoming
// session against it. Findings are weighted into a single geographic anomaly
// score; the weights are heuristics and stay configurable.
package geo

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/feedbackloop/sentinel/internal/history"
	"github.com/feedbackloop/sentinel/internal/pattern"
	"github.com/feedbackloop/sentinel/internal/session"
	"github.com/feedbackloop/sentinel/internal/stats"
)

// Config holds the geographic detection thresholds. Zero values fall back to
// the defaults below.
type Config struct {
	MaxTravelSpeedKmh float64            // realistic combined air/ground speed
	GeofenceRadiusKm  float64            // default radius when a business registers no explicit one
	LookbackWindow    time.Duration      // impossible-travel comparison window
	OutlierZ          float64            // |z| threshold for distance outliers
	HotspotMinimum    int                // min cluster size to call a hotspot
	HotspotRadiusKm   float64            // max cluster radius to call a hotspot
	Seed              int64              // k-means determinism
	Weights           map[pattern.Type]float64
}

// Defaults for Config.
const (
	DefaultMaxTravelSpeedKmh = 1000.0
	DefaultGeofenceRadiusKm  = 50.0
	DefaultLookbackWindow    = 24 * time.Hour
	DefaultOutlierZ          = 2.5
	DefaultHotspotMinimum    = 5
	DefaultHotspotRadiusKm   = 2.0
	DefaultSeed              = 1

	// impossibilityTolerance allows 20% scheduling slack before a travel
	// pair is flagged.
	impossibilityTolerance = 1.2
)

// DefaultWeights is the per-type contribution to the geographic score.
func DefaultWeights() map[pattern.Type]float64 {
	return map[pattern.Type]float64{
		pattern.TypeImpossibleTravel:  0.9,
		pattern.TypeGeofenceViolation: 0.7,
		pattern.TypeGeoOutlier:        0.6,
		pattern.TypeRouteDeviation:    0.4,
		pattern.TypeLocationCluster:   0.3,
		pattern.TypeHotspot:           0.2,
	}
}

func (c Config) withDefaults() Config {
	if c.MaxTravelSpeedKmh <= 0 {
		c.MaxTravelSpeedKmh = DefaultMaxTravelSpeedKmh
	}
	if c.GeofenceRadiusKm <= 0 {
		c.GeofenceRadiusKm = DefaultGeofenceRadiusKm
	}
	if c.LookbackWindow <= 0 {
		c.LookbackWindow = DefaultLookbackWindow
	}
	if c.OutlierZ <= 0 {
		c.OutlierZ = DefaultOutlierZ
	}
	if c.HotspotMinimum <= 0 {
		c.HotspotMinimum = DefaultHotspotMinimum
	}
	if c.HotspotRadiusKm <= 0 {
		c.HotspotRadiusKm = DefaultHotspotRadiusKm
	}
	if c.Seed == 0 {
		c.Seed = DefaultSeed
	}
	if c.Weights == nil {
		c.Weights = DefaultWeights()
	}
	return c
}

// Geofence is a business's registered service area.
type Geofence struct {
	Center   session.Coordinates
	RadiusKm float64
}

// Analysis is the geographic verdict for one session.
type Analysis struct {
	Patterns   []pattern.Pattern `json:"patterns"`
	Score      float64           `json:"score"`
	RiskLevel  pattern.RiskLevel `json:"riskLevel"`
	Confidence float64           `json:"confidence"`
}

// Analyzer detects spatial anomalies per customer.
type Analyzer struct {
	histories history.Store
	cfg       Config
	logger    *slog.Logger

	mu     sync.RWMutex
	fences map[string]Geofence // businessID -> fence
}

// New creates a geographic analyzer reading from the given history store.
func New(histories history.Store, cfg Config, logger *slog.Logger) *Analyzer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Analyzer{
		histories: histories,
		cfg:       cfg.withDefaults(),
		logger:    logger,
		fences:    make(map[string]Geofence),
	}
}

// RegisterGeofence sets a business's service area. radiusKm <= 0 uses the
// configured default.
func (a *Analyzer) RegisterGeofence(businessID string, center session.Coordinates, radiusKm float64) {
	if radiusKm <= 0 {
		radiusKm = a.cfg.GeofenceRadiusKm
	}
	a.mu.Lock()
	a.fences[businessID] = Geofence{Center: center, RadiusKm: radiusKm}
	a.mu.Unlock()
}

// Analyze scores rec against the customer's prior sessions. The record must
// not yet be appended to the history store.
func (a *Analyzer) Analyze(ctx context.Context, rec *session.Record) (*Analysis, error) {
	if !rec.HasLocation() {
		// Nothing spatial to analyze; neutral verdict.
		return &Analysis{RiskLevel: pattern.RiskLow, Confidence: 0.3}, nil
	}

	prior, err := a.histories.Recent(ctx, rec.CustomerHash, 0)
	if err != nil {
		return nil, fmt.Errorf("geo: load history for %s: %w", rec.CustomerHash, err)
	}

	var patterns []pattern.Pattern
	if p := a.detectImpossibleTravel(rec, prior); p != nil {
		patterns = append(patterns, *p)
	}
	patterns = append(patterns, a.detectClusters(rec, prior)...)
	if p := a.detectOutlier(rec, prior); p != nil {
		patterns = append(patterns, *p)
	}
	if p := a.detectGeofenceViolation(rec); p != nil {
		patterns = append(patterns, *p)
	}

	score := pattern.Aggregate(patterns, a.cfg.Weights)
	return &Analysis{
		Patterns:   patterns,
		Score:      score,
		RiskLevel:  pattern.LevelFor(score),
		Confidence: analysisConfidence(patterns, len(prior)),
	}, nil
}

// detectImpossibleTravel compares rec against every prior session inside the
// lookback window. The minimum realistic travel time uses a tiered speed
// model: short hops move at city speed, regional distances at highway speed,
// anything beyond at the configured max combined air/ground speed.
func (a *Analyzer) detectImpossibleTravel(rec *session.Record, prior []*session.Record) *pattern.Pattern {
	cutoff := rec.Timestamp.Add(-a.cfg.LookbackWindow)

	var worst *pattern.Pattern
	worstFactor := 0.0

	for _, p := range prior {
		if !p.HasLocation() || p.Timestamp.Before(cutoff) || !p.Timestamp.Before(rec.Timestamp) {
			continue
		}
		distKm := Haversine(p.Location, rec.Location)
		if distKm < 0.1 {
			continue // same venue
		}
		elapsed := rec.Timestamp.Sub(p.Timestamp).Minutes()
		if elapsed <= 0 {
			continue
		}
		minTravelMin := minTravelMinutes(distKm, a.cfg.MaxTravelSpeedKmh)
		factor := minTravelMin / elapsed
		if factor <= impossibilityTolerance || factor <= worstFactor {
			continue
		}
		worstFactor = factor
		worst = &pattern.Pattern{
			Type:       pattern.TypeImpossibleTravel,
			Confidence: math.Min(0.95, factor/2),
			Start:      p.Timestamp,
			End:        rec.Timestamp,
			SessionIDs: []string{p.ID, rec.ID},
			Reason: fmt.Sprintf("%.0f km in %.0f min requires at least %.0f min of travel",
				distKm, elapsed, minTravelMin),
			Metadata: map[string]any{
				"distanceKm":          distKm,
				"elapsedMinutes":      elapsed,
				"minTravelMinutes":    minTravelMin,
				"impossibilityFactor": factor,
			},
		}
	}
	return worst
}

// minTravelMinutes returns the fastest plausible travel time for a distance.
func minTravelMinutes(distKm, maxSpeedKmh float64) float64 {
	var speed float64
	switch {
	case distKm < 50:
		speed = 60
	case distKm < 500:
		speed = 100
	default:
		speed = maxSpeedKmh
	}
	return distKm / speed * 60
}

// detectClusters runs k-means over the customer's historical coordinates and
// reports stable location clusters plus hotspots (dense small-radius
// clusters).
func (a *Analyzer) detectClusters(rec *session.Record, prior []*session.Record) []pattern.Pattern {
	points := make([]session.Coordinates, 0, len(prior))
	members := make([]*session.Record, 0, len(prior))
	for _, p := range prior {
		if p.HasLocation() {
			points = append(points, p.Location)
			members = append(members, p)
		}
	}
	if len(points) < 4 {
		return nil
	}

	k := len(points) / 3
	if k < 2 {
		k = 2
	}
	if k > 5 {
		k = 5
	}

	assignments, centroids := KMeans(points, k, a.cfg.Seed)

	var out []pattern.Pattern
	for c := 0; c < k; c++ {
		var clusterMembers []*session.Record
		for i, asg := range assignments {
			if asg == c {
				clusterMembers = append(clusterMembers, members[i])
			}
		}
		if len(clusterMembers) < 2 {
			continue
		}

		radius := 0.0
		first, last := clusterMembers[0].Timestamp, clusterMembers[0].Timestamp
		ids := make([]string, 0, len(clusterMembers))
		for _, m := range clusterMembers {
			if d := Haversine(m.Location, centroids[c]); d > radius {
				radius = d
			}
			if m.Timestamp.Before(first) {
				first = m.Timestamp
			}
			if m.Timestamp.After(last) {
				last = m.Timestamp
			}
			ids = append(ids, m.ID)
		}

		conf := clusterConfidence(len(clusterMembers), len(points), last.Sub(first))
		typ := pattern.TypeLocationCluster
		if len(clusterMembers) >= a.cfg.HotspotMinimum && radius <= a.cfg.HotspotRadiusKm {
			typ = pattern.TypeHotspot
		}
		out = append(out, pattern.Pattern{
			Type:       typ,
			Confidence: conf,
			Start:      first,
			End:        last,
			SessionIDs: ids,
			Reason:     fmt.Sprintf("%d sessions within %.1f km of (%.4f, %.4f)", len(clusterMembers), radius, centroids[c].Lat, centroids[c].Lon),
			Metadata: map[string]any{
				"centroidLat": centroids[c].Lat,
				"centroidLon": centroids[c].Lon,
				"radiusKm":    radius,
				"size":        len(clusterMembers),
			},
		})
	}
	return out
}

// clusterConfidence grows with cluster share of history and with the time
// span the cluster covers, capped at 0.9.
func clusterConfidence(size, total int, span time.Duration) float64 {
	share := float64(size) / float64(total)
	spanFactor := math.Min(0.3, span.Hours()/(24*30)*0.3)
	return math.Min(0.9, share*0.6+spanFactor+0.1)
}

// detectOutlier z-scores the session's mean distance to all historical
// sessions against the history's own pairwise distance profile.
func (a *Analyzer) detectOutlier(rec *session.Record, prior []*session.Record) *pattern.Pattern {
	var located []*session.Record
	for _, p := range prior {
		if p.HasLocation() {
			located = append(located, p)
		}
	}
	if len(located) < 5 {
		return nil
	}

	// Mean distance from each historical session to the others.
	meanDists := make([]float64, len(located))
	for i, p := range located {
		sum := 0.0
		for j, q := range located {
			if i != j {
				sum += Haversine(p.Location, q.Location)
			}
		}
		meanDists[i] = sum / float64(len(located)-1)
	}

	sum := 0.0
	for _, p := range located {
		sum += Haversine(rec.Location, p.Location)
	}
	current := sum / float64(len(located))

	mu := stats.Mean(meanDists)
	sigma := stats.StdDev(meanDists)
	if sigma == 0 {
		return nil
	}
	z := (current - mu) / sigma
	if math.Abs(z) <= a.cfg.OutlierZ {
		return nil
	}

	return &pattern.Pattern{
		Type:       pattern.TypeGeoOutlier,
		Confidence: math.Min(0.9, math.Abs(z)/5),
		Start:      rec.Timestamp,
		End:        rec.Timestamp,
		SessionIDs: []string{rec.ID},
		Reason:     fmt.Sprintf("session location %.1f standard deviations from customer's usual area", z),
		Metadata: map[string]any{
			"zScore":         z,
			"meanDistanceKm": current,
		},
	}
}

// detectGeofenceViolation flags sessions outside the business's registered
// service area. Severity scales with how far past the fence the session is.
func (a *Analyzer) detectGeofenceViolation(rec *session.Record) *pattern.Pattern {
	a.mu.RLock()
	fence, ok := a.fences[rec.BusinessID]
	a.mu.RUnlock()
	if !ok {
		return nil
	}

	dist := Haversine(rec.Location, fence.Center)
	if dist <= fence.RadiusKm {
		return nil
	}

	excess := (dist - fence.RadiusKm) / fence.RadiusKm
	return &pattern.Pattern{
		Type:       pattern.TypeGeofenceViolation,
		Confidence: math.Min(0.95, 0.5+excess*0.2),
		Start:      rec.Timestamp,
		End:        rec.Timestamp,
		SessionIDs: []string{rec.ID},
		Reason:     fmt.Sprintf("session %.1f km from business center, fence radius %.1f km", dist, fence.RadiusKm),
		Metadata: map[string]any{
			"distanceKm": dist,
			"radiusKm":   fence.RadiusKm,
		},
	}
}

// analysisConfidence reflects how much history backed the verdict.
func analysisConfidence(patterns []pattern.Pattern, historyLen int) float64 {
	base := math.Min(0.9, 0.3+float64(historyLen)/50*0.6)
	if len(patterns) == 0 {
		return base
	}
	max := 0.0
	for _, p := range patterns {
		if p.Confidence > max {
			max = p.Confidence
		}
	}
	return math.Min(0.95, (base+max)/2+0.2)
}
