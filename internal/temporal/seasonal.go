package temporal

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/feedbackloop/sentinel/internal/history"
	"github.com/feedbackloop/sentinel/internal/stats"
)

// MinSeasonalSamples is how many sessions a business needs before a
// seasonal profile is learned.
const MinSeasonalSamples = 50

// SeasonalPattern is a business's learned activity profile: which hours,
// weekdays and months carry at-or-above-average volume. Rebuilt
// periodically, overwritten in place.
type SeasonalPattern struct {
	BusinessID    string         `json:"businessId"`
	Hours         map[int]bool   `json:"hours"`  // 0-23
	Days          map[int]bool   `json:"days"`   // time.Weekday
	Months        map[int]bool   `json:"months"` // 1-12
	AvgDailyCount float64        `json:"avgDailyCount"`
	DailyVariance float64        `json:"dailyVariance"`
	SampleSize    int            `json:"sampleSize"`
	UpdatedAt     time.Time      `json:"updatedAt"`
}

// TypicalHour reports whether h is in the business's usual hours.
func (p *SeasonalPattern) TypicalHour(h int) bool { return p.Hours[h] }

// TypicalDay reports whether d is in the business's usual weekdays.
func (p *SeasonalPattern) TypicalDay(d time.Weekday) bool { return p.Days[int(d)] }

// TypicalMonth reports whether m is in the business's usual months.
func (p *SeasonalPattern) TypicalMonth(m time.Month) bool { return p.Months[int(m)] }

// SeasonalStore persists learned seasonal profiles.
type SeasonalStore interface {
	Get(ctx context.Context, businessID string) (*SeasonalPattern, error)
	Put(ctx context.Context, profile *SeasonalPattern) error
}

// MemorySeasonalStore is the in-process SeasonalStore.
type MemorySeasonalStore struct {
	mu       sync.RWMutex
	profiles map[string]*SeasonalPattern
}

// NewMemorySeasonalStore creates an in-memory seasonal profile store.
func NewMemorySeasonalStore() *MemorySeasonalStore {
	return &MemorySeasonalStore{profiles: make(map[string]*SeasonalPattern)}
}

// Get returns the profile for a business, or nil if none is learned yet.
func (s *MemorySeasonalStore) Get(ctx context.Context, businessID string) (*SeasonalPattern, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.profiles[businessID], nil
}

// Put overwrites the business's profile.
func (s *MemorySeasonalStore) Put(ctx context.Context, profile *SeasonalPattern) error {
	s.mu.Lock()
	s.profiles[profile.BusinessID] = profile
	s.mu.Unlock()
	return nil
}

// BuildSeasonalPattern learns a profile from a business's session timestamps.
// Returns nil when there are fewer than MinSeasonalSamples observations.
func BuildSeasonalPattern(businessID string, timestamps []time.Time) *SeasonalPattern {
	if len(timestamps) < MinSeasonalSamples {
		return nil
	}

	hourCounts := make(map[int]float64)
	dayCounts := make(map[int]float64)
	monthCounts := make(map[int]float64)
	dailyCounts := make(map[string]float64)
	for _, ts := range timestamps {
		hourCounts[ts.Hour()]++
		dayCounts[int(ts.Weekday())]++
		monthCounts[int(ts.Month())]++
		dailyCounts[ts.Format("2006-01-02")]++
	}

	daily := make([]float64, 0, len(dailyCounts))
	for _, c := range dailyCounts {
		daily = append(daily, c)
	}

	return &SeasonalPattern{
		BusinessID:    businessID,
		Hours:         atOrAboveMean(hourCounts),
		Days:          atOrAboveMean(dayCounts),
		Months:        atOrAboveMean(monthCounts),
		AvgDailyCount: stats.Mean(daily),
		DailyVariance: stats.PopVariance(daily),
		SampleSize:    len(timestamps),
		UpdatedAt:     time.Now(),
	}
}

// atOrAboveMean keeps the buckets whose count reaches the mean count of the
// observed buckets.
func atOrAboveMean(counts map[int]float64) map[int]bool {
	if len(counts) == 0 {
		return map[int]bool{}
	}
	sum := 0.0
	for _, c := range counts {
		sum += c
	}
	mean := sum / float64(len(counts))
	typical := make(map[int]bool, len(counts))
	for k, c := range counts {
		if c >= mean {
			typical[k] = true
		}
	}
	return typical
}

// Rebuilder periodically relearns seasonal profiles for every business with
// enough history. Runs off the ingest path.
type Rebuilder struct {
	businesses history.Store // keyed by business ID
	store      SeasonalStore
	logger     *slog.Logger
	interval   time.Duration
	stop       chan struct{}
	running    atomic.Bool
}

// NewRebuilder creates a seasonal profile rebuild worker.
func NewRebuilder(businesses history.Store, store SeasonalStore, interval time.Duration, logger *slog.Logger) *Rebuilder {
	if interval <= 0 {
		interval = time.Hour
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Rebuilder{
		businesses: businesses,
		store:      store,
		logger:     logger,
		interval:   interval,
		stop:       make(chan struct{}),
	}
}

// Running reports whether the rebuild loop is active.
func (r *Rebuilder) Running() bool { return r.running.Load() }

// Start runs an immediate rebuild pass, then repeats on the interval until
// ctx is done or Stop is called.
func (r *Rebuilder) Start(ctx context.Context) {
	r.running.Store(true)
	defer r.running.Store(false)

	r.safeRebuild(ctx)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-r.stop:
			return
		case <-ticker.C:
			r.safeRebuild(ctx)
		}
	}
}

// Stop signals the rebuild loop to exit.
func (r *Rebuilder) Stop() {
	select {
	case r.stop <- struct{}{}:
	default:
	}
}

func (r *Rebuilder) safeRebuild(ctx context.Context) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("panic in seasonal rebuild", "panic", fmt.Sprint(rec))
		}
	}()
	r.RebuildAll(ctx)
}

// RebuildAll relearns the profile for every business with enough history.
func (r *Rebuilder) RebuildAll(ctx context.Context) {
	keys, err := r.businesses.Keys(ctx)
	if err != nil {
		r.logger.Error("seasonal rebuild: list businesses", "error", err)
		return
	}

	rebuilt := 0
	for _, businessID := range keys {
		recs, err := r.businesses.Recent(ctx, businessID, 0)
		if err != nil {
			r.logger.Warn("seasonal rebuild: load history", "business", businessID, "error", err)
			continue
		}
		timestamps := make([]time.Time, len(recs))
		for i, rec := range recs {
			timestamps[i] = rec.Timestamp
		}
		profile := BuildSeasonalPattern(businessID, timestamps)
		if profile == nil {
			continue
		}
		if err := r.store.Put(ctx, profile); err != nil {
			r.logger.Warn("seasonal rebuild: save profile", "business", businessID, "error", err)
			continue
		}
		rebuilt++
	}
	if rebuilt > 0 {
		r.logger.Info("seasonal profiles rebuilt", "businesses", rebuilt)
	}
}
