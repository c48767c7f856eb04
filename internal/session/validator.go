package session

import (
	"fmt"
	"strings"
	"time"
)

// Default gate thresholds.
const (
	DefaultMinAudioSeconds     = 3.0
	DefaultMinTranscriptLength = 20

	// defaultAccuracy stands in for transcription confidence when the
	// upstream service did not report one.
	defaultAccuracy = 0.85

	// charsPerSecond approximates conversational speech at ~180 wpm with
	// 5 characters per word. Used for the duration consistency check.
	charsPerSecond = 15.0
)

// QualityMetrics describes how trustworthy a record's fields are.
// Emitted alongside validation so downstream confidence can be weighted.
type QualityMetrics struct {
	Completeness float64 `json:"completeness"` // fraction of required fields present
	Accuracy     float64 `json:"accuracy"`     // transcription confidence or default
	Consistency  float64 `json:"consistency"`  // declared vs implied duration agreement
	Timeliness   float64 `json:"timeliness"`   // decays with record age
}

// Overall is the mean of the four quality dimensions.
func (m QualityMetrics) Overall() float64 {
	return (m.Completeness + m.Accuracy + m.Consistency + m.Timeliness) / 4
}

// Validator is the data-quality gate for incoming records.
type Validator struct {
	minAudioSeconds     float64
	minTranscriptLength int
}

// NewValidator creates a validator with the given gates. Zero values fall
// back to the package defaults.
func NewValidator(minAudioSeconds float64, minTranscriptLength int) *Validator {
	v := &Validator{
		minAudioSeconds:     minAudioSeconds,
		minTranscriptLength: minTranscriptLength,
	}
	if v.minAudioSeconds <= 0 {
		v.minAudioSeconds = DefaultMinAudioSeconds
	}
	if v.minTranscriptLength <= 0 {
		v.minTranscriptLength = DefaultMinTranscriptLength
	}
	return v
}

// Validate rejects records missing required fields or below the minimum
// duration/transcript gates. The returned error wraps ErrInvalidSession;
// callers must not retry a rejected record.
func (v *Validator) Validate(r *Record) error {
	if missing := v.missingFields(r); len(missing) > 0 {
		return fmt.Errorf("%w: missing fields: %s", ErrInvalidSession, strings.Join(missing, ", "))
	}
	if r.AudioDuration < v.minAudioSeconds {
		return fmt.Errorf("%w: audio duration %.1fs below minimum %.1fs",
			ErrInvalidSession, r.AudioDuration, v.minAudioSeconds)
	}
	if r.TranscriptLength < v.minTranscriptLength {
		return fmt.Errorf("%w: transcript length %d below minimum %d",
			ErrInvalidSession, r.TranscriptLength, v.minTranscriptLength)
	}
	return nil
}

// Quality computes the data-quality metrics for a record. It does not gate:
// even a rejected record can be scored for reporting.
func (v *Validator) Quality(r *Record, now time.Time) QualityMetrics {
	return QualityMetrics{
		Completeness: v.completeness(r),
		Accuracy:     v.accuracy(r),
		Consistency:  v.consistency(r),
		Timeliness:   v.timeliness(r, now),
	}
}

func (v *Validator) missingFields(r *Record) []string {
	var missing []string
	if r.ID == "" {
		missing = append(missing, "id")
	}
	if r.CustomerHash == "" {
		missing = append(missing, "customerHash")
	}
	if r.BusinessID == "" {
		missing = append(missing, "businessId")
	}
	if r.LocationID == "" {
		missing = append(missing, "locationId")
	}
	if r.Timestamp.IsZero() {
		missing = append(missing, "timestamp")
	}
	return missing
}

// completeness counts present fields across the full tracked set, not just
// the required ones, so partially-populated records score below 1.0 even
// when they pass the gate.
func (v *Validator) completeness(r *Record) float64 {
	present := 0
	total := 9
	if r.ID != "" {
		present++
	}
	if r.CustomerHash != "" {
		present++
	}
	if r.BusinessID != "" {
		present++
	}
	if r.LocationID != "" {
		present++
	}
	if !r.Timestamp.IsZero() {
		present++
	}
	if r.HasLocation() {
		present++
	}
	if r.TranscriptLength > 0 {
		present++
	}
	if r.AudioDuration > 0 {
		present++
	}
	if r.DeviceFingerprint != "" {
		present++
	}
	return float64(present) / float64(total)
}

func (v *Validator) accuracy(r *Record) float64 {
	if r.TranscriptionConfidence > 0 {
		return r.TranscriptionConfidence
	}
	return defaultAccuracy
}

// consistency flags records whose declared audio duration and
// transcript-implied duration diverge by more than 50%.
func (v *Validator) consistency(r *Record) float64 {
	if r.AudioDuration <= 0 || r.TranscriptLength <= 0 {
		return 1.0 // nothing to compare
	}
	implied := float64(r.TranscriptLength) / charsPerSecond
	longer := r.AudioDuration
	shorter := implied
	if shorter > longer {
		longer, shorter = shorter, longer
	}
	if shorter/longer < 0.5 {
		return 0.5
	}
	return 1.0
}

// timeliness decays from 1.0 to 0.4 as the record ages past an hour, a day,
// and a week.
func (v *Validator) timeliness(r *Record, now time.Time) float64 {
	age := now.Sub(r.Timestamp)
	switch {
	case age <= time.Hour:
		return 1.0
	case age <= 24*time.Hour:
		return 0.8
	case age <= 7*24*time.Hour:
		return 0.6
	default:
		return 0.4
	}
}
