// Package session defines the feedback-session input record and the
// data-quality gate every record must pass before analysis.
//
// A session is one customer feedback event captured at a business location:
// who (hashed), where, when, plus the quality metadata supplied by the
// upstream evaluation and telemetry services. Records are immutable after
// ingestion; analyzers only ever read them.
package session

import (
	"errors"
	"time"
)

// ErrInvalidSession is returned when a record fails the quality gate.
// Failed records are rejected outright, never retried.
var ErrInvalidSession = errors.New("session: invalid record")

// Coordinates is a WGS84 point.
type Coordinates struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Record is a single feedback session as received from the session service.
// Fields are populated by external collaborators: quality score and
// transcript length come from the AI evaluation service, location and device
// fingerprint from client telemetry, transaction amount from POS integration.
type Record struct {
	ID                string      `json:"id"`
	CustomerHash      string      `json:"customerHash"`
	BusinessID        string      `json:"businessId"`
	LocationID        string      `json:"locationId"`
	Timestamp         time.Time   `json:"timestamp"`
	Location          Coordinates `json:"location"`
	QualityScore      float64     `json:"qualityScore"`      // 0-100 from AI evaluation
	TranscriptLength  int         `json:"transcriptLength"`  // characters
	AudioDuration     float64     `json:"audioDurationSeconds"`
	TransactionAmount float64     `json:"transactionAmount"`
	DeviceFingerprint string      `json:"deviceFingerprint"`

	// TranscriptionConfidence is optional; 0 means not reported.
	TranscriptionConfidence float64 `json:"transcriptionConfidence,omitempty"`
}

// HasLocation reports whether the record carries usable coordinates.
// (0,0) is treated as missing; it is in the Gulf of Guinea, not a venue.
func (r *Record) HasLocation() bool {
	return r.Location.Lat != 0 || r.Location.Lon != 0
}
