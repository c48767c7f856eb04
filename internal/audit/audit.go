// Package audit validates the detection stack statistically: it classifies
// sample distributions, finds outliers by multi-method consensus, runs
// significance tests against historical baselines, cross-validates the
// detector itself, audits the false-positive rate on synthetic data, and
// bootstraps confidence intervals.
//
// Nothing here blocks the ingest path; the pipeline runs audits during
// batch passes and attaches the report to the batch output.
package audit

import (
	"errors"
	"log/slog"
)

var ErrSampleTooSmall = errors.New("audit: sample too small")

// minSample is the fewest values any audit pass accepts.
const minSample = 8

// Config holds the validator thresholds.
type Config struct {
	ZThreshold         float64 // z-score outlier cutoff
	ModifiedZThreshold float64 // modified z-score (MAD) cutoff
	IQRMultiplier      float64 // fence width in IQRs
	IsolationRatio     float64 // avg/max distance ratio cutoff
	ConsensusMinimum   int     // methods that must agree
	MaxOutlierRate     float64 // consensus rate above which data is suspect
	Alpha              float64 // significance level
	TargetFPR          float64 // acceptable false-positive rate
	BootstrapRounds    int
	Folds              int
	Seed               int64
}

func (c Config) withDefaults() Config {
	if c.ZThreshold <= 0 {
		c.ZThreshold = 3.0
	}
	if c.ModifiedZThreshold <= 0 {
		c.ModifiedZThreshold = 3.5
	}
	if c.IQRMultiplier <= 0 {
		c.IQRMultiplier = 1.5
	}
	if c.IsolationRatio <= 0 {
		c.IsolationRatio = 0.75
	}
	if c.ConsensusMinimum <= 0 {
		c.ConsensusMinimum = 2
	}
	if c.MaxOutlierRate <= 0 {
		c.MaxOutlierRate = 0.10
	}
	if c.Alpha <= 0 {
		c.Alpha = 0.05
	}
	if c.TargetFPR <= 0 {
		c.TargetFPR = 0.05
	}
	if c.BootstrapRounds <= 0 {
		c.BootstrapRounds = 1000
	}
	if c.Folds <= 0 {
		c.Folds = 5
	}
	if c.Seed == 0 {
		c.Seed = 1
	}
	return c
}

// Validator runs the statistical audit battery. Stateless; safe for
// concurrent use.
type Validator struct {
	cfg    Config
	logger *slog.Logger
}

// NewValidator creates a validator.
func NewValidator(cfg Config, logger *slog.Logger) *Validator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Validator{cfg: cfg.withDefaults(), logger: logger}
}

// Report bundles every audit section for one sample. Sections that could
// not run are nil.
type Report struct {
	Distribution  *DistributionSummary `json:"distribution,omitempty"`
	Outliers      *OutlierReport       `json:"outliers,omitempty"`
	Significance  *SignificanceReport  `json:"significance,omitempty"`
	DetectorCV    *DetectorCV          `json:"detectorCv,omitempty"`
	FalsePositive *FPAudit             `json:"falsePositive,omitempty"`
	Bootstrap     *BootstrapReport     `json:"bootstrap,omitempty"`
	SampleSize    int                  `json:"sampleSize"`
}

// Run executes every section that the sample supports. Historical values
// feed the significance battery and may be nil.
func (v *Validator) Run(values, historical []float64) (*Report, error) {
	if len(values) < minSample {
		return nil, ErrSampleTooSmall
	}
	report := &Report{SampleSize: len(values)}
	report.Distribution = v.AnalyzeDistribution(values)
	report.Outliers = v.DetectOutliers(values)
	if len(historical) > 0 {
		report.Significance = v.TestSignificance(values, historical)
	}
	if cv, err := v.CrossValidateDetector(values); err != nil {
		v.logger.Warn("detector cross-validation skipped", "error", err)
	} else {
		report.DetectorCV = cv
	}
	if fp, err := v.AuditFalsePositives(values, 500); err != nil {
		v.logger.Warn("false-positive audit skipped", "error", err)
	} else {
		report.FalsePositive = fp
	}
	report.Bootstrap = v.BootstrapCI(values)
	return report, nil
}
