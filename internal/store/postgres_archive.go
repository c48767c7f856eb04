package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/feedbackloop/sentinel/internal/pagination"
	"github.com/feedbackloop/sentinel/internal/pattern"
)

// PostgresArchive persists batch outputs and high-risk assessments
// durably, beyond the KV TTLs. Schema is managed by the goose migrations
// under migrations/.
type PostgresArchive struct {
	db *sql.DB
}

// NewPostgresArchive wraps an open database handle.
func NewPostgresArchive(db *sql.DB) *PostgresArchive {
	return &PostgresArchive{db: db}
}

// SaveBatch archives one batch analysis payload (correlation + forecast +
// audit sections, already marshaled by the pipeline).
func (p *PostgresArchive) SaveBatch(ctx context.Context, id string, sampleSize int, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal batch: %w", err)
	}
	_, err = p.db.ExecContext(ctx, `
		INSERT INTO batch_analyses (id, sample_size, payload, computed_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (id) DO NOTHING
	`, id, sampleSize, body)
	if err != nil {
		return fmt.Errorf("insert batch: %w", err)
	}
	return nil
}

// SaveForecast archives a business forecast run.
func (p *PostgresArchive) SaveForecast(ctx context.Context, id, businessID, metric string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal forecast: %w", err)
	}
	_, err = p.db.ExecContext(ctx, `
		INSERT INTO business_forecasts (id, business_id, metric, payload, generated_at)
		VALUES ($1, $2, $3, $4, NOW())
		ON CONFLICT (id) DO NOTHING
	`, id, businessID, metric, body)
	if err != nil {
		return fmt.Errorf("insert forecast: %w", err)
	}
	return nil
}

// SaveAssessment archives a per-session risk result. The pipeline only
// calls this for high and critical risk levels; the audit trail is for
// disputes, not analytics.
func (p *PostgresArchive) SaveAssessment(ctx context.Context, res *pattern.Result) error {
	body, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("marshal assessment: %w", err)
	}
	_, err = p.db.ExecContext(ctx, `
		INSERT INTO risk_assessments (
			id, session_id, customer_hash, business_id,
			anomaly_score, risk_level, payload, analyzed_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO NOTHING
	`, res.ID, res.SessionID, res.CustomerHash, res.BusinessID,
		res.AnomalyScore, string(res.RiskLevel), body, res.AnalyzedAt)
	if err != nil {
		return fmt.Errorf("insert assessment: %w", err)
	}
	return nil
}

// RecentAssessments returns the newest archived assessments for a
// business, most recent first. A non-nil cursor resumes a previous page
// using keyset pagination on (analyzed_at, id).
func (p *PostgresArchive) RecentAssessments(ctx context.Context, businessID string, limit int, before *pagination.Cursor) ([]*pattern.Result, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `
		SELECT payload FROM risk_assessments
		WHERE business_id = $1
		ORDER BY analyzed_at DESC, id DESC
		LIMIT $2
	`
	args := []any{businessID, limit}
	if before != nil {
		query = `
			SELECT payload FROM risk_assessments
			WHERE business_id = $1 AND (analyzed_at, id) < ($3, $4)
			ORDER BY analyzed_at DESC, id DESC
			LIMIT $2
		`
		args = append(args, before.CreatedAt, before.ID)
	}
	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query assessments: %w", err)
	}
	defer rows.Close()

	var out []*pattern.Result
	for rows.Next() {
		var body []byte
		if err := rows.Scan(&body); err != nil {
			return nil, fmt.Errorf("scan assessment: %w", err)
		}
		var res pattern.Result
		if err := json.Unmarshal(body, &res); err != nil {
			return nil, fmt.Errorf("unmarshal assessment: %w", err)
		}
		out = append(out, &res)
	}
	return out, rows.Err()
}

// PruneBatches deletes archived batches older than maxAge, returning the
// number removed.
func (p *PostgresArchive) PruneBatches(ctx context.Context, maxAge time.Duration) (int64, error) {
	res, err := p.db.ExecContext(ctx, `
		DELETE FROM batch_analyses WHERE computed_at < NOW() - $1::INTERVAL
	`, fmt.Sprintf("%d seconds", int(maxAge.Seconds())))
	if err != nil {
		return 0, fmt.Errorf("prune batches: %w", err)
	}
	return res.RowsAffected()
}

func (p *PostgresArchive) Ping(ctx context.Context) error {
	return p.db.PingContext(ctx)
}

func (p *PostgresArchive) Close() error {
	return p.db.Close()
}
