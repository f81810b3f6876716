package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/aegisiot/sentinel/internal/models"
)

// PostgresRepository implements Repository using PostgreSQL.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository creates a new PostgreSQL repository.
func NewPostgresRepository(ctx context.Context, connString string) (*PostgresRepository, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}

	// Connection pool configuration
	config.MaxConns = 25
	config.MinConns = 5
	config.MaxConnLifetime = 5 * time.Minute
	config.MaxConnIdleTime = 1 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	// Test connection
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &PostgresRepository{pool: pool}, nil
}

const insertQuery = `
	INSERT INTO detections (
		event_id, device_id, device_type, is_anomaly, confidence_score,
		risk_score, threat_type, threat_severity, explanation, model_votes,
		recommended_actions, shap_explanation, top_contributing_factors,
		raw_telemetry, created_at
	)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
`

// InsertBatch writes all given detections as one pipelined batch.
func (r *PostgresRepository) InsertBatch(ctx context.Context, detections []*models.Detection) error {
	if len(detections) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, d := range detections {
		votes, err := marshalOrNull(d.ModelVotes)
		if err != nil {
			return fmt.Errorf("marshal model votes: %w", err)
		}
		actions, err := marshalOrNull(d.RecommendedActions)
		if err != nil {
			return fmt.Errorf("marshal recommended actions: %w", err)
		}
		raw, err := marshalOrNull(d.RawTelemetry)
		if err != nil {
			return fmt.Errorf("marshal raw telemetry: %w", err)
		}

		batch.Queue(insertQuery,
			d.EventID, d.DeviceID, d.DeviceType, d.IsAnomaly, d.ConfidenceScore,
			d.RiskScore, d.ThreatType, d.ThreatSeverity, d.Explanation, votes,
			actions, rawJSONOrNull(d.ShapExplanation), rawJSONOrNull(d.ContributingFactors),
			raw, d.CreatedAt,
		)
	}

	results := r.pool.SendBatch(ctx, batch)
	defer results.Close()

	for range detections {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("failed to insert detection batch: %w", err)
		}
	}

	return nil
}

// List returns detections matching the filter, newest first.
func (r *PostgresRepository) List(ctx context.Context, filter *models.DetectionFilter) ([]*models.Detection, error) {
	whereClause := "WHERE 1=1"
	args := []interface{}{}
	argPos := 1

	if filter.DeviceID != "" {
		whereClause += fmt.Sprintf(" AND device_id = $%d", argPos)
		args = append(args, filter.DeviceID)
		argPos++
	}
	if filter.Severity != "" {
		whereClause += fmt.Sprintf(" AND threat_severity = $%d", argPos)
		args = append(args, filter.Severity)
		argPos++
	}
	if filter.IsAnomaly != nil {
		whereClause += fmt.Sprintf(" AND is_anomaly = $%d", argPos)
		args = append(args, *filter.IsAnomaly)
		argPos++
	}
	if filter.From != nil {
		whereClause += fmt.Sprintf(" AND created_at >= $%d", argPos)
		args = append(args, *filter.From)
		argPos++
	}
	if filter.To != nil {
		whereClause += fmt.Sprintf(" AND created_at < $%d", argPos)
		args = append(args, *filter.To)
		argPos++
	}

	limit := filter.Limit
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	args = append(args, limit)

	query := fmt.Sprintf(`
		SELECT
			id, event_id, device_id, device_type, is_anomaly, confidence_score,
			risk_score, threat_type, threat_severity, explanation, model_votes,
			recommended_actions, shap_explanation, top_contributing_factors,
			raw_telemetry, created_at
		FROM detections
		%s
		ORDER BY created_at DESC
		LIMIT $%d
	`, whereClause, argPos)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list detections: %w", err)
	}
	defer rows.Close()

	detections := []*models.Detection{}
	for rows.Next() {
		d, err := scanDetection(rows)
		if err != nil {
			return nil, err
		}
		detections = append(detections, d)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}

	return detections, nil
}

// Stats aggregates detections created since the given time.
func (r *PostgresRepository) Stats(ctx context.Context, since time.Time) (*models.DetectionStats, error) {
	stats := &models.DetectionStats{BySeverity: map[string]int64{}}

	err := r.pool.QueryRow(ctx, `
		SELECT COUNT(*), COUNT(*) FILTER (WHERE is_anomaly)
		FROM detections
		WHERE created_at >= $1
	`, since).Scan(&stats.Total, &stats.Anomalies)
	if err != nil {
		return nil, fmt.Errorf("failed to count detections: %w", err)
	}

	rows, err := r.pool.Query(ctx, `
		SELECT threat_severity, COUNT(*)
		FROM detections
		WHERE created_at >= $1
		GROUP BY threat_severity
	`, since)
	if err != nil {
		return nil, fmt.Errorf("failed to count by severity: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var severity string
		var count int64
		if err := rows.Scan(&severity, &count); err != nil {
			return nil, fmt.Errorf("failed to scan severity count: %w", err)
		}
		stats.BySeverity[severity] = count
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}

	return stats, nil
}

// DeleteOlderThan removes detections created before the cutoff.
func (r *PostgresRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := r.pool.Exec(ctx, "DELETE FROM detections WHERE created_at < $1", cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired detections: %w", err)
	}
	return result.RowsAffected(), nil
}

// Ping verifies database connectivity.
func (r *PostgresRepository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

// Close closes the database connection pool.
func (r *PostgresRepository) Close() error {
	r.pool.Close()
	return nil
}

func scanDetection(rows pgx.Rows) (*models.Detection, error) {
	d := &models.Detection{}
	var votes, actions, shap, factors, raw []byte

	if err := rows.Scan(
		&d.ID, &d.EventID, &d.DeviceID, &d.DeviceType, &d.IsAnomaly, &d.ConfidenceScore,
		&d.RiskScore, &d.ThreatType, &d.ThreatSeverity, &d.Explanation, &votes,
		&actions, &shap, &factors, &raw, &d.CreatedAt,
	); err != nil {
		return nil, fmt.Errorf("failed to scan detection: %w", err)
	}

	if len(votes) > 0 {
		if err := json.Unmarshal(votes, &d.ModelVotes); err != nil {
			return nil, fmt.Errorf("decode model votes: %w", err)
		}
	}
	if len(actions) > 0 {
		if err := json.Unmarshal(actions, &d.RecommendedActions); err != nil {
			return nil, fmt.Errorf("decode recommended actions: %w", err)
		}
	}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &d.RawTelemetry); err != nil {
			return nil, fmt.Errorf("decode raw telemetry: %w", err)
		}
	}
	d.ShapExplanation = json.RawMessage(shap)
	d.ContributingFactors = json.RawMessage(factors)

	return d, nil
}

// marshalOrNull serializes v to a JSON string, or NULL when v is nil.
func marshalOrNull(v interface{}) (*string, error) {
	if v == nil {
		return nil, nil
	}
	buf, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	s := string(buf)
	return &s, nil
}

func rawJSONOrNull(raw json.RawMessage) *string {
	if len(raw) == 0 {
		return nil
	}
	s := string(raw)
	return &s
}
