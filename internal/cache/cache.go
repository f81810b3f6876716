// Package cache stores the most recent network analysis report in Redis so
// the read API can serve it without waiting for the next analysis cycle.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/aegisiot/sentinel/internal/models"
)

const networkReportKey = "sentinel:network:latest"

// ErrNoReport indicates no report has been cached yet, or the cached one
// expired.
var ErrNoReport = errors.New("no network report cached")

// ReportCache keeps the latest network report with a TTL.
type ReportCache struct {
	redis *redis.Client
	ttl   time.Duration
}

// New creates a ReportCache backed by the given Redis client.
func New(redisClient *redis.Client, ttl time.Duration) *ReportCache {
	return &ReportCache{
		redis: redisClient,
		ttl:   ttl,
	}
}

// Ping verifies the Redis connection.
func (c *ReportCache) Ping(ctx context.Context) error {
	return c.redis.Ping(ctx).Err()
}

// SetNetworkReport stores the report, replacing any previous one.
func (c *ReportCache) SetNetworkReport(ctx context.Context, report *models.NetworkReport) error {
	data, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("failed to marshal network report: %w", err)
	}

	if err := c.redis.Set(ctx, networkReportKey, data, c.ttl).Err(); err != nil {
		return fmt.Errorf("failed to store network report: %w", err)
	}
	return nil
}

// GetNetworkReport returns the most recently cached report, or ErrNoReport.
func (c *ReportCache) GetNetworkReport(ctx context.Context) (*models.NetworkReport, error) {
	data, err := c.redis.Get(ctx, networkReportKey).Result()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNoReport
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get network report: %w", err)
	}

	var report models.NetworkReport
	if err := json.Unmarshal([]byte(data), &report); err != nil {
		return nil, fmt.Errorf("failed to unmarshal network report: %w", err)
	}
	return &report, nil
}

// Close releases the Redis client.
func (c *ReportCache) Close() error {
	return c.redis.Close()
}
