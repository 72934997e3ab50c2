package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Dan9191/underwriting-service/internal/models"
	"github.com/redis/go-redis/v9"
)

// ErrCacheMiss is returned when a key is not cached
var ErrCacheMiss = errors.New("cache miss")

const keyPrefix = "underwriting:analysis"

// NewRedisClient connects to Redis and verifies the connection
func NewRedisClient(ctx context.Context, addr, password string) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       0,
	})

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", addr, err)
	}
	return client, nil
}

// AnalysisCache keeps recently computed analyses in Redis
type AnalysisCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewAnalysisCache wraps a Redis client. A zero ttl keeps entries until they are replaced.
func NewAnalysisCache(client *redis.Client, ttl time.Duration) *AnalysisCache {
	return &AnalysisCache{client: client, ttl: ttl}
}

func latestKey(merchantID int64) string {
	return fmt.Sprintf("%s:%d:latest", keyPrefix, merchantID)
}

func reportKey(merchantID int64, reportID string) string {
	return fmt.Sprintf("%s:%d:report:%s", keyPrefix, merchantID, reportID)
}

// GetLatest returns the cached latest analysis for a merchant
func (c *AnalysisCache) GetLatest(ctx context.Context, merchantID int64) (*models.UnderwritingAnalysis, error) {
	return c.get(ctx, latestKey(merchantID))
}

// GetByReport returns the cached analysis of one asset report
func (c *AnalysisCache) GetByReport(ctx context.Context, merchantID int64, reportID string) (*models.UnderwritingAnalysis, error) {
	return c.get(ctx, reportKey(merchantID, reportID))
}

// StoreReport caches an analysis under its report key
func (c *AnalysisCache) StoreReport(ctx context.Context, a *models.UnderwritingAnalysis) error {
	payload, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("failed to encode analysis: %w", err)
	}
	if err := c.client.Set(ctx, reportKey(a.MerchantID, a.AssetReportID), payload, c.ttl).Err(); err != nil {
		return fmt.Errorf("failed to cache analysis: %w", err)
	}
	return nil
}

// StoreLatest caches an analysis under its report key and as the merchant's latest
func (c *AnalysisCache) StoreLatest(ctx context.Context, a *models.UnderwritingAnalysis) error {
	payload, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("failed to encode analysis: %w", err)
	}

	pipe := c.client.TxPipeline()
	pipe.Set(ctx, reportKey(a.MerchantID, a.AssetReportID), payload, c.ttl)
	pipe.Set(ctx, latestKey(a.MerchantID), payload, c.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to cache analysis: %w", err)
	}
	return nil
}

// InvalidateLatest drops the cached latest analysis of a merchant
func (c *AnalysisCache) InvalidateLatest(ctx context.Context, merchantID int64) error {
	if err := c.client.Del(ctx, latestKey(merchantID)).Err(); err != nil {
		return fmt.Errorf("failed to invalidate cache: %w", err)
	}
	return nil
}

func (c *AnalysisCache) get(ctx context.Context, key string) (*models.UnderwritingAnalysis, error) {
	val, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrCacheMiss
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read cache: %w", err)
	}

	a := &models.UnderwritingAnalysis{}
	if err := json.Unmarshal(val, a); err != nil {
		return nil, fmt.Errorf("failed to decode cached analysis: %w", err)
	}
	return a, nil
}
