package settings

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/dramac-main/dramac-booking/services/booking-service/internal/model"
)

// Cache is a read-through Redis cache for per-site booking settings. Settings
// are read on every slot listing and booking attempt, so a short TTL plus
// event-driven invalidation keeps Postgres off the hot path. All methods
// degrade gracefully: a broken cache never fails the request.
type Cache struct {
	rdb    *redis.Client
	ttl    time.Duration
	logger *slog.Logger
}

func NewCache(rdb *redis.Client, ttl time.Duration, logger *slog.Logger) *Cache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Cache{rdb: rdb, ttl: ttl, logger: logger}
}

func key(siteID string) string {
	return "site_settings:" + siteID
}

func (c *Cache) Get(ctx context.Context, siteID string) (model.SiteSettings, bool) {
	if c == nil || c.rdb == nil {
		return model.SiteSettings{}, false
	}
	raw, err := c.rdb.Get(ctx, key(siteID)).Bytes()
	if err != nil {
		if err != redis.Nil && c.logger != nil {
			c.logger.Warn("settings cache read failed", "err", err)
		}
		return model.SiteSettings{}, false
	}
	var st model.SiteSettings
	if err := json.Unmarshal(raw, &st); err != nil {
		return model.SiteSettings{}, false
	}
	return st, true
}

func (c *Cache) Put(ctx context.Context, st model.SiteSettings) {
	if c == nil || c.rdb == nil {
		return
	}
	raw, err := json.Marshal(st)
	if err != nil {
		return
	}
	if err := c.rdb.Set(ctx, key(st.SiteID), raw, c.ttl).Err(); err != nil && c.logger != nil {
		c.logger.Warn("settings cache write failed", "err", err)
	}
}

func (c *Cache) Invalidate(ctx context.Context, siteID string) error {
	if c == nil || c.rdb == nil {
		return nil
	}
	return c.rdb.Del(ctx, key(siteID)).Err()
}
