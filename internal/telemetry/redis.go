package telemetry

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"smartgarden/internal/models"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "telemetry:"

// RedisSource stores readings as one hash per device so every engine
// instance sees the same snapshot
type RedisSource struct {
	client redis.UniversalClient
	ttl    time.Duration
}

// NewRedisSource creates a Redis backed source. Readings of a device that
// stays silent for ttl are dropped; ttl 0 keeps them forever.
func NewRedisSource(client redis.UniversalClient, ttl time.Duration) *RedisSource {
	return &RedisSource{client: client, ttl: ttl}
}

func key(deviceID string) string { return keyPrefix + deviceID }

// Snapshot returns the latest readings of deviceID
func (r *RedisSource) Snapshot(ctx context.Context, deviceID string) (models.SensorSnapshot, error) {
	raw, err := r.client.HGetAll(ctx, key(deviceID)).Result()
	if err != nil {
		return nil, fmt.Errorf("telemetry: read %s: %w", deviceID, err)
	}
	return decode(raw), nil
}

// Update merges snap into the readings of deviceID
func (r *RedisSource) Update(ctx context.Context, deviceID string, snap models.SensorSnapshot) (models.SensorSnapshot, error) {
	k := key(deviceID)
	var all *redis.MapStringStringCmd
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		if len(snap) > 0 {
			fields := make(map[string]any, len(snap))
			for sensor, v := range snap {
				fields[sensor] = strconv.FormatFloat(v, 'f', -1, 64)
			}
			pipe.HSet(ctx, k, fields)
			if r.ttl > 0 {
				pipe.Expire(ctx, k, r.ttl)
			}
		}
		all = pipe.HGetAll(ctx, k)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("telemetry: update %s: %w", deviceID, err)
	}
	return decode(all.Val()), nil
}

func decode(raw map[string]string) models.SensorSnapshot {
	snap := make(models.SensorSnapshot, len(raw))
	for sensor, s := range raw {
		if v, err := strconv.ParseFloat(s, 64); err == nil {
			snap[sensor] = v
		}
	}
	return snap
}
