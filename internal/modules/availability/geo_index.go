// README: Redis GEO mirror of available driver positions.
package availability

import (
	"context"

	"github.com/redis/go-redis/v9"

	"ridecore/internal/types"
)

const driverGeoKey = "drivers:geo"

// RedisGeoIndex keeps available drivers in a Redis GEO set so operators can
// query who is online near a point without scanning the drivers table.
type RedisGeoIndex struct {
	redis *redis.Client
	key   string
}

func NewRedisGeoIndex(client *redis.Client) *RedisGeoIndex {
	return &RedisGeoIndex{redis: client, key: driverGeoKey}
}

func (g *RedisGeoIndex) Add(ctx context.Context, id types.ID, p types.Point) error {
	return g.redis.GeoAdd(ctx, g.key, &redis.GeoLocation{
		Name:      string(id),
		Longitude: p.Lng,
		Latitude:  p.Lat,
	}).Err()
}

func (g *RedisGeoIndex) Remove(ctx context.Context, id types.ID) error {
	return g.redis.ZRem(ctx, g.key, string(id)).Err()
}

// Nearby returns driver ids within radiusKm of p, nearest first.
func (g *RedisGeoIndex) Nearby(ctx context.Context, p types.Point, radiusKm float64) ([]types.ID, error) {
	results, err := g.redis.GeoSearch(ctx, g.key, &redis.GeoSearchQuery{
		Longitude:  p.Lng,
		Latitude:   p.Lat,
		Radius:     radiusKm,
		RadiusUnit: "km",
		Sort:       "ASC",
	}).Result()
	if err != nil {
		return nil, err
	}
	ids := make([]types.ID, len(results))
	for i, r := range results {
		ids[i] = types.ID(r)
	}
	return ids, nil
}
