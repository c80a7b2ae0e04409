// README: Redis GEO index over live drivers' pickup points.
package availability

import (
	"context"

	"github.com/redis/go-redis/v9"

	"campuspool/internal/types"
)

const DefaultGeoKey = "availability:drivers"

type RedisGeoIndex struct {
	redis *redis.Client
	key   string
}

func NewRedisGeoIndex(client *redis.Client, key string) *RedisGeoIndex {
	if key == "" {
		key = DefaultGeoKey
	}
	return &RedisGeoIndex{redis: client, key: key}
}

func (g *RedisGeoIndex) Add(ctx context.Context, driverID types.ID, p types.Point) error {
	return g.redis.GeoAdd(ctx, g.key, &redis.GeoLocation{
		Name:      string(driverID),
		Longitude: p.Lng,
		Latitude:  p.Lat,
	}).Err()
}

func (g *RedisGeoIndex) Remove(ctx context.Context, driverIDs ...types.ID) error {
	if len(driverIDs) == 0 {
		return nil
	}
	members := make([]interface{}, len(driverIDs))
	for i, id := range driverIDs {
		members[i] = string(id)
	}
	return g.redis.ZRem(ctx, g.key, members...).Err()
}

// Nearby returns drivers within radiusKm of p, nearest first, with distances in meters.
func (g *RedisGeoIndex) Nearby(ctx context.Context, p types.Point, radiusKm float64) ([]GeoHit, error) {
	locs, err := g.redis.GeoRadius(ctx, g.key, p.Lng, p.Lat, &redis.GeoRadiusQuery{
		Radius:   radiusKm * 1000,
		Unit:     "m",
		WithDist: true,
		Sort:     "ASC",
	}).Result()
	if err != nil {
		return nil, err
	}
	hits := make([]GeoHit, len(locs))
	for i, l := range locs {
		hits[i] = GeoHit{DriverID: types.ID(l.Name), DistanceMeters: l.Dist}
	}
	return hits, nil
}
