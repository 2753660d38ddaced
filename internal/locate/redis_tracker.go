package locate

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/example/emergency-dispatch/internal/models"
)

// RedisTracker stores last-known positions in a Redis GEO set with a
// metadata hash per caregiver, shared with the Kafka consumer.
type RedisTracker struct {
	client *redis.Client
	key    string
	maxAge time.Duration
}

func NewRedisTracker(addr, password, key string, maxAge time.Duration) *RedisTracker {
	c := redis.NewClient(&redis.Options{Addr: addr, Password: password})
	return &RedisTracker{client: c, key: key, maxAge: maxAge}
}

func (t *RedisTracker) Report(ctx context.Context, loc models.CaregiverLocation) error {
	if loc.Reported.IsZero() {
		loc.Reported = time.Now()
	}
	_, err := t.client.GeoAdd(ctx, t.key, &redis.GeoLocation{
		Longitude: loc.Loc.Lon,
		Latitude:  loc.Loc.Lat,
		Name:      loc.CaregiverID,
	}).Result()
	if err != nil {
		return err
	}
	return t.client.HSet(ctx, metaKey(loc.CaregiverID), map[string]interface{}{
		"sharing":  strconv.FormatBool(loc.Sharing),
		"reported": loc.Reported.Format(time.RFC3339),
	}).Err()
}

func (t *RedisTracker) Current(ctx context.Context, caregiverID string) (models.Coord, error) {
	m, err := t.client.HGetAll(ctx, metaKey(caregiverID)).Result()
	if err != nil || len(m) == 0 {
		return models.Coord{}, ErrPositionUnknown
	}
	if m["sharing"] != "true" {
		return models.Coord{}, ErrSharingDisabled
	}
	if t.maxAge > 0 {
		ts, err := time.Parse(time.RFC3339, m["reported"])
		if err != nil || time.Since(ts) > t.maxAge {
			return models.Coord{}, ErrPositionStale
		}
	}
	pos, err := t.client.GeoPos(ctx, t.key, caregiverID).Result()
	if err != nil || len(pos) == 0 || pos[0] == nil {
		return models.Coord{}, ErrPositionUnknown
	}
	return models.Coord{Lat: pos[0].Latitude, Lon: pos[0].Longitude}, nil
}

func metaKey(id string) string { return "caregiver:meta:" + id }
