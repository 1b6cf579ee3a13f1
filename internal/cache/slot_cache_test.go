package cache

import (
	"context"
	"testing"
	"time"

	"github.com/Freeeeeet/frontdesk/internal/model"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

var day = time.Date(2026, 3, 5, 0, 0, 0, 0, time.UTC)

func TestSlotCacheRoundTrip(t *testing.T) {
	mr, client := setupTestRedis(t)
	c := NewSlotCache(client, 10*time.Minute)
	ctx := context.Background()

	_, ok, err := c.Get(ctx, 10, day)
	require.NoError(t, err)
	assert.False(t, ok)

	slots := []model.Slot{
		{Start: day.Add(9 * time.Hour), End: day.Add(9*time.Hour + 30*time.Minute)},
		{Start: day.Add(10 * time.Hour), End: day.Add(10*time.Hour + 30*time.Minute)},
	}
	require.NoError(t, c.Set(ctx, 10, day, slots))

	got, ok, err := c.Get(ctx, 10, day)
	require.NoError(t, err)
	assert.True(t, ok)
	require.Len(t, got, 2)
	assert.True(t, got[0].Start.Equal(slots[0].Start))
	assert.True(t, got[1].End.Equal(slots[1].End))

	assert.True(t, mr.Exists("frontdesk:slots:10:2026-03-05"))
	assert.Equal(t, 10*time.Minute, mr.TTL("frontdesk:slots:10:2026-03-05"))
}

func TestSlotCacheKeepsEmptyDay(t *testing.T) {
	_, client := setupTestRedis(t)
	c := NewSlotCache(client, time.Minute)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, 10, day, nil))

	got, ok, err := c.Get(ctx, 10, day)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.NotNil(t, got)
	assert.Empty(t, got)
}

func TestSlotCacheInvalidate(t *testing.T) {
	mr, client := setupTestRedis(t)
	c := NewSlotCache(client, time.Minute)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, 10, day, []model.Slot{{Start: day, End: day.Add(30 * time.Minute)}}))
	require.NoError(t, c.Set(ctx, 11, day, []model.Slot{{Start: day, End: day.Add(30 * time.Minute)}}))

	require.NoError(t, c.Invalidate(ctx, 10, day))

	_, ok, err := c.Get(ctx, 10, day)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.True(t, mr.Exists("frontdesk:slots:11:2026-03-05"))

	// удаление отсутствующего ключа не ошибка
	assert.NoError(t, c.Invalidate(ctx, 10, day))
}

func TestSlotCacheExpires(t *testing.T) {
	mr, client := setupTestRedis(t)
	c := NewSlotCache(client, time.Minute)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, 10, day, []model.Slot{}))
	mr.FastForward(2 * time.Minute)

	_, ok, err := c.Get(ctx, 10, day)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSlotCacheCorruptEntry(t *testing.T) {
	mr, client := setupTestRedis(t)
	c := NewSlotCache(client, time.Minute)

	require.NoError(t, mr.Set("frontdesk:slots:10:2026-03-05", "{not json"))

	_, ok, err := c.Get(context.Background(), 10, day)
	assert.Error(t, err)
	assert.False(t, ok)
}

func TestSlotCacheUnavailable(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	defer client.Close()
	c := NewSlotCache(client, time.Minute)
	mr.Close()

	_, _, err = c.Get(context.Background(), 10, day)
	assert.Error(t, err)
	assert.Error(t, c.Ping(context.Background()))
}
