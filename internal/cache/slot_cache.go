package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Freeeeeet/frontdesk/internal/model"
	"github.com/redis/go-redis/v9"
)

const keyPrefix = "frontdesk:slots"

// SlotCache хранит свободные слоты врача на день в Redis.
// Запись инвалидируется после каждой брони, отмены или просрочки оплаты.
type SlotCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewSlotCache(client *redis.Client, ttl time.Duration) *SlotCache {
	return &SlotCache{client: client, ttl: ttl}
}

func slotKey(doctorID int64, day time.Time) string {
	return fmt.Sprintf("%s:%d:%s", keyPrefix, doctorID, day.UTC().Format("2006-01-02"))
}

// Get возвращает ok=false при промахе
func (c *SlotCache) Get(ctx context.Context, doctorID int64, day time.Time) ([]model.Slot, bool, error) {
	raw, err := c.client.Get(ctx, slotKey(doctorID, day)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get slots: %w", err)
	}

	slots := []model.Slot{}
	if err := json.Unmarshal(raw, &slots); err != nil {
		return nil, false, fmt.Errorf("decode slots: %w", err)
	}
	return slots, true, nil
}

func (c *SlotCache) Set(ctx context.Context, doctorID int64, day time.Time, slots []model.Slot) error {
	if slots == nil {
		slots = []model.Slot{}
	}
	raw, err := json.Marshal(slots)
	if err != nil {
		return fmt.Errorf("encode slots: %w", err)
	}
	if err := c.client.Set(ctx, slotKey(doctorID, day), raw, c.ttl).Err(); err != nil {
		return fmt.Errorf("set slots: %w", err)
	}
	return nil
}

func (c *SlotCache) Invalidate(ctx context.Context, doctorID int64, day time.Time) error {
	if err := c.client.Del(ctx, slotKey(doctorID, day)).Err(); err != nil {
		return fmt.Errorf("delete slots: %w", err)
	}
	return nil
}

// Ping проверяет на старте, можно ли пользоваться кэшем
func (c *SlotCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}
