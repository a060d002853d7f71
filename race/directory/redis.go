package directory

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/wricardo/surfrace/race/protocol"
)

const (
	// DefaultPrefix namespaces the room keys.
	DefaultPrefix = "racer:room:"
	// DefaultChannel receives a notice whenever the listing changes.
	DefaultChannel = "racer:rooms"
)

// Redis stores one key per joinable room. Several instances can share one
// prefix: each only deletes the keys it wrote itself. Keys expire after ttl
// so a crashed instance does not leave stale rooms behind, and every Sync
// refreshes them.
type Redis struct {
	client  redis.UniversalClient
	prefix  string
	channel string
	ttl     time.Duration

	mu    sync.Mutex
	owned map[string]bool
}

// NewRedis wraps an existing client.
func NewRedis(client redis.UniversalClient, ttl time.Duration) *Redis {
	return &Redis{
		client:  client,
		prefix:  DefaultPrefix,
		channel: DefaultChannel,
		ttl:     ttl,
		owned:   make(map[string]bool),
	}
}

// WithPrefix overrides the key prefix and notification channel, mostly so
// tests can run against a shared server.
func (d *Redis) WithPrefix(prefix string) *Redis {
	d.prefix = prefix
	d.channel = strings.TrimSuffix(prefix, ":") + ":events"
	return d
}

// Change is published on the notification channel.
type Change struct {
	Action string `json:"action"`
	RoomID string `json:"roomId,omitempty"`
	Count  int    `json:"count,omitempty"`
}

// Sync writes every room of this instance and removes the keys it wrote
// earlier for rooms that are no longer joinable, in one transaction. Rooms
// mirrored by other instances are left alone.
func (d *Redis) Sync(ctx context.Context, rooms []protocol.RoomSummary) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	keep := make(map[string]bool, len(rooms))
	pipe := d.client.TxPipeline()
	for _, r := range rooms {
		data, err := json.Marshal(r)
		if err != nil {
			return fmt.Errorf("failed to encode room %s: %w", r.ID, err)
		}
		key := d.prefix + r.ID
		keep[key] = true
		pipe.Set(ctx, key, data, d.ttl)
	}
	for key := range d.owned {
		if !keep[key] {
			pipe.Del(ctx, key)
		}
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to sync room directory: %w", err)
	}
	d.owned = keep

	return d.publish(ctx, Change{Action: "sync", Count: len(rooms)})
}

// Remove deletes a single room key.
func (d *Redis) Remove(ctx context.Context, roomID string) error {
	key := d.prefix + roomID
	if err := d.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("failed to remove room %s: %w", roomID, err)
	}
	d.mu.Lock()
	delete(d.owned, key)
	d.mu.Unlock()
	return d.publish(ctx, Change{Action: "remove", RoomID: roomID})
}

// List reads back every mirrored room, whichever instance wrote it.
func (d *Redis) List(ctx context.Context) ([]protocol.RoomSummary, error) {
	keys, err := d.keys(ctx)
	if err != nil {
		return nil, err
	}
	if len(keys) == 0 {
		return []protocol.RoomSummary{}, nil
	}

	values, err := d.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read room directory: %w", err)
	}

	rooms := make([]protocol.RoomSummary, 0, len(values))
	for _, v := range values {
		s, ok := v.(string)
		if !ok {
			// Expired between SCAN and MGET.
			continue
		}
		var r protocol.RoomSummary
		if err := json.Unmarshal([]byte(s), &r); err != nil {
			return nil, fmt.Errorf("failed to decode room entry: %w", err)
		}
		rooms = append(rooms, r)
	}
	sortByID(rooms)
	return rooms, nil
}

// Subscribe returns a subscription to listing change notices.
func (d *Redis) Subscribe(ctx context.Context) *redis.PubSub {
	return d.client.Subscribe(ctx, d.channel)
}

func (d *Redis) keys(ctx context.Context) ([]string, error) {
	var keys []string
	iter := d.client.Scan(ctx, 0, d.prefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan room directory: %w", err)
	}
	return keys, nil
}

func (d *Redis) publish(ctx context.Context, change Change) error {
	data, err := json.Marshal(change)
	if err != nil {
		return err
	}
	if err := d.client.Publish(ctx, d.channel, data).Err(); err != nil {
		return fmt.Errorf("failed to publish directory change: %w", err)
	}
	return nil
}
