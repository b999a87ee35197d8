package cache

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/redis/go-redis/v9"

	"drawboard-backend/internal/model"
)

// Session state is short-lived by design; the TTL is a safety net against
// rooms that never see a clean teardown.
const roomTTL = 24 * time.Hour

// Client mirrors per-room session state (stroke history, canvas blob) in
// Redis so a restarted server can rebuild a live room's replay log.
type Client struct {
	rdb *redis.Client
}

// New connects and pings the Redis server.
func New(addr, password string, db int) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, err
	}

	log.Printf("[Redis] connected to %s", addr)
	return &Client{rdb: rdb}, nil
}

func historyKey(roomID string) string { return "room:" + roomID + ":history" }
func canvasKey(roomID string) string  { return "room:" + roomID + ":canvas" }

// AppendStroke appends one stroke to the room's history list.
func (c *Client) AppendStroke(ctx context.Context, roomID string, s *model.Stroke) error {
	data, err := json.Marshal(s)
	if err != nil {
		return err
	}

	key := historyKey(roomID)
	if err := c.rdb.RPush(ctx, key, data).Err(); err != nil {
		log.Printf("[Redis] failed to append stroke: %v", err)
		return err
	}
	c.rdb.Expire(ctx, key, roomTTL)
	return nil
}

// History retrieves the room's full stroke history.
func (c *Client) History(ctx context.Context, roomID string) ([]model.Stroke, error) {
	results, err := c.rdb.LRange(ctx, historyKey(roomID), 0, -1).Result()
	if err != nil {
		return nil, err
	}

	strokes := make([]model.Stroke, 0, len(results))
	for _, data := range results {
		var s model.Stroke
		if err := json.Unmarshal([]byte(data), &s); err != nil {
			continue
		}
		strokes = append(strokes, s)
	}
	return strokes, nil
}

// TruncateHistory drops all but the last keep strokes, mirroring an
// in-memory snapshot fold.
func (c *Client) TruncateHistory(ctx context.Context, roomID string, keep int64) error {
	if keep <= 0 {
		return c.rdb.Del(ctx, historyKey(roomID)).Err()
	}
	return c.rdb.LTrim(ctx, historyKey(roomID), -keep, -1).Err()
}

// SetCanvas stores the room's latest encoded raster blob.
func (c *Client) SetCanvas(ctx context.Context, roomID, blob string) error {
	return c.rdb.Set(ctx, canvasKey(roomID), blob, roomTTL).Err()
}

// Canvas retrieves the stored raster blob, "" if none.
func (c *Client) Canvas(ctx context.Context, roomID string) (string, error) {
	blob, err := c.rdb.Get(ctx, canvasKey(roomID)).Result()
	if err == redis.Nil {
		return "", nil
	}
	return blob, err
}

// DeleteRoom removes all mirrored state for a room.
func (c *Client) DeleteRoom(ctx context.Context, roomID string) error {
	return c.rdb.Del(ctx, historyKey(roomID), canvasKey(roomID)).Err()
}

// Health checks the connection.
func (c *Client) Health(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// Close closes the connection pool.
func (c *Client) Close() error {
	return c.rdb.Close()
}
