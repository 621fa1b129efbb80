// Package redis mirrors hot state into Redis: the latest closed candle
// per pair, the latest indicator values, and a PubSub leg for external
// consumers. Redis is strictly a mirror here; SQLite stays the source
// of truth and every write is fire-and-forget from the caller's view.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"crypto-streamv1/internal/model"

	goredis "github.com/go-redis/redis/v8"
)

const defaultLatestTTL = 30 * time.Minute

// WriterConfig configures the Redis writer.
type WriterConfig struct {
	Addr     string // Redis address, e.g. "localhost:6379"
	Password string
	DB       int
}

// Writer mirrors candles and indicator values to Redis.
type Writer struct {
	client *goredis.Client
}

// Client returns the underlying Redis client for health checks and
// settings persistence.
func (w *Writer) Client() *goredis.Client { return w.client }

// New creates a new Redis Writer and pings the server.
func New(cfg WriterConfig) (*Writer, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	log.Printf("[redis] connected to %s", cfg.Addr)
	return &Writer{client: client}, nil
}

// WriteCandle mirrors a closed candle: SET latest with TTL plus PUBLISH
// for real-time subscribers, pipelined into one roundtrip. Errors are
// logged and swallowed so a Redis outage never stalls ingestion.
func (w *Writer) WriteCandle(ctx context.Context, c model.Candle) {
	latestKey := "candle:" + c.Interval + ":latest:" + c.Pair
	pubsubCh := "pub:candle:" + c.Interval + ":" + c.Pair
	jsonData := string(c.JSON())

	pipe := w.client.Pipeline()
	pipe.Set(ctx, latestKey, jsonData, defaultLatestTTL)
	pipe.Publish(ctx, pubsubCh, jsonData)

	if _, err := pipe.Exec(ctx); err != nil {
		log.Printf("[redis] candle pipeline error for %s: %v", c.Key(), err)
	}
}

// WriteIndicator mirrors a freshly computed indicator value.
func (w *Writer) WriteIndicator(ctx context.Context, v model.IndicatorValue) {
	jsonData, err := json.Marshal(v)
	if err != nil {
		log.Printf("[redis] marshal indicator %s %s: %v", v.Kind, v.Pair, err)
		return
	}

	latestKey := "ind:" + string(v.Kind) + ":" + v.Timeframe + ":latest:" + v.Pair
	pubsubCh := "pub:ind:" + string(v.Kind) + ":" + v.Timeframe + ":" + v.Pair

	pipe := w.client.Pipeline()
	pipe.Set(ctx, latestKey, jsonData, defaultLatestTTL)
	pipe.Publish(ctx, pubsubCh, jsonData)

	if _, err := pipe.Exec(ctx); err != nil {
		log.Printf("[redis] indicator pipeline error for %s %s: %v", v.Kind, v.Pair, err)
	}
}

// Publish sends an already-encoded payload to a PubSub channel. Used by
// the broadcast bus for its external leg.
func (w *Writer) Publish(ctx context.Context, channel string, payload []byte) {
	if err := w.client.Publish(ctx, channel, payload).Err(); err != nil {
		log.Printf("[redis] publish %s: %v", channel, err)
	}
}

// Close closes the Redis client.
func (w *Writer) Close() error {
	return w.client.Close()
}
