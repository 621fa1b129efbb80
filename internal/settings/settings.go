// Package settings holds the runtime-tunable knobs: the indicator
// timeframe and the RSI period. Readers are on the hot path, so the
// current snapshot lives in an atomic.Value and updates swap the whole
// value. Updates survive restarts via Redis when a client is provided.
package settings

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync/atomic"
	"time"

	"crypto-streamv1/internal/model"

	goredis "github.com/go-redis/redis/v8"
)

const redisKey = "streamengine:runtime_settings"

const (
	DefaultTimeframe = "1m"
	DefaultRSIPeriod = 14

	minPeriod = 1
	maxPeriod = 50
)

// Snapshot is one immutable view of the runtime settings.
type Snapshot struct {
	Timeframe string `json:"timeframe"`
	RSIPeriod int    `json:"rsi_period"`
}

// ValidationError reports a rejected settings update. The previous
// snapshot stays in effect.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("settings: invalid %s: %s", e.Field, e.Reason)
}

// Store serves and updates the runtime settings.
type Store struct {
	cur atomic.Value // Snapshot
	rdb *goredis.Client
}

// New creates a Store seeded with defaults. rdb may be nil; settings
// then live only in memory.
func New(rdb *goredis.Client) *Store {
	s := &Store{rdb: rdb}
	s.cur.Store(Snapshot{Timeframe: DefaultTimeframe, RSIPeriod: DefaultRSIPeriod})
	return s
}

// Load restores persisted settings from Redis. Called once at startup;
// returns true when a valid snapshot was restored. A missing key or an
// invalid stored document leaves the defaults in place.
func (s *Store) Load(ctx context.Context) bool {
	if s.rdb == nil {
		return false
	}
	data, err := s.rdb.Get(ctx, redisKey).Result()
	if err != nil {
		return false
	}
	var snap Snapshot
	if json.Unmarshal([]byte(data), &snap) != nil {
		return false
	}
	if Validate(snap) != nil {
		log.Printf("[settings] ignoring invalid persisted settings: %+v", snap)
		return false
	}
	s.cur.Store(snap)
	log.Printf("[settings] restored from Redis: timeframe=%s rsi_period=%d", snap.Timeframe, snap.RSIPeriod)
	return true
}

// Current returns the settings snapshot in effect.
func (s *Store) Current() Snapshot {
	return s.cur.Load().(Snapshot)
}

// Update validates and applies a new snapshot. Persistence to Redis is
// fire-and-forget: a persist failure is logged but the in-memory update
// still takes effect.
func (s *Store) Update(snap Snapshot) error {
	if err := Validate(snap); err != nil {
		return err
	}
	s.cur.Store(snap)

	if s.rdb != nil {
		data, err := json.Marshal(snap)
		if err == nil {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			if err := s.rdb.Set(ctx, redisKey, data, 0).Err(); err != nil {
				log.Printf("[settings] WARNING: failed to persist settings to Redis: %v", err)
			}
		}
	}
	return nil
}

// Validate checks a snapshot against the allowed ranges.
func Validate(snap Snapshot) error {
	if !model.ValidTimeframe(snap.Timeframe) {
		return &ValidationError{Field: "timeframe", Reason: fmt.Sprintf("%q is not a supported interval", snap.Timeframe)}
	}
	if snap.RSIPeriod < minPeriod || snap.RSIPeriod > maxPeriod {
		return &ValidationError{Field: "rsi_period", Reason: fmt.Sprintf("%d outside [%d, %d]", snap.RSIPeriod, minPeriod, maxPeriod)}
	}
	return nil
}
