// Package stream maintains the market-data WebSocket connection: one
// combined kline stream for all selected pairs, heartbeat supervision
// and reconnection with exponential backoff.
package stream

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"crypto-streamv1/internal/model"

	"github.com/gorilla/websocket"
)

const (
	// DefaultBaseURL is the exchange raw-stream endpoint.
	DefaultBaseURL = "wss://stream.binance.com:9443/ws"

	// maxStreams is the exchange's per-connection stream limit.
	maxStreams = 1024

	DefaultPingInterval = 30 * time.Second
	DefaultPongTimeout  = 120 * time.Second

	writeWait = 10 * time.Second
)

// Config holds the stream client configuration.
type Config struct {
	// BaseURL is the WebSocket endpoint. Defaults to DefaultBaseURL.
	BaseURL string

	// Pairs to subscribe. Selections beyond the exchange's stream limit
	// are truncated with a warning.
	Pairs []model.Pair

	// Interval is the kline interval to subscribe, e.g. "1m".
	Interval string

	// Heartbeat timing. Zero values take the defaults.
	PingInterval time.Duration
	PongTimeout  time.Duration
}

func (c *Config) defaults() {
	if c.BaseURL == "" {
		c.BaseURL = DefaultBaseURL
	}
	if c.Interval == "" {
		c.Interval = "1m"
	}
	if c.PingInterval == 0 {
		c.PingInterval = DefaultPingInterval
	}
	if c.PongTimeout == 0 {
		c.PongTimeout = DefaultPongTimeout
	}
}

// Client streams kline updates for the configured pairs and invokes
// OnEvent for every decoded kline. It owns its connection lifecycle:
// heartbeat timeouts force-close the socket, the read loop surfaces
// the error, and Run reconnects with backoff.
type Client struct {
	cfg     Config
	backoff *Backoff

	// mu guards writes to conn. Ping frames and the close handshake can
	// race otherwise.
	mu   sync.Mutex
	conn *websocket.Conn

	// OnEvent receives every decoded kline update, partial and closed.
	OnEvent func(model.KlineEvent)

	// OnConnect and OnDisconnect are optional metrics hooks.
	OnConnect    func()
	OnDisconnect func(error)

	// OnHeartbeatTimeout fires when the heartbeat force-closes the
	// connection.
	OnHeartbeatTimeout func()

	// OnIgnored fires for every non-kline frame, with its event type
	// (empty for unparseable payloads).
	OnIgnored func(eventType string)
}

// New creates a stream Client. Returns an error when no pairs are
// configured.
func New(cfg Config) (*Client, error) {
	cfg.defaults()
	if len(cfg.Pairs) == 0 {
		return nil, fmt.Errorf("stream: no pairs to subscribe")
	}
	if len(cfg.Pairs) > maxStreams {
		log.Printf("[stream] %d pairs exceed the %d-stream limit, truncating", len(cfg.Pairs), maxStreams)
		cfg.Pairs = cfg.Pairs[:maxStreams]
	}
	return &Client{cfg: cfg, backoff: NewBackoff()}, nil
}

// URL returns the combined-stream URL for the configured pairs.
func (c *Client) URL() string {
	streams := make([]string, len(c.cfg.Pairs))
	for i, p := range c.cfg.Pairs {
		streams[i] = p.StreamName() + "@kline_" + c.cfg.Interval
	}
	return c.cfg.BaseURL + "/" + strings.Join(streams, "/")
}

// Run connects and streams until ctx is cancelled, reconnecting with
// exponential backoff after every failure.
func (c *Client) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		err := c.runOnce(ctx)
		if err == nil {
			// Clean shutdown via ctx.
			return nil
		}

		if c.OnDisconnect != nil {
			c.OnDisconnect(err)
		}

		delay := c.backoff.Next()
		log.Printf("[stream] disconnected (%v), reconnecting in %s", err, delay)

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(delay):
		}
	}
}

// runOnce makes one connection attempt and reads until disconnect or
// ctx cancellation. Returns nil only for ctx cancellation.
func (c *Client) runOnce(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.URL(), nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()

	c.backoff.Reset()
	log.Printf("[stream] connected, %d streams @kline_%s", len(c.cfg.Pairs), c.cfg.Interval)
	if c.OnConnect != nil {
		c.OnConnect()
	}

	hb := NewHeartbeat(c.cfg.PingInterval, c.cfg.PongTimeout, c.sendPing, func() {
		if c.OnHeartbeatTimeout != nil {
			c.OnHeartbeatTimeout()
		}
		c.forceClose()
	})
	hb.Start()
	defer hb.Stop()

	// Control frames never come back from ReadMessage, so liveness for
	// pongs (and peer pings) is tracked here. The ping handler still
	// answers with a pong, as the default handler would.
	conn.SetPongHandler(func(string) error {
		hb.Touch()
		return nil
	})
	conn.SetPingHandler(func(appData string) error {
		hb.Touch()
		err := conn.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(writeWait))
		if err == websocket.ErrCloseSent {
			return nil
		}
		return err
	})

	// Context watcher: a cancelled ctx closes the connection, which
	// unblocks ReadMessage.
	watcherDone := make(chan struct{})
	defer close(watcherDone)
	go func() {
		select {
		case <-ctx.Done():
			c.closeGracefully()
		case <-watcherDone:
		}
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
			}
			return fmt.Errorf("read: %w", err)
		}

		// Every inbound frame counts as liveness.
		hb.Touch()

		ev := Decode(raw)
		switch ev.Kind {
		case model.EventKlinePartial, model.EventKlineClosed:
			if c.OnEvent != nil {
				c.OnEvent(ev.Kline)
			}
		case model.EventIgnored:
			if c.OnIgnored != nil {
				c.OnIgnored(ev.Type)
			}
			if ev.Type != "" {
				log.Printf("[stream] ignoring %s event", ev.Type)
			}
		}
	}
}

// sendPing writes a ping control frame under the write lock.
func (c *Client) sendPing() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return fmt.Errorf("not connected")
	}
	return c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
}

// forceClose tears the connection down without a close handshake. Used
// by the heartbeat when the peer stopped responding.
func (c *Client) forceClose() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		c.conn.Close()
	}
}

// closeGracefully attempts a close handshake before closing the socket.
func (c *Client) closeGracefully() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return
	}
	c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "shutdown"),
		time.Now().Add(writeWait))
	c.conn.Close()
}
