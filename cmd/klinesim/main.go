// cmd/klinesim — Demo WebSocket kline server.
// Broadcasts simulated exchange kline frames so the stream engine can be
// exercised without touching the live exchange.
//
// Frames use the exchange wire shape:
//
//	{"e":"kline","s":"BTCUSDC","k":{"t":...,"i":"1m","o":"...","c":"...","h":"...","l":"...","v":"...","x":false}}
//
// Partial updates are emitted every KLINE_TICK_MS; the bar is marked
// closed ("x":true) once KLINE_BAR_MS has elapsed and a fresh bar opens.
//
// Config (env vars):
//
//	KLINE_SERVER_ADDR — listen address (default: ":9001")
//	KLINE_PAIRS       — comma-separated symbols (default: "BTCUSDC,ETHUSDC")
//	KLINE_TICK_MS     — update interval milliseconds (default: "500")
//	KLINE_BAR_MS      — bar length milliseconds (default: "60000")
package main

import (
	"encoding/json"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// bar holds per-pair simulation state for the forming bar.
type bar struct {
	Symbol   string
	OpenTime time.Time
	Open     float64
	High     float64
	Low      float64
	Close    float64
	Volume   float64
}

type hub struct {
	mu      sync.RWMutex
	clients map[*websocket.Conn]chan []byte
}

func newHub() *hub {
	return &hub{clients: make(map[*websocket.Conn]chan []byte)}
}

func (h *hub) register(conn *websocket.Conn) chan []byte {
	ch := make(chan []byte, 256)
	h.mu.Lock()
	h.clients[conn] = ch
	h.mu.Unlock()
	return ch
}

func (h *hub) unregister(conn *websocket.Conn) {
	h.mu.Lock()
	if ch, ok := h.clients[conn]; ok {
		close(ch)
		delete(h.clients, conn)
	}
	h.mu.Unlock()
}

func (h *hub) broadcast(msg []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, ch := range h.clients {
		select {
		case ch <- msg:
		default: // slow client — drop frame
		}
	}
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(_ *http.Request) bool { return true },
}

func wsHandler(h *hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Printf("[klinesim] upgrade error: %v", err)
			return
		}
		log.Printf("[klinesim] client connected: %s", r.RemoteAddr)

		ch := h.register(conn)
		defer func() {
			h.unregister(conn)
			conn.Close()
			log.Printf("[klinesim] client disconnected: %s", r.RemoteAddr)
		}()

		for msg := range ch {
			conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		}
	}
}

// walkPrice applies a tiny random walk (±0.1%) to simulate price movement.
func walkPrice(price float64) float64 {
	pct := (rand.Float64()*0.2 - 0.1) / 100.0
	next := price * (1 + pct)
	if next < 0.01 {
		next = 0.01
	}
	return next
}

func encodeFrame(b *bar, closed bool) []byte {
	f := func(v float64) string { return strconv.FormatFloat(v, 'f', -1, 64) }
	frame := map[string]any{
		"e": "kline",
		"E": time.Now().UnixMilli(),
		"s": b.Symbol,
		"k": map[string]any{
			"t": b.OpenTime.UnixMilli(),
			"s": b.Symbol,
			"i": "1m",
			"o": f(b.Open),
			"c": f(b.Close),
			"h": f(b.High),
			"l": f(b.Low),
			"v": f(b.Volume),
			"x": closed,
		},
	}
	data, _ := json.Marshal(frame)
	return data
}

func runGenerator(h *hub, symbols []string, tickMs, barMs int) {
	ticker := time.NewTicker(time.Duration(tickMs) * time.Millisecond)
	defer ticker.Stop()

	barLen := time.Duration(barMs) * time.Millisecond
	bars := make([]*bar, len(symbols))
	now := time.Now().UTC().Truncate(barLen)
	for i, sym := range symbols {
		start := 100.0 + rand.Float64()*900
		bars[i] = &bar{Symbol: sym, OpenTime: now, Open: start, High: start, Low: start, Close: start}
	}

	for range ticker.C {
		for _, b := range bars {
			price := walkPrice(b.Close)
			b.Close = price
			if price > b.High {
				b.High = price
			}
			if price < b.Low {
				b.Low = price
			}
			b.Volume += rand.Float64()

			if time.Since(b.OpenTime) >= barLen {
				h.broadcast(encodeFrame(b, true))
				open := b.Close
				b.OpenTime = b.OpenTime.Add(barLen)
				b.Open = open
				b.High = open
				b.Low = open
				b.Close = open
				b.Volume = 0
				continue
			}
			h.broadcast(encodeFrame(b, false))
		}
	}
}

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)
	log.Println("[klinesim] starting demo kline server...")

	addr := envOrDefault("KLINE_SERVER_ADDR", ":9001")
	pairsEnv := envOrDefault("KLINE_PAIRS", "BTCUSDC,ETHUSDC")
	tickMs := envIntOrDefault("KLINE_TICK_MS", 500)
	barMs := envIntOrDefault("KLINE_BAR_MS", 60000)

	var symbols []string
	for _, p := range strings.Split(pairsEnv, ",") {
		p = strings.ToUpper(strings.TrimSpace(p))
		if p != "" {
			symbols = append(symbols, p)
		}
	}
	if len(symbols) == 0 {
		log.Fatalf("[klinesim] no pairs configured via KLINE_PAIRS")
	}
	log.Printf("[klinesim] pairs: %v, tick=%dms bar=%dms", symbols, tickMs, barMs)

	h := newHub()
	go runGenerator(h, symbols, tickMs, barMs)

	// The engine appends stream names to its base URL, so accept any
	// path under /ws as well as /ws itself.
	http.HandleFunc("/ws", wsHandler(h))
	http.HandleFunc("/ws/", wsHandler(h))
	http.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprintln(w, `{"status":"ok","service":"klinesim"}`)
	})

	log.Printf("[klinesim] listening on %s  (WebSocket: ws://localhost%s/ws)", addr, addr)
	if err := http.ListenAndServe(addr, nil); err != nil {
		log.Fatalf("[klinesim] server error: %v", err)
	}
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envIntOrDefault(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}
