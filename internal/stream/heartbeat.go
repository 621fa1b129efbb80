package stream

import (
	"log"
	"sync"
	"time"
)

// Heartbeat supervises connection liveness. It sends a ping every
// interval and arms a timeout after each ping; any inbound frame
// disarms it. If the timeout fires the connection is considered dead
// and onTimeout force-closes it, which surfaces as a read error and
// feeds the normal reconnect path. There is no second recovery path.
type Heartbeat struct {
	interval time.Duration
	timeout  time.Duration

	sendPing  func() error
	onTimeout func()

	mu      sync.Mutex
	timer   *time.Timer // armed between ping and next inbound frame
	stopped bool
	stopCh  chan struct{}
}

// NewHeartbeat creates a Heartbeat. sendPing writes a ping frame on the
// supervised connection; onTimeout force-closes it.
func NewHeartbeat(interval, timeout time.Duration, sendPing func() error, onTimeout func()) *Heartbeat {
	return &Heartbeat{
		interval:  interval,
		timeout:   timeout,
		sendPing:  sendPing,
		onTimeout: onTimeout,
		stopCh:    make(chan struct{}),
	}
}

// Start launches the ping loop.
func (h *Heartbeat) Start() {
	go h.loop()
}

func (h *Heartbeat) loop() {
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	for {
		select {
		case <-h.stopCh:
			return
		case <-ticker.C:
			if err := h.sendPing(); err != nil {
				log.Printf("[heartbeat] ping send failed: %v", err)
			}
			h.arm()
		}
	}
}

// arm starts the pong-timeout timer unless one is already running. A
// second ping while the first is still unanswered must not extend the
// deadline.
func (h *Heartbeat) arm() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.stopped || h.timer != nil {
		return
	}
	h.timer = time.AfterFunc(h.timeout, h.expire)
}

// Touch records inbound traffic: any frame from the peer proves the
// connection alive, so the pending timeout is disarmed.
func (h *Heartbeat) Touch() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.timer != nil {
		h.timer.Stop()
		h.timer = nil
	}
}

func (h *Heartbeat) expire() {
	h.mu.Lock()
	if h.stopped {
		h.mu.Unlock()
		return
	}
	h.timer = nil
	h.mu.Unlock()

	log.Printf("[heartbeat] no traffic within %s of ping, closing connection", h.timeout)
	h.onTimeout()
}

// Stop ends supervision. Safe to call more than once.
func (h *Heartbeat) Stop() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.stopped {
		return
	}
	h.stopped = true
	close(h.stopCh)
	if h.timer != nil {
		h.timer.Stop()
		h.timer = nil
	}
}
