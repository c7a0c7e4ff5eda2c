package transport

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/dublintech/callbridge/internal/callserver/domain"
)

// reconnectDelays is the retry schedule: immediate, then 2s, then 10s
// repeating for as long as the client runs.
var reconnectDelays = []time.Duration{0, 2 * time.Second, 10 * time.Second}

// Options tunes a Client. The zero value is usable.
type Options struct {
	// Group, when set, is sent as a joinGroup message after each connect.
	Group string
	// Delays overrides the reconnect schedule (tests shrink it).
	Delays []time.Duration
}

// Client maintains a logical connection to the call server's /hubs/calls
// endpoint and surfaces pushed call-arrival events as a sequential stream.
// Operating with no server reachable is a first-class mode: dial failures
// are logged and retried on the backoff schedule, and the stream simply
// stays silent.
type Client struct {
	logger *slog.Logger
	opts   Options

	events chan domain.CallArrivalEvent

	mu      sync.RWMutex
	current *domain.CallArrivalEvent

	startOnce sync.Once
	stopOnce  sync.Once
	cancel    context.CancelFunc
	done      chan struct{}
}

func NewClient(logger *slog.Logger, opts Options) *Client {
	if len(opts.Delays) == 0 {
		opts.Delays = reconnectDelays
	}
	return &Client{
		logger: logger.With("component", "calls_transport"),
		opts:   opts,
		events: make(chan domain.CallArrivalEvent, 32),
		done:   make(chan struct{}),
	}
}

// Start begins connecting to serverAddr (http(s):// or host:port) in the
// background. It never blocks and never fails: an unreachable server leaves
// the client in demo/offline mode until a later attempt succeeds.
func (c *Client) Start(serverAddr string) {
	c.startOnce.Do(func() {
		ctx, cancel := context.WithCancel(context.Background())
		c.cancel = cancel
		go c.run(ctx, hubURL(serverAddr))
	})
}

// Events is the arrival-order stream of pushed events. It is closed after
// Stop; nothing is ever delivered afterwards.
func (c *Client) Events() <-chan domain.CallArrivalEvent {
	return c.events
}

// Current returns the most recently received event, nil before the first.
func (c *Client) Current() *domain.CallArrivalEvent {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.current
}

// Stop releases the connection. Idempotent, and safe even if the client
// never connected or was never started.
func (c *Client) Stop() {
	c.stopOnce.Do(func() {
		// Start may never have been called; claim its slot so a later
		// Start is a no-op instead of launching a loop post-Stop.
		c.startOnce.Do(func() {
			c.done = nil
		})
		if c.cancel != nil {
			c.cancel()
		}
		if c.done != nil {
			<-c.done
		}
		close(c.events)
	})
}

func (c *Client) run(ctx context.Context, wsURL string) {
	defer close(c.done)

	attempt := 0
	for {
		delay := c.opts.Delays[min(attempt, len(c.opts.Delays)-1)]
		if delay > 0 {
			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
			}
		}

		conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if attempt == 0 {
				c.logger.Warn("Call server unavailable, operating in demo mode", "url", wsURL, "error", err)
			} else {
				c.logger.Debug("Reconnect attempt failed", "url", wsURL, "attempt", attempt, "error", err)
			}
			attempt++
			continue
		}

		c.logger.Info("Connected to call server", "url", wsURL)
		attempt = 0

		if c.opts.Group != "" {
			msg := domain.ClientMessage{Type: domain.MessageTypeJoinGroup, Group: c.opts.Group}
			if err := conn.WriteJSON(msg); err != nil {
				c.logger.Warn("Failed to join group", "group", c.opts.Group, "error", err)
			}
		}

		c.readUntilClosed(ctx, conn)
		conn.Close()
		if ctx.Err() != nil {
			return
		}
		c.logger.Info("Connection to call server lost, reconnecting", "url", wsURL)
		attempt = 0
	}
}

func (c *Client) readUntilClosed(ctx context.Context, conn *websocket.Conn) {
	// Unblock the blocking read when the client is stopped.
	readDone := make(chan struct{})
	defer close(readDone)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-readDone:
		}
	}()

	for {
		var msg domain.ServerMessage
		if err := conn.ReadJSON(&msg); err != nil {
			return
		}
		if msg.Type != domain.MessageTypeIncomingCall {
			continue
		}

		ev := msg.Data
		c.mu.Lock()
		c.current = &ev
		c.mu.Unlock()

		select {
		case c.events <- ev:
		case <-ctx.Done():
			return
		}
	}
}

// hubURL turns a server base address into the WebSocket endpoint URL.
func hubURL(serverAddr string) string {
	addr := serverAddr
	switch {
	case strings.HasPrefix(addr, "https://"):
		addr = "wss://" + strings.TrimPrefix(addr, "https://")
	case strings.HasPrefix(addr, "http://"):
		addr = "ws://" + strings.TrimPrefix(addr, "http://")
	case !strings.HasPrefix(addr, "ws://") && !strings.HasPrefix(addr, "wss://"):
		addr = "ws://" + addr
	}
	return strings.TrimSuffix(addr, "/") + "/hubs/calls"
}
