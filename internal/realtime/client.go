// Package realtime is the WebSocket client for Supabase's Phoenix-style
// change feed. It translates postgres_changes frames into the same
// change-event shape the polling watcher produces.
package realtime

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/tabletrace/tabletrace/internal/bus"
	"github.com/tabletrace/tabletrace/internal/change"
	"github.com/tabletrace/tabletrace/internal/config"
)

const (
	heartbeatInterval = 30 * time.Second
	testReplyTimeout  = 5 * time.Second
)

// Client owns one realtime connection. The write half of the socket
// belongs to a single writer goroutine fed by a command channel, so the
// join, the heartbeats and nothing else ever interleave on the wire.
// There is no automatic reconnect.
type Client struct {
	cfg config.SupabaseConfig

	mu    sync.RWMutex
	state change.ConnState
	conn  *websocket.Conn
	send  chan Envelope
	done  chan struct{}
}

func NewClient(cfg config.SupabaseConfig) *Client {
	return &Client{cfg: cfg, state: change.Disconnected()}
}

func (c *Client) State() change.ConnState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

func (c *Client) IsConnected() bool { return c.State().IsConnected() }

// Connect dials the feed, joins the channel and starts the writer,
// heartbeat and reader loops. Received changes are published to b.
func (c *Client) Connect(ctx context.Context, b *bus.Bus) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		return fmt.Errorf("realtime client already connected")
	}
	c.state = change.Connecting()

	wsURL := c.cfg.RealtimeURL()
	zap.L().Info("connecting to Supabase realtime", zap.String("url", c.cfg.URL))

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		c.state = change.Errored(err.Error())
		return fmt.Errorf("websocket connection failed: %w", err)
	}

	join, err := joinEnvelope(c.cfg)
	if err != nil {
		conn.Close()
		c.state = change.Errored(err.Error())
		return fmt.Errorf("build join message: %w", err)
	}

	c.conn = conn
	c.send = make(chan Envelope, 8)
	c.done = make(chan struct{})
	c.state = change.Connected()

	go c.writeLoop(conn, c.send, c.done)
	go c.heartbeatLoop(c.send, c.done)
	go c.readLoop(conn, b, c.done)

	// The join goes through the writer like everything else.
	c.send <- join
	zap.L().Info("joined Supabase realtime channel")
	return nil
}

// Disconnect marks the client stopped and closes the socket, which ends
// a blocked read. Idempotent.
func (c *Client) Disconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.shutdown(change.Disconnected())
	zap.L().Info("Supabase client disconnected")
}

// shutdown closes the socket and loops; callers hold c.mu, and the nil
// conn check makes a second call a no-op.
func (c *Client) shutdown(final change.ConnState) {
	if c.conn != nil {
		close(c.done)
		c.conn.Close()
		c.conn = nil
	}
	c.state = final
}

func (c *Client) writeLoop(conn *websocket.Conn, send <-chan Envelope, done <-chan struct{}) {
	for {
		select {
		case env := <-send:
			if err := conn.WriteJSON(env); err != nil {
				zap.L().Warn("realtime write failed", zap.Error(err))
			}
		case <-done:
			return
		}
	}
}

func (c *Client) heartbeatLoop(send chan<- Envelope, done <-chan struct{}) {
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			select {
			case send <- heartbeatEnvelope():
				zap.L().Debug("sent realtime heartbeat")
			case <-done:
				return
			}
		case <-done:
			return
		}
	}
}

func (c *Client) readLoop(conn *websocket.Conn, b *bus.Bus, done <-chan struct{}) {
	// The reader owns the bus lifetime; closing it releases the consumer.
	defer b.Close()
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-done:
				// Deliberate disconnect; state already set.
			default:
				zap.L().Error("realtime websocket error", zap.Error(err))
				c.mu.Lock()
				c.shutdown(change.Errored(err.Error()))
				c.mu.Unlock()
			}
			return
		}

		ev, ok := ParseChange(raw)
		if !ok {
			continue
		}
		if err := b.Publish(ev); err != nil {
			zap.L().Warn("failed to publish realtime change", zap.Error(err))
		}
	}
}

// TestConnection opens the socket, sends the join and waits for the
// phx_reply acknowledging it. A socket that opens but never replies is
// reported as a failure.
func TestConnection(ctx context.Context, cfg config.SupabaseConfig) error {
	wsURL := cfg.RealtimeURL()
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return fmt.Errorf("websocket connection failed: %w", err)
	}
	defer conn.Close()

	join, err := joinEnvelope(cfg)
	if err != nil {
		return err
	}
	if err := conn.WriteJSON(join); err != nil {
		return fmt.Errorf("send join message: %w", err)
	}

	deadline := time.Now().Add(testReplyTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = conn.SetReadDeadline(deadline)
	for {
		var env Envelope
		if err := conn.ReadJSON(&env); err != nil {
			return fmt.Errorf("no join acknowledgement: %w", err)
		}
		if env.Event == "phx_reply" {
			return nil
		}
	}
}
