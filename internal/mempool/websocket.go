package mempool

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 1024 * 1024 // 1MB
)

// WSClient manages a WebSocket connection to the chain node and a single
// newPendingTransactions subscription over it.
type WSClient struct {
	url  string
	conn *websocket.Conn
	mu   sync.Mutex

	// Subscription tracking
	subscriptionID string
	requestID      atomic.Int64

	// Delivered pending-tx hashes
	hashCh    chan string
	done      chan struct{}
	closeOnce sync.Once

	// State
	connected atomic.Bool
}

// NewWSClient creates a new WebSocket client.
func NewWSClient(url string) *WSClient {
	return &WSClient{
		url:    url,
		hashCh: make(chan string, 1000),
		done:   make(chan struct{}),
	}
}

// Connect establishes a WebSocket connection.
func (c *WSClient) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	dialer := websocket.DefaultDialer
	conn, _, err := dialer.DialContext(ctx, c.url, nil)
	if err != nil {
		return fmt.Errorf("dialing websocket: %w", err)
	}

	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	c.conn = conn
	c.connected.Store(true)

	log.Info().Str("url", c.url).Msg("WebSocket connected")
	return nil
}

// Close closes the WebSocket connection.
func (c *WSClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.closeOnce.Do(func() { close(c.done) })
	c.connected.Store(false)

	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

// IsConnected returns true if the client is connected.
func (c *WSClient) IsConnected() bool {
	return c.connected.Load()
}

// Subscribe requests a newPendingTransactions subscription.
func (c *WSClient) Subscribe(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return fmt.Errorf("not connected")
	}

	id := c.requestID.Add(1)
	req := map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      id,
		"method":  "eth_subscribe",
		"params":  []interface{}{"newPendingTransactions"},
	}

	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.conn.WriteJSON(req); err != nil {
		return fmt.Errorf("writing subscribe request: %w", err)
	}

	log.Info().Int64("id", id).Msg("Sent pending-transaction subscription request")
	return nil
}

// ReadMessages reads messages from the WebSocket and delivers pending-tx
// hashes to the hash channel. Returns when the connection drops or the
// context is canceled.
func (c *WSClient) ReadMessages(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.done:
			return nil
		default:
		}

		c.mu.Lock()
		conn := c.conn
		c.mu.Unlock()

		if conn == nil {
			return fmt.Errorf("connection closed")
		}

		_, message, err := conn.ReadMessage()
		if err != nil {
			c.connected.Store(false)
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return fmt.Errorf("reading message: %w", err)
		}

		var msg struct {
			JSONRPC string          `json:"jsonrpc"`
			ID      *int64          `json:"id"`
			Result  json.RawMessage `json:"result"`
			Method  string          `json:"method"`
			Params  json.RawMessage `json:"params"`
			Error   *struct {
				Code    int    `json:"code"`
				Message string `json:"message"`
			} `json:"error"`
		}

		if err := json.Unmarshal(message, &msg); err != nil {
			log.Warn().Err(err).Str("message", string(message)).Msg("Failed to parse message")
			continue
		}

		// Handle subscription response
		if msg.ID != nil && msg.Result != nil {
			var subID string
			if err := json.Unmarshal(msg.Result, &subID); err == nil && subID != "" {
				c.mu.Lock()
				c.subscriptionID = subID
				c.mu.Unlock()
				log.Info().Str("subscription_id", subID).Msg("Subscription confirmed")
			}
			continue
		}

		// Handle errors
		if msg.Error != nil {
			log.Error().
				Int("code", msg.Error.Code).
				Str("message", msg.Error.Message).
				Msg("WebSocket error")
			continue
		}

		// Handle subscription notifications: result is the pending tx hash
		if msg.Method == "eth_subscription" && msg.Params != nil {
			var notification struct {
				Subscription string `json:"subscription"`
				Result       string `json:"result"`
			}
			if err := json.Unmarshal(msg.Params, &notification); err != nil {
				log.Warn().Err(err).Msg("Failed to parse notification")
				continue
			}
			if notification.Result == "" {
				continue
			}
			select {
			case c.hashCh <- notification.Result:
			default:
				log.Warn().Msg("Hash channel full, discarding pending transaction")
			}
		}
	}
}

// Hashes returns the channel of delivered pending-tx hashes.
func (c *WSClient) Hashes() <-chan string {
	return c.hashCh
}

// Ping sends a ping to keep the connection alive.
func (c *WSClient) Ping(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return fmt.Errorf("not connected")
	}

	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(websocket.PingMessage, nil)
}

// StartPingLoop starts a goroutine that sends periodic pings.
func (c *WSClient) StartPingLoop(ctx context.Context) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.done:
			return
		case <-ticker.C:
			if err := c.Ping(ctx); err != nil {
				log.Warn().Err(err).Msg("Ping failed")
			}
		}
	}
}
