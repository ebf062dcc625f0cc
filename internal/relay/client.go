// Package relay is the best-effort notification relay for the Yellow
// ClearNode sandbox. Bets and session lifecycle events are mirrored to the
// relay over a WebSocket; delivery is never required for local correctness,
// so every failure here degrades to a log line.
package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/betchannel/internal/domain"
)

const (
	// writeWait is the time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// pongWait is the time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// pingPeriod sends pings to the peer at this interval. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// reconnectDelay is the base delay before attempting to reconnect.
	reconnectDelay = 2 * time.Second

	// maxReconnectDelay caps the exponential backoff for reconnection.
	maxReconnectDelay = 60 * time.Second
)

// protocolVersion is sent with every outbound message.
const protocolVersion = "1.0"

// Config holds the relay connection parameters.
type Config struct {
	URL string
	// RequestTimeout bounds the wait for session open/close acknowledgments.
	RequestTimeout time.Duration
	// QueueSize is the capacity of the outbound bet queue. When the queue is
	// full, new bets are dropped rather than blocking the caller.
	QueueSize int
}

// envelope is the outbound message shape shared by all relay messages.
type envelope struct {
	Type      string `json:"type"`
	Version   string `json:"version"`
	Nonce     string `json:"nonce"`
	Timestamp int64  `json:"timestamp"`

	// open_session / close_session
	User      string  `json:"user,omitempty"`
	Deposit   float64 `json:"deposit,omitempty"`
	SessionID string  `json:"session_id,omitempty"`

	// prediction_bet
	MarketID string `json:"marketId,omitempty"`
	Side     *bool  `json:"side,omitempty"`
	Amount   string `json:"amount,omitempty"`
}

// inbound is the subset of relay responses the client reads.
type inbound struct {
	Type      string `json:"type"`
	Nonce     string `json:"nonce"`
	SessionID string `json:"session_id"`
	Error     string `json:"error"`
}

// Client maintains a WebSocket connection to the relay, drains a bounded
// outbound queue, and matches session acknowledgments to pending requests.
type Client struct {
	url            string
	requestTimeout time.Duration
	logger         *slog.Logger

	conn *websocket.Conn
	mu   sync.RWMutex

	// outbound is drained by the writer goroutine. Bets are enqueued
	// non-blocking; session requests block briefly on a full queue.
	outbound chan envelope

	// pending maps request nonces to acknowledgment channels.
	pending   map[string]chan inbound
	pendingMu sync.Mutex

	closeOnce sync.Once
	done      chan struct{}
}

// NewClient creates a relay client. Call Run to establish the connection.
func NewClient(cfg Config, logger *slog.Logger) *Client {
	return &Client{
		url:            cfg.URL,
		requestTimeout: cfg.RequestTimeout,
		logger:         logger.With(slog.String("component", "relay_client")),
		outbound:       make(chan envelope, cfg.QueueSize),
		pending:        make(map[string]chan inbound),
		done:           make(chan struct{}),
	}
}

// Run connects and runs until ctx is cancelled or Close is called,
// reconnecting with exponential backoff on disconnect. The queue keeps
// accepting messages while disconnected; they are delivered after reconnect
// or dropped when the queue fills.
func (c *Client) Run(ctx context.Context) error {
	delay := reconnectDelay
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.done:
			return nil
		default:
		}

		err := c.runConnection(ctx)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		select {
		case <-c.done:
			return nil
		default:
		}

		c.logger.Warn("relay disconnected, reconnecting",
			slog.String("error", err.Error()),
			slog.Duration("delay", delay),
		)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.done:
			return nil
		case <-time.After(delay):
		}
		delay *= 2
		if delay > maxReconnectDelay {
			delay = maxReconnectDelay
		}
	}
}

// runConnection dials once and services the connection until it breaks.
func (c *Client) runConnection(ctx context.Context) error {
	dialer := websocket.Dialer{
		HandshakeTimeout: 15 * time.Second,
	}
	conn, _, err := dialer.DialContext(ctx, c.url, nil)
	if err != nil {
		return fmt.Errorf("relay: connect: %w", err)
	}

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
	c.logger.Info("relay connected", slog.String("url", c.url))

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	// connDone tears down the writer and ping loops when the read loop
	// exits, without closing the client itself.
	connDone := make(chan struct{})
	go c.writeLoop(conn, connDone)
	go c.pingLoop(conn, connDone)

	err = c.readLoop(conn)
	close(connDone)
	conn.Close()

	c.mu.Lock()
	c.conn = nil
	c.mu.Unlock()

	select {
	case <-c.done:
		return nil
	default:
	}
	return fmt.Errorf("relay: %w: %v", domain.ErrWSDisconnect, err)
}

// OpenSession mirrors a session open to the relay and waits up to the
// configured timeout for the relay-side session ID. Callers treat any error
// as "no relay session" and continue.
func (c *Client) OpenSession(ctx context.Context, userAddress string, deposit float64) (string, error) {
	msg := envelope{
		Type:      "open_session",
		Version:   protocolVersion,
		Nonce:     uuid.NewString(),
		Timestamp: time.Now().UnixMilli(),
		User:      userAddress,
		Deposit:   deposit,
	}

	resp, err := c.request(ctx, msg)
	if err != nil {
		return "", fmt.Errorf("relay: open session: %w", err)
	}
	if resp.Error != "" {
		return "", fmt.Errorf("relay: open session rejected: %s", resp.Error)
	}
	return resp.SessionID, nil
}

// CloseSession mirrors a session close to the relay. Best effort: the
// caller's close path does not depend on the result.
func (c *Client) CloseSession(ctx context.Context, relaySessionID string) error {
	msg := envelope{
		Type:      "close_session",
		Version:   protocolVersion,
		Nonce:     uuid.NewString(),
		Timestamp: time.Now().UnixMilli(),
		SessionID: relaySessionID,
	}

	resp, err := c.request(ctx, msg)
	if err != nil {
		return fmt.Errorf("relay: close session: %w", err)
	}
	if resp.Error != "" {
		return fmt.Errorf("relay: close session rejected: %s", resp.Error)
	}
	return nil
}

// SendBet enqueues a prediction_bet message. It never blocks: when the queue
// is full or the client is closed the bet is dropped with a warning.
func (c *Client) SendBet(bet domain.SessionBet) {
	side := bet.Side
	msg := envelope{
		Type:      "prediction_bet",
		Version:   protocolVersion,
		Nonce:     uuid.NewString(),
		Timestamp: time.Now().UnixMilli(),
		User:      bet.UserAddress,
		MarketID:  bet.MarketID,
		Side:      &side,
		Amount:    strconv.FormatFloat(bet.Amount, 'f', -1, 64),
	}

	select {
	case <-c.done:
		return
	default:
	}

	select {
	case c.outbound <- msg:
	default:
		c.logger.Warn("relay queue full, dropping bet",
			slog.String("market_id", bet.MarketID),
			slog.String("user", bet.UserAddress),
		)
	}
}

// Close shuts down the client and its connection.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		conn := c.conn
		c.mu.Unlock()

		close(c.done)
		if conn != nil {
			_ = conn.WriteMessage(
				websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			)
			conn.Close()
		}
	})
	return nil
}

// --------------------------------------------------------------------------
// Internal methods
// --------------------------------------------------------------------------

// request enqueues a message and waits for the matching acknowledgment.
func (c *Client) request(ctx context.Context, msg envelope) (inbound, error) {
	ack := make(chan inbound, 1)
	c.pendingMu.Lock()
	c.pending[msg.Nonce] = ack
	c.pendingMu.Unlock()
	defer func() {
		c.pendingMu.Lock()
		delete(c.pending, msg.Nonce)
		c.pendingMu.Unlock()
	}()

	timeout := c.requestTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case c.outbound <- msg:
	case <-timer.C:
		return inbound{}, fmt.Errorf("queue full after %s", timeout)
	case <-ctx.Done():
		return inbound{}, ctx.Err()
	case <-c.done:
		return inbound{}, domain.ErrWSDisconnect
	}

	select {
	case resp := <-ack:
		return resp, nil
	case <-timer.C:
		return inbound{}, fmt.Errorf("no acknowledgment after %s", timeout)
	case <-ctx.Done():
		return inbound{}, ctx.Err()
	case <-c.done:
		return inbound{}, domain.ErrWSDisconnect
	}
}

// writeLoop drains the outbound queue onto the connection. One writer per
// connection; gorilla/websocket allows only a single concurrent writer.
func (c *Client) writeLoop(conn *websocket.Conn, connDone <-chan struct{}) {
	for {
		select {
		case <-c.done:
			return
		case <-connDone:
			return
		case msg := <-c.outbound:
			data, err := json.Marshal(msg)
			if err != nil {
				c.logger.Error("marshal relay message", slog.String("error", err.Error()))
				continue
			}
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				c.logger.Warn("relay write failed, dropping message",
					slog.String("type", msg.Type),
					slog.String("error", err.Error()),
				)
				return
			}
		}
	}
}

// pingLoop keeps the connection alive.
func (c *Client) pingLoop(conn *websocket.Conn, connDone <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-connDone:
			return
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readLoop reads relay responses and routes acknowledgments to pending
// requests. Unsolicited messages are logged at debug and dropped.
func (c *Client) readLoop(conn *websocket.Conn) error {
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return err
		}

		var msg inbound
		if err := json.Unmarshal(raw, &msg); err != nil {
			continue
		}

		if msg.Nonce != "" {
			c.pendingMu.Lock()
			ack, ok := c.pending[msg.Nonce]
			c.pendingMu.Unlock()
			if ok {
				select {
				case ack <- msg:
				default:
				}
				continue
			}
		}

		c.logger.Debug("relay message", slog.String("type", msg.Type))
	}
}
