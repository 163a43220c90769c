// Copyright (C) 2025 Seventeen Sierra LLC
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package router

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/seventeensierra/proposal-prepper/pkg/config"
	"github.com/seventeensierra/proposal-prepper/pkg/logging"
)

// ConnState is the lifecycle state of the push channel.
type ConnState int32

const (
	// StateDisconnected means no connection exists and none is being
	// attempted. The initial state, and the state after Close or after
	// the reconnect budget is exhausted.
	StateDisconnected ConnState = iota

	// StateConnecting means the first Connect dial is in flight.
	StateConnecting

	// StateConnected means frames are flowing.
	StateConnected

	// StateReconnecting means the connection dropped and automatic
	// reconnection is in progress.
	StateReconnecting
)

// String returns the lowercase state name.
func (s ConnState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	default:
		return "unknown"
	}
}

// MessageHandler receives one decoded push frame.
type MessageHandler func(msg Message)

// Subscription is the handle returned by Subscribe, used to cancel
// that one registration.
type Subscription struct {
	topic string
	id    uint64
}

// Topic returns the topic this subscription listens on.
func (s *Subscription) Topic() string {
	return s.topic
}

// SocketClient maintains the WebSocket push channel to the AI Router
// service: real-time upload and analysis progress frames, fanned out
// to topic subscribers.
//
// # Reconnection
//
// When an established connection drops, the client retries with
// linearly growing waits (attempt N waits N*ReconnectInterval) up to
// MaxReconnectAttempts consecutive failures, then gives up and goes
// Disconnected. A successful reconnect resets the failure counter.
//
// # Thread Safety
//
// Safe for concurrent use. Handlers run on the read-loop goroutine;
// a slow handler delays delivery of subsequent frames.
type SocketClient struct {
	url               string
	reconnectInterval time.Duration
	maxReconnects     int
	logger            *logging.Logger

	mu       sync.Mutex
	conn     *websocket.Conn
	state    ConnState
	closed   bool
	nextID   uint64
	handlers map[string]map[uint64]MessageHandler

	// sleep is swapped in tests to skip real reconnect waits.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewSocketClient creates a push-channel client for the service at
// baseURL. The WebSocket endpoint is derived from the HTTP base:
// "http://host" becomes "ws://host/ws" (and https becomes wss).
func NewSocketClient(baseURL string, cfg config.WebsocketConfig, logger *logging.Logger) *SocketClient {
	if logger == nil {
		logger = logging.Nop()
	}
	return &SocketClient{
		url:               deriveSocketURL(baseURL),
		reconnectInterval: cfg.ReconnectInterval,
		maxReconnects:     cfg.MaxReconnectAttempts,
		logger:            logger,
		state:             StateDisconnected,
		handlers:          make(map[string]map[uint64]MessageHandler),
		sleep:             sleepCtx,
	}
}

// deriveSocketURL maps an HTTP base URL to its WebSocket endpoint.
func deriveSocketURL(baseURL string) string {
	u := baseURL
	switch {
	case strings.HasPrefix(u, "https://"):
		u = "wss://" + strings.TrimPrefix(u, "https://")
	case strings.HasPrefix(u, "http://"):
		u = "ws://" + strings.TrimPrefix(u, "http://")
	}
	return strings.TrimSuffix(u, "/") + "/ws"
}

// URL returns the derived WebSocket endpoint.
func (c *SocketClient) URL() string {
	return c.url
}

// State returns the current connection state.
func (c *SocketClient) State() ConnState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Connect dials the push channel and starts the read loop. Calling
// Connect while already connected is a no-op.
//
// The context bounds the dial only; the read loop outlives it and runs
// until Close or an unrecoverable reconnect failure.
func (c *SocketClient) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return NewError(CodeNetworkError, "socket client is closed")
	}
	if c.state == StateConnected || c.state == StateConnecting || c.state == StateReconnecting {
		c.mu.Unlock()
		return nil
	}
	c.state = StateConnecting
	c.mu.Unlock()

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.url, nil)
	if err != nil {
		c.mu.Lock()
		c.state = StateDisconnected
		c.mu.Unlock()
		return &Error{Code: classifyErr(err), Message: "WebSocket connect failed: " + err.Error()}
	}

	c.mu.Lock()
	c.conn = conn
	c.state = StateConnected
	c.mu.Unlock()

	c.logger.Info("websocket connected", "url", c.url)
	go c.readLoop(conn)
	return nil
}

// readLoop drains frames from conn until it fails, then hands off to
// the reconnect loop unless the client was closed.
func (c *SocketClient) readLoop(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			conn.Close()
			c.mu.Lock()
			closed := c.closed
			if c.conn == conn {
				c.conn = nil
			}
			c.mu.Unlock()
			if closed {
				return
			}
			c.logger.Warn("websocket read failed", "error", err.Error())
			c.reconnect()
			return
		}
		c.dispatch(data)
	}
}

// dispatch decodes one frame and fans it out to the topic's
// subscribers. Malformed frames are logged and dropped; one bad frame
// must not take the channel down.
func (c *SocketClient) dispatch(data []byte) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		c.logger.Warn("dropping malformed websocket frame", "error", err.Error())
		wsMessages.WithLabelValues("malformed").Inc()
		return
	}
	wsMessages.WithLabelValues(msg.Type).Inc()

	c.mu.Lock()
	subs := make([]MessageHandler, 0, len(c.handlers[msg.Type]))
	for _, h := range c.handlers[msg.Type] {
		subs = append(subs, h)
	}
	c.mu.Unlock()

	for _, h := range subs {
		h(msg)
	}
}

// reconnect retries the dial with linear backoff until it succeeds or
// the attempt budget is exhausted.
func (c *SocketClient) reconnect() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.state = StateReconnecting
	c.mu.Unlock()

	for attempt := 1; attempt <= c.maxReconnects; attempt++ {
		if err := c.sleep(context.Background(), c.reconnectInterval*time.Duration(attempt)); err != nil {
			break
		}

		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			return
		}
		c.mu.Unlock()

		wsReconnects.Inc()
		conn, _, err := websocket.DefaultDialer.Dial(c.url, nil)
		if err != nil {
			c.logger.Warn("websocket reconnect failed",
				"attempt", attempt,
				"max_attempts", c.maxReconnects,
				"error", err.Error(),
			)
			continue
		}

		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			conn.Close()
			return
		}
		c.conn = conn
		c.state = StateConnected
		c.mu.Unlock()

		c.logger.Info("websocket reconnected", "attempt", attempt)
		go c.readLoop(conn)
		return
	}

	c.logger.Error("websocket reconnect budget exhausted", "max_attempts", c.maxReconnects)
	c.mu.Lock()
	c.state = StateDisconnected
	c.mu.Unlock()
}

// Subscribe registers handler for frames of the given topic and
// returns a handle for Unsubscribe. Multiple handlers per topic are
// delivered in registration-independent order.
func (c *SocketClient) Subscribe(topic string, handler MessageHandler) *Subscription {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextID++
	if c.handlers[topic] == nil {
		c.handlers[topic] = make(map[uint64]MessageHandler)
	}
	c.handlers[topic][c.nextID] = handler
	return &Subscription{topic: topic, id: c.nextID}
}

// Unsubscribe removes the registration behind sub. Unsubscribing an
// already-removed handle is a no-op.
func (c *SocketClient) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if m, ok := c.handlers[sub.topic]; ok {
		delete(m, sub.id)
		if len(m) == 0 {
			delete(c.handlers, sub.topic)
		}
	}
}

// Send transmits a JSON frame to the service. When the channel is not
// connected the frame is silently dropped and false is returned; push
// traffic is best-effort by contract.
func (c *SocketClient) Send(v any) bool {
	c.mu.Lock()
	conn := c.conn
	connected := c.state == StateConnected && conn != nil
	c.mu.Unlock()

	if !connected {
		return false
	}
	if err := conn.WriteJSON(v); err != nil {
		c.logger.Warn("websocket write failed", "error", err.Error())
		return false
	}
	return true
}

// Close tears down the connection and stops reconnection permanently.
// The client cannot be reused after Close.
func (c *SocketClient) Close() error {
	c.mu.Lock()
	c.closed = true
	c.state = StateDisconnected
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()

	if conn != nil {
		return conn.Close()
	}
	return nil
}
