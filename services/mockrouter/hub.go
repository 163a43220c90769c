// Copyright (C) 2025 Seventeen Sierra LLC
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package mockrouter

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/seventeensierra/proposal-prepper/pkg/logging"
)

var upgrader = websocket.Upgrader{
	// The mock backend serves local tooling; origin checks add nothing.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Hub broadcasts push frames to every connected WebSocket client.
//
// # Thread Safety
//
// Safe for concurrent use. Writes to each connection are serialized
// through the hub mutex.
type Hub struct {
	logger *logging.Logger

	mu    sync.Mutex
	conns map[*websocket.Conn]bool
}

// NewHub creates an empty hub.
func NewHub(logger *logging.Logger) *Hub {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Hub{
		logger: logger,
		conns:  make(map[*websocket.Conn]bool),
	}
}

// HandleUpgrade upgrades an HTTP request and registers the
// connection. The read loop only drains (and discards) client frames
// so pings and closes are processed.
func (h *Hub) HandleUpgrade(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "error", err.Error())
		return
	}

	h.mu.Lock()
	h.conns[conn] = true
	total := len(h.conns)
	h.mu.Unlock()
	h.logger.Info("websocket client connected", "clients", total)

	go func() {
		defer h.drop(conn)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

func (h *Hub) drop(conn *websocket.Conn) {
	h.mu.Lock()
	delete(h.conns, conn)
	h.mu.Unlock()
	conn.Close()
}

// Broadcast sends one frame to every connected client. Failed writes
// drop the client.
func (h *Hub) Broadcast(frameType, sessionID string, data any) {
	payload, err := json.Marshal(data)
	if err != nil {
		h.logger.Warn("broadcast encode failed", "type", frameType, "error", err.Error())
		return
	}
	frame, err := json.Marshal(map[string]any{
		"type":      frameType,
		"sessionId": sessionID,
		"data":      json.RawMessage(payload),
	})
	if err != nil {
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for conn := range h.conns {
		if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
			delete(h.conns, conn)
			conn.Close()
		}
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.conns)
}

// CloseAll disconnects every client.
func (h *Hub) CloseAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for conn := range h.conns {
		conn.Close()
		delete(h.conns, conn)
	}
}
