// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package handlers

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/AleutianAI/AleutianCollab/services/collab/datatypes"
	"github.com/AleutianAI/AleutianCollab/services/collab/delta"
	"github.com/AleutianAI/AleutianCollab/services/collab/observability"
	"github.com/AleutianAI/AleutianCollab/services/collab/session"
)

// WSConnection is a session.ClientConnection over a gorilla websocket.
//
// # Description
//
// Sends never block: frames are encoded and queued on a buffered channel
// drained by a single writer goroutine, which also sends pings. A client
// that falls a full buffer behind is dropped; it recovers by reconnecting
// and receiving a fresh init.
//
// # Thread Safety
//
// All methods are safe for concurrent use. Only the writer goroutine
// writes to the socket.
type WSConnection struct {
	id      string
	ws      *websocket.Conn
	send    chan []byte
	done    chan struct{}
	once    sync.Once
	cfg     WSConfig
	metrics *observability.CollabMetrics
	logger  *slog.Logger
}

// newWSConnection wraps ws. Call writePump in its own goroutine.
func newWSConnection(id string, ws *websocket.Conn, cfg WSConfig, metrics *observability.CollabMetrics, logger *slog.Logger) *WSConnection {
	return &WSConnection{
		id:      id,
		ws:      ws,
		send:    make(chan []byte, cfg.SendBuffer),
		done:    make(chan struct{}),
		cfg:     cfg,
		metrics: metrics,
		logger:  logger.With("connection_id", id),
	}
}

// ID returns the connection's unique ID.
func (c *WSConnection) ID() string {
	return c.id
}

func (c *WSConnection) Send(v any) {
	if !c.IsOpen() {
		return
	}
	data, err := json.Marshal(v)
	if err != nil {
		c.logger.Error("failed to encode outbound message", "error", err)
		return
	}

	select {
	case c.send <- data:
		c.metrics.RecordMessage("out", messageType(v))
	case <-c.done:
	default:
		c.metrics.RecordDropped()
		c.logger.Warn("send buffer full, dropping slow client", "buffer", cap(c.send))
		c.Close()
	}
}

func (c *WSConnection) SendError(msg string) {
	c.Send(datatypes.ErrorMessage{Type: datatypes.TypeError, Error: msg})
}

func (c *WSConnection) SendDelta(d delta.Delta, version int, author, targetID string) {
	c.Send(datatypes.DeltaMessage{
		Type:     datatypes.TypeDelta,
		Delta:    d,
		Version:  version,
		Author:   author,
		TargetID: targetID,
	})
}

func (c *WSConnection) SendUserJoined(userID string) {
	c.Send(datatypes.PresenceMessage{Type: datatypes.TypeUserJoined, UserID: userID})
}

func (c *WSConnection) SendUserLeft(userID string) {
	c.Send(datatypes.PresenceMessage{Type: datatypes.TypeUserLeft, UserID: userID})
}

func (c *WSConnection) SendCursorUpdate(userID string, cursor datatypes.Cursor) {
	c.Send(datatypes.CursorMessage{Type: datatypes.TypeCursor, UserID: userID, Cursor: cursor})
}

// Close stops the writer, which sends a close frame and closes the socket.
// Safe to call repeatedly.
func (c *WSConnection) Close() {
	c.once.Do(func() { close(c.done) })
}

func (c *WSConnection) IsOpen() bool {
	select {
	case <-c.done:
		return false
	default:
		return true
	}
}

// writePump drains the send queue until Close, then closes the socket.
func (c *WSConnection) writePump() {
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		_ = c.ws.Close()
	}()

	for {
		select {
		case data := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
			if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
				c.logger.Warn("failed to write websocket message", "error", err)
				c.Close()
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.Close()
				return
			}
		case <-c.done:
			c.flush()
			_ = c.ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(c.cfg.WriteTimeout))
			return
		}
	}
}

// flush writes whatever is still queued, best effort.
func (c *WSConnection) flush() {
	for {
		select {
		case data := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
			if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		default:
			return
		}
	}
}

// messageType returns the wire tag of an outbound message for metrics.
func messageType(v any) string {
	switch m := v.(type) {
	case datatypes.InitMessage:
		return m.Type
	case datatypes.DeltaMessage:
		return m.Type
	case datatypes.AckMessage:
		return m.Type
	case datatypes.PresenceMessage:
		return m.Type
	case datatypes.CursorMessage:
		return m.Type
	case datatypes.ErrorMessage:
		return m.Type
	case datatypes.TransformMessage:
		return m.Type
	case datatypes.NoteCreatedMessage:
		return m.Type
	case datatypes.SyncMessage:
		return m.Type
	default:
		return "other"
	}
}

var _ session.ClientConnection = (*WSConnection)(nil)
