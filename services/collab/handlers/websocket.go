// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package handlers exposes the document manager over HTTP and websockets.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/AleutianAI/AleutianCollab/services/collab/datatypes"
	"github.com/AleutianAI/AleutianCollab/services/collab/geometry"
	"github.com/AleutianAI/AleutianCollab/services/collab/manager"
	"github.com/AleutianAI/AleutianCollab/services/collab/observability"
	"github.com/AleutianAI/AleutianCollab/services/collab/session"
)

// WSConfig tunes the websocket transport.
//
// # Fields
//
//   - ReadLimit: Largest inbound frame in bytes.
//   - SendBuffer: Outbound frames queued per connection before the client
//     is dropped as too slow.
//   - MessagesPerSecond, Burst: Per-connection inbound token bucket.
//   - WriteTimeout: Deadline for one outbound write.
//   - PongTimeout: A connection with no inbound traffic or pong for this
//     long is closed. Must exceed PingInterval.
//   - PingInterval: How often the server pings.
type WSConfig struct {
	ReadLimit         int64         `yaml:"read_limit" validate:"gt=0"`
	SendBuffer        int           `yaml:"send_buffer" validate:"gt=0"`
	MessagesPerSecond float64       `yaml:"messages_per_second" validate:"gt=0"`
	Burst             int           `yaml:"burst" validate:"gt=0"`
	WriteTimeout      time.Duration `yaml:"write_timeout" validate:"gt=0"`
	PongTimeout       time.Duration `yaml:"pong_timeout" validate:"gtfield=PingInterval"`
	PingInterval      time.Duration `yaml:"ping_interval" validate:"gt=0"`
}

// DefaultWSConfig returns production defaults.
func DefaultWSConfig() WSConfig {
	return WSConfig{
		ReadLimit:         1 << 20,
		SendBuffer:        256,
		MessagesPerSecond: 50,
		Burst:             100,
		WriteTimeout:      10 * time.Second,
		PongTimeout:       60 * time.Second,
		PingInterval:      25 * time.Second,
	}
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
}

var messageValidate = validator.New()

// leaveTimeout bounds the snapshot written when a dropped client was the
// last member.
const leaveTimeout = 10 * time.Second

// HandleCollabWebSocket upgrades the request and serves one client.
//
// # Description
//
// The client must send join first. Afterwards every frame is routed to
// the manager under the joined user ID, and failures come back as error
// frames on the same connection. On disconnect the user leaves its
// document.
//
// # Inputs
//
//   - mgr: The document manager.
//   - cfg: Transport limits.
//   - metrics: May be nil.
func HandleCollabWebSocket(mgr *manager.DocumentManager, cfg WSConfig, metrics *observability.CollabMetrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			slog.Error("failed to upgrade the websocket", "error", err)
			return
		}

		conn := newWSConnection(uuid.NewString(), ws, cfg, metrics, slog.Default())
		go conn.writePump()

		client := &wsClient{
			mgr:     mgr,
			conn:    conn,
			metrics: metrics,
			limiter: rate.NewLimiter(rate.Limit(cfg.MessagesPerSecond), cfg.Burst),
			logger:  conn.logger,
		}
		client.logger.Info("websocket client connected", "remote", c.ClientIP())
		client.readLoop(c.Request.Context(), ws, cfg)
	}
}

// wsClient is the read side of one connection.
type wsClient struct {
	mgr     *manager.DocumentManager
	conn    *WSConnection
	metrics *observability.CollabMetrics
	limiter *rate.Limiter
	logger  *slog.Logger

	// userID is empty until join.
	userID string
}

func (w *wsClient) readLoop(ctx context.Context, ws *websocket.Conn, cfg WSConfig) {
	defer w.disconnect()

	ws.SetReadLimit(cfg.ReadLimit)
	_ = ws.SetReadDeadline(time.Now().Add(cfg.PongTimeout))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(cfg.PongTimeout))
	})

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				w.logger.Warn("websocket read failed", "error", err)
			} else {
				w.logger.Info("websocket client disconnected")
			}
			return
		}
		if !w.conn.IsOpen() {
			return
		}
		_ = ws.SetReadDeadline(time.Now().Add(cfg.PongTimeout))

		if !w.limiter.Allow() {
			w.metrics.RecordRateLimited()
			w.conn.SendError("rate limit exceeded")
			continue
		}

		var msg datatypes.ClientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			w.metrics.RecordMessage("in", "invalid")
			w.conn.SendError("invalid message: " + err.Error())
			continue
		}
		if err := messageValidate.Struct(msg); err != nil {
			w.metrics.RecordMessage("in", "invalid")
			w.conn.SendError("invalid message: " + err.Error())
			continue
		}
		w.metrics.RecordMessage("in", msg.Type)
		w.dispatch(ctx, msg)
	}
}

// dispatch routes one validated frame.
func (w *wsClient) dispatch(ctx context.Context, msg datatypes.ClientMessage) {
	if msg.Type == datatypes.TypeJoin {
		w.join(ctx, msg)
		return
	}
	if w.userID == "" {
		w.conn.SendError("join a document first")
		return
	}

	switch msg.Type {
	case datatypes.TypeDelta:
		req, err := msg.DeltaRequest()
		if err != nil {
			w.reject(err)
			return
		}
		res, err := w.mgr.HandleOperation(ctx, w.userID, req)
		w.ack(res, err)

	case datatypes.TypeEdit:
		res, err := w.mgr.HandleEdit(ctx, w.userID, msg.TargetID, msg.BaseVersion, msg.Position, msg.EditOp())
		w.ack(res, err)

	case datatypes.TypeCreateNote:
		note := geometry.Note{}
		if msg.Note != nil {
			note = *msg.Note
		}
		res, err := w.mgr.CreateNote(ctx, w.userID, msg.TargetID, msg.Text, note)
		w.ack(res, err)

	case datatypes.TypeUndo:
		// The author has not applied an undo locally, so it gets the delta
		// itself rather than an ack.
		res, err := w.mgr.Undo(ctx, w.userID, msg.TargetID)
		if err != nil {
			w.reject(err)
			return
		}
		w.conn.SendDelta(res.Delta, res.Version, w.userID, res.TargetID)

	case datatypes.TypeTransform:
		req, err := msg.TransformRequest()
		if err != nil {
			w.reject(err)
			return
		}
		if _, err := w.mgr.HandleGeometry(ctx, w.userID, req); err != nil {
			w.reject(err)
		}

	case datatypes.TypeCursor:
		if msg.Cursor == nil {
			w.conn.SendError("cursor message without cursor")
			return
		}
		if err := w.mgr.UpdateCursor(w.userID, *msg.Cursor); err != nil {
			w.reject(err)
		}

	case datatypes.TypeSync:
		out, err := w.mgr.Sync(w.userID, msg.SinceVersion, msg.TargetID, msg.Compact)
		if err != nil {
			w.reject(err)
			return
		}
		w.conn.Send(out)

	case datatypes.TypeLeave:
		if err := w.mgr.LeaveSession(ctx, w.userID); err != nil {
			w.logger.Warn("leave failed", "user_id", w.userID, "error", err)
		}
		w.userID = ""
	}
}

func (w *wsClient) join(ctx context.Context, msg datatypes.ClientMessage) {
	userID := msg.UserID
	if userID == "" {
		userID = uuid.NewString()
	}
	if w.userID != "" && w.userID != userID {
		if err := w.mgr.LeaveSession(ctx, w.userID); err != nil {
			w.logger.Warn("leave before rejoin failed", "user_id", w.userID, "error", err)
		}
	}

	if _, err := w.mgr.JoinSession(ctx, msg.DocID, userID, w.conn, msg.InitialContent); err != nil {
		w.logger.Error("join failed", "document_id", msg.DocID, "user_id", userID, "error", err)
		w.conn.SendError("join failed: " + err.Error())
		return
	}
	w.userID = userID
	w.logger = w.conn.logger.With("user_id", userID, "document_id", msg.DocID)
}

// ack confirms an accepted edit to its author, or reports the rejection.
func (w *wsClient) ack(res session.Result, err error) {
	if err != nil {
		w.reject(err)
		return
	}
	w.conn.Send(datatypes.AckMessage{
		Type:     datatypes.TypeAck,
		Delta:    res.Delta,
		Version:  res.Version,
		TargetID: res.TargetID,
	})
}

// reject sends err to the client. A stale base is followed by a fresh init
// since the client cannot rebase on its own.
func (w *wsClient) reject(err error) {
	w.logger.Debug("request rejected", "reason", manager.Reason(err), "error", err)
	w.conn.SendError(err.Error())
	if errors.Is(err, session.ErrStaleBase) {
		if rerr := w.mgr.Resync(w.userID); rerr != nil {
			w.logger.Warn("resync failed", "error", rerr)
		}
	}
}

// disconnect leaves the document unless the user has since joined from
// another connection, then closes this one.
func (w *wsClient) disconnect() {
	defer w.conn.Close()
	if w.userID == "" || !w.ownsMembership() {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), leaveTimeout)
	defer cancel()
	if err := w.mgr.LeaveSession(ctx, w.userID); err != nil {
		w.logger.Warn("leave on disconnect failed", "error", err)
	}
}

func (w *wsClient) ownsMembership() bool {
	docID, ok := w.mgr.GetUserDocument(w.userID)
	if !ok {
		return false
	}
	s, ok := w.mgr.GetSession(docID)
	if !ok {
		return false
	}
	u, ok := s.User(w.userID)
	return ok && u.Connection == session.ClientConnection(w.conn)
}
