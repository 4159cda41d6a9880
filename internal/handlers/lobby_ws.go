// internal/handlers/lobby_ws.go
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"github.com/jason-s-yu/lobbyd/internal/middleware"
	"github.com/jason-s-yu/lobbyd/internal/session"
	"github.com/sirupsen/logrus"
)

// Subprotocol is the only websocket subprotocol accepted on /lobby/ws.
const Subprotocol = "lobby"

const (
	readLimit    = 16 << 10
	writeTimeout = 5 * time.Second
	pingInterval = 30 * time.Second
	pingTimeout  = 15 * time.Second
)

// LobbyWSHandler upgrades to a websocket and bridges it to the session server. Every socket
// gets a fresh connection id. Cancelling shutdown closes all sockets with ServerShutdownError.
func LobbyWSHandler(shutdown context.Context, logger *logrus.Logger, srv *session.Server, origins []string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		c, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			Subprotocols:   []string{Subprotocol},
			OriginPatterns: origins,
		})
		if err != nil {
			logger.Warnf("websocket accept error: %v", err)
			return
		}
		defer c.CloseNow()

		if c.Subprotocol() != Subprotocol {
			c.Close(BadSubprotocolError, "client must speak the lobby subprotocol")
			return
		}
		c.SetReadLimit(readLimit)

		connID := uuid.NewString()
		middleware.LogWebSocketConnect(logger, connID, r.RemoteAddr)

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()
		stop := context.AfterFunc(shutdown, func() {
			c.Close(ServerShutdownError, "server shutting down")
		})
		defer stop()

		conn := srv.Connect(connID)
		go writePump(ctx, cancel, c, conn, logger)

		err = readPump(ctx, c, srv, connID, logger)

		srv.Disconnect(connID)
		middleware.LogWebSocketDisconnect(logger, connID, r.RemoteAddr, err)
	}
}

// readPump feeds inbound text frames to the session server until the socket closes.
// A normal close returns nil.
func readPump(ctx context.Context, c *websocket.Conn, srv *session.Server, connID string, logger *logrus.Logger) error {
	for {
		typ, msg, err := c.Read(ctx)
		if err != nil {
			status := websocket.CloseStatus(err)
			if status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway || errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		}
		if typ != websocket.MessageText {
			logger.WithField("conn", connID).Warnf("ignoring non-text message type %d", typ)
			continue
		}
		srv.Handle(connID, msg)
	}
}

// writePump drains the connection's outbox onto the socket and keeps it alive with pings.
// It cancels ctx when the socket can no longer be written so the read side stops too.
func writePump(ctx context.Context, cancel context.CancelFunc, c *websocket.Conn, conn *session.Conn, logger *logrus.Logger) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-conn.Outbox():
			if !ok {
				return
			}
			data, err := json.Marshal(ev)
			if err != nil {
				logger.WithField("conn", conn.ID).Warnf("failed to marshal %s event: %v", ev.Type, err)
				continue
			}

			writeCtx, writeCancel := context.WithTimeout(ctx, writeTimeout)
			err = c.Write(writeCtx, websocket.MessageText, data)
			writeCancel()
			if err != nil {
				logger.WithField("conn", conn.ID).Warnf("failed to write to websocket: %v", err)
				return
			}
		case <-ticker.C:
			pingCtx, pingCancel := context.WithTimeout(ctx, pingTimeout)
			err := c.Ping(pingCtx)
			pingCancel()
			if err != nil {
				logger.WithField("conn", conn.ID).Warnf("ping failed, assuming disconnect: %v", err)
				return
			}
		}
	}
}
