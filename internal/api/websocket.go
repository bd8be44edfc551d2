package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/p-n-ai/study-tracker/internal/progress"
)

const socketWriteTimeout = 5 * time.Second

// Message types pushed to the client.
const (
	MessageSnapshot = "snapshot"
	MessageError    = "error"
)

type snapshotMessage struct {
	Type string        `json:"type"`
	List progress.Tree `json:"list"`
}

type errorMessage struct {
	Type  string `json:"type"`
	Error string `json:"error"`
}

// handleWebSocket binds one session controller to the connection for its
// lifetime. Every observed tree is pushed as a snapshot; only the newest
// pending tree is kept when the client reads slowly.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	user, err := s.authenticate(r, true)
	if err != nil {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": err.Error()})
		return
	}

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		slog.Warn("websocket accept failed", "error", err)
		return
	}
	defer conn.CloseNow()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	ctrl := s.newController()
	updates := make(chan progress.Tree, 1)
	stopObserving := ctrl.Observe(func(t progress.Tree) {
		select {
		case <-updates:
		default:
		}
		select {
		case updates <- t:
		default:
		}
	})
	defer func() {
		stopObserving()
		ctrl.Stop()
		ctrl.Wait()
	}()

	ctrl.Start(ctx, user)
	slog.Info("websocket connected", "user_id", user.ID, "anonymous", user.IsAnonymous)

	go s.pushSnapshots(ctx, cancel, conn, updates)

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			logClose(user.ID, err)
			return
		}

		var cmd Command
		if err := json.Unmarshal(data, &cmd); err != nil {
			s.sendError(ctx, conn, "invalid command: "+err.Error())
			continue
		}
		if err := s.dispatch(ctrl, cmd); err != nil {
			s.sendError(ctx, conn, err.Error())
		}
	}
}

func (s *Server) pushSnapshots(ctx context.Context, cancel context.CancelFunc, conn *websocket.Conn, updates <-chan progress.Tree) {
	defer cancel()
	for {
		select {
		case <-ctx.Done():
			return
		case t := <-updates:
			writeCtx, done := context.WithTimeout(ctx, socketWriteTimeout)
			err := wsjson.Write(writeCtx, conn, snapshotMessage{Type: MessageSnapshot, List: t})
			done()
			if err != nil {
				slog.Debug("snapshot push failed", "error", err)
				return
			}
		}
	}
}

func (s *Server) sendError(ctx context.Context, conn *websocket.Conn, msg string) {
	ctx, cancel := context.WithTimeout(ctx, socketWriteTimeout)
	defer cancel()
	if err := wsjson.Write(ctx, conn, errorMessage{Type: MessageError, Error: msg}); err != nil {
		slog.Debug("error reply failed", "error", err)
	}
}

func logClose(userID string, err error) {
	switch websocket.CloseStatus(err) {
	case websocket.StatusNormalClosure, websocket.StatusGoingAway:
		slog.Info("websocket closed", "user_id", userID)
	default:
		if errors.Is(err, context.Canceled) {
			slog.Info("websocket closed", "user_id", userID)
			return
		}
		slog.Warn("websocket read failed", "user_id", userID, "error", err)
	}
}
