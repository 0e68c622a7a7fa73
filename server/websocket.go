package server

import (
	"context"
	"errors"
	"net/http"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/becomeliminal/grace/engine"
	"github.com/becomeliminal/grace/memory"
)

// Client frame types.
const (
	TypeSetUser = "set_user"
	TypeMessage = "message"
	TypeCommand = "command"
)

// Server frame types.
const (
	TypeUserSet       = "user_set"
	TypeText          = "text"
	TypeCommandResult = "command_result"
	TypeError         = "error"
)

// ClientMessage is a frame sent by the client.
type ClientMessage struct {
	Type     string `json:"type"`
	Username string `json:"username,omitempty"`
	Content  string `json:"content,omitempty"`
}

// ServerMessage is a frame sent to the client.
type ServerMessage struct {
	Type     string              `json:"type"`
	Content  string              `json:"content,omitempty"`
	Username string              `json:"username,omitempty"`
	Route    *memory.RouteResult `json:"route,omitempty"`
}

// handleWebSocket runs one connection. The user is taken from the
// "username" query parameter or a set_user frame; messages before that are
// rejected.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	ctx := r.Context()
	session := engine.NewSession(r.URL.Query().Get("username"))
	s.logger.Debug("websocket connected", zap.String("session", session.ID), zap.String("user", session.UserID))

	for {
		var msg ClientMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Debug("websocket read ended", zap.String("session", session.ID), zap.Error(err))
			}
			return
		}

		reply := s.dispatch(ctx, session, msg)
		if err := conn.WriteJSON(reply); err != nil {
			s.logger.Debug("websocket write failed", zap.String("session", session.ID), zap.Error(err))
			return
		}
	}
}

func (s *Server) dispatch(ctx context.Context, session *engine.Session, msg ClientMessage) ServerMessage {
	switch msg.Type {
	case TypeSetUser:
		if msg.Username == "" {
			return ServerMessage{Type: TypeError, Content: "username is required"}
		}
		session.SetUser(msg.Username)
		return ServerMessage{Type: TypeUserSet, Username: msg.Username}

	case TypeMessage:
		out, err := s.engine.Chat(ctx, session, msg.Content)
		if err != nil {
			return s.errorFrame(session, err)
		}
		frameType := TypeText
		if out.Command {
			frameType = TypeCommandResult
		}
		return ServerMessage{Type: frameType, Content: out.Text, Route: &out.Route}

	case TypeCommand:
		out, err := s.engine.Command(ctx, session, msg.Content)
		if err != nil {
			return s.errorFrame(session, err)
		}
		return ServerMessage{Type: TypeCommandResult, Content: out.Text, Route: &out.Route}
	}
	return ServerMessage{Type: TypeError, Content: "unknown message type: " + msg.Type}
}

func (s *Server) errorFrame(session *engine.Session, err error) ServerMessage {
	if errors.Is(err, memory.ErrInvalidInput) {
		return ServerMessage{Type: TypeError, Content: err.Error()}
	}
	s.logger.Error("chat failed", zap.String("session", session.ID), zap.String("user", session.UserID), zap.Error(err))
	return ServerMessage{Type: TypeError, Content: "something went wrong, please try again"}
}
