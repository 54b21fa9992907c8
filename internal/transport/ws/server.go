package ws

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"tycoonengine.dev/internal/game"
	"tycoonengine.dev/internal/protocol"
)

const (
	writeWait    = 5 * time.Second
	readWait     = 60 * time.Second
	outQueueSize = 32
)

type Server struct {
	game *game.Game
	log  *log.Logger

	// readWait bounds each blocking read; a dead peer whose endpoint
	// never errors is dropped and its session cleaned up.
	readWait time.Duration

	upgrader websocket.Upgrader
}

func NewServer(g *game.Game, logger *log.Logger) *Server {
	return &Server{
		game:     g,
		log:      logger,
		readWait: readWait,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  16 * 1024,
			WriteBufferSize: 16 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // dev default
		},
	}
}

func (s *Server) Handler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		sessionID := uuid.NewString()
		out := make(chan []byte, outQueueSize)
		respCh := make(chan game.ConnectResponse, 1)
		s.game.Connect() <- game.ConnectRequest{SessionID: sessionID, Out: out, Resp: respCh}
		resp := <-respCh

		// The new session gets the current state directly, not via broadcast.
		if len(resp.State) > 0 {
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, resp.State); err != nil {
				s.game.Leave() <- sessionID
				return
			}
		}

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()

		// Writer goroutine.
		go func() {
			for {
				select {
				case <-ctx.Done():
					return
				case b, ok := <-out:
					if !ok {
						return
					}
					_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
					if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
						cancel()
						return
					}
				}
			}
		}()

		// Reader loop. Malformed or unknown messages are dropped; the
		// sender gets nothing back.
		for {
			_ = conn.SetReadDeadline(time.Now().Add(s.readWait))
			_, msg, err := conn.ReadMessage()
			if err != nil {
				cancel()
				break
			}
			base, err := protocol.DecodeBase(msg)
			if err != nil {
				s.log.Printf("session %s: malformed message dropped: %v", sessionID, err)
				continue
			}
			if base.ProtocolVersion != "" && base.ProtocolVersion != protocol.Version {
				s.log.Printf("session %s: bad protocol_version %q dropped", sessionID, base.ProtocolVersion)
				continue
			}
			s.dispatch(sessionID, base.Type, msg)
		}

		// Cleanup.
		s.game.Leave() <- sessionID
	}
}

func (s *Server) dispatch(sessionID, msgType string, msg []byte) {
	switch msgType {
	case protocol.TypeJoin:
		var m protocol.JoinMsg
		if err := json.Unmarshal(msg, &m); err != nil {
			s.log.Printf("session %s: bad join payload: %v", sessionID, err)
			return
		}
		s.game.Join() <- game.JoinRequest{SessionID: sessionID, PlayerName: m.PlayerName}
	case protocol.TypePlayerAction:
		var m protocol.PlayerActionMsg
		if err := json.Unmarshal(msg, &m); err != nil {
			s.log.Printf("session %s: bad player_action payload: %v", sessionID, err)
			return
		}
		s.game.Inbox() <- game.ActionEnvelope{
			SessionID: sessionID,
			Action: game.Action{
				Type:     m.Action.Type,
				EntityID: m.Action.EntityID,
				Data:     m.Action.Data,
			},
		}
	case protocol.TypeChatMessage:
		var m protocol.ChatSendMsg
		if err := json.Unmarshal(msg, &m); err != nil {
			s.log.Printf("session %s: bad chat payload: %v", sessionID, err)
			return
		}
		s.game.Chat() <- game.ChatEnvelope{SessionID: sessionID, Message: m.Message}
	default:
		s.log.Printf("session %s: unknown message type %q dropped", sessionID, msgType)
	}
}
