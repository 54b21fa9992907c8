// Package client is the connector mirror of the websocket gateway: it
// dials the server, optionally joins, and turns inbound messages into
// typed events delivered in receipt order on a single channel.
package client

import (
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"tycoonengine.dev/internal/protocol"
)

type EventKind int

const (
	EventStateUpdate EventKind = iota + 1
	EventPlayerJoined
	EventPlayerLeft
	EventChatMessage
)

// Event carries exactly one of the pointer fields, selected by Kind.
type Event struct {
	Kind   EventKind
	State  *protocol.GameStateMsg
	Joined *protocol.PlayerJoinedMsg
	Left   *protocol.PlayerLeftMsg
	Chat   *protocol.ChatEventMsg
}

type Client struct {
	url string
	log *log.Logger

	mu        sync.Mutex // guards conn writes
	conn      *websocket.Conn
	connected atomic.Bool

	events chan Event
	done   chan struct{}
}

func New(url string, logger *log.Logger) *Client {
	return &Client{
		url:    url,
		log:    logger,
		events: make(chan Event, 64),
	}
}

// Connect dials the server and starts the read loop. A non-empty
// playerName is followed immediately by a join message; a nil error
// means the transport is up, not that the join succeeded.
func (c *Client) Connect(playerName string) error {
	if c.connected.Load() {
		return fmt.Errorf("already connected")
	}
	conn, _, err := websocket.DefaultDialer.Dial(c.url, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", c.url, err)
	}
	c.mu.Lock()
	c.conn = conn
	c.done = make(chan struct{})
	c.mu.Unlock()
	c.connected.Store(true)

	go c.readLoop(conn)

	if playerName != "" {
		c.writeJSON(protocol.JoinMsg{
			Type:            protocol.TypeJoin,
			ProtocolVersion: protocol.Version,
			PlayerName:      playerName,
		})
	}
	return nil
}

// Events is the inbound event stream. Events arrive in receipt order;
// when the consumer falls behind the newest event is dropped with a
// logged warning, never reordered or replayed.
func (c *Client) Events() <-chan Event { return c.events }

// Done is closed when the current connection ends.
func (c *Client) Done() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.done
}

func (c *Client) Connected() bool { return c.connected.Load() }

// SendAction forwards a player action. Not connected is a logged
// no-op, never an error.
func (c *Client) SendAction(a protocol.ActionPayload) {
	if !c.connected.Load() {
		c.log.Printf("send_action while disconnected, dropped")
		return
	}
	c.writeJSON(protocol.PlayerActionMsg{
		Type:            protocol.TypePlayerAction,
		ProtocolVersion: protocol.Version,
		Action:          a,
	})
}

// SendChat relays a chat message, with the same guard as SendAction.
func (c *Client) SendChat(message string) {
	if !c.connected.Load() {
		c.log.Printf("send_chat while disconnected, dropped")
		return
	}
	c.writeJSON(protocol.ChatSendMsg{
		Type:            protocol.TypeChatMessage,
		ProtocolVersion: protocol.Version,
		Message:         message,
	})
}

func (c *Client) Close() {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return
	}
	_ = conn.SetWriteDeadline(time.Now().Add(time.Second))
	_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	_ = conn.Close()
}

func (c *Client) writeJSON(v any) {
	b, err := json.Marshal(v)
	if err != nil {
		c.log.Printf("marshal outbound: %v", err)
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return
	}
	_ = c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	if err := c.conn.WriteMessage(websocket.TextMessage, b); err != nil {
		c.log.Printf("write: %v", err)
	}
}

func (c *Client) readLoop(conn *websocket.Conn) {
	defer func() {
		c.connected.Store(false)
		c.mu.Lock()
		if c.done != nil {
			close(c.done)
		}
		c.conn = nil
		c.mu.Unlock()
	}()

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		c.dispatch(msg)
	}
}

func (c *Client) dispatch(msg []byte) {
	base, err := protocol.DecodeBase(msg)
	if err != nil {
		c.log.Printf("malformed server message dropped: %v", err)
		return
	}
	switch base.Type {
	case protocol.TypeGameState:
		var m protocol.GameStateMsg
		if err := json.Unmarshal(msg, &m); err != nil {
			c.log.Printf("bad game_state: %v", err)
			return
		}
		c.deliver(Event{Kind: EventStateUpdate, State: &m})
	case protocol.TypePlayerJoined:
		var m protocol.PlayerJoinedMsg
		if err := json.Unmarshal(msg, &m); err != nil {
			c.log.Printf("bad player_joined: %v", err)
			return
		}
		c.deliver(Event{Kind: EventPlayerJoined, Joined: &m})
	case protocol.TypePlayerLeft:
		var m protocol.PlayerLeftMsg
		if err := json.Unmarshal(msg, &m); err != nil {
			c.log.Printf("bad player_left: %v", err)
			return
		}
		c.deliver(Event{Kind: EventPlayerLeft, Left: &m})
	case protocol.TypeChatMessage:
		var m protocol.ChatEventMsg
		if err := json.Unmarshal(msg, &m); err != nil {
			c.log.Printf("bad chat_message: %v", err)
			return
		}
		c.deliver(Event{Kind: EventChatMessage, Chat: &m})
	default:
		c.log.Printf("unknown server message type %q dropped", base.Type)
	}
}

func (c *Client) deliver(ev Event) {
	select {
	case c.events <- ev:
	default:
		c.log.Printf("event queue full, dropping %d", ev.Kind)
	}
}
