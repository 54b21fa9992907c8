package protocol

import "encoding/json"

const Version = "1.0"

// Message types.
const (
	TypeJoin         = "join"
	TypeGameState    = "game_state"
	TypePlayerAction = "player_action"
	TypeChatMessage  = "chat_message"
	TypePlayerJoined = "player_joined"
	TypePlayerLeft   = "player_left"
)

// Action types carried inside player_action.
const (
	ActionUpdateEntity = "update_entity"
	ActionRemoveEntity = "remove_entity"
)

// Payload limits. Inbound messages violating them are dropped
// server-side with a logged diagnostic; nothing is echoed back.
const (
	MaxPlayerNameLen = 50
	MaxEntityIDLen   = 100
	MaxChatLen       = 500
)

// BaseMessage lets us route unknown JSON messages by type.
type BaseMessage struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version,omitempty"`
}

func DecodeBase(b []byte) (BaseMessage, error) {
	var m BaseMessage
	err := json.Unmarshal(b, &m)
	return m, err
}
