package protocol

// JOIN (client -> server): declare a player identity for this session.
type JoinMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version,omitempty"`
	PlayerName      string `json:"player_name"`
}

// PLAYER_ACTION (client -> server).
type PlayerActionMsg struct {
	Type            string        `json:"type"`
	ProtocolVersion string        `json:"protocol_version,omitempty"`
	Action          ActionPayload `json:"action"`
}

type ActionPayload struct {
	Type     string         `json:"type"`
	EntityID string         `json:"entity_id"`
	Data     map[string]any `json:"data,omitempty"`
}

// CHAT_MESSAGE (client -> server).
type ChatSendMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version,omitempty"`
	Message         string `json:"message"`
}

// GAME_STATE (server -> client): full state replace.
type GameStateMsg struct {
	Type            string                    `json:"type"`
	ProtocolVersion string                    `json:"protocol_version"`
	Entities        map[string]map[string]any `json:"entities"`
	Resources       map[string]float64        `json:"resources"`
	Players         map[string]PlayerInfo     `json:"players"`
	Tick            uint64                    `json:"tick"`
}

type PlayerInfo struct {
	PlayerID   string `json:"player_id"`
	PlayerName string `json:"player_name"`
	JoinedAt   int64  `json:"joined_at"` // unix millis
	IsAI       bool   `json:"is_ai"`
}

// PLAYER_JOINED / PLAYER_LEFT (server -> client): roster notifications.
type PlayerJoinedMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	PlayerID        string `json:"player_id"`
	PlayerName      string `json:"player_name"`
	IsAI            bool   `json:"is_ai"`
}

type PlayerLeftMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	PlayerID        string `json:"player_id"`
	PlayerName      string `json:"player_name"`
	IsAI            bool   `json:"is_ai"`
}

// CHAT_MESSAGE (server -> client): relayed to every session.
type ChatEventMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	PlayerID        string `json:"player_id"`
	Message         string `json:"message"`
	Timestamp       int64  `json:"timestamp"` // unix millis
}
