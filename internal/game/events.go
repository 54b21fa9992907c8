package game

import "time"

// Event kinds recorded by the optional event sinks.
const (
	EventConnect    = "connect"
	EventDisconnect = "disconnect"
	EventJoin       = "join"
	EventLeave      = "leave"
	EventAction     = "action"
	EventChat       = "chat"
	EventAISpawn    = "ai_spawn"
	EventAIRemove   = "ai_remove"
)

// EventLogger receives one record per lifecycle event. Implementations
// must not block the game loop; writes are best-effort.
type EventLogger interface {
	WriteEvent(e EventRecord) error
}

type EventRecord struct {
	Tick       uint64 `json:"tick"`
	Kind       string `json:"kind"`
	SessionID  string `json:"session_id,omitempty"`
	PlayerID   string `json:"player_id,omitempty"`
	PlayerName string `json:"player_name,omitempty"`
	Action     string `json:"action,omitempty"`
	EntityID   string `json:"entity_id,omitempty"`
	Message    string `json:"message,omitempty"`
	IsAI       bool   `json:"is_ai,omitempty"`
	At         int64  `json:"at"` // unix millis
}

func (g *Game) logEvent(e EventRecord) {
	if g.eventLog == nil {
		return
	}
	e.Tick = g.state.Tick
	e.At = time.Now().UnixMilli()
	if err := g.eventLog.WriteEvent(e); err != nil {
		g.log.Printf("event log: %v", err)
	}
}
