package game

import (
	"encoding/json"

	"tycoonengine.dev/internal/protocol"
)

func (g *Game) marshalState() ([]byte, error) {
	return json.Marshal(g.state.Snapshot())
}

// broadcastState pushes the full serialized state to every session,
// unconditionally. No deltas, no per-client filtering.
func (g *Game) broadcastState() {
	data, err := g.marshalState()
	if err != nil {
		g.log.Printf("marshal state broadcast: %v", err)
		return
	}
	g.broadcast(data)
}

func (g *Game) broadcastPlayerJoined(rec PlayerRecord) {
	g.broadcastMsg(protocol.PlayerJoinedMsg{
		Type:            protocol.TypePlayerJoined,
		ProtocolVersion: protocol.Version,
		PlayerID:        rec.PlayerID,
		PlayerName:      rec.PlayerName,
		IsAI:            rec.IsAI,
	})
}

func (g *Game) broadcastPlayerLeft(rec PlayerRecord) {
	g.broadcastMsg(protocol.PlayerLeftMsg{
		Type:            protocol.TypePlayerLeft,
		ProtocolVersion: protocol.Version,
		PlayerID:        rec.PlayerID,
		PlayerName:      rec.PlayerName,
		IsAI:            rec.IsAI,
	})
}

func (g *Game) broadcastChat(playerID, message string, ts int64) {
	g.broadcastMsg(protocol.ChatEventMsg{
		Type:            protocol.TypeChatMessage,
		ProtocolVersion: protocol.Version,
		PlayerID:        playerID,
		Message:         message,
		Timestamp:       ts,
	})
}

func (g *Game) broadcastMsg(v any) {
	data, err := json.Marshal(v)
	if err != nil {
		g.log.Printf("marshal broadcast: %v", err)
		return
	}
	g.broadcast(data)
}

// broadcast fans data out to every session's bounded outbound queue.
// A saturated queue drops the message for that session only; a slow or
// dead client never stalls delivery to the rest.
func (g *Game) broadcast(data []byte) {
	for id, s := range g.sessions {
		if s.out == nil {
			continue
		}
		select {
		case s.out <- data:
		default:
			g.log.Printf("outbound queue full for session %s, dropping message", id)
		}
	}
}
