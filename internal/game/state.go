package game

import (
	"fmt"

	"tycoonengine.dev/internal/protocol"
)

// PlayerRecord is one roster entry. AI players carry no live session.
type PlayerRecord struct {
	PlayerID   string `json:"player_id"`
	PlayerName string `json:"player_name"`
	JoinedAt   int64  `json:"joined_at"` // unix millis
	IsAI       bool   `json:"is_ai"`
}

// Action is a validated client action about to be applied to the state.
type Action struct {
	Type     string
	EntityID string
	Data     map[string]any
}

// GameState is the single authoritative store. It must only be touched
// from the game loop goroutine; everything leaving the loop is a deep
// copy produced by Snapshot.
type GameState struct {
	Entities  map[string]map[string]any
	Resources map[string]float64
	Players   map[string]PlayerRecord
	Tick      uint64
}

func NewGameState() *GameState {
	return &GameState{
		Entities:  map[string]map[string]any{},
		Resources: map[string]float64{},
		Players:   map[string]PlayerRecord{},
	}
}

// Apply mutates the state with one action and increments the tick.
// Unknown action types leave the state and tick untouched.
func (s *GameState) Apply(a Action) error {
	switch a.Type {
	case protocol.ActionUpdateEntity:
		attrs, ok := s.Entities[a.EntityID]
		if !ok {
			attrs = make(map[string]any, len(a.Data))
			s.Entities[a.EntityID] = attrs
		}
		// Merge, not replace: keys absent from the update survive.
		for k, v := range a.Data {
			attrs[k] = cloneValue(v)
		}
	case protocol.ActionRemoveEntity:
		// Idempotent: removing a missing entity is a no-op, not an error.
		delete(s.Entities, a.EntityID)
	default:
		return fmt.Errorf("unknown action type %q", a.Type)
	}
	s.Tick++
	return nil
}

func (s *GameState) AddPlayer(rec PlayerRecord) {
	s.Players[rec.PlayerID] = rec
}

func (s *GameState) RemovePlayer(playerID string) (PlayerRecord, bool) {
	rec, ok := s.Players[playerID]
	if ok {
		delete(s.Players, playerID)
	}
	return rec, ok
}

// Snapshot deep-copies the state into its wire form. Broadcast must
// never observe a partially applied mutation, so nothing in the result
// aliases the live maps.
func (s *GameState) Snapshot() protocol.GameStateMsg {
	entities := make(map[string]map[string]any, len(s.Entities))
	for id, attrs := range s.Entities {
		out := make(map[string]any, len(attrs))
		for k, v := range attrs {
			out[k] = cloneValue(v)
		}
		entities[id] = out
	}
	resources := make(map[string]float64, len(s.Resources))
	for k, v := range s.Resources {
		resources[k] = v
	}
	players := make(map[string]protocol.PlayerInfo, len(s.Players))
	for id, rec := range s.Players {
		players[id] = protocol.PlayerInfo{
			PlayerID:   rec.PlayerID,
			PlayerName: rec.PlayerName,
			JoinedAt:   rec.JoinedAt,
			IsAI:       rec.IsAI,
		}
	}
	return protocol.GameStateMsg{
		Type:            protocol.TypeGameState,
		ProtocolVersion: protocol.Version,
		Entities:        entities,
		Resources:       resources,
		Players:         players,
		Tick:            s.Tick,
	}
}

// cloneValue copies the JSON-representable shapes json.Unmarshal
// produces. Scalars are returned as-is.
func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, vv := range t {
			out[k] = cloneValue(vv)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, vv := range t {
			out[i] = cloneValue(vv)
		}
		return out
	default:
		return v
	}
}
