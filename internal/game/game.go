package game

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync/atomic"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/google/uuid"

	"tycoonengine.dev/internal/protocol"
)

type Config struct {
	ID string

	// Channel capacities. Zero values fall back to defaults.
	ConnectQueue int
	JoinQueue    int
	LeaveQueue   int
	ActionQueue  int
	ChatQueue    int

	// Authorize may veto an action before it is applied. playerID is
	// empty for sessions that have not joined. nil means permissive,
	// matching the documented default: any session may mutate any entity.
	Authorize func(playerID string, a Action) bool
}

// ConnectRequest registers a fresh transport session. The serialized
// current state is returned on Resp for delivery to that session only.
type ConnectRequest struct {
	SessionID string
	Out       chan []byte
	Resp      chan ConnectResponse
}

type ConnectResponse struct {
	State []byte
}

type JoinRequest struct {
	SessionID  string
	PlayerName string
}

type ActionEnvelope struct {
	SessionID string
	Action    Action
}

type ChatEnvelope struct {
	SessionID string
	Message   string
}

type adminKind int

const (
	adminSpawnAI adminKind = iota + 1
	adminRemoveAI
)

type adminRequest struct {
	kind     adminKind
	name     string
	playerID string
	resp     chan adminResponse
}

type adminResponse struct {
	playerID string
	ok       bool
}

// session is one live transport connection. playerID stays empty until
// the session's join message is accepted.
type session struct {
	id       string
	playerID string
	out      chan []byte
}

// Game is the single-goroutine authoritative core. All state mutation
// happens inside Run; transports talk to it exclusively over channels,
// and every mutation is followed by its broadcast within the same loop
// iteration.
type Game struct {
	cfg Config
	log *log.Logger

	state    *GameState
	sessions map[string]*session

	connect chan ConnectRequest
	join    chan JoinRequest
	leave   chan string
	inbox   chan ActionEnvelope
	chat    chan ChatEnvelope
	admin   chan adminRequest
	stop    chan struct{}

	tick       atomic.Uint64
	sessionCnt atomic.Int64
	playerCnt  atomic.Int64
	aiCnt      atomic.Int64

	// Optional event sink (may be nil). Implemented in
	// internal/journal and internal/index.
	eventLog EventLogger
}

func New(cfg Config, logger *log.Logger) *Game {
	q := func(n, def int) int {
		if n > 0 {
			return n
		}
		return def
	}
	if cfg.ID == "" {
		cfg.ID = "game"
	}
	return &Game{
		cfg:      cfg,
		log:      logger,
		state:    NewGameState(),
		sessions: map[string]*session{},
		connect:  make(chan ConnectRequest, q(cfg.ConnectQueue, 64)),
		join:     make(chan JoinRequest, q(cfg.JoinQueue, 64)),
		leave:    make(chan string, q(cfg.LeaveQueue, 64)),
		inbox:    make(chan ActionEnvelope, q(cfg.ActionQueue, 1024)),
		chat:     make(chan ChatEnvelope, q(cfg.ChatQueue, 256)),
		admin:    make(chan adminRequest, 16),
		stop:     make(chan struct{}),
	}
}

func (g *Game) SetEventLogger(l EventLogger) { g.eventLog = l }

func (g *Game) Connect() chan<- ConnectRequest { return g.connect }
func (g *Game) Join() chan<- JoinRequest       { return g.join }
func (g *Game) Leave() chan<- string           { return g.leave }
func (g *Game) Inbox() chan<- ActionEnvelope   { return g.inbox }
func (g *Game) Chat() chan<- ChatEnvelope      { return g.chat }

func (g *Game) CurrentTick() uint64 { return g.tick.Load() }

// Run drives the event loop until ctx is cancelled or Stop is called.
// Each inbound event is handled to completion, broadcast included,
// before the next one is picked up.
func (g *Game) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-g.stop:
			return nil
		case req := <-g.connect:
			g.handleConnect(req)
		case req := <-g.join:
			g.handleJoin(req)
		case id := <-g.leave:
			g.handleLeave(id)
		case env := <-g.inbox:
			g.handleAction(env)
		case env := <-g.chat:
			g.handleChat(env)
		case req := <-g.admin:
			g.handleAdmin(req)
		}
	}
}

func (g *Game) Stop() { close(g.stop) }

// SpawnAIPlayer adds a synthetic roster entry with is_ai=true and
// returns its player id. Side effects match a normal join.
func (g *Game) SpawnAIPlayer(ctx context.Context, name string) (string, error) {
	resp := make(chan adminResponse, 1)
	select {
	case g.admin <- adminRequest{kind: adminSpawnAI, name: name, resp: resp}:
	case <-ctx.Done():
		return "", ctx.Err()
	}
	select {
	case r := <-resp:
		return r.playerID, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// RemoveAIPlayer removes a synthetic roster entry. Unknown or non-AI
// ids return false with no broadcast.
func (g *Game) RemoveAIPlayer(ctx context.Context, playerID string) (bool, error) {
	resp := make(chan adminResponse, 1)
	select {
	case g.admin <- adminRequest{kind: adminRemoveAI, playerID: playerID, resp: resp}:
	case <-ctx.Done():
		return false, ctx.Err()
	}
	select {
	case r := <-resp:
		return r.ok, nil
	case <-ctx.Done():
		return false, ctx.Err()
	}
}

func (g *Game) handleConnect(req ConnectRequest) {
	s := &session{id: req.SessionID, out: req.Out}
	g.sessions[req.SessionID] = s
	g.sessionCnt.Store(int64(len(g.sessions)))

	data, err := g.marshalState()
	if err != nil {
		g.log.Printf("marshal state for %s: %v", req.SessionID, err)
	}
	if req.Resp != nil {
		req.Resp <- ConnectResponse{State: data}
	}
	g.logEvent(EventRecord{Kind: EventConnect, SessionID: req.SessionID})
}

func (g *Game) handleJoin(req JoinRequest) {
	s, ok := g.sessions[req.SessionID]
	if !ok {
		g.log.Printf("join from unknown session %s", req.SessionID)
		return
	}
	if s.playerID != "" {
		// Idempotency guard: the second join is ignored, no duplicate record.
		g.log.Printf("duplicate join from session %s ignored", req.SessionID)
		return
	}
	name := sanitizeName(req.PlayerName)
	if name == "" {
		g.log.Printf("rejecting join from %s: empty player name", req.SessionID)
		return
	}

	rec := PlayerRecord{
		PlayerID:   uuid.NewString(),
		PlayerName: name,
		JoinedAt:   time.Now().UnixMilli(),
	}
	g.state.AddPlayer(rec)
	s.playerID = rec.PlayerID
	g.playerCnt.Store(int64(len(g.state.Players)))

	g.broadcastPlayerJoined(rec)
	g.broadcastState()
	g.logEvent(EventRecord{Kind: EventJoin, SessionID: s.id, PlayerID: rec.PlayerID, PlayerName: rec.PlayerName})
}

func (g *Game) handleLeave(sessionID string) {
	s, ok := g.sessions[sessionID]
	if !ok {
		return
	}
	delete(g.sessions, sessionID)
	g.sessionCnt.Store(int64(len(g.sessions)))

	if s.playerID == "" {
		// Never joined: no roster entry, no player_left broadcast.
		g.logEvent(EventRecord{Kind: EventDisconnect, SessionID: sessionID})
		return
	}
	rec, ok := g.state.RemovePlayer(s.playerID)
	if !ok {
		return
	}
	g.playerCnt.Store(int64(len(g.state.Players)))

	g.broadcastPlayerLeft(rec)
	g.broadcastState()
	g.logEvent(EventRecord{Kind: EventLeave, SessionID: sessionID, PlayerID: rec.PlayerID, PlayerName: rec.PlayerName})
}

func (g *Game) handleAction(env ActionEnvelope) {
	s, ok := g.sessions[env.SessionID]
	if !ok {
		g.log.Printf("action from unknown session %s dropped", env.SessionID)
		return
	}
	if err := validateAction(env.Action); err != nil {
		g.log.Printf("invalid action from %s: %v", env.SessionID, err)
		return
	}
	if g.cfg.Authorize != nil && !g.cfg.Authorize(s.playerID, env.Action) {
		g.log.Printf("action from %s denied by authorization hook", env.SessionID)
		return
	}
	if err := g.state.Apply(env.Action); err != nil {
		g.log.Printf("apply action from %s: %v", env.SessionID, err)
		return
	}
	g.tick.Store(g.state.Tick)

	g.broadcastState()
	g.logEvent(EventRecord{
		Kind:      EventAction,
		SessionID: env.SessionID,
		PlayerID:  s.playerID,
		Action:    env.Action.Type,
		EntityID:  env.Action.EntityID,
	})
}

func (g *Game) handleChat(env ChatEnvelope) {
	s, ok := g.sessions[env.SessionID]
	if !ok || s.playerID == "" {
		g.log.Printf("chat from un-joined session %s dropped", env.SessionID)
		return
	}
	if env.Message == "" || utf8.RuneCountInString(env.Message) > protocol.MaxChatLen {
		g.log.Printf("chat from %s dropped: empty or over %d chars", env.SessionID, protocol.MaxChatLen)
		return
	}
	g.broadcastChat(s.playerID, env.Message, time.Now().UnixMilli())
	g.logEvent(EventRecord{Kind: EventChat, SessionID: env.SessionID, PlayerID: s.playerID, Message: env.Message})
}

func (g *Game) handleAdmin(req adminRequest) {
	switch req.kind {
	case adminSpawnAI:
		name := sanitizeName(req.name)
		if name == "" {
			name = "bot"
		}
		rec := PlayerRecord{
			PlayerID:   uuid.NewString(),
			PlayerName: name,
			JoinedAt:   time.Now().UnixMilli(),
			IsAI:       true,
		}
		g.state.AddPlayer(rec)
		g.playerCnt.Store(int64(len(g.state.Players)))
		g.aiCnt.Add(1)

		g.broadcastPlayerJoined(rec)
		g.broadcastState()
		g.logEvent(EventRecord{Kind: EventAISpawn, PlayerID: rec.PlayerID, PlayerName: rec.PlayerName, IsAI: true})
		if req.resp != nil {
			req.resp <- adminResponse{playerID: rec.PlayerID, ok: true}
		}
	case adminRemoveAI:
		rec, ok := g.state.Players[req.playerID]
		if !ok || !rec.IsAI {
			if req.resp != nil {
				req.resp <- adminResponse{ok: false}
			}
			return
		}
		g.state.RemovePlayer(req.playerID)
		g.playerCnt.Store(int64(len(g.state.Players)))
		g.aiCnt.Add(-1)

		g.broadcastPlayerLeft(rec)
		g.broadcastState()
		g.logEvent(EventRecord{Kind: EventAIRemove, PlayerID: rec.PlayerID, PlayerName: rec.PlayerName, IsAI: true})
		if req.resp != nil {
			req.resp <- adminResponse{playerID: rec.PlayerID, ok: true}
		}
	}
}

func validateAction(a Action) error {
	switch a.Type {
	case protocol.ActionUpdateEntity:
		if a.Data == nil {
			return fmt.Errorf("update_entity without data")
		}
	case protocol.ActionRemoveEntity:
	default:
		return fmt.Errorf("unknown action type %q", a.Type)
	}
	if a.EntityID == "" {
		return fmt.Errorf("missing entity_id")
	}
	if utf8.RuneCountInString(a.EntityID) > protocol.MaxEntityIDLen {
		return fmt.Errorf("entity_id over %d chars", protocol.MaxEntityIDLen)
	}
	return nil
}

// sanitizeName strips control characters, trims whitespace and caps the
// result at MaxPlayerNameLen runes. Empty results reject the join.
func sanitizeName(name string) string {
	name = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, name)
	name = strings.TrimSpace(name)
	runes := []rune(name)
	if len(runes) > protocol.MaxPlayerNameLen {
		runes = runes[:protocol.MaxPlayerNameLen]
	}
	return string(runes)
}
