package game

// Metrics is a race-free view of the game loop for the metrics and
// admin endpoints. Counters are mirrored into atomics by the loop.
type Metrics struct {
	Tick        uint64      `json:"tick"`
	Sessions    int         `json:"sessions"`
	Players     int         `json:"players"`
	AIPlayers   int         `json:"ai_players"`
	QueueDepths QueueDepths `json:"queue_depths"`
}

type QueueDepths struct {
	Connect int `json:"connect"`
	Join    int `json:"join"`
	Leave   int `json:"leave"`
	Inbox   int `json:"inbox"`
	Chat    int `json:"chat"`
}

func (g *Game) Metrics() Metrics {
	return Metrics{
		Tick:      g.tick.Load(),
		Sessions:  int(g.sessionCnt.Load()),
		Players:   int(g.playerCnt.Load()),
		AIPlayers: int(g.aiCnt.Load()),
		QueueDepths: QueueDepths{
			Connect: len(g.connect),
			Join:    len(g.join),
			Leave:   len(g.leave),
			Inbox:   len(g.inbox),
			Chat:    len(g.chat),
		},
	}
}
