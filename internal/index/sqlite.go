// Package index is an optional sqlite read model over lifecycle
// events and the player roster, queried by the loopback admin
// endpoints. It is write-behind and never feeds back into the game:
// the authoritative state itself is not persisted.
package index

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	_ "modernc.org/sqlite"

	"tycoonengine.dev/internal/game"
)

type SQLiteIndex struct {
	db *sql.DB

	// mu orders WriteEvent sends against Close closing ch.
	mu     sync.RWMutex
	ch     chan game.EventRecord
	closed bool

	wg   sync.WaitGroup
	once sync.Once
}

func Open(path string) (*SQLiteIndex, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &SQLiteIndex{
		db: db,
		ch: make(chan game.EventRecord, 8192),
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop()
	}()
	return s, nil
}

func initPragmas(db *sql.DB) error {
	// WAL is much faster for append-style workloads.
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA temp_store=MEMORY;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			tick INTEGER NOT NULL,
			kind TEXT NOT NULL,
			session_id TEXT,
			player_id TEXT,
			player_name TEXT,
			action TEXT,
			entity_id TEXT,
			message TEXT,
			is_ai INTEGER NOT NULL DEFAULT 0,
			at INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_events_kind_at ON events(kind, at);`,
		`CREATE TABLE IF NOT EXISTS roster (
			player_id TEXT PRIMARY KEY,
			player_name TEXT NOT NULL,
			is_ai INTEGER NOT NULL,
			joined_at INTEGER NOT NULL,
			left_at INTEGER
		);`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteIndex) Close() error {
	var err error
	s.once.Do(func() {
		s.mu.Lock()
		s.closed = true
		close(s.ch)
		s.mu.Unlock()
		s.wg.Wait()
		err = s.db.Close()
	})
	return err
}

// WriteEvent enqueues a record for the writer goroutine. Drops when
// the indexer falls behind; the JSONL journal remains the source of truth.
// Safe to call concurrently with Close: a write after close is a no-op.
func (s *SQLiteIndex) WriteEvent(e game.EventRecord) error {
	if s == nil {
		return nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil
	}
	select {
	case s.ch <- e:
	default:
	}
	return nil
}

func (s *SQLiteIndex) loop() {
	for e := range s.ch {
		s.insert(e)
	}
}

func (s *SQLiteIndex) insert(e game.EventRecord) {
	_, _ = s.db.Exec(
		`INSERT INTO events (tick, kind, session_id, player_id, player_name, action, entity_id, message, is_ai, at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.Tick, e.Kind, e.SessionID, e.PlayerID, e.PlayerName, e.Action, e.EntityID, e.Message, boolInt(e.IsAI), e.At,
	)

	switch e.Kind {
	case game.EventJoin, game.EventAISpawn:
		_, _ = s.db.Exec(
			`INSERT INTO roster (player_id, player_name, is_ai, joined_at, left_at)
			 VALUES (?, ?, ?, ?, NULL)
			 ON CONFLICT(player_id) DO UPDATE SET player_name=excluded.player_name, left_at=NULL`,
			e.PlayerID, e.PlayerName, boolInt(e.IsAI), e.At,
		)
	case game.EventLeave, game.EventAIRemove:
		_, _ = s.db.Exec(`UPDATE roster SET left_at=? WHERE player_id=?`, e.At, e.PlayerID)
	}
}

// RecentEvents returns up to limit records, newest first.
func (s *SQLiteIndex) RecentEvents(limit int) ([]game.EventRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.Query(
		`SELECT tick, kind, session_id, player_id, player_name, action, entity_id, message, is_ai, at
		 FROM events ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []game.EventRecord
	for rows.Next() {
		var e game.EventRecord
		var sid, pid, pname, action, entity, msg sql.NullString
		var isAI int
		if err := rows.Scan(&e.Tick, &e.Kind, &sid, &pid, &pname, &action, &entity, &msg, &isAI, &e.At); err != nil {
			return nil, err
		}
		e.SessionID = sid.String
		e.PlayerID = pid.String
		e.PlayerName = pname.String
		e.Action = action.String
		e.EntityID = entity.String
		e.Message = msg.String
		e.IsAI = isAI != 0
		out = append(out, e)
	}
	return out, rows.Err()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
