package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"tycoonengine.dev/internal/config"
	"tycoonengine.dev/internal/game"
	"tycoonengine.dev/internal/index"
	"tycoonengine.dev/internal/journal"
	"tycoonengine.dev/internal/transport/ws"
)

func main() {
	var (
		host       = flag.String("host", "localhost", "server host")
		port       = flag.Int("port", 5000, "server port")
		configPath = flag.String("config", "", "path to server.yaml (optional)")
		dataDir    = flag.String("data", "", "runtime data directory (overrides config)")
		disableDB  = flag.Bool("disable_db", false, "disable the sqlite event index")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[server] ", log.LstdFlags|log.Lmicroseconds)

	cfg := config.Defaults()
	if *configPath != "" {
		var err error
		cfg, err = config.Load(*configPath)
		if err != nil {
			logger.Fatalf("load config: %v", err)
		}
	}
	// Explicit flags win over the config file.
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "host":
			cfg.Host = *host
		case "port":
			cfg.Port = *port
		case "data":
			cfg.DataDir = *dataDir
		}
	})

	g := game.New(game.Config{
		ID:           "game",
		ConnectQueue: cfg.Queues.Connect,
		JoinQueue:    cfg.Queues.Join,
		LeaveQueue:   cfg.Queues.Leave,
		ActionQueue:  cfg.Queues.Action,
		ChatQueue:    cfg.Queues.Chat,
	}, logger)

	var sinks []game.EventLogger
	if cfg.Journal {
		j := journal.NewEventJournal(cfg.DataDir)
		defer j.Close()
		sinks = append(sinks, j)
	}
	var idx *index.SQLiteIndex
	if cfg.IndexDB && !*disableDB {
		var err error
		idx, err = index.Open(filepath.Join(cfg.DataDir, "index.db"))
		if err != nil {
			logger.Fatalf("open event index: %v", err)
		}
		defer idx.Close()
		sinks = append(sinks, idx)
	}
	if len(sinks) > 0 {
		g.SetEventLogger(multiEventLogger(sinks))
	}

	ctx, cancel := signalContext()
	defer cancel()

	gameDone := make(chan struct{})
	go func() {
		defer close(gameDone)
		if err := g.Run(ctx); err != nil && err != context.Canceled {
			logger.Printf("game stopped: %v", err)
		}
	}()

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(200)
		_, _ = rw.Write([]byte("ok"))
	})
	mux.HandleFunc("/metrics", func(rw http.ResponseWriter, r *http.Request) {
		rw.Header().Set("Content-Type", "text/plain; version=0.0.4")
		m := g.Metrics()

		fmt.Fprintf(rw, "# HELP tycoon_game_tick Current game tick.\n")
		fmt.Fprintf(rw, "# TYPE tycoon_game_tick gauge\n")
		fmt.Fprintf(rw, "tycoon_game_tick %d\n", m.Tick)

		fmt.Fprintf(rw, "# HELP tycoon_game_sessions Current number of connected sessions.\n")
		fmt.Fprintf(rw, "# TYPE tycoon_game_sessions gauge\n")
		fmt.Fprintf(rw, "tycoon_game_sessions %d\n", m.Sessions)

		fmt.Fprintf(rw, "# HELP tycoon_game_players Current roster size.\n")
		fmt.Fprintf(rw, "# TYPE tycoon_game_players gauge\n")
		fmt.Fprintf(rw, "tycoon_game_players %d\n", m.Players)

		fmt.Fprintf(rw, "# HELP tycoon_game_ai_players Current AI roster entries.\n")
		fmt.Fprintf(rw, "# TYPE tycoon_game_ai_players gauge\n")
		fmt.Fprintf(rw, "tycoon_game_ai_players %d\n", m.AIPlayers)

		fmt.Fprintf(rw, "# HELP tycoon_game_queue_depth Channel backlog depth.\n")
		fmt.Fprintf(rw, "# TYPE tycoon_game_queue_depth gauge\n")
		fmt.Fprintf(rw, "tycoon_game_queue_depth{queue=%q} %d\n", "connect", m.QueueDepths.Connect)
		fmt.Fprintf(rw, "tycoon_game_queue_depth{queue=%q} %d\n", "join", m.QueueDepths.Join)
		fmt.Fprintf(rw, "tycoon_game_queue_depth{queue=%q} %d\n", "leave", m.QueueDepths.Leave)
		fmt.Fprintf(rw, "tycoon_game_queue_depth{queue=%q} %d\n", "inbox", m.QueueDepths.Inbox)
		fmt.Fprintf(rw, "tycoon_game_queue_depth{queue=%q} %d\n", "chat", m.QueueDepths.Chat)
	})

	// Local-only admin endpoints; spawn/remove of AI players is a
	// server-local operation, never client-triggered.
	mux.HandleFunc("/admin/v1/state", func(rw http.ResponseWriter, r *http.Request) {
		if !isLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}
		rw.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(rw).Encode(struct {
			Tick    uint64       `json:"tick"`
			Metrics game.Metrics `json:"metrics"`
		}{Tick: g.CurrentTick(), Metrics: g.Metrics()})
	})
	mux.HandleFunc("/admin/v1/ai", func(rw http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			rw.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if !isLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}
		var req struct {
			Op       string `json:"op"` // "spawn" | "remove"
			Name     string `json:"name,omitempty"`
			PlayerID string `json:"player_id,omitempty"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(rw, "bad request", http.StatusBadRequest)
			return
		}
		ctx2, cancel2 := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel2()
		rw.Header().Set("Content-Type", "application/json")
		switch req.Op {
		case "spawn":
			id, err := g.SpawnAIPlayer(ctx2, req.Name)
			if err != nil {
				rw.WriteHeader(http.StatusServiceUnavailable)
				_ = json.NewEncoder(rw).Encode(map[string]any{"ok": false, "error": err.Error()})
				return
			}
			_ = json.NewEncoder(rw).Encode(map[string]any{"ok": true, "player_id": id})
		case "remove":
			ok, err := g.RemoveAIPlayer(ctx2, req.PlayerID)
			if err != nil {
				rw.WriteHeader(http.StatusServiceUnavailable)
				_ = json.NewEncoder(rw).Encode(map[string]any{"ok": false, "error": err.Error()})
				return
			}
			_ = json.NewEncoder(rw).Encode(map[string]any{"ok": ok})
		default:
			http.Error(rw, "unknown op", http.StatusBadRequest)
		}
	})
	mux.HandleFunc("/admin/v1/events", func(rw http.ResponseWriter, r *http.Request) {
		if !isLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}
		if idx == nil {
			http.Error(rw, "event index disabled", http.StatusNotFound)
			return
		}
		events, err := idx.RecentEvents(100)
		if err != nil {
			http.Error(rw, err.Error(), http.StatusInternalServerError)
			return
		}
		rw.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(rw).Encode(events)
	})

	mux.HandleFunc("/v1/ws", ws.NewServer(g, logger).Handler())

	srv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel2()
		_ = srv.Shutdown(ctx2)
	}()

	logger.Printf("listening on %s", cfg.Addr())
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatalf("ListenAndServe: %v", err)
	}

	// The game loop must drain before the deferred sink closes run.
	cancel()
	<-gameDone
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-ch
		cancel()
	}()
	return ctx, cancel
}

func isLoopbackRemote(remoteAddr string) bool {
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}
	host = strings.TrimPrefix(host, "[")
	host = strings.TrimSuffix(host, "]")
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

// multiEventLogger fans one event out to every configured sink.
type multiEventLogger []game.EventLogger

func (m multiEventLogger) WriteEvent(e game.EventRecord) error {
	for _, l := range m {
		if l != nil {
			_ = l.WriteEvent(e)
		}
	}
	return nil
}
