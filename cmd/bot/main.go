package main

import (
	"flag"
	"fmt"
	"log"
	"math/rand"
	"os"
	"os/signal"
	"time"

	"tycoonengine.dev/internal/client"
	"tycoonengine.dev/internal/protocol"
)

func main() {
	var (
		url  = flag.String("url", "ws://localhost:5000/v1/ws", "ws url")
		name = flag.String("name", "bot", "player name")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[bot] ", log.LstdFlags|log.Lmicroseconds)

	c := client.New(*url, logger)
	if err := c.Connect(*name); err != nil {
		logger.Fatalf("connect: %v", err)
	}
	defer c.Close()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt)

	r := rand.New(rand.NewSource(time.Now().UnixNano()))
	entityID := fmt.Sprintf("depot-%d", r.Intn(1000))
	level := 0

	for {
		select {
		case <-stop:
			return
		case <-c.Done():
			logger.Printf("disconnected")
			return
		case ev := <-c.Events():
			switch ev.Kind {
			case client.EventStateUpdate:
				logger.Printf("state tick=%d entities=%d players=%d", ev.State.Tick, len(ev.State.Entities), len(ev.State.Players))
				// Upgrade our depot every few state pushes and brag about it.
				if ev.State.Tick%5 == 0 {
					level++
					c.SendAction(protocol.ActionPayload{
						Type:     protocol.ActionUpdateEntity,
						EntityID: entityID,
						Data:     map[string]any{"level": level, "owner": *name},
					})
					if level%10 == 0 {
						c.SendChat(fmt.Sprintf("%s is now level %d", entityID, level))
					}
				}
			case client.EventPlayerJoined:
				logger.Printf("player_joined %s (%s, ai=%v)", ev.Joined.PlayerName, ev.Joined.PlayerID, ev.Joined.IsAI)
			case client.EventPlayerLeft:
				logger.Printf("player_left %s (%s)", ev.Left.PlayerName, ev.Left.PlayerID)
			case client.EventChatMessage:
				logger.Printf("chat %s: %s", ev.Chat.PlayerID, ev.Chat.Message)
			}
		}
	}
}
