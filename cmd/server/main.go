package main

import (
	"context"
	"log"
	"time"

	"drawboard-backend/internal/cache"
	"drawboard-backend/internal/config"
	"drawboard-backend/internal/dispatch"
	"drawboard-backend/internal/room"
	"drawboard-backend/internal/server"
)

func main() {
	cfg := config.Load()

	// session-state mirror is optional; the server runs without it
	var store *cache.Client
	if cfg.Redis.Addr != "" {
		var err error
		store, err = cache.New(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			log.Printf("redis unavailable: %v (session mirror disabled)", err)
			store = nil
		} else {
			defer store.Close()
		}
	} else {
		log.Println("redis not configured (session mirror disabled)")
	}

	hub := room.NewHub(room.Options{
		HistoryMode:    room.HistoryMode(cfg.Room.HistoryMode),
		HostOnly:       cfg.Room.HostOnly,
		HistoryTrigger: cfg.Room.HistoryTrigger,
		HistoryKeep:    cfg.Room.HistoryKeep,
		CanvasWidth:    cfg.Canvas.Width,
		CanvasHeight:   cfg.Canvas.Height,
	})
	if store != nil {
		hub.SetOnDestroy(func(roomID string) {
			go func() {
				ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
				defer cancel()
				if err := store.DeleteRoom(ctx, roomID); err != nil {
					log.Printf("failed to drop mirror for room %s: %v", roomID, err)
				}
			}()
		})
	}

	dispatcher := dispatch.New(hub, store)

	// sweep rooms that went quiet without a clean leave
	go func() {
		ticker := time.NewTicker(cfg.Room.CleanupInterval)
		defer ticker.Stop()
		for range ticker.C {
			hub.CleanupEmptyRooms()
		}
	}()

	srv := server.New(cfg, dispatcher)
	srv.SetupMiddleware()
	srv.SetupRoutes()

	if err := srv.Start(); err != nil {
		log.Fatalf("server failed to start: %v", err)
	}
}
