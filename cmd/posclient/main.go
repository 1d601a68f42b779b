package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"kasirku/backend/internal/config"
	"kasirku/backend/internal/offline"
)

// posclient runs the terminal-side sync agent: it owns the local durable
// queue and drains it to the backend whenever connectivity allows.
func main() {
	cfg := config.LoadClient()

	queue, err := offline.NewSQLiteQueue(cfg.QueueDBPath)
	if err != nil {
		log.Fatalf("failed to open local queue %s: %v", cfg.QueueDBPath, err)
	}
	defer func() {
		if err := queue.Close(); err != nil {
			log.Printf("queue close error: %v", err)
		}
	}()

	client := offline.NewClient(queue, cfg.ServerURL)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.Username != "" {
		loginCtx, loginCancel := context.WithTimeout(ctx, 10*time.Second)
		if err := client.Login(loginCtx, cfg.Username, cfg.Password); err != nil {
			log.Printf("login failed (%v); queued sales stay local until the backend accepts a token", err)
		}
		loginCancel()
	} else {
		log.Println("POS_USERNAME not set; syncs will be rejected until a token is provided")
	}

	pending, err := queue.Count(ctx)
	if err != nil {
		log.Fatalf("failed to read local queue: %v", err)
	}
	log.Printf("POS client started, server=%s queue=%s pending=%d", cfg.ServerURL, cfg.QueueDBPath, pending)

	go client.Run(ctx, time.Duration(cfg.SyncIntervalSeconds)*time.Second)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	cancel()
	log.Println("POS client stopped")
}
