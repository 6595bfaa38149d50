package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"pairchat/backend/internal/chathub"
	"pairchat/backend/internal/config"
	"pairchat/backend/internal/logger"
	"pairchat/backend/internal/models"
	"pairchat/backend/internal/storage"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

const usage = `Usage: admin <command> [args]
  history <user_a> <user_b>   print the direct history of two users
  summaries <user_id>         print a user's conversation feed
  close-stale                 close match records left active
  presence <user_id>          show whether a user is online
  watch                       stream lifecycle events`

func main() {
	_ = godotenv.Load()
	cfg := config.Load()
	defer logger.Sync()

	if len(os.Args) < 2 {
		fmt.Println(usage)
		os.Exit(1)
	}

	db, err := gorm.Open(postgres.Open(cfg.DatabaseURL), &gorm.Config{})
	if err != nil {
		logger.Log.Fatal("failed to connect database", zap.Error(err))
	}
	var rdb *redis.Client
	if opts, err := redis.ParseURL(cfg.RedisURL); err == nil {
		rdb = redis.NewClient(opts)
	}
	storageSvc := storage.NewStorageService(db, rdb)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	switch command := os.Args[1]; command {
	case "history":
		if len(os.Args) != 4 {
			fmt.Println("Usage: admin history <user_a> <user_b>")
			os.Exit(1)
		}
		roomID := chathub.DirectRoomID(os.Args[2], os.Args[3])
		history, err := storageSvc.LoadHistory(ctx, roomID, models.HistoryQuery{Between: []string{os.Args[2], os.Args[3]}})
		if err != nil {
			logger.Log.Fatal("error loading history", zap.String("room_id", roomID), zap.Error(err))
		}
		for _, m := range history {
			fmt.Printf("%d\t%s\t%s -> %s\t%s\n", m.ID, m.CreatedAt.Format("2006-01-02 15:04:05"), m.SenderID, m.ReceiverID, m.Content)
		}
	case "summaries":
		if len(os.Args) != 3 {
			fmt.Println("Usage: admin summaries <user_id>")
			os.Exit(1)
		}
		summaries, err := storageSvc.LoadConversationSummaries(ctx, os.Args[2])
		if err != nil {
			logger.Log.Fatal("error loading summaries", zap.String("user_id", os.Args[2]), zap.Error(err))
		}
		for _, s := range summaries {
			fmt.Printf("%s\t%s\tunread=%d\t%q\n", s.PeerID, s.RoomID, s.UnreadCount, s.LastMessage.Content)
		}
	case "close-stale":
		hub := chathub.NewManagerService(storageSvc, cfg.Match)
		closed, err := hub.RecoverStaleMatches(ctx)
		if err != nil {
			logger.Log.Fatal("error closing stale matches", zap.Error(err))
		}
		fmt.Printf("Closed %d stale matches.\n", closed)
	case "presence":
		if len(os.Args) != 3 {
			fmt.Println("Usage: admin presence <user_id>")
			os.Exit(1)
		}
		online, err := storageSvc.IsOnline(ctx, os.Args[2])
		if err != nil {
			logger.Log.Fatal("error reading presence", zap.String("user_id", os.Args[2]), zap.Error(err))
		}
		fmt.Printf("%s online=%t\n", os.Args[2], online)
	case "watch":
		if rdb == nil {
			logger.Log.Fatal("REDIS_URL is required for watch")
		}
		sub := storageSvc.SubscribeEvents(ctx)
		defer sub.Close()
		events := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-events:
				if !ok {
					return
				}
				var ev models.ChatEvent
				if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
					logger.Warn("undecodable event", zap.Error(err))
					continue
				}
				fmt.Printf("%s\troom=%s\tpair=%s\treason=%s\n", ev.Type, ev.RoomID, ev.PairID, ev.Reason)
			}
		}
	default:
		fmt.Printf("Unknown command %q\n%s\n", command, usage)
		os.Exit(1)
	}
}
