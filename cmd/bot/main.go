package main

import (
	"context"
	"log"

	"github.com/joho/godotenv"

	"chat-keeper/internal/config"
	"chat-keeper/internal/conversation"
	"chat-keeper/internal/persist"
	"chat-keeper/internal/scheduler"
	"chat-keeper/internal/telegram"
	"chat-keeper/internal/tokens"
)

func main() {
	if err := godotenv.Load(".env"); err != nil {
		log.Printf("Warning: .env file not found: %v", err)
	}

	cfg := config.New()

	store, err := conversation.NewFileStore(cfg.DataDir, cfg.TitleMaxLen)
	if err != nil {
		log.Fatalf("failed to init conversation store: %v", err)
	}

	retrier := persist.New(cfg.SaveRetryAttempts, cfg.SaveRetryBase)

	bot, err := telegram.New(
		cfg.TelegramBotToken,
		store,
		retrier,
		tokens.Estimator{},
		nil, // no responder configured: archive-only mode
		cfg.AllowedUsers,
		cfg.MessageParseMode,
	)
	if err != nil {
		log.Fatalf("failed to create bot: %v", err)
	}

	sched := scheduler.New()
	sched.SetVerifyFunction(func(ctx context.Context) error {
		return verifyIndexes(ctx, store)
	})
	if err := sched.Start(cfg.IndexCheckCron); err != nil {
		log.Fatalf("failed to start scheduler: %v", err)
	}
	defer sched.Stop()

	bot.Start(context.Background())
}

// verifyIndexes rebuilds every owner index that drifted from its record
// files. Records are the source of truth.
func verifyIndexes(ctx context.Context, store *conversation.FileStore) error {
	owners, err := store.Owners()
	if err != nil {
		return err
	}
	for _, owner := range owners {
		if err := ctx.Err(); err != nil {
			return err
		}
		repaired, err := store.RebuildIndex(owner)
		if err != nil {
			log.Printf("❌ index check for owner %d failed: %v", owner, err)
			continue
		}
		if repaired {
			log.Printf("✅ rebuilt drifted index for owner %d", owner)
		}
	}
	return nil
}
