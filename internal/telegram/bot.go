package telegram

import (
	"context"
	"log"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"chat-keeper/internal/conversation"
	"chat-keeper/internal/persist"
	"chat-keeper/internal/tokens"
	"chat-keeper/internal/tracker"
)

// Responder produces the assistant reply for a conversation. The real
// implementation lives with the model provider; a nil responder turns the bot
// into a pure archiver.
type Responder interface {
	Respond(ctx context.Context, conv *conversation.Conversation) (string, error)
}

type Bot struct {
	api       *tgbotapi.BotAPI
	s         sender
	store     *conversation.FileStore
	track     *tracker.Tracker
	retrier   *persist.Retrier
	counter   tokens.Counter
	responder Responder
	allowed   map[int64]bool
	parseMode string
	now       func() time.Time
}

func New(
	botToken string,
	store *conversation.FileStore,
	retrier *persist.Retrier,
	counter tokens.Counter,
	responder Responder,
	allowedUsers []int64,
	parseMode string,
) (*Bot, error) {
	api, err := tgbotapi.NewBotAPI(botToken)
	if err != nil {
		return nil, err
	}
	s := botAPISender{api: api}
	b := &Bot{
		api:       api,
		s:         s,
		store:     store,
		retrier:   retrier,
		counter:   counter,
		responder: responder,
		allowed:   make(map[int64]bool),
		parseMode: parseMode,
		now:       func() time.Time { return time.Now().UTC() },
	}
	b.track = tracker.New(transportAdapter{s: s, parseMode: parseMode})
	for _, id := range allowedUsers {
		b.allowed[id] = true
	}
	return b, nil
}

func (b *Bot) Start(ctx context.Context) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60

	updates := b.api.GetUpdatesChan(u)

	for update := range updates {
		if update.Message != nil {
			b.handleIncomingMessage(ctx, update.Message)
			continue
		}
		if update.CallbackQuery != nil {
			b.handleCallback(update.CallbackQuery)
			continue
		}
	}
}

func (b *Bot) isAllowed(userID int64) bool {
	return len(b.allowed) == 0 || b.allowed[userID]
}

func (b *Bot) sendMessage(chatID int64, text string) int {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = b.parseMode
	sent, err := b.s.Send(msg)
	if err != nil {
		log.Printf("failed to send message: %v", err)
		return 0
	}
	return sent.MessageID
}

// warnSaveFailed delivers the degraded-mode notice after exhausted retries.
// The user's interaction has already completed; this is a warning only.
func (b *Bot) warnSaveFailed(chatID int64) {
	if _, err := b.track.Show(chatID, tracker.Content{
		Text: "⚠️ Could not save this to your history. It will be retried on your next message.",
	}, tracker.ClassStatus); err != nil {
		log.Printf("failed to send save warning: %v", err)
	}
}

func displayName(u *tgbotapi.User) string {
	if u == nil {
		return ""
	}
	if u.UserName != "" {
		return "@" + u.UserName
	}
	name := u.FirstName
	if u.LastName != "" {
		name += " " + u.LastName
	}
	return name
}
