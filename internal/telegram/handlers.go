package telegram

import (
	"context"
	"errors"
	"fmt"
	"html"
	"log"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"chat-keeper/internal/conversation"
	"chat-keeper/internal/persist"
	"chat-keeper/internal/tracker"
)

const (
	switchPrefix    = "switch:"
	deleteYesPrefix = "del_yes:"
	deleteNoCmd     = "del_no"
	historyTail     = 10
)

func (b *Bot) handleIncomingMessage(ctx context.Context, msg *tgbotapi.Message) {
	if msg.From == nil {
		return
	}
	if !b.isAllowed(msg.From.ID) {
		log.Printf("Unauthorized access attempt by user ID: %d, username: @%s", msg.From.ID, msg.From.UserName)
		return
	}
	if msg.IsCommand() {
		b.handleCommand(msg)
		return
	}
	if strings.TrimSpace(msg.Text) == "" {
		return
	}
	log.Printf("Incoming message from %d (@%s): %q", msg.From.ID, msg.From.UserName, msg.Text)
	// Retries sleep between attempts; keep the update loop free.
	go b.archiveAndRespond(ctx, msg)
}

// archiveAndRespond appends the user message to the active conversation,
// produces a reply when a responder is configured and archives that reply
// too. Failed saves degrade to a warning; the reply is still delivered.
func (b *Bot) archiveAndRespond(ctx context.Context, msg *tgbotapi.Message) {
	ownerID := msg.From.ID
	convID, err := b.ensureActive(ownerID, displayName(msg.From))
	if err != nil {
		log.Printf("❌ owner %d: no active conversation: %v", ownerID, err)
		b.sendMessage(msg.Chat.ID, "Sorry, something went wrong.")
		return
	}

	userMsg := conversation.Message{
		Timestamp:         b.now(),
		ExternalMessageID: msg.MessageID,
		Role:              conversation.RoleUser,
		Text:              msg.Text,
		Tokens:            b.counter.Count(msg.Text),
		DeliveryMode:      conversation.DeliveryInline,
	}
	if err := b.persistAppend(ctx, ownerID, convID, userMsg); err != nil {
		b.warnSaveFailed(msg.Chat.ID)
	}

	if b.responder == nil {
		return
	}
	conv, err := b.store.Load(ownerID, convID)
	if err != nil {
		log.Printf("❌ owner %d: load conversation %s: %v", ownerID, convID, err)
		return
	}
	reply, err := b.responder.Respond(ctx, conv)
	if err != nil {
		log.Printf("❌ owner %d: responder failed: %v", ownerID, err)
		b.sendMessage(msg.Chat.ID, "Sorry, something went wrong.")
		return
	}
	sentID := b.sendMessage(msg.Chat.ID, reply)
	assistantMsg := conversation.Message{
		Timestamp:         b.now(),
		ExternalMessageID: sentID,
		Role:              conversation.RoleAssistant,
		Text:              reply,
		Tokens:            b.counter.Count(reply),
		DeliveryMode:      conversation.DeliveryInline,
	}
	if err := b.persistAppend(ctx, ownerID, convID, assistantMsg); err != nil {
		b.warnSaveFailed(msg.Chat.ID)
	}
}

// persistAppend saves one message through the retry wrapper. A missing
// conversation is permanent and never retried.
func (b *Bot) persistAppend(ctx context.Context, ownerID int64, convID string, m conversation.Message) error {
	label := fmt.Sprintf("append message owner=%d conv=%s", ownerID, convID)
	return b.retrier.Persist(ctx, label, func() error {
		err := b.store.AppendMessage(ownerID, convID, m)
		if errors.Is(err, conversation.ErrNotFound) {
			return persist.Permanent(err)
		}
		return err
	})
}

// ensureActive returns the owner's active conversation, creating the first
// one on demand.
func (b *Bot) ensureActive(ownerID int64, name string) (string, error) {
	id, err := b.store.GetActive(ownerID)
	if err != nil {
		return "", err
	}
	if id != "" {
		return id, nil
	}
	return b.store.Create(ownerID, name, "")
}

func (b *Bot) handleCommand(msg *tgbotapi.Message) {
	ownerID := msg.From.ID
	switch msg.Command() {
	case "start":
		b.sendMessage(msg.Chat.ID, "Hi! I keep your conversations. /new starts one, /chats lists them.")
	case "new":
		id, err := b.store.Create(ownerID, displayName(msg.From), strings.TrimSpace(msg.CommandArguments()))
		if err != nil {
			log.Printf("❌ owner %d: create conversation: %v", ownerID, err)
			b.sendMessage(msg.Chat.ID, "Could not start a new conversation.")
			return
		}
		b.track.Clear(msg.Chat.ID)
		log.Printf("✅ owner %d: started conversation %s", ownerID, id)
		b.showInfo(msg.Chat.ID, "Started a new conversation.")
	case "chats":
		b.showChatMenu(msg.Chat.ID, ownerID)
	case "rename":
		b.handleRename(msg)
	case "delete":
		b.handleDeleteRequest(msg)
	case "history":
		b.handleHistory(msg)
	}
}

func (b *Bot) showChatMenu(chatID, ownerID int64) {
	metas, err := b.store.List(ownerID)
	if err != nil {
		log.Printf("❌ owner %d: list conversations: %v", ownerID, err)
		b.sendMessage(chatID, "Could not list your conversations.")
		return
	}
	if len(metas) == 0 {
		b.showInfo(chatID, "No conversations yet. Send me a message or use /new.")
		return
	}
	var bld strings.Builder
	bld.WriteString("Your conversations:\n")
	buttons := make([][]tracker.Button, 0, len(metas))
	for _, m := range metas {
		marker := "▫️"
		if m.IsActive {
			marker = "🔹"
		}
		bld.WriteString(fmt.Sprintf("%s %s — %d messages, %d tokens\n",
			marker, b.escapeIfNeeded(m.Title), m.MessageCount, m.TotalTokens))
		buttons = append(buttons, []tracker.Button{{
			Label: m.Title,
			Data:  switchPrefix + m.ConversationID,
		}})
	}
	if _, err := b.track.Show(chatID, tracker.Content{Text: bld.String(), Buttons: buttons}, tracker.ClassMenu); err != nil {
		log.Printf("failed to show chat menu: %v", err)
	}
}

func (b *Bot) handleRename(msg *tgbotapi.Message) {
	ownerID := msg.From.ID
	title := strings.TrimSpace(msg.CommandArguments())
	if title == "" {
		b.sendMessage(msg.Chat.ID, "Usage: /rename <new title>")
		return
	}
	id, err := b.store.GetActive(ownerID)
	if err != nil || id == "" {
		b.sendMessage(msg.Chat.ID, "No active conversation to rename.")
		return
	}
	if err := b.store.Rename(ownerID, id, title); err != nil {
		log.Printf("❌ owner %d: rename conversation %s: %v", ownerID, id, err)
		b.sendMessage(msg.Chat.ID, "Could not rename the conversation.")
		return
	}
	b.showInfo(msg.Chat.ID, fmt.Sprintf("Renamed to %q.", title))
}

func (b *Bot) handleDeleteRequest(msg *tgbotapi.Message) {
	ownerID := msg.From.ID
	id, err := b.store.GetActive(ownerID)
	if err != nil || id == "" {
		b.sendMessage(msg.Chat.ID, "No active conversation to delete.")
		return
	}
	content := tracker.Content{
		Text: "Delete the current conversation? This cannot be undone.",
		Buttons: [][]tracker.Button{{
			{Label: "Delete", Data: deleteYesPrefix + id},
			{Label: "Cancel", Data: deleteNoCmd},
		}},
	}
	if _, err := b.track.Show(msg.Chat.ID, content, tracker.ClassConfirmation); err != nil {
		log.Printf("failed to show delete confirmation: %v", err)
	}
}

func (b *Bot) handleHistory(msg *tgbotapi.Message) {
	ownerID := msg.From.ID
	id, err := b.store.GetActive(ownerID)
	if err != nil || id == "" {
		b.sendMessage(msg.Chat.ID, "No active conversation.")
		return
	}
	conv, err := b.store.Load(ownerID, id)
	if err != nil {
		b.sendMessage(msg.Chat.ID, "No active conversation.")
		return
	}
	if len(conv.Messages) == 0 {
		b.showInfo(msg.Chat.ID, fmt.Sprintf("%q is empty so far.", conv.Metadata.Title))
		return
	}
	start := len(conv.Messages) - historyTail
	if start < 0 {
		start = 0
	}
	var bld strings.Builder
	bld.WriteString(fmt.Sprintf("%s (%d messages):\n", b.escapeIfNeeded(conv.Metadata.Title), conv.Metadata.MessageCount))
	for _, m := range conv.Messages[start:] {
		who := "You"
		if m.Role == conversation.RoleAssistant {
			who = "Bot"
		}
		bld.WriteString(fmt.Sprintf("%s: %s\n", who, b.escapeIfNeeded(m.Text)))
	}
	b.showInfo(msg.Chat.ID, bld.String())
}

func (b *Bot) handleCallback(cb *tgbotapi.CallbackQuery) {
	if cb.From == nil || cb.Message == nil {
		return
	}
	if !b.isAllowed(cb.From.ID) {
		return
	}
	defer func() {
		if _, err := b.s.Request(tgbotapi.NewCallback(cb.ID, "")); err != nil {
			log.Printf("failed to answer callback: %v", err)
		}
	}()

	ownerID := cb.From.ID
	chatID := cb.Message.Chat.ID
	switch {
	case strings.HasPrefix(cb.Data, switchPrefix):
		id := strings.TrimPrefix(cb.Data, switchPrefix)
		if err := b.store.SetActive(ownerID, id); err != nil {
			log.Printf("❌ owner %d: switch to conversation %s: %v", ownerID, id, err)
			b.sendMessage(chatID, "Could not switch conversations.")
			return
		}
		// The chat moved to a different context; tracked elements from the
		// old one must not be cleaned up against it.
		b.track.Clear(chatID)
		b.showInfo(chatID, "Switched conversations.")
	case strings.HasPrefix(cb.Data, deleteYesPrefix):
		id := strings.TrimPrefix(cb.Data, deleteYesPrefix)
		if err := b.store.Delete(ownerID, id); err != nil {
			log.Printf("❌ owner %d: delete conversation %s: %v", ownerID, id, err)
			b.sendMessage(chatID, "Could not delete the conversation.")
			return
		}
		b.track.Clear(chatID)
		log.Printf("✅ owner %d: deleted conversation %s", ownerID, id)
		b.showInfo(chatID, "Conversation deleted.")
	case cb.Data == deleteNoCmd:
		b.showInfo(chatID, "Kept the conversation.")
	}
}

func (b *Bot) showInfo(chatID int64, text string) {
	if _, err := b.track.Show(chatID, tracker.Content{Text: text}, tracker.ClassInfo); err != nil {
		log.Printf("failed to send info message: %v", err)
	}
}

func (b *Bot) escapeIfNeeded(text string) string {
	if strings.EqualFold(b.parseMode, "HTML") {
		return html.EscapeString(text)
	}
	return text
}
