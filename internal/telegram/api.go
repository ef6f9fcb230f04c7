package telegram

import (
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"chat-keeper/internal/tracker"
)

type sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
}

type botAPISender struct{ api *tgbotapi.BotAPI }

func (s botAPISender) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	return s.api.Send(c)
}

func (s botAPISender) Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error) {
	return s.api.Request(c)
}

// transportAdapter exposes the bot API as the tracker's Transport.
type transportAdapter struct {
	s         sender
	parseMode string
}

func (t transportAdapter) Send(chatID int64, content tracker.Content) (int, error) {
	msg := tgbotapi.NewMessage(chatID, content.Text)
	msg.ParseMode = t.parseMode
	if len(content.Buttons) > 0 {
		rows := make([][]tgbotapi.InlineKeyboardButton, 0, len(content.Buttons))
		for _, row := range content.Buttons {
			btns := make([]tgbotapi.InlineKeyboardButton, 0, len(row))
			for _, b := range row {
				btns = append(btns, tgbotapi.NewInlineKeyboardButtonData(b.Label, b.Data))
			}
			rows = append(rows, btns)
		}
		msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(rows...)
	}
	sent, err := t.s.Send(msg)
	if err != nil {
		return 0, err
	}
	return sent.MessageID, nil
}

func (t transportAdapter) Delete(chatID int64, messageID int) error {
	_, err := t.s.Request(tgbotapi.NewDeleteMessage(chatID, messageID))
	if err != nil && strings.Contains(err.Error(), "message to delete not found") {
		return tracker.ErrMessageGone
	}
	return err
}
