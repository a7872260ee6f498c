package delivery

import (
	"context"
	"fmt"

	"github.com/go-telegram/bot"
	"github.com/smith3v/tg-med-reminder/pkg/db"
	"github.com/smith3v/tg-med-reminder/pkg/logger"
	"github.com/smith3v/tg-med-reminder/pkg/ui"
)

// Telegram delivers fired reminders and permission prompts as chat
// messages. Private chats share the user's id, so alarms address the chat by
// UserID.
type Telegram struct {
	b *bot.Bot
}

func NewTelegram(b *bot.Bot) *Telegram {
	return &Telegram{b: b}
}

func (t *Telegram) Deliver(ctx context.Context, alarm db.PendingAlarm) error {
	text, keyboard, err := ui.RenderReminder(alarm)
	if err != nil {
		return fmt.Errorf("render reminder: %w", err)
	}
	if _, err := t.b.SendMessage(ctx, &bot.SendMessageParams{
		ChatID:      alarm.UserID,
		Text:        text,
		ReplyMarkup: keyboard,
	}); err != nil {
		return err
	}
	logger.Debug("reminder delivered", "user_id", alarm.UserID, "medication_id", alarm.MedicationID, "slot", alarm.SlotTime)
	return nil
}

func (t *Telegram) PromptExactPermission(ctx context.Context, userID int64) error {
	text, keyboard, err := ui.RenderPermissionPrompt()
	if err != nil {
		return fmt.Errorf("render permission prompt: %w", err)
	}
	_, err = t.b.SendMessage(ctx, &bot.SendMessageParams{
		ChatID:      userID,
		Text:        text,
		ReplyMarkup: keyboard,
	})
	return err
}
