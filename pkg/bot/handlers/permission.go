package handlers

import (
	"context"
	"fmt"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"github.com/smith3v/tg-med-reminder/pkg/logger"
	"github.com/smith3v/tg-med-reminder/pkg/ui"
)

func HandlePermit(ctx context.Context, b *bot.Bot, update *models.Update) {
	if !validMessage(update) {
		logger.Error("invalid update in HandlePermit")
		return
	}
	text, keyboard, err := ui.RenderPermissionPrompt()
	if err != nil {
		logger.Error("failed to render permission prompt", "error", err)
		return
	}
	if _, err := b.SendMessage(ctx, &bot.SendMessageParams{
		ChatID:      update.Message.Chat.ID,
		Text:        text,
		ReplyMarkup: keyboard,
	}); err != nil {
		logger.Error("failed to send permission prompt", "user_id", update.Message.From.ID, "error", err)
	}
}

// HandlePermissionCallback records the grant and retries the scheduling
// that was deferred while permission was missing.
func HandlePermissionCallback(ctx context.Context, b *bot.Bot, update *models.Update) {
	if update == nil || update.CallbackQuery == nil {
		logger.Error("invalid update in HandlePermissionCallback")
		return
	}
	reply := newCallbackReply(b, update.CallbackQuery)
	action, err := ui.ParseCallbackData(update.CallbackQuery.Data)
	if err != nil || action.Kind != ui.KindGrant {
		logger.Error("failed to parse permission callback", "data", update.CallbackQuery.Data, "error", err)
		reply.answer(ctx, "Unknown command")
		return
	}

	userID := update.CallbackQuery.From.ID
	if err := userPolicy.GrantExact(ctx, userID); err != nil {
		logger.Error("failed to grant exact reminders", "user_id", userID, "error", err)
		reply.answer(ctx, "Failed to save permission")
		return
	}
	outcome, err := medService.RearmUser(ctx, userID)
	if err != nil {
		logger.Error("failed to re-arm reminders after grant", "user_id", userID, "error", err)
	}
	reply.answer(ctx, "Exact reminders allowed")
	reply.edit(ctx, fmt.Sprintf("Exact reminders allowed ✅ %d reminder(s) armed.", outcome.Registered()), &models.InlineKeyboardMarkup{
		InlineKeyboard: [][]models.InlineKeyboardButton{},
	})
}
