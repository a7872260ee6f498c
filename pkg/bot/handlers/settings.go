package handlers

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"github.com/smith3v/tg-med-reminder/pkg/logger"
	"github.com/smith3v/tg-med-reminder/pkg/ui"
	"github.com/smith3v/tg-med-reminder/pkg/users"
)

func HandleSettings(ctx context.Context, b *bot.Bot, update *models.Update) {
	if !validMessage(update) {
		logger.Error("invalid update in HandleSettings")
		return
	}
	settings, _, err := userPolicy.Ensure(ctx, update.Message.From.ID)
	if err != nil {
		logger.Error("failed to load user settings", "user_id", update.Message.From.ID, "error", err)
		sendText(ctx, b, update.Message.Chat.ID, "Failed to load your settings. Please try again later.")
		return
	}
	text, keyboard, err := ui.RenderSettings(*settings)
	if err != nil {
		logger.Error("failed to render settings", "user_id", update.Message.From.ID, "error", err)
		sendText(ctx, b, update.Message.Chat.ID, "Failed to render settings. Please try again later.")
		return
	}
	if _, err := b.SendMessage(ctx, &bot.SendMessageParams{
		ChatID:      update.Message.Chat.ID,
		Text:        text,
		ReplyMarkup: keyboard,
	}); err != nil {
		logger.Error("failed to send settings message", "user_id", update.Message.From.ID, "error", err)
	}
}

func HandleTimezone(ctx context.Context, b *bot.Bot, update *models.Update) {
	if !validMessage(update) {
		logger.Error("invalid update in HandleTimezone")
		return
	}
	zone := commandArgument(update.Message.Text, "/tz")
	if zone == "" {
		sendText(ctx, b, update.Message.Chat.ID, "Usage: /tz <zone>, e.g. /tz Europe/Amsterdam")
		return
	}
	text, err := applyTimezone(ctx, update.Message.From.ID, zone)
	if err != nil {
		text = timezoneErrorText(err)
	}
	sendText(ctx, b, update.Message.Chat.ID, text)
}

func HandleTimezoneCallback(ctx context.Context, b *bot.Bot, update *models.Update) {
	if update == nil || update.CallbackQuery == nil {
		logger.Error("invalid update in HandleTimezoneCallback")
		return
	}
	reply := newCallbackReply(b, update.CallbackQuery)
	action, err := ui.ParseCallbackData(update.CallbackQuery.Data)
	if err != nil || action.Kind != ui.KindTimezone {
		logger.Error("failed to parse timezone callback", "data", update.CallbackQuery.Data, "error", err)
		reply.answer(ctx, "Unknown command")
		return
	}

	userID := update.CallbackQuery.From.ID
	if _, err := applyTimezone(ctx, userID, action.Timezone); err != nil {
		reply.answer(ctx, timezoneErrorText(err))
		return
	}
	reply.answer(ctx, "Timezone set to "+action.Timezone)

	settings, err := userPolicy.Load(ctx, userID)
	if err != nil || settings == nil {
		logger.Error("failed to reload user settings", "user_id", userID, "error", err)
		return
	}
	text, keyboard, err := ui.RenderSettings(*settings)
	if err != nil {
		logger.Error("failed to render settings", "user_id", userID, "error", err)
		return
	}
	reply.edit(ctx, text, keyboard)
}

// applyTimezone stores the zone and re-arms every reminder so fire times
// follow the new wall clock.
func applyTimezone(ctx context.Context, userID int64, zone string) (string, error) {
	loc, err := userPolicy.SetTimezone(ctx, userID, zone)
	if err != nil {
		return "", err
	}
	outcome, err := medService.RearmUser(ctx, userID)
	if err != nil {
		logger.Error("failed to re-arm reminders after timezone change", "user_id", userID, "error", err)
	}
	now := time.Now().In(loc).Format("15:04")
	if outcome.Deferred {
		return fmt.Sprintf("Timezone set to %s (local time %s). Allow exact reminders with /permit.", loc, now), nil
	}
	return fmt.Sprintf("Timezone set to %s (local time %s). %d reminder(s) re-armed.", loc, now, outcome.Registered()), nil
}

func timezoneErrorText(err error) string {
	if errors.Is(err, users.ErrUnknownTimezone) {
		return "Unknown timezone. Use an IANA name such as Europe/Amsterdam."
	}
	logger.Error("failed to set timezone", "error", err)
	return "Failed to save your timezone. Please try again later."
}
