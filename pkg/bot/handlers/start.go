package handlers

import (
	"context"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"github.com/smith3v/tg-med-reminder/pkg/logger"
)

func HandleStart(ctx context.Context, b *bot.Bot, update *models.Update) {
	if !validMessage(update) {
		logger.Error("invalid update in HandleStart")
		return
	}
	userID := update.Message.From.ID

	settings, created, err := userPolicy.Ensure(ctx, userID)
	if err != nil {
		logger.Error("failed to initialize user settings", "user_id", userID, "error", err)
		sendText(ctx, b, update.Message.Chat.ID, "Failed to start. Please try again later.")
		return
	}
	if created {
		logger.Info("new user", "user_id", userID)
	}

	text := "Welcome! I remind you to take your medications on time.\n\n" + helpText
	if !created {
		text = "Welcome back! Your timezone is " + settings.Timezone + ".\n\n" + helpText
	}
	sendText(ctx, b, update.Message.Chat.ID, text)
}
