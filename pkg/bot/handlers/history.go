package handlers

import (
	"bytes"
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"github.com/smith3v/tg-med-reminder/pkg/bot/export"
	"github.com/smith3v/tg-med-reminder/pkg/logger"
)

const (
	defaultHistoryDays = 30
	maxHistoryDays     = 365
)

// HandleHistory sends the user's intake log as a CSV document.
// Usage: /history [days].
func HandleHistory(ctx context.Context, b *bot.Bot, update *models.Update) {
	if !validMessage(update) {
		logger.Error("invalid update in HandleHistory")
		return
	}
	userID := update.Message.From.ID
	chatID := update.Message.Chat.ID

	days := defaultHistoryDays
	if arg := commandArgument(update.Message.Text, "/history"); arg != "" {
		n, err := strconv.Atoi(arg)
		if err != nil || n < 1 || n > maxHistoryDays {
			sendText(ctx, b, chatID, fmt.Sprintf("Usage: /history [days], between 1 and %d.", maxHistoryDays))
			return
		}
		days = n
	}

	logs, err := medService.Intakes(ctx, userID, days)
	if err != nil {
		logger.Error("failed to fetch intake history", "user_id", userID, "error", err)
		sendText(ctx, b, chatID, "Failed to export your history. Please try again later.")
		return
	}
	if len(logs) == 0 {
		sendText(ctx, b, chatID, fmt.Sprintf("No doses confirmed in the last %d days.", days))
		return
	}
	meds, err := medService.List(ctx, userID)
	if err != nil {
		logger.Error("failed to list medications for history", "user_id", userID, "error", err)
		sendText(ctx, b, chatID, "Failed to export your history. Please try again later.")
		return
	}
	loc, err := userPolicy.Location(ctx, userID)
	if err != nil {
		logger.Warn("failed to load timezone for history", "user_id", userID, "error", err)
	}

	export.SortLogsForExport(logs)
	data, err := export.BuildHistoryCSV(logs, export.MedicationNames(meds), loc)
	if err != nil {
		logger.Error("failed to build history CSV", "user_id", userID, "error", err)
		sendText(ctx, b, chatID, "Failed to export your history. Please try again later.")
		return
	}

	_, err = b.SendDocument(ctx, &bot.SendDocumentParams{
		ChatID: chatID,
		Document: &models.InputFileUpload{
			Filename: export.HistoryFilename(time.Now()),
			Data:     bytes.NewReader(data),
		},
		Caption: fmt.Sprintf("Your intake history for the last %d days (%d doses).", days, len(logs)),
	})
	if err != nil {
		logger.Error("failed to send history document", "user_id", userID, "error", err)
		sendText(ctx, b, chatID, "Failed to export your history. Please try again later.")
	}
}
