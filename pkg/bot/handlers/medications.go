package handlers

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"github.com/smith3v/tg-med-reminder/pkg/db"
	"github.com/smith3v/tg-med-reminder/pkg/logger"
	"github.com/smith3v/tg-med-reminder/pkg/medications"
	"github.com/smith3v/tg-med-reminder/pkg/ui"
)

func HandleAdd(ctx context.Context, b *bot.Bot, update *models.Update) {
	if !validMessage(update) {
		logger.Error("invalid update in HandleAdd")
		return
	}
	userID := update.Message.From.ID
	chatID := update.Message.Chat.ID

	med, err := parseAddCommand(update.Message.Text)
	if err != nil {
		sendText(ctx, b, chatID, err.Error()+"\n\n"+addUsage)
		return
	}
	med.UserID = userID

	if _, _, err := userPolicy.Ensure(ctx, userID); err != nil {
		logger.Error("failed to initialize user settings", "user_id", userID, "error", err)
		sendText(ctx, b, chatID, "Failed to add the medication. Please try again later.")
		return
	}

	outcome, err := medService.Add(ctx, med)
	if err != nil {
		if errors.Is(err, medications.ErrInvalidMedication) {
			sendText(ctx, b, chatID, addUsage)
			return
		}
		logger.Error("failed to add medication", "user_id", userID, "error", err)
		sendText(ctx, b, chatID, "Failed to add the medication. Please try again later.")
		return
	}

	var text string
	switch {
	case outcome.Deferred:
		text = fmt.Sprintf("Added %s. Reminders start once you allow exact reminders.", med.Name)
	case outcome.Registered() == 0:
		text = fmt.Sprintf("Added %s without reminders.", med.Name)
	default:
		text = fmt.Sprintf("Added %s with %d reminder(s): %s.", med.Name, outcome.Registered(), ui.FormatSchedule(med.Schedules[0]))
	}
	sendText(ctx, b, chatID, text)
}

func HandleList(ctx context.Context, b *bot.Bot, update *models.Update) {
	if !validMessage(update) {
		logger.Error("invalid update in HandleList")
		return
	}
	meds, err := medService.List(ctx, update.Message.From.ID)
	if err != nil {
		logger.Error("failed to list medications", "user_id", update.Message.From.ID, "error", err)
		sendText(ctx, b, update.Message.Chat.ID, "Failed to load your medications. Please try again later.")
		return
	}
	sendText(ctx, b, update.Message.Chat.ID, ui.RenderMedicationList(meds))
}

func HandleRemove(ctx context.Context, b *bot.Bot, update *models.Update) {
	if !validMessage(update) {
		logger.Error("invalid update in HandleRemove")
		return
	}
	userID := update.Message.From.ID
	chatID := update.Message.Chat.ID

	n, err := strconv.Atoi(commandArgument(update.Message.Text, "/remove"))
	if err != nil || n < 1 {
		sendText(ctx, b, chatID, "Usage: /remove <number from /meds>")
		return
	}
	med, ok := medicationByNumber(ctx, b, chatID, userID, n)
	if !ok {
		return
	}

	if err := medService.Remove(ctx, userID, med.ID); err != nil {
		if errors.Is(err, medications.ErrMedicationNotFound) {
			sendText(ctx, b, chatID, "That medication was already removed.")
			return
		}
		logger.Error("failed to remove medication", "user_id", userID, "medication_id", med.Key(), "error", err)
		sendText(ctx, b, chatID, "Failed to remove the medication. Please try again later.")
		return
	}
	sendText(ctx, b, chatID, fmt.Sprintf("Removed %s and its reminders.", strings.TrimSpace(med.Name)))
}

// HandleEdit replaces a medication's schedule and moves its reminders.
func HandleEdit(ctx context.Context, b *bot.Bot, update *models.Update) {
	if !validMessage(update) {
		logger.Error("invalid update in HandleEdit")
		return
	}
	userID := update.Message.From.ID
	chatID := update.Message.Chat.ID

	n, sched, err := parseEditCommand(update.Message.Text)
	if err != nil {
		sendText(ctx, b, chatID, err.Error()+"\n\n"+editUsage)
		return
	}
	med, ok := medicationByNumber(ctx, b, chatID, userID, n)
	if !ok {
		return
	}

	outcome, err := medService.UpdateSchedules(ctx, userID, med.ID, []db.Schedule{sched})
	if err != nil {
		if errors.Is(err, medications.ErrMedicationNotFound) {
			sendText(ctx, b, chatID, "That medication was removed meanwhile.")
			return
		}
		logger.Error("failed to update schedules", "user_id", userID, "medication_id", med.Key(), "error", err)
		sendText(ctx, b, chatID, "Failed to update the schedule. Please try again later.")
		return
	}

	var text string
	switch {
	case outcome.Deferred:
		text = fmt.Sprintf("Updated %s. Reminders start once you allow exact reminders.", med.Name)
	case outcome.Registered() == 0:
		text = fmt.Sprintf("Updated %s, no reminders scheduled.", med.Name)
	default:
		text = fmt.Sprintf("Updated %s with %d reminder(s): %s.", med.Name, outcome.Registered(), ui.FormatSchedule(sched))
	}
	sendText(ctx, b, chatID, text)
}

func HandleStock(ctx context.Context, b *bot.Bot, update *models.Update) {
	if !validMessage(update) {
		logger.Error("invalid update in HandleStock")
		return
	}
	userID := update.Message.From.ID
	chatID := update.Message.Chat.ID

	n, stock, err := parseStockCommand(update.Message.Text)
	if err != nil {
		sendText(ctx, b, chatID, stockUsage)
		return
	}
	med, ok := medicationByNumber(ctx, b, chatID, userID, n)
	if !ok {
		return
	}
	if err := medService.SetStock(ctx, userID, med.ID, stock); err != nil {
		if errors.Is(err, medications.ErrMedicationNotFound) {
			sendText(ctx, b, chatID, "That medication was removed meanwhile.")
			return
		}
		logger.Error("failed to set stock", "user_id", userID, "medication_id", med.Key(), "error", err)
		sendText(ctx, b, chatID, "Failed to save the stock. Please try again later.")
		return
	}
	if stock == nil {
		sendText(ctx, b, chatID, fmt.Sprintf("Stopped tracking the stock of %s.", med.Name))
		return
	}
	sendText(ctx, b, chatID, fmt.Sprintf("%s: %d left.", med.Name, *stock))
}

// medicationByNumber resolves a /meds list number, replying to the user when
// it cannot.
func medicationByNumber(ctx context.Context, b *bot.Bot, chatID, userID int64, n int) (*db.Medication, bool) {
	meds, err := medService.List(ctx, userID)
	if err != nil {
		logger.Error("failed to list medications", "user_id", userID, "error", err)
		sendText(ctx, b, chatID, "Failed to load your medications. Please try again later.")
		return nil, false
	}
	if n < 1 || n > len(meds) {
		sendText(ctx, b, chatID, fmt.Sprintf("There is no medication number %d. See /meds.", n))
		return nil, false
	}
	return &meds[n-1], true
}
