package handlers

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"github.com/smith3v/tg-med-reminder/pkg/logger"
	"github.com/smith3v/tg-med-reminder/pkg/medications"
	"github.com/smith3v/tg-med-reminder/pkg/ui"
)

func HandleTakenCallback(ctx context.Context, b *bot.Bot, update *models.Update) {
	if update == nil || update.CallbackQuery == nil {
		logger.Error("invalid update in HandleTakenCallback")
		return
	}
	reply := newCallbackReply(b, update.CallbackQuery)
	action, err := ui.ParseCallbackData(update.CallbackQuery.Data)
	if err != nil || action.Kind != ui.KindTaken {
		logger.Error("failed to parse taken callback", "data", update.CallbackQuery.Data, "error", err)
		reply.answer(ctx, "Unknown command")
		return
	}

	userID := update.CallbackQuery.From.ID
	entry, remaining, err := medService.ConfirmIntake(ctx, userID, action.MedicationID, action.ScheduleIndex, action.SlotTime)
	if err != nil {
		if errors.Is(err, medications.ErrAlreadyTaken) {
			reply.answer(ctx, "Already logged")
			return
		}
		if errors.Is(err, medications.ErrMedicationNotFound) || errors.Is(err, medications.ErrSlotNotFound) {
			reply.answer(ctx, "This reminder is no longer scheduled")
			return
		}
		logger.Error("failed to log intake", "user_id", userID, "medication_id", action.MedicationID, "error", err)
		reply.answer(ctx, "Failed to save")
		return
	}

	loc, err := userPolicy.Location(ctx, userID)
	if err != nil {
		logger.Error("failed to resolve user location", "user_id", userID, "error", err)
	}
	takenAt := entry.TakenAt
	if loc != nil {
		takenAt = takenAt.In(loc)
	}

	text := fmt.Sprintf("✅ Taken at %s", takenAt.Format("15:04"))
	if msg := reply.message(); msg != nil && msg.Text != "" {
		text = msg.Text + "\n" + text
	}
	if remaining != nil {
		text += fmt.Sprintf(" (%d left)", *remaining)
	}
	reply.answer(ctx, "Logged")
	reply.edit(ctx, text, &models.InlineKeyboardMarkup{
		InlineKeyboard: [][]models.InlineKeyboardButton{},
	})
}
