package handlers

import (
	"context"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"github.com/smith3v/tg-med-reminder/pkg/logger"
)

const helpText = "Commands:\n" +
	"* /add <name>; <dosage> <unit>; <times>[; <days>]: add a medication.\n" +
	"* /meds: list your medications.\n" +
	"* /remove <number>: remove a medication and its reminders.\n" +
	"* /edit <number>; <times>[; <days>]: change a medication's schedule.\n" +
	"* /stock <number> <count|off>: track how many units are left.\n" +
	"* /tz <zone>: set your timezone, e.g. /tz Europe/Amsterdam.\n" +
	"* /settings: timezone and reminder permission.\n" +
	"* /permit: allow exact reminders.\n" +
	"* /history [days]: download your confirmed doses as CSV."

func DefaultHandler(ctx context.Context, b *bot.Bot, update *models.Update) {
	if update == nil || update.Message == nil {
		logger.Error("received invalid update in defaultHandler")
		return
	}
	if update.Message.Chat.ID == 0 {
		logger.Error("chat ID is zero in defaultHandler")
		return
	}
	sendText(ctx, b, update.Message.Chat.ID, helpText)
}
