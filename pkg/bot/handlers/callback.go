package handlers

import (
	"context"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"github.com/smith3v/tg-med-reminder/pkg/logger"
)

// callbackReply answers a callback query at most once and edits the message
// the button belongs to.
type callbackReply struct {
	b        *bot.Bot
	query    *models.CallbackQuery
	answered bool
}

func newCallbackReply(b *bot.Bot, query *models.CallbackQuery) *callbackReply {
	return &callbackReply{b: b, query: query}
}

func (r *callbackReply) answer(ctx context.Context, text string) {
	if r.answered || r.query.ID == "" {
		return
	}
	if _, err := r.b.AnswerCallbackQuery(ctx, &bot.AnswerCallbackQueryParams{
		CallbackQueryID: r.query.ID,
		Text:            text,
	}); err != nil {
		logger.Error("failed to answer callback query", "error", err)
	}
	r.answered = true
}

func (r *callbackReply) message() *models.Message {
	msg := r.query.Message
	if msg.Type != models.MaybeInaccessibleMessageTypeMessage || msg.Message == nil || msg.Message.Chat.ID == 0 {
		return nil
	}
	return msg.Message
}

func (r *callbackReply) edit(ctx context.Context, text string, keyboard *models.InlineKeyboardMarkup) {
	msg := r.message()
	if msg == nil {
		logger.Error("callback query message is inaccessible", "user_id", r.query.From.ID)
		return
	}
	params := &bot.EditMessageTextParams{
		ChatID:    msg.Chat.ID,
		MessageID: msg.ID,
		Text:      text,
	}
	if keyboard != nil {
		params.ReplyMarkup = keyboard
	}
	if _, err := r.b.EditMessageText(ctx, params); err != nil {
		logger.Error("failed to edit callback message", "user_id", r.query.From.ID, "error", err)
	}
}

func sendText(ctx context.Context, b *bot.Bot, chatID int64, text string) {
	if _, err := b.SendMessage(ctx, &bot.SendMessageParams{
		ChatID: chatID,
		Text:   text,
	}); err != nil {
		logger.Error("failed to send message", "chat_id", chatID, "error", err)
	}
}

func validMessage(update *models.Update) bool {
	return update != nil && update.Message != nil && update.Message.From != nil && update.Message.Chat.ID != 0
}
