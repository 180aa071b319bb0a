package telegram

import (
	"context"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

type Router struct {
	Handler *Handler
}

// HandleUpdate handles message updates and ignores everything else.
func (r *Router) HandleUpdate(ctx context.Context, upd tgbotapi.Update) {
	msg := upd.Message
	if msg == nil || msg.Chat == nil {
		return
	}
	lg := log.With().
		Str("req", uuid.NewString()).
		Int("update", upd.UpdateID).
		Int64("chat", msg.Chat.ID).
		Logger()
	ctx = lg.WithContext(ctx)

	reply := r.Handler.Handle(ctx, msg)
	lg.Debug().Int("reply", int(reply.Kind)).Msg("update handled")
}
