package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"ocr-bot/api/internal/telegram"
	"ocr-bot/api/internal/util"
)

var allowedUpdates = []string{"message"}

// ---------------- Modes -----------------

func runWebhook(ctx context.Context, bot *tgbotapi.BotAPI, r *telegram.Router, baseURL string, workers int) error {
	path := webhookPath(bot.Token)
	public := strings.TrimRight(baseURL, "/") + path

	wh, err := tgbotapi.NewWebhook(public)
	if err != nil {
		return err
	}
	wh.DropPendingUpdates = true
	wh.AllowedUpdates = allowedUpdates
	if _, err := bot.Request(wh); err != nil {
		return telegram.Redact(err, bot.Token)
	}

	updates := bot.ListenForWebhook(path)
	log.Info().Str("path", path).Msg("webhook registered")
	return dispatch(ctx, updates, r, workers)
}

func runPolling(ctx context.Context, bot *tgbotapi.BotAPI, r *telegram.Router, workers int) error {
	// a webhook left over from an earlier deploy blocks getUpdates
	if _, err := bot.Request(tgbotapi.DeleteWebhookConfig{}); err != nil {
		log.Warn().Err(telegram.Redact(err, bot.Token)).Msg("delete webhook")
	}

	updates := make(chan tgbotapi.Update, workers)
	go func() {
		defer close(updates)
		poll(ctx, bot, updates)
	}()
	log.Info().Msg("long polling started")
	return dispatch(ctx, updates, r, workers)
}

// dispatch handles updates concurrently, at most workers at a time. Each
// update's own pipeline stays sequential.
func dispatch(ctx context.Context, updates <-chan tgbotapi.Update, r *telegram.Router, workers int) error {
	if workers < 1 {
		workers = 1
	}
	var g errgroup.Group
	g.SetLimit(workers)
	defer func() { _ = g.Wait() }()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case upd, ok := <-updates:
			if !ok {
				return nil
			}
			g.Go(func() error {
				r.HandleUpdate(ctx, upd)
				return nil
			})
		}
	}
}

// ---------------- Polling loop -----------------

// retryDelayFromError picks the pause before the next getUpdates call. Flood
// control replies say how long to wait; otherwise timeouts wait a bit longer
// than other failures.
func retryDelayFromError(err error) time.Duration {
	var (
		apiErr *tgbotapi.Error
		netErr net.Error
	)
	switch {
	case err == nil:
		return 0
	case errors.As(err, &apiErr) && apiErr.RetryAfter > 0:
		return time.Duration(apiErr.RetryAfter) * time.Second
	case errors.As(err, &apiErr) && apiErr.Code == http.StatusTooManyRequests:
		return 3 * time.Second
	case errors.As(err, &netErr) && netErr.Timeout():
		return 2 * time.Second
	default:
		return time.Second
	}
}

func clampDelay(d, lo, hi time.Duration) time.Duration {
	if d < lo {
		return lo
	}
	if d > hi {
		return hi
	}
	return d
}

func poll(ctx context.Context, bot *tgbotapi.BotAPI, out chan<- tgbotapi.Update) {
	offset := 0
	baseDelay := 1 * time.Second
	maxDelay := 15 * time.Second

	for {
		if ctx.Err() != nil {
			log.Info().Msg("polling: context cancelled")
			return
		}

		u := tgbotapi.NewUpdate(offset)
		u.Timeout = 30 // long polling timeout (sec)
		u.AllowedUpdates = allowedUpdates

		updates, err := bot.GetUpdates(u)
		if err != nil {
			err = telegram.Redact(err, bot.Token)
			d := clampDelay(retryDelayFromError(err), baseDelay, maxDelay)
			log.Warn().Err(err).Dur("retry_in", d).Msg("polling error")
			if !sleepCtx(ctx, d) {
				return
			}
			continue
		}

		for _, upd := range updates {
			if upd.UpdateID >= offset {
				offset = upd.UpdateID + 1
			}
			select {
			case out <- upd:
			case <-ctx.Done():
				return
			}
		}

		if len(updates) == 0 && !sleepCtx(ctx, 200*time.Millisecond) {
			return
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// webhookPath is unguessable without the token and stable across restarts.
func webhookPath(token string) string {
	return "/webhook/" + util.SHA256Hex([]byte(token))[:16]
}
