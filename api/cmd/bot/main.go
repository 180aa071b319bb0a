package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"ocr-bot/api/internal/config"
	"ocr-bot/api/internal/httpserver"
	"ocr-bot/api/internal/langpack"
	"ocr-bot/api/internal/logger"
	"ocr-bot/api/internal/ocr"
	"ocr-bot/api/internal/ocr/gemini"
	"ocr-bot/api/internal/ocr/tesseract"
	"ocr-bot/api/internal/telegram"
)

func main() {
	cfg := config.Load()
	logger.Init(cfg.LogLevel, cfg.LogPretty)

	// Language packs are checked before anything talks to Telegram.
	log.Info().Str("tessdata", cfg.TessdataDir).Msg("resolving language packs")
	langs, err := langpack.Bootstrap(cfg.TessdataDir)
	if err != nil {
		log.Fatal().Err(err).Msg("configuration error, bot not started")
	}
	log.Info().Str("languages", langs.String()).Int("count", langs.Len()).Msg("detected languages")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	engine, closeEngine, err := newEngine(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("ocr engine")
	}
	defer closeEngine()

	catalog, err := telegram.DefaultCatalog(cfg.Locale)
	if err != nil {
		log.Fatal().Err(err).Msg("messages")
	}

	pipeline := &ocr.Pipeline{Engine: engine}
	if cfg.OCRPreprocess {
		pipeline.Preprocess = &ocr.Preprocessor{MinWidth: cfg.OCRMinWidth, Contrast: cfg.OCRContrast}
	}

	handler := &telegram.Handler{
		OCR:      pipeline,
		Langs:    langs,
		Messages: catalog,
	}

	// --- optional Postgres cache ---
	var health httpserver.Health
	if cfg.DatabaseURL != "" {
		rc, err := openCache(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Fatal().Err(err).Msg("recognition cache")
		}
		defer rc.db.Close()
		handler.Cache = rc.repo
		handler.CacheTTL = cfg.CacheTTL
		health = rc.db.PingContext

		sched, err := startPurge(cfg.CachePurgeSchedule, cfg.CacheTTL, rc.repo)
		if err != nil {
			log.Fatal().Err(err).Msg("cache purge schedule")
		}
		defer sched.Stop()
	}

	// --- Telegram bot ---
	bot, err := tgbotapi.NewBotAPI(cfg.TelegramBotToken)
	if err != nil {
		log.Fatal().Err(telegram.Redact(err, cfg.TelegramBotToken)).Msg("telegram")
	}
	bot.Debug = false
	log.Info().Str("username", bot.Self.UserName).Msg("bot started")

	handler.Transport = telegram.NewBotTransport(bot, cfg.SendRPS)
	r := &telegram.Router{Handler: handler}

	// tgbotapi.ListenForWebhook registers on DefaultServeMux.
	httpserver.Register(http.DefaultServeMux, health)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return httpserver.Serve(gctx, "0.0.0.0:"+cfg.Port, http.DefaultServeMux)
	})
	g.Go(func() error {
		if cfg.WebhookURL != "" {
			return runWebhook(gctx, bot, r, cfg.WebhookURL, cfg.Workers)
		}
		return runPolling(gctx, bot, r, cfg.Workers)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Error().Err(err).Msg("bot stopped with error")
		return
	}
	log.Info().Msg("bot stopped")
}

func newEngine(ctx context.Context, cfg *config.Config) (ocr.Engine, func(), error) {
	switch cfg.OCREngine {
	case "", "tesseract":
		log.Info().Str("version", tesseract.Version()).Msg("ocr engine: tesseract")
		return tesseract.New(cfg.TessdataDir), func() {}, nil
	case "gemini":
		e, err := gemini.New(ctx, cfg.GeminiAPIKey, cfg.GeminiModel)
		if err != nil {
			return nil, nil, err
		}
		log.Info().Str("model", cfg.GeminiModel).Msg("ocr engine: gemini")
		return e, func() { _ = e.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("unknown OCR_ENGINE %q (tesseract|gemini)", cfg.OCREngine)
	}
}
