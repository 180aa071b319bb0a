package telegram

import (
	"context"
	"errors"
	"fmt"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"

	"ocr-bot/api/internal/langpack"
	"ocr-bot/api/internal/ocr"
	"ocr-bot/api/internal/store"
	"ocr-bot/api/internal/textfmt"
	"ocr-bot/api/internal/util"
)

// maxMessageLen is Telegram's limit for one text message, in UTF-16 units.
const maxMessageLen = 4096

const (
	fenceOpen  = "\n\n```\n"
	fenceClose = "\n```"
	ellipsis   = "…"
)

// Recognizer is the OCR pipeline as seen by the handler.
type Recognizer interface {
	Name() string
	Recognize(ctx context.Context, image []byte, langs langpack.Set) ocr.Outcome
}

// Cache stores recognized text by image hash.
type Cache interface {
	Find(ctx context.Context, imageHash, engine, languages string, maxAge time.Duration) (string, error)
	Upsert(ctx context.Context, chatID int64, imageHash, engine, languages, text string) error
}

type ReplyKind int

const (
	ReplyNone ReplyKind = iota
	ReplyInstruction
	ReplyText
	ReplyNoText
	ReplyDiagnostic
)

// Reply is the single terminal message sent for one inbound message.
type Reply struct {
	Kind      ReplyKind
	Text      string
	ParseMode string
}

// Handler runs one inbound message through download, recognition and
// formatting, and sends exactly one terminal reply.
type Handler struct {
	Transport Transport
	OCR       Recognizer
	Langs     langpack.Set
	Messages  *Catalog

	Cache    Cache
	CacheTTL time.Duration
}

// Handle processes msg and returns the reply it delivered. A cancelled ctx
// aborts the sequence without a terminal reply (Kind == ReplyNone).
func (h *Handler) Handle(ctx context.Context, msg *tgbotapi.Message) Reply {
	if msg == nil || msg.Chat == nil {
		return Reply{}
	}
	lg := zerolog.Ctx(ctx)
	cid := msg.Chat.ID
	m := h.Messages.For(senderLocale(msg))

	photo, ok := largestPhoto(msg.Photo)
	if !ok {
		return h.deliver(ctx, cid, Reply{Kind: ReplyInstruction, Text: m.SendPicture})
	}
	lg.Info().Str("file_id", photo.FileID).Int("width", photo.Width).Int("height", photo.Height).Msg("photo received")

	if err := h.Transport.Send(ctx, cid, m.Processing, ""); err != nil {
		lg.Warn().Err(err).Msg("processing notice not sent")
	}

	r := h.process(ctx, cid, photo, m)
	if ctx.Err() != nil {
		lg.Warn().Err(ctx.Err()).Msg("request cancelled, no reply sent")
		return Reply{}
	}
	return h.deliver(ctx, cid, r)
}

func (h *Handler) process(ctx context.Context, cid int64, photo tgbotapi.PhotoSize, m Messages) (r Reply) {
	lg := zerolog.Ctx(ctx)
	defer func() {
		if rec := recover(); rec != nil {
			lg.Error().Interface("panic", rec).Msg("handler panic")
			r = Reply{Kind: ReplyDiagnostic, Text: withError(m.RecognitionFailed, fmt.Errorf("internal error: %v", rec))}
		}
	}()

	img, err := h.download(ctx, photo.FileID)
	if err != nil {
		lg.Error().Err(err).Msg("download failed")
		return Reply{Kind: ReplyDiagnostic, Text: withError(m.DownloadFailed, err)}
	}

	out := h.recognize(ctx, cid, img)
	switch {
	case out.Kind == ocr.Faulted:
		lg.Error().Err(out.Err).Msg("recognition failed")
		return Reply{Kind: ReplyDiagnostic, Text: withError(m.RecognitionFailed, out.Err)}
	case out.Blank():
		lg.Info().Msg("no text found")
		return Reply{Kind: ReplyNoText, Text: m.NoText}
	default:
		lg.Debug().Str("raw", out.Text).Msg("text recognized")
		return Reply{Kind: ReplyText, Text: formatText(m.Caption, out.Text), ParseMode: tgbotapi.ModeMarkdownV2}
	}
}

func (h *Handler) download(ctx context.Context, fileID string) ([]byte, error) {
	path, err := h.Transport.FilePath(ctx, fileID)
	if err != nil {
		return nil, err
	}
	img, err := h.Transport.Download(ctx, path)
	if err != nil {
		return nil, err
	}
	if len(img) == 0 {
		return nil, errors.New("downloaded file is empty")
	}
	return img, nil
}

// recognize consults the cache first; cache errors only get logged.
func (h *Handler) recognize(ctx context.Context, cid int64, img []byte) ocr.Outcome {
	if h.Cache == nil {
		return h.OCR.Recognize(ctx, img, h.Langs)
	}
	lg := zerolog.Ctx(ctx)
	hash := util.SHA256Hex(img)
	engine, langs := h.OCR.Name(), h.Langs.String()

	text, err := h.Cache.Find(ctx, hash, engine, langs, h.CacheTTL)
	switch {
	case err == nil:
		lg.Info().Str("hash", hash).Msg("recognition cache hit")
		return ocr.Outcome{Kind: ocr.Recognized, Text: text}
	case !errors.Is(err, store.ErrNotFound):
		lg.Warn().Err(err).Msg("recognition cache lookup failed")
	}

	out := h.OCR.Recognize(ctx, img, h.Langs)
	if out.Kind == ocr.Recognized {
		if err := h.Cache.Upsert(ctx, cid, hash, engine, langs, out.Text); err != nil {
			lg.Warn().Err(err).Msg("recognition cache write failed")
		}
	}
	return out
}

func (h *Handler) deliver(ctx context.Context, cid int64, r Reply) Reply {
	if err := h.Transport.Send(ctx, cid, r.Text, r.ParseMode); err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Msg("reply not sent")
	}
	return r
}

// formatText builds the MarkdownV2 reply: escaped caption, then the
// normalized text in a pre block, cut to fit one message.
func formatText(caption, raw string) string {
	head := textfmt.EscapeMarkdownV2(caption) + fenceOpen
	budget := maxMessageLen - textfmt.Len(head) - textfmt.Len(fenceClose) - textfmt.Len(ellipsis)

	body, cut := textfmt.Fit(textfmt.Normalize(raw), budget)
	body = textfmt.EscapeMarkdownV2(body)
	if cut {
		body += ellipsis
	}
	return head + body + fenceClose
}

// largestPhoto picks the size with the most pixels; on a tie the later entry
// wins, which is the last one under Telegram's ascending order.
func largestPhoto(sizes []tgbotapi.PhotoSize) (tgbotapi.PhotoSize, bool) {
	if len(sizes) == 0 {
		return tgbotapi.PhotoSize{}, false
	}
	best := 0
	for i := range sizes {
		if sizes[i].Width*sizes[i].Height >= sizes[best].Width*sizes[best].Height {
			best = i
		}
	}
	return sizes[best], true
}

func senderLocale(msg *tgbotapi.Message) string {
	if msg.From == nil {
		return ""
	}
	return msg.From.LanguageCode
}
