package telegram

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"golang.org/x/time/rate"
)

// maxDownload is the Bot API limit for getFile downloads.
const maxDownload = 20 << 20

// Transport is what the handler needs from the messaging platform.
type Transport interface {
	Send(ctx context.Context, chatID int64, text, parseMode string) error
	FilePath(ctx context.Context, fileID string) (string, error)
	Download(ctx context.Context, filePath string) ([]byte, error)
}

// BotTransport implements Transport over the Bot API client.
type BotTransport struct {
	Bot     *tgbotapi.BotAPI
	Limiter *rate.Limiter

	// FileEndpoint is a Sprintf format taking the token and the file path.
	FileEndpoint string
	httpc        *http.Client
}

func NewBotTransport(bot *tgbotapi.BotAPI, sendRPS float64) *BotTransport {
	var lim *rate.Limiter
	if sendRPS > 0 {
		lim = rate.NewLimiter(rate.Limit(sendRPS), 1)
	}
	return &BotTransport{
		Bot:          bot,
		Limiter:      lim,
		FileEndpoint: tgbotapi.FileEndpoint,
		httpc:        &http.Client{Timeout: 60 * time.Second},
	}
}

func (t *BotTransport) Send(ctx context.Context, chatID int64, text, parseMode string) error {
	if t.Limiter != nil {
		if err := t.Limiter.Wait(ctx); err != nil {
			return err
		}
	}
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = parseMode
	_, err := t.Bot.Send(msg)
	return t.redact(err)
}

func (t *BotTransport) FilePath(ctx context.Context, fileID string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	f, err := t.Bot.GetFile(tgbotapi.FileConfig{FileID: fileID})
	if err != nil {
		return "", t.redact(fmt.Errorf("get file: %w", err))
	}
	if f.FilePath == "" {
		return "", errors.New("get file: empty file path")
	}
	return f.FilePath, nil
}

func (t *BotTransport) Download(ctx context.Context, filePath string) ([]byte, error) {
	data, err := t.download(ctx, filePath)
	return data, t.redact(err)
}

func (t *BotTransport) download(ctx context.Context, filePath string) ([]byte, error) {
	url := fmt.Sprintf(t.FileEndpoint, t.Bot.Token, filePath)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	httpc := t.httpc
	if httpc == nil {
		httpc = http.DefaultClient
	}
	resp, err := httpc.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("download status %d: %s", resp.StatusCode, string(b))
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxDownload+1))
	if err != nil {
		return nil, err
	}
	if len(data) > maxDownload {
		return nil, fmt.Errorf("file is larger than %d bytes", maxDownload)
	}
	return data, nil
}

func (t *BotTransport) redact(err error) error {
	if t.Bot == nil {
		return err
	}
	return Redact(err, t.Bot.Token)
}

// Redact replaces token in err's text. Bot API and file URLs carry the token,
// and transport errors reach chat replies and logs.
func Redact(err error, token string) error {
	if err == nil || token == "" {
		return err
	}
	msg := err.Error()
	if !strings.Contains(msg, token) {
		return err
	}
	return &redactedError{msg: strings.ReplaceAll(msg, token, "<token>"), err: err}
}

type redactedError struct {
	msg string
	err error
}

func (e *redactedError) Error() string { return e.msg }
func (e *redactedError) Unwrap() error { return e.err }
