package telegram

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"ocr-bot/api/internal/langpack"
	"ocr-bot/api/internal/ocr"
	"ocr-bot/api/internal/store"
	"ocr-bot/api/internal/textfmt"
)

type sent struct {
	chatID    int64
	text      string
	parseMode string
}

type fakeTransport struct {
	mu        sync.Mutex
	sent      []sent
	sendErrAt map[int]error // index of the Send call -> error
	pathErr   error
	dlErr     error
	data      []byte
	fileIDs   []string
}

func (f *fakeTransport) Send(_ context.Context, chatID int64, text, parseMode string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	i := len(f.sent)
	f.sent = append(f.sent, sent{chatID, text, parseMode})
	return f.sendErrAt[i]
}

func (f *fakeTransport) FilePath(_ context.Context, fileID string) (string, error) {
	f.fileIDs = append(f.fileIDs, fileID)
	if f.pathErr != nil {
		return "", f.pathErr
	}
	return "photos/" + fileID + ".jpg", nil
}

func (f *fakeTransport) Download(_ context.Context, _ string) ([]byte, error) {
	if f.dlErr != nil {
		return nil, f.dlErr
	}
	if f.data == nil {
		return []byte{0xFF, 0xD8, 0xFF}, nil
	}
	return f.data, nil
}

type fakeOCR struct {
	out     ocr.Outcome
	explode bool
	calls   int
	langs   langpack.Set
	cancel  context.CancelFunc
}

func (f *fakeOCR) Name() string { return "fake" }

func (f *fakeOCR) Recognize(_ context.Context, _ []byte, langs langpack.Set) ocr.Outcome {
	f.calls++
	f.langs = langs
	if f.cancel != nil {
		f.cancel()
	}
	if f.explode {
		panic("boom")
	}
	return f.out
}

type fakeCache struct {
	text     string
	findErr  error
	upserted []string
}

func (c *fakeCache) Find(context.Context, string, string, string, time.Duration) (string, error) {
	return c.text, c.findErr
}

func (c *fakeCache) Upsert(_ context.Context, _ int64, _, _, _, text string) error {
	c.upserted = append(c.upserted, text)
	return errors.New("cache down")
}

func newHandler(t *testing.T, tr *fakeTransport, rec *fakeOCR) *Handler {
	t.Helper()
	cat, err := DefaultCatalog("en")
	if err != nil {
		t.Fatal(err)
	}
	return &Handler{Transport: tr, OCR: rec, Langs: langpack.NewSet("eng", "rus"), Messages: cat}
}

func photoMsg(sizes ...tgbotapi.PhotoSize) *tgbotapi.Message {
	if len(sizes) == 0 {
		sizes = []tgbotapi.PhotoSize{
			{FileID: "small", Width: 90, Height: 60},
			{FileID: "big", Width: 1280, Height: 853},
		}
	}
	return &tgbotapi.Message{Chat: &tgbotapi.Chat{ID: 7}, Photo: sizes}
}

func recognized(s string) ocr.Outcome { return ocr.Outcome{Kind: ocr.Recognized, Text: s} }

// terminal returns the replies after the processing notice.
func terminal(t *testing.T, tr *fakeTransport, m Messages) []sent {
	t.Helper()
	if len(tr.sent) == 0 || tr.sent[0].text != m.Processing {
		t.Fatalf("first message should be the processing notice, got %+v", tr.sent)
	}
	return tr.sent[1:]
}

func TestHandleNoPhoto(t *testing.T) {
	tr := &fakeTransport{}
	rec := &fakeOCR{}
	h := newHandler(t, tr, rec)

	r := h.Handle(context.Background(), &tgbotapi.Message{Chat: &tgbotapi.Chat{ID: 7}, Text: "hi"})

	if r.Kind != ReplyInstruction {
		t.Fatalf("kind = %v", r.Kind)
	}
	if len(tr.sent) != 1 || tr.sent[0].text != h.Messages.For("en").SendPicture || tr.sent[0].chatID != 7 {
		t.Fatalf("sent = %+v", tr.sent)
	}
	if rec.calls != 0 || len(tr.fileIDs) != 0 {
		t.Fatal("OCR or download touched for a message without photo")
	}
}

func TestHandleSuccess(t *testing.T) {
	tr := &fakeTransport{}
	rec := &fakeOCR{out: recognized("Hello   World\n\n\n\nBye")}
	h := newHandler(t, tr, rec)

	r := h.Handle(context.Background(), photoMsg())

	got := terminal(t, tr, h.Messages.For("en"))
	if len(got) != 1 {
		t.Fatalf("want one terminal reply, got %+v", got)
	}
	want := "Text in the picture:\n\n```\nHello World\n\nBye\n```"
	if got[0].text != want || got[0].parseMode != tgbotapi.ModeMarkdownV2 {
		t.Fatalf("reply = %q (%s), want %q", got[0].text, got[0].parseMode, want)
	}
	if r.Kind != ReplyText {
		t.Fatalf("kind = %v", r.Kind)
	}
	if rec.langs.String() != "eng+rus" {
		t.Fatalf("langs = %q", rec.langs.String())
	}
	if len(tr.fileIDs) != 1 || tr.fileIDs[0] != "big" {
		t.Fatalf("fetched %v, want the largest photo", tr.fileIDs)
	}
}

func TestHandleEscapesText(t *testing.T) {
	tr := &fakeTransport{}
	h := newHandler(t, tr, &fakeOCR{out: recognized("Total: 5.00 (incl. tax)!")})

	h.Handle(context.Background(), photoMsg())

	got := terminal(t, tr, h.Messages.For("en"))
	if !strings.Contains(got[0].text, `Total: 5\.00 \(incl\. tax\)\!`) {
		t.Fatalf("text not escaped: %q", got[0].text)
	}
}

func TestHandleFailures(t *testing.T) {
	tests := []struct {
		name    string
		tr      *fakeTransport
		rec     *fakeOCR
		wantSub string
		ocrRuns int
	}{
		{
			name:    "file metadata",
			tr:      &fakeTransport{pathErr: errors.New("file is too big")},
			rec:     &fakeOCR{},
			wantSub: "file is too big",
		},
		{
			name:    "download",
			tr:      &fakeTransport{dlErr: errors.New("status 502")},
			rec:     &fakeOCR{},
			wantSub: "status 502",
		},
		{
			name:    "empty download",
			tr:      &fakeTransport{data: []byte{}},
			rec:     &fakeOCR{},
			wantSub: "empty",
		},
		{
			name: "ocr fault",
			tr:   &fakeTransport{},
			rec: &fakeOCR{out: ocr.Outcome{Kind: ocr.Faulted, Err: &ocr.Failure{
				Engine: "tesseract", Stage: "set image", Err: errors.New("failed to load image"),
			}}},
			wantSub: "failed to load image",
			ocrRuns: 1,
		},
		{
			name:    "panic",
			tr:      &fakeTransport{},
			rec:     &fakeOCR{explode: true},
			wantSub: "boom",
			ocrRuns: 1,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHandler(t, tt.tr, tt.rec)
			r := h.Handle(context.Background(), photoMsg())

			got := terminal(t, tt.tr, h.Messages.For("en"))
			if len(got) != 1 {
				t.Fatalf("want one terminal reply, got %+v", got)
			}
			if r.Kind != ReplyDiagnostic {
				t.Fatalf("kind = %v", r.Kind)
			}
			if !strings.Contains(got[0].text, tt.wantSub) {
				t.Fatalf("diagnostic %q lacks %q", got[0].text, tt.wantSub)
			}
			if got[0].parseMode != "" {
				t.Fatalf("diagnostic sent with parse mode %q", got[0].parseMode)
			}
			if tt.rec.calls != tt.ocrRuns {
				t.Fatalf("ocr calls = %d, want %d", tt.rec.calls, tt.ocrRuns)
			}
		})
	}
}

func TestHandleNoText(t *testing.T) {
	for _, raw := range []string{"", "  \n\t\n "} {
		tr := &fakeTransport{}
		h := newHandler(t, tr, &fakeOCR{out: recognized(raw)})
		m := h.Messages.For("en")

		r := h.Handle(context.Background(), photoMsg())

		got := terminal(t, tr, m)
		if len(got) != 1 || got[0].text != m.NoText || r.Kind != ReplyNoText {
			t.Fatalf("raw %q: got %+v", raw, got)
		}
		if got[0].text == m.RecognitionFailed || strings.HasPrefix(got[0].text, m.Caption) {
			t.Fatal("no-text notice must differ from the other templates")
		}
	}
}

func TestHandleAckFailureIgnored(t *testing.T) {
	tr := &fakeTransport{sendErrAt: map[int]error{0: errors.New("429 too many requests")}}
	h := newHandler(t, tr, &fakeOCR{out: recognized("ok")})

	r := h.Handle(context.Background(), photoMsg())
	if r.Kind != ReplyText || len(tr.sent) != 2 {
		t.Fatalf("pipeline should continue after a failed notice: %v %+v", r.Kind, tr.sent)
	}
}

func TestHandleCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	tr := &fakeTransport{}
	h := newHandler(t, tr, &fakeOCR{out: recognized("late"), cancel: cancel})

	r := h.Handle(ctx, photoMsg())
	if r.Kind != ReplyNone {
		t.Fatalf("kind = %v, want none", r.Kind)
	}
	if len(tr.sent) != 1 {
		t.Fatalf("only the processing notice may be sent, got %+v", tr.sent)
	}
}

func TestHandleLocale(t *testing.T) {
	tr := &fakeTransport{}
	h := newHandler(t, tr, &fakeOCR{})
	msg := &tgbotapi.Message{Chat: &tgbotapi.Chat{ID: 1}, From: &tgbotapi.User{LanguageCode: "ru-RU"}}

	h.Handle(context.Background(), msg)
	if tr.sent[0].text != h.Messages.For("ru").SendPicture {
		t.Fatalf("got %q", tr.sent[0].text)
	}
}

func TestHandleLongTextFitsOneMessage(t *testing.T) {
	tr := &fakeTransport{}
	h := newHandler(t, tr, &fakeOCR{out: recognized(strings.Repeat("a.b ", 3000))})

	h.Handle(context.Background(), photoMsg())

	got := terminal(t, tr, h.Messages.For("en"))
	text := got[0].text
	if n := textfmt.Len(text); n > maxMessageLen {
		t.Fatalf("reply has %d UTF-16 units", n)
	}
	if !strings.HasSuffix(text, ellipsis+fenceClose) {
		t.Fatalf("truncated reply should end with an ellipsis: %q", text[len(text)-20:])
	}
}

func TestHandleLongEmojiTextFitsOneMessage(t *testing.T) {
	tr := &fakeTransport{}
	h := newHandler(t, tr, &fakeOCR{out: recognized(strings.Repeat("😀", 3000))})

	h.Handle(context.Background(), photoMsg())

	got := terminal(t, tr, h.Messages.For("en"))
	if n := textfmt.Len(got[0].text); n > maxMessageLen {
		t.Fatalf("reply has %d UTF-16 units, limit %d", n, maxMessageLen)
	}
	if !strings.HasSuffix(got[0].text, ellipsis+fenceClose) {
		t.Fatal("truncated reply should end with an ellipsis")
	}
}

func TestHandleCache(t *testing.T) {
	t.Run("hit skips ocr", func(t *testing.T) {
		tr := &fakeTransport{}
		rec := &fakeOCR{out: recognized("fresh")}
		h := newHandler(t, tr, rec)
		h.Cache = &fakeCache{text: "cached"}

		h.Handle(context.Background(), photoMsg())
		if rec.calls != 0 {
			t.Fatal("ocr ran despite a cache hit")
		}
		if got := terminal(t, tr, h.Messages.For("en")); !strings.Contains(got[0].text, "cached") {
			t.Fatalf("reply %q", got[0].text)
		}
	})
	t.Run("miss and failing store", func(t *testing.T) {
		tr := &fakeTransport{}
		rec := &fakeOCR{out: recognized("fresh")}
		c := &fakeCache{findErr: store.ErrNotFound}
		h := newHandler(t, tr, rec)
		h.Cache = c

		r := h.Handle(context.Background(), photoMsg())
		if rec.calls != 1 || r.Kind != ReplyText {
			t.Fatalf("calls=%d kind=%v", rec.calls, r.Kind)
		}
		if len(c.upserted) != 1 || c.upserted[0] != "fresh" {
			t.Fatalf("upserted %v", c.upserted)
		}
	})
	t.Run("lookup error falls through", func(t *testing.T) {
		tr := &fakeTransport{}
		rec := &fakeOCR{out: recognized("fresh")}
		h := newHandler(t, tr, rec)
		h.Cache = &fakeCache{findErr: errors.New("connection refused")}

		r := h.Handle(context.Background(), photoMsg())
		if rec.calls != 1 || r.Kind != ReplyText {
			t.Fatalf("calls=%d kind=%v", rec.calls, r.Kind)
		}
	})
}

func TestLargestPhoto(t *testing.T) {
	tests := []struct {
		name  string
		sizes []tgbotapi.PhotoSize
		want  string
		ok    bool
	}{
		{"none", nil, "", false},
		{"ascending", []tgbotapi.PhotoSize{{FileID: "s", Width: 90, Height: 90}, {FileID: "m", Width: 320, Height: 320}, {FileID: "l", Width: 800, Height: 800}}, "l", true},
		{"unordered", []tgbotapi.PhotoSize{{FileID: "l", Width: 800, Height: 600}, {FileID: "s", Width: 90, Height: 60}}, "l", true},
		{"tie picks later", []tgbotapi.PhotoSize{{FileID: "a", Width: 10, Height: 10}, {FileID: "b", Width: 10, Height: 10}}, "b", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := largestPhoto(tt.sizes)
			if ok != tt.ok || got.FileID != tt.want {
				t.Fatalf("got %q %v, want %q %v", got.FileID, ok, tt.want, tt.ok)
			}
		})
	}
}
