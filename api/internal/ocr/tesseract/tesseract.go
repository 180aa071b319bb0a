// Package tesseract runs recognition through libtesseract via gosseract.
package tesseract

import (
	"context"
	"errors"

	"github.com/otiai10/gosseract/v2"

	"ocr-bot/api/internal/langpack"
	"ocr-bot/api/internal/ocr"
)

const name = "tesseract"

type Engine struct {
	TessdataDir string

	clientFactory func() *gosseract.Client
}

func New(tessdataDir string) *Engine {
	return &Engine{TessdataDir: tessdataDir, clientFactory: gosseract.NewClient}
}

func (e *Engine) Name() string { return name }

// Recognize builds a fresh client for every call. The result page is freed
// inside Text; the deferred Close releases the TessBaseAPI and the decoded pix
// on every return path.
func (e *Engine) Recognize(ctx context.Context, image []byte, langs langpack.Set) (string, error) {
	if langs.Empty() {
		return "", fail("init", errors.New("language set is empty"))
	}

	c := e.clientFactory()
	defer c.Close()

	if err := c.SetTessdataPrefix(e.TessdataDir); err != nil {
		return "", fail("init", err)
	}
	if err := c.SetLanguage(langs.IDs()...); err != nil {
		return "", fail("init", err)
	}
	if err := c.SetImageFromBytes(image); err != nil {
		return "", fail("set image", err)
	}
	if err := ctx.Err(); err != nil {
		return "", fail("recognize", err)
	}
	text, err := c.Text()
	if err != nil {
		return "", fail("recognize", err)
	}
	return text, nil
}

// Version reports the linked libtesseract version.
func Version() string { return gosseract.Version() }

func fail(stage string, err error) error {
	return &ocr.Failure{Engine: name, Stage: stage, Err: err}
}
