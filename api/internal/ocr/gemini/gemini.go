package gemini

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"ocr-bot/api/internal/langpack"
	"ocr-bot/api/internal/ocr"
	"ocr-bot/api/internal/util"
)

const name = "gemini"

const prompt = `Transcribe all text visible in this image exactly as written.
Keep the original line breaks. Do not translate, summarize or comment.
Expected languages (tesseract codes): %s.
If the image contains no text, answer with an empty message.`

// Engine uses a Gemini vision model as the recognition capability.
type Engine struct {
	Model  string
	client *genai.Client
}

func New(ctx context.Context, apiKey, model string) (*Engine, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, errors.New("GEMINI_API_KEY is empty")
	}
	c, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("gemini client: %w", err)
	}
	return &Engine{Model: model, client: c}, nil
}

func (e *Engine) Name() string { return name }

func (e *Engine) Close() error { return e.client.Close() }

func (e *Engine) Recognize(ctx context.Context, image []byte, langs langpack.Set) (string, error) {
	format := imageFormat(util.SniffMimeHTTP(image))
	if format == "" {
		return "", &ocr.Failure{Engine: name, Stage: "set image", Err: errors.New("unsupported image format")}
	}

	m := e.client.GenerativeModel(e.Model)
	m.SetTemperature(0)

	resp, err := m.GenerateContent(ctx,
		genai.Text(fmt.Sprintf(prompt, strings.Join(langs.IDs(), ", "))),
		genai.ImageData(format, image),
	)
	if err != nil {
		return "", &ocr.Failure{Engine: name, Stage: "recognize", Err: err}
	}
	return util.StripCodeFences(collectText(resp)), nil
}

func collectText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}
	var b strings.Builder
	for _, p := range resp.Candidates[0].Content.Parts {
		if t, ok := p.(genai.Text); ok {
			b.WriteString(string(t))
		}
	}
	return b.String()
}

func imageFormat(mime string) string {
	switch mime {
	case "image/jpeg":
		return "jpeg"
	case "image/png":
		return "png"
	default:
		return ""
	}
}
