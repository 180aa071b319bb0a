package ocr

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"strings"
	"testing"

	"ocr-bot/api/internal/langpack"
)

type stubEngine struct {
	text    string
	err     error
	explode bool
	calls   int
	got     []byte
	langs   langpack.Set
}

func (s *stubEngine) Name() string { return "stub" }

func (s *stubEngine) Recognize(_ context.Context, image []byte, langs langpack.Set) (string, error) {
	s.calls++
	s.got = image
	s.langs = langs
	if s.explode {
		panic("engine exploded")
	}
	return s.text, s.err
}

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: 200, G: 10, B: 10, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func TestPipelineRecognized(t *testing.T) {
	eng := &stubEngine{text: "Hello"}
	p := &Pipeline{Engine: eng}
	langs := langpack.NewSet("eng", "rus")

	out := p.Recognize(context.Background(), []byte{1, 2, 3}, langs)
	if out.Kind != Recognized || out.Text != "Hello" || out.Err != nil {
		t.Fatalf("unexpected outcome %+v", out)
	}
	if out.Blank() {
		t.Fatal("non-empty text reported blank")
	}
	if eng.langs.String() != "eng+rus" {
		t.Fatalf("engine got langs %q", eng.langs.String())
	}
}

func TestPipelineBlankIsNotFault(t *testing.T) {
	p := &Pipeline{Engine: &stubEngine{text: " \n\t "}}
	out := p.Recognize(context.Background(), []byte{1}, langpack.NewSet("eng"))
	if out.Kind != Recognized || !out.Blank() {
		t.Fatalf("expected blank recognized outcome, got %+v", out)
	}
}

func TestPipelineFaults(t *testing.T) {
	cancelled, cancel := context.WithCancel(context.Background())
	cancel()

	tests := []struct {
		name  string
		ctx   context.Context
		eng   *stubEngine
		image []byte
		stage string
		calls int
	}{
		{"engine error", context.Background(), &stubEngine{err: errors.New("bad pix")}, []byte{1}, "recognize", 1},
		{"engine panic", context.Background(), &stubEngine{explode: true}, []byte{1}, "panic", 1},
		{"empty image", context.Background(), &stubEngine{}, nil, "input", 0},
		{"cancelled", cancelled, &stubEngine{}, []byte{1}, "recognize", 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &Pipeline{Engine: tt.eng}
			out := p.Recognize(tt.ctx, tt.image, langpack.NewSet("eng"))
			if out.Kind != Faulted {
				t.Fatalf("kind = %v, want faulted", out.Kind)
			}
			var f *Failure
			if !errors.As(out.Err, &f) {
				t.Fatalf("err %v is not *Failure", out.Err)
			}
			if f.Stage != tt.stage {
				t.Errorf("stage = %q, want %q", f.Stage, tt.stage)
			}
			if out.Err.Error() == "" {
				t.Error("empty fault description")
			}
			if tt.eng.calls != tt.calls {
				t.Errorf("engine calls = %d, want %d", tt.eng.calls, tt.calls)
			}
		})
	}
}

func TestPipelineKeepsEngineFailure(t *testing.T) {
	inner := &Failure{Engine: "tesseract", Stage: "init", Err: errors.New("no eng")}
	p := &Pipeline{Engine: &stubEngine{err: inner}}
	out := p.Recognize(context.Background(), []byte{1}, langpack.NewSet("eng"))
	if out.Err != inner {
		t.Fatalf("engine failure was rewrapped: %v", out.Err)
	}
	if !strings.Contains(out.Err.Error(), "tesseract init") {
		t.Fatalf("description %q", out.Err.Error())
	}
}

func TestPipelinePreprocess(t *testing.T) {
	eng := &stubEngine{text: "ok"}
	p := &Pipeline{Engine: eng, Preprocess: &Preprocessor{MinWidth: 64, Contrast: 0.3}}

	out := p.Recognize(context.Background(), pngBytes(t, 16, 8), langpack.NewSet("eng"))
	if out.Kind != Recognized {
		t.Fatalf("unexpected %+v", out)
	}
	img, _, err := image.Decode(bytes.NewReader(eng.got))
	if err != nil {
		t.Fatalf("engine received undecodable image: %v", err)
	}
	if b := img.Bounds(); b.Dx() != 64 || b.Dy() != 32 {
		t.Fatalf("size = %dx%d, want 64x32", b.Dx(), b.Dy())
	}
	r, g, bl, _ := img.At(10, 10).RGBA()
	if r != g || g != bl {
		t.Fatalf("pixel not grayscale: %d %d %d", r, g, bl)
	}
}

func TestPipelinePreprocessCorrupt(t *testing.T) {
	eng := &stubEngine{text: "never"}
	p := &Pipeline{Engine: eng, Preprocess: &Preprocessor{}}
	out := p.Recognize(context.Background(), []byte("not an image"), langpack.NewSet("eng"))
	if out.Kind != Faulted || eng.calls != 0 {
		t.Fatalf("corrupt image should fault before the engine: %+v calls=%d", out, eng.calls)
	}
}
