package ocr

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"ocr-bot/api/internal/langpack"
)

// Engine is a black-box recognition capability.
type Engine interface {
	Name() string
	Recognize(ctx context.Context, image []byte, langs langpack.Set) (string, error)
}

type Kind int

const (
	Recognized Kind = iota
	Faulted
)

func (k Kind) String() string {
	switch k {
	case Recognized:
		return "recognized"
	case Faulted:
		return "faulted"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Outcome is the result of one recognition: either Recognized text (possibly
// blank) or a Faulted error.
type Outcome struct {
	Kind Kind
	Text string
	Err  error
}

// Blank reports a successful recognition that produced no usable text.
func (o Outcome) Blank() bool { return o.Kind == Recognized && strings.TrimSpace(o.Text) == "" }

// Failure describes why recognition could not run.
type Failure struct {
	Engine string
	Stage  string
	Err    error
}

func (f *Failure) Error() string {
	return fmt.Sprintf("%s %s: %v", f.Engine, f.Stage, f.Err)
}

func (f *Failure) Unwrap() error { return f.Err }

// Pipeline runs optional preprocessing and then the engine.
type Pipeline struct {
	Engine     Engine
	Preprocess *Preprocessor
}

func (p *Pipeline) Name() string { return p.Engine.Name() }

// Recognize never panics and never returns an error: every fault is folded into
// a Faulted outcome.
func (p *Pipeline) Recognize(ctx context.Context, image []byte, langs langpack.Set) (out Outcome) {
	name := p.Engine.Name()
	defer func() {
		if rec := recover(); rec != nil {
			out = faulted(name, "panic", fmt.Errorf("%v", rec))
		}
	}()

	if len(image) == 0 {
		return faulted(name, "input", errors.New("empty image"))
	}
	if p.Preprocess != nil {
		prepared, err := p.Preprocess.Apply(image)
		if err != nil {
			return faulted(name, "preprocess", err)
		}
		image = prepared
	}
	if err := ctx.Err(); err != nil {
		return faulted(name, "recognize", err)
	}

	text, err := p.Engine.Recognize(ctx, image, langs)
	if err != nil {
		var f *Failure
		if errors.As(err, &f) {
			return Outcome{Kind: Faulted, Err: f}
		}
		return faulted(name, "recognize", err)
	}
	return Outcome{Kind: Recognized, Text: text}
}

func faulted(engine, stage string, err error) Outcome {
	return Outcome{Kind: Faulted, Err: &Failure{Engine: engine, Stage: stage, Err: err}}
}
