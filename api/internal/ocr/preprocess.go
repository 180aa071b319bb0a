package ocr

import (
	"bytes"
	"fmt"
	"image"

	"github.com/anthonynsimon/bild/adjust"
	"github.com/disintegration/imaging"
)

// Preprocessor prepares a photo for recognition: it applies the EXIF
// orientation, drops colour, upscales narrow images and stretches contrast.
type Preprocessor struct {
	MinWidth int
	Contrast float64 // in (-1, 1); 0 leaves contrast alone
}

// Apply returns the prepared image PNG-encoded.
func (p *Preprocessor) Apply(data []byte) ([]byte, error) {
	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}

	out := imaging.Grayscale(img)
	if w := out.Bounds().Dx(); p.MinWidth > 0 && w > 0 && w < p.MinWidth {
		out = imaging.Resize(out, p.MinWidth, 0, imaging.Lanczos)
	}

	var res image.Image = out
	if p.Contrast != 0 {
		res = adjust.Contrast(out, p.Contrast)
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, res, imaging.PNG); err != nil {
		return nil, fmt.Errorf("encode image: %w", err)
	}
	return buf.Bytes(), nil
}
