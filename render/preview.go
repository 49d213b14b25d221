// Package render draws the on-screen preview of a card face from the shared
// layout table.
package render

import (
	"bytes"
	"fmt"
	"image"
	"image/png"
	"math"
	"sync"

	"go-badge-printer/badge"
	"go-badge-printer/images"

	"github.com/disintegration/imaging"
	"github.com/fogleman/gg"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/gobold"
	"golang.org/x/image/font/opentype"
)

const DefaultDPI = 300

// Assets are the rasters of a card, already resolved. A nil field renders as
// an empty box.
type Assets struct {
	Photo         image.Image
	Signature     image.Image
	Institutional image.Image
}

func (a Assets) forField(f badge.Field) image.Image {
	switch f {
	case badge.FieldProfilePhoto:
		return a.Photo
	case badge.FieldSignature:
		return a.Signature
	case badge.FieldInstitutional:
		return a.Institutional
	}
	return nil
}

// Renderer draws card faces at a fixed resolution.
type Renderer struct {
	dpi  float64
	font *opentype.Font

	// faces are not safe for concurrent use; mu serializes whole renders
	mu    sync.Mutex
	faces map[float64]font.Face
}

func NewRenderer(dpi float64) (*Renderer, error) {
	if dpi <= 0 {
		dpi = DefaultDPI
	}
	f, err := opentype.Parse(gobold.TTF)
	if err != nil {
		return nil, fmt.Errorf("parse preview font: %w", err)
	}
	return &Renderer{dpi: dpi, font: f, faces: make(map[float64]font.Face)}, nil
}

func (r *Renderer) DPI() float64 { return r.dpi }

// RenderPreview draws one face of the card. It never mutates model.
func (r *Renderer) RenderPreview(model badge.CardModel, side badge.Side, assets Assets) (image.Image, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	w, h := badge.CardSizePx(r.dpi)
	dc := gg.NewContext(w, h)
	dc.SetRGB(1, 1, 1)
	dc.Clear()

	for _, p := range badge.Placements(side) {
		if p.Field.IsImage() {
			r.drawRegion(dc, p, assets.forField(p.Field))
			continue
		}
		if err := r.drawText(dc, p, model.Text(p.Field)); err != nil {
			return nil, err
		}
	}
	return dc.Image(), nil
}

func (r *Renderer) px(mm float64) float64 {
	return badge.MMToPx(mm, r.dpi)
}

func (r *Renderer) drawText(dc *gg.Context, p badge.Placement, text string) error {
	if text == "" {
		return nil
	}
	face, err := r.face(p.FontSizePt)
	if err != nil {
		return err
	}
	dc.SetFontFace(face)
	dc.SetRGB(0, 0, 0)
	dc.DrawStringAnchored(text, r.px(p.X), r.px(p.Y), p.Align.Anchor(), 0)
	return nil
}

func (r *Renderer) drawRegion(dc *gg.Context, p badge.Placement, img image.Image) {
	x, y := r.px(p.X), r.px(p.Y)
	w, h := r.px(p.Width), r.px(p.Height)
	radius := r.px(p.CornerRadius)

	if img != nil {
		b := img.Bounds()
		fx, fy, fw, fh := p.FitRect(b.Dx(), b.Dy())
		var fitted image.Image
		if p.Crop {
			fitted = images.Cover(img, int(math.Round(w)), int(math.Round(h)))
		} else {
			fitted = imaging.Resize(img, int(math.Round(r.px(fw))), int(math.Round(r.px(fh))), imaging.Lanczos)
		}
		dc.Push()
		if radius > 0 {
			dc.DrawRoundedRectangle(x, y, w, h, radius)
			dc.Clip()
		}
		dc.DrawImage(fitted, int(math.Round(r.px(fx))), int(math.Round(r.px(fy))))
		dc.ResetClip()
		dc.Pop()
	}

	// Photo frames are part of the card; other regions only get a guide when empty.
	if radius > 0 || img == nil {
		dc.SetRGB(0.6, 0.6, 0.6)
		dc.SetLineWidth(math.Max(1, r.px(0.2)))
		if radius > 0 {
			dc.DrawRoundedRectangle(x, y, w, h, radius)
		} else {
			dc.DrawRectangle(x, y, w, h)
		}
		dc.Stroke()
	}
}

func (r *Renderer) face(sizePt float64) (font.Face, error) {
	if f, ok := r.faces[sizePt]; ok {
		return f, nil
	}
	f, err := opentype.NewFace(r.font, &opentype.FaceOptions{
		Size:    sizePt,
		DPI:     r.dpi,
		Hinting: font.HintingFull,
	})
	if err != nil {
		return nil, fmt.Errorf("create %.1fpt face: %w", sizePt, err)
	}
	r.faces[sizePt] = f
	return f, nil
}

// EncodePNG serializes a preview for transport.
func EncodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
