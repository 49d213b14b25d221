// Package printdoc builds the two-page print document of a badge: front face
// on page one, back face on page two, at the card's physical size.
package printdoc

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"go-badge-printer/badge"
	"go-badge-printer/images"
)

const (
	FileExtension = ".pdf"
	fileTimestamp = "20060102-150405"

	textFont  = "Helvetica"
	textStyle = "B"

	// embedDPI sets the pixel density of cropped photos inside the PDF
	embedDPI = 300
)

// PrintJobResult describes the artifact of one successful print.
type PrintJobResult struct {
	PDF         []byte
	FileName    string
	Path        string
	CompletedAt time.Time
	// EmbedErrors lists per-person images that were left blank
	EmbedErrors []error
}

// EmbedObserver is told about recoverable image failures.
type EmbedObserver interface {
	ImageEmbedFailed(region badge.Field)
}

// Generator produces print documents. It is safe for concurrent use as long
// as its collaborators are.
type Generator struct {
	converter     images.Converter
	saver         Saver
	newWriter     WriterFactory
	institutional string
	now           func() time.Time
	observer      EmbedObserver
}

type GeneratorOption func(*Generator)

func WithWriterFactory(f WriterFactory) GeneratorOption {
	return func(g *Generator) { g.newWriter = f }
}

func WithClock(now func() time.Time) GeneratorOption {
	return func(g *Generator) { g.now = now }
}

func WithEmbedObserver(o EmbedObserver) GeneratorOption {
	return func(g *Generator) { g.observer = o }
}

// NewGenerator creates a generator. institutionalRef is the static reference
// of the signature artwork printed on every back face.
func NewGenerator(converter images.Converter, saver Saver, institutionalRef string, opts ...GeneratorOption) *Generator {
	g := &Generator{
		converter:     converter,
		saver:         saver,
		newWriter:     NewPDFWriter,
		institutional: institutionalRef,
		now:           time.Now,
	}
	for _, o := range opts {
		o(g)
	}
	return g
}

// FileName is the name a document for the record gets at instant t.
func FileName(recordID int64, t time.Time) string {
	return fmt.Sprintf("badge-%d-%s%s", recordID, t.Format(fileTimestamp), FileExtension)
}

// Generate builds both pages and saves the document. Per-person image
// failures are logged and leave their region blank; a failure to create the
// document, load the institutional asset, serialize or save aborts the job
// and nothing is saved.
func (g *Generator) Generate(ctx context.Context, model badge.CardModel) (*PrintJobResult, error) {
	log := slog.With("record_id", model.RecordID)

	doc, err := g.newWriter()
	if err != nil {
		return nil, fmt.Errorf("create document: %w", err)
	}

	var embedErrs []error

	// page 1: front
	doc.AddPage()
	doc.FillPage(255, 255, 255)
	for _, p := range badge.Placements(badge.Front) {
		if !p.Field.IsImage() {
			doc.SetFont(textFont, textStyle, p.FontSizePt)
			doc.Text(p.X, p.Y, p.Align, model.Text(p.Field))
			continue
		}

		if p.CornerRadius > 0 {
			doc.RoundedRect(p.X, p.Y, p.Width, p.Height, p.CornerRadius)
		}
		ref := refFor(model, p.Field)
		if ref == nil {
			log.Debug("No image for region, leaving it blank", "region", p.Field)
			continue
		}
		if err := g.embed(ctx, doc, p, *ref); err != nil {
			embedErr := &ImageEmbedError{Region: p.Field, Err: err}
			log.Warn("Failed to embed image, leaving region blank", "region", p.Field, "error", err)
			if g.observer != nil {
				g.observer.ImageEmbedFailed(p.Field)
			}
			embedErrs = append(embedErrs, embedErr)
		}
	}

	// page 2: back
	doc.AddPage()
	doc.FillPage(255, 255, 255)
	for _, p := range badge.Placements(badge.Back) {
		if p.Field != badge.FieldInstitutional {
			continue
		}
		raster, err := g.converter.ToEmbeddablePixels(ctx, g.institutional)
		if err != nil {
			return nil, &FixedAssetError{Ref: g.institutional, Err: err}
		}
		x, y, w, h := p.FitRect(raster.Width, raster.Height)
		if err := doc.Image(string(p.Field), raster.PNG, x, y, w, h, 0); err != nil {
			return nil, &FixedAssetError{Ref: g.institutional, Err: err}
		}
	}

	if err := doc.Err(); err != nil {
		return nil, fmt.Errorf("build document: %w", err)
	}

	var buf bytes.Buffer
	if _, err := doc.WriteTo(&buf); err != nil {
		return nil, fmt.Errorf("serialize document: %w", err)
	}

	completedAt := g.now()
	fileName := FileName(model.RecordID, completedAt)

	path, err := g.saver.Save(ctx, fileName, buf.Bytes())
	if err != nil {
		return nil, fmt.Errorf("save document: %w", err)
	}

	log.Info("Badge document saved", "file", fileName, "pages", doc.PageCount(),
		"size", buf.Len(), "blank_regions", len(embedErrs))

	return &PrintJobResult{
		PDF:         buf.Bytes(),
		FileName:    fileName,
		Path:        path,
		CompletedAt: completedAt,
		EmbedErrors: embedErrs,
	}, nil
}

func (g *Generator) embed(ctx context.Context, doc Writer, p badge.Placement, ref string) error {
	raster, err := g.converter.ToEmbeddablePixels(ctx, ref)
	if err != nil {
		return err
	}
	if raster == nil || raster.Image == nil {
		return errors.New("converter returned no image")
	}

	if !p.Crop {
		x, y, w, h := p.FitRect(raster.Width, raster.Height)
		return doc.Image(string(p.Field), raster.PNG, x, y, w, h, 0)
	}

	// crop to the region's aspect so the photo is not distorted
	w := int(math.Round(badge.MMToPx(p.Width, embedDPI)))
	h := int(math.Round(badge.MMToPx(p.Height, embedDPI)))
	png, err := images.EncodePNG(images.Cover(raster.Image, w, h))
	if err != nil {
		return fmt.Errorf("re-encode cropped image: %w", err)
	}
	return doc.Image(string(p.Field), png, p.X, p.Y, p.Width, p.Height, p.CornerRadius)
}

func refFor(model badge.CardModel, f badge.Field) *string {
	switch f {
	case badge.FieldProfilePhoto:
		return model.ProfilePhotoRef
	case badge.FieldSignature:
		return model.SignaturePhotoRef
	}
	return nil
}
