package printdoc

import (
	"bytes"
	"fmt"
	"io"
	"time"

	"go-badge-printer/badge"

	"github.com/go-pdf/fpdf"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
)

// Writer is the append-only drawing surface the generator targets. All
// coordinates are millimeters from the top-left corner of the page.
type Writer interface {
	PageSize() (width, height float64)
	PageCount() int

	AddPage()
	FillPage(r, g, b int)

	SetFont(family, style string, sizePt float64)
	Text(x, y float64, align badge.Align, text string)

	RoundedRect(x, y, w, h, radius float64)
	Image(name string, png []byte, x, y, w, h, clipRadius float64) error

	Err() error
	WriteTo(w io.Writer) (int64, error)
}

// WriterFactory opens a new, empty document.
type WriterFactory func() (Writer, error)

// NewPDFWriter opens a card-sized landscape PDF on fpdf.
func NewPDFWriter() (Writer, error) {
	pdf := fpdf.NewCustom(&fpdf.InitType{
		OrientationStr: "L",
		UnitStr:        "mm",
		// fpdf swaps width and height for landscape
		Size: fpdf.SizeType{Wd: badge.CardHeightMM, Ht: badge.CardWidthMM},
	})
	pdf.SetMargins(0, 0, 0)
	pdf.SetAutoPageBreak(false, 0)
	pdf.SetCreator("go-badge-printer", true)
	pdf.SetCreationDate(time.Now())
	if err := pdf.Error(); err != nil {
		return nil, fmt.Errorf("initialize pdf: %w", err)
	}
	return &pdfWriter{
		pdf: pdf,
		enc: encoding.ReplaceUnsupported(charmap.Windows1252.NewEncoder()),
	}, nil
}

type pdfWriter struct {
	pdf *fpdf.Fpdf
	enc *encoding.Encoder
}

func (w *pdfWriter) PageSize() (float64, float64) {
	return w.pdf.GetPageSize()
}

func (w *pdfWriter) PageCount() int {
	return w.pdf.PageCount()
}

func (w *pdfWriter) AddPage() {
	w.pdf.AddPage()
}

func (w *pdfWriter) FillPage(r, g, b int) {
	width, height := w.pdf.GetPageSize()
	w.pdf.SetFillColor(r, g, b)
	w.pdf.Rect(0, 0, width, height, "F")
}

func (w *pdfWriter) SetFont(family, style string, sizePt float64) {
	w.pdf.SetFont(family, style, sizePt)
}

// Text writes a single line with its baseline at y. Core fonts are
// Windows-1252, so text is transcoded and unmappable runes become '?'.
func (w *pdfWriter) Text(x, y float64, align badge.Align, text string) {
	encoded, err := w.enc.String(text)
	if err != nil {
		encoded = text
	}
	x -= w.pdf.GetStringWidth(encoded) * align.Anchor()
	w.pdf.SetTextColor(0, 0, 0)
	w.pdf.Text(x, y, encoded)
}

func (w *pdfWriter) RoundedRect(x, y, width, height, radius float64) {
	w.pdf.SetDrawColor(150, 150, 150)
	w.pdf.SetLineWidth(0.2)
	w.pdf.RoundedRect(x, y, width, height, radius, "1234", "D")
}

// Image embeds a PNG. A rejected image leaves the document usable: the
// engine error is returned and cleared.
func (w *pdfWriter) Image(name string, png []byte, x, y, width, height, clipRadius float64) error {
	opts := fpdf.ImageOptions{ImageType: "PNG", ReadDpi: false}
	w.pdf.RegisterImageOptionsReader(name, opts, bytes.NewReader(png))
	if err := w.pdf.Error(); err != nil {
		w.pdf.ClearError()
		return err
	}

	if clipRadius > 0 {
		w.pdf.ClipRoundedRect(x, y, width, height, clipRadius, false)
	}
	w.pdf.ImageOptions(name, x, y, width, height, false, opts, 0, "")
	if clipRadius > 0 {
		w.pdf.ClipEnd()
	}

	if err := w.pdf.Error(); err != nil {
		w.pdf.ClearError()
		return err
	}
	return nil
}

func (w *pdfWriter) Err() error {
	return w.pdf.Error()
}

func (w *pdfWriter) WriteTo(out io.Writer) (int64, error) {
	cw := &countWriter{w: out}
	if err := w.pdf.Output(cw); err != nil {
		return cw.n, err
	}
	return cw.n, nil
}

type countWriter struct {
	w io.Writer
	n int64
}

func (c *countWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}
