package badge

import (
	"fmt"
	"math"
)

// Card dimensions in millimeters, landscape.
const (
	CardWidthMM  = 86.0
	CardHeightMM = 55.0
)

const mmPerInch = 25.4
const ptPerInch = 72.0

// Side is a face of the card.
type Side string

const (
	Front Side = "front"
	Back  Side = "back"
)

// ParseSide accepts "front" and "back".
func ParseSide(s string) (Side, error) {
	switch Side(s) {
	case Front, Back:
		return Side(s), nil
	}
	return "", fmt.Errorf("unknown card side %q", s)
}

// Flip returns the opposite face.
func (s Side) Flip() Side {
	if s == Back {
		return Front
	}
	return Back
}

// Field identifies what a placement draws.
type Field string

const (
	FieldLastName      Field = "last_name"
	FieldFirstName     Field = "first_name"
	FieldRole          Field = "role"
	FieldNationality   Field = "nationality"
	FieldActivity      Field = "activity"
	FieldExpiryLabel   Field = "expiry_label"
	FieldExpiryDate    Field = "expiry_date"
	FieldProfilePhoto  Field = "profile_photo"
	FieldSignature     Field = "signature"
	FieldInstitutional Field = "institutional_signature"
)

// IsImage reports whether the field is a raster region rather than text.
func (f Field) IsImage() bool {
	switch f {
	case FieldProfilePhoto, FieldSignature, FieldInstitutional:
		return true
	}
	return false
}

// Align is the horizontal anchor of a text placement.
type Align string

const (
	AlignLeft   Align = "left"
	AlignCenter Align = "center"
	AlignRight  Align = "right"
)

// Anchor is the fraction of the text width left of X.
func (a Align) Anchor() float64 {
	switch a {
	case AlignCenter:
		return 0.5
	case AlignRight:
		return 1
	}
	return 0
}

// Placement positions one field on one side. Coordinates are millimeters from
// the top-left corner. For text, (X, Y) is the anchor on the baseline; for
// images it is the top-left corner of the region.
type Placement struct {
	Field        Field
	Side         Side
	X, Y         float64
	Width        float64
	Height       float64
	Align        Align
	FontSizePt   float64
	CornerRadius float64
	// Crop fills the region and trims the overflow; otherwise the image is
	// scaled to fit and centered.
	Crop bool
}

// Right and Bottom are the far edges of the placement box.
func (p Placement) Right() float64  { return p.X + p.Width }
func (p Placement) Bottom() float64 { return p.Y + p.Height }

// TextFontSizePt is the size used for every text field on the front.
const TextFontSizePt = 6.5

// layout is the coordinate table of the printed card series. Both the
// preview and the PDF read it; nothing else may carry coordinates.
var layout = []Placement{
	{Field: FieldProfilePhoto, Side: Front, X: 4, Y: 13, Width: 22, Height: 27, CornerRadius: 2, Crop: true},
	{Field: FieldLastName, Side: Front, X: 30, Y: 17, Align: AlignLeft, FontSizePt: TextFontSizePt},
	{Field: FieldFirstName, Side: Front, X: 30, Y: 22, Align: AlignLeft, FontSizePt: TextFontSizePt},
	{Field: FieldRole, Side: Front, X: 30, Y: 27, Align: AlignLeft, FontSizePt: TextFontSizePt},
	{Field: FieldNationality, Side: Front, X: 30, Y: 32, Align: AlignLeft, FontSizePt: TextFontSizePt},
	{Field: FieldActivity, Side: Front, X: 30, Y: 37, Align: AlignLeft, FontSizePt: TextFontSizePt},
	{Field: FieldSignature, Side: Front, X: 30, Y: 41, Width: 22, Height: 10},
	{Field: FieldExpiryLabel, Side: Front, X: 71, Y: 46, Align: AlignCenter, FontSizePt: TextFontSizePt},
	{Field: FieldExpiryDate, Side: Front, X: 71, Y: 49.5, Align: AlignCenter, FontSizePt: TextFontSizePt},
	{Field: FieldInstitutional, Side: Back, X: 50, Y: 32, Width: 30, Height: 16},
}

// FitRect is the box, in millimeters, an imgW×imgH image occupies when
// scaled to fit inside the placement and centered.
func (p Placement) FitRect(imgW, imgH int) (x, y, w, h float64) {
	if p.Crop || imgW <= 0 || imgH <= 0 {
		return p.X, p.Y, p.Width, p.Height
	}
	scale := math.Min(p.Width/float64(imgW), p.Height/float64(imgH))
	w, h = float64(imgW)*scale, float64(imgH)*scale
	return p.X + (p.Width-w)/2, p.Y + (p.Height-h)/2, w, h
}

// Placements returns a copy of the entries drawn on the given side, in
// drawing order.
func Placements(side Side) []Placement {
	var out []Placement
	for _, p := range layout {
		if p.Side == side {
			out = append(out, p)
		}
	}
	return out
}

// Lookup returns the placement of a field on a side.
func Lookup(side Side, field Field) (Placement, bool) {
	for _, p := range layout {
		if p.Side == side && p.Field == field {
			return p, true
		}
	}
	return Placement{}, false
}

// Validate checks that every placement stays on the card and that no field
// is placed twice on the same side.
func Validate(entries []Placement) error {
	seen := make(map[string]bool, len(entries))
	for _, p := range entries {
		if p.Side != Front && p.Side != Back {
			return fmt.Errorf("placement %s: unknown side %q", p.Field, p.Side)
		}
		key := string(p.Side) + "/" + string(p.Field)
		if seen[key] {
			return fmt.Errorf("placement %s: duplicated on %s side", p.Field, p.Side)
		}
		seen[key] = true

		if p.Width < 0 || p.Height < 0 {
			return fmt.Errorf("placement %s: negative size", p.Field)
		}
		if p.X < 0 || p.Y < 0 || p.Right() > CardWidthMM || p.Bottom() > CardHeightMM {
			return fmt.Errorf("placement %s on %s: (%.1f,%.1f %.1fx%.1f) outside %.0fx%.0fmm card",
				p.Field, p.Side, p.X, p.Y, p.Width, p.Height, CardWidthMM, CardHeightMM)
		}
		if p.Field.IsImage() && (p.Width == 0 || p.Height == 0) {
			return fmt.Errorf("placement %s: image region without size", p.Field)
		}
		if !p.Field.IsImage() && p.FontSizePt <= 0 {
			return fmt.Errorf("placement %s: text without font size", p.Field)
		}
	}
	return nil
}

func init() {
	if err := Validate(layout); err != nil {
		panic(err)
	}
}

// MMToPx converts millimeters to pixels at the given resolution.
func MMToPx(mm, dpi float64) float64 {
	return mm / mmPerInch * dpi
}

// PtToMM converts typographic points to millimeters.
func PtToMM(pt float64) float64 {
	return pt / ptPerInch * mmPerInch
}

// CardSizePx is the pixel size of a card face at the given resolution.
func CardSizePx(dpi float64) (int, int) {
	return int(math.Round(MMToPx(CardWidthMM, dpi))), int(math.Round(MMToPx(CardHeightMM, dpi)))
}
