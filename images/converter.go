package images

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/png"
	"io"
	"io/fs"
	"log/slog"
	"math"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/disintegration/imaging"
	xdraw "golang.org/x/image/draw"
)

// Raster is an image re-encoded into a form the PDF engine can embed.
type Raster struct {
	Image  image.Image
	PNG    []byte
	Width  int
	Height int
}

// Converter turns an image reference (data URI, http(s) URL or static asset
// path) into an embeddable raster.
type Converter interface {
	ToEmbeddablePixels(ctx context.Context, sourceRef string) (*Raster, error)
}

const (
	defaultMaxPixels    = 1200
	maxDownloadBytes    = 20 << 20
	defaultFetchTimeout = 30 * time.Second
)

// SourceConverter loads images from data URIs, the network or an asset
// filesystem, redraws them on an RGBA canvas and re-encodes them as PNG.
type SourceConverter struct {
	httpClient *http.Client
	assets     fs.FS
	maxW, maxH int
}

type Option func(*SourceConverter)

func WithHTTPClient(c *http.Client) Option {
	return func(s *SourceConverter) { s.httpClient = c }
}

// WithMaxSize bounds the re-encoded raster; larger sources are downscaled.
func WithMaxSize(w, h int) Option {
	return func(s *SourceConverter) { s.maxW, s.maxH = w, h }
}

// NewSourceConverter creates a converter. assets resolves static paths such
// as "/images/signature.png" and may be nil when only URLs are used.
func NewSourceConverter(assets fs.FS, opts ...Option) *SourceConverter {
	c := &SourceConverter{
		httpClient: &http.Client{Timeout: defaultFetchTimeout},
		assets:     assets,
		maxW:       defaultMaxPixels,
		maxH:       defaultMaxPixels,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *SourceConverter) ToEmbeddablePixels(ctx context.Context, sourceRef string) (*Raster, error) {
	data, err := c.load(ctx, sourceRef)
	if err != nil {
		return nil, err
	}

	img, format, err := decodeImage(data)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", describeRef(sourceRef), err)
	}
	slog.Debug("Image decoded", "source", describeRef(sourceRef), "format", format,
		"width", img.Bounds().Dx(), "height", img.Bounds().Dy())

	canvas := resizeToFit(img, c.maxW, c.maxH)
	encoded, err := EncodePNG(canvas)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", describeRef(sourceRef), err)
	}

	b := canvas.Bounds()
	return &Raster{Image: canvas, PNG: encoded, Width: b.Dx(), Height: b.Dy()}, nil
}

func (c *SourceConverter) load(ctx context.Context, ref string) ([]byte, error) {
	switch {
	case ref == "":
		return nil, fmt.Errorf("empty image reference")
	case strings.HasPrefix(ref, "data:"):
		return parseDataURI(ref)
	case strings.HasPrefix(ref, "http://"), strings.HasPrefix(ref, "https://"):
		return c.fetch(ctx, ref)
	default:
		return c.readAsset(ref)
	}
}

func (c *SourceConverter) fetch(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create image request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch image: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("image fetch failed with status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxDownloadBytes+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read image body: %w", err)
	}
	if len(data) > maxDownloadBytes {
		return nil, fmt.Errorf("image larger than %d bytes", maxDownloadBytes)
	}
	return data, nil
}

func (c *SourceConverter) readAsset(ref string) ([]byte, error) {
	if c.assets == nil {
		return nil, fmt.Errorf("no asset directory configured for %q", ref)
	}
	// Clean against a rooted path so ".." cannot escape the asset root
	name := strings.TrimPrefix(path.Clean("/"+ref), "/")
	data, err := fs.ReadFile(c.assets, name)
	if err != nil {
		return nil, fmt.Errorf("failed to read asset %q: %w", name, err)
	}
	return data, nil
}

// EncodePNG encodes img with the best compression.
func EncodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	enc := png.Encoder{CompressionLevel: png.BestCompression}
	if err := enc.Encode(&buf, img); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Cover scales and center-crops img so it fills exactly w×h pixels.
func Cover(img image.Image, w, h int) image.Image {
	if w <= 0 || h <= 0 {
		return img
	}
	return imaging.Fill(img, w, h, imaging.Center, imaging.Lanczos)
}

// resizeToFit draws src onto a fresh RGBA canvas no larger than maxW×maxH,
// keeping the aspect ratio.
func resizeToFit(src image.Image, maxW, maxH int) image.Image {
	bw := src.Bounds().Dx()
	bh := src.Bounds().Dy()

	scale := 1.0
	if maxW > 0 && bw > maxW {
		scale = math.Min(scale, float64(maxW)/float64(bw))
	}
	if maxH > 0 && bh > maxH {
		scale = math.Min(scale, float64(maxH)/float64(bh))
	}

	w := int(math.Max(1, math.Round(float64(bw)*scale)))
	h := int(math.Max(1, math.Round(float64(bh)*scale)))

	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	// CatmullRom = high quality, good for photos/faces.
	xdraw.CatmullRom.Scale(dst, dst.Bounds(), src, src.Bounds(), xdraw.Over, nil)
	return dst
}

// describeRef keeps logs free of inline image payloads.
func describeRef(ref string) string {
	if strings.HasPrefix(ref, "data:") {
		meta, _, _ := strings.Cut(ref, ",")
		return meta
	}
	return ref
}
