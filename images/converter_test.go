package images

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/binary"
	"hash/crc32"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/require"
)

func testImage(w, h int) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 128, A: 255})
		}
	}
	return img
}

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, testImage(w, h)))
	return buf.Bytes()
}

func jpegBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, testImage(w, h), nil))
	return buf.Bytes()
}

func dataURI(mime string, b []byte) string {
	return "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(b)
}

func requirePNG(t *testing.T, r *Raster, w, h int) {
	t.Helper()
	require.NotNil(t, r)
	require.Equal(t, w, r.Width)
	require.Equal(t, h, r.Height)
	decoded, err := png.Decode(bytes.NewReader(r.PNG))
	require.NoError(t, err)
	require.Equal(t, w, decoded.Bounds().Dx())
}

func TestConvertDataURI(t *testing.T) {
	c := NewSourceConverter(nil)

	t.Run("png", func(t *testing.T) {
		r, err := c.ToEmbeddablePixels(context.Background(), dataURI("image/png", pngBytes(t, 40, 30)))
		require.NoError(t, err)
		requirePNG(t, r, 40, 30)
	})

	t.Run("jpeg is re-encoded as png", func(t *testing.T) {
		r, err := c.ToEmbeddablePixels(context.Background(), dataURI("image/jpeg", jpegBytes(t, 20, 10)))
		require.NoError(t, err)
		requirePNG(t, r, 20, 10)
	})

	t.Run("malformed payload", func(t *testing.T) {
		_, err := c.ToEmbeddablePixels(context.Background(), "data:image/png;base64,%%%")
		require.Error(t, err)
	})

	t.Run("not an image", func(t *testing.T) {
		_, err := c.ToEmbeddablePixels(context.Background(), dataURI("image/png", []byte("hello")))
		require.ErrorIs(t, err, ErrUnsupportedFormat)
	})

	t.Run("missing separator", func(t *testing.T) {
		_, err := c.ToEmbeddablePixels(context.Background(), "data:image/png;base64")
		require.Error(t, err)
	})
}

func TestConvertAsset(t *testing.T) {
	assets := fstest.MapFS{
		"images/signature.png": &fstest.MapFile{Data: pngBytes(t, 60, 20)},
	}
	c := NewSourceConverter(assets)

	r, err := c.ToEmbeddablePixels(context.Background(), "/images/signature.png")
	require.NoError(t, err)
	requirePNG(t, r, 60, 20)

	_, err = c.ToEmbeddablePixels(context.Background(), "/images/missing.png")
	require.Error(t, err)

	_, err = c.ToEmbeddablePixels(context.Background(), "../../etc/passwd")
	require.Error(t, err)

	_, err = NewSourceConverter(nil).ToEmbeddablePixels(context.Background(), "/images/signature.png")
	require.ErrorContains(t, err, "no asset directory")
}

func TestConvertURL(t *testing.T) {
	photo := jpegBytes(t, 32, 32)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/photo.jpg" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "image/jpeg")
		_, _ = w.Write(photo)
	}))
	defer server.Close()

	c := NewSourceConverter(nil, WithHTTPClient(server.Client()))

	r, err := c.ToEmbeddablePixels(context.Background(), server.URL+"/photo.jpg")
	require.NoError(t, err)
	requirePNG(t, r, 32, 32)

	_, err = c.ToEmbeddablePixels(context.Background(), server.URL+"/gone.jpg")
	require.ErrorContains(t, err, "status 404")
}

func TestConvertDownscales(t *testing.T) {
	c := NewSourceConverter(nil, WithMaxSize(50, 50))

	r, err := c.ToEmbeddablePixels(context.Background(), dataURI("image/png", pngBytes(t, 200, 100)))
	require.NoError(t, err)
	requirePNG(t, r, 50, 25)
}

func TestEmptyReference(t *testing.T) {
	_, err := NewSourceConverter(nil).ToEmbeddablePixels(context.Background(), "")
	require.Error(t, err)
}

func TestCover(t *testing.T) {
	out := Cover(testImage(100, 50), 20, 30)
	require.Equal(t, 20, out.Bounds().Dx())
	require.Equal(t, 30, out.Bounds().Dy())
}

func TestParseDataURIPlain(t *testing.T) {
	b, err := parseDataURI("data:text/plain,hello%20world")
	require.NoError(t, err)
	require.Equal(t, "hello world", string(b))
}

func TestDescribeRefHidesPayload(t *testing.T) {
	require.Equal(t, "data:image/png;base64", describeRef("data:image/png;base64,AAAA"))
	require.Equal(t, "/images/a.png", describeRef("/images/a.png"))
}

// hugePNG is a valid 1x1 PNG whose IHDR claims w x h pixels.
func hugePNG(t *testing.T, w, h uint32) []byte {
	t.Helper()
	b := pngBytes(t, 1, 1)
	// 8 byte signature, 4 byte length, then "IHDR" and its 13 data bytes
	binary.BigEndian.PutUint32(b[16:20], w)
	binary.BigEndian.PutUint32(b[20:24], h)
	binary.BigEndian.PutUint32(b[29:33], crc32.ChecksumIEEE(b[12:29]))
	return b
}

func TestConvertRejectsOversizedImages(t *testing.T) {
	c := NewSourceConverter(nil)

	t.Run("png header", func(t *testing.T) {
		_, err := c.ToEmbeddablePixels(context.Background(), dataURI("image/png", hugePNG(t, 20000, 20000)))
		require.ErrorIs(t, err, ErrImageTooLarge)
	})

	t.Run("png header from url", func(t *testing.T) {
		payload := hugePNG(t, 30000, 10000)
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write(payload)
		}))
		defer server.Close()

		_, err := c.ToEmbeddablePixels(context.Background(), server.URL+"/huge.png")
		require.ErrorIs(t, err, ErrImageTooLarge)
	})

	t.Run("jpeg2000 codestream header", func(t *testing.T) {
		siz := []byte{0xFF, 0x4F, 0xFF, 0x51, 0x00, 0x29, 0x00, 0x00}
		siz = binary.BigEndian.AppendUint32(siz, 40000)
		siz = binary.BigEndian.AppendUint32(siz, 40000)
		siz = binary.BigEndian.AppendUint32(siz, 0)
		siz = binary.BigEndian.AppendUint32(siz, 0)
		_, err := c.ToEmbeddablePixels(context.Background(), dataURI("image/jp2", siz))
		require.ErrorIs(t, err, ErrImageTooLarge)
	})

	t.Run("data uri length", func(t *testing.T) {
		ref := "data:image/png;base64," + strings.Repeat("A", maxDataURILength)
		_, err := c.ToEmbeddablePixels(context.Background(), ref)
		require.ErrorIs(t, err, ErrImageTooLarge)
	})

	t.Run("large but allowed", func(t *testing.T) {
		r, err := c.ToEmbeddablePixels(context.Background(), dataURI("image/png", pngBytes(t, 1600, 1200)))
		require.NoError(t, err)
		require.Equal(t, defaultMaxPixels, r.Width)
	})
}

func TestJPEG2000Dimensions(t *testing.T) {
	box := append([]byte{0x00, 0x00, 0x00, 0x16, 'i', 'h', 'd', 'r'}, 0, 0, 0x01, 0x2C, 0, 0, 0x00, 0xC8)
	w, h, ok := jpeg2000Dimensions(append(append([]byte{}, jp2Signatures[0]...), box...))
	require.True(t, ok)
	require.Equal(t, 200, w)
	require.Equal(t, 300, h)
}
