package images

import (
	"bytes"
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"
	"net/url"
	"strings"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"
	"pault.ag/go/cbeff/jpeg2000"
)

var (
	ErrUnsupportedFormat = errors.New("unsupported or invalid image format")
	ErrImageTooLarge     = errors.New("image exceeds the size limit")
)

const (
	// 24 megapixels, about 96 MB once decoded to RGBA
	maxDecodedPixels = 24_000_000
	// base64 of maxDownloadBytes plus room for the media type
	maxDataURILength = maxDownloadBytes/3*4 + 256
)

// decodeImage attempts to decode an image from bytes, trying multiple formats
func decodeImage(data []byte) (image.Image, string, error) {
	if len(data) == 0 {
		return nil, "", errors.New("no image data provided")
	}
	if err := checkDimensions(data); err != nil {
		return nil, "", err
	}

	// JPEG is what phones and the enrollment webcam produce
	if img, err := jpeg.Decode(bytes.NewReader(data)); err == nil {
		return img, "jpeg", nil
	}

	// Scanned ID photos sometimes arrive as JP2/J2K
	if isJPEG2000(data) {
		if img, err := jpeg2000.Parse(data); err == nil {
			return img, "jpeg2000", nil
		}
	}

	// png, gif, webp, bmp through the registered decoders
	if img, format, err := image.Decode(bytes.NewReader(data)); err == nil {
		return img, format, nil
	}

	return nil, "", ErrUnsupportedFormat
}

var jp2Signatures = [][]byte{
	{0x00, 0x00, 0x00, 0x0C, 'j', 'P', ' ', ' ', 0x0D, 0x0A, 0x87, 0x0A}, // JP2 signature box
	{0xFF, 0x4F, 0xFF, 0x51}, // J2K codestream
}

// checkDimensions reads only the image header and rejects sources whose
// pixel count would exceed maxDecodedPixels. Unknown headers are left for
// the decoders to reject.
func checkDimensions(data []byte) error {
	var w, h int
	if isJPEG2000(data) {
		var ok bool
		if w, h, ok = jpeg2000Dimensions(data); !ok {
			return nil
		}
	} else {
		cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
		if err != nil {
			return nil
		}
		w, h = cfg.Width, cfg.Height
	}
	if w <= 0 || h <= 0 {
		return ErrUnsupportedFormat
	}
	if int64(w)*int64(h) > maxDecodedPixels {
		return fmt.Errorf("%w: %dx%d pixels", ErrImageTooLarge, w, h)
	}
	return nil
}

// jpeg2000Dimensions reads the image size from the SIZ marker of a raw
// codestream or from the ihdr box of a JP2 file.
func jpeg2000Dimensions(data []byte) (int, int, bool) {
	if bytes.HasPrefix(data, jp2Signatures[1]) {
		// FF4F FF51 Lsiz Rsiz Xsiz Ysiz XOsiz YOsiz
		if len(data) < 24 {
			return 0, 0, false
		}
		xsiz := binary.BigEndian.Uint32(data[8:12])
		ysiz := binary.BigEndian.Uint32(data[12:16])
		xo := binary.BigEndian.Uint32(data[16:20])
		yo := binary.BigEndian.Uint32(data[20:24])
		if xo > xsiz || yo > ysiz {
			return 0, 0, false
		}
		return int(xsiz - xo), int(ysiz - yo), true
	}

	i := bytes.Index(data, []byte("ihdr"))
	if i < 0 || len(data) < i+12 {
		return 0, 0, false
	}
	height := binary.BigEndian.Uint32(data[i+4 : i+8])
	width := binary.BigEndian.Uint32(data[i+8 : i+12])
	return int(width), int(height), true
}

func isJPEG2000(data []byte) bool {
	for _, sig := range jp2Signatures {
		if bytes.HasPrefix(data, sig) {
			return true
		}
	}
	return false
}

// parseDataURI decodes data:[<mediatype>][;base64],<data>
func parseDataURI(ref string) ([]byte, error) {
	if len(ref) > maxDataURILength {
		return nil, fmt.Errorf("%w: data URI of %d bytes", ErrImageTooLarge, len(ref))
	}
	rest, ok := strings.CutPrefix(ref, "data:")
	if !ok {
		return nil, fmt.Errorf("not a data URI")
	}
	meta, payload, ok := strings.Cut(rest, ",")
	if !ok {
		return nil, fmt.Errorf("data URI without payload separator")
	}

	if strings.HasSuffix(meta, ";base64") {
		// some producers wrap or pad loosely
		payload = strings.Map(func(r rune) rune {
			if r == '\n' || r == '\r' || r == ' ' {
				return -1
			}
			return r
		}, payload)
		b, err := base64.StdEncoding.DecodeString(payload)
		if err != nil {
			b, err = base64.RawStdEncoding.DecodeString(strings.TrimRight(payload, "="))
		}
		if err != nil {
			return nil, fmt.Errorf("decode base64 data URI: %w", err)
		}
		return b, nil
	}

	s, err := url.PathUnescape(payload)
	if err != nil {
		return nil, fmt.Errorf("unescape data URI: %w", err)
	}
	return []byte(s), nil
}
