// Package imagedecode normalizes arbitrarily-encoded image buffers into
// 3-channel BGR Mats. Stored profile images arrive from persistence with no
// reliable encoding: correctly written binary JPEG/PNG, base64 text that was
// saved as bytes, or a whole data URI string. The decoder tries an ordered
// list of strategies and returns the first grid that decodes.
package imagedecode

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	"strings"

	"gocv.io/x/gocv"

	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"
)

// MinImageBytes is the smallest buffer worth handing to a codec. Anything
// shorter is rejected before any decode is attempted.
const MinImageBytes = 100

// ErrTooSmall reports a buffer below MinImageBytes.
var ErrTooSmall = errors.New("image buffer too small to be a valid image")

// DecodeError reports that every decode strategy failed. Format carries the
// sniffed container label so callers can build an actionable message.
type DecodeError struct {
	Format string
	Size   int
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("corrupted or unsupported %s image (%d bytes)", e.Format, e.Size)
}

// SniffFormat classifies a buffer by magic bytes. The label is diagnostic
// only; a failed sniff does not fail the decode.
func SniffFormat(buf []byte) string {
	switch {
	case len(buf) >= 2 && buf[0] == 0xFF && buf[1] == 0xD8:
		return "JPEG"
	case bytes.HasPrefix(buf, []byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A}):
		return "PNG"
	case bytes.HasPrefix(buf, []byte("GIF87a")) || bytes.HasPrefix(buf, []byte("GIF89a")):
		return "GIF"
	case len(buf) >= 12 && bytes.HasPrefix(buf, []byte("RIFF")) && bytes.Equal(buf[8:12], []byte("WEBP")):
		return "WEBP"
	default:
		return "unknown"
	}
}

type stage struct {
	name   string
	decode func(buf []byte) (gocv.Mat, bool)
}

var stages = []stage{
	{"imdecode-color", decodeColor},
	{"imdecode-unchanged", decodeUnchanged},
	{"base64-wrapped", decodeBase64Wrapped},
	{"stdlib-image", decodeStdlib},
}

// Decode converts a raw buffer into a BGR Mat, trying each strategy in order
// until one produces a non-empty grid. The input is never mutated. On
// failure the returned error is ErrTooSmall or a *DecodeError carrying the
// sniffed format.
func Decode(buf []byte) (gocv.Mat, error) {
	if len(buf) < MinImageBytes {
		return gocv.Mat{}, ErrTooSmall
	}
	for _, s := range stages {
		if mat, ok := s.decode(buf); ok {
			return mat, nil
		}
	}
	return gocv.Mat{}, &DecodeError{Format: SniffFormat(buf), Size: len(buf)}
}

func validGrid(mat gocv.Mat) bool {
	return !mat.Empty() && mat.Rows() > 0 && mat.Cols() > 0
}

func decodeColor(buf []byte) (gocv.Mat, bool) {
	mat, err := gocv.IMDecode(buf, gocv.IMReadColor)
	if err != nil {
		return gocv.Mat{}, false
	}
	if !validGrid(mat) {
		mat.Close()
		return gocv.Mat{}, false
	}
	return mat, true
}

func decodeUnchanged(buf []byte) (gocv.Mat, bool) {
	mat, err := gocv.IMDecode(buf, gocv.IMReadUnchanged)
	if err != nil {
		return gocv.Mat{}, false
	}
	if !validGrid(mat) {
		mat.Close()
		return gocv.Mat{}, false
	}
	switch mat.Channels() {
	case 3:
		return mat, true
	case 4:
		bgr := gocv.NewMat()
		gocv.CvtColor(mat, &bgr, gocv.ColorBGRAToBGR)
		mat.Close()
		if !validGrid(bgr) {
			bgr.Close()
			return gocv.Mat{}, false
		}
		return bgr, true
	case 1:
		bgr := gocv.NewMat()
		gocv.CvtColor(mat, &bgr, gocv.ColorGrayToBGR)
		mat.Close()
		if !validGrid(bgr) {
			bgr.Close()
			return gocv.Mat{}, false
		}
		return bgr, true
	default:
		mat.Close()
		return gocv.Mat{}, false
	}
}

// decodeBase64Wrapped handles buffers that are base64 text stored as bytes,
// including whole data URIs written to the blob column by older clients.
func decodeBase64Wrapped(buf []byte) (gocv.Mat, bool) {
	payload := StripDataURI(strings.TrimSpace(string(buf)))
	raw, err := DecodeBase64(payload)
	if err != nil || len(raw) < MinImageBytes {
		return gocv.Mat{}, false
	}
	if mat, ok := decodeColor(raw); ok {
		return mat, true
	}
	return decodeUnchanged(raw)
}

// decodeStdlib is the last resort for containers outside the primary codec
// set. The decoded image is copied pixel by pixel into a BGR buffer.
func decodeStdlib(buf []byte) (gocv.Mat, bool) {
	img, _, err := image.Decode(bytes.NewReader(buf))
	if err != nil {
		return gocv.Mat{}, false
	}
	mat, err := matFromImage(img)
	if err != nil {
		return gocv.Mat{}, false
	}
	if !validGrid(mat) {
		mat.Close()
		return gocv.Mat{}, false
	}
	return mat, true
}

func matFromImage(img image.Image) (gocv.Mat, error) {
	bounds := img.Bounds()
	width := bounds.Dx()
	height := bounds.Dy()
	if width <= 0 || height <= 0 {
		return gocv.Mat{}, fmt.Errorf("invalid image dimensions: %dx%d", width, height)
	}

	buffer := make([]byte, width*height*3)
	idx := 0
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			r, g, b, _ := img.At(x, y).RGBA()
			buffer[idx] = byte(b >> 8)
			buffer[idx+1] = byte(g >> 8)
			buffer[idx+2] = byte(r >> 8)
			idx += 3
		}
	}

	return gocv.NewMatFromBytes(height, width, gocv.MatTypeCV8UC3, buffer)
}

// StripDataURI removes a leading data:<mime>;base64, prefix if present.
func StripDataURI(s string) string {
	if !strings.HasPrefix(s, "data:") {
		return s
	}
	if i := strings.IndexByte(s, ','); i >= 0 {
		return s[i+1:]
	}
	return s
}

// DecodeBase64 decodes standard base64, repairing missing padding first.
// Upstream clients routinely strip the trailing '=' characters.
func DecodeBase64(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, errors.New("empty base64 payload")
	}
	if m := len(s) % 4; m != 0 {
		s += strings.Repeat("=", 4-m)
	}
	return base64.StdEncoding.DecodeString(s)
}
