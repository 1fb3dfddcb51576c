package imagedecode

import (
	"bytes"
	"encoding/base64"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"testing"
)

func makePNG(t *testing.T, width, height int, fill color.NRGBA) []byte {
	t.Helper()

	img := image.NewNRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.SetNRGBA(x, y, fill)
		}
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("failed to encode png: %v", err)
	}
	return buf.Bytes()
}

func makeJPEG(t *testing.T, width, height int) []byte {
	t.Helper()

	img := image.NewGray(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.SetGray(x, y, color.Gray{Y: uint8((x*7 + y*13) % 256)})
		}
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90}); err != nil {
		t.Fatalf("failed to encode jpeg: %v", err)
	}
	return buf.Bytes()
}

func TestSniffFormat(t *testing.T) {
	cases := []struct {
		name string
		buf  []byte
		want string
	}{
		{"jpeg", []byte{0xFF, 0xD8, 0xFF, 0xE0}, "JPEG"},
		{"png", []byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A, 0x00}, "PNG"},
		{"gif87", []byte("GIF87a...."), "GIF"},
		{"gif89", []byte("GIF89a...."), "GIF"},
		{"webp", []byte("RIFF\x00\x00\x00\x00WEBPVP8 "), "WEBP"},
		{"garbage", []byte{0x01, 0x02, 0x03}, "unknown"},
		{"empty", nil, "unknown"},
	}

	for _, tc := range cases {
		if got := SniffFormat(tc.buf); got != tc.want {
			t.Errorf("%s: expected %q, got %q", tc.name, tc.want, got)
		}
	}
}

func TestDecodeRejectsTinyBuffer(t *testing.T) {
	_, err := Decode(bytes.Repeat([]byte{0xAB}, 50))
	if !errors.Is(err, ErrTooSmall) {
		t.Fatalf("expected ErrTooSmall, got %v", err)
	}
}

func TestDecodePNG(t *testing.T) {
	data := makePNG(t, 32, 24, color.NRGBA{R: 10, G: 200, B: 30, A: 255})

	mat, err := Decode(data)
	if err != nil {
		t.Fatalf("expected decode to succeed, got %v", err)
	}
	defer mat.Close()

	if mat.Rows() != 24 || mat.Cols() != 32 {
		t.Fatalf("unexpected dimensions: %dx%d", mat.Cols(), mat.Rows())
	}
	if mat.Channels() != 3 {
		t.Fatalf("expected 3 channels, got %d", mat.Channels())
	}
	// BGR order: blue first.
	if got := mat.GetUCharAt(0, 0); got != 30 {
		t.Fatalf("expected blue sample 30, got %d", got)
	}
}

func TestDecodeGrayscaleJPEGNormalizesChannels(t *testing.T) {
	mat, err := Decode(makeJPEG(t, 40, 40))
	if err != nil {
		t.Fatalf("expected decode to succeed, got %v", err)
	}
	defer mat.Close()

	if mat.Channels() != 3 {
		t.Fatalf("expected 3 channels, got %d", mat.Channels())
	}
}

func TestDecodeRecoversBase64WrappedBytes(t *testing.T) {
	original := makePNG(t, 16, 16, color.NRGBA{R: 250, G: 5, B: 120, A: 255})
	wrapped := []byte(base64.StdEncoding.EncodeToString(original))

	mat, err := Decode(wrapped)
	if err != nil {
		t.Fatalf("expected decode to succeed, got %v", err)
	}
	defer mat.Close()

	if mat.Rows() != 16 || mat.Cols() != 16 {
		t.Fatalf("unexpected dimensions: %dx%d", mat.Cols(), mat.Rows())
	}
	// PNG is lossless; the wrapped decode must recover the original pixels.
	if b, g, r := mat.GetUCharAt(0, 0), mat.GetUCharAt(0, 1), mat.GetUCharAt(0, 2); b != 120 || g != 5 || r != 250 {
		t.Fatalf("unexpected BGR sample: %d %d %d", b, g, r)
	}
}

func TestDecodeRecoversDataURIStoredAsBytes(t *testing.T) {
	original := makeJPEG(t, 20, 20)
	uri := "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(original)

	mat, err := Decode([]byte(uri))
	if err != nil {
		t.Fatalf("expected decode to succeed, got %v", err)
	}
	defer mat.Close()

	if mat.Rows() != 20 || mat.Cols() != 20 {
		t.Fatalf("unexpected dimensions: %dx%d", mat.Cols(), mat.Rows())
	}
}

func TestDecodeGarbageReportsSniffedFormat(t *testing.T) {
	buf := append([]byte{0xFF, 0xD8}, bytes.Repeat([]byte{0x00, 0x01, 0x02}, 100)...)

	_, err := Decode(buf)
	var decodeErr *DecodeError
	if !errors.As(err, &decodeErr) {
		t.Fatalf("expected DecodeError, got %v", err)
	}
	if decodeErr.Format != "JPEG" {
		t.Fatalf("expected sniffed JPEG label, got %q", decodeErr.Format)
	}
	if decodeErr.Size != len(buf) {
		t.Fatalf("expected size %d, got %d", len(buf), decodeErr.Size)
	}
}

func TestStripDataURI(t *testing.T) {
	if got := StripDataURI("data:image/png;base64,abcd"); got != "abcd" {
		t.Fatalf("expected payload, got %q", got)
	}
	if got := StripDataURI("abcd"); got != "abcd" {
		t.Fatalf("expected passthrough, got %q", got)
	}
}

func TestDecodeBase64RepairsPadding(t *testing.T) {
	payload := base64.StdEncoding.EncodeToString([]byte("attendance"))
	stripped := bytes.TrimRight([]byte(payload), "=")

	raw, err := DecodeBase64(string(stripped))
	if err != nil {
		t.Fatalf("expected decode to succeed, got %v", err)
	}
	if string(raw) != "attendance" {
		t.Fatalf("unexpected payload: %q", raw)
	}
}
