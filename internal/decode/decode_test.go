package decode

import (
	"bytes"
	"encoding/base64"
	"errors"
	"image"
	"image/color"
	"image/png"
	"testing"
)

func pngPayload(t *testing.T) string {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 3, 2))
	img.Set(1, 1, color.RGBA{R: 10, G: 20, B: 30, A: 255})

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes())
}

func TestPayload(t *testing.T) {
	b64 := pngPayload(t)

	tests := []struct {
		name    string
		payload string
		wantErr error
	}{
		{"plain base64", b64, nil},
		{"data url", "data:image/png;base64," + b64, nil},
		{"unpadded", trimPadding(b64), nil},
		{"empty", "", ErrEmptyPayload},
		{"header only", "data:image/png;base64,", ErrEmptyPayload},
		{"not base64", "data:image/png;base64,@@@", ErrInvalidImage},
		{"not an image", base64.StdEncoding.EncodeToString([]byte("hello world")), ErrInvalidImage},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			img, err := Payload(tt.payload)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("err = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Payload failed: %v", err)
			}
			if img.Bounds().Dx() != 3 || img.Bounds().Dy() != 2 {
				t.Errorf("bounds = %v", img.Bounds())
			}
		})
	}
}

func trimPadding(s string) string {
	for len(s) > 0 && s[len(s)-1] == '=' {
		s = s[:len(s)-1]
	}
	return s
}

func TestRGB(t *testing.T) {
	data := []byte{
		1, 2, 3, 4, 5, 6,
		7, 8, 9, 10, 11, 12,
	}
	img, err := RGB(data, 2, 2)
	if err != nil {
		t.Fatal(err)
	}

	r, g, b, _ := img.At(1, 1).RGBA()
	if r>>8 != 10 || g>>8 != 11 || b>>8 != 12 {
		t.Errorf("At(1,1) = %d,%d,%d", r>>8, g>>8, b>>8)
	}

	if _, err := RGB(data, 3, 2); !errors.Is(err, ErrInvalidImage) {
		t.Errorf("short buffer err = %v", err)
	}
}
