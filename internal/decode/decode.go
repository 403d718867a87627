// Package decode turns transport image payloads into rasters.
package decode

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	"strings"

	// registered formats
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/webp"
)

var (
	ErrEmptyPayload = errors.New("decode: missing image payload")
	ErrInvalidImage = errors.New("decode: invalid image data")
)

// Payload decodes a base64 image, optionally prefixed with a data URL
// header ("data:image/jpeg;base64,"). Everything up to the first comma is
// discarded.
func Payload(payload string) (image.Image, error) {
	payload = strings.TrimSpace(payload)
	if i := strings.IndexByte(payload, ','); i >= 0 {
		payload = payload[i+1:]
	}
	if payload == "" {
		return nil, ErrEmptyPayload
	}

	raw, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		// some clients drop the padding
		raw, err = base64.RawStdEncoding.DecodeString(strings.TrimRight(payload, "="))
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidImage, err)
		}
	}

	return Bytes(raw)
}

// Bytes decodes an encoded JPEG, PNG or WebP image
func Bytes(raw []byte) (image.Image, error) {
	if len(raw) == 0 {
		return nil, ErrEmptyPayload
	}
	img, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidImage, err)
	}
	return img, nil
}

// RGB wraps packed 24-bit RGB pixels, as produced by the video pipelines,
// into an image without copying.
func RGB(data []byte, width, height int) (image.Image, error) {
	if width <= 0 || height <= 0 || len(data) < width*height*3 {
		return nil, fmt.Errorf("%w: %d bytes for %dx%d RGB", ErrInvalidImage, len(data), width, height)
	}
	return &rgbImage{pix: data, w: width, h: height}, nil
}
