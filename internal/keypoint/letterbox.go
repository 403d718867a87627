package keypoint

import (
	"image"

	"golang.org/x/image/draw"
)

// letterbox scales src to fit a size×size square keeping its aspect ratio,
// centers it and fills the margins with black. Returns packed RGB bytes
// (row-major, 3 bytes per pixel) regardless of the source color model.
func letterbox(src image.Image, size int) []byte {
	b := src.Bounds()
	w, h := b.Dx(), b.Dy()

	dst := image.NewRGBA(image.Rect(0, 0, size, size))

	scale := float64(size) / float64(w)
	if s := float64(size) / float64(h); s < scale {
		scale = s
	}
	nw := clampDim(int(float64(w)*scale+0.5), size)
	nh := clampDim(int(float64(h)*scale+0.5), size)
	offX := (size - nw) / 2
	offY := (size - nh) / 2

	draw.ApproxBiLinear.Scale(dst, image.Rect(offX, offY, offX+nw, offY+nh), src, b, draw.Src, nil)

	rgb := make([]byte, size*size*3)
	for p, q := 0, 0; p < len(dst.Pix); p, q = p+4, q+3 {
		rgb[q] = dst.Pix[p]
		rgb[q+1] = dst.Pix[p+1]
		rgb[q+2] = dst.Pix[p+2]
	}
	return rgb
}

func clampDim(v, limit int) int {
	if v < 1 {
		return 1
	}
	if v > limit {
		return limit
	}
	return v
}
