package video

import (
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"testing"
)

func writePNG(t *testing.T, path string, w, h int) {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	img.Set(0, 0, color.RGBA{R: 255, A: 255})

	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if err := png.Encode(f, img); err != nil {
		t.Fatal(err)
	}
}

func TestImageReader_OrderAndEOF(t *testing.T) {
	dir := t.TempDir()
	writePNG(t, filepath.Join(dir, "frame_002.png"), 4, 3)
	writePNG(t, filepath.Join(dir, "frame_000.png"), 2, 2)
	writePNG(t, filepath.Join(dir, "frame_001.png"), 3, 3)
	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	r, err := OpenImages(dir)
	if err != nil {
		t.Fatalf("OpenImages failed: %v", err)
	}
	defer r.Close()

	if r.TotalFrames() != 3 {
		t.Fatalf("TotalFrames = %d, want 3", r.TotalFrames())
	}

	wantWidths := []int{2, 3, 4}
	for i, w := range wantWidths {
		frame, err := r.Next(context.Background())
		if err != nil {
			t.Fatalf("frame %d: %v", i, err)
		}
		if frame.Index != i || frame.Image.Bounds().Dx() != w {
			t.Errorf("frame %d: index=%d width=%d", i, frame.Index, frame.Image.Bounds().Dx())
		}
		if frame.TraceID == "" {
			t.Error("missing trace id")
		}
	}

	if _, err := r.Next(context.Background()); !errors.Is(err, io.EOF) {
		t.Errorf("after last frame err = %v, want io.EOF", err)
	}

	t.Logf("✅ image directory read in name order")
}

func TestImageReader_BadFileContinues(t *testing.T) {
	dir := t.TempDir()
	writePNG(t, filepath.Join(dir, "a.png"), 2, 2)
	if err := os.WriteFile(filepath.Join(dir, "b.jpg"), []byte("not a jpeg"), 0o644); err != nil {
		t.Fatal(err)
	}
	writePNG(t, filepath.Join(dir, "c.png"), 2, 2)

	r, err := OpenImages(dir)
	if err != nil {
		t.Fatal(err)
	}

	ctx := context.Background()
	if _, err := r.Next(ctx); err != nil {
		t.Fatal(err)
	}
	frame, err := r.Next(ctx)
	if !errors.Is(err, ErrFrame) || frame.Index != 1 {
		t.Fatalf("bad frame: index=%d err=%v", frame.Index, err)
	}
	frame, err = r.Next(ctx)
	if err != nil || frame.Index != 2 {
		t.Errorf("after bad frame: index=%d err=%v", frame.Index, err)
	}
}

func TestOpen_Errors(t *testing.T) {
	empty := t.TempDir()

	tests := []struct {
		name   string
		source string
	}{
		{"missing path", filepath.Join(empty, "nope.mp4")},
		{"directory without images", empty},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, err := Open(context.Background(), tt.source)
			if !errors.Is(err, ErrOpen) {
				t.Errorf("err = %v, want ErrOpen", err)
			}
			if r != nil {
				t.Error("reader returned with error")
			}
		})
	}
}

func TestImageReader_Cancelled(t *testing.T) {
	dir := t.TempDir()
	writePNG(t, filepath.Join(dir, "a.png"), 2, 2)

	r, err := OpenImages(dir)
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := r.Next(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}
