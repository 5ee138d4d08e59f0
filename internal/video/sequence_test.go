package video

import (
	"image"
	"image/jpeg"
	"os"
	"path/filepath"
	"testing"
)

func writeTestFrames(t *testing.T, dir string, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		img := image.NewRGBA(image.Rect(0, 0, 32, 24))
		f, err := os.Create(filepath.Join(dir, "frame"+string(rune('a'+i))+".jpg"))
		if err != nil {
			t.Fatalf("create: %v", err)
		}
		if err := jpeg.Encode(f, img, nil); err != nil {
			t.Fatalf("encode: %v", err)
		}
		f.Close()
	}
}

func TestSequenceSourcePlaysFrames(t *testing.T) {
	dir := t.TempDir()
	writeTestFrames(t, dir, 2)
	src, err := NewSequenceSource(dir, 1000, false)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer src.Close()
	if !src.Ready() {
		t.Fatalf("expected source ready")
	}
	frame := src.Frame()
	if frame.Image == nil {
		t.Fatalf("expected decoded frame")
	}
	if w, h := frame.Dimensions(); w != 32 || h != 24 {
		t.Fatalf("unexpected dimensions %dx%d", w, h)
	}
}

func TestSequenceSourceEmptyDirFails(t *testing.T) {
	if _, err := NewSequenceSource(t.TempDir(), 30, false); err == nil {
		t.Fatalf("expected error for empty directory")
	}
}
