package video

import (
	"image"
	"time"
)

// Frame is one sampled video frame. A nil Image means the source had
// no decodable pixels for this tick.
type Frame struct {
	Seq   uint64
	Time  time.Time
	Image image.Image
}

// Dimensions returns the pixel width and height, 0,0 for an empty frame.
func (f Frame) Dimensions() (int, int) {
	if f.Image == nil {
		return 0, 0
	}
	b := f.Image.Bounds()
	return b.Dx(), b.Dy()
}

// Source is the video handle the pipeline samples from. Ready reports
// whether enough data is buffered to produce a frame; the scheduler
// stalls without consuming a skip slot until it flips true.
type Source interface {
	Ready() bool
	Dimensions() (width, height int)
	Frame() Frame
	Close() error
}
