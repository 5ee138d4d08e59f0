package video

import (
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// SequenceSource plays a directory of still images (jpeg/png, sorted
// by name) as a video. It decodes lazily and paces frame advancement
// by the configured FPS, so repeated Frame calls inside one frame
// period return the same image.
type SequenceSource struct {
	mu      sync.Mutex
	paths   []string
	idx     int
	loop    bool
	period  time.Duration
	seq     uint64
	last    Frame
	lastAt  time.Time
	started bool
	done    bool
}

func NewSequenceSource(dir string, fps float64, loop bool) (*SequenceSource, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	paths := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(e.Name())) {
		case ".jpg", ".jpeg", ".png":
			paths = append(paths, filepath.Join(dir, e.Name()))
		}
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("no image frames in %s", dir)
	}
	sort.Strings(paths)
	if fps <= 0 {
		fps = 30
	}
	return &SequenceSource{
		paths:  paths,
		loop:   loop,
		period: time.Duration(float64(time.Second) / fps),
	}, nil
}

func (s *SequenceSource) Ready() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.done
}

func (s *SequenceSource) Dimensions() (int, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.last.Image == nil {
		return 0, 0
	}
	b := s.last.Image.Bounds()
	return b.Dx(), b.Dy()
}

func (s *SequenceSource) Frame() Frame {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	if s.started && now.Sub(s.lastAt) < s.period {
		return s.last
	}
	if s.done {
		return s.last
	}
	img, err := decodeImage(s.paths[s.idx])
	if err != nil {
		// Skip undecodable frames instead of stalling the stream.
		s.advance()
		return s.last
	}
	s.seq++
	s.last = Frame{Seq: s.seq, Time: now, Image: img}
	s.lastAt = now
	s.started = true
	s.advance()
	return s.last
}

func (s *SequenceSource) advance() {
	s.idx++
	if s.idx >= len(s.paths) {
		if s.loop {
			s.idx = 0
		} else {
			s.done = true
			s.idx = len(s.paths) - 1
		}
	}
}

func (s *SequenceSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.done = true
	return nil
}

func decodeImage(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	img, _, err := image.Decode(f)
	return img, err
}
