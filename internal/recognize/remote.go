package recognize

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"image/jpeg"
	"io"
	"net/http"
	"strings"

	xdraw "golang.org/x/image/draw"

	"github.com/Cathyyyy1/anomaly-monitor/internal/video"
)

// RemoteRecognizer talks to an HTTP inference service: the frame is
// JPEG-encoded (downscaled to maxDim on the long side first) and
// POSTed to /detect; the service answers with a JSON prediction list.
// Box coordinates come back in the scaled image space and are mapped
// back to frame pixel space here.
type RemoteRecognizer struct {
	endpoint string
	maxDim   int
	client   *http.Client
}

type remotePrediction struct {
	Label string  `json:"label"`
	Score float64 `json:"score"`
	X     float64 `json:"x"`
	Y     float64 `json:"y"`
	W     float64 `json:"width"`
	H     float64 `json:"height"`
}

type remoteResponse struct {
	Predictions []remotePrediction `json:"predictions"`
}

func NewRemoteRecognizer(endpoint string, maxDim int, client *http.Client) *RemoteRecognizer {
	if client == nil {
		client = http.DefaultClient
	}
	return &RemoteRecognizer{
		endpoint: strings.TrimRight(endpoint, "/"),
		maxDim:   maxDim,
		client:   client,
	}
}

func (r *RemoteRecognizer) Load(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.endpoint+"/healthz", nil)
	if err != nil {
		return err
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("inference service health: %s", resp.Status)
	}
	return nil
}

func (r *RemoteRecognizer) Detect(ctx context.Context, frame video.Frame) ([]RawPrediction, error) {
	img := frame.Image
	scale := 1.0
	if r.maxDim > 0 {
		img, scale = downscale(img, r.maxDim)
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 85}); err != nil {
		return nil, fmt.Errorf("encode frame: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.endpoint+"/detect", &buf)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "image/jpeg")
	resp, err := r.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("inference service: %s", resp.Status)
	}
	var decoded remoteResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("decode predictions: %w", err)
	}
	out := make([]RawPrediction, 0, len(decoded.Predictions))
	for _, p := range decoded.Predictions {
		pred := RawPrediction{Label: p.Label, Score: p.Score}
		pred.BBox.X = p.X / scale
		pred.BBox.Y = p.Y / scale
		pred.BBox.Width = p.W / scale
		pred.BBox.Height = p.H / scale
		out = append(out, pred)
	}
	return out, nil
}

func (r *RemoteRecognizer) Close() error {
	r.client.CloseIdleConnections()
	return nil
}

// downscale shrinks img so its longer side is at most maxDim and
// returns the applied scale factor. Images already small enough are
// returned as-is with scale 1.
func downscale(img image.Image, maxDim int) (image.Image, float64) {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	long := w
	if h > long {
		long = h
	}
	if long <= maxDim {
		return img, 1.0
	}
	scale := float64(maxDim) / float64(long)
	dst := image.NewRGBA(image.Rect(0, 0, int(float64(w)*scale), int(float64(h)*scale)))
	xdraw.ApproxBiLinear.Scale(dst, dst.Bounds(), img, b, xdraw.Over, nil)
	return dst, scale
}
