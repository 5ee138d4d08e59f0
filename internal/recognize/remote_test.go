package recognize

import (
	"context"
	"image"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/Cathyyyy1/anomaly-monitor/internal/video"
)

func testRemoteFrame() video.Frame {
	return video.Frame{Seq: 1, Time: time.Now(), Image: image.NewRGBA(image.Rect(0, 0, 64, 48))}
}

func TestRemoteDetectDecodesPredictions(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/detect" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"predictions": [{"label": "person", "score": 0.9, "x": 10, "y": 20, "width": 30, "height": 60}]}`))
	}))
	defer srv.Close()

	rec := NewRemoteRecognizer(srv.URL, 0, srv.Client())
	preds, err := rec.Detect(context.Background(), testRemoteFrame())
	if err != nil {
		t.Fatalf("detect: %v", err)
	}
	if len(preds) != 1 || preds[0].Label != "person" || preds[0].BBox.Width != 30 {
		t.Fatalf("unexpected predictions: %+v", preds)
	}
}

func TestRemoteDetectHonorsClientTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	defer srv.Close()
	defer close(release)

	client := srv.Client()
	client.Timeout = 50 * time.Millisecond
	rec := NewRemoteRecognizer(srv.URL, 0, client)

	start := time.Now()
	_, err := rec.Detect(context.Background(), testRemoteFrame())
	if err == nil {
		t.Fatalf("expected timeout error from stalled inference service")
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Fatalf("timeout did not bound the call, took %s", elapsed)
	}
}
