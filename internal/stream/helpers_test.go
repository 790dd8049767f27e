package stream

import (
	"bytes"
	"image"
	"image/color"
	"sync"
	"testing"
	"time"

	"github.com/disintegration/imaging"

	"robocam/internal/camera"
)

// testJPEG はグラデーションのJPEGを作る
func testJPEG(t *testing.T, width, height int) []byte {
	t.Helper()

	img := image.NewNRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.Set(x, y, color.NRGBA{R: uint8(x * 255 / width), G: uint8(y * 255 / height), B: 128, A: 255})
		}
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(85)); err != nil {
		t.Fatalf("Failed to encode test image: %v", err)
	}
	return buf.Bytes()
}

// fakeSource はテスト用のFrameSource
type fakeSource struct {
	mu         sync.Mutex
	data       []byte
	err        error
	panicNext  bool
	gets       int
	restarts   int
	cleanups   int
	fallback   []byte
	frameWidth int
}

func newFakeSource(data []byte, err error) *fakeSource {
	return &fakeSource{data: data, err: err, fallback: []byte{0xFF, 0xD8, 0xFF, 0xD9}}
}

func (s *fakeSource) GetCameraFrame(id int) (*camera.Frame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.gets++
	if s.panicNext {
		s.panicNext = false
		panic("壊れたフレーム")
	}
	if s.err != nil {
		return nil, s.err
	}
	// 呼ばれるたびに新しいフレームとして扱う
	return &camera.Frame{CameraID: id, Data: s.data, Timestamp: time.Now().Add(time.Duration(s.gets))}, nil
}

func (s *fakeSource) FallbackFrame(id int, reason string) *camera.Frame {
	return &camera.Frame{CameraID: id, Data: s.fallback, Timestamp: time.Now(), IsFallback: true, Error: reason}
}

func (s *fakeSource) RequestRestart(int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.restarts++
	return true
}

func (s *fakeSource) CleanupBuffers() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cleanups++
}

func (s *fakeSource) counts() (restarts, cleanups int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.restarts, s.cleanups
}
