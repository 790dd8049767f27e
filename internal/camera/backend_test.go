package camera

import (
	"bytes"
	"context"
	"errors"
	"image"
	"testing"
	"time"

	"go.uber.org/zap"
)

// namedBackend はテスト用に戦略名だけ差し替える
type namedBackend struct {
	*MockBackend
	name string
}

func (b namedBackend) Name() string {
	return b.name
}

type panicHandle struct{}

func (panicHandle) Read(context.Context) (image.Image, error) { panic("driver crashed") }
func (panicHandle) IsOpened() bool                            { return true }
func (panicHandle) Close() error                              { return nil }

func TestBackendFactory_Build(t *testing.T) {
	factory := NewBackendFactory()
	factory.Register("mock", func(BackendOptions) Backend { return NewMockBackend(0) })

	backends, err := factory.Build([]string{"mock", "unknown", "auto"}, BackendOptions{})
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if len(backends) != 2 {
		t.Fatalf("Expected 2 backends, got %d", len(backends))
	}
	if backends[0].Name() != "Mock" || backends[1].Name() != "Auto (ffmpeg)" {
		t.Errorf("Unexpected order: %s, %s", backends[0].Name(), backends[1].Name())
	}

	if _, err := factory.Build([]string{"unknown"}, BackendOptions{}); err == nil {
		t.Error("Expected error when no backend is available")
	}
}

func TestBackendFactory_SupportedNames(t *testing.T) {
	names := NewBackendFactory().SupportedNames()

	found := false
	for _, name := range names {
		if name == "auto" {
			found = true
		}
	}
	if !found {
		t.Errorf("Expected auto backend to be registered, got %v", names)
	}
}

func TestRestartBackoff(t *testing.T) {
	tests := []struct {
		failures int
		expected time.Duration
	}{
		{0, time.Second},
		{1, 2 * time.Second},
		{3, 8 * time.Second},
		{5, 30 * time.Second},
		{100, 30 * time.Second},
	}

	for _, tt := range tests {
		got := restartBackoff(time.Second, 30*time.Second, tt.failures)
		if got != tt.expected {
			t.Errorf("restartBackoff(%d): Expected %v, got %v", tt.failures, tt.expected, got)
		}
	}
}

func TestAcquireHandle_FallsThroughBackends(t *testing.T) {
	ctx := context.Background()
	broken := NewMockBackend(0)
	broken.SetReadFailure(0, true)
	working := NewMockBackend(0)

	backends := []Backend{
		namedBackend{MockBackend: NewMockBackend(), name: "empty"},
		namedBackend{MockBackend: broken, name: "broken"},
		namedBackend{MockBackend: working, name: "working"},
	}

	h, name, img, err := acquireHandle(ctx, backends, 0, Settings{Width: 32, Height: 24, FPS: 30}, 100*time.Millisecond, zap.NewNop())
	if err != nil {
		t.Fatalf("acquireHandle failed: %v", err)
	}
	defer h.Close()

	if name != "working" {
		t.Errorf("Expected backend working, got %s", name)
	}
	if img.Bounds().Dx() != 32 || img.Bounds().Dy() != 24 {
		t.Errorf("Expected 32x24 image, got %v", img.Bounds())
	}
	// 読めなかったハンドルは閉じられている
	if broken.OpenCount(0) != 1 || broken.OpenHandles(0) != 0 {
		t.Errorf("Expected broken handle to be closed, opens=%d handles=%d", broken.OpenCount(0), broken.OpenHandles(0))
	}
}

func TestAcquireHandle_AllFail(t *testing.T) {
	backends := []Backend{
		namedBackend{MockBackend: NewMockBackend(), name: "a"},
		namedBackend{MockBackend: NewMockBackend(), name: "b"},
	}

	_, _, _, err := acquireHandle(context.Background(), backends, 3, Settings{Width: 32, Height: 24, FPS: 30}, 100*time.Millisecond, zap.NewNop())
	if !errors.Is(err, ErrOpenFailed) {
		t.Fatalf("Expected ErrOpenFailed, got %v", err)
	}

	var openErr *OpenError
	if !errors.As(err, &openErr) {
		t.Fatalf("Expected *OpenError, got %T", err)
	}
	if openErr.DeviceID != 3 || len(openErr.Attempts) != 2 {
		t.Errorf("Unexpected error detail: %+v", openErr)
	}
}

func TestReadWithTimeout_RecoversPanic(t *testing.T) {
	_, err := readWithTimeout(context.Background(), panicHandle{}, time.Second)
	if err == nil {
		t.Error("Expected error from panicking handle")
	}
}

func TestFFmpegHandle_SplitFrames(t *testing.T) {
	h := &ffmpegHandle{frames: make(chan []byte, 1), done: make(chan struct{})}

	frame1 := []byte{0xFF, 0xD8, 0x01, 0x02, 0xFF, 0xD9}
	frame2 := []byte{0xFF, 0xD8, 0x03, 0xFF, 0xD9}

	var buf bytes.Buffer
	buf.Write([]byte{0x00, 0x11})
	buf.Write(frame1)
	buf.Write(frame2[:3])
	h.splitFrames(&buf)

	got := <-h.frames
	if !bytes.Equal(got, frame1) {
		t.Errorf("Expected %v, got %v", frame1, got)
	}
	if !bytes.Equal(buf.Bytes(), frame2[:3]) {
		t.Errorf("Expected partial frame to remain, got %v", buf.Bytes())
	}

	buf.Write(frame2[3:])
	h.splitFrames(&buf)
	got = <-h.frames
	if !bytes.Equal(got, frame2) {
		t.Errorf("Expected %v, got %v", frame2, got)
	}
	if buf.Len() != 0 {
		t.Errorf("Expected empty buffer, got %d bytes", buf.Len())
	}
}

func TestFFmpegHandle_OfferKeepsLatest(t *testing.T) {
	h := &ffmpegHandle{frames: make(chan []byte, 1), done: make(chan struct{})}

	h.offer([]byte{1})
	h.offer([]byte{2})
	h.offer([]byte{3})

	got := <-h.frames
	if len(got) != 1 || got[0] != 3 {
		t.Errorf("Expected latest frame [3], got %v", got)
	}
	select {
	case extra := <-h.frames:
		t.Errorf("Expected one buffered frame, got extra %v", extra)
	default:
	}
}

func TestFFmpegBackend_Args(t *testing.T) {
	b := NewFFmpegBackend("", nil)
	args := b.args(2, Settings{Width: 640, Height: 480, FPS: 15})

	joined := bytes.Join(toBytes(args), []byte(" "))
	for _, want := range []string{"-video_size 640x480", "-framerate 15", "-f image2pipe", "-c:v mjpeg"} {
		if !bytes.Contains(joined, []byte(want)) {
			t.Errorf("Expected args to contain %q, got %s", want, joined)
		}
	}
	if args[len(args)-1] != "-" {
		t.Errorf("Expected output to stdout, got %s", args[len(args)-1])
	}
}

func TestTailBuffer(t *testing.T) {
	tb := &tailBuffer{limit: 8}
	_, _ = tb.Write([]byte("hello "))
	_, _ = tb.Write([]byte("world"))

	if got := tb.String(); got != "lo world" {
		t.Errorf("Expected \"lo world\", got %q", got)
	}
}

func toBytes(ss []string) [][]byte {
	out := make([][]byte, len(ss))
	for i, s := range ss {
		out[i] = []byte(s)
	}
	return out
}
