package camera

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"
)

func TestWorker_StartStop(t *testing.T) {
	ctx := context.Background()
	mock := NewMockBackend(0)
	w := NewWorker(0, []Backend{mock}, testWorkerConfig(), nil)

	if err := w.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if !w.IsAlive() {
		t.Error("Expected worker to be alive after start")
	}

	// 開始直後のテスト読み取りのフレームがすでにある
	frame := w.GetFrame()
	if frame == nil {
		t.Fatal("Expected a frame right after start")
	}
	if frame.IsFallback {
		t.Error("Expected a real frame, got fallback")
	}
	if !bytes.HasPrefix(frame.Data, []byte{0xFF, 0xD8}) {
		t.Error("Expected JPEG data")
	}
	if frame.Width != 64 || frame.Height != 48 {
		t.Errorf("Expected 64x48, got %dx%d", frame.Width, frame.Height)
	}
	if got := w.Stats().Backend; got != "Mock" {
		t.Errorf("Expected backend Mock, got %s", got)
	}

	if err := w.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if w.IsAlive() {
		t.Error("Expected worker to be stopped")
	}
	if n := mock.OpenHandles(0); n != 0 {
		t.Errorf("Expected handle to be released, %d still open", n)
	}

	// 2回目の停止もエラーにならない
	if err := w.Stop(); err != nil {
		t.Errorf("Second Stop failed: %v", err)
	}
}

func TestWorker_FramesKeepFlowing(t *testing.T) {
	mock := NewMockBackend(0)
	w := NewWorker(0, []Backend{mock}, testWorkerConfig(), nil)
	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer func() { _ = w.Stop() }()

	first := w.GetFrame()
	waitFor(t, 2*time.Second, func() bool {
		f := w.GetFrame()
		return f != nil && f.Timestamp.After(first.Timestamp)
	}, "newer frame")
}

func TestWorker_StartFailsWithoutDevice(t *testing.T) {
	mock := NewMockBackend()
	w := NewWorker(3, []Backend{mock}, testWorkerConfig(), nil)

	err := w.Start(context.Background())
	if err == nil {
		t.Fatal("Expected error for missing device")
	}
	if !errors.Is(err, ErrOpenFailed) {
		t.Errorf("Expected ErrOpenFailed, got %v", err)
	}
	var openErr *OpenError
	if !errors.As(err, &openErr) || len(openErr.Attempts) != 1 {
		t.Errorf("Expected OpenError with one attempt, got %v", err)
	}
	if w.IsAlive() {
		t.Error("Expected worker not to be alive")
	}
}

func TestWorker_StartFailsWhenVerifyReadFails(t *testing.T) {
	mock := NewMockBackend(0)
	mock.SetReadFailure(0, true)
	w := NewWorker(0, []Backend{mock}, testWorkerConfig(), nil)

	if err := w.Start(context.Background()); !errors.Is(err, ErrOpenFailed) {
		t.Fatalf("Expected ErrOpenFailed, got %v", err)
	}
	// 読めなかったハンドルは閉じられている
	if n := mock.OpenHandles(0); n != 0 {
		t.Errorf("Expected no open handles, got %d", n)
	}
}

func TestWorker_SingleRestartAtThreshold(t *testing.T) {
	mock := NewMockBackend(0)
	cfg := testWorkerConfig()
	// 再起動の待ち時間を長くして、1回目の再起動の途中で観測する
	cfg.RestartDelay = 10 * time.Second
	cfg.MaxRestartDelay = 10 * time.Second

	w := NewWorker(0, []Backend{mock}, cfg, nil)
	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	mock.SetReadFailure(0, true)
	waitFor(t, 2*time.Second, func() bool { return w.Stats().Restarts >= 1 }, "restart")

	stats := w.Stats()
	if stats.Restarts != 1 {
		t.Errorf("Expected exactly 1 restart, got %d", stats.Restarts)
	}
	if stats.ConsecutiveErrors != 0 {
		t.Errorf("Expected streak to reset, got %d", stats.ConsecutiveErrors)
	}
	if stats.ErrorCount < cfg.FailureThreshold {
		t.Errorf("Expected at least %d errors, got %d", cfg.FailureThreshold, stats.ErrorCount)
	}

	// 再起動待ちの途中でも停止できる
	stopped := make(chan struct{})
	go func() {
		_ = w.Stop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop blocked during restart delay")
	}
	if n := mock.OpenHandles(0); n != 0 {
		t.Errorf("Expected no open handles, got %d", n)
	}
}

func TestWorker_RecoversAfterRestart(t *testing.T) {
	mock := NewMockBackend(0)
	w := NewWorker(0, []Backend{mock}, testWorkerConfig(), nil)
	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer func() { _ = w.Stop() }()

	mock.SetReadFailure(0, true)
	waitFor(t, 2*time.Second, func() bool { return w.Stats().ErrorCount >= 3 }, "failures")
	mock.SetReadFailure(0, false)

	waitFor(t, 2*time.Second, func() bool {
		s := w.Stats()
		return s.Restarts >= 1 && s.State == StateRunning && s.ConsecutiveErrors == 0
	}, "recovery")

	if mock.MaxOpenHandles(0) != 1 {
		t.Errorf("Expected at most one handle at a time, got %d", mock.MaxOpenHandles(0))
	}
}

func TestWorker_DegradedState(t *testing.T) {
	mock := NewMockBackend(0)
	cfg := testWorkerConfig()
	cfg.FailureThreshold = 1000
	w := NewWorker(0, []Backend{mock}, cfg, nil)
	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer func() { _ = w.Stop() }()

	mock.SetReadFailure(0, true)
	waitFor(t, 2*time.Second, func() bool { return w.Stats().State == StateDegraded }, "degraded")

	if !w.IsAlive() {
		t.Error("Expected degraded worker to be alive")
	}
	// 最後に取得したフレームは残っている
	if w.GetFrame() == nil {
		t.Error("Expected last known good frame")
	}
}

func TestValidateSettings(t *testing.T) {
	testCases := []struct {
		name      string
		settings  Settings
		expectErr bool
	}{
		{name: "正常", settings: Settings{Width: 640, Height: 480, FPS: 30}},
		{name: "FPSが0", settings: Settings{Width: 640, Height: 480, FPS: 0}, expectErr: true},
		{name: "幅が大きすぎる", settings: Settings{Width: 5000, Height: 480, FPS: 30}, expectErr: true},
		{name: "高さが0", settings: Settings{Width: 640, Height: 0, FPS: 30}, expectErr: true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			err := validateSettings(tc.settings)
			if tc.expectErr && err == nil {
				t.Error("Expected error, got nil")
			}
			if !tc.expectErr && err != nil {
				t.Errorf("Unexpected error: %v", err)
			}
		})
	}
}

func TestFrameInterval(t *testing.T) {
	if got := frameInterval(30, time.Millisecond); got != time.Second/30 {
		t.Errorf("Expected %v, got %v", time.Second/30, got)
	}
	if got := frameInterval(1000, 10*time.Millisecond); got != 10*time.Millisecond {
		t.Errorf("Expected floor 10ms, got %v", got)
	}
	if got := frameInterval(0, 10*time.Millisecond); got != 10*time.Millisecond {
		t.Errorf("Expected floor for zero fps, got %v", got)
	}
}

// TestWorker_StopTimeout は開く処理で止まったループの停止が時間切れを返し、
// Done でループの終了を待てることを確認する
func TestWorker_StopTimeout(t *testing.T) {
	mock := NewMockBackend(0)
	cfg := testWorkerConfig()
	cfg.StopTimeout = 30 * time.Millisecond
	w := NewWorker(0, []Backend{mock}, cfg, nil)

	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	// 読み取りを失敗させて再起動させ、開き直しで止める
	mock.SetOpenDelay(0, 300*time.Millisecond)
	mock.SetReadFailure(0, true)
	waitFor(t, 2*time.Second, func() bool { return mock.OpenAttempts(0) >= 2 }, "restart reopening the device")
	mock.SetReadFailure(0, false)

	if err := w.Stop(); !errors.Is(err, ErrStopTimeout) {
		t.Fatalf("Expected ErrStopTimeout, got %v", err)
	}
	select {
	case <-w.Done():
		t.Fatal("Expected loop to still be running after stop timeout")
	default:
	}

	select {
	case <-w.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("Loop did not exit")
	}
	if n := mock.OpenHandles(0); n != 0 {
		t.Errorf("Expected handle to be released after loop exit, %d still open", n)
	}
}

func TestWorker_DoneBeforeStart(t *testing.T) {
	w := NewWorker(0, []Backend{NewMockBackend(0)}, testWorkerConfig(), nil)

	select {
	case <-w.Done():
	default:
		t.Error("Expected Done to be closed for a worker that never started")
	}
}
