package camera

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestRegistry_DiscoverCameras(t *testing.T) {
	ctx := context.Background()
	mock := NewMockBackend(0, 2)
	r := newTestRegistry(t, mock)

	cameras := r.DiscoverCameras(ctx, false)
	if len(cameras) != 2 {
		t.Fatalf("Expected 2 cameras, got %d", len(cameras))
	}
	if cameras[0].ID != 0 || cameras[1].ID != 2 {
		t.Errorf("Expected ids [0 2], got [%d %d]", cameras[0].ID, cameras[1].ID)
	}
	for _, cam := range cameras {
		if cam.IsActive {
			t.Errorf("Expected camera %d to be inactive", cam.ID)
		}
		if cam.Status != StatusAvailable {
			t.Errorf("Expected status available, got %s", cam.Status)
		}
		if cam.Backend != "Mock" {
			t.Errorf("Expected backend Mock, got %s", cam.Backend)
		}
	}
	if cameras[1].Name != "テストカメラ 2" {
		t.Errorf("Expected name from namer, got %s", cameras[1].Name)
	}

	// 検出で開いたハンドルは閉じられている
	if mock.OpenHandles(0) != 0 || mock.OpenHandles(2) != 0 {
		t.Error("Expected discovery handles to be released")
	}
	if !r.IsDiscovered(2) || r.IsDiscovered(1) {
		t.Error("IsDiscovered does not match discovery result")
	}
}

func TestRegistry_DiscoveryCache(t *testing.T) {
	ctx := context.Background()
	mock := NewMockBackend(0)
	r := newTestRegistry(t, mock)

	first := r.DiscoverCameras(ctx, false)
	if mock.OpenCount(0) != 1 {
		t.Fatalf("Expected 1 discovery open, got %d", mock.OpenCount(0))
	}

	// キャッシュ有効期間内は同じ結果を返し、デバイスに触らない
	mock.AddDevice(1)
	second := r.DiscoverCameras(ctx, false)
	if len(second) != len(first) || second[0] != first[0] {
		t.Errorf("Expected cached result %v, got %v", first, second)
	}
	if mock.OpenCount(0) != 1 {
		t.Errorf("Expected no new discovery open within TTL, got %d", mock.OpenCount(0))
	}

	// forceなら調べ直す
	third := r.DiscoverCameras(ctx, true)
	if len(third) != 2 {
		t.Errorf("Expected 2 cameras after forced discovery, got %d", len(third))
	}
}

func TestRegistry_DiscoveryCacheExpires(t *testing.T) {
	ctx := context.Background()
	mock := NewMockBackend(0)
	r := newTestRegistry(t, mock)

	now := time.Now()
	r.now = func() time.Time { return now }

	r.DiscoverCameras(ctx, false)
	now = now.Add(r.cfg.CacheTTL + time.Second)
	r.DiscoverCameras(ctx, false)

	if mock.OpenCount(0) != 2 {
		t.Errorf("Expected discovery open after TTL, got %d", mock.OpenCount(0))
	}
}

// TestRegistry_CancelledDiscoveryNotCached は中断した検出結果がキャッシュされないことを確認する
func TestRegistry_CancelledDiscoveryNotCached(t *testing.T) {
	mock := NewMockBackend(0, 1)
	r := newTestRegistry(t, mock)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	r.DiscoverCameras(ctx, true)

	cameras := r.DiscoverCameras(context.Background(), false)
	if len(cameras) != 2 {
		t.Fatalf("Expected 2 cameras after cancelled discovery, got %d", len(cameras))
	}
	if cameras[0].IsFallback || cameras[0].ID != 0 {
		t.Errorf("Expected real camera 0, got %+v", cameras[0])
	}

	// 有効なキャッシュも中断した検出で上書きしない
	opens := mock.OpenCount(0)
	r.DiscoverCameras(ctx, true)
	cameras = r.DiscoverCameras(context.Background(), false)
	if len(cameras) != 2 {
		t.Errorf("Expected cached 2 cameras, got %d", len(cameras))
	}
	if mock.OpenCount(0) != opens {
		t.Errorf("Expected cache hit without probing, got %d opens", mock.OpenCount(0)-opens)
	}
	if !r.IsDiscovered(1) {
		t.Error("Expected camera 1 to remain discovered")
	}
}

func TestRegistry_DiscoverFallback(t *testing.T) {
	r := newTestRegistry(t, NewMockBackend())

	cameras := r.DiscoverCameras(context.Background(), false)
	if len(cameras) != 1 {
		t.Fatalf("Expected 1 fallback camera, got %d", len(cameras))
	}
	if cameras[0].ID != FallbackDeviceID || !cameras[0].IsFallback {
		t.Errorf("Expected fallback camera, got %+v", cameras[0])
	}
	if r.IsDiscovered(FallbackDeviceID) {
		t.Error("Fallback camera should not count as a discovered device")
	}
}

func TestRegistry_DiscoverySkipsActiveDevice(t *testing.T) {
	ctx := context.Background()
	mock := NewMockBackend(0)
	r := newTestRegistry(t, mock)

	if err := r.StartCamera(ctx, 0); err != nil {
		t.Fatalf("StartCamera failed: %v", err)
	}
	opens := mock.OpenCount(0)

	cameras := r.DiscoverCameras(ctx, true)
	if len(cameras) != 1 || !cameras[0].IsActive {
		t.Fatalf("Expected active camera 0, got %+v", cameras)
	}
	if mock.OpenCount(0) != opens {
		t.Errorf("Expected discovery not to open an active device")
	}
	if mock.MaxOpenHandles(0) != 1 {
		t.Errorf("Expected at most one handle, got %d", mock.MaxOpenHandles(0))
	}
}

func TestRegistry_StartCameraIdempotent(t *testing.T) {
	ctx := context.Background()
	mock := NewMockBackend(0)
	r := newTestRegistry(t, mock)

	for i := 0; i < 3; i++ {
		if err := r.StartCamera(ctx, 0); err != nil {
			t.Fatalf("StartCamera #%d failed: %v", i, err)
		}
	}
	if mock.OpenCount(0) != 1 {
		t.Errorf("Expected device to be opened once, got %d", mock.OpenCount(0))
	}
	if len(r.GetCameras()) != 1 {
		t.Errorf("Expected 1 registered camera, got %d", len(r.GetCameras()))
	}
}

func TestRegistry_StartUnknownDevice(t *testing.T) {
	r := newTestRegistry(t, NewMockBackend())

	err := r.StartCamera(context.Background(), 5)
	if !errors.Is(err, ErrOpenFailed) {
		t.Errorf("Expected ErrOpenFailed, got %v", err)
	}
	if r.IsRegistered(5) {
		t.Error("Failed start should not register the device")
	}

	if err := r.StartCamera(context.Background(), -7); !errors.Is(err, ErrUnknownDevice) {
		t.Errorf("Expected ErrUnknownDevice for negative id, got %v", err)
	}
}

func TestRegistry_StopCamera(t *testing.T) {
	ctx := context.Background()
	mock := NewMockBackend(0)
	r := newTestRegistry(t, mock)

	// 登録されていないIDの停止は成功扱い
	if err := r.StopCamera(ctx, 9); err != nil {
		t.Errorf("Expected nil for unknown id, got %v", err)
	}

	if err := r.StartCamera(ctx, 0); err != nil {
		t.Fatalf("StartCamera failed: %v", err)
	}
	if err := r.StopCamera(ctx, 0); err != nil {
		t.Fatalf("StopCamera failed: %v", err)
	}
	if r.IsRegistered(0) {
		t.Error("Expected camera to be unregistered")
	}
	if mock.OpenHandles(0) != 0 {
		t.Error("Expected handle to be released")
	}
	if err := r.StopCamera(ctx, 0); err != nil {
		t.Errorf("Second stop failed: %v", err)
	}
}

func TestRegistry_GetCameraFrame(t *testing.T) {
	ctx := context.Background()
	mock := NewMockBackend(0)
	r := newTestRegistry(t, mock)

	if _, err := r.GetCameraFrame(0); !errors.Is(err, ErrUnknownDevice) {
		t.Errorf("Expected ErrUnknownDevice before start, got %v", err)
	}

	if err := r.StartCamera(ctx, 0); err != nil {
		t.Fatalf("StartCamera failed: %v", err)
	}
	frame, err := r.GetCameraFrame(0)
	if err != nil {
		t.Fatalf("GetCameraFrame failed: %v", err)
	}
	if frame.CameraID != 0 || frame.IsFallback || len(frame.Data) == 0 {
		t.Errorf("Unexpected frame: id=%d fallback=%v len=%d", frame.CameraID, frame.IsFallback, len(frame.Data))
	}

	_ = r.StopCamera(ctx, 0)
	if _, err := r.GetCameraFrame(0); !errors.Is(err, ErrUnknownDevice) {
		t.Errorf("Expected ErrUnknownDevice after stop, got %v", err)
	}
}

func TestRegistry_FallbackCamera(t *testing.T) {
	ctx := context.Background()
	r := newTestRegistry(t, NewMockBackend())

	if err := r.StartCamera(ctx, FallbackDeviceID); err != nil {
		t.Fatalf("StartCamera(-1) failed: %v", err)
	}
	frame, err := r.GetCameraFrame(FallbackDeviceID)
	if err != nil {
		t.Fatalf("GetCameraFrame(-1) failed: %v", err)
	}
	if !frame.IsFallback {
		t.Error("Expected fallback frame")
	}

	cameras := r.GetCameras()
	if len(cameras) != 1 || !cameras[0].IsActive || cameras[0].Status != StatusFallback {
		t.Errorf("Expected active fallback camera, got %+v", cameras)
	}

	_ = r.StopCamera(ctx, FallbackDeviceID)
	if r.IsRegistered(FallbackDeviceID) {
		t.Error("Expected fallback camera to be stopped")
	}
	// 停止後も仮想カメラからはフォールバック画像を取得できる
	if frame, err := r.GetCameraFrame(FallbackDeviceID); err != nil || !frame.IsFallback {
		t.Errorf("Expected fallback frame after stop, got %v, %v", frame, err)
	}
}

func TestRegistry_RestartCamera(t *testing.T) {
	ctx := context.Background()
	mock := NewMockBackend(0)
	r := newTestRegistry(t, mock)

	if err := r.RestartCamera(ctx, 0); !errors.Is(err, ErrUnknownDevice) {
		t.Errorf("Expected ErrUnknownDevice, got %v", err)
	}

	if err := r.StartCamera(ctx, 0); err != nil {
		t.Fatalf("StartCamera failed: %v", err)
	}
	if err := r.RestartCamera(ctx, 0); err != nil {
		t.Fatalf("RestartCamera failed: %v", err)
	}

	if mock.OpenCount(0) != 2 {
		t.Errorf("Expected 2 opens, got %d", mock.OpenCount(0))
	}
	if mock.MaxOpenHandles(0) != 1 {
		t.Errorf("Expected at most one handle at a time, got %d", mock.MaxOpenHandles(0))
	}
	if _, err := r.GetCameraFrame(0); err != nil {
		t.Errorf("Expected frame after restart, got %v", err)
	}
}

// TestRegistry_RestartWaitsForLingeringWorker は停止しきれなかったワーカーが
// ハンドルを持っている間、同じIDを開き直さないことを確認する
func TestRegistry_RestartWaitsForLingeringWorker(t *testing.T) {
	ctx := context.Background()
	mock := NewMockBackend(0)
	r := newTestRegistry(t, mock)
	r.cfg.Worker.StopTimeout = 30 * time.Millisecond

	if err := r.StartCamera(ctx, 0); err != nil {
		t.Fatalf("StartCamera failed: %v", err)
	}

	// ワーカー内部の再起動を開く処理で止める
	mock.SetOpenDelay(0, 300*time.Millisecond)
	mock.SetReadFailure(0, true)
	waitFor(t, 2*time.Second, func() bool { return mock.OpenAttempts(0) >= 2 }, "internal restart reopening the device")
	mock.SetReadFailure(0, false)

	if err := r.RestartCamera(ctx, 0); !errors.Is(err, ErrDeviceBusy) {
		t.Fatalf("Expected ErrDeviceBusy, got %v", err)
	}
	for _, cam := range r.GetCameras() {
		if cam.ID == 0 && cam.IsActive {
			t.Error("Expected camera to be inactive while the old loop is running")
		}
	}

	mock.SetOpenDelay(0, 0)
	waitFor(t, 2*time.Second, func() bool { return r.StartCamera(ctx, 0) == nil }, "start after old loop exits")

	if n := mock.MaxOpenHandles(0); n != 1 {
		t.Errorf("Expected at most one handle at a time, got %d", n)
	}
	if _, err := r.GetCameraFrame(0); err != nil {
		t.Errorf("Expected frame after start, got %v", err)
	}
}

func TestRegistry_RestartFailureKeepsDeviceInactive(t *testing.T) {
	ctx := context.Background()
	mock := NewMockBackend(0)
	r := newTestRegistry(t, mock)

	if err := r.StartCamera(ctx, 0); err != nil {
		t.Fatalf("StartCamera failed: %v", err)
	}

	mock.SetOpenFailure(0, true)
	if err := r.RestartCamera(ctx, 0); !errors.Is(err, ErrOpenFailed) {
		t.Fatalf("Expected ErrOpenFailed, got %v", err)
	}

	if !r.IsRegistered(0) {
		t.Fatal("Expected device to stay registered after failed restart")
	}
	if _, err := r.GetCameraFrame(0); !errors.Is(err, ErrNoFrame) {
		t.Errorf("Expected ErrNoFrame, got %v", err)
	}
	cameras := r.GetCameras()
	if len(cameras) != 1 || cameras[0].IsActive {
		t.Errorf("Expected inactive camera, got %+v", cameras)
	}

	// 明示的な開始で復帰する
	mock.SetOpenFailure(0, false)
	if err := r.StartCamera(ctx, 0); err != nil {
		t.Fatalf("StartCamera after failure failed: %v", err)
	}
	if cams := r.GetCameras(); !cams[0].IsActive {
		t.Error("Expected camera to be active again")
	}
}

func TestRegistry_RequestRestart(t *testing.T) {
	ctx := context.Background()
	mock := NewMockBackend(0)
	r := newTestRegistry(t, mock)
	r.cfg.RestartSettle = 100 * time.Millisecond

	if r.RequestRestart(0) {
		t.Error("Expected no restart for unregistered device")
	}

	if err := r.StartCamera(ctx, 0); err != nil {
		t.Fatalf("StartCamera failed: %v", err)
	}
	if !r.RequestRestart(0) {
		t.Fatal("Expected restart to be scheduled")
	}
	// 進行中は重複させない
	if r.RequestRestart(0) {
		t.Error("Expected duplicate restart to be rejected")
	}

	waitFor(t, 2*time.Second, func() bool { return mock.OpenCount(0) == 2 }, "background restart")
	waitFor(t, 2*time.Second, func() bool {
		_, err := r.GetCameraFrame(0)
		return err == nil
	}, "frame after restart")
}

func TestRegistry_StartAllStopAll(t *testing.T) {
	ctx := context.Background()
	mock := NewMockBackend(0, 1, 3)
	r := newTestRegistry(t, mock)

	if n := r.StartAllCameras(ctx); n != 3 {
		t.Fatalf("Expected 3 started, got %d", n)
	}
	status := r.Status()
	if status.ActiveCameras != 3 || status.TotalCameras != 3 {
		t.Errorf("Expected 3/3 active, got %d/%d", status.ActiveCameras, status.TotalCameras)
	}
	if frames := r.GetAllFrames(); len(frames) != 3 {
		t.Errorf("Expected 3 frames, got %d", len(frames))
	}

	if n := r.StopAllCameras(ctx); n != 3 {
		t.Errorf("Expected 3 stopped, got %d", n)
	}
	for _, id := range []int{0, 1, 3} {
		if mock.OpenHandles(id) != 0 {
			t.Errorf("Expected camera %d handle released", id)
		}
	}
	if len(r.GetAllFrames()) != 0 {
		t.Error("Expected no frames after stop all")
	}
}

func TestRegistry_StartAllWithoutDevices(t *testing.T) {
	r := newTestRegistry(t, NewMockBackend())

	// 実デバイスがなければ仮想カメラを開始する
	if n := r.StartAllCameras(context.Background()); n != 1 {
		t.Fatalf("Expected fallback camera to start, got %d", n)
	}
	if !r.IsRegistered(FallbackDeviceID) {
		t.Error("Expected fallback camera to be registered")
	}
}

func TestRegistry_AutoStartLifecycle(t *testing.T) {
	ctx := context.Background()
	mock := NewMockBackend(0, 1)
	r := newTestRegistry(t, mock)
	r.cfg.AutoStart = true

	if err := r.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if !r.IsRegistered(0) || !r.IsRegistered(1) {
		t.Fatal("Expected devices to be started automatically")
	}

	if err := r.Stop(ctx); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if r.IsRegistered(0) || r.IsRegistered(1) {
		t.Error("Expected devices to be stopped")
	}
	if mock.OpenHandles(0)+mock.OpenHandles(1) != 0 {
		t.Error("Expected all handles to be released")
	}
}

func TestRegistry_CleanupBuffers(t *testing.T) {
	ctx := context.Background()
	mock := NewMockBackend(0)
	r := newTestRegistry(t, mock)

	fallback := r.FallbackFrame(0, "").Data
	if err := r.StartCamera(ctx, 0); err != nil {
		t.Fatalf("StartCamera failed: %v", err)
	}
	r.CleanupBuffers()

	// 掃除しても最後のフレームは取得できる
	if _, err := r.GetCameraFrame(0); err != nil {
		t.Errorf("Expected last known frame after cleanup, got %v", err)
	}
	if again := r.FallbackFrame(0, "").Data; &again[0] == &fallback[0] {
		t.Error("Expected fallback image to be regenerated after cleanup")
	}
}

func TestRegistry_ConcurrentStartStop(t *testing.T) {
	ctx := context.Background()
	mock := NewMockBackend(0)
	r := newTestRegistry(t, mock)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 5; j++ {
				switch (i + j) % 3 {
				case 0:
					_ = r.StartCamera(ctx, 0)
				case 1:
					_ = r.StopCamera(ctx, 0)
				default:
					r.DiscoverCameras(ctx, true)
				}
			}
		}(i)
	}
	wg.Wait()

	if mock.MaxOpenHandles(0) > 1 {
		t.Errorf("Expected at most one handle per device, got %d", mock.MaxOpenHandles(0))
	}
}

func TestRegistry_IsKnown(t *testing.T) {
	ctx := context.Background()
	mock := NewMockBackend(0, 1)
	r := newTestRegistry(t, mock)

	if r.IsKnown(0) {
		t.Error("Expected camera 0 to be unknown before discovery")
	}
	if !r.IsKnown(FallbackDeviceID) {
		t.Error("Expected fallback camera to be always known")
	}

	// 検出せずに開始したカメラも停止後は既知として残る
	if err := r.StartCamera(ctx, 1); err != nil {
		t.Fatalf("StartCamera failed: %v", err)
	}
	_ = r.StopCamera(ctx, 1)
	if !r.IsKnown(1) {
		t.Error("Expected started camera to stay known after stop")
	}

	r.DiscoverCameras(ctx, false)
	if !r.IsKnown(0) {
		t.Error("Expected discovered camera to be known")
	}
	if r.IsKnown(3) {
		t.Error("Expected camera 3 to be unknown")
	}
}
