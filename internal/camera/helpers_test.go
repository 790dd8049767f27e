package camera

import (
	"context"
	"fmt"
	"testing"
	"time"
)

// testWorkerConfig はテスト用に待ち時間を短くした設定
func testWorkerConfig() WorkerConfig {
	cfg := DefaultWorkerConfig()
	cfg.Settings = Settings{Width: 64, Height: 48, FPS: 60, BufferSize: 1}
	cfg.FailureThreshold = 3
	cfg.RestartDelay = 10 * time.Millisecond
	cfg.MaxRestartDelay = 40 * time.Millisecond
	cfg.FailureSleep = time.Millisecond
	cfg.MinLoopInterval = time.Millisecond
	cfg.ReadTimeout = 200 * time.Millisecond
	cfg.StopTimeout = time.Second
	return cfg
}

func newTestRegistry(t *testing.T, backend Backend) *Registry {
	t.Helper()

	cfg := DefaultRegistryConfig()
	cfg.ProbeCount = 4
	cfg.RestartSettle = 5 * time.Millisecond
	cfg.CleanupInterval = 50 * time.Millisecond
	cfg.AutoStart = false
	cfg.Worker = testWorkerConfig()
	cfg.Namer = func(_ context.Context, id int) string {
		return fmt.Sprintf("テストカメラ %d", id)
	}

	r := NewRegistry([]Backend{backend}, nil, cfg, nil)
	t.Cleanup(func() { _ = r.Stop(context.Background()) })
	return r
}

// waitFor は条件が満たされるまで待つ
func waitFor(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("Timed out waiting: %s", msg)
}
