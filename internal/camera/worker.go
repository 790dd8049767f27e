package camera

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"sync"
	"time"

	"github.com/disintegration/imaging"
	"go.uber.org/zap"
)

// WorkerState はキャプチャワーカーの状態
type WorkerState string

const (
	StateStopped  WorkerState = "stopped"
	StateStarting WorkerState = "starting"
	StateRunning  WorkerState = "running"
	StateDegraded WorkerState = "degraded" // 読み取り失敗が続いている
	StateStopping WorkerState = "stopping"
)

// WorkerConfig はキャプチャワーカーの設定
type WorkerConfig struct {
	Settings         Settings
	BaselineQuality  int           // 保存するJPEGの品質
	FailureThreshold int           // 再起動までの連続失敗回数
	DegradedAfter    int           // degradedとみなす連続失敗回数
	RestartDelay     time.Duration // ハンドルがない時の待ち時間、再起動待ちの初期値
	MaxRestartDelay  time.Duration
	FailureSleep     time.Duration // 読み取り失敗後の待ち時間
	MinLoopInterval  time.Duration
	ReadTimeout      time.Duration
	StopTimeout      time.Duration
}

// DefaultWorkerConfig はデフォルト設定を返す
func DefaultWorkerConfig() WorkerConfig {
	return WorkerConfig{
		Settings:         Settings{Width: 640, Height: 480, FPS: 30, BufferSize: 1},
		BaselineQuality:  85,
		FailureThreshold: 10,
		DegradedAfter:    3,
		RestartDelay:     time.Second,
		MaxRestartDelay:  30 * time.Second,
		FailureSleep:     100 * time.Millisecond,
		MinLoopInterval:  10 * time.Millisecond,
		ReadTimeout:      2 * time.Second,
		StopTimeout:      3 * time.Second,
	}
}

// WorkerStats はワーカーの状態のスナップショット
type WorkerStats struct {
	State             WorkerState
	Backend           string
	ErrorCount        int
	ConsecutiveErrors int
	Restarts          int
	LastFrameTime     time.Time
	Drops             uint64
}

// Worker は1台のデバイスからフレームを取り続ける
// デバイスのハンドルはキャプチャループのゴルーチンだけが持ち、終了時に閉じる
type Worker struct {
	id       int
	cfg      WorkerConfig
	backends []Backend
	logger   *zap.Logger
	slot     frameSlot

	mu             sync.Mutex
	state          WorkerState
	backend        string
	errorCount     int
	consecutive    int
	restarts       int
	failedRestarts int
	lastFrameAt    time.Time
	stopRequested  bool
	cancel         context.CancelFunc
	done           chan struct{}
	exited         chan struct{} // 最後に起動したループの終了で閉じる
}

// closedCh はループを起動していないワーカーの Done が返す
var closedCh = func() chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}()

// NewWorker は新しいWorkerを作成する
func NewWorker(id int, backends []Backend, cfg WorkerConfig, logger *zap.Logger) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.DegradedAfter <= 0 {
		cfg.DegradedAfter = 3
	}
	if cfg.MinLoopInterval <= 0 {
		cfg.MinLoopInterval = 10 * time.Millisecond
	}
	return &Worker{
		id:       id,
		cfg:      cfg,
		backends: backends,
		logger:   logger.With(zap.Int("camera_id", id)),
		state:    StateStopped,
	}
}

// ID はデバイスIDを返す
func (w *Worker) ID() int {
	return w.id
}

// Start はデバイスを開いてキャプチャを開始する
// 開いた直後の1フレームが読めなければ失敗として扱う
func (w *Worker) Start(ctx context.Context) error {
	if err := validateSettings(w.cfg.Settings); err != nil {
		return fmt.Errorf("設定が無効: %w", err)
	}

	w.mu.Lock()
	if w.state != StateStopped {
		w.mu.Unlock()
		return nil // 既に開始済み
	}
	w.state = StateStarting
	w.stopRequested = false
	w.mu.Unlock()

	handle, backend, first, err := acquireHandle(ctx, w.backends, w.id, w.cfg.Settings, w.cfg.ReadTimeout, w.logger)
	if err != nil {
		w.mu.Lock()
		w.state = StateStopped
		w.mu.Unlock()
		return err
	}

	w.mu.Lock()
	if w.stopRequested {
		w.state = StateStopped
		w.mu.Unlock()
		_ = handle.Close()
		return ErrWorkerStopped
	}
	loopCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	w.backend = backend
	w.state = StateRunning
	w.cancel = cancel
	w.done = done
	w.exited = done
	w.mu.Unlock()

	w.publish(first)
	go w.run(loopCtx, handle, done)

	w.logger.Info("キャプチャを開始しました",
		zap.String("backend", backend),
		zap.Int("width", first.Bounds().Dx()),
		zap.Int("height", first.Bounds().Dy()),
	)
	return nil
}

// Stop はキャプチャを停止する。何度呼んでもよい
// ループが StopTimeout 内に終わらなければ ErrStopTimeout を返す
// その場合ループはまだハンドルを持っているので、Done が閉じるまで同じデバイスを開かないこと
func (w *Worker) Stop() error {
	w.mu.Lock()
	switch w.state {
	case StateStopped, StateStopping:
		w.mu.Unlock()
		return nil
	case StateStarting:
		w.stopRequested = true
		w.mu.Unlock()
		return nil
	}
	w.state = StateStopping
	cancel, done := w.cancel, w.done
	w.mu.Unlock()

	cancel()

	var stopErr error
	timer := time.NewTimer(w.cfg.StopTimeout)
	defer timer.Stop()
	select {
	case <-done:
	case <-timer.C:
		w.logger.Warn("キャプチャループが時間内に終了しませんでした",
			zap.Duration("timeout", w.cfg.StopTimeout))
		stopErr = fmt.Errorf("%w (%s)", ErrStopTimeout, w.cfg.StopTimeout)
	}

	w.slot.Drain()

	w.mu.Lock()
	w.state = StateStopped
	w.cancel = nil
	w.done = nil
	w.mu.Unlock()

	if stopErr != nil {
		return stopErr
	}
	w.logger.Info("キャプチャを停止しました")
	return nil
}

// Done はキャプチャループが終了すると閉じるチャネルを返す
// ループを起動していなければ閉じたチャネルを返す
func (w *Worker) Done() <-chan struct{} {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.exited == nil {
		return closedCh
	}
	return w.exited
}

// GetFrame は最新フレームを返す。未読がなければ最後に取得したフレームを返す
func (w *Worker) GetFrame() *Frame {
	return w.slot.Get()
}

// LastFrame は最後に取得したフレームを返す。未読状態は変えない
func (w *Worker) LastFrame() *Frame {
	return w.slot.Last()
}

// Drain は未読のフレームを破棄する
func (w *Worker) Drain() {
	w.slot.Drain()
}

// IsAlive はキャプチャループが動いているか返す
func (w *Worker) IsAlive() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state == StateRunning || w.state == StateDegraded
}

// Stats は現在の状態を返す
func (w *Worker) Stats() WorkerStats {
	w.mu.Lock()
	defer w.mu.Unlock()
	return WorkerStats{
		State:             w.state,
		Backend:           w.backend,
		ErrorCount:        w.errorCount,
		ConsecutiveErrors: w.consecutive,
		Restarts:          w.restarts,
		LastFrameTime:     w.lastFrameAt,
		Drops:             w.slot.Drops(),
	}
}

// run はキャプチャループ
func (w *Worker) run(ctx context.Context, h Handle, done chan struct{}) {
	defer close(done)
	defer func() {
		if h != nil {
			_ = h.Close()
		}
	}()

	interval := frameInterval(w.cfg.Settings.FPS, w.cfg.MinLoopInterval)

	for {
		if ctx.Err() != nil {
			return
		}
		started := time.Now()

		var pause time.Duration
		switch {
		case h == nil || !h.IsOpened():
			// ハンドルを失っている
			if w.recordFailure() >= w.cfg.FailureThreshold {
				h = w.restart(ctx, h)
			}
			pause = w.cfg.RestartDelay
		default:
			img, err := readWithTimeout(ctx, h, w.cfg.ReadTimeout)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				streak := w.recordFailure()
				w.logger.Debug("フレームの読み取りに失敗しました", zap.Int("streak", streak), zap.Error(err))
				if streak >= w.cfg.FailureThreshold {
					w.logger.Warn("連続して読み取りに失敗したため再起動します", zap.Int("streak", streak))
					h = w.restart(ctx, h)
				}
				pause = w.cfg.FailureSleep
			} else {
				w.publish(img)
				pause = interval - time.Since(started)
				if pause < w.cfg.MinLoopInterval {
					pause = w.cfg.MinLoopInterval
				}
			}
		}

		if !sleepContext(ctx, pause) {
			return
		}
	}
}

// restart は現在のハンドルを閉じて開き直す
// 結果に関わらず連続失敗回数は0に戻す
func (w *Worker) restart(ctx context.Context, h Handle) Handle {
	w.mu.Lock()
	w.restarts++
	w.consecutive = 0
	failures := w.failedRestarts
	w.mu.Unlock()

	if h != nil {
		_ = h.Close()
	}

	delay := restartBackoff(w.cfg.RestartDelay, w.cfg.MaxRestartDelay, failures)
	if !sleepContext(ctx, delay) {
		return nil
	}

	nh, backend, first, err := acquireHandle(ctx, w.backends, w.id, w.cfg.Settings, w.cfg.ReadTimeout, w.logger)
	if err != nil {
		w.mu.Lock()
		w.failedRestarts++
		w.mu.Unlock()
		// デバイスを失ったので古いフレームは配信しない
		w.slot.Reset()
		w.logger.Warn("再起動に失敗しました", zap.Duration("delay", delay), zap.Error(err))
		return nil
	}

	w.mu.Lock()
	w.failedRestarts = 0
	w.backend = backend
	w.mu.Unlock()

	w.publish(first)
	w.logger.Info("再起動しました", zap.String("backend", backend))
	return nh
}

// recordFailure は失敗を記録して連続失敗回数を返す
func (w *Worker) recordFailure() int {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.errorCount++
	w.consecutive++
	if w.consecutive >= w.cfg.DegradedAfter && w.state == StateRunning {
		w.state = StateDegraded
	}
	return w.consecutive
}

// publish は画像をJPEGにしてバッファに置く
// エンコードに失敗したフレームは捨てる
func (w *Worker) publish(img image.Image) {
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(w.cfg.BaselineQuality)); err != nil {
		w.logger.Warn("JPEGエンコードに失敗しました", zap.Error(err))
		return
	}

	now := time.Now()
	bounds := img.Bounds()
	w.slot.Put(&Frame{
		CameraID:  w.id,
		Data:      buf.Bytes(),
		Timestamp: now,
		Width:     bounds.Dx(),
		Height:    bounds.Dy(),
	})

	w.mu.Lock()
	w.lastFrameAt = now
	w.consecutive = 0
	if w.state == StateDegraded {
		w.state = StateRunning
	}
	w.mu.Unlock()
}

// frameInterval は目標フレームレートから1周の時間を求める
func frameInterval(fps float64, floor time.Duration) time.Duration {
	if fps <= 0 {
		return floor
	}
	interval := time.Duration(float64(time.Second) / fps)
	if interval < floor {
		return floor
	}
	return interval
}

// validateSettings は設定値を検証する
func validateSettings(settings Settings) error {
	if settings.FPS <= 0 || settings.FPS > 120 {
		return fmt.Errorf("FPSは0より大きく120以下である必要があります: %v", settings.FPS)
	}

	if settings.Width <= 0 || settings.Width > 4096 {
		return fmt.Errorf("幅は1-4096の範囲で指定してください: %d", settings.Width)
	}

	if settings.Height <= 0 || settings.Height > 4096 {
		return fmt.Errorf("高さは1-4096の範囲で指定してください: %d", settings.Height)
	}

	return nil
}
