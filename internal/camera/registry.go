package camera

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

// RegistryConfig はレジストリの設定
type RegistryConfig struct {
	ProbeCount          int
	CacheTTL            time.Duration
	DiscoveryRetries    int
	DiscoveryRetryDelay time.Duration
	RestartSettle       time.Duration // 再起動で停止してから開き直すまでの待ち時間
	CleanupInterval     time.Duration
	AutoStart           bool
	Worker              WorkerConfig
	Namer               Namer
}

// DefaultRegistryConfig はデフォルト設定を返す
func DefaultRegistryConfig() RegistryConfig {
	return RegistryConfig{
		ProbeCount:          10,
		CacheTTL:            30 * time.Second,
		DiscoveryRetryDelay: 200 * time.Millisecond,
		RestartSettle:       500 * time.Millisecond,
		CleanupInterval:     5 * time.Second,
		AutoStart:           true,
		Worker:              DefaultWorkerConfig(),
	}
}

var _ Manager = (*Registry)(nil)

// Registry はカメラの検出と起動・停止を管理する
// 1つのデバイスIDに対してワーカーは最大1つ
type Registry struct {
	cfg      RegistryConfig
	backends []Backend
	fallback *FallbackGenerator
	logger   *zap.Logger
	namer    Namer
	now      func() time.Time

	mu         sync.RWMutex
	devices    map[int]*DeviceInfo // 起動済みとして登録されたカメラ
	workers    map[int]*Worker
	started    map[int]bool // 一度でも開始に成功したID
	draining   map[int]<-chan struct{} // 停止が時間内に終わらなかったワーカー
	restarting map[int]bool
	running    bool
	stopCh     chan struct{}
	bgCtx      context.Context
	bgCancel   context.CancelFunc
	wg         sync.WaitGroup

	// 同じIDに対する開始・停止・検出を直列化する
	locksMu     sync.Mutex
	deviceLocks map[int]*sync.Mutex

	discoveryMu  sync.Mutex
	cacheMu      sync.Mutex
	discovered   []DeviceInfo
	discoveredAt time.Time

	startedAt time.Time
}

// NewRegistry は新しいRegistryを作成する
func NewRegistry(backends []Backend, fallback *FallbackGenerator, cfg RegistryConfig, logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	if fallback == nil {
		fallback = NewFallbackGenerator(cfg.Worker.Settings.Width, cfg.Worker.Settings.Height, 0, "", logger)
	}
	namer := cfg.Namer
	if namer == nil {
		namer = V4L2DeviceName
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = 5 * time.Second
	}

	bgCtx, bgCancel := context.WithCancel(context.Background())
	return &Registry{
		cfg:         cfg,
		backends:    backends,
		fallback:    fallback,
		logger:      logger,
		namer:       namer,
		now:         time.Now,
		devices:     make(map[int]*DeviceInfo),
		workers:     make(map[int]*Worker),
		started:     make(map[int]bool),
		draining:    make(map[int]<-chan struct{}),
		restarting:  make(map[int]bool),
		bgCtx:       bgCtx,
		bgCancel:    bgCancel,
		deviceLocks: make(map[int]*sync.Mutex),
		startedAt:   time.Now(),
	}
}

// Start はレジストリを開始する
// 定期的なバッファ掃除を始め、設定されていれば実デバイスを全て起動する
func (r *Registry) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return nil
	}
	r.running = true
	r.stopCh = make(chan struct{})
	if r.bgCtx.Err() != nil {
		r.bgCtx, r.bgCancel = context.WithCancel(context.Background())
	}
	stopCh := r.stopCh
	r.mu.Unlock()

	r.wg.Add(1)
	go r.cleanupLoop(stopCh)

	if r.cfg.AutoStart {
		started := 0
		for _, info := range r.DiscoverCameras(ctx, true) {
			if info.IsFallback {
				continue
			}
			if err := r.StartCamera(ctx, info.ID); err != nil {
				r.logger.Warn("カメラの自動起動に失敗しました", zap.Int("camera_id", info.ID), zap.Error(err))
				continue
			}
			started++
		}
		r.logger.Info("カメラを自動起動しました", zap.Int("started", started))
	}

	return nil
}

// Stop は全カメラを停止してバックグラウンド処理を終了する
func (r *Registry) Stop(ctx context.Context) error {
	r.mu.Lock()
	wasRunning := r.running
	r.running = false
	stopCh := r.stopCh
	r.bgCancel()
	r.mu.Unlock()

	if wasRunning {
		close(stopCh)
	}

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		r.logger.Warn("バックグラウンド処理の終了を待てませんでした", zap.Error(ctx.Err()))
	}

	stopped := r.StopAllCameras(ctx)
	r.logger.Info("カメラレジストリを停止しました", zap.Int("stopped", stopped))
	return nil
}

// lockDevice はデバイスIDごとのロックを取る
func (r *Registry) lockDevice(id int) func() {
	r.locksMu.Lock()
	l, ok := r.deviceLocks[id]
	if !ok {
		l = &sync.Mutex{}
		r.deviceLocks[id] = l
	}
	r.locksMu.Unlock()

	l.Lock()
	return l.Unlock
}

// StartCamera はカメラを開始する。起動済みなら何もしない
func (r *Registry) StartCamera(ctx context.Context, id int) error {
	if id == FallbackDeviceID {
		r.mu.Lock()
		if _, exists := r.devices[id]; !exists {
			info := r.fallbackDeviceInfo(true)
			r.devices[id] = &info
		}
		r.mu.Unlock()
		r.logger.Info("仮想カメラを開始しました")
		return nil
	}
	if id < 0 {
		return fmt.Errorf("%w: %d", ErrUnknownDevice, id)
	}

	unlock := r.lockDevice(id)
	defer unlock()

	return r.startLocked(ctx, id)
}

// startLocked はデバイスロックを持った状態でワーカーを起動する
func (r *Registry) startLocked(ctx context.Context, id int) error {
	r.mu.RLock()
	w := r.workers[id]
	r.mu.RUnlock()

	if w != nil && w.IsAlive() {
		return nil // 既に開始済み
	}
	if w != nil {
		r.stopWorker(id, w)
	}
	if err := r.awaitDrained(ctx, id); err != nil {
		return fmt.Errorf("カメラ %d の開始に失敗: %w", id, err)
	}

	w = NewWorker(id, r.backends, r.cfg.Worker, r.logger)
	if err := w.Start(ctx); err != nil {
		r.mu.Lock()
		delete(r.workers, id)
		if dev, exists := r.devices[id]; exists {
			// 再起動に失敗したカメラは次の開始・再起動まで停止扱い
			dev.IsActive = false
			dev.Status = StatusDisconnected
		}
		r.mu.Unlock()
		return fmt.Errorf("カメラ %d の開始に失敗: %w", id, err)
	}

	name, ok := r.discoveredName(id)
	if !ok {
		name = fmt.Sprintf("カメラ %d", id)
	}
	width, height := r.cfg.Worker.Settings.Width, r.cfg.Worker.Settings.Height
	if f := w.LastFrame(); f != nil {
		width, height = f.Width, f.Height
	}
	stats := w.Stats()

	r.mu.Lock()
	r.workers[id] = w
	r.started[id] = true
	r.devices[id] = &DeviceInfo{
		ID:       id,
		Name:     name,
		Width:    width,
		Height:   height,
		FPS:      r.cfg.Worker.Settings.FPS,
		IsActive: true,
		Backend:  stats.Backend,
		Status:   StatusActive,
	}
	r.mu.Unlock()

	return nil
}

// StopCamera はカメラを停止して登録を解除する
// 登録されていないIDでもエラーにしない
func (r *Registry) StopCamera(_ context.Context, id int) error {
	if id == FallbackDeviceID {
		r.mu.Lock()
		delete(r.devices, id)
		r.mu.Unlock()
		return nil
	}

	unlock := r.lockDevice(id)
	defer unlock()

	r.mu.Lock()
	w := r.workers[id]
	_, registered := r.devices[id]
	delete(r.workers, id)
	delete(r.devices, id)
	r.mu.Unlock()

	if w != nil {
		r.stopWorker(id, w)
	}
	if registered {
		r.logger.Info("カメラを停止しました", zap.Int("camera_id", id))
	}
	return nil
}

// stopWorker はワーカーを停止する
// ループが時間内に終わらなければ、終了するまで同じIDを開かないよう記録する
func (r *Registry) stopWorker(id int, w *Worker) {
	if err := w.Stop(); err != nil {
		r.logger.Warn("前のキャプチャの終了を待ちます", zap.Int("camera_id", id), zap.Error(err))
		r.mu.Lock()
		r.draining[id] = w.Done()
		r.mu.Unlock()
	}
}

// awaitDrained は停止しきれなかった前のワーカーの終了を待つ
// StopTimeout を過ぎても終わらなければ ErrDeviceBusy を返す
func (r *Registry) awaitDrained(ctx context.Context, id int) error {
	r.mu.RLock()
	ch := r.draining[id]
	r.mu.RUnlock()
	if ch == nil {
		return nil
	}

	timer := time.NewTimer(r.cfg.Worker.StopTimeout)
	defer timer.Stop()
	select {
	case <-ch:
	case <-ctx.Done():
		return fmt.Errorf("%w: %v", ErrDeviceBusy, ctx.Err())
	case <-timer.C:
		return ErrDeviceBusy
	}

	r.mu.Lock()
	if r.draining[id] == ch {
		delete(r.draining, id)
	}
	r.mu.Unlock()
	return nil
}

// RestartCamera はワーカーを停止し、少し待ってから開き直す
func (r *Registry) RestartCamera(ctx context.Context, id int) error {
	if !r.IsRegistered(id) {
		return fmt.Errorf("%w: %d", ErrUnknownDevice, id)
	}
	if id == FallbackDeviceID {
		return nil
	}

	unlock := r.lockDevice(id)
	defer unlock()

	// ロック待ちの間に停止されていないか確認
	if !r.IsRegistered(id) {
		return fmt.Errorf("%w: %d", ErrUnknownDevice, id)
	}

	r.mu.Lock()
	w := r.workers[id]
	delete(r.workers, id)
	if dev := r.devices[id]; dev != nil {
		dev.IsActive = false
		dev.Status = StatusDisconnected
	}
	r.mu.Unlock()

	if w != nil {
		r.stopWorker(id, w)
	}

	r.logger.Info("カメラを再起動します", zap.Int("camera_id", id))
	if !sleepContext(ctx, r.cfg.RestartSettle) {
		return ctx.Err()
	}

	return r.startLocked(ctx, id)
}

// RequestRestart はバックグラウンドで再起動する。呼び出し元は待たない
// 同じIDの再起動が進行中なら何もしない
func (r *Registry) RequestRestart(id int) bool {
	r.mu.Lock()
	if _, registered := r.devices[id]; !registered || r.restarting[id] || r.bgCtx.Err() != nil {
		r.mu.Unlock()
		return false
	}
	r.restarting[id] = true
	ctx := r.bgCtx
	r.wg.Add(1)
	r.mu.Unlock()

	go func() {
		defer r.wg.Done()
		defer func() {
			r.mu.Lock()
			delete(r.restarting, id)
			r.mu.Unlock()
		}()

		if err := r.RestartCamera(ctx, id); err != nil {
			r.logger.Warn("カメラの再起動に失敗しました", zap.Int("camera_id", id), zap.Error(err))
		}
	}()
	return true
}

// StartAllCameras は検出をやり直し、見つかった全カメラを開始する
func (r *Registry) StartAllCameras(ctx context.Context) int {
	started := 0
	for _, info := range r.DiscoverCameras(ctx, true) {
		if err := r.StartCamera(ctx, info.ID); err != nil {
			r.logger.Warn("カメラの開始に失敗しました", zap.Int("camera_id", info.ID), zap.Error(err))
			continue
		}
		started++
	}
	return started
}

// StopAllCameras は登録済みの全カメラを停止する
func (r *Registry) StopAllCameras(ctx context.Context) int {
	ids := r.registeredIDs()
	for _, id := range ids {
		_ = r.StopCamera(ctx, id)
	}
	return len(ids)
}

// IsRegistered は起動済みとして登録されているか返す
func (r *Registry) IsRegistered(id int) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, exists := r.devices[id]
	return exists
}

// IsKnown は検出済みか、一度でも開始したことがあるか返す
// 仮想カメラは常に既知として扱う
func (r *Registry) IsKnown(id int) bool {
	if id == FallbackDeviceID || r.IsDiscovered(id) {
		return true
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.started[id]
}

// GetCameraFrame は最新フレームを取得する
// 仮想カメラは登録の有無に関わらずフォールバック画像を返す
func (r *Registry) GetCameraFrame(id int) (*Frame, error) {
	if id == FallbackDeviceID {
		return r.fallback.Frame(id, ""), nil
	}

	r.mu.RLock()
	_, registered := r.devices[id]
	w := r.workers[id]
	r.mu.RUnlock()

	if !registered {
		return nil, fmt.Errorf("%w: %d", ErrUnknownDevice, id)
	}
	if w == nil || !w.IsAlive() {
		return nil, ErrNoFrame
	}

	frame := w.GetFrame()
	if frame == nil || len(frame.Data) == 0 {
		return nil, ErrNoFrame
	}
	return frame, nil
}

// GetAllFrames は登録済み全カメラの最新フレームをID順に返す
// フレームがないカメラは含めない
func (r *Registry) GetAllFrames() []*Frame {
	var frames []*Frame
	for _, id := range r.registeredIDs() {
		if frame, err := r.GetCameraFrame(id); err == nil {
			frames = append(frames, frame)
		}
	}
	return frames
}

// FallbackFrame はフォールバック画像のフレームを作成する
func (r *Registry) FallbackFrame(id int, reason string) *Frame {
	return r.fallback.Frame(id, reason)
}

// CleanupBuffers は未読フレームを破棄し、フォールバック画像を作り直させる
func (r *Registry) CleanupBuffers() {
	r.mu.RLock()
	workers := make([]*Worker, 0, len(r.workers))
	for _, w := range r.workers {
		workers = append(workers, w)
	}
	r.mu.RUnlock()

	for _, w := range workers {
		w.Drain()
	}
	r.fallback.Invalidate()
}

// GetCameras は起動済みカメラの一覧をID順に返す
func (r *Registry) GetCameras() []DeviceInfo {
	ids := r.registeredIDs()
	cameras := make([]DeviceInfo, 0, len(ids))
	for _, id := range ids {
		if info, ok := r.activeDeviceInfo(id); ok {
			cameras = append(cameras, info)
		}
	}
	return cameras
}

// Status は全体の状態を返す
func (r *Registry) Status() RegistryStatus {
	cameras := r.GetCameras()
	active := 0
	for _, c := range cameras {
		if c.IsActive {
			active++
		}
	}
	return RegistryStatus{
		ActiveCameras: active,
		TotalCameras:  len(cameras),
		Uptime:        time.Since(r.startedAt),
		Cameras:       cameras,
	}
}

// activeDeviceInfo は登録済みカメラの情報にワーカーの状態を反映して返す
func (r *Registry) activeDeviceInfo(id int) (DeviceInfo, bool) {
	r.mu.RLock()
	dev, exists := r.devices[id]
	if !exists {
		r.mu.RUnlock()
		return DeviceInfo{}, false
	}
	info := *dev
	w := r.workers[id]
	r.mu.RUnlock()

	if w == nil {
		return info, true
	}

	stats := w.Stats()
	if stats.Backend != "" {
		info.Backend = stats.Backend
	}
	info.ErrorCount = stats.ErrorCount
	info.Restarts = stats.Restarts
	info.LastFrameTime = stats.LastFrameTime
	info.Drops = stats.Drops
	switch stats.State {
	case StateRunning:
		info.IsActive = true
		info.Status = StatusActive
	case StateDegraded:
		info.IsActive = true
		info.Status = StatusDisconnected
	default:
		info.IsActive = false
		info.Status = StatusDisconnected
	}
	return info, true
}

func (r *Registry) registeredIDs() []int {
	r.mu.RLock()
	ids := make([]int, 0, len(r.devices))
	for id := range r.devices {
		ids = append(ids, id)
	}
	r.mu.RUnlock()

	sort.Ints(ids)
	return ids
}

// cleanupLoop は定期的にバッファを掃除する
func (r *Registry) cleanupLoop(stopCh <-chan struct{}) {
	defer r.wg.Done()

	ticker := time.NewTicker(r.cfg.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			r.CleanupBuffers()
		}
	}
}
