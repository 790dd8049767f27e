package camera

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Namer はデバイスIDから表示名を求める関数
type Namer func(ctx context.Context, id int) string

// V4L2DeviceName はv4l2-ctlを使って実際のデバイス名を取得する
// 取得できなければ "カメラ N" を返す
func V4L2DeviceName(ctx context.Context, id int) string {
	if realName := v4l2CardType(ctx, DevicePath(id)); realName != "" {
		return realName
	}

	// フォールバック: デバイス番号から生成
	return fmt.Sprintf("カメラ %d", id)
}

// v4l2CardType は "Card type" の行からカメラ名を抽出する
func v4l2CardType(ctx context.Context, device string) string {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	cmd := exec.CommandContext(ctx, "v4l2-ctl", "--device", device, "--info")
	output, err := cmd.Output()
	if err != nil {
		return ""
	}

	for _, line := range strings.Split(string(output), "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "Card type") {
			parts := strings.SplitN(line, ":", 2)
			if len(parts) == 2 {
				if cardType := strings.TrimSpace(parts[1]); cardType != "" {
					return cardType
				}
			}
		}
	}

	return ""
}

// fallbackDeviceInfo は実デバイスが見つからない時の仮想カメラ情報
func (r *Registry) fallbackDeviceInfo(active bool) DeviceInfo {
	return DeviceInfo{
		ID:         FallbackDeviceID,
		Name:       "仮想カメラ",
		Width:      r.cfg.Worker.Settings.Width,
		Height:     r.cfg.Worker.Settings.Height,
		FPS:        r.cfg.Worker.Settings.FPS,
		IsActive:   active,
		IsFallback: true,
		Backend:    "fallback",
		Status:     StatusFallback,
	}
}

// DiscoverCameras はID 0 から ProbeCount-1 までを順に調べて使えるカメラを返す
// 結果は CacheTTL の間キャッシュする。実デバイスがなければ仮想カメラ1台を返す
func (r *Registry) DiscoverCameras(ctx context.Context, force bool) []DeviceInfo {
	// 検出の実行は1つずつ
	r.discoveryMu.Lock()
	defer r.discoveryMu.Unlock()

	if !force {
		if cached, ok := r.cachedDiscovery(); ok {
			return cached
		}
	}

	started := time.Now()
	found := make([]DeviceInfo, 0, r.cfg.ProbeCount)
	skipped := 0
	for id := 0; id < r.cfg.ProbeCount; id++ {
		if ctx.Err() != nil {
			break
		}
		info, ok, err := r.probeDevice(ctx, id)
		if err != nil {
			skipped++
			continue
		}
		if ok {
			found = append(found, info)
		}
	}

	if len(found) == 0 {
		found = append(found, r.fallbackDeviceInfo(r.IsRegistered(FallbackDeviceID)))
	}

	// 途中で打ち切った結果や調べられなかったIDがある結果はキャッシュしない
	if err := ctx.Err(); err != nil || skipped > 0 {
		r.logger.Info("カメラの検出が完了しなかったためキャッシュしません",
			zap.Int("found", len(found)),
			zap.Int("skipped", skipped),
			zap.Error(err),
		)
		return cloneDeviceInfos(found)
	}

	r.cacheMu.Lock()
	r.discovered = found
	r.discoveredAt = r.now()
	r.cacheMu.Unlock()

	r.logger.Info("カメラの検出が完了しました",
		zap.Int("found", len(found)),
		zap.Bool("fallback", found[0].IsFallback),
		zap.Duration("elapsed", time.Since(started)),
	)
	return cloneDeviceInfos(found)
}

// probeDevice は1台のデバイスを開いて1フレーム読めるか確認し、すぐに閉じる
// 起動中のデバイスは開かずにワーカーの状態から情報を作る
// 前のワーカーの終了を待てなかった時は調べずにエラーを返す
func (r *Registry) probeDevice(ctx context.Context, id int) (DeviceInfo, bool, error) {
	unlock := r.lockDevice(id)
	defer unlock()

	if info, ok := r.activeDeviceInfo(id); ok {
		return info, true, nil
	}
	if err := r.awaitDrained(ctx, id); err != nil {
		r.logger.Debug("終了待ちのカメラは調べません", zap.Int("camera_id", id), zap.Error(err))
		return DeviceInfo{}, false, err
	}

	var lastErr error
	for attempt := 0; attempt <= r.cfg.DiscoveryRetries; attempt++ {
		if attempt > 0 && !sleepContext(ctx, r.cfg.DiscoveryRetryDelay) {
			break
		}

		h, backend, img, err := acquireHandle(ctx, r.backends, id, r.cfg.Worker.Settings, r.cfg.Worker.ReadTimeout, r.logger)
		if err != nil {
			lastErr = err
			continue
		}
		_ = h.Close()

		bounds := img.Bounds()
		return DeviceInfo{
			ID:       id,
			Name:     r.namer(ctx, id),
			Width:    bounds.Dx(),
			Height:   bounds.Dy(),
			FPS:      r.cfg.Worker.Settings.FPS,
			IsActive: false,
			Backend:  backend,
			Status:   StatusAvailable,
		}, true, nil
	}

	r.logger.Debug("カメラは利用できません", zap.Int("camera_id", id), zap.Error(lastErr))
	return DeviceInfo{}, false, nil
}

// cachedDiscovery は有効期間内のキャッシュがあれば返す
func (r *Registry) cachedDiscovery() ([]DeviceInfo, bool) {
	r.cacheMu.Lock()
	defer r.cacheMu.Unlock()

	if r.discovered == nil || r.now().Sub(r.discoveredAt) >= r.cfg.CacheTTL {
		return nil, false
	}
	return cloneDeviceInfos(r.discovered), true
}

// IsDiscovered は直近の検出結果に実デバイスとして含まれているか返す
func (r *Registry) IsDiscovered(id int) bool {
	r.cacheMu.Lock()
	defer r.cacheMu.Unlock()

	for _, info := range r.discovered {
		if info.ID == id && !info.IsFallback {
			return true
		}
	}
	return false
}

// discoveredName は検出結果にある表示名を返す
func (r *Registry) discoveredName(id int) (string, bool) {
	r.cacheMu.Lock()
	defer r.cacheMu.Unlock()

	for _, info := range r.discovered {
		if info.ID == id {
			return info.Name, true
		}
	}
	return "", false
}

func cloneDeviceInfos(infos []DeviceInfo) []DeviceInfo {
	out := make([]DeviceInfo, len(infos))
	copy(out, infos)
	return out
}
