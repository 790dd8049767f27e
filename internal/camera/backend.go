package camera

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"sort"
	"time"

	"github.com/disintegration/imaging"
	"go.uber.org/zap"
)

// Handle は1台のデバイスに対して開いたキャプチャセッション
// 同じデバイスのHandleは同時に1つしか存在させない。所有者はWorkerのみ
type Handle interface {
	// Read は1フレーム読み取る。ctxの期限を超えて待たない
	Read(ctx context.Context) (image.Image, error)

	// IsOpened はまだ読み取り可能か返す
	IsOpened() bool

	// Close はデバイスを解放する。複数回呼んでもよい
	Close() error
}

// Backend はデバイスを開く方法（キャプチャ戦略）
type Backend interface {
	// Name は表示用の戦略名を返す
	Name() string

	// Open はデバイスを開き、可能な範囲で設定を適用する
	Open(ctx context.Context, deviceID int, settings Settings) (Handle, error)
}

// BackendOptions はキャプチャ戦略の作成に使う設定
type BackendOptions struct {
	FFmpegPath string
	Logger     *zap.Logger
}

// BackendCreator はキャプチャ戦略の作成関数の型
type BackendCreator func(opts BackendOptions) Backend

// optionalBackends はビルドタグで有効になる戦略
var optionalBackends = map[string]BackendCreator{}

// BackendFactory は設定名からキャプチャ戦略を作成する
type BackendFactory struct {
	creators map[string]BackendCreator
}

// NewBackendFactory は新しいファクトリーを作成する
func NewBackendFactory() *BackendFactory {
	factory := &BackendFactory{
		creators: make(map[string]BackendCreator),
	}

	// ffmpeg経由の汎用キャプチャはどの環境でも登録する
	factory.Register("auto", func(opts BackendOptions) Backend {
		return NewFFmpegBackend(opts.FFmpegPath, opts.Logger)
	})

	// OS固有の戦略を登録
	registerPlatformBackends(factory)

	for name, creator := range optionalBackends {
		factory.Register(name, creator)
	}

	return factory
}

// Register は作成関数を登録する
func (f *BackendFactory) Register(name string, creator BackendCreator) {
	f.creators[name] = creator
}

// Build は名前の順にキャプチャ戦略を作成する
// この環境で使えない名前は飛ばし、1つも残らなければエラーを返す
func (f *BackendFactory) Build(names []string, opts BackendOptions) ([]Backend, error) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
		opts.Logger = logger
	}

	backends := make([]Backend, 0, len(names))
	for _, name := range names {
		creator, exists := f.creators[name]
		if !exists {
			logger.Warn("この環境ではキャプチャ戦略を利用できません", zap.String("backend", name))
			continue
		}
		backends = append(backends, creator(opts))
	}

	if len(backends) == 0 {
		return nil, fmt.Errorf("利用可能なキャプチャ戦略がありません: %v (対応: %v)", names, f.SupportedNames())
	}
	return backends, nil
}

// SupportedNames は登録済みの戦略名を返す
func (f *BackendFactory) SupportedNames() []string {
	names := make([]string, 0, len(f.creators))
	for name := range f.creators {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// DevicePath はデバイスIDに対応するデバイスファイルのパスを返す
func DevicePath(id int) string {
	return fmt.Sprintf("/dev/video%d", id)
}

// acquireHandle はキャプチャ戦略を順に試し、開けて1フレーム読めた最初のハンドルを返す
// 読めなかったハンドルはその場で閉じる
func acquireHandle(ctx context.Context, backends []Backend, id int, settings Settings, readTimeout time.Duration, logger *zap.Logger) (Handle, string, image.Image, error) {
	var attempts []BackendAttempt

	for _, b := range backends {
		if err := ctx.Err(); err != nil {
			attempts = append(attempts, BackendAttempt{Backend: b.Name(), Err: err})
			break
		}

		h, err := b.Open(ctx, id, settings)
		if err != nil {
			logger.Debug("キャプチャ戦略でデバイスを開けませんでした",
				zap.Int("camera_id", id), zap.String("backend", b.Name()), zap.Error(err))
			attempts = append(attempts, BackendAttempt{Backend: b.Name(), Err: err})
			continue
		}

		// 開けても読めないデバイスがあるので1フレーム読んで確認する
		img, err := readWithTimeout(ctx, h, readTimeout)
		if err != nil {
			_ = h.Close()
			logger.Debug("テスト読み取りに失敗しました",
				zap.Int("camera_id", id), zap.String("backend", b.Name()), zap.Error(err))
			attempts = append(attempts, BackendAttempt{Backend: b.Name(), Err: err})
			continue
		}

		return h, b.Name(), img, nil
	}

	return nil, "", nil, &OpenError{DeviceID: id, Attempts: attempts}
}

// readWithTimeout はタイムアウト付きで1フレーム読む
// cgoを使うドライバのpanicは読み取り失敗として扱う
func readWithTimeout(ctx context.Context, h Handle, timeout time.Duration) (img image.Image, err error) {
	readCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			img = nil
			err = fmt.Errorf("読み取り中にpanicが発生: %v", r)
		}
	}()

	img, err = h.Read(readCtx)
	if err == nil && img == nil {
		err = ErrNoFrame
	}
	return img, err
}

// decodeJPEG はデバイスから得たMJPEGフレームをデコードする
func decodeJPEG(data []byte) (image.Image, error) {
	if len(data) == 0 {
		return nil, ErrNoFrame
	}
	img, err := imaging.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("JPEG画像のデコードに失敗: %w", err)
	}
	return img, nil
}

// restartBackoff は連続した再起動失敗の回数に応じた待ち時間を返す
func restartBackoff(base, limit time.Duration, failures int) time.Duration {
	delay := base
	for i := 0; i < failures; i++ {
		delay *= 2
		if delay >= limit {
			return limit
		}
	}
	if delay > limit {
		return limit
	}
	return delay
}

// sleepContext はctxがキャンセルされるまで最大dだけ待つ
// キャンセルされた場合はfalseを返す
func sleepContext(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
