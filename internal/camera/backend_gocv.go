//go:build gocv

package camera

import (
	"context"
	"fmt"
	"image"
	"sync"

	"go.uber.org/zap"
	"gocv.io/x/gocv"
)

// OpenCVを使う戦略は `-tags gocv` でビルドしたときだけ有効
func init() {
	optionalBackends["opencv"] = func(opts BackendOptions) Backend {
		return NewOpenCVBackend(opts.Logger)
	}
}

// OpenCVBackend はOpenCVのVideoCaptureでデバイスを開く
type OpenCVBackend struct {
	logger *zap.Logger
}

// NewOpenCVBackend は新しいOpenCVBackendを作成する
func NewOpenCVBackend(logger *zap.Logger) *OpenCVBackend {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &OpenCVBackend{logger: logger}
}

// Name は戦略名を返す
func (b *OpenCVBackend) Name() string {
	return "OpenCV"
}

// Open はデバイスを開いて設定を適用する
func (b *OpenCVBackend) Open(_ context.Context, deviceID int, s Settings) (Handle, error) {
	capture, err := gocv.VideoCaptureDevice(deviceID)
	if err != nil {
		return nil, fmt.Errorf("VideoCaptureを開けませんでした: %w", err)
	}
	if !capture.IsOpened() {
		_ = capture.Close()
		return nil, fmt.Errorf("VideoCaptureが開いていません: %d", deviceID)
	}

	// 設定はベストエフォート
	capture.Set(gocv.VideoCaptureFrameWidth, float64(s.Width))
	capture.Set(gocv.VideoCaptureFrameHeight, float64(s.Height))
	if s.FPS > 0 {
		capture.Set(gocv.VideoCaptureFPS, s.FPS)
	}
	if s.BufferSize > 0 {
		capture.Set(gocv.VideoCaptureBufferSize, float64(s.BufferSize))
	}

	b.logger.Debug("OpenCVでデバイスを開きました",
		zap.Int("camera_id", deviceID),
		zap.Float64("width", capture.Get(gocv.VideoCaptureFrameWidth)),
		zap.Float64("height", capture.Get(gocv.VideoCaptureFrameHeight)),
	)

	mat := gocv.NewMat()
	return &opencvHandle{capture: capture, mat: &mat}, nil
}

type opencvHandle struct {
	mu      sync.Mutex
	capture *gocv.VideoCapture
	mat     *gocv.Mat
	closed  bool
}

// Read はブロッキング読み取り。ctxは読み取り開始前にだけ確認する
func (h *opencvHandle) Read(ctx context.Context) (image.Image, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return nil, ErrHandleClosed
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if ok := h.capture.Read(h.mat); !ok || h.mat.Empty() {
		return nil, fmt.Errorf("フレームを読み取れませんでした")
	}

	img, err := h.mat.ToImage()
	if err != nil {
		return nil, fmt.Errorf("画像への変換に失敗: %w", err)
	}
	return img, nil
}

func (h *opencvHandle) IsOpened() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return !h.closed && h.capture.IsOpened()
}

func (h *opencvHandle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return nil
	}
	h.closed = true
	_ = h.mat.Close()
	return h.capture.Close()
}
