//go:build linux

package camera

import (
	"context"
	"fmt"
	"image"
	"sync"

	"github.com/vladimirvivien/go4vl/device"
	"github.com/vladimirvivien/go4vl/v4l2"
	"go.uber.org/zap"
)

// V4L2Backend はgo4vlでV4L2デバイスからMJPEGを直接取得する
type V4L2Backend struct {
	logger *zap.Logger
}

// NewV4L2Backend は新しいV4L2Backendを作成する
func NewV4L2Backend(logger *zap.Logger) *V4L2Backend {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &V4L2Backend{logger: logger}
}

// Name は戦略名を返す
func (b *V4L2Backend) Name() string {
	return "Video4Linux2"
}

// Open はデバイスを開いてストリーミングを開始する
func (b *V4L2Backend) Open(_ context.Context, deviceID int, s Settings) (Handle, error) {
	if err := checkDeviceNode(deviceID); err != nil {
		return nil, err
	}

	opts := []device.Option{
		device.WithIOType(v4l2.IOTypeMMAP),
		device.WithPixFormat(v4l2.PixFormat{
			PixelFormat: v4l2.PixelFmtMJPEG,
			Width:       uint32(s.Width),
			Height:      uint32(s.Height),
			Field:       v4l2.FieldNone,
		}),
	}
	if s.BufferSize > 0 {
		opts = append(opts, device.WithBufferSize(uint32(s.BufferSize)))
	}
	if s.FPS > 0 {
		opts = append(opts, device.WithFPS(uint32(s.FPS)))
	}

	dev, err := device.Open(DevicePath(deviceID), opts...)
	if err != nil {
		return nil, fmt.Errorf("V4L2デバイスを開けませんでした: %w", err)
	}

	streamCtx, cancel := context.WithCancel(context.Background())
	if err := dev.Start(streamCtx); err != nil {
		cancel()
		_ = dev.Close()
		return nil, fmt.Errorf("ストリーミングの開始に失敗: %w", err)
	}

	b.logger.Debug("V4L2デバイスを開きました", zap.Int("camera_id", deviceID))
	return &v4l2Handle{dev: dev, cancel: cancel, frames: dev.GetOutput()}, nil
}

type v4l2Handle struct {
	dev    *device.Device
	cancel context.CancelFunc
	frames <-chan []byte

	mu     sync.Mutex
	closed bool
}

func (h *v4l2Handle) Read(ctx context.Context) (image.Image, error) {
	if !h.IsOpened() {
		return nil, ErrHandleClosed
	}

	select {
	case data, ok := <-h.frames:
		if !ok {
			return nil, ErrHandleClosed
		}
		return decodeJPEG(data)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (h *v4l2Handle) IsOpened() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return !h.closed
}

func (h *v4l2Handle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return nil
	}
	h.closed = true
	h.cancel()
	return h.dev.Close()
}
