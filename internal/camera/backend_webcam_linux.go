//go:build linux

package camera

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sync"
	"time"

	"github.com/blackjack/webcam"
	"go.uber.org/zap"
)

const (
	pixFmtMJPEG = webcam.PixelFormat('M' | 'J'<<8 | 'P'<<16 | 'G'<<24)
	pixFmtYUYV  = webcam.PixelFormat('Y' | 'U'<<8 | 'Y'<<16 | 'V'<<24)
)

// LegacyV4LBackend はblackjack/webcamを使う互換性重視の戦略
// MJPEGを優先し、なければYUYVを変換する
type LegacyV4LBackend struct {
	logger *zap.Logger
}

// NewLegacyV4LBackend は新しいLegacyV4LBackendを作成する
func NewLegacyV4LBackend(logger *zap.Logger) *LegacyV4LBackend {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LegacyV4LBackend{logger: logger}
}

// Name は戦略名を返す
func (b *LegacyV4LBackend) Name() string {
	return "Video4Linux"
}

// Open はデバイスを開いてストリーミングを開始する
func (b *LegacyV4LBackend) Open(_ context.Context, deviceID int, s Settings) (Handle, error) {
	if err := checkDeviceNode(deviceID); err != nil {
		return nil, err
	}

	cam, err := webcam.Open(DevicePath(deviceID))
	if err != nil {
		return nil, fmt.Errorf("デバイスを開けませんでした: %w", err)
	}

	// 対応フォーマットを確認
	var format webcam.PixelFormat
	formats := cam.GetSupportedFormats()
	if _, ok := formats[pixFmtMJPEG]; ok {
		format = pixFmtMJPEG
	} else if _, ok := formats[pixFmtYUYV]; ok {
		format = pixFmtYUYV
	} else {
		_ = cam.Close()
		return nil, fmt.Errorf("対応するピクセルフォーマットがありません: %v", formats)
	}

	format, width, height, err := cam.SetImageFormat(format, uint32(s.Width), uint32(s.Height))
	if err != nil {
		_ = cam.Close()
		return nil, fmt.Errorf("フォーマットの設定に失敗: %w", err)
	}

	if s.BufferSize > 0 {
		if err := cam.SetBufferCount(uint32(s.BufferSize)); err != nil {
			b.logger.Debug("バッファ数を設定できませんでした", zap.Int("camera_id", deviceID), zap.Error(err))
		}
	}

	if err := cam.StartStreaming(); err != nil {
		_ = cam.Close()
		return nil, fmt.Errorf("ストリーミングの開始に失敗: %w", err)
	}

	return &webcamHandle{
		cam:    cam,
		format: format,
		width:  int(width),
		height: int(height),
	}, nil
}

type webcamHandle struct {
	cam    *webcam.Webcam
	format webcam.PixelFormat
	width  int
	height int

	mu     sync.Mutex
	closed bool
}

func (h *webcamHandle) Read(ctx context.Context) (image.Image, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return nil, ErrHandleClosed
	}

	// WaitForFrameは秒単位なのでctxの期限から切り上げる
	timeout := uint32(1)
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining > time.Second {
			timeout = uint32((remaining + time.Second - 1) / time.Second)
		}
	}

	err := h.cam.WaitForFrame(timeout)
	var timeoutErr *webcam.Timeout
	if errors.As(err, &timeoutErr) {
		return nil, fmt.Errorf("フレーム待ちがタイムアウトしました: %w", context.DeadlineExceeded)
	}
	if err != nil {
		return nil, fmt.Errorf("フレーム待ちに失敗: %w", err)
	}

	buf, index, err := h.cam.GetFrame()
	if err != nil {
		return nil, fmt.Errorf("フレーム取得に失敗: %w", err)
	}
	// mmapされた領域は解放後に上書きされるのでコピーする
	frame := make([]byte, len(buf))
	copy(frame, buf)
	_ = h.cam.ReleaseFrame(index)

	if h.format == pixFmtYUYV {
		return yuyvToImage(frame, h.width, h.height)
	}
	return decodeJPEG(frame)
}

func (h *webcamHandle) IsOpened() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return !h.closed
}

func (h *webcamHandle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return nil
	}
	h.closed = true
	_ = h.cam.StopStreaming()
	return h.cam.Close()
}

// yuyvToImage はYUYV(4:2:2)のフレームをYCbCr画像に変換する
func yuyvToImage(data []byte, width, height int) (image.Image, error) {
	if len(data) < width*height*2 {
		return nil, fmt.Errorf("YUYVフレームが短すぎます: %d bytes", len(data))
	}

	img := image.NewYCbCr(image.Rect(0, 0, width, height), image.YCbCrSubsampleRatio422)
	for y := 0; y < height; y++ {
		row := data[y*width*2 : (y+1)*width*2]
		x := 0
		for ; x+1 < width; x += 2 {
			i := x * 2
			img.Y[y*img.YStride+x] = row[i]
			img.Y[y*img.YStride+x+1] = row[i+2]
			c := y*img.CStride + x/2
			img.Cb[c] = row[i+1]
			img.Cr[c] = row[i+3]
		}
		// 幅が奇数なら最後の1画素はYとCbだけ。Crは左隣の値を使う
		if x < width {
			i := x * 2
			img.Y[y*img.YStride+x] = row[i]
			c := y*img.CStride + x/2
			img.Cb[c] = row[i+1]
			img.Cr[c] = 128
			if x > 0 {
				img.Cr[c] = img.Cr[c-1]
			}
		}
	}
	return img, nil
}
