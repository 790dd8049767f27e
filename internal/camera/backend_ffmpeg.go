package camera

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"image"
	"io"
	"os/exec"
	"strconv"
	"strings"
	"sync"

	"go.uber.org/zap"
)

var (
	jpegSOI = []byte{0xFF, 0xD8}
	jpegEOI = []byte{0xFF, 0xD9}
)

// FFmpegBackend はffmpegのサブプロセス経由でデバイスから画像を取得する
// ピクセルフォーマットの選択と変換はffmpegに任せる
type FFmpegBackend struct {
	binary string
	logger *zap.Logger
}

// NewFFmpegBackend は新しいFFmpegBackendを作成する
func NewFFmpegBackend(binary string, logger *zap.Logger) *FFmpegBackend {
	if binary == "" {
		binary = "ffmpeg"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FFmpegBackend{binary: binary, logger: logger}
}

// Name は戦略名を返す
func (b *FFmpegBackend) Name() string {
	return "Auto (ffmpeg)"
}

// args はffmpegの引数を組み立てる
func (b *FFmpegBackend) args(deviceID int, s Settings) []string {
	args := []string{"-hide_banner", "-loglevel", "error"}
	if s.Width > 0 && s.Height > 0 {
		args = append(args, "-video_size", fmt.Sprintf("%dx%d", s.Width, s.Height))
	}
	if s.FPS > 0 {
		args = append(args, "-framerate", strconv.FormatFloat(s.FPS, 'f', -1, 64))
	}
	args = append(args, ffmpegInputArgs(deviceID)...)
	args = append(args,
		"-f", "image2pipe",
		"-c:v", "mjpeg",
		"-q:v", "3",
		"-",
	)
	return args
}

// Open はffmpegを起動してストリームを開始する
func (b *FFmpegBackend) Open(_ context.Context, deviceID int, s Settings) (Handle, error) {
	if err := checkDeviceNode(deviceID); err != nil {
		return nil, err
	}
	if _, err := exec.LookPath(b.binary); err != nil {
		return nil, fmt.Errorf("ffmpegが見つかりません: %w", err)
	}

	// プロセスの寿命はハンドルに合わせる
	procCtx, cancel := context.WithCancel(context.Background())
	cmd := exec.CommandContext(procCtx, b.binary, b.args(deviceID, s)...)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("stdoutパイプの作成に失敗: %w", err)
	}
	stderr := &tailBuffer{limit: 2048}
	cmd.Stderr = stderr

	if err := cmd.Start(); err != nil {
		cancel()
		return nil, fmt.Errorf("ffmpegの起動に失敗: %w", err)
	}

	h := &ffmpegHandle{
		cmd:    cmd,
		cancel: cancel,
		stderr: stderr,
		frames: make(chan []byte, 1),
		done:   make(chan struct{}),
	}
	go h.readLoop(stdout, b.logger.With(zap.Int("camera_id", deviceID)))

	return h, nil
}

type ffmpegHandle struct {
	cmd    *exec.Cmd
	cancel context.CancelFunc
	stderr *tailBuffer

	frames chan []byte
	done   chan struct{}

	mu      sync.Mutex
	exitErr error
}

// readLoop はstdoutからJPEGフレームを切り出して最新の1枚だけを保持する
func (h *ffmpegHandle) readLoop(stdout io.Reader, logger *zap.Logger) {
	defer close(h.done)

	reader := bufio.NewReaderSize(stdout, 256*1024)
	buffer := make([]byte, 64*1024)
	var frameBuffer bytes.Buffer

	for {
		n, err := reader.Read(buffer)
		if n > 0 {
			frameBuffer.Write(buffer[:n])
			h.splitFrames(&frameBuffer)
		}
		if err != nil {
			waitErr := h.cmd.Wait() // コンテキストキャンセル時のエラーも含む
			h.mu.Lock()
			if err == io.EOF && waitErr != nil {
				h.exitErr = fmt.Errorf("ffmpegが終了しました: %w (stderr: %s)", waitErr, h.stderr.String())
			} else if err != io.EOF {
				h.exitErr = fmt.Errorf("フレーム読み取りエラー: %w", err)
			} else {
				h.exitErr = ErrHandleClosed
			}
			h.mu.Unlock()
			logger.Debug("ffmpegの読み取りを終了しました", zap.Error(h.exitErr))
			return
		}
	}
}

// splitFrames はバッファから完全なJPEGフレームを取り出す
func (h *ffmpegHandle) splitFrames(frameBuffer *bytes.Buffer) {
	for {
		data := frameBuffer.Bytes()

		// JPEGの開始マーカー（FF D8）を探す
		startIdx := bytes.Index(data, jpegSOI)
		if startIdx == -1 {
			// マーカーの途中で切れている場合は先頭バイトだけ残す
			last := len(data) > 0 && data[len(data)-1] == 0xFF
			frameBuffer.Reset()
			if last {
				frameBuffer.WriteByte(0xFF)
			}
			return
		}

		// JPEGの終了マーカー（FF D9）を探す
		endIdx := bytes.Index(data[startIdx+2:], jpegEOI)
		if endIdx == -1 {
			// 完全なフレームがまだない
			if startIdx > 0 {
				remaining := append([]byte(nil), data[startIdx:]...)
				frameBuffer.Reset()
				frameBuffer.Write(remaining)
			}
			return
		}

		endIdx += startIdx + 2 + 2 // マーカーのサイズを含める
		frame := make([]byte, endIdx-startIdx)
		copy(frame, data[startIdx:endIdx])
		h.offer(frame)

		// 処理済みデータを削除
		remaining := append([]byte(nil), data[endIdx:]...)
		frameBuffer.Reset()
		frameBuffer.Write(remaining)
	}
}

// offer は古いフレームを捨てて最新フレームを置く
func (h *ffmpegHandle) offer(frame []byte) {
	for {
		select {
		case h.frames <- frame:
			return
		default:
		}
		select {
		case <-h.frames:
		default:
		}
	}
}

// Read は次のフレームを待って返す
func (h *ffmpegHandle) Read(ctx context.Context) (image.Image, error) {
	select {
	case data := <-h.frames:
		return decodeJPEG(data)
	case <-h.done:
		h.mu.Lock()
		defer h.mu.Unlock()
		return nil, h.exitErr
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// IsOpened はffmpegが動作中か返す
func (h *ffmpegHandle) IsOpened() bool {
	select {
	case <-h.done:
		return false
	default:
		return true
	}
}

// Close はffmpegを停止する
func (h *ffmpegHandle) Close() error {
	h.cancel()
	<-h.done
	return nil
}

// tailBuffer は書き込まれた内容の末尾だけを保持する
type tailBuffer struct {
	mu    sync.Mutex
	limit int
	buf   []byte
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.buf = append(t.buf, p...)
	if over := len(t.buf) - t.limit; over > 0 {
		t.buf = t.buf[over:]
	}
	return len(p), nil
}

func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return strings.TrimSpace(string(t.buf))
}
