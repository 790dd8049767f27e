package stream

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"robocam/internal/camera"
)

const (
	MinQuality = 10
	MaxQuality = 100
	MinFPS     = 1
	MaxFPS     = 60
)

// FrameSource は配信ループがフレームを取り出す相手
type FrameSource interface {
	GetCameraFrame(id int) (*camera.Frame, error)
	FallbackFrame(id int, reason string) *camera.Frame
	RequestRestart(id int) bool
	CleanupBuffers()
}

// GeneratorConfig は配信ループの設定
type GeneratorConfig struct {
	MinInterval   time.Duration // パート間の最短間隔
	MissThreshold int           // 再起動を要求するまでの連続欠落回数
	CleanupEvery  int           // このパート数ごとにバッファを掃除する
	ErrorPause    time.Duration // 内部エラー後の待ち時間
}

// DefaultGeneratorConfig はデフォルト設定を返す
func DefaultGeneratorConfig() GeneratorConfig {
	return GeneratorConfig{
		MinInterval:   33 * time.Millisecond,
		MissThreshold: 50,
		CleanupEvery:  10,
		ErrorPause:    100 * time.Millisecond,
	}
}

// Request は1本の配信の要求内容
type Request struct {
	CameraID int
	Quality  int
	FPS      int
}

// Part は送り出す1枚分のデータ
type Part struct {
	CameraID  int
	Seq       uint64
	Data      []byte
	Fallback  bool
	Timestamp time.Time
}

// Emit はパートをクライアントへ書き出す。エラーを返すと配信を終える
type Emit func(Part) error

// Generator はフレームを一定のペースで取り出して送り出す
type Generator struct {
	source  FrameSource
	encoder *Encoder
	cfg     GeneratorConfig
	logger  *zap.Logger

	active atomic.Int64
	total  atomic.Uint64
}

// NewGenerator は新しいGeneratorを作成する
func NewGenerator(source FrameSource, encoder *Encoder, cfg GeneratorConfig, logger *zap.Logger) *Generator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if encoder == nil {
		encoder = NewEncoder(DefaultEncoderConfig(), logger)
	}
	def := DefaultGeneratorConfig()
	if cfg.MinInterval <= 0 {
		cfg.MinInterval = def.MinInterval
	}
	if cfg.MissThreshold <= 0 {
		cfg.MissThreshold = def.MissThreshold
	}
	if cfg.CleanupEvery <= 0 {
		cfg.CleanupEvery = def.CleanupEvery
	}
	if cfg.ErrorPause <= 0 {
		cfg.ErrorPause = def.ErrorPause
	}
	return &Generator{source: source, encoder: encoder, cfg: cfg, logger: logger}
}

// ClampQuality は品質を10-100に丸める
func ClampQuality(q int) int {
	return max(MinQuality, min(MaxQuality, q))
}

// ClampFPS はフレームレートを1-60に丸める
func ClampFPS(fps int) int {
	return max(MinFPS, min(MaxFPS, fps))
}

// Interval はフレームレートからパート間の間隔を求める
func (g *Generator) Interval(fps int) time.Duration {
	interval := time.Second / time.Duration(ClampFPS(fps))
	if interval < g.cfg.MinInterval {
		return g.cfg.MinInterval
	}
	return interval
}

// ActiveStreams は配信中の接続数を返す
func (g *Generator) ActiveStreams() int64 {
	return g.active.Load()
}

// TotalStreams はこれまでに開始した配信の数を返す
func (g *Generator) TotalStreams() uint64 {
	return g.total.Load()
}

// Encoder は再エンコードに使うEncoderを返す
func (g *Generator) Encoder() *Encoder {
	return g.encoder
}

// streamState は1本の配信ループの状態
type streamState struct {
	misses       int
	fallbackSent bool
	emitted      uint64
	bytes        uint64
}

// Run はctxが終わるかemitがエラーを返すまでパートを送り続ける
// クライアントの切断で終わった場合はnilを返す
func (g *Generator) Run(ctx context.Context, req Request, emit Emit) error {
	req.Quality = ClampQuality(req.Quality)
	req.FPS = ClampFPS(req.FPS)
	interval := g.Interval(req.FPS)

	session := uuid.New()
	logger := g.logger.With(
		zap.String("stream_id", session.String()),
		zap.Int("camera_id", req.CameraID),
		zap.Int("quality", req.Quality),
		zap.Int("fps", req.FPS),
	)

	g.active.Add(1)
	g.total.Add(1)
	started := time.Now()
	st := &streamState{}
	logger.Info("配信を開始しました", zap.Int64("active_streams", g.active.Load()))

	defer func() {
		g.active.Add(-1)
		logger.Info("配信を終了しました",
			zap.Uint64("parts", st.emitted),
			zap.String("sent", humanize.Bytes(st.bytes)),
			zap.Duration("duration", time.Since(started)),
		)
	}()

	for {
		if ctx.Err() != nil {
			return nil
		}
		tickStart := time.Now()

		part, ok, failed := g.next(req, st, logger)
		if ok {
			part.Seq = st.emitted
			if err := emit(part); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return fmt.Errorf("パートの送信に失敗: %w", err)
			}
			st.emitted++
			st.bytes += uint64(len(part.Data))
			if st.emitted%uint64(g.cfg.CleanupEvery) == 0 {
				g.source.CleanupBuffers()
			}
		}

		pause := interval - time.Since(tickStart)
		if failed && pause < g.cfg.ErrorPause {
			pause = g.cfg.ErrorPause
		}
		if pause < time.Millisecond {
			pause = time.Millisecond
		}

		timer := time.NewTimer(pause)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}
	}
}

// next は次に送るパートを決める
// 内部で起きたpanicはフォールバック画像1枚に置き換える
func (g *Generator) next(req Request, st *streamState, logger *zap.Logger) (part Part, ok bool, failed bool) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("配信ループで内部エラーが発生しました", zap.Any("panic", r))
			part = g.fallbackPart(req.CameraID, fmt.Sprint(r))
			ok, failed = true, true
		}
	}()

	frame, err := g.source.GetCameraFrame(req.CameraID)
	switch {
	case err == nil && frame != nil && len(frame.Data) > 0:
		st.misses = 0
		st.fallbackSent = false
		return Part{
			CameraID:  req.CameraID,
			Data:      g.encoder.EncodeFrame(frame, req.Quality),
			Fallback:  frame.IsFallback,
			Timestamp: frame.Timestamp,
		}, true, false

	case errors.Is(err, camera.ErrUnknownDevice):
		// 登録されていないカメラには毎回フォールバック画像を送る
		return g.fallbackPart(req.CameraID, err.Error()), true, false
	}

	st.misses++
	if st.misses > g.cfg.MissThreshold {
		st.misses = 0
		if g.source.RequestRestart(req.CameraID) {
			logger.Warn("フレームが長時間届かないためカメラを再起動します",
				zap.Int("threshold", g.cfg.MissThreshold))
		}
		st.fallbackSent = true
		return g.fallbackPart(req.CameraID, "フレームが届きません"), true, false
	}
	if !st.fallbackSent {
		st.fallbackSent = true
		return g.fallbackPart(req.CameraID, "フレームが届きません"), true, false
	}
	return Part{}, false, false
}

func (g *Generator) fallbackPart(id int, reason string) Part {
	f := g.source.FallbackFrame(id, reason)
	return Part{
		CameraID:  id,
		Data:      f.Data,
		Fallback:  true,
		Timestamp: f.Timestamp,
	}
}
