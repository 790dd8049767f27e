package stream

import (
	"bytes"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/disintegration/imaging"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"go.uber.org/zap"

	"robocam/internal/camera"
)

// EncoderConfig は再エンコードの設定
type EncoderConfig struct {
	SourceQuality int // キャプチャ時の品質。同じ品質の要求はそのまま返す
	EnhanceBelow  int // この品質未満で鮮明化する
	CacheSize     int // 0ならキャッシュしない
	CacheTTL      time.Duration
}

// DefaultEncoderConfig はデフォルト設定を返す
func DefaultEncoderConfig() EncoderConfig {
	return EncoderConfig{
		SourceQuality: 85,
		EnhanceBelow:  30,
		CacheSize:     64,
		CacheTTL:      2 * time.Second,
	}
}

// EncoderStats は再エンコードの統計
type EncoderStats struct {
	Reencoded uint64
	Enhanced  uint64
	Failures  uint64
	CacheHits uint64
}

type cacheKey struct {
	cameraID  int
	timestamp int64
	quality   int
	fallback  bool
}

// Encoder はフレームを要求された品質に再エンコードする
// 同じフレームを同じ品質で見ている接続は結果を共有する
type Encoder struct {
	cfg    EncoderConfig
	logger *zap.Logger
	cache  *expirable.LRU[cacheKey, []byte]

	reencoded atomic.Uint64
	enhanced  atomic.Uint64
	failures  atomic.Uint64
	hits      atomic.Uint64
}

// NewEncoder は新しいEncoderを作成する
func NewEncoder(cfg EncoderConfig, logger *zap.Logger) *Encoder {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.SourceQuality <= 0 {
		cfg.SourceQuality = 85
	}

	e := &Encoder{cfg: cfg, logger: logger}
	if cfg.CacheSize > 0 {
		e.cache = expirable.NewLRU[cacheKey, []byte](cfg.CacheSize, nil, cfg.CacheTTL)
	}
	return e
}

// Reencode はJPEGを指定品質で再エンコードする
// 失敗した場合は元のデータを返し、エラーは呼び出し元に伝えない
func (e *Encoder) Reencode(data []byte, quality int) []byte {
	quality = ClampQuality(quality)
	if len(data) == 0 || quality == e.cfg.SourceQuality {
		return data
	}

	out, err := e.reencode(data, quality)
	if err != nil {
		e.failures.Add(1)
		e.logger.Warn("フレームの再エンコードに失敗しました", zap.Int("quality", quality), zap.Error(err))
		return data
	}
	return out
}

// EncodeFrame はフレームを指定品質にする。結果は短い間キャッシュする
func (e *Encoder) EncodeFrame(frame *camera.Frame, quality int) []byte {
	if frame == nil {
		return nil
	}
	quality = ClampQuality(quality)
	if e.cache == nil || quality == e.cfg.SourceQuality {
		return e.Reencode(frame.Data, quality)
	}

	key := cacheKey{cameraID: frame.CameraID, quality: quality, fallback: frame.IsFallback}
	if !frame.IsFallback {
		key.timestamp = frame.Timestamp.UnixNano()
	}
	if data, ok := e.cache.Get(key); ok {
		e.hits.Add(1)
		return data
	}

	out := e.Reencode(frame.Data, quality)
	e.cache.Add(key, out)
	return out
}

// Purge はキャッシュを空にする
func (e *Encoder) Purge() {
	if e.cache != nil {
		e.cache.Purge()
	}
}

// Stats は統計を返す
func (e *Encoder) Stats() EncoderStats {
	return EncoderStats{
		Reencoded: e.reencoded.Load(),
		Enhanced:  e.enhanced.Load(),
		Failures:  e.failures.Load(),
		CacheHits: e.hits.Load(),
	}
}

func (e *Encoder) reencode(data []byte, quality int) ([]byte, error) {
	img, err := imaging.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("JPEGのデコードに失敗: %w", err)
	}

	if quality < e.cfg.EnhanceBelow {
		img = Enhance(img)
		e.enhanced.Add(1)
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(quality)); err != nil {
		return nil, fmt.Errorf("JPEGのエンコードに失敗: %w", err)
	}

	e.reencoded.Add(1)
	return buf.Bytes(), nil
}
