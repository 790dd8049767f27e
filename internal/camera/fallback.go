package camera

import (
	"bytes"
	"image"
	"image/color"
	"sync"
	"time"

	"github.com/disintegration/imaging"
	"go.uber.org/zap"
	"golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

// FallbackGenerator はカメラが使えない時に返す画像を作る
// 一度作った画像は Invalidate が呼ばれるまで使い回す
type FallbackGenerator struct {
	width   int
	height  int
	quality int
	label   string
	logger  *zap.Logger

	mu     sync.Mutex
	cached []byte
}

// NewFallbackGenerator は新しいFallbackGeneratorを作成する
func NewFallbackGenerator(width, height, quality int, label string, logger *zap.Logger) *FallbackGenerator {
	if width <= 0 || height <= 0 {
		width, height = 640, 480
	}
	if quality <= 0 || quality > 100 {
		quality = 80
	}
	if label == "" {
		label = "CAMERA UNAVAILABLE"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FallbackGenerator{
		width:   width,
		height:  height,
		quality: quality,
		label:   label,
		logger:  logger,
	}
}

// Bytes はフォールバック画像のJPEGを返す。空のデータは返さない
func (g *FallbackGenerator) Bytes() []byte {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.cached == nil {
		g.cached = g.render()
	}
	return g.cached
}

// Invalidate はキャッシュした画像を破棄する
func (g *FallbackGenerator) Invalidate() {
	g.mu.Lock()
	g.cached = nil
	g.mu.Unlock()
}

// Frame はフォールバック画像のフレームを現在時刻で作成する
func (g *FallbackGenerator) Frame(cameraID int, reason string) *Frame {
	return &Frame{
		CameraID:   cameraID,
		Data:       g.Bytes(),
		Timestamp:  time.Now(),
		Width:      g.width,
		Height:     g.height,
		IsFallback: true,
		Error:      reason,
	}
}

// render は白地の中央に文字を描いた画像をエンコードする
func (g *FallbackGenerator) render() []byte {
	canvas := image.NewRGBA(image.Rect(0, 0, g.width, g.height))
	draw.Draw(canvas, canvas.Bounds(), image.White, image.Point{}, draw.Src)

	// ビットマップフォントで小さく描いてから拡大する
	face := basicfont.Face7x13
	drawer := &font.Drawer{Face: face}
	textWidth := drawer.MeasureString(g.label).Ceil()
	textHeight := face.Metrics().Height.Ceil()

	label := image.NewRGBA(image.Rect(0, 0, textWidth+4, textHeight+4))
	draw.Draw(label, label.Bounds(), image.White, image.Point{}, draw.Src)
	drawer.Dst = label
	drawer.Src = image.NewUniform(color.Black)
	drawer.Dot = fixed.P(2, 2+face.Metrics().Ascent.Ceil())
	drawer.DrawString(g.label)

	scale := min(g.width*3/4/label.Bounds().Dx(), g.height/4/label.Bounds().Dy())
	if scale < 1 {
		scale = 1
	}
	w, h := label.Bounds().Dx()*scale, label.Bounds().Dy()*scale
	x, y := (g.width-w)/2, (g.height-h)/2
	draw.NearestNeighbor.Scale(canvas, image.Rect(x, y, x+w, y+h), label, label.Bounds(), draw.Over, nil)

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, canvas, imaging.JPEG, imaging.JPEGQuality(g.quality)); err != nil {
		// RGBA画像のエンコードは通常失敗しない
		g.logger.Error("フォールバック画像のエンコードに失敗しました", zap.Error(err))
		_ = imaging.Encode(&buf, image.NewGray(image.Rect(0, 0, 8, 8)), imaging.JPEG)
	}
	return buf.Bytes()
}
