package stream

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	"math"
	"sort"

	"github.com/disintegration/imaging"
	"go.uber.org/zap"
	"golang.org/x/image/draw"

	"robocam/internal/camera"
)

// ErrNoFrames は結合するフレームが1枚もない
var ErrNoFrames = errors.New("結合するフレームがありません")

// MosaicComposer は複数カメラの最新フレームを格子状に並べて1枚にする
type MosaicComposer struct {
	width  int
	height int
	logger *zap.Logger
}

// NewMosaicComposer は新しいMosaicComposerを作成する
func NewMosaicComposer(width, height int, logger *zap.Logger) *MosaicComposer {
	if width <= 0 || height <= 0 {
		width, height = 1280, 720
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MosaicComposer{width: width, height: height, logger: logger}
}

// Layout は格子の配置
type Layout struct {
	Cols       int
	Rows       int
	CellWidth  int
	CellHeight int
}

// Compose はフレームをカメラID順に並べてJPEGにする
// デコードできないフレームは飛ばし、その位置は空けない
func (m *MosaicComposer) Compose(frames []*camera.Frame, quality int) ([]byte, error) {
	images := make([]image.Image, 0, len(frames))

	sorted := make([]*camera.Frame, 0, len(frames))
	for _, f := range frames {
		if f != nil && len(f.Data) > 0 {
			sorted = append(sorted, f)
		}
	}
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].CameraID < sorted[j].CameraID
	})

	for _, f := range sorted {
		img, err := imaging.Decode(bytes.NewReader(f.Data))
		if err != nil {
			m.logger.Warn("モザイク用フレームのデコードに失敗しました", zap.Int("camera_id", f.CameraID), zap.Error(err))
			continue
		}
		images = append(images, img)
	}
	if len(images) == 0 {
		return nil, ErrNoFrames
	}

	layout := m.CalculateLayout(len(images))
	canvas := imaging.New(m.width, m.height, color.Black)

	for i, img := range images {
		cell := m.cellRect(i, layout)
		// 縦横比を保って縮小し、セルの中央に置く
		fitted := imaging.Fit(img, cell.Dx(), cell.Dy(), imaging.Linear)
		fb := fitted.Bounds()
		x := cell.Min.X + (cell.Dx()-fb.Dx())/2
		y := cell.Min.Y + (cell.Dy()-fb.Dy())/2
		draw.Draw(canvas, image.Rect(x, y, x+fb.Dx(), y+fb.Dy()), fitted, fb.Min, draw.Src)
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, canvas, imaging.JPEG, imaging.JPEGQuality(ClampQuality(quality))); err != nil {
		return nil, fmt.Errorf("モザイク画像のエンコードに失敗: %w", err)
	}
	return buf.Bytes(), nil
}

// CalculateLayout はフレーム数から格子の大きさを決める
func (m *MosaicComposer) CalculateLayout(count int) Layout {
	var cols, rows int

	switch {
	case count <= 1:
		cols, rows = 1, 1
	case count == 2:
		cols, rows = 2, 1
	default:
		cols = int(math.Ceil(math.Sqrt(float64(count))))
		rows = (count + cols - 1) / cols
	}

	return Layout{
		Cols:       cols,
		Rows:       rows,
		CellWidth:  m.width / cols,
		CellHeight: m.height / rows,
	}
}

func (m *MosaicComposer) cellRect(index int, layout Layout) image.Rectangle {
	row := index / layout.Cols
	col := index % layout.Cols
	x, y := col*layout.CellWidth, row*layout.CellHeight
	return image.Rect(x, y, x+layout.CellWidth, y+layout.CellHeight)
}
