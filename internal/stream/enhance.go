package stream

import (
	"image"
	"image/color"

	"github.com/disintegration/imaging"
)

// sharpenKernel は中心を強めた3x3の鮮鋭化フィルタ
var sharpenKernel = [9]float64{
	-1, -1, -1,
	-1, 9, -1,
	-1, -1, -1,
}

const (
	contrastGain   = 1.5
	contrastOffset = 10
	unsharpSigma   = 2.0
	unsharpAmount  = 1.5 // 元画像の重み。ぼかし画像は 1-unsharpAmount
)

// Enhance は強い圧縮でぼやける前に画像を鮮明にする
// コントラスト強調、鮮鋭化フィルタ、アンシャープマスクの順に適用する
func Enhance(img image.Image) *image.NRGBA {
	out := imaging.AdjustFunc(img, func(c color.NRGBA) color.NRGBA {
		return color.NRGBA{
			R: scaleChannel(c.R),
			G: scaleChannel(c.G),
			B: scaleChannel(c.B),
			A: c.A,
		}
	})

	out = imaging.Convolve3x3(out, sharpenKernel, nil)

	blurred := imaging.Blur(out, unsharpSigma)
	blend(out, blurred, unsharpAmount)
	return out
}

func scaleChannel(v uint8) uint8 {
	return clamp8(float64(v)*contrastGain + contrastOffset)
}

// blend は dst = dst*amount + src*(1-amount) を画素ごとに計算する
// 2つの画像は同じサイズであること
func blend(dst, src *image.NRGBA, amount float64) {
	w, h := dst.Bounds().Dx(), dst.Bounds().Dy()
	for y := 0; y < h; y++ {
		di := y * dst.Stride
		si := y * src.Stride
		for x := 0; x < w; x++ {
			for c := 0; c < 3; c++ {
				d := float64(dst.Pix[di+c])
				s := float64(src.Pix[si+c])
				dst.Pix[di+c] = clamp8(d*amount + s*(1-amount))
			}
			di += 4
			si += 4
		}
	}
}

func clamp8(v float64) uint8 {
	switch {
	case v <= 0:
		return 0
	case v >= 255:
		return 255
	default:
		return uint8(v + 0.5)
	}
}
