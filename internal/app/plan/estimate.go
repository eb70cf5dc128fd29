package plan

import (
	"math"

	"github.com/John-Robertt/compv/internal/domain"
)

// 体积预估：三个独立因子相乘，再按源体积的 5% 兜底。
//
// - 质量因子：CRF 每 +1 约缩 13%（1/1.15），以 23 为基准；钳在 [0.05, 1.3]
// - 分辨率因子：面积比（宽比的平方，降宽时高同比例降）
// - preset 因子：速度档越快压得越松
//
// 这只是对 H.264 典型内容的经验拟合，屏幕录制/动画会明显偏差；
// 预估仅用于 dry-run 展示与完成后的对账，不参与任何决策。

const estimateFloor = 0.05

var presetFactor = map[string]float64{
	"ultrafast": 1.40,
	"veryfast":  1.20,
	"fast":      1.10,
	"medium":    1.00,
	"slow":      0.95,
	"veryslow":  0.90,
}

// EstimateSize 预估单遍质量模式的产物体积（字节）。
func EstimateSize(info domain.MediaInfo, quality int, preset string, scaleWidth int) int64 {
	if info.SizeBytes <= 0 {
		return 0
	}

	crfFactor := 1 / math.Pow(1.15, float64(quality-23))
	if crfFactor < estimateFloor {
		crfFactor = estimateFloor
	}
	if crfFactor > 1.3 {
		crfFactor = 1.3
	}

	widthFactor := 1.0
	if scaleWidth > 0 && info.Width > 0 {
		r := float64(scaleWidth) / float64(info.Width)
		widthFactor = r * r
	}

	pf, ok := presetFactor[preset]
	if !ok {
		pf = 1.0
	}

	est := float64(info.SizeBytes) * crfFactor * widthFactor * pf
	if min := float64(info.SizeBytes) * estimateFloor; est < min {
		est = min
	}
	return int64(est)
}
