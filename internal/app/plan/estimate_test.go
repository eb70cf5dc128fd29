package plan

import (
	"testing"

	"github.com/John-Robertt/compv/internal/domain"
)

func near(t *testing.T, label string, got, want, tol int64) {
	t.Helper()
	d := got - want
	if d < 0 {
		d = -d
	}
	if d > tol {
		t.Fatalf("%s：期望约 %d（±%d），实际 %d", label, want, tol, got)
	}
}

func TestEstimateSize_QualityFactor(t *testing.T) {
	info := domain.MediaInfo{Width: 1920, SizeBytes: 1_000_000_000}

	// 基准 CRF 23：因子 1。
	near(t, "q23", EstimateSize(info, 23, "medium", 0), 1_000_000_000, 1)
	// CRF 28：1/1.15^5 ≈ 0.4972。
	near(t, "q28", EstimateSize(info, 28, "medium", 0), 497_176_968, 2_000)
	// CRF 33：1/1.15^10 ≈ 0.2472。
	near(t, "q33", EstimateSize(info, 33, "medium", 0), 247_184_478, 2_000)
}

func TestEstimateSize_QualityClamped(t *testing.T) {
	info := domain.MediaInfo{Width: 1920, SizeBytes: 1_000_000_000}

	// CRF 低于基准：因子钳在 1.3。
	near(t, "q18", EstimateSize(info, 18, "medium", 0), 1_300_000_000, 1)
	// CRF 51：因子早已低于 0.05，落在 5% 地板上。
	near(t, "q51", EstimateSize(info, 51, "medium", 0), 50_000_000, 1)
}

func TestEstimateSize_WidthFactor(t *testing.T) {
	info := domain.MediaInfo{Width: 1920, SizeBytes: 1_000_000_000}

	// (1280/1920)^2 = 4/9。
	near(t, "1280", EstimateSize(info, 23, "medium", 1280), 444_444_444, 1_000)
	// (854/1920)^2 ≈ 0.1978。
	near(t, "854", EstimateSize(info, 23, "medium", 854), 197_839_627, 1_000)
}

func TestEstimateSize_PresetFactor(t *testing.T) {
	info := domain.MediaInfo{Width: 1920, SizeBytes: 1_000_000_000}

	near(t, "ultrafast", EstimateSize(info, 23, "ultrafast", 0), 1_400_000_000, 1)
	near(t, "veryslow", EstimateSize(info, 23, "veryslow", 0), 900_000_000, 1)
	// 未收录的档位按 1.0 处理。
	near(t, "faster", EstimateSize(info, 23, "faster", 0), 1_000_000_000, 1)
}

func TestEstimateSize_FloorAndZero(t *testing.T) {
	info := domain.MediaInfo{Width: 1920, SizeBytes: 1_000_000_000}

	// 多因子叠加也不会低于源体积的 5%。
	near(t, "floor", EstimateSize(info, 51, "veryslow", 854), 50_000_000, 1)

	if got := EstimateSize(domain.MediaInfo{}, 23, "medium", 0); got != 0 {
		t.Fatalf("无源体积时应返回 0，实际 %d", got)
	}
}
