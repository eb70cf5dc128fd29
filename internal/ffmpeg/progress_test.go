package ffmpeg

import (
	"math"
	"testing"
	"time"
)

func TestProgressParser_Snapshot(t *testing.T) {
	now := time.Now()
	p := newProgressParser(100, now)

	snap, done := p.feed("frame=250", now)
	if done {
		t.Fatalf("组未结束不应产出快照：%+v", snap)
	}
	p.feed("fps=50.0", now)
	p.feed("total_size=1048576", now)
	p.feed("out_time_us=10000000", now)
	p.feed("speed=2.0x", now)
	snap, done = p.feed("progress=continue", now)
	if !done {
		t.Fatalf("progress= 行应产出快照")
	}

	if snap.Frame != 250 || snap.FPS != 50 || snap.OutBytes != 1048576 {
		t.Fatalf("快照字段不符：%+v", snap)
	}
	if snap.OutTimeSec != 10 {
		t.Fatalf("期望 out_time 10s，实际 %v", snap.OutTimeSec)
	}
	if snap.Speed != 2.0 {
		t.Fatalf("期望 speed 2.0，实际 %v", snap.Speed)
	}
	if snap.Percent != 10 {
		t.Fatalf("期望 10%%，实际 %v", snap.Percent)
	}
}

func TestProgressParser_OutTimeMSIsMicro(t *testing.T) {
	// out_time_ms 的单位历史上就是微秒。
	now := time.Now()
	p := newProgressParser(0, now)
	p.feed("out_time_ms=2500000", now)
	snap, _ := p.feed("progress=continue", now)
	if snap.OutTimeSec != 2.5 {
		t.Fatalf("期望 2.5s，实际 %v", snap.OutTimeSec)
	}
}

func TestProgressParser_OutTimeClockFallback(t *testing.T) {
	now := time.Now()
	p := newProgressParser(0, now)

	// 第一组：只有 out_time 字符串。
	p.feed("out_time=00:01:30.500000", now)
	snap, _ := p.feed("progress=continue", now)
	if snap.OutTimeSec != 90.5 {
		t.Fatalf("期望 90.5s，实际 %v", snap.OutTimeSec)
	}

	// 第二组同样只有 out_time：必须继续更新（而不是黏在旧值上）。
	p.feed("out_time=00:02:00.000000", now)
	snap, _ = p.feed("progress=end", now)
	if snap.OutTimeSec != 120 {
		t.Fatalf("期望 120s，实际 %v", snap.OutTimeSec)
	}
}

func TestProgressParser_PercentClamped(t *testing.T) {
	now := time.Now()
	p := newProgressParser(10, now)
	p.feed("out_time_us=15000000", now)
	snap, _ := p.feed("progress=end", now)
	if snap.Percent != 100 {
		t.Fatalf("超过时长应钳为 100%%，实际 %v", snap.Percent)
	}
}

func TestParseClock(t *testing.T) {
	cases := []struct {
		in   string
		want float64
	}{
		{"00:00:05.000000", 5},
		{"01:02:03.500000", 3723.5},
		{"bad", 0},
		{"1:2", 0},
	}
	for _, c := range cases {
		if got := parseClock(c.in); math.Abs(got-c.want) > 1e-9 {
			t.Fatalf("parseClock(%q)：期望 %v，实际 %v", c.in, c.want, got)
		}
	}
}

func TestETAEstimator_WarmupThenSteady(t *testing.T) {
	t0 := time.Unix(1700000000, 0)
	e := newETAEstimator(100, t0)

	// 首个样本只建立基线。
	if _, known := e.update(0, t0); known {
		t.Fatalf("首个样本不应产出 ETA")
	}
	// 预热期内（<5s）即使有速率也不报。
	if _, known := e.update(4, t0.Add(2*time.Second)); known {
		t.Fatalf("预热期不应产出 ETA")
	}

	// 稳定速率：每真实秒处理 2 媒体秒。
	eta, known := e.update(12, t0.Add(6*time.Second))
	if !known {
		t.Fatalf("预热结束后应产出 ETA")
	}
	// 剩余 88 媒体秒 / (约 2 媒体秒每秒) ≈ 44s；平滑后允许偏差。
	if eta < 40*time.Second || eta > 50*time.Second {
		t.Fatalf("期望约 44s，实际 %v", eta)
	}
}

func TestETAEstimator_JumpDampened(t *testing.T) {
	t0 := time.Unix(1700000000, 0)
	e := newETAEstimator(1000, t0)

	e.update(0, t0)
	e.update(10, t0.Add(10*time.Second)) // 速率 1
	before, known := e.update(20, t0.Add(20*time.Second))
	if !known {
		t.Fatalf("应已产出 ETA")
	}

	// 突然 10 倍速采样：平滑后的 ETA 不应立即照单全收。
	after, _ := e.update(120, t0.Add(30*time.Second))
	naive := time.Duration(float64(1000-120) / 10 * float64(time.Second))
	if after <= naive {
		t.Fatalf("跳变应被抑制：before=%v after=%v naive=%v", before, after, naive)
	}
	if after >= before {
		t.Fatalf("速率上升后 ETA 应缩短：before=%v after=%v", before, after)
	}
}

func TestETAEstimator_NeverNegative(t *testing.T) {
	t0 := time.Unix(1700000000, 0)
	e := newETAEstimator(10, t0)
	e.update(0, t0)
	e.update(8, t0.Add(4*time.Second))
	eta, known := e.update(12, t0.Add(6*time.Second)) // 已超过总时长
	if !known {
		t.Fatalf("应产出 ETA")
	}
	if eta < 0 {
		t.Fatalf("ETA 不应为负：%v", eta)
	}
}
