package ffmpeg

import (
	"strconv"
	"strings"
	"time"

	"github.com/John-Robertt/compv/internal/domain"
)

// -progress 协议的解析与 ETA 平滑。
//
// ffmpeg 以 key=value 行输出进度，一组以 progress=continue/end 结尾：
//
//	frame=123
//	fps=45.6
//	total_size=1234567
//	out_time_us=5000000
//	speed=1.23x
//	progress=continue
//
// 历史包袱：out_time_ms 的单位实际是微秒（与 out_time_us 相同），按微秒解析。

type progressParser struct {
	durationSec float64
	eta         *etaEstimator

	cur      domain.EncodeProgress
	sawMicro bool // 本组内已见 out_time_us/out_time_ms（比 out_time 精度高，优先）
}

func newProgressParser(durationSec float64, now time.Time) *progressParser {
	return &progressParser{
		durationSec: durationSec,
		eta:         newETAEstimator(durationSec, now),
	}
}

// feed 解析一行；当一组进度结束（progress= 行）时返回快照与 true。
func (p *progressParser) feed(line string, now time.Time) (domain.EncodeProgress, bool) {
	key, val, ok := strings.Cut(strings.TrimSpace(line), "=")
	if !ok {
		return domain.EncodeProgress{}, false
	}
	val = strings.TrimSpace(val)

	switch key {
	case "frame":
		p.cur.Frame, _ = strconv.ParseInt(val, 10, 64)
	case "fps":
		p.cur.FPS = parseFloat(val)
	case "total_size":
		p.cur.OutBytes, _ = strconv.ParseInt(val, 10, 64)
	case "out_time_us", "out_time_ms":
		if us, err := strconv.ParseInt(val, 10, 64); err == nil && us >= 0 {
			p.cur.OutTimeSec = float64(us) / 1e6
			p.sawMicro = true
		}
	case "out_time":
		if !p.sawMicro {
			p.cur.OutTimeSec = parseClock(val)
		}
	case "speed":
		p.cur.Speed = parseFloat(strings.TrimSuffix(val, "x"))
	case "progress":
		snap := p.cur
		if p.durationSec > 0 {
			pct := snap.OutTimeSec / p.durationSec * 100
			if pct < 0 {
				pct = 0
			}
			if pct > 100 {
				pct = 100
			}
			snap.Percent = pct
			snap.ETA, snap.ETAKnown = p.eta.update(snap.OutTimeSec, now)
		}
		// 字段每组整体重发，无需清空累计值。
		p.sawMicro = false
		return snap, true
	}
	return domain.EncodeProgress{}, false
}

// parseClock 解析 "HH:MM:SS.micro" 为秒。
func parseClock(s string) float64 {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) != 3 {
		return 0
	}
	h := parseFloat(parts[0])
	m := parseFloat(parts[1])
	sec := parseFloat(parts[2])
	if h < 0 || m < 0 || sec < 0 {
		return 0
	}
	return h*3600 + m*60 + sec
}

// etaEstimator 对“每真实秒处理的媒体秒数”做指数平滑，由此推算剩余时间。
//
// - 预热期（前 5 秒）不报 ETA：硬件初始化阶段速率毫无参考价值
// - 速率大幅跳变时降低新样本权重，避免 ETA 上下乱跳
type etaEstimator struct {
	durationSec float64
	start       time.Time

	lastT   time.Time
	lastOut float64
	rate    float64
}

const etaWarmup = 5 * time.Second

func newETAEstimator(durationSec float64, now time.Time) *etaEstimator {
	return &etaEstimator{durationSec: durationSec, start: now}
}

func (e *etaEstimator) update(outSec float64, now time.Time) (time.Duration, bool) {
	if e.lastT.IsZero() {
		e.lastT = now
		e.lastOut = outSec
		return 0, false
	}

	dt := now.Sub(e.lastT).Seconds()
	if dt > 0 {
		inst := (outSec - e.lastOut) / dt
		if inst < 0 {
			inst = 0
		}
		switch {
		case e.rate == 0:
			e.rate = inst
		case inst > e.rate*1.5 || inst < e.rate*0.5:
			e.rate = 0.2*inst + 0.8*e.rate
		default:
			e.rate = 0.3*inst + 0.7*e.rate
		}
		e.lastT = now
		e.lastOut = outSec
	}

	if now.Sub(e.start) < etaWarmup || e.rate <= 0 {
		return 0, false
	}
	remaining := (e.durationSec - outSec) / e.rate
	if remaining < 0 {
		remaining = 0
	}
	return time.Duration(remaining * float64(time.Second)), true
}
