package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/John-Robertt/compv/internal/app/run"
	"github.com/John-Robertt/compv/internal/config"
	"github.com/John-Robertt/compv/internal/domain"
	"github.com/John-Robertt/compv/internal/notify"
)

var _ run.Observer = (*progressUI)(nil)

// progressUI 是交互终端的进度输出。
//
// 设计目标：
// - 所有过程信息写到 stderr（或 fallback 到 stdout），不污染 stdout 的 JSON 输出契约
// - 事件驱动：run 层只发事件，CLI 决定如何展示
// - 编码进度用 \r 原位刷新；keepalive 保证长时间无事件时也有输出
// - 系统通知（Termux/终端标题）挂在进度事件上，节流到 2 秒一次
type progressUI struct {
	w io.Writer
	n notify.Notifier

	mu          sync.Mutex
	startedAt   time.Time
	lastPrinted time.Time
	lastNotify  time.Time

	workers int
	total   int
	done    int
	ok      int
	fail    int
	skip    int

	lineDirty bool // 当前行被 \r 进度占用，写整行前必须先清掉

	keepaliveThreshold time.Duration
	tickerInterval     time.Duration

	stopCh        chan struct{}
	tickerStarted bool
}

func newProgressUI(w io.Writer, n notify.Notifier) *progressUI {
	if n == nil {
		n = notify.Nop{}
	}
	return &progressUI{
		w:                  w,
		n:                  n,
		keepaliveThreshold: 6 * time.Second,
		tickerInterval:     2 * time.Second,
	}
}

func (p *progressUI) OnStart(eff config.EffectiveConfig) {
	now := time.Now()

	p.mu.Lock()
	if p.startedAt.IsZero() {
		p.startedAt = now
	}

	mode := "dry-run"
	modeHint := " (只出计划与预估，不写盘)"
	if eff.Apply {
		mode = "apply"
		modeHint = ""
	}

	fmt.Fprintf(p.w, "[%s] compv run (%s)\n", now.Format("15:04:05"), mode)
	fmt.Fprintln(p.w, "配置（生效）:")
	fmt.Fprintf(p.w, "  path: %s\n", eff.Path)
	fmt.Fprintf(p.w, "  mode: %s%s\n", mode, modeHint)
	fmt.Fprintf(p.w, "  encoder: %s\n", encoderChain(eff.Encoder))
	fmt.Fprintf(p.w, "  quality: %d (CRF/CQ)  preset: %s\n", eff.Quality, eff.Preset)
	fmt.Fprintf(p.w, "  scale: %s  fps: %s\n", formatScale(eff.ScaleWidth), formatFPS(eff.FPS))
	fmt.Fprintf(p.w, "  audio: %d kbps aac\n", eff.AudioKbps)
	if eff.TargetMB > 0 {
		fmt.Fprintf(p.w, "  target: %d MB（两遍编码）\n", eff.TargetMB)
	}
	fmt.Fprintf(p.w, "  concurrency: %d  keep_source: %s  timeout: %s\n",
		eff.Concurrency, onOff(eff.KeepSource), formatTimeout(eff.TimeoutMinutes),
	)
	if len(eff.ExcludeDirs) > 0 {
		fmt.Fprintf(p.w, "  exclude_dirs: %s\n", formatStringListJSON(eff.ExcludeDirs))
	}
	fmt.Fprintln(p.w)

	p.lastPrinted = time.Now()
	p.mu.Unlock()
}

func (p *progressUI) OnPhaseDone(name string, fields map[string]any, dur time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.clearLineLocked()

	switch name {
	case "scan":
		fmt.Fprintf(p.w, "扫描: files=%d (%s)\n", intField(fields, "files"), formatShortDuration(dur))
	case "probe":
		fmt.Fprintf(p.w, "探测: probed=%d cache_hits=%d failed=%d (%s)\n",
			intField(fields, "probed"), intField(fields, "cache_hits"), intField(fields, "failed"), formatShortDuration(dur),
		)
	case "plan":
		fmt.Fprintf(p.w, "规划: jobs=%d skipped=%d 预估 %s → %s (%s)\n",
			intField(fields, "jobs"), intField(fields, "skipped"),
			strField(fields, "size_in"), strField(fields, "size_est"),
			formatShortDuration(dur),
		)
	case "encode":
		p.workers = intField(fields, "workers")
		p.total = intField(fields, "jobs")
		fmt.Fprintf(p.w, "编码: workers=%d jobs=%d\n\n", p.workers, p.total)
		if p.total > 0 && !p.tickerStarted {
			p.startTickerLocked()
		}
	default:
		// 兜底：未知阶段也不要静默（便于调试/演进）。
		fmt.Fprintf(p.w, "%s (%s)\n", name, formatShortDuration(dur))
	}

	p.lastPrinted = time.Now()
}

func (p *progressUI) OnItemStart(idx, total int, jp domain.JobPlan) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.clearLineLocked()

	est := ""
	if jp.EstimatedBytes > 0 {
		est = " 预计 " + domain.HumanBytes(jp.EstimatedBytes)
	}
	fmt.Fprintf(p.w, "[%d/%d] 开始 %s → %s (%s%s)\n",
		idx, total, truncate(jp.SrcRel, 60), truncate(jp.DstRel, 60), jp.Encoder, est,
	)
	p.lastPrinted = time.Now()
}

func (p *progressUI) OnEncodeProgress(src string, pr domain.EncodeProgress) {
	p.mu.Lock()
	defer p.mu.Unlock()

	line := fmt.Sprintf("  %s %5.1f%%%s%s", truncate(src, 48), pr.Percent, formatSpeed(pr.Speed), formatETA(pr))
	// 行尾补空格盖掉上一帧更长的内容。
	if pad := 78 - len(line); pad > 0 {
		line += strings.Repeat(" ", pad)
	}
	fmt.Fprint(p.w, "\r"+line)
	p.lineDirty = true
	p.lastPrinted = time.Now()

	if time.Since(p.lastNotify) >= 2*time.Second {
		p.lastNotify = time.Now()
		p.n.Update(
			fmt.Sprintf("compv %.0f%%", pr.Percent),
			strings.TrimSpace(fmt.Sprintf("%s %.1f%%%s%s", src, pr.Percent, formatSpeed(pr.Speed), formatETA(pr))),
		)
	}
}

func (p *progressUI) OnItemDone(idx, total int, src string, res domain.ItemResult, dur time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.clearLineLocked()

	// idx/total 由 run 层给出；这里同时维护自己的计数，供 keepalive 使用。
	p.done = idx
	p.total = total

	switch res.Status {
	case domain.StatusEncoded, domain.StatusPlanned:
		p.ok++
	case domain.StatusFailed, domain.StatusUnsupported:
		p.fail++
	case domain.StatusSkipped:
		p.skip++
	}

	switch res.Status {
	case domain.StatusEncoded:
		note := formatFallbackNote(res)
		fmt.Fprintf(p.w, "[%d/%d] %s OK %s → %s (省 %.1f%%)%s (%s)\n",
			idx, total, truncate(src, 60),
			domain.HumanBytes(res.SizeIn), domain.HumanBytes(res.SizeOut), res.SavedPct,
			note, formatShortDuration(dur),
		)
		if strings.TrimSpace(res.ErrorMsg) != "" {
			// 成功但带说明（例如“产物未小于源文件，已保留源文件”）。
			fmt.Fprintf(p.w, "      %s\n", res.ErrorMsg)
		}
	case domain.StatusPlanned:
		fmt.Fprintf(p.w, "[%d/%d] %s PLAN → %s 预计 %s\n",
			idx, total, truncate(src, 60), truncate(res.Dst, 60), domain.HumanBytes(res.SizeEstimated),
		)
	case domain.StatusSkipped:
		fmt.Fprintf(p.w, "[%d/%d] %s SKIP (产物已存在；--force 可重压) (%s)\n",
			idx, total, truncate(src, 60), formatShortDuration(dur),
		)
	default:
		chain := formatAttemptChain(res.Attempts, 2)
		if chain != "" {
			chain = " attempts=" + chain
		}
		fmt.Fprintf(p.w, "[%d/%d] %s FAIL %s: %s%s (%s)\n",
			idx, total, truncate(src, 60), res.ErrorCode, truncate(res.ErrorMsg, 160), chain, formatShortDuration(dur),
		)
	}

	p.lastPrinted = time.Now()

	// 最后一条完成：停止 ticker，避免在结束打印后又冒出 keepalive。
	if p.tickerStarted && p.done >= p.total {
		close(p.stopCh)
		p.tickerStarted = false
	}
}

func (p *progressUI) OnProgress(done, total, ok, fail, skip, active int, elapsed time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.clearLineLocked()

	fmt.Fprintf(p.w, "进度: done=%d/%d ok=%d fail=%d skip=%d active=%d elapsed=%s\n",
		done, total, ok, fail, skip, active, formatElapsed(elapsed),
	)
	p.lastPrinted = time.Now()
}

// Finish 在整轮运行结束后调用：收尾系统通知并确保 ticker 停止。
// interrupted=true 表示用户取消（通知直接移除，不留“完成”残影）。
func (p *progressUI) Finish(rr domain.RunReport, interrupted bool) {
	p.mu.Lock()
	p.clearLineLocked()
	if p.tickerStarted {
		close(p.stopCh)
		p.tickerStarted = false
	}
	p.mu.Unlock()

	if interrupted {
		p.n.Remove()
		return
	}
	if rr.DryRun {
		// dry-run 不值得一条常驻通知。
		return
	}
	body := fmt.Sprintf("encoded=%d failed=%d", rr.Summary.Encoded, rr.Summary.Failed)
	if in, out := totalSizes(rr); out > 0 && out < in {
		body += " 节省 " + domain.HumanBytes(in-out)
	}
	p.n.Finish("compv 完成", body)
}

func (p *progressUI) startTickerLocked() {
	p.stopCh = make(chan struct{})
	p.tickerStarted = true

	interval := p.tickerInterval
	if interval <= 0 {
		interval = 2 * time.Second
	}
	threshold := p.keepaliveThreshold
	if threshold <= 0 {
		threshold = 6 * time.Second
	}

	go func() {
		t := time.NewTicker(interval)
		defer t.Stop()

		for {
			select {
			case <-t.C:
				p.mu.Lock()
				// 已完成：安全退出（OnItemDone 会 close stopCh，但这里也做兜底）。
				if p.total > 0 && p.done >= p.total {
					p.mu.Unlock()
					return
				}

				if p.total > 0 && time.Since(p.lastPrinted) > threshold {
					active := p.workers
					remain := p.total - p.done
					if remain < active {
						active = remain
					}
					elapsed := time.Since(p.startedAt)
					p.clearLineLocked()
					fmt.Fprintf(p.w, "进度: done=%d/%d ok=%d fail=%d skip=%d active=%d elapsed=%s\n",
						p.done, p.total, p.ok, p.fail, p.skip, active, formatElapsed(elapsed),
					)
					p.lastPrinted = time.Now()
				}
				p.mu.Unlock()
			case <-p.stopCh:
				return
			}
		}
	}()
}

// clearLineLocked 把 \r 进度行擦干净，让接下来的整行输出从行首开始。
func (p *progressUI) clearLineLocked() {
	if !p.lineDirty {
		return
	}
	fmt.Fprint(p.w, "\r"+strings.Repeat(" ", 78)+"\r")
	p.lineDirty = false
}

func onOff(v bool) string {
	if v {
		return "on"
	}
	return "off"
}

func encoderChain(requested string) string {
	if requested == "libx264" {
		return "libx264"
	}
	return requested + " -> libx264（硬件失败自动回退）"
}

func formatScale(w int) string {
	if w <= 0 {
		return "original"
	}
	return fmt.Sprintf("%dw（只降不升）", w)
}

func formatFPS(fps int) string {
	if fps <= 0 {
		return "original"
	}
	return fmt.Sprintf("%d（只降不升）", fps)
}

func formatTimeout(minutes int) string {
	if minutes <= 0 {
		return "off"
	}
	return fmt.Sprintf("%dm", minutes)
}

func formatSpeed(speed float64) string {
	if speed <= 0 {
		return ""
	}
	return fmt.Sprintf(" x%.2f", speed)
}

func formatETA(pr domain.EncodeProgress) string {
	if !pr.ETAKnown {
		return " ETA --:--"
	}
	sec := int(pr.ETA.Seconds())
	if sec < 0 {
		sec = 0
	}
	if sec >= 3600 {
		return fmt.Sprintf(" ETA %d:%02d:%02d", sec/3600, (sec%3600)/60, sec%60)
	}
	return fmt.Sprintf(" ETA %02d:%02d", sec/60, sec%60)
}

func formatStringListJSON(xs []string) string {
	// json.Marshal(nil slice) => "null"；对用户更友好的是 "[]"
	if xs == nil {
		xs = []string{}
	}
	b, err := json.Marshal(xs)
	if err != nil {
		return "[]"
	}
	return string(b)
}

func truncate(s string, max int) string {
	s = strings.TrimSpace(s)
	if max <= 0 || len(s) <= max {
		return s
	}
	if max <= 3 {
		return s[:max]
	}
	return s[:max-3] + "..."
}

// formatFallbackNote 在最终编码器与请求不一致时解释原因（只报第一跳失败，避免噪音）。
func formatFallbackNote(res domain.ItemResult) string {
	req := strings.TrimSpace(res.EncoderRequested)
	used := strings.TrimSpace(res.EncoderUsed)
	if req == "" || used == "" || req == used {
		return ""
	}
	for _, a := range res.Attempts {
		if a.Encoder != req {
			continue
		}
		if strings.TrimSpace(a.ErrorCode) == "" {
			continue
		}
		msg := strings.TrimSpace(a.ErrorMsg)
		if msg == "" {
			msg = a.ErrorCode
		} else {
			msg = a.ErrorCode + ": " + msg
		}
		return " fallback(" + req + " " + truncate(msg, 90) + ")"
	}
	return " fallback(" + req + ")"
}

func formatAttemptChain(attempts []domain.EncodeAttempt, max int) string {
	if len(attempts) == 0 || max == 0 {
		return ""
	}
	if max < 0 {
		max = len(attempts)
	}
	parts := make([]string, 0, len(attempts))
	for _, a := range attempts {
		s := a.Encoder + ":" + a.Stage
		if ec := strings.TrimSpace(a.ErrorCode); ec != "" {
			s += ":" + ec
		}
		if em := strings.TrimSpace(a.ErrorMsg); em != "" {
			s += ":" + truncate(em, 80)
		}
		parts = append(parts, s)
		if len(parts) >= max {
			break
		}
	}
	return strings.Join(parts, ";")
}

func formatShortDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	return fmt.Sprintf("%.1fs", d.Seconds())
}

func formatElapsed(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	sec := int(d.Seconds())
	h := sec / 3600
	m := (sec % 3600) / 60
	s := sec % 60
	return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
}

func intField(fields map[string]any, key string) int {
	if fields == nil {
		return 0
	}
	v, ok := fields[key]
	if !ok {
		return 0
	}
	switch x := v.(type) {
	case int:
		return x
	case int32:
		return int(x)
	case int64:
		return int(x)
	case uint:
		return int(x)
	case uint32:
		return int(x)
	case uint64:
		return int(x)
	default:
		return 0
	}
}

func strField(fields map[string]any, key string) string {
	if fields == nil {
		return ""
	}
	if s, ok := fields[key].(string); ok {
		return s
	}
	return ""
}
