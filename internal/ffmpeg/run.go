package ffmpeg

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/John-Robertt/compv/internal/domain"
)

// RunOptions 控制一次 ffmpeg 进程执行。
type RunOptions struct {
	// Timeout 是单任务硬超时；0 表示不限时。
	Timeout time.Duration

	// Nice 是降优先级档位（0..19，0 = 不降）。
	// unix 上用 nice 前缀实现；Windows 上进程启动后设置 BELOW_NORMAL。
	Nice int

	// DurationSec 用于计算进度百分比与 ETA；0 时只透传原始进度字段。
	DurationSec float64

	// OnProgress 非空时，每组进度输出回调一次（调用发生在读取 goroutine）。
	OnProgress func(domain.EncodeProgress)
}

// RunError 表示 ffmpeg 进程非零退出（含超时被杀）。
type RunError struct {
	ExitCode int
	TimedOut bool
	Stderr   string // 最后几行诊断输出
}

func (e *RunError) Error() string {
	if e.TimedOut {
		return fmt.Sprintf("ffmpeg 超时被终止（exit=%d）", e.ExitCode)
	}
	if e.Stderr != "" {
		return fmt.Sprintf("ffmpeg 退出码 %d：%s", e.ExitCode, e.Stderr)
	}
	return fmt.Sprintf("ffmpeg 退出码 %d", e.ExitCode)
}

// Run 执行一次 ffmpeg 进程并消费其 -progress 输出。
//
// 返回值约定：
// - 正常结束：err=nil
// - 非零退出/超时：err 为 *RunError（TimedOut 区分超时）
// - 进程无法启动（二进制缺失等）：err 为底层启动错误
// - 外部取消：err 包含 ctx.Err()，调用方据此区分“用户取消”与“任务失败”
func Run(ctx context.Context, ffmpegPath string, args []string, opt RunOptions) (domain.EncodeResult, error) {
	runCtx := ctx
	var cancel context.CancelFunc
	if opt.Timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, opt.Timeout)
		defer cancel()
	}

	name, argv := wrapNice(ffmpegPath, args, opt.Nice)
	cmd := exec.CommandContext(runCtx, name, argv...)

	tail := &tailBuffer{max: 4096}
	cmd.Stderr = tail

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return domain.EncodeResult{}, err
	}

	start := time.Now()
	if err := cmd.Start(); err != nil {
		return domain.EncodeResult{}, err
	}
	lowerPriority(cmd, opt.Nice)

	// 进度读取必须在 Wait 之前完成（os/exec 对 pipe 的要求）。
	parser := newProgressParser(opt.DurationSec, start)
	sc := bufio.NewScanner(stdout)
	var lastOut int64
	for sc.Scan() {
		snap, done := parser.feed(sc.Text(), time.Now())
		if !done {
			continue
		}
		lastOut = snap.OutBytes
		if opt.OnProgress != nil {
			opt.OnProgress(snap)
		}
	}

	waitErr := cmd.Wait()
	elapsed := time.Since(start)

	res := domain.EncodeResult{
		ExitCode: cmd.ProcessState.ExitCode(),
		OutBytes: lastOut,
		Elapsed:  elapsed,
	}

	if waitErr == nil {
		return res, nil
	}

	// 超时：run 级 ctx 到期而外层 ctx 仍然存活。
	if errors.Is(runCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		res.TimedOut = true
		return res, &RunError{ExitCode: res.ExitCode, TimedOut: true, Stderr: tail.lastLines(3)}
	}
	if ctx.Err() != nil {
		return res, fmt.Errorf("编码被中断：%w", ctx.Err())
	}

	var ee *exec.ExitError
	if errors.As(waitErr, &ee) {
		return res, &RunError{ExitCode: res.ExitCode, Stderr: tail.lastLines(3)}
	}
	return res, waitErr
}

// tailBuffer 只保留最近 max 字节的 stderr，避免长任务把诊断输出攒成内存炸弹。
type tailBuffer struct {
	mu  sync.Mutex
	max int
	buf []byte
}

func (b *tailBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.buf = append(b.buf, p...)
	if over := len(b.buf) - b.max; over > 0 {
		b.buf = b.buf[over:]
	}
	return len(p), nil
}

// lastLines 返回末尾 n 个非空行（单行拼接，供错误信息使用）。
func (b *tailBuffer) lastLines(n int) string {
	b.mu.Lock()
	s := string(b.buf)
	b.mu.Unlock()

	lines := strings.Split(strings.TrimSpace(s), "\n")
	keep := make([]string, 0, n)
	for i := len(lines) - 1; i >= 0 && len(keep) < n; i-- {
		if t := strings.TrimSpace(lines[i]); t != "" {
			keep = append([]string{t}, keep...)
		}
	}
	return strings.Join(keep, " | ")
}
