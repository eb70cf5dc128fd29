package run

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/John-Robertt/compv/internal/domain"
	"github.com/John-Robertt/compv/internal/encoder"
	"github.com/John-Robertt/compv/internal/ffmpeg"
)

// Tool 抽象对外部 FFmpeg/FFprobe 的全部调用，测试用桩替换。
type Tool interface {
	// Probe 读取媒体属性（宽高/时长/帧率/码率）。
	Probe(ctx context.Context, path string) (domain.MediaInfo, error)
	// Encode 执行一次编码，把产物写入 tmpOut（调用方负责 rename 与清理）。
	// onProgress 可为 nil。
	Encode(ctx context.Context, p domain.JobPlan, enc encoder.Encoder, tmpOut string, onProgress func(domain.EncodeProgress)) (domain.EncodeResult, error)
}

// FFmpegTool 是 Tool 的生产实现：调用已定位的外部二进制。
type FFmpegTool struct {
	Bins    ffmpeg.Tools
	Nice    int
	Timeout time.Duration // 单次 ffmpeg 调用的硬超时；两遍模式下每遍各计一次
}

func (t *FFmpegTool) Probe(ctx context.Context, path string) (domain.MediaInfo, error) {
	return ffmpeg.Probe(ctx, t.Bins.FFprobe, path)
}

func (t *FFmpegTool) Encode(ctx context.Context, p domain.JobPlan, enc encoder.Encoder, tmpOut string, onProgress func(domain.EncodeProgress)) (domain.EncodeResult, error) {
	opt := ffmpeg.RunOptions{
		Timeout:     t.Timeout,
		Nice:        t.Nice,
		DurationSec: p.Info.DurationSec,
		OnProgress:  onProgress,
	}

	if p.TargetMB > 0 && !enc.Hardware() {
		return t.encodeTwoPass(ctx, p, enc, tmpOut, opt)
	}

	return ffmpeg.Run(ctx, t.Bins.FFmpeg, ffmpeg.BuildArgs(p, enc, tmpOut), opt)
}

func (t *FFmpegTool) encodeTwoPass(ctx context.Context, p domain.JobPlan, enc encoder.Encoder, tmpOut string, opt ffmpeg.RunOptions) (domain.EncodeResult, error) {
	passlog := filepath.Join(os.TempDir(), fmt.Sprintf("compv-pass-%d-%d", os.Getpid(), time.Now().UnixNano()))
	defer removePasslog(passlog)

	args1, args2 := ffmpeg.BuildTwoPassArgs(p, enc, tmpOut, passlog)

	// 两遍在进度上各占一半，UI 看到的是连续的 0..100。
	opt1 := opt
	opt1.OnProgress = scaleProgress(opt.OnProgress, 0)
	res1, err := ffmpeg.Run(ctx, t.Bins.FFmpeg, args1, opt1)
	if err != nil {
		return res1, err
	}

	opt2 := opt
	opt2.OnProgress = scaleProgress(opt.OnProgress, 50)
	res2, err := ffmpeg.Run(ctx, t.Bins.FFmpeg, args2, opt2)
	res2.Elapsed += res1.Elapsed
	return res2, err
}

func scaleProgress(f func(domain.EncodeProgress), base float64) func(domain.EncodeProgress) {
	if f == nil {
		return nil
	}
	return func(pr domain.EncodeProgress) {
		pr.Percent = base + pr.Percent/2
		f(pr)
	}
}

func removePasslog(prefix string) {
	// x264 固定写出这两个统计文件。
	_ = os.Remove(prefix + "-0.log")
	_ = os.Remove(prefix + "-0.log.mbtree")
}
