package ffmpeg

import (
	"fmt"
	"os"
	"strings"

	"github.com/John-Robertt/compv/internal/domain"
	"github.com/John-Robertt/compv/internal/encoder"
)

// MinVideoKbps 是两遍模式下视频码率的下限。
// 目标体积小到荒谬时（短片给 1MB），宁可超出目标也不产出马赛克。
const MinVideoKbps = 100

// BuildArgs 组装单遍编码的完整 ffmpeg 参数（CRF/CQ/QP 质量模式）。
//
// 说明：
// - `-progress pipe:1 -nostats`：进度走 stdout 的 key=value 协议，stderr 只留诊断
// - 临时输出名不带 .mp4 后缀，ffmpeg 无法按扩展名推断，必须显式 `-f mp4`
// - 滤镜与帧率只在计划里有值时出现（不降级时不加参数，保持 ffmpeg 默认行为）
func BuildArgs(p domain.JobPlan, enc encoder.Encoder, tmpOut string) []string {
	args := []string{
		"-hide_banner",
		"-nostdin",
		"-y",
		"-progress", "pipe:1",
		"-nostats",
		"-i", p.SrcAbs,
	}
	args = appendFilterArgs(args, p)
	args = append(args, enc.VideoArgs(p.Quality, p.Preset)...)
	args = appendAudioArgs(args, p)
	args = append(args, "-f", "mp4", tmpOut)
	return args
}

// BuildTwoPassArgs 组装两遍目标体积编码（仅 libx264）。
//
// 第一遍只做统计（-an，丢弃输出），第二遍按统计分配码率写出成品。
// passlog 是两遍共享的统计文件前缀，调用方负责事后清理。
func BuildTwoPassArgs(p domain.JobPlan, enc encoder.Encoder, tmpOut, passlog string) (pass1, pass2 []string) {
	videoKbps := TargetVideoKbps(p.TargetMB, p.Info.DurationSec, p.AudioKbps)

	common := []string{
		"-hide_banner",
		"-nostdin",
		"-y",
		"-progress", "pipe:1",
		"-nostats",
		"-i", p.SrcAbs,
	}
	common = appendFilterArgs(common, p)
	common = append(common,
		"-c:v", enc.Name(),
		"-b:v", fmt.Sprintf("%dk", videoKbps),
		"-preset", p.Preset,
		"-passlogfile", passlog,
	)

	pass1 = append(append([]string{}, common...),
		"-pass", "1",
		"-an",
		"-f", "null", os.DevNull,
	)
	pass2 = append(append([]string{}, common...), "-pass", "2")
	pass2 = appendAudioArgs(pass2, p)
	pass2 = append(pass2, "-f", "mp4", tmpOut)
	return pass1, pass2
}

// TargetVideoKbps 由目标体积反推视频码率（kbps）。
//
// target_mb * 8192 = 总 kbit；按时长均摊后扣除音频码率，下限 MinVideoKbps。
func TargetVideoKbps(targetMB int, durationSec float64, audioKbps int) int {
	if targetMB <= 0 || durationSec <= 0 {
		return MinVideoKbps
	}
	totalKbps := float64(targetMB) * 8192 / durationSec
	videoKbps := int(totalKbps) - audioKbps
	if videoKbps < MinVideoKbps {
		videoKbps = MinVideoKbps
	}
	return videoKbps
}

func appendFilterArgs(args []string, p domain.JobPlan) []string {
	var filters []string
	if p.ScaleWidth > 0 {
		// -2 让高度自动取偶（libx264 要求偶数尺寸；-1 在奇数高时直接报错）。
		filters = append(filters, fmt.Sprintf("scale=%d:-2", p.ScaleWidth))
	}
	if p.FPS > 0 {
		filters = append(filters, fmt.Sprintf("fps=%d", p.FPS))
	}
	if len(filters) == 0 {
		return args
	}
	return append(args, "-vf", strings.Join(filters, ","))
}

func appendAudioArgs(args []string, p domain.JobPlan) []string {
	return append(args, "-c:a", "aac", "-b:a", fmt.Sprintf("%dk", p.AudioKbps))
}
