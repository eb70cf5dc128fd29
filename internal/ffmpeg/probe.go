package ffmpeg

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	"github.com/John-Robertt/compv/internal/domain"
)

// ProbeError 表示 ffprobe 调用或输出解析失败。
// 上层映射为 error_code=probe_failed。
type ProbeError struct {
	Path   string
	Stderr string
	Err    error
}

func (e *ProbeError) Error() string {
	if e.Stderr != "" {
		return fmt.Sprintf("探测失败 %q：%v（ffprobe: %s)", e.Path, e.Err, e.Stderr)
	}
	return fmt.Sprintf("探测失败 %q：%v", e.Path, e.Err)
}

func (e *ProbeError) Unwrap() error { return e.Err }

// ffprobe 的 JSON 输出形态（只取需要的字段；数值大多以字符串形式给出）。
type probeOutput struct {
	Streams []struct {
		Width        int    `json:"width"`
		Height       int    `json:"height"`
		AvgFrameRate string `json:"avg_frame_rate"`
		RFrameRate   string `json:"r_frame_rate"`
		BitRate      string `json:"bit_rate"`
		Duration     string `json:"duration"`
	} `json:"streams"`
	Format struct {
		Duration string `json:"duration"`
		BitRate  string `json:"bit_rate"`
		Size     string `json:"size"`
	} `json:"format"`
}

// Probe 用 ffprobe 读取 path 的首个视频流属性。
//
// 字段回退规则（不同容器提供的信息不一致）：
// - 时长：format.duration 优先，缺失时用 stream.duration
// - 码率：stream.bit_rate 优先，缺失时用 format.bit_rate（整体码率，偏大但可用）
// - 帧率：avg_frame_rate 优先，退化（"0/0"）时用 r_frame_rate
func Probe(ctx context.Context, ffprobePath, path string) (domain.MediaInfo, error) {
	args := []string{
		"-v", "error",
		"-select_streams", "v:0",
		"-show_entries", "stream=width,height,avg_frame_rate,r_frame_rate,bit_rate,duration",
		"-show_entries", "format=duration,bit_rate,size",
		"-of", "json",
		path,
	}

	cmd := exec.CommandContext(ctx, ffprobePath, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return domain.MediaInfo{}, &ProbeError{
			Path:   path,
			Stderr: tailLine(stderr.String()),
			Err:    err,
		}
	}
	return parseProbe(path, stdout.Bytes())
}

func parseProbe(path string, raw []byte) (domain.MediaInfo, error) {
	var out probeOutput
	if err := json.Unmarshal(raw, &out); err != nil {
		return domain.MediaInfo{}, &ProbeError{Path: path, Err: fmt.Errorf("ffprobe 输出不是合法 JSON：%w", err)}
	}
	if len(out.Streams) == 0 {
		return domain.MediaInfo{}, &ProbeError{Path: path, Err: fmt.Errorf("没有视频流")}
	}

	s := out.Streams[0]
	info := domain.MediaInfo{
		Width:  s.Width,
		Height: s.Height,
	}
	if info.Width <= 0 || info.Height <= 0 {
		return domain.MediaInfo{}, &ProbeError{Path: path, Err: fmt.Errorf("视频流缺少分辨率（width=%d height=%d）", s.Width, s.Height)}
	}

	info.DurationSec = parseFloat(out.Format.Duration)
	if info.DurationSec <= 0 {
		info.DurationSec = parseFloat(s.Duration)
	}
	if info.DurationSec <= 0 {
		return domain.MediaInfo{}, &ProbeError{Path: path, Err: fmt.Errorf("无法确定时长")}
	}

	info.FPS = parseRational(s.AvgFrameRate)
	if info.FPS <= 0 {
		info.FPS = parseRational(s.RFrameRate)
	}

	if kbps := parseFloat(s.BitRate) / 1000; kbps > 0 {
		info.BitrateKbps = int(kbps)
	} else if kbps := parseFloat(out.Format.BitRate) / 1000; kbps > 0 {
		info.BitrateKbps = int(kbps)
	}

	info.SizeBytes = int64(parseFloat(out.Format.Size))
	return info, nil
}

// parseRational 解析 "30000/1001" 形式的帧率；非法或退化输入返回 0。
func parseRational(s string) float64 {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0
	}
	num, den, ok := strings.Cut(s, "/")
	if !ok {
		return parseFloat(s)
	}
	n := parseFloat(num)
	d := parseFloat(den)
	if n <= 0 || d <= 0 {
		return 0
	}
	return n / d
}

func parseFloat(s string) float64 {
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0
	}
	return f
}

// tailLine 取 stderr 的最后一个非空行（ffprobe 的错误通常在最后一行）。
func tailLine(s string) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if t := strings.TrimSpace(lines[i]); t != "" {
			return t
		}
	}
	return ""
}
