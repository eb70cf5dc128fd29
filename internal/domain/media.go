package domain

import "time"

// MediaInfo 是 ffprobe 探测得到的媒体属性（最小可用集）。
//
// 约束：
// - 所有字段都来自外部 ffprobe 的 JSON 输出；本项目不解析任何媒体内容
// - 字段缺失允许为零值（例如部分容器没有 bit_rate），但 Duration 必须有效
type MediaInfo struct {
	Width  int
	Height int

	DurationSec float64
	FPS         float64

	// BitrateKbps 为 0 表示容器未提供码率信息。
	BitrateKbps int
	SizeBytes   int64
}

// EncodeProgress 是编码过程中的一次进度快照（来自 ffmpeg -progress 输出）。
type EncodeProgress struct {
	Frame      int64
	FPS        float64
	OutTimeSec float64
	OutBytes   int64
	Speed      float64 // ffmpeg speed=1.23x 中的倍率；0 表示未知

	Percent  float64 // 0..100；由 OutTimeSec / DurationSec 计算
	ETA      time.Duration
	ETAKnown bool // 预热期 / speed 未知时为 false
}

// EncodeResult 描述一次 ffmpeg 进程调用的结局。
type EncodeResult struct {
	ExitCode int
	TimedOut bool
	OutBytes int64
	Elapsed  time.Duration
}
