// Package encoder 定义 H.264 编码器抽象与注册表。
//
// 每个实现只负责生成自己的 ffmpeg 视频参数（-c:v 及质量/速率控制），
// 不关心输入输出、滤镜与音频。命令行的组装在 ffmpeg 包完成。
package encoder

import "fmt"

// Encoder 是单个 H.264 编码实现（CPU 或硬件）。
type Encoder interface {
	// Name 返回 ffmpeg 的编码器名（libx264/h264_nvenc/h264_amf/h264_qsv）。
	Name() string

	// VideoArgs 返回视频编码参数（含 -c:v）。
	//
	// quality 是 0..51 的质量数值（CRF/CQ/QP/global_quality 共用同一标度，
	// 值越小质量越高）；preset 只对 libx264 有意义，硬件实现各有固定档位。
	VideoArgs(quality int, preset string) []string

	// Hardware 表示是否硬件编码器。硬件编码失败时可回退 CPU 重试。
	Hardware() bool
}

// Error 标记一次编码尝试失败发生在哪个编码器、哪个阶段。
//
// Stage 取值：
// - "start"：进程未能开始（二进制缺失、编码器不被当前 ffmpeg 支持）
// - "encode"：进程非零退出（驱动缺失、硬件忙、输入损坏等）
type Error struct {
	Encoder string
	Stage   string
	Err     error
}

func (e *Error) Error() string {
	return fmt.Sprintf("encoder=%s stage=%s: %v", e.Encoder, e.Stage, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }
