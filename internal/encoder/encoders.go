package encoder

import "strconv"

// X264 是 CPU 参考实现（libx264，CRF 模式）。
// 质量数值即 CRF；preset 透传给 x264。
type X264 struct{}

func (X264) Name() string   { return "libx264" }
func (X264) Hardware() bool { return false }

func (X264) VideoArgs(quality int, preset string) []string {
	return []string{
		"-c:v", "libx264",
		"-crf", strconv.Itoa(quality),
		"-preset", preset,
	}
}

// NVENC 是 NVIDIA 硬件实现（VBR + 恒定质量目标 cq）。
// p4 是速度/质量居中的档位；x264 的 preset 名对 nvenc 无意义，忽略。
type NVENC struct{}

func (NVENC) Name() string   { return "h264_nvenc" }
func (NVENC) Hardware() bool { return true }

func (NVENC) VideoArgs(quality int, _ string) []string {
	return []string{
		"-c:v", "h264_nvenc",
		"-rc", "vbr",
		"-cq", strconv.Itoa(quality),
		"-preset", "p4",
	}
}

// AMF 是 AMD 硬件实现（恒定 QP 模式，I/P 帧同值）。
type AMF struct{}

func (AMF) Name() string   { return "h264_amf" }
func (AMF) Hardware() bool { return true }

func (AMF) VideoArgs(quality int, _ string) []string {
	q := strconv.Itoa(quality)
	return []string{
		"-c:v", "h264_amf",
		"-rc", "cqp",
		"-qp_i", q,
		"-qp_p", q,
		"-quality", "balanced",
	}
}

// QSV 是 Intel Quick Sync 硬件实现（global_quality 即 ICQ 质量值）。
type QSV struct{}

func (QSV) Name() string   { return "h264_qsv" }
func (QSV) Hardware() bool { return true }

func (QSV) VideoArgs(quality int, _ string) []string {
	return []string{
		"-c:v", "h264_qsv",
		"-global_quality", strconv.Itoa(quality),
		"-preset", "medium",
	}
}
