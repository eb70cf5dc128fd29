package domain

import "fmt"

// HumanBytes 把字节数格式化为人类可读形式（1024 进制）。
// 输出与常见 ffmpeg 周边工具一致：B / KiB / MiB / GiB / TiB，保留两位小数。
func HumanBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for v := n / unit; v >= unit; v /= unit {
		div *= unit
		exp++
	}
	suffix := [...]string{"KiB", "MiB", "GiB", "TiB"}
	if exp >= len(suffix) {
		exp = len(suffix) - 1
	}
	return fmt.Sprintf("%.2f %s", float64(n)/float64(div), suffix[exp])
}
