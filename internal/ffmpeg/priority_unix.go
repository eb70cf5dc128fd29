//go:build unix

package ffmpeg

import (
	"os/exec"
	"strconv"
)

// wrapNice 用 nice 前缀启动，压低编码进程的 CPU 优先级。
// 找不到 nice（极简容器等）时直接原样执行，优先级只是尽力而为。
func wrapNice(bin string, args []string, nice int) (string, []string) {
	if nice <= 0 {
		return bin, args
	}
	nicePath, err := exec.LookPath("nice")
	if err != nil {
		return bin, args
	}
	argv := append([]string{"-n", strconv.Itoa(nice), bin}, args...)
	return nicePath, argv
}

// unix 上优先级由 nice 前缀完成，启动后无事可做。
func lowerPriority(*exec.Cmd, int) {}
