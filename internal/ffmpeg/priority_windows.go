//go:build windows

package ffmpeg

import (
	"os/exec"

	"golang.org/x/sys/windows"
)

// Windows 没有 nice；启动后降优先级。
func wrapNice(bin string, args []string, _ int) (string, []string) {
	return bin, args
}

// lowerPriority 把已启动的进程降到 BELOW_NORMAL。
// 失败直接忽略：优先级只是尽力而为，不值得让编码任务因此失败。
func lowerPriority(cmd *exec.Cmd, nice int) {
	if nice <= 0 || cmd.Process == nil {
		return
	}
	h, err := windows.OpenProcess(windows.PROCESS_SET_INFORMATION, false, uint32(cmd.Process.Pid))
	if err != nil {
		return
	}
	defer windows.CloseHandle(h)
	_ = windows.SetPriorityClass(h, windows.BELOW_NORMAL_PRIORITY_CLASS)
}
