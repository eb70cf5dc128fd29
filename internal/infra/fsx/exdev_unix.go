//go:build unix

package fsx

import (
	"errors"
	"os"
	"syscall"
)

// isEXDEV 识别跨文件系统 rename 的失败（典型场景：缓存/下载目录
// 与目标目录挂在不同分区）。os.Rename 把底层错误包在 LinkError 里，
// 两种形态都要认。
func isEXDEV(err error) bool {
	var le *os.LinkError
	if errors.As(err, &le) {
		return errors.Is(le.Err, syscall.EXDEV)
	}
	return errors.Is(err, syscall.EXDEV)
}
