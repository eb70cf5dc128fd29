//go:build !unix

package fsx

// Windows 等平台没有统一的 EXDEV errno；跨卷 rename 的失败信息由 os 包原样上抛。
func isEXDEV(err error) bool {
	return false
}
