// Package fsx 集中所有“落盘”细节：隐藏临时文件、原子替换、跨盘检测。
//
// 产物写入的统一套路是 临时文件 + rename 收尾：ffmpeg 全程写临时文件，
// 只有编码完整成功后 rename 成最终名字。中断/失败只会留下以 '.' 开头的
// 临时文件，扫描阶段按隐藏文件排除，不会把半成品当作下一轮输入。
package fsx

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
)

// renameFunc 可替换，测试用它稳定模拟 EXDEV 等错误。
var renameFunc = os.Rename

// PathTypeConflictError 表示目标路径被一个类型不对的东西占着
// （典型：想写 compv.json，同名的却是目录）。上层映射为 error_code=target_conflict。
type PathTypeConflictError struct {
	Path string
	Want string
	Got  string
}

func (e *PathTypeConflictError) Error() string {
	return fmt.Sprintf("目标路径类型冲突：%q（期望 %s，实际 %s）", e.Path, e.Want, e.Got)
}

func IsPathTypeConflict(err error) bool {
	var e *PathTypeConflictError
	return errors.As(err, &e)
}

// CrossDeviceError 表示 rename 跨了文件系统（EXDEV）。
// 临时文件永远与目标同目录，正常流程不会触发；一旦出现说明目录结构
// 有问题（比如 dir 是挂载点的符号链接），直接失败并解释，不做 copy+delete。
type CrossDeviceError struct {
	Src string
	Dst string
	Err error
}

func (e *CrossDeviceError) Error() string {
	return fmt.Sprintf("跨盘移动失败（EXDEV）：%q -> %q；请确保临时文件与目标在同一文件系统（本工具不会隐式 copy+delete）：%v", e.Src, e.Dst, e.Err)
}

func (e *CrossDeviceError) Unwrap() error { return e.Err }

func IsCrossDevice(err error) bool {
	var e *CrossDeviceError
	return errors.As(err, &e)
}

// Rename 封装 os.Rename，把 EXDEV 显式标记为 CrossDeviceError。
func Rename(src, dst string) error {
	err := renameFunc(src, dst)
	if err == nil {
		return nil
	}
	if isEXDEV(err) {
		return &CrossDeviceError{Src: src, Dst: dst, Err: err}
	}
	return err
}

// hiddenTemp 在 dir 下创建 ".<name>.tmp-*" 隐藏临时文件（目录不存在则先建）。
func hiddenTemp(dir, name string) (*os.File, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return os.CreateTemp(dir, "."+name+".tmp-*")
}

// TempOutput 预留一个编码用的临时输出文件并返回其路径。
// ffmpeg 直接写这个文件，成功后由调用方 Rename 到最终名字；
// 同目录保证 rename 原子（也天然避开 EXDEV）。
func TempOutput(dir, name string) (string, error) {
	f, err := hiddenTemp(dir, name)
	if err != nil {
		return "", err
	}
	path := f.Name()
	if err := f.Close(); err != nil {
		_ = os.Remove(path)
		return "", err
	}
	return path, nil
}

// WriteFileAtomicNoOverwrite 原子写入，但目标已存在时拒绝（os.ErrExist）。
// compv init 的配置模板走这里：宁可让用户删掉旧文件，也不悄悄覆盖。
func WriteFileAtomicNoOverwrite(dir, name string, data []byte) error {
	dst := filepath.Join(filepath.Clean(dir), name)
	if fi, err := os.Lstat(dst); err == nil {
		if fi.IsDir() {
			return &PathTypeConflictError{Path: dst, Want: "file", Got: "dir"}
		}
		if !fi.Mode().IsRegular() {
			return &PathTypeConflictError{Path: dst, Want: "regular file", Got: fi.Mode().Type().String()}
		}
		return os.ErrExist
	} else if !os.IsNotExist(err) {
		return err
	}
	return writeFileAtomic(dir, name, data)
}

// WriteFileAtomicReplace 原子写入并覆盖同名文件。
// probe 缓存与 report.json 这类可再生状态用它；Windows 上原子性是 best-effort。
func WriteFileAtomicReplace(dir, name string, data []byte) error {
	return writeFileAtomic(dir, name, data)
}

func writeFileAtomic(dir, name string, data []byte) error {
	tmp, err := hiddenTemp(dir, name)
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
	}()

	if _, err := tmp.Write(data); err != nil {
		return err
	}
	if err := tmp.Chmod(0o644); err != nil {
		return err
	}
	if err := tmp.Sync(); err != nil {
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}

	if err := Rename(tmpName, filepath.Join(dir, name)); err != nil {
		return err
	}

	// 目录 fsync 只求尽力：平台/文件系统差异太大，失败不值得让写入翻车。
	_ = syncDirBestEffort(dir)
	return nil
}

func syncDirBestEffort(dir string) error {
	// Windows 的目录 Sync 语义不稳定，跳过。
	if runtime.GOOS == "windows" {
		return nil
	}
	f, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer f.Close()
	return f.Sync()
}
