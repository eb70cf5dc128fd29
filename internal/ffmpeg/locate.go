// Package ffmpeg 封装对外部 FFmpeg/FFprobe 可执行文件的全部交互：
// 定位、探测（ffprobe）、编码器枚举、命令行组装与进程执行。
//
// 本包不解析任何媒体内容；媒体相关的一切事实都来自这两个外部工具的输出。
package ffmpeg

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
)

// Tools 是一次定位的结果：两个可执行文件的绝对路径。
type Tools struct {
	FFmpeg  string
	FFprobe string
}

// ToolMissingError 表示找不到 ffmpeg 或 ffprobe。
// 上层映射为 error_code=tool_missing，Hint 直接面向用户展示。
type ToolMissingError struct {
	Tool string // "ffmpeg" / "ffprobe"
	Hint string
}

func (e *ToolMissingError) Error() string {
	return fmt.Sprintf("找不到 %s：%s", e.Tool, e.Hint)
}

// Locate 按固定顺序查找 ffmpeg 与 ffprobe：
//
// 1. ffmpegDir（配置显式指定的目录；指定了就必须存在，不再向后找）
// 2. <可执行文件所在目录>/ffmpeg/bin/（compv setup 的安装位置）
// 3. PATH
//
// 两个工具必须来自同一处，避免 ffmpeg 与 ffprobe 版本错配。
func Locate(ffmpegDir string) (Tools, error) {
	if ffmpegDir != "" {
		return locateInDir(ffmpegDir, true)
	}

	if dir, err := setupBinDir(); err == nil {
		if t, err := locateInDir(dir, false); err == nil {
			return t, nil
		}
	}

	ffmpegPath, err := exec.LookPath(exeName("ffmpeg"))
	if err != nil {
		return Tools{}, &ToolMissingError{Tool: "ffmpeg", Hint: installHint()}
	}
	ffprobePath, err := exec.LookPath(exeName("ffprobe"))
	if err != nil {
		return Tools{}, &ToolMissingError{Tool: "ffprobe", Hint: installHint()}
	}
	return Tools{FFmpeg: ffmpegPath, FFprobe: ffprobePath}, nil
}

// SetupBinDir 返回 compv setup 安装 FFmpeg 的 bin 目录。
func SetupBinDir() (string, error) { return setupBinDir() }

// InstallHint 返回当前平台的 FFmpeg 安装指引（setup 或包管理器一行命令）。
func InstallHint() string { return installHint() }

func setupBinDir() (string, error) {
	exe, err := os.Executable()
	if err != nil {
		return "", err
	}
	return filepath.Join(filepath.Dir(exe), "ffmpeg", "bin"), nil
}

func locateInDir(dir string, explicit bool) (Tools, error) {
	dir = filepath.Clean(dir)
	ffmpegPath := filepath.Join(dir, exeName("ffmpeg"))
	ffprobePath := filepath.Join(dir, exeName("ffprobe"))

	if err := statTool("ffmpeg", ffmpegPath, dir, explicit); err != nil {
		return Tools{}, err
	}
	if err := statTool("ffprobe", ffprobePath, dir, explicit); err != nil {
		return Tools{}, err
	}
	return Tools{FFmpeg: ffmpegPath, FFprobe: ffprobePath}, nil
}

func statTool(tool, path, dir string, explicit bool) error {
	fi, err := os.Stat(path)
	if err == nil && !fi.IsDir() {
		return nil
	}
	hint := installHint()
	if explicit {
		hint = fmt.Sprintf("配置的 ffmpeg_dir=%q 下没有 %s", dir, filepath.Base(path))
	}
	return &ToolMissingError{Tool: tool, Hint: hint}
}

func exeName(base string) string {
	if runtime.GOOS == "windows" {
		return base + ".exe"
	}
	return base
}

func installHint() string {
	switch runtime.GOOS {
	case "windows":
		return "运行 compv setup 自动下载安装，或手动安装后把目录写入配置 ffmpeg_dir"
	case "darwin":
		return "请先安装：brew install ffmpeg"
	default:
		if os.Getenv("TERMUX_VERSION") != "" {
			return "请先安装：pkg install ffmpeg"
		}
		return "请先安装（例如 apt install ffmpeg），或把已有目录写入配置 ffmpeg_dir"
	}
}
