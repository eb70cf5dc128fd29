package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/John-Robertt/compv/internal/domain"
)

// 可执行的 ffprobe/ffmpeg 假实现（shell 脚本），让 run 跑完整条流水线而不依赖真机安装。
const fakeProbeScript = `#!/bin/sh
cat <<'EOF'
{
  "streams": [
    {
      "width": 1920,
      "height": 1080,
      "avg_frame_rate": "30000/1001",
      "r_frame_rate": "30000/1001",
      "bit_rate": "4000000",
      "duration": "60.000000"
    }
  ],
  "format": {
    "duration": "60.000000",
    "bit_rate": "4100000",
    "size": "30000000"
  }
}
EOF
`

const fakeFFmpegScript = `#!/bin/sh
exit 0
`

func writeStubTools(t *testing.T) string {
	t.Helper()
	binDir := t.TempDir()
	if err := os.WriteFile(filepath.Join(binDir, "ffprobe"), []byte(fakeProbeScript), 0o755); err != nil {
		t.Fatalf("写入 ffprobe 假实现失败：%v", err)
	}
	if err := os.WriteFile(filepath.Join(binDir, "ffmpeg"), []byte(fakeFFmpegScript), 0o755); err != nil {
		t.Fatalf("写入 ffmpeg 假实现失败：%v", err)
	}
	return binDir
}

func TestCLI_NoTTY_StdoutOnlyRunReportJSON(t *testing.T) {
	// 这个测试锁定对外契约：stdout 非 TTY 时只能输出一个 RunReport JSON（进度/配置必须走 stderr 或直接禁用）。
	if runtime.GOOS == "windows" {
		t.Skip("假 ffprobe/ffmpeg 是 shell 脚本，windows 上不可执行")
	}

	root := t.TempDir()
	in := filepath.Join(root, "in", "家庭录像.mp4")
	if err := os.MkdirAll(filepath.Dir(in), 0o755); err != nil {
		t.Fatalf("创建目录失败：%v", err)
	}
	if err := os.WriteFile(in, []byte("x"), 0o644); err != nil {
		t.Fatalf("写入视频失败：%v", err)
	}

	binDir := writeStubTools(t)

	wd, err := os.Getwd()
	if err != nil {
		t.Fatalf("读取 cwd 失败：%v", err)
	}
	repoRoot := filepath.Clean(filepath.Join(wd, "..", ".."))

	cmd := exec.Command("go", "run", "./cmd/compv", "run", filepath.Dir(in))
	cmd.Dir = repoRoot
	// 假工具置于 PATH 最前；缓存目录指向隔离的临时目录，避免污染真实用户缓存。
	cmd.Env = append(os.Environ(),
		"PATH="+binDir+string(os.PathListSeparator)+os.Getenv("PATH"),
		"XDG_CACHE_HOME="+filepath.Join(root, "xdg-cache"),
	)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		t.Fatalf("命令执行失败：%v\nstderr=%s\nstdout=%s", err, stderr.String(), stdout.String())
	}

	// stdout 必须是单个 JSON。
	var rr domain.RunReport
	if err := json.Unmarshal(stdout.Bytes(), &rr); err != nil {
		t.Fatalf("stdout 不是合法的 RunReport JSON：%v\nstdout=%q", err, stdout.String())
	}
	if !rr.DryRun {
		t.Fatalf("未加 --apply 应是 dry-run，实际 dry_run=%v", rr.DryRun)
	}
	if rr.Summary.Planned != 1 {
		t.Fatalf("期望 planned=1，实际 summary=%+v", rr.Summary)
	}
	if len(rr.Items) != 1 || rr.Items[0].Status != domain.StatusPlanned {
		t.Fatalf("期望单条 planned 条目，实际 items=%+v", rr.Items)
	}
	if !strings.HasPrefix(filepath.Base(rr.Items[0].Dst), "compressed_") {
		t.Fatalf("产物名应以 compressed_ 开头：%q", rr.Items[0].Dst)
	}

	// 进度/配置不应出现在 stdout。
	if strings.Contains(stdout.String(), "配置（生效）") || strings.Contains(stdout.String(), "进度:") {
		t.Fatalf("stdout 不应包含进度/配置输出：%q", stdout.String())
	}

	// stderr 至少应包含最终摘要行。
	if !strings.Contains(stderr.String(), "完成：encoded=") {
		t.Fatalf("stderr 缺少完成摘要：%q", stderr.String())
	}

	// dry-run 不得写任何产物。
	entries, err := os.ReadDir(filepath.Dir(in))
	if err != nil {
		t.Fatalf("读取输入目录失败：%v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("dry-run 不应在输入目录写文件，实际 %d 个条目", len(entries))
	}
}

func TestCLI_UnknownCommandExitsWithUsage(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("依赖 go build，windows CI 较慢，跳过")
	}

	wd, err := os.Getwd()
	if err != nil {
		t.Fatalf("读取 cwd 失败：%v", err)
	}
	repoRoot := filepath.Clean(filepath.Join(wd, "..", ".."))

	// go run 不透传被编译程序的退出码（见 go help run），要断言退出码
	// 必须先 go build 再直接执行二进制。
	bin := filepath.Join(t.TempDir(), "compv")
	build := exec.Command("go", "build", "-o", bin, "./cmd/compv")
	build.Dir = repoRoot
	if out, err := build.CombinedOutput(); err != nil {
		t.Fatalf("构建失败：%v\n%s", err, out)
	}

	cmd := exec.Command(bin, "no-such-command")
	cmd.Dir = repoRoot

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err = cmd.Run()
	if err == nil {
		t.Fatalf("未知命令应以非零码退出")
	}
	var ee *exec.ExitError
	if !errors.As(err, &ee) {
		t.Fatalf("期望 ExitError，实际 %T: %v", err, err)
	}
	if ee.ExitCode() != 2 {
		t.Fatalf("未知命令应退出码 2，实际 %d", ee.ExitCode())
	}
	if !strings.Contains(stderr.String(), "未知命令") {
		t.Fatalf("stderr 应包含未知命令提示：%q", stderr.String())
	}
	if stdout.Len() != 0 {
		t.Fatalf("stdout 应为空：%q", stdout.String())
	}
}
