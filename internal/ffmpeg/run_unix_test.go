//go:build unix

package ffmpeg

import (
	"context"
	"errors"
	"os/exec"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/John-Robertt/compv/internal/domain"
)

// 用 sh 冒充 ffmpeg：Run 只关心退出码、stderr 与 -progress 协议，
// 不关心二进制是谁。

func shRun(t *testing.T, ctx context.Context, script string, opt RunOptions) (domain.EncodeResult, error) {
	t.Helper()
	sh, err := exec.LookPath("sh")
	if err != nil {
		t.Skipf("环境没有 sh：%v", err)
	}
	return Run(ctx, sh, []string{"-c", script}, opt)
}

func TestRun_SuccessWithProgress(t *testing.T) {
	var got []domain.EncodeProgress
	script := `printf 'frame=10\nout_time_us=5000000\ntotal_size=100\nspeed=1.5x\nprogress=continue\nframe=20\nout_time_us=10000000\ntotal_size=200\nspeed=1.5x\nprogress=end\n'`

	res, err := shRun(t, context.Background(), script, RunOptions{
		DurationSec: 20,
		OnProgress:  func(p domain.EncodeProgress) { got = append(got, p) },
	})
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	if res.ExitCode != 0 || res.TimedOut {
		t.Fatalf("结果不符：%+v", res)
	}
	if len(got) != 2 {
		t.Fatalf("期望 2 组进度，实际 %d", len(got))
	}
	if got[0].OutTimeSec != 5 || got[0].Percent != 25 {
		t.Fatalf("第一组进度不符：%+v", got[0])
	}
	if got[1].OutTimeSec != 10 || got[1].Percent != 50 {
		t.Fatalf("第二组进度不符：%+v", got[1])
	}
	if res.OutBytes != 200 {
		t.Fatalf("期望 OutBytes=200，实际 %d", res.OutBytes)
	}
}

func TestRun_NonZeroExit(t *testing.T) {
	res, err := shRun(t, context.Background(), `echo 'Unknown encoder' >&2; exit 3`, RunOptions{})

	var re *RunError
	if !errors.As(err, &re) {
		t.Fatalf("期望 *RunError，实际 err=%v", err)
	}
	if re.ExitCode != 3 || res.ExitCode != 3 {
		t.Fatalf("期望退出码 3，实际 err=%d res=%d", re.ExitCode, res.ExitCode)
	}
	if !strings.Contains(re.Stderr, "Unknown encoder") {
		t.Fatalf("stderr 摘要不符：%q", re.Stderr)
	}
	if re.TimedOut {
		t.Fatalf("非超时不应标记 TimedOut")
	}
}

func TestRun_Timeout(t *testing.T) {
	res, err := shRun(t, context.Background(), `sleep 5`, RunOptions{Timeout: 100 * time.Millisecond})

	var re *RunError
	if !errors.As(err, &re) {
		t.Fatalf("期望 *RunError，实际 err=%v", err)
	}
	if !re.TimedOut || !res.TimedOut {
		t.Fatalf("期望标记超时：err=%+v res=%+v", re, res)
	}
}

func TestRun_Canceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(100*time.Millisecond, cancel)

	_, err := shRun(t, ctx, `sleep 5`, RunOptions{})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("期望 context.Canceled，实际 err=%v", err)
	}
	var re *RunError
	if errors.As(err, &re) {
		t.Fatalf("取消不应伪装成 RunError")
	}
}

func TestRun_StartFailure(t *testing.T) {
	_, err := Run(context.Background(), "/nonexistent/ffmpeg-bin", []string{"-version"}, RunOptions{})
	if err == nil {
		t.Fatalf("期望启动失败")
	}
	var re *RunError
	if errors.As(err, &re) {
		t.Fatalf("启动失败不应是 RunError（它属于 start 阶段）：%v", err)
	}
}

func TestWrapNice(t *testing.T) {
	if _, err := exec.LookPath("nice"); err != nil {
		t.Skipf("环境没有 nice：%v", err)
	}

	name, argv := wrapNice("/usr/bin/ffmpeg", []string{"-i", "a.mp4"}, 10)
	if !strings.HasSuffix(name, "nice") {
		t.Fatalf("期望 nice 前缀，实际 %q", name)
	}
	want := []string{"-n", strconv.Itoa(10), "/usr/bin/ffmpeg", "-i", "a.mp4"}
	if len(argv) != len(want) {
		t.Fatalf("期望 %v，实际 %v", want, argv)
	}
	for i := range want {
		if argv[i] != want[i] {
			t.Fatalf("期望 %v，实际 %v", want, argv)
		}
	}

	// nice=0：原样执行。
	name, argv = wrapNice("/usr/bin/ffmpeg", []string{"-i", "a.mp4"}, 0)
	if name != "/usr/bin/ffmpeg" || len(argv) != 2 {
		t.Fatalf("nice=0 不应包装：%q %v", name, argv)
	}
}
