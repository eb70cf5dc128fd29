package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/John-Robertt/compv/internal/app/run"
	"github.com/John-Robertt/compv/internal/config"
	"github.com/John-Robertt/compv/internal/domain"
	"github.com/John-Robertt/compv/internal/encoder"
	"github.com/John-Robertt/compv/internal/ffmpeg"
	"github.com/John-Robertt/compv/internal/infra/cache"
	"github.com/John-Robertt/compv/internal/infra/fsx"
	"github.com/John-Robertt/compv/internal/infra/httpx"
	"github.com/John-Robertt/compv/internal/install"
	"github.com/John-Robertt/compv/internal/notify"
)

func main() {
	args := os.Args[1:]
	if len(args) == 0 || isHelp(args[0]) {
		printUsage()
		return
	}

	switch args[0] {
	case "run":
		if code := runCmd(args[1:]); code != 0 {
			os.Exit(code)
		}
	case "wizard":
		if code := wizardCmd(args[1:]); code != 0 {
			os.Exit(code)
		}
	case "setup":
		if code := setupCmd(args[1:]); code != 0 {
			os.Exit(code)
		}
	case "encoders":
		if code := encodersCmd(args[1:]); code != 0 {
			os.Exit(code)
		}
	case "init":
		if code := initCmd(args[1:]); code != 0 {
			os.Exit(code)
		}
	default:
		// 拖拽入口：第一个参数是存在的路径时，交互终端进向导，否则等同 run。
		if _, err := os.Stat(args[0]); err == nil {
			if len(args) == 1 && isTTY(os.Stdin) && isTTY(os.Stderr) {
				if code := wizardCmd(args); code != 0 {
					os.Exit(code)
				}
				return
			}
			if code := runCmd(args); code != 0 {
				os.Exit(code)
			}
			return
		}
		// 错误路径的用法提示走 stderr，stdout 只留给报告 JSON。
		fmt.Fprintf(os.Stderr, "未知命令：%q\n\n", args[0])
		printUsageTo(os.Stderr)
		os.Exit(2)
	}
}

func runCmd(args []string) int {
	for _, a := range args {
		if isHelp(a) {
			printRunUsage()
			return 0
		}
	}

	ca, err := parseRunArgs(args)
	if err != nil {
		fmt.Fprintf(os.Stderr, "参数错误：%v\n\n", err)
		printRunUsageTo(os.Stderr)
		return 2
	}

	cwd, err := os.Getwd()
	if err != nil {
		fmt.Fprintf(os.Stderr, "读取当前目录失败：%v\n", err)
		return 1
	}
	cwdAbs, _ := filepath.Abs(cwd)

	eff, err := config.LoadEffective(cwd, ca)
	if err != nil {
		emitReport(reportForConfigError(cwdAbs, ca, err))
		return 1
	}

	bins, err := ffmpeg.Locate(eff.FFmpegDir)
	if err != nil {
		emitReport(reportForStartError(eff, domain.ErrCodeToolMissing, err))
		return 1
	}

	tool := &run.FFmpegTool{
		Bins:    bins,
		Nice:    eff.Nice,
		Timeout: time.Duration(eff.TimeoutMinutes) * time.Minute,
	}

	// Ctrl-C 取消整轮运行：在跑的 ffmpeg 被杀、临时产物清理、报告照常输出。
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	progressW, interactive := pickProgressWriter()
	var ui *progressUI
	var obs run.Observer
	if interactive {
		n := notify.Notifier(notify.Nop{})
		if eff.Notify {
			n = notify.Detect(progressW, true)
		}
		ui = newProgressUI(progressW, n)
		obs = ui
	}

	rr := run.ExecuteWithObserver(ctx, eff, encoder.DefaultRegistry(), tool, obs)

	if ui != nil {
		ui.Finish(rr, ctx.Err() != nil)
	}

	// apply：把 RunReport 落一份到用户缓存目录；dry-run 不写任何文件。
	reportPath := ""
	if eff.Apply {
		p, err := writeReportCopy(rr)
		if err != nil {
			fmt.Fprintf(os.Stderr, "写入 report.json 失败：%v\n", err)
		} else {
			reportPath = p
		}
	}

	emitReport(rr)
	if interactive && reportPath != "" {
		fmt.Fprintf(progressW, "report: %s\n", reportPath)
	}
	if rr.Summary.Failed == 0 && rr.Summary.Unsupported == 0 {
		return 0
	}
	return 1
}

// parseRunArgs 手工解析 run 的参数。
// 值的合法性（编码器名、CRF 范围等）统一交给 config 层校验；
// 这里只负责形态（未知参数、缺值、重复 path）。
func parseRunArgs(args []string) (config.CLIArgs, error) {
	var ca config.CLIArgs

	for i := 0; i < len(args); i++ {
		a := args[i]
		switch {
		case a == "--encoder" || strings.HasPrefix(a, "--encoder="):
			v, err := flagValue(args, &i, "--encoder")
			if err != nil {
				return config.CLIArgs{}, err
			}
			ca.Encoder, ca.EncoderSet = v, true
		case a == "--quality" || strings.HasPrefix(a, "--quality="):
			v, err := flagValue(args, &i, "--quality")
			if err != nil {
				return config.CLIArgs{}, err
			}
			ca.Quality, ca.QualitySet = v, true
		case a == "--preset" || strings.HasPrefix(a, "--preset="):
			v, err := flagValue(args, &i, "--preset")
			if err != nil {
				return config.CLIArgs{}, err
			}
			ca.Preset, ca.PresetSet = v, true
		case a == "--scale" || strings.HasPrefix(a, "--scale="):
			v, err := flagValue(args, &i, "--scale")
			if err != nil {
				return config.CLIArgs{}, err
			}
			ca.Scale, ca.ScaleSet = v, true
		case a == "--fps" || strings.HasPrefix(a, "--fps="):
			v, err := flagValue(args, &i, "--fps")
			if err != nil {
				return config.CLIArgs{}, err
			}
			n, err := strconv.Atoi(v)
			if err != nil {
				return config.CLIArgs{}, fmt.Errorf("--fps 需要数字，实际是 %q", v)
			}
			ca.FPS, ca.FPSSet = n, true
		case a == "--target-mb" || strings.HasPrefix(a, "--target-mb="):
			v, err := flagValue(args, &i, "--target-mb")
			if err != nil {
				return config.CLIArgs{}, err
			}
			n, err := strconv.Atoi(v)
			if err != nil {
				return config.CLIArgs{}, fmt.Errorf("--target-mb 需要数字，实际是 %q", v)
			}
			ca.TargetMB, ca.TargetMBSet = n, true
		case a == "--apply":
			ca.Apply, ca.ApplySet = true, true
		case strings.HasPrefix(a, "--apply="):
			v := strings.TrimPrefix(a, "--apply=")
			switch v {
			case "true":
				ca.Apply = true
			case "false":
				ca.Apply = false
			default:
				return config.CLIArgs{}, fmt.Errorf("--apply 只能是 true 或 false，实际是 %q", v)
			}
			ca.ApplySet = true
		case a == "--force":
			ca.Force, ca.ForceSet = true, true
		case strings.HasPrefix(a, "--force="):
			v := strings.TrimPrefix(a, "--force=")
			switch v {
			case "true":
				ca.Force = true
			case "false":
				ca.Force = false
			default:
				return config.CLIArgs{}, fmt.Errorf("--force 只能是 true 或 false，实际是 %q", v)
			}
			ca.ForceSet = true
		case strings.HasPrefix(a, "-"):
			return config.CLIArgs{}, fmt.Errorf("未知参数 %q", a)
		default:
			if ca.Path != "" {
				return config.CLIArgs{}, fmt.Errorf("重复的 path：%q 与 %q", ca.Path, a)
			}
			ca.Path = a
		}
	}

	return ca, nil
}

// flagValue 取 "--flag v" 或 "--flag=v" 两种形态的值。
func flagValue(args []string, i *int, name string) (string, error) {
	a := args[*i]
	if v, ok := strings.CutPrefix(a, name+"="); ok {
		if v == "" {
			return "", fmt.Errorf("%s 不能为空", name)
		}
		return v, nil
	}
	if *i+1 >= len(args) {
		return "", fmt.Errorf("%s 需要一个值", name)
	}
	*i++
	return args[*i], nil
}

func setupCmd(args []string) int {
	proxy := ""
	for i := 0; i < len(args); i++ {
		a := args[i]
		switch {
		case isHelp(a):
			fmt.Fprint(os.Stdout, `用法：
  compv setup [--proxy URL]

下载便携版 FFmpeg（gyan.dev release-essentials）并安装到可执行文件旁的
ffmpeg/bin/ 目录。仅 Windows 自动安装；其他平台打印包管理器指引。
未指定 --proxy 时读取 <cwd>/compv.json 的 proxy.url（存在的话）。
`)
			return 0
		case a == "--proxy" || strings.HasPrefix(a, "--proxy="):
			v, err := flagValue(args, &i, "--proxy")
			if err != nil {
				fmt.Fprintf(os.Stderr, "参数错误：%v\n", err)
				return 2
			}
			proxy = v
		default:
			fmt.Fprintf(os.Stderr, "参数错误：未知参数 %q\n", a)
			return 2
		}
	}

	if proxy == "" {
		if cwd, err := os.Getwd(); err == nil {
			proxy = config.LoadProxyURL(cwd)
		}
	}

	// 已有可用安装时直接短路（或许用户只是想确认）。
	if bins, err := ffmpeg.Locate(""); err == nil {
		fmt.Fprintf(os.Stdout, "FFmpeg 已可用：%s\n", bins.FFmpeg)
		return 0
	}

	binDir, err := ffmpeg.SetupBinDir()
	if err != nil {
		fmt.Fprintf(os.Stderr, "定位安装目录失败：%v\n", err)
		return 1
	}
	root, err := cache.DefaultRoot()
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return 1
	}
	dlDir, err := cache.New(root, false).DownloadsDir()
	if err != nil {
		fmt.Fprintf(os.Stderr, "创建下载目录失败：%v\n", err)
		return 1
	}

	pageC, err := httpx.NewPageClient(proxy)
	if err != nil {
		fmt.Fprintf(os.Stderr, "参数错误：%v\n", err)
		return 2
	}
	dlC, err := httpx.NewDownloadClient(proxy)
	if err != nil {
		fmt.Fprintf(os.Stderr, "参数错误：%v\n", err)
		return 2
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	fmt.Fprintln(os.Stderr, "未检测到 FFmpeg，开始下载便携版（可能需要几分钟）…")
	rel, err := install.Setup(ctx, install.Options{
		Page:        pageC,
		Download:    dlC,
		DownloadDir: dlDir,
		BinDir:      binDir,
		OnPercent: func(p float64) {
			fmt.Fprintf(os.Stderr, "\r下载中：%3.0f%%", p)
		},
	})
	fmt.Fprintln(os.Stderr)
	if err != nil {
		var he *install.HintError
		if errors.As(err, &he) {
			fmt.Fprintln(os.Stderr, he.Hint)
			return 1
		}
		fmt.Fprintf(os.Stderr, "安装失败：%v\n", err)
		fmt.Fprintln(os.Stderr, "可从 gyan.dev 手动下载 ffmpeg-release-essentials.zip，解包后把 bin 目录写入配置 ffmpeg_dir。")
		return 1
	}

	ver := rel.Version
	if ver == "" {
		ver = "release"
	}
	fmt.Fprintf(os.Stdout, "安装完成：ffmpeg %s → %s\n", ver, binDir)
	return 0
}

func encodersCmd(args []string) int {
	dir := ""
	for i := 0; i < len(args); i++ {
		a := args[i]
		switch {
		case isHelp(a):
			fmt.Fprint(os.Stdout, `用法：
  compv encoders [--ffmpeg-dir DIR]

枚举当前 ffmpeg 构建编译进去的 h264 编码器。注意“已编译”不等于
“硬件可用”；硬件初始化失败时 run 会自动回退 libx264。
`)
			return 0
		case a == "--ffmpeg-dir" || strings.HasPrefix(a, "--ffmpeg-dir="):
			v, err := flagValue(args, &i, "--ffmpeg-dir")
			if err != nil {
				fmt.Fprintf(os.Stderr, "参数错误：%v\n", err)
				return 2
			}
			dir = v
		default:
			fmt.Fprintf(os.Stderr, "参数错误：未知参数 %q\n", a)
			return 2
		}
	}

	bins, err := ffmpeg.Locate(dir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return 1
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	avail, err := ffmpeg.DetectEncoders(ctx, bins.FFmpeg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "枚举编码器失败：%v\n", err)
		return 1
	}

	fmt.Fprintf(os.Stdout, "ffmpeg: %s\n\n", bins.FFmpeg)
	for _, name := range encoder.DefaultRegistry().Names() {
		mark := "不可用"
		if avail[name] {
			mark = "可用"
		}
		fmt.Fprintf(os.Stdout, "  %-12s %-6s %s\n", name, mark, encoderVendor(name))
	}
	return 0
}

func encoderVendor(name string) string {
	switch name {
	case "libx264":
		return "CPU（兜底编码器，始终可用）"
	case "h264_nvenc":
		return "NVIDIA 显卡"
	case "h264_amf":
		return "AMD 显卡"
	case "h264_qsv":
		return "Intel 核显"
	default:
		return ""
	}
}

// configTemplate 是 compv init 生成的起步配置（字段与 FileConfig 一一对应）。
const configTemplate = `{
  "path": "",
  "encoder": "libx264",
  "quality": "medium",
  "preset": "medium",
  "scale": "original",
  "fps": 0,
  "audio_kbps": 128,
  "target_mb": 0,
  "apply": false,
  "force": false,
  "concurrency": 1,
  "keep_source": true,
  "nice": 0,
  "timeout_minutes": 0,
  "notify": true,
  "exclude_dirs": [],
  "ffmpeg_dir": "",
  "proxy": {"url": ""}
}
`

func initCmd(args []string) int {
	dir := "."
	for _, a := range args {
		switch {
		case isHelp(a):
			fmt.Fprint(os.Stdout, `用法：
  compv init [dir]

在 dir（默认当前目录）生成 compv.json 模板；已存在时不覆盖。
`)
			return 0
		case strings.HasPrefix(a, "-"):
			fmt.Fprintf(os.Stderr, "参数错误：未知参数 %q\n", a)
			return 2
		default:
			dir = a
		}
	}

	dst := filepath.Join(dir, "compv.json")
	if err := fsx.WriteFileAtomicNoOverwrite(dir, "compv.json", []byte(configTemplate)); err != nil {
		if errors.Is(err, os.ErrExist) {
			fmt.Fprintf(os.Stderr, "compv.json 已存在，不覆盖：%s\n", dst)
			return 1
		}
		fmt.Fprintf(os.Stderr, "写入失败：%v\n", err)
		return 1
	}
	fmt.Fprintf(os.Stdout, "已生成 %s\n把 path 填为要处理的目录或文件后，运行 compv run。\n", dst)
	return 0
}

func isHelp(s string) bool {
	return s == "-h" || s == "--help" || s == "help"
}

func printUsage() { printUsageTo(os.Stdout) }

func printUsageTo(w io.Writer) {
	fmt.Fprint(w, `用法：
  compv <path>             拖拽入口：交互终端进向导，否则等同 compv run <path>
  compv run [path] [参数]  压缩目录或单个视频（默认 dry-run，--apply 才写盘）
  compv wizard [path]      交互式向导（单文件，逐步选择参数）
  compv setup [--proxy URL]
                           下载安装便携版 FFmpeg（仅 Windows 自动安装）
  compv encoders           列出当前 ffmpeg 构建的 h264 编码器
  compv init [dir]         生成 compv.json 模板（不覆盖已有文件）

使用 "compv run --help" 查看 run 的全部参数。
`)
}

func printRunUsage() { printRunUsageTo(os.Stdout) }

func printRunUsageTo(w io.Writer) {
	fmt.Fprint(w, `用法：
  compv run [path] [--encoder E] [--quality Q] [--preset P] [--scale S]
            [--fps N] [--target-mb N] [--apply[=true|false]] [--force[=true|false]]

参数：
  path         目录（递归）或单个视频文件；省略时读 <cwd>/compv.json 的 path
  --encoder    libx264/h264_nvenc/h264_amf/h264_qsv（别名 cpu/nvidia/amd/intel）
  --quality    high/medium/strong 或 0-51 的 CRF 数值（默认 medium）
  --preset     x264 预设 ultrafast..veryslow（默认 medium；硬件编码器忽略）
  --scale      original/1080p/720p/480p 或偶数目标宽度（只降不升）
  --fps        目标帧率（只降不升；0 保持原帧率）
  --target-mb  目标体积（MB）：两遍编码逼近目标，仅 libx264
  --apply      真正编码写盘（默认 dry-run 只出计划与预估）
  --force      默认产物已存在时仍压缩（新产物自动加 __2 后缀）
  -h, --help   显示帮助
`)
}

func emitReport(rr domain.RunReport) {
	if isTTY(os.Stdout) {
		fmt.Fprintf(os.Stdout, "完成：encoded=%d planned=%d skipped=%d failed=%d unsupported=%d\n",
			rr.Summary.Encoded, rr.Summary.Planned, rr.Summary.Skipped, rr.Summary.Failed, rr.Summary.Unsupported,
		)
		if in, out := totalSizes(rr); out > 0 && out < in {
			fmt.Fprintf(os.Stdout, "共节省 %s（%s → %s）\n",
				domain.HumanBytes(in-out), domain.HumanBytes(in), domain.HumanBytes(out),
			)
		}
		if rr.Summary.Failed > 0 || rr.Summary.Unsupported > 0 {
			for _, it := range rr.Items {
				if it.Status != domain.StatusFailed && it.Status != domain.StatusUnsupported {
					continue
				}
				key := it.Src
				if key == "" {
					// config/tool 级合成条目没有输入文件。
					key = "<run>"
				}
				fmt.Fprintf(os.Stderr, "%s %s: %s\n", key, it.ErrorCode, it.ErrorMsg)
			}
		}
		return
	}

	// stdout 非 TTY：stdout 必须且仅输出一个 RunReport JSON（摘要走 stderr）。
	enc := json.NewEncoder(os.Stdout)
	_ = enc.Encode(rr)
	fmt.Fprintf(os.Stderr, "完成：encoded=%d planned=%d skipped=%d failed=%d unsupported=%d\n",
		rr.Summary.Encoded, rr.Summary.Planned, rr.Summary.Skipped, rr.Summary.Failed, rr.Summary.Unsupported,
	)
}

// totalSizes 汇总本轮真正编码完成条目的输入/输出体积。
func totalSizes(rr domain.RunReport) (in, out int64) {
	for _, it := range rr.Items {
		if it.Status != domain.StatusEncoded {
			continue
		}
		in += it.SizeIn
		out += it.SizeOut
	}
	return in, out
}

func reportForConfigError(cwdAbs string, ca config.CLIArgs, err error) domain.RunReport {
	now := time.Now().UTC()
	rr := domain.RunReport{
		RunID:      uuid.NewString(),
		Path:       cwdAbs,
		DryRun:     !(ca.ApplySet && ca.Apply),
		StartedAt:  now,
		FinishedAt: now,
		Items: []domain.ItemResult{{
			Status:    domain.StatusFailed,
			ErrorCode: config.Code(err),
			ErrorMsg:  err.Error(),
			Attempts:  []domain.EncodeAttempt{},
		}},
	}
	rr.Finalize()
	return rr
}

func reportForStartError(eff config.EffectiveConfig, code string, err error) domain.RunReport {
	now := time.Now().UTC()
	rr := domain.RunReport{
		RunID:      uuid.NewString(),
		Path:       eff.Path,
		DryRun:     !eff.Apply,
		StartedAt:  now,
		FinishedAt: now,
		Items: []domain.ItemResult{{
			Status:           domain.StatusFailed,
			ErrorCode:        code,
			ErrorMsg:         err.Error(),
			EncoderRequested: eff.Encoder,
			Attempts:         []domain.EncodeAttempt{},
		}},
	}
	rr.Finalize()
	return rr
}

func writeReportCopy(rr domain.RunReport) (string, error) {
	root, err := cache.DefaultRoot()
	if err != nil {
		return "", err
	}
	st := cache.New(root, false)
	if err := st.WriteReport(rr); err != nil {
		return "", err
	}
	return st.ReportPath(), nil
}

func isTTY(f *os.File) bool {
	fi, err := f.Stat()
	if err != nil {
		return false
	}
	return fi.Mode()&os.ModeCharDevice != 0
}

func pickProgressWriter() (io.Writer, bool) {
	// 进度输出只在交互终端启用；默认走 stderr（不污染 stdout JSON）。
	if isTTY(os.Stderr) {
		return os.Stderr, true
	}
	// 某些环境（例如仅重定向 stderr）下，stdout 仍是 TTY：退化输出到 stdout。
	if isTTY(os.Stdout) {
		return os.Stdout, true
	}
	return nil, false
}
