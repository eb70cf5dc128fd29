package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

const (
	// ErrCodeNotFound 表示无参运行但 cwd 下没有 compv.json。
	ErrCodeNotFound = "config_not_found"
	// ErrCodeInvalid 表示配置文件无法读取/解析，或字段不合法。
	ErrCodeInvalid = "config_invalid"
	// ErrCodeMissingPath 表示无参运行但配置文件缺少 path 字段。
	ErrCodeMissingPath = "config_missing_path"
)

const (
	// DefaultEncoder 是编码器的最终默认值（当 CLI 与配置文件都未指定时）。
	DefaultEncoder = "libx264"
	// DefaultPreset 是 libx264 preset 的内置默认值。
	DefaultPreset = "medium"
	// DefaultAudioKbps 是音频码率的内置默认值（aac）。
	DefaultAudioKbps = 128
	// DefaultConcurrency 是并发的内置默认值。编码由 ffmpeg 自行吃满核心，
	// 因此默认单任务串行；批量目录可通过配置放宽（上限 8）。
	DefaultConcurrency = 1
)

// 质量档位对应的 CRF 值（硬件编码器的 CQ/QP 共用同一刻度）。
const (
	CRFHigh   = 23
	CRFMedium = 28
	CRFStrong = 33
)

// CLIArgs 只包含 CLI 暴露的入口参数，并保留“是否显式指定”的信息。
// 这能保证覆盖优先级可实现：例如 --apply=false 必须能覆盖 config.apply=true。
type CLIArgs struct {
	Path string

	Encoder    string
	EncoderSet bool

	Quality    string
	QualitySet bool

	Preset    string
	PresetSet bool

	Scale    string
	ScaleSet bool

	FPS    int
	FPSSet bool

	TargetMB    int
	TargetMBSet bool

	Apply    bool
	ApplySet bool

	Force    bool
	ForceSet bool
}

// FileConfig 对应 compv.json 的解析结构。
type FileConfig struct {
	Path           string          `json:"path"`
	Encoder        string          `json:"encoder"`
	Quality        string          `json:"quality"`
	Preset         string          `json:"preset"`
	Scale          string          `json:"scale"`
	FPS            int             `json:"fps"`
	AudioKbps      int             `json:"audio_kbps"`
	TargetMB       int             `json:"target_mb"`
	Apply          *bool           `json:"apply"`
	Force          *bool           `json:"force"`
	Concurrency    int             `json:"concurrency"`
	KeepSource     *bool           `json:"keep_source"`
	Nice           int             `json:"nice"`
	TimeoutMinutes int             `json:"timeout_minutes"`
	Notify         *bool           `json:"notify"`
	ExcludeDirs    []string        `json:"exclude_dirs"`
	FFmpegDir      string          `json:"ffmpeg_dir"`
	Proxy          *ProxyConfig    `json:"proxy"`
	_              json.RawMessage `json:"-"` // 预留：未知字段暂不报错
}

type ProxyConfig struct {
	URL string `json:"url"`
}

// EffectiveConfig 是合并并做最小规范化后的最终配置（实现层直接消费，不再做二次默认/优先级判断）。
type EffectiveConfig struct {
	Path string

	Encoder string // 规范化后的编码器名
	Quality int    // CRF / CQ / QP
	Preset  string

	ScaleWidth int // 0 = 保持原分辨率
	FPS        int // 0 = 保持原帧率
	AudioKbps  int
	TargetMB   int // >0 = 两遍目标体积模式

	Apply bool
	Force bool

	Concurrency    int
	KeepSource     bool
	Nice           int
	TimeoutMinutes int
	Notify         bool
	ExcludeDirs    []string

	// FFmpegDir 允许显式指定 ffmpeg/ffprobe 所在目录（可选）。
	// 该字段属于高级能力，仅通过 compv.json 配置，不暴露 CLI 参数。
	FFmpegDir string

	// ProxyURL 仅用于 setup 子命令的下载客户端。
	ProxyURL string
}

// Error 是配置阶段的结构化错误（带 error_code）。
type Error struct {
	Code string
	Path string
	Err  error
}

func (e *Error) Error() string {
	switch e.Code {
	case ErrCodeNotFound:
		return fmt.Sprintf("%s：未找到配置文件 %q", e.Code, e.Path)
	case ErrCodeMissingPath:
		return fmt.Sprintf("%s：配置文件 %q 缺少必填字段 path", e.Code, e.Path)
	case ErrCodeInvalid:
		if e.Err != nil {
			return fmt.Sprintf("%s：配置文件 %q 无效：%v", e.Code, e.Path, e.Err)
		}
		return fmt.Sprintf("%s：配置文件 %q 无效", e.Code, e.Path)
	default:
		if e.Err != nil {
			return fmt.Sprintf("%s：%v", e.Code, e.Err)
		}
		return e.Code
	}
}

func (e *Error) Unwrap() error { return e.Err }

// Code 从 error 中提取 error_code；若不是 *Error 则返回空串。
func Code(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// LoadEffective 按文档约定发现并读取配置文件，然后与 CLI 参数合并为最终配置。
//
// 发现规则（固定）：
// 1) CLI 提供 path：尝试读取 <path 所在目录>/compv.json（可选；path 是目录时即该目录）
// 2) CLI 未提供 path：必须读取 <cwd>/compv.json（必选），且其中必须包含 path
//
// 覆盖优先级（固定）：
// - path：CLI path > config path
// - encoder/quality/preset/scale/fps/target_mb/apply/force：CLI > config > 默认
// - 其他字段：仅由 config 控制（CLI 不暴露）
func LoadEffective(cwd string, cli CLIArgs) (EffectiveConfig, error) {
	cwdAbs, err := filepath.Abs(cwd)
	if err != nil {
		return EffectiveConfig{}, &Error{Code: ErrCodeInvalid, Path: cwd, Err: err}
	}

	if strings.TrimSpace(cli.Path) != "" {
		// CLI 给了 path：配置文件可选，位置固定在 path 所在目录。
		absPath := absCleanFrom(cwdAbs, cli.Path)
		cfgPath := filepath.Join(configDirFor(absPath), "compv.json")

		fc, _, err := readFileConfig(cfgPath)
		if err != nil {
			return EffectiveConfig{}, &Error{Code: ErrCodeInvalid, Path: cfgPath, Err: err}
		}
		return merge(absPath, cli, fc, cfgPath)
	}

	// CLI 没给 path：必须读取 <cwd>/compv.json，且其中必须包含 path。
	cfgPath := filepath.Join(cwdAbs, "compv.json")
	fc, exists, err := readFileConfig(cfgPath)
	if err != nil {
		return EffectiveConfig{}, &Error{Code: ErrCodeInvalid, Path: cfgPath, Err: err}
	}
	if !exists {
		return EffectiveConfig{}, &Error{Code: ErrCodeNotFound, Path: cfgPath, Err: os.ErrNotExist}
	}
	if strings.TrimSpace(fc.Path) == "" {
		return EffectiveConfig{}, &Error{Code: ErrCodeMissingPath, Path: cfgPath}
	}

	absPath := absCleanFrom(cwdAbs, fc.Path)
	return merge(absPath, cli, fc, cfgPath)
}

// LoadProxyURL 从 <dir>/compv.json 读取 proxy.url。
// setup 子命令在未指定 --proxy 时用它；文件缺失、解析失败或字段为空都返回空串。
func LoadProxyURL(dir string) string {
	fc, _, err := readFileConfig(filepath.Join(dir, "compv.json"))
	if err != nil || fc.Proxy == nil {
		return ""
	}
	return strings.TrimSpace(fc.Proxy.URL)
}

func merge(absPath string, cli CLIArgs, fc FileConfig, cfgPath string) (EffectiveConfig, error) {
	// encoder：CLI > config > 默认
	encoderRaw := DefaultEncoder
	if cli.EncoderSet {
		encoderRaw = cli.Encoder
	} else if strings.TrimSpace(fc.Encoder) != "" {
		encoderRaw = fc.Encoder
	}
	encoder, err := CanonicalEncoder(encoderRaw)
	if err != nil {
		return EffectiveConfig{}, &Error{Code: ErrCodeInvalid, Path: cfgPath, Err: err}
	}

	// quality：CLI > config > 默认 medium
	qualityRaw := "medium"
	if cli.QualitySet {
		qualityRaw = cli.Quality
	} else if strings.TrimSpace(fc.Quality) != "" {
		qualityRaw = fc.Quality
	}
	quality, err := ParseQuality(qualityRaw)
	if err != nil {
		return EffectiveConfig{}, &Error{Code: ErrCodeInvalid, Path: cfgPath, Err: err}
	}

	preset := DefaultPreset
	if cli.PresetSet {
		preset = cli.Preset
	} else if strings.TrimSpace(fc.Preset) != "" {
		preset = fc.Preset
	}
	preset = strings.ToLower(strings.TrimSpace(preset))
	if err := validatePreset(preset); err != nil {
		return EffectiveConfig{}, &Error{Code: ErrCodeInvalid, Path: cfgPath, Err: err}
	}

	scaleRaw := ""
	if cli.ScaleSet {
		scaleRaw = cli.Scale
	} else if strings.TrimSpace(fc.Scale) != "" {
		scaleRaw = fc.Scale
	}
	scaleWidth, err := ParseScale(scaleRaw)
	if err != nil {
		return EffectiveConfig{}, &Error{Code: ErrCodeInvalid, Path: cfgPath, Err: err}
	}

	fps := 0
	if cli.FPSSet {
		fps = cli.FPS
	} else if fc.FPS != 0 {
		fps = fc.FPS
	}
	if fps < 0 || fps > 240 {
		return EffectiveConfig{}, &Error{Code: ErrCodeInvalid, Path: cfgPath, Err: fmt.Errorf("fps 必须在 [1, 240] 内（0 表示保持原帧率），实际是 %d", fps)}
	}

	targetMB := 0
	if cli.TargetMBSet {
		targetMB = cli.TargetMB
	} else if fc.TargetMB != 0 {
		targetMB = fc.TargetMB
	}
	if targetMB < 0 {
		return EffectiveConfig{}, &Error{Code: ErrCodeInvalid, Path: cfgPath, Err: fmt.Errorf("target_mb 不能为负数：%d", targetMB)}
	}
	if targetMB > 0 && encoder != "libx264" {
		return EffectiveConfig{}, &Error{Code: ErrCodeInvalid, Path: cfgPath, Err: fmt.Errorf("target_mb 模式需要两遍编码，仅支持 libx264，实际 encoder=%s", encoder)}
	}

	// apply：CLI > config > 默认 false
	apply := false
	if cli.ApplySet {
		apply = cli.Apply
	} else if fc.Apply != nil {
		apply = *fc.Apply
	}

	force := false
	if cli.ForceSet {
		force = cli.Force
	} else if fc.Force != nil {
		force = *fc.Force
	}

	audioKbps := fc.AudioKbps
	if audioKbps == 0 {
		audioKbps = DefaultAudioKbps
	}
	if audioKbps < 32 {
		audioKbps = 32
	}
	if audioKbps > 320 {
		audioKbps = 320
	}

	concurrency := fc.Concurrency
	if concurrency == 0 {
		concurrency = DefaultConcurrency
	}
	// 文档约定：范围建议 [1, 8]；超出截断。
	if concurrency < 1 {
		concurrency = 1
	}
	if concurrency > 8 {
		concurrency = 8
	}

	keepSource := true
	if fc.KeepSource != nil {
		keepSource = *fc.KeepSource
	}

	nice := fc.Nice
	if nice < 0 {
		nice = 0
	}
	if nice > 19 {
		nice = 19
	}

	timeoutMinutes := fc.TimeoutMinutes
	if timeoutMinutes < 0 {
		timeoutMinutes = 0
	}
	if timeoutMinutes > 1440 {
		timeoutMinutes = 1440
	}

	notify := true
	if fc.Notify != nil {
		notify = *fc.Notify
	}

	proxyURL := ""
	if fc.Proxy != nil {
		proxyURL = strings.TrimSpace(fc.Proxy.URL)
	}
	if proxyURL != "" {
		u, err := url.Parse(proxyURL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return EffectiveConfig{}, &Error{Code: ErrCodeInvalid, Path: cfgPath, Err: fmt.Errorf("proxy.url 无效：%q", proxyURL)}
		}
	}

	ffmpegDir := strings.TrimSpace(fc.FFmpegDir)

	return EffectiveConfig{
		Path:           absPath,
		Encoder:        encoder,
		Quality:        quality,
		Preset:         preset,
		ScaleWidth:     scaleWidth,
		FPS:            fps,
		AudioKbps:      audioKbps,
		TargetMB:       targetMB,
		Apply:          apply,
		Force:          force,
		Concurrency:    concurrency,
		KeepSource:     keepSource,
		Nice:           nice,
		TimeoutMinutes: timeoutMinutes,
		Notify:         notify,
		ExcludeDirs:    append([]string(nil), fc.ExcludeDirs...),
		FFmpegDir:      ffmpegDir,
		ProxyURL:       proxyURL,
	}, nil
}

// CanonicalEncoder 把用户输入（含友好别名）规范化为 ffmpeg 编码器名。
func CanonicalEncoder(s string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "libx264", "cpu", "x264":
		return "libx264", nil
	case "h264_nvenc", "nvenc", "nvidia":
		return "h264_nvenc", nil
	case "h264_amf", "amf", "amd":
		return "h264_amf", nil
	case "h264_qsv", "qsv", "intel":
		return "h264_qsv", nil
	case "":
		return "", fmt.Errorf("encoder 不能为空")
	default:
		return "", fmt.Errorf("encoder 只能是 libx264/h264_nvenc/h264_amf/h264_qsv（或别名 cpu/nvidia/amd/intel），实际是 %q", s)
	}
}

// ParseQuality 解析质量档位：high/medium/strong 或显式 CRF 数值（0-51）。
func ParseQuality(s string) (int, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "high":
		return CRFHigh, nil
	case "medium":
		return CRFMedium, nil
	case "strong":
		return CRFStrong, nil
	case "":
		return 0, fmt.Errorf("quality 不能为空")
	}
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("quality 只能是 high/medium/strong 或 0-51 的数值，实际是 %q", s)
	}
	if n < 0 || n > 51 {
		return 0, fmt.Errorf("quality 数值必须在 [0, 51] 内，实际是 %d", n)
	}
	return n, nil
}

// ParseScale 解析分辨率档位：original/1080p/720p/480p 或显式目标宽度。
// 返回 0 表示保持原分辨率。
func ParseScale(s string) (int, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "original":
		return 0, nil
	case "1080p":
		return 1920, nil
	case "720p":
		return 1280, nil
	case "480p":
		return 854, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("scale 只能是 original/1080p/720p/480p 或目标宽度数值，实际是 %q", s)
	}
	if n < 16 || n > 7680 {
		return 0, fmt.Errorf("scale 宽度必须在 [16, 7680] 内，实际是 %d", n)
	}
	if n%2 != 0 {
		return 0, fmt.Errorf("scale 宽度必须是偶数（h264 像素格式要求），实际是 %d", n)
	}
	return n, nil
}

var x264Presets = map[string]struct{}{
	"ultrafast": {}, "superfast": {}, "veryfast": {}, "faster": {}, "fast": {},
	"medium": {}, "slow": {}, "slower": {}, "veryslow": {},
}

func validatePreset(p string) error {
	if p == "" {
		return fmt.Errorf("preset 不能为空")
	}
	if _, ok := x264Presets[p]; !ok {
		return fmt.Errorf("preset 必须是 x264 预设（ultrafast..veryslow），实际是 %q", p)
	}
	return nil
}

// configDirFor 返回 path 对应的配置文件目录：
// - path 是目录：即该目录
// - path 是文件或不存在：取其父目录（按词法处理，不强制 stat 成功）
func configDirFor(absPath string) string {
	if fi, err := os.Stat(absPath); err == nil && fi.IsDir() {
		return absPath
	}
	return filepath.Dir(absPath)
}

// absCleanFrom 以 base 为基准，把 p 变为 clean + absolute。
// - p 若已是绝对路径：直接 Clean
// - p 若是相对路径：Join(base, p) 后 Clean
func absCleanFrom(base, p string) string {
	p = filepath.Clean(strings.TrimSpace(p))
	if p == "" {
		return ""
	}
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Clean(filepath.Join(base, p))
}

// readFileConfig 读取并解析 JSON 配置文件。
// 返回值 exists 表示该文件是否存在（不存在不算错误）。
func readFileConfig(path string) (fc FileConfig, exists bool, err error) {
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return FileConfig{}, false, nil
		}
		return FileConfig{}, false, err
	}
	if err := json.Unmarshal(b, &fc); err != nil {
		return FileConfig{}, true, err
	}
	return fc, true, nil
}
