package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/John-Robertt/compv/internal/domain"
	"github.com/John-Robertt/compv/internal/infra/fsx"
)

// Store 提供用户级缓存目录（UserCacheDir/compv）下的文件读写。
//
// 三类内容：
// - probe/：ffprobe 结果缓存（键 = 源文件绝对路径+大小+mtime 的哈希）
// - downloads/：setup 下载的 FFmpeg 压缩包暂存
// - report.json：最近一次 apply 运行的 RunReport 副本
//
// 约束：
// - dry-run：只允许读（ReadOnly=true），与“dry-run 不落盘”契约对齐
// - apply：允许写（ReadOnly=false）
type Store struct {
	Root     string
	ReadOnly bool
}

var ErrReadOnly = errors.New("cache: read-only")

func New(root string, readOnly bool) Store {
	return Store{
		Root:     filepath.Clean(strings.TrimSpace(root)),
		ReadOnly: readOnly,
	}
}

// DefaultRoot 返回默认缓存根目录（不创建）。
func DefaultRoot() (string, error) {
	base, err := os.UserCacheDir()
	if err != nil {
		return "", fmt.Errorf("定位用户缓存目录失败：%w", err)
	}
	return filepath.Join(base, "compv"), nil
}

// ProbeKey 由源文件身份三元组生成缓存键。
//
// 大小或 mtime 任一变化都会得到新键，旧条目自然失效（无需显式过期逻辑）。
func ProbeKey(absPath string, size, modUnix int64) string {
	h := sha256.New()
	h.Write([]byte(absPath))
	h.Write([]byte{0})
	h.Write([]byte(strconv.FormatInt(size, 10)))
	h.Write([]byte{0})
	h.Write([]byte(strconv.FormatInt(modUnix, 10)))
	return hex.EncodeToString(h.Sum(nil))[:24]
}

// ProbePath 返回 probe 缓存条目的绝对路径。
func (s Store) ProbePath(key string) (string, error) {
	if err := checkKey(key); err != nil {
		return "", err
	}
	return filepath.Join(s.Root, "probe", key+".json"), nil
}

// ReadProbe 读取 probe 缓存。miss 时返回 ok=false 且 err=nil。
func (s Store) ReadProbe(key string) (domain.MediaInfo, bool, error) {
	path, err := s.ProbePath(key)
	if err != nil {
		return domain.MediaInfo{}, false, err
	}
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return domain.MediaInfo{}, false, nil
		}
		return domain.MediaInfo{}, false, err
	}
	var info domain.MediaInfo
	if err := json.Unmarshal(b, &info); err != nil {
		// 条目损坏按 miss 处理（调用方会重新探测并覆盖写回）。
		return domain.MediaInfo{}, false, nil
	}
	return info, true, nil
}

func (s Store) WriteProbe(key string, info domain.MediaInfo) error {
	if s.ReadOnly {
		return ErrReadOnly
	}
	if err := checkKey(key); err != nil {
		return err
	}
	b, err := json.Marshal(info)
	if err != nil {
		return err
	}
	dir := filepath.Join(s.Root, "probe")
	return fsx.WriteFileAtomicReplace(dir, key+".json", b)
}

// ReportPath 返回最近一次运行报告的落盘位置。
func (s Store) ReportPath() string {
	return filepath.Join(s.Root, "report.json")
}

// WriteReport 覆盖写最近一次运行的 RunReport（仅 apply 运行调用）。
func (s Store) WriteReport(rr domain.RunReport) error {
	if s.ReadOnly {
		return ErrReadOnly
	}
	b, err := json.MarshalIndent(rr, "", "  ")
	if err != nil {
		return err
	}
	return fsx.WriteFileAtomicReplace(s.Root, "report.json", b)
}

// DownloadsDir 返回（并确保存在）下载暂存目录。
func (s Store) DownloadsDir() (string, error) {
	if s.ReadOnly {
		return "", ErrReadOnly
	}
	dir := filepath.Join(s.Root, "downloads")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	return dir, nil
}

var keyRE = regexp.MustCompile(`^[a-f0-9]{16,64}$`)

func checkKey(key string) error {
	// 最小约束：键是我们自己生成的十六进制串；校验只为挡住路径穿越类 bug。
	if !keyRE.MatchString(key) {
		return fmt.Errorf("非法缓存键：%q", key)
	}
	return nil
}
