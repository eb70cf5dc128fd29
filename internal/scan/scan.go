package scan

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/John-Robertt/compv/internal/domain"
)

// OutputPrefix 是压缩产物的文件名前缀。扫描阶段永久排除带该前缀的文件，
// 避免批量目录反复运行时把上一轮产物再压一遍。
const OutputPrefix = "compressed_"

// UnsupportedError 表示显式指定的输入文件扩展名不受支持。
// 上层可把它映射为 error_code=unsupported_input。
type UnsupportedError struct {
	Path string
	Ext  string
}

func (e *UnsupportedError) Error() string {
	return fmt.Sprintf("不支持的输入格式 %q：%s", e.Ext, e.Path)
}

// ScanVideos 扫描 root 下的视频文件，并应用排除规则。
//
// 规则（硬约束）：
// - 永久排除：文件名带 compressed_ 前缀的产物，以及 '.' 开头的隐藏/临时文件
// - excludeDirs：来自配置文件，均视为相对 root 的路径（若是绝对路径，则按绝对路径处理）
//
// 注意：扫描阶段只做 stat（DirEntry.Info），不读文件内容。
func ScanVideos(root string, excludeDirs []string) ([]domain.VideoFile, error) {
	root = filepath.Clean(root)
	excluded := buildExcluded(root, excludeDirs)

	files := make([]domain.VideoFile, 0, 64)
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}

		// 统一的排除判断：目录用 SkipDir，文件则直接跳过。
		if isExcluded(path, excluded) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		if d.IsDir() {
			return nil
		}

		name := d.Name()
		if strings.HasPrefix(name, OutputPrefix) || strings.HasPrefix(name, ".") {
			return nil
		}
		ext := strings.ToLower(filepath.Ext(name))
		if !IsVideoExt(ext) {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return err
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}

		files = append(files, domain.VideoFile{
			AbsPath: path,
			RelPath: rel,
			Base:    strings.TrimSuffix(name, filepath.Ext(name)),
			Ext:     ext,
			Size:    info.Size(),
			ModUnix: info.ModTime().Unix(),
		})
		return nil
	})
	if err != nil {
		return nil, err
	}

	// 强制稳定输出，避免不同平台/文件系统行为差异带来的不确定性。
	sort.Slice(files, func(i, j int) bool { return files[i].RelPath < files[j].RelPath })
	return files, nil
}

// One 处理显式指定的单个输入文件（拖拽/CLI 直接给文件路径的场景）。
// 扩展名不受支持时返回 *UnsupportedError，由上层降级为 unsupported 条目。
func One(path string) (domain.VideoFile, error) {
	path = filepath.Clean(path)
	info, err := os.Stat(path)
	if err != nil {
		return domain.VideoFile{}, err
	}
	if info.IsDir() {
		return domain.VideoFile{}, fmt.Errorf("期望文件，实际是目录：%s", path)
	}

	name := filepath.Base(path)
	ext := strings.ToLower(filepath.Ext(name))
	if !IsVideoExt(ext) {
		return domain.VideoFile{}, &UnsupportedError{Path: path, Ext: ext}
	}

	return domain.VideoFile{
		AbsPath: path,
		RelPath: name,
		Base:    strings.TrimSuffix(name, filepath.Ext(name)),
		Ext:     ext,
		Size:    info.Size(),
		ModUnix: info.ModTime().Unix(),
	}, nil
}

// IsVideoExt 判断扩展名（小写、带点）是否是本工具处理的视频格式。
func IsVideoExt(ext string) bool {
	switch ext {
	case ".mp4", ".mkv", ".avi", ".mov", ".webm", ".wmv", ".flv", ".ts":
		return true
	default:
		return false
	}
}

func buildExcluded(root string, excludeDirs []string) []string {
	excluded := make([]string, 0, len(excludeDirs))
	for _, x := range excludeDirs {
		x = strings.TrimSpace(x)
		if x == "" {
			continue
		}
		if filepath.IsAbs(x) {
			excluded = append(excluded, filepath.Clean(x))
			continue
		}
		// x 是相对路径：相对 root。
		excluded = append(excluded, filepath.Clean(filepath.Join(root, x)))
	}

	// 排除列表排序后，isExcluded 的行为更可预测（且便于测试）。
	sort.Strings(excluded)
	return excluded
}

func isExcluded(path string, excluded []string) bool {
	path = filepath.Clean(path)
	for _, base := range excluded {
		if isUnder(path, base) {
			return true
		}
	}
	return false
}

func isUnder(path, base string) bool {
	if path == base {
		return true
	}
	sep := string(filepath.Separator)
	return strings.HasPrefix(path, base+sep)
}
