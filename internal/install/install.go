// Package install 实现 compv setup：在 Windows 上自动下载并安装便携版 FFmpeg。
//
// 流程：解析 gyan.dev 构建页拿到当前 release-essentials 压缩包（解析失败退回
// 固定 URL）→ 带进度下载 → 解包出 ffmpeg.exe/ffprobe.exe 放进
// <可执行文件目录>/ffmpeg/bin/ → 逐个运行 -version 验证。
//
// 非 Windows 平台不自动安装（包管理器更可靠），返回 *HintError 指引手动安装。
package install

import (
	"archive/zip"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"os/exec"
	"path"
	"path/filepath"
	"regexp"
	"runtime"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/John-Robertt/compv/internal/ffmpeg"
	"github.com/John-Robertt/compv/internal/infra/fsx"
)

const (
	// buildsPageURL 是 gyan.dev 的构建索引页（解析出带版本号的下载链接）。
	buildsPageURL = "https://www.gyan.dev/ffmpeg/builds/"
	// fallbackZipURL 是固定的 release-essentials 永久链接，页面解析失败时兜底。
	fallbackZipURL = "https://www.gyan.dev/ffmpeg/builds/ffmpeg-release-essentials.zip"
)

// Release 是一次解析得到的可下载版本。
type Release struct {
	URL     string
	Version string // 如 "7.1"；使用兜底链接时为空
}

// HintError 表示当前平台不做自动安装，Hint 面向用户展示。
type HintError struct {
	Hint string
}

func (e *HintError) Error() string { return "当前平台不支持自动安装 FFmpeg：" + e.Hint }

// Options 控制一次 setup 的执行。
type Options struct {
	// Page 用于抓取构建页（短超时），Download 用于下载压缩包（无总超时）。
	Page     *http.Client
	Download *http.Client
	// DownloadDir 是压缩包暂存目录（cache 下的 downloads/）。
	DownloadDir string
	// BinDir 是安装目标目录（<exe>/ffmpeg/bin）。
	BinDir string
	// OnPercent 在下载期间回调（0..100）；Content-Length 未知时不回调。
	OnPercent func(pct float64)
}

// Setup 执行完整安装流程，返回实际安装的版本信息。
func Setup(ctx context.Context, opts Options) (Release, error) {
	if runtime.GOOS != "windows" {
		return Release{}, &HintError{Hint: ffmpeg.InstallHint()}
	}

	rel := ResolveRelease(ctx, opts.Page)

	zipPath, err := Download(ctx, opts.Download, rel.URL, opts.DownloadDir, opts.OnPercent)
	if err != nil {
		return rel, fmt.Errorf("下载 FFmpeg 失败：%w", err)
	}

	if err := ExtractTools(zipPath, opts.BinDir); err != nil {
		return rel, fmt.Errorf("解包 FFmpeg 失败：%w", err)
	}

	if err := VerifyTools(ctx, opts.BinDir); err != nil {
		return rel, fmt.Errorf("安装后验证失败：%w", err)
	}

	// 验证通过后才清理压缩包；失败时留在 downloads/ 便于排查或手动解包。
	_ = os.Remove(zipPath)
	return rel, nil
}

// ResolveRelease 解析构建页得到当前 essentials 版本；任何失败都退回固定链接。
func ResolveRelease(ctx context.Context, c *http.Client) Release {
	rel, err := resolveFromPage(ctx, c, buildsPageURL)
	if err != nil {
		return Release{URL: fallbackZipURL}
	}
	return rel
}

func resolveFromPage(ctx context.Context, c *http.Client, pageURL string) (Release, error) {
	if c == nil {
		return Release{}, errors.New("http client 不能为空")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return Release{}, err
	}
	resp, err := c.Do(req)
	if err != nil {
		return Release{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Release{}, fmt.Errorf("GET %s：意外状态码 %d", pageURL, resp.StatusCode)
	}
	return parseBuildsPage(resp.Body, pageURL)
}

// essentialsZipRE 匹配带版本号的包文件名：ffmpeg-7.1-essentials_build.zip。
var essentialsZipRE = regexp.MustCompile(`^ffmpeg-([0-9][0-9a-z.]*)-essentials_build\.zip$`)

// parseBuildsPage 在构建页 HTML 里找第一个 essentials_build.zip 链接。
//
// 页面结构可能变化，所以只依赖最稳定的事实：下载链接的文件名模式。
func parseBuildsPage(html io.Reader, pageURL string) (Release, error) {
	doc, err := goquery.NewDocumentFromReader(html)
	if err != nil {
		return Release{}, err
	}

	var rel Release
	doc.Find("a").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		href, ok := s.Attr("href")
		if !ok {
			return true
		}
		href = strings.TrimSpace(href)
		m := essentialsZipRE.FindStringSubmatch(path.Base(href))
		if m == nil {
			return true
		}
		rel = Release{URL: resolveURL(pageURL, href), Version: m[1]}
		return false
	})
	if rel.URL == "" {
		return Release{}, errors.New("构建页上没有 essentials 压缩包链接")
	}
	return rel, nil
}

func resolveURL(base, href string) string {
	if href == "" {
		return ""
	}
	if strings.HasPrefix(href, "//") {
		return "https:" + href
	}
	if strings.HasPrefix(href, "http://") || strings.HasPrefix(href, "https://") {
		return href
	}
	bu, err := url.Parse(base)
	if err != nil {
		return href
	}
	ru, err := url.Parse(href)
	if err != nil {
		return href
	}
	return bu.ResolveReference(ru).String()
}

// Download 把 zipURL 流式写入 destDir 下的同名文件并返回其路径。
//
// 写入走临时文件 + rename，下载中断不会留下看似完整的半个压缩包。
func Download(ctx context.Context, c *http.Client, zipURL, destDir string, onPercent func(float64)) (string, error) {
	if c == nil {
		return "", errors.New("http client 不能为空")
	}
	name := path.Base(zipURL)
	if u, err := url.Parse(zipURL); err == nil && u.Path != "" {
		name = path.Base(u.Path)
	}
	if name == "" || name == "." || name == "/" {
		name = "ffmpeg.zip"
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, zipURL, nil)
	if err != nil {
		return "", err
	}
	resp, err := c.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("GET %s：意外状态码 %d", zipURL, resp.StatusCode)
	}

	tmp, err := fsx.TempOutput(destDir, name)
	if err != nil {
		return "", err
	}
	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		_ = os.Remove(tmp)
		return "", err
	}

	src := io.Reader(resp.Body)
	if onPercent != nil && resp.ContentLength > 0 {
		src = &percentReader{r: resp.Body, total: resp.ContentLength, on: onPercent}
	}
	_, cerr := io.Copy(f, src)
	if err := f.Close(); cerr == nil {
		cerr = err
	}
	if cerr != nil {
		_ = os.Remove(tmp)
		return "", cerr
	}

	dst := filepath.Join(destDir, name)
	if err := fsx.Rename(tmp, dst); err != nil {
		_ = os.Remove(tmp)
		return "", err
	}
	return dst, nil
}

// percentReader 在读取过程中按整百分点回调（避免每个 chunk 都打一行进度）。
type percentReader struct {
	r     io.Reader
	total int64
	done  int64
	last  int
	on    func(float64)
}

func (p *percentReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	if n > 0 {
		p.done += int64(n)
		pct := float64(p.done) / float64(p.total) * 100
		if int(pct) > p.last {
			p.last = int(pct)
			p.on(pct)
		}
	}
	return n, err
}

// ExtractTools 从压缩包里取出 ffmpeg.exe/ffprobe.exe 平铺到 binDir。
//
// gyan.dev 的包顶层带版本号目录（ffmpeg-7.1-essentials_build/bin/...），
// 这里只认“以 bin/<工具名>.exe 结尾”的条目，其余内容（文档、预设）全部忽略，
// 也因此天然不受 zip 内恶意路径影响（落盘名永远是我们自己拼的）。
func ExtractTools(zipPath, binDir string) error {
	zr, err := zip.OpenReader(zipPath)
	if err != nil {
		return err
	}
	defer zr.Close()

	if err := os.MkdirAll(binDir, 0o755); err != nil {
		return err
	}

	found := map[string]bool{}
	for _, f := range zr.File {
		name := path.Base(f.Name)
		if name != "ffmpeg.exe" && name != "ffprobe.exe" {
			continue
		}
		if !strings.HasSuffix(path.Dir(f.Name), "bin") {
			continue
		}
		if err := extractOne(f, filepath.Join(binDir, name)); err != nil {
			return err
		}
		found[name] = true
	}

	for _, want := range []string{"ffmpeg.exe", "ffprobe.exe"} {
		if !found[want] {
			return fmt.Errorf("压缩包内缺少 bin/%s", want)
		}
	}
	return nil
}

func extractOne(f *zip.File, dst string) error {
	rc, err := f.Open()
	if err != nil {
		return err
	}
	defer rc.Close()

	tmp, err := fsx.TempOutput(filepath.Dir(dst), filepath.Base(dst))
	if err != nil {
		return err
	}
	w, err := os.OpenFile(tmp, os.O_WRONLY|os.O_TRUNC, 0o755)
	if err != nil {
		_ = os.Remove(tmp)
		return err
	}
	_, cerr := io.Copy(w, rc)
	if err := w.Close(); cerr == nil {
		cerr = err
	}
	if cerr != nil {
		_ = os.Remove(tmp)
		return cerr
	}
	if err := fsx.Rename(tmp, dst); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return nil
}

// runVersion 可注入：测试里不执行真实二进制。
var runVersion = func(ctx context.Context, toolPath string) error {
	return exec.CommandContext(ctx, toolPath, "-version").Run()
}

// VerifyTools 运行两个二进制各一次（-version），确认解包结果可执行。
func VerifyTools(ctx context.Context, binDir string) error {
	for _, tool := range []string{"ffmpeg", "ffprobe"} {
		p := filepath.Join(binDir, exeName(tool))
		fi, err := os.Stat(p)
		if err != nil || fi.IsDir() {
			return fmt.Errorf("安装目录缺少 %s", filepath.Base(p))
		}
		if err := runVersion(ctx, p); err != nil {
			return fmt.Errorf("%s 无法运行：%w", filepath.Base(p), err)
		}
	}
	return nil
}

func exeName(base string) string {
	if runtime.GOOS == "windows" {
		return base + ".exe"
	}
	return base
}
