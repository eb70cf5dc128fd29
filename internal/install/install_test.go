package install

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
)

// buildsFixture 模拟 gyan.dev 构建页：永久链接、sha256、7z、git 构建都不该被选中。
const buildsFixture = `<html><body><main>
<p>permalinks:
  <a href="ffmpeg-release-essentials.zip">release-essentials</a>
  <a href="ffmpeg-git-full.7z">git-full</a>
</p>
<h3>release builds</h3>
<div class="listing">
  <a href="packages/ffmpeg-7.1-essentials_build.zip">ffmpeg-7.1-essentials_build.zip</a>
  <a href="packages/ffmpeg-7.1-essentials_build.zip.sha256">sha256</a>
  <a href="packages/ffmpeg-7.1-full_build.7z">ffmpeg-7.1-full_build.7z</a>
</div>
<h3>git master builds</h3>
<a href="packages/ffmpeg-2024-06-17-git-essentials_build.7z">git essentials</a>
</main></body></html>`

func TestParseBuildsPage_PicksVersionedEssentialsZip(t *testing.T) {
	rel, err := parseBuildsPage(strings.NewReader(buildsFixture), "https://www.gyan.dev/ffmpeg/builds/")
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	if rel.URL != "https://www.gyan.dev/ffmpeg/builds/packages/ffmpeg-7.1-essentials_build.zip" {
		t.Fatalf("URL 不符合预期：%q", rel.URL)
	}
	if rel.Version != "7.1" {
		t.Fatalf("版本不符合预期：%q", rel.Version)
	}
}

func TestParseBuildsPage_NoLinkIsError(t *testing.T) {
	_, err := parseBuildsPage(strings.NewReader("<html><body><a href='x.7z'>x</a></body></html>"), "https://example.com/")
	if err == nil {
		t.Fatalf("期望错误")
	}
}

type rtFunc func(*http.Request) (*http.Response, error)

func (f rtFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }

func TestResolveRelease_UsesPageWhenParsable(t *testing.T) {
	c := &http.Client{Transport: rtFunc(func(r *http.Request) (*http.Response, error) {
		return &http.Response{
			StatusCode: http.StatusOK,
			Header:     make(http.Header),
			Body:       httpBody(buildsFixture),
			Request:    r,
		}, nil
	})}

	rel := ResolveRelease(context.Background(), c)
	if rel.Version != "7.1" {
		t.Fatalf("期望解析出版本，实际 %+v", rel)
	}
}

func TestResolveRelease_FallsBackOnFetchFailure(t *testing.T) {
	c := &http.Client{Transport: rtFunc(func(r *http.Request) (*http.Response, error) {
		return nil, errors.New("no network")
	})}

	rel := ResolveRelease(context.Background(), c)
	if rel.URL != fallbackZipURL {
		t.Fatalf("期望退回固定链接，实际 %q", rel.URL)
	}
	if rel.Version != "" {
		t.Fatalf("兜底链接不应有版本号：%q", rel.Version)
	}
}

func httpBody(s string) *readCloser { return &readCloser{Reader: strings.NewReader(s)} }

type readCloser struct{ *strings.Reader }

func (r *readCloser) Close() error { return nil }

func TestDownload_WritesFileAndReportsPercent(t *testing.T) {
	payload := bytes.Repeat([]byte("v"), 64*1024)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/zip")
		_, _ = w.Write(payload)
	}))
	defer srv.Close()

	destDir := t.TempDir()
	var pcts []float64
	got, err := Download(context.Background(), srv.Client(), srv.URL+"/packages/ffmpeg-7.1-essentials_build.zip", destDir, func(p float64) {
		pcts = append(pcts, p)
	})
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	if filepath.Base(got) != "ffmpeg-7.1-essentials_build.zip" {
		t.Fatalf("落盘文件名不符合预期：%q", got)
	}
	b, err := os.ReadFile(got)
	if err != nil || !bytes.Equal(b, payload) {
		t.Fatalf("下载内容不完整：err=%v len=%d", err, len(b))
	}
	if len(pcts) == 0 {
		t.Fatalf("期望进度回调")
	}
	for i := 1; i < len(pcts); i++ {
		if pcts[i] < pcts[i-1] {
			t.Fatalf("进度应单调递增：%v", pcts)
		}
	}
	if last := pcts[len(pcts)-1]; last < 99.9 {
		t.Fatalf("最终进度应到 100%%，实际 %.1f", last)
	}
}

func TestDownload_BadStatusLeavesNothing(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	destDir := t.TempDir()
	if _, err := Download(context.Background(), srv.Client(), srv.URL+"/x.zip", destDir, nil); err == nil {
		t.Fatalf("期望错误")
	}
	ents, err := os.ReadDir(destDir)
	if err != nil {
		t.Fatalf("读目录失败：%v", err)
	}
	if len(ents) != 0 {
		t.Fatalf("失败的下载不应留下文件：%v", ents)
	}
}

func writeZip(t *testing.T, entries map[string]string) string {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, body := range entries {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatalf("zip create: %v", err)
		}
		if _, err := w.Write([]byte(body)); err != nil {
			t.Fatalf("zip write: %v", err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("zip close: %v", err)
	}
	p := filepath.Join(t.TempDir(), "ffmpeg.zip")
	if err := os.WriteFile(p, buf.Bytes(), 0o644); err != nil {
		t.Fatalf("写 zip 失败：%v", err)
	}
	return p
}

func TestExtractTools_FlattensBinEntries(t *testing.T) {
	zipPath := writeZip(t, map[string]string{
		"ffmpeg-7.1-essentials_build/bin/ffmpeg.exe":     "FFMPEG",
		"ffmpeg-7.1-essentials_build/bin/ffprobe.exe":    "FFPROBE",
		"ffmpeg-7.1-essentials_build/doc/readme.txt":     "doc",
		"ffmpeg-7.1-essentials_build/presets/x.ffpreset": "preset",
	})
	binDir := filepath.Join(t.TempDir(), "ffmpeg", "bin")

	if err := ExtractTools(zipPath, binDir); err != nil {
		t.Fatalf("不期望错误：%v", err)
	}

	for name, want := range map[string]string{"ffmpeg.exe": "FFMPEG", "ffprobe.exe": "FFPROBE"} {
		b, err := os.ReadFile(filepath.Join(binDir, name))
		if err != nil || string(b) != want {
			t.Fatalf("%s 解包不正确：err=%v body=%q", name, err, b)
		}
	}
	ents, err := os.ReadDir(binDir)
	if err != nil {
		t.Fatalf("读目录失败：%v", err)
	}
	if len(ents) != 2 {
		t.Fatalf("只应解出两个二进制，实际：%v", ents)
	}
}

func TestExtractTools_MissingToolIsError(t *testing.T) {
	zipPath := writeZip(t, map[string]string{
		"ffmpeg-7.1-essentials_build/bin/ffmpeg.exe": "FFMPEG",
	})
	err := ExtractTools(zipPath, filepath.Join(t.TempDir(), "bin"))
	if err == nil || !strings.Contains(err.Error(), "ffprobe.exe") {
		t.Fatalf("期望报告缺失的 ffprobe.exe，实际：%v", err)
	}
}

func TestVerifyTools_RunsEachBinary(t *testing.T) {
	binDir := t.TempDir()
	for _, tool := range []string{"ffmpeg", "ffprobe"} {
		if err := os.WriteFile(filepath.Join(binDir, exeName(tool)), []byte("#!"), 0o755); err != nil {
			t.Fatalf("写二进制失败：%v", err)
		}
	}

	orig := runVersion
	defer func() { runVersion = orig }()

	var ran []string
	runVersion = func(ctx context.Context, toolPath string) error {
		ran = append(ran, filepath.Base(toolPath))
		return nil
	}
	if err := VerifyTools(context.Background(), binDir); err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	if len(ran) != 2 {
		t.Fatalf("期望验证两个二进制，实际：%v", ran)
	}

	runVersion = func(ctx context.Context, toolPath string) error {
		return errors.New("exec format error")
	}
	if err := VerifyTools(context.Background(), binDir); err == nil {
		t.Fatalf("二进制无法运行时应报错")
	}
}

func TestVerifyTools_MissingBinaryIsError(t *testing.T) {
	if err := VerifyTools(context.Background(), t.TempDir()); err == nil {
		t.Fatalf("空目录应报错")
	}
}

func TestSetup_NonWindowsReturnsHint(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("仅适用于非 Windows 平台")
	}
	_, err := Setup(context.Background(), Options{})
	var he *HintError
	if !errors.As(err, &he) {
		t.Fatalf("期望 *HintError，实际：%v", err)
	}
	if he.Hint == "" {
		t.Fatalf("提示不应为空")
	}
}
