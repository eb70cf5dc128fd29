// Package httpx 构造 setup 下载链路使用的 HTTP client。
//
// 两种画像：
//   - 页面抓取（gyan.dev 发布页，几 KB）：有总超时
//   - 压缩包下载（上百 MB）：不设总超时，慢网下固定 timeout 必然误杀；
//     取消交给 ctx，卡死由 ResponseHeaderTimeout 兜底
//
// 两者共享同一层有界重试：只重试可重放请求（GET/HEAD 且无 body）的
// 传输层错误，HTTP 错误码不重试（4xx/5xx 由调用方解释）。
package httpx

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	pageTimeout      = 20 * time.Second
	handshakeTimeout = 10 * time.Second
	headerTimeout    = 15 * time.Second

	// retryMax 不含首次尝试：2 表示最多 3 次。
	retryMax = 2

	userAgent = "compv/1"
)

// retryTransport 在传输层错误时做有界重试，并补默认 User-Agent。
type retryTransport struct {
	base http.RoundTripper
	max  int
}

func (t *retryTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req == nil {
		return nil, errors.New("nil request")
	}

	max := t.max
	if max < 0 {
		max = 0
	}
	replayable := (req.Method == http.MethodGet || req.Method == http.MethodHead) && req.Body == nil
	if !replayable {
		max = 0
	}

	var lastErr error
	for attempt := 0; ; attempt++ {
		// Clone 避免在 RoundTripper 内部污染调用方的 request。
		r := req.Clone(req.Context())
		if r.Header.Get("User-Agent") == "" {
			r.Header.Set("User-Agent", userAgent)
		}

		resp, err := t.base.RoundTrip(r)
		if err == nil {
			return resp, nil
		}
		lastErr = err

		if attempt >= max || req.Context().Err() != nil {
			return nil, lastErr
		}
		// 轻退避：给瞬时网络抖动一点恢复时间。
		select {
		case <-req.Context().Done():
			return nil, lastErr
		case <-time.After(time.Duration(attempt+1) * 500 * time.Millisecond):
		}
	}
}

// NewPageClient 构造发布页抓取用的 client（总超时 + 有界重试）。
// proxyURL 非空时所有请求走该代理；为空时遵循 HTTP(S)_PROXY 环境变量。
func NewPageClient(proxyURL string) (*http.Client, error) {
	return newClient(proxyURL, pageTimeout)
}

// NewDownloadClient 构造压缩包下载用的 client（无总超时）。
func NewDownloadClient(proxyURL string) (*http.Client, error) {
	return newClient(proxyURL, 0)
}

func newClient(proxyURL string, timeout time.Duration) (*http.Client, error) {
	base := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		TLSHandshakeTimeout:   handshakeTimeout,
		ResponseHeaderTimeout: headerTimeout,
	}

	if p := strings.TrimSpace(proxyURL); p != "" {
		u, err := url.Parse(p)
		if err != nil {
			return nil, fmt.Errorf("代理地址不合法：%w", err)
		}
		if u.Scheme == "" || u.Host == "" {
			return nil, fmt.Errorf("代理地址不合法（需要 scheme://host 形式）：%q", p)
		}
		base.Proxy = http.ProxyURL(u)
	}

	return &http.Client{
		Transport: &retryTransport{base: base, max: retryMax},
		Timeout:   timeout,
	}, nil
}
