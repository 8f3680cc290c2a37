// Package docfetch 把用户提交的文档引用解析为原始字节。
// 支持三类引用：对象存储的 key（storage:// 前缀）、已知网盘的分享链接
// （规范化为直链后下载）、以及普通 http(s) 直链。
package docfetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"refermail/internal/storage"
)

// ErrUnresolvableReference 表示引用无法解析为可下载的位置。
var ErrUnresolvableReference = errors.New("document reference cannot be resolved")

// DownloadError 表示传输层失败（网络错误或非 2xx 状态）。
type DownloadError struct {
	URL    string
	Status int
	Err    error
}

func (e *DownloadError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("download %s: status %d", e.URL, e.Status)
	}
	return fmt.Sprintf("download %s: %v", e.URL, e.Err)
}

func (e *DownloadError) Unwrap() error { return e.Err }

// StoragePrefix 标记对象存储引用。
const StoragePrefix = "storage://"

// ObjectReader 读取对象存储中的文档（由 storage.Client 实现）。
type ObjectReader interface {
	ReadObject(ctx context.Context, objectKey string) ([]byte, error)
}

// Fetcher 解析文档引用并下载内容。本层不做重试，重试归队列负责。
type Fetcher struct {
	httpClient *http.Client
	objects    ObjectReader
	maxBytes   int64
}

// NewFetcher 构造 Fetcher。objects 可为 nil（此时 storage:// 引用视为不可解析）。
func NewFetcher(objects ObjectReader, maxBytes int64) *Fetcher {
	if maxBytes <= 0 {
		maxBytes = 20 * 1024 * 1024
	}
	return &Fetcher{
		httpClient: &http.Client{Timeout: 60 * time.Second},
		objects:    objects,
		maxBytes:   maxBytes,
	}
}

// Fetch 把文档引用解析为原始字节。
func (f *Fetcher) Fetch(ctx context.Context, ref string) ([]byte, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return nil, fmt.Errorf("%w: empty reference", ErrUnresolvableReference)
	}

	if strings.HasPrefix(ref, StoragePrefix) {
		return f.fetchObject(ctx, strings.TrimPrefix(ref, StoragePrefix))
	}

	target, err := NormalizeRef(ref)
	if err != nil {
		return nil, err
	}
	return f.download(ctx, target)
}

func (f *Fetcher) fetchObject(ctx context.Context, key string) ([]byte, error) {
	if f.objects == nil {
		return nil, fmt.Errorf("%w: no object store configured", ErrUnresolvableReference)
	}
	data, err := f.objects.ReadObject(ctx, key)
	if err != nil {
		// 仅对象不存在算引用无效；存储侧的网络/超时故障保持可重试。
		if storage.IsNoSuchKey(err) {
			return nil, fmt.Errorf("%w: object %q: %v", ErrUnresolvableReference, key, err)
		}
		return nil, fmt.Errorf("read object %q: %w", key, err)
	}
	return data, nil
}

func (f *Fetcher) download(ctx context.Context, target string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnresolvableReference, err)
	}

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, &DownloadError{URL: target, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &DownloadError{URL: target, Status: resp.StatusCode}
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBytes+1))
	if err != nil {
		return nil, &DownloadError{URL: target, Err: err}
	}
	if int64(len(data)) > f.maxBytes {
		return nil, &DownloadError{URL: target, Err: fmt.Errorf("document exceeds %d bytes", f.maxBytes)}
	}
	return data, nil
}

var (
	driveFileRe = regexp.MustCompile(`^/file/d/([^/]+)`)
	docsFileRe  = regexp.MustCompile(`^/document/d/([^/]+)`)
)

// NormalizeRef 把已知网盘的分享链接规范化为直链下载形式。
// 未识别的 http(s) 链接原样放行；非 http(s) 的引用视为不可解析。
func NormalizeRef(ref string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(ref))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnresolvableReference, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("%w: unsupported scheme %q", ErrUnresolvableReference, u.Scheme)
	}

	switch strings.ToLower(u.Host) {
	case "drive.google.com":
		if m := driveFileRe.FindStringSubmatch(u.Path); m != nil {
			return "https://drive.google.com/uc?export=download&id=" + url.QueryEscape(m[1]), nil
		}
	case "docs.google.com":
		if m := docsFileRe.FindStringSubmatch(u.Path); m != nil {
			return "https://docs.google.com/document/d/" + m[1] + "/export?format=pdf", nil
		}
	case "www.dropbox.com", "dropbox.com":
		q := u.Query()
		q.Set("dl", "1")
		u.RawQuery = q.Encode()
		return u.String(), nil
	}

	return u.String(), nil
}
