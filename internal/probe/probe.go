// Package probe issues the network probes: a cheap HEAD (with a GET
// first-byte fallback) for status and latency, and a separate full
// fetch that extracts page text for keyword scanning.
package probe

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"
	"golang.org/x/net/html/charset"

	"github.com/politeping/politeping/internal/hash/sha256"
	"github.com/politeping/politeping/internal/monitor"
	"github.com/politeping/politeping/internal/textnorm"
)

const (
	acceptHeader = "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8"
	maxTitleLen  = 200
)

// Config holds the probe timeout budgets and scan ceiling.
type Config struct {
	UserAgent      string
	ConnectTimeout time.Duration
	ReadTimeout    time.Duration
	TotalTimeout   time.Duration
	MaxScanBytes   int64
}

// Executor performs probes with separate connect/read/total budgets.
type Executor struct {
	cfg        Config
	client     *http.Client
	normalizer *textnorm.Normalizer
	hasher     *sha256.Hasher
	logger     *zap.Logger
}

// New builds an Executor around a pooled transport, in the same shape
// the HTTP clients elsewhere in this codebase use.
func New(cfg Config, normalizer *textnorm.Normalizer, logger *zap.Logger) *Executor {
	if cfg.MaxScanBytes <= 0 {
		cfg.MaxScanBytes = 3_000_000
	}
	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   cfg.ConnectTimeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   cfg.ConnectTimeout,
		ResponseHeaderTimeout: cfg.ReadTimeout,
		ExpectContinueTimeout: time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
	return &Executor{
		cfg: cfg,
		client: &http.Client{
			Transport: transport,
			Timeout:   cfg.TotalTimeout,
		},
		normalizer: normalizer,
		hasher:     sha256.New(),
		logger:     logger,
	}
}

// Probe measures status and TTFB for the URL. The primary attempt is
// a HEAD following redirects; if it fails at the transport level the
// executor falls back to a GET that reads only the first chunk of the
// body. The fallback is suppressed when the robots decision is
// UNKNOWN, so a host that never declared a policy is not crawled
// beyond the cheapest possible request.
func (e *Executor) Probe(ctx context.Context, rawURL string, robots monitor.RobotsDecision) (monitor.ProbeResult, error) {
	start := time.Now()
	status, err := e.head(ctx, rawURL)
	if err == nil {
		return monitor.ProbeResult{StatusCode: status, TTFB: time.Since(start)}, nil
	}
	if robots == monitor.RobotsUnknown {
		return monitor.ProbeResult{}, fmt.Errorf("head probe: %w", err)
	}

	e.logger.Debug("head probe failed, falling back to GET",
		zap.String("url", rawURL), zap.Error(err))
	start = time.Now()
	status, err = e.getFirstByte(ctx, rawURL)
	if err != nil {
		return monitor.ProbeResult{}, fmt.Errorf("get fallback: %w", err)
	}
	return monitor.ProbeResult{StatusCode: status, TTFB: time.Since(start)}, nil
}

func (e *Executor) head(ctx context.Context, rawURL string) (int, error) {
	req, err := e.newRequest(ctx, http.MethodHead, rawURL)
	if err != nil {
		return 0, err
	}
	resp, err := e.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("head request: %w", err)
	}
	e.closeBody(resp)
	return resp.StatusCode, nil
}

// getFirstByte issues a GET and reads a single chunk of the body,
// enough to measure TTFB without downloading the page.
func (e *Executor) getFirstByte(ctx context.Context, rawURL string) (int, error) {
	req, err := e.newRequest(ctx, http.MethodGet, rawURL)
	if err != nil {
		return 0, err
	}
	resp, err := e.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("get request: %w", err)
	}
	defer e.closeBody(resp)

	chunk := make([]byte, 1024)
	if _, rerr := resp.Body.Read(chunk); rerr != nil && rerr != io.EOF {
		// Headers arrived, so the status stands; the body read is
		// best-effort.
		e.logger.Debug("first-byte read failed", zap.String("url", rawURL), zap.Error(rerr))
	}
	return resp.StatusCode, nil
}

// FetchContent re-requests the URL and extracts the page title plus
// normalized text and its truncated SHA-256 digest. Call it only when
// the primary probe returned HTTP 200. Decoding is permissive: the
// declared or sniffed charset is honored when possible, and anything
// undecodable degrades to raw bytes with invalid UTF-8 dropped.
func (e *Executor) FetchContent(ctx context.Context, rawURL string) (monitor.PageContent, error) {
	req, err := e.newRequest(ctx, http.MethodGet, rawURL)
	if err != nil {
		return monitor.PageContent{}, err
	}
	resp, err := e.client.Do(req)
	if err != nil {
		return monitor.PageContent{}, fmt.Errorf("content request: %w", err)
	}
	defer e.closeBody(resp)

	raw, err := io.ReadAll(io.LimitReader(resp.Body, e.cfg.MaxScanBytes))
	if err != nil && len(raw) == 0 {
		return monitor.PageContent{}, fmt.Errorf("read content body: %w", err)
	}

	contentType := resp.Header.Get("Content-Type")
	html := e.decode(raw, contentType, rawURL)
	normalized := e.normalizer.Normalize(html)

	return monitor.PageContent{
		Title:          extractTitle(html),
		NormalizedText: normalized,
		ContentType:    contentType,
		SHA256:         e.hasher.HashText(normalized),
	}, nil
}

func (e *Executor) decode(raw []byte, contentType, rawURL string) string {
	reader, err := charset.NewReader(bytes.NewReader(raw), contentType)
	if err == nil {
		if decoded, rerr := io.ReadAll(reader); rerr == nil {
			return strings.ToValidUTF8(string(decoded), "")
		}
	}
	e.logger.Debug("charset decode failed, keeping raw bytes",
		zap.String("url", rawURL), zap.String("content_type", contentType))
	return strings.ToValidUTF8(string(raw), "")
}

func extractTitle(html string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return ""
	}
	title := strings.Join(strings.Fields(doc.Find("title").First().Text()), " ")
	if runes := []rune(title); len(runes) > maxTitleLen {
		title = string(runes[:maxTitleLen])
	}
	return title
}

func (e *Executor) newRequest(ctx context.Context, method, rawURL string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("new %s request: %w", method, err)
	}
	if e.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", e.cfg.UserAgent)
	}
	req.Header.Set("Accept", acceptHeader)
	return req, nil
}

func (e *Executor) closeBody(resp *http.Response) {
	if _, err := io.Copy(io.Discard, io.LimitReader(resp.Body, 4096)); err != nil {
		e.logger.Debug("drain response body", zap.Error(err))
	}
	if err := resp.Body.Close(); err != nil {
		e.logger.Debug("close response body", zap.Error(err))
	}
}
