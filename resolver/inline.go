package resolver

import (
	"context"
	"encoding/base64"
	"mime"
	"path"
	"regexp"
	"strings"

	"fetchoraw/downloader"
)

const DefaultInlineLimit = 2 * 1024 * 1024 // 2MB

var DefaultAllowMimeTypes = []*regexp.Regexp{
	regexp.MustCompile(`^image/`),
	regexp.MustCompile(`^audio/`),
	regexp.MustCompile(`^video/`),
	regexp.MustCompile(`^application/pdf$`),
}

// Never inlined, whatever the allow list says.
var deniedMimeTypes = []*regexp.Regexp{
	regexp.MustCompile(`^application/octet-stream$`),
	regexp.MustCompile(`^application/x-msdownload$`),
	regexp.MustCompile(`^application/zip$`),
	regexp.MustCompile(`^text/html$`),
	regexp.MustCompile(`^application/javascript$`),
	regexp.MustCompile(`^text/javascript$`),
}

type InlineConfig struct {
	Common
	InlineLimitBytes int64            // <= 0 means DefaultInlineLimit
	AllowMimeTypes   []*regexp.Regexp // nil means DefaultAllowMimeTypes
}

type Inline struct {
	caps  Capabilities
	cfg   InlineConfig
	limit int64
	allow []*regexp.Regexp
}

func NewInline(caps Capabilities, cfg InlineConfig) *Inline {
	r := &Inline{caps: caps, cfg: cfg, limit: cfg.InlineLimitBytes, allow: cfg.AllowMimeTypes}
	if r.limit <= 0 {
		r.limit = DefaultInlineLimit
	}
	if r.allow == nil {
		r.allow = DefaultAllowMimeTypes
	}
	return r
}

func (r *Inline) Resolve(ctx context.Context, rawURL string, opts downloader.FetchOptions) (Result, error) {
	if isJavaScriptURL(rawURL) || !r.cfg.matches(rawURL) || r.caps.Fetcher == nil {
		return Simple(rawURL), nil
	}

	s, err := r.inline(ctx, rawURL, opts)
	if err != nil {
		r.caps.logger().Warn("inline failed", "url", rawURL, "error", err.Error())
		s, err = r.cfg.OnError.apply(rawURL, err)
	}
	return Simple(s), err
}

func (r *Inline) inline(ctx context.Context, rawURL string, opts downloader.FetchOptions) (string, error) {
	resp, err := fetchOK(ctx, r.caps.Fetcher, rawURL, opts)
	if err != nil {
		return "", err
	}
	if int64(len(resp.Body)) > r.limit {
		r.caps.logger().Debug("over inline limit", "url", rawURL, "bytes", len(resp.Body), "limit", r.limit)
		return rawURL, nil
	}

	ct := mediaType(resp.ContentType())
	if ct == "" {
		ct = mediaType(mime.TypeByExtension(path.Ext(urlPath(rawURL))))
	}
	if ct == "" {
		return "", &MimeUndeterminedError{URL: rawURL}
	}
	if MatchAny(deniedMimeTypes, ct) || !MatchAny(r.allow, ct) {
		r.caps.logger().Debug("mime not inlined", "url", rawURL, "contentType", ct)
		return rawURL, nil
	}

	return "data:" + ct + ";base64," + base64.StdEncoding.EncodeToString(resp.Body), nil
}

// mediaType strips parameters such as charset.
func mediaType(ct string) string {
	if ct == "" {
		return ""
	}
	mt, _, err := mime.ParseMediaType(ct)
	if err != nil {
		mt, _, _ = strings.Cut(ct, ";")
	}
	return strings.ToLower(strings.TrimSpace(mt))
}

func urlPath(rawURL string) string {
	p, _ := splitQuery(rawURL)
	return p
}
