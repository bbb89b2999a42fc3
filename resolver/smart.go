package resolver

import (
	"context"
	"regexp"

	"fetchoraw/downloader"
)

type SmartConfig struct {
	Common
	Inline              InlineConfig
	File                FileConfig
	RequireFilePatterns []*regexp.Regexp
}

// Smart inlines small assets and saves the rest. Only an error from the inline
// step falls back to saving; a returned URL (too large, MIME not allowed) is final.
type Smart struct {
	caps   Capabilities
	cfg    SmartConfig
	inline Resolver
	file   Resolver
}

func NewSmart(caps Capabilities, cfg SmartConfig) *Smart {
	in := cfg.Inline
	in.Common = Common{TargetPatterns: cfg.TargetPatterns, OnError: Throw}
	fc := cfg.File
	fc.Common = Common{TargetPatterns: cfg.TargetPatterns, OnError: Throw}
	return Compose(caps, NewInline(caps, in), NewFileSave(caps, fc), cfg)
}

// Compose builds a Smart resolver over existing strategies. Both should report
// failures as errors rather than fallback values.
func Compose(caps Capabilities, inline, file Resolver, cfg SmartConfig) *Smart {
	return &Smart{caps: caps, cfg: cfg, inline: inline, file: file}
}

func (r *Smart) Resolve(ctx context.Context, rawURL string, opts downloader.FetchOptions) (Result, error) {
	if isJavaScriptURL(rawURL) || !r.cfg.matches(rawURL) {
		return Simple(rawURL), nil
	}

	if MatchAny(r.cfg.RequireFilePatterns, rawURL) {
		return r.saveFile(ctx, rawURL, opts)
	}

	res, err := r.inline.Resolve(ctx, rawURL, opts)
	if err == nil {
		return res, nil
	}
	r.caps.logger().Debug("inline failed, saving file", "url", rawURL, "error", err.Error())
	return r.saveFile(ctx, rawURL, opts)
}

func (r *Smart) saveFile(ctx context.Context, rawURL string, opts downloader.FetchOptions) (Result, error) {
	res, err := r.file.Resolve(ctx, rawURL, opts)
	if err != nil {
		r.caps.logger().Warn("smart resolve failed", "url", rawURL, "error", err.Error())
		s, err := r.cfg.OnError.apply(rawURL, err)
		return Simple(s), err
	}
	return res, nil
}
