package resolver

import (
	"context"

	"github.com/tidwall/gjson"
	"github.com/tidwall/pretty"

	"fetchoraw/downloader"
)

const DefaultHashLength = 6

type JSONConfig struct {
	FileConfig
	HashLength int // <= 0 means DefaultHashLength
}

// JSONSave stores API responses as pretty-printed .json files and returns the
// decoded document along with the public path.
type JSONSave struct {
	caps Capabilities
	cfg  JSONConfig
}

func NewJSONSave(caps Capabilities, cfg JSONConfig) *JSONSave {
	if cfg.HashLength <= 0 {
		cfg.HashLength = DefaultHashLength
	}
	return &JSONSave{caps: caps, cfg: cfg}
}

func (r *JSONSave) Resolve(ctx context.Context, rawURL string, opts downloader.FetchOptions) (Result, error) {
	if isJavaScriptURL(rawURL) || !r.cfg.matches(rawURL) || r.caps.Fetcher == nil || r.caps.FS == nil {
		return Simple(rawURL), nil
	}

	res, err := r.save(ctx, rawURL, opts)
	if err != nil {
		r.caps.logger().Warn("json save failed", "url", rawURL, "error", err.Error())
		s, err := r.cfg.OnError.apply(rawURL, err)
		return Simple(s), err
	}
	return res, nil
}

func (r *JSONSave) save(ctx context.Context, rawURL string, opts downloader.FetchOptions) (Result, error) {
	resp, err := fetchOK(ctx, r.caps.Fetcher, rawURL, opts)
	if err != nil {
		return Result{}, err
	}
	if !gjson.ValidBytes(resp.Body) {
		return Result{}, ErrMalformedJSON
	}
	doc := gjson.ParseBytes(resp.Body)

	p := DerivePaths(PathSpec{
		URL:          rawURL,
		FetchOptions: opts,
		HashLength:   r.cfg.HashLength,
		ForceExt:     ".json",
		SaveRoot:     r.cfg.SaveRoot,
		KeyPattern:   r.cfg.KeyPattern,
		PrependPath:  r.cfg.PrependPath,
	})
	if err := writeFile(r.caps, p.SavePath, pretty.Pretty(resp.Body)); err != nil {
		return Result{}, err
	}
	r.caps.logger().Info("saved json", "url", rawURL, "path", p.SavePath)
	return Result{Path: p.PublicPath, Data: doc.Value()}, nil
}
