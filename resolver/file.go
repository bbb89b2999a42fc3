package resolver

import (
	"context"
	"fmt"
	"path/filepath"
	"regexp"

	"fetchoraw/downloader"
)

const (
	DefaultSaveRoot    = "dist/assets"
	DefaultPrependPath = "assets"
)

// FileConfig string fields are used as given: an empty PrependPath means no prefix.
type FileConfig struct {
	Common
	SaveRoot    string
	KeyPattern  *regexp.Regexp // nil means DefaultKeyPattern
	PrependPath string
}

func DefaultFileConfig() FileConfig {
	return FileConfig{SaveRoot: DefaultSaveRoot, PrependPath: DefaultPrependPath}
}

type FileSave struct {
	caps Capabilities
	cfg  FileConfig
}

func NewFileSave(caps Capabilities, cfg FileConfig) *FileSave {
	return &FileSave{caps: caps, cfg: cfg}
}

func (r *FileSave) Resolve(ctx context.Context, rawURL string, opts downloader.FetchOptions) (Result, error) {
	if isJavaScriptURL(rawURL) || !r.cfg.matches(rawURL) || r.caps.Fetcher == nil || r.caps.FS == nil {
		return Simple(rawURL), nil
	}

	s, err := r.save(ctx, rawURL, opts)
	if err != nil {
		r.caps.logger().Warn("file save failed", "url", rawURL, "error", err.Error())
		s, err = r.cfg.OnError.apply(rawURL, err)
	}
	return Simple(s), err
}

func (r *FileSave) save(ctx context.Context, rawURL string, opts downloader.FetchOptions) (string, error) {
	resp, err := fetchOK(ctx, r.caps.Fetcher, rawURL, opts)
	if err != nil {
		return "", err
	}

	p := DerivePaths(PathSpec{
		URL:           rawURL,
		FetchOptions:  opts,
		IncludeSearch: true,
		SaveRoot:      r.cfg.SaveRoot,
		KeyPattern:    r.cfg.KeyPattern,
		PrependPath:   r.cfg.PrependPath,
	})
	if err := writeFile(r.caps, p.SavePath, resp.Body); err != nil {
		return "", err
	}
	r.caps.logger().Info("saved", "url", rawURL, "path", p.SavePath, "bytes", len(resp.Body))
	return p.PublicPath, nil
}

func writeFile(caps Capabilities, name string, data []byte) error {
	if err := caps.FS.MkdirAll(filepath.Dir(name)); err != nil {
		return fmt.Errorf("create dir for %s: %w", name, err)
	}
	if err := caps.FS.WriteFile(name, data); err != nil {
		return fmt.Errorf("write %s: %w", name, err)
	}
	return nil
}
