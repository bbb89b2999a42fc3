// Package processor rewrites asset references in HTML documents and single URLs,
// replaying and recording results in the resolution cache.
package processor

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/google/uuid"

	"fetchoraw/cache"
	"fetchoraw/downloader"
	"fetchoraw/logger"
	"fetchoraw/resolver"
	"fetchoraw/storage"
)

var ErrNoResolver = errors.New("no resolver configured")

type Config struct {
	Resolver  resolver.Resolver
	Mode      cache.Mode
	CacheFile string      // used when Store is nil
	Store     cache.Store // defaults to a JSON file at CacheFile
	FS        storage.FS  // defaults to storage.NewOS()
	// PublicDir enables re-resolving FETCH-mode hits whose local file is gone.
	PublicDir string
	Logger    logger.Logger
}

type Record struct {
	URL          string                  `json:"url"`
	FetchOptions downloader.FetchOptions `json:"fetchOptions"`
	ResolvedPath string                  `json:"resolvedPath"`
}

// Manifest lists every resolution of one call, cache hits included.
type Manifest []Record

type HTMLResult struct {
	HTML string   `json:"html"`
	Map  Manifest `json:"map"`
}

type URLOptions struct {
	Origin       string
	FetchOptions downloader.FetchOptions
}

type URLResult struct {
	Path string   `json:"path"`
	Data any      `json:"data,omitempty"`
	Map  Manifest `json:"map"`
}

type Stats struct {
	TotalFiles     int64
	FilesProcessed int64
	FilesCopied    int64
	LinksRewritten int64
	StartTime      time.Time
}

// Processor is not safe for concurrent use: calls share one cache snapshot.
type Processor struct {
	cfg   Config
	cache *cache.Cache
	log   logger.Logger
	Stats *Stats
}

func New(cfg Config) *Processor {
	if cfg.FS == nil {
		cfg.FS = storage.NewOS()
	}
	if cfg.CacheFile == "" {
		cfg.CacheFile = cache.DefaultFile
	}
	if cfg.Store == nil {
		cfg.Store = cache.NewJSONStore(cfg.FS, cfg.CacheFile)
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.NewNop()
	}
	return &Processor{
		cfg:   cfg,
		cache: cache.New(cfg.Store, cfg.Mode),
		log:   cfg.Logger,
		Stats: &Stats{StartTime: time.Now()},
	}
}

func (p *Processor) Mode() cache.Mode { return p.cfg.Mode }

// HTML rewrites the attributes named by targets (DefaultTargets when empty).
// On error the input is returned unchanged together with the error.
func (p *Processor) HTML(ctx context.Context, src string, targets ...Target) (HTMLResult, error) {
	out := HTMLResult{HTML: src, Map: Manifest{}}
	if p.cfg.Mode == cache.ModeNone {
		return out, nil
	}
	if len(targets) == 0 {
		targets = DefaultTargets
	}
	log := p.log.With("run", uuid.NewString(), "mode", p.cfg.Mode.String())

	if err := p.cache.Load(ctx); err != nil {
		log.Error("cache load failed", "error", err.Error())
		return out, err
	}

	doc, err := parseDocument(src)
	if err != nil {
		return out, fmt.Errorf("parse html: %w", err)
	}

	b := p.newBatch(ctx, log)

	var firstErr error
	for _, t := range targets {
		doc.Find(t.Selector).EachWithBreak(func(_ int, s *goquery.Selection) bool {
			val, ok := s.Attr(t.Attr)
			if !ok || strings.TrimSpace(val) == "" {
				return true
			}

			var newVal string
			if isSrcset(t.Attr) {
				v, err := rewriteSrcset(val, b.resolve)
				if err != nil {
					firstErr = err
					return false
				}
				newVal = v
			} else {
				v, ok, err := b.resolve(val)
				if err != nil {
					firstErr = err
					return false
				}
				if !ok {
					return true
				}
				newVal = v
			}

			if newVal != val {
				s.SetAttr(t.Attr, newVal)
				atomic.AddInt64(&p.Stats.LinksRewritten, 1)
			}
			return true
		})
		if firstErr != nil {
			log.Error("rewrite aborted", "selector", t.Selector, "error", firstErr.Error())
			return out, firstErr
		}
	}

	rendered, err := renderDocument(doc)
	if err != nil {
		return out, fmt.Errorf("render html: %w", err)
	}
	log.Info("html rewritten", "resolved", len(b.manifest), "cached", p.cache.Len())
	return HTMLResult{HTML: rendered, Map: b.manifest}, nil
}

// URL resolves one reference. Relative references are resolved against
// opts.Origin and protocol-relative ones get https.
func (p *Processor) URL(ctx context.Context, rawURL string, opts URLOptions) (URLResult, error) {
	out := URLResult{Path: rawURL, Map: Manifest{}}
	if p.cfg.Mode == cache.ModeNone || strings.TrimSpace(rawURL) == "" {
		return out, nil
	}
	target, ok := normalizeURL(rawURL, opts.Origin)
	if !ok {
		return out, nil
	}
	log := p.log.With("run", uuid.NewString(), "mode", p.cfg.Mode.String())

	if err := p.cache.Load(ctx); err != nil {
		log.Error("cache load failed", "error", err.Error())
		return out, err
	}

	res, ok, err := p.lookup(ctx, log, target, opts.FetchOptions)
	if err != nil {
		return out, err
	}
	if !ok {
		return URLResult{Path: target, Map: Manifest{}}, nil
	}
	return URLResult{
		Path: res.Path,
		Data: res.Data,
		Map:  Manifest{{URL: target, FetchOptions: opts.FetchOptions, ResolvedPath: res.Path}},
	}, nil
}

// batch deduplicates URLs within one call. A nil entry marks a CACHE-mode miss.
type batch struct {
	ctx      context.Context
	p        *Processor
	log      logger.Logger
	seen     map[string]*resolver.Result
	manifest Manifest
}

func (p *Processor) newBatch(ctx context.Context, log logger.Logger) *batch {
	return &batch{ctx: ctx, p: p, log: log, seen: make(map[string]*resolver.Result), manifest: Manifest{}}
}

func (b *batch) resolve(u string) (string, bool, error) {
	if r, ok := b.seen[u]; ok {
		if r == nil {
			return "", false, nil
		}
		return r.Path, true, nil
	}
	res, ok, err := b.p.lookup(b.ctx, b.log, u, downloader.FetchOptions{})
	if err != nil {
		return "", false, err
	}
	if !ok {
		b.seen[u] = nil
		return "", false, nil
	}
	b.seen[u] = &res
	b.manifest = append(b.manifest, Record{URL: u, FetchOptions: downloader.FetchOptions{}, ResolvedPath: res.Path})
	return res.Path, true, nil
}

// lookup reports ok=false for a CACHE-mode miss.
func (p *Processor) lookup(ctx context.Context, log logger.Logger, rawURL string, opts downloader.FetchOptions) (resolver.Result, bool, error) {
	key := cache.Key(rawURL, opts)
	if e, hit := p.cache.Get(key); hit {
		if !p.stale(e) {
			log.Debug("cache hit", "url", rawURL, "path", e.Path)
			return e, true, nil
		}
		log.Info("cached file missing, resolving again", "url", rawURL, "path", e.Path)
	}

	if p.cfg.Mode == cache.ModeCache {
		log.Warn("cache miss", "url", rawURL)
		return resolver.Result{}, false, nil
	}
	if p.cfg.Resolver == nil {
		return resolver.Result{}, false, ErrNoResolver
	}

	res, err := p.cfg.Resolver.Resolve(ctx, rawURL, opts)
	if err != nil {
		return resolver.Result{}, false, fmt.Errorf("resolve %s: %w", rawURL, err)
	}
	p.cache.Put(key, res)
	if err := p.cache.Save(ctx); err != nil {
		return resolver.Result{}, false, err
	}
	log.Debug("resolved", "url", rawURL, "path", res.Path)
	return res, true, nil
}

func (p *Processor) stale(e resolver.Result) bool {
	if p.cfg.Mode != cache.ModeFetch || p.cfg.PublicDir == "" {
		return false
	}
	if !strings.HasPrefix(e.Path, "/") || strings.HasPrefix(e.Path, "//") {
		return false
	}
	name := filepath.Join(p.cfg.PublicDir, filepath.FromSlash(strings.TrimPrefix(e.Path, "/")))
	ok, err := p.cfg.FS.Exists(name)
	return err == nil && !ok
}

func normalizeURL(rawURL, origin string) (string, bool) {
	lower := strings.ToLower(rawURL)
	switch {
	case strings.HasPrefix(lower, "http://"), strings.HasPrefix(lower, "https://"):
		return rawURL, true
	case strings.HasPrefix(rawURL, "//"):
		return "https:" + rawURL, true
	}

	ref, err := url.Parse(rawURL)
	if err != nil || ref.IsAbs() || origin == "" {
		return rawURL, false
	}
	base, err := url.Parse(origin)
	if err != nil || !base.IsAbs() {
		return rawURL, false
	}
	return base.ResolveReference(ref).String(), true
}
