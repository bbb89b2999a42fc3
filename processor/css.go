package processor

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"sync/atomic"

	"github.com/google/uuid"

	"fetchoraw/cache"
)

var cssPatterns = []*regexp.Regexp{
	regexp.MustCompile(`url\s*\(\s*['"]?\s*([^)'"]+?)\s*['"]?\s*\)`),
	regexp.MustCompile(`@import\s+['"]\s*([^'"]+?)\s*['"]`),
}

type CSSResult struct {
	CSS string   `json:"css"`
	Map Manifest `json:"map"`
}

// CSS rewrites url(...) and @import references of a stylesheet.
// On error the input is returned unchanged together with the error.
func (p *Processor) CSS(ctx context.Context, src string) (CSSResult, error) {
	out := CSSResult{CSS: src, Map: Manifest{}}
	if p.cfg.Mode == cache.ModeNone {
		return out, nil
	}
	log := p.log.With("run", uuid.NewString(), "mode", p.cfg.Mode.String())

	if err := p.cache.Load(ctx); err != nil {
		log.Error("cache load failed", "error", err.Error())
		return out, err
	}

	b := p.newBatch(ctx, log)
	processed, n, err := rewriteCSS(src, b.resolve)
	if err != nil {
		log.Error("rewrite aborted", "error", err.Error())
		return out, err
	}
	atomic.AddInt64(&p.Stats.LinksRewritten, int64(n))
	log.Info("css rewritten", "resolved", len(b.manifest), "cached", p.cache.Len())
	return CSSResult{CSS: processed, Map: b.manifest}, nil
}

// rewriteCSS returns the stylesheet and the number of rewritten references.
func rewriteCSS(src string, resolve func(string) (string, bool, error)) (string, int, error) {
	var (
		firstErr error
		n        int
	)
	for _, re := range cssPatterns {
		src = re.ReplaceAllStringFunc(src, func(match string) string {
			if firstErr != nil {
				return match
			}
			sub := re.FindStringSubmatch(match)
			if len(sub) < 2 {
				return match
			}
			u := strings.TrimSpace(sub[1])
			if u == "" || strings.HasPrefix(u, "data:") || strings.HasPrefix(u, "#") {
				return match
			}
			newURL, ok, err := resolve(u)
			if err != nil {
				firstErr = err
				return match
			}
			if !ok || newURL == u {
				return match
			}
			n++
			return strings.Replace(match, u, newURL, 1)
		})
	}
	if firstErr != nil {
		return "", 0, fmt.Errorf("rewrite css: %w", firstErr)
	}
	return src, n, nil
}
