package processor

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"
)

// RewriteDir mirrors srcDir into dstDir through the configured FS. HTML and CSS
// files are rewritten, everything else is copied as is. Files are processed one
// by one in walk order.
func (p *Processor) RewriteDir(ctx context.Context, srcDir, dstDir string, targets ...Target) (Stats, error) {
	p.Stats = &Stats{StartTime: time.Now()}
	fsys := p.cfg.FS

	var total int64
	err := fsys.Walk(srcDir, func(_ string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() {
			total++
		}
		return nil
	})
	if err != nil {
		return *p.Stats, fmt.Errorf("scan %s: %w", srcDir, err)
	}
	p.Stats.TotalFiles = total
	p.log.Info("rewrite dir", "src", srcDir, "dst", dstDir, "files", total)

	err = fsys.Walk(srcDir, func(fpath string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if info.IsDir() {
			return nil
		}

		rel, err := filepath.Rel(srcDir, fpath)
		if err != nil {
			return err
		}
		outPath := filepath.Join(dstDir, rel)

		switch strings.ToLower(filepath.Ext(fpath)) {
		case ".html", ".htm":
			if err := p.rewriteFile(ctx, fpath, outPath, targets); err != nil {
				return fmt.Errorf("%s: %w", rel, err)
			}
			atomic.AddInt64(&p.Stats.FilesProcessed, 1)
			return nil
		case ".css":
			if err := p.rewriteCSSFile(ctx, fpath, outPath); err != nil {
				return fmt.Errorf("%s: %w", rel, err)
			}
			atomic.AddInt64(&p.Stats.FilesProcessed, 1)
			return nil
		}

		if err := fsys.Copy(fpath, outPath); err != nil {
			return fmt.Errorf("%s: %w", rel, err)
		}
		atomic.AddInt64(&p.Stats.FilesCopied, 1)
		return nil
	})

	stats := *p.Stats
	p.log.Info("rewrite dir done",
		"processed", stats.FilesProcessed,
		"copied", stats.FilesCopied,
		"links", stats.LinksRewritten,
		"elapsed", time.Since(stats.StartTime).Round(time.Millisecond).String(),
	)
	return stats, err
}

func (p *Processor) rewriteFile(ctx context.Context, src, dst string, targets []Target) error {
	b, err := p.cfg.FS.ReadFile(src)
	if err != nil {
		return err
	}
	res, err := p.HTML(ctx, string(b), targets...)
	if err != nil {
		return err
	}
	return p.cfg.FS.WriteFile(dst, []byte(res.HTML))
}

func (p *Processor) rewriteCSSFile(ctx context.Context, src, dst string) error {
	b, err := p.cfg.FS.ReadFile(src)
	if err != nil {
		return err
	}
	res, err := p.CSS(ctx, string(b))
	if err != nil {
		return err
	}
	return p.cfg.FS.WriteFile(dst, []byte(res.CSS))
}
