package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"fetchoraw/cache"
	"fetchoraw/config"
	"fetchoraw/downloader"
	"fetchoraw/logger"
	"fetchoraw/processor"
	"fetchoraw/resolver"
	"fetchoraw/storage"
)

var version = "dev"

var (
	v          = viper.New()
	configFile string
)

// flag name -> config key
var flagKeys = map[string]string{
	"mode":           "mode",
	"mode-env":       "mode_env",
	"public-dir":     "public_dir",
	"cache-file":     "cache.file",
	"cache-backend":  "cache.backend",
	"resolver":       "resolver.kind",
	"on-error":       "resolver.on_error",
	"save-root":      "resolver.save_root",
	"key-string":     "resolver.key_string",
	"prepend-path":   "resolver.prepend_path",
	"inline-limit":   "resolver.inline_limit",
	"allow-mime":     "resolver.allow_mime",
	"require-file":   "resolver.require_file",
	"target-pattern": "resolver.target_pattern",
	"hash-length":    "resolver.hash_length",
	"retries":        "http.retries",
	"timeout":        "http.timeout",
	"log-level":      "log.level",
}

var rootCmd = &cobra.Command{
	Use:           "fetchoraw",
	Short:         "Rewrite remote asset references in HTML into local files or data URLs",
	SilenceUsage:  true,
	SilenceErrors: true,
}

var htmlCmd = &cobra.Command{
	Use:   "html <input.html|->",
	Short: "Rewrite asset references in an HTML file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := newApp()
		if err != nil {
			return err
		}
		defer rt.close()

		targets, err := parseTargets(cmd)
		if err != nil {
			return err
		}
		src, err := readInput(args[0])
		if err != nil {
			return err
		}

		res, err := rt.proc.HTML(cmd.Context(), src, targets...)
		if err != nil {
			return err
		}

		rt.log.Info("done", "resolved", len(res.Map))
		return writeOutput(cmd, args[0], res.HTML)
	},
}

var cssCmd = &cobra.Command{
	Use:   "css <input.css|->",
	Short: "Rewrite url() and @import references in a stylesheet",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := newApp()
		if err != nil {
			return err
		}
		defer rt.close()

		src, err := readInput(args[0])
		if err != nil {
			return err
		}
		res, err := rt.proc.CSS(cmd.Context(), src)
		if err != nil {
			return err
		}
		rt.log.Info("done", "resolved", len(res.Map))
		return writeOutput(cmd, args[0], res.CSS)
	},
}

var urlCmd = &cobra.Command{
	Use:   "url <url>",
	Short: "Resolve one URL and print the result as JSON",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := newApp()
		if err != nil {
			return err
		}
		defer rt.close()

		origin, _ := cmd.Flags().GetString("origin")
		method, _ := cmd.Flags().GetString("method")
		body, _ := cmd.Flags().GetString("body")
		rawHeaders, _ := cmd.Flags().GetStringArray("header")
		headers, err := parseHeaders(rawHeaders)
		if err != nil {
			return err
		}

		res, err := rt.proc.URL(cmd.Context(), args[0], processor.URLOptions{
			Origin:       origin,
			FetchOptions: downloader.FetchOptions{Method: method, Headers: headers, Body: body},
		})
		if err != nil {
			return err
		}
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		enc.SetEscapeHTML(false)
		return enc.Encode(res)
	},
}

var dirCmd = &cobra.Command{
	Use:   "dir <src> <dst>",
	Short: "Rewrite every HTML and CSS file of a directory tree into dst, copying other files",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := newApp()
		if err != nil {
			return err
		}
		defer rt.close()

		targets, err := parseTargets(cmd)
		if err != nil {
			return err
		}
		stats, err := rt.proc.RewriteDir(cmd.Context(), args[0], args[1], targets...)
		fmt.Fprintf(cmd.ErrOrStderr(), "files: %d rewritten, %d copied; links: %d\n",
			stats.FilesProcessed, stats.FilesCopied, stats.LinksRewritten)
		return err
	},
}

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspect the resolution cache",
}

var cacheListCmd = &cobra.Command{
	Use:   "list",
	Short: "Print cached keys and their resolved paths",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, l, err := loadConfig()
		if err != nil {
			return err
		}
		store, closeStore, err := cfg.Store(storage.NewOS(), l)
		if err != nil {
			return err
		}
		defer closeStore()

		c := cache.New(store, cache.ModeCache)
		if err := c.Load(cmd.Context()); err != nil {
			return err
		}
		for _, p := range c.Pairs() {
			path := p.Entry.Path
			if strings.HasPrefix(path, "data:") && len(path) > 48 {
				path = path[:48] + "..."
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", p.Key, path)
		}
		return nil
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintln(cmd.OutOrStdout(), "fetchoraw", version)
	},
}

type app struct {
	proc  *processor.Processor
	log   logger.Logger
	close func() error
}

func loadConfig() (*config.Config, logger.Logger, error) {
	cfg, err := config.Load(v, configFile)
	if err != nil {
		return nil, nil, err
	}
	l, err := logger.New(cfg.Log)
	if err != nil {
		return nil, nil, err
	}
	return cfg, l, nil
}

func newApp() (*app, error) {
	cfg, l, err := loadConfig()
	if err != nil {
		return nil, err
	}
	mode, err := cfg.Mode()
	if err != nil {
		return nil, err
	}

	fs := storage.NewOS()
	store, closeStore, err := cfg.Store(fs, l)
	if err != nil {
		return nil, err
	}
	caps := resolver.Capabilities{
		Fetcher: downloader.NewDownloader(cfg.HTTP, l),
		FS:      fs,
		Logger:  l,
	}
	res, err := cfg.BuildResolver(caps)
	if err != nil {
		closeStore()
		return nil, err
	}

	l.Debug("config", "mode", mode.String(), "resolver", cfg.Resolver.Kind, "cache", cfg.Cache.File)
	return &app{
		proc: processor.New(processor.Config{
			Resolver:  res,
			Mode:      mode,
			CacheFile: cfg.Cache.File,
			Store:     store,
			FS:        fs,
			PublicDir: cfg.PublicDir,
			Logger:    l,
		}),
		log:   l,
		close: closeStore,
	}, nil
}

func parseTargets(cmd *cobra.Command) ([]processor.Target, error) {
	raw, _ := cmd.Flags().GetStringArray("selector")
	targets := make([]processor.Target, 0, len(raw))
	for _, s := range raw {
		t, err := processor.ParseTarget(s)
		if err != nil {
			return nil, err
		}
		targets = append(targets, t)
	}
	return targets, nil
}

func parseHeaders(raw []string) (map[string]string, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	h := make(map[string]string, len(raw))
	for _, kv := range raw {
		k, val, ok := strings.Cut(kv, ":")
		if !ok || strings.TrimSpace(k) == "" {
			return nil, fmt.Errorf("invalid header %q (want Name: value)", kv)
		}
		h[strings.TrimSpace(k)] = strings.TrimSpace(val)
	}
	return h, nil
}

func readInput(name string) (string, error) {
	if name == "-" {
		b, err := io.ReadAll(os.Stdin)
		return string(b), err
	}
	b, err := os.ReadFile(name)
	return string(b), err
}

// writeOutput honours --out and --overwrite, defaulting to stdout.
func writeOutput(cmd *cobra.Command, input, content string) error {
	out, _ := cmd.Flags().GetString("out")
	overwrite, _ := cmd.Flags().GetBool("overwrite")
	if overwrite && input != "-" {
		out = input
	}
	if out == "" {
		_, err := io.WriteString(cmd.OutOrStdout(), content)
		return err
	}
	return storage.NewOS().WriteFile(out, []byte(content))
}

func bindFlags(fs *pflag.FlagSet) error {
	for name, key := range flagKeys {
		if f := fs.Lookup(name); f != nil {
			if err := v.BindPFlag(key, f); err != nil {
				return err
			}
		}
	}
	return nil
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&configFile, "config", "", "config file (default ./fetchoraw.yaml)")
	pf.String("mode", "", "execution mode NONE, FETCH or CACHE (default: read from --mode-env)")
	pf.String("mode-env", config.DefaultModeEnv, "environment variable holding the mode")
	pf.String("public-dir", "", "re-resolve cached local paths missing under this directory")
	pf.String("cache-file", cache.DefaultFile, "cache file")
	pf.String("cache-backend", config.BackendJSON, "cache backend: json or sqlite")
	pf.String("resolver", config.KindSmart, "resolver: file, dataurl, smart or json")
	pf.String("on-error", string(resolver.Throw), "on failure: throw, return-url or return-empty")
	pf.String("save-root", resolver.DefaultSaveRoot, "directory to save files into")
	pf.String("key-string", "", "regexp or CMS preset stripped from URLs to build paths")
	pf.String("prepend-path", resolver.DefaultPrependPath, "prefix of the public path")
	pf.Int64("inline-limit", resolver.DefaultInlineLimit, "max bytes to inline as data URL")
	pf.StringArray("allow-mime", nil, "MIME regexps allowed to inline")
	pf.StringArray("require-file", nil, "URL regexps always saved as files by the smart resolver")
	pf.StringArray("target-pattern", nil, "URL regexps or CMS presets to process")
	pf.Int("hash-length", resolver.DefaultHashLength, "hash length in JSON file names")
	pf.Int("retries", downloader.DefaultRetries, "HTTP attempts per URL")
	pf.Duration("timeout", downloader.DefaultTimeout, "HTTP timeout")
	pf.String("log-level", logger.DefaultLevel, "log level")

	htmlCmd.Flags().StringP("out", "o", "", "output file (default stdout)")
	htmlCmd.Flags().Bool("overwrite", false, "write the result back to the input file")
	htmlCmd.Flags().StringArray("selector", nil, "preset name or selector@attr (repeatable)")
	cssCmd.Flags().StringP("out", "o", "", "output file (default stdout)")
	cssCmd.Flags().Bool("overwrite", false, "write the result back to the input file")
	dirCmd.Flags().StringArray("selector", nil, "preset name or selector@attr (repeatable)")

	urlCmd.Flags().String("origin", "", "origin for relative URLs")
	urlCmd.Flags().String("method", "", "HTTP method")
	urlCmd.Flags().StringArray("header", nil, "request header Name: value (repeatable)")
	urlCmd.Flags().String("body", "", "request body")

	cacheCmd.AddCommand(cacheListCmd)
	rootCmd.AddCommand(htmlCmd, cssCmd, urlCmd, dirCmd, cacheCmd, versionCmd)
}

func main() {
	if err := bindFlags(rootCmd.PersistentFlags()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		stop()
		os.Exit(1)
	}
}
