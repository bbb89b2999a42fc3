package config

import (
	"context"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/viper"

	"fetchoraw/cache"
	"fetchoraw/downloader"
	"fetchoraw/resolver"
	"fetchoraw/storage"
)

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir())

	c, err := Load(viper.New(), "")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if c.ModeEnv != DefaultModeEnv || c.Cache.File != cache.DefaultFile || c.Cache.Backend != BackendJSON {
		t.Errorf("unexpected defaults: %+v", c)
	}
	if c.Resolver.Kind != KindSmart || c.Resolver.SaveRoot != resolver.DefaultSaveRoot || c.Resolver.PrependPath != resolver.DefaultPrependPath {
		t.Errorf("unexpected resolver defaults: %+v", c.Resolver)
	}
	if c.HTTP.Retries != downloader.DefaultRetries || c.HTTP.Delay != downloader.DefaultDelay {
		t.Errorf("unexpected http defaults: %+v", c.HTTP)
	}
}

func TestLoadFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "custom.yaml")
	yaml := `
mode_env: BUILD_MODE
cache:
  file: out/cache.json
resolver:
  kind: file
  save_root: public/static
  prepend_path: ""
  target_pattern: [newt]
http:
  delay: 2s
`
	if err := os.WriteFile(file, []byte(yaml), 0644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("FETCHORAW_RESOLVER_ON_ERROR", "return-url")

	c, err := Load(viper.New(), file)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if c.ModeEnv != "BUILD_MODE" || c.Cache.File != "out/cache.json" {
		t.Errorf("file values not applied: %+v", c)
	}
	if c.Resolver.Kind != KindFile || c.Resolver.SaveRoot != "public/static" || c.Resolver.PrependPath != "" {
		t.Errorf("resolver = %+v", c.Resolver)
	}
	if c.Resolver.OnError != "return-url" {
		t.Errorf("env override not applied: %q", c.Resolver.OnError)
	}
	if c.HTTP.Delay != 2*time.Second {
		t.Errorf("delay = %v", c.HTTP.Delay)
	}

	if _, err := Load(viper.New(), filepath.Join(dir, "absent.yaml")); err == nil {
		t.Error("explicit missing config file should fail")
	}
}

func TestMode(t *testing.T) {
	testCases := []struct {
		name    string
		cfg     Config
		env     string
		want    cache.Mode
		wantErr bool
	}{
		{name: "fetch from env", cfg: Config{ModeEnv: DefaultModeEnv}, env: "FETCH", want: cache.ModeFetch},
		{name: "cache from env", cfg: Config{ModeEnv: DefaultModeEnv}, env: "CACHE", want: cache.ModeCache},
		{name: "unset env", cfg: Config{ModeEnv: DefaultModeEnv}, env: "", want: cache.ModeNone},
		{name: "custom values", cfg: Config{ModeEnv: DefaultModeEnv, FetchValue: "on", CacheValue: "off"}, env: "off", want: cache.ModeCache},
		{name: "explicit wins", cfg: Config{ModeEnv: DefaultModeEnv, ModeName: "fetch"}, env: "CACHE", want: cache.ModeFetch},
		{name: "explicit invalid", cfg: Config{ModeName: "sometimes"}, wantErr: true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Setenv(DefaultModeEnv, tc.env)
			got, err := tc.cfg.Mode()
			if tc.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil || got != tc.want {
				t.Errorf("Mode() = %v, %v; want %v", got, err, tc.want)
			}
		})
	}
}

type staticFetcher struct{}

func (staticFetcher) Fetch(context.Context, string, downloader.FetchOptions) (*downloader.Response, error) {
	h := http.Header{}
	h.Set("Content-Type", "image/png")
	return &downloader.Response{StatusCode: 200, Header: h, Body: []byte("png")}, nil
}

func TestBuildResolver(t *testing.T) {
	mem := storage.NewMemory()
	caps := resolver.Capabilities{Fetcher: staticFetcher{}, FS: mem}
	const u = "https://assets.newt.so/space/img/a.png"

	testCases := []struct {
		name    string
		rc      ResolverConfig
		prefix  string
		wantErr bool
	}{
		{name: "dataurl", rc: ResolverConfig{Kind: KindDataURL}, prefix: "data:image/png;base64,"},
		{name: "smart", rc: ResolverConfig{Kind: KindSmart}, prefix: "data:image/png;base64,"},
		{name: "file with cms key", rc: ResolverConfig{Kind: KindFile, SaveRoot: "public", KeyString: "newt", PrependPath: "cms"}, prefix: "/cms/space/img/a.png"},
		{name: "smart require file", rc: ResolverConfig{Kind: KindSmart, SaveRoot: "public", RequireFile: []string{`\.png$`}}, prefix: "/space/img/a.png"},
		{name: "target excludes", rc: ResolverConfig{Kind: KindDataURL, TargetPattern: []string{"storyblok"}}, prefix: u},
		{name: "unknown kind", rc: ResolverConfig{Kind: "magic"}, wantErr: true},
		{name: "bad on_error", rc: ResolverConfig{OnError: "ignore"}, wantErr: true},
		{name: "bad pattern", rc: ResolverConfig{TargetPattern: []string{"("}}, wantErr: true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			c := &Config{Resolver: tc.rc}
			r, err := c.BuildResolver(caps)
			if tc.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("BuildResolver: %v", err)
			}
			got, err := r.Resolve(context.Background(), u, downloader.FetchOptions{})
			if err != nil {
				t.Fatalf("Resolve: %v", err)
			}
			if !strings.HasPrefix(got.Path, tc.prefix) {
				t.Errorf("Path = %q, want prefix %q", got.Path, tc.prefix)
			}
		})
	}
}

func TestStore(t *testing.T) {
	dir := t.TempDir()
	testCases := []struct {
		backend string
		wantErr bool
	}{
		{backend: BackendJSON},
		{backend: BackendSQLite},
		{backend: "redis", wantErr: true},
	}

	for _, tc := range testCases {
		t.Run(tc.backend, func(t *testing.T) {
			c := &Config{Cache: CacheConfig{Backend: tc.backend, File: filepath.Join(dir, "cache."+tc.backend), Prefix: "t_"}}
			s, closeFn, err := c.Store(storage.NewOS(), nil)
			if tc.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("Store: %v", err)
			}
			defer closeFn()
			if ok, err := s.Exists(context.Background()); err != nil || ok {
				t.Errorf("fresh store Exists = %v, %v", ok, err)
			}
		})
	}
}
