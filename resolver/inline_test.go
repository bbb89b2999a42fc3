package resolver

import (
	"context"
	"encoding/base64"
	"errors"
	"regexp"
	"strings"
	"testing"

	"fetchoraw/downloader"
)

func TestInlineResolve(t *testing.T) {
	png := []byte{0x89, 'P', 'N', 'G'}
	ff := newFakeFetcher(map[string]fakeResponse{
		"https://example.com/a.png":            {ct: "image/png", body: png},
		"https://example.com/a.svg":            {ct: "image/svg+xml; charset=utf-8", body: []byte("<svg/>")},
		"https://example.com/noheader.png?v=1": {body: png},
		"https://example.com/blob":             {ct: "application/octet-stream", body: png},
		"https://example.com/page":             {ct: "text/html; charset=utf-8", body: []byte("<p>")},
		"https://example.com/style.css":        {ct: "text/css", body: []byte("a{}")},
		"https://example.com/small.bin":        {ct: "image/png", body: make([]byte, 1023)},
		"https://example.com/exact.bin":        {ct: "image/png", body: make([]byte, 1024)},
		"https://example.com/big.bin":          {ct: "image/png", body: make([]byte, 1025)},
		"https://example.com/doc.pdf":          {ct: "application/pdf", body: []byte("%PDF")},
		"https://example.com/unknown.zzz00":    {body: []byte("??")},
	})

	r := NewInline(Capabilities{Fetcher: ff}, InlineConfig{InlineLimitBytes: 1024})
	ctx := context.Background()

	testCases := []struct {
		name string
		url  string
		want string
	}{
		{name: "png inlined", url: "https://example.com/a.png", want: "data:image/png;base64," + base64.StdEncoding.EncodeToString(png)},
		{name: "parameters stripped", url: "https://example.com/a.svg", want: "data:image/svg+xml;base64," + base64.StdEncoding.EncodeToString([]byte("<svg/>"))},
		{name: "extension fallback", url: "https://example.com/noheader.png?v=1", want: "data:image/png;base64," + base64.StdEncoding.EncodeToString(png)},
		{name: "pdf allowed by default", url: "https://example.com/doc.pdf", want: "data:application/pdf;base64," + base64.StdEncoding.EncodeToString([]byte("%PDF"))},
		{name: "octet-stream denied", url: "https://example.com/blob", want: "https://example.com/blob"},
		{name: "html denied", url: "https://example.com/page", want: "https://example.com/page"},
		{name: "css not allowed", url: "https://example.com/style.css", want: "https://example.com/style.css"},
		{name: "under limit", url: "https://example.com/small.bin", want: "data:image/png;base64," + base64.StdEncoding.EncodeToString(make([]byte, 1023))},
		{name: "at limit", url: "https://example.com/exact.bin", want: "data:image/png;base64," + base64.StdEncoding.EncodeToString(make([]byte, 1024))},
		{name: "over limit", url: "https://example.com/big.bin", want: "https://example.com/big.bin"},
		{name: "javascript url", url: "javascript:alert(1)", want: "javascript:alert(1)"},
		{name: "relative url not targeted", url: "/local/a.png", want: "/local/a.png"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := r.Resolve(ctx, tc.url, downloader.FetchOptions{})
			if err != nil {
				t.Fatalf("Resolve: %v", err)
			}
			if got.Path != tc.want {
				t.Errorf("Path = %.80q, want %.80q", got.Path, tc.want)
			}
			if got.Data != nil {
				t.Errorf("inline result must not carry data, got %v", got.Data)
			}
		})
	}

	if n := ff.count("javascript:alert(1)"); n != 0 {
		t.Errorf("javascript url fetched %d times", n)
	}
}

func TestInlineAllowList(t *testing.T) {
	ff := newFakeFetcher(map[string]fakeResponse{
		"https://example.com/a.png": {ct: "image/png", body: []byte("x")},
		"https://example.com/blob":  {ct: "application/octet-stream", body: []byte("x")},
	})
	r := NewInline(Capabilities{Fetcher: ff}, InlineConfig{
		AllowMimeTypes: []*regexp.Regexp{regexp.MustCompile(`^application/`)},
	})

	got, _ := r.Resolve(context.Background(), "https://example.com/a.png", downloader.FetchOptions{})
	if got.Path != "https://example.com/a.png" {
		t.Errorf("image should not be inlined with custom allow list, got %q", got.Path)
	}
	got, _ = r.Resolve(context.Background(), "https://example.com/blob", downloader.FetchOptions{})
	if got.Path != "https://example.com/blob" {
		t.Errorf("deny list must win over allow list, got %q", got.Path)
	}
}

func TestInlineErrors(t *testing.T) {
	netErr := errors.New("connection reset")
	ff := newFakeFetcher(map[string]fakeResponse{
		"https://example.com/unknown.zzz00": {body: []byte("??")},
		"https://example.com/reset.png":     {err: netErr},
	})
	ctx := context.Background()

	t.Run("404 throws FetchError", func(t *testing.T) {
		r := NewInline(Capabilities{Fetcher: ff}, InlineConfig{})
		_, err := r.Resolve(ctx, "https://example.com/missing.png", downloader.FetchOptions{})
		var fe *FetchError
		if !errors.As(err, &fe) || fe.StatusCode != 404 {
			t.Fatalf("expected FetchError 404, got %v", err)
		}
		if !strings.Contains(err.Error(), "https://example.com/missing.png") {
			t.Errorf("message should name the url: %v", err)
		}
	})

	t.Run("undetermined mime", func(t *testing.T) {
		r := NewInline(Capabilities{Fetcher: ff}, InlineConfig{})
		_, err := r.Resolve(ctx, "https://example.com/unknown.zzz00", downloader.FetchOptions{})
		var me *MimeUndeterminedError
		if !errors.As(err, &me) {
			t.Fatalf("expected MimeUndeterminedError, got %v", err)
		}
	})

	t.Run("transport error propagates", func(t *testing.T) {
		r := NewInline(Capabilities{Fetcher: ff}, InlineConfig{})
		_, err := r.Resolve(ctx, "https://example.com/reset.png", downloader.FetchOptions{})
		if !errors.Is(err, netErr) {
			t.Fatalf("expected wrapped network error, got %v", err)
		}
	})

	policies := []struct {
		onError OnError
		want    string
	}{
		{onError: ReturnURL, want: "https://example.com/missing.png"},
		{onError: ReturnEmpty, want: ""},
	}
	for _, p := range policies {
		t.Run("policy "+string(p.onError), func(t *testing.T) {
			r := NewInline(Capabilities{Fetcher: ff}, InlineConfig{Common: Common{OnError: p.onError}})
			got, err := r.Resolve(ctx, "https://example.com/missing.png", downloader.FetchOptions{})
			if err != nil {
				t.Fatalf("Resolve: %v", err)
			}
			if got.Path != p.want {
				t.Errorf("Path = %q, want %q", got.Path, p.want)
			}
		})
	}
}

func TestInlineWithoutNetwork(t *testing.T) {
	r := NewInline(Capabilities{}, InlineConfig{})
	got, err := r.Resolve(context.Background(), "https://example.com/a.png", downloader.FetchOptions{})
	if err != nil || got.Path != "https://example.com/a.png" {
		t.Fatalf("expected passthrough, got %q, %v", got.Path, err)
	}
}

func TestParseOnError(t *testing.T) {
	for _, s := range []string{"", "throw", "return-url", "return-empty"} {
		if _, err := ParseOnError(s); err != nil {
			t.Errorf("ParseOnError(%q): %v", s, err)
		}
	}
	if _, err := ParseOnError("ignore"); err == nil {
		t.Error("expected error for unknown policy")
	}
}
