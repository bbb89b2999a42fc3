// Package resolver turns a remote asset URL into a local reference:
// an inlined data URL, a saved file, or a saved JSON document.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"fetchoraw/downloader"
	"fetchoraw/logger"
	"fetchoraw/storage"
)

const DefaultPattern = `^https?://[^/]+/?`

var (
	DefaultTargetPattern = regexp.MustCompile(DefaultPattern)
	DefaultKeyPattern    = regexp.MustCompile(DefaultPattern)
)

var ErrMalformedJSON = errors.New("response is not valid JSON")

// FetchError is returned when the remote answers with a non-2xx status.
type FetchError struct {
	URL        string
	StatusCode int
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("failed to fetch: %s (status %d)", e.URL, e.StatusCode)
}

type MimeUndeterminedError struct {
	URL string
}

func (e *MimeUndeterminedError) Error() string {
	return "unable to determine MIME type for: " + e.URL
}

// Result is the resolved descriptor. Data is set only by resolvers that produce
// structured output.
type Result struct {
	Path string `json:"path"`
	Data any    `json:"data,omitempty"`
}

// Simple wraps a plain replacement string.
func Simple(path string) Result { return Result{Path: path} }

type Resolver interface {
	Resolve(ctx context.Context, rawURL string, opts downloader.FetchOptions) (Result, error)
}

type Func func(ctx context.Context, rawURL string, opts downloader.FetchOptions) (Result, error)

func (f Func) Resolve(ctx context.Context, rawURL string, opts downloader.FetchOptions) (Result, error) {
	return f(ctx, rawURL, opts)
}

// Capabilities are the host ports a resolver may use. A nil Fetcher makes every
// resolver pass URLs through; a nil FS does the same for resolvers writing files.
type Capabilities struct {
	Fetcher downloader.Fetcher
	FS      storage.FS
	Logger  logger.Logger
}

func (c Capabilities) logger() logger.Logger {
	if c.Logger == nil {
		return logger.NewNop()
	}
	return c.Logger
}

type OnError string

const (
	Throw       OnError = "throw"
	ReturnURL   OnError = "return-url"
	ReturnEmpty OnError = "return-empty"
)

func ParseOnError(s string) (OnError, error) {
	switch OnError(s) {
	case "":
		return Throw, nil
	case Throw, ReturnURL, ReturnEmpty:
		return OnError(s), nil
	}
	return "", fmt.Errorf("invalid onError value %q (want throw, return-url or return-empty)", s)
}

// apply returns err for Throw and unknown values, otherwise the fallback value.
func (o OnError) apply(rawURL string, err error) (string, error) {
	switch o {
	case ReturnURL:
		return rawURL, nil
	case ReturnEmpty:
		return "", nil
	}
	return "", err
}

// Common holds settings shared by all strategies. Nil TargetPatterns means
// DefaultTargetPattern; an empty non-nil slice matches nothing.
type Common struct {
	TargetPatterns []*regexp.Regexp
	OnError        OnError
}

func (c Common) targets() []*regexp.Regexp {
	if c.TargetPatterns == nil {
		return []*regexp.Regexp{DefaultTargetPattern}
	}
	return c.TargetPatterns
}

func (c Common) matches(rawURL string) bool {
	return MatchAny(c.targets(), rawURL)
}

func MatchAny(patterns []*regexp.Regexp, s string) bool {
	for _, re := range patterns {
		if re.MatchString(s) {
			return true
		}
	}
	return false
}

// Literal builds a pattern matching s verbatim.
func Literal(s string) *regexp.Regexp {
	return regexp.MustCompile(regexp.QuoteMeta(s))
}

func isJavaScriptURL(rawURL string) bool {
	return strings.HasPrefix(strings.ToLower(strings.TrimSpace(rawURL)), "javascript:")
}

func fetchOK(ctx context.Context, f downloader.Fetcher, rawURL string, opts downloader.FetchOptions) (*downloader.Response, error) {
	resp, err := f.Fetch(ctx, rawURL, opts)
	if err != nil {
		return nil, err
	}
	if !resp.OK() {
		return nil, &FetchError{URL: rawURL, StatusCode: resp.StatusCode}
	}
	return resp, nil
}
