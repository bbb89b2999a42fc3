package downloader

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"net/url"
	"strings"
	"time"

	"fetchoraw/logger"
)

const (
	DefaultRetries     = 3
	DefaultDelay       = 500 * time.Millisecond
	DefaultTimeout     = 30 * time.Second
	DefaultMaxFileSize = 50 * 1024 * 1024 // 50MB
	DefaultUserAgent   = "Mozilla/5.0 (compatible; fetchoraw/1.0)"
)

var (
	ErrInvalidURL     = errors.New("invalid URL")
	ErrDownloadFailed = errors.New("download failed after retries")
	ErrTooLarge       = errors.New("file too large")
)

type Config struct {
	Retries     int           `mapstructure:"retries"`
	Delay       time.Duration `mapstructure:"delay"`
	Timeout     time.Duration `mapstructure:"timeout"`
	MaxFileSize int64         `mapstructure:"max_file_size"`
	UserAgent   string        `mapstructure:"user_agent"`
}

func NewConfig() Config {
	return Config{
		Retries:     DefaultRetries,
		Delay:       DefaultDelay,
		Timeout:     DefaultTimeout,
		MaxFileSize: DefaultMaxFileSize,
		UserAgent:   DefaultUserAgent,
	}
}

// FetchOptions описывает запрос. Пустое значение означает обычный GET.
type FetchOptions struct {
	Method  string            `json:"method,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`
	Body    string            `json:"body,omitempty"`
}

func (o FetchOptions) IsZero() bool {
	return o.Method == "" && len(o.Headers) == 0 && o.Body == ""
}

// Canonical returns "{}" for empty options, otherwise JSON with keys sorted at every level.
func (o FetchOptions) Canonical() string {
	if o.IsZero() {
		return "{}"
	}
	b, err := json.Marshal(o)
	if err != nil {
		return "{}"
	}
	var generic any
	if err := json.Unmarshal(b, &generic); err != nil {
		return "{}"
	}
	s, err := CanonicalJSON(generic)
	if err != nil {
		return "{}"
	}
	return s
}

// CanonicalJSON marshals v without HTML escaping. Map keys come out sorted.
func CanonicalJSON(v any) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return "", err
	}
	return strings.TrimSuffix(buf.String(), "\n"), nil
}

type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

func (r *Response) OK() bool { return r.StatusCode >= 200 && r.StatusCode < 300 }

func (r *Response) ContentType() string { return r.Header.Get("Content-Type") }

// Fetcher is the network port. A non-nil Response is returned for any HTTP status;
// errors mean the request could not be completed.
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string, opts FetchOptions) (*Response, error)
}

type FetcherFunc func(ctx context.Context, rawURL string, opts FetchOptions) (*Response, error)

func (f FetcherFunc) Fetch(ctx context.Context, rawURL string, opts FetchOptions) (*Response, error) {
	return f(ctx, rawURL, opts)
}

type Downloader struct {
	client    *http.Client
	retries   int
	delay     time.Duration
	maxSize   int64
	userAgent string
	log       logger.Logger
}

func NewDownloader(c Config, l logger.Logger) *Downloader {
	if c.Retries <= 0 {
		c.Retries = 1
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.MaxFileSize <= 0 {
		c.MaxFileSize = DefaultMaxFileSize
	}
	if c.UserAgent == "" {
		c.UserAgent = DefaultUserAgent
	}
	if l == nil {
		l = logger.NewNop()
	}
	return &Downloader{
		client: &http.Client{
			Transport: &http.Transport{
				Proxy:           http.ProxyFromEnvironment,
				MaxIdleConns:    10,
				IdleConnTimeout: 30 * time.Second,
			},
			CheckRedirect: func(r *http.Request, v []*http.Request) error {
				l.Debug("redirect", "from", v[len(v)-1].URL.String(), "to", r.URL.String())
				if len(v) >= 10 {
					return errors.New("stopped after 10 redirects")
				}
				return nil
			},
			Timeout: c.Timeout,
		},
		retries:   c.Retries,
		delay:     c.Delay,
		maxSize:   c.MaxFileSize,
		userAgent: c.UserAgent,
		log:       l,
	}
}

// Fetch retries transport errors and 5xx responses. The last 5xx response is returned as is.
func (d *Downloader) Fetch(ctx context.Context, u string, opts FetchOptions) (*Response, error) {
	parsed, err := url.Parse(u)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
		return nil, fmt.Errorf("%w: %s", ErrInvalidURL, u)
	}

	method := strings.ToUpper(opts.Method)
	if method == "" {
		method = http.MethodGet
	}

	var lastErr error
	for attempt := 1; attempt <= d.retries; attempt++ {
		var body io.Reader
		if opts.Body != "" {
			body = strings.NewReader(opts.Body)
		}
		req, err := http.NewRequestWithContext(ctx, method, u, body)
		if err != nil {
			return nil, err
		}
		req.Header.Set("User-Agent", d.userAgent)
		req.Header.Set("Accept", "*/*")
		for k, v := range opts.Headers {
			req.Header.Set(k, v)
		}

		d.log.Debug("fetch", "url", u, "method", method, "attempt", attempt)
		resp, err := d.client.Do(req)
		if err != nil {
			lastErr = err
			d.log.Warn("fetch error", "url", u, "attempt", attempt, "error", err.Error())
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			if attempt < d.retries {
				if err := d.wait(ctx); err != nil {
					return nil, err
				}
			}
			continue
		}

		content, err := io.ReadAll(io.LimitReader(resp.Body, d.maxSize+1))
		resp.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", u, err)
		}
		if int64(len(content)) > d.maxSize {
			return nil, fmt.Errorf("%w: %s (over %d bytes)", ErrTooLarge, u, d.maxSize)
		}

		if resp.StatusCode >= 500 && attempt < d.retries {
			d.log.Warn("server error, retrying", "url", u, "status", resp.StatusCode, "attempt", attempt)
			if err := d.wait(ctx); err != nil {
				return nil, err
			}
			continue
		}

		d.log.Debug("fetched", "url", u, "status", resp.StatusCode, "bytes", len(content), "contentType", resp.Header.Get("Content-Type"))
		return &Response{StatusCode: resp.StatusCode, Header: resp.Header, Body: content}, nil
	}

	return nil, fmt.Errorf("%w: %s: %v", ErrDownloadFailed, u, lastErr)
}

func (d *Downloader) wait(ctx context.Context) error {
	pause := d.delay
	if pause > 0 {
		pause += time.Duration(rand.Int63n(int64(pause)))
	}
	t := time.NewTimer(pause)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
