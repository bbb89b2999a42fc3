// Package cache persists resolution results so a later build can replay them
// without network access.
package cache

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"fetchoraw/downloader"
	"fetchoraw/resolver"
)

var ErrCacheUnavailable = errors.New("cache file not found")

type Mode int

const (
	ModeNone Mode = iota
	ModeFetch
	ModeCache
)

const (
	DefaultFetchValue = "FETCH"
	DefaultCacheValue = "CACHE"
)

func (m Mode) String() string {
	switch m {
	case ModeFetch:
		return "FETCH"
	case ModeCache:
		return "CACHE"
	}
	return "NONE"
}

// ParseMode maps an environment value to a mode. Anything else is ModeNone.
func ParseMode(value, fetchValue, cacheValue string) Mode {
	if fetchValue == "" {
		fetchValue = DefaultFetchValue
	}
	if cacheValue == "" {
		cacheValue = DefaultCacheValue
	}
	switch strings.TrimSpace(value) {
	case fetchValue:
		return ModeFetch
	case cacheValue:
		return ModeCache
	}
	return ModeNone
}

// Key identifies a request: url + "::" + canonical options.
func Key(rawURL string, opts downloader.FetchOptions) string {
	return rawURL + "::" + opts.Canonical()
}

// Pair is one persisted entry, encoded as a two-element JSON array.
type Pair struct {
	Key   string
	Entry resolver.Result
}

func (p Pair) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode([2]any{p.Key, p.Entry}); err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

// Store loads and saves the whole entry list.
type Store interface {
	Exists(ctx context.Context) (bool, error)
	Load(ctx context.Context) ([]Pair, error)
	Save(ctx context.Context, pairs []Pair) error
}

// Cache is the in-memory view of a Store. Not safe for concurrent use.
type Cache struct {
	store   Store
	mode    Mode
	entries map[string]resolver.Result
	order   []string
}

func New(store Store, mode Mode) *Cache {
	return &Cache{store: store, mode: mode, entries: make(map[string]resolver.Result)}
}

func (c *Cache) Mode() Mode { return c.mode }

// Load replaces memory with the store contents. In ModeCache a missing store is
// ErrCacheUnavailable; in ModeFetch it starts empty.
func (c *Cache) Load(ctx context.Context) error {
	ok, err := c.store.Exists(ctx)
	if err != nil {
		return fmt.Errorf("cache: %w", err)
	}
	c.entries = make(map[string]resolver.Result)
	c.order = c.order[:0]
	if !ok {
		if c.mode == ModeCache {
			return ErrCacheUnavailable
		}
		return nil
	}

	pairs, err := c.store.Load(ctx)
	if err != nil {
		return fmt.Errorf("cache: %w", err)
	}
	for _, p := range pairs {
		c.Put(p.Key, p.Entry)
	}
	return nil
}

func (c *Cache) Get(key string) (resolver.Result, bool) {
	r, ok := c.entries[key]
	return r, ok
}

// Put keeps first-insertion order; overwriting does not move the key.
func (c *Cache) Put(key string, r resolver.Result) {
	if _, ok := c.entries[key]; !ok {
		c.order = append(c.order, key)
	}
	c.entries[key] = r
}

func (c *Cache) Len() int { return len(c.entries) }

func (c *Cache) Pairs() []Pair {
	out := make([]Pair, 0, len(c.order))
	for _, k := range c.order {
		out = append(out, Pair{Key: k, Entry: c.entries[k]})
	}
	return out
}

// Save writes a full snapshot.
func (c *Cache) Save(ctx context.Context) error {
	if err := c.store.Save(ctx, c.Pairs()); err != nil {
		return fmt.Errorf("cache: save: %w", err)
	}
	return nil
}
