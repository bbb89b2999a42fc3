package cache

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/tidwall/gjson"

	"fetchoraw/resolver"
	"fetchoraw/storage"
)

const DefaultFile = ".fetchoraw/cache.json"

var ErrMalformed = errors.New("malformed cache file")

// JSONStore keeps entries in one file: a JSON array of [key, {path, data}] pairs,
// indented with two spaces.
type JSONStore struct {
	fs   storage.FS
	path string
}

func NewJSONStore(fs storage.FS, path string) *JSONStore {
	if path == "" {
		path = DefaultFile
	}
	return &JSONStore{fs: fs, path: path}
}

func (s *JSONStore) Path() string { return s.path }

func (s *JSONStore) Exists(context.Context) (bool, error) {
	return s.fs.Exists(s.path)
}

func (s *JSONStore) Load(context.Context) ([]Pair, error) {
	b, err := s.fs.ReadFile(s.path)
	if err != nil {
		return nil, err
	}
	if len(bytes.TrimSpace(b)) == 0 {
		return nil, nil
	}
	if !gjson.ValidBytes(b) {
		return nil, fmt.Errorf("%w: %s", ErrMalformed, s.path)
	}
	root := gjson.ParseBytes(b)
	if !root.IsArray() {
		return nil, fmt.Errorf("%w: %s: top level is not an array", ErrMalformed, s.path)
	}

	var pairs []Pair
	for i, item := range root.Array() {
		kv := item.Array()
		if !item.IsArray() || len(kv) != 2 || kv[0].Type != gjson.String || !kv[1].IsObject() {
			return nil, fmt.Errorf("%w: %s: entry %d", ErrMalformed, s.path, i)
		}
		entry := resolver.Result{Path: kv[1].Get("path").String()}
		if data := kv[1].Get("data"); data.Exists() && data.Type != gjson.Null {
			entry.Data = data.Value()
		}
		pairs = append(pairs, Pair{Key: kv[0].String(), Entry: entry})
	}
	return pairs, nil
}

func (s *JSONStore) Save(_ context.Context, pairs []Pair) error {
	if pairs == nil {
		pairs = []Pair{}
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(pairs); err != nil {
		return err
	}
	return s.fs.WriteFile(s.path, bytes.TrimSuffix(buf.Bytes(), []byte("\n")))
}
