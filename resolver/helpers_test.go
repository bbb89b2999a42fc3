package resolver

import (
	"context"
	"net/http"
	"sync"

	"fetchoraw/downloader"
)

type fakeResponse struct {
	status int
	ct     string
	body   []byte
	err    error
}

// fakeFetcher answers from a table and counts calls per URL.
type fakeFetcher struct {
	mu    sync.Mutex
	table map[string]fakeResponse
	calls map[string]int
	opts  []downloader.FetchOptions
}

func newFakeFetcher(table map[string]fakeResponse) *fakeFetcher {
	return &fakeFetcher{table: table, calls: make(map[string]int)}
}

func (f *fakeFetcher) Fetch(_ context.Context, rawURL string, opts downloader.FetchOptions) (*downloader.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[rawURL]++
	f.opts = append(f.opts, opts)
	r, ok := f.table[rawURL]
	if !ok {
		return &downloader.Response{StatusCode: http.StatusNotFound, Header: http.Header{}}, nil
	}
	if r.err != nil {
		return nil, r.err
	}
	status := r.status
	if status == 0 {
		status = http.StatusOK
	}
	h := http.Header{}
	if r.ct != "" {
		h.Set("Content-Type", r.ct)
	}
	return &downloader.Response{StatusCode: status, Header: h, Body: r.body}, nil
}

func (f *fakeFetcher) count(rawURL string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[rawURL]
}
