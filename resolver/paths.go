package resolver

import (
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"path"
	"path/filepath"
	"regexp"
	"strings"

	"fetchoraw/downloader"
)

// PathSpec describes where a fetched asset should land.
type PathSpec struct {
	URL           string
	FetchOptions  downloader.FetchOptions
	IncludeSearch bool
	HashLength    int
	ForceExt      string
	SaveRoot      string
	KeyPattern    *regexp.Regexp // nil means DefaultKeyPattern
	PrependPath   string
}

type Paths struct {
	SavePath   string // filesystem path under SaveRoot
	PublicPath string // site path, always starting with "/"
}

var unsafeFileChars = strings.NewReplacer(
	"/", "_", `\`, "_", ":", "_", "*", "_", "?", "_",
	`"`, "_", "<", "_", ">", "_", "|", "_", "%", "_",
)

// DerivePaths is deterministic: the same spec always yields the same paths.
func DerivePaths(s PathSpec) Paths {
	raw, query := splitQuery(s.URL)

	key := s.KeyPattern
	if key == nil {
		key = DefaultKeyPattern
	}
	raw = replaceFirst(key, raw)
	if decoded, err := url.PathUnescape(raw); err == nil {
		raw = decoded
	}

	dir, file := path.Split(raw)
	ext := path.Ext(file)
	name := strings.TrimSuffix(file, ext)
	if name == "" {
		name = "index"
	}

	var b strings.Builder
	b.WriteString(name)
	if s.IncludeSearch {
		b.WriteString(querySuffix(query))
	}
	if s.HashLength > 0 {
		b.WriteString("-")
		b.WriteString(requestHash(s.URL, s.FetchOptions, s.HashLength))
	}
	if s.ForceExt != "" {
		b.WriteString(s.ForceExt)
	} else {
		b.WriteString(ext)
	}

	// Rooted Clean drops any "../" that would climb above SaveRoot.
	rel := strings.TrimLeft(path.Clean(path.Join("/", dir, b.String())), "/")

	return Paths{
		SavePath:   filepath.Join(s.SaveRoot, filepath.FromSlash(rel)),
		PublicPath: "/" + strings.TrimLeft(path.Join(s.PrependPath, rel), "/"),
	}
}

func splitQuery(rawURL string) (string, string) {
	if i := strings.IndexByte(rawURL, '#'); i >= 0 {
		rawURL = rawURL[:i]
	}
	if i := strings.IndexByte(rawURL, '?'); i >= 0 {
		return rawURL[:i], rawURL[i+1:]
	}
	return rawURL, ""
}

func replaceFirst(re *regexp.Regexp, s string) string {
	loc := re.FindStringIndex(s)
	if loc == nil {
		return s
	}
	return s[:loc[0]] + s[loc[1]:]
}

// querySuffix keeps parameter order as written in the URL.
func querySuffix(query string) string {
	var b strings.Builder
	for _, pair := range strings.Split(query, "&") {
		if pair == "" {
			continue
		}
		k, v, _ := strings.Cut(pair, "=")
		if dk, err := url.QueryUnescape(k); err == nil {
			k = dk
		}
		if dv, err := url.QueryUnescape(v); err == nil {
			v = dv
		}
		b.WriteString("-")
		b.WriteString(unsafeFileChars.Replace(k + v))
	}
	return b.String()
}

func requestHash(rawURL string, opts downloader.FetchOptions, n int) string {
	payload := `{"options":` + opts.Canonical() + `,"url":`
	u, err := downloader.CanonicalJSON(rawURL)
	if err != nil {
		u = `""`
	}
	sum := sha256.Sum256([]byte(payload + u + "}"))
	h := hex.EncodeToString(sum[:])
	if n > len(h) {
		n = len(h)
	}
	return h[:n]
}
