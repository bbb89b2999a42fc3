package processor

import (
	"fmt"
	"strings"
)

// Target names an attribute to rewrite on elements matching a CSS selector.
type Target struct {
	Selector string
	Attr     string
}

var (
	ImgSrc       = Target{Selector: "img[src]", Attr: "src"}
	ImgSrcset    = Target{Selector: "img[srcset]", Attr: "srcset"}
	SourceSrc    = Target{Selector: "source[src]", Attr: "src"}
	SourceSrcset = Target{Selector: "source[srcset]", Attr: "srcset"}
	VideoPoster  = Target{Selector: "video[poster]", Attr: "poster"}
	VideoSrc     = Target{Selector: "video[src]", Attr: "src"}
	AudioSrc     = Target{Selector: "audio[src]", Attr: "src"}
	AHref        = Target{Selector: "a[href]", Attr: "href"}
	LinkHref     = Target{Selector: "link[href]", Attr: "href"}
	ScriptSrc    = Target{Selector: "script[src]", Attr: "src"}
	ObjectData   = Target{Selector: "object[data]", Attr: "data"}
	OgImage      = Target{Selector: `meta[property="og:image"]`, Attr: "content"}
	TwitterImage = Target{Selector: `meta[name="twitter:image"]`, Attr: "content"}
)

var DefaultTargets = []Target{
	ImgSrc, ImgSrcset, SourceSrc, SourceSrcset, VideoPoster,
	VideoSrc, AudioSrc, LinkHref, ScriptSrc, OgImage, TwitterImage,
}

var Presets = map[string]Target{
	"ImgSrc":       ImgSrc,
	"ImgSrcset":    ImgSrcset,
	"SourceSrc":    SourceSrc,
	"SourceSrcset": SourceSrcset,
	"VideoPoster":  VideoPoster,
	"VideoSrc":     VideoSrc,
	"AudioSrc":     AudioSrc,
	"AHref":        AHref,
	"LinkHref":     LinkHref,
	"ScriptSrc":    ScriptSrc,
	"ObjectData":   ObjectData,
	"OgImage":      OgImage,
	"TwitterImage": TwitterImage,
}

// ParseTarget accepts a preset name or "selector@attr".
func ParseTarget(s string) (Target, error) {
	if t, ok := Presets[s]; ok {
		return t, nil
	}
	i := strings.LastIndex(s, "@")
	if i <= 0 || i == len(s)-1 {
		return Target{}, fmt.Errorf("invalid selector %q (want preset name or selector@attr)", s)
	}
	sel, attr := strings.TrimSpace(s[:i]), strings.TrimSpace(s[i+1:])
	if sel == "" || attr == "" {
		return Target{}, fmt.Errorf("invalid selector %q (want preset name or selector@attr)", s)
	}
	return Target{Selector: sel, Attr: attr}, nil
}
