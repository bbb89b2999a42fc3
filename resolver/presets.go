package resolver

import "regexp"

// CMSPatterns match asset base URLs of common headless CMS services.
var CMSPatterns = map[string]*regexp.Regexp{
	"microcms":   regexp.MustCompile(`^https?://images\.microcms-assets\.io/assets/`),
	"newt":       regexp.MustCompile(`^https?://assets\.newt\.so/`),
	"contentful": regexp.MustCompile(`^https?://images\.ctfassets\.net/`),
	"storyblok":  regexp.MustCompile(`^https?://a\.storyblok\.com/`),
}
