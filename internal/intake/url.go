package intake

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"mvdan.cc/xurls/v2"

	"github.com/JakeFAU/fetchgate/internal/media"
)

// URLFilter pulls the first web URL out of free text and checks it against
// an optional allow-list.
type URLFilter struct {
	finder  *regexp.Regexp
	allowed []*regexp.Regexp
}

// NewURLFilter compiles the allow-list. An empty list accepts any http(s) URL.
func NewURLFilter(patterns []string) (*URLFilter, error) {
	finder, err := xurls.StrictMatchingScheme(`https?://`)
	if err != nil {
		return nil, fmt.Errorf("compile url finder: %w", err)
	}
	f := &URLFilter{finder: finder}
	for _, p := range patterns {
		rx, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("compile url pattern %q: %w", p, err)
		}
		f.allowed = append(f.allowed, rx)
	}
	return f, nil
}

// Extract returns the first acceptable URL in text or a *media.ValidationError.
func (f *URLFilter) Extract(text string) (string, error) {
	candidates := f.finder.FindAllString(text, -1)
	if len(candidates) == 0 {
		return "", &media.ValidationError{Input: text, Reason: "no link found"}
	}
	for _, c := range candidates {
		c = strings.TrimRight(c, ".,;:!?)")
		if _, err := url.ParseRequestURI(c); err != nil {
			continue
		}
		if f.allows(c) {
			return c, nil
		}
	}
	return "", &media.ValidationError{Input: text, Reason: "link is not supported"}
}

func (f *URLFilter) allows(u string) bool {
	if len(f.allowed) == 0 {
		return true
	}
	for _, rx := range f.allowed {
		if rx.MatchString(u) {
			return true
		}
	}
	return false
}
