package reconcile

import (
	"net/url"
	"regexp"
	"strings"

	"smartdeals/internal/model"
)

// placeholderMarker matches a marker word that stands on its own, so
// "demo_1" and "Test Item" match while "Latest" and "contest" do not.
var placeholderMarker = regexp.MustCompile(`(?i)(^|[^a-z])(demo|sample|test|dummy|placeholder)([^a-z]|$)`)

var placeholderHosts = []string{"example.com", "example.org", "example.net"}

// IsPlaceholder reports whether a record looks like demo data rather than a
// real product.
func IsPlaceholder(r model.RawProduct) bool {
	for _, s := range []string{r.ID.Trimmed(), r.Title.Trimmed(), r.Name.Trimmed()} {
		if s != "" && placeholderMarker.MatchString(s) {
			return true
		}
	}
	return placeholderLink(r.Link.Trimmed())
}

func placeholderLink(link string) bool {
	lower := strings.ToLower(link)
	switch {
	case lower == "", lower == "#", strings.HasPrefix(lower, "javascript:"):
		return true
	case strings.Contains(lower, "placeholder"):
		return true
	}
	u, err := url.Parse(lower)
	if err != nil {
		return false
	}
	host := u.Hostname()
	for _, h := range placeholderHosts {
		if host == h || strings.HasSuffix(host, "."+h) {
			return true
		}
	}
	return false
}

// Usable returns the records that are not placeholders, in input order.
func Usable(raws []model.RawProduct) []model.RawProduct {
	out := make([]model.RawProduct, 0, len(raws))
	for _, r := range raws {
		if !IsPlaceholder(r) {
			out = append(out, r)
		}
	}
	return out
}
