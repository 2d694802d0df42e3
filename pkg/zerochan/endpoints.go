package zerochan

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

const (
	// DefaultBaseURL is the listing site root
	DefaultBaseURL = "https://www.zerochan.net"

	// DefaultStaticURL is the asset host root
	DefaultStaticURL = "https://static.zerochan.net"

	// fullInfix joins the dotted subscription stem and the image ID in
	// full-size asset filenames
	fullInfix = ".full."
)

// CandidateExtensions is the fixed probe order for full-size assets.
var CandidateExtensions = []string{".jpg", ".png"}

// Normalize returns the canonical form of a subscription name: any
// pre-existing percent-encoding decoded, then spaces collapsed to the
// '+' word separator. It is the only place a name is ever decoded;
// decoding must happen exactly once, or a name like "A%2520B" loses its
// literal "%20" on the second pass. The derived-form helpers below all
// take the canonical form and never decode.
func Normalize(sub string) string {
	decoded, err := url.PathUnescape(sub)
	if err != nil {
		decoded = sub
	}
	return strings.ReplaceAll(decoded, " ", "+")
}

// DottedName returns the filename stem for a canonical subscription
// name, with the '+' word separator replaced by '.'
// (e.g. "Foo+Bar" -> "Foo.Bar").
func DottedName(sub string) string {
	return strings.ReplaceAll(sub, "+", ".")
}

// Slug percent-encodes a canonical subscription name for use as a
// listing path segment, keeping the '+' word separator literal.
func Slug(sub string) string {
	var b strings.Builder
	b.Grow(len(sub))
	for i := 0; i < len(sub); i++ {
		c := sub[i]
		if isSlugSafe(c) {
			b.WriteByte(c)
		} else {
			fmt.Fprintf(&b, "%%%02X", c)
		}
	}
	return b.String()
}

// isSlugSafe reports whether a byte may appear unescaped in a slug.
// Unreserved characters per RFC 3986, plus the '+' separator.
func isSlugSafe(c byte) bool {
	switch {
	case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		return true
	case c == '-' || c == '_' || c == '.' || c == '~' || c == '+':
		return true
	}
	return false
}

// ListingURL constructs the listing page URL for a canonical
// subscription name. Page 1 is the bare tag path; later pages append
// the p query parameter.
func ListingURL(baseURL, sub string, page int) string {
	u := strings.TrimSuffix(baseURL, "/") + "/" + Slug(sub)
	if page > 1 {
		u += "?p=" + strconv.Itoa(page)
	}
	return u
}

// AssetCandidates constructs the ordered list of full-size asset URLs to
// try for one image ID, one per candidate extension.
func AssetCandidates(staticURL, sub, id string) []string {
	stem := strings.TrimSuffix(staticURL, "/") + "/" + DottedName(sub) + fullInfix + id
	urls := make([]string, 0, len(CandidateExtensions))
	for _, ext := range CandidateExtensions {
		urls = append(urls, stem+ext)
	}
	return urls
}

// EntryFilename returns the on-disk name for an archive entry,
// e.g. "Foo.Bar_1234567.jpg". ext must include the leading dot.
func EntryFilename(sub, id, ext string) string {
	return DottedName(sub) + "_" + id + ext
}
