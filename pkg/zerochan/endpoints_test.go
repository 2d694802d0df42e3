package zerochan

import (
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"plain name", "Foo+Bar", "Foo+Bar"},
		{"spaces become separator", "Foo Bar", "Foo+Bar"},
		{"pre-encoded space decoded", "Foo%20Bar", "Foo+Bar"},
		{"pre-encoded umlaut decoded", "M%C3%BCller", "Müller"},
		{"single word", "Saber", "Saber"},
		{"malformed encoding kept as-is", "Foo%ZZBar", "Foo%ZZBar"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, Normalize(tt.input))
		})
	}
}

func TestSlugRoundTrip(t *testing.T) {
	// Decoding the slug and re-normalizing must reproduce the canonical
	// form of the input, whatever mix of encoding the input arrives with.
	inputs := []string{
		"Foo+Bar",
		"Foo%20Bar",
		"Artoria+Caster",
		"Fate%2FGrand+Order",
		"Müller+Report",
	}

	for _, input := range inputs {
		t.Run(input, func(t *testing.T) {
			slug := Slug(Normalize(input))

			decoded, err := url.PathUnescape(slug)
			assert.NoError(t, err)
			assert.Equal(t, Normalize(input), strings.ReplaceAll(decoded, " ", "+"))
		})
	}
}

func TestSlugNoDoubleEncoding(t *testing.T) {
	// "%20" in the input must not become "%2520"
	slug := Slug(Normalize("Foo%20Bar"))
	assert.Equal(t, "Foo+Bar", slug)
	assert.NotContains(t, slug, "%25")
}

func TestSlugDecodesExactlyOnce(t *testing.T) {
	// A double-encoded name keeps one level of literal encoding: the
	// canonical form of "A%2520B" is "A%20B", and its wire slug
	// re-encodes that literal percent sign.
	canonical := Normalize("A%2520B")
	assert.Equal(t, "A%20B", canonical)
	assert.Equal(t, "A%2520B", Slug(canonical))
	assert.Equal(t, "A%20B", DottedName(canonical))
}

func TestSlugEncodesReservedCharacters(t *testing.T) {
	assert.Equal(t, "Fate%2FGrand+Order", Slug(Normalize("Fate/Grand Order")))
	assert.Equal(t, "M%C3%BCller", Slug(Normalize("Müller")))
}

func TestDottedName(t *testing.T) {
	assert.Equal(t, "Foo.Bar", DottedName("Foo+Bar"))
	assert.Equal(t, "Artoria.Caster", DottedName(Normalize("Artoria Caster")))
	assert.Equal(t, "Saber", DottedName("Saber"))
	assert.Equal(t, "Foo.Bar", DottedName(Normalize("Foo%20Bar")))
}

func TestListingURL(t *testing.T) {
	base := "https://www.zerochan.net"

	assert.Equal(t, "https://www.zerochan.net/Foo+Bar", ListingURL(base, "Foo+Bar", 1))
	assert.Equal(t, "https://www.zerochan.net/Foo+Bar?p=2", ListingURL(base, "Foo+Bar", 2))
	assert.Equal(t, "https://www.zerochan.net/Foo+Bar?p=3", ListingURL(base, "Foo+Bar", 3))

	// Trailing slash on the base must not produce a double slash
	assert.Equal(t, "https://www.zerochan.net/Saber", ListingURL(base+"/", "Saber", 1))
}

func TestAssetCandidates(t *testing.T) {
	candidates := AssetCandidates("https://static.zerochan.net", "Foo+Bar", "4572543")

	assert.Equal(t, []string{
		"https://static.zerochan.net/Foo.Bar.full.4572543.jpg",
		"https://static.zerochan.net/Foo.Bar.full.4572543.png",
	}, candidates)
}

func TestEntryFilename(t *testing.T) {
	assert.Equal(t, "Foo.Bar_111.jpg", EntryFilename("Foo+Bar", "111", ".jpg"))
	assert.Equal(t, "Foo.Bar_222.png", EntryFilename("Foo+Bar", "222", ".png"))
}
