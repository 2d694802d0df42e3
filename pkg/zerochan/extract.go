package zerochan

import (
	"regexp"
	"sort"

	"github.com/PuerkitoBio/goquery"
)

// containerSelectors locate the thumbnail list, tried in priority order.
// The site has shipped several ids for the same container over time.
var containerSelectors = []string{
	"#thumbs2",
	"#thumbs3",
	"#thumbs",
	"ul[id^=thumbs]",
}

var (
	// numericSegment matches an image ID appearing as a path segment,
	// e.g. /4572543, /4572543?q=1 or /4572543#detail
	numericSegment = regexp.MustCompile(`/(\d+)(?:[/?#]|$)`)

	allDigits = regexp.MustCompile(`^\d+$`)
)

// idStrategy extracts an image ID from one thumbnail entry, returning ""
// when the entry does not match.
type idStrategy struct {
	name    string
	extract func(entry *goquery.Selection) string
}

// idStrategies is the fallback cascade applied per entry, highest priority
// first. The first strategy yielding an ID wins and the rest are skipped.
var idStrategies = []idStrategy{
	{
		name: "thumb_anchor",
		extract: func(entry *goquery.Selection) string {
			href, ok := entry.Find("div > a.thumb").First().Attr("href")
			if !ok {
				return ""
			}
			return numericSegmentID(href)
		},
	},
	{
		name: "fav_data_id",
		extract: func(entry *goquery.Selection) string {
			id, ok := entry.Find("a.fav").First().Attr("data-id")
			if ok && allDigits.MatchString(id) {
				return id
			}
			return ""
		},
	},
	{
		name: "any_data_id",
		extract: func(entry *goquery.Selection) string {
			id, ok := entry.Find("[data-id]").First().Attr("data-id")
			if ok && allDigits.MatchString(id) {
				return id
			}
			return ""
		},
	},
	{
		name: "any_anchor",
		extract: func(entry *goquery.Selection) string {
			var found string
			entry.Find("a[href]").EachWithBreak(func(_ int, a *goquery.Selection) bool {
				href, _ := a.Attr("href")
				if id := numericSegmentID(href); id != "" {
					found = id
					return false
				}
				return true
			})
			return found
		},
	},
}

// numericSegmentID pulls the first purely numeric path segment out of a
// link target
func numericSegmentID(href string) string {
	m := numericSegment.FindStringSubmatch(href)
	if m == nil {
		return ""
	}
	return m[1]
}

// FindThumbsContainer locates the thumbnail list node in a parsed listing
// page. Returns nil when no known container shape matches; the page then
// contributes zero identifiers.
func FindThumbsContainer(doc *goquery.Document) *goquery.Selection {
	for _, sel := range containerSelectors {
		if container := doc.Find(sel).First(); container.Length() > 0 {
			return container
		}
	}
	return nil
}

// ExtractIDs returns the distinct image identifiers referenced by a
// thumbnail container, deduplicated and sorted for reproducibility.
// Entries matching no strategy are skipped silently.
func ExtractIDs(container *goquery.Selection) []string {
	if container == nil {
		return nil
	}

	seen := make(map[string]struct{})

	entries := container.ChildrenFiltered("li")
	if entries.Length() == 0 {
		entries = container.Find("li")
	}

	entries.Each(func(_ int, entry *goquery.Selection) {
		for _, strategy := range idStrategies {
			if id := strategy.extract(entry); id != "" {
				seen[id] = struct{}{}
				return
			}
		}
	})

	ids := make([]string, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// ExtractPageIDs combines container lookup and ID extraction for one
// parsed listing page.
func ExtractPageIDs(doc *goquery.Document) []string {
	return ExtractIDs(FindThumbsContainer(doc))
}
