package zerochan

import (
	"bytes"
	"net/http"
)

// challengeMarkers are body phrases that identify an anti-bot interstitial
// served in place of a real listing page. Matched case-insensitively.
var challengeMarkers = [][]byte{
	[]byte("just a moment"),
	[]byte("checking your browser"),
	[]byte("verify you are human"),
	[]byte("cf-browser-verification"),
	[]byte("cf-chl-"),
}

// IsChallenge reports whether a listing response is an anti-bot challenge
// rather than real content. A 429 or 503 status counts on its own; for any
// other status the body is scanned for interstitial markers.
func IsChallenge(statusCode int, body []byte) bool {
	if statusCode == http.StatusTooManyRequests || statusCode == http.StatusServiceUnavailable {
		return true
	}

	lower := bytes.ToLower(body)
	for _, marker := range challengeMarkers {
		if bytes.Contains(lower, marker) {
			return true
		}
	}
	return false
}
