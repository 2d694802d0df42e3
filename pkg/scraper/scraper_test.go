package scraper

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"zerowatch/pkg/config"
	"zerowatch/pkg/logger"
	"zerowatch/pkg/zerochan"
)

func listingPage(items ...string) string {
	return `<html><body><ul id="thumbs2">` + strings.Join(items, "") + `</ul></body></html>`
}

func thumbEntry(id string) string {
	return `<li><div><a class="thumb" href="/` + id + `"><img src="/t.jpg"></a></div></li>`
}

func favEntry(id string) string {
	return `<li><a class="fav" data-id="` + id + `"></a></li>`
}

func testConfig(t *testing.T, baseURL, staticURL string) *config.Config {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Zerochan.BaseURL = baseURL
	cfg.Zerochan.StaticURL = staticURL
	cfg.Zerochan.UserAgent = "test-agent"
	cfg.Crawl.PagesPerSubscription = 1
	cfg.Crawl.RequestDelay = 0
	cfg.Crawl.MaxRetries = 0
	cfg.Output.BaseDirectory = t.TempDir()
	cfg.Render.Enabled = false
	return cfg
}

func newTestScraper(cfg *config.Config, renderer zerochan.Renderer, log *logger.TestLogger) *Scraper {
	client := zerochan.NewClient(zerochan.ClientOptions{
		UserAgent: cfg.Zerochan.UserAgent,
		Timeout:   cfg.Crawl.RequestTimeout,
	}, log)
	return newScraper(cfg, client, renderer, log)
}

// staticAssets serves full-size assets by exact path, 404 otherwise,
// and counts every request it sees.
func staticAssets(assets map[string]string, requests *atomic.Int64) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if requests != nil {
			requests.Add(1)
		}
		body, ok := assets[r.URL.Path]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Write([]byte(body))
	})
}

func TestRunArchivesMissingImages(t *testing.T) {
	listing := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(listingPage(
			thumbEntry("111"),
			favEntry("222"),
			`<li><span>no usable markers here</span></li>`,
		)))
	}))
	defer listing.Close()

	static := httptest.NewServer(staticAssets(map[string]string{
		"/Foo.Bar.full.111.jpg": "jpeg-bytes-111",
		"/Foo.Bar.full.222.png": "png-bytes-222",
	}, nil))
	defer static.Close()

	cfg := testConfig(t, listing.URL, static.URL)
	log := logger.NewTestLogger()
	s := newTestScraper(cfg, nil, log)

	result, err := s.Run(context.Background(), []string{"Foo+Bar"})
	require.NoError(t, err)

	assert.Equal(t, 1, result.Subscriptions)
	assert.Equal(t, 2, result.Discovered)
	assert.Equal(t, 2, result.Archived)
	assert.Equal(t, 0, result.Misses)
	assert.Equal(t, 0, result.Failures)

	dir := filepath.Join(cfg.Output.BaseDirectory, "Foo Bar")
	data, err := os.ReadFile(filepath.Join(dir, "Foo.Bar_111.jpg"))
	require.NoError(t, err)
	assert.Equal(t, "jpeg-bytes-111", string(data))

	data, err = os.ReadFile(filepath.Join(dir, "Foo.Bar_222.png"))
	require.NoError(t, err)
	assert.Equal(t, "png-bytes-222", string(data))
}

func TestRunIsIdempotent(t *testing.T) {
	listing := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(listingPage(thumbEntry("500"))))
	}))
	defer listing.Close()

	var assetRequests atomic.Int64
	static := httptest.NewServer(staticAssets(map[string]string{
		"/Foo.full.500.jpg": "data",
	}, &assetRequests))
	defer static.Close()

	cfg := testConfig(t, listing.URL, static.URL)
	log := logger.NewTestLogger()
	s := newTestScraper(cfg, nil, log)

	result, err := s.Run(context.Background(), []string{"Foo"})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Archived)
	firstRunRequests := assetRequests.Load()

	// The second run rebuilds the index from disk and finds nothing
	// missing, so the asset host is never contacted again.
	result, err = s.Run(context.Background(), []string{"Foo"})
	require.NoError(t, err)
	assert.Equal(t, 0, result.Archived)
	assert.Equal(t, 0, result.Skipped)
	assert.Equal(t, 0, result.Misses)
	assert.Equal(t, firstRunRequests, assetRequests.Load())
}

func TestRunTriesCandidatesInOrder(t *testing.T) {
	listing := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(listingPage(thumbEntry("42"))))
	}))
	defer listing.Close()

	var mu sync.Mutex
	var paths []string
	static := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		paths = append(paths, r.URL.Path)
		mu.Unlock()
		if r.URL.Path == "/Foo.full.42.png" {
			w.Write([]byte("png-data"))
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer static.Close()

	cfg := testConfig(t, listing.URL, static.URL)
	log := logger.NewTestLogger()
	s := newTestScraper(cfg, nil, log)

	result, err := s.Run(context.Background(), []string{"Foo"})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Archived)
	mu.Lock()
	assert.Equal(t, []string{"/Foo.full.42.jpg", "/Foo.full.42.png"}, paths)
	mu.Unlock()

	dir := filepath.Join(cfg.Output.BaseDirectory, "Foo")
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "Foo_42.png", entries[0].Name())
}

func TestRunRecordsMissWhenNoCandidateExists(t *testing.T) {
	listing := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(listingPage(thumbEntry("7"))))
	}))
	defer listing.Close()

	static := httptest.NewServer(staticAssets(nil, nil))
	defer static.Close()

	cfg := testConfig(t, listing.URL, static.URL)
	log := logger.NewTestLogger()
	s := newTestScraper(cfg, nil, log)

	result, err := s.Run(context.Background(), []string{"Foo"})
	require.NoError(t, err)
	assert.Equal(t, 0, result.Archived)
	assert.Equal(t, 1, result.Misses)
	assert.True(t, log.HasMessage("no full-size asset found for image"))

	dir := filepath.Join(cfg.Output.BaseDirectory, "Foo")
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

type fakeRenderer struct {
	html     string
	err      error
	calls    int
	lastURL  string
	lastWait string
}

func (r *fakeRenderer) FetchHTML(ctx context.Context, pageURL, waitSelector string) (string, error) {
	r.calls++
	r.lastURL = pageURL
	r.lastWait = waitSelector
	return r.html, r.err
}

func TestRunFallsBackToRenderingOnChallenge(t *testing.T) {
	listing := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte("<html><title>Just a moment...</title></html>"))
	}))
	defer listing.Close()

	static := httptest.NewServer(staticAssets(map[string]string{
		"/Foo.full.900.jpg": "rendered-route",
	}, nil))
	defer static.Close()

	cfg := testConfig(t, listing.URL, static.URL)
	log := logger.NewTestLogger()
	renderer := &fakeRenderer{html: listingPage(thumbEntry("900"))}
	s := newTestScraper(cfg, renderer, log)

	result, err := s.Run(context.Background(), []string{"Foo"})
	require.NoError(t, err)

	assert.Equal(t, 1, renderer.calls)
	assert.Equal(t, "ul[id^=thumbs]", renderer.lastWait)
	assert.Equal(t, 1, result.Archived)
	assert.True(t, log.HasMessage("challenge served, switching to rendering fallback"))

	_, err = os.Stat(filepath.Join(cfg.Output.BaseDirectory, "Foo", "Foo_900.jpg"))
	assert.NoError(t, err)
}

func TestRunWithoutRendererLogsAndContinues(t *testing.T) {
	listing := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer listing.Close()

	static := httptest.NewServer(staticAssets(nil, nil))
	defer static.Close()

	cfg := testConfig(t, listing.URL, static.URL)
	log := logger.NewTestLogger()
	s := newTestScraper(cfg, nil, log)

	result, err := s.Run(context.Background(), []string{"Foo"})
	require.NoError(t, err)
	assert.Equal(t, 0, result.Discovered)
	assert.Equal(t, 0, result.Failures)
	assert.True(t, log.HasMessage("listing page yielded nothing"))
}

func TestRunDeduplicatesAcrossPages(t *testing.T) {
	listing := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Both pages advertise the same image.
		w.Write([]byte(listingPage(thumbEntry("321"))))
	}))
	defer listing.Close()

	var assetRequests atomic.Int64
	static := httptest.NewServer(staticAssets(map[string]string{
		"/Foo.full.321.jpg": "once",
	}, &assetRequests))
	defer static.Close()

	cfg := testConfig(t, listing.URL, static.URL)
	cfg.Crawl.PagesPerSubscription = 2
	log := logger.NewTestLogger()
	s := newTestScraper(cfg, nil, log)

	result, err := s.Run(context.Background(), []string{"Foo"})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Discovered)
	assert.Equal(t, 1, result.Archived)
	assert.Equal(t, int64(1), assetRequests.Load())
}

func TestRunProcessesPlusJoinedNames(t *testing.T) {
	var mu sync.Mutex
	var listingPaths []string
	listing := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		listingPaths = append(listingPaths, r.URL.RequestURI())
		mu.Unlock()
		w.Write([]byte(listingPage(favEntry("55"))))
	}))
	defer listing.Close()

	static := httptest.NewServer(staticAssets(map[string]string{
		"/Artoria.Caster.full.55.jpg": "x",
	}, nil))
	defer static.Close()

	cfg := testConfig(t, listing.URL, static.URL)
	cfg.Crawl.PagesPerSubscription = 2
	log := logger.NewTestLogger()
	s := newTestScraper(cfg, nil, log)

	// A name with a space normalizes to the '+' separated slug.
	result, err := s.Run(context.Background(), []string{"Artoria Caster"})
	require.NoError(t, err)
	mu.Lock()
	assert.Equal(t, []string{"/Artoria+Caster", "/Artoria+Caster?p=2"}, listingPaths)
	mu.Unlock()
	assert.Equal(t, 1, result.Archived)

	_, err = os.Stat(filepath.Join(cfg.Output.BaseDirectory, "Artoria Caster", "Artoria.Caster_55.jpg"))
	assert.NoError(t, err)
}

func TestRunDecodesNamesExactlyOnce(t *testing.T) {
	var mu sync.Mutex
	var listingURIs []string
	listing := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		listingURIs = append(listingURIs, r.RequestURI)
		mu.Unlock()
		w.Write([]byte(listingPage()))
	}))
	defer listing.Close()

	static := httptest.NewServer(staticAssets(nil, nil))
	defer static.Close()

	cfg := testConfig(t, listing.URL, static.URL)
	log := logger.NewTestLogger()
	s := newTestScraper(cfg, nil, log)

	// A double-encoded name normalizes to "A%20B" and must reach the
	// wire with that literal "%20" re-encoded once, not stripped to a
	// plain separator by a second decode.
	_, err := s.Run(context.Background(), []string{"A%2520B"})
	require.NoError(t, err)

	mu.Lock()
	assert.Equal(t, []string{"/A%2520B"}, listingURIs)
	mu.Unlock()

	_, err = os.Stat(filepath.Join(cfg.Output.BaseDirectory, "A%20B"))
	assert.NoError(t, err)
}

func TestRunCancelledContextAborts(t *testing.T) {
	listing := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(listingPage(thumbEntry("1"))))
	}))
	defer listing.Close()

	cfg := testConfig(t, listing.URL, listing.URL)
	log := logger.NewTestLogger()
	s := newTestScraper(cfg, nil, log)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.Run(ctx, []string{"Foo"})
	assert.Error(t, err)
}
