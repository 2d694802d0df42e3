// Package scraper drives one full crawl-and-archive pass: for each
// subscription it gathers image IDs from the listing pages, diffs them
// against what the archive folder already holds, and downloads only the
// missing full-size assets. Subscriptions, pages, and downloads are all
// processed strictly one at a time.
package scraper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/time/rate"

	"zerowatch/pkg/archive"
	"zerowatch/pkg/config"
	"zerowatch/pkg/logger"
	"zerowatch/pkg/zerochan"
)

// fetcher is the part of the site client the scraper needs
type fetcher interface {
	FetchListing(ctx context.Context, pageURL string) (*goquery.Document, error)
	ParseListing(pageURL, html string) (*goquery.Document, error)
	OpenAsset(ctx context.Context, assetURL string) (io.ReadCloser, error)
}

// Result summarizes one complete run
type Result struct {
	Subscriptions int
	Discovered    int
	Archived      int
	Skipped       int
	Misses        int
	Failures      int
}

// downloadOutcome classifies what happened to a single image ID
type downloadOutcome int

const (
	outcomeArchived downloadOutcome = iota
	outcomeSkipped
	outcomeMiss
	outcomeFailed
)

// Scraper coordinates the crawl for all subscriptions
type Scraper struct {
	fetcher  fetcher
	renderer zerochan.Renderer
	limiter  *rate.Limiter
	cfg      *config.Config
	logger   logger.Logger
}

// New creates a Scraper wired from configuration: a direct HTTP client,
// the headless rendering fallback when enabled, and a pacer enforcing
// the configured delay between requests.
func New(cfg *config.Config, log logger.Logger) *Scraper {
	if log == nil {
		log = logger.GetLogger()
	}

	dumpDir := ""
	if cfg.Output.SaveRawHTML {
		dumpDir = cfg.Output.DebugDirectory
	}

	client := zerochan.NewClient(zerochan.ClientOptions{
		UserAgent:  cfg.Zerochan.UserAgent,
		Referer:    cfg.Zerochan.Referer,
		Timeout:    cfg.Crawl.RequestTimeout,
		MaxRetries: cfg.Crawl.MaxRetries,
		DumpDir:    dumpDir,
	}, log)

	var renderer zerochan.Renderer
	if cfg.Render.Enabled {
		renderer = zerochan.NewChromeRenderer(zerochan.RendererOptions{
			UserAgent:         cfg.Zerochan.UserAgent,
			NavigationTimeout: cfg.Render.NavigationTimeout,
			ContainerWait:     cfg.Render.ContainerWait,
		}, log)
	}

	return newScraper(cfg, client, renderer, log)
}

// newScraper wires a Scraper from explicit collaborators. rate.Every
// treats a zero delay as unlimited, which tests rely on.
func newScraper(cfg *config.Config, f fetcher, r zerochan.Renderer, log logger.Logger) *Scraper {
	return &Scraper{
		fetcher:  f,
		renderer: r,
		limiter:  rate.NewLimiter(rate.Every(cfg.Crawl.RequestDelay), 1),
		cfg:      cfg,
		logger:   log,
	}
}

// Run executes one pass over all subscriptions. Per-subscription
// failures are logged and counted but never stop the run; only context
// cancellation aborts it.
func (s *Scraper) Run(ctx context.Context, subs []string) (*Result, error) {
	result := &Result{}

	for _, raw := range subs {
		sub := zerochan.Normalize(raw)
		result.Subscriptions++

		s.logger.InfoWithFields("processing subscription", map[string]interface{}{
			"subscription": sub,
		})

		if err := s.runSubscription(ctx, sub, result); err != nil {
			if ctx.Err() != nil {
				return result, err
			}
			result.Failures++
			s.logger.ErrorWithFields("subscription failed", map[string]interface{}{
				"subscription": sub,
				"error":        err.Error(),
			})
		}
	}

	s.logger.InfoWithFields("run complete", map[string]interface{}{
		"subscriptions": result.Subscriptions,
		"discovered":    result.Discovered,
		"archived":      result.Archived,
		"misses":        result.Misses,
		"failures":      result.Failures,
	})

	return result, nil
}

// runSubscription crawls, diffs, and downloads for one subscription
func (s *Scraper) runSubscription(ctx context.Context, sub string, result *Result) error {
	dir, err := archive.EnsureFolder(s.cfg.Output.BaseDirectory, sub)
	if err != nil {
		return err
	}

	idx, err := archive.BuildIndex(dir)
	if err != nil {
		return err
	}

	ids, err := s.crawlSubscription(ctx, sub)
	if err != nil {
		return err
	}
	result.Discovered += len(ids)

	missing := idx.Missing(ids)
	s.logger.InfoWithFields("listing crawl finished", map[string]interface{}{
		"subscription": sub,
		"found":        len(ids),
		"on_disk":      idx.Len(),
		"missing":      len(missing),
	})

	for _, id := range missing {
		outcome, err := s.downloadOne(ctx, sub, dir, id)
		if err != nil {
			return err
		}
		switch outcome {
		case outcomeArchived:
			idx.Add(id)
			result.Archived++
		case outcomeSkipped:
			idx.Add(id)
			result.Skipped++
		case outcomeMiss:
			result.Misses++
		case outcomeFailed:
			result.Failures++
		}
		if err := s.pace(ctx); err != nil {
			return err
		}
	}

	return nil
}

// crawlSubscription fetches the configured number of listing pages and
// returns every extracted image ID, deduplicated and sorted. A page
// that fails to fetch contributes nothing but does not stop the crawl
// of later pages.
func (s *Scraper) crawlSubscription(ctx context.Context, sub string) ([]string, error) {
	seen := make(map[string]struct{})
	var ids []string

	for page := 1; page <= s.cfg.Crawl.PagesPerSubscription; page++ {
		pageURL := zerochan.ListingURL(s.cfg.Zerochan.BaseURL, sub, page)

		pageIDs, err := s.fetchPageIDs(ctx, pageURL)
		if err != nil {
			if ctx.Err() != nil {
				return nil, err
			}
			s.logger.WarnWithFields("listing page yielded nothing", map[string]interface{}{
				"subscription": sub,
				"page":         page,
				"url":          pageURL,
				"error":        err.Error(),
			})
		}

		for _, id := range pageIDs {
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			ids = append(ids, id)
		}

		s.logger.DebugWithFields("listing page crawled", map[string]interface{}{
			"subscription": sub,
			"page":         page,
			"ids":          len(pageIDs),
		})

		if err := s.pace(ctx); err != nil {
			return nil, err
		}
	}

	sort.Strings(ids)
	return ids, nil
}

// fetchPageIDs fetches one listing page, falling back to headless
// rendering when the direct fetch fails and a renderer is available.
func (s *Scraper) fetchPageIDs(ctx context.Context, pageURL string) ([]string, error) {
	doc, err := s.fetcher.FetchListing(ctx, pageURL)
	if err != nil {
		if s.renderer == nil || ctx.Err() != nil {
			return nil, err
		}

		var siteErr *zerochan.Error
		if errors.As(err, &siteErr) && siteErr.Type == zerochan.ErrorTypeChallenge {
			s.logger.InfoWithFields("challenge served, switching to rendering fallback", map[string]interface{}{
				"url": pageURL,
			})
		} else {
			s.logger.WarnWithFields("direct fetch failed, trying rendering fallback", map[string]interface{}{
				"url":   pageURL,
				"error": err.Error(),
			})
		}

		html, renderErr := s.renderer.FetchHTML(ctx, pageURL, zerochan.ThumbsWaitSelector())
		if renderErr != nil {
			return nil, fmt.Errorf("rendering fallback failed: %w", renderErr)
		}

		doc, err = s.fetcher.ParseListing(pageURL, html)
		if err != nil {
			return nil, err
		}
	}

	return zerochan.ExtractPageIDs(doc), nil
}

// downloadOne tries each candidate asset URL for an image ID in order
// and archives the first that exists. An entry already on disk under
// any candidate extension is left untouched.
func (s *Scraper) downloadOne(ctx context.Context, sub, dir, id string) (downloadOutcome, error) {
	candidates := zerochan.AssetCandidates(s.cfg.Zerochan.StaticURL, sub, id)

	for i, assetURL := range candidates {
		ext := zerochan.CandidateExtensions[i]
		filename := zerochan.EntryFilename(sub, id, ext)

		if _, err := os.Stat(filepath.Join(dir, filename)); err == nil {
			s.logger.DebugWithFields("entry already on disk", map[string]interface{}{
				"subscription": sub,
				"id":           id,
				"file":         filename,
			})
			return outcomeSkipped, nil
		}

		body, err := s.fetcher.OpenAsset(ctx, assetURL)
		if err != nil {
			if ctx.Err() != nil {
				return outcomeFailed, err
			}
			s.logger.DebugWithFields("asset candidate absent", map[string]interface{}{
				"subscription": sub,
				"id":           id,
				"url":          assetURL,
			})
			continue
		}

		saveErr := archive.SaveEntry(dir, filename, body)
		body.Close()
		if saveErr != nil {
			s.logger.ErrorWithFields("failed to save entry", map[string]interface{}{
				"subscription": sub,
				"id":           id,
				"file":         filename,
				"error":        saveErr.Error(),
			})
			return outcomeFailed, nil
		}

		s.logger.InfoWithFields("archived new image", map[string]interface{}{
			"subscription": sub,
			"id":           id,
			"file":         filename,
		})
		return outcomeArchived, nil
	}

	s.logger.WarnWithFields("no full-size asset found for image", map[string]interface{}{
		"subscription": sub,
		"id":           id,
	})
	return outcomeMiss, nil
}

// pace blocks until the configured inter-request delay has elapsed
func (s *Scraper) pace(ctx context.Context) error {
	if err := s.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("pacing interrupted: %w", err)
	}
	return nil
}
