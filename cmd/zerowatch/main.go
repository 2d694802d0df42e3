package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"zerowatch/pkg/archive"
	"zerowatch/pkg/config"
	"zerowatch/pkg/logger"
	"zerowatch/pkg/scraper"
	"zerowatch/pkg/subscriptions"
	"zerowatch/pkg/zerochan"
)

var (
	configFile  = flag.String("config", "", "Path to configuration file")
	subsFile    = flag.String("subscriptions", "", "Path to the subscriptions list file")
	outputDir   = flag.String("output", "", "Root directory of the image archive")
	pages       = flag.Int("pages", 0, "Listing pages to crawl per subscription")
	delay       = flag.Duration("delay", -1, "Delay between requests (e.g. 2s)")
	render      = flag.Bool("render", true, "Enable the headless rendering fallback")
	saveRawHTML = flag.Bool("save-raw-html", false, "Dump fetched listing HTML for diagnostics")
	logLevel    = flag.String("log-level", "", "Log level (debug, info, warn, error)")
)

func main() {
	flag.Parse()

	flags := make(map[string]interface{})
	if *subsFile != "" {
		flags["subscriptions"] = *subsFile
	}
	if *outputDir != "" {
		flags["output"] = *outputDir
	}
	if *pages > 0 {
		flags["pages"] = *pages
	}
	if *delay >= 0 {
		flags["delay"] = *delay
	}
	if !*render {
		flags["render"] = false
	}
	if *saveRawHTML {
		flags["save-raw-html"] = true
	}
	if *logLevel != "" {
		flags["log-level"] = *logLevel
	}

	cfg, err := config.Load(*configFile, flags)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger.Initialize(&cfg.Logging)
	log := logger.GetLogger()
	log.WithField("archive", cfg.Output.BaseDirectory).Info("zerowatch starting")

	// An unreadable subscription list means there is nothing meaningful
	// to do, so this fails before any network traffic.
	subs, err := subscriptions.Load(cfg.Output.SubscriptionsFile)
	if err != nil {
		log.WithError(err).Error("could not load subscriptions")
		fmt.Fprintf(os.Stderr, "Could not load subscriptions: %v\n", err)
		os.Exit(1)
	}
	if len(subs) == 0 {
		log.Warn("subscription list is empty, nothing to do")
		fmt.Println("Subscription list is empty, nothing to do.")
		return
	}

	if err := os.MkdirAll(cfg.Output.BaseDirectory, 0755); err != nil {
		log.WithError(err).Error("could not create archive directory")
		fmt.Fprintf(os.Stderr, "Could not create archive directory: %v\n", err)
		os.Exit(1)
	}

	// Older versions kept everything in one flat folder. Move any such
	// leftovers into per-subscription folders before crawling. The
	// migration needs canonical names so its stems and folders match
	// what the crawl produces.
	canonical := make([]string, len(subs))
	for i, sub := range subs {
		canonical[i] = zerochan.Normalize(sub)
	}
	archive.MigrateFlatLayout(cfg.Output.BaseDirectory, canonical, zerochan.DottedName, log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	start := time.Now()
	s := scraper.New(cfg, log)

	result, err := s.Run(ctx, subs)
	if err != nil {
		log.WithError(err).Error("run aborted")
		fmt.Fprintf(os.Stderr, "Run aborted: %v\n", err)
		os.Exit(1)
	}

	log.WithFields(map[string]interface{}{
		"subscriptions": result.Subscriptions,
		"archived":      result.Archived,
		"misses":        result.Misses,
		"failures":      result.Failures,
		"elapsed":       time.Since(start).Round(time.Second).String(),
	}).Info("zerowatch finished")

	fmt.Printf("Done: %d subscription(s) checked, %d new image(s) archived, %d miss(es), %d failure(s) in %s.\n",
		result.Subscriptions, result.Archived, result.Misses, result.Failures,
		time.Since(start).Round(time.Second))

	if result.Failures > 0 {
		os.Exit(1)
	}
}
