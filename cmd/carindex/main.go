package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	_ "net/http/pprof"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"carindex/pkg/adapter"
	"carindex/pkg/api"
	"carindex/pkg/config"
	"carindex/pkg/fetch"
	"carindex/pkg/orchestrate"
	"carindex/pkg/storage"
	"carindex/pkg/taxonomy"
)

const version = "0.4.1"

// veegoChunkURL is the compiled frontend chunk carrying the i18n dictionary
// used to translate API taxonomy labels. Overridable per run because the hash
// changes on every site deploy.
const veegoChunkURL = "https://veego.ee/_nuxt/entry.js"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "crawl":
		runCrawl(os.Args[2:])
	case "seed":
		runSeed(os.Args[2:])
	case "resolve":
		runResolve(os.Args[2:])
	case "serve":
		runServe(os.Args[2:])
	case "validate":
		runValidate(os.Args[2:])
	case "list-sites":
		runListSites(os.Args[2:])
	case "version":
		fmt.Printf("carindex %s\n", version)
	case "-h", "--help", "help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`carindex - Vehicle listing aggregator

Usage:
  carindex <command> [options]

Commands:
  crawl       Crawl the configured sites and update the catalog
  seed        Seed the canonical taxonomy from the sites' own catalogs
  resolve     Resolve stored listings against the canonical taxonomy
  serve       Start the read-only REST API
  validate    Validate configuration file
  list-sites  List configured sites
  version     Show version info

Run 'carindex <command> -h' for command-specific help.`)
}

// setupLogger creates a configured logrus.Logger with the given log level.
func setupLogger(logLevelStr string) *logrus.Logger {
	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, TimestampFormat: "15:04:05.000"})
	log.SetLevel(logrus.InfoLevel)

	level, err := logrus.ParseLevel(logLevelStr)
	if err != nil {
		log.Warnf("Invalid log level '%s', using default 'info'. Error: %v", logLevelStr, err)
	} else {
		log.SetLevel(level)
	}
	return log
}

// loadAndValidateConfig loads the config file, validates it, and logs warnings.
func loadAndValidateConfig(configFile string, log *logrus.Logger) *config.AppConfig {
	log.Infof("Loading configuration from %s", configFile)
	appCfg, err := config.Load(configFile)
	if err != nil {
		log.Fatalf("Config error: %v", err)
	}

	warnings, err := appCfg.Validate()
	for _, w := range warnings {
		log.Warn(w)
	}
	if err != nil {
		log.Fatalf("Config error: %v", err)
	}
	return appCfg
}

// signalContext returns a context cancelled on SIGINT/SIGTERM. A second
// signal forces exit.
func signalContext(log *logrus.Logger) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		log.Warnf("Received signal %v, initiating graceful shutdown...", sig)
		cancel()
		select {
		case sig = <-sigChan:
			log.Warnf("Received second signal %v, forcing exit", sig)
			os.Exit(1)
		case <-time.After(30 * time.Second):
			log.Warn("Graceful shutdown period exceeded, forcing exit")
			os.Exit(1)
		}
	}()
	return ctx, cancel
}

// enabledSites returns the configured site keys that have a registered
// adapter and are not disabled, sorted.
func enabledSites(appCfg *config.AppConfig, log *logrus.Logger) []string {
	registered := make(map[string]bool)
	for _, site := range adapter.Sites() {
		registered[site] = true
	}

	var keys []string
	for key, siteCfg := range appCfg.Sites {
		if !registered[key] {
			log.Warnf("Site '%s' has no adapter, skipping", key)
			continue
		}
		if !config.IsSiteEnabled(siteCfg) {
			log.Infof("Site '%s' is disabled, skipping", key)
			continue
		}
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// buildTransport wires the HTTP transport for one site. auto24 fronts its
// pages with bot detection, so it defaults to the browser-shaped transport;
// everything else uses the plain client, with a robots.txt gate when
// configured.
func buildTransport(site string, siteCfg config.SiteConfig, appCfg *config.AppConfig, log *logrus.Logger) fetch.Transport {
	entry := log.WithField("site", site)
	ua := config.GetEffectiveUserAgent(siteCfg, *appCfg)

	impersonate := site == adapter.SiteAuto24
	if siteCfg.Impersonate != nil {
		impersonate = *siteCfg.Impersonate
	}
	if impersonate {
		return fetch.NewImpersonatingTransport(ua, appCfg.RequestTimeout, appCfg.MaxRetries, entry)
	}

	client := fetch.NewClient(appCfg.HTTPClientSettings, log)
	var gate *fetch.RobotsGate
	if appCfg.RespectRobots {
		gate = fetch.NewRobotsGate(client, ua, entry)
	}
	return fetch.NewPlainTransport(client, ua, gate, entry)
}

// runCrawl handles the crawl subcommand
func runCrawl(args []string) {
	fs := flag.NewFlagSet("crawl", flag.ExitOnError)
	configFile := fs.String("config", "config.yaml", "Path to config file")
	sites := fs.String("sites", "", "Comma-separated site keys (default: all enabled)")
	logLevel := fs.String("loglevel", "info", "Log level (debug, info, warn, error, fatal)")
	pprofAddr := fs.String("pprof", "", "pprof address, e.g. localhost:6060 (disabled by default)")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: carindex crawl [options]\n\nOptions:\n")
		fs.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  carindex crawl\n")
		fmt.Fprintf(os.Stderr, "  carindex crawl -sites auto24\n")
	}
	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	log := setupLogger(*logLevel)
	appCfg := loadAndValidateConfig(*configFile, log)
	startPprof(*pprofAddr, log)

	siteKeys := resolveSiteKeys(*sites, appCfg, log)
	if len(siteKeys) == 0 {
		log.Fatal("No sites to crawl")
	}

	store, err := storage.Open(appCfg.DatabasePath, log.WithField("component", "storage"))
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer store.Close()

	ctx, cancel := signalContext(log)
	defer cancel()

	var jobs []orchestrate.SiteJob
	for _, key := range siteKeys {
		siteCfg := appCfg.Sites[key]
		deps := adapter.Deps{
			Transport:   buildTransport(key, siteCfg, appCfg, log),
			RateLimiter: fetch.NewRateLimiter(appCfg.RequestDelay, log),
			BaseURL:     siteCfg.BaseURL,
			PageDelay:   siteCfg.PageDelay,
			Log:         log.WithField("component", "adapter"),
		}
		siteAdapter, err := adapter.New(key, deps)
		if err != nil {
			log.Fatalf("Failed to build adapter for '%s': %v", key, err)
		}
		defer siteAdapter.Close()

		jobs = append(jobs, orchestrate.SiteJob{
			Adapter:      siteAdapter,
			MaxPages:     config.GetEffectiveMaxPages(siteCfg, *appCfg),
			BatchSize:    config.GetEffectiveBatchSize(siteCfg, *appCfg),
			RequestDelay: config.GetEffectiveRequestDelay(siteCfg, *appCfg),
		})
	}

	orch := orchestrate.NewRunOrchestrator(store, log.WithField("component", "orchestrate"))
	report, err := orch.Run(ctx, jobs)
	if err != nil {
		log.Fatalf("Run failed: %v", err)
	}

	for _, sr := range report.Sites {
		if sr.Failed {
			os.Exit(1)
		}
	}
}

// runSeed handles the seed subcommand
func runSeed(args []string) {
	fs := flag.NewFlagSet("seed", flag.ExitOnError)
	configFile := fs.String("config", "config.yaml", "Path to config file")
	sites := fs.String("sites", "", "Comma-separated site keys (default: all enabled)")
	logLevel := fs.String("loglevel", "info", "Log level (debug, info, warn, error, fatal)")
	chunkURL := fs.String("veego-chunk-url", veegoChunkURL, "Veego frontend chunk with the i18n dictionary ('' disables translation)")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: carindex seed [options]\n\nOptions:\n")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	log := setupLogger(*logLevel)
	appCfg := loadAndValidateConfig(*configFile, log)

	siteKeys := resolveSiteKeys(*sites, appCfg, log)
	if len(siteKeys) == 0 {
		log.Fatal("No sites to seed")
	}

	if code := doSeed(siteKeys, appCfg, *chunkURL, log); code != 0 {
		os.Exit(code)
	}
}

// doSeed seeds every site, closing the store and the page cache before it
// returns. Returns exit code (0 = success, 1 = at least one site failed).
func doSeed(siteKeys []string, appCfg *config.AppConfig, chunkURL string, log *logrus.Logger) int {
	store, err := storage.Open(appCfg.DatabasePath, log.WithField("component", "storage"))
	if err != nil {
		log.Errorf("Failed to open database: %v", err)
		return 1
	}
	defer store.Close()

	// Taxonomy endpoints barely change; cache them so re-runs are cheap
	cacheDB, err := storage.OpenPageCache(appCfg.PageCacheDir, log.WithField("component", "page_cache"))
	if err != nil {
		log.Errorf("Failed to open page cache: %v", err)
		return 1
	}
	defer cacheDB.Close()

	ctx, cancel := signalContext(log)
	defer cancel()

	seeder := taxonomy.NewSeeder(store, log.WithField("component", "seed"))
	exitCode := 0
	for _, key := range siteKeys {
		siteCfg := appCfg.Sites[key]
		transport := fetch.NewCachedTransport(
			buildTransport(key, siteCfg, appCfg, log),
			cacheDB, appCfg.PageCacheTTL, log.WithField("site", key))

		extractor, err := buildExtractor(key, siteCfg, transport, chunkURL, log)
		if err != nil {
			log.Errorf("Seeding '%s' skipped: %v", key, err)
			exitCode = 1
			continue
		}

		report, err := seeder.SeedFromSource(ctx, extractor)
		transport.Close()
		if err != nil {
			log.Errorf("Seeding '%s' failed: %v", key, err)
			exitCode = 1
			continue
		}
		log.WithFields(logrus.Fields{
			"site":     key,
			"makes":    report.Makes,
			"series":   report.Series,
			"models":   report.Models,
			"mappings": report.Mappings,
		}).Info("Seeding finished")
	}
	return exitCode
}

// buildExtractor wires the taxonomy extractor for one site.
func buildExtractor(site string, siteCfg config.SiteConfig, transport fetch.Transport, chunkURL string, log *logrus.Logger) (taxonomy.SourceExtractor, error) {
	entry := log.WithField("component", "seed")
	switch site {
	case adapter.SiteAuto24:
		return adapter.NewAuto24TaxonomyExtractor(transport, siteCfg.BaseURL, entry), nil
	case adapter.SiteAutodiiler:
		return adapter.NewAutodiilerTaxonomyExtractor(transport, siteCfg.BaseURL, entry), nil
	case adapter.SiteVeego:
		return adapter.NewVeegoTaxonomyExtractor(transport, siteCfg.BaseURL, chunkURL, entry), nil
	default:
		return nil, fmt.Errorf("no taxonomy extractor for site '%s'", site)
	}
}

// runResolve handles the resolve subcommand
func runResolve(args []string) {
	fs := flag.NewFlagSet("resolve", flag.ExitOnError)
	configFile := fs.String("config", "config.yaml", "Path to config file")
	logLevel := fs.String("loglevel", "info", "Log level (debug, info, warn, error, fatal)")
	limit := fs.Int("limit", 0, "Max listings to scan (0 = no limit)")
	reapply := fs.Bool("reapply", false, "Re-resolve every listing, not just unresolved ones")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: carindex resolve [options]\n\nOptions:\n")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	log := setupLogger(*logLevel)
	appCfg := loadAndValidateConfig(*configFile, log)

	store, err := storage.Open(appCfg.DatabasePath, log.WithField("component", "storage"))
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer store.Close()

	ctx, cancel := signalContext(log)
	defer cancel()

	resolver := taxonomy.NewResolver(store, log.WithField("component", "resolve"))
	if *reapply {
		r, err := resolver.ReapplyAll(ctx, *limit)
		if err != nil {
			log.Fatalf("Resolution failed: %v", err)
		}
		log.WithFields(logrus.Fields{"scanned": r.Scanned, "updated": r.Updated, "skipped": r.Skipped}).Info("Reapply finished")
	} else {
		r, err := resolver.ResolveAllUnresolved(ctx, *limit)
		if err != nil {
			log.Fatalf("Resolution failed: %v", err)
		}
		log.WithFields(logrus.Fields{"scanned": r.Scanned, "updated": r.Updated, "skipped": r.Skipped}).Info("Resolution finished")
	}
}

// runServe handles the serve subcommand
func runServe(args []string) {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configFile := fs.String("config", "config.yaml", "Path to config file")
	logLevel := fs.String("loglevel", "info", "Log level (debug, info, warn, error, fatal)")
	addr := fs.String("addr", "", "Listen address (overrides config)")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: carindex serve [options]\n\nOptions:\n")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	log := setupLogger(*logLevel)
	appCfg := loadAndValidateConfig(*configFile, log)

	listenAddr := appCfg.API.Addr
	if *addr != "" {
		listenAddr = *addr
	}

	store, err := storage.Open(appCfg.DatabasePath, log.WithField("component", "storage"))
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer store.Close()

	ctx, cancel := signalContext(log)
	defer cancel()

	server := api.NewServer(store, listenAddr, logrus.NewEntry(log))
	if err := server.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("API server error: %v", err)
	}
	log.Info("API server stopped")
}

// runValidate handles the validate subcommand
func runValidate(args []string) {
	fs := flag.NewFlagSet("validate", flag.ExitOnError)
	configFile := fs.String("config", "config.yaml", "Path to config file")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: carindex validate [options]\n\nOptions:\n")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}
	os.Exit(doValidate(*configFile, os.Stdout, os.Stderr))
}

// doValidate performs validation and writes output to provided writers.
// Returns exit code (0 = success, 1 = error).
func doValidate(configPath string, stdout, stderr io.Writer) int {
	appCfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	warnings, err := appCfg.Validate()
	for _, w := range warnings {
		fmt.Fprintf(stdout, "WARN: %s\n", w)
	}
	if err != nil {
		fmt.Fprintf(stderr, "ERROR: %v\n", err)
		return 1
	}

	fmt.Fprintln(stdout, "\nConfiguration valid.")
	return 0
}

// runListSites handles the list-sites subcommand
func runListSites(args []string) {
	fs := flag.NewFlagSet("list-sites", flag.ExitOnError)
	configFile := fs.String("config", "config.yaml", "Path to config file")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: carindex list-sites [options]\n\nOptions:\n")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}
	os.Exit(doListSites(*configFile, os.Stdout, os.Stderr))
}

// doListSites lists configured sites with their adapter/enabled status.
// Returns exit code (0 = success, 1 = error).
func doListSites(configPath string, stdout, stderr io.Writer) int {
	appCfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	registered := make(map[string]bool)
	for _, site := range adapter.Sites() {
		registered[site] = true
	}

	keys := make([]string, 0, len(appCfg.Sites))
	for k := range appCfg.Sites {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	fmt.Fprintf(stdout, "Sites in %s:\n\n", configPath)
	for _, key := range keys {
		siteCfg := appCfg.Sites[key]
		status := "enabled"
		if !config.IsSiteEnabled(siteCfg) {
			status = "disabled"
		}
		if !registered[key] {
			status += ", no adapter"
		}
		fmt.Fprintf(stdout, "  %s (%s)\n", key, status)
		if siteCfg.BaseURL != "" {
			fmt.Fprintf(stdout, "    Base URL: %s\n", siteCfg.BaseURL)
		}
	}
	return 0
}

// resolveSiteKeys picks the sites for this run: the -sites flag when given,
// otherwise every enabled configured site.
func resolveSiteKeys(sitesFlag string, appCfg *config.AppConfig, log *logrus.Logger) []string {
	if sitesFlag == "" {
		return enabledSites(appCfg, log)
	}
	var keys []string
	for _, s := range strings.Split(sitesFlag, ",") {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		if _, ok := appCfg.Sites[s]; !ok {
			log.Fatalf("Site '%s' not found in config", s)
		}
		keys = append(keys, s)
	}
	return keys
}

// startPprof starts the pprof HTTP server if addr is non-empty.
func startPprof(addr string, log *logrus.Logger) {
	if addr != "" {
		go func() {
			log.Infof("Starting pprof server at http://%s/debug/pprof/", addr)
			if err := http.ListenAndServe(addr, nil); err != nil {
				log.Errorf("pprof server error: %v", err)
			}
		}()
	}
}
