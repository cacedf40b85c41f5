// Command keg fetches and caches NGDP-style patch-distribution content:
// CDN metadata, config files, archive indices and data blobs.
package main

import (
	"context"
	"database/sql"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/alecthomas/kong"
	"github.com/lmittmann/tint"
	_ "modernc.org/sqlite"

	"github.com/tactkit/keg"
	"github.com/tactkit/keg/cdn"
	"github.com/tactkit/keg/metadb"
	"github.com/tactkit/keg/telemetry"
)

var version = "dev"

type cli struct {
	Remote      string `help:"Remote metadata endpoint." default:"http://us.patch.battle.net:1119/hsb"`
	CacheDir    string `help:"Cache directory." default:"./cache" type:"path"`
	LogLevel    string `help:"Log level." enum:"debug,info,warn,error" default:"info"`
	LogFormat   string `help:"Log format." enum:"text,json" default:"text"`
	MetricsAddr string `help:"Address to serve Prometheus metrics on (empty to disable)."`

	Cdns   cdnsCmd   `cmd:"" help:"Print the CDN list, cache-first with live fallback."`
	Fetch  fetchCmd  `cmd:"" help:"Fetch a content key into the local cache."`
	Config configCmd `cmd:"" help:"Fetch a config file and print its keys."`
}

// app carries the wired-up dependencies into command Run methods.
type app struct {
	ctx      context.Context
	keg      *keg.Keg
	cacheDir string
	logger   *slog.Logger
}

func main() {
	var c cli
	kctx := kong.Parse(&c,
		kong.Name("keg"),
		kong.Description("Fetch-and-cache client for NGDP patch CDNs."),
		kong.UsageOnError(),
	)

	if err := run(&c, kctx); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(c *cli, kctx *kong.Context) error {
	logger, err := newLogger(c.LogLevel, c.LogFormat)
	if err != nil {
		return err
	}
	slog.SetDefault(logger)

	ctx := context.Background()

	shutdown, err := telemetry.InitMetrics(ctx, telemetry.MetricsConfig{
		ServiceName:      "keg",
		ServiceVersion:   version,
		EnablePrometheus: c.MetricsAddr != "",
	})
	if err != nil {
		return fmt.Errorf("initialising metrics: %w", err)
	}
	defer func() { _ = shutdown(ctx) }()

	if c.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", telemetry.PrometheusHandler())
		go func() {
			if err := http.ListenAndServe(c.MetricsAddr, mux); err != nil {
				logger.Error("metrics server stopped", "error", err)
			}
		}()
		logger.Info("serving metrics", "address", c.MetricsAddr)
	}

	if err := os.MkdirAll(c.CacheDir, 0o755); err != nil {
		return fmt.Errorf("creating cache directory: %w", err)
	}

	db, err := sql.Open("sqlite", filepath.Join(c.CacheDir, "keg.db"))
	if err != nil {
		return fmt.Errorf("opening metadata store: %w", err)
	}
	defer func() { _ = db.Close() }()

	store, err := metadb.NewStore(ctx, db)
	if err != nil {
		return err
	}

	k := keg.New(c.Remote, c.CacheDir, store, keg.WithLogger(logger))

	return kctx.Run(&app{
		ctx:      ctx,
		keg:      k,
		cacheDir: c.CacheDir,
		logger:   logger,
	})
}

func newLogger(level, format string) (*slog.Logger, error) {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "info":
		lvl = slog.LevelInfo
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		return nil, fmt.Errorf("invalid log level: %s", level)
	}

	var handler slog.Handler
	switch format {
	case "text":
		handler = tint.NewHandler(os.Stderr, &tint.Options{Level: lvl})
	case "json":
		handler = slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})
	default:
		return nil, fmt.Errorf("invalid log format: %s", format)
	}
	return slog.New(handler), nil
}

type cdnsCmd struct{}

func (cmd *cdnsCmd) Run(a *app) error {
	entries, err := a.keg.GetCachedCDNs(a.ctx, a.keg.Remote(), a.cacheDir)
	if err != nil {
		return err
	}

	for _, e := range entries {
		fmt.Printf("%s\t%s\t%s\n", e.Name, e.Path, strings.Join(e.AllServers(), " "))
	}
	return nil
}

type fetchCmd struct {
	Key   string `arg:"" help:"Content key (hex)."`
	Index bool   `help:"Fetch the archive index instead of the data blob."`
}

func (cmd *fetchCmd) Run(a *app) error {
	if err := validateKey(cmd.Key); err != nil {
		return err
	}

	caching, err := a.newCachingCDN()
	if err != nil {
		return err
	}

	if cmd.Index {
		if _, err := caching.FetchIndex(a.ctx, cmd.Key); err != nil {
			return err
		}
		a.logger.Info("index cached", "key", cmd.Key, "present", caching.HasIndex(cmd.Key))
		return nil
	}

	rc, err := caching.DownloadData(a.ctx, cmd.Key)
	if err != nil {
		return err
	}
	n, err := io.Copy(io.Discard, rc)
	if cerr := rc.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return err
	}
	a.logger.Info("data cached", "key", cmd.Key, "bytes", n, "present", caching.HasData(cmd.Key))
	return nil
}

type configCmd struct {
	Key string `arg:"" help:"Config content key (hex)."`
}

func (cmd *configCmd) Run(a *app) error {
	if err := validateKey(cmd.Key); err != nil {
		return err
	}

	caching, err := a.newCachingCDN()
	if err != nil {
		return err
	}

	values, err := caching.LoadConfig(a.ctx, cmd.Key)
	if err != nil {
		return err
	}

	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Printf("%s = %s\n", k, values[k])
	}
	return nil
}

// validateKey rejects keys that cannot form a partitioned item path.
func validateKey(key string) error {
	if len(key) < 4 {
		return fmt.Errorf("key %q is too short, need at least 4 hex characters", key)
	}
	if _, err := hex.DecodeString(key); err != nil {
		return fmt.Errorf("key %q is not a hex string", key)
	}
	return nil
}

// newCachingCDN builds a caching CDN over the first entry of the CDN
// list, resolving the list cache-first.
func (a *app) newCachingCDN() (*cdn.Caching, error) {
	entries, err := a.keg.GetCachedCDNs(a.ctx, a.keg.Remote(), a.cacheDir)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("cdns response listed no origins")
	}

	return cdn.NewCaching(
		entries[0].Descriptor(),
		filepath.Join(a.cacheDir, "cdn"),
		cdn.WithLogger(a.logger),
	)
}
