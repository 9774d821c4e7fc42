package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/banshee-data/exodash/internal/controller"
	"github.com/banshee-data/exodash/internal/dashboard"
	"github.com/banshee-data/exodash/internal/db"
	"github.com/banshee-data/exodash/internal/exoplanet"
	"github.com/banshee-data/exodash/internal/httputil"
	"github.com/banshee-data/exodash/internal/kepler"
	"github.com/banshee-data/exodash/internal/monitoring"
	"github.com/banshee-data/exodash/internal/version"
)

var (
	configPath = flag.String("config", "", "Path to a .json or .yaml config file; empty uses config/dashboard.defaults.json when present")
	devMode    = flag.Bool("dev", false, "Run in dev mode (verbose logging)")
	listen     = flag.String("listen", "", "Listen address, overrides config")
	layout     = flag.String("layout", "", "Page layout: plain or grid, overrides config")
	endpoint   = flag.String("endpoint", "", "Dataset endpoint URL, overrides config")
	noMirror   = flag.Bool("no-mirror", false, "Skip the in-memory SQL mirror on /debug/")
)

func main() {
	flag.Parse()

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Printf("failed to load .env: %v", err)
	}
	monitoring.SetDebug(*devMode)
	log.Printf("%s starting", version.String())

	cfg, err := resolveConfig(*configPath, overrides{listen: *listen, layout: *layout, endpoint: *endpoint}, os.Getenv)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	fields, err := kepler.DefaultFieldMap().WithOverrides(cfg.GetFields())
	if err != nil {
		log.Fatalf("invalid field mapping: %v", err)
	}
	client := httputil.NewStandardClient(&http.Client{}, "exodash/"+version.Version)
	loader, err := kepler.NewLoader(client, kepler.Options{
		Endpoint:     cfg.GetEndpoint(),
		Query:        cfg.GetQuery(),
		Limit:        cfg.GetLimit(),
		Fields:       fields,
		Timeout:      cfg.GetFetchTimeout(),
		MaxBodyBytes: cfg.GetMaxBodyBytes(),
	})
	if err != nil {
		log.Fatalf("failed to create loader: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Printf("fetching dataset from %s", loader.URL())
	raw, err := loader.Load(ctx)
	if err != nil {
		log.Fatalf("failed to load dataset: %v", err)
	}
	table := exoplanet.DeriveStarSize(raw, cfg.GetBuckets())
	meta := table.Meta()
	log.Printf("loaded %d rows (fetched=%d skipped=%d excluded=%d)", table.Len(), meta.Fetched, meta.Skipped, meta.Excluded)

	var mirror *db.DB
	if !*noMirror {
		mirror, err = db.NewDB(db.MemoryDSN)
		if err != nil {
			log.Fatalf("failed to open SQL mirror: %v", err)
		}
		defer mirror.Close()
		if err := mirror.ReplaceTable(ctx, table); err != nil {
			log.Fatalf("failed to mirror dataset: %v", err)
		}
	}

	ctrl, err := controller.New(table, cfg.GetDefaultFilterState())
	if err != nil {
		log.Fatalf("failed to create controller: %v", err)
	}

	srv, err := dashboard.NewServer(dashboard.ServerConfig{
		Address:     cfg.GetListen(),
		Title:       cfg.GetTitle(),
		Layout:      cfg.GetLayout(),
		AssetsHost:  cfg.GetEChartsAssetsHost(),
		RadiusMarks: cfg.GetRadiusMarks(),
		Table:       table,
		Controller:  ctrl,
		Mirror:      mirror,
	})
	if err != nil {
		log.Fatalf("failed to create dashboard: %v", err)
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer log.Print("controller routine terminated")
		if err := ctrl.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		return srv.Start(gctx)
	})

	if err := g.Wait(); err != nil {
		log.Printf("shutdown after error: %v", err)
	}
	log.Printf("Graceful shutdown complete")
}
