// Command portway runs the self-hosted PaaS server: GitGateway,
// BuildQueue, Deployer and ControlAPI behind one HTTP listener.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/jordanhubbard/portway/internal/api"
	"github.com/jordanhubbard/portway/internal/auth"
	"github.com/jordanhubbard/portway/internal/build"
	"github.com/jordanhubbard/portway/internal/buildqueue"
	"github.com/jordanhubbard/portway/internal/cache"
	"github.com/jordanhubbard/portway/internal/containers"
	"github.com/jordanhubbard/portway/internal/database"
	"github.com/jordanhubbard/portway/internal/deploy"
	"github.com/jordanhubbard/portway/internal/gitgateway"
	"github.com/jordanhubbard/portway/internal/logging"
	"github.com/jordanhubbard/portway/internal/messagebus"
	"github.com/jordanhubbard/portway/internal/metrics"
	"github.com/jordanhubbard/portway/internal/repostore"
	"github.com/jordanhubbard/portway/internal/telemetry"
	"github.com/jordanhubbard/portway/pkg/config"
)

const version = "0.1.0"

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)

	configPath := flag.String("config", "config.yaml", "Path to configuration file")
	showVersion := flag.Bool("version", false, "Show version information")
	flag.Parse()

	if *showVersion {
		fmt.Printf("portway v%s\n", version)
		return
	}

	cfg, err := config.LoadConfigFromFile(*configPath)
	if err != nil {
		log.Printf("failed to load config from %s, falling back to defaults: %v", *configPath, err)
		cfg = config.DefaultConfig()
	}

	watcher, err := config.NewWatcher(*configPath)
	if err != nil {
		log.Printf("config hot-reload disabled: %v", err)
	} else {
		watchStop := make(chan struct{})
		go func() {
			if err := watcher.Run(watchStop); err != nil {
				log.Printf("config watcher stopped: %v", err)
			}
		}()
		defer close(watchStop)
	}

	registry, err := database.Open(cfg.Database.URL, cfg.Database.MaxOpenConns, cfg.Database.MaxIdleConns, cfg.Database.ConnMaxLifetime)
	if err != nil {
		log.Fatalf("failed to open registry database: %v", err)
	}
	defer registry.Close()

	logManager := logging.NewManager(registry.DB())
	logManager.InstallLogInterceptor()

	metricsRegistry := metrics.New()

	shutdownTelemetry, err := telemetry.InitTelemetry(context.Background(), cfg.Otel.ServiceName, cfg.Otel.Endpoint)
	if err != nil {
		log.Printf("telemetry disabled: %v", err)
	} else {
		defer func() {
			if err := shutdownTelemetry(context.Background()); err != nil {
				log.Printf("error shutting down telemetry: %v", err)
			}
		}()
	}

	var lookupCache *cache.Cache
	if cfg.Redis.Enabled {
		lookupCache, err = cache.New(cfg.Redis.URL, cfg.Redis.TTL)
		if err != nil {
			log.Printf("cache disabled: %v", err)
			lookupCache = nil
		} else {
			lookupCache.SetMetrics(metricsRegistry)
			defer lookupCache.Close()
		}
	}
	lookups := cache.NewLookups(registry, lookupCache)

	var bus *messagebus.Bus
	var eventBus deploy.EventBus
	if cfg.NATS.Enabled {
		bus, err = messagebus.New(messagebus.Config{URL: cfg.NATS.URL, StreamName: cfg.NATS.StreamName})
		if err != nil {
			log.Printf("event bus disabled: %v", err)
		} else {
			defer bus.Close()
			eventBus = bus
		}
	}

	store := repostore.New(cfg.Git.BaseDir)

	driver, err := containers.NewClient()
	if err != nil {
		log.Fatalf("failed to create container driver: %v", err)
	}

	deployer := deploy.New(driver, registry, eventBus)
	deployer.SetMetrics(metricsRegistry)

	builder := build.New(cfg.Build.BuildpackPath, cfg.Build.Builder, cfg.Build.Timeout,
		func(ctx context.Context, req buildqueue.BuildRequest) (string, func(), error) {
			return store.Checkout(ctx, req.OwnerName, req.ProjectName, req.CommitSHA)
		})

	var queueBus buildqueue.EventBus
	if bus != nil {
		queueBus = bus
	}
	queue := buildqueue.New(registry, builder, deployer, queueBus, cfg.Queue.ConcurrentBuilds)
	queue.SetMetrics(metricsRegistry)

	runCtx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go queue.Run(runCtx)

	// Catches any BUILDING row left behind by a process that died
	// mid-build (§4.5): one pass now, then on cfg.Queue.ReconcileInterval
	// for the life of the process.
	reconciler := buildqueue.NewReconciler(registry, cfg.Queue.AbandonedAfter)
	go reconciler.Run(runCtx, cfg.Queue.ReconcileInterval)

	authn := auth.New(registry, cfg.Auth.Enabled)

	// Anonymous clone/fetch is allowed; pushes are always gated by
	// Gateway.authenticate regardless of this setting.
	const uploadOpen = true
	gw := gitgateway.New(store, registry, lookups, queue, cfg.Server.BodyLimitBytes, uploadOpen)

	apiServer := api.NewServer(registry, store, driver, authn, cfg)
	apiServer.SetMetrics(metricsRegistry)
	apiServer.SetLogManager(logManager)

	mux := http.NewServeMux()
	apiMux := apiServer.Mux()
	mux.Handle("/api/", apiMux)
	mux.Handle("/metrics", apiMux)
	if cfg.Git.ReceivePackEnabled {
		gw.Register(mux)
	} else {
		log.Printf("git.receive_pack_enabled is false; GitGateway routes are not registered")
	}

	handler := otelhttp.NewHandler(mux, "portway-http-server")

	httpSrv := &http.Server{
		Addr:         cfg.Server.ListenAddr,
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		log.Printf("portway listening on %s", httpSrv.Addr)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("http server error: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		log.Printf("error during shutdown: %v", err)
	}
}
