package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/seedshare/seedshare/internal/api"
	"github.com/seedshare/seedshare/internal/api/ratelimit"
	"github.com/seedshare/seedshare/internal/archive"
	"github.com/seedshare/seedshare/internal/config"
	"github.com/seedshare/seedshare/internal/downloader"
	"github.com/seedshare/seedshare/internal/downloader/deluge"
	"github.com/seedshare/seedshare/internal/filesystem"
	"github.com/seedshare/seedshare/internal/health"
	"github.com/seedshare/seedshare/internal/logger"
	"github.com/seedshare/seedshare/internal/pipeline"
	"github.com/seedshare/seedshare/internal/progress"
	"github.com/seedshare/seedshare/internal/scheduler"
	"github.com/seedshare/seedshare/internal/scheduler/tasks"
	"github.com/seedshare/seedshare/internal/startup"
	"github.com/seedshare/seedshare/internal/storage"
	"github.com/seedshare/seedshare/internal/websocket"
)

const (
	healthInterval    = time.Minute
	limiterCleanup    = 5 * time.Minute
	diskSpaceInterval = 15 * time.Minute
	uploadRetention   = 10 * time.Minute
	shutdownTimeout   = 10 * time.Second
	storageDialBudget = 30 * time.Second
)

func main() {
	configPath := flag.String("config", "", "Path to config file")
	printConfig := flag.Bool("print-config", false, "Print the effective configuration as YAML and exit")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	if *printConfig {
		if err := cfg.Dump(os.Stdout); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		return
	}

	level := cfg.Logging.Level
	if logger.IsDevBuild() && level == "info" {
		level = "debug"
	}
	log := logger.New(logger.Config{
		Level:      level,
		Format:     cfg.Logging.Format,
		Path:       cfg.Logging.Path,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAgeDays: cfg.Logging.MaxAgeDays,
		Compress:   cfg.Logging.Compress,
		BufferSize: cfg.Logging.BufferSize,
	})
	defer log.Close()

	log.Info().
		Str("logLevel", level).
		Strs("users", cfg.Users).
		Msg("starting SeedShare")
	if len(cfg.Users) == 0 {
		log.Warn().Msg("no users configured, every user route will answer 401")
	}

	sched, err := scheduler.New(log.Logger)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create scheduler")
	}
	sched.Start()

	relay := deluge.NewRelay(deluge.Config{
		Binary:  cfg.Deluge.Binary,
		Workers: cfg.Deluge.Workers,
		Timeout: cfg.Deluge.Timeout,
	}, deluge.ExecRunner{}, log.Logger)
	downloads := downloader.NewService(relay, log.Logger)

	layout := filesystem.NewLayout(cfg.Downloads.HomeTemplate)
	space := filesystem.NewSpaceChecker(cfg.Downloads.MinFreeMB, nil, log.Logger)
	uploads := progress.NewManager(uploadRetention, log.Logger)

	healthSvc := health.NewService(log.Logger)
	healthSvc.AddProbe(health.Probe{
		Category: health.CategoryDownloadClient,
		ID:       "deluge",
		Name:     relay.Binary(),
		Check:    health.BinaryCheck(relay.Binary()),
	})
	for _, user := range cfg.Users {
		root, err := layout.DownloadRoot(user)
		if err != nil {
			log.Warn().Err(err).Str("user", user).Msg("skipping invalid user")
			continue
		}
		healthSvc.AddProbe(health.Probe{
			Category: health.CategoryDownloadRoot,
			ID:       user,
			Name:     root,
			Check:    health.FolderCheck(root),
			Warn:     true,
		})
	}

	hubDeps := websocket.Dependencies{
		Downloader:   downloads,
		Scheduler:    sched,
		PollInterval: cfg.Poll.Interval,
	}

	var links api.LinkStore
	if cfg.Storage.Bucket == "" {
		log.Warn().Msg("storage.bucket is not set, uploads and links are disabled")
	} else {
		store, err := storage.New(context.Background(), storage.Config{
			Bucket:     cfg.Storage.Bucket,
			Region:     cfg.Storage.Region,
			Endpoint:   cfg.Storage.Endpoint,
			PathStyle:  cfg.Storage.PathStyle,
			PartSizeMB: cfg.Storage.PartSizeMB,
			ACL:        cfg.Storage.ACL,
		}, log.Logger)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to create storage client")
		}

		ctx, cancel := context.WithTimeout(context.Background(), storageDialBudget)
		err = startup.WithRetry(ctx, "storage ping", startup.DefaultRetryConfig(), store.Ping, log.Logger)
		cancel()
		if err != nil {
			log.Warn().Err(err).Str("bucket", store.Bucket()).Msg("storage is unreachable, uploads may fail until it recovers")
		}

		healthSvc.AddProbe(health.Probe{
			Category: health.CategoryStorage,
			ID:       "bucket",
			Name:     store.Bucket(),
			Check:    health.PingCheck(store),
		})

		hubDeps.Publisher = pipeline.New(store, archive.NewZipper(log.Logger), downloads, layout, uploads, log.Logger)
		links = store
	}

	hub := websocket.NewHub(hubDeps, log.Logger)
	go hub.Run()

	limiter := ratelimit.New(ratelimit.Config{})

	if err := tasks.RegisterHealthTask(sched, healthSvc, healthInterval, log.Logger); err != nil {
		log.Warn().Err(err).Msg("failed to schedule health probes")
	}
	spaceTask := tasks.NewDiskSpaceTask(space, healthSvc, layout, cfg.Users, log.Logger)
	if err := tasks.RegisterDiskSpaceTask(sched, spaceTask, diskSpaceInterval); err != nil {
		log.Warn().Err(err).Msg("failed to schedule disk space checks")
	}
	if err := tasks.RegisterLimiterCleanupTask(sched, limiter, limiterCleanup); err != nil {
		log.Warn().Err(err).Msg("failed to schedule rate limiter cleanup")
	}

	server := api.NewServer(api.Dependencies{
		Users:     cfg.Users,
		Layout:    layout,
		Downloads: downloads,
		Space:     space,
		Identity:  deluge.ExecRunner{},
		Links:     links,
		Hub:       hub,
		Health:    healthSvc,
		Uploads:   uploads,
		Logs:      log,
		Tasks:     sched,
		Limiter:   limiter,

		AdminToken: cfg.Server.AdminToken,
	}, log.Logger)

	go func() {
		addr := cfg.Server.Address()
		if err := server.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Str("address", addr).Msg("HTTP server failed")
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan
	log.Info().Msg("received shutdown signal")

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("server shutdown error")
	}
	hub.Close(ctx)
	if err := sched.Stop(); err != nil {
		log.Error().Err(err).Msg("scheduler shutdown error")
	}

	log.Info().Msg("server stopped")
}
