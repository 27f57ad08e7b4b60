package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	catalog "github.com/CodeAndHammer/heungbuja/internal/catalog"
	choreo "github.com/CodeAndHammer/heungbuja/internal/choreo"
	config "github.com/CodeAndHammer/heungbuja/internal/config"
	constants "github.com/CodeAndHammer/heungbuja/internal/constants"
	handlers "github.com/CodeAndHammer/heungbuja/internal/handlers"
	judge "github.com/CodeAndHammer/heungbuja/internal/judge"
	media "github.com/CodeAndHammer/heungbuja/internal/media"
	middleware "github.com/CodeAndHammer/heungbuja/internal/middleware"
	notify "github.com/CodeAndHammer/heungbuja/internal/notify"
	results "github.com/CodeAndHammer/heungbuja/internal/results"
	session "github.com/CodeAndHammer/heungbuja/internal/session"
	store "github.com/CodeAndHammer/heungbuja/internal/store"
	util "github.com/CodeAndHammer/heungbuja/internal/util"
)

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		util.LogError(err, "heungbuja exited")
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "heungbuja",
		Short:         "Real-time choreography scoring server",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd.Context())
		},
	}
	cmd.AddCommand(newServeCmd(), newCompileCmd())
	return cmd
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP and websocket server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd.Context())
		},
	}
}

func newCompileCmd() *cobra.Command {
	var (
		catalogPath string
		songID      string
		verse       string
		level       int
	)
	cmd := &cobra.Command{
		Use:   "compile",
		Short: "Print compiled action timelines for a song as JSON",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cat, err := catalog.Load(catalogPath)
			if err != nil {
				return err
			}
			compiler := choreo.NewCompiler(cat)

			out := make(map[string]any)
			if verse == "" || verse == constants.Verse1 {
				tl, err := compiler.Compile(songID, constants.Verse1, 0)
				if err != nil {
					return err
				}
				out[constants.Verse1] = tl
			}
			if verse == "" || verse == constants.Verse2 {
				levels := []int{level}
				if level == 0 {
					levels = []int{1, 2, 3}
				}
				byLevel := make(map[string]any, len(levels))
				for _, l := range levels {
					tl, err := compiler.Compile(songID, constants.Verse2, l)
					if err != nil {
						return err
					}
					byLevel[strconv.Itoa(l)] = tl
				}
				out[constants.Verse2] = byLevel
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(out)
		},
	}
	cmd.Flags().StringVar(&catalogPath, "catalog", "data/catalog.yaml", "path to the choreography catalog")
	cmd.Flags().StringVar(&songID, "song", "", "song id to compile")
	cmd.Flags().StringVar(&verse, "verse", "", "verse1 or verse2 (default both)")
	cmd.Flags().IntVar(&level, "level", 0, "verse2 level 1-3 (default all)")
	_ = cmd.MarkFlagRequired("song")
	return cmd
}

func serve(parent context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	util.SetupLogger(cfg.LogLevel, cfg.LogPretty)
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	util.LogInfo("Starting heungbuja in %s mode", map[bool]string{true: "production", false: "development"}[cfg.IsProduction()])

	cat, err := catalog.Load(cfg.CatalogPath)
	if err != nil {
		return fmt.Errorf("load catalog: %w", err)
	}
	util.LogInfo("Loaded %d songs from %s", len(cat.Songs()), cfg.CatalogPath)

	db, err := results.Open(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open result store: %w", err)
	}
	defer db.Close()

	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
	defer rdb.Close()
	live := store.NewRedisStore(rdb)
	pingCtx, cancel := context.WithTimeout(parent, 5*time.Second)
	err = live.Ping(pingCtx)
	cancel()
	if err != nil {
		return err
	}

	judgeClient := judge.NewClient(judge.Options{
		BaseURL:   cfg.JudgeBaseURL,
		Timeout:   cfg.JudgeTimeout,
		Workers:   cfg.JudgeWorkers,
		QueueSize: cfg.JudgeQueueSize,
	})
	judgeClient.Start()
	defer judgeClient.Close()

	signer := media.NewSigner(cfg.MediaBaseURL, cfg.MediaSigningKey, cfg.MediaURLTTL)
	resultStore := results.NewStore(db)
	notifier := notify.NewNotifier(live)
	opts := session.OptionsFromConfig(cfg)

	coordinator := session.NewCoordinator(live, resultStore, judgeClient, notifier, choreo.NewCompiler(cat), signer, opts)
	defer coordinator.Shutdown()
	finalizer := session.NewFinalizer(live, resultStore, notifier, cat, opts)
	watchdog := session.NewWatchdog(coordinator, finalizer, live, opts)
	hub := notify.NewHub(live, coordinator)

	limiter := middleware.NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst, cfg.RateLimiterTTL)
	app := &handlers.App{
		Games:        coordinator,
		Finisher:     finalizer,
		Sockets:      hub,
		Redis:        live,
		Media:        signer,
		MediaDir:     cfg.MediaDir,
		Limiters:     limiter,
		IsProduction: cfg.IsProduction(),
		StartTime:    time.Now(),
	}
	router := handlers.NewRouter(app, handlers.RouterOptions{
		TrustedProxies: strings.Split(cfg.TrustProxy, ","),
		SongCacheAge:   cfg.SongCacheAge,
		Limiter:        limiter,
	})

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		watchdog.Run(gctx)
		return nil
	})
	g.Go(func() error {
		limiter.Run(gctx, 30*time.Minute)
		return nil
	})
	g.Go(func() error {
		return startServer(gctx, router, cfg.Port)
	})
	util.LogInfo("Started watchdog and rate limiter cleanup")
	return g.Wait()
}

func startServer(ctx context.Context, router http.Handler, port int) error {
	srv := &http.Server{
		Addr:              ":" + strconv.Itoa(port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		util.LogInfo("Server starting on http://localhost:%d", port)
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	util.LogInfo("Shutdown signal received, shutting down server gracefully...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		util.LogWarn("HTTP server Shutdown: %v", err)
	}
	util.LogInfo("Server shutdown complete")
	return nil
}
