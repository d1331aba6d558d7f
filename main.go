// shoptrans: Shopify translation scheduling and dispatch service.
// Entry point: cobra command tree; `serve` wires all packages and starts the HTTP server.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/lizhenmiao/shopify-translation/internal/api"
	"github.com/lizhenmiao/shopify-translation/internal/api/handlers"
	"github.com/lizhenmiao/shopify-translation/internal/auth"
	"github.com/lizhenmiao/shopify-translation/internal/catalog"
	"github.com/lizhenmiao/shopify-translation/internal/config"
	"github.com/lizhenmiao/shopify-translation/internal/db"
	"github.com/lizhenmiao/shopify-translation/internal/guidance"
	"github.com/lizhenmiao/shopify-translation/internal/jobs"
	"github.com/lizhenmiao/shopify-translation/internal/ledger"
	"github.com/lizhenmiao/shopify-translation/internal/manager"
	"github.com/lizhenmiao/shopify-translation/internal/notify"
	"github.com/lizhenmiao/shopify-translation/internal/platform"
	"github.com/lizhenmiao/shopify-translation/internal/prompt"
	"github.com/lizhenmiao/shopify-translation/internal/scheduler"
	"github.com/lizhenmiao/shopify-translation/internal/shopify"
	"github.com/lizhenmiao/shopify-translation/internal/telegram"
	"github.com/lizhenmiao/shopify-translation/internal/tokenizer"
	"github.com/lizhenmiao/shopify-translation/internal/webhook"
	"github.com/lizhenmiao/shopify-translation/internal/worker"
	"github.com/lizhenmiao/shopify-translation/internal/ws"
)

// Version is set via -ldflags at build time.
var Version = "dev"

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "shoptrans",
		Short: "Shopify translation scheduling and dispatch service",
		Long: `shoptrans mirrors Shopify translatable content into SQLite and translates
pending strings through a pool of rate-limited LLM providers.

Configuration is read from the environment (PORT, DB_PATH, SHOPIFY_SHOP,
SHOPIFY_ACCESS_TOKEN, PROVIDERS_FILE, ...).`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(
		newServeCmd(),
		newProviderCmd(),
		newAPIKeyCmd(),
		newSyncCmd(),
		newVersionCmd(),
	)
	return root
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		log.Fatalf("shoptrans: %v", err)
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("shoptrans version %s\n", Version)
		},
	}
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, the workers and the scheduler",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe()
		},
	}
}

// openDB ensures the work directory exists, opens the database and migrates it.
func openDB(cfg *config.Config) (*db.DB, error) {
	if err := platform.EnsureDir(cfg.WorkDir); err != nil {
		return nil, fmt.Errorf("EnsureDir %s: %w", cfg.WorkDir, err)
	}
	database, err := db.New(cfg.DBPath)
	if err != nil {
		return nil, err
	}
	if err := database.Migrate(); err != nil {
		database.Close()
		return nil, err
	}
	return database, nil
}

func newShopifyClient(cfg *config.Config) *shopify.Client {
	if cfg.ShopifyShop == "" || cfg.ShopifyAccessToken == "" {
		log.Println("⚠  SHOPIFY_SHOP or SHOPIFY_ACCESS_TOKEN is not set; sync and batch submission will fail")
	}
	return shopify.New(shopify.Options{
		Shop:        cfg.ShopifyShop,
		AccessToken: cfg.ShopifyAccessToken,
		APIVersion:  cfg.ShopifyAPIVersion,
	})
}

func runServe() error {
	log.Printf("shoptrans %s starting…", Version)

	// ── 1. Load configuration ────────────────────────────────────────────────
	cfg := config.Load()
	log.Printf("Config: port=%s workDir=%s framing=%s", cfg.Port, cfg.WorkDir, cfg.DelimiterType)

	// ── 2. Open database + migrate ───────────────────────────────────────────
	database, err := openDB(cfg)
	if err != nil {
		return err
	}
	defer database.Close()
	log.Printf("Database ready: %s", cfg.DBPath)

	if err := auth.Bootstrap(database, cfg.APIKey); err != nil {
		return err
	}
	if hash, _ := database.GetSetting(auth.SettingKeyHash); hash == "" {
		log.Println("⚠  No API key configured — the HTTP API is open. Run 'shoptrans apikey' to set one.")
	}

	// Root context, cancelled on shutdown signal.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ── 3. Guidance, prompt assembler + tokenizer ────────────────────────────
	injector := guidance.NewInjector(guidance.NewLoader(cfg.GuidanceDir))
	asm, err := prompt.New(prompt.Options{
		Strategy:  prompt.Strategy(cfg.DelimiterType),
		Separator: cfg.SingleDelimiter,
		PairStart: cfg.PairStart,
		PairEnd:   cfg.PairEnd,
		Guidance:  injector.Build,
	})
	if err != nil {
		return err
	}
	tok := tokenizer.New()

	// ── 4. Storage: catalog + usage ledger ───────────────────────────────────
	cat := catalog.New(database)
	led := ledger.New(database)
	seedProviders(ctx, led, cfg.ProvidersFile)

	// ── 5. WebSocket hub + webhooks + notifier ───────────────────────────────
	// The hello frame reports the manager and pool built below; clients
	// cannot connect before the HTTP server starts.
	var (
		mgr  *manager.Manager
		pool *worker.Pool
	)
	hub := ws.NewHub(func() any {
		return map[string]any{"queue": mgr.Stats(), "providers": pool.Snapshot()}
	})
	go hub.Run(ctx)
	webhookDispatcher := webhook.New(cfg.WebhookURLs, nil)
	notifier := notify.New(nil, webhookDispatcher, hub)

	// ── 6. Scheduling manager ────────────────────────────────────────────────
	mgr = manager.New(manager.Options{
		Assembler:   asm,
		Counter:     tok,
		Store:       cat,
		Notifier:    notifier,
		MaxAttempts: cfg.MaxAttempts,
	})

	// ── 7. Worker pool ───────────────────────────────────────────────────────
	pool = worker.NewPool(led, mgr, asm, notifier, worker.PoolOptions{
		Worker: worker.Options{
			MaxTokens:       cfg.MaxTokensPerRequest,
			RequestTimeout:  cfg.RequestTimeout,
			RescheduleDelay: cfg.RescheduleDelay,
		},
		MinInterval: cfg.MinRequestInterval,
	})

	// ── 8. Telegram bot ──────────────────────────────────────────────────────
	bot, err := telegram.New(cfg.TelegramToken, cfg.TelegramChatID, telegram.NewCommandHandler(mgr, pool))
	if err != nil {
		log.Printf("Telegram init error (continuing without Telegram): %v", err)
	}
	if bot != nil {
		notifier.SetTelegram(bot)
		go bot.Start(ctx)
		log.Printf("Telegram bot started (chatID=%d)", cfg.TelegramChatID)
	}

	// ── 9. Shopify client, sync and batch submission ─────────────────────────
	shop := newShopifyClient(cfg)
	syncer := shopify.NewSyncer(shop, cat, notifier)
	translator := jobs.New(cat, shop, mgr)

	// ── 10. Start workers ────────────────────────────────────────────────────
	if err := pool.LoadWorkers(ctx); err != nil {
		log.Printf("LoadWorkers: %v (no providers yet — add them via providers.yaml, API or CLI)", err)
	}

	// ── 11. Cron scheduler ───────────────────────────────────────────────────
	schedEngine := scheduler.New(database, scheduler.Options{
		Translator: translator,
		Syncer:     syncer,
		DailyReset: func(ctx context.Context, day string) {
			if err := led.ResetDaily(ctx, day); err != nil {
				log.Printf("ledger.ResetDaily: %v", err)
			}
			pool.ResetDaily()
			if err := auth.CleanOldAttempts(ctx, database); err != nil {
				log.Printf("auth.CleanOldAttempts: %v", err)
			}
		},
		SyncCron: cfg.SyncCron,
	})
	if err := schedEngine.Start(ctx); err != nil {
		log.Printf("scheduler.Start: %v", err)
	}

	// ── 12. Provider seed file watcher ───────────────────────────────────────
	go func() {
		err := config.WatchProviders(ctx, cfg.ProvidersFile, func(seeds []config.ProviderSeed) {
			if _, err := led.SeedProviders(ctx, seeds); err != nil {
				log.Printf("SeedProviders: %v", err)
				return
			}
			if err := pool.Reload(ctx); err != nil {
				log.Printf("pool.Reload: %v", err)
			}
		})
		if err != nil {
			log.Printf("WatchProviders: %v", err)
		}
	}()

	// ── 13. HTTP router ──────────────────────────────────────────────────────
	mux := http.NewServeMux()
	api.SetupRoutes(mux, database, handlers.Deps{
		Translator: translator,
		Syncer:     syncer,
		Locales:    shop,
		Engine:     mgr,
		Pool:       pool,
		Ledger:     led,
		Schedules:  schedEngine,
		Webhooks:   webhookDispatcher,
		Hub:        hub,
	}, hub.ServeWS)

	// ── 14. Start HTTP server ────────────────────────────────────────────────
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      api.Middleware(mux),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// Graceful shutdown on SIGINT/SIGTERM.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		log.Printf("Received %s — shutting down…", sig)
		cancel()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()
		pool.StopAll()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Printf("HTTP shutdown: %v", err)
		}
	}()

	log.Printf("shoptrans listening on http://0.0.0.0:%s", cfg.Port)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("ListenAndServe: %w", err)
	}
	webhookDispatcher.Wait()
	log.Printf("shoptrans stopped.")
	return nil
}

// seedProviders upserts providers.yaml into the providers table.
func seedProviders(ctx context.Context, led *ledger.Ledger, path string) {
	seeds, err := config.LoadProviders(path)
	if err != nil {
		log.Printf("LoadProviders: %v", err)
		return
	}
	if len(seeds) == 0 {
		return
	}
	n, err := led.SeedProviders(ctx, seeds)
	if err != nil {
		log.Printf("SeedProviders: %v", err)
		return
	}
	log.Printf("Providers seeded from %s: %d", path, n)
}
