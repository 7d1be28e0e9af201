// SPDX-License-Identifier: AGPL-3.0-only
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/fluffyriot/fbtracker/internal/api/handlers"
	"github.com/fluffyriot/fbtracker/internal/auth"
	"github.com/fluffyriot/fbtracker/internal/cli"
	"github.com/fluffyriot/fbtracker/internal/cloudstore"
	"github.com/fluffyriot/fbtracker/internal/config"
	"github.com/fluffyriot/fbtracker/internal/domain"
	"github.com/fluffyriot/fbtracker/internal/exports"
	"github.com/fluffyriot/fbtracker/internal/fetcher"
	"github.com/fluffyriot/fbtracker/internal/loader"
	"github.com/fluffyriot/fbtracker/internal/packages"
	"github.com/fluffyriot/fbtracker/internal/phone"
	"github.com/fluffyriot/fbtracker/internal/updater"
	"github.com/fluffyriot/fbtracker/internal/worker"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
)

type settingsStore interface {
	handlers.SettingsStore
	Close() error
}

const usage = `usage: fbtracker <command> [flags]

commands:
  serve            run the HTTP API (default)
  set-token        store a Graph API access token
  exchange-token   swap a short-lived token for a long-lived one and store it
  export           write a package to OUTPUTS_DIR as json or csv
  import           load a package file exported earlier
  clear            delete every stored package
`

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	cfg.ConfigureLogging()

	cmd := "serve"
	args := os.Args[1:]
	if len(args) > 0 && args[0] != "" && args[0][0] != '-' {
		cmd, args = args[0], args[1:]
	}

	ctx := context.Background()

	switch cmd {
	case "serve":
		err = serve(ctx, cfg)
	case "set-token":
		err = setToken(ctx, cfg, args)
	case "exchange-token":
		err = exchangeToken(ctx, cfg, args)
	case "export":
		err = exportPackage(ctx, cfg, args)
	case "import":
		err = importPackage(ctx, cfg, args)
	case "clear":
		err = clearPackages(ctx, cfg, args)
	case "help", "-h", "--help":
		fmt.Print(usage)
		return
	default:
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	if err != nil {
		log.Fatalf("%s: %v", cmd, err)
	}
}

func openPackages(ctx context.Context, cfg *config.AppConfig) (*packages.Store, error) {
	if cfg.LocalDBPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(cfg.LocalDBPath), 0o755); err != nil {
			return nil, fmt.Errorf("create data directory: %w", err)
		}
	}
	return packages.Open(ctx, cfg.LocalDBPath, packages.Options{CompactAfter: cfg.CompactAfter})
}

// openSettings connects the cloud store. Without DATABASE_URL settings live
// in memory for the life of the process.
func openSettings(ctx context.Context, cfg *config.AppConfig) (settingsStore, error) {
	if cfg.DatabaseURL == "" {
		log.Warn("DATABASE_URL is not set, settings are kept in memory only")
		return cloudstore.NewMemoryStore(), nil
	}
	store, err := cloudstore.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	return store, nil
}

func serve(ctx context.Context, cfg *config.AppConfig) error {
	pkgs, err := openPackages(ctx, cfg)
	if err != nil {
		return err
	}
	defer pkgs.Close()

	var settings settingsStore
	settings, err = openSettings(ctx, cfg)
	if err != nil {
		// Handlers that need settings answer 500 until restart.
		log.Errorf("Cloud store unavailable: %v", err)
		cfg.DBInitErr = err
		settings = cloudstore.NewMemoryStore()
	}
	defer settings.Close()

	var redisClient *redis.Client
	if cfg.RedisURL != "" {
		redisClient, err = phone.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			log.Errorf("Redis unavailable, large phone files will be rejected: %v", err)
			redisClient = nil
		} else {
			defer redisClient.Close()
		}
	}

	client := fetcher.NewClient(cfg.HTTPTimeout, cfg.GraphAPIBase, cfg.MaxPageSize)

	refresher := loader.New(client, nil, pkgs, loader.Options{PageSize: cfg.MaxPageSize})
	w := worker.NewWorker(pkgs, refresher, func(ctx context.Context) (domain.Session, error) {
		if cfg.DBInitErr != nil {
			return domain.Session{}, cfg.DBInitErr
		}
		s, err := settings.GetSettings(ctx, cfg.DefaultUserID)
		if err != nil {
			return domain.Session{}, err
		}
		return auth.SessionFromSettings(cfg.DefaultUserID, s, cfg.TokenEncryptionKey, cfg.GraphAPIVersion)
	})
	w.Start(cfg.RefreshInterval)
	defer func() {
		if w.IsActive() {
			w.Stop()
		}
	}()

	if cfg.LogLevel != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	h := handlers.NewHandler(cfg, pkgs, settings, client, redisClient, w)
	if cfg.UpdateCheckURL != "" {
		h.Updater = updater.NewUpdater(cfg.UpdateCheckURL, config.AppVersion, nil)
		h.Updater.Start()
		defer h.Updater.Stop()
	}

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           h.NewRouter(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("Starting fbtracker %s on :%s", config.AppVersion, cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-stop:
		log.Printf("Received %v, shutting down", sig)
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func setToken(ctx context.Context, cfg *config.AppConfig, args []string) error {
	fs := flag.NewFlagSet("set-token", flag.ExitOnError)
	userID := fs.String("user", cfg.DefaultUserID, "user id the token belongs to")
	token := fs.String("token", "", "access token; prompted for when empty")
	_ = fs.Parse(args)

	if *token == "" {
		var err error
		if *token, err = cli.ReadSecret("Access token: "); err != nil {
			return err
		}
	}

	store, err := openSettings(ctx, cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	return cli.HandleSetToken(ctx, store, *userID, *token, cfg.TokenEncryptionKey)
}

func exchangeToken(ctx context.Context, cfg *config.AppConfig, args []string) error {
	fs := flag.NewFlagSet("exchange-token", flag.ExitOnError)
	userID := fs.String("user", cfg.DefaultUserID, "user id the token belongs to")
	token := fs.String("token", "", "short-lived access token; prompted for when empty")
	_ = fs.Parse(args)

	if *token == "" {
		var err error
		if *token, err = cli.ReadSecret("Short-lived access token: "); err != nil {
			return err
		}
	}

	store, err := openSettings(ctx, cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	client := &http.Client{Timeout: cfg.HTTPTimeout}
	return cli.HandleExchangeToken(ctx, store, cfg, client, *userID, *token)
}

func exportPackage(ctx context.Context, cfg *config.AppConfig, args []string) error {
	fs := flag.NewFlagSet("export", flag.ExitOnError)
	id := fs.String("id", "", "package id")
	format := fs.String("format", string(exports.FormatJSON), "json or csv")
	dir := fs.String("dir", cfg.OutputsDir, "output directory")
	_ = fs.Parse(args)

	if *id == "" {
		return errors.New("--id is required")
	}

	pkgs, err := openPackages(ctx, cfg)
	if err != nil {
		return err
	}
	defer pkgs.Close()

	path, err := cli.HandleExport(ctx, pkgs, *id, exports.Format(*format), *dir)
	if err != nil {
		return err
	}
	fmt.Println(path)
	return nil
}

func importPackage(ctx context.Context, cfg *config.AppConfig, args []string) error {
	fs := flag.NewFlagSet("import", flag.ExitOnError)
	_ = fs.Parse(args)
	if fs.NArg() != 1 {
		return errors.New("expected exactly one file to import")
	}

	pkgs, err := openPackages(ctx, cfg)
	if err != nil {
		return err
	}
	defer pkgs.Close()

	id, err := cli.HandleImport(ctx, pkgs, fs.Arg(0))
	if err != nil {
		return err
	}
	fmt.Println(id)
	return nil
}

func clearPackages(ctx context.Context, cfg *config.AppConfig, args []string) error {
	fs := flag.NewFlagSet("clear", flag.ExitOnError)
	yes := fs.Bool("yes", false, "confirm deleting every package")
	_ = fs.Parse(args)

	pkgs, err := openPackages(ctx, cfg)
	if err != nil {
		return err
	}
	defer pkgs.Close()

	return cli.HandleClear(ctx, pkgs, *yes)
}
