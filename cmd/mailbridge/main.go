package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.io/infrasutra/mailbridge/internal/api"
	"github.io/infrasutra/mailbridge/internal/auth"
	"github.io/infrasutra/mailbridge/internal/config"
	"github.io/infrasutra/mailbridge/internal/inbound"
	"github.io/infrasutra/mailbridge/internal/mq"
	"github.io/infrasutra/mailbridge/internal/outbound"
	"github.io/infrasutra/mailbridge/internal/postmark"
	"github.io/infrasutra/mailbridge/internal/sse"
	"github.io/infrasutra/mailbridge/internal/store"
)

const usage = `usage:
  mailbridge [-config file]                                  run the HTTP server
  mailbridge adduser -username u -email e -password p [-config file]
  mailbridge deluser -username u [-config file]
`

func main() {
	_ = godotenv.Load()

	args := os.Args[1:]
	command := "serve"
	if len(args) > 0 && !strings.HasPrefix(args[0], "-") {
		command, args = args[0], args[1:]
	}

	var err error
	switch command {
	case "serve":
		err = serve(args)
	case "adduser":
		err = addUser(args)
	case "deluser":
		err = delUser(args)
	default:
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "mailbridge:", err)
		os.Exit(1)
	}
}

func loadConfig(path string) (config.Config, error) {
	if path == "" {
		return config.Load(), nil
	}
	return config.LoadFromFile(path)
}

func serve(args []string) error {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configPath := fs.String("config", "", "path to a YAML config file")
	if err := fs.Parse(args); err != nil {
		return err
	}
	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	logger := setupLogger(cfg.LogLevel)

	ctx := context.Background()
	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	if err := db.EnsureSchema(ctx); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	if cfg.DatabaseURL == "" {
		logger.Warn("DATABASE_URL not set; using an in-memory database")
	}

	authManager, err := auth.New(cfg.AuthSecret, cfg.SessionTTL)
	if err != nil {
		return fmt.Errorf("init auth: %w", err)
	}
	if cfg.AuthSecret == "" {
		logger.Warn("AUTH_SECRET not set; sessions reset on restart")
	}
	if !cfg.WebhookAuthConfigured() {
		logger.Warn("POSTMARK_WEBHOOK_USERNAME or POSTMARK_WEBHOOK_PASSWORD not set; rejecting all webhook requests")
	}
	if cfg.Postmark.ServerToken == "" {
		logger.Warn("POSTMARK_SERVER_TOKEN not set; outbound calls will be rejected by the provider")
	}

	hub := sse.NewHub()
	notifiers := inbound.Notifiers{inbound.HubNotifier{Hub: hub, Logger: logger}}

	var publisher *mq.Publisher
	if cfg.MQURL != "" {
		publisher, err = mq.NewPublisher(cfg.MQURL)
		if err != nil {
			return fmt.Errorf("connect event queue: %w", err)
		}
		defer publisher.Close()
		notifiers = append(notifiers, inbound.QueueNotifier{Publisher: publisher, Logger: logger})
		logger.Info("publishing inbound events", "exchange", mq.ExchangeName)
	}

	webhook := inbound.NewHandler(cfg.Postmark, db, notifiers, logger)
	proxy := outbound.NewProxy(postmark.New(cfg.Postmark, logger))
	apiServer := api.NewServer(cfg, db, authManager, hub, proxy, webhook, logger)
	if publisher != nil {
		apiServer.SetQueue(publisher)
	}

	httpSrv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           apiServer,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("http server listening", "addr", cfg.HTTPAddr)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server stopped", "error", err)
		}
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)
	<-shutdown

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	logger.Info("shutting down")
	if err := httpSrv.Shutdown(ctx); err != nil {
		logger.Error("shutdown http", "error", err)
	}
	return nil
}

// setupLogger builds the process logger with JSON output at the given level.
func setupLogger(level string) *slog.Logger {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: parseLevel(level)}))
	slog.SetDefault(logger)
	return logger
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
