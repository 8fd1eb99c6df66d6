package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	nethttp "net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/juanvgus/prueba-syc/internal/config"
	"github.com/juanvgus/prueba-syc/internal/infrastructure"
	"github.com/juanvgus/prueba-syc/internal/interfaces"
	"github.com/juanvgus/prueba-syc/internal/interfaces/http"
	"github.com/juanvgus/prueba-syc/internal/repository"
	"github.com/juanvgus/prueba-syc/internal/usecases"
)

// newLogger stamps log lines in the deployment timezone.
func newLogger(w io.Writer, level string, loc *time.Location) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	if loc == nil {
		loc = time.UTC
	}
	zerolog.TimeFieldFormat = time.RFC3339Nano
	zerolog.TimestampFunc = func() time.Time { return time.Now().In(loc) }

	var logger zerolog.Logger
	if lvl <= zerolog.DebugLevel {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339})
	} else {
		logger = zerolog.New(w)
	}
	return logger.Level(lvl).With().Timestamp().Str("service", "prueba-syc").Logger()
}

// openStore returns the configured store and its close func.
func openStore(ctx context.Context, cfg *config.Config) (interfaces.ConversationStore, func(), error) {
	switch cfg.StoreDriver {
	case config.StorePostgres:
		pg, err := infrastructure.NewPostgresClient(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		return repository.NewPostgresConversationStore(pg.Pool), pg.Close, nil

	case config.StoreMongo:
		mc, err := infrastructure.NewMongoClient(ctx, cfg.MongoURI, cfg.MongoDBName)
		if err != nil {
			return nil, nil, err
		}
		store := repository.NewMongoConversationStore(mc.DB)
		if err := store.EnsureIndexes(ctx); err != nil {
			_ = mc.Close(context.Background())
			return nil, nil, err
		}
		closeFn := func() {
			cctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = mc.Close(cctx)
		}
		return store, closeFn, nil

	case config.StoreSQLite:
		db, err := infrastructure.OpenSQLite(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		return repository.NewSQLiteConversationStore(db), func() { closeDB(db) }, nil
	}
	return nil, nil, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
}

func closeDB(db *sql.DB) {
	_ = db.Close()
}

func newAlerter(cfg *config.Config, log zerolog.Logger) interfaces.Alerter {
	if cfg.TelegramBotToken == "" || cfg.TelegramAlertChatID == 0 {
		log.Info().Msg("Telegram alerts disabled")
		return infrastructure.NopAlerter{}
	}
	alerter, err := infrastructure.NewTelegramAlerter(cfg.TelegramBotToken, cfg.TelegramAlertChatID)
	if err != nil {
		log.Warn().Err(err).Msg("Telegram alerts disabled")
		return infrastructure.NopAlerter{}
	}
	log.Info().Int64("chat_id", cfg.TelegramAlertChatID).Msg("Telegram alerts enabled")
	return alerter
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	log := newLogger(os.Stderr, cfg.LogLevel, cfg.Location)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	startCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	store, closeStore, err := openStore(startCtx, cfg)
	cancel()
	if err != nil {
		log.Fatal().Err(err).Str("driver", cfg.StoreDriver).Msg("failed to open conversation store")
	}
	defer closeStore()

	sciAuth, err := infrastructure.NewSCIAuthenticator(cfg.SCIAPIURL, cfg.SCIUsername, cfg.SCIPassword, cfg.TokenTTL, cfg.ServiceTimeout)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid SCI configuration")
	}
	tokens, err := infrastructure.NewTokenCache(sciAuth, cfg.TokenSafetyMargin)
	if err != nil {
		log.Fatal().Err(err).Msg("token cache")
	}
	sci, err := infrastructure.NewSCIClient(cfg.SCIAPIURL, tokens,
		infrastructure.WithSCITimeout(cfg.ServiceTimeout),
		infrastructure.WithSCIAccount(cfg.SCIParamID, "", cfg.SCIClientID, cfg.SCIPayerEmail),
	)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid SCI configuration")
	}

	whatsapp, err := infrastructure.NewWhatsAppBusinessClient(cfg.GraphAPIURL, cfg.GraphAPIToken, cfg.PhoneNumberID, cfg.ServiceTimeout)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid WhatsApp configuration")
	}

	userLimiter := infrastructure.NewMessageRateLimiter(cfg.UserRateLimit, cfg.UserRateBurst)
	defer userLimiter.Stop()

	orchestrator := usecases.NewOrchestrator(store, sci, whatsapp, usecases.NewComposer(usecases.DefaultFooter),
		usecases.WithAlerter(newAlerter(cfg, log)),
		usecases.WithRateLimiter(userLimiter),
		usecases.WithLogger(log.With().Str("component", "orchestrator").Logger()),
		usecases.WithServiceTimeout(cfg.ServiceTimeout),
		usecases.WithMaxConcurrent(cfg.MaxPipelines),
	)

	authUsecase := usecases.NewAuthUsecase(cfg.AdminUsername, cfg.AdminPasswordHash, cfg.JWTSecret)
	if !authUsecase.Enabled() {
		log.Warn().Msg("ADMIN_PASSWORD_HASH not set, operator login disabled")
	}

	if cfg.LogLevel != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery(), http.RequestLogger(log))

	handler := http.NewHandler(orchestrator, cfg.VerifyToken, cfg.AppSecret, cfg.PhoneNumberID,
		log.With().Str("component", "webhook").Logger())
	admin := http.NewAdminHandler(store, log.With().Str("component", "admin").Logger())
	http.SetupRoutes(r, handler, admin, authUsecase, http.NewMiddleware(authUsecase), cfg.Domain,
		http.RateSettings{Limit: rate.Limit(cfg.RateLimit), Burst: cfg.RateLimitBurst})

	srv := &nethttp.Server{
		Addr:              "0.0.0.0:" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		log.Info().Str("addr", srv.Addr).Str("store", cfg.StoreDriver).Msg("HTTP server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, nethttp.ErrServerClosed) {
			log.Error().Err(err).Msg("HTTP server failed")
			stop()
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancelShutdown()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP shutdown")
	}

	done := make(chan struct{})
	go func() {
		orchestrator.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-shutdownCtx.Done():
		log.Warn().Msg("pipelines still running at shutdown")
	}
}
