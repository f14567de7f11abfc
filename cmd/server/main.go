// Command server runs the call relay: the HTTP signaling API, the directory
// and the WebSocket endpoint for web clients.
//
// @title       Call Relay API
// @version     1.0
// @description Relays call ringing and lifecycle signals to iOS, Android and web clients.
// @BasePath    /api/v1
package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"github.com/tbourn/go-call-relay/internal/config"
	httpapi "github.com/tbourn/go-call-relay/internal/http"
	"github.com/tbourn/go-call-relay/internal/observability"
	"github.com/tbourn/go-call-relay/internal/push"
	"github.com/tbourn/go-call-relay/internal/relay"
	"github.com/tbourn/go-call-relay/internal/repo"
	"github.com/tbourn/go-call-relay/internal/services"
	"github.com/tbourn/go-call-relay/internal/sysutil"
)

const shutdownTimeout = 10 * time.Second

func main() {
	// A missing .env is normal outside development.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		boot := sysutil.NewLogger(os.Stderr, false, "go-call-relay")
		boot.Fatal().Err(err).Msg("invalid configuration")
	}
	l := sysutil.InitLogger(cfg.LogLevel, cfg.LogPretty, cfg.OTEL.ServiceName)
	version := sysutil.Version()

	if err := run(cfg, version, l); err != nil {
		l.Fatal().Err(err).Msg("server stopped")
	}
	l.Info().Msg("server exited")
}

func run(cfg config.Config, version string, l zerolog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownOTel, err := observability.SetupOTel(ctx, cfg.OTEL, version)
	if err != nil {
		return err
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := shutdownOTel(sctx); err != nil {
			l.Warn().Err(err).Msg("otel shutdown")
		}
	}()

	db, err := repo.OpenSQLite(cfg.DBPath)
	if err != nil {
		return err
	}
	defer func() {
		if err := repo.Close(db); err != nil {
			l.Warn().Err(err).Msg("db close")
		}
	}()
	if err := repo.AutoMigrate(db); err != nil {
		return err
	}
	if cfg.OTEL.Enabled {
		if err := repo.EnableTracing(db); err != nil {
			return err
		}
	}

	voip, err := newVoIPSender(cfg.Push, l)
	if err != nil {
		return err
	}
	fcm := push.NewFCMClient(push.FCMConfig{
		URL:           cfg.Push.FCMURL,
		ServerKey:     cfg.Push.FCMKey,
		Topic:         cfg.Push.AndroidBundle,
		CallChannelID: cfg.Push.FCMCallChannelID,
		Timeout:       cfg.Push.Timeout,
	}, nil)

	hub := relay.NewHub(cfg.Relay.Buffer)
	defer hub.Close()

	gin.SetMode(cfg.GinMode)
	r := gin.New()
	httpapi.RegisterRoutes(r, db, hub, httpapi.Pushers{VoIP: voip, FCM: fcm}, cfg)

	srv := &http.Server{
		Addr:              net.JoinHostPort("", cfg.Port),
		Handler:           r,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		MaxHeaderBytes:    cfg.MaxHeaderBytes,
	}

	if sysutil.Debug() {
		l.Debug().
			Str("db", cfg.DBPath).
			Str("api_base", cfg.APIBasePath).
			Str("voip_topic", cfg.Push.VoIPTopic()).
			Bool("apn_token_auth", cfg.Push.APNTokenAuth()).
			Bool("apn_production", cfg.Push.APNProduction).
			Msg("configuration")
	}

	errCh := make(chan error, 1)
	go func() {
		l.Info().Str("addr", srv.Addr).Str("version", version).Msg("starting server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	l.Info().Msg("shutting down server")
	// Hijacked WebSocket connections are not tracked by Shutdown; closing the
	// hub tells every web client to go away.
	hub.Close()

	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		l.Error().Err(err).Msg("server forced to shutdown")
	}
	return nil
}

// newVoIPSender builds the APN client, or a DisabledAPN when no credential is
// configured. A configured but unreadable credential is an error.
func newVoIPSender(p config.PushConfig, l zerolog.Logger) (services.VoIPSender, error) {
	if !p.APNConfigured() {
		l.Warn().Msg("no APN credential configured; iOS VoIP pushes will be reported as undelivered")
		return push.DisabledAPN{}, nil
	}
	c, err := newAPNClient(p)
	if err != nil {
		return nil, err
	}
	return c, nil
}

// newAPNClient selects token auth when a signing key is configured and the
// PEM certificate otherwise.
func newAPNClient(p config.PushConfig) (*push.APNClient, error) {
	cfg := push.APNConfig{
		Topic:      p.VoIPTopic(),
		Production: p.APNProduction,
		Timeout:    p.Timeout,
	}
	if p.APNTokenAuth() {
		cfg.AuthKeyPath = p.APNAuthKeyPath
		cfg.KeyID = p.APNKeyID
		cfg.TeamID = p.APNTeamID
	} else {
		cfg.CertPath = p.APNCertPath
	}
	return push.NewAPNClient(cfg)
}
