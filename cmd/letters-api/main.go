package main

import (
	"context"
	"errors"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/MarcoPoloResearchLab/letters/backend/internal/auth"
	"github.com/MarcoPoloResearchLab/letters/backend/internal/config"
	"github.com/MarcoPoloResearchLab/letters/backend/internal/database"
	"github.com/MarcoPoloResearchLab/letters/backend/internal/drive"
	"github.com/MarcoPoloResearchLab/letters/backend/internal/letters"
	"github.com/MarcoPoloResearchLab/letters/backend/internal/logging"
	"github.com/MarcoPoloResearchLab/letters/backend/internal/server"
	"github.com/MarcoPoloResearchLab/letters/backend/internal/users"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

const shutdownTimeout = 10 * time.Second

var (
	cfgFile string
	envFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "letters-api",
		Short: "Letters backend service",
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	}

	setupFlags(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setupFlags(cmd *cobra.Command) {
	config.ApplyDefaults(viper.GetViper())
	defaults := config.NewViper()
	flags := cmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "Path to configuration file")
	flags.StringVar(&envFile, "env-file", ".env", "Path to a dotenv file loaded before reading the environment")
	flags.String("http-address", defaults.GetString("http.address"), "HTTP listen address")
	flags.String("database-dsn", defaults.GetString("database.dsn"), "SQLite path or postgres:// connection URL")
	flags.String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	flags.String("google-client-id", "", "Google OAuth client ID")
	flags.String("google-redirect-url", "", "Google OAuth callback URL")
	flags.String("google-jwks-url", defaults.GetString("google.jwks_url"), "Google JWKS URL")
	flags.String("client-url", "", "Frontend URL users return to after login and logout")
	flags.Duration("session-ttl", defaults.GetDuration("session.ttl"), "Lifetime of a login session")
	flags.Bool("secure-cookies", defaults.GetBool("session.secure_cookie"), "Mark cookies Secure and SameSite=None")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "database.dsn", "database-dsn")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "google.client_id", "google-client-id")
	bindFlag(cmd, "google.redirect_url", "google-redirect-url")
	bindFlag(cmd, "google.jwks_url", "google-jwks-url")
	bindFlag(cmd, "client.url", "client-url")
	bindFlag(cmd, "session.ttl", "session-ttl")
	bindFlag(cmd, "session.secure_cookie", "secure-cookies")
}

func bindFlag(cmd *cobra.Command, key, flag string) {
	if err := viper.BindPFlag(key, cmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(err)
	}
}

func initConfig() error {
	// Variables already present in the environment win over the dotenv file.
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
		return viper.ReadInConfig()
	}
	return nil
}

func runServer(ctx context.Context) error {
	appConfig, err := config.Load(viper.GetViper())
	if err != nil {
		return err
	}

	logger, err := logging.NewLogger(appConfig.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	if !strings.EqualFold(appConfig.LogLevel, "debug") {
		gin.SetMode(gin.ReleaseMode)
	}

	db, err := database.Open(appConfig.DatabaseDSN, logger)
	if err != nil {
		return err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	googleOAuth, err := auth.NewGoogleOAuth(auth.GoogleOAuthConfig{
		ClientID:     appConfig.GoogleClientID,
		ClientSecret: appConfig.GoogleClientSecret,
		RedirectURL:  appConfig.GoogleRedirectURL,
	})
	if err != nil {
		return err
	}

	googleVerifier, err := auth.NewGoogleVerifier(auth.GoogleVerifierConfig{
		Audience: appConfig.GoogleClientID,
		JWKSURL:  appConfig.GoogleJWKSURL,
	})
	if err != nil {
		return err
	}

	sessionIssuer, err := auth.NewSessionIssuer(auth.SessionIssuerConfig{
		SigningSecret: []byte(appConfig.SessionSecret),
		TTL:           appConfig.SessionTTL,
	})
	if err != nil {
		return err
	}
	sessionValidator, err := auth.NewSessionValidator(auth.SessionValidatorConfig{
		SigningSecret: []byte(appConfig.SessionSecret),
		CookieName:    appConfig.SessionCookieName,
	})
	if err != nil {
		return err
	}

	userService, err := users.NewService(users.ServiceConfig{
		Database: db,
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	mirror := drive.NewMirror(drive.NewClientFactory(drive.ClientFactoryConfig{}), logger)
	lettersService, err := letters.NewService(letters.ServiceConfig{
		Database:   db,
		Mirror:     mirror,
		Clock:      time.Now,
		IDProvider: letters.NewUUIDProvider(),
		Logger:     logger,
	})
	if err != nil {
		return err
	}

	handler, err := server.NewHTTPHandler(server.Dependencies{
		OAuth:            googleOAuth,
		GoogleVerifier:   googleVerifier,
		SessionIssuer:    sessionIssuer,
		SessionValidator: sessionValidator,
		Users:            userService,
		Letters:          lettersService,
		Realtime:         server.NewRealtimeDispatcher(),
		HealthCheck:      sqlDB.PingContext,
		ClientURL:        appConfig.ClientURL,
		AllowedOrigins:   appConfig.AllowedOrigins,
		SecureCookies:    appConfig.SessionSecureCookie,
		Logger:           logger,
	})
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:              appConfig.HTTPAddress,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting", zap.String("address", appConfig.HTTPAddress))
		err := httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-signalCtx.Done():
		logger.Info("server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
