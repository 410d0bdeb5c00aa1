package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mprlab/formgate/internal/formskit"
	"github.com/mprlab/formgate/internal/web"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

var serveHTTP = func(server *http.Server) error {
	return server.ListenAndServe()
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:     "formgate",
		Short:   "Multi-tenant Google Forms gateway speaking a JSON-RPC tool-calling protocol with per-user OAuth",
		PreRunE: prepareServerConfig,
		RunE:    runServer,
	}

	rootCmd.Flags().String("listen_addr", ":8080", "HTTP listen address")
	rootCmd.Flags().String("google_client_id", "", "Google OAuth client ID")
	rootCmd.Flags().String("google_client_secret", "", "Google OAuth client secret")
	rootCmd.Flags().String("base_url", "", "Publicly reachable base URL used for the OAuth redirect and recovery links")
	rootCmd.Flags().String("credential_store_url", "", "Credential store URL (file://path.json, sqlite://, or postgres://; leave empty for in-memory)")
	rootCmd.Flags().Duration("upstream_timeout", 15*time.Second, "Bound on OAuth exchange and Forms API round-trips")
	rootCmd.Flags().Bool("enable_cors", false, "Enable CORS for cross-origin protocol clients")
	rootCmd.Flags().StringSlice("cors_allowed_origins", []string{}, "Allowed origins when CORS is enabled (required if enable_cors is true)")

	_ = viper.BindPFlag("listen_addr", rootCmd.Flags().Lookup("listen_addr"))
	_ = viper.BindPFlag("google_client_id", rootCmd.Flags().Lookup("google_client_id"))
	_ = viper.BindPFlag("google_client_secret", rootCmd.Flags().Lookup("google_client_secret"))
	_ = viper.BindPFlag("base_url", rootCmd.Flags().Lookup("base_url"))
	_ = viper.BindPFlag("credential_store_url", rootCmd.Flags().Lookup("credential_store_url"))
	_ = viper.BindPFlag("upstream_timeout", rootCmd.Flags().Lookup("upstream_timeout"))
	_ = viper.BindPFlag("enable_cors", rootCmd.Flags().Lookup("enable_cors"))
	_ = viper.BindPFlag("cors_allowed_origins", rootCmd.Flags().Lookup("cors_allowed_origins"))

	viper.SetEnvPrefix("APP")
	viper.AutomaticEnv()

	return rootCmd
}

const (
	configCodeMissingGoogleClientID     = "config.missing_google_client_id"
	configCodeMissingGoogleClientSecret = "config.missing_google_client_secret"
	configCodeMissingBaseURL            = "config.missing_base_url"
	configCodeInvalidUpstreamTimeout    = "config.invalid_upstream_timeout"
	configCodeUninitializedServerConf   = "config.uninitialized_server_config"
	configCodeCredentialStoreInit       = "config.credential_store_init"
)

type contextKey string

const serverConfigContextKey contextKey = "serverConfig"

func prepareServerConfig(command *cobra.Command, arguments []string) error {
	serverConfig, loadErr := LoadServerConfig()
	if loadErr != nil {
		return loadErr
	}
	existingContext := command.Context()
	if existingContext == nil {
		existingContext = context.Background()
	}
	command.SetContext(context.WithValue(existingContext, serverConfigContextKey, serverConfig))
	return nil
}

func configError(code, message string) error {
	return fmt.Errorf("%s: %s", code, message)
}

// LoadServerConfig validates viper state into an immutable ServiceConfig.
func LoadServerConfig() (formskit.ServiceConfig, error) {
	googleClientID := viper.GetString("google_client_id")
	if googleClientID == "" {
		return formskit.ServiceConfig{}, configError(configCodeMissingGoogleClientID, "google_client_id must be provided")
	}

	googleClientSecret := viper.GetString("google_client_secret")
	if googleClientSecret == "" {
		return formskit.ServiceConfig{}, configError(configCodeMissingGoogleClientSecret, "google_client_secret must be provided")
	}

	baseURL := strings.TrimSuffix(strings.TrimSpace(viper.GetString("base_url")), "/")
	if baseURL == "" {
		return formskit.ServiceConfig{}, configError(configCodeMissingBaseURL, "base_url must be provided")
	}

	upstreamTimeout := viper.GetDuration("upstream_timeout")
	if upstreamTimeout <= 0 {
		return formskit.ServiceConfig{}, configError(configCodeInvalidUpstreamTimeout, "upstream_timeout must be greater than zero")
	}

	return formskit.ServiceConfig{
		GoogleClientID:     googleClientID,
		GoogleClientSecret: googleClientSecret,
		PublicBaseURL:      baseURL,
		UpstreamTimeout:    upstreamTimeout,
	}, nil
}

func runServer(command *cobra.Command, arguments []string) error {
	logger, loggerErr := zap.NewProduction()
	if loggerErr != nil {
		return loggerErr
	}
	defer func() { _ = logger.Sync() }()

	commandContext := command.Context()
	var contextValue any
	if commandContext != nil {
		contextValue = commandContext.Value(serverConfigContextKey)
	}
	serverConfig, ok := contextValue.(formskit.ServiceConfig)
	if !ok {
		return configError(configCodeUninitializedServerConf, "server configuration not prepared; PreRunE must execute before RunE")
	}

	listenAddr := viper.GetString("listen_addr")
	credentialStoreURL := viper.GetString("credential_store_url")
	enableCORS := viper.GetBool("enable_cors")
	corsAllowedOrigins := viper.GetStringSlice("cors_allowed_origins")

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(zapLoggerMiddleware(logger))

	if enableCORS {
		corsMiddleware, corsErr := web.ConfigureCORS(logger, corsAllowedOrigins)
		if corsErr != nil {
			return corsErr
		}
		router.Use(corsMiddleware)
	}

	var credentialStore formskit.CredentialStore
	if credentialStoreURL != "" {
		persistentStore, storeLabel, storeErr := formskit.OpenCredentialStore(context.Background(), credentialStoreURL)
		if storeErr != nil {
			return fmt.Errorf("%s: %w", configCodeCredentialStoreInit, storeErr)
		}
		credentialStore = persistentStore
		logger.Info("using persistent credential store", zap.String("driver", storeLabel))
	} else {
		credentialStore = formskit.NewMemoryCredentialStore()
		logger.Warn("using in-memory credential store; authorizations will not survive restarts")
	}

	metricsRecorder := formskit.NewCounterMetrics()
	broker := formskit.NewCredentialBroker(serverConfig, credentialStore, logger)
	backend := formskit.NewGoogleFormsBackend(serverConfig, broker)

	formskit.MountAuthRoutes(router, broker, metricsRecorder, logger)
	dispatcher := formskit.NewRPCDispatcher(serverConfig, backend, metricsRecorder, logger)
	dispatcher.Mount(router)

	server := &http.Server{
		Addr:              listenAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	shutdownCtx, shutdownCancel := context.WithCancel(context.Background())
	defer shutdownCancel()

	go func() {
		stopSignals := make(chan os.Signal, 1)
		signal.Notify(stopSignals, syscall.SIGINT, syscall.SIGTERM)
		<-stopSignals
		graceCtx, graceCancel := context.WithTimeout(shutdownCtx, 10*time.Second)
		defer graceCancel()
		if err := server.Shutdown(graceCtx); err != nil {
			logger.Error("server shutdown error", zap.Error(err))
		}
	}()

	logger.Info("listening", zap.String("addr", listenAddr))
	if err := serveHTTP(server); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("listen error: %w", err)
	}
	return nil
}

func zapLoggerMiddleware(logger *zap.Logger) gin.HandlerFunc {
	return func(contextGin *gin.Context) {
		startTime := time.Now()
		contextGin.Next()
		duration := time.Since(startTime)
		logger.Info("http",
			zap.String("method", contextGin.Request.Method),
			zap.String("path", contextGin.Request.URL.Path),
			zap.Int("status", contextGin.Writer.Status()),
			zap.String("ip", contextGin.ClientIP()),
			zap.Duration("elapsed", duration),
		)
	}
}
