package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/velaris-labs/bitrix-manager/backend/internal/config"
	"github.com/velaris-labs/bitrix-manager/backend/internal/logging"
	"github.com/velaris-labs/bitrix-manager/backend/internal/server"
	"go.uber.org/zap"
)

var cfgFile string

func main() {
	rootCmd := &cobra.Command{
		Use:   "bitrix-api",
		Short: "Bitrix Manager backend service",
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
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to configuration file")
	cmd.PersistentFlags().String("http-address", defaults.GetString("http.address"), "HTTP listen address")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("bitrix-base-url", defaults.GetString("bitrix.base_url"), "Default Bitrix webhook base URL")
	cmd.PersistentFlags().Duration("bitrix-timeout", defaults.GetDuration("bitrix.timeout"), "Upstream call timeout")
	cmd.PersistentFlags().Duration("user-cache-ttl", defaults.GetDuration("cache.user_ttl"), "User cache refresh interval")
	cmd.PersistentFlags().Duration("page-delay", defaults.GetDuration("list.page_delay"), "Delay between page fetches")
	cmd.PersistentFlags().StringSlice("allowed-origins", defaults.GetStringSlice("cors.allowed_origins"), "CORS allowed origins")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "bitrix.base_url", "bitrix-base-url")
	bindFlag(cmd, "bitrix.timeout", "bitrix-timeout")
	bindFlag(cmd, "cache.user_ttl", "user-cache-ttl")
	bindFlag(cmd, "list.page_delay", "page-delay")
	bindFlag(cmd, "cors.allowed_origins", "allowed-origins")
}

func bindFlag(cmd *cobra.Command, key, flag string) {
	if err := viper.BindPFlag(key, cmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(err)
	}
}

func initConfig() error {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}

	if err := viper.ReadInConfig(); err != nil {
		if cfgFile != "" {
			return err
		}
		var configNotFound viper.ConfigFileNotFoundError
		if !errors.As(err, &configNotFound) {
			return err
		}
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

	handler, err := server.NewHTTPHandler(server.Dependencies{
		Logger:          logger,
		DefaultBaseURL:  appConfig.DefaultBaseURL,
		AllowedOrigins:  appConfig.AllowedOrigins,
		UpstreamTimeout: appConfig.UpstreamTimeout,
		UserCacheTTL:    appConfig.UserCacheTTL,
		PageDelay:       appConfig.PageDelay,
	})
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:    appConfig.HTTPAddress,
		Handler: handler,
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
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
