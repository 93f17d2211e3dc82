package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MarcoPoloResearchLab/webnote/internal/config"
	"github.com/MarcoPoloResearchLab/webnote/internal/database"
	"github.com/MarcoPoloResearchLab/webnote/internal/feed"
	"github.com/MarcoPoloResearchLab/webnote/internal/logging"
	"github.com/MarcoPoloResearchLab/webnote/internal/server"
	"github.com/MarcoPoloResearchLab/webnote/internal/workspaces"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

const shutdownTimeout = 10 * time.Second

var (
	cfgFile       string
	workspaceName string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "webnote-api",
		Short: "Webnote collaborative note board service",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	}

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	}

	deleteCmd := &cobra.Command{
		Use:   "delete-workspace",
		Short: "Delete a workspace and its entire history",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDeleteWorkspace(cmd.Context(), cmd)
		},
	}
	deleteCmd.Flags().StringVar(&workspaceName, "name", "", "Workspace name to delete")
	if err := deleteCmd.MarkFlagRequired("name"); err != nil {
		panic(err)
	}

	setupFlags(rootCmd)
	rootCmd.AddCommand(serveCmd, deleteCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setupFlags(cmd *cobra.Command) {
	config.ApplyDefaults(viper.GetViper())
	defaults := config.NewViper()
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to configuration file")
	cmd.PersistentFlags().String("http-address", defaults.GetString("http.address"), "HTTP listen address")
	cmd.PersistentFlags().String("base-path", defaults.GetString("http.base_path"), "URL prefix for all routes")
	cmd.PersistentFlags().String("database-url", defaults.GetString("database.url"), "Database URL (sqlite:///path or postgres://...)")
	cmd.PersistentFlags().String("timezone", defaults.GetString("timezone"), "IANA timezone for version keys")
	cmd.PersistentFlags().String("static-dir", defaults.GetString("static.dir"), "Directory of static client assets")
	cmd.PersistentFlags().Int("num-dates", defaults.GetInt("ui.num_dates"), "Versions listed per page in the client")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "http.base_path", "base-path")
	bindFlag(cmd, "database.url", "database-url")
	bindFlag(cmd, "timezone", "timezone")
	bindFlag(cmd, "static.dir", "static-dir")
	bindFlag(cmd, "ui.num_dates", "num-dates")
	bindFlag(cmd, "log.level", "log-level")
}

func bindFlag(cmd *cobra.Command, key, flag string) {
	if err := viper.BindPFlag(key, cmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(err)
	}
}

func initConfig() error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}

	if err := viper.ReadInConfig(); err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		if cfgFile != "" && errors.As(err, &configNotFound) {
			return err
		}
	}

	return nil
}

type application struct {
	config     config.AppConfig
	logger     *zap.Logger
	workspaces *workspaces.Service
}

func openApplication() (*application, func(), error) {
	appConfig, err := config.Load(viper.GetViper())
	if err != nil {
		return nil, nil, err
	}

	logger, err := logging.NewLogger(appConfig.LogLevel, appConfig.Debug != 0)
	if err != nil {
		return nil, nil, err
	}

	db, err := database.Open(appConfig.DatabaseURL, logger)
	if err != nil {
		_ = logger.Sync()
		return nil, nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		_ = logger.Sync()
		return nil, nil, err
	}

	workspaceService, err := workspaces.NewService(workspaces.ServiceConfig{
		Database: db,
		Clock:    time.Now,
		Location: appConfig.Location,
		Logger:   logger.Named("workspaces"),
	})
	if err != nil {
		_ = sqlDB.Close()
		_ = logger.Sync()
		return nil, nil, err
	}

	closeFn := func() {
		_ = sqlDB.Close()
		_ = logger.Sync()
	}
	return &application{
		config:     appConfig,
		logger:     logger,
		workspaces: workspaceService,
	}, closeFn, nil
}

func runServer(ctx context.Context) error {
	app, closeFn, err := openApplication()
	if err != nil {
		return err
	}
	defer closeFn()

	appConfig := app.config
	logger := app.logger
	if appConfig.Debug == 0 {
		gin.SetMode(gin.ReleaseMode)
		if appConfig.SecretKey == config.DevelopmentSecretKey {
			logger.Warn("development secret key in use outside debug mode")
		}
	}

	handler, err := server.NewHTTPHandler(server.Dependencies{
		WorkspaceService: app.workspaces,
		FeedBuilder:      feed.NewBuilder(),
		Realtime:         server.NewRealtimeDispatcher(),
		RequestIDs:       server.NewUUIDRequestIDProvider(),
		Logger:           logger.Named("http"),
		BasePath:         appConfig.BasePath,
		StaticDir:        appConfig.StaticDir,
		HelpEmail:        appConfig.HelpEmail,
		NumDates:         appConfig.NumDates,
		Debug:            appConfig.Debug,
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
		logger.Info("server starting",
			zap.String("address", appConfig.HTTPAddress),
			zap.String("base_path", appConfig.BasePath),
			zap.String("timezone", appConfig.TimezoneName))
		err := httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-signalCtx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		logger.Info("server shutting down")
		return httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func runDeleteWorkspace(ctx context.Context, cmd *cobra.Command) error {
	app, closeFn, err := openApplication()
	if err != nil {
		return err
	}
	defer closeFn()

	deleted, err := app.workspaces.DeleteWorkspace(ctx, workspaceName)
	if err != nil {
		return err
	}
	if !deleted {
		return fmt.Errorf("workspace %q not found", workspaceName)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "deleted workspace %q\n", workspaceName)
	return nil
}
