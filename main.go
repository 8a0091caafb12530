package radio

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/SaemsCodes/offline-radio/internal/audio"
	"github.com/SaemsCodes/offline-radio/internal/config"
	"github.com/SaemsCodes/offline-radio/internal/logging"
	"golang.org/x/sync/errgroup"
)

var (
	configPath string
	dataDir    string
	logLevel   string
)

func defaultDataDir() string {
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".offline-radio")
	}
	return ".offline-radio"
}

// Main is the node entry point.
func Main() {
	flag.StringVar(&configPath, "config", "", "path to the configuration file")
	flag.StringVar(&dataDir, "data-dir", defaultDataDir(), "directory for persisted node state")
	flag.StringVar(&logLevel, "log-level", "", "override the configured log level")
	flag.Parse()

	if configPath == "" {
		configPath = filepath.Join(dataDir, "config.yaml")
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	level := cfg.Logging.Level
	if logLevel != "" {
		level = logLevel
	}
	logging.SetLevel(level)
	logger := logging.GetDefaultLogger()

	nodeID, err := config.NodeID(dataDir)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to establish node identity")
	}

	audio.SetQuality(qualityNames[strings.ToLower(cfg.Audio.Quality)])

	app, err := NewApp(cfg, nodeID)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize node")
	}

	server := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.HTTP.Address, cfg.HTTP.Port),
		Handler: NewRouter(app),
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		logger.Info().Str("addr", server.Addr).Msg("http server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	group.Go(func() error {
		// Receiving starts immediately so blocks are never lost while the
		// operator decides to listen.
		if err := app.StartPlayback(); err != nil {
			return err
		}
		<-groupCtx.Done()
		return nil
	})
	group.Go(func() error {
		<-groupCtx.Done()
		logger.Info().Msg("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
		app.Shutdown()
		return nil
	})

	if err := group.Wait(); err != nil {
		logger.Fatal().Err(err).Msg("node exited with error")
	}
}
