package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"chatd/internal/artifact"
	"chatd/internal/config"
	"chatd/internal/device"
	"chatd/internal/engine"
	"chatd/internal/gate"
	"chatd/internal/httpapi"
	"chatd/internal/manager"
)

var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "chatd",
		Short:         "Local LLM chat service with NPU-first device negotiation",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newServeCmd())
	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the chatd version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("chatd", version)
		},
	})
	return root
}

func newServeCmd() *cobra.Command {
	var (
		cfgPath   string
		addr      string
		modelsDir string
		logLevel  string
		warmup    bool
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP and WebSocket chat server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cfgPath, addr, modelsDir, logLevel)
			if err != nil {
				return err
			}
			return runServe(cfg, warmup)
		},
	}
	cmd.Flags().StringVar(&cfgPath, "config", "", "Path to a config file (json, yaml or toml)")
	cmd.Flags().StringVar(&addr, "addr", "", "Listen address override, e.g. 127.0.0.1:8000")
	cmd.Flags().StringVar(&modelsDir, "models-dir", "", "Models directory override")
	cmd.Flags().StringVar(&logLevel, "log-level", "", "Log level: debug|info|warn|error")
	cmd.Flags().BoolVar(&warmup, "warmup", true, "Acquire the model and bind a device at startup")
	return cmd
}

func loadConfig(path, addr, modelsDir, logLevel string) (config.Config, error) {
	cfg := config.Default()
	if path != "" {
		var err error
		cfg, err = config.Load(path)
		if err != nil {
			return config.Config{}, fmt.Errorf("load config: %w", err)
		}
	}
	if addr != "" {
		host, portStr, err := net.SplitHostPort(addr)
		if err != nil {
			return config.Config{}, fmt.Errorf("invalid --addr %q: %w", addr, err)
		}
		port, err := strconv.Atoi(portStr)
		if err != nil {
			return config.Config{}, fmt.Errorf("invalid --addr port %q: %w", portStr, err)
		}
		cfg.Server.Host = host
		cfg.Server.Port = port
	}
	if modelsDir != "" {
		cfg.Model.ModelsDir = modelsDir
	}
	if logLevel != "" {
		cfg.Server.LogLevel = logLevel
	}
	return cfg, nil
}

func newLogger(level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	return zerolog.New(os.Stderr).Level(lvl).With().Timestamp().Logger()
}

func runServe(cfg config.Config, warmup bool) error {
	log := newLogger(cfg.Server.LogLevel)

	store, err := artifact.NewStore(artifact.StoreConfig{
		Dir:            cfg.Model.ModelsDir,
		Endpoint:       cfg.Model.Endpoint,
		Retries:        cfg.Model.DownloadRetries,
		RemoteFallback: cfg.Model.RemoteFallback,
	}, log)
	if err != nil {
		return fmt.Errorf("artifact store: %w", err)
	}

	profiles := make([]device.Profile, 0, len(cfg.Devices))
	for _, d := range cfg.Devices {
		profiles = append(profiles, device.Profile{Name: d.Name, Rank: d.Rank, Options: d.Options})
	}
	backend := engine.NewBackend(cfg.Model.MaxContextLength)
	neg := device.New(backend, profiles, log)
	g := gate.New(cfg.Server.MaxQueueDepth, cfg.Server.MaxWait())
	mgr := manager.New(cfg, store, neg, g, log)
	defer mgr.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	httpapi.SetLogger(log)
	httpapi.SetBaseContext(ctx)
	if len(cfg.Server.AllowedOrigins) > 0 {
		httpapi.SetCORSOptions(true, cfg.Server.AllowedOrigins,
			[]string{http.MethodGet, http.MethodPost, http.MethodOptions},
			[]string{"Accept", "Content-Type", "X-Log-Level"})
	}

	srv := &http.Server{
		Addr:              cfg.Server.Addr(),
		Handler:           httpapi.NewMux(mgr),
		ReadHeaderTimeout: 10 * time.Second,
	}

	eg, egCtx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		log.Info().Str("addr", srv.Addr).Str("model", cfg.Model.Name).Bool("inference_built", engine.Built()).Msg("chatd listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	eg.Go(func() error {
		<-egCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Warn().Err(err).Msg("graceful shutdown failed")
			return srv.Close()
		}
		return nil
	})
	if warmup {
		eg.Go(func() error {
			// Warmup failure leaves the service up in degraded health; the
			// pipeline is retried on the next request.
			if err := mgr.Warmup(egCtx); err != nil && egCtx.Err() == nil {
				log.Warn().Err(err).Msg("warmup failed, serving degraded")
			}
			return nil
		})
	}
	return eg.Wait()
}
