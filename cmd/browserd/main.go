package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"browserd/internal/browser"
	"browserd/internal/common/fsutil"
	"browserd/internal/config"
	"browserd/internal/engine"
	"browserd/internal/httpapi"
	"browserd/internal/logbuf"
)

// exitConfig is the sysexits EX_CONFIG code, letting supervisors tell a
// broken configuration apart from a runtime crash.
const exitConfig = 78

var (
	flagConfig   string
	flagLogLevel string
)

func main() {
	root := &cobra.Command{
		Use:          "browserd",
		Short:        "OpenAI-compatible gateway over browser-automation workers",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVarP(&flagConfig, "config", "c", "", "path to config file (default data/config.yaml)")
	root.PersistentFlags().StringVar(&flagLogLevel, "log-level", "", "log level: debug, info, warn, error (overrides LOG_LEVEL)")

	root.AddCommand(serveCmd(), checkCmd(), loginCmd())
	root.RunE = serveCmd().RunE // bare invocation serves

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the gateway",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(false)
		},
	}
}

func loginCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "login",
		Short: "Run with a visible browser and no navigation handlers, for interactive logins",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(true)
		},
	}
}

func checkCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Validate the configuration and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := loadConfig(); err != nil {
				fmt.Fprintf(os.Stderr, "config: %v\n", err)
				os.Exit(exitConfig)
			}
			fmt.Println("config ok")
			return nil
		},
	}
}

// loadConfig resolves the config path, migrates a legacy root-level
// file into the data directory, loads and validates.
func loadConfig() (*config.Config, error) {
	path, err := fsutil.ExpandHome(flagConfig)
	if err != nil {
		return nil, err
	}
	if path == "" {
		path, err = config.MigrateLegacy("config.yaml", config.DefaultDataDir)
		if err != nil {
			return nil, err
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if cfg.DataDir, err = fsutil.ExpandHome(cfg.DataDir); err != nil {
		return nil, err
	}
	if cfg.Browser.Bin, err = fsutil.ExpandHome(cfg.Browser.Bin); err != nil {
		return nil, err
	}
	if cfg.Browser.Bin != "" && !fsutil.PathExists(cfg.Browser.Bin) {
		return nil, fmt.Errorf("browser.bin not found: %s", cfg.Browser.Bin)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(cfg.TempDir(), 0o755); err != nil {
		return nil, fmt.Errorf("data dir not writable: %w", err)
	}
	return &cfg, nil
}

func run(loginMode bool) error {
	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(exitConfig)
	}

	ring := logbuf.NewBuffer(0)
	log, sink, err := setupLogger(cfg, ring)
	if err != nil {
		return err
	}
	if sink != nil {
		defer sink.Close()
	}
	httpapi.SetLogger(log)

	headless := cfg.Browser.Headless
	if loginMode {
		headless = false
		cfg.Browser.Headless = false
	}
	launcher := &browser.RodLauncher{Bin: cfg.Browser.Bin}

	eng, err := engine.New(cfg, launcher, prometheus.DefaultRegisterer, log)
	if err != nil {
		return err
	}

	baseCtx, baseCancel := context.WithCancel(context.Background())
	defer baseCancel()
	httpapi.SetBaseContext(baseCtx)

	startCtx, startCancel := context.WithTimeout(baseCtx, 5*time.Minute)
	err = eng.Start(startCtx, loginMode)
	startCancel()
	if err != nil {
		log.Error().Err(err).Msg("engine startup failed")
		return err
	}

	mux := httpapi.NewMux(eng, httpapi.Options{
		AuthToken:     cfg.Server.Auth,
		KeepaliveMode: cfg.Server.Keepalive.Mode,
		Logs:          ring,
	})
	port := cfg.Server.Port
	if port == 0 {
		port = config.DefaultPort
	}
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, ctx := errgroup.WithContext(baseCtx)
	g.Go(func() error {
		log.Info().Int("port", port).Bool("headless", headless).Bool("login_mode", loginMode).Msg("listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		stop := make(chan os.Signal, 1)
		signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
		select {
		case sig := <-stop:
			log.Info().Str("signal", sig.String()).Msg("shutting down")
		case <-ctx.Done():
		}
		shutCtx, cancel := context.WithTimeout(context.Background(), config.DefaultShutdownGrace)
		defer cancel()
		if err := srv.Shutdown(shutCtx); err != nil {
			log.Warn().Err(err).Msg("http shutdown")
		}
		baseCancel()
		return eng.Shutdown(config.DefaultShutdownGrace)
	})
	return g.Wait()
}

// setupLogger builds the daemon logger: console output, the admin log
// ring, and a rotating file sink under the data directory.
func setupLogger(cfg *config.Config, ring *logbuf.Buffer) (zerolog.Logger, *logbuf.FileSink, error) {
	level := zerolog.InfoLevel
	src := flagLogLevel
	if src == "" {
		src = os.Getenv("LOG_LEVEL")
	}
	if src != "" {
		if l, err := zerolog.ParseLevel(src); err == nil {
			level = l
		}
	}
	writers := []io.Writer{
		zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339},
		ring,
	}
	sink, err := logbuf.NewFileSink(cfg.TempDir() + "/system.log")
	if err == nil {
		writers = append(writers, sink)
	} else {
		sink = nil
	}
	log := zerolog.New(zerolog.MultiLevelWriter(writers...)).
		Level(level).
		With().Timestamp().Logger()
	return log, sink, nil
}
