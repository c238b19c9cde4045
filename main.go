package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/moddengine/imgfeed/search"
	"github.com/moddengine/imgfeed/store"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// cli is the state shared by every command once configuration is loaded.
type cli struct {
	cfgFile string
	debug   bool
	cfg     Config
	log     *zap.Logger
}

func newLogger(debug bool) (*zap.Logger, error) {
	zcfg := zap.NewProductionConfig()
	if debug {
		zcfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		zcfg.Development = true
		zcfg.Encoding = "console"
		zcfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}
	return zcfg.Build()
}

func newRootCommand() *cobra.Command {
	app := &cli{}
	rootCmd := &cobra.Command{
		Use:   "imgfeed",
		Short: "Stock image search, proxy and crop service",
		Long: `imgfeed searches Pexels, Unsplash and Pixabay at once, interleaves the
results into one paginated feed and prepares a chosen image for publishing.

Examples:
  imgfeed serve                          # HTTP API on :8081
  imgfeed search "mountain sunrise"      # first page of the feed
  imgfeed crop in.jpg out.jpg --zoom 1.5 # fixed aspect crop
  imgfeed optimize in.png out.png --format png --quality 80`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			log, err := newLogger(app.debug)
			if err != nil {
				return fmt.Errorf("creating logger: %w", err)
			}
			app.log = log
			app.cfg, err = loadConfig(app.cfgFile)
			return err
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if app.log != nil {
				_ = app.log.Sync()
			}
		},
	}
	rootCmd.PersistentFlags().StringVar(&app.cfgFile, "config", defaultConfigFile, "config file")
	rootCmd.PersistentFlags().BoolVar(&app.debug, "debug", false, "verbose console logging")

	rootCmd.AddCommand(
		newServeCommand(app),
		newSearchCommand(app),
		newCropCommand(app),
		newOptimizeCommand(app),
		newUserCommand(app),
	)
	return rootCmd
}

func newServeCommand(app *cli) *cobra.Command {
	var listen string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := app.cfg
			if listen != "" {
				cfg.Listen = listen
			}
			return serve(cmd.Context(), cfg, app.log)
		},
	}
	cmd.Flags().StringVar(&listen, "listen", "", "listen address (overrides config)")
	return cmd
}

func serve(ctx context.Context, cfg Config, log *zap.Logger) error {
	st, err := store.New(cfg.Database, log)
	if err != nil {
		return err
	}
	defer st.Close()

	reqCache := search.NewReqCache(st, log)
	go reqCache.Run(ctx)

	aggregator, err := newAggregator(cfg, reqCache, log)
	if err != nil {
		return err
	}
	var users UserChecker
	if cfg.Auth.Required {
		users = st
	}
	srv := NewServer(cfg, aggregator, users, log)

	httpSrv := &http.Server{
		Addr:              cfg.Listen,
		Handler:           srv.Router(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      2 * time.Minute,
	}
	errc := make(chan error, 1)
	go func() {
		log.Info("Starting Server", zap.String("listen", cfg.Listen))
		errc <- httpSrv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}
	log.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return httpSrv.Shutdown(shutdownCtx)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(2)
	}
}
