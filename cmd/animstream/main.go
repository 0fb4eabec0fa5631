// animstream: streams canned robot animations and their audio to a robot
// over a websocket link, with a dashboard and Prometheus metrics.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/teslashibe/go-animstream/internal/config"
	"github.com/teslashibe/go-animstream/internal/log"
	"github.com/teslashibe/go-animstream/pkg/animation"
	"github.com/teslashibe/go-animstream/pkg/audioengine"
	"github.com/teslashibe/go-animstream/pkg/metrics"
	"github.com/teslashibe/go-animstream/pkg/robotlink"
	"github.com/teslashibe/go-animstream/pkg/streamer"
	"github.com/teslashibe/go-animstream/pkg/web"
)

var version = "0.1.0"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	v := viper.New()

	root := &cobra.Command{
		Use:          "animstream",
		Short:        "Stream robot animations and audio",
		Version:      version,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(v)
			if err != nil {
				return err
			}
			return serve(cmd.Context(), cfg)
		},
	}

	flags := root.PersistentFlags()
	flags.StringP("config", "c", "", "Path to the YAML configuration file")
	flags.String("port", "", "Dashboard and robot link port")
	flags.String("log-level", "", "Log level (debug, info, warn, error)")
	flags.String("sound-bank", "", "Directory of <event>.wav files")
	flags.String("animations", "", "Directory of extra animation files")

	v.SetEnvPrefix("ANIMSTREAM")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	if err := v.BindPFlags(flags); err != nil {
		panic(fmt.Sprintf("bind flags: %v", err))
	}

	root.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "List the animations that would be loaded",
			RunE: func(cmd *cobra.Command, args []string) error {
				cfg, err := loadConfig(v)
				if err != nil {
					return err
				}
				registry, err := loadAnimations(cfg)
				if err != nil {
					return err
				}
				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(w, "NAME\tLENGTH_MS\tKEYFRAMES\tAUDIO")
				for _, s := range registry.Summaries() {
					fmt.Fprintf(w, "%s\t%d\t%d\t%d\n", s.Name, s.LastKeyframeMs, s.Keyframes, s.AudioEvents)
				}
				return w.Flush()
			},
		},
		&cobra.Command{
			Use:   "validate",
			Short: "Check the configuration and every animation",
			RunE: func(cmd *cobra.Command, args []string) error {
				cfg, err := loadConfig(v)
				if err != nil {
					return err
				}
				registry, err := loadAnimations(cfg)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "config ok, %d animations\n", registry.Count())
				return nil
			},
		},
	)
	return root
}

// loadConfig layers the file, plain env vars, then flags and ANIMSTREAM_*
// env vars bound through viper.
func loadConfig(v *viper.Viper) (config.Config, error) {
	cfg, err := config.Load(v.GetString("config"))
	if err != nil {
		return config.Config{}, err
	}
	cfg.ApplyEnv()

	if s := v.GetString("port"); s != "" {
		cfg.Server.Port = s
	}
	if s := v.GetString("log-level"); s != "" {
		cfg.Log.Level = s
	}
	if s := v.GetString("sound-bank"); s != "" {
		cfg.AudioEngine.SoundBankDir = s
	}
	if s := v.GetString("animations"); s != "" {
		cfg.Animations.Dir = s
	}

	if err := cfg.Validate(); err != nil {
		return config.Config{}, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func loadAnimations(cfg config.Config) (*animation.Registry, error) {
	registry := animation.NewRegistry()
	if cfg.Animations.BuiltIn {
		if err := registry.LoadBuiltIn(); err != nil {
			return nil, fmt.Errorf("built-in animations: %w", err)
		}
	}
	if cfg.Animations.Dir != "" {
		if _, err := registry.LoadDir(cfg.Animations.Dir); err != nil {
			return nil, fmt.Errorf("animations %s: %w", cfg.Animations.Dir, err)
		}
	}
	if registry.Count() == 0 {
		return nil, errors.New("no animations loaded")
	}
	return registry, nil
}

func serve(ctx context.Context, cfg config.Config) error {
	log.Init(cfg.Log.Level)
	logger := log.L()

	registry, err := loadAnimations(cfg)
	if err != nil {
		return err
	}

	promRegistry := prometheus.NewRegistry()
	promRegistry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m, err := metrics.NewStreamerMetrics(promRegistry)
	if err != nil {
		return err
	}

	engine, err := audioengine.New(cfg.AudioEngine, logger)
	if err != nil {
		return err
	}
	defer engine.Close()

	link := robotlink.New(cfg.Link, m, logger)

	st, err := streamer.New(streamer.Options{
		Config:   cfg.Streamer,
		Registry: registry,
		Engine:   engine,
		Link:     link,
		Metrics:  m,
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	srv, err := web.NewServer(web.Options{
		Addr:           cfg.Addr(),
		Controller:     st,
		Registry:       registry,
		Link:           link,
		Engine:         engine,
		Gatherer:       promRegistry,
		StatusInterval: cfg.StatusInterval(),
		StaticDir:      cfg.Server.StaticDir,
		AccessLog:      log.ParseLevel(cfg.Log.Level) == slog.LevelDebug,
		Version:        version,
		Logger:         logger,
	})
	if err != nil {
		return err
	}
	st.OnAnimationComplete(srv.AnimationDone)

	logger.Info("animstream starting",
		"version", version,
		"addr", cfg.Addr(),
		"animations", registry.Count(),
		"sound_bank", cfg.AudioEngine.SoundBankDir,
		"robot_ws", "ws://localhost:"+cfg.Server.Port+"/ws/robot/<id>",
	)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	streamErr := make(chan error, 1)
	go func() { streamErr <- st.Run(ctx) }()

	serveErr := srv.Run(ctx)
	if serveErr != nil {
		logger.Error("dashboard stopped", "error", serveErr)
	}
	cancel()
	if err := <-streamErr; err != nil {
		return err
	}
	logger.Info("animstream stopped")
	return serveErr
}
