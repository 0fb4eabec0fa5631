// robotsim: a simulated robot for animstream. It connects to the robot
// link, plays the streamed audio frames in real time and reports what it
// played.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/teslashibe/go-animstream/internal/config"
	"github.com/teslashibe/go-animstream/internal/log"
	"github.com/teslashibe/go-animstream/pkg/robotsim"
)

var (
	url         = flag.String("url", config.LinkURL(config.Port(config.DefaultPort)), "Robot link websocket base")
	robotID     = flag.String("id", "sim", "Robot ID")
	capacity    = flag.Int("capacity", robotsim.DefaultConfig().Capacity, "Receive buffer in bytes")
	reportTicks = flag.Int("report-ticks", 1, "Ticks between robot_state reports")
	statsEvery  = flag.Duration("stats", 5*time.Second, "Stats log period, 0 disables")
	logLevel    = flag.String("log-level", config.LogLevel("info"), "Log level")
)

func main() {
	flag.Parse()
	log.Init(*logLevel)
	logger := log.For("robotsim")

	cfg := robotsim.DefaultConfig()
	cfg.URL = *url
	cfg.RobotID = *robotID
	cfg.Capacity = *capacity
	cfg.ReportTicks = *reportTicks
	sim := robotsim.New(cfg, log.L())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if *statsEvery > 0 {
		go func() {
			ticker := time.NewTicker(*statsEvery)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					logStats(logger, sim.Stats())
				}
			}
		}()
	}

	err := sim.Run(ctx)
	logStats(logger, sim.Stats())
	if err != nil {
		logger.Error("simulator stopped", "error", err)
		os.Exit(1)
	}
}

func logStats(logger *slog.Logger, st robotsim.Stats) {
	logger.Info("stats",
		"frames_played", st.FramesPlayed,
		"bytes_played", st.BytesPlayed,
		"buffered_bytes", st.BufferedBytes,
		"starts", st.Starts,
		"ends", st.Ends,
		"keyframes", st.Keyframes,
		"overflows", st.Overflows,
		"peak_rms", st.PeakRMS,
	)
}
