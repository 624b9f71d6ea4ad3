package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/T3-Labs/emotion-capture/pkg/analyze"
	"github.com/T3-Labs/emotion-capture/pkg/camera"
	"github.com/T3-Labs/emotion-capture/pkg/camera/gocvcam"
	"github.com/T3-Labs/emotion-capture/pkg/capture"
	"github.com/T3-Labs/emotion-capture/pkg/config"
	"github.com/T3-Labs/emotion-capture/pkg/console"
	"github.com/T3-Labs/emotion-capture/pkg/logger"
	"github.com/T3-Labs/emotion-capture/pkg/submission"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		fConfig   string
		fUserID   string
		fRole     string
		fInterval string
		fNoAuto   bool
		fConfirm  bool
	)

	rootCmd := &cobra.Command{
		Use:   "capture-agent",
		Short: "Capture webcam frames and submit them for emotion analysis",
		Long: `
Opens the local camera, encodes one frame every interval and posts it to the
analysis server. Commands are read from standard input; type help for the list.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(fConfig)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if cmd.Flags().Changed("user") {
				cfg.Agent.UserID = fUserID
			}
			if cmd.Flags().Changed("role") {
				cfg.Agent.Role = fRole
			}
			if fNoAuto {
				cfg.Agent.AutoStart = false
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			intervalInput := fmt.Sprint(cfg.Agent.IntervalSeconds)
			if cmd.Flags().Changed("interval") {
				intervalInput = fInterval
			}

			return run(cmd.Context(), cfg, intervalInput, fConfirm)
		},
	}

	rootCmd.PersistentFlags().StringVarP(&fConfig, "config", "c", "", "path to a TOML, YAML or JSON config file")
	rootCmd.Flags().StringVar(&fUserID, "user", "", "user identifier sent with every frame")
	rootCmd.Flags().StringVar(&fRole, "role", "", "role sent with every frame (student, teacher)")
	rootCmd.Flags().StringVar(&fInterval, "interval", "", "seconds between captures")
	rootCmd.Flags().BoolVar(&fNoAuto, "no-auto-start", false, "wait for the start command instead of capturing immediately")
	rootCmd.Flags().BoolVar(&fConfirm, "confirm-alerts", true, "wait for Enter after an alert")

	return rootCmd
}

func run(parent context.Context, cfg *config.Config, intervalInput string, confirm bool) error {
	if err := logger.InitLogger(cfg.Log.Development, cfg.Log.Level); err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer logger.Sync()

	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	role, err := submission.ParseRole(cfg.Agent.Role)
	if err != nil {
		return err
	}

	client := analyze.NewClient(cfg.Agent.AnalyzeURL(), cfg.Agent.RequestTimeout())
	logger.Log.Infow("Capture agent configured",
		"endpoint", client.Endpoint(),
		"camera_source", cfg.Camera.Source,
		"device", cfg.Camera.Device,
		"user_id", submission.NormalizeUserID(cfg.Agent.UserID),
		"role", role,
		"interval", capture.ParseInterval(intervalInput))

	if cfg.Agent.MetricsAddress != "" {
		go startMetricsServer(cfg.Agent.MetricsAddress)
	}

	term := console.New(console.Options{
		In:            os.Stdin,
		Out:           os.Stdout,
		Err:           os.Stderr,
		Prompt:        "> ",
		ConfirmAlerts: confirm,
		AutoStart:     cfg.Agent.AutoStart,
	})

	session := capture.NewSession(capture.Options{
		Source:    newSource(cfg.Camera),
		Submitter: client,
		Alerter:   term,
		Width:     cfg.Camera.Width,
		Height:    cfg.Camera.Height,
		Quality:   cfg.Camera.JPEGQuality,
		UserID:    cfg.Agent.UserID,
		Role:      role,
		Interval:  intervalInput,
		OnDisplay: term.ShowDisplay,
	})
	term.Attach(session)

	err = term.Run(ctx)
	session.Wait()
	logger.Log.Info("Capture agent stopped")
	return err
}

func newSource(cfg config.CameraConfig) camera.Source {
	if cfg.Source == "ffmpeg" {
		return camera.NewFFmpegSource(camera.FFmpegConfig{
			Input:        cfg.Device,
			Format:       cfg.FFmpegFormat,
			FPS:          cfg.FFmpegFPS,
			StartTimeout: 10 * time.Second,
		})
	}
	return gocvcam.NewSource(cfg.Device, cfg.Width, cfg.Height)
}

func startMetricsServer(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	logger.Log.Infow("Metrics server started", "address", addr)

	if err := http.ListenAndServe(addr, mux); err != nil {
		logger.Log.Errorw("Metrics server failed", "error", err)
	}
}
