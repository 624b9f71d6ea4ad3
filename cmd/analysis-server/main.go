package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/T3-Labs/emotion-capture/internal/events"
	"github.com/T3-Labs/emotion-capture/internal/storage"
	"github.com/T3-Labs/emotion-capture/pkg/analysis"
	"github.com/T3-Labs/emotion-capture/pkg/analysis/opencv"
	"github.com/T3-Labs/emotion-capture/pkg/circuit"
	"github.com/T3-Labs/emotion-capture/pkg/config"
	"github.com/T3-Labs/emotion-capture/pkg/emotionlog"
	"github.com/T3-Labs/emotion-capture/pkg/hub"
	"github.com/T3-Labs/emotion-capture/pkg/logger"
	"github.com/T3-Labs/emotion-capture/pkg/memcontrol"
	"github.com/T3-Labs/emotion-capture/pkg/mq"
	"github.com/T3-Labs/emotion-capture/pkg/server"
	"github.com/T3-Labs/emotion-capture/pkg/util"
	"github.com/T3-Labs/emotion-capture/pkg/worker"
)

const shutdownTimeout = 10 * time.Second

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		fConfig string
		fListen string
	)

	rootCmd := &cobra.Command{
		Use:   "analysis-server",
		Short: "Serve the emotion analysis endpoint and dashboard",
		Long: `
Accepts frame submissions on POST /analyze, classifies the dominant emotion of
the first detected face and logs successful analyses for the dashboard.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(fConfig)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if fListen != "" {
				cfg.Server.Listen = fListen
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			return run(cmd.Context(), cfg)
		},
	}

	rootCmd.PersistentFlags().StringVarP(&fConfig, "config", "c", "", "path to a TOML, YAML or JSON config file")
	rootCmd.Flags().StringVar(&fListen, "listen", "", "listen address, overrides server.listen")

	return rootCmd
}

func run(parent context.Context, cfg *config.Config) error {
	if err := logger.InitLogger(cfg.Log.Development, cfg.Log.Level); err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer logger.Sync()

	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	detector, err := opencv.NewCascadeDetector(cfg.Analysis.CascadePath)
	if err != nil {
		return err
	}
	defer detector.Close()

	classifier, err := opencv.NewFERPlusClassifier(cfg.Analysis.EmotionModelPath)
	if err != nil {
		return err
	}
	defer classifier.Close()

	archive, err := newArchive(cfg)
	if err != nil {
		return err
	}
	defer archive.Close()

	publisher, err := newEventPublisher(ctx, cfg)
	if err != nil {
		return err
	}
	defer publisher.Close()

	// Not bound to ctx: Close drains queued jobs into the sinks above,
	// which are closed after it.
	pool := worker.NewPool(context.Background(), "post_analysis", cfg.Optimization.MaxWorkers, cfg.Optimization.BufferSize)
	defer pool.Close(shutdownTimeout)

	results := hub.New("results")
	go results.Run(ctx)

	memory := memcontrol.NewController(uint64(cfg.Optimization.MaxMemoryMB))
	go memory.Run(ctx)

	srv := server.New(server.Options{
		StaticDir: cfg.Server.StaticDir,
		Analyzer:  analysis.NewPipeline(detector, classifier),
		Log:       emotionlog.NewStore(cfg.Server.LogFile),
		Window:    cfg.Server.RecentWindow,
		Pool:      pool,
		Archive:   archive,
		Events:    publisher,
		Results:   results,
		Memory:    memory,
	})

	if err := publisher.PublishServerStatus(ctx, events.ServerStateOnline, "analysis server started"); err != nil {
		logger.Log.Warnw("Failed to publish server status", "error", err)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Listen(cfg.Server.Listen)
	}()

	select {
	case err = <-errCh:
	case <-ctx.Done():
		logger.Log.Info("Shutdown signal received")
		err = srv.Shutdown()
	}

	statusCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if perr := publisher.PublishServerStatus(statusCtx, events.ServerStateOffline, "analysis server stopped"); perr != nil {
		logger.Log.Warnw("Failed to publish server status", "error", perr)
	}

	logger.Log.Info("Analysis server stopped")
	return err
}

func newArchive(cfg *config.Config) (*storage.RedisStore, error) {
	if !cfg.Redis.Enabled {
		return storage.NewRedisStore(storage.RedisStoreConfig{}, false), nil
	}

	compressor, err := util.NewCompressor(cfg.Redis.CompressionLevel)
	if err != nil {
		return nil, err
	}

	namespace := cfg.Redis.Namespace
	if namespace == "" && cfg.Events.Protocol == "amqp" {
		if vhost, err := mq.ExtractVhostFromURL(cfg.AMQP.AmqpURL); err == nil && vhost != "/" {
			namespace = vhost
		}
	}

	logger.Log.Infow("Frame archive enabled",
		"address", cfg.Redis.Address,
		"namespace", namespace,
		"ttl_seconds", cfg.Redis.TTLSeconds)

	return storage.NewRedisStore(storage.RedisStoreConfig{
		Address: cfg.Redis.Address,
		TTL:     time.Duration(cfg.Redis.TTLSeconds) * time.Second,
		KeyGen: storage.KeyGeneratorConfig{
			Strategy:  storage.ParseStrategy(cfg.Redis.KeyStrategy),
			Prefix:    cfg.Redis.Prefix,
			Namespace: namespace,
		},
		Compressor: compressor,
	}, true), nil
}

func newEventPublisher(ctx context.Context, cfg *config.Config) (*events.Publisher, error) {
	if !cfg.Events.Enabled {
		return events.NewPublisher(nil, "none", nil), nil
	}

	maxFailures := int64(cfg.Optimization.CircuitMaxFailures)
	if maxFailures <= 0 {
		maxFailures = 5
	}
	breaker := circuit.NewBreaker("events", maxFailures, cfg.Optimization.CircuitResetTimeout())

	if cfg.Events.Protocol == "mqtt" {
		p, err := mq.NewMQTTPublisher(mq.MQTTConfig{
			Broker:      cfg.MQTT.Broker,
			TopicPrefix: cfg.MQTT.TopicPrefix,
			QoS:         1,
		})
		if err != nil {
			return nil, fmt.Errorf("create mqtt publisher: %w", err)
		}
		return events.NewPublisher(p, "mqtt", breaker), nil
	}

	p, err := mq.NewAMQPPublisher(ctx, mq.AMQPConfig{
		URL:              cfg.AMQP.AmqpURL,
		Exchange:         cfg.AMQP.Exchange,
		RoutingKeyPrefix: cfg.AMQP.RoutingKeyPrefix,
		ConnectRetries:   5,
		RetryDelay:       5 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("create amqp publisher: %w", err)
	}
	return events.NewPublisher(p, "amqp", breaker), nil
}
