// crane-server drives a simulated articulated crane over websockets.
// Each client connection gets its own motion controller and receives
// live joint and Cartesian state while the crane moves.
//
// Usage:
//
//	crane-server [options]
//
// Options:
//
//	-addr string        HTTP listen address (default ":8000", $CRANE_ADDR)
//	-spec string        YAML crane description ($CRANE_SPEC_FILE)
//	-tick duration      Motion tick interval (default 100ms, $CRANE_TICK_MS)
//	-max-duration dur   Default motion time limit, 0 = unlimited ($CRANE_MAX_DURATION_MS)
//	-snapshot duration  Snapshot pump interval (default 100ms, $CRANE_SNAPSHOT_MS)
//	-logfile string     Rotating log file ($CRANE_LOG_FILE)
//	-env string         .env file to load (default ".env")
//	-dump-spec          Print the effective crane description and exit
//
// Examples:
//
//	# Reference crane on the default port
//	crane-server
//
//	# Custom crane, publishing snapshots to MQTT
//	CRANE_MQTT_BROKER=tcp://localhost:1883 crane-server -spec crane.yaml
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"time"

	"crane-go/pkg/config"
	"crane-go/pkg/log"
	"crane-go/pkg/metrics"
	"crane-go/pkg/reactor"
	"crane-go/pkg/server"
	"crane-go/pkg/telemetry"
)

const shutdownTimeout = 5 * time.Second

func main() {
	envFile := flag.String("env", "", "Environment file to load (default: .env)")
	addr := flag.String("addr", "", "HTTP listen address")
	specFile := flag.String("spec", "", "YAML crane description")
	tick := flag.Duration("tick", 0, "Motion tick interval")
	maxDuration := flag.Duration("max-duration", -1, "Default motion time limit (0 = unlimited)")
	snapshot := flag.Duration("snapshot", 0, "Snapshot pump interval")
	logFile := flag.String("logfile", "", "Rotating log file (default: stderr)")
	dumpSpec := flag.Bool("dump-spec", false, "Print the effective crane description and exit")
	flag.Parse()

	var envFiles []string
	if *envFile != "" {
		envFiles = append(envFiles, *envFile)
	}
	cfg, err := config.Load(envFiles...)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	// Flags override the environment
	if *addr != "" {
		cfg.Addr = *addr
	}
	if *specFile != "" {
		cfg.SpecFile = *specFile
	}
	if *tick > 0 {
		cfg.TickInterval = *tick
	}
	if *maxDuration >= 0 {
		cfg.MaxDuration = *maxDuration
	}
	if *snapshot > 0 {
		cfg.SnapshotInterval = *snapshot
	}
	if *logFile != "" {
		cfg.LogFile = *logFile
	}

	logger := log.Default()
	log.ConfigureFromEnv(logger)
	if cfg.LogFile != "" {
		closer, err := log.ToFile(logger, log.RotationConfig{Filename: cfg.LogFile, Compress: true}, true)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error opening log file: %v\n", err)
			os.Exit(1)
		}
		defer closer.Close()
	}

	craneCfg, err := config.LoadSpec(cfg.SpecFile)
	if err != nil {
		logger.WithError(err).Error("loading crane description")
		os.Exit(1)
	}
	if *dumpSpec {
		if err := config.WriteSpec(os.Stdout, craneCfg); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	if err := run(cfg, craneCfg, logger); err != nil {
		logger.WithError(err).Error("crane server failed")
		os.Exit(1)
	}
}

func run(cfg *config.Config, craneCfg *config.CraneConfig, logger *log.Logger) error {
	logger.Info("========================================")
	logger.Info("Crane Server Starting")
	logger.Info("========================================")
	logger.Info("Address: %s", cfg.Addr)
	logger.Info("Reach: %.3f, spacers: %.3f", craneCfg.Spec.Reach(), craneCfg.Spec.SpacerHeight())
	logger.Info("Tick: %s, snapshot: %s, max duration: %s", cfg.TickInterval, cfg.SnapshotInterval, cfg.MaxDuration)

	m := metrics.NewCraneMetrics()
	r := reactor.New()
	r.Run()
	defer func() {
		r.End()
		r.Wait()
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	sinks, err := openSinks(ctx, cfg, logger)
	cancel()
	if err != nil {
		return err
	}
	var publisher server.Publisher
	if len(sinks) > 0 {
		fanout := telemetry.NewFanout(sinks, telemetry.FanoutConfig{Recorder: m, Logger: logger.WithPrefix("telemetry")})
		defer fanout.Close()
		publisher = fanout
		logger.Info("Telemetry: %v", fanout.Sinks())
	}

	srv, err := server.New(server.Config{
		Addr:             cfg.Addr,
		Spec:             craneCfg.Spec,
		Initial:          craneCfg.Initial,
		TickInterval:     cfg.TickInterval,
		MaxDuration:      cfg.MaxDuration,
		SnapshotInterval: cfg.SnapshotInterval,
		Reactor:          r,
		Metrics:          m,
		MetricsAuth:      metrics.HandlerConfig{Username: cfg.MetricsUser, Password: cfg.MetricsPassword},
		Publisher:        publisher,
		Logger:           logger.WithPrefix("server"),
	})
	if err != nil {
		return err
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, shutdownSignals...)
	defer signal.Stop(sigCh)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case sig := <-sigCh:
		logger.Info("received %v, shutting down", sig)
	case err := <-errCh:
		return err
	}

	ctx, cancel = context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.WithError(err).Warn("shutdown incomplete")
	}
	<-errCh
	logger.Info("Crane server stopped")
	return nil
}

// openSinks connects the configured telemetry sinks.
func openSinks(ctx context.Context, cfg *config.Config, logger *log.Logger) ([]telemetry.Sink, error) {
	var sinks []telemetry.Sink
	if cfg.MQTTBroker != "" {
		p, err := telemetry.NewMQTTPublisher(telemetry.MQTTConfig{
			Broker:   cfg.MQTTBroker,
			ClientID: cfg.MQTTClientID,
			Username: cfg.MQTTUsername,
			Password: cfg.MQTTPassword,
			Topic:    cfg.MQTTTopic,
			Retained: true,
		})
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, p)
		logger.Info("MQTT: %s -> %s/<session>", cfg.MQTTBroker, cfg.MQTTTopic)
	}
	if cfg.RedisAddr != "" {
		c, err := telemetry.NewRedisCache(ctx, telemetry.RedisConfig{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
			Key:      cfg.RedisKey,
			TTL:      cfg.RedisTTL,
		})
		if err != nil {
			for _, s := range sinks {
				s.Close()
			}
			return nil, err
		}
		sinks = append(sinks, c)
		logger.Info("Redis: %s -> %s:<session>", cfg.RedisAddr, cfg.RedisKey)
	}
	return sinks, nil
}
