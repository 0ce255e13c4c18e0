package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/atonkyra/ls-ruuvi/internal/beacon"
	"github.com/atonkyra/ls-ruuvi/internal/btmon"
	"github.com/atonkyra/ls-ruuvi/internal/config"
	"github.com/atonkyra/ls-ruuvi/internal/httpapi"
	"github.com/atonkyra/ls-ruuvi/internal/metrics"
	"github.com/atonkyra/ls-ruuvi/internal/mqtt"
)

func Run(ctx context.Context, cfg config.Config) error {
	slog.Info("config loaded",
		"appEnv", cfg.AppEnv,
		"logLevel", cfg.LogLevel.String(),
		"controllerIndex", cfg.ControllerIndex,
		"exporterAddr", cfg.ExporterAddr(),
		"bluetoothctl", cfg.BluetoothctlPath,
		"btmon", cfg.BtmonPath,
		"inputFile", cfg.InputFile,
		"beacons", len(cfg.Beacons),
		"mqttEnabled", cfg.MQTTEnabled,
		"mqttBroker", cfg.MQTTBroker,
		"mqttPort", cfg.MQTTPort,
		"mqttTopicPrefix", cfg.MQTTTopicPrefix,
	)

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	sink, err := metrics.NewSink(reg, cfg.Beacons, slog.Default())
	if err != nil {
		return err
	}

	checks := map[string]httpapi.Check{}
	opts := beacon.Options{
		Recorder: sink,
		Counter:  sink,
		Aliases:  cfg.Beacons,
	}

	if cfg.MQTTEnabled {
		mqttClient, err := mqtt.NewClient(cfg, slog.Default())
		if err != nil {
			return err
		}
		defer mqttClient.Disconnect()

		// Paho keeps retrying in the background if the broker is down, so
		// startup only waits briefly.
		connectCtx, connectCancel := context.WithTimeout(ctx, 5*time.Second)
		err = mqttClient.Connect(connectCtx)
		connectCancel()
		if err != nil {
			slog.Warn("mqtt connection failed (continuing, will retry)", "error", err)
		}

		opts.Publisher = mqttClient
		checks["mqtt"] = mqttClient.Healthy
	}

	handler := beacon.NewHandler(opts)

	srv := httpapi.NewServer(cfg.ExporterAddr(), httpapi.NewMux(reg, checks), slog.Default())
	httpErrCh := make(chan error, 1)
	go func() {
		slog.Info("exporter listening", "addr", cfg.ExporterAddr())
		httpErrCh <- srv.ListenAndServe()
	}()

	src, err := openSource(ctx, cfg)
	if err != nil {
		shutdownHTTP(srv)
		return err
	}
	defer src.close()

	pipeErrCh := make(chan error, 1)
	go func() {
		pipeErrCh <- btmon.Run(ctx, src, func(ev *btmon.Event) {
			handler.HandleEvent(ev)
		})
	}()

	runErr := wait(ctx, cfg, src.Err, httpErrCh, pipeErrCh)

	slog.Info("exporter shutting down")
	if err := shutdownHTTP(srv); err != nil && runErr == nil {
		runErr = err
	}
	return runErr
}

// wait blocks until ctx is done or a component stops. A replay that reaches
// the end of its input keeps the exporter running so the result can be
// scraped; a stream that ended on a read error is reported as one.
func wait(ctx context.Context, cfg config.Config, streamErr func() error, httpErrCh, pipeErrCh <-chan error) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-httpErrCh:
			if err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("exporter: %w", err)
			}
			return nil
		case err := <-pipeErrCh:
			if err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("event pipeline: %w", err)
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if err := streamErr(); err != nil {
				return fmt.Errorf("read btmon output: %w", err)
			}
			if !cfg.Replay() {
				return errors.New("btmon output ended")
			}
			slog.Info("replay finished", "input", cfg.InputFile)
			pipeErrCh = nil
		}
	}
}

func shutdownHTTP(srv *http.Server) error {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
