package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/atonkyra/ls-ruuvi/internal/bluetoothctl"
	"github.com/atonkyra/ls-ruuvi/internal/btmon"
	"github.com/atonkyra/ls-ruuvi/internal/config"
	"github.com/atonkyra/ls-ruuvi/internal/executor"
)

const selectTimeout = 10 * time.Second

// source is the btmon line stream plus whatever has to be torn down with it.
type source struct {
	*executor.Lines
	closers []func()
}

func (s *source) close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
}

func openSource(ctx context.Context, cfg config.Config) (*source, error) {
	if cfg.Replay() {
		return openReplay(cfg)
	}
	return startMonitor(ctx, cfg)
}

// openReplay reads previously captured btmon output.
func openReplay(cfg config.Config) (*source, error) {
	var r io.ReadCloser = os.Stdin
	if cfg.InputFile != "-" {
		f, err := os.Open(cfg.InputFile)
		if err != nil {
			return nil, fmt.Errorf("open input: %w", err)
		}
		r = f
	}
	slog.Info("replaying btmon output", "input", cfg.InputFile)

	lines := executor.NewReader(r, cfg.LineBuffer)
	return &source{
		Lines: lines,
		closers: []func(){func() {
			_ = r.Close()
			lines.Close()
		}},
	}, nil
}

// startMonitor selects the controller with bluetoothctl, turns on scanning
// and starts btmon on it.
func startMonitor(ctx context.Context, cfg config.Config) (*source, error) {
	procCfg := executor.Config{Buffer: cfg.LineBuffer, Logger: slog.Default()}

	ctl, err := executor.Start(ctx, procCfg, cfg.BluetoothctlPath)
	if err != nil {
		return nil, err
	}
	stopCtl := func() {
		_ = ctl.Send("scan off")
		_ = ctl.Send("quit")
		if err := ctl.Stop(); err != nil {
			slog.Warn("bluetoothctl stop", "error", err)
		}
	}

	selectCtx, cancel := context.WithTimeout(ctx, selectTimeout)
	_, err = bluetoothctl.SelectController(selectCtx, ctl, cfg.ControllerIndex, slog.Default())
	cancel()
	if err != nil {
		stopCtl()
		return nil, err
	}
	if err := bluetoothctl.Enable(ctl); err != nil {
		stopCtl()
		return nil, err
	}

	// bluetoothctl reports every device it discovers; the output has to be
	// consumed or the process blocks on a full pipe.
	go drain(ctx, ctl, slog.Default().With("process", "bluetoothctl"))

	mon, err := executor.Start(ctx, procCfg, cfg.BtmonPath, "-i", strconv.Itoa(cfg.ControllerIndex))
	if err != nil {
		stopCtl()
		return nil, err
	}

	return &source{
		Lines: mon.Lines,
		closers: []func(){
			stopCtl,
			func() {
				if err := mon.Stop(); err != nil {
					slog.Warn("btmon stop", "error", err)
				}
			},
		},
	}, nil
}

func drain(ctx context.Context, lines btmon.LineSource, logger *slog.Logger) {
	for {
		line, err := lines.NextLine(ctx)
		if err != nil {
			if ctx.Err() == nil {
				logger.Warn("output ended", "error", err)
			}
			return
		}
		logger.Debug("output", "line", line)
	}
}
