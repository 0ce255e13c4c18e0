package app

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atonkyra/ls-ruuvi/internal/config"
)

const capture = `Bluetooth monitor ver 5.66
= Note: Linux version 6.1.0-rpi7-rpi-v8 (aarch64)
> HCI Event: LE Meta Event (0x3e) plen 43                  #12 [hci0] 10.204913
      LE Advertising Report (0x02)
        Num reports: 1
        Event type: Non connectable undirected - ADV_NONCONN_IND (0x03)
        Address type: Random (0x01)
        Address: F4:A5:74:89:16:57 (Static)
        Data length: 31
        Flags: 0x06
          LE General Discoverable Mode
          BR/EDR Not Supported
        Company: Ruuvi Innovations Ltd. (1177)
          Data: 0512fc5394c37c0004fffc040cac364200cdcbb8334c884f
        RSSI: -73 dBm (0xb7)
> HCI Event: LE Meta Event (0x3e) plen 40                  #13 [hci0] 10.310021
      LE Advertising Report (0x02)
        Num reports: 1
        Event type: Connectable undirected - ADV_IND (0x00)
        Address: 5C:F3:70:8B:12:04 (Public)
        Company: Apple, Inc. (76)
          Data: 0215
> HCI Event: Command Complete (0x0e) plen 4                #14 [hci0] 10.410021
      LE Set Scan Enable (0x08|0x000c) ncmd 1
        Status: Success (0x00)
`

const wantTemperature = `ruuvi_temperature{identifier="sauna",sensor="F4:A5:74:89:16:57"} 24.3`

func pickFreePort(t *testing.T) int {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	return ln.Addr().(*net.TCPAddr).Port
}

func testConfig(t *testing.T) config.Config {
	t.Helper()
	return config.Config{
		AppEnv:       "dev",
		ExporterHost: "127.0.0.1",
		ExporterPort: pickFreePort(t),
		LineBuffer:   16,
		Beacons:      map[string]string{"F4:A5:74:89:16:57": "sauna"},
	}
}

func writeFile(t *testing.T, dir, name, body string, mode os.FileMode) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(body), mode))
	return path
}

// startRun runs Run in the background and returns a func that cancels it
// and reports its result.
func startRun(t *testing.T, cfg config.Config) func() error {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- Run(ctx, cfg) }()

	var stopped bool
	stop := func() error {
		if stopped {
			return nil
		}
		stopped = true
		cancel()
		select {
		case err := <-done:
			return err
		case <-time.After(10 * time.Second):
			require.FailNow(t, "Run did not return after cancel")
			return nil
		}
	}
	t.Cleanup(func() { _ = stop() })
	return stop
}

func waitForMetric(t *testing.T, addr, want string) string {
	t.Helper()

	client := &http.Client{Timeout: 2 * time.Second}
	deadline := time.Now().Add(10 * time.Second)
	var body string
	for time.Now().Before(deadline) {
		resp, err := client.Get("http://" + addr + "/metrics")
		if err == nil {
			b, _ := io.ReadAll(resp.Body)
			_ = resp.Body.Close()
			body = string(b)
			if strings.Contains(body, want) {
				return body
			}
		}
		time.Sleep(100 * time.Millisecond)
	}
	require.FailNowf(t, "metric not exported", "%q at %s; last body:\n%s", want, addr, body)
	return ""
}

func TestRun_Replay(t *testing.T) {
	cfg := testConfig(t)
	cfg.InputFile = writeFile(t, t.TempDir(), "capture.txt", capture, 0o600)

	stop := startRun(t, cfg)

	body := waitForMetric(t, cfg.ExporterAddr(), wantTemperature)
	for _, want := range []string{
		`ruuvi_measurement_sequence_number{identifier="sauna",sensor="F4:A5:74:89:16:57"} 205`,
		`ruuvi_last_seen{identifier="sauna",sensor="F4:A5:74:89:16:57"}`,
		`ruuvi_events_total{outcome="decoded"} 1`,
		`ruuvi_events_total{outcome="ignored"} 2`,
		`ruuvi_readings_total{format="df5"} 1`,
		`go_goroutines`,
	} {
		assert.Contains(t, body, want)
	}
	assert.NotContains(t, body, "5C:F3:70:8B:12:04", "non-Ruuvi advertisement was exported")

	// The exporter outlives the replay.
	resp, err := http.Get("http://" + cfg.ExporterAddr() + "/healthz")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	assert.ErrorIs(t, stop(), context.Canceled)
}

func TestRun_ReplayMissingFile(t *testing.T) {
	cfg := testConfig(t)
	cfg.InputFile = filepath.Join(t.TempDir(), "missing.txt")

	err := Run(context.Background(), cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "open input")
}

func TestRun_ReplayReadErrorIsReported(t *testing.T) {
	cfg := testConfig(t)
	// A directory opens fine but every read fails.
	cfg.InputFile = t.TempDir()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	err := Run(ctx, cfg)
	require.Error(t, err)
	assert.NotErrorIs(t, err, context.DeadlineExceeded)
	assert.Contains(t, err.Error(), "read btmon output")
}

func TestWait_StreamError(t *testing.T) {
	readErr := errors.New("device gone")

	tests := []struct {
		name      string
		replay    bool
		streamErr error
		wantErr   string
	}{
		{name: "live read error", streamErr: readErr, wantErr: "read btmon output: device gone"},
		{name: "replay read error", replay: true, streamErr: readErr, wantErr: "read btmon output: device gone"},
		{name: "live clean end", wantErr: "btmon output ended"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.Config{}
			if tt.replay {
				cfg.InputFile = "capture.txt"
			}
			pipeErrCh := make(chan error, 1)
			pipeErrCh <- nil

			err := wait(context.Background(), cfg, func() error { return tt.streamErr }, make(chan error), pipeErrCh)
			require.Error(t, err)
			assert.Equal(t, tt.wantErr, err.Error())
			if tt.streamErr != nil {
				assert.ErrorIs(t, err, tt.streamErr)
			}
		})
	}
}

func TestWait_CleanReplayKeepsServing(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cfg := config.Config{InputFile: "capture.txt"}
	pipeErrCh := make(chan error, 1)
	pipeErrCh <- nil

	done := make(chan error, 1)
	go func() { done <- wait(ctx, cfg, func() error { return nil }, make(chan error), pipeErrCh) }()

	select {
	case err := <-done:
		require.FailNowf(t, "wait returned early", "err=%v", err)
	case <-time.After(100 * time.Millisecond):
	}

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		require.FailNow(t, "wait did not return after cancel")
	}
}

func requireShell(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
}

func TestRun_LiveWithFakeTools(t *testing.T) {
	requireShell(t)
	dir := t.TempDir()

	capturePath := writeFile(t, dir, "capture.txt", capture, 0o600)
	argsPath := filepath.Join(dir, "btmon-args")

	cfg := testConfig(t)
	cfg.ControllerIndex = 1
	cfg.BluetoothctlPath = writeFile(t, dir, "bluetoothctl", `#!/bin/sh
echo "Agent registered"
echo "[bluetooth]# list"
echo "Controller 00:1A:7D:DA:71:13 pi [default]"
echo "Controller 5C:F3:70:8B:12:04 dongle"
echo "[bluetooth]# version"
echo "Version 5.66"
exec cat > /dev/null
`, 0o700)
	cfg.BtmonPath = writeFile(t, dir, "btmon", `#!/bin/sh
echo "$@" > "`+argsPath+`"
cat "`+capturePath+`"
exec sleep 60
`, 0o700)

	stop := startRun(t, cfg)
	waitForMetric(t, cfg.ExporterAddr(), wantTemperature)

	args, err := os.ReadFile(argsPath)
	require.NoError(t, err)
	assert.Equal(t, "-i 1", strings.TrimSpace(string(args)))

	assert.ErrorIs(t, stop(), context.Canceled)
}

func TestRun_LiveMonitorExits(t *testing.T) {
	requireShell(t)
	dir := t.TempDir()

	cfg := testConfig(t)
	cfg.BluetoothctlPath = writeFile(t, dir, "bluetoothctl", `#!/bin/sh
echo "Controller 00:1A:7D:DA:71:13 pi [default]"
echo "Version 5.66"
exec cat > /dev/null
`, 0o700)
	cfg.BtmonPath = writeFile(t, dir, "btmon", "#!/bin/sh\nexit 0\n", 0o700)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	err := Run(ctx, cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "btmon output ended")
}

func TestRun_ControllerMissing(t *testing.T) {
	requireShell(t)
	dir := t.TempDir()

	cfg := testConfig(t)
	cfg.ControllerIndex = 3
	cfg.BluetoothctlPath = writeFile(t, dir, "bluetoothctl", `#!/bin/sh
echo "Controller 00:1A:7D:DA:71:13 pi [default]"
echo "Version 5.66"
exec cat > /dev/null
`, 0o700)
	cfg.BtmonPath = filepath.Join(dir, "btmon-never-started")

	err := Run(context.Background(), cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "controller not found")
}
