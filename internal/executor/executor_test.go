package executor

import (
	"context"
	"errors"
	"io"
	"os/exec"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func drain(t *testing.T, l *Lines) []string {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var out []string
	for {
		line, err := l.NextLine(ctx)
		if errors.Is(err, io.EOF) {
			return out
		}
		require.NoError(t, err)
		out = append(out, line)
	}
}

func TestNewReader_SanitizesLines(t *testing.T) {
	input := "> HCI Event: LE Meta Event (0x3e)\r\n" +
		"        Address: AA:BB:CC:DD:EE:FF (Random)\n" +
		"Company: Ruuvi\xc3\xa9 Innovations (1177)\n" +
		"\n" +
		"   Data: 0512fc"

	got := drain(t, NewReader(strings.NewReader(input), 4))

	assert.Equal(t, []string{
		"> HCI Event: LE Meta Event (0x3e)",
		"Address: AA:BB:CC:DD:EE:FF (Random)",
		"Company: Ruuvi Innovations (1177)",
		"",
		"Data: 0512fc",
	}, got)
}

func TestNewReader_LongLine(t *testing.T) {
	long := strings.Repeat("ab", 100_000)
	got := drain(t, NewReader(strings.NewReader(long+"\nnext\n"), 0))
	require.Len(t, got, 2)
	assert.Equal(t, long, got[0])
	assert.Equal(t, "next", got[1])
}

func TestNewReader_EOFIsSticky(t *testing.T) {
	l := NewReader(strings.NewReader(""), 1)
	for i := 0; i < 3; i++ {
		_, err := l.NextLine(context.Background())
		assert.ErrorIs(t, err, io.EOF)
	}
	assert.NoError(t, l.Err())
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, errors.New("device gone") }

func TestNewReader_ReportsReadError(t *testing.T) {
	l := NewReader(failingReader{}, 1)
	_, err := l.NextLine(context.Background())
	require.ErrorIs(t, err, io.EOF)
	require.Error(t, l.Err())
	assert.Contains(t, l.Err().Error(), "device gone")
}

func TestNextLine_HonoursContext(t *testing.T) {
	pr, pw := io.Pipe()
	defer pw.Close()

	l := NewReader(pr, 1)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := l.NextLine(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestLines_CloseUnblocksFullQueue(t *testing.T) {
	pr, pw := io.Pipe()
	l := NewReader(pr, 1)

	go func() {
		_, _ = io.WriteString(pw, "one\ntwo\nthree\n")
	}()

	line, err := l.NextLine(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "one", line)

	done := make(chan struct{})
	go func() {
		l.Close()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		require.FailNow(t, "Close did not return")
	}
	_ = pw.Close()
}

func TestProcess_SendAndReceive(t *testing.T) {
	if _, err := exec.LookPath("cat"); err != nil {
		t.Skip("cat not available")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	p, err := Start(ctx, Config{Buffer: 8}, "cat")
	require.NoError(t, err)

	require.NoError(t, p.Send("list"))
	require.NoError(t, p.Send("  version  "))

	first, err := p.NextLine(ctx)
	require.NoError(t, err)
	assert.Equal(t, "list", first)

	second, err := p.NextLine(ctx)
	require.NoError(t, err)
	assert.Equal(t, "version", second)

	assert.NoError(t, p.Stop())
	assert.NoError(t, p.Stop(), "second Stop returns the first result")
	assert.Error(t, p.Send("power on"), "stdin is closed after Stop")
}

func TestProcess_ExitEndsStream(t *testing.T) {
	if _, err := exec.LookPath("echo"); err != nil {
		t.Skip("echo not available")
	}

	p, err := Start(context.Background(), Config{}, "echo", "Controller 00:11:22:33:44:55 pi")
	require.NoError(t, err)

	got := drain(t, p.Lines)
	assert.Equal(t, []string{"Controller 00:11:22:33:44:55 pi"}, got)
	_ = p.Stop()
}

func TestStart_MissingBinary(t *testing.T) {
	_, err := Start(context.Background(), Config{}, "definitely-not-a-bluez-tool")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "start definitely-not-a-bluez-tool")
}
