// Package bluetoothctl drives an interactive bluetoothctl session to pick a
// controller and start LE scanning, so that btmon has advertisements to print.
package bluetoothctl

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
)

// ErrControllerNotFound is returned when bluetoothctl lists fewer controllers
// than the requested index.
var ErrControllerNotFound = errors.New("controller not found")

// Conn is a line oriented session with a bluetoothctl process.
type Conn interface {
	Send(line string) error
	NextLine(ctx context.Context) (string, error)
}

// Controller is one entry of bluetoothctl's "list" output.
type Controller struct {
	Index   int
	Address string
	Name    string
}

var (
	ansiSequence = regexp.MustCompile(`\x1b\[[0-9;?]*[A-Za-z]|\x01|\x02`)
	prompt       = regexp.MustCompile(`^\[[^\]]*\]#\s*`)
)

// clean removes colour codes and any leading interactive prompts.
func clean(line string) string {
	line = ansiSequence.ReplaceAllString(line, "")
	for {
		stripped := prompt.ReplaceAllString(line, "")
		if stripped == line {
			break
		}
		line = stripped
	}
	return strings.TrimSpace(line)
}

// parseController reads "Controller <mac> <name...>" lines.
func parseController(line string) (address, name string, ok bool) {
	rest, found := strings.CutPrefix(line, "Controller ")
	if !found {
		return "", "", false
	}
	address, name, _ = strings.Cut(strings.TrimSpace(rest), " ")
	if address == "" {
		return "", "", false
	}
	return address, strings.TrimSpace(name), true
}

// SelectController lists the controllers known to bluetoothctl and selects
// the one at position index, counting from zero in listing order. The
// "version" command is sent after "list" so that its reply marks the end of
// the listing.
func SelectController(ctx context.Context, conn Conn, index int, logger *slog.Logger) (Controller, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if index < 0 {
		return Controller{}, fmt.Errorf("controller index %d: %w", index, ErrControllerNotFound)
	}

	for _, cmd := range []string{"list", "version"} {
		if err := conn.Send(cmd); err != nil {
			return Controller{}, fmt.Errorf("bluetoothctl %s: %w", cmd, err)
		}
	}

	var (
		selected *Controller
		seen     int
	)
	for {
		raw, err := conn.NextLine(ctx)
		if err != nil {
			return Controller{}, fmt.Errorf("read controller list: %w", err)
		}
		line := clean(raw)
		if strings.HasPrefix(line, "Version") {
			break
		}
		address, name, ok := parseController(line)
		if !ok {
			continue
		}
		logger.Debug("controller listed", "index", seen, "address", address, "name", name)
		if seen == index && selected == nil {
			selected = &Controller{Index: seen, Address: address, Name: name}
		}
		seen++
	}

	if selected == nil {
		return Controller{}, fmt.Errorf("controller index %d (%d listed): %w", index, seen, ErrControllerNotFound)
	}

	logger.Info("selecting controller", "index", selected.Index, "address", selected.Address, "name", selected.Name)
	if err := conn.Send("select " + selected.Address); err != nil {
		return Controller{}, fmt.Errorf("bluetoothctl select: %w", err)
	}
	return *selected, nil
}

// Enable powers the selected controller on and starts scanning.
func Enable(conn Conn) error {
	for _, cmd := range []string{"power on", "scan on"} {
		if err := conn.Send(cmd); err != nil {
			return fmt.Errorf("bluetoothctl %s: %w", cmd, err)
		}
	}
	return nil
}
