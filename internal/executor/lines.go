// Package executor runs the BlueZ command line tools as child processes and
// exposes their output as a queue of sanitized text lines.
package executor

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
)

// DefaultBuffer is the line queue capacity used when none is configured.
const DefaultBuffer = 1024

// Lines is a bounded queue of lines filled by a single reader goroutine.
type Lines struct {
	ch   chan string
	stop chan struct{}
	done chan struct{}

	stopOnce sync.Once

	mu  sync.Mutex
	err error
}

// NewReader starts a goroutine that reads r line by line. Every line has its
// non-ASCII bytes removed and surrounding whitespace trimmed before it is
// queued. The queue is closed once r returns io.EOF or fails.
func NewReader(r io.Reader, buffer int) *Lines {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	l := &Lines{
		ch:   make(chan string, buffer),
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
	go l.read(r)
	return l
}

func (l *Lines) read(r io.Reader) {
	defer close(l.done)
	defer close(l.ch)

	br := bufio.NewReader(r)
	for {
		raw, err := br.ReadBytes('\n')
		if len(raw) > 0 {
			select {
			case l.ch <- sanitize(raw):
			case <-l.stop:
				return
			}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, os.ErrClosed) {
				l.setErr(fmt.Errorf("read line: %w", err))
			}
			return
		}
	}
}

// NextLine blocks until a line is queued. It returns io.EOF once the
// producer is exhausted and every queued line was consumed.
func (l *Lines) NextLine(ctx context.Context) (string, error) {
	select {
	case line, ok := <-l.ch:
		if !ok {
			return "", io.EOF
		}
		return line, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Err reports the read error that ended the stream, if it was not a clean
// end of file.
func (l *Lines) Err() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.err
}

// Close stops the reader goroutine and waits for it to exit. The underlying
// reader must be closed or drained by the caller for a blocked read to
// return.
func (l *Lines) Close() {
	l.halt()
	<-l.done
}

func (l *Lines) halt() {
	l.stopOnce.Do(func() { close(l.stop) })
}

func (l *Lines) setErr(err error) {
	l.mu.Lock()
	l.err = err
	l.mu.Unlock()
}

func sanitize(raw []byte) string {
	var b strings.Builder
	b.Grow(len(raw))
	for _, c := range raw {
		if c < 0x80 {
			b.WriteByte(c)
		}
	}
	return strings.TrimSpace(b.String())
}
