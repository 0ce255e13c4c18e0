package btmon

import (
	"context"
	"errors"
	"io"
)

// LineSource hands out btmon output one line at a time. NextLine blocks until
// a line is available and returns io.EOF once the producer is done.
type LineSource interface {
	NextLine(ctx context.Context) (string, error)
}

// Run pulls lines from src until it is exhausted and passes every closed
// event to handle, in arrival order. The event still open at end of stream is
// flushed before Run returns nil.
func Run(ctx context.Context, src LineSource, handle func(*Event)) error {
	var asm Assembler
	for {
		line, err := src.NextLine(ctx)
		if err != nil {
			if errors.Is(err, io.EOF) {
				if ev, ok := asm.Flush(); ok {
					handle(ev)
				}
				return nil
			}
			return err
		}
		if ev, ok := asm.Feed(line); ok {
			handle(ev)
		}
	}
}
