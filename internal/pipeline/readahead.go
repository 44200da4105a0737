package pipeline

import (
	"context"
	"io"

	"github.com/sourcegraph/conc"

	"firestige.xyz/sipzamine/internal/capture"
	"firestige.xyz/sipzamine/internal/core"
)

// frameSource yields capture frames to the consuming goroutine.
type frameSource interface {
	next() (core.Frame, error)
	stop()
}

// inlineSource reads on the consumer's goroutine.
type inlineSource struct {
	ctx    context.Context
	reader *capture.Reader
}

func (s *inlineSource) next() (core.Frame, error) {
	if err := s.ctx.Err(); err != nil {
		return core.Frame{}, err
	}
	return s.reader.Next()
}

func (s *inlineSource) stop() {}

type frameResult struct {
	frame core.Frame
	err   error
}

// readAhead reads frames on its own goroutine into a bounded channel.
// Only reading is concurrent; every later stage stays on the consumer.
type readAhead struct {
	ctx    context.Context
	frames chan frameResult
	done   chan struct{}
	wg     conc.WaitGroup
}

func newReadAhead(ctx context.Context, reader *capture.Reader, depth int) *readAhead {
	ra := &readAhead{
		ctx:    ctx,
		frames: make(chan frameResult, depth),
		done:   make(chan struct{}),
	}
	ra.wg.Go(func() {
		defer close(ra.frames)
		for {
			frame, err := reader.Next()
			select {
			case ra.frames <- frameResult{frame: frame, err: err}:
			case <-ra.done:
				return
			}
			if err != nil {
				return
			}
		}
	})
	return ra
}

func (ra *readAhead) next() (core.Frame, error) {
	select {
	case res, ok := <-ra.frames:
		if !ok {
			return core.Frame{}, io.EOF
		}
		return res.frame, res.err
	case <-ra.ctx.Done():
		return core.Frame{}, ra.ctx.Err()
	}
}

// stop ends the reader goroutine and waits for it.
func (ra *readAhead) stop() {
	close(ra.done)
	ra.wg.Wait()
}
