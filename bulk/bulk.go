// Package bulk runs the single worker loop that reads command
// containers off the bulk-out endpoint, dispatches them through the
// engine, and writes the response (and any data phase) back on
// bulk-in, per spec section 4.4.
package bulk

import (
	"context"
	"io"
	"log"
	"syscall"

	"github.com/pkg/errors"

	"github.com/ptp-gadget/ptpd/engine"
	"github.com/ptp-gadget/ptpd/reset"
	"github.com/ptp-gadget/ptpd/wire"
)

// recvBufSize and sendBufSize name the 4096-byte receive/send buffer
// sizes. Run does not reference them: wire.ReadContainer reads in its
// own 4096-byte chunks, and object data phases stream in chunks via
// wire.WriteDataStream.
const (
	recvBufSize = 4096
	sendBufSize = 4096
)

// Engine owns the bulk-in/bulk-out endpoints for one enable/disable
// cycle. It holds no state across Run calls; a fresh Engine is
// constructed by the control engine each time the function is enabled.
type Engine struct {
	In  io.Writer
	Out io.Reader

	Dispatch func(cmd wire.Container, dataOut io.Writer, dataIn io.Reader) (code uint16, params []uint32, err error)

	Coordinator *reset.Coordinator
	Logger      *log.Logger

	// Level is the logging verbosity threshold, set from the CLI's -v
	// count: 1 logs transaction lifecycle (abort/resume), 2 logs one
	// line per container read off bulk-out.
	Level int
}

// NewEngine builds a bulk Engine wired to e's Dispatch method, bulkIn/
// bulkOut endpoint streams, and the shared reset coordinator.
func NewEngine(e *engine.Engine, bulkIn io.Writer, bulkOut io.Reader, coord *reset.Coordinator, logger *log.Logger) *Engine {
	return &Engine{
		In:  bulkIn,
		Out: bulkOut,
		Dispatch: func(cmd wire.Container, dataOut io.Writer, dataIn io.Reader) (uint16, []uint32, error) {
			code, params, err := e.Dispatch(cmd, dataOut, dataIn)
			return uint16(code), params, err
		},
		Coordinator: coord,
		Logger:      logger,
		Level:       e.Level,
	}
}

// isInterrupted reports whether err looks like the EINTR-class
// condition the reset coordinator raises mid-read/write: either the
// syscall errno directly, or the wrapped context-cancellation error
// surfaced by an endpoint implementation that selects on
// Coordinator.Interrupted.
func isInterrupted(err error) bool {
	return errors.Is(err, syscall.EINTR) || errors.Is(err, context.Canceled)
}

func isBrokenPipe(err error) bool {
	return errors.Is(err, syscall.EPIPE)
}

// Run executes the receive/dispatch/respond loop until ctx is
// cancelled (the control engine's disable signal) or an EPIPE aborts
// the thread. A non-nil return other than context.Canceled means EPIPE,
// a protocol violation, or another endpoint I/O error (such as io.EOF
// on bulk-out); the caller (the control engine's enable/
// disable supervisor) is responsible for closing and reopening the
// endpoints before the next enable.
func (e *Engine) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		cmd, err := e.readCommand(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if isBrokenPipe(err) {
				return errors.Wrap(err, "bulk: read aborted with EPIPE")
			}
			if isInterrupted(err) {
				e.logf(1, "bulk: interrupted by device reset, waiting")
				e.Coordinator.Wait()
				continue
			}
			return errors.Wrap(err, "bulk: read command container")
		}

		e.logf(2, "bulk: command 0x%04x id=%d", cmd.Code, cmd.ID)

		code, params, derr := e.Dispatch(cmd, e.In, e.Out)
		if derr != nil {
			e.logf(1, "protocol violation on command 0x%04x: %v", cmd.Code, derr)
			return errors.Wrap(derr, "bulk: protocol violation")
		}

		body := wire.PutParams(params...)
		if err := wire.WriteContainer(e.In, wire.TypeResponse, code, cmd.ID, body); err != nil {
			if isBrokenPipe(err) {
				return errors.Wrap(err, "bulk: response write aborted with EPIPE")
			}
			if isInterrupted(err) {
				e.Coordinator.Wait()
				continue
			}
			return errors.Wrap(err, "bulk: write response container")
		}
	}
}

// readCommand reads one command container off bulk-out, racing the
// read against ctx and the reset coordinator's interrupt signal so a
// blocked read returns promptly on disable or device reset.
func (e *Engine) readCommand(ctx context.Context) (wire.Container, error) {
	type result struct {
		c   wire.Container
		err error
	}
	done := make(chan result, 1)
	go func() {
		c, err := wire.ReadContainer(e.Out)
		done <- result{c, err}
	}()

	select {
	case <-ctx.Done():
		return wire.Container{}, ctx.Err()
	case <-e.Coordinator.Interrupted():
		return wire.Container{}, context.Canceled
	case r := <-done:
		return r.c, r.err
	}
}

func (e *Engine) logf(level int, format string, args ...interface{}) {
	if e.Logger == nil || e.Level < level {
		return
	}
	e.Logger.Printf(format, args...)
}
