// Package control runs the single task that owns the control
// endpoint: it reads function-lifecycle events, launches and tears
// down the bulk engine across enable/disable, and answers the
// class-specific setup requests, per spec section 4.5.
package control

import (
	"context"
	"encoding/binary"
	"io"
	"log"
	"sync"

	"github.com/pkg/errors"

	"github.com/ptp-gadget/ptpd/engine"
	"github.com/ptp-gadget/ptpd/gadget"
	"github.com/ptp-gadget/ptpd/ptp"
	"github.com/ptp-gadget/ptpd/reset"
)

// The class-specific setup request codes this device answers, per
// spec section 4.5.
const (
	reqCancelRequest        = 0x64
	reqGetExtendedEventData = 0x65
	reqDeviceReset          = 0x66
	reqGetDeviceStatus      = 0x67
)

// BulkRunner abstracts the bulk engine so Engine can be tested without
// a real gadget.Gadget or objectstore.Store behind it.
type BulkRunner interface {
	Run(ctx context.Context) error
}

// NewBulkRunner builds the bulk engine for one enable cycle, given the
// freshly opened data endpoints. Set by the daemon's wiring code
// (cmd/ptpd); no default is provided here, and control does not import
// the bulk package.
type NewBulkRunner func(bulkIn io.Writer, bulkOut io.Reader) BulkRunner

// Engine is the control-endpoint task. It holds no protocol state of
// its own beyond what it needs to supervise the current bulk-engine
// run.
type Engine struct {
	Gadget      gadget.Gadget
	PTP         *engine.Engine
	Coordinator *reset.Coordinator
	NewRunner   NewBulkRunner
	Logger      *log.Logger

	// Level is the logging verbosity threshold, set from the CLI's -v
	// count: 1 logs enable/disable/device-reset lifecycle events, 2 adds
	// bind/unbind/suspend/resume events and failed setup-request replies.
	Level int

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
}

// Run consumes events from Gadget.Events until the channel closes
// (unbind, or the gadget is closed), dispatching each to its handler.
func (e *Engine) Run() {
	for ev := range e.Gadget.Events() {
		switch ev.Type {
		case gadget.EventEnable:
			e.onEnable()
		case gadget.EventDisable:
			e.onDisable()
		case gadget.EventSetup:
			e.onSetup(ev.Setup)
		case gadget.EventBind, gadget.EventUnbind, gadget.EventSuspend, gadget.EventResume:
			e.logf(2, "control: %s event", ev.Type)
		}
	}
	e.onDisable()
}

func (e *Engine) onEnable() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.running {
		return
	}
	bulkIn, bulkOut, _, err := e.Gadget.EnableData()
	if err != nil {
		e.logf(1, "control: enable failed to open data endpoints: %v", err)
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	e.cancel = cancel
	e.running = true
	runner := e.NewRunner(bulkIn, bulkOut)
	e.logf(1, "control: function enabled, bulk engine started")
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		if err := runner.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			e.logf(1, "control: bulk engine exited: %v", err)
		}
	}()
}

func (e *Engine) onDisable() {
	e.mu.Lock()
	running := e.running
	cancel := e.cancel
	e.running = false
	e.mu.Unlock()

	if !running {
		return
	}
	cancel()
	e.wg.Wait()
	e.logf(1, "control: function disabled, bulk engine stopped")
	if err := e.Gadget.DisableData(); err != nil {
		e.logf(1, "control: disable failed to close data endpoints: %v", err)
	}
}

func (e *Engine) onSetup(sp gadget.SetupPacket) {
	switch sp.Request {
	case reqCancelRequest:
		e.ackZeroLength()
	case reqGetExtendedEventData:
		e.stall(sp)
	case reqDeviceReset:
		if sp.RequestType != 0 || sp.Value != 0 || sp.Index != 0 {
			e.stall(sp)
			return
		}
		e.resetInterface()
		e.ackZeroLength()
	case reqGetDeviceStatus:
		if sp.RequestType != 0 || sp.Value != 0 || sp.Index != 0 {
			e.stall(sp)
			return
		}
		e.writeDeviceStatus()
	default:
		e.stall(sp)
	}
}

// resetInterface runs spec section 4.6's four steps: the coordinator
// itself performs (a) semaphore re-init and (b) interrupting in-flight
// bulk I/O; the control engine clears endpoint halts (c) before asking
// the coordinator to post the semaphore (d).
func (e *Engine) resetInterface() {
	e.PTP.ResetSession()
	if err := e.Gadget.ClearHalts(); err != nil {
		e.logf(1, "control: clear halts: %v", err)
	}
	e.Coordinator.ReInit()
	e.logf(1, "control: device reset complete")
}

// ackZeroLength acknowledges a setup request with a zero-length read
// on the control endpoint, as the original gadget does for Cancel
// Request and Device Reset.
func (e *Engine) ackZeroLength() {
	buf := make([]byte, 0)
	if _, err := e.Gadget.Control().Read(buf); err != nil {
		e.logf(2, "control: zero-length ack: %v", err)
	}
}

// writeDeviceStatus replies to Get Device Status with the two-field
// {length=4, code=OK} record spec section 4.5 names.
func (e *Engine) writeDeviceStatus() {
	resp := make([]byte, 4)
	binary.LittleEndian.PutUint16(resp[0:2], 4)
	binary.LittleEndian.PutUint16(resp[2:4], uint16(ptp.RespOK))
	if _, err := e.Gadget.Control().Write(resp); err != nil {
		e.logf(2, "control: write device status: %v", err)
	}
}

// stall answers an unsupported or malformed setup request with a
// zero-length transfer in the opposite direction of the request, per
// spec section 4.5's default case.
func (e *Engine) stall(sp gadget.SetupPacket) {
	buf := make([]byte, 0)
	var err error
	if sp.IsDeviceToHost() {
		_, err = e.Gadget.Control().Write(buf)
	} else {
		_, err = e.Gadget.Control().Read(buf)
	}
	if err != nil {
		e.logf(2, "control: stall request 0x%02x: %v", sp.Request, err)
	}
}

func (e *Engine) logf(level int, format string, args ...interface{}) {
	if e.Logger == nil || e.Level < level {
		return
	}
	e.Logger.Printf(format, args...)
}
