// Package gadget formalizes the USB function layer spec.md section 1
// treats as an external collaborator: four bidirectional byte streams
// (control plus three bulk/interrupt endpoints) and a control event
// stream. Gadget is the seam that keeps the engine and bulk/control
// packages testable against an in-memory fake; FileGadget is the one
// concrete body, opening the fixed endpoint files a Linux FunctionFS
// mount exposes, the way the original opens ep0..ep3.
package gadget

import (
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// Gadget is the USB function layer's contract with the rest of the
// daemon. Control is ep0: event records flow out of Events and setup
// replies are written directly to Control. EnableData opens the three
// data endpoints on receipt of an EventEnable event and DisableData
// closes them on EventDisable; calling either out of turn is a
// programmer error in the caller, not a Gadget concern.
type Gadget interface {
	Control() io.ReadWriteCloser
	Events() <-chan Event
	EnableData() (bulkIn, bulkOut, interrupt io.ReadWriteCloser, err error)
	DisableData() error
	ClearHalts() error
	Close() error
}

// Linux FunctionFS ioctls (linux/usb/functionfs.h), encoded by hand
// since golang.org/x/sys/unix does not export them: _IO('g', nr) with
// no direction/size bits set collapses to (type<<8)|nr.
const (
	functionfsFifoStatus = 0x6701 // FUNCTIONFS_FIFO_STATUS
	functionfsFifoFlush  = 0x6702 // FUNCTIONFS_FIFO_FLUSH
	functionfsClearHalt  = 0x6703 // FUNCTIONFS_CLEAR_HALT
)

// endpoint file names under DeviceRoot, matching the original's
// ep0..ep3 layout under its FunctionFS mount point.
const (
	epControl   = "ep0"
	epBulkIn    = "ep1"
	epBulkOut   = "ep2"
	epInterrupt = "ep3"
)

// FileGadget opens the four endpoint files beneath a FunctionFS mount
// point. Events is populated by a background reader of the control
// endpoint; construct with Open and consume Events until it is closed.
type FileGadget struct {
	root string

	control io.ReadWriteCloser
	events  chan Event

	bulkIn    *os.File
	bulkOut   *os.File
	interrupt *os.File
}

// Open opens the control endpoint under root and starts the event
// reader goroutine. The data endpoints are left closed until
// EnableData; Linux will not let them be opened before the host
// configures the function.
func Open(root string) (*FileGadget, error) {
	f, err := openWithRetry(filepath.Join(root, epControl))
	if err != nil {
		return nil, errors.Wrap(err, "gadget: open control endpoint")
	}
	g := &FileGadget{
		root:    root,
		control: f,
		events:  make(chan Event, 16),
	}
	go g.readEvents()
	return g, nil
}

func (g *FileGadget) Control() io.ReadWriteCloser { return g.control }

func (g *FileGadget) Events() <-chan Event { return g.events }

// EnableData opens the three data endpoint files, retrying with
// exponential backoff: immediately after an EventEnable the host may
// not yet have finished configuring the interface, and the open can
// transiently fail.
func (g *FileGadget) EnableData() (io.ReadWriteCloser, io.ReadWriteCloser, io.ReadWriteCloser, error) {
	bi, err := openWithRetry(filepath.Join(g.root, epBulkIn))
	if err != nil {
		return nil, nil, nil, errors.Wrap(err, "gadget: open bulk-in endpoint")
	}
	bo, err := openWithRetry(filepath.Join(g.root, epBulkOut))
	if err != nil {
		bi.Close()
		return nil, nil, nil, errors.Wrap(err, "gadget: open bulk-out endpoint")
	}
	ir, err := openWithRetry(filepath.Join(g.root, epInterrupt))
	if err != nil {
		bi.Close()
		bo.Close()
		return nil, nil, nil, errors.Wrap(err, "gadget: open interrupt endpoint")
	}
	g.bulkIn, g.bulkOut, g.interrupt = bi, bo, ir
	return bi, bo, ir, nil
}

// DisableData closes the three data endpoints. Safe to call even if
// EnableData was never called or already undone.
func (g *FileGadget) DisableData() error {
	var err error
	for _, f := range []*os.File{g.bulkIn, g.bulkOut, g.interrupt} {
		if f == nil {
			continue
		}
		if cerr := f.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	g.bulkIn, g.bulkOut, g.interrupt = nil, nil, nil
	return err
}

// ClearHalts issues FUNCTIONFS_CLEAR_HALT against the two bulk
// endpoints, as the original does at the start of its reset-interface
// sequence (ptp.c's reset handler, before re-posting the semaphore).
func (g *FileGadget) ClearHalts() error {
	var err error
	if g.bulkIn != nil {
		if e := ioctlNoArg(g.bulkIn.Fd(), functionfsClearHalt); e != nil {
			err = errors.Wrap(e, "gadget: clear halt on bulk-in")
		}
	}
	if g.bulkOut != nil {
		if e := ioctlNoArg(g.bulkOut.Fd(), functionfsClearHalt); e != nil && err == nil {
			err = errors.Wrap(e, "gadget: clear halt on bulk-out")
		}
	}
	return err
}

// Close closes the control endpoint and stops the event reader.
func (g *FileGadget) Close() error {
	return g.control.Close()
}

func (g *FileGadget) readEvents() {
	defer close(g.events)
	buf := make([]byte, 9) // 8-byte setup packet plus the type byte
	for {
		n, err := g.control.Read(buf)
		if err != nil {
			return
		}
		ev, ok := decodeEvent(buf[:n])
		if !ok {
			continue
		}
		g.events <- ev
	}
}

// decodeEvent interprets one FunctionFS ep0 event record. The original
// reads a struct usb_functionfs_event { union {setup} u; __u8 type };
// we mirror only the fields this daemon acts on.
func decodeEvent(b []byte) (Event, bool) {
	if len(b) == 0 {
		return Event{}, false
	}
	typeByte := b[len(b)-1]
	switch typeByte {
	case 0: // FUNCTIONFS_BIND
		return Event{Type: EventBind}, true
	case 1: // FUNCTIONFS_UNBIND
		return Event{Type: EventUnbind}, true
	case 2: // FUNCTIONFS_ENABLE
		return Event{Type: EventEnable}, true
	case 3: // FUNCTIONFS_DISABLE
		return Event{Type: EventDisable}, true
	case 4: // FUNCTIONFS_SETUP
		if len(b) < 9 {
			return Event{}, false
		}
		sp := SetupPacket{
			RequestType: b[0],
			Request:     b[1],
			Value:       uint16(b[2]) | uint16(b[3])<<8,
			Index:       uint16(b[4]) | uint16(b[5])<<8,
			Length:      uint16(b[6]) | uint16(b[7])<<8,
		}
		return Event{Type: EventSetup, Setup: sp}, true
	case 5: // FUNCTIONFS_SUSPEND
		return Event{Type: EventSuspend}, true
	case 6: // FUNCTIONFS_RESUME
		return Event{Type: EventResume}, true
	default:
		return Event{}, false
	}
}

func openWithRetry(path string) (*os.File, error) {
	var f *os.File
	op := func() error {
		var err error
		f, err = os.OpenFile(path, os.O_RDWR, 0)
		return err
	}
	b := &backoff.ExponentialBackOff{
		InitialInterval:     25 * time.Millisecond,
		RandomizationFactor: 0.2,
		Multiplier:          2,
		MaxInterval:         500 * time.Millisecond,
		MaxElapsedTime:      3 * time.Second,
		Clock:               backoff.SystemClock,
	}
	b.Reset()
	if err := backoff.Retry(op, b); err != nil {
		return nil, err
	}
	return f, nil
}

func ioctlNoArg(fd uintptr, req uint) error {
	return unix.IoctlSetInt(int(fd), uint(req), 0)
}
