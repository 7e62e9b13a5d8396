// Package engine wires together the object store (objectstore), the
// wire-level operation vocabulary (ptp), and a thumbnail collaborator
// into the single owned value design note 9 in SPEC_FULL.md calls for:
// the session id, the pending-upload slot, and the object list are no
// longer process-global state but fields the bulk engine borrows
// mutably through one Engine value.
package engine

import (
	"log"

	"github.com/ptp-gadget/ptpd/objectstore"
	"github.com/ptp-gadget/ptpd/ptp"
	"github.com/ptp-gadget/ptpd/wire"
)

// Thumbnailer produces a thumbnail for a backing-directory file. present
// is false when thumbnails are disabled or none exists for path; err is
// reserved for failures other than "no thumbnail", which is not an error.
type Thumbnailer interface {
	Thumbnail(path string) (data []byte, present bool, err error)
}

// noThumbnailer is used when no Thumbnailer is configured: GetThumb always
// reports RespNoThumbnailPresent, matching spec's "thumbnails disabled at
// build time" behavior.
type noThumbnailer struct{}

func (noThumbnailer) Thumbnail(string) ([]byte, bool, error) { return nil, false, nil }

// Engine is the process-wide PTP responder state: one session, one
// object store, and the thumbnail collaborator.
type Engine struct {
	Store       *objectstore.Store
	Device      ptp.DeviceInfo
	StorageDesc string
	Thumbnailer Thumbnailer
	Logger      *log.Logger

	// ChunkSize is the data-phase chunk size GetObject/GetThumb stream
	// in (cfg.DataChunkSize in ptpd.yml). Defaults to wire.DefaultChunkSize.
	ChunkSize int

	// Level is the logging verbosity threshold, set from the CLI's -v
	// count: 0 logs only fatal conditions, 1 adds session/transaction
	// lifecycle lines, 2 adds one line per container.
	Level int

	session session
}

// New creates an Engine over an already-enumerated store.
func New(store *objectstore.Store, device ptp.DeviceInfo, storageDesc string) *Engine {
	return &Engine{
		Store:       store,
		Device:      device,
		StorageDesc: storageDesc,
		Thumbnailer: noThumbnailer{},
		Logger:      log.Default(),
		ChunkSize:   wire.DefaultChunkSize,
	}
}

// logf logs through Engine.Logger if one is set and Level meets level.
// level 0 lines always print; level 1 gates session/transaction
// lifecycle lines and operation failures; level 2 gates one line per
// container.
func (e *Engine) logf(level int, format string, args ...interface{}) {
	if e.Logger == nil || e.Level < level {
		return
	}
	e.Logger.Printf(format, args...)
}

// ResetSession clears any open session, mirroring spec's "a host-triggered
// device reset also returns to closed" session transition. The control
// engine calls this directly on a Device Reset request, before clearing
// endpoint halts and re-initializing the reset coordinator.
func (e *Engine) ResetSession() {
	e.session = session{}
}
