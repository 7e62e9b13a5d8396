// Package objectstore implements the synthetic two-level PTP object
// handle space overlaid on a real backing directory, plus the crash-safe
// upload staging protocol described in spec section 3 ("Pending upload",
// "Lock file protocol").
package objectstore

import (
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"

	"github.com/ptp-gadget/ptpd/ptp"
)

// Entry is one real object: a file directly inside the backing directory.
type Entry struct {
	Handle   ptp.Handle
	Filename string
	Info     ptp.ObjectInfo
}

// Store owns the handle space and the backing directory. Only the bulk
// engine mutates a Store; spec section 5 requires no lock against the
// control engine, so Store itself is not concurrency-safe and must not be
// shared across goroutines without external serialization.
type Store struct {
	root       string
	modelDir   string
	storageID  uint32
	objects    []*Entry
	nextHandle ptp.Handle
	pending    *pendingUpload
}

// New creates a Store rooted at dir, which must already exist, reporting
// storageID as its single storage unit's identifier (cfg.StorageID in
// ptpd.yml). Call Enumerate to populate the handle space from its
// current contents.
func New(dir, modelDir string, storageID uint32) *Store {
	return &Store{
		root:       dir,
		modelDir:   modelDir,
		storageID:  storageID,
		nextHandle: 3,
	}
}

// Root returns the backing directory path.
func (s *Store) Root() string { return s.root }

// ModelDir returns the configured MODEL_DIR component name.
func (s *Store) ModelDir() string { return s.modelDir }

// StorageID returns the single storage unit's configured identifier.
func (s *Store) StorageID() uint32 { return s.storageID }

// isCandidate reports whether a directory entry name is eligible to become
// a real object: a regular file whose name contains a dot not at position
// zero (so dotfiles like ".hidden" are excluded, but "a.b" qualifies).
func isCandidate(name string, isDir bool) bool {
	if isDir {
		return false
	}
	idx := strings.IndexByte(name, '.')
	return idx > 0
}

// Enumerate walks the backing directory's immediate entries (startup
// only), cleans up orphaned upload artifacts, and assigns handles in
// directory-iteration order starting at 3.
func (s *Store) Enumerate() error {
	if err := s.cleanupOrphans(); err != nil {
		return errors.Wrap(err, "objectstore: orphan cleanup")
	}
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return errors.Wrap(err, "objectstore: read backing directory")
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })
	for _, de := range entries {
		if !isCandidate(de.Name(), de.IsDir()) {
			continue
		}
		info, err := s.buildInfo(de.Name())
		if err != nil {
			continue // unreadable entry: skip rather than fail startup
		}
		s.objects = append(s.objects, &Entry{
			Handle:   s.nextHandle,
			Filename: de.Name(),
			Info:     info,
		})
		s.nextHandle++
	}
	return nil
}

// buildInfo constructs the object-info record for a real file already
// known to exist in the backing directory.
func (s *Store) buildInfo(name string) (ptp.ObjectInfo, error) {
	path := filepath.Join(s.root, name)
	fi, err := os.Stat(path)
	if err != nil {
		return ptp.ObjectInfo{}, err
	}
	protection := uint16(0)
	if !writableByUs(path) {
		protection = 1
	}
	return ptp.ObjectInfo{
		StorageID:        s.storageID,
		Format:           ptp.FormatFromFilename(name),
		ProtectionStatus: protection,
		CompressedSize:   uint32(fi.Size()),
		ParentObject:     uint32(ptp.HandleModelDir),
		Filename:         name,
		CaptureDate:      fi.ModTime(),
	}, nil
}

// writableByUs reports whether the calling process can write to path,
// using access(2) with W_OK, which checks POSIX write permission against
// the process's real uid/gid.
func writableByUs(path string) bool {
	return unix.Access(path, unix.W_OK) == nil
}

// Lookup returns the entry for a real handle, or ok=false if it does not
// exist (including handles 1 and 2, which are synthetic and have no
// Entry).
func (s *Store) Lookup(h ptp.Handle) (*Entry, bool) {
	for _, e := range s.objects {
		if e.Handle == h {
			return e, true
		}
	}
	return nil, false
}

// HandleValid reports whether h is any known handle: 1, 2, or a real
// object's handle.
func (s *Store) HandleValid(h ptp.Handle) bool {
	if h == ptp.HandleDCIM || h == ptp.HandleModelDir {
		return true
	}
	_, ok := s.Lookup(h)
	return ok
}

// RealHandles returns the handles of every real object, in ascending
// (assignment) order.
func (s *Store) RealHandles() []uint32 {
	out := make([]uint32, len(s.objects))
	for i, e := range s.objects {
		out[i] = uint32(e.Handle)
	}
	return out
}

// Count returns the number of real objects currently tracked.
func (s *Store) Count() int { return len(s.objects) }

// FreeSpace refreshes and returns (free bytes, capacity bytes) from the
// backing filesystem's statistics.
func (s *Store) FreeSpace() (free, capacity uint64, err error) {
	var st unix.Statfs_t
	if err := unix.Statfs(s.root, &st); err != nil {
		return 0, 0, errors.Wrap(err, "objectstore: statfs")
	}
	free = uint64(st.Bavail) * uint64(st.Bsize)
	capacity = uint64(st.Blocks) * uint64(st.Bsize)
	return free, capacity, nil
}

// DirSize stats the backing directory itself, used by GetObjectInfo on
// handle 2 in place of the hardcoded 4096 used for handle 1.
func (s *Store) DirSize() (uint32, error) {
	fi, err := os.Stat(s.root)
	if err != nil {
		return 0, err
	}
	return uint32(fi.Size()), nil
}

// deleteResult reports the outcome of a Delete call.
type deleteResult int

const (
	DeleteOK deleteResult = iota
	DeleteWriteProtected
	DeleteInvalidHandle
	DeletePartial
)

// Delete removes one real object, or every real object when h is
// ptp.Handle(ptp.ParamAny). Handles 1 and 2 are always write-protected.
func (s *Store) Delete(h ptp.Handle) deleteResult {
	if h == ptp.HandleDCIM || h == ptp.HandleModelDir {
		return DeleteWriteProtected
	}
	if uint32(h) == ptp.ParamAny {
		partial := false
		kept := s.objects[:0]
		for _, e := range s.objects {
			if !writableByUs(filepath.Join(s.root, e.Filename)) {
				partial = true
				kept = append(kept, e)
				continue
			}
			if err := s.unlink(e.Filename); err != nil {
				partial = true
				kept = append(kept, e)
				continue
			}
		}
		s.objects = kept
		if partial {
			return DeletePartial
		}
		return DeleteOK
	}
	for i, e := range s.objects {
		if e.Handle != h {
			continue
		}
		if !writableByUs(filepath.Join(s.root, e.Filename)) {
			return DeleteWriteProtected
		}
		if err := s.unlink(e.Filename); err != nil {
			return DeleteInvalidHandle
		}
		s.objects = append(s.objects[:i], s.objects[i+1:]...)
		return DeleteOK
	}
	return DeleteInvalidHandle
}

func (s *Store) unlink(name string) error {
	return os.Remove(filepath.Join(s.root, name))
}
