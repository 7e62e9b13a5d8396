package objectstore

import (
	"bufio"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/ptp-gadget/ptpd/ptp"
)

// pendingUpload holds the preliminary object-info record and on-disk
// artifacts for an upload in progress, per spec's "Pending upload" and
// "Lock file protocol".
type pendingUpload struct {
	filename     string
	info         ptp.ObjectInfo
	declaredSize uint64
	targetPath   string
	lockPath     string
	file         *os.File
	written      uint64
}

// ErrCollision is returned by BeginUpload when the target or lock file
// already exists on disk (a name collision unrelated to any pending
// slot this Store knows about).
var ErrCollision = errors.New("objectstore: target or lock file already exists")

// ErrNoPendingUpload is returned by WriteUpload/CommitUpload/AbortUpload
// when no SendObjectInfo has established a pending slot.
var ErrNoPendingUpload = errors.New("objectstore: no pending upload")

// HasPendingUpload reports whether a SendObjectInfo is awaiting its
// SendObject.
func (s *Store) HasPendingUpload() bool { return s.pending != nil }

// PendingDeclaredSize returns the size declared by the active pending
// upload's SendObjectInfo, for SendObject's length validation.
func (s *Store) PendingDeclaredSize() uint64 {
	if s.pending == nil {
		return 0
	}
	return s.pending.declaredSize
}

// NextHandle previews the handle BeginUpload will (re)use without
// consuming it; the value only becomes real on CommitUpload.
func (s *Store) NextHandle() ptp.Handle { return s.nextHandle }

// BeginUpload replaces any existing pending slot (discarding its on-disk
// artifacts) and stages a new one: it creates the lock file (exclusive)
// containing the declared size as ASCII decimal, then creates and
// truncates the target file (exclusive). declaredSize is validated
// against current free space by the caller before this is invoked.
func (s *Store) BeginUpload(info ptp.ObjectInfo, filename string, declaredSize uint64) (ptp.Handle, error) {
	if s.pending != nil {
		s.AbortUpload()
	}

	target := filepath.Join(s.root, filename)
	lock := target + ".lock"

	lf, err := os.OpenFile(lock, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if err != nil {
		if os.IsExist(err) {
			return 0, ErrCollision
		}
		return 0, errors.Wrap(err, "objectstore: create lock file")
	}
	if _, err := lf.WriteString(strconv.FormatUint(declaredSize, 10)); err != nil {
		lf.Close()
		os.Remove(lock)
		return 0, errors.Wrap(err, "objectstore: write lock file")
	}
	lf.Close()

	tf, err := os.OpenFile(target, os.O_CREATE|os.O_EXCL|os.O_RDWR, 0644)
	if err != nil {
		os.Remove(lock)
		if os.IsExist(err) {
			return 0, ErrCollision
		}
		return 0, errors.Wrap(err, "objectstore: create target file")
	}
	if err := tf.Truncate(int64(declaredSize)); err != nil {
		tf.Close()
		os.Remove(target)
		os.Remove(lock)
		return 0, errors.Wrap(err, "objectstore: truncate target file")
	}

	s.pending = &pendingUpload{
		filename:     filename,
		info:         info,
		declaredSize: declaredSize,
		targetPath:   target,
		lockPath:     lock,
		file:         tf,
	}
	return s.nextHandle, nil
}

// WriteUpload streams r's contents into the pending upload's target file.
func (s *Store) WriteUpload(r io.Reader) error {
	if s.pending == nil {
		return ErrNoPendingUpload
	}
	if _, err := s.pending.file.Seek(0, io.SeekStart); err != nil {
		return errors.Wrap(err, "objectstore: seek target file")
	}
	n, err := io.Copy(s.pending.file, r)
	s.pending.written += uint64(n)
	if err != nil {
		return errors.Wrap(err, "objectstore: write upload body")
	}
	return nil
}

// CommitUpload finalizes the pending upload: it closes the target file,
// removes the lock file, appends the entry to the handle space under the
// previewed handle, and clears the pending slot. Free space is not
// cached, so there is nothing to refresh here; FreeSpace reads it live. The returned handle is now real and will never be reused.
func (s *Store) CommitUpload() (ptp.Handle, error) {
	if s.pending == nil {
		return 0, ErrNoPendingUpload
	}
	p := s.pending
	p.file.Close()
	if err := os.Remove(p.lockPath); err != nil && !os.IsNotExist(err) {
		return 0, errors.Wrap(err, "objectstore: remove lock file")
	}

	info := p.info
	info.StorageID = s.storageID
	info.ParentObject = uint32(ptp.HandleModelDir)
	info.Filename = p.filename
	info.CompressedSize = uint32(p.declaredSize)
	if fi, err := os.Stat(p.targetPath); err == nil {
		info.CaptureDate = fi.ModTime()
	}

	handle := s.nextHandle
	s.objects = append(s.objects, &Entry{Handle: handle, Filename: p.filename, Info: info})
	s.nextHandle++
	s.pending = nil
	return handle, nil
}

// AbortUpload discards the pending upload's on-disk artifacts (target and
// lock file) and clears the slot. It is a no-op if there is no pending
// upload.
func (s *Store) AbortUpload() {
	if s.pending == nil {
		return
	}
	p := s.pending
	if p.file != nil {
		p.file.Close()
	}
	os.Remove(p.targetPath)
	os.Remove(p.lockPath)
	s.pending = nil
}

// cleanupOrphans scans the backing directory for lock files left behind
// by a crash mid-upload. If the target file's length equals the recorded
// declared length, the upload never completed and both files are
// deleted; otherwise only the stale lock file is removed.
func (s *Store) cleanupOrphans() error {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return err
	}
	for _, de := range entries {
		if de.IsDir() || !strings.HasSuffix(de.Name(), ".lock") {
			continue
		}
		lockPath := filepath.Join(s.root, de.Name())
		targetName := strings.TrimSuffix(de.Name(), ".lock")
		targetPath := filepath.Join(s.root, targetName)

		declared, err := readDeclaredSize(lockPath)
		if err != nil {
			os.Remove(lockPath)
			continue
		}
		fi, statErr := os.Stat(targetPath)
		if statErr == nil && uint64(fi.Size()) == declared {
			os.Remove(targetPath)
		}
		os.Remove(lockPath)
	}
	return nil
}

func readDeclaredSize(lockPath string) (uint64, error) {
	f, err := os.Open(lockPath)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	line, err := bufio.NewReader(f).ReadString('\n')
	if err != nil && err != io.EOF {
		return 0, err
	}
	line = strings.TrimSpace(line)
	return strconv.ParseUint(line, 10, 64)
}
