package engine

import (
	"bytes"
	"io"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"

	"github.com/ptp-gadget/ptpd/objectstore"
	"github.com/ptp-gadget/ptpd/ptp"
	"github.com/ptp-gadget/ptpd/wire"
)

func handleGetDeviceInfo(e *Engine, cmd wire.Container, dataOut io.Writer, _ io.Reader) (ptp.ResponseCode, []uint32, error) {
	body := e.Device.Encode()
	if err := wire.WriteContainer(dataOut, wire.TypeData, cmd.Code, cmd.ID, body); err != nil {
		return 0, nil, err
	}
	return ptp.RespOK, nil, nil
}

func handleOpenSession(e *Engine, cmd wire.Container, _ io.Writer, _ io.Reader) (ptp.ResponseCode, []uint32, error) {
	id, _ := cmd.Param(0)
	if id == 0 {
		return ptp.RespInvalidParameter, nil, nil
	}
	if curID, open := e.IsOpen(); open {
		return ptp.RespSessionAlreadyOpen, []uint32{curID}, nil
	}
	e.session = session{open: true, id: id}
	e.logf(1, "session %d opened", id)
	return ptp.RespOK, nil, nil
}

func handleCloseSession(e *Engine, _ wire.Container, _ io.Writer, _ io.Reader) (ptp.ResponseCode, []uint32, error) {
	id, open := e.IsOpen()
	if !open {
		return ptp.RespSessionNotOpen, nil, nil
	}
	e.session = session{}
	e.logf(1, "session %d closed", id)
	return ptp.RespOK, nil, nil
}

func handleGetStorageIDs(e *Engine, cmd wire.Container, dataOut io.Writer, _ io.Reader) (ptp.ResponseCode, []uint32, error) {
	body := wire.PutUint32Array([]uint32{e.Store.StorageID()})
	if err := wire.WriteContainer(dataOut, wire.TypeData, cmd.Code, cmd.ID, body); err != nil {
		return 0, nil, err
	}
	return ptp.RespOK, nil, nil
}

func handleGetStorageInfo(e *Engine, cmd wire.Container, dataOut io.Writer, _ io.Reader) (ptp.ResponseCode, []uint32, error) {
	storageID, _ := cmd.Param(0)
	if storageID != e.Store.StorageID() {
		return ptp.RespInvalidStorageID, nil, nil
	}
	free, capacity, err := e.Store.FreeSpace()
	if err != nil {
		e.logf(1, "storage info: %v", err)
		return ptp.RespAccessDenied, nil, nil
	}
	info := ptp.StorageInfo{
		StorageType:    ptp.StorageTypeRemovableRAM,
		FilesystemType: ptp.FilesystemTypeDCF,
		AccessCap:      ptp.AccessCapabilityReadWrite,
		MaxCapacity:    capacity,
		FreeSpaceBytes: free,
		Description:    e.StorageDesc,
	}
	if err := wire.WriteContainer(dataOut, wire.TypeData, cmd.Code, cmd.ID, info.Encode()); err != nil {
		return 0, nil, err
	}
	return ptp.RespOK, nil, nil
}

// parseListParams decodes the (store, format?, parent?) shape shared by
// GetNumObjects and GetObjectHandles, defaulting absent parameters to
// ptp.ParamAny/0 as spec's parameter tables require.
func parseListParams(cmd wire.Container) (store uint32, format uint32, parent uint32, hasFormat, hasParent bool) {
	params, _ := cmd.Params()
	store = ptp.ParamAny
	if len(params) > 0 {
		store = params[0]
	}
	if len(params) > 1 {
		format = params[1]
		hasFormat = true
	}
	if len(params) > 2 {
		parent = params[2]
		hasParent = true
	}
	return
}

func handleGetNumObjects(e *Engine, cmd wire.Container, _ io.Writer, _ io.Reader) (ptp.ResponseCode, []uint32, error) {
	store, format, parent, hasFormat, hasParent := parseListParams(cmd)
	if store != e.Store.StorageID() && store != ptp.ParamAny {
		return ptp.RespInvalidStorageID, nil, nil
	}
	if hasFormat && format != 0 && format != ptp.ParamAny {
		return ptp.RespSpecByFormatNotSupported, nil, nil
	}

	var count uint32
	switch {
	case !hasParent || parent == 0:
		count = uint32(e.Store.Count()) + 2
	case parent == ptp.ParamAny || parent == uint32(ptp.HandleDCIM):
		count = 1
	case parent == uint32(ptp.HandleModelDir):
		count = uint32(e.Store.Count())
	case !e.Store.HandleValid(ptp.Handle(parent)):
		return ptp.RespInvalidObjectHandle, nil, nil
	default:
		return ptp.RespInvalidParentObject, nil, nil
	}
	return ptp.RespOK, []uint32{count}, nil
}

func handleGetObjectHandles(e *Engine, cmd wire.Container, dataOut io.Writer, _ io.Reader) (ptp.ResponseCode, []uint32, error) {
	store, format, parent, hasFormat, hasParent := parseListParams(cmd)
	if store != e.Store.StorageID() && store != ptp.ParamAny {
		return ptp.RespInvalidStorageID, nil, nil
	}
	if hasFormat && format != 0 && format != ptp.ParamAny {
		return ptp.RespSpecByFormatNotSupported, nil, nil
	}

	var handles []uint32
	if hasParent && parent == uint32(ptp.HandleModelDir) {
		handles = e.Store.RealHandles()
	} else {
		handles = append([]uint32{uint32(ptp.HandleDCIM), uint32(ptp.HandleModelDir)}, e.Store.RealHandles()...)
	}

	body := wire.PutUint32Array(handles)
	if err := wire.WriteContainer(dataOut, wire.TypeData, cmd.Code, cmd.ID, body); err != nil {
		return 0, nil, err
	}
	return ptp.RespOK, nil, nil
}

func handleGetObjectInfo(e *Engine, cmd wire.Container, dataOut io.Writer, _ io.Reader) (ptp.ResponseCode, []uint32, error) {
	handle, _ := cmd.Param(0)

	var info ptp.ObjectInfo
	switch ptp.Handle(handle) {
	case ptp.HandleDCIM:
		info = syntheticDirInfo(e.Store.StorageID(), "DCIM", 4096, 0)
	case ptp.HandleModelDir:
		size, err := e.Store.DirSize()
		if err != nil {
			size = 4096
		}
		info = syntheticDirInfo(e.Store.StorageID(), e.Store.ModelDir(), size, uint32(ptp.HandleDCIM))
	default:
		entry, ok := e.Store.Lookup(ptp.Handle(handle))
		if !ok {
			return ptp.RespInvalidObjectHandle, nil, nil
		}
		info = entry.Info
	}
	if err := wire.WriteContainer(dataOut, wire.TypeData, cmd.Code, cmd.ID, info.Encode()); err != nil {
		return 0, nil, err
	}
	return ptp.RespOK, nil, nil
}

func syntheticDirInfo(storageID uint32, name string, size uint32, parent uint32) ptp.ObjectInfo {
	return ptp.ObjectInfo{
		StorageID:       storageID,
		Format:          ptp.FormatAssociation,
		CompressedSize:  size,
		ParentObject:    parent,
		AssociationType: ptp.AssociationGenericFolder,
		Filename:        name,
	}
}

func handleGetObject(e *Engine, cmd wire.Container, dataOut io.Writer, _ io.Reader) (ptp.ResponseCode, []uint32, error) {
	handle, _ := cmd.Param(0)
	entry, ok := e.Store.Lookup(ptp.Handle(handle))
	if !ok {
		return ptp.RespInvalidObjectHandle, nil, nil
	}
	path := filepath.Join(e.Store.Root(), entry.Filename)
	r, closeFn, size, err := openMapped(path)
	if err != nil {
		e.logf(1, "get object %d: %v", handle, err)
		return ptp.RespIncompleteTransfer, nil, nil
	}
	defer closeFn()
	if err := wire.WriteDataStream(dataOut, cmd.Code, cmd.ID, size, r, e.ChunkSize); err != nil {
		e.logf(1, "get object %d: stream: %v", handle, err)
		return ptp.RespIncompleteTransfer, nil, nil
	}
	return ptp.RespOK, nil, nil
}

func handleGetThumb(e *Engine, cmd wire.Container, dataOut io.Writer, _ io.Reader) (ptp.ResponseCode, []uint32, error) {
	handle, _ := cmd.Param(0)
	entry, ok := e.Store.Lookup(ptp.Handle(handle))
	if !ok {
		return ptp.RespInvalidObjectHandle, nil, nil
	}
	path := filepath.Join(e.Store.Root(), entry.Filename)
	data, present, err := e.Thumbnailer.Thumbnail(path)
	if err != nil {
		e.logf(1, "get thumb %d: %v", handle, err)
		return ptp.RespIncompleteTransfer, nil, nil
	}
	if !present {
		return ptp.RespNoThumbnailPresent, nil, nil
	}
	if err := wire.WriteDataStream(dataOut, cmd.Code, cmd.ID, int64(len(data)), bytes.NewReader(data), e.ChunkSize); err != nil {
		return ptp.RespIncompleteTransfer, nil, nil
	}
	return ptp.RespOK, nil, nil
}

func handleDeleteObject(e *Engine, cmd wire.Container, _ io.Writer, _ io.Reader) (ptp.ResponseCode, []uint32, error) {
	handle, _ := cmd.Param(0)
	if format, ok := cmd.Param(1); ok && format != 0 {
		return ptp.RespSpecByFormatNotSupported, nil, nil
	}

	var code ptp.ResponseCode
	switch e.Store.Delete(ptp.Handle(handle)) {
	case objectstore.DeleteOK:
		code = ptp.RespOK
	case objectstore.DeleteWriteProtected:
		code = ptp.RespObjectWriteProtected
	case objectstore.DeleteInvalidHandle:
		code = ptp.RespInvalidObjectHandle
	case objectstore.DeletePartial:
		code = ptp.RespPartialDeletion
	}
	return code, nil, nil
}

func handleSendObjectInfo(e *Engine, cmd wire.Container, _ io.Writer, dataIn io.Reader) (ptp.ResponseCode, []uint32, error) {
	store, _ := cmd.Param(0)
	parent, _ := cmd.Param(1)

	data, err := wire.ReadContainer(dataIn)
	if err != nil {
		return 0, nil, err
	}
	if store != e.Store.StorageID() {
		return ptp.RespInvalidStorageID, nil, nil
	}
	if parent != uint32(ptp.HandleModelDir) {
		return ptp.RespInvalidParentObject, nil, nil
	}

	info, filename, err := decodeObjectInfo(data.Body)
	if err != nil {
		return 0, nil, err
	}
	switch info.Format {
	case ptp.FormatUndefined, ptp.FormatText, ptp.FormatEXIFJPEG, ptp.FormatTIFF:
	default:
		return ptp.RespInvalidObjectFormatCode, nil, nil
	}

	free, _, err := e.Store.FreeSpace()
	if err != nil {
		return ptp.RespAccessDenied, nil, nil
	}
	if uint64(info.CompressedSize) > free {
		return ptp.RespStoreFull, nil, nil
	}

	handle, err := e.Store.BeginUpload(info, filename, uint64(info.CompressedSize))
	if err != nil {
		if err == objectstore.ErrCollision {
			return ptp.RespStoreNotAvailable, nil, nil
		}
		e.logf(1, "send object info: %v", err)
		return ptp.RespGeneralError, nil, nil
	}
	return ptp.RespOK, []uint32{e.Store.StorageID(), uint32(ptp.HandleModelDir), uint32(handle)}, nil
}

// decodeObjectInfo parses the filename and declared size/format from a
// SendObjectInfo data phase body (the fixed object-info record fields
// followed by the UCS-2 filename string; the three trailing strings are
// not meaningful on upload and are ignored).
const objectInfoFixedSize = 52

func decodeObjectInfo(body []byte) (ptp.ObjectInfo, string, error) {
	if len(body) < objectInfoFixedSize+1 {
		return ptp.ObjectInfo{}, "", wire.ErrLengthMismatch
	}
	format := ptp.FormatCode(le16(body[4:6]))
	size := le32(body[8:12])
	filename, _, err := wire.GetUCS2(body[objectInfoFixedSize:])
	if err != nil {
		return ptp.ObjectInfo{}, "", err
	}
	return ptp.ObjectInfo{Format: format, CompressedSize: size}, filename, nil
}

func le16(b []byte) uint16 { return uint16(b[0]) | uint16(b[1])<<8 }
func le32(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}

func handleSendObject(e *Engine, cmd wire.Container, _ io.Writer, dataIn io.Reader) (ptp.ResponseCode, []uint32, error) {
	if !e.Store.HasPendingUpload() {
		if _, err := wire.ReadContainer(dataIn); err != nil {
			return 0, nil, err
		}
		return ptp.RespNoValidObjectInfo, nil, nil
	}

	data, err := wire.ReadContainer(dataIn)
	if err != nil {
		return 0, nil, err
	}
	declared := e.Store.PendingDeclaredSize()
	got := uint64(len(data.Body))
	if got < declared {
		e.Store.AbortUpload()
		return ptp.RespIncompleteTransfer, nil, nil
	}
	if got > declared {
		e.Store.AbortUpload()
		return ptp.RespStoreFull, nil, nil
	}

	if err := e.Store.WriteUpload(bytes.NewReader(data.Body)); err != nil {
		e.logf(1, "send object: %v", err)
		return ptp.RespIncompleteTransfer, nil, nil
	}
	handle, err := e.Store.CommitUpload()
	if err != nil {
		e.logf(1, "send object commit: %v", err)
		return ptp.RespIncompleteTransfer, nil, nil
	}
	e.logf(1, "object %d committed", handle)
	return ptp.RespOK, nil, nil
}

// openMapped memory-maps path for reading and returns a reader over the
// mapping, a function to release it, and the file size.
func openMapped(path string) (io.Reader, func(), int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, 0, err
	}
	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, nil, 0, err
	}
	size := fi.Size()
	if size == 0 {
		return bytes.NewReader(nil), func() { f.Close() }, 0, nil
	}
	data, err := unix.Mmap(int(f.Fd()), 0, int(size), unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		f.Close()
		return nil, nil, 0, err
	}
	closeFn := func() {
		unix.Munmap(data)
		f.Close()
	}
	return bytes.NewReader(data), closeFn, size, nil
}
