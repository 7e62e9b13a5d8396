package ptp

import (
	"time"

	"github.com/ptp-gadget/ptpd/wire"
)

// supportedOperations is the fixed list advertised by GetDeviceInfo, in the
// same order opcodeBounds's keys were recovered from the original table.
var supportedOperations = []uint16{
	uint16(OpGetDeviceInfo),
	uint16(OpOpenSession),
	uint16(OpCloseSession),
	uint16(OpGetStorageIDs),
	uint16(OpGetStorageInfo),
	uint16(OpGetNumObjects),
	uint16(OpGetObjectHandles),
	uint16(OpGetObjectInfo),
	uint16(OpGetObject),
	uint16(OpGetThumb),
	uint16(OpDeleteObject),
	uint16(OpSendObjectInfo),
	uint16(OpSendObject),
}

// supportedImageFormats is the fixed image-format array advertised by
// GetDeviceInfo.
var supportedImageFormats = []uint16{
	uint16(FormatUndefined),
	uint16(FormatText),
	uint16(FormatEXIFJPEG),
	uint16(FormatTIFFEP),
	uint16(FormatPNG),
	uint16(FormatTIFF),
	uint16(FormatTIFFIT),
	uint16(FormatJFIF),
}

// DeviceInfo holds the values GetDeviceInfo reports. Manufacturer and Model
// are the only fields an operator can override (via config); everything
// else is fixed by the spec this device implements.
type DeviceInfo struct {
	Manufacturer string
	Model        string
}

// Encode serializes the device-info record exactly as GetDeviceInfo's data
// phase requires: standard version 1.00, zero vendor extension, zero
// functional mode, the fixed supported-operations and supported-formats
// arrays, empty events/device-properties/capture-formats arrays, and the
// manufacturer/model strings in UCS-2 followed by empty device-version and
// serial-number strings.
func (d DeviceInfo) Encode() []byte {
	var buf []byte
	buf = wire.PutUint16(buf, 100) // StandardVersion 1.00
	buf = wire.PutUint32(buf, 0)   // VendorExtensionID
	buf = wire.PutUint16(buf, 0)   // VendorExtensionVersion
	vendorDesc, _ := wire.PutUCS2("")
	buf = append(buf, vendorDesc...)
	buf = wire.PutUint16(buf, 0) // FunctionalMode
	buf = wire.PutUint16Array(buf, supportedOperations)
	buf = wire.PutUint32(buf, 0) // EventsSupported, empty array
	buf = wire.PutUint32(buf, 0) // DevicePropertiesSupported, empty array
	buf = wire.PutUint32(buf, 0) // CaptureFormats, empty array
	buf = wire.PutUint16Array(buf, supportedImageFormats)
	manuf, _ := wire.PutUCS2(d.Manufacturer)
	buf = append(buf, manuf...)
	model, _ := wire.PutUCS2(d.Model)
	buf = append(buf, model...)
	devVersion, _ := wire.PutUCS2("")
	buf = append(buf, devVersion...)
	serial, _ := wire.PutUCS2("")
	buf = append(buf, serial...)
	return buf
}

// StorageInfo holds the values GetStorageInfo reports for the single fixed
// storage unit.
type StorageInfo struct {
	StorageType     uint16
	FilesystemType  uint16
	AccessCap       uint16
	MaxCapacity     uint64
	FreeSpaceBytes  uint64
	Description     string
}

// Storage type, filesystem type, and access capability values for the
// single removable-RAM, DCF, read-write store this device exposes.
const (
	StorageTypeRemovableRAM   uint16 = 0x0004
	FilesystemTypeDCF         uint16 = 0x0003
	AccessCapabilityReadWrite uint16 = 0x0000
)

// Encode serializes the storage-info record.
func (s StorageInfo) Encode() []byte {
	var buf []byte
	buf = wire.PutUint16(buf, s.StorageType)
	buf = wire.PutUint16(buf, s.FilesystemType)
	buf = wire.PutUint16(buf, s.AccessCap)
	buf = append(buf, u64le(s.MaxCapacity)...)
	buf = append(buf, u64le(s.FreeSpaceBytes)...)
	buf = wire.PutUint32(buf, 0xffffffff) // FreeSpaceInImages: not computed
	desc, _ := wire.PutUCS2(s.Description)
	buf = append(buf, desc...)
	volID, _ := wire.PutUCS2("")
	buf = append(buf, volID...)
	return buf
}

func u64le(v uint64) []byte {
	buf := make([]byte, 8)
	for i := 0; i < 8; i++ {
		buf[i] = byte(v >> (8 * i))
	}
	return buf
}

// ObjectInfo mirrors the PIMA wire structure for one object, real or
// synthetic.
type ObjectInfo struct {
	StorageID             uint32
	Format                FormatCode
	ProtectionStatus       uint16
	CompressedSize         uint32
	ThumbFormat            FormatCode
	ThumbCompressedSize    uint32
	ThumbPixWidth          uint32
	ThumbPixHeight         uint32
	ImagePixWidth          uint32
	ImagePixHeight         uint32
	ImageBitDepth          uint32
	ParentObject           uint32
	AssociationType        uint16
	AssociationDesc        uint32
	SequenceNumber         uint32
	Filename               string
	CaptureDate            time.Time
	ModificationDate       string
	Keywords               string
}

// captureDateLayout is the PTP DateTime format: YYYYMMDDThhmmss.0Z
const captureDateLayout = "20060102T150405"

// FormatCaptureDate renders i.CaptureDate the way PTP expects.
func (i ObjectInfo) FormatCaptureDate() string {
	if i.CaptureDate.IsZero() {
		return ""
	}
	return i.CaptureDate.UTC().Format(captureDateLayout) + ".0Z"
}

// Encode serializes the object-info record and its four trailing strings.
func (i ObjectInfo) Encode() []byte {
	var buf []byte
	buf = wire.PutUint32(buf, i.StorageID)
	buf = wire.PutUint16(buf, uint16(i.Format))
	buf = wire.PutUint16(buf, i.ProtectionStatus)
	buf = wire.PutUint32(buf, i.CompressedSize)
	buf = wire.PutUint16(buf, uint16(i.ThumbFormat))
	buf = wire.PutUint32(buf, i.ThumbCompressedSize)
	buf = wire.PutUint32(buf, i.ThumbPixWidth)
	buf = wire.PutUint32(buf, i.ThumbPixHeight)
	buf = wire.PutUint32(buf, i.ImagePixWidth)
	buf = wire.PutUint32(buf, i.ImagePixHeight)
	buf = wire.PutUint32(buf, i.ImageBitDepth)
	buf = wire.PutUint32(buf, i.ParentObject)
	buf = wire.PutUint16(buf, i.AssociationType)
	buf = wire.PutUint32(buf, i.AssociationDesc)
	buf = wire.PutUint32(buf, i.SequenceNumber)

	fn, _ := wire.PutUCS2(i.Filename)
	buf = append(buf, fn...)
	cd, _ := wire.PutUCS2(i.FormatCaptureDate())
	buf = append(buf, cd...)
	md, _ := wire.PutUCS2(i.ModificationDate)
	buf = append(buf, md...)
	kw, _ := wire.PutUCS2(i.Keywords)
	buf = append(buf, kw...)
	return buf
}

// FormatFromFilename derives the object format code from a filename's
// extension, per spec: .txt -> text, .tif/.tiff -> TIFF, .jpg/.jpeg ->
// EXIF-JPEG, otherwise undefined.
func FormatFromFilename(name string) FormatCode {
	ext := extLower(name)
	switch ext {
	case ".txt":
		return FormatText
	case ".tif", ".tiff":
		return FormatTIFF
	case ".jpg", ".jpeg":
		return FormatEXIFJPEG
	default:
		return FormatUndefined
	}
}

func extLower(name string) string {
	dot := -1
	for i := len(name) - 1; i >= 0; i-- {
		if name[i] == '.' {
			dot = i
			break
		}
		if name[i] == '/' {
			break
		}
	}
	if dot <= 0 {
		return ""
	}
	ext := name[dot:]
	out := make([]byte, len(ext))
	for i := 0; i < len(ext); i++ {
		c := ext[i]
		if c >= 'A' && c <= 'Z' {
			c += 'a' - 'A'
		}
		out[i] = c
	}
	return string(out)
}
