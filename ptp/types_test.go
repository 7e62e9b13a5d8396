package ptp

import (
	"testing"
	"time"
)

func TestFormatFromFilename(t *testing.T) {
	cases := []struct {
		name string
		want FormatCode
	}{
		{"a.txt", FormatText},
		{"a.TIF", FormatTIFF},
		{"a.tiff", FormatTIFF},
		{"a.JPG", FormatEXIFJPEG},
		{"a.jpeg", FormatEXIFJPEG},
		{"noext", FormatUndefined},
		{".hidden", FormatUndefined},
		{"a.bin", FormatUndefined},
	}
	for _, c := range cases {
		if got := FormatFromFilename(c.name); got != c.want {
			t.Errorf("FormatFromFilename(%q) = %#x, want %#x", c.name, got, c.want)
		}
	}
}

func TestFormatCaptureDate(t *testing.T) {
	i := ObjectInfo{}
	if got := i.FormatCaptureDate(); got != "" {
		t.Fatalf("zero CaptureDate formatted as %q, want empty", got)
	}

	i.CaptureDate = time.Date(2026, 7, 29, 12, 34, 56, 0, time.UTC)
	want := "20260729T123456.0Z"
	if got := i.FormatCaptureDate(); got != want {
		t.Fatalf("FormatCaptureDate() = %q, want %q", got, want)
	}
}

func TestDeviceInfoEncodeNonEmpty(t *testing.T) {
	d := DeviceInfo{Manufacturer: "ptpd", Model: "generic"}
	buf := d.Encode()
	if len(buf) == 0 {
		t.Fatal("DeviceInfo.Encode() returned no bytes")
	}
}

func TestObjectInfoEncodeMinimumLength(t *testing.T) {
	i := ObjectInfo{
		StorageID:      StoreID,
		Format:         FormatEXIFJPEG,
		CompressedSize: 1024,
		ParentObject:   uint32(HandleModelDir),
		Filename:       "img.jpg",
	}
	buf := i.Encode()
	// 52 fixed bytes + 4 UCS-2 strings, each at least a 1-byte length prefix.
	if len(buf) < 52+4 {
		t.Fatalf("ObjectInfo.Encode() too short: %d bytes", len(buf))
	}
}
