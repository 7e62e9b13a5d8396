package wire

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestHeaderRoundTrip(t *testing.T) {
	cases := []Header{
		{Length: 12, Type: TypeCommand, Code: 0x1002, ID: 1},
		{Length: 512, Type: TypeData, Code: 0x1007, ID: 0xdeadbeef},
		{Length: 4096, Type: TypeResponse, Code: 0x2001, ID: 0},
	}
	for _, want := range cases {
		buf := EncodeHeader(want.Type, want.Code, want.ID, want.Length)
		got, err := DecodeHeader(buf)
		if err != nil {
			t.Fatalf("DecodeHeader: %v", err)
		}
		if diff := cmp.Diff(want, got); diff != "" {
			t.Errorf("header round-trip mismatch (-want +got):\n%s", diff)
		}
	}
}

func TestDecodeHeaderShort(t *testing.T) {
	if _, err := DecodeHeader([]byte{1, 2, 3}); err != ErrShortHeader {
		t.Fatalf("want ErrShortHeader, got %v", err)
	}
}

func TestDecodeHeaderLengthUnderflow(t *testing.T) {
	buf := EncodeHeader(TypeCommand, 0x1001, 1, 4)
	if _, err := DecodeHeader(buf); err != ErrLengthMismatch {
		t.Fatalf("want ErrLengthMismatch, got %v", err)
	}
}

func TestContainerParams(t *testing.T) {
	body := PutParams(7, 0xffffffff)
	c := Container{Header: Header{Length: uint32(HeaderSize + len(body))}, Body: body}
	got, err := c.Params()
	if err != nil {
		t.Fatalf("Params: %v", err)
	}
	want := []uint32{7, 0xffffffff}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("params mismatch (-want +got):\n%s", diff)
	}
}

func TestEncodeDecodeContainer(t *testing.T) {
	body := PutParams(0x00010001)
	buf := Encode(TypeCommand, 0x1004, 42, body)
	c, err := Decode(buf)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if c.ID != 42 || c.Code != 0x1004 || c.Type != TypeCommand {
		t.Fatalf("unexpected decoded header: %+v", c.Header)
	}
	if c.Length != uint32(len(buf)) {
		t.Errorf("Length = %d, want %d (the testable invariant c.length = 12 + len(body))", c.Length, len(buf))
	}
}

func TestUCS2RoundTrip(t *testing.T) {
	for _, s := range []string{"", "IMG.JPG", "DCIM", "100LINUX", "a"} {
		buf, err := PutUCS2(s)
		if err != nil {
			t.Fatalf("PutUCS2(%q): %v", s, err)
		}
		got, consumed, err := GetUCS2(buf)
		if err != nil {
			t.Fatalf("GetUCS2: %v", err)
		}
		if got != s {
			t.Errorf("round-trip %q => %q", s, got)
		}
		if consumed != len(buf) {
			t.Errorf("consumed %d, want %d", consumed, len(buf))
		}
	}
}

func TestPutUCS2TooLong(t *testing.T) {
	long := make([]byte, 255)
	for i := range long {
		long[i] = 'a'
	}
	if _, err := PutUCS2(string(long)); err != ErrStringTooLong {
		t.Fatalf("want ErrStringTooLong, got %v", err)
	}
}

func TestUint32ArrayRoundTrip(t *testing.T) {
	values := []uint32{1, 2}
	buf := PutUint32Array(values)
	c := Container{Body: buf}
	// count is first param, then the handles
	params, err := c.Params()
	if err != nil {
		t.Fatalf("Params: %v", err)
	}
	if int(params[0]) != len(values) {
		t.Fatalf("count = %d, want %d", params[0], len(values))
	}
	for i, v := range values {
		if params[i+1] != v {
			t.Errorf("params[%d] = %d, want %d", i+1, params[i+1], v)
		}
	}
}
