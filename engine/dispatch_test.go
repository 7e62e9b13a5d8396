package engine

import (
	"bytes"
	"testing"

	"github.com/ptp-gadget/ptpd/objectstore"
	"github.com/ptp-gadget/ptpd/ptp"
	"github.com/ptp-gadget/ptpd/wire"
)

func newTestEngine(t *testing.T) (*Engine, string) {
	t.Helper()
	dir := t.TempDir()
	store := objectstore.New(dir, "MODEL", ptp.StoreID)
	if err := store.Enumerate(); err != nil {
		t.Fatalf("Enumerate: %v", err)
	}
	e := New(store, ptp.DeviceInfo{Manufacturer: "ptpd", Model: "test"}, "test storage")
	return e, dir
}

func command(code ptp.OpCode, id uint32, params ...uint32) wire.Container {
	body := wire.PutParams(params...)
	return wire.Container{
		Header: wire.Header{Type: wire.TypeCommand, Code: uint16(code), ID: id, Length: uint32(wire.HeaderSize + len(body))},
		Body:   body,
	}
}

func TestDispatchRejectsNonCommandContainer(t *testing.T) {
	e, _ := newTestEngine(t)
	cmd := command(ptp.OpGetDeviceInfo, 1)
	cmd.Type = wire.TypeResponse
	if _, _, err := e.Dispatch(cmd, &bytes.Buffer{}, bytes.NewReader(nil)); err == nil {
		t.Fatal("Dispatch accepted a non-command container")
	}
}

func TestDispatchUnknownOperation(t *testing.T) {
	e, _ := newTestEngine(t)
	cmd := command(ptp.OpCode(0x9999), 1)
	code, _, err := e.Dispatch(cmd, &bytes.Buffer{}, bytes.NewReader(nil))
	if err != nil {
		t.Fatalf("Dispatch returned protocol error for unknown op: %v", err)
	}
	if code != ptp.RespOperationNotSupported {
		t.Fatalf("code = %#x, want RespOperationNotSupported", code)
	}
}

func TestDispatchRequiresSession(t *testing.T) {
	e, _ := newTestEngine(t)
	cmd := command(ptp.OpGetStorageIDs, 1)
	code, _, err := e.Dispatch(cmd, &bytes.Buffer{}, bytes.NewReader(nil))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if code != ptp.RespSessionNotOpen {
		t.Fatalf("code = %#x, want RespSessionNotOpen", code)
	}
}

func TestDispatchBadBodyLength(t *testing.T) {
	e, _ := newTestEngine(t)
	cmd := command(ptp.OpOpenSession, 1) // OpenSession requires exactly 4 body bytes
	if _, _, err := e.Dispatch(cmd, &bytes.Buffer{}, bytes.NewReader(nil)); err == nil {
		t.Fatal("Dispatch accepted an OpenSession with no session-id parameter")
	}
}

func TestSessionLifecycle(t *testing.T) {
	e, _ := newTestEngine(t)

	open := command(ptp.OpOpenSession, 1, 7)
	code, _, err := e.Dispatch(open, &bytes.Buffer{}, bytes.NewReader(nil))
	if err != nil || code != ptp.RespOK {
		t.Fatalf("OpenSession: code=%#x err=%v", code, err)
	}

	reopen := command(ptp.OpOpenSession, 2, 9)
	code, params, err := e.Dispatch(reopen, &bytes.Buffer{}, bytes.NewReader(nil))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if code != ptp.RespSessionAlreadyOpen || len(params) != 1 || params[0] != 7 {
		t.Fatalf("reopen: code=%#x params=%v, want RespSessionAlreadyOpen with [7]", code, params)
	}

	closeCmd := command(ptp.OpCloseSession, 3)
	code, _, err = e.Dispatch(closeCmd, &bytes.Buffer{}, bytes.NewReader(nil))
	if err != nil || code != ptp.RespOK {
		t.Fatalf("CloseSession: code=%#x err=%v", code, err)
	}

	closeAgain := command(ptp.OpCloseSession, 4)
	code, _, err = e.Dispatch(closeAgain, &bytes.Buffer{}, bytes.NewReader(nil))
	if err != nil || code != ptp.RespSessionNotOpen {
		t.Fatalf("second CloseSession: code=%#x err=%v, want RespSessionNotOpen", code, err)
	}
}

func TestResetSessionClearsSession(t *testing.T) {
	e, _ := newTestEngine(t)
	open := command(ptp.OpOpenSession, 1, 1)
	if _, _, err := e.Dispatch(open, &bytes.Buffer{}, bytes.NewReader(nil)); err != nil {
		t.Fatal(err)
	}
	if _, ok := e.IsOpen(); !ok {
		t.Fatal("session not open after OpenSession")
	}
	e.ResetSession()
	if _, ok := e.IsOpen(); ok {
		t.Fatal("session still open after ResetSession")
	}
}
