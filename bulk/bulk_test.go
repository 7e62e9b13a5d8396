package bulk

import (
	"bytes"
	"context"
	"io"
	"testing"
	"time"

	"github.com/ptp-gadget/ptpd/reset"
	"github.com/ptp-gadget/ptpd/wire"
)

func echoDispatch(cmd wire.Container, dataOut io.Writer, dataIn io.Reader) (uint16, []uint32, error) {
	return 0x2001, []uint32{cmd.ID}, nil
}

func TestRunProcessesCommandThenExitsOnEOF(t *testing.T) {
	out := bytes.NewBuffer(wire.Encode(wire.TypeCommand, 0x1002, 1, wire.PutParams(7)))
	in := &bytes.Buffer{}

	e := &Engine{In: in, Out: out, Dispatch: echoDispatch, Coordinator: reset.New()}

	err := e.Run(context.Background())
	if err == nil {
		t.Fatal("Run returned nil error after bulk-out hit EOF")
	}

	resp, rerr := wire.ReadContainer(in)
	if rerr != nil {
		t.Fatalf("ReadContainer(response): %v", rerr)
	}
	if resp.Type != wire.TypeResponse || resp.Code != 0x2001 || resp.ID != 1 {
		t.Fatalf("response = %+v, want type=response code=0x2001 id=1", resp)
	}
}

func TestRunStopsOnContextCancel(t *testing.T) {
	r, _ := io.Pipe() // never written to; blocks forever
	e := &Engine{In: &bytes.Buffer{}, Out: r, Dispatch: echoDispatch, Coordinator: reset.New()}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- e.Run(ctx) }()

	cancel()
	select {
	case err := <-done:
		if err != context.Canceled {
			t.Fatalf("Run returned %v, want context.Canceled", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Run did not return after context cancellation")
	}
}
