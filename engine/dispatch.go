package engine

import (
	"io"

	"github.com/pkg/errors"

	"github.com/ptp-gadget/ptpd/ptp"
	"github.com/ptp-gadget/ptpd/wire"
)

// ErrProtocolViolation marks an error that must abort the bulk
// transaction (spec section 7, tier 1) rather than produce a response
// code.
var ErrProtocolViolation = errors.New("engine: protocol violation")

// handlerFunc implements one supported operation. dataOut/dataIn give
// handlers access to the data phase on the bulk-in/bulk-out endpoints;
// most handlers use neither.
type handlerFunc func(e *Engine, cmd wire.Container, dataOut io.Writer, dataIn io.Reader) (ptp.ResponseCode, []uint32, error)

var handlerTable = map[ptp.OpCode]handlerFunc{
	ptp.OpGetDeviceInfo:    handleGetDeviceInfo,
	ptp.OpOpenSession:      handleOpenSession,
	ptp.OpCloseSession:     handleCloseSession,
	ptp.OpGetStorageIDs:    handleGetStorageIDs,
	ptp.OpGetStorageInfo:   handleGetStorageInfo,
	ptp.OpGetNumObjects:    handleGetNumObjects,
	ptp.OpGetObjectHandles: handleGetObjectHandles,
	ptp.OpGetObjectInfo:    handleGetObjectInfo,
	ptp.OpGetObject:        handleGetObject,
	ptp.OpGetThumb:         handleGetThumb,
	ptp.OpDeleteObject:     handleDeleteObject,
	ptp.OpSendObjectInfo:   handleSendObjectInfo,
	ptp.OpSendObject:       handleSendObject,
}

// Dispatch runs the operation named by cmd's code. It enforces the
// preconditions common to every handler (command container type,
// parameter-count bounds, session requirement) before invoking the
// handler, and returns the response code and parameters the bulk engine
// must wrap in a response container addressed to cmd.ID. A non-nil error
// means the transaction is a protocol violation and the bulk engine must
// abort (spec section 7, tier 1); any other outcome — including every
// operation-level failure — is carried entirely in the returned response
// code, never as an error.
func (e *Engine) Dispatch(cmd wire.Container, dataOut io.Writer, dataIn io.Reader) (ptp.ResponseCode, []uint32, error) {
	if cmd.Type != wire.TypeCommand {
		return 0, nil, errors.Wrapf(ErrProtocolViolation, "unexpected container type %d where a command was expected", cmd.Type)
	}
	if len(cmd.Body)%4 != 0 {
		return 0, nil, errors.Wrap(ErrProtocolViolation, "command body is not a multiple of 4 bytes")
	}

	op := ptp.OpCode(cmd.Code)
	e.logf(2, "dispatch: op=0x%04x id=%d bodylen=%d", cmd.Code, cmd.ID, len(cmd.Body))

	handler, known := handlerTable[op]
	if !known {
		e.logf(1, "operation 0x%04x not supported", cmd.Code)
		return ptp.RespOperationNotSupported, nil, nil
	}

	bounds, ok := ptp.OpcodeBounds(op)
	if ok {
		if len(cmd.Body) < bounds[0] || len(cmd.Body) > bounds[1] {
			return 0, nil, errors.Wrapf(ErrProtocolViolation, "operation 0x%04x body length %d outside [%d,%d]", cmd.Code, len(cmd.Body), bounds[0], bounds[1])
		}
	}

	if ptp.RequiresSession(op) {
		if _, open := e.IsOpen(); !open {
			return ptp.RespSessionNotOpen, nil, nil
		}
	}

	return handler(e, cmd, dataOut, dataIn)
}
