package main

import (
	"context"
	"encoding/binary"
	"sync"

	"github.com/Zereker/xcpudp"
)

// Command codes and packet identifiers handled by the demo interpreter.
const (
	cmdConnect    = xcpudp.CmdConnect
	cmdDisconnect = 0xFE
	cmdGetStatus  = 0xFD
	cmdSynch      = 0xFC

	pidResponse = 0xFF
	pidError    = 0xFE

	errCmdSynch   = 0x00
	errCmdUnknown = 0x20

	protocolVersion  = 0x01
	transportVersion = 0x01
)

// interpreter is a minimal XCP command handler. It only knows the session
// commands needed to exercise the transport: CONNECT, DISCONNECT, GET_STATUS
// and SYNCH. DAQ configuration is not supported.
type interpreter struct {
	maxCTO int
	maxDTO int

	mu        sync.Mutex
	connected bool
}

func newInterpreter(maxCTO, maxDTO int) *interpreter {
	return &interpreter{maxCTO: maxCTO, maxDTO: maxDTO}
}

func (i *interpreter) HandleCommand(ctx context.Context, cmd []byte, r xcpudp.Responder) bool {
	i.mu.Lock()
	defer i.mu.Unlock()

	if len(cmd) == 0 {
		return i.connected
	}

	switch cmd[0] {
	case cmdConnect:
		i.connected = true
		resp := make([]byte, 8)
		resp[0] = pidResponse
		resp[1] = 0x04 // RESOURCE: DAQ
		resp[2] = 0x00 // COMM_MODE_BASIC: Intel byte order, no block mode
		resp[3] = byte(i.maxCTO)
		binary.LittleEndian.PutUint16(resp[4:6], uint16(i.maxDTO))
		resp[6] = protocolVersion
		resp[7] = transportVersion
		_ = r.SendResponse(resp)
	case cmdDisconnect:
		i.connected = false
		_ = r.SendResponse([]byte{pidResponse})
	case cmdGetStatus:
		_ = r.SendResponse([]byte{pidResponse, 0x00, 0x00, 0x00, 0x00, 0x00})
	case cmdSynch:
		_ = r.SendResponse([]byte{pidError, errCmdSynch})
	default:
		_ = r.SendResponse([]byte{pidError, errCmdUnknown})
	}
	return i.connected
}

func (i *interpreter) isConnected() bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.connected
}
