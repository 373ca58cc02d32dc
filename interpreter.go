package xcpudp

import "context"

// Interpreter executes XCP commands. It is implemented by the protocol layer
// on top of this transport.
type Interpreter interface {
	// HandleCommand executes one command packet. Responses are sent through
	// r while the call is in progress. The returned value reports whether the
	// XCP session is connected after the command.
	//
	// cmd is only valid during the call and must not be retained.
	HandleCommand(ctx context.Context, cmd []byte, r Responder) (connected bool)
}

// Responder sends command responses and events on the control channel.
type Responder interface {
	SendResponse(packet []byte) error
}

// InterpreterFunc adapts a function to the Interpreter interface.
type InterpreterFunc func(ctx context.Context, cmd []byte, r Responder) bool

// HandleCommand calls f(ctx, cmd, r).
func (f InterpreterFunc) HandleCommand(ctx context.Context, cmd []byte, r Responder) bool {
	return f(ctx, cmd, r)
}
