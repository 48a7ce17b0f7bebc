package packet

import (
	"fmt"

	"go.uber.org/zap"
)

// SessionState represents the session's current protocol phase.
type SessionState int

const (
	StateHandshake SessionState = iota // connected, awaiting C_OPCODE_HELLO
	StateFeeding                       // host feed accepted
	StateDisconnecting
)

func (s SessionState) String() string {
	switch s {
	case StateHandshake:
		return "Handshake"
	case StateFeeding:
		return "Feeding"
	case StateDisconnecting:
		return "Disconnecting"
	default:
		return fmt.Sprintf("Unknown(%d)", int(s))
	}
}

// HandlerFunc is the callback signature for packet handlers.
// The session pointer is passed as an opaque interface to avoid import cycles.
type HandlerFunc func(sess any, r *Reader)

type handlerEntry struct {
	fn            HandlerFunc
	allowedStates map[SessionState]bool
}

// Registry maps opcodes to handlers with state-based access control.
type Registry struct {
	handlers map[byte]*handlerEntry
	log      *zap.Logger
}

func NewRegistry(log *zap.Logger) *Registry {
	return &Registry{
		handlers: make(map[byte]*handlerEntry),
		log:      log,
	}
}

// Register maps an opcode to a handler, restricted to the given session states.
func (reg *Registry) Register(opcode byte, states []SessionState, fn HandlerFunc) {
	allowed := make(map[SessionState]bool, len(states))
	for _, s := range states {
		allowed[s] = true
	}
	reg.handlers[opcode] = &handlerEntry{
		fn:            fn,
		allowedStates: allowed,
	}
}

// Dispatch finds the handler for the opcode in data[0], validates the session
// state, and calls the handler. Returns an error if the opcode is unknown or
// the session state is not allowed.
func (reg *Registry) Dispatch(sess any, state SessionState, data []byte) error {
	if len(data) == 0 {
		return fmt.Errorf("empty packet")
	}
	opcode := data[0]
	reg.log.Debug("packet received",
		zap.Uint8("opcode", opcode),
		zap.Int("size", len(data)),
		zap.String("state", state.String()),
	)

	entry, ok := reg.handlers[opcode]
	if !ok {
		reg.log.Debug("unknown opcode", zap.Uint8("opcode", opcode), zap.String("state", state.String()))
		return nil // silently ignore unknown opcodes
	}

	if !entry.allowedStates[state] {
		reg.log.Warn("opcode not allowed in state",
			zap.Uint8("opcode", opcode),
			zap.String("state", state.String()),
		)
		return fmt.Errorf("opcode %d not allowed in state %s", opcode, state)
	}

	r := NewReader(data)
	return reg.safeCall(entry.fn, sess, r, opcode)
}

// Len returns the number of registered opcodes.
func (reg *Registry) Len() int {
	return len(reg.handlers)
}

// safeCall executes a handler with panic recovery so a single bad packet
// cannot stop the tick loop.
func (reg *Registry) safeCall(fn HandlerFunc, sess any, r *Reader, opcode byte) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			reg.log.Error("handler panic recovered",
				zap.Uint8("opcode", opcode),
				zap.Any("panic", rec),
			)
			err = fmt.Errorf("handler panic for opcode %d: %v", opcode, rec)
		}
	}()
	fn(sess, r)
	return nil
}
