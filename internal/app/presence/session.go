package presence

import (
	"maps"
	"sync/atomic"
)

// State is a socket's position in the authentication lifecycle.
type State int32

const (
	StateConnecting State = iota
	StateAuthenticated
	StateActive
	StateDisconnecting
	StateRejected
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "CONNECTING"
	case StateAuthenticated:
		return "AUTHENTICATED"
	case StateActive:
		return "ACTIVE"
	case StateDisconnecting:
		return "DISCONNECTING"
	case StateRejected:
		return "REJECTED"
	case StateClosed:
		return "CLOSED"
	}
	return "UNKNOWN"
}

// Terminal reports whether no further events may be delivered in this state.
func (s State) Terminal() bool {
	return s == StateRejected || s == StateClosed
}

// Session is one socket on this instance. UserName and Metadata are fixed once the
// session reaches StateAuthenticated.
type Session struct {
	// ID is the socket ID; it is also the session ID reported to the client.
	ID string

	UserName    string
	Metadata    map[string]any
	InstanceUID string

	conn      Conn
	handshake *Handshake
	state     atomic.Int32

	// stored is set once the session's entry was written to the store.
	stored atomic.Bool
}

func newSession(id, instanceUID string, conn Conn, hs *Handshake) *Session {
	return &Session{
		ID:          id,
		InstanceUID: instanceUID,
		conn:        conn,
		handshake:   hs,
	}
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	return State(s.state.Load())
}

func (s *Session) setState(st State) {
	s.state.Store(int32(st))
}

// confirmation is the loginConfirmed payload: hook metadata merged with the session id.
func (s *Session) confirmation() map[string]any {
	data := make(map[string]any, len(s.Metadata)+1)
	maps.Copy(data, s.Metadata)
	data["id"] = s.ID
	return data
}

// send delivers ev unless the session reached a terminal state.
func (s *Session) send(ev Event) error {
	if s.State().Terminal() {
		return nil
	}
	return s.conn.Send(ev)
}
