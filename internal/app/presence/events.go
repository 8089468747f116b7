/*
Package presence implements connection authentication and the distributed presence registry.

A Service is one instance of the presence backend. Every connecting socket is driven
through the same lifecycle by Service.Serve: middleware chain, identity validation and
the onConnect hook, then registration in the local Registry and the shared state.Store,
then a connect echo to every socket of the same user. When the transport goes away (or
the Shutdown Coordinator forces it away) the socket is unregistered and a disconnect
echo follows.

This file defines the named events delivered to clients; their names are the wire contract.
*/
package presence

// Client event names.
const (
	EventLoginConfirmed       = "loginConfirmed"
	EventLoginRejected        = "loginRejected"
	EventError                = "error"
	EventSocketConnectEcho    = "socketConnectEcho"
	EventSocketDisconnectEcho = "socketDisconnectEcho"
	EventDisconnect           = "disconnect"
)

// Event is one named message delivered to a client with positional arguments.
type Event struct {
	Name string `json:"event"`
	Args []any  `json:"args"`
}

// LoginConfirmed builds loginConfirmed(userName, data). data always carries the session id.
func LoginConfirmed(userName string, data map[string]any) Event {
	return Event{Name: EventLoginConfirmed, Args: []any{userName, data}}
}

// LoginRejected builds loginRejected(reason).
func LoginRejected(reason string) Event {
	return Event{Name: EventLoginRejected, Args: []any{reason}}
}

// ErrorEvent builds error(reason), used for middleware failures.
func ErrorEvent(reason string) Event {
	return Event{Name: EventError, Args: []any{reason}}
}

// ConnectEcho builds socketConnectEcho(socketID, nconnected).
func ConnectEcho(socketID string, nconnected int) Event {
	return Event{Name: EventSocketConnectEcho, Args: []any{socketID, nconnected}}
}

// DisconnectEcho builds socketDisconnectEcho(socketID, nconnected).
func DisconnectEcho(socketID string, nconnected int) Event {
	return Event{Name: EventSocketDisconnectEcho, Args: []any{socketID, nconnected}}
}

// Disconnect builds the disconnect() teardown notice.
func Disconnect() Event {
	return Event{Name: EventDisconnect, Args: []any{}}
}

// echoEvent maps an echo name back to its constructor.
func echoEvent(name, socketID string, nconnected int) (Event, bool) {
	switch name {
	case EventSocketConnectEcho:
		return ConnectEcho(socketID, nconnected), true
	case EventSocketDisconnectEcho:
		return DisconnectEcho(socketID, nconnected), true
	}
	return Event{}, false
}
