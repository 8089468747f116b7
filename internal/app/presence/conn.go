package presence

import (
	"net/http"
	"net/url"
	"sync"
)

// UserQueryParam is the handshake query parameter carrying the declared user name.
const UserQueryParam = "user"

// Conn is the transport side of one socket. Send and Close are ordered: events sent
// before Close reach the client before the transport is torn down.
type Conn interface {
	// Send queues ev for delivery.
	Send(ev Event) error

	// Close tears the transport down. Done is closed once it is gone.
	Close(reason string) error

	// Done is closed when the transport has disconnected, for whatever reason.
	Done() <-chan struct{}
}

// Handshake is the connection data presented to middleware and hooks.
type Handshake struct {
	Query      url.Values
	Header     http.Header
	RemoteAddr string

	mu     sync.RWMutex
	values map[string]any
}

// NewHandshake builds a Handshake. Nil maps are replaced by empty ones.
func NewHandshake(query url.Values, header http.Header, remoteAddr string) *Handshake {
	if query == nil {
		query = url.Values{}
	}
	if header == nil {
		header = http.Header{}
	}
	return &Handshake{
		Query:      query,
		Header:     header,
		RemoteAddr: remoteAddr,
		values:     make(map[string]any),
	}
}

// UserName returns the declared user name, empty for an anonymous connect.
func (h *Handshake) UserName() string {
	return h.Query.Get(UserQueryParam)
}

// Set attaches a value for later pipeline stages (e.g. a verified token from middleware).
func (h *Handshake) Set(key string, value any) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.values[key] = value
}

// Get returns a value stored with Set.
func (h *Handshake) Get(key string) (any, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	v, ok := h.values[key]
	return v, ok
}
