/*
Package randx generates the identifiers used by the presence core.

Socket IDs and instance UIDs are UUID v4 strings; instance UIDs additionally carry a
short host-derived prefix so operators can tell instances apart in the shared store.
*/
package randx

import (
	"os"
	"strings"

	"github.com/google/uuid"
)

// instanceHostPrefixLength bounds the host part of an instance UID.
const instanceHostPrefixLength = 12

// SocketID returns a new socket identifier. It doubles as the session ID reported to clients.
func SocketID() string {
	return uuid.New().String()
}

// InstanceUID returns a new instance identifier of the form "<host>-<uuid>".
// The UUID part keeps two processes on the same host distinct.
func InstanceUID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		return uuid.New().String()
	}

	host = strings.ToLower(host)
	host = strings.Map(func(r rune) rune {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '-' {
			return r
		}
		return -1
	}, host)

	if len(host) > instanceHostPrefixLength {
		host = host[:instanceHostPrefixLength]
	}
	if host == "" {
		return uuid.New().String()
	}

	return host + "-" + uuid.New().String()
}
