/*
Package handler provides the HTTP handler function for WebSocket connection upgrading.

HandleWebSocket upgrades the request, starts the connection pumps and hands the socket
to the presence service, which authenticates, registers and later unregisters it.
*/
package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"

	"hzpresence/internal/app/presence"
	"hzpresence/internal/app/wsconn"
	"hzpresence/internal/pkg/logx"
)

// HandleWebSocket creates an HTTP HandlerFunc to process WebSocket connection requests.
// The handler returns once the socket is closed.
func HandleWebSocket(svc *presence.Service, upgrader websocket.Upgrader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		query := r.URL.Query()
		requestID := middleware.GetReqID(r.Context())

		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logx.Error(err, "Failed to upgrade connection to WebSocket", "request_id", requestID)
			return
		}

		logger := logx.Component("ws").With().
			Str("request_id", requestID).
			Str("remote_ip", logx.AnonymizeIP(r.RemoteAddr)).
			Logger()

		conn := wsconn.New(ws, logger)
		go conn.WritePump()
		go conn.ReadPump()

		hs := presence.NewHandshake(query, r.Header.Clone(), r.RemoteAddr)
		svc.Serve(r.Context(), conn, hs)
	}
}
