package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"hzpresence/internal/app/presence"
	"hzpresence/internal/pkg/resp"
)

// HandleInstance reports this instance's UID and its locally registered sockets.
func HandleInstance(svc *presence.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		local := svc.LocalSockets()
		resp.RespondSuccess(w, r, map[string]any{
			"instanceUid":  svc.InstanceUID(),
			"localSockets": local,
			"count":        len(local),
		})
	}
}

// HandleInstanceSockets serves socketID -> userName from the shared store, for every
// instance or for the {uid} path parameter.
func HandleInstanceSockets(svc *presence.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		uid := chi.URLParam(r, "uid")

		sockets, err := svc.InstanceSockets(r.Context(), uid)
		if err != nil {
			resp.RespondError(w, r, err)
			return
		}

		resp.RespondSuccess(w, r, map[string]any{
			"instanceUid": uid,
			"sockets":     sockets,
			"count":       len(sockets),
		})
	}
}
