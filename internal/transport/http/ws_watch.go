package http

import (
	"net/http"

	"github.com/gorilla/websocket"

	"challenge-service/internal/domain"
)

var watchUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// handleWatch upgrades the request to a websocket and streams hearts/progress
// updates for the caller's own session until it terminates or the client
// disconnects. The persisted record stays authoritative; this is a mirror.
func (h *Handler) handleWatch(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.authenticated(w, r)
	if !ok {
		return
	}

	updates, cancel, err := h.service.Watch(r.Context(), r.PathValue("id"), userID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	defer cancel()

	conn, err := watchUpgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.WithError(err).Warn("watch upgrade failed")
		return
	}
	defer conn.Close()

	// Reads only detect the client going away; watchers never send payloads.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case update, ok := <-updates:
			if !ok {
				return
			}
			if err := conn.WriteJSON(update); err != nil {
				return
			}
			if update.Status != domain.StatusActive {
				return
			}
		case <-closed:
			return
		}
	}
}
