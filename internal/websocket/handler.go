package websocket

import (
	"log/slog"
	"net/http"

	ws "github.com/coder/websocket"

	"github.com/mbecker/billminder/internal/auth"
)

// HandleWebSocket upgrades the connection and runs it as a Hub client
// scoped to the caller's active bill group. The auth middleware runs
// before this handler, so an unauthenticated request never reaches it.
func HandleWebSocket(hub *Hub, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		groupID := auth.GroupID(r.Context())

		conn, err := ws.Accept(w, r, nil)
		if err != nil {
			logger.Warn("websocket accept", "error", err)
			return
		}

		client := NewClient(hub, conn, groupID)
		client.Run(r.Context())
	}
}
