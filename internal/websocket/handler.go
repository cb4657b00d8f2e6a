package websocket

import (
	"log/slog"
	"net/http"

	"github.com/dukerupert/nudge/internal/auth"

	ws "github.com/coder/websocket"
)

// HandleWebSocket upgrades an authenticated request and streams that user's
// diagnostics events until the connection closes.
func HandleWebSocket(hub *Hub, originPatterns []string, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := auth.UserID(r.Context())
		if userID == 0 {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		conn, err := ws.Accept(w, r, &ws.AcceptOptions{
			OriginPatterns: originPatterns,
		})
		if err != nil {
			logger.Warn("websocket accept", "user_id", userID, "error", err)
			return
		}
		defer conn.CloseNow()

		client := NewClient(hub, conn, userID)
		client.Run(r.Context())
	}
}
