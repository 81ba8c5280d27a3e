package gateway

import (
	"log/slog"
	"net/http"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/oklog/ulid/v2"
	"golang.org/x/time/rate"

	"circlefeed/internal/auth"
	"circlefeed/internal/club"
	"circlefeed/internal/models"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// TODO: restrict to the app origins once they are finalized
		return true
	},
}

// commands per second per client, with a small burst for screen mounts that
// fire refresh and deep-link together
const (
	commandRate  = rate.Limit(5)
	commandBurst = 10
)

// ServeWS authenticates an upgrade request, mounts the circle feed, and
// starts the client pumps.
func ServeWS(hub *Hub, verifier *auth.Verifier, w http.ResponseWriter, r *http.Request) {
	token := auth.TokenFromRequest(r)
	if token == "" {
		http.Error(w, "Unauthorized: token required", http.StatusUnauthorized)
		return
	}
	claims, err := verifier.ValidateToken(token)
	if err != nil {
		slog.Warn("[GATEWAY] Token validation failed", "from", r.RemoteAddr, "error", err)
		http.Error(w, "Unauthorized: invalid token", http.StatusUnauthorized)
		return
	}

	circleID := r.URL.Query().Get("circleId")
	if circleID == "" {
		http.Error(w, "circleId required", http.StatusBadRequest)
		return
	}

	syncer, err := hub.manager.Acquire(r.Context(), circleID, claims.Subject, hub)
	if err != nil {
		slog.Error("[GATEWAY] Feed mount failed", "circle", circleID, "user", claims.Subject, "error", err)
		http.Error(w, "could not open the circle feed", http.StatusBadGateway)
		return
	}

	// membership gate: when the backend lists members, only eligible ones may
	// subscribe
	circle := syncer.Circle()
	if len(circle.Members) > 0 && !memberEligible(circle, claims.Subject) {
		hub.manager.Release(circleID)
		http.Error(w, "not an eligible member of this circle", http.StatusForbidden)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("[GATEWAY] Upgrade failed", "circle", circleID, "user", claims.Subject, "error", err)
		hub.manager.Release(circleID)
		return
	}

	client := &Client{
		hub:       hub,
		conn:      conn,
		send:      make(chan []byte, 256),
		circleID:  circleID,
		userID:    claims.Subject,
		memberID:  claims.MemberID,
		sessionID: ulid.Make().String(),
		syncer:    syncer,
		limiter:   rate.NewLimiter(commandRate, commandBurst),
	}
	client.hub.register <- client

	// hand the new subscriber the current feed before live updates flow
	sendInitialPage(client)

	go client.WritePump()
	go client.ReadPump()
}

func memberEligible(circle models.Circle, userID string) bool {
	for _, m := range circle.Members {
		if m.User.ID == userID {
			return club.IsEligibleMember(m)
		}
	}
	return false
}

func sendInitialPage(c *Client) {
	store := c.syncer.Store()
	data, err := json.Marshal(pagePayload{Messages: store.Snapshot(), TotalCount: store.Total()})
	if err != nil {
		return
	}
	c.sendEvent("feed:page", data)
}
