package handlers

import (
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"

	"pledgesite/api/feed"
	"pledgesite/api/logging"
	"pledgesite/api/metrics"
	"pledgesite/api/models"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4 * 1024
	sseKeepAlive   = 30 * time.Second
)

// FeedMessage is one frame of a live feed.
type FeedMessage struct {
	Type string `json:"type"`
	Feed string `json:"feed"`
	Data any    `json:"data,omitempty"`
}

// FeedHandlers stream live feeds over SSE or websocket. The subscription is
// cancelled as soon as the client goes away.
type FeedHandlers struct {
	Hub      *feed.Hub
	Upgrader websocket.Upgrader
}

func NewFeedHandlers(hub *feed.Hub, allowedOrigin string) *FeedHandlers {
	return &FeedHandlers{
		Hub: hub,
		Upgrader: websocket.Upgrader{
			ReadBufferSize:   1024,
			WriteBufferSize:  1024,
			HandshakeTimeout: 10 * time.Second,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				return origin == "" || allowedOrigin == "" || origin == allowedOrigin
			},
		},
	}
}

// latest keeps only the newest undelivered message.
type latest chan FeedMessage

func (l latest) put(m FeedMessage) {
	select {
	case <-l:
	default:
	}
	select {
	case l <- m:
	default:
	}
}

// subscribe opens the named feed. ok is false for unknown feeds.
func (h *FeedHandlers) subscribe(name, buttonID string, out latest) (cancel feed.CancelFunc, ok bool) {
	emit := func(v any) { out.put(FeedMessage{Type: "snapshot", Feed: name, Data: v}) }
	onError := func(error) {
		out.put(FeedMessage{Type: "error", Feed: name, Data: gin.H{"error": "feed unavailable"}})
	}

	switch name {
	case "comments":
		return h.Hub.Comments(func(v []models.Comment) { emit(v) }, onError), true
	case "sponsors":
		return h.Hub.Sponsors(func(v []models.Sponsor) { emit(v) }, onError), true
	case "visitor-stats":
		return h.Hub.VisitorStats(func(v models.VisitorStats) { emit(v) }, onError), true
	case "search-stats":
		return h.Hub.SearchStats(func(v models.SearchVisitorStats) { emit(v) }, onError), true
	case "funnel-stats":
		return h.Hub.FunnelStats(func(v models.FunnelStats) { emit(v) }, onError), true
	case "sponsor-stats":
		return h.Hub.SponsorStats(func(v models.SponsorStats) { emit(v) }, onError), true
	case "section-stats":
		return h.Hub.SectionStats(func(v []models.SectionStats) { emit(v) }, onError), true
	case "buttons":
		if buttonID == "" {
			return nil, false
		}
		return h.Hub.ButtonStats(buttonID, func(v *models.ButtonStats) { emit(v) }, onError), true
	}
	return nil, false
}

// Stream serves a feed as server-sent events.
func (h *FeedHandlers) Stream(c *gin.Context) {
	name := c.Param("feed")
	out := make(latest, 1)
	cancel, ok := h.subscribe(name, c.Query("button"), out)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown feed"})
		return
	}
	defer cancel()

	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	keepAlive := time.NewTicker(sseKeepAlive)
	defer keepAlive.Stop()

	c.Stream(func(io.Writer) bool {
		select {
		case <-c.Request.Context().Done():
			return false
		case m := <-out:
			c.SSEvent(m.Type, m.Data)
			return true
		case <-keepAlive.C:
			c.SSEvent("ping", time.Now().UTC().Format(time.RFC3339))
			return true
		}
	})
}

// WebSocket serves a feed over a websocket connection.
func (h *FeedHandlers) WebSocket(c *gin.Context) {
	name := c.Param("feed")
	buttonID := c.Query("button")
	if name == "buttons" && buttonID == "" {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown feed"})
		return
	}

	conn, err := h.Upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logging.Warn().Err(err).Str("feed", name).Msg("websocket upgrade failed")
		return
	}
	defer conn.Close()

	out := make(latest, 1)
	cancel, ok := h.subscribe(name, buttonID, out)
	if !ok {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "unknown feed"), time.Now().Add(writeWait))
		return
	}
	defer cancel()

	metrics.WSConnections.Inc()
	defer metrics.WSConnections.Dec()

	closed := make(chan struct{})
	go readPump(conn, closed)
	writePump(conn, out, closed)
}

// readPump discards client messages and closes done when the peer goes away.
func readPump(conn *websocket.Conn, done chan<- struct{}) {
	defer close(done)
	conn.SetReadLimit(maxMessageSize)
	if err := conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		return
	}
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				logging.Warn().Err(err).Msg("unexpected websocket close")
			}
			return
		}
	}
}

func writePump(conn *websocket.Conn, out latest, closed <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-closed:
			return
		case m := <-out:
			payload, err := json.Marshal(m)
			if err != nil {
				logging.Error().Err(err).Str("feed", m.Feed).Msg("failed to encode feed message")
				continue
			}
			if err := conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ticker.C:
			if err := conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
