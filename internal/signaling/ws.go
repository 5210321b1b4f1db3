package signaling

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"videocall-platform/pkg/logger"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// Origin checking belongs to the edge proxy; the widget is embedded on
	// arbitrary customer sites.
	CheckOrigin: func(r *http.Request) bool { return true },
}

const (
	maxEventBytes = 16 * 1024
	readDeadline  = 90 * time.Second
	writeDeadline = 10 * time.Second
)

// WSHandler upgrades a signaling connection and pumps JSON events into the
// dispatcher, writing one acknowledgement per event. One goroutine per
// connection reads and writes; the dispatcher provides per-call ordering
// across connections.
//
// The handler also owns the transport deadlines: an unanswered ring turns
// into a missed call, and calls live on a dropped connection get a
// reconnection window instead of ending on the spot.
type WSHandler struct {
	Dispatcher *Dispatcher

	// RingTimeout and ReconnectWindow fall back to the package defaults
	// when zero.
	RingTimeout     time.Duration
	ReconnectWindow time.Duration
}

func (h WSHandler) Handle(c *gin.Context) {
	log := logger.FromGin(c)

	if h.Dispatcher == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "dispatcher not configured"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Warn("websocket upgrade failed", "err", err)
		return
	}
	defer conn.Close()

	conn.SetReadLimit(maxEventBytes)
	_ = conn.SetReadDeadline(time.Now().Add(readDeadline))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(readDeadline))
	})

	// Calls carried by this connection. If the connection drops while any of
	// them is live, each gets a reconnection window rather than ending.
	active := make(map[string]struct{})
	defer h.openReconnectWindows(active)

	for {
		var e Event
		if err := conn.ReadJSON(&e); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Debug("signaling connection closed", "err", err)
			}
			return
		}
		// Any frame proves liveness, not just pongs.
		_ = conn.SetReadDeadline(time.Now().Add(readDeadline))

		res := h.Dispatcher.Dispatch(c.Request.Context(), e)
		if res.OK {
			h.trackCall(active, e)
		}

		_ = conn.SetWriteDeadline(time.Now().Add(writeDeadline))
		if err := conn.WriteJSON(res); err != nil {
			if !errors.Is(err, websocket.ErrCloseSent) {
				log.Debug("signaling ack write failed", "err", err)
			}
			return
		}
	}
}

func (h WSHandler) trackCall(active map[string]struct{}, e Event) {
	switch e.Type {
	case EventRing:
		h.Dispatcher.ScheduleMissed(e.RequestID, h.RingTimeout)
	case EventAccept:
		active[e.CallID] = struct{}{}
	case EventHeartbeat:
		// A visitor-side connection learns its call id from heartbeats.
		active[e.CallID] = struct{}{}
	case EventReconnect:
		active[e.NewCallID] = struct{}{}
	case EventEnd:
		delete(active, e.CallID)
	}
}

func (h WSHandler) openReconnectWindows(active map[string]struct{}) {
	for callID := range active {
		recordID, ok := h.Dispatcher.lifecycle.GetCallLogID(callID)
		if !ok {
			continue
		}
		h.Dispatcher.ScheduleReconnectExpiry(recordID, h.ReconnectWindow)
	}
}
