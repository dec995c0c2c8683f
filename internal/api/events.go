package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/gin-gonic/gin"

	"github.com/vdrs/dykscribe/internal/observe"
)

// eventWriteTimeout bounds one websocket frame write.
const eventWriteTimeout = 5 * time.Second

// sessionEvent is one frame on the session event stream. The first frame is
// always a snapshot of the current draft state; every state change afterwards
// arrives as a transition frame.
type sessionEvent struct {
	Type    string    `json:"type"`
	DraftID string    `json:"draft_id"`
	State   string    `json:"state,omitempty"`
	From    string    `json:"from,omitempty"`
	To      string    `json:"to,omitempty"`
	Reason  string    `json:"reason,omitempty"`
	At      time.Time `json:"at"`
}

// streamEvents upgrades the request to a WebSocket and pushes draft state
// changes for one session. Consumers that fall behind miss events instead of
// stalling the pipeline; the opening snapshot lets a reconnecting client
// resynchronize.
func (s *Server) streamEvents(c *gin.Context) {
	sess, ok := s.lookupSession(c)
	if !ok {
		return
	}

	events := sess.subscribe()
	if events == nil {
		respondError(c, http.StatusNotFound, "session_not_found",
			"session not found; it may have expired", nil)
		return
	}

	// The API carries no browser credentials, so cross-origin dashboards may
	// connect directly.
	conn, err := websocket.Accept(c.Writer, c.Request, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		sess.unsubscribe(events)
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "stream closed")
	defer sess.unsubscribe(events)

	ctx := c.Request.Context()
	observe.Logger(ctx).Debug("event stream opened", "session_id", sess.ID)

	sess.mu.Lock()
	snapshot := sessionEvent{
		Type:    "snapshot",
		DraftID: sess.draft.ID(),
		State:   sess.draft.State().String(),
		At:      time.Now().UTC(),
	}
	sess.mu.Unlock()
	if err := writeEvent(ctx, conn, snapshot); err != nil {
		return
	}

	// CloseRead keeps control frames flowing and cancels when the peer hangs
	// up.
	readCtx := conn.CloseRead(ctx)
	for {
		select {
		case <-readCtx.Done():
			return
		case t, open := <-events:
			if !open {
				// Session removed; tell the client before closing.
				conn.Close(websocket.StatusNormalClosure, "session closed")
				return
			}
			ev := sessionEvent{
				Type:    "transition",
				DraftID: t.DraftID,
				From:    t.From.String(),
				To:      t.To.String(),
				Reason:  t.Reason,
				At:      t.At,
			}
			if err := writeEvent(ctx, conn, ev); err != nil {
				return
			}
		}
	}
}

func writeEvent(ctx context.Context, conn *websocket.Conn, ev sessionEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	wctx, cancel := context.WithTimeout(ctx, eventWriteTimeout)
	defer cancel()
	return conn.Write(wctx, websocket.MessageText, data)
}
