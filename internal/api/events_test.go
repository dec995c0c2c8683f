package api_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/vdrs/dykscribe/pkg/provider/llm"
)

type eventJSON struct {
	Type    string `json:"type"`
	DraftID string `json:"draft_id"`
	State   string `json:"state"`
	From    string `json:"from"`
	To      string `json:"to"`
	Reason  string `json:"reason"`
}

// dialEvents connects to the session's event stream over a live test server.
func dialEvents(t *testing.T, e *env, s sessionJSON) *websocket.Conn {
	t.Helper()
	srv := httptest.NewServer(e.router)
	t.Cleanup(srv.Close)

	addr := "ws" + strings.TrimPrefix(srv.URL, "http") + sessionPath(s, "/events")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, addr, nil)
	if err != nil {
		t.Fatalf("dial events: %v", err)
	}
	t.Cleanup(func() { conn.Close(websocket.StatusNormalClosure, "test done") })
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) eventJSON {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("read event: %v", err)
	}
	var ev eventJSON
	if err := json.Unmarshal(data, &ev); err != nil {
		t.Fatalf("decode event %q: %v", data, err)
	}
	return ev
}

func TestStreamEvents_TypedFlow(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	e.llm.Response = &llm.CompletionResponse{Content: structuredReply}
	s := e.createSession(t)

	conn := dialEvents(t, e, s)

	snap := readEvent(t, conn)
	if snap.Type != "snapshot" || snap.State != "idle" || snap.DraftID != s.Draft.DraftID {
		t.Fatalf("first frame = %+v, want an idle snapshot of the draft", snap)
	}

	rec := e.do(t, http.MethodPatch, sessionPath(s, "/draft"), map[string]any{"typed_qa": typedQA})
	wantStatus(t, rec, http.StatusOK)
	rec = e.do(t, http.MethodPost, sessionPath(s, "/process"), nil)
	wantStatus(t, rec, http.StatusOK)

	wantMoves := []struct{ from, to string }{
		{"idle", "collecting_input"},
		{"collecting_input", "processing"},
		{"processing", "finalized"},
	}
	for _, want := range wantMoves {
		ev := readEvent(t, conn)
		if ev.Type != "transition" || ev.From != want.from || ev.To != want.to {
			t.Fatalf("event = %+v, want transition %s -> %s", ev, want.from, want.to)
		}
		if ev.DraftID != s.Draft.DraftID {
			t.Errorf("transition for draft %q, want %q", ev.DraftID, s.Draft.DraftID)
		}
	}
}

func TestStreamEvents_RollbackCarriesReason(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	e.llm.Err = errors.New("model overloaded")
	s := e.createSession(t)

	conn := dialEvents(t, e, s)
	readEvent(t, conn) // snapshot

	rec := e.do(t, http.MethodPatch, sessionPath(s, "/draft"), map[string]any{"typed_qa": typedQA})
	wantStatus(t, rec, http.StatusOK)
	rec = e.do(t, http.MethodPost, sessionPath(s, "/process"), nil)
	wantStatus(t, rec, http.StatusBadGateway)

	readEvent(t, conn) // idle -> collecting_input
	readEvent(t, conn) // collecting_input -> processing

	rollback := readEvent(t, conn)
	if rollback.To != "collecting_input" {
		t.Fatalf("rollback lands in %q, want collecting_input", rollback.To)
	}
	if rollback.Reason == "" {
		t.Error("rollback frame carries no reason")
	}
}

func TestStreamEvents_SessionRemoval(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	s := e.createSession(t)

	conn := dialEvents(t, e, s)
	readEvent(t, conn) // snapshot

	rec := e.do(t, http.MethodDelete, sessionPath(s, ""), nil)
	wantStatus(t, rec, http.StatusNoContent)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if _, _, err := conn.Read(ctx); err == nil {
		t.Fatal("stream stayed open after the session was removed")
	}
}

func TestStreamEvents_UnknownSession(t *testing.T) {
	t.Parallel()
	e := newEnv(t)

	srv := httptest.NewServer(e.router)
	t.Cleanup(srv.Close)

	addr := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/sessions/missing/events"
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if _, _, err := websocket.Dial(ctx, addr, nil); err == nil {
		t.Fatal("dial succeeded for an unknown session")
	}
}
