package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"storefront/internal/app/notify"
	"storefront/internal/domain/user"
)

type staticMembership map[string][]user.ID

func (m staticMembership) IsParticipant(_ context.Context, conversationID string, userID user.ID) (bool, error) {
	for _, id := range m[conversationID] {
		if id == userID {
			return true, nil
		}
	}
	return false, nil
}

func newTestServer(t *testing.T, membership Membership) (*Hub, *httptest.Server) {
	t.Helper()
	hub := NewHub(nil)
	srv := NewServer(hub, membership, nil, ServerConfig{})
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		srv.Serve(w, r, user.ID(q.Get("user")), user.Role(q.Get("role")))
	}))
	t.Cleanup(func() {
		hub.Close()
		ts.Close()
	})
	return hub, ts
}

func dial(t *testing.T, ts *httptest.Server, userID string, role user.Role) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/?user=" + userID + "&role=" + string(role)
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = ws.Close() })
	if frame := readFrame(t, ws); frame.Type != "connected" {
		t.Fatalf("expected connected frame, got %+v", frame)
	}
	return ws
}

func readFrame(t *testing.T, ws *websocket.Conn) Frame {
	t.Helper()
	_ = ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	var frame Frame
	if err := ws.ReadJSON(&frame); err != nil {
		t.Fatalf("read frame: %v", err)
	}
	return frame
}

func TestHubDeliversToUserRoom(t *testing.T) {
	hub, ts := newTestServer(t, nil)
	alice := dial(t, ts, "alice", user.RoleCustomer)
	dial(t, ts, "bob", user.RoleCustomer)

	if got := hub.Members(notify.UserChannel("alice")); got != 1 {
		t.Fatalf("expected alice in her room, got %d members", got)
	}
	event := notify.Event{
		ID:             "e1",
		Type:           notify.MessageCreated,
		ConversationID: "c1",
		Recipients:     []user.ID{"alice"},
		Payload:        json.RawMessage(`{"content":"hi"}`),
	}
	if err := hub.Publish(context.Background(), event); err != nil {
		t.Fatalf("publish: %v", err)
	}
	frame := readFrame(t, alice)
	if frame.Type != "event" || frame.Channel != notify.UserChannel("alice") {
		t.Fatalf("unexpected frame %+v", frame)
	}
	if frame.Event == nil || frame.Event.ID != "e1" {
		t.Fatalf("unexpected event %+v", frame.Event)
	}
}

func TestHubRoleRoom(t *testing.T) {
	hub, ts := newTestServer(t, nil)
	admin := dial(t, ts, "admin", user.RoleAdmin)

	if got := hub.Deliver(notify.RoleChannel(user.RoleAdmin), notify.Event{ID: "e1", Type: notify.ConversationCreated, ConversationID: "c1"}); got != 1 {
		t.Fatalf("expected one delivery, got %d", got)
	}
	if frame := readFrame(t, admin); frame.Channel != "role:ADMIN" {
		t.Fatalf("unexpected frame %+v", frame)
	}
}

func TestSubscribeRequiresMembership(t *testing.T) {
	hub, ts := newTestServer(t, staticMembership{"c1": {"alice", "admin"}})
	alice := dial(t, ts, "alice", user.RoleCustomer)
	rick := dial(t, ts, "rick", user.RoleRider)

	if err := rick.WriteJSON(map[string]string{"type": "subscribe", "conversation_id": "c1"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if frame := readFrame(t, rick); frame.Type != "error" || frame.Code != "forbidden" {
		t.Fatalf("expected forbidden, got %+v", frame)
	}

	if err := alice.WriteJSON(map[string]string{"type": "subscribe", "conversation_id": "c1"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if frame := readFrame(t, alice); frame.Type != "subscribed" || frame.ConversationID != "c1" {
		t.Fatalf("expected subscribed, got %+v", frame)
	}
	if got := hub.Members(notify.ConversationChannel("c1")); got != 1 {
		t.Fatalf("expected one room member, got %d", got)
	}

	if err := alice.WriteJSON(map[string]string{"type": "unsubscribe", "conversation_id": "c1"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if frame := readFrame(t, alice); frame.Type != "unsubscribed" {
		t.Fatalf("expected unsubscribed, got %+v", frame)
	}
	if got := hub.Members(notify.ConversationChannel("c1")); got != 0 {
		t.Fatalf("expected an empty room, got %d", got)
	}
}

func TestServerAnswersPingAndRejectsGarbage(t *testing.T) {
	_, ts := newTestServer(t, nil)
	ws := dial(t, ts, "alice", user.RoleCustomer)

	if err := ws.WriteMessage(websocket.TextMessage, []byte("{not json")); err != nil {
		t.Fatalf("write: %v", err)
	}
	if frame := readFrame(t, ws); frame.Code != "bad_request" {
		t.Fatalf("expected bad_request, got %+v", frame)
	}
	if err := ws.WriteJSON(map[string]string{"type": "ping"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if frame := readFrame(t, ws); frame.Type != "pong" {
		t.Fatalf("expected pong, got %+v", frame)
	}
	if err := ws.WriteJSON(map[string]string{"type": "dance"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if frame := readFrame(t, ws); frame.Code != "unsupported_type" {
		t.Fatalf("expected unsupported_type, got %+v", frame)
	}
}

func TestDisconnectLeavesRooms(t *testing.T) {
	hub, ts := newTestServer(t, nil)
	ws := dial(t, ts, "alice", user.RoleCustomer)
	_ = ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"))
	_ = ws.Close()

	deadline := time.Now().Add(2 * time.Second)
	for hub.Members(notify.UserChannel("alice")) != 0 {
		if time.Now().After(deadline) {
			t.Fatal("connection was not detached")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestPublishRejectsInvalidEvents(t *testing.T) {
	hub := NewHub(nil)
	if err := hub.Publish(context.Background(), notify.Event{Type: notify.MessageCreated}); err == nil {
		t.Fatal("expected a validation error")
	}
}
