package realtime

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func TestSendToUser(t *testing.T) {
	hub := NewHub()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hub.Serve(w, r, r.URL.Query().Get("user"))
	}))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/?user=user-1"
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer ws.Close()

	deadline := time.Now().Add(2 * time.Second)
	for hub.Count("user-1") == 0 {
		if time.Now().After(deadline) {
			t.Fatal("client never registered")
		}
		time.Sleep(10 * time.Millisecond)
	}

	if hub.SendToUser("user-2", map[string]string{"x": "y"}) {
		t.Error("delivered to a user without connections")
	}
	if !hub.SendToUser("user-1", map[string]string{"kind": "reminder"}) {
		t.Fatal("not delivered")
	}

	_ = ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	var got map[string]string
	if err := ws.ReadJSON(&got); err != nil {
		t.Fatal(err)
	}
	if got["kind"] != "reminder" {
		t.Errorf("got %v", got)
	}

	ws.Close()
	deadline = time.Now().Add(2 * time.Second)
	for hub.Count("user-1") != 0 {
		if time.Now().After(deadline) {
			t.Fatal("closed client still registered")
		}
		time.Sleep(10 * time.Millisecond)
	}
}
