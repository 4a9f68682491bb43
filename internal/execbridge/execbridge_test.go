package execbridge

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/jordanhubbard/portway/internal/containers"
)

func TestStripANSI(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"\x1b[31mred\x1b[0m", "red"},
		{"plain", "plain"},
		{"\x1b[1;32mbold green\x1b[0m done", "bold green done"},
	}
	for _, tt := range tests {
		if got := string(ansiEscape.ReplaceAll([]byte(tt.in), nil)); got != tt.want {
			t.Errorf("strip(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestServe_EchoesInputToOutput(t *testing.T) {
	driver := containers.NewFake()
	b := New(driver)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b.Serve(w, r, "acme-api")
	}))
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	if err := conn.WriteJSON(inbound{Message: "echo hi"}); err != nil {
		t.Fatalf("WriteJSON: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	found := false
	for i := 0; i < 5; i++ {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		if msgType == websocket.TextMessage && strings.Contains(string(data), "echo hi") {
			found = true
			break
		}
	}
	if !found {
		t.Error("expected the echoed command to come back over the websocket")
	}
}
