package httpapi

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"chatd/pkg/types"
)

func dialWS(t *testing.T, srv *httptest.Server, path string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + path
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", url, err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) types.Frame {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var f types.Frame
	if err := conn.ReadJSON(&f); err != nil {
		t.Fatalf("read frame: %v", err)
	}
	return f
}

func sendFrame(t *testing.T, conn *websocket.Conn, f types.Frame) {
	t.Helper()
	if err := conn.WriteJSON(f); err != nil {
		t.Fatalf("write frame: %v", err)
	}
}

func TestWebSocketChat(t *testing.T) {
	svc := &mockService{tokens: []string{"Hi ", "there", "!"}}
	srv := httptest.NewServer(NewMux(svc))
	defer srv.Close()

	conn := dialWS(t, srv, "/ws/chat/client-1")
	data, _ := json.Marshal(types.MessageData{Message: "hello"})
	sendFrame(t, conn, types.Frame{Type: types.FrameMessage, Data: data})

	if f := readFrame(t, conn); f.Type != types.FrameStart {
		t.Fatalf("expected start, got %s", f.Type)
	}
	var text strings.Builder
	for {
		f := readFrame(t, conn)
		if f.Type == types.FrameToken {
			var d types.TokenData
			if err := json.Unmarshal(f.Data, &d); err != nil {
				t.Fatalf("decode token: %v", err)
			}
			text.WriteString(d.Token)
			continue
		}
		if f.Type != types.FrameComplete {
			t.Fatalf("expected complete terminal, got %s", f.Type)
		}
		var d types.CompleteData
		if err := json.Unmarshal(f.Data, &d); err != nil {
			t.Fatalf("decode complete: %v", err)
		}
		if d.TotalTokens != 3 {
			t.Fatalf("expected 3 tokens, got %d", d.TotalTokens)
		}
		break
	}
	if text.String() != "Hi there!" {
		t.Fatalf("token concatenation mismatch: %q", text.String())
	}
}

func TestWebSocketPingPong(t *testing.T) {
	srv := httptest.NewServer(NewMux(&mockService{}))
	defer srv.Close()

	conn := dialWS(t, srv, "/ws/chat/client-1")
	sendFrame(t, conn, types.Frame{Type: types.FramePing})
	if f := readFrame(t, conn); f.Type != types.FramePong {
		t.Fatalf("expected pong, got %s", f.Type)
	}
}

func TestWebSocketCancel(t *testing.T) {
	svc := &mockService{tokens: make([]string, 10000), delay: time.Millisecond}
	for i := range svc.tokens {
		svc.tokens[i] = "x"
	}
	srv := httptest.NewServer(NewMux(svc))
	defer srv.Close()

	conn := dialWS(t, srv, "/ws/chat/client-1")
	data, _ := json.Marshal(types.MessageData{Message: "long"})
	sendFrame(t, conn, types.Frame{Type: types.FrameMessage, Data: data})
	if f := readFrame(t, conn); f.Type != types.FrameStart {
		t.Fatalf("expected start, got %s", f.Type)
	}
	sendFrame(t, conn, types.Frame{Type: types.FrameCancel})

	for {
		f := readFrame(t, conn)
		if f.Type == types.FrameToken {
			continue
		}
		if f.Type != types.FrameError {
			t.Fatalf("expected error terminal, got %s", f.Type)
		}
		var d types.ErrorData
		if err := json.Unmarshal(f.Data, &d); err != nil {
			t.Fatalf("decode error: %v", err)
		}
		if d.Kind != types.ErrKindCancelled {
			t.Fatalf("expected cancelled, got %q", d.Kind)
		}
		return
	}
}

func TestWebSocketMalformedFrameKeepsConnection(t *testing.T) {
	srv := httptest.NewServer(NewMux(&mockService{}))
	defer srv.Close()

	conn := dialWS(t, srv, "/ws/chat/client-1")
	if err := conn.WriteMessage(websocket.TextMessage, []byte("{not json")); err != nil {
		t.Fatalf("write: %v", err)
	}
	if f := readFrame(t, conn); f.Type != types.FrameError {
		t.Fatalf("expected error frame, got %s", f.Type)
	}
	// Still usable.
	sendFrame(t, conn, types.Frame{Type: types.FramePing})
	if f := readFrame(t, conn); f.Type != types.FramePong {
		t.Fatalf("expected pong after malformed frame, got %s", f.Type)
	}
}

func TestWebSocketWithoutClientID(t *testing.T) {
	srv := httptest.NewServer(NewMux(&mockService{}))
	defer srv.Close()

	conn := dialWS(t, srv, "/ws/chat")
	sendFrame(t, conn, types.Frame{Type: types.FramePing})
	if f := readFrame(t, conn); f.Type != types.FramePong {
		t.Fatalf("expected pong, got %s", f.Type)
	}
}
