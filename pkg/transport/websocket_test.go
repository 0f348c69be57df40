package transport

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"google.golang.org/genai"

	"github.com/teslashibe/go-live/pkg/setup"
)

// fakeServer is a scripted live endpoint.
type fakeServer struct {
	t       *testing.T
	srv     *httptest.Server
	headers chan http.Header
	frames  chan map[string]any
	conns   chan *websocket.Conn
	ack     bool
}

func newFakeServer(t *testing.T, ack bool) *fakeServer {
	f := &fakeServer{
		t:       t,
		headers: make(chan http.Header, 1),
		frames:  make(chan map[string]any, 16),
		conns:   make(chan *websocket.Conn, 1),
		ack:     ack,
	}
	upgrader := websocket.Upgrader{}
	f.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.headers <- r.Header.Clone()
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		f.conns <- conn
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var frame map[string]any
			json.Unmarshal(data, &frame)
			f.frames <- frame
			if _, ok := frame["setup"]; ok && f.ack {
				conn.WriteMessage(websocket.BinaryMessage, []byte(`{"setupComplete":{}}`))
			}
		}
	}))
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeServer) url() string {
	return "ws" + strings.TrimPrefix(f.srv.URL, "http")
}

func (f *fakeServer) next() map[string]any {
	f.t.Helper()
	select {
	case fr := <-f.frames:
		return fr
	case <-time.After(2 * time.Second):
		f.t.Fatal("no frame received")
		return nil
	}
}

type events struct {
	open   chan struct{}
	msgs   chan *genai.LiveServerMessage
	errs   chan error
	closes chan CloseInfo
}

func newEvents() *events {
	return &events{
		open:   make(chan struct{}, 1),
		msgs:   make(chan *genai.LiveServerMessage, 8),
		errs:   make(chan error, 1),
		closes: make(chan CloseInfo, 1),
	}
}

func (e *events) callbacks() Callbacks {
	return Callbacks{
		OnOpen:    func() { e.open <- struct{}{} },
		OnMessage: func(m *genai.LiveServerMessage) { e.msgs <- m },
		OnError:   func(err error) { e.errs <- err },
		OnClose:   func(c CloseInfo) { e.closes <- c },
	}
}

func TestWebSocket_SetupHandshake(t *testing.T) {
	srv := newFakeServer(t, true)
	ev := newEvents()
	ws := NewWebSocket(nil)

	cfg := setup.Build(setup.DefaultSettings(), nil, "resume-me")
	h, err := ws.Open(context.Background(), Endpoint{URL: srv.url(), APIKey: "k1"}, cfg, ev.callbacks())
	if err != nil {
		t.Fatal(err)
	}
	defer h.Close()

	hdr := <-srv.headers
	if hdr.Get("x-goog-api-key") != "k1" {
		t.Errorf("api key header = %q", hdr.Get("x-goog-api-key"))
	}

	frame := srv.next()
	s, ok := frame["setup"].(map[string]any)
	if !ok {
		t.Fatalf("first frame is not setup: %v", frame)
	}
	if res := s["sessionResumption"].(map[string]any); res["handle"] != "resume-me" {
		t.Errorf("handle = %v", res["handle"])
	}

	select {
	case <-ev.open:
	case <-time.After(2 * time.Second):
		t.Fatal("OnOpen not called after setupComplete")
	}
}

func TestWebSocket_MessagesAndClose(t *testing.T) {
	srv := newFakeServer(t, true)
	ev := newEvents()

	h, err := NewWebSocket(nil).Open(context.Background(), Endpoint{URL: srv.url()}, setup.Build(setup.Settings{}, nil, ""), ev.callbacks())
	if err != nil {
		t.Fatal(err)
	}
	defer h.Close()
	<-ev.open
	conn := <-srv.conns

	conn.WriteMessage(websocket.TextMessage, []byte(`{"serverContent":{"turnComplete":true}}`))
	select {
	case m := <-ev.msgs:
		if m.ServerContent == nil || !m.ServerContent.TurnComplete {
			t.Errorf("unexpected message: %+v", m)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no message delivered")
	}

	if err := h.Send(TextMessage("hello")); err != nil {
		t.Fatal(err)
	}
	srv.next() // setup
	frame := srv.next()
	if _, ok := frame["clientContent"]; !ok {
		t.Errorf("frame = %v, want clientContent", frame)
	}

	conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(1011, "internal"))
	select {
	case info := <-ev.closes:
		if info.Code != 1011 || info.Reason != "internal" {
			t.Errorf("close info = %+v", info)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("OnClose not called")
	}
}

func TestWebSocket_SetupTimeout(t *testing.T) {
	srv := newFakeServer(t, false)
	ev := newEvents()
	ws := NewWebSocket(nil)
	ws.SetupTimeout = 50 * time.Millisecond

	h, err := ws.Open(context.Background(), Endpoint{URL: srv.url()}, setup.Build(setup.Settings{}, nil, ""), ev.callbacks())
	if err != nil {
		t.Fatal(err)
	}
	defer h.Close()

	select {
	case err := <-ev.errs:
		if !errors.Is(err, ErrSetupTimeout) {
			t.Errorf("error = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no setup timeout")
	}
	select {
	case <-ev.closes:
		t.Error("only one terminal callback may fire")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestWebSocket_DialFailure(t *testing.T) {
	_, err := NewWebSocket(nil).Open(context.Background(), Endpoint{URL: "ws://127.0.0.1:1"}, setup.Config{}, Callbacks{})
	if err == nil {
		t.Fatal("expected dial error")
	}
}

func TestWebSocket_NoCallbacksAfterClose(t *testing.T) {
	srv := newFakeServer(t, true)
	ev := newEvents()

	h, err := NewWebSocket(nil).Open(context.Background(), Endpoint{URL: srv.url()}, setup.Build(setup.Settings{}, nil, ""), ev.callbacks())
	if err != nil {
		t.Fatal(err)
	}
	<-ev.open
	h.Close()

	if err := h.Send(TextMessage("late")); !errors.Is(err, ErrClosed) {
		t.Errorf("Send after Close = %v", err)
	}
	select {
	case <-ev.errs:
		t.Error("OnError fired after local Close")
	case <-ev.closes:
		t.Error("OnClose fired after local Close")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestEndpoint_RequestHeader(t *testing.T) {
	ep := Endpoint{Bearer: "tok", Header: http.Header{"X-Extra": {"1"}}}
	h := ep.RequestHeader()
	if h.Get("Authorization") != "Bearer tok" {
		t.Errorf("Authorization = %q", h.Get("Authorization"))
	}
	if h.Get("X-Extra") != "1" {
		t.Error("extra headers should be copied")
	}
	if h.Get("x-goog-api-key") != "" {
		t.Error("no api key expected")
	}
}

func TestMessage_Kind(t *testing.T) {
	tests := []struct {
		msg  Message
		want string
	}{
		{AudioMessage([]byte{0, 0}, "audio/pcm;rate=16000"), "audio"},
		{VideoMessage([]byte{0xff}), "video"},
		{TextMessage("hi"), "text"},
		{ToolResponseMessage(&genai.FunctionResponse{ID: "1"}), "tool_response"},
		{Message{}, "empty"},
	}
	for _, tt := range tests {
		if got := tt.msg.Kind(); got != tt.want {
			t.Errorf("Kind() = %q, want %q", got, tt.want)
		}
	}
}

func TestAudioMessage_WireShape(t *testing.T) {
	data, err := json.Marshal(AudioMessage([]byte{1, 2}, "audio/pcm;rate=16000"))
	if err != nil {
		t.Fatal(err)
	}
	var frame map[string]map[string]map[string]any
	json.Unmarshal(data, &frame)
	audio := frame["realtimeInput"]["audio"]
	if audio["mimeType"] != "audio/pcm;rate=16000" || audio["data"] != "AQI=" {
		t.Errorf("wire = %s", data)
	}
}
