package hub

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/gofiber/websocket/v2"
)

type fakeConn struct {
	mu      sync.Mutex
	written []Message
	closed  bool

	reads chan []byte
}

func newFakeConn() *fakeConn {
	return &fakeConn{reads: make(chan []byte, 8)}
}

func (f *fakeConn) SetReadLimit(int64)                {}
func (f *fakeConn) SetReadDeadline(time.Time) error   { return nil }
func (f *fakeConn) SetWriteDeadline(time.Time) error  { return nil }
func (f *fakeConn) SetPongHandler(func(string) error) {}

func (f *fakeConn) ReadMessage() (int, []byte, error) {
	data, ok := <-f.reads
	if !ok {
		return 0, nil, errors.New("closed")
	}
	return websocket.TextMessage, data, nil
}

func (f *fakeConn) WriteMessage(typ int, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	switch typ {
	case websocket.TextMessage:
		f.written = append(f.written, JSON(data))
	case websocket.BinaryMessage:
		f.written = append(f.written, Bytes(data))
	}
	return nil
}

func (f *fakeConn) Close() error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	return nil
}

func (f *fakeConn) messages() []Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Message(nil), f.written...)
}

func waitUntil(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("condition not met")
}

func startHub(t *testing.T) *Hub {
	t.Helper()
	h := New("test", nil)
	ctx, cancel := context.WithCancel(context.Background())
	go h.Run(ctx)
	t.Cleanup(cancel)
	waitUntil(t, h.IsRunning)
	return h
}

func TestHub_Broadcast(t *testing.T) {
	h := startHub(t)
	conn := newFakeConn()
	c := NewClient(h, conn)
	go c.Run()
	waitUntil(t, func() bool { return h.ClientCount() == 1 })

	if err := h.BroadcastJSON(map[string]int{"n": 1}); err != nil {
		t.Fatal(err)
	}
	h.BroadcastBinary([]byte{0xff, 0xd8})

	waitUntil(t, func() bool { return len(conn.messages()) == 2 })
	got := conn.messages()
	if got[0].Binary || string(got[0].Data) != `{"n":1}` {
		t.Errorf("first message = %+v", got[0])
	}
	if !got[1].Binary {
		t.Error("second message should be binary")
	}

	close(conn.reads)
	waitUntil(t, func() bool { return h.ClientCount() == 0 })
}

func TestHub_Greeting(t *testing.T) {
	h := New("greet", nil)
	h.Greeting = func() (Message, bool) { return JSON([]byte(`"hi"`)), true }
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go h.Run(ctx)

	conn := newFakeConn()
	c := NewClient(h, conn)
	go c.Run()

	waitUntil(t, func() bool { return len(conn.messages()) == 1 })
	if string(conn.messages()[0].Data) != `"hi"` {
		t.Errorf("greeting = %q", conn.messages()[0].Data)
	}
	close(conn.reads)
}

func TestHub_DropsSlowClient(t *testing.T) {
	h := startHub(t)
	// Registered but never pumped, so its queue fills up.
	c := NewClient(h, newFakeConn())

	for i := 0; i < 2*cap(c.send); i++ {
		h.BroadcastBinary([]byte{byte(i)})
		time.Sleep(50 * time.Microsecond)
	}
	waitUntil(t, func() bool { return h.ClientCount() == 0 })
}

func TestHub_OnMessage(t *testing.T) {
	h := startHub(t)
	conn := newFakeConn()
	c := NewClient(h, conn)

	got := make(chan string, 1)
	c.OnMessage = func(data []byte) { got <- string(data) }
	go c.Run()

	conn.reads <- []byte("mute")
	select {
	case s := <-got:
		if s != "mute" {
			t.Errorf("OnMessage got %q", s)
		}
	case <-time.After(time.Second):
		t.Fatal("message not delivered")
	}
	close(conn.reads)
}

func TestHub_StoppedHub(t *testing.T) {
	h := New("stopped", nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		h.Run(ctx)
		close(done)
	}()
	cancel()
	<-done

	c := NewClient(h, newFakeConn())
	if _, ok := <-c.send; ok {
		t.Error("client of a stopped hub should start closed")
	}
}
