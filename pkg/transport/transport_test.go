package transport

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func TestPipeOrderAndCloseAfterData(t *testing.T) {
	a, b := Pipe()

	for _, msg := range []string{"one", "two", "three"} {
		if err := a.WriteMessage([]byte(msg)); err != nil {
			t.Fatalf("WriteMessage() error = %v", err)
		}
	}
	a.Close()

	for _, want := range []string{"one", "two", "three"} {
		got, err := b.ReadMessage()
		if err != nil {
			t.Fatalf("ReadMessage() error = %v", err)
		}
		if string(got) != want {
			t.Fatalf("ReadMessage() = %q, want %q", got, want)
		}
	}
	if _, err := b.ReadMessage(); !errors.Is(err, ErrClosed) {
		t.Fatalf("ReadMessage() after close error = %v, want ErrClosed", err)
	}
	if err := b.WriteMessage([]byte("late")); !errors.Is(err, ErrClosed) {
		t.Fatalf("WriteMessage() after peer close error = %v, want ErrClosed", err)
	}
	if err := a.WriteMessage([]byte("late")); !errors.Is(err, ErrClosed) {
		t.Fatalf("WriteMessage() after Close error = %v, want ErrClosed", err)
	}
}

func TestPipeWriteCopiesData(t *testing.T) {
	a, b := Pipe()
	buf := []byte("abc")
	a.WriteMessage(buf)
	buf[0] = 'X'

	got, _ := b.ReadMessage()
	if string(got) != "abc" {
		t.Fatalf("ReadMessage() = %q, want abc", got)
	}
}

func TestPipePingPong(t *testing.T) {
	a, b := Pipe()

	pongs := make(chan []byte, 1)
	a.SetPongHandler(func(p []byte) { pongs <- p })

	// b answers pings while reading.
	go func() {
		for {
			if _, err := b.ReadMessage(); err != nil {
				return
			}
		}
	}()
	// a must be reading to see pongs.
	go func() {
		for {
			if _, err := a.ReadMessage(); err != nil {
				return
			}
		}
	}()

	if err := a.Ping([]byte{1, 2, 3}); err != nil {
		t.Fatalf("Ping() error = %v", err)
	}
	select {
	case p := <-pongs:
		if !bytes.Equal(p, []byte{1, 2, 3}) {
			t.Fatalf("pong payload = %v", p)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("no pong received")
	}

	b.SetAutoPong(false)
	a.Ping([]byte{4})
	select {
	case p := <-pongs:
		t.Fatalf("unexpected pong %v with auto-pong disabled", p)
	case <-time.After(50 * time.Millisecond):
	}
	a.Close()
}

func TestPipeReadDeadline(t *testing.T) {
	a, _ := Pipe()
	a.SetReadDeadline(time.Now().Add(20 * time.Millisecond))

	start := time.Now()
	_, err := a.ReadMessage()
	if !errors.Is(err, os.ErrDeadlineExceeded) {
		t.Fatalf("ReadMessage() error = %v, want deadline exceeded", err)
	}
	if time.Since(start) < 15*time.Millisecond {
		t.Fatalf("ReadMessage() returned before the deadline")
	}
}

func TestPipeDialer(t *testing.T) {
	accepted := make(chan Conn, 1)
	d := &PipeDialer{Accept: func(c Conn) { accepted <- c }}

	c, err := d.Dial(context.Background(), "pipe://", nil)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	srv := <-accepted
	c.WriteMessage([]byte("hi"))
	if got, _ := srv.ReadMessage(); string(got) != "hi" {
		t.Fatalf("server read %q, want hi", got)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := d.Dial(ctx, "pipe://", nil); err == nil {
		t.Fatalf("Dial() with cancelled context error = nil")
	}
}

func wsURL(s *httptest.Server) string {
	return "ws" + strings.TrimPrefix(s.URL, "http")
}

func TestWebSocketAdapterRoundTrip(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		c := NewWebSocketConn(raw, time.Second)
		defer c.Close()
		for {
			data, err := c.ReadMessage()
			if errors.Is(err, ErrTextMessage) {
				c.WriteMessage([]byte("text rejected"))
				continue
			}
			if err != nil {
				return
			}
			c.WriteMessage(append([]byte("echo:"), data...))
		}
	}))
	t.Cleanup(srv.Close)

	d := &WebSocketDialer{WriteTimeout: time.Second, ReadLimit: 1 << 20}
	conn, err := d.Dial(context.Background(), wsURL(srv), nil)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	if err := conn.WriteMessage([]byte("ping")); err != nil {
		t.Fatalf("WriteMessage() error = %v", err)
	}
	got, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage() error = %v", err)
	}
	if string(got) != "echo:ping" {
		t.Fatalf("ReadMessage() = %q, want echo:ping", got)
	}

	// Text frames are rejected without closing the connection.
	ws := conn.(*WebSocketConn).Underlying()
	ws.WriteMessage(websocket.TextMessage, []byte("hello"))
	if got, _ := conn.ReadMessage(); string(got) != "text rejected" {
		t.Fatalf("ReadMessage() = %q, want text rejected", got)
	}
}

func TestWebSocketPingPong(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		c := NewWebSocketConn(raw, time.Second)
		defer c.Close()
		// Default ping handler answers while reading.
		for {
			if _, err := c.ReadMessage(); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)

	conn, err := (&WebSocketDialer{}).Dial(context.Background(), wsURL(srv), nil)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer conn.Close()

	pongs := make(chan string, 1)
	conn.SetPongHandler(func(p []byte) { pongs <- string(p) })
	go func() {
		for {
			if _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	if err := conn.Ping([]byte("t0")); err != nil {
		t.Fatalf("Ping() error = %v", err)
	}
	select {
	case p := <-pongs:
		if p != "t0" {
			t.Fatalf("pong = %q, want t0", p)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("no pong received")
	}
}

func TestIsExpectedClose(t *testing.T) {
	if !IsExpectedClose(ErrClosed) {
		t.Fatalf("IsExpectedClose(ErrClosed) = false")
	}
	if !IsExpectedClose(&websocket.CloseError{Code: websocket.CloseGoingAway}) {
		t.Fatalf("IsExpectedClose(going away) = false")
	}
	if IsExpectedClose(&websocket.CloseError{Code: websocket.CloseAbnormalClosure}) {
		t.Fatalf("IsExpectedClose(abnormal) = true")
	}
}
