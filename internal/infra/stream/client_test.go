package stream

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"venue_sync/internal/engine"
	"venue_sync/internal/event"
	"venue_sync/internal/infra"

	"github.com/gorilla/websocket"
)

type staticToken string

func (s staticToken) Token() string { return string(s) }

// venueServer is a websocket endpoint that hands each accepted connection to the test.
type venueServer struct {
	*httptest.Server
	conns    chan *websocket.Conn
	auth     chan string
	received chan []byte
}

func newVenueServer(t *testing.T) *venueServer {
	t.Helper()
	vs := newVenueHandler()
	vs.Server.Start()
	t.Cleanup(vs.Close)
	return vs
}

// newVenueServerAt starts the endpoint on a fixed address, for clients that
// were dialing it before it existed.
func newVenueServerAt(t *testing.T, addr string) *venueServer {
	t.Helper()
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		t.Fatalf("listen %s: %v", addr, err)
	}
	vs := newVenueHandler()
	vs.Server.Listener.Close()
	vs.Server.Listener = ln
	vs.Server.Start()
	t.Cleanup(vs.Close)
	return vs
}

func newVenueHandler() *venueServer {
	vs := &venueServer{
		conns:    make(chan *websocket.Conn, 4),
		auth:     make(chan string, 4),
		received: make(chan []byte, 16),
	}
	upgrader := websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}
	vs.Server = httptest.NewUnstartedServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		vs.auth <- r.Header.Get("Authorization") + "|" + r.URL.Query().Get("token")
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		vs.conns <- conn
		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				return
			}
			vs.received <- msg
		}
	}))
	return vs
}

func (vs *venueServer) wsURL() string {
	return "ws" + strings.TrimPrefix(vs.URL, "http")
}

func (vs *venueServer) accept(t *testing.T) *websocket.Conn {
	t.Helper()
	select {
	case conn := <-vs.conns:
		return conn
	case <-time.After(2 * time.Second):
		t.Fatal("Timeout waiting for client connection")
		return nil
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("Timeout waiting for %s", what)
}

func startClient(t *testing.T, opt Options) (*Client, *engine.Loop, context.Context) {
	t.Helper()
	loop := engine.NewLoop(64)
	ctx, cancel := context.WithCancel(context.Background())
	go loop.Run(ctx)

	client := NewClient(opt, loop)
	t.Cleanup(func() {
		client.Disconnect()
		cancel()
	})
	return client, loop, ctx
}

func TestClient_DispatchesInArrivalOrderAndDropsMalformed(t *testing.T) {
	vs := newVenueServer(t)

	var malformed atomic.Int32
	metrics := &infra.Metrics{}
	client, loop, ctx := startClient(t, Options{
		URL:            vs.wsURL(),
		ReconnectDelay: 50 * time.Millisecond,
		Metrics:        metrics,
		OnMalformed:    func(raw []byte, err error) { malformed.Add(1) },
	})

	var got []string
	record := func(env *event.Envelope) { got = append(got, string(env.Type)+":"+env.Symbol) }
	client.Subscribe(event.TypeTrade, record)
	client.Subscribe(event.TypeOrderBook, record)

	if err := client.Connect(ctx); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	conn := vs.accept(t)

	frames := []string{
		`{"type":"TRADE","symbol":"A","payload":{"id":"1"}}`,
		`not json at all`,
		`{"type":"ORDER_BOOK","symbol":"B","payload":{"bids":[],"asks":[]}}`,
		`{"symbol":"C","payload":{}}`,
		`{"type":"MARKET_DATA","symbol":"D","payload":{}}`,
		`{"type":"TRADE","symbol":"E","payload":{"id":"2"}}`,
	}
	for _, f := range frames {
		if err := conn.WriteMessage(websocket.TextMessage, []byte(f)); err != nil {
			t.Fatalf("server write failed: %v", err)
		}
	}

	waitFor(t, "frames", func() bool { return metrics.Snapshot().FramesReceived == uint64(len(frames)) })
	waitFor(t, "dispatch", func() bool {
		n := 0
		loop.Do(ctx, func() { n = len(got) })
		return n == 3
	})

	var snapshot []string
	loop.Do(ctx, func() { snapshot = append(snapshot, got...) })
	want := []string{"TRADE:A", "ORDER_BOOK:B", "TRADE:E"}
	for i := range want {
		if snapshot[i] != want[i] {
			t.Errorf("Dispatch %d = %s, want %s", i, snapshot[i], want[i])
		}
	}
	if malformed.Load() != 2 {
		t.Errorf("Expected 2 malformed frames reported, got %d", malformed.Load())
	}
	if metrics.Snapshot().FramesMalformed != 2 {
		t.Errorf("Expected 2 malformed frames counted, got %d", metrics.Snapshot().FramesMalformed)
	}
}

func TestClient_HandshakeCarriesBearerToken(t *testing.T) {
	vs := newVenueServer(t)
	client, _, ctx := startClient(t, Options{
		URL:            vs.wsURL(),
		Credentials:    staticToken("secret-token"),
		ReconnectDelay: 50 * time.Millisecond,
		Metrics:        &infra.Metrics{},
	})

	client.Connect(ctx)

	select {
	case got := <-vs.auth:
		if got != "Bearer secret-token|secret-token" {
			t.Errorf("Unexpected handshake credentials: %q", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Timeout waiting for handshake")
	}
}

func TestClient_SendIsBestEffort(t *testing.T) {
	vs := newVenueServer(t)
	client, _, ctx := startClient(t, Options{
		URL:            vs.wsURL(),
		ReconnectDelay: 50 * time.Millisecond,
		Metrics:        &infra.Metrics{},
	})

	if client.Send(map[string]string{"op": "early"}) {
		t.Error("Send should discard while not connected")
	}

	client.Connect(ctx)
	vs.accept(t)
	waitFor(t, "connected", client.IsConnected)

	if !client.Send(map[string]string{"op": "ping"}) {
		t.Fatal("Send should succeed on an open connection")
	}
	select {
	case msg := <-vs.received:
		if string(msg) != `{"op":"ping"}` {
			t.Errorf("Server received %s", msg)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Timeout waiting for message on server")
	}

	// the early message was discarded, not queued
	select {
	case msg := <-vs.received:
		t.Errorf("Unexpected queued message %s", msg)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestClient_ReconnectsAfterLoss(t *testing.T) {
	vs := newVenueServer(t)
	metrics := &infra.Metrics{}
	client, loop, ctx := startClient(t, Options{
		URL:             vs.wsURL(),
		ReconnectDelay:  20 * time.Millisecond,
		ReconnectJitter: 10 * time.Millisecond,
		Metrics:         metrics,
	})

	var trades int
	client.Subscribe(event.TypeTrade, func(env *event.Envelope) { trades++ })

	client.Connect(ctx)
	first := vs.accept(t)
	first.Close()

	second := vs.accept(t)
	waitFor(t, "reconnected", client.IsConnected)

	if metrics.Snapshot().Reconnects < 1 {
		t.Errorf("Expected at least 1 reconnect, got %d", metrics.Snapshot().Reconnects)
	}

	// subscriptions survive the reconnect
	second.WriteMessage(websocket.TextMessage, []byte(`{"type":"TRADE","symbol":"A","payload":{}}`))
	waitFor(t, "trade after reconnect", func() bool {
		n := 0
		loop.Do(ctx, func() { n = trades })
		return n == 1
	})
}

func TestClient_ReconnectsAfterDialFailure(t *testing.T) {
	// reserve a free port, then leave it closed so the first dials fail
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := ln.Addr().String()
	ln.Close()

	metrics := &infra.Metrics{}
	client, _, ctx := startClient(t, Options{
		URL:            "ws://" + addr,
		ReconnectDelay: 20 * time.Millisecond,
		Metrics:        metrics,
	})
	client.Connect(ctx)

	waitFor(t, "failed dials", func() bool { return metrics.Snapshot().Reconnects >= 2 })
	if client.IsConnected() {
		t.Fatal("Client should not be connected while the server is down")
	}

	vs := newVenueServerAt(t, addr)
	vs.accept(t)
	waitFor(t, "connected", client.IsConnected)
}

func TestClient_StopsWhenLoopStops(t *testing.T) {
	vs := newVenueServer(t)

	loop := engine.NewLoop(8)
	loopCtx, stopLoop := context.WithCancel(context.Background())
	go loop.Run(loopCtx)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	client := NewClient(Options{URL: vs.wsURL(), ReconnectDelay: 10 * time.Millisecond, Metrics: &infra.Metrics{}}, loop)
	defer client.Disconnect()

	client.Connect(ctx)
	conn := vs.accept(t)

	stopLoop()
	<-loop.Done()
	conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"TRADE","symbol":"A","payload":{}}`))

	waitFor(t, "disconnect", func() bool { return !client.IsConnected() })
	select {
	case <-vs.conns:
		t.Error("Client must not reconnect once the loop refuses work")
	case <-time.After(200 * time.Millisecond):
	}
}

func TestClient_UnsubscribeStopsDelivery(t *testing.T) {
	vs := newVenueServer(t)
	metrics := &infra.Metrics{}
	client, loop, ctx := startClient(t, Options{URL: vs.wsURL(), ReconnectDelay: 50 * time.Millisecond, Metrics: metrics})

	var first, second int
	subA := client.Subscribe(event.TypeTrade, func(env *event.Envelope) { first++ })
	client.Subscribe(event.TypeTrade, func(env *event.Envelope) { second++ })

	client.Connect(ctx)
	conn := vs.accept(t)

	frame := []byte(`{"type":"TRADE","symbol":"A","payload":{}}`)
	conn.WriteMessage(websocket.TextMessage, frame)
	waitFor(t, "first frame", func() bool {
		n := 0
		loop.Do(ctx, func() { n = first })
		return n == 1
	})
	loop.Do(ctx, func() { subA.Unsubscribe() })

	conn.WriteMessage(websocket.TextMessage, frame)
	waitFor(t, "second frame", func() bool {
		n := 0
		loop.Do(ctx, func() { n = second })
		return n == 2
	})

	loop.Do(ctx, func() {
		if first != 1 {
			t.Errorf("Unsubscribed handler saw %d frames, want 1", first)
		}
	})
}
