package transport

import (
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
)

var upgrader = websocket.Upgrader{}

func socketURL(server *httptest.Server) string {
	return "ws" + strings.TrimPrefix(server.URL, "http")
}

func waitFor(t *testing.T, condition func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if condition() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not reached")
}

func TestChannelDeliveryOrder(t *testing.T) {
	assert := assert.New(t)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		conn.WriteMessage(websocket.TextMessage, []byte(`{"seq":1}`))
		conn.WriteMessage(websocket.TextMessage, []byte(`{"seq":2}`))
		conn.WriteMessage(websocket.TextMessage, []byte(`{"seq":3}`))
		time.Sleep(200 * time.Millisecond)
	}))
	defer server.Close()

	var mu sync.Mutex
	frames := []string{}

	channel := New(socketURL(server), nil, 1, 10*time.Millisecond)
	channel.Subscribe(func(data []byte) {
		mu.Lock()
		frames = append(frames, string(data))
		mu.Unlock()
	})
	defer channel.Disconnect()

	assert.Nil(channel.Connect())
	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(frames) == 3
	})

	mu.Lock()
	defer mu.Unlock()
	assert.Equal([]string{`{"seq":1}`, `{"seq":2}`, `{"seq":3}`}, frames)
}

func TestChannelSendRequiresOpen(t *testing.T) {
	assert := assert.New(t)

	channel := New("ws://127.0.0.1:1/socket", nil, 0, time.Millisecond)
	assert.False(channel.Send(map[string]string{"type": "TYPING"}))
	assert.Equal(StateIdle, channel.State())
}

func TestChannelConnectIdempotent(t *testing.T) {
	assert := assert.New(t)

	var dials atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		dials.Add(1)
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer server.Close()

	channel := New(socketURL(server), nil, 1, 10*time.Millisecond)
	defer channel.Disconnect()

	assert.Nil(channel.Connect())
	waitFor(t, func() bool { return channel.State() == StateOpen })
	assert.Nil(channel.Connect())
	assert.Nil(channel.Connect())

	assert.Equal(int32(1), dials.Load())
	assert.True(channel.Send(map[string]string{"type": "TYPING"}))
}

func TestChannelConcurrentConnectDialsOnce(t *testing.T) {
	assert := assert.New(t)

	var dials atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		dials.Add(1)
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer server.Close()

	channel := New(socketURL(server), nil, 1, 10*time.Millisecond)
	defer channel.Disconnect()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			channel.Connect()
		}()
	}
	wg.Wait()

	waitFor(t, func() bool { return channel.State() == StateOpen })
	assert.Equal(int32(1), dials.Load())
}

func TestChannelReconnectBound(t *testing.T) {
	assert := assert.New(t)

	// a raw listener that drops every connection before the handshake, so
	// every dial attempt fails
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	assert.Nil(err)
	defer listener.Close()

	var accepts atomic.Int32
	go func() {
		for {
			conn, err := listener.Accept()
			if err != nil {
				return
			}
			accepts.Add(1)
			conn.Close()
		}
	}()

	channel := New("ws://"+listener.Addr().String()+"/socket", nil, 5, 5*time.Millisecond)
	assert.NotNil(channel.Connect())

	waitFor(t, func() bool { return accepts.Load() == 6 && channel.State() == StateClosed })

	// no further automatic attempt once the bound is exhausted
	time.Sleep(50 * time.Millisecond)
	assert.Equal(int32(6), accepts.Load())
	assert.Equal(StateClosed, channel.State())
}

func TestChannelDisconnectSuppressesRetry(t *testing.T) {
	assert := assert.New(t)

	var dials atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		dials.Add(1)
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer server.Close()

	channel := New(socketURL(server), nil, 5, 5*time.Millisecond)
	assert.Nil(channel.Connect())
	waitFor(t, func() bool { return channel.State() == StateOpen })

	channel.Disconnect()
	assert.Equal(StateClosed, channel.State())
	assert.False(channel.Send(map[string]string{"type": "TYPING"}))

	time.Sleep(50 * time.Millisecond)
	assert.Equal(int32(1), dials.Load())
}

func TestChannelStateNotifications(t *testing.T) {
	assert := assert.New(t)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer server.Close()

	var mu sync.Mutex
	states := []State{}

	channel := New(socketURL(server), nil, 1, 10*time.Millisecond)
	channel.SubscribeState(func(state State) {
		mu.Lock()
		states = append(states, state)
		mu.Unlock()
	})

	assert.Nil(channel.Connect())
	waitFor(t, func() bool { return channel.State() == StateOpen })
	channel.Disconnect()

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(states) >= 3
	})

	mu.Lock()
	defer mu.Unlock()
	assert.Equal([]State{StateConnecting, StateOpen, StateClosed}, states[:3])
}
