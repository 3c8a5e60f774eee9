package transport

import (
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/gommon/log"
)

const (
	writeWait  = 10 * time.Second
	pingPeriod = 30 * time.Second
)

type State int32

const (
	StateIdle State = iota
	StateConnecting
	StateOpen
	StateClosed
	StateErrored
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	case StateErrored:
		return "errored"
	}
	return "unknown"
}

// Handler receives inbound frames in wire arrival order.
type Handler func(data []byte)

type StateHandler func(state State)

// Channel owns one persistent socket connection. A dropped connection is
// redialled up to the configured attempt bound with a fixed delay between
// attempts; an explicit Disconnect suppresses the redial loop. Once the
// bound is exhausted the channel stays closed until Connect is called again.
type Channel struct {
	url         string
	header      http.Header
	maxAttempts int
	retryDelay  time.Duration
	dialer      *websocket.Dialer

	state atomic.Int32

	mu            sync.Mutex
	conn          *websocket.Conn
	done          chan struct{}
	attempts      int
	closing       bool
	handlers      []Handler
	stateHandlers []StateHandler
}

func New(socketURL string, header http.Header, maxAttempts int, retryDelay time.Duration) *Channel {
	return &Channel{
		url:         socketURL,
		header:      header,
		maxAttempts: maxAttempts,
		retryDelay:  retryDelay,
		dialer:      websocket.DefaultDialer,
	}
}

func (c *Channel) State() State {
	return State(c.state.Load())
}

// Subscribe registers a frame handler. Handlers are invoked sequentially
// from the read goroutine, preserving arrival order.
func (c *Channel) Subscribe(handler Handler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers = append(c.handlers, handler)
}

func (c *Channel) SubscribeState(handler StateHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stateHandlers = append(c.stateHandlers, handler)
}

// Connect opens the connection if none is open or in progress. A dial
// failure schedules the redial loop rather than leaving the channel dead.
func (c *Channel) Connect() error {
	c.mu.Lock()
	state := c.State()
	if state == StateOpen || state == StateConnecting {
		c.mu.Unlock()
		return nil
	}
	c.closing = false
	c.attempts = 0
	// claim the connecting state before releasing the lock so a concurrent
	// Connect cannot also dial
	c.state.Store(int32(StateConnecting))
	c.mu.Unlock()

	for _, handler := range c.snapshotStateHandlers() {
		handler(StateConnecting)
	}
	return c.dial()
}

// Send marshals v onto the wire. It reports false, without blocking or
// queueing, when the channel is not open.
func (c *Channel) Send(v interface{}) bool {
	data, err := json.Marshal(v)
	if err != nil {
		log.Warnf("marshalling outbound frame: %v", err)
		return false
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.State() != StateOpen || c.conn == nil {
		return false
	}
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return false
	}
	if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		log.Warnf("writing outbound frame: %v", err)
		return false
	}
	return true
}

// Disconnect closes deterministically and suppresses the redial loop.
func (c *Channel) Disconnect() {
	c.mu.Lock()
	c.closing = true
	conn := c.conn
	c.conn = nil
	if c.done != nil {
		close(c.done)
		c.done = nil
	}
	c.mu.Unlock()

	if conn != nil {
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
		_ = conn.Close()
	}
	c.setState(StateClosed)
}

func (c *Channel) dial() error {
	conn, resp, err := c.dialer.Dial(c.url, c.header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		log.Warnf("dialling %s: %v", c.url, err)
		c.setState(StateErrored)
		c.scheduleRetry()
		return err
	}

	c.mu.Lock()
	if c.closing {
		c.mu.Unlock()
		conn.Close()
		return nil
	}
	c.conn = conn
	c.attempts = 0
	done := make(chan struct{})
	c.done = done
	c.mu.Unlock()

	c.setState(StateOpen)
	go c.readLoop(conn)
	go c.pingLoop(conn, done)
	return nil
}

func (c *Channel) readLoop(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			c.handleClosed(err)
			return
		}
		for _, handler := range c.snapshotHandlers() {
			handler(data)
		}
	}
}

func (c *Channel) pingLoop(conn *websocket.Conn, done chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			c.mu.Lock()
			if c.conn != conn {
				c.mu.Unlock()
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			err := conn.WriteMessage(websocket.PingMessage, nil)
			c.mu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

func (c *Channel) handleClosed(err error) {
	c.mu.Lock()
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	if c.done != nil {
		close(c.done)
		c.done = nil
	}
	closing := c.closing
	c.mu.Unlock()

	if closing {
		return
	}

	log.Infof("connection dropped: %v", err)
	c.setState(StateErrored)
	c.scheduleRetry()
}

func (c *Channel) scheduleRetry() {
	c.mu.Lock()
	if c.closing {
		c.mu.Unlock()
		return
	}
	if c.attempts >= c.maxAttempts {
		c.mu.Unlock()
		log.Warnf("reconnect attempts exhausted after %d tries", c.maxAttempts)
		c.setState(StateClosed)
		return
	}
	c.attempts++
	attempt := c.attempts
	c.mu.Unlock()

	c.setState(StateConnecting)
	time.AfterFunc(c.retryDelay, func() {
		c.mu.Lock()
		closing := c.closing
		c.mu.Unlock()
		if closing {
			return
		}
		log.Infof("reconnecting (%d/%d)", attempt, c.maxAttempts)
		_ = c.dial()
	})
}

func (c *Channel) setState(state State) {
	if State(c.state.Swap(int32(state))) == state {
		return
	}
	for _, handler := range c.snapshotStateHandlers() {
		handler(state)
	}
}

func (c *Channel) snapshotHandlers() []Handler {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Handler(nil), c.handlers...)
}

func (c *Channel) snapshotStateHandlers() []StateHandler {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]StateHandler(nil), c.stateHandlers...)
}
