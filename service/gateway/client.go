package gateway

import (
	"sync"
	"time"

	"github.com/VictoriaMetrics/metrics"
	"github.com/gorilla/websocket"

	"github.com/gutche/yappin/logger"
)

var slowClientDrops = metrics.NewCounter("yappin_slow_client_drops_total")

const (
	writeWait  = 5 * time.Second
	pingPeriod = 30 * time.Second
)

// Client is one websocket connection owned by this worker, tagged with
// the identity it authenticated as. A user may hold several at once
// (multi-tab/multi-device); each has its own outbound queue drained by a
// single writer goroutine.
type Client struct {
	ConnID   string
	UserID   string
	Username string
	Token    string

	ws        *websocket.Conn
	send      chan []byte
	closeOnce sync.Once
	done      chan struct{}
}

func NewClient(connID string, ws *websocket.Conn, queueSize int) *Client {
	return &Client{
		ConnID: connID,
		ws:     ws,
		send:   make(chan []byte, queueSize),
		done:   make(chan struct{}),
	}
}

// Enqueue queues a payload without blocking. A slow client that can't
// drain its queue loses the frame rather than stalling fan-out.
func (c *Client) Enqueue(payload []byte) {
	select {
	case c.send <- payload:
	case <-c.done:
	default:
		slowClientDrops.Inc()
		logger.Debugf("[gateway] send queue full, drop frame conn=%s user=%s", c.ConnID, c.UserID)
	}
}

// writePump is the only goroutine allowed to write to the socket.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.ws.Close()
	}()

	for {
		select {
		case payload, ok := <-c.send:
			if !ok {
				return
			}
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			return
		}
	}
}

// Close stops the writer and closes the socket; safe to call repeatedly.
func (c *Client) Close() {
	c.closeOnce.Do(func() { close(c.done) })
}
