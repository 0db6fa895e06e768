package ws

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"meeting-server/domain/event"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 64 * 1024 // 64 KB - enough for WebRTC SDP messages
)

// Client wraps one websocket connection. Events are enqueued on a
// bounded channel and written by a single goroutine (WritePump), so a
// slow peer backs up its own queue, never the room worker.
type Client struct {
	log       *slog.Logger
	conn      *websocket.Conn
	send      chan *Frame
	closeOnce sync.Once
	closed    chan struct{}
}

func NewClient(log *slog.Logger, conn *websocket.Conn, bufferSize int) *Client {
	return &Client{
		log:    log,
		conn:   conn,
		send:   make(chan *Frame, bufferSize),
		closed: make(chan struct{}),
	}
}

// Consume implements contract.Session. The enqueue is best-effort: a
// peer whose queue overflowed loses the event instead of stalling the
// broadcaster.
func (c *Client) Consume(ctx context.Context, e event.DomainEvent) error {
	frame, err := encodeEvent(e)
	if err != nil {
		return fmt.Errorf("encoding %s event: %w", e.Kind(), err)
	}
	select {
	case c.send <- frame:
		return nil
	case <-c.closed:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
		c.log.Warn(fmt.Sprintf("Outbound queue full, dropping %s event", e.Kind()))
		return nil
	}
}

// Shutdown asks the write pump to close the connection with a normal
// closure code. Safe to call more than once.
func (c *Client) Shutdown() {
	c.closeOnce.Do(func() {
		close(c.closed)
	})
}

// WritePump pumps queued frames to the websocket connection.
//
// A goroutine running WritePump is started for each connection. The
// application ensures that there is at most one writer to a connection
// by executing all writes from this goroutine.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case frame := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(frame); err != nil {
				return
			}
		case <-c.closed:
			// Flush whatever was queued before the close frame.
			for {
				select {
				case frame := <-c.send:
					c.conn.SetWriteDeadline(time.Now().Add(writeWait))
					if err := c.conn.WriteJSON(frame); err != nil {
						return
					}
					continue
				default:
				}
				break
			}
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, "meeting ended"))
			return
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
