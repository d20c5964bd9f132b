package hub

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"nhooyr.io/websocket"

	"github.com/park285/bughouse-server/internal/obslog"
)

const (
	sendBuffer      = 64
	maxMessageBytes = 16 << 10
	writeTimeout    = 5 * time.Second
	pingInterval    = 20 * time.Second
)

// Client is one websocket connection inside a room. send is closed by the
// room goroutine only.
type Client struct {
	id   string
	conn *websocket.Conn
	send chan []byte

	// room goroutine only
	detached bool
}

func newClient(id string, conn *websocket.Conn) *Client {
	conn.SetReadLimit(maxMessageBytes)
	return &Client{id: id, conn: conn, send: make(chan []byte, sendBuffer)}
}

func (c *Client) ID() string { return c.id }

// writePump owns every write on the connection.
func (c *Client) writePump(ctx context.Context) {
	ping := time.NewTicker(pingInterval)
	defer func() {
		ping.Stop()
		_ = c.conn.Close(websocket.StatusNormalClosure, "bye")
	}()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-c.send:
			if !ok {
				return
			}
			wctx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := c.conn.Write(wctx, websocket.MessageText, msg)
			cancel()
			if err != nil {
				obslog.L().Debug("ws_write_failed", zap.String("conn_id", c.id), zap.Error(err))
				return
			}
		case <-ping.C:
			pctx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := c.conn.Ping(pctx)
			cancel()
			if err != nil {
				obslog.L().Debug("ws_ping_failed", zap.String("conn_id", c.id), zap.Error(err))
				return
			}
		}
	}
}

// readPump forwards text frames to the room until the peer goes away.
func (c *Client) readPump(ctx context.Context, room *Room) {
	for {
		typ, data, err := c.conn.Read(ctx)
		if err != nil {
			status := websocket.CloseStatus(err)
			if status != websocket.StatusNormalClosure && status != websocket.StatusGoingAway && !errors.Is(err, context.Canceled) {
				obslog.L().Debug("ws_read_ended", zap.String("conn_id", c.id), zap.Error(err))
			}
			return
		}
		if typ != websocket.MessageText {
			continue
		}
		if !room.enqueue(roomEvent{kind: evMessage, client: c, data: data}) {
			return
		}
	}
}
