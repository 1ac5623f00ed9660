package websocket

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 30 * time.Second
	maxMessageSize = 65536
)

//nolint:gochecknoglobals
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Client is one WebSocket connection registered with the hub.
type Client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
}

// ServeWS upgrades the request and attaches the connection to the hub.
func ServeWS(hub *Hub, w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		hub.logger.Warn().Err(err).Msg("upgrade failed")
		return
	}

	client := &Client{hub: hub, conn: conn, send: make(chan []byte, 256)}
	hub.Register(client)

	go client.writePump()
	go client.readPump()
}

// writePump pumps messages from the hub to the connection.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// hub closed the channel
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump reads client commands until the connection drops.
func (c *Client) readPump() {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.logger.Warn().Err(err).Msg("read failed")
			}
			return
		}
		c.handle(message)
	}
}

// handle answers client commands. Only ping is understood.
func (c *Client) handle(raw []byte) {
	var in Message
	if err := json.Unmarshal(raw, &in); err != nil {
		c.reply(NewMessage(TypeError, ErrorPayload{Code: "invalid_message", Message: "message is not valid JSON"}))
		return
	}

	switch in.Type {
	case TypePing:
		c.reply(NewMessage(TypePong, nil))
	default:
		c.reply(NewMessage(TypeError, ErrorPayload{
			Code:         "unknown_type",
			Message:      "unsupported message type",
			OriginalType: string(in.Type),
		}))
	}
}

func (c *Client) reply(msg Message) {
	data, err := msg.JSON()
	if err != nil {
		return
	}
	defer func() {
		// send may already be closed by the hub
		_ = recover()
	}()
	select {
	case c.send <- data:
	default:
	}
}
