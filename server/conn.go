package server

import (
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	maxMsgSize = 64 * 1024
)

// Conn is a single push-transport connection.
type Conn struct {
	id string
	gw *Gateway
	ws *websocket.Conn

	send chan []byte
}

func newConn(gw *Gateway, ws *websocket.Conn) *Conn {
	return &Conn{
		id:   uuid.NewString(),
		gw:   gw,
		ws:   ws,
		send: make(chan []byte, 256),
	}
}

// ReadPump reads messages from the socket and hands them to the
// gateway until the connection dies.
func (c *Conn) ReadPump() {
	defer func() {
		c.gw.dropConn(c)
		c.ws.Close()
	}()

	c.ws.SetReadLimit(maxMsgSize)
	c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		c.ws.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("gateway: conn %s read error: %v", c.id, err)
			}
			return
		}
		c.gw.handleMessage(c, data)
	}
}

// WritePump writes queued messages and pings to the socket.
func (c *Conn) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.ws.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.ws.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Conn) sendRaw(data []byte) {
	select {
	case c.send <- data:
	default:
		// Client too slow, drop message.
	}
}

func (c *Conn) sendMsg(msgType string, payload interface{}) {
	c.sendRaw(encodeMessage(msgType, payload))
}

func (c *Conn) sendError(message, code string) {
	c.sendMsg(MsgError, ErrorPayload{Message: message, Code: code})
}
