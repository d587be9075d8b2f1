package wsconn

import (
	"fmt"
	"sync"
	"time"

	"github.com/OpenGlobes/Core-sub001/protocol"
	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
	sendBufferSize = 1024
)

// Conn is the session.Connector of one websocket client. Callbacks only queue
// frames; a writer goroutine owns the socket's write side.
type Conn struct {
	ws         *websocket.Conn
	serializer protocol.Serializer
	sessionID  string

	send      chan *protocol.Frame
	done      chan struct{}
	closeOnce sync.Once
}

func newConn(ws *websocket.Conn, serializer protocol.Serializer) *Conn {
	return &Conn{
		ws:         ws,
		serializer: serializer,
		send:       make(chan *protocol.Frame, sendBufferSize),
		done:       make(chan struct{}),
	}
}

func (c *Conn) OnTrade(trade *protocol.Trade) {
	c.enqueue(protocol.FrameTrade, trade)
}

func (c *Conn) OnResponse(resp *protocol.Response) {
	c.enqueue(protocol.FrameResponse, resp)
}

func (c *Conn) OnError(req *protocol.Request, err error) {
	c.enqueue(protocol.FrameError, &protocol.ErrorPayload{Request: req, Error: err.Error()})
}

func (c *Conn) OnStatusChange(status protocol.ConnectorStatus) {
	c.enqueue(protocol.FrameStatus, &protocol.StatusPayload{Status: status})
}

func (c *Conn) enqueue(typ protocol.FrameType, payload any) {
	data, err := c.serializer.Marshal(payload)
	if err != nil {
		logger.Error("failed to marshal payload", "type", string(typ), "error", err)
		return
	}

	frame := &protocol.Frame{Version: protocol.FrameVersion, Type: typ, Payload: data}

	select {
	case <-c.done:
		return
	default:
	}

	select {
	case c.send <- frame:
	default:
		// callbacks run on the pipeline worker and must not block on a slow client
		logger.Warn("slow consumer, closing connection", "remote_addr", c.ws.RemoteAddr().String())
		c.close()
	}
}

func (c *Conn) close() {
	c.closeOnce.Do(func() {
		close(c.done)
	})
}

// readLoop decodes request frames and hands them to submit until the socket fails.
func (c *Conn) readLoop(submit func(*protocol.Request) error) {
	defer c.close()

	c.ws.SetReadLimit(maxMessageSize)
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Warn("websocket read failed", "session_id", c.sessionID, "error", err)
			}
			return
		}

		req, err := c.decode(data)
		if err != nil {
			c.OnError(req, err)
			continue
		}

		if err := submit(req); err != nil {
			c.OnError(req, err)
		}
	}
}

func (c *Conn) decode(data []byte) (*protocol.Request, error) {
	var frame protocol.Frame
	if err := c.serializer.Unmarshal(data, &frame); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBadFrame, err)
	}
	if frame.Version != protocol.FrameVersion {
		return nil, fmt.Errorf("%w: %d", ErrUnsupported, frame.Version)
	}
	if frame.Type != protocol.FrameRequest {
		return nil, fmt.Errorf("%w: %s", ErrUnexpectedFrame, frame.Type)
	}

	req := new(protocol.Request)
	if err := c.serializer.Unmarshal(frame.Payload, req); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBadFrame, err)
	}
	return req, nil
}

// writeLoop owns the socket's write side. Once the connection is closed it
// flushes what is still queued and closes the socket.
func (c *Conn) writeLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.ws.Close()
	}()

	for {
		select {
		case frame := <-c.send:
			if err := c.write(frame); err != nil {
				c.close()
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.close()
				return
			}
		case <-c.done:
			c.flush()
			_ = c.ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeWait))
			return
		}
	}
}

func (c *Conn) flush() {
	for {
		select {
		case frame := <-c.send:
			if err := c.write(frame); err != nil {
				return
			}
		default:
			return
		}
	}
}

func (c *Conn) write(frame *protocol.Frame) error {
	frame.SessionID = c.sessionID

	data, err := c.serializer.Marshal(frame)
	if err != nil {
		logger.Error("failed to marshal frame", "type", string(frame.Type), "error", err)
		return nil
	}

	_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	return c.ws.WriteMessage(websocket.TextMessage, data)
}
