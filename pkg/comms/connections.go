package comms

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const writeWait = 10 * time.Second

// ErrMalformedMessage is returned by ReadMessage when a frame arrived intact
// but is not a valid Message. The connection stays usable.
var ErrMalformedMessage = errors.New("malformed message")

// ConnectionWrapper wraps a client connection, handling communication.
type ConnectionWrapper struct {
	Socket       *websocket.Conn
	WriteChannel chan Message
	ID           string

	log       *zap.Logger
	done      chan struct{}
	closeOnce sync.Once
}

// NewConnectionWrapper wraps socket under the given connection id with an
// outbound queue of size buffer.
func NewConnectionWrapper(log *zap.Logger, socket *websocket.Conn, id string, buffer int) *ConnectionWrapper {
	return &ConnectionWrapper{
		Socket:       socket,
		WriteChannel: make(chan Message, buffer),
		ID:           id,
		log:          log.With(zap.String("conn", id)),
		done:         make(chan struct{}),
	}
}

// Configure applies the inbound size limit and the idle timeout. Every pong
// pushes the read deadline forward.
func (c *ConnectionWrapper) Configure(maxMessageSize int64, idleTimeout time.Duration) {
	c.Socket.SetReadLimit(maxMessageSize)
	_ = c.Socket.SetReadDeadline(time.Now().Add(idleTimeout))
	c.Socket.SetPongHandler(func(string) error {
		return c.Socket.SetReadDeadline(time.Now().Add(idleTimeout))
	})
}

// ReadMessage reads the next frame as a Message. Errors from the socket end
// the connection; a frame that fails to decode is reported as
// ErrMalformedMessage and the rest of it is discarded by the next read.
func (c *ConnectionWrapper) ReadMessage() (Message, error) {
	_, r, err := c.Socket.NextReader()
	if err != nil {
		return Message{}, err
	}

	var message Message
	if err := json.NewDecoder(r).Decode(&message); err != nil {
		return Message{}, fmt.Errorf("%w: %s", ErrMalformedMessage, err)
	}
	return message, nil
}

func (c *ConnectionWrapper) WriteMessage(message Message) error {
	_ = c.Socket.SetWriteDeadline(time.Now().Add(writeWait))
	return c.Socket.WriteJSON(message)
}

// Enqueue queues a message for the write pump without blocking. It reports
// false when the connection is closed or its queue is full.
func (c *ConnectionWrapper) Enqueue(message Message) bool {
	select {
	case <-c.done:
		return false
	default:
	}

	select {
	case c.WriteChannel <- message:
		return true
	default:
		c.log.Warn("Dropping outbound message, send queue full",
			zap.String("type", message.Type))
		return false
	}
}

// WritePump drains the outbound queue onto the socket and pings the client
// every pingInterval. It returns once the connection is closed or a write
// fails, closing the socket either way.
func (c *ConnectionWrapper) WritePump(pingInterval time.Duration) {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.Socket.Close()
	}()

	for {
		select {
		case <-c.done:
			_ = c.Socket.WriteControl(
				websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeWait),
			)
			return

		case message := <-c.WriteChannel:
			if err := c.WriteMessage(message); err != nil {
				c.log.Info("Write failed, closing connection", zap.Error(err))
				return
			}

		case <-ticker.C:
			_ = c.Socket.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Socket.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.log.Info("Ping failed, closing connection", zap.Error(err))
				return
			}
		}
	}
}

// Close stops the write pump, which sends a close frame and closes the socket.
func (c *ConnectionWrapper) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
	})
}
