package ws

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	readLimit = 4 * 1024
	pongWait  = 60 * time.Second
)

// Processor consumes device lifecycle events and report frames. Process
// returns an error for frames that could not be handled; the connection
// stays up either way.
type Processor interface {
	Connected(deviceID string)
	Disconnected(deviceID string)
	Process(ctx context.Context, deviceID string, raw []byte) error
}

// Connection is one device's websocket session. Reports flow in through the
// read pump; relay commands are enqueued with Send and leave through the
// write pump.
type Connection struct {
	deviceID     string
	ws           *websocket.Conn
	send         chan []byte
	processor    Processor
	writeTimeout time.Duration
	logger       *zap.Logger
	onClose      func(deviceID string)

	writeMu sync.Mutex
}

// NewConnection wraps an upgraded socket.
func NewConnection(deviceID string, ws *websocket.Conn, processor Processor, writeTimeout time.Duration, logger *zap.Logger, onClose func(string)) *Connection {
	return &Connection{
		deviceID:     deviceID,
		ws:           ws,
		send:         make(chan []byte, 16),
		processor:    processor,
		writeTimeout: writeTimeout,
		logger:       logger,
		onClose:      onClose,
	}
}

// DeviceID returns the authenticated device identifier.
func (c *Connection) DeviceID() string {
	return c.deviceID
}

// Start launches the pumps and blocks until the read side closes.
func (c *Connection) Start(ctx context.Context) {
	go c.writePump(ctx)
	c.readPump(ctx)
}

func (c *Connection) readPump(ctx context.Context) {
	defer c.cleanup()
	c.ws.SetReadLimit(readLimit)
	c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		c.ws.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		_, message, err := c.ws.ReadMessage()
		if err != nil {
			c.logger.Info("device read closed", zap.String("device_id", c.deviceID), zap.Error(err))
			return
		}
		c.ws.SetReadDeadline(time.Now().Add(pongWait))

		if err := c.processor.Process(ctx, c.deviceID, message); err != nil {
			c.logger.Warn("failed to process device frame",
				zap.String("device_id", c.deviceID), zap.Error(err))
		}
	}
}

func (c *Connection) writePump(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-c.send:
			if !ok {
				_ = c.write(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.write(websocket.TextMessage, msg); err != nil {
				return
			}
		}
	}
}

// Send enqueues a command for the device. Commands are dropped rather than
// blocking when the device stops draining its socket.
func (c *Connection) Send(msg []byte) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Warn("attempted to send on closed connection", zap.String("device_id", c.deviceID))
		}
	}()
	select {
	case c.send <- msg:
	default:
		c.logger.Warn("dropping command, device send buffer full", zap.String("device_id", c.deviceID))
	}
}

// Ping sends a keepalive probe. Safe to call from the manager's ping loop
// while the write pump drains commands.
func (c *Connection) Ping() error {
	return c.write(websocket.PingMessage, []byte("ping"))
}

func (c *Connection) write(messageType int, data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.ws.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	return c.ws.WriteMessage(messageType, data)
}

func (c *Connection) cleanup() {
	close(c.send)
	_ = c.ws.Close()
	if c.onClose != nil {
		c.onClose(c.deviceID)
	}
}
