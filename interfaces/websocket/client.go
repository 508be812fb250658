package websocket

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"scribe-backend/application/commands"
	commandbus "scribe-backend/application/commands/bus"
	"scribe-backend/application/services"
	pkgerrors "scribe-backend/pkg/errors"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period (must be less than pongWait)
	pingPeriod = (pongWait * 9) / 10

	// Maximum frame size allowed from peer
	maxMessageSize = 512 * 1024 // 512KB

	// Send buffer size
	sendBufferSize = 64
)

// Inbound frame types
const (
	frameSegments = "segments"
	frameStop     = "stop"
)

type inboundFrame struct {
	Type     string                  `json:"type"`
	Segments []commands.SegmentInput `json:"segments,omitempty"`
	Reason   string                  `json:"reason,omitempty"`
}

type ackFrame struct {
	Type     string `json:"type"`
	Accepted int    `json:"accepted,omitempty"`
	Warning  string `json:"warning,omitempty"`
	Error    string `json:"error,omitempty"`
}

// Client owns one session's stream connection. The read pump translates
// inbound frames into commands; the write pump sends acks and keepalive
// pings. A socket drop without a stop frame still finalizes the session.
type Client struct {
	sessionID  string
	commandBus *commandbus.CommandBus
	conn       *websocket.Conn
	send       chan ackFrame
	stopped    bool
	logger     *zap.Logger
}

// NewClient creates a new session stream client
func NewClient(sessionID string, commandBus *commandbus.CommandBus, conn *websocket.Conn, logger *zap.Logger) *Client {
	return &Client{
		sessionID:  sessionID,
		commandBus: commandBus,
		conn:       conn,
		send:       make(chan ackFrame, sendBufferSize),
		logger:     logger.With(zap.String("sessionID", sessionID)),
	}
}

// Start begins the client's read and write pumps
func (c *Client) Start() {
	go c.writePump()
	go c.readPump()
}

// readPump pumps frames from the connection into the command bus
func (c *Client) readPump() {
	defer func() {
		c.conn.Close()
		c.closeSession()
		c.logger.Debug("Read pump stopped")
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		messageType, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				c.logger.Error("Stream read error", zap.Error(err))
			}
			return
		}
		if messageType != websocket.TextMessage {
			c.logger.Warn("Binary frames not supported")
			continue
		}

		var frame inboundFrame
		if err := json.Unmarshal(message, &frame); err != nil {
			c.enqueue(ackFrame{Type: "error", Error: "malformed frame"})
			continue
		}

		switch frame.Type {
		case frameSegments:
			c.handleSegments(frame.Segments)
		case frameStop:
			c.handleStop(frame.Reason)
			return
		default:
			c.logger.Debug("Ignored unknown frame", zap.String("type", frame.Type))
		}
	}
}

// writePump pumps acks to the connection and keeps the socket alive
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
		c.logger.Debug("Write pump stopped")
	}()

	for {
		select {
		case frame, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteJSON(frame); err != nil {
				c.logger.Error("Failed to write frame", zap.Error(err))
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) handleSegments(segments []commands.SegmentInput) {
	if len(segments) == 0 {
		return
	}

	cmd := &commands.AppendSegmentsCommand{
		SessionID: c.sessionID,
		Segments:  segments,
	}

	err := c.commandBus.Send(context.Background(), cmd)
	switch {
	case err == nil:
		c.enqueue(ackFrame{Type: "ack", Accepted: len(segments)})
	case pkgerrors.IsOutOfOrderSegment(err):
		c.enqueue(ackFrame{Type: "ack", Accepted: len(segments), Warning: "segment start time regressed"})
	default:
		c.logger.Warn("Segment frame rejected", zap.Error(err))
		c.enqueue(ackFrame{Type: "error", Error: err.Error()})
	}
}

func (c *Client) handleStop(reason string) {
	c.stopped = true
	if reason == "" {
		reason = services.CloseReasonExplicitStop
	}
	c.close(reason)
}

// closeSession finalizes the session when the socket drops without a stop
// frame. A session already closed by a stop frame or another trigger is a
// no-op.
func (c *Client) closeSession() {
	if c.stopped {
		return
	}
	c.close(services.CloseReasonChannelClosed)
}

func (c *Client) close(reason string) {
	cmd := &commands.CloseSessionCommand{
		SessionID: c.sessionID,
		Reason:    reason,
	}
	if err := c.commandBus.Send(context.Background(), cmd); err != nil && !pkgerrors.IsNotFound(err) {
		c.logger.Error("Failed to close session from stream",
			zap.String("reason", reason),
			zap.Error(err),
		)
	}
}

func (c *Client) enqueue(frame ackFrame) {
	select {
	case c.send <- frame:
	default:
		c.logger.Warn("Ack dropped, send buffer full")
	}
}
