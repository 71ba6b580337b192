package server

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gorilla/websocket"
	"github.com/tonkhouse/tonkd/internal/wallet"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer
	maxMessageSize = 8192
)

var ErrConnectionClosed = websocket.ErrCloseSent

// Connection wraps one client WebSocket. The identity bound at auth and
// the subscribed table id are the only state it carries.
type Connection struct {
	conn      *websocket.Conn
	send      chan *Message
	server    *Server
	userID    string
	username  string
	tableID   string
	logger    *log.Logger
	ctx       context.Context
	cancel    context.CancelFunc
	mu        sync.RWMutex
	closeOnce sync.Once
}

// NewConnection creates a new connection wrapper.
func NewConnection(conn *websocket.Conn, server *Server, logger *log.Logger) *Connection {
	ctx, cancel := context.WithCancel(context.Background())
	return &Connection{
		conn:   conn,
		send:   make(chan *Message, 256),
		server: server,
		logger: logger.WithPrefix("conn"),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start begins handling the connection.
func (c *Connection) Start() {
	go c.writePump()
	go c.readPump()
}

// Close closes the connection.
func (c *Connection) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.cancel()
		close(c.send)
		err = c.conn.Close()
	})
	return err
}

// SendMessage queues a message for the client.
func (c *Connection) SendMessage(msg *Message) error {
	defer func() {
		if r := recover(); r != nil {
			// Channel closed during shutdown.
			c.logger.Debug("send on closed connection", "error", r)
		}
	}()

	select {
	case c.send <- msg:
		return nil
	case <-c.ctx.Done():
		return c.ctx.Err()
	default:
		c.logger.Warn("connection send buffer full, closing connection")
		_ = c.Close()
		return ErrConnectionClosed
	}
}

// UserID returns the identity bound at auth, or "".
func (c *Connection) UserID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.userID
}

// TableID returns the subscribed table, or "".
func (c *Connection) TableID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.tableID
}

func (c *Connection) setIdentity(id Identity) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.userID = id.UserID
	c.username = id.Username
}

func (c *Connection) setTable(tableID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tableID = tableID
}

// readPump handles incoming messages from the client.
func (c *Connection) readPump() {
	defer func() { _ = c.Close() }()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		select {
		case <-c.ctx.Done():
			return
		default:
		}

		var msg Message
		err := c.conn.ReadJSON(&msg)
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Error("WebSocket error", "error", err)
			}
			break
		}

		c.handleMessage(&msg)
	}
}

// writePump handles outgoing messages to the client.
func (c *Connection) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteJSON(message); err != nil {
				c.logger.Error("failed to write message", "error", err)
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.ctx.Done():
			return
		}
	}
}

// handleMessage routes one inbound event.
func (c *Connection) handleMessage(msg *Message) {
	c.logger.Debug("received event", "type", msg.Type, "user", c.UserID())

	if msg.Type == EventAuth {
		var data AuthData
		if err := json.Unmarshal(msg.Data, &data); err != nil {
			c.sendError("failed to parse auth data")
			return
		}
		c.handleAuth(data)
		return
	}

	if c.UserID() == "" {
		c.sendError("must authenticate first")
		return
	}

	switch msg.Type {
	case EventJoinTable:
		var data JoinTableData
		if c.decode(msg, &data) {
			c.handleJoinTable(data)
		}
	case EventLeaveTable:
		var data LeaveTableData
		if c.decode(msg, &data) {
			c.withSession(data.TableID, data.UserID, func(sess *Session) error {
				err := sess.HandleLeave(c.ctx, data.UserID)
				if err == nil {
					c.setTable("")
				}
				return err
			})
		}
	case EventRequestLeave:
		var data RequestLeaveData
		if c.decode(msg, &data) {
			c.withSession(data.TableID, data.UserID, func(sess *Session) error {
				return sess.HandleRequestLeave(data.UserID)
			})
		}
	case EventDrawCard:
		var data DrawCardData
		if c.decode(msg, &data) {
			c.withSession(data.TableID, data.UserID, func(sess *Session) error {
				return sess.HandleDraw(c.ctx, data.UserID, data.Source)
			})
		}
	case EventDiscardCard:
		var data DiscardCardData
		if c.decode(msg, &data) {
			c.withSession(data.TableID, data.UserID, func(sess *Session) error {
				return sess.HandleDiscard(c.ctx, data.UserID, data.Card)
			})
		}
	case EventSpread:
		var data SpreadData
		if c.decode(msg, &data) {
			c.withSession(data.TableID, data.UserID, func(sess *Session) error {
				return sess.HandleSpread(c.ctx, data.UserID, data.Cards)
			})
		}
	case EventHit:
		var data HitData
		if c.decode(msg, &data) {
			c.withSession(data.TableID, data.UserID, func(sess *Session) error {
				return sess.HandleHit(c.ctx, data.UserID, data.Card, data.TargetPlayerID, data.TargetSpreadIndex)
			})
		}
	case EventDrop:
		var data DropData
		if c.decode(msg, &data) {
			c.withSession(data.TableID, data.UserID, func(sess *Session) error {
				return sess.HandleDrop(c.ctx, data.UserID)
			})
		}
	case EventRequestInitState:
		var data RequestInitStateData
		if c.decode(msg, &data) {
			if sess := c.server.Session(data.TableID); sess != nil {
				sess.HandleRequestState(c.UserID())
			} else {
				c.sendError("table not found")
			}
		}
	default:
		c.sendError("unknown event type: " + msg.Type.String())
	}
}

func (c *Connection) decode(msg *Message, out interface{}) bool {
	if err := json.Unmarshal(msg.Data, out); err != nil {
		c.sendError("failed to parse " + msg.Type.String() + " data")
		return false
	}
	return true
}

// withSession dispatches to a table session after checking the event's
// claimed user matches the connection's verified identity. Engine and
// wallet errors go back to the offending client only.
func (c *Connection) withSession(tableID, userID string, fn func(*Session) error) {
	if userID != c.UserID() {
		c.sendError("event user does not match connection identity")
		return
	}
	sess := c.server.Session(tableID)
	if sess == nil {
		c.sendError("table not found")
		return
	}
	if err := fn(sess); err != nil {
		if errors.Is(err, wallet.ErrWalletNotFound) {
			c.sendError("no wallet on file for this account")
			return
		}
		c.sendError(err.Error())
	}
}

func (c *Connection) handleAuth(data AuthData) {
	id, err := c.server.auth.Verify(data)
	if err != nil {
		c.logger.Info("auth rejected", "user", data.UserID, "error", err)
		response, _ := NewMessage(EventAuthResponse, AuthResponseData{Success: false, Error: err.Error()})
		_ = c.SendMessage(response)
		return
	}
	c.setIdentity(id)
	c.logger.Info("auth accepted", "user", id.UserID)
	response, _ := NewMessage(EventAuthResponse, AuthResponseData{Success: true, UserID: id.UserID})
	_ = c.SendMessage(response)
}

func (c *Connection) handleJoinTable(data JoinTableData) {
	c.withSession(data.TableID, data.UserID, func(sess *Session) error {
		err := sess.HandleJoin(c.ctx, data.UserID, data.Username, data.AvatarURL)
		if err == nil {
			c.setTable(data.TableID)
		}
		return err
	})
}

// sendError sends a gameError event to this client.
func (c *Connection) sendError(message string) {
	msg, err := NewMessage(EventGameError, GameErrorData{Message: message})
	if err != nil {
		c.logger.Error("failed to create error message", "error", err)
		return
	}
	_ = c.SendMessage(msg)
}
