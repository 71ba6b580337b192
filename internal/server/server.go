package server

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gorilla/websocket"
)

// Identity is a verified client identity, bound to a connection at auth.
type Identity struct {
	UserID   string
	Username string
}

// Authenticator verifies the token presented at auth. Token issuance and
// JWT validation live outside the core; this is the seam they plug into.
type Authenticator interface {
	Verify(data AuthData) (Identity, error)
}

// InsecureAuthenticator trusts the identity the client claims. Dev and
// test use only.
type InsecureAuthenticator struct{}

// Verify accepts any non-empty claimed identity.
func (InsecureAuthenticator) Verify(data AuthData) (Identity, error) {
	if data.UserID == "" {
		return Identity{}, fmt.Errorf("userId required")
	}
	username := data.Username
	if username == "" {
		username = data.UserID
	}
	return Identity{UserID: data.UserID, Username: username}, nil
}

// Server is the WebSocket transport: it owns the connection registry and
// fans events between clients and their table sessions.
type Server struct {
	upgrader    websocket.Upgrader
	connections map[*Connection]bool
	register    chan *Connection
	unregister  chan *Connection
	sessions    map[string]*Session
	auth        Authenticator
	httpSrv     *http.Server
	logger      *log.Logger
	mu          sync.RWMutex
	ctx         context.Context
	cancel      context.CancelFunc
}

// NewServer creates a WebSocket server routing events to sessions.
func NewServer(logger *log.Logger, auth Authenticator) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				// Origin policy is enforced by the fronting proxy.
				return true
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		connections: make(map[*Connection]bool),
		register:    make(chan *Connection),
		unregister:  make(chan *Connection),
		sessions:    make(map[string]*Session),
		auth:        auth,
		logger:      logger.WithPrefix("server"),
		ctx:         ctx,
		cancel:      cancel,
	}
}

// AddSession registers a table session with the router.
func (s *Server) AddSession(sess *Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[sess.TableID()] = sess
}

// Session returns the session for a table, or nil.
func (s *Server) Session(tableID string) *Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sessions[tableID]
}

// Start starts the WebSocket server and blocks serving it.
func (s *Server) Start(addr string) error {
	go s.run()

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/health", s.handleHealth)

	s.mu.Lock()
	s.httpSrv = &http.Server{Addr: addr, Handler: mux}
	httpSrv := s.httpSrv
	s.mu.Unlock()

	s.logger.Info("starting WebSocket server", "addr", addr)
	return httpSrv.ListenAndServe()
}

// Stop stops the server and closes all connections.
func (s *Server) Stop() error {
	s.cancel()
	s.mu.Lock()
	for conn := range s.connections {
		_ = conn.Close()
	}
	httpSrv := s.httpSrv
	s.mu.Unlock()
	if httpSrv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return httpSrv.Shutdown(ctx)
	}
	return nil
}

// run handles connection lifecycle.
func (s *Server) run() {
	for {
		select {
		case conn := <-s.register:
			s.mu.Lock()
			s.connections[conn] = true
			total := len(s.connections)
			s.mu.Unlock()
			s.logger.Info("client connected", "total", total)

		case conn := <-s.unregister:
			s.mu.Lock()
			_, ok := s.connections[conn]
			if ok {
				delete(s.connections, conn)
			}
			total := len(s.connections)
			s.mu.Unlock()
			if ok {
				userID := conn.UserID()
				tableID := conn.TableID()
				if userID != "" && tableID != "" {
					if sess := s.Session(tableID); sess != nil {
						s.logger.Info("cleaning up disconnected player", "user", userID, "table", tableID)
						sess.HandleDisconnect(s.ctx, userID)
					}
				}
				_ = conn.Close()
			}
			s.logger.Info("client disconnected", "total", total)

		case <-s.ctx.Done():
			return
		}
	}
}

// handleWebSocket upgrades a client connection.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("failed to upgrade connection", "error", err)
		return
	}

	client := NewConnection(conn, s, s.logger)
	s.register <- client
	client.Start()

	go func() {
		<-client.ctx.Done()
		select {
		case s.unregister <- client:
		case <-s.ctx.Done():
		}
	}()
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprintf(w, "OK")
}

// BroadcastToTable sends a message to every connection subscribed to the
// table. Within one table, broadcasts go out in the order state
// mutations commit.
func (s *Server) BroadcastToTable(tableID string, msg *Message) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	count := 0
	for conn := range s.connections {
		if conn.TableID() == tableID {
			if err := conn.SendMessage(msg); err != nil {
				s.logger.Error("failed to send message to client", "error", err, "user", conn.UserID())
			} else {
				count++
			}
		}
	}
	s.logger.Debug("broadcast to table", "table", tableID, "type", msg.Type, "recipients", count)
}

// SendToUser sends a message to one connected user.
func (s *Server) SendToUser(userID string, msg *Message) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for conn := range s.connections {
		if conn.UserID() == userID {
			return conn.SendMessage(msg)
		}
	}
	return fmt.Errorf("user not connected: %s", userID)
}
