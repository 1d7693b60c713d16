package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/placeboard/placeboard/go/internal/metrics"
	"github.com/placeboard/placeboard/go/internal/models"
)

// ConnectionManager is the session registry: it tracks every live realtime
// session and fans broadcast messages out to all of them. Delivery is
// best-effort per session; a slow session is dropped rather than allowed
// to stall the broadcaster.
type ConnectionManager struct {
	connections map[*Connection]bool
	mu          sync.RWMutex

	upgrader websocket.Upgrader
	config   ConnectionConfig

	broadcastCh chan broadcastMessage
}

// Connection represents one live realtime session, bound to exactly one
// resolved actor for its lifetime. Send is never closed; unregistering
// closes done instead, so a concurrent send can never hit a closed channel.
type Connection struct {
	ID      string
	Actor   models.Actor
	Conn    *websocket.Conn
	Send    chan []byte
	Manager *ConnectionManager

	done      chan struct{}
	onMessage func(*Connection, []byte)

	ConnectedAt time.Time
}

// ConnectionConfig holds configuration for realtime connections.
type ConnectionConfig struct {
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	PingInterval    time.Duration
	MaxMessageSize  int64
	ReadBufferSize  int
	WriteBufferSize int
	CheckOrigin     func(r *http.Request) bool
}

type broadcastMessage struct {
	data []byte
	// except, when set, skips one session (used for private echoes).
	except *Connection
}

// DefaultConnectionConfig returns default realtime connection configuration.
func DefaultConnectionConfig() ConnectionConfig {
	return ConnectionConfig{
		WriteTimeout:    10 * time.Second,
		IdleTimeout:     60 * time.Second,
		PingInterval:    30 * time.Second,
		MaxMessageSize:  1024,
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			// Allow all origins in development - restrict in production
			return true
		},
	}
}

// NewConnectionManager creates a new session registry.
func NewConnectionManager(config ConnectionConfig) *ConnectionManager {
	return &ConnectionManager{
		connections: make(map[*Connection]bool),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  config.ReadBufferSize,
			WriteBufferSize: config.WriteBufferSize,
			CheckOrigin:     config.CheckOrigin,
		},
		config:      config,
		broadcastCh: make(chan broadcastMessage, 1000),
	}
}

// Start begins processing broadcast messages until ctx is done.
func (cm *ConnectionManager) Start(ctx context.Context) {
	log.Info().Msg("connection manager started")

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("connection manager shutting down")
			return
		case message := <-cm.broadcastCh:
			cm.handleBroadcast(message)
		}
	}
}

// Upgrade upgrades an HTTP request to a realtime session bound to the
// actor. onMessage is invoked for every inbound message, sequentially per
// connection, concurrently across connections.
func (cm *ConnectionManager) Upgrade(w http.ResponseWriter, r *http.Request, actor models.Actor, onMessage func(*Connection, []byte)) (*Connection, error) {
	conn, err := cm.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to upgrade connection: %w", err)
	}

	connection := &Connection{
		ID:          uuid.New().String(),
		Actor:       actor,
		Conn:        conn,
		Send:        make(chan []byte, 256),
		Manager:     cm,
		done:        make(chan struct{}),
		onMessage:   onMessage,
		ConnectedAt: time.Now(),
	}

	cm.register(connection)

	go connection.writePump()
	go connection.readPump()

	log.Info().
		Str("connection_id", connection.ID).
		Str("actor_id", actor.ID).
		Msg("realtime session established")

	return connection, nil
}

func (cm *ConnectionManager) register(conn *Connection) {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	cm.connections[conn] = true
	metrics.ConnectedSessions.Inc()

	log.Debug().
		Str("connection_id", conn.ID).
		Int("total_connections", len(cm.connections)).
		Msg("session registered")
}

func (cm *ConnectionManager) unregister(conn *Connection) {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	if _, exists := cm.connections[conn]; !exists {
		return
	}
	delete(cm.connections, conn)
	close(conn.done)
	metrics.ConnectedSessions.Dec()

	log.Info().
		Str("connection_id", conn.ID).
		Str("actor_id", conn.Actor.ID).
		Msg("session unregistered")
}

// Count returns the number of registered sessions.
func (cm *ConnectionManager) Count() int {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return len(cm.connections)
}

// Broadcast queues a message for delivery to every registered session.
func (cm *ConnectionManager) Broadcast(message interface{}) {
	data, err := json.Marshal(message)
	if err != nil {
		log.Error().Err(err).Msg("failed to marshal broadcast message")
		return
	}
	cm.BroadcastRaw(data)
}

// BroadcastRaw queues pre-marshaled bytes for delivery to every session.
func (cm *ConnectionManager) BroadcastRaw(data []byte) {
	select {
	case cm.broadcastCh <- broadcastMessage{data: data}:
	default:
		log.Warn().Msg("broadcast channel full, dropping message")
		metrics.BroadcastsDropped.Inc()
	}
}

// BroadcastExcept queues a message for every session but one, for clients
// that already applied their own change optimistically.
func (cm *ConnectionManager) BroadcastExcept(message interface{}, except *Connection) {
	data, err := json.Marshal(message)
	if err != nil {
		log.Error().Err(err).Msg("failed to marshal broadcast message")
		return
	}

	select {
	case cm.broadcastCh <- broadcastMessage{data: data, except: except}:
	default:
		log.Warn().Msg("broadcast channel full, dropping message")
		metrics.BroadcastsDropped.Inc()
	}
}

// SendTo delivers a message to a single session only, used for init
// payloads and private rejection notices.
func (cm *ConnectionManager) SendTo(conn *Connection, message interface{}) {
	data, err := json.Marshal(message)
	if err != nil {
		log.Error().Err(err).Msg("failed to marshal private message")
		return
	}

	select {
	case conn.Send <- data:
	default:
		log.Warn().
			Str("connection_id", conn.ID).
			Msg("session send buffer full, closing connection")
		metrics.BroadcastsDropped.Inc()
		cm.unregister(conn)
		conn.Conn.Close()
	}
}

func (cm *ConnectionManager) handleBroadcast(message broadcastMessage) {
	cm.mu.RLock()
	targets := make([]*Connection, 0, len(cm.connections))
	for conn := range cm.connections {
		if conn == message.except {
			continue
		}
		targets = append(targets, conn)
	}
	cm.mu.RUnlock()

	for _, conn := range targets {
		select {
		case conn.Send <- message.data:
		default:
			// Connection is slow/dead, close it. The client recovers via
			// a fresh init snapshot on reconnect.
			log.Warn().
				Str("connection_id", conn.ID).
				Str("actor_id", conn.Actor.ID).
				Msg("session send buffer full, closing connection")
			metrics.BroadcastsDropped.Inc()
			cm.unregister(conn)
			conn.Conn.Close()
		}
	}
}

// writePump handles sending messages to the websocket connection.
func (c *Connection) writePump() {
	ticker := time.NewTicker(c.Manager.config.PingInterval)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
		c.Manager.unregister(c)
	}()

	for {
		select {
		case <-c.done:
			c.Conn.SetWriteDeadline(time.Now().Add(c.Manager.config.WriteTimeout))
			c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
			return

		case message := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(c.Manager.config.WriteTimeout))
			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Error().
					Err(err).
					Str("connection_id", c.ID).
					Msg("failed to write message to websocket")
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(c.Manager.config.WriteTimeout))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump handles reading messages from the websocket connection. A
// connection that sends no traffic (including pongs) within the idle
// window is forcibly closed and unregistered.
func (c *Connection) readPump() {
	defer func() {
		c.Manager.unregister(c)
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(c.Manager.config.MaxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(c.Manager.config.IdleTimeout))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(c.Manager.config.IdleTimeout))
		return nil
	})

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				log.Error().
					Err(err).
					Str("connection_id", c.ID).
					Msg("unexpected websocket close error")
			}
			break
		}

		if c.onMessage != nil {
			c.onMessage(c, message)
		}
		c.Conn.SetReadDeadline(time.Now().Add(c.Manager.config.IdleTimeout))
	}
}
