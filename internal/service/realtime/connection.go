package realtime

import (
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// ConnectionManager tracks the live downstream websocket handles used by the
// transcript delivery path. Writes on one connection are serialized by a
// per-connection lock; a write failure is conclusive evidence of a dead
// connection and removes it immediately.
type ConnectionManager struct {
	mu    sync.RWMutex
	conns map[string]*managedConn
}

type managedConn struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

// NewConnectionManager creates an empty registry.
func NewConnectionManager() *ConnectionManager {
	return &ConnectionManager{
		conns: make(map[string]*managedConn),
	}
}

// Register adds a send-capable handle. An existing handle under the same id
// is closed first.
func (cm *ConnectionManager) Register(connectionID string, conn *websocket.Conn) {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	if old, exists := cm.conns[connectionID]; exists {
		old.conn.Close()
	}
	cm.conns[connectionID] = &managedConn{conn: conn}
}

// Unregister removes and closes the handle. Idempotent.
func (cm *ConnectionManager) Unregister(connectionID string) {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	if mc, exists := cm.conns[connectionID]; exists {
		mc.conn.Close()
		delete(cm.conns, connectionID)
	}
}

// SendTo writes a JSON message to one connection. Best-effort: on failure the
// connection is unregistered and the error returned; the same handle is never
// retried.
func (cm *ConnectionManager) SendTo(connectionID string, message any) error {
	cm.mu.RLock()
	mc, exists := cm.conns[connectionID]
	cm.mu.RUnlock()
	if !exists {
		return nil
	}

	mc.mu.Lock()
	mc.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	err := mc.conn.WriteJSON(message)
	mc.mu.Unlock()

	if err != nil {
		log.Printf("[connections] write failed for %s, dropping connection: %v", connectionID, err)
		cm.Unregister(connectionID)
	}
	return err
}

// Ping sends a websocket ping control frame to keep intermediaries from
// timing the connection out. Failure removes the handle like any other write
// failure.
func (cm *ConnectionManager) Ping(connectionID string) error {
	cm.mu.RLock()
	mc, exists := cm.conns[connectionID]
	cm.mu.RUnlock()
	if !exists {
		return nil
	}

	mc.mu.Lock()
	mc.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	err := mc.conn.WriteMessage(websocket.PingMessage, nil)
	mc.mu.Unlock()

	if err != nil {
		log.Printf("[connections] ping failed for %s, dropping connection: %v", connectionID, err)
		cm.Unregister(connectionID)
	}
	return err
}

// Broadcast sends the message to every registered connection. A failing
// connection is unregistered and never stops delivery to the rest.
func (cm *ConnectionManager) Broadcast(message any) {
	cm.mu.RLock()
	ids := make([]string, 0, len(cm.conns))
	for id := range cm.conns {
		ids = append(ids, id)
	}
	cm.mu.RUnlock()

	for _, id := range ids {
		_ = cm.SendTo(id, message)
	}
}

// Count reports the number of registered connections.
func (cm *ConnectionManager) Count() int {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return len(cm.conns)
}

// CloseAll closes and removes every connection.
func (cm *ConnectionManager) CloseAll() {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	for id, mc := range cm.conns {
		mc.conn.Close()
		delete(cm.conns, id)
	}
}
