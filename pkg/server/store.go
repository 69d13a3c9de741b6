package server

import (
	"sync"

	"github.com/JJ-Intelligence/duel-lobby/pkg/comms"
	"go.uber.org/zap"
)

// ConnectionStore stores client connections and the groups they are joined to.
// It delivers messages by queueing them on each connection's write channel.
type ConnectionStore struct {
	log *zap.Logger

	mu         sync.RWMutex
	connStore  map[string]*comms.ConnectionWrapper // id -> connection
	groupStore map[string]map[string]bool          // group -> {id}
	connGroups map[string]map[string]bool          // id -> {group}
}

func NewConnectionStore(log *zap.Logger) *ConnectionStore {
	return &ConnectionStore{
		log:        log,
		connStore:  make(map[string]*comms.ConnectionWrapper),
		groupStore: make(map[string]map[string]bool),
		connGroups: make(map[string]map[string]bool),
	}
}

// Connect stores a new client connection.
func (s *ConnectionStore) Connect(conn *comms.ConnectionWrapper) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connStore[conn.ID] = conn
}

// Disconnect removes a client connection and its group memberships.
func (s *ConnectionStore) Disconnect(connID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for group := range s.connGroups[connID] {
		s.removeFromGroup(connID, group)
	}
	delete(s.connGroups, connID)
	delete(s.connStore, connID)
}

func (s *ConnectionStore) Send(connID string, message comms.Message) {
	s.mu.RLock()
	conn, ok := s.connStore[connID]
	s.mu.RUnlock()

	if !ok {
		s.log.Debug("Send to unknown connection",
			zap.String("conn", connID), zap.String("type", message.Type))
		return
	}
	conn.Enqueue(message)
}

func (s *ConnectionStore) Publish(group string, message comms.Message) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for connID := range s.groupStore[group] {
		if conn, ok := s.connStore[connID]; ok {
			conn.Enqueue(message)
		}
	}
}

func (s *ConnectionStore) Broadcast(message comms.Message, except ...string) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for connID, conn := range s.connStore {
		if contains(except, connID) {
			continue
		}
		conn.Enqueue(message)
	}
}

func (s *ConnectionStore) Subscribe(connID, group string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.connStore[connID]; !ok {
		return
	}
	if _, ok := s.groupStore[group]; !ok {
		s.groupStore[group] = make(map[string]bool)
	}
	s.groupStore[group][connID] = true
	if _, ok := s.connGroups[connID]; !ok {
		s.connGroups[connID] = make(map[string]bool)
	}
	s.connGroups[connID][group] = true
}

func (s *ConnectionStore) Unsubscribe(connID, group string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.removeFromGroup(connID, group)
}

func (s *ConnectionStore) Dissolve(group string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for connID := range s.groupStore[group] {
		delete(s.connGroups[connID], group)
	}
	delete(s.groupStore, group)
}

func (s *ConnectionStore) removeFromGroup(connID, group string) {
	delete(s.connGroups[connID], group)
	members, ok := s.groupStore[group]
	if !ok {
		return
	}
	delete(members, connID)
	if len(members) == 0 {
		delete(s.groupStore, group)
	}
}

// groupMembers lists the ids of the connections joined to group.
func (s *ConnectionStore) groupMembers(group string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, len(s.groupStore[group]))
	for id := range s.groupStore[group] {
		ids = append(ids, id)
	}
	return ids
}

func (s *ConnectionStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.connStore)
}

// CloseAll closes every stored connection.
func (s *ConnectionStore) CloseAll() {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, conn := range s.connStore {
		conn.Close()
	}
}

func contains(ids []string, id string) bool {
	for _, candidate := range ids {
		if candidate == id {
			return true
		}
	}
	return false
}
