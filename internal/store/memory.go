package store

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/coder/quartz"
	"github.com/tonkhouse/tonkd/internal/game"
)

// Memory is the in-process Store. Snapshots are kept as JSON so a load
// never aliases a saved state, and lock expiry runs off an injected
// quartz clock so tests can step time.
type Memory struct {
	mu      sync.Mutex
	clock   quartz.Clock
	states  map[string][]byte
	locks   map[string]time.Time
	players map[string][]PlayerInfo
	leaving map[string]map[string]struct{}
}

// NewMemory creates an empty in-memory store.
func NewMemory(clock quartz.Clock) *Memory {
	return &Memory{
		clock:   clock,
		states:  make(map[string][]byte),
		locks:   make(map[string]time.Time),
		players: make(map[string][]PlayerInfo),
		leaving: make(map[string]map[string]struct{}),
	}
}

// Save snapshots the state for the table.
func (m *Memory) Save(tableID string, s *game.State) error {
	raw, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("encoding table snapshot: %w", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.states[tableID] = raw
	return nil
}

// Load returns a fresh copy of the saved state, or nil when absent.
func (m *Memory) Load(tableID string) (*game.State, error) {
	m.mu.Lock()
	raw, ok := m.states[tableID]
	m.mu.Unlock()
	if !ok {
		return nil, nil
	}
	return unmarshalState(raw)
}

// Delete drops the table's state.
func (m *Memory) Delete(tableID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.states, tableID)
}

// TryLock acquires the table lock for ttl, taking over expired locks.
func (m *Memory) TryLock(tableID string, ttl time.Duration) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.clock.Now()
	if expiry, held := m.locks[tableID]; held && now.Before(expiry) {
		return false
	}
	m.locks[tableID] = now.Add(ttl)
	return true
}

// Unlock releases the table lock.
func (m *Memory) Unlock(tableID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.locks, tableID)
}

// SetPlayerInfo upserts a member of the table.
func (m *Memory) SetPlayerInfo(tableID string, info PlayerInfo) {
	m.mu.Lock()
	defer m.mu.Unlock()
	members := m.players[tableID]
	for i, existing := range members {
		if existing.UserID == info.UserID {
			members[i] = info
			return
		}
	}
	m.players[tableID] = append(members, info)
}

// PlayerInfo looks up a member of the table.
func (m *Memory) PlayerInfo(tableID, userID string) (PlayerInfo, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, info := range m.players[tableID] {
		if info.UserID == userID {
			return info, true
		}
	}
	return PlayerInfo{}, false
}

// RemovePlayerInfo drops a member of the table.
func (m *Memory) RemovePlayerInfo(tableID, userID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	members := m.players[tableID]
	for i, info := range members {
		if info.UserID == userID {
			m.players[tableID] = append(members[:i:i], members[i+1:]...)
			return
		}
	}
}

// Players returns the table's members in insertion order.
func (m *Memory) Players(tableID string) []PlayerInfo {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]PlayerInfo, len(m.players[tableID]))
	copy(out, m.players[tableID])
	return out
}

// MarkLeaving queues a player for removal at the end of the round.
func (m *Memory) MarkLeaving(tableID, userID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.leaving[tableID] == nil {
		m.leaving[tableID] = make(map[string]struct{})
	}
	m.leaving[tableID][userID] = struct{}{}
}

// ClearLeaving removes the player from the leaving set.
func (m *Memory) ClearLeaving(tableID, userID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.leaving[tableID], userID)
}

// LeavingPlayers lists the players queued to leave.
func (m *Memory) LeavingPlayers(tableID string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.leaving[tableID]))
	for userID := range m.leaving[tableID] {
		out = append(out, userID)
	}
	return out
}
