// Package store is the shared serialisation surface for table state. It
// is deliberately dumb: JSON snapshots keyed by table id, a coarse
// per-table lock with a TTL, and the small bits of table membership the
// sessions need across rounds. Production deployments can substitute any
// cache with atomic set-if-absent semantics behind the Store interface.
package store

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/tonkhouse/tonkd/internal/game"
)

// PlayerInfo is the per-table membership record kept outside the round
// state so it survives round transitions.
type PlayerInfo struct {
	UserID    string `json:"userId"`
	Username  string `json:"username"`
	IsAI      bool   `json:"isAI"`
	AvatarURL string `json:"avatarUrl,omitempty"`
}

// Store persists per-table game state and mediates the coarse per-table
// lock used for leave and round-transition critical sections.
type Store interface {
	// Save snapshots the state for the table.
	Save(tableID string, s *game.State) error
	// Load returns the saved state, or nil when the table has none.
	Load(tableID string) (*game.State, error)
	// Delete drops the table's state.
	Delete(tableID string)

	// TryLock acquires the table lock for ttl. It reports false when
	// another holder has it; an expired lock is taken over (the previous
	// holder is assumed dead).
	TryLock(tableID string, ttl time.Duration) bool
	// Unlock releases the table lock.
	Unlock(tableID string)

	// SetPlayerInfo upserts a member of the table.
	SetPlayerInfo(tableID string, info PlayerInfo)
	// PlayerInfo looks up a member of the table.
	PlayerInfo(tableID, userID string) (PlayerInfo, bool)
	// RemovePlayerInfo drops a member of the table.
	RemovePlayerInfo(tableID, userID string)
	// Players returns the table's members in insertion order.
	Players(tableID string) []PlayerInfo

	// MarkLeaving queues a player for removal at the end of the round.
	MarkLeaving(tableID, userID string)
	// ClearLeaving removes the player from the leaving set.
	ClearLeaving(tableID, userID string)
	// LeavingPlayers lists the players queued to leave.
	LeavingPlayers(tableID string) []string
}

// Unmarshal round-trips a snapshot back into a State. Shared by
// implementations so they all agree on the encoding.
func unmarshalState(raw []byte) (*game.State, error) {
	var s game.State
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("decoding table snapshot: %w", err)
	}
	return &s, nil
}
