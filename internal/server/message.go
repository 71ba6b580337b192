package server

import (
	"encoding/json"
	"time"

	"github.com/tonkhouse/tonkd/internal/deck"
	"github.com/tonkhouse/tonkd/internal/game"
)

// Message is the JSON envelope for every client and server event.
type Message struct {
	Type      EventType       `json:"type"`
	Data      json.RawMessage `json:"data"`
	Timestamp time.Time       `json:"timestamp"`
}

// NewMessage creates a new message with the current timestamp.
func NewMessage(eventType EventType, data interface{}) (*Message, error) {
	dataBytes, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return &Message{
		Type:      eventType,
		Data:      dataBytes,
		Timestamp: time.Now(),
	}, nil
}

// EventType tags a message with its event name.
type EventType string

const (
	// Client to server events
	EventAuth             EventType = "auth"
	EventJoinTable        EventType = "joinTable"
	EventLeaveTable       EventType = "leaveTable"
	EventRequestLeave     EventType = "requestLeaveTable"
	EventDrawCard         EventType = "drawCard"
	EventDiscardCard      EventType = "discardCard"
	EventSpread           EventType = "spread"
	EventHit              EventType = "hit"
	EventDrop             EventType = "drop"
	EventRequestInitState EventType = "requestInitialGameState"

	// Server to client events
	EventAuthResponse        EventType = "authResponse"
	EventInitialGameState    EventType = "initialGameState"
	EventGameStateUpdate     EventType = "gameStateUpdate"
	EventTableUpdate         EventType = "tableUpdate"
	EventWalletBalanceUpdate EventType = "walletBalanceUpdate"
	EventPlayerLeft          EventType = "playerLeft"
	EventGameError           EventType = "gameError"
	EventAckLeaveRequest     EventType = "ackLeaveRequest"
)

// String returns the event name.
func (et EventType) String() string {
	return string(et)
}

// Client → Server payloads

type AuthData struct {
	Token    string `json:"token,omitempty"`
	UserID   string `json:"userId"`
	Username string `json:"username"`
}

type JoinTableData struct {
	TableID   string `json:"tableId"`
	UserID    string `json:"userId"`
	Username  string `json:"username"`
	AvatarURL string `json:"avatarUrl,omitempty"`
}

type LeaveTableData struct {
	TableID  string `json:"tableId"`
	UserID   string `json:"userId"`
	Username string `json:"username,omitempty"`
}

type RequestLeaveData struct {
	TableID string `json:"tableId"`
	UserID  string `json:"userId"`
}

type DrawCardData struct {
	TableID string          `json:"tableId"`
	UserID  string          `json:"userId"`
	Source  game.DrawSource `json:"source"`
}

type DiscardCardData struct {
	TableID string    `json:"tableId"`
	UserID  string    `json:"userId"`
	Card    deck.Card `json:"card"`
}

type SpreadData struct {
	TableID string      `json:"tableId"`
	UserID  string      `json:"userId"`
	Cards   []deck.Card `json:"cards"`
}

type HitData struct {
	TableID           string    `json:"tableId"`
	UserID            string    `json:"userId"`
	Card              deck.Card `json:"card"`
	TargetPlayerID    string    `json:"targetPlayerId"`
	TargetSpreadIndex int       `json:"targetSpreadIndex"`
}

type DropData struct {
	TableID string `json:"tableId"`
	UserID  string `json:"userId"`
}

type RequestInitStateData struct {
	TableID string `json:"tableId"`
}

// Server → Client payloads

type AuthResponseData struct {
	Success bool   `json:"success"`
	UserID  string `json:"userId,omitempty"`
	Error   string `json:"error,omitempty"`
}

type InitialGameStateData struct {
	GameState *game.State `json:"gameState"`
}

type GameStateUpdateData struct {
	GameState *game.State `json:"gameState"`
}

// TableSeat is one seat in a table summary.
type TableSeat struct {
	UserID string `json:"userId"`
	IsAI   bool   `json:"isAI"`
}

// TableInfo summarises a table for lobby and update events.
type TableInfo struct {
	Name               string      `json:"name"`
	Stake              int64       `json:"stake"`
	MinPlayers         int         `json:"minPlayers"`
	MaxPlayers         int         `json:"maxPlayers"`
	CurrentPlayerCount int         `json:"currentPlayerCount"`
	Players            []TableSeat `json:"players"`
	Status             string      `json:"status"`
}

type TableUpdateData struct {
	Message   string      `json:"message"`
	Table     TableInfo   `json:"table"`
	GameState *game.State `json:"gameState,omitempty"`
}

type WalletBalanceUpdateData struct {
	UserID  string `json:"userId"`
	Balance int64  `json:"balance"`
}

type PlayerLeftData struct {
	UserID string `json:"userId"`
}

type GameErrorData struct {
	Message string `json:"message"`
}

type AckLeaveRequestData struct{}
